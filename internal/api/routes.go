package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"offsync/internal/queue"
	"offsync/internal/sync"
)

type Handler struct {
	engine *sync.Engine
}

func NewHandler(engine *sync.Engine) *Handler {
	return &Handler{
		engine: engine,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sync/trigger", h.TriggerSync)
		r.Post("/sync/abort", h.AbortSync)
		r.Get("/sync/status", h.GetSyncStatus)

		r.Post("/operations", h.QueueOperation)
		r.Get("/queue", h.ListQueue)
		r.Get("/queue/exhausted", h.ListExhausted)
		r.Delete("/queue", h.ClearQueue)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// TriggerSync runs a sync synchronously and returns the full run result.
// A run already in flight or missing connectivity yields an empty failed
// result rather than an error.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result := h.engine.Sync(r.Context())
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) AbortSync(w http.ResponseWriter, r *http.Request) {
	h.engine.Abort()
	writeJSON(w, http.StatusOK, map[string]string{"status": "abort requested"})
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

type queueOperationRequest struct {
	Kind       queue.Kind      `json:"kind"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func (h *Handler) QueueOperation(w http.ResponseWriter, r *http.Request) {
	var req queueOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	op, err := h.engine.QueueOperation(r.Context(), req.Kind, req.EntityType, req.EntityID, req.Payload)
	if err != nil {
		status := http.StatusBadRequest
		if _, ok := err.(*sync.ValidationError); !ok {
			status = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusCreated, op)
}

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	ops := h.engine.Queue().Pending()
	if ops == nil {
		ops = []*queue.Operation{}
	}
	writeJSON(w, http.StatusOK, ops)
}

func (h *Handler) ListExhausted(w http.ResponseWriter, r *http.Request) {
	ops := h.engine.Queue().Exhausted()
	if ops == nil {
		ops = []*queue.Operation{}
	}
	writeJSON(w, http.StatusOK, ops)
}

func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearQueue(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}
