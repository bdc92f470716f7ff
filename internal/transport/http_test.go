package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offsync/internal/config"
	"offsync/internal/delta"
	"offsync/internal/queue"
	"offsync/internal/storage"
	"offsync/internal/sync"
)

func newTestTransport(t *testing.T, handler http.Handler) (*HTTPTransport, *storage.MemoryStore) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store := storage.NewMemoryStore()
	tr := New(
		config.RemoteConfig{
			BaseURL:        server.URL,
			AuthToken:      "secret",
			RequestTimeout: "5s",
			HealthInterval: "1s",
		},
		config.SyncConfig{DeltaBlockSize: 4, DeltaMinRatio: 0.25},
		store,
	)
	return tr, store
}

func TestProcessBatch(t *testing.T) {
	var gotAuth string
	var gotOps []*queue.Operation

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sync/batch", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req struct {
			Operations []*queue.Operation `json:"operations"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotOps = req.Operations

		json.NewEncoder(w).Encode(sync.BatchResult{
			SyncedIDs: []string{req.Operations[0].ID},
			Errors: []sync.OperationError{{
				OperationID: req.Operations[1].ID,
				Message:     "version conflict",
				Retryable:   false,
			}},
		})
	})

	tr, _ := newTestTransport(t, mux)

	ops := []*queue.Operation{
		queue.NewOperation(queue.KindCreate, "note", "n1", json.RawMessage(`{"a":1}`), 3),
		queue.NewOperation(queue.KindUpdate, "note", "n2", json.RawMessage(`{"a":2}`), 3),
	}

	br, err := tr.ProcessBatch(context.Background(), ops)
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	require.Len(t, gotOps, 2)
	assert.Equal(t, ops[0].ID, gotOps[0].ID)
	assert.Equal(t, []string{ops[0].ID}, br.SyncedIDs)
	require.Len(t, br.Errors, 1)
	assert.False(t, br.Errors[0].Retryable)
}

func TestProcessBatchRemoteError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sync/batch", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	tr, _ := newTestTransport(t, mux)

	_, err := tr.ProcessBatch(context.Background(), nil)
	assert.ErrorContains(t, err, "500")
}

func TestPullRemoteChanges(t *testing.T) {
	var gotSince []string

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sync/changes", func(w http.ResponseWriter, r *http.Request) {
		gotSince = append(gotSince, r.URL.Query().Get("since"))
		json.NewEncoder(w).Encode(changesReply{
			Cursor: "cursor-1",
			Changes: []remoteChange{
				{
					Entity:  sync.Entity{ID: "e1", Version: 2, LastModified: time.Now()},
					Payload: json.RawMessage(`{"title":"hello"}`),
				},
				{
					// Invalid: negative version. Skipped, not fatal.
					Entity: sync.Entity{ID: "bad", Version: -1},
				},
				{
					Entity: sync.Entity{ID: "gone", Version: 3, Deleted: true},
				},
			},
		})
	})

	tr, store := newTestTransport(t, mux)
	ctx := context.Background()

	// Seed a copy of the entity the remote is deleting.
	require.NoError(t, store.Set(ctx, "entity/gone", []byte(`{}`)))

	require.NoError(t, tr.PullRemoteChanges(ctx))

	// First pull has no cursor.
	assert.Equal(t, []string{""}, gotSince)

	stored, err := store.Get(ctx, "entity/e1")
	require.NoError(t, err)
	var change remoteChange
	require.NoError(t, json.Unmarshal(stored, &change))
	assert.Equal(t, "e1", change.Entity.ID)
	assert.Equal(t, json.RawMessage(`{"title":"hello"}`), change.Payload)

	_, err = store.Get(ctx, "entity/bad")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.Get(ctx, "entity/gone")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Second pull resumes from the persisted cursor.
	require.NoError(t, tr.PullRemoteChanges(ctx))
	assert.Equal(t, []string{"", "cursor-1"}, gotSince)
}

func TestUploadBlob(t *testing.T) {
	type upload struct {
		method string
		body   []byte
	}
	var uploads []upload

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/blobs/doc", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		uploads = append(uploads, upload{method: r.Method, body: body})
		w.WriteHeader(http.StatusOK)
	})

	tr, store := newTestTransport(t, mux)
	ctx := context.Background()

	// First upload: no prior copy, goes up whole.
	first := make([]byte, 1024)
	for i := range first {
		first[i] = byte(i % 251)
	}
	require.NoError(t, tr.UploadBlob(ctx, "doc", first))

	require.Len(t, uploads, 1)
	assert.Equal(t, http.MethodPut, uploads[0].method)
	assert.Equal(t, first, uploads[0].body)

	// Second upload: only the tail changed, goes up as a delta.
	second := make([]byte, len(first))
	copy(second, first)
	for i := len(second) - 4; i < len(second); i++ {
		second[i] = 0xFF
	}
	require.NoError(t, tr.UploadBlob(ctx, "doc", second))

	require.Len(t, uploads, 2)
	assert.Equal(t, http.MethodPatch, uploads[1].method)

	var diff delta.Result
	require.NoError(t, json.Unmarshal(uploads[1].body, &diff))
	out, err := delta.Apply(first, &diff)
	require.NoError(t, err)
	assert.Equal(t, second, out)

	// The local copy tracks the latest version.
	stored, err := store.Get(ctx, "blob/doc")
	require.NoError(t, err)
	assert.Equal(t, second, stored)
}

func TestUploadBlobFallsBackToFullTransfer(t *testing.T) {
	var methods []string

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/blobs/doc", func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		w.WriteHeader(http.StatusOK)
	})

	tr, _ := newTestTransport(t, mux)
	ctx := context.Background()

	require.NoError(t, tr.UploadBlob(ctx, "doc", []byte("AAAABBBB")))
	// A full rewrite shares no blocks; the delta saves nothing and the
	// transport sends the whole blob instead.
	require.NoError(t, tr.UploadBlob(ctx, "doc", []byte("XXXXYYYY")))

	assert.Equal(t, []string{http.MethodPut, http.MethodPut}, methods)
}

func TestConnectivityWatcher(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	tr, _ := newTestTransport(t, mux)

	var transitions []bool
	unsub := tr.OnConnectionChange(func(connected bool) {
		transitions = append(transitions, connected)
	})
	defer unsub()

	tr.Start()
	defer tr.Stop()

	assert.True(t, tr.IsConnected())
	require.Equal(t, []bool{true}, transitions)

	healthy.Store(false)
	assert.Eventually(t, func() bool { return !tr.IsConnected() }, 5*time.Second, 50*time.Millisecond)
}
