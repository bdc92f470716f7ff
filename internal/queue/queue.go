// Package queue provides the durable queue of pending mutations. Operations
// wait here while the device is offline and are drained in batches by the
// sync engine once connectivity returns.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offsync/internal/logger"
	"offsync/internal/storage"
)

// Kind classifies the mutation an operation carries.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Operation is a queued mutation intent, not yet confirmed synced.
// The queue mutates only RetryCount; everything else is written once at
// enqueue time.
type Operation struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	EnqueuedAt int64             `json:"enqueued_at"` // unix nanoseconds
	RetryCount int               `json:"retry_count"`
	RetryLimit int               `json:"retry_limit"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Exhausted reports whether the operation has reached its retry ceiling
// and must no longer be redelivered.
func (op *Operation) Exhausted() bool {
	return op.RetryCount >= op.RetryLimit
}

func (op *Operation) clone() *Operation {
	out := *op
	if op.Payload != nil {
		out.Payload = make(json.RawMessage, len(op.Payload))
		copy(out.Payload, op.Payload)
	}
	if op.Metadata != nil {
		out.Metadata = make(map[string]string, len(op.Metadata))
		for k, v := range op.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// NewOperation builds an operation with a fresh ID and enqueue timestamp.
func NewOperation(kind Kind, entityType, entityID string, payload json.RawMessage, retryLimit int) *Operation {
	return &Operation{
		ID:         uuid.New().String(),
		Kind:       kind,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		EnqueuedAt: time.Now().UnixNano(),
		RetryLimit: retryLimit,
	}
}

const snapshotKey = "sync_queue"

// Queue is the durable operation queue. Every mutating call re-persists the
// full snapshot through the storage collaborator before returning, so the
// in-memory index and the persisted copy never diverge.
type Queue struct {
	mu      sync.Mutex
	ops     map[string]*Operation
	store   storage.Store
	maxSize int
}

// New loads any persisted snapshot from store and returns the queue.
// maxSize <= 0 means unbounded.
func New(ctx context.Context, store storage.Store, maxSize int) (*Queue, error) {
	q := &Queue{
		ops:     make(map[string]*Operation),
		store:   store,
		maxSize: maxSize,
	}

	data, err := store.Get(ctx, snapshotKey)
	if err == storage.ErrNotFound {
		return q, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue snapshot: %w", err)
	}

	var ops []*Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("failed to decode queue snapshot: %w", err)
	}
	for _, op := range ops {
		q.ops[op.ID] = op
	}

	logger.Log.Info("Loaded queue snapshot", zap.Int("operations", len(ops)))

	return q, nil
}

// Enqueue stores op keyed by its ID and persists before acknowledging.
// No validation happens here; the engine validates before enqueueing.
func (q *Queue) Enqueue(ctx context.Context, op *Operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxSize > 0 && len(q.ops) >= q.maxSize {
		if _, exists := q.ops[op.ID]; !exists {
			return fmt.Errorf("queue is full (max size: %d)", q.maxSize)
		}
	}

	prev, existed := q.ops[op.ID]
	q.ops[op.ID] = op.clone()
	if err := q.persist(ctx); err != nil {
		if existed {
			q.ops[op.ID] = prev
		} else {
			delete(q.ops, op.ID)
		}
		return err
	}
	return nil
}

// Pending returns operations still eligible for delivery, oldest first.
// FIFO order is part of the contract: batching must process older intents
// first to preserve causal ordering of mutations on the same entity.
func (q *Queue) Pending() []*Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pending []*Operation
	for _, op := range q.ops {
		if !op.Exhausted() {
			pending = append(pending, op.clone())
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].EnqueuedAt != pending[j].EnqueuedAt {
			return pending[i].EnqueuedAt < pending[j].EnqueuedAt
		}
		return pending[i].ID < pending[j].ID
	})
	return pending
}

// Exhausted returns operations that reached their retry ceiling. They are
// kept for diagnostics and never redelivered automatically.
func (q *Queue) Exhausted() []*Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	var exhausted []*Operation
	for _, op := range q.ops {
		if op.Exhausted() {
			exhausted = append(exhausted, op.clone())
		}
	}
	sort.Slice(exhausted, func(i, j int) bool {
		if exhausted[i].EnqueuedAt != exhausted[j].EnqueuedAt {
			return exhausted[i].EnqueuedAt < exhausted[j].EnqueuedAt
		}
		return exhausted[i].ID < exhausted[j].ID
	})
	return exhausted
}

// MarkRetry increments the retry count of the named operation. Absent IDs
// are a no-op.
func (q *Queue) MarkRetry(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[id]
	if !ok {
		return nil
	}

	op.RetryCount++
	if err := q.persist(ctx); err != nil {
		op.RetryCount--
		return err
	}

	if op.Exhausted() {
		logger.Log.Warn("Operation exhausted its retries",
			zap.String("operation_id", id),
			zap.String("entity_id", op.EntityID),
			zap.Int("retry_limit", op.RetryLimit),
		)
	}
	return nil
}

// CleanupCompleted drops every non-exhausted operation. The engine removes
// operations it confirmed synced individually; this is the safety net that
// also discards anything it forgot, while keeping permanent failures around
// for inspection.
func (q *Queue) CleanupCompleted(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := make(map[string]*Operation, len(q.ops))
	for id, op := range q.ops {
		if op.Exhausted() {
			kept[id] = op
		}
	}

	prev := q.ops
	q.ops = kept
	if err := q.persist(ctx); err != nil {
		q.ops = prev
		return err
	}
	return nil
}

// Remove deletes the named operation. Absent IDs are a no-op.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[id]
	if !ok {
		return nil
	}

	delete(q.ops, id)
	if err := q.persist(ctx); err != nil {
		q.ops[id] = op
		return err
	}
	return nil
}

// ClearAll removes every operation, exhausted or not.
func (q *Queue) ClearAll(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	prev := q.ops
	q.ops = make(map[string]*Operation)
	if err := q.persist(ctx); err != nil {
		q.ops = prev
		return err
	}
	return nil
}

// Size returns the total number of stored operations, exhausted included.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// persist writes the full snapshot. Callers hold q.mu.
func (q *Queue) persist(ctx context.Context) error {
	ops := make([]*Operation, 0, len(q.ops))
	for _, op := range q.ops {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].EnqueuedAt != ops[j].EnqueuedAt {
			return ops[i].EnqueuedAt < ops[j].EnqueuedAt
		}
		return ops[i].ID < ops[j].ID
	})

	data, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("failed to encode queue snapshot: %w", err)
	}
	if err := q.store.Set(ctx, snapshotKey, data); err != nil {
		return fmt.Errorf("failed to persist queue snapshot: %w", err)
	}
	return nil
}
