package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offsync/internal/storage"
)

// failingStore wraps a MemoryStore and fails writes on demand.
type failingStore struct {
	*storage.MemoryStore
	failSet bool
}

var errInjected = errors.New("injected write failure")

func (s *failingStore) Set(ctx context.Context, key string, value []byte) error {
	if s.failSet {
		return errInjected
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func newTestQueue(t *testing.T, maxSize int) (*Queue, *failingStore) {
	t.Helper()
	store := &failingStore{MemoryStore: storage.NewMemoryStore()}
	q, err := New(context.Background(), store, maxSize)
	require.NoError(t, err)
	return q, store
}

func testOp(id string, enqueuedAt int64) *Operation {
	return &Operation{
		ID:         id,
		Kind:       KindUpdate,
		EntityType: "note",
		EntityID:   "note-" + id,
		Payload:    json.RawMessage(`{"title":"x"}`),
		EnqueuedAt: enqueuedAt,
		RetryLimit: 3,
	}
}

func TestEnqueueAndPendingFIFO(t *testing.T) {
	q, _ := newTestQueue(t, 0)
	ctx := context.Background()

	// Insert out of order; Pending must come back oldest first.
	require.NoError(t, q.Enqueue(ctx, testOp("c", 30)))
	require.NoError(t, q.Enqueue(ctx, testOp("a", 10)))
	require.NoError(t, q.Enqueue(ctx, testOp("b", 20)))

	pending := q.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, "b", pending[1].ID)
	assert.Equal(t, "c", pending[2].ID)
}

func TestPendingReturnsCopies(t *testing.T) {
	q, _ := newTestQueue(t, 0)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testOp("a", 10)))

	pending := q.Pending()
	pending[0].RetryCount = 99
	pending[0].Payload[0] = '!'

	again := q.Pending()
	assert.Equal(t, 0, again[0].RetryCount)
	assert.Equal(t, json.RawMessage(`{"title":"x"}`), again[0].Payload)
}

func TestEnqueueRespectsMaxSize(t *testing.T) {
	q, _ := newTestQueue(t, 2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testOp("a", 10)))
	require.NoError(t, q.Enqueue(ctx, testOp("b", 20)))

	err := q.Enqueue(ctx, testOp("c", 30))
	assert.Error(t, err)
	assert.Equal(t, 2, q.Size())
}

func TestMarkRetryUntilExhausted(t *testing.T) {
	q, _ := newTestQueue(t, 0)
	ctx := context.Background()

	op := testOp("a", 10)
	op.RetryLimit = 3
	require.NoError(t, q.Enqueue(ctx, op))

	// Two retries: still pending.
	require.NoError(t, q.MarkRetry(ctx, "a"))
	require.NoError(t, q.MarkRetry(ctx, "a"))
	assert.Len(t, q.Pending(), 1)
	assert.Empty(t, q.Exhausted())

	// Third retry reaches the ceiling: no longer delivered.
	require.NoError(t, q.MarkRetry(ctx, "a"))
	assert.Empty(t, q.Pending())

	exhausted := q.Exhausted()
	require.Len(t, exhausted, 1)
	assert.Equal(t, 3, exhausted[0].RetryCount)
}

func TestMarkRetryUnknownIDIsNoOp(t *testing.T) {
	q, _ := newTestQueue(t, 0)
	assert.NoError(t, q.MarkRetry(context.Background(), "missing"))
}

func TestCleanupCompletedKeepsExhausted(t *testing.T) {
	q, _ := newTestQueue(t, 0)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testOp("live", 10)))
	dead := testOp("dead", 20)
	dead.RetryCount = dead.RetryLimit
	require.NoError(t, q.Enqueue(ctx, dead))

	require.NoError(t, q.CleanupCompleted(ctx))

	assert.Empty(t, q.Pending())
	exhausted := q.Exhausted()
	require.Len(t, exhausted, 1)
	assert.Equal(t, "dead", exhausted[0].ID)
}

func TestRemoveAndClearAll(t *testing.T) {
	q, _ := newTestQueue(t, 0)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testOp("a", 10)))
	require.NoError(t, q.Enqueue(ctx, testOp("b", 20)))

	require.NoError(t, q.Remove(ctx, "a"))
	assert.Equal(t, 1, q.Size())
	require.NoError(t, q.Remove(ctx, "a")) // absent: no-op

	require.NoError(t, q.ClearAll(ctx))
	assert.Equal(t, 0, q.Size())
}

func TestSnapshotSurvivesReload(t *testing.T) {
	store := &failingStore{MemoryStore: storage.NewMemoryStore()}
	ctx := context.Background()

	q, err := New(ctx, store, 0)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, testOp("a", 10)))
	require.NoError(t, q.Enqueue(ctx, testOp("b", 20)))
	require.NoError(t, q.MarkRetry(ctx, "b"))

	// A fresh queue over the same store sees the identical contents.
	reloaded, err := New(ctx, store, 0)
	require.NoError(t, err)

	pending := reloaded.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, 1, pending[1].RetryCount)
}

func TestMutationsRollBackWhenPersistFails(t *testing.T) {
	q, store := newTestQueue(t, 0)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testOp("a", 10)))

	store.failSet = true

	assert.Error(t, q.Enqueue(ctx, testOp("b", 20)))
	assert.Equal(t, 1, q.Size())

	assert.Error(t, q.MarkRetry(ctx, "a"))
	assert.Equal(t, 0, q.Pending()[0].RetryCount)

	assert.Error(t, q.Remove(ctx, "a"))
	assert.Equal(t, 1, q.Size())

	assert.Error(t, q.ClearAll(ctx))
	assert.Equal(t, 1, q.Size())

	// Storage recovers: the queue picks up where it left off.
	store.failSet = false
	require.NoError(t, q.Remove(ctx, "a"))
	assert.Equal(t, 0, q.Size())
}

func TestNewOperationDefaults(t *testing.T) {
	before := time.Now().UnixNano()
	op := NewOperation(KindCreate, "note", "n1", json.RawMessage(`{}`), 5)
	after := time.Now().UnixNano()

	assert.NotEmpty(t, op.ID)
	assert.Equal(t, KindCreate, op.Kind)
	assert.Equal(t, 5, op.RetryLimit)
	assert.GreaterOrEqual(t, op.EnqueuedAt, before)
	assert.LessOrEqual(t, op.EnqueuedAt, after)
	assert.False(t, op.Exhausted())
}
