package sync

import (
	"sort"
	"sync"

	"offsync/internal/queue"
)

// EventType names a notification. These are the only externally observable
// side effects of the engine besides return values.
type EventType string

const (
	EventSyncStarted           EventType = "sync-started"
	EventSyncCompleted         EventType = "sync-completed"
	EventSyncError             EventType = "sync-error"
	EventSyncAborted           EventType = "sync-aborted"
	EventSyncAlreadyInProgress EventType = "sync-already-in-progress"
	EventOperationQueued       EventType = "operation-queued"
	EventConflictResolved      EventType = "conflict-resolved"
	EventQueueCleared          EventType = "queue-cleared"
	EventConfigUpdated         EventType = "config-updated"
	EventNetworkStatusChanged  EventType = "network-status-changed"
)

// Event is a notification with its payload. Only the fields relevant to
// the Type are set.
type Event struct {
	Type EventType

	Result     *Result          // sync-completed
	Err        error            // sync-error
	Operation  *queue.Operation // operation-queued
	Local      any              // conflict-resolved
	Remote     any              // conflict-resolved
	Resolution any              // conflict-resolved
	Config     any              // config-updated
	Connected  bool             // network-status-changed
}

// notifier fans events out to registered listeners. Listeners are invoked
// synchronously in subscription order; a slow listener slows the engine.
type notifier struct {
	mu        sync.Mutex
	nextID    int64
	listeners map[int64]func(Event)
}

func newNotifier() *notifier {
	return &notifier{listeners: make(map[int64]func(Event))}
}

func (n *notifier) subscribe(fn func(Event)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	n.listeners[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners, id)
	}
}

func (n *notifier) emit(ev Event) {
	n.mu.Lock()
	fns := make([]func(Event), 0, len(n.listeners))
	ids := make([]int64, 0, len(n.listeners))
	for id := range n.listeners {
		ids = append(ids, id)
	}
	// Map order is random; deliver in subscription order.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fns = append(fns, n.listeners[id])
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
