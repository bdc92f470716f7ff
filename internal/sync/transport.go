package sync

import (
	"context"

	"offsync/internal/queue"
)

// Transport is the injected collaborator that moves operations to and from
// the remote authority. The engine owns state and sequencing; the transport
// owns the wire. Implementations may impose their own per-batch timeouts;
// the engine imposes none.
type Transport interface {
	// IsConnected reports current connectivity. Checked before a run
	// starts and again at every batch boundary.
	IsConnected() bool

	// OnConnectionChange registers a callback invoked on connectivity
	// transitions and returns an unsubscribe func.
	OnConnectionChange(fn func(connected bool)) (unsubscribe func())

	// ProcessBatch transmits one batch of operations and reports the
	// partial outcome. An error means the whole batch failed transiently.
	ProcessBatch(ctx context.Context, ops []*queue.Operation) (*BatchResult, error)

	// PullRemoteChanges fetches and applies authoritative remote changes.
	PullRemoteChanges(ctx context.Context) error
}
