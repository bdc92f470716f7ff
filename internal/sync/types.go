// Package sync drives the offline-first synchronization protocol: draining
// the durable operation queue in batches through an injected transport,
// escalating conflicts to the resolver, pulling authoritative remote
// changes, and reporting everything through typed notifications.
package sync

import (
	"encoding/json"
	"time"
)

// Result is the outcome of one sync run. Callers always receive a
// well-formed Result from Sync, never an error.
type Result struct {
	Success     bool             `json:"success"`
	Synced      int              `json:"synced"`
	Conflicted  int              `json:"conflicted"`
	Errored     int              `json:"errored"`
	Conflicts   []Conflict       `json:"conflicts,omitempty"`
	Errors      []OperationError `json:"errors,omitempty"`
	Aborted     bool             `json:"aborted,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

// failedResult is the immediate empty-failure Result returned when a run
// is rejected (already syncing, or no connectivity).
func failedResult() *Result {
	return &Result{}
}

// Conflict is a structured record of one detected conflict.
type Conflict struct {
	EntityID string          `json:"entity_id"`
	Kind     string          `json:"kind"`
	Local    json.RawMessage `json:"local,omitempty"`
	Remote   json.RawMessage `json:"remote,omitempty"`
}

// OperationError records one failed operation within a run.
type OperationError struct {
	OperationID string `json:"operation_id,omitempty"`
	Message     string `json:"message"`
	Retryable   bool   `json:"retryable"`
}

// BatchResult is the transport's partial outcome for a single batch; the
// engine accumulates these across batches into the run's Result.
type BatchResult struct {
	// SyncedIDs are operations the remote confirmed; the engine removes
	// them from the queue.
	SyncedIDs []string   `json:"synced_ids,omitempty"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
	// Errors with Retryable set cause a retry-count increment on the
	// named operation.
	Errors []OperationError `json:"errors,omitempty"`
}

// Status is the engine's externally visible state.
type Status struct {
	Syncing   bool `json:"syncing"`
	QueueSize int  `json:"queue_size"`
}
