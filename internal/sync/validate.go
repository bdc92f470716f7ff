package sync

import (
	"encoding/json"
	"fmt"

	"offsync/internal/queue"
)

// ValidationError rejects an operation before it reaches the queue. It is
// never retried: nothing was persisted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid operation: %s", e.Reason)
}

// Validator checks operations before they are enqueued.
type Validator interface {
	ValidateOperation(op *queue.Operation) error
}

// basicValidator is the default Validator wired by NewEngine when the
// caller supplies none.
type basicValidator struct{}

func NewValidator() Validator {
	return basicValidator{}
}

func (basicValidator) ValidateOperation(op *queue.Operation) error {
	switch op.Kind {
	case queue.KindCreate, queue.KindUpdate, queue.KindDelete:
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown kind %q", op.Kind)}
	}

	if op.EntityType == "" {
		return &ValidationError{Reason: "entity type is required"}
	}
	if op.EntityID == "" {
		return &ValidationError{Reason: "entity id is required"}
	}
	if op.RetryLimit <= 0 {
		return &ValidationError{Reason: "retry limit must be positive"}
	}

	switch op.Kind {
	case queue.KindCreate, queue.KindUpdate:
		if len(op.Payload) == 0 {
			return &ValidationError{Reason: fmt.Sprintf("%s requires a payload", op.Kind)}
		}
	}
	if len(op.Payload) > 0 && !json.Valid(op.Payload) {
		return &ValidationError{Reason: "payload is not valid JSON"}
	}

	return nil
}
