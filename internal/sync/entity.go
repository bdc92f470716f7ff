package sync

import (
	"errors"
	"fmt"
	"time"
)

// ErrDeletedLocalOnly rejects a tombstone for an entity that never reached
// the remote: there is nothing to delete remotely, so callers must drop the
// entity locally instead of syncing it.
var ErrDeletedLocalOnly = errors.New("entity is both deleted and local-only")

// Entity is the versioned unit being synchronized.
type Entity struct {
	ID           string    `json:"id"`
	Version      int64     `json:"version"`
	LastModified time.Time `json:"last_modified"`
	Checksum     string    `json:"checksum,omitempty"`
	Deleted      bool      `json:"deleted,omitempty"`
	LocalOnly    bool      `json:"local_only,omitempty"`
}

// Validate rejects entities the engine must not accept.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return errors.New("entity id is required")
	}
	if e.Version < 0 {
		return fmt.Errorf("entity %s has negative version %d", e.ID, e.Version)
	}
	if e.Deleted && e.LocalOnly {
		return fmt.Errorf("entity %s: %w", e.ID, ErrDeletedLocalOnly)
	}
	return nil
}

// Warnings reports suspicious but tolerated states.
func (e *Entity) Warnings() []string {
	var warnings []string
	if e.LastModified.After(time.Now()) {
		warnings = append(warnings, fmt.Sprintf("entity %s modified in the future (%s)", e.ID, e.LastModified.Format(time.RFC3339)))
	}
	return warnings
}
