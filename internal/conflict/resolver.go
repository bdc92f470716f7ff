// Package conflict reconciles divergent local and remote versions of an
// entity. The resolver is policy-driven; the built-in three-way merge is
// used by the Merge policy when no custom merge function is supplied.
package conflict

import (
	"errors"

	"go.uber.org/zap"

	"offsync/internal/logger"
)

// ErrManualResolutionRequired is returned when the Manual policy is active
// and no pre-resolved value was supplied. It must never silently default to
// either side.
var ErrManualResolutionRequired = errors.New("conflict: manual resolution required")

// PolicyKind names the active resolution strategy.
type PolicyKind string

const (
	PolicyLocalWins  PolicyKind = "local_wins"
	PolicyRemoteWins PolicyKind = "remote_wins"
	PolicyMerge      PolicyKind = "merge"
	PolicyManual     PolicyKind = "manual"
)

// TieBreak decides genuine two-sided conflicts on primitive values. Kept
// configurable rather than hard-coded so product policy can flip it.
type TieBreak string

const (
	TieBreakLocal  TieBreak = "local"
	TieBreakRemote TieBreak = "remote"
)

// MergeFunc is a caller-supplied replacement for the built-in three-way
// merge. ancestor is nil when no common ancestor is known.
type MergeFunc func(local, remote, ancestor any) (any, error)

// Policy is resolver configuration, not persisted state.
type Policy struct {
	Kind        PolicyKind
	MergeFn     MergeFunc
	TieBreak    TieBreak
	Resolved    any
	HasResolved bool
}

// LocalWins always keeps the local side.
func LocalWins() Policy {
	return Policy{Kind: PolicyLocalWins}
}

// RemoteWins always keeps the remote side.
func RemoteWins() Policy {
	return Policy{Kind: PolicyRemoteWins}
}

// Merge applies the built-in three-way merge, or fn if non-nil.
func Merge(fn MergeFunc) Policy {
	return Policy{Kind: PolicyMerge, MergeFn: fn, TieBreak: TieBreakLocal}
}

// Manual expects the caller to have resolved the conflict elsewhere;
// resolving without a supplied value is a contract violation.
func Manual() Policy {
	return Policy{Kind: PolicyManual}
}

// ManualResolved carries the caller's pre-resolved value.
func ManualResolved(resolved any) Policy {
	return Policy{Kind: PolicyManual, Resolved: resolved, HasResolved: true}
}

// Resolver applies the active policy to conflicting values.
//
// UpdatePolicy is safe to call between resolutions but not concurrently
// with one; the engine serializes both.
type Resolver struct {
	policy Policy
}

func NewResolver(policy Policy) *Resolver {
	if policy.Kind == PolicyMerge && policy.TieBreak == "" {
		policy.TieBreak = TieBreakLocal
	}
	return &Resolver{policy: policy}
}

// Policy returns the active policy.
func (r *Resolver) Policy() Policy {
	return r.policy
}

// UpdatePolicy replaces the active policy.
func (r *Resolver) UpdatePolicy(policy Policy) {
	if policy.Kind == PolicyMerge && policy.TieBreak == "" {
		policy.TieBreak = TieBreakLocal
	}
	r.policy = policy
	logger.Log.Info("Conflict policy updated", zap.String("policy", string(policy.Kind)))
}

// Resolve reconciles local and remote. ancestor may be nil when no common
// ancestor is known; the merge then degrades to a two-way local overlay.
// The returned value is always an independent copy.
func (r *Resolver) Resolve(local, remote, ancestor any) (any, error) {
	switch r.policy.Kind {
	case PolicyLocalWins:
		return deepCopy(local), nil
	case PolicyRemoteWins:
		return deepCopy(remote), nil
	case PolicyManual:
		if !r.policy.HasResolved {
			return nil, ErrManualResolutionRequired
		}
		return deepCopy(r.policy.Resolved), nil
	case PolicyMerge:
		if r.policy.MergeFn != nil {
			return r.policy.MergeFn(local, remote, ancestor)
		}
		return threeWayMerge(local, remote, ancestor, r.policy.TieBreak), nil
	default:
		// Unset policy behaves like the default merge.
		return threeWayMerge(local, remote, ancestor, TieBreakLocal), nil
	}
}
