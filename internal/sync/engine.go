package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"offsync/internal/config"
	"offsync/internal/conflict"
	"offsync/internal/logger"
	"offsync/internal/queue"
)

// Engine is the sync orchestrator. It has two externally visible states,
// idle and syncing, guarded by a single atomic flag so that two
// near-simultaneous Sync calls can never both proceed. Batches run strictly
// sequentially; batch N's remote effects are visible before batch N+1 is
// attempted.
type Engine struct {
	cfg       config.SyncConfig
	queue     *queue.Queue
	resolver  *conflict.Resolver
	transport Transport
	validator Validator
	notifier  *notifier

	syncing  atomic.Bool
	cancel   atomic.Bool
	unsubNet func()
}

// NewEngine wires the orchestrator. validator may be nil, in which case the
// default pre-enqueue validation is used.
func NewEngine(cfg config.SyncConfig, q *queue.Queue, resolver *conflict.Resolver, transport Transport, validator Validator) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if validator == nil {
		validator = NewValidator()
	}
	return &Engine{
		cfg:       cfg,
		queue:     q,
		resolver:  resolver,
		transport: transport,
		validator: validator,
		notifier:  newNotifier(),
	}
}

// Start registers for connectivity transitions. A transition to connected
// while idle triggers a sync automatically.
func (e *Engine) Start() {
	e.unsubNet = e.transport.OnConnectionChange(func(connected bool) {
		e.notifier.emit(Event{Type: EventNetworkStatusChanged, Connected: connected})
		if connected && !e.syncing.Load() {
			logger.Log.Info("Connectivity restored, triggering sync")
			go e.Sync(context.Background())
		}
	})
}

// Stop unregisters the connectivity callback. A run already in flight is
// not interrupted; use Abort for that.
func (e *Engine) Stop() {
	if e.unsubNet != nil {
		e.unsubNet()
		e.unsubNet = nil
	}
}

// Subscribe registers a notification listener and returns an unsubscribe
// func.
func (e *Engine) Subscribe(fn func(Event)) func() {
	return e.notifier.subscribe(fn)
}

// Status reports whether a run is in flight and the queue's current size.
func (e *Engine) Status() Status {
	return Status{
		Syncing:   e.syncing.Load(),
		QueueSize: e.queue.Size(),
	}
}

// Sync performs one orchestration run: drain pending operations in batches,
// pull remote changes, prune the queue. It never returns an error; failures
// are folded into the Result. A second concurrent call is rejected
// immediately with an empty failed Result, as is a call without
// connectivity.
func (e *Engine) Sync(ctx context.Context) *Result {
	if !e.transport.IsConnected() {
		logger.Log.Info("Skipping sync: no connectivity")
		return failedResult()
	}

	// Single atomic exchange: at most one concurrent run per engine.
	if !e.syncing.CompareAndSwap(false, true) {
		logger.Log.Info("Sync already in progress")
		e.notifier.emit(Event{Type: EventSyncAlreadyInProgress})
		return failedResult()
	}
	defer e.syncing.Store(false) // back to idle on every path

	e.cancel.Store(false)
	e.notifier.emit(Event{Type: EventSyncStarted})

	result := e.run(ctx)

	if result.Aborted {
		e.notifier.emit(Event{Type: EventSyncAborted})
	}
	e.notifier.emit(Event{Type: EventSyncCompleted, Result: result})

	logger.Log.Info("Sync run finished",
		zap.Bool("success", result.Success),
		zap.Int("synced", result.Synced),
		zap.Int("conflicted", result.Conflicted),
		zap.Int("errored", result.Errored),
		zap.Bool("aborted", result.Aborted),
	)
	return result
}

// run executes the drain/pull/cleanup sequence. A panic in a hook aborts
// the run and flips success, but never escapes: the deferred recover plus
// Sync's deferred flag store guarantee the idle transition.
func (e *Engine) run(ctx context.Context) (result *Result) {
	result = &Result{Success: true, StartedAt: time.Now()}
	defer func() {
		result.CompletedAt = time.Now()
		if r := recover(); r != nil {
			err := fmt.Errorf("sync run failed: %v", r)
			logger.Log.Error("Sync run failed", zap.Error(err))
			result.Success = false
			e.notifier.emit(Event{Type: EventSyncError, Err: err})
		}
	}()

	pending := e.queue.Pending()

	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		// Cancellation granularity is per batch: an in-flight batch always
		// completes, the next one never starts.
		if e.cancel.Load() {
			result.Aborted = true
			result.Success = false
			logger.Log.Info("Sync aborted between batches")
			return result
		}
		if !e.transport.IsConnected() {
			result.Success = false
			logger.Log.Warn("Connectivity lost between batches")
			return result
		}

		end := start + e.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		e.processBatch(ctx, pending[start:end], result)
	}

	if err := e.transport.PullRemoteChanges(ctx); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, OperationError{
			Message:   fmt.Sprintf("pull remote changes: %v", err),
			Retryable: true,
		})
		logger.Log.Error("Failed to pull remote changes", zap.Error(err))
	}

	if err := e.queue.CleanupCompleted(ctx); err != nil {
		result.Success = false
		logger.Log.Error("Failed to clean up queue", zap.Error(err))
	}

	return result
}

// processBatch transmits one batch and folds its partial outcome into the
// run's result. A transport error fails the whole batch transiently: every
// operation gets a retry mark and the run continues with the next batch.
func (e *Engine) processBatch(ctx context.Context, batch []*queue.Operation, result *Result) {
	br, err := e.transport.ProcessBatch(ctx, batch)
	if err != nil {
		result.Success = false
		for _, op := range batch {
			result.Errored++
			result.Errors = append(result.Errors, OperationError{
				OperationID: op.ID,
				Message:     err.Error(),
				Retryable:   true,
			})
			if mErr := e.queue.MarkRetry(ctx, op.ID); mErr != nil {
				logger.Log.Error("Failed to mark retry", zap.String("operation_id", op.ID), zap.Error(mErr))
			}
		}
		logger.Log.Error("Batch failed", zap.Int("operations", len(batch)), zap.Error(err))
		return
	}

	for _, id := range br.SyncedIDs {
		result.Synced++
		if rErr := e.queue.Remove(ctx, id); rErr != nil {
			logger.Log.Error("Failed to remove synced operation", zap.String("operation_id", id), zap.Error(rErr))
		}
	}

	result.Conflicted += len(br.Conflicts)
	result.Conflicts = append(result.Conflicts, br.Conflicts...)

	for _, opErr := range br.Errors {
		result.Success = false
		result.Errored++
		result.Errors = append(result.Errors, opErr)
		if opErr.Retryable && opErr.OperationID != "" {
			if mErr := e.queue.MarkRetry(ctx, opErr.OperationID); mErr != nil {
				logger.Log.Error("Failed to mark retry", zap.String("operation_id", opErr.OperationID), zap.Error(mErr))
			}
		}
	}
}

// QueueOperation validates and enqueues a mutation. When connected and
// idle it opportunistically kicks off a sync; failures of that eager run
// are the run's own business and never reach this caller.
func (e *Engine) QueueOperation(ctx context.Context, kind queue.Kind, entityType, entityID string, payload json.RawMessage) (*queue.Operation, error) {
	op := queue.NewOperation(kind, entityType, entityID, payload, e.cfg.RetryLimit)

	if err := e.validator.ValidateOperation(op); err != nil {
		return nil, err
	}
	if err := e.queue.Enqueue(ctx, op); err != nil {
		return nil, err
	}

	e.notifier.emit(Event{Type: EventOperationQueued, Operation: op})

	if e.transport.IsConnected() && !e.syncing.Load() {
		go e.Sync(context.Background())
	}

	return op, nil
}

// HandleConflict delegates to the resolver and reports the resolution
// before returning it.
func (e *Engine) HandleConflict(local, remote, ancestor any) (any, error) {
	resolution, err := e.resolver.Resolve(local, remote, ancestor)
	if err != nil {
		return nil, err
	}

	e.notifier.emit(Event{
		Type:       EventConflictResolved,
		Local:      local,
		Remote:     remote,
		Resolution: resolution,
	})
	return resolution, nil
}

// UpdatePolicy swaps the conflict policy. Must not be called while a
// resolution is in flight.
func (e *Engine) UpdatePolicy(policy conflict.Policy) {
	e.resolver.UpdatePolicy(policy)
	e.notifier.emit(Event{Type: EventConfigUpdated, Config: policy})
}

// Abort raises the cancellation signal for the current run. The in-flight
// batch completes; no further batch starts. No-op when idle.
func (e *Engine) Abort() {
	if !e.syncing.Load() {
		return
	}
	e.cancel.Store(true)
	logger.Log.Info("Sync abort requested")
}

// ClearQueue drops every queued operation, exhausted ones included.
func (e *Engine) ClearQueue(ctx context.Context) error {
	if err := e.queue.ClearAll(ctx); err != nil {
		return err
	}
	e.notifier.emit(Event{Type: EventQueueCleared})
	return nil
}

// Queue exposes the underlying operation queue for inspection endpoints.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}
