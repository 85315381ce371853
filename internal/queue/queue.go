// Package queue implements the Work Queue Engine (spec §4.6): a single
// cancellable worker loop that claims due WorkItems from the store and
// dispatches them to type-specific processors. Generalized from the
// teacher's core.Engine.mainLoop/positionMonitorLoop goroutine+stopCh
// pattern into a context.Context-cancellable loop (spec §5's "every
// suspension point must be cancellable").
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polybot/internal/backoff"
	"github.com/web3guy0/polybot/internal/classify"
	"github.com/web3guy0/polybot/internal/clock"
	"github.com/web3guy0/polybot/internal/store"
)

// Processor handles one WorkItem of its registered type, returning a small
// result blob on success.
type Processor func(ctx context.Context, item *store.WorkItem) (result string, err error)

// Worker drives the claim-dispatch-settle cycle.
type Worker struct {
	Store      store.Store
	Clock      clock.Clock
	Processors map[store.WorkItemType]Processor
	Interval   time.Duration // default 5s, per spec §4.6
	Types      []store.WorkItemType // optional claim filter; nil means any type

	mu      sync.Mutex
	running bool
}

func NewWorker(s store.Store, clk clock.Clock, processors map[store.WorkItemType]Processor) *Worker {
	return &Worker{Store: s, Clock: clk, Processors: processors, Interval: 5 * time.Second}
}

// Enqueue creates a new PENDING WorkItem, defaulting ID/MaxAttempts/NextRunAt
// when unset. If idempotencyKey collides the store returns the existing row
// (spec I4) and this is not an error.
func Enqueue(ctx context.Context, s store.Store, typ store.WorkItemType, payload string, idempotencyKey string) (*store.WorkItem, error) {
	now := time.Now()
	item := &store.WorkItem{
		ID:             uuid.NewString(),
		Type:           typ,
		Payload:        payload,
		IdempotencyKey: idempotencyKey,
		Status:         store.StatusPending,
		MaxAttempts:    store.DefaultMaxAttempts,
		NextRunAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return s.CreateWorkItem(ctx, item)
}

// EnqueuePriority is Enqueue with nextRunAt forced to now regardless of
// caller-supplied scheduling, used by the kill-switch preemption path
// (spec §5: "enqueuing a KILL_SWITCH item with highest priority").
func EnqueuePriority(ctx context.Context, s store.Store, typ store.WorkItemType, payload string) (*store.WorkItem, error) {
	return Enqueue(ctx, s, typ, payload, "")
}

// RetryDeadLetter is the operator-initiated recovery path (spec §4.6).
func RetryDeadLetter(ctx context.Context, s store.Store, id string) (*store.WorkItem, error) {
	now := time.Now()
	zero := 0
	pending := store.StatusPending
	empty := ""
	return s.UpdateWorkItem(ctx, id, store.Patch{
		Status:    &pending,
		Attempts:  &zero,
		NextRunAt: &now,
		LastError: &empty,
	})
}

// tryEnter is the worker's single-slot re-entrancy guard, generalized from
// the teacher's e.running/e.mu pair.
func (w *Worker) tryEnter() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return false
	}
	w.running = true
	return true
}

func (w *Worker) exit() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

func (w *Worker) interval() time.Duration {
	if w.Interval <= 0 {
		return 5 * time.Second
	}
	return w.Interval
}

// Run drives the loop until ctx is canceled. A skip-claiming gate (checked
// before each claim attempt) lets callers implement pause/resume without
// aborting an in-flight item; see internal/lifecycle.
func (w *Worker) Run(ctx context.Context, skipClaim func() bool) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !w.tryEnter() {
			if err := clock.SleepContext(ctx, w.Clock, w.interval()); err != nil {
				return err
			}
			continue
		}

		if skipClaim != nil && skipClaim() {
			w.exit()
			if err := clock.SleepContext(ctx, w.Clock, w.interval()); err != nil {
				return err
			}
			continue
		}

		item, err := w.Store.ClaimNextWorkItem(ctx, w.Types, w.Clock.Now())
		if err != nil {
			log.Error().Err(err).Msg("claimNextWorkItem failed")
			w.exit()
			if serr := clock.SleepContext(ctx, w.Clock, w.interval()); serr != nil {
				return serr
			}
			continue
		}
		if item == nil {
			w.exit()
			if err := clock.SleepContext(ctx, w.Clock, w.interval()); err != nil {
				return err
			}
			continue
		}

		w.processOne(ctx, item)
		w.exit()
	}
}

func (w *Worker) processOne(ctx context.Context, item *store.WorkItem) {
	runErr := w.Store.CreateWorkItemRun(ctx, &store.WorkItemRun{
		WorkItemID:    item.ID,
		AttemptNumber: item.Attempts + 1,
		Status:        "RUNNING",
		CreatedAt:     w.Clock.Now(),
	})
	if runErr != nil {
		log.Warn().Err(runErr).Str("work_item_id", item.ID).Msg("failed to append work item run log")
	}

	proc, ok := w.Processors[item.Type]
	if !ok {
		w.markFailed(ctx, item, fmt.Errorf("no processor registered for type %s", item.Type), false)
		return
	}

	result, err := proc(ctx, item)
	if err != nil {
		class := classify.Classify(err, nil)
		w.markFailed(ctx, item, err, class.Retryable)
		return
	}

	w.markSucceeded(ctx, item, result)
}

func (w *Worker) markFailed(ctx context.Context, item *store.WorkItem, procErr error, retryable bool) {
	newAttempts := item.Attempts + 1
	lastError := procErr.Error()

	if !retryable || newAttempts >= item.MaxAttempts {
		status := store.StatusDeadLetter
		if _, err := w.Store.UpdateWorkItem(ctx, item.ID, store.Patch{
			Status: &status, Attempts: &newAttempts, LastError: &lastError,
		}); err != nil {
			log.Error().Err(err).Str("work_item_id", item.ID).Msg("failed to persist dead-letter transition")
		}
		log.Warn().Str("work_item_id", item.ID).Str("type", string(item.Type)).Str("error", lastError).Msg("work item dead-lettered")
		return
	}

	status := store.StatusPending
	nextRunAt := w.Clock.Now().Add(backoff.Delay(backoff.WorkItemType(item.Type), newAttempts))
	if _, err := w.Store.UpdateWorkItem(ctx, item.ID, store.Patch{
		Status: &status, Attempts: &newAttempts, NextRunAt: &nextRunAt, LastError: &lastError,
	}); err != nil {
		log.Error().Err(err).Str("work_item_id", item.ID).Msg("failed to persist retry transition")
	}
}

func (w *Worker) markSucceeded(ctx context.Context, item *store.WorkItem, result string) {
	status := store.StatusSucceeded
	if _, err := w.Store.UpdateWorkItem(ctx, item.ID, store.Patch{
		Status: &status, Result: &result,
	}); err != nil {
		log.Error().Err(err).Str("work_item_id", item.ID).Msg("failed to persist success transition")
	}
}
