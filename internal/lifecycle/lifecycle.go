// Package lifecycle implements start/stop/pause/resume and the kill switch
// (spec §4.8/§5). Generalized from the teacher's core.Engine.Start/Stop
// running-flag-plus-stopCh pattern and bot/telegram.go's
// SetControlCallbacks(onPause, onResume) toggle.
package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polybot/internal/processors"
	"github.com/web3guy0/polybot/internal/queue"
	"github.com/web3guy0/polybot/internal/reconcile"
	"github.com/web3guy0/polybot/internal/store"
)

// Controller owns the queue worker and reconciler goroutines and exposes
// pause/resume/kill-switch controls over them.
type Controller struct {
	Store       store.Store
	Worker      *queue.Worker
	Reconciler  *reconcile.Reconciler
	Processors  *processors.Processors

	paused atomic.Bool

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	doneWork chan error
	doneRec  chan error
}

func NewController(s store.Store, w *queue.Worker, r *reconcile.Reconciler, p *processors.Processors) *Controller {
	return &Controller{Store: s, Worker: w, Reconciler: r, Processors: p}
}

// Start launches the worker and reconciler loops. Safe to call once; a
// second call while already running is a no-op, mirroring core.Engine.Start.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.doneWork = make(chan error, 1)
	c.doneRec = make(chan error, 1)
	c.mu.Unlock()

	go func() { c.doneWork <- c.Worker.Run(runCtx, c.Paused) }()
	go func() { c.doneRec <- c.Reconciler.Run(runCtx) }()

	log.Info().Msg("lifecycle: controller started")
}

// Stop cancels both loops and waits for them to exit.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	doneWork, doneRec := c.doneWork, c.doneRec
	c.mu.Unlock()

	cancel()
	<-doneWork
	<-doneRec
	log.Info().Msg("lifecycle: controller stopped")
}

// Pause stops the worker from claiming new WorkItems. In-flight work
// finishes; already-claimed items are not interrupted (spec §4.8).
func (c *Controller) Pause() {
	c.paused.Store(true)
	log.Info().Msg("lifecycle: paused")
}

func (c *Controller) Resume() {
	c.paused.Store(false)
	log.Info().Msg("lifecycle: resumed")
}

// Paused satisfies queue.Worker.Run's skipClaim parameter.
func (c *Controller) Paused() bool {
	return c.paused.Load()
}

// TriggerKillSwitch enqueues a KILL_SWITCH WorkItem ahead of normal backoff
// scheduling (spec §5: "enqueuing a KILL_SWITCH item with highest
// priority"). The item itself still flows through the ordinary worker loop;
// this only affects when it becomes eligible for claiming.
func (c *Controller) TriggerKillSwitch(ctx context.Context, closePositions bool) (*store.WorkItem, error) {
	payload := "{}"
	if closePositions {
		payload = `{"closePositions":true}`
	}
	return queue.EnqueuePriority(ctx, c.Store, store.TypeKillSwitch, payload)
}

// KillSwitchActive reports whether a KILL_SWITCH item has run on this
// process since startup or the last ClearKillSwitch.
func (c *Controller) KillSwitchActive() bool {
	if c.Processors == nil {
		return false
	}
	return c.Processors.KillSwitchActive()
}
