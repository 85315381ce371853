package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/web3guy0/polybot/internal/broker"
	"github.com/web3guy0/polybot/internal/clock"
	"github.com/web3guy0/polybot/internal/processors"
	"github.com/web3guy0/polybot/internal/queue"
	"github.com/web3guy0/polybot/internal/reconcile"
	"github.com/web3guy0/polybot/internal/store"
)

func newTestController(t *testing.T) (*Controller, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	clk := clock.Real{}
	bc := broker.NewScriptedClient()

	var calls atomic.Int32
	w := queue.NewWorker(s, clk, map[store.WorkItemType]queue.Processor{
		store.TypeKillSwitch: func(ctx context.Context, item *store.WorkItem) (string, error) {
			calls.Add(1)
			return "ok", nil
		},
	})
	w.Interval = time.Millisecond

	r := reconcile.NewReconciler(s, bc, clk)
	r.SyncInterval = time.Hour
	r.UnrealInterval = time.Hour

	p := &processors.Processors{Store: s, Broker: bc, Clock: clk}
	return NewController(s, w, r, p), s
}

func TestController_PauseStopsNewClaimsResumeContinues(t *testing.T) {
	c, s := newTestController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	c.Pause()
	if _, err := queue.Enqueue(context.Background(), s, store.TypeKillSwitch, "{}", ""); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	typ := store.TypeKillSwitch
	pending, _ := s.GetWorkItemCount(context.Background(), store.StatusPending, &typ)
	if pending != 1 {
		t.Fatalf("expected the item to remain pending while paused, got %d pending", pending)
	}

	c.Resume()
	time.Sleep(50 * time.Millisecond)

	succeeded, _ := s.GetWorkItemCount(context.Background(), store.StatusSucceeded, &typ)
	if succeeded != 1 {
		t.Fatalf("expected the item to be claimed and succeed after resume, got %d succeeded", succeeded)
	}
}

func TestController_TriggerKillSwitchEnqueuesImmediatelyEligibleItem(t *testing.T) {
	c, s := newTestController(t)
	item, err := c.TriggerKillSwitch(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.NextRunAt.After(time.Now()) {
		t.Fatal("expected kill switch item to be immediately eligible")
	}

	got, err := s.GetWorkItem(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("expected item to be persisted: %v", err)
	}
	if got.Type != store.TypeKillSwitch {
		t.Fatalf("unexpected type: %s", got.Type)
	}
}

func TestController_StartIsIdempotent(t *testing.T) {
	c, _ := newTestController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	c.Start(ctx) // second call must be a no-op, not a double-launch
	c.Stop()
}

func TestController_KillSwitchActiveDelegatesToProcessors(t *testing.T) {
	c, _ := newTestController(t)
	if c.KillSwitchActive() {
		t.Fatal("expected kill switch to start inactive")
	}
	if _, err := c.Processors.KillSwitch(context.Background(), &store.WorkItem{Type: store.TypeKillSwitch, Payload: "{}"}); err != nil {
		t.Fatalf("kill switch processor failed: %v", err)
	}
	if !c.KillSwitchActive() {
		t.Fatal("expected KillSwitchActive to report the processors' flag after a KILL_SWITCH run")
	}
}
