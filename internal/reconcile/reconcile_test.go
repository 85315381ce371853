package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/broker"
	"github.com/web3guy0/polybot/internal/clock"
	"github.com/web3guy0/polybot/internal/store"
)

func TestRunSync_EnqueuesOrderSyncWorkItem(t *testing.T) {
	s := store.NewMemoryStore()
	bc := broker.NewScriptedClient()
	clk := clock.NewFake(time.Now())
	r := NewReconciler(s, bc, clk)

	if err := r.RunSync(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	typ := store.TypeOrderSync
	n, err := s.GetWorkItemCount(context.Background(), store.StatusPending, &typ)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one pending ORDER_SYNC work item, got %d", n)
	}
}

func TestRunUnrealDetection_FlagsEachRule(t *testing.T) {
	now := time.Now()
	stale := now.Add(-25 * time.Hour)
	bc := broker.NewScriptedClient()
	bc.Orders = map[string]*broker.Order{
		"rejected": {ID: "rejected", Status: broker.OrderStatusRejected, SubmittedAt: now},
		"canceled-zero-fill": {ID: "canceled-zero-fill", Status: broker.OrderStatusCanceled, FilledQty: decimal.Zero, SubmittedAt: now},
		"expired-zero-fill": {ID: "expired-zero-fill", Status: broker.OrderStatusExpired, FilledQty: decimal.Zero, SubmittedAt: now},
		"zero-everything": {ID: "zero-everything", Status: broker.OrderStatusNew, Qty: decimal.Zero, Notional: decimal.Zero, FilledQty: decimal.Zero, SubmittedAt: now},
		"stale-active": {ID: "stale-active", Status: broker.OrderStatusNew, Qty: decimal.RequireFromString("10"), FilledQty: decimal.Zero, SubmittedAt: stale},
		"healthy-filled": {ID: "healthy-filled", Status: broker.OrderStatusFilled, FilledQty: decimal.RequireFromString("5"), SubmittedAt: now},
		"healthy-fresh-active": {ID: "healthy-fresh-active", Status: broker.OrderStatusNew, Qty: decimal.RequireFromString("10"), FilledQty: decimal.Zero, SubmittedAt: now},
	}

	canceled := map[string]bool{}
	bc.CancelOrderFunc = func(ctx context.Context, id string) error {
		canceled[id] = true
		return nil
	}

	s := store.NewMemoryStore()
	clk := clock.NewFake(now)
	r := NewReconciler(s, bc, clk)

	flagged, err := r.RunUnrealDetection(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flagged) != 5 {
		t.Fatalf("expected 5 unreal orders flagged, got %d", len(flagged))
	}

	wantCanceled := []string{"zero-everything", "stale-active"}
	for _, id := range wantCanceled {
		if !canceled[id] {
			t.Errorf("expected active unreal order %q to be canceled", id)
		}
	}
	// Already-terminal unreal orders must not trigger a cancel call.
	for _, id := range []string{"rejected", "canceled-zero-fill", "expired-zero-fill"} {
		if canceled[id] {
			t.Errorf("terminal order %q should not have been canceled", id)
		}
	}
	if canceled["healthy-filled"] || canceled["healthy-fresh-active"] {
		t.Error("healthy orders must never be canceled")
	}
}

func TestRunUnrealDetection_TerminalUnrealOrderIsNotCanceled(t *testing.T) {
	now := time.Now()
	bc := broker.NewScriptedClient()
	bc.Orders = map[string]*broker.Order{
		"bad": {ID: "bad", Status: broker.OrderStatusRejected, SubmittedAt: now},
	}
	bc.CancelOrderFunc = func(ctx context.Context, id string) error { return broker.ErrRejected }

	s := store.NewMemoryStore()
	clk := clock.NewFake(now)
	r := NewReconciler(s, bc, clk)

	flagged, err := r.RunUnrealDetection(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flagged) != 1 || flagged[0].Reason != "rejected" {
		t.Fatalf("unexpected flagged set: %+v", flagged)
	}
	// rejected is terminal, so CancelOrder is never attempted for it and
	// CancelErr should be nil despite CancelOrderFunc being wired to fail.
	if flagged[0].CancelErr != nil {
		t.Fatalf("expected no cancel attempt for a terminal status, got %v", flagged[0].CancelErr)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	s := store.NewMemoryStore()
	bc := broker.NewScriptedClient()
	clk := clock.NewFake(time.Now())
	r := NewReconciler(s, bc, clk)
	r.SyncInterval = time.Millisecond
	r.UnrealInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Advance the fake clock so the loop's sleep resolves at least once,
	// then cancel and confirm Run returns promptly.
	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected Run to return a context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancel")
	}
}
