// Package reconcile implements the Reconciler (spec §4.7): periodic
// order-book sync plus unreal-order detection against the broker's
// authoritative state. Grounded on the restart-recovery and best-effort
// iterate-and-log pattern already present in the teacher's
// execution.Executor (LoadPosition, ForceCloseAllPositions).
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polybot/internal/broker"
	"github.com/web3guy0/polybot/internal/clock"
	"github.com/web3guy0/polybot/internal/queue"
	"github.com/web3guy0/polybot/internal/store"
)

// Reconciler runs the two periodic jobs spec §4.7 names.
type Reconciler struct {
	Store  store.Store
	Broker broker.Client
	Clock  clock.Clock

	SyncInterval     time.Duration // default 1m
	UnrealInterval   time.Duration // default 5m
	StaleActiveAfter time.Duration // default 24h
}

func NewReconciler(s store.Store, b broker.Client, clk clock.Clock) *Reconciler {
	return &Reconciler{
		Store: s, Broker: b, Clock: clk,
		SyncInterval: time.Minute, UnrealInterval: 5 * time.Minute, StaleActiveAfter: 24 * time.Hour,
	}
}

// RunSync enqueues an ORDER_SYNC work item (spec §4.7 job 1). The processor
// itself lives in internal/processors; this keeps the reconciler's own
// broker surface limited to the unreal-order detection job.
func (r *Reconciler) RunSync(ctx context.Context) error {
	_, err := queue.Enqueue(ctx, r.Store, store.TypeOrderSync, "{}", "")
	return err
}

// UnrealOrder is one flagged divergence (spec §4.7 job 2).
type UnrealOrder struct {
	BrokerOrderID string
	Reason        string
	CancelErr     error
}

// isUnreal applies spec §4.7's five disjunctive rules.
func isUnreal(o *broker.Order, now time.Time, staleAfter time.Duration) (string, bool) {
	switch {
	case o.Status == broker.OrderStatusRejected:
		return "rejected", true
	case o.Status == broker.OrderStatusCanceled && o.FilledQty.IsZero():
		return "canceled with zero fill", true
	case o.Status == broker.OrderStatusExpired && o.FilledQty.IsZero():
		return "expired with zero fill", true
	case o.Qty.IsZero() && o.Notional.IsZero() && o.FilledQty.IsZero():
		return "zero qty, zero notional, zero fill", true
	case !broker.TerminalStatuses[o.Status] && o.FilledQty.IsZero() && now.Sub(o.SubmittedAt) > staleAfter:
		return fmt.Sprintf("active with zero fill for over %s", staleAfter), true
	default:
		return "", false
	}
}

// RunUnrealDetection fetches the last 500 broker orders, flags unreal ones,
// and best-effort cancels those still in an active status. Per-order cancel
// failures are collected, not returned — reconciliation keeps running.
func (r *Reconciler) RunUnrealDetection(ctx context.Context) ([]UnrealOrder, error) {
	orders, err := r.Broker.GetOrders(ctx, broker.OrderStatusFilterAll, 500)
	if err != nil {
		return nil, err
	}

	now := r.Clock.Now()
	var flagged []UnrealOrder
	for _, o := range orders {
		reason, unreal := isUnreal(o, now, r.StaleActiveAfter)
		if !unreal {
			continue
		}
		u := UnrealOrder{BrokerOrderID: o.ID, Reason: reason}
		if !broker.TerminalStatuses[o.Status] {
			if err := r.Broker.CancelOrder(ctx, o.ID); err != nil {
				u.CancelErr = err
				log.Warn().Err(err).Str("broker_order_id", o.ID).Str("reason", reason).Msg("unreal order cancel failed")
			}
		}
		flagged = append(flagged, u)
	}
	return flagged, nil
}

// Run drives both periodic jobs on independent tickers until ctx is
// canceled, grounded on the teacher's dual-goroutine loop shape
// (mainLoop + positionMonitorLoop) collapsed here into two clock.SleepContext
// waits multiplexed in one loop so a single context cancellation stops both.
func (r *Reconciler) Run(ctx context.Context) error {
	nextSync := r.Clock.Now().Add(r.SyncInterval)
	nextUnreal := r.Clock.Now().Add(r.UnrealInterval)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		now := r.Clock.Now()
		wait := nextSync.Sub(now)
		if d := nextUnreal.Sub(now); d < wait {
			wait = d
		}
		if wait > 0 {
			if err := clock.SleepContext(ctx, r.Clock, wait); err != nil {
				return err
			}
		}

		now = r.Clock.Now()
		if !now.Before(nextSync) {
			if err := r.RunSync(ctx); err != nil {
				log.Error().Err(err).Msg("reconciler: order-book sync enqueue failed")
			}
			nextSync = now.Add(r.SyncInterval)
		}
		if !now.Before(nextUnreal) {
			if _, err := r.RunUnrealDetection(ctx); err != nil {
				log.Error().Err(err).Msg("reconciler: unreal-order detection failed")
			}
			nextUnreal = now.Add(r.UnrealInterval)
		}
	}
}
