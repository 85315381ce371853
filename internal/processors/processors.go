// Package processors implements the per-work-item-type handlers (spec §4.6,
// C10) the Work Queue Engine dispatches claimed items to.
package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polybot/internal/broker"
	"github.com/web3guy0/polybot/internal/clock"
	"github.com/web3guy0/polybot/internal/events"
	"github.com/web3guy0/polybot/internal/execution"
	"github.com/web3guy0/polybot/internal/queue"
	"github.com/web3guy0/polybot/internal/store"
	"github.com/web3guy0/polybot/internal/universe"
)

// Processors bundles the collaborators every handler needs: the store for
// persistence, the broker for RPCs, the execution engine for ORDER_SUBMIT,
// the universe cache for ASSET_UNIVERSE_SYNC, and an event sink.
type Processors struct {
	Store    store.Store
	Broker   broker.Client
	Engine   *execution.Engine
	Universe *universe.Cache
	Events   events.Sink
	Clock    clock.Clock

	killSwitchActive atomic.Bool
}

// KillSwitchActive reports whether the most recent KILL_SWITCH run tripped
// the flag spec §4.6 names; lifecycle.Controller surfaces this to operators.
func (p *Processors) KillSwitchActive() bool {
	return p.killSwitchActive.Load()
}

// Register returns the type -> Processor map a queue.Worker dispatches on.
// DECISION_EVALUATION and POSITION_CLOSE are deliberately absent: they are
// present in the WorkItem taxonomy and backoff schedule but are delegated to
// strategy collaborators outside this core (spec §4.6) — a worker wired
// against this core should restrict its claim filter (queue.Worker.Types) to
// the five types handled here, leaving those two for a different process.
func (p *Processors) Register() map[store.WorkItemType]queue.Processor {
	return map[store.WorkItemType]queue.Processor{
		store.TypeOrderSubmit:       p.OrderSubmit,
		store.TypeOrderCancel:       p.OrderCancel,
		store.TypeOrderSync:         p.OrderSync,
		store.TypeKillSwitch:        p.KillSwitch,
		store.TypeAssetUniverseSync: p.AssetUniverseSync,
	}
}

// CoreTypes is the claim filter a worker wired against this core's
// Processors should use (spec §4.6; see Register's doc comment).
func CoreTypes() []store.WorkItemType {
	return []store.WorkItemType{
		store.TypeOrderSubmit, store.TypeOrderCancel, store.TypeOrderSync,
		store.TypeKillSwitch, store.TypeAssetUniverseSync,
	}
}

// OrderSubmitPayload is the ORDER_SUBMIT work item payload shape (spec §6),
// supplemented with trailing-stop legs the distilled payload omits but the
// validator and execution engine both support.
type OrderSubmitPayload struct {
	Symbol               string           `json:"symbol"`
	Side                 string           `json:"side"`
	Qty                  *decimal.Decimal `json:"qty,omitempty"`
	Notional             *decimal.Decimal `json:"notional,omitempty"`
	Type                 string           `json:"type"`
	TimeInForce          string           `json:"time_in_force"`
	LimitPrice           *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice            *decimal.Decimal `json:"stop_price,omitempty"`
	TrailPercent         *decimal.Decimal `json:"trail_percent,omitempty"`
	TrailPrice           *decimal.Decimal `json:"trail_price,omitempty"`
	ExtendedHours        bool             `json:"extended_hours,omitempty"`
	OrderClass           string           `json:"order_class,omitempty"`
	TakeProfitLimitPrice *decimal.Decimal `json:"take_profit_limit_price,omitempty"`
	StopLossStopPrice    *decimal.Decimal `json:"stop_loss_stop_price,omitempty"`
	TraceID              string           `json:"traceId,omitempty"`
}

// OrderSubmit is the hard processor: it runs the five-phase engine and
// persists the result (spec §4.6 — the engine itself touches no store).
func (p *Processors) OrderSubmit(ctx context.Context, item *store.WorkItem) (string, error) {
	var payload OrderSubmitPayload
	if err := json.Unmarshal([]byte(item.Payload), &payload); err != nil {
		return "", fmt.Errorf("validation_error: malformed ORDER_SUBMIT payload: %w", err)
	}

	clientOrderID := item.IdempotencyKey
	if clientOrderID == "" {
		clientOrderID = item.ID
	}

	req := execution.Request{
		ClientOrderID: clientOrderID,
		Symbol:        payload.Symbol,
		Side:          broker.Side(payload.Side),
		Type:          broker.OrderType(payload.Type),
		TimeInForce:   broker.TimeInForce(payload.TimeInForce),
		Qty:           payload.Qty,
		Notional:      payload.Notional,
		LimitPrice:    payload.LimitPrice,
		StopPrice:     payload.StopPrice,
		TrailPercent:  payload.TrailPercent,
		TrailPrice:    payload.TrailPrice,
		ExtendedHours: payload.ExtendedHours,
		OrderClass:    broker.OrderClass(payload.OrderClass),
		TakeProfit:    payload.TakeProfitLimitPrice,
		StopLoss:      payload.StopLossStopPrice,
	}

	lastTrade := decimal.Zero
	if snaps, err := p.Broker.GetSnapshots(ctx, []string{payload.Symbol}); err == nil {
		if s, ok := snaps[payload.Symbol]; ok {
			lastTrade = s.LatestTradePrice
		}
	}
	marketStatus, _ := p.Broker.GetMarketStatus(ctx)

	outcome, runErr := p.Engine.Run(ctx, req, lastTrade, marketStatus)

	if outcome != nil && outcome.Order != nil {
		p.persistOrder(ctx, outcome, item.ID, payload.TraceID)
	}

	if runErr != nil {
		return "", runErr
	}

	return string(outcome.Order.Status), nil
}

func (p *Processors) persistOrder(ctx context.Context, outcome *execution.Outcome, workItemID, traceID string) {
	o := outcome.Order
	data := &store.Order{
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		TimeInForce:    string(o.TimeInForce),
		Qty:            o.Qty,
		Notional:       o.Notional,
		LimitPrice:     o.LimitPrice,
		StopPrice:      o.StopPrice,
		Status:         store.OrderStatus(o.Status),
		SubmittedAt:    o.SubmittedAt,
		FilledAt:       o.FilledAt,
		FilledQty:      o.FilledQty,
		FilledAvgPrice: o.FilledAvgPrice,
		WorkItemID:     workItemID,
		TraceID:        traceID,
		RawJSON:        o.RawJSON,
	}
	if _, err := p.Store.UpsertOrderByBrokerOrderID(ctx, o.ID, data); err != nil {
		log.Error().Err(err).Str("broker_order_id", o.ID).Msg("failed to persist order")
		return
	}

	if outcome.Actual.Filled && outcome.Actual.FillQty.IsPositive() {
		existing, err := p.Store.GetFillsByBrokerOrderID(ctx, o.ID)
		if err == nil && len(existing) == 0 {
			if err := p.Store.CreateFill(ctx, &store.Fill{
				BrokerOrderID: o.ID,
				OrderID:       o.ID,
				Symbol:        o.Symbol,
				Side:          string(o.Side),
				Qty:           outcome.Actual.FillQty,
				Price:         outcome.Actual.FillPrice,
				OccurredAt:    p.now(),
				RawJSON:       o.RawJSON,
			}); err != nil {
				log.Error().Err(err).Str("broker_order_id", o.ID).Msg("failed to persist fill")
			}
		}
	}
}

func (p *Processors) now() time.Time {
	if p.Clock != nil {
		return p.Clock.Now()
	}
	return time.Now()
}

// OrderCancelPayload is the ORDER_CANCEL payload shape (spec §6).
type OrderCancelPayload struct {
	OrderID string `json:"orderId"`
}

func (p *Processors) OrderCancel(ctx context.Context, item *store.WorkItem) (string, error) {
	var payload OrderCancelPayload
	if err := json.Unmarshal([]byte(item.Payload), &payload); err != nil {
		return "", fmt.Errorf("validation_error: malformed ORDER_CANCEL payload: %w", err)
	}
	if err := p.Broker.CancelOrder(ctx, payload.OrderID); err != nil {
		return "", err
	}
	return "canceled", nil
}

// OrderSyncPayload is the ORDER_SYNC payload shape (spec §6).
type OrderSyncPayload struct {
	TraceID string `json:"traceId,omitempty"`
}

// OrderSync lists open + recent closed broker orders (bounded per spec
// §4.6), upserts each, and backfills any missing Fill for an order that has
// a fill timestamp and a positive filled quantity, whatever its status.
func (p *Processors) OrderSync(ctx context.Context, item *store.WorkItem) (string, error) {
	open, err := p.Broker.GetOrders(ctx, broker.OrderStatusFilterOpen, 100)
	if err != nil {
		return "", err
	}
	closed, err := p.Broker.GetOrders(ctx, broker.OrderStatusFilterClosed, 50)
	if err != nil {
		return "", err
	}

	synced := 0
	for _, o := range append(open, closed...) {
		data := &store.Order{
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Side:          string(o.Side),
			Type:          string(o.Type),
			TimeInForce:   string(o.TimeInForce),
			Qty:           o.Qty,
			Notional:      o.Notional,
			LimitPrice:    o.LimitPrice,
			StopPrice:     o.StopPrice,
			Status:        store.OrderStatus(o.Status),
			SubmittedAt:   o.SubmittedAt,
			FilledAt:      o.FilledAt,
			FilledQty:     o.FilledQty,
			FilledAvgPrice: o.FilledAvgPrice,
			RawJSON:       o.RawJSON,
		}
		if o.ClientOrderID != "" {
			if wi, err := p.Store.GetWorkItemByIdempotencyKey(ctx, o.ClientOrderID); err == nil {
				data.WorkItemID = wi.ID
			}
		}
		if _, err := p.Store.UpsertOrderByBrokerOrderID(ctx, o.ID, data); err != nil {
			log.Error().Err(err).Str("broker_order_id", o.ID).Msg("order sync upsert failed")
			continue
		}
		synced++

		if o.FilledAt != nil && o.FilledQty.IsPositive() {
			existing, err := p.Store.GetFillsByBrokerOrderID(ctx, o.ID)
			if err == nil && len(existing) == 0 {
				if err := p.Store.CreateFill(ctx, &store.Fill{
					BrokerOrderID: o.ID,
					OrderID:       o.ID,
					Symbol:        o.Symbol,
					Side:          string(o.Side),
					Qty:           o.FilledQty,
					Price:         o.FilledAvgPrice,
					OccurredAt:    *o.FilledAt,
					RawJSON:       o.RawJSON,
				}); err != nil {
					log.Error().Err(err).Str("broker_order_id", o.ID).Msg("order sync fill backfill failed")
				}
			}
		}
	}

	return fmt.Sprintf("synced %d orders", synced), nil
}

// KillSwitchPayload is the KILL_SWITCH payload shape (spec §6).
type KillSwitchPayload struct {
	ClosePositions bool `json:"closePositions,omitempty"`
}

// KillSwitch cancels all open broker orders and, if asked, best-effort
// closes every open position — individual position-close failures are
// logged, not fatal to the work item (spec §7).
func (p *Processors) KillSwitch(ctx context.Context, item *store.WorkItem) (string, error) {
	var payload KillSwitchPayload
	if item.Payload != "" {
		if err := json.Unmarshal([]byte(item.Payload), &payload); err != nil {
			return "", fmt.Errorf("validation_error: malformed KILL_SWITCH payload: %w", err)
		}
	}

	if err := p.Broker.CancelAllOrders(ctx); err != nil {
		return "", err
	}

	closedCount, failedCount := 0, 0
	if payload.ClosePositions {
		positions, err := p.Broker.GetPositions(ctx)
		if err != nil {
			return "", err
		}
		for _, pos := range positions {
			if err := p.Broker.ClosePosition(ctx, pos.Symbol); err != nil {
				log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("kill switch: position close failed")
				failedCount++
				continue
			}
			closedCount++
		}
	}

	p.killSwitchActive.Store(true)
	if p.Events != nil {
		p.Events.Emit(events.Event{Name: events.OrderRejected, Status: "kill_switch", Timestamp: p.now(), Reason: "kill switch triggered"})
	}

	return fmt.Sprintf("orders canceled; positions closed=%d failed=%d", closedCount, failedCount), nil
}

// ClearKillSwitch resets the flag so KillSwitchActive reports false again.
// No other package in the core calls it; lifecycle.Controller does not
// expose it.
func (p *Processors) ClearKillSwitch() {
	p.killSwitchActive.Store(false)
}

// AssetUniverseSyncPayload is the ASSET_UNIVERSE_SYNC payload shape (spec §6).
type AssetUniverseSyncPayload struct {
	AssetClass string `json:"assetClass,omitempty"`
}

func (p *Processors) AssetUniverseSync(ctx context.Context, item *store.WorkItem) (string, error) {
	var payload AssetUniverseSyncPayload
	if item.Payload != "" {
		if err := json.Unmarshal([]byte(item.Payload), &payload); err != nil {
			return "", fmt.Errorf("validation_error: malformed ASSET_UNIVERSE_SYNC payload: %w", err)
		}
	}
	if err := p.Universe.Refresh(ctx, p.Broker, payload.AssetClass); err != nil {
		return "", err
	}
	return fmt.Sprintf("universe size=%d", p.Universe.Size()), nil
}
