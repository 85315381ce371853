package processors

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/broker"
	"github.com/web3guy0/polybot/internal/clock"
	"github.com/web3guy0/polybot/internal/execution"
	"github.com/web3guy0/polybot/internal/store"
	"github.com/web3guy0/polybot/internal/universe"
	"github.com/web3guy0/polybot/internal/validate"
)

type fakeUniverseSource map[string]validate.Asset

func (f fakeUniverseSource) Lookup(symbol string) (validate.Asset, bool) {
	a, ok := f[symbol]
	return a, ok
}

func newTestProcessors(bc broker.Client) (*Processors, *store.MemoryStore) {
	s := store.NewMemoryStore()
	clk := clock.NewFake(time.Now())
	uc := universe.NewCache()
	eng := execution.NewEngine(bc, fakeUniverseSource{"AAPL": {Tradable: true}}, clk, nil, execution.Config{})
	return &Processors{Store: s, Broker: bc, Engine: eng, Universe: uc, Clock: clk}, s
}

func TestOrderSubmit_HappyPathPersistsOrderAndFill(t *testing.T) {
	bc := broker.NewScriptedClient()
	bc.CreateOrderFunc = func(ctx context.Context, req broker.OrderRequest) (*broker.Order, error) {
		now := time.Now()
		o := &broker.Order{
			ID: "b1", ClientOrderID: req.ClientOrderID, Symbol: req.Symbol, Side: req.Side, Type: req.Type,
			Qty: *req.Qty, FilledQty: *req.Qty, FilledAvgPrice: decimal.NewFromFloat(150.25),
			Status: broker.OrderStatusFilled, SubmittedAt: now, FilledAt: &now,
		}
		bc.SetOrder(o)
		return o, nil
	}

	p, s := newTestProcessors(bc)
	payload, _ := json.Marshal(OrderSubmitPayload{Symbol: "AAPL", Side: "buy", Qty: ptr("10"), Type: "market", TimeInForce: "day"})
	item := &store.WorkItem{ID: "wi-1", Type: store.TypeOrderSubmit, Payload: string(payload), IdempotencyKey: "idem-1"}

	result, err := p.OrderSubmit(context.Background(), item)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != string(broker.OrderStatusFilled) {
		t.Fatalf("unexpected result: %s", result)
	}

	order, err := s.GetOrderByBrokerOrderID(context.Background(), "b1")
	if err != nil {
		t.Fatalf("expected order persisted: %v", err)
	}
	if !order.FilledQty.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("unexpected filled qty: %s", order.FilledQty)
	}

	fills, err := s.GetFillsByBrokerOrderID(context.Background(), "b1")
	if err != nil || len(fills) != 1 {
		t.Fatalf("expected exactly one fill, got %d err=%v", len(fills), err)
	}
}

func TestOrderSubmit_ValidationFailureNeverPersists(t *testing.T) {
	bc := broker.NewScriptedClient()
	p, s := newTestProcessors(bc)
	// MSFT is outside the test universe and this is a buy: hard validation failure (B4).
	payload, _ := json.Marshal(OrderSubmitPayload{Symbol: "MSFT", Side: "buy", Qty: ptr("1"), Type: "market", TimeInForce: "day"})
	item := &store.WorkItem{ID: "wi-2", Type: store.TypeOrderSubmit, Payload: string(payload)}

	_, err := p.OrderSubmit(context.Background(), item)
	if err == nil {
		t.Fatal("expected a validation error")
	}

	orders, _ := s.GetRecentOrders(context.Background(), 10)
	if len(orders) != 0 {
		t.Fatalf("expected no orders persisted for a validation failure, got %d", len(orders))
	}
}

func TestKillSwitch_BestEffortPositionCloseDoesNotFailItem(t *testing.T) {
	bc := broker.NewScriptedClient()
	bc.GetPositionsFunc = func(ctx context.Context) ([]*broker.Position, error) {
		return []*broker.Position{{Symbol: "AAPL"}, {Symbol: "TSLA"}}, nil
	}
	bc.ClosePositionFunc = func(ctx context.Context, symbol string) error {
		if symbol == "TSLA" {
			return broker.ErrRejected
		}
		return nil
	}
	p, _ := newTestProcessors(bc)

	payload, _ := json.Marshal(KillSwitchPayload{ClosePositions: true})
	item := &store.WorkItem{ID: "wi-3", Type: store.TypeKillSwitch, Payload: string(payload)}

	result, err := p.KillSwitch(context.Background(), item)
	if err != nil {
		t.Fatalf("kill switch must not fail on a per-position close error, got %v", err)
	}
	if !p.KillSwitchActive() {
		t.Fatal("expected killSwitchActive to be set")
	}
	t.Logf("kill switch result: %s", result)
}

func TestAssetUniverseSync_RefreshesCache(t *testing.T) {
	bc := broker.NewScriptedClient()
	bc.Assets = []broker.Asset{
		{Symbol: "AAPL", Tradable: true, Fractionable: true, Marginable: true},
		{Symbol: "GME", Tradable: false},
	}
	p, _ := newTestProcessors(bc)

	item := &store.WorkItem{ID: "wi-4", Type: store.TypeAssetUniverseSync, Payload: "{}"}
	if _, err := p.AssetUniverseSync(context.Background(), item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	asset, ok := p.Universe.Lookup("AAPL")
	if !ok || !asset.Tradable {
		t.Fatal("expected AAPL to be cached as tradable after sync")
	}
}

func TestOrderCancel_DelegatesToBroker(t *testing.T) {
	bc := broker.NewScriptedClient()
	bc.SetOrder(&broker.Order{ID: "b5", Status: broker.OrderStatusNew})
	p, _ := newTestProcessors(bc)

	payload, _ := json.Marshal(OrderCancelPayload{OrderID: "b5"})
	item := &store.WorkItem{ID: "wi-5", Type: store.TypeOrderCancel, Payload: string(payload)}

	if _, err := p.OrderCancel(context.Background(), item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func ptr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
