package execution

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/broker"
	"github.com/web3guy0/polybot/internal/clock"
	"github.com/web3guy0/polybot/internal/events"
	"github.com/web3guy0/polybot/internal/validate"
)

type fakeUniverse map[string]validate.Asset

func (f fakeUniverse) Lookup(symbol string) (validate.Asset, bool) {
	a, ok := f[symbol]
	return a, ok
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Emit(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) names() []events.Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Name
	for _, e := range r.events {
		out = append(out, e.Name)
	}
	return out
}

func dec(s string) *decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return &d
}

// pumpClock repeatedly advances a fake clock until stop fires, letting
// blocked SleepContext calls inside Run progress without real time passing.
func pumpClock(clk *clock.Fake, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			clk.Advance(time.Second)
		}
	}
}

func newEngine(b broker.Client, universe validate.Universe, clk clock.Clock, sink events.Sink) *Engine {
	return NewEngine(b, universe, clk, sink, Config{MaxSubmitRetries: 2, SubmitTimeout: 5 * time.Second, PollInterval: time.Second, MonitorBudget: 10 * time.Second})
}

func TestEngine_HappyPathMarketBuyFillsImmediately(t *testing.T) {
	bc := broker.NewScriptedClient()
	bc.CreateOrderFunc = func(ctx context.Context, req broker.OrderRequest) (*broker.Order, error) {
		now := time.Now()
		o := &broker.Order{
			ID: "b1", ClientOrderID: req.ClientOrderID, Symbol: req.Symbol, Side: req.Side,
			Type: req.Type, Qty: *req.Qty, FilledQty: *req.Qty, FilledAvgPrice: decimal.NewFromFloat(150.10),
			Status: broker.OrderStatusFilled, SubmittedAt: now, FilledAt: &now,
		}
		bc.SetOrder(o)
		return o, nil
	}
	universe := fakeUniverse{"AAPL": {Tradable: true}}
	clk := clock.NewFake(time.Now())
	sink := &recordingSink{}
	eng := newEngine(bc, universe, clk, sink)

	req := Request{ClientOrderID: "c1", Symbol: "AAPL", Side: broker.SideBuy, Type: broker.OrderTypeMarket, TimeInForce: broker.TIFDay, Qty: dec("10")}
	out, err := eng.Run(context.Background(), req, decimal.NewFromFloat(150), &broker.MarketStatus{IsOpen: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State != StateFilled {
		t.Fatalf("expected filled, got %s", out.State)
	}
	names := sink.names()
	if len(names) != 2 || names[0] != events.OrderSubmitted || names[1] != events.OrderFilled {
		t.Fatalf("unexpected event sequence: %v", names)
	}
}

func TestEngine_TransientFailureThenSuccess(t *testing.T) {
	bc := broker.NewScriptedClient()
	filledOrder := &broker.Order{
		ID: "b2", ClientOrderID: "c2", Status: broker.OrderStatusFilled,
		FilledQty: *dec("5"), FilledAvgPrice: decimal.NewFromFloat(20),
	}
	bc.CreateOrderSequence = []broker.ScriptedCreateOrderResult{
		{Err: broker.ErrRateLimited},
		{Order: filledOrder},
	}
	universe := fakeUniverse{"XYZ": {Tradable: true}}
	clk := clock.NewFake(time.Now())
	sink := &recordingSink{}
	eng := newEngine(bc, universe, clk, sink)

	stop := make(chan struct{})
	go pumpClock(clk, stop)
	defer close(stop)

	req := Request{ClientOrderID: "c2", Symbol: "XYZ", Side: broker.SideBuy, Type: broker.OrderTypeMarket, TimeInForce: broker.TIFDay, Qty: dec("5")}
	out, err := eng.Run(context.Background(), req, decimal.NewFromFloat(20), &broker.MarketStatus{IsOpen: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State != StateFilled {
		t.Fatalf("expected filled after retry, got %s: %+v", out.State, out)
	}
}

func TestEngine_InsufficientFundsHalvesAndRetries(t *testing.T) {
	bc := broker.NewScriptedClient()
	var sawQty atomic.Value
	bc.CreateOrderFunc = func(ctx context.Context, req broker.OrderRequest) (*broker.Order, error) {
		sawQty.Store(req.Qty.String())
		if req.Qty.Equal(*dec("10")) {
			return nil, broker.ErrInsufficientFunds
		}
		now := time.Now()
		o := &broker.Order{
			ID: "b3", ClientOrderID: req.ClientOrderID, Qty: *req.Qty, FilledQty: *req.Qty,
			FilledAvgPrice: decimal.NewFromFloat(30), Status: broker.OrderStatusFilled, SubmittedAt: now, FilledAt: &now,
		}
		bc.SetOrder(o)
		return o, nil
	}
	universe := fakeUniverse{"ABC": {Tradable: true}}
	clk := clock.NewFake(time.Now())
	sink := &recordingSink{}
	eng := newEngine(bc, universe, clk, sink)

	req := Request{ClientOrderID: "c3", Symbol: "ABC", Side: broker.SideBuy, Type: broker.OrderTypeMarket, TimeInForce: broker.TIFDay, Qty: dec("10")}
	out, err := eng.Run(context.Background(), req, decimal.NewFromFloat(30), &broker.MarketStatus{IsOpen: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Adjusted {
		t.Fatal("expected Adjusted to be true after insufficient-funds recovery")
	}
	if sawQty.Load().(string) != "5" {
		t.Fatalf("expected halved qty of 5, last attempted qty was %v", sawQty.Load())
	}
}

func TestEngine_BracketOrderTIFCorrectedToDay(t *testing.T) {
	bc := broker.NewScriptedClient()
	var gotTIF broker.TimeInForce
	bc.CreateOrderFunc = func(ctx context.Context, req broker.OrderRequest) (*broker.Order, error) {
		gotTIF = req.TimeInForce
		now := time.Now()
		o := &broker.Order{ID: "b4", ClientOrderID: req.ClientOrderID, Status: broker.OrderStatusFilled, FilledQty: *req.Qty, SubmittedAt: now, FilledAt: &now}
		bc.SetOrder(o)
		return o, nil
	}
	universe := fakeUniverse{"AAPL": {Tradable: true}}
	clk := clock.NewFake(time.Now())
	eng := newEngine(bc, universe, clk, &recordingSink{})

	req := Request{
		ClientOrderID: "c4", Symbol: "AAPL", Side: broker.SideBuy, Type: broker.OrderTypeMarket,
		TimeInForce: broker.TIFGTC, Qty: dec("10"), OrderClass: broker.OrderClassBracket,
		TakeProfit: dec("160"), StopLoss: dec("140"),
	}
	out, err := eng.Run(context.Background(), req, decimal.NewFromFloat(150), &broker.MarketStatus{IsOpen: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotTIF != broker.TIFDay {
		t.Fatalf("expected bracket TIF corrected to day, broker received %q", gotTIF)
	}
	found := false
	for _, w := range out.Warnings {
		if w != "" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a warning recorded for the TIF correction")
	}
}

func TestEngine_SellDuplicateGuardAdoptsExistingOpenOrder(t *testing.T) {
	bc := broker.NewScriptedClient()
	existing := &broker.Order{ID: "existing-1", ClientOrderID: "dup-key", Symbol: "AAPL", Side: broker.SideSell, Status: broker.OrderStatusNew, Qty: *dec("3")}
	bc.SetOrder(existing)
	bc.GetOrdersFunc = func(ctx context.Context, status broker.OrderStatusFilter, limit int) ([]*broker.Order, error) {
		return []*broker.Order{existing}, nil
	}
	createCalled := false
	bc.CreateOrderFunc = func(ctx context.Context, req broker.OrderRequest) (*broker.Order, error) {
		createCalled = true
		return nil, broker.ErrRejected
	}
	bc.GetOrderFunc = func(ctx context.Context, id string) (*broker.Order, error) {
		cp := *existing
		cp.Status = broker.OrderStatusFilled
		cp.FilledQty = cp.Qty
		return &cp, nil
	}

	universe := fakeUniverse{} // sells bypass tradability
	clk := clock.NewFake(time.Now())
	eng := newEngine(bc, universe, clk, &recordingSink{})

	req := Request{ClientOrderID: "dup-key", Symbol: "AAPL", Side: broker.SideSell, Type: broker.OrderTypeMarket, TimeInForce: broker.TIFDay, Qty: dec("3")}
	out, err := eng.Run(context.Background(), req, decimal.NewFromFloat(150), &broker.MarketStatus{IsOpen: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if createCalled {
		t.Fatal("expected duplicate-submission guard to adopt the existing order instead of calling CreateOrder")
	}
	if out.Order.ID != "existing-1" {
		t.Fatalf("expected adopted order id, got %s", out.Order.ID)
	}
}

func TestEngine_ValidationFailureNeverReachesBroker(t *testing.T) {
	bc := broker.NewScriptedClient()
	bc.CreateOrderFunc = func(ctx context.Context, req broker.OrderRequest) (*broker.Order, error) {
		t.Fatal("CreateOrder must not be called for an invalid request")
		return nil, nil
	}
	universe := fakeUniverse{"AAPL": {Tradable: true}}
	clk := clock.NewFake(time.Now())
	eng := newEngine(bc, universe, clk, &recordingSink{})

	req := Request{ClientOrderID: "c5", Symbol: "AAPL", Side: broker.SideBuy, Type: broker.OrderTypeTrailingStop, TimeInForce: broker.TIFDay, Qty: dec("1"), TrailPercent: dec("5"), TrailPrice: dec("2")}
	out, err := eng.Run(context.Background(), req, decimal.NewFromFloat(150), &broker.MarketStatus{IsOpen: true})
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if out.State != StateFailed {
		t.Fatalf("expected failed state, got %s", out.State)
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
}

func TestEngine_MonitorTimesOutWhenOrderNeverReachesTerminal(t *testing.T) {
	bc := broker.NewScriptedClient()
	bc.CreateOrderFunc = func(ctx context.Context, req broker.OrderRequest) (*broker.Order, error) {
		o := &broker.Order{ID: "b6", ClientOrderID: req.ClientOrderID, Status: broker.OrderStatusNew, Qty: *req.Qty}
		bc.SetOrder(o)
		return o, nil
	}
	universe := fakeUniverse{"AAPL": {Tradable: true}}
	clk := clock.NewFake(time.Now())
	eng := newEngine(bc, universe, clk, &recordingSink{})
	eng.Config.MonitorBudget = 3 * time.Second
	eng.Config.PollInterval = time.Second

	stop := make(chan struct{})
	go pumpClock(clk, stop)
	defer close(stop)

	req := Request{ClientOrderID: "c6", Symbol: "AAPL", Side: broker.SideBuy, Type: broker.OrderTypeLimit, TimeInForce: broker.TIFDay, Qty: dec("1"), LimitPrice: dec("100")}
	_, err := eng.Run(context.Background(), req, decimal.NewFromFloat(150), &broker.MarketStatus{IsOpen: true})
	if err == nil {
		t.Fatal("expected monitor-budget-exhausted error")
	}
}
