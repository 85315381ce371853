// Package execution implements the Order Execution Engine (spec §4.5): the
// five-phase state machine that drives one order submission from validation
// through monitoring to outcome analysis, generalized from the teacher's
// execution.Executor (execution/executor.go) paper/live submit-and-track loop.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/broker"
	"github.com/web3guy0/polybot/internal/classify"
	"github.com/web3guy0/polybot/internal/clock"
	"github.com/web3guy0/polybot/internal/events"
	"github.com/web3guy0/polybot/internal/validate"
)

// State is the OrderExecutionState lifecycle (spec §3/§4.5).
type State string

const (
	StatePending    State = "pending"
	StateValidating State = "validating"
	StateSubmitting State = "submitting"
	StateSubmitted  State = "submitted"
	StateMonitoring State = "monitoring"
	StateRecovering State = "recovering"
	StateFilled     State = "filled"
	StateCanceled   State = "canceled"
	StateFailed     State = "failed"
)

// Config tunes the engine's retry/monitor budgets. Zero values are replaced
// with spec defaults by NewEngine.
type Config struct {
	MaxSubmitRetries int           // default 2 (spec: "loop up to maxRetries")
	SubmitTimeout    time.Duration // per-attempt timeout, default 30s
	PollInterval     time.Duration // Phase 4 poll cadence, default 1s
	MonitorBudget    time.Duration // Phase 4 overall wall-clock budget, default 30s
}

func (c Config) withDefaults() Config {
	if c.MaxSubmitRetries <= 0 {
		c.MaxSubmitRetries = 2
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MonitorBudget <= 0 {
		c.MonitorBudget = 30 * time.Second
	}
	return c
}

// Engine drives a single order submission through the five phases. It is
// stateless across Run calls; OrderExecutionState is local to one Run.
type Engine struct {
	Broker    broker.Client
	Universe  validate.Universe
	Clock     clock.Clock
	Events    events.Sink
	Config    Config
}

func NewEngine(b broker.Client, universe validate.Universe, clk clock.Clock, sink events.Sink, cfg Config) *Engine {
	return &Engine{Broker: b, Universe: universe, Clock: clk, Events: sink, Config: cfg.withDefaults()}
}

// Request is one ORDER_SUBMIT processing unit (spec §6 payload shape).
type Request struct {
	ClientOrderID string
	Symbol        string
	Side          broker.Side
	Type          broker.OrderType
	TimeInForce   broker.TimeInForce
	Qty           *decimal.Decimal
	Notional      *decimal.Decimal
	LimitPrice    *decimal.Decimal
	StopPrice     *decimal.Decimal
	TrailPercent  *decimal.Decimal
	TrailPrice    *decimal.Decimal
	ExtendedHours bool
	OrderClass    broker.OrderClass
	TakeProfit    *decimal.Decimal
	StopLoss      *decimal.Decimal
}

// ExpectedOutcome is Phase 2's prediction (spec §4.5 table).
type ExpectedOutcome struct {
	MinPrice       decimal.Decimal
	MaxPrice       decimal.Decimal
	Immediate      bool
	EstFillTimeMs  int
}

// ActualOutcome is Phase 5's recorded result.
type ActualOutcome struct {
	Filled             bool
	FillPrice          decimal.Decimal
	FillQty            decimal.Decimal
	FillTimeMs         int64
	UnexpectedEvents   []string
}

// Outcome is what Run returns: the final broker order snapshot plus
// everything the processor needs to persist and emit.
type Outcome struct {
	State           State
	Order           *broker.Order
	Expected        ExpectedOutcome
	Actual          ActualOutcome
	Warnings        []string
	Adjusted        bool
	AdjustedNote    string
	Classification  *classify.Classification
	FinalErr        error
}

// ValidationError signals Phase 1 rejected the request; processors treat
// this as a permanent WorkItem failure (non-retryable).
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation_error: %v", e.Errors)
}

// Run drives req through all five phases.
func (e *Engine) Run(ctx context.Context, req Request, lastTrade decimal.Decimal, marketStatus *broker.MarketStatus) (*Outcome, error) {
	out := &Outcome{State: StateValidating}

	vreq := validate.Request{
		Symbol: req.Symbol, Side: req.Side, Type: req.Type, TimeInForce: req.TimeInForce,
		Qty: req.Qty, Notional: req.Notional, LimitPrice: req.LimitPrice, StopPrice: req.StopPrice,
		TrailPercent: req.TrailPercent, TrailPrice: req.TrailPrice, ExtendedHours: req.ExtendedHours,
		OrderClass: req.OrderClass, TakeProfit: req.TakeProfit, StopLoss: req.StopLoss,
	}
	vres := validate.Validate(vreq, e.Universe, lastTrade, marketStatus)
	out.Warnings = append(out.Warnings, vres.Warnings...)
	if !vres.Valid {
		out.State = StateFailed
		out.FinalErr = &ValidationError{Errors: vres.Errors}
		return out, out.FinalErr
	}

	// Bracket orders must use TIF=day; correct silently and warn (spec B2).
	tif := req.TimeInForce
	if req.OrderClass == broker.OrderClassBracket && tif != broker.TIFDay {
		out.Warnings = append(out.Warnings, fmt.Sprintf("bracket order TIF %q corrected to day", tif))
		tif = broker.TIFDay
	}
	req.TimeInForce = tif

	out.Expected = predictOutcome(req, lastTrade)

	// Sell-order duplicate-submission guard: adopt an existing open order
	// under our clientOrderId instead of submitting again.
	if adopted := e.findOpenByClientOrderID(ctx, req.ClientOrderID); adopted != nil {
		out.Order = adopted
		out.State = StateSubmitted
	} else {
		order, class, err := e.submitWithRetry(ctx, req)
		if err != nil {
			recovered, rerr := e.recover(ctx, req, class, err)
			if rerr != nil {
				out.State = StateFailed
				out.Classification = &class
				out.FinalErr = rerr
				return out, rerr
			}
			out.Order = recovered.order
			out.Adjusted = recovered.adjusted
			out.AdjustedNote = recovered.note
		} else {
			out.Order = order
		}
		out.State = StateSubmitted
	}

	if e.Events != nil {
		e.Events.Emit(events.Event{
			Name: events.OrderSubmitted, OrderID: out.Order.ID, ClientOrderID: out.Order.ClientOrderID,
			Symbol: out.Order.Symbol, Side: string(out.Order.Side), Qty: out.Order.Qty,
			Status: string(out.Order.Status), Timestamp: e.Clock.Now(),
		})
	}

	out.State = StateMonitoring
	final, err := e.monitor(ctx, out.Order.ID)
	if final != nil {
		out.Order = final
	}
	if err != nil {
		// Budget exhausted or context canceled: return the last known
		// snapshot, do not cancel the broker order (spec §5).
		out.FinalErr = err
		return out, err
	}

	e.analyzeOutcome(out)

	switch out.Order.Status {
	case broker.OrderStatusFilled:
		out.State = StateFilled
	case broker.OrderStatusCanceled:
		out.State = StateCanceled
	default:
		out.State = StateFailed
	}

	if e.Events != nil {
		name := events.OrderRejected
		if out.State == StateFilled {
			name = events.OrderFilled
		}
		e.Events.Emit(events.Event{
			Name: name, OrderID: out.Order.ID, ClientOrderID: out.Order.ClientOrderID,
			Symbol: out.Order.Symbol, Side: string(out.Order.Side), Qty: out.Order.FilledQty,
			Price: out.Order.FilledAvgPrice, Status: string(out.Order.Status), Timestamp: e.Clock.Now(),
		})
	}

	return out, nil
}

func (e *Engine) findOpenByClientOrderID(ctx context.Context, clientOrderID string) *broker.Order {
	if clientOrderID == "" {
		return nil
	}
	open, err := e.Broker.GetOrders(ctx, broker.OrderStatusFilterOpen, 200)
	if err != nil {
		return nil
	}
	for _, o := range open {
		if o.ClientOrderID == clientOrderID {
			return o
		}
	}
	return nil
}

func buildOrderRequest(req Request) broker.OrderRequest {
	return broker.OrderRequest{
		Symbol: req.Symbol, Side: req.Side, Type: req.Type, TimeInForce: req.TimeInForce,
		Qty: req.Qty, Notional: req.Notional, LimitPrice: req.LimitPrice, StopPrice: req.StopPrice,
		TrailPercent: req.TrailPercent, TrailPrice: req.TrailPrice, ExtendedHours: req.ExtendedHours,
		OrderClass: req.OrderClass, TakeProfit: req.TakeProfit, StopLoss: req.StopLoss,
		ClientOrderID: req.ClientOrderID,
	}
}

// submitWithRetry implements Phase 3.
func (e *Engine) submitWithRetry(ctx context.Context, req Request) (*broker.Order, classify.Classification, error) {
	var lastErr error
	var lastClass classify.Classification

	for attempt := 1; attempt <= e.Config.MaxSubmitRetries+1; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.Config.SubmitTimeout)
		order, err := e.Broker.CreateOrder(attemptCtx, buildOrderRequest(req))
		cancel()
		if err == nil {
			return order, classify.Classification{}, nil
		}

		lastErr = err
		lastClass = classify.Classify(err, nil)

		if !lastClass.Retryable || attempt > e.Config.MaxSubmitRetries {
			return nil, lastClass, lastErr
		}

		delay := time.Duration(lastClass.SuggestedDelayMs) * time.Millisecond * time.Duration(1<<uint(attempt-1))
		if err := clock.SleepContext(ctx, e.Clock, delay); err != nil {
			return nil, lastClass, err
		}
	}
	return nil, lastClass, lastErr
}

type recoveredSubmission struct {
	order    *broker.Order
	adjusted bool
	note     string
}

// recover implements Phase 3b.
func (e *Engine) recover(ctx context.Context, req Request, class classify.Classification, submitErr error) (*recoveredSubmission, error) {
	switch class.Recovery {
	case classify.RecoveryCheckAndSync:
		recent, err := e.Broker.GetOrders(ctx, broker.OrderStatusFilterAll, 100)
		if err == nil {
			for _, o := range recent {
				if o.ClientOrderID == req.ClientOrderID {
					return &recoveredSubmission{order: o}, nil
				}
			}
		}
		return nil, submitErr

	case classify.RecoveryAdjustAndRetry:
		if class.Kind != classify.KindInsufficientFunds {
			return nil, submitErr
		}
		adjusted := req
		note := ""
		if adjusted.Qty != nil {
			half := adjusted.Qty.Div(decimal.NewFromInt(2))
			adjusted.Qty = &half
			note = fmt.Sprintf("qty halved to %s after insufficient funds", half)
		} else if adjusted.Notional != nil {
			half := adjusted.Notional.Div(decimal.NewFromInt(2))
			adjusted.Notional = &half
			note = fmt.Sprintf("notional halved to %s after insufficient funds", half)
		} else {
			return nil, submitErr
		}
		attemptCtx, cancel := context.WithTimeout(ctx, e.Config.SubmitTimeout)
		defer cancel()
		order, err := e.Broker.CreateOrder(attemptCtx, buildOrderRequest(adjusted))
		if err != nil {
			return nil, err
		}
		return &recoveredSubmission{order: order, adjusted: true, note: note}, nil

	case classify.RecoveryWaitForMarketOpen:
		status, err := e.Broker.GetMarketStatus(ctx)
		if err != nil || (!status.IsOpen && !status.IsExtendedHours) {
			return nil, submitErr
		}
		attemptCtx, cancel := context.WithTimeout(ctx, e.Config.SubmitTimeout)
		defer cancel()
		order, err := e.Broker.CreateOrder(attemptCtx, buildOrderRequest(req))
		if err != nil {
			return nil, err
		}
		return &recoveredSubmission{order: order}, nil

	default:
		return nil, submitErr
	}
}

// monitor implements Phase 4: poll until terminal or budget exhausted.
func (e *Engine) monitor(ctx context.Context, brokerOrderID string) (*broker.Order, error) {
	deadline := e.Clock.Now().Add(e.Config.MonitorBudget)
	var last *broker.Order

	for {
		order, err := e.Broker.GetOrder(ctx, brokerOrderID)
		if err == nil {
			last = order
			if broker.TerminalStatuses[order.Status] {
				return order, nil
			}
		}

		if !e.Clock.Now().Before(deadline) {
			return last, fmt.Errorf("monitor budget exhausted for order %s", brokerOrderID)
		}

		if err := clock.SleepContext(ctx, e.Clock, e.Config.PollInterval); err != nil {
			return last, err
		}
	}
}

// analyzeOutcome implements Phase 5's comparison against the prediction.
func (e *Engine) analyzeOutcome(out *Outcome) {
	o := out.Order
	out.Actual = ActualOutcome{
		Filled:    o.Status == broker.OrderStatusFilled,
		FillPrice: o.FilledAvgPrice,
		FillQty:   o.FilledQty,
	}
	if o.FilledAt != nil {
		out.Actual.FillTimeMs = o.FilledAt.Sub(o.SubmittedAt).Milliseconds()
	}

	if out.Actual.Filled && !out.Actual.FillPrice.IsZero() {
		if out.Actual.FillPrice.LessThan(out.Expected.MinPrice) || out.Actual.FillPrice.GreaterThan(out.Expected.MaxPrice) {
			out.Actual.UnexpectedEvents = append(out.Actual.UnexpectedEvents,
				fmt.Sprintf("fill price %s outside expected range [%s, %s]", out.Actual.FillPrice, out.Expected.MinPrice, out.Expected.MaxPrice))
		}
	}

	if out.Actual.Filled && !o.Qty.IsZero() {
		threshold := o.Qty.Mul(decimal.NewFromFloat(0.99))
		if out.Actual.FillQty.LessThan(threshold) {
			out.Actual.UnexpectedEvents = append(out.Actual.UnexpectedEvents,
				fmt.Sprintf("partial fill: filled %s of requested %s", out.Actual.FillQty, o.Qty))
		}
	}

	if out.Expected.Immediate && out.Actual.FillTimeMs > int64(out.Expected.EstFillTimeMs)*10 {
		out.Actual.UnexpectedEvents = append(out.Actual.UnexpectedEvents, "fill took far longer than the immediate-fill estimate")
	}
}

// predictOutcome implements Phase 2's price/time table (spec §4.5).
func predictOutcome(req Request, lastTrade decimal.Decimal) ExpectedOutcome {
	switch req.Type {
	case broker.OrderTypeMarket:
		band := lastTrade.Mul(decimal.NewFromFloat(0.005))
		return ExpectedOutcome{MinPrice: lastTrade.Sub(band), MaxPrice: lastTrade.Add(band), Immediate: true, EstFillTimeMs: 500}

	case broker.OrderTypeLimit:
		lp := decimal.Zero
		if req.LimitPrice != nil {
			lp = *req.LimitPrice
		}
		immediate := (req.Side == broker.SideBuy && lp.GreaterThanOrEqual(lastTrade)) ||
			(req.Side == broker.SideSell && lp.LessThanOrEqual(lastTrade))
		est := 5 * 60_000
		if immediate {
			est = 1000
		}
		return ExpectedOutcome{MinPrice: lp, MaxPrice: lp, Immediate: immediate, EstFillTimeMs: est}

	case broker.OrderTypeStop:
		sp := decimal.Zero
		if req.StopPrice != nil {
			sp = *req.StopPrice
		}
		band := sp.Mul(decimal.NewFromFloat(0.01))
		return ExpectedOutcome{MinPrice: sp.Sub(band), MaxPrice: sp.Add(band), Immediate: false, EstFillTimeMs: 10 * 60_000}

	case broker.OrderTypeStopLimit:
		lp := decimal.Zero
		if req.LimitPrice != nil {
			lp = *req.LimitPrice
		}
		return ExpectedOutcome{MinPrice: lp, MaxPrice: lp, Immediate: false, EstFillTimeMs: 10 * 60_000}

	case broker.OrderTypeTrailingStop:
		band := lastTrade.Mul(decimal.NewFromFloat(0.10))
		return ExpectedOutcome{MinPrice: lastTrade.Sub(band), MaxPrice: lastTrade.Add(band), Immediate: false, EstFillTimeMs: 60 * 60_000}

	default:
		return ExpectedOutcome{}
	}
}
