// Package validate implements the Order Validator (spec §4.4): schema,
// tradability, type×TIF×extended-hours, price sanity, and session checks
// over an ORDER_SUBMIT request, producing a {valid, errors[], warnings[]}
// result the execution engine's Phase 1 consumes.
package validate

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/polybot/internal/broker"
)

// Asset is the tradable-universe entry the tradability gate consults.
type Asset struct {
	Tradable     bool
	Fractionable bool
	Marginable   bool
}

// Universe resolves a symbol to its tradable-asset metadata.
type Universe interface {
	Lookup(symbol string) (Asset, bool)
}

// Request is the validator's input, matching the ORDER_SUBMIT payload
// shape (spec §6) plus the request's order class/legs.
type Request struct {
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

// Result is the validator's output.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func (r *Result) fail(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Valid = false
}

func (r *Result) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// tifMatrix is the fixed type × time-in-force matrix (spec §4.4 step 3).
var tifMatrix = map[broker.OrderType]map[broker.TimeInForce]bool{
	broker.OrderTypeMarket: {
		broker.TIFDay: true, broker.TIFOPG: true, broker.TIFCLS: true,
		broker.TIFIOC: true, broker.TIFFOK: true,
	},
	broker.OrderTypeLimit: {
		broker.TIFDay: true, broker.TIFGTC: true, broker.TIFOPG: true,
		broker.TIFCLS: true, broker.TIFIOC: true, broker.TIFFOK: true,
	},
	broker.OrderTypeStop: {
		broker.TIFDay: true, broker.TIFGTC: true,
	},
	broker.OrderTypeTrailingStop: {
		broker.TIFDay: true, broker.TIFGTC: true,
	},
	broker.OrderTypeStopLimit: {
		broker.TIFDay: true, broker.TIFGTC: true,
	},
}

// Validate runs the full validation sequence. lastTrade and status may be
// zero-valued when unavailable; the price-sanity and session steps then
// degrade to no-ops rather than producing false warnings.
func Validate(req Request, universe Universe, lastTrade decimal.Decimal, status *broker.MarketStatus) Result {
	res := Result{Valid: true}

	validateSchema(&res, req)
	if !res.Valid {
		return res
	}

	// Bracket orders are forced to day regardless of what the caller asked
	// for — the correction, not a rejection (spec B2); the engine applies
	// this same rule again defensively before submission.
	tif := req.TimeInForce
	if req.OrderClass == broker.OrderClassBracket && tif != broker.TIFDay {
		res.warn("bracket order TIF %q auto-corrected to day", tif)
		tif = broker.TIFDay
	}

	validateTradability(&res, req, universe)
	validateTIFMatrix(&res, req.Type, tif, req.ExtendedHours)
	validatePriceSanity(&res, req, lastTrade)
	validateSession(&res, req, status)

	return res
}

func validateSchema(res *Result, req Request) {
	if req.Symbol == "" {
		res.fail("symbol is required")
	}
	if req.Side != broker.SideBuy && req.Side != broker.SideSell {
		res.fail("side must be buy or sell, got %q", req.Side)
	}
	if req.Qty == nil && req.Notional == nil {
		res.fail("either qty or notional is required")
	}
	if req.Qty != nil && req.Notional != nil {
		res.fail("qty and notional are mutually exclusive")
	}

	switch req.Type {
	case broker.OrderTypeLimit, broker.OrderTypeStopLimit:
		if req.LimitPrice == nil {
			res.fail("%s order requires limit_price", req.Type)
		}
	}
	switch req.Type {
	case broker.OrderTypeStop, broker.OrderTypeStopLimit:
		if req.StopPrice == nil {
			res.fail("%s order requires stop_price", req.Type)
		}
	}
	if req.Type == broker.OrderTypeTrailingStop {
		hasPercent := req.TrailPercent != nil
		hasPrice := req.TrailPrice != nil
		if hasPercent == hasPrice {
			res.fail("trailing_stop requires exactly one of trail_percent or trail_price")
		}
		if hasPercent {
			p := *req.TrailPercent
			if p.LessThanOrEqual(decimal.Zero) || p.GreaterThan(decimal.NewFromInt(100)) {
				res.fail("trail_percent must be in (0, 100], got %s", p)
			}
		}
	}

	if req.OrderClass == broker.OrderClassBracket {
		if req.TakeProfit == nil || req.StopLoss == nil {
			res.fail("bracket orders require both take_profit and stop_loss")
		}
	}
}

func validateTradability(res *Result, req Request, universe Universe) {
	if universe == nil {
		return
	}
	asset, ok := universe.Lookup(req.Symbol)

	// Sell orders bypass the tradability gate: a position must always be
	// closeable even if the symbol was dropped from the candidate universe
	// (spec B4).
	if req.Side == broker.SideSell {
		return
	}

	if !ok || !asset.Tradable {
		res.fail("symbol %s is not in the tradable universe", req.Symbol)
		return
	}
	if req.Notional != nil && !asset.Fractionable {
		res.warn("symbol %s is not fractionable; notional orders may be rejected by the broker", req.Symbol)
	}
	if !asset.Marginable {
		res.warn("symbol %s is not marginable", req.Symbol)
	}
}

func validateTIFMatrix(res *Result, typ broker.OrderType, tif broker.TimeInForce, extendedHours bool) {
	allowed, ok := tifMatrix[typ]
	if !ok {
		res.fail("unknown order type %q", typ)
		return
	}
	if !allowed[tif] {
		res.fail("time_in_force %q is not valid for order type %q", tif, typ)
		return
	}
	if extendedHours && typ != broker.OrderTypeLimit {
		res.warn("extended_hours is only reliably honored for limit orders; %q may be ignored by the broker", typ)
	}
}

var tenPercent = decimal.NewFromFloat(0.10)

func validatePriceSanity(res *Result, req Request, lastTrade decimal.Decimal) {
	if req.OrderClass == broker.OrderClassBracket && req.TakeProfit != nil && req.StopLoss != nil {
		tp, sl := *req.TakeProfit, *req.StopLoss
		var entry decimal.Decimal
		switch {
		case req.LimitPrice != nil:
			entry = *req.LimitPrice
		case !lastTrade.IsZero():
			entry = lastTrade
		}
		if !entry.IsZero() {
			if req.Side == broker.SideBuy {
				if !(tp.GreaterThan(entry) && entry.GreaterThan(sl)) {
					res.fail("bracket leg ordering invalid for buy: require take_profit > entry > stop_loss")
				}
			} else {
				if !(sl.GreaterThan(entry) && entry.GreaterThan(tp)) {
					res.fail("bracket leg ordering invalid for sell: require stop_loss > entry > take_profit")
				}
			}
		}
	}

	if lastTrade.IsZero() {
		return
	}

	if req.StopPrice != nil {
		sp := *req.StopPrice
		if req.Side == broker.SideBuy && sp.LessThanOrEqual(lastTrade) {
			res.warn("buy stop at or below market price %s will trigger immediately", lastTrade)
		}
		if req.Side == broker.SideSell && sp.GreaterThanOrEqual(lastTrade) {
			res.warn("sell stop at or above market price %s will trigger immediately", lastTrade)
		}
	}

	if req.LimitPrice != nil && req.Type == broker.OrderTypeLimit {
		lp := *req.LimitPrice
		threshold := lastTrade.Mul(tenPercent)
		if req.Side == broker.SideBuy && lp.GreaterThan(lastTrade.Add(threshold)) {
			res.warn("buy limit %s is more than 10%% above market price %s", lp, lastTrade)
		}
		if req.Side == broker.SideSell && lp.LessThan(lastTrade.Sub(threshold)) {
			res.warn("sell limit %s is more than 10%% below market price %s", lp, lastTrade)
		}
	}
}

func validateSession(res *Result, req Request, status *broker.MarketStatus) {
	if status == nil || req.ExtendedHours {
		return
	}
	if !status.IsOpen {
		res.warn("market session is closed; day order will queue until the next session")
	}
}
