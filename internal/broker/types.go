// Package broker defines the broker client contract the execution engine
// consumes (spec §6) and two implementations: an Alpaca-backed adapter for
// production and a scripted double for deterministic tests.
package broker

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderTypeMarket        OrderType = "market"
	OrderTypeLimit         OrderType = "limit"
	OrderTypeStop          OrderType = "stop"
	OrderTypeStopLimit     OrderType = "stop_limit"
	OrderTypeTrailingStop  OrderType = "trailing_stop"
)

type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFOPG TimeInForce = "opg"
	TIFCLS TimeInForce = "cls"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
)

type OrderClass string

const (
	OrderClassSimple  OrderClass = "simple"
	OrderClassBracket OrderClass = "bracket"
	OrderClassOCO     OrderClass = "oco"
	OrderClassOTO     OrderClass = "oto"
)

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPendingNew      OrderStatus = "pending_new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusReplaced        OrderStatus = "replaced"
	OrderStatusRejected        OrderStatus = "rejected"
)

// TerminalStatuses are the statuses Phase 4 monitoring treats as terminal
// (spec §4.5); partially_filled is deliberately excluded.
var TerminalStatuses = map[OrderStatus]bool{
	OrderStatusFilled:   true,
	OrderStatusCanceled: true,
	OrderStatusExpired:  true,
	OrderStatusReplaced: true,
	OrderStatusRejected: true,
}

// OrderRequest is the wire shape createOrder accepts (spec §6). Qty and
// Notional are mutually exclusive, as are TrailPercent and TrailPrice.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	TimeInForce   TimeInForce
	Qty           *decimal.Decimal
	Notional      *decimal.Decimal
	LimitPrice    *decimal.Decimal
	StopPrice     *decimal.Decimal
	TrailPercent  *decimal.Decimal
	TrailPrice    *decimal.Decimal
	ExtendedHours bool
	OrderClass    OrderClass
	TakeProfit    *decimal.Decimal // take_profit limit_price leg
	StopLoss      *decimal.Decimal // stop_loss stop_price leg
	ClientOrderID string
}

// Order is the broker's view of a submitted order.
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           Side
	Type           OrderType
	TimeInForce    TimeInForce
	OrderClass     OrderClass
	Qty            decimal.Decimal
	Notional       decimal.Decimal
	LimitPrice     decimal.Decimal
	StopPrice      decimal.Decimal
	FilledQty      decimal.Decimal
	FilledAvgPrice decimal.Decimal
	Status         OrderStatus
	SubmittedAt    time.Time
	UpdatedAt      time.Time
	FilledAt       *time.Time
	RawJSON        string
}

type OrderStatusFilter string

const (
	OrderStatusFilterOpen   OrderStatusFilter = "open"
	OrderStatusFilterClosed OrderStatusFilter = "closed"
	OrderStatusFilterAll    OrderStatusFilter = "all"
)

// Position mirrors a single open broker position.
type Position struct {
	Symbol       string
	Qty          decimal.Decimal
	Side         Side
	AvgEntry     decimal.Decimal
	MarketValue  decimal.Decimal
	UnrealizedPL decimal.Decimal
}

// Quote is the latestQuote sub-object of a snapshot.
type Quote struct {
	BidPrice decimal.Decimal
	AskPrice decimal.Decimal
}

// Snapshot is the per-symbol payload returned by getSnapshots.
type Snapshot struct {
	LatestTradePrice decimal.Decimal
	LatestQuote      Quote
}

// MarketStatus is the payload returned by getMarketStatus.
type MarketStatus struct {
	IsOpen          bool
	Session         string // "pre", "regular", "post", "closed"
	IsExtendedHours bool
}
