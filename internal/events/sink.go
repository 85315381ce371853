// Package events defines the injectable event sink the core emits trade
// lifecycle notifications to (spec §6), plus a zerolog-backed sink that is
// always on and a Telegram sink adapted from the teacher's bot package.
package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Name enumerates the emitted event taxonomy (spec §6).
type Name string

const (
	OrderSubmitted Name = "trade.order.submitted"
	OrderFilled    Name = "trade.order.filled"
	OrderRejected  Name = "trade.order.rejected"
)

// Event carries at minimum the fields spec §6 requires for every emission.
type Event struct {
	Name          Name
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          string
	Qty           decimal.Decimal
	Price         decimal.Decimal
	Status        string
	Timestamp     time.Time
	Reason        string // set on OrderRejected
}

// Sink is the injectable collaborator events are published to.
type Sink interface {
	Emit(e Event)
}

// Multi fans one Emit out to several sinks, calling each non-nil sink in
// order on the caller's goroutine; a slow sink delays the ones after it, and
// a panic in one sink is not recovered.
type Multi struct {
	Sinks []Sink
}

func (m Multi) Emit(e Event) {
	for _, s := range m.Sinks {
		if s != nil {
			s.Emit(e)
		}
	}
}
