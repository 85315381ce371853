package events

import "github.com/rs/zerolog/log"

// LogSink emits every event as a structured zerolog line. It is always
// wired in alongside whatever other sinks are configured (spec §6 treats
// logging as an always-on ambient concern, not a feature toggle).
type LogSink struct{}

func (LogSink) Emit(e Event) {
	entry := log.Info()
	if e.Name == OrderRejected {
		entry = log.Warn()
	}
	entry.
		Str("event", string(e.Name)).
		Str("orderId", e.OrderID).
		Str("clientOrderId", e.ClientOrderID).
		Str("symbol", e.Symbol).
		Str("side", e.Side).
		Str("qty", e.Qty.String()).
		Str("price", e.Price.String()).
		Str("status", e.Status).
		Time("timestamp", e.Timestamp).
		Str("reason", e.Reason).
		Msg("order event")
}
