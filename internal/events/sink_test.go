package events

import "testing"

type recordingSink struct {
	events []Event
}

func (r *recordingSink) Emit(e Event) {
	r.events = append(r.events, e)
}

func TestMulti_FansOutToAllSinks(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	m := Multi{Sinks: []Sink{a, b, nil}}

	m.Emit(Event{Name: OrderSubmitted, Symbol: "AAPL"})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both sinks to receive the event, got a=%d b=%d", len(a.events), len(b.events))
	}
	if a.events[0].Symbol != "AAPL" {
		t.Fatalf("unexpected event payload: %+v", a.events[0])
	}
}

func TestLogSink_DoesNotPanicOnZeroValueEvent(t *testing.T) {
	// Exercises the decimal.Decimal zero value formatting path.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("LogSink.Emit panicked: %v", r)
		}
	}()
	LogSink{}.Emit(Event{Name: OrderFilled})
}
