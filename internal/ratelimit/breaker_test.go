package ratelimit

import (
	"context"
	"errors"
	"testing"

	"github.com/web3guy0/polybot/internal/broker"
)

func TestBreakerClient_TripsOpenAfterConsecutiveFailures(t *testing.T) {
	bc := broker.NewScriptedClient()
	bc.GetOrderFunc = func(ctx context.Context, id string) (*broker.Order, error) {
		return nil, broker.ErrRejected
	}
	c := NewBreakerClientWithSettings(bc, "test", BreakerSettings{MaxRequests: 1, ConsecutiveFailures: 2})

	for i := 0; i < 2; i++ {
		if _, err := c.GetOrder(context.Background(), "x"); !errors.Is(err, broker.ErrRejected) {
			t.Fatalf("expected the underlying error to pass through, got %v", err)
		}
	}

	// The breaker should now be open and fail fast without calling the
	// underlying client at all.
	bc.GetOrderFunc = func(ctx context.Context, id string) (*broker.Order, error) {
		t.Fatal("underlying client should not be called while the breaker is open")
		return nil, nil
	}
	if _, err := c.GetOrder(context.Background(), "x"); err == nil {
		t.Fatal("expected an open-breaker error")
	}
}

func TestBreakerClient_FailureRatioTripCondition(t *testing.T) {
	bc := broker.NewScriptedClient()
	calls := 0
	bc.GetOrderFunc = func(ctx context.Context, id string) (*broker.Order, error) {
		calls++
		if calls%2 == 0 {
			return &broker.Order{ID: id}, nil
		}
		return nil, broker.ErrRejected
	}
	c := NewBreakerClientWithSettings(bc, "ratio-test", BreakerSettings{MaxRequests: 1, FailureRatio: 0.4})

	var lastErr error
	for i := 0; i < 6; i++ {
		_, lastErr = c.GetOrder(context.Background(), "x")
	}
	// With a 50% failure rate over 6 calls and a 0.4 ratio trip, the breaker
	// must have tripped open by the end — whatever the last call's error is,
	// it must be non-nil (either the broker's own rejection or gobreaker's
	// own "breaker is open").
	if lastErr == nil {
		t.Fatal("expected the breaker to have tripped given a failure ratio above threshold")
	}
}
