package ratelimit

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/web3guy0/polybot/internal/broker"
)

// BreakerClient wraps a broker.Client in a circuit breaker so a string of
// broker-side failures (timeouts, 5xx) trips open and fails fast instead of
// piling up retries against a broker that is already struggling.
type BreakerClient struct {
	inner broker.Client
	cb    *gobreaker.CircuitBreaker
}

// BreakerSettings tunes the trip condition and half-open probe volume.
// FailureRatio of 0 falls back to a plain consecutive-failure trip; set it
// to require a minimum request volume and failure ratio instead.
type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
}

func NewBreakerClient(inner broker.Client, name string) *BreakerClient {
	return NewBreakerClientWithSettings(inner, name, BreakerSettings{MaxRequests: 1, ConsecutiveFailures: 5})
}

// NewBreakerClientWithSettings is NewBreakerClient with the trip condition
// and probe parameters configurable, grounded on gobreaker.Settings' own
// documented ReadyToTrip/MaxRequests/Interval/Timeout fields.
func NewBreakerClientWithSettings(inner broker.Client, name string, s BreakerSettings) *BreakerClient {
	readyToTrip := func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= s.ConsecutiveFailures
	}
	if s.FailureRatio > 0 {
		readyToTrip = func(counts gobreaker.Counts) bool {
			return counts.Requests >= 3 && float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		}
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: readyToTrip,
	})
	return &BreakerClient{inner: inner, cb: cb}
}

func (b *BreakerClient) CreateOrder(ctx context.Context, req broker.OrderRequest) (*broker.Order, error) {
	res, err := b.cb.Execute(func() (interface{}, error) { return b.inner.CreateOrder(ctx, req) })
	if err != nil {
		return nil, err
	}
	return res.(*broker.Order), nil
}

func (b *BreakerClient) GetOrder(ctx context.Context, id string) (*broker.Order, error) {
	res, err := b.cb.Execute(func() (interface{}, error) { return b.inner.GetOrder(ctx, id) })
	if err != nil {
		return nil, err
	}
	return res.(*broker.Order), nil
}

func (b *BreakerClient) GetOrders(ctx context.Context, status broker.OrderStatusFilter, limit int) ([]*broker.Order, error) {
	res, err := b.cb.Execute(func() (interface{}, error) { return b.inner.GetOrders(ctx, status, limit) })
	if err != nil {
		return nil, err
	}
	return res.([]*broker.Order), nil
}

func (b *BreakerClient) CancelOrder(ctx context.Context, id string) error {
	_, err := b.cb.Execute(func() (interface{}, error) { return nil, b.inner.CancelOrder(ctx, id) })
	return err
}

func (b *BreakerClient) CancelAllOrders(ctx context.Context) error {
	_, err := b.cb.Execute(func() (interface{}, error) { return nil, b.inner.CancelAllOrders(ctx) })
	return err
}

func (b *BreakerClient) GetPositions(ctx context.Context) ([]*broker.Position, error) {
	res, err := b.cb.Execute(func() (interface{}, error) { return b.inner.GetPositions(ctx) })
	if err != nil {
		return nil, err
	}
	return res.([]*broker.Position), nil
}

func (b *BreakerClient) ClosePosition(ctx context.Context, symbol string) error {
	_, err := b.cb.Execute(func() (interface{}, error) { return nil, b.inner.ClosePosition(ctx, symbol) })
	return err
}

func (b *BreakerClient) GetSnapshots(ctx context.Context, symbols []string) (map[string]broker.Snapshot, error) {
	res, err := b.cb.Execute(func() (interface{}, error) { return b.inner.GetSnapshots(ctx, symbols) })
	if err != nil {
		return nil, err
	}
	return res.(map[string]broker.Snapshot), nil
}

func (b *BreakerClient) GetMarketStatus(ctx context.Context) (*broker.MarketStatus, error) {
	res, err := b.cb.Execute(func() (interface{}, error) { return b.inner.GetMarketStatus(ctx) })
	if err != nil {
		return nil, err
	}
	return res.(*broker.MarketStatus), nil
}

func (b *BreakerClient) GetAssets(ctx context.Context, assetClass string) ([]broker.Asset, error) {
	res, err := b.cb.Execute(func() (interface{}, error) { return b.inner.GetAssets(ctx, assetClass) })
	if err != nil {
		return nil, err
	}
	return res.([]broker.Asset), nil
}

var _ broker.Client = (*BreakerClient)(nil)
