package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/web3guy0/polybot/internal/broker"
	"github.com/web3guy0/polybot/internal/clock"
)

func durationMs(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// RateLimitedClient gates every outgoing broker.Client call through a Limiter
// keyed by (method name, CallerRole) before delegating to the wrapped
// client, per spec §5: "outgoing broker calls pass through a rate-limit
// check... On refusal the call returns a structured {allowed:false, waitMs,
// reason} and the caller blocks for waitMs." The blocking sleep here is
// itself cancellable via clock.SleepContext rather than a bare time.Sleep,
// so a shutdown signal still interrupts it.
type RateLimitedClient struct {
	Inner      broker.Client
	Limiter    *Limiter
	Clock      clock.Clock
	CallerRole string // default "engine" when unset
}

func NewRateLimitedClient(inner broker.Client, limiter *Limiter, clk clock.Clock, callerRole string) *RateLimitedClient {
	if callerRole == "" {
		callerRole = "engine"
	}
	return &RateLimitedClient{Inner: inner, Limiter: limiter, Clock: clk, CallerRole: callerRole}
}

// gate blocks until tool is allowed to run, or ctx is canceled first.
func (c *RateLimitedClient) gate(ctx context.Context, tool string) error {
	for {
		d := c.Limiter.Check(tool, c.CallerRole)
		if d.Allowed {
			return nil
		}
		if err := clock.SleepContext(ctx, c.Clock, durationMs(d.WaitMs)); err != nil {
			return fmt.Errorf("rate limited: %s: %w", d.Reason, err)
		}
	}
}

func (c *RateLimitedClient) CreateOrder(ctx context.Context, req broker.OrderRequest) (*broker.Order, error) {
	if err := c.gate(ctx, "createOrder"); err != nil {
		return nil, err
	}
	return c.Inner.CreateOrder(ctx, req)
}

func (c *RateLimitedClient) GetOrder(ctx context.Context, id string) (*broker.Order, error) {
	if err := c.gate(ctx, "getOrder"); err != nil {
		return nil, err
	}
	return c.Inner.GetOrder(ctx, id)
}

func (c *RateLimitedClient) GetOrders(ctx context.Context, status broker.OrderStatusFilter, limit int) ([]*broker.Order, error) {
	if err := c.gate(ctx, "getOrders"); err != nil {
		return nil, err
	}
	return c.Inner.GetOrders(ctx, status, limit)
}

func (c *RateLimitedClient) CancelOrder(ctx context.Context, id string) error {
	if err := c.gate(ctx, "cancelOrder"); err != nil {
		return err
	}
	return c.Inner.CancelOrder(ctx, id)
}

func (c *RateLimitedClient) CancelAllOrders(ctx context.Context) error {
	if err := c.gate(ctx, "cancelAllOrders"); err != nil {
		return err
	}
	return c.Inner.CancelAllOrders(ctx)
}

func (c *RateLimitedClient) GetPositions(ctx context.Context) ([]*broker.Position, error) {
	if err := c.gate(ctx, "getPositions"); err != nil {
		return nil, err
	}
	return c.Inner.GetPositions(ctx)
}

func (c *RateLimitedClient) ClosePosition(ctx context.Context, symbol string) error {
	if err := c.gate(ctx, "closePosition"); err != nil {
		return err
	}
	return c.Inner.ClosePosition(ctx, symbol)
}

func (c *RateLimitedClient) GetSnapshots(ctx context.Context, symbols []string) (map[string]broker.Snapshot, error) {
	if err := c.gate(ctx, "getSnapshots"); err != nil {
		return nil, err
	}
	return c.Inner.GetSnapshots(ctx, symbols)
}

func (c *RateLimitedClient) GetMarketStatus(ctx context.Context) (*broker.MarketStatus, error) {
	if err := c.gate(ctx, "getMarketStatus"); err != nil {
		return nil, err
	}
	return c.Inner.GetMarketStatus(ctx)
}

func (c *RateLimitedClient) GetAssets(ctx context.Context, assetClass string) ([]broker.Asset, error) {
	if err := c.gate(ctx, "getAssets"); err != nil {
		return nil, err
	}
	return c.Inner.GetAssets(ctx, assetClass)
}

var _ broker.Client = (*RateLimitedClient)(nil)
