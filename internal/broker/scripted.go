package broker

import (
	"context"
	"sync"
)

// ScriptedClient is a deterministic Client double for engine tests: each
// method delegates to an optional function field, falling back to a zero
// value / ErrNotFound when unset. CreateOrderSequence lets a test script a
// sequence of responses for successive CreateOrder calls (e.g. one
// ECONNREFUSED followed by a fill) without needing a stateful closure.
type ScriptedClient struct {
	mu sync.Mutex

	CreateOrderFunc     func(ctx context.Context, req OrderRequest) (*Order, error)
	CreateOrderSequence []ScriptedCreateOrderResult
	createOrderCalls    int

	GetOrderFunc         func(ctx context.Context, id string) (*Order, error)
	GetOrdersFunc        func(ctx context.Context, status OrderStatusFilter, limit int) ([]*Order, error)
	CancelOrderFunc      func(ctx context.Context, id string) error
	CancelAllOrdersFunc  func(ctx context.Context) error
	GetPositionsFunc     func(ctx context.Context) ([]*Position, error)
	ClosePositionFunc    func(ctx context.Context, symbol string) error
	GetSnapshotsFunc     func(ctx context.Context, symbols []string) (map[string]Snapshot, error)
	GetMarketStatusFunc  func(ctx context.Context) (*MarketStatus, error)
	GetAssetsFunc        func(ctx context.Context, assetClass string) ([]Asset, error)

	// Assets is the default-behavior registry GetAssets consults when
	// GetAssetsFunc is nil.
	Assets []Asset

	// Orders is a mutable registry CreateOrder/GetOrder/GetOrders consult
	// when the corresponding *Func is nil, so tests can drive monitoring
	// loops by mutating an order's Status between polls.
	Orders map[string]*Order
}

// ScriptedCreateOrderResult is one entry in CreateOrderSequence.
type ScriptedCreateOrderResult struct {
	Order *Order
	Err   error
}

func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{Orders: make(map[string]*Order)}
}

func (c *ScriptedClient) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if c.CreateOrderFunc != nil {
		return c.CreateOrderFunc(ctx, req)
	}

	c.mu.Lock()
	call := c.createOrderCalls
	c.createOrderCalls++
	c.mu.Unlock()

	if call < len(c.CreateOrderSequence) {
		res := c.CreateOrderSequence[call]
		if res.Order != nil {
			c.mu.Lock()
			c.Orders[res.Order.ID] = res.Order
			c.mu.Unlock()
		}
		return res.Order, res.Err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Orders == nil {
		c.Orders = make(map[string]*Order)
	}
	o := &Order{
		ID:            req.ClientOrderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		Status:        OrderStatusNew,
	}
	c.Orders[o.ID] = o
	return o, nil
}

func (c *ScriptedClient) GetOrder(ctx context.Context, id string) (*Order, error) {
	if c.GetOrderFunc != nil {
		return c.GetOrderFunc(ctx, id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.Orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (c *ScriptedClient) GetOrders(ctx context.Context, status OrderStatusFilter, limit int) ([]*Order, error) {
	if c.GetOrdersFunc != nil {
		return c.GetOrdersFunc(ctx, status, limit)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Order
	for _, o := range c.Orders {
		cp := *o
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (c *ScriptedClient) CancelOrder(ctx context.Context, id string) error {
	if c.CancelOrderFunc != nil {
		return c.CancelOrderFunc(ctx, id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.Orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = OrderStatusCanceled
	return nil
}

func (c *ScriptedClient) CancelAllOrders(ctx context.Context) error {
	if c.CancelAllOrdersFunc != nil {
		return c.CancelAllOrdersFunc(ctx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.Orders {
		if !TerminalStatuses[o.Status] {
			o.Status = OrderStatusCanceled
		}
	}
	return nil
}

func (c *ScriptedClient) GetPositions(ctx context.Context) ([]*Position, error) {
	if c.GetPositionsFunc != nil {
		return c.GetPositionsFunc(ctx)
	}
	return nil, nil
}

func (c *ScriptedClient) ClosePosition(ctx context.Context, symbol string) error {
	if c.ClosePositionFunc != nil {
		return c.ClosePositionFunc(ctx, symbol)
	}
	return nil
}

func (c *ScriptedClient) GetSnapshots(ctx context.Context, symbols []string) (map[string]Snapshot, error) {
	if c.GetSnapshotsFunc != nil {
		return c.GetSnapshotsFunc(ctx, symbols)
	}
	return map[string]Snapshot{}, nil
}

func (c *ScriptedClient) GetMarketStatus(ctx context.Context) (*MarketStatus, error) {
	if c.GetMarketStatusFunc != nil {
		return c.GetMarketStatusFunc(ctx)
	}
	return &MarketStatus{IsOpen: true, Session: "regular"}, nil
}

func (c *ScriptedClient) GetAssets(ctx context.Context, assetClass string) ([]Asset, error) {
	if c.GetAssetsFunc != nil {
		return c.GetAssetsFunc(ctx, assetClass)
	}
	return c.Assets, nil
}

// SetOrder seeds or overwrites an order in the registry, for tests that
// drive Phase 4 monitoring by advancing an order's status between polls.
func (c *ScriptedClient) SetOrder(o *Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Orders == nil {
		c.Orders = make(map[string]*Order)
	}
	c.Orders[o.ID] = o
}
