package broker

import "context"

// Client is the broker collaborator the execution engine and reconciler
// consume (spec §6). It is deliberately external: production code talks to
// Alpaca through AlpacaAdapter, tests talk to a ScriptedClient.
type Client interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)
	GetOrders(ctx context.Context, status OrderStatusFilter, limit int) ([]*Order, error)
	CancelOrder(ctx context.Context, id string) error
	CancelAllOrders(ctx context.Context) error
	GetPositions(ctx context.Context) ([]*Position, error)
	ClosePosition(ctx context.Context, symbol string) error
	GetSnapshots(ctx context.Context, symbols []string) (map[string]Snapshot, error)
	GetMarketStatus(ctx context.Context) (*MarketStatus, error)
	GetAssets(ctx context.Context, assetClass string) ([]Asset, error)
}

// Asset is one entry of the broker's tradable-asset universe (spec §4.4
// step 2 / §4.6 ASSET_UNIVERSE_SYNC).
type Asset struct {
	Symbol       string
	Class        string
	Tradable     bool
	Fractionable bool
	Marginable   bool
}
