package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

// AlpacaAdapter translates the Client contract to Alpaca's REST vocabulary.
// It owns no retry or rate-limit logic itself — internal/ratelimit and
// internal/execution wrap it for that.
type AlpacaAdapter struct {
	trading *alpaca.Client
	data    *marketdata.Client
}

func NewAlpacaAdapter(apiKey, apiSecret, baseURL string) *AlpacaAdapter {
	trading := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	data := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	})
	return &AlpacaAdapter{trading: trading, data: data}
}

func (a *AlpacaAdapter) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	areq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Side:          alpaca.Side(req.Side),
		Type:          alpaca.OrderType(req.Type),
		TimeInForce:   alpaca.TimeInForce(req.TimeInForce),
		ExtendedHours: req.ExtendedHours,
		ClientOrderID: req.ClientOrderID,
	}
	if req.Qty != nil {
		areq.Qty = req.Qty
	}
	if req.Notional != nil {
		areq.Notional = req.Notional
	}
	if req.LimitPrice != nil {
		areq.LimitPrice = req.LimitPrice
	}
	if req.StopPrice != nil {
		areq.StopPrice = req.StopPrice
	}
	if req.TrailPercent != nil {
		areq.TrailPercent = req.TrailPercent
	}
	if req.TrailPrice != nil {
		areq.TrailPrice = req.TrailPrice
	}
	if req.OrderClass != "" {
		areq.OrderClass = alpaca.OrderClass(req.OrderClass)
	}
	if req.TakeProfit != nil {
		areq.TakeProfit = &alpaca.TakeProfit{LimitPrice: req.TakeProfit}
	}
	if req.StopLoss != nil {
		areq.StopLoss = &alpaca.StopLoss{StopPrice: req.StopLoss}
	}

	ao, err := a.trading.PlaceOrder(areq)
	if err != nil {
		return nil, classifyAlpacaErr(err)
	}
	return fromAlpacaOrder(ao), nil
}

func (a *AlpacaAdapter) GetOrder(ctx context.Context, id string) (*Order, error) {
	ao, err := a.trading.GetOrder(id)
	if err != nil {
		return nil, classifyAlpacaErr(err)
	}
	return fromAlpacaOrder(*ao), nil
}

func (a *AlpacaAdapter) GetOrders(ctx context.Context, status OrderStatusFilter, limit int) ([]*Order, error) {
	aos, err := a.trading.GetOrders(alpaca.GetOrdersRequest{
		Status: string(status),
		Limit:  limit,
	})
	if err != nil {
		return nil, classifyAlpacaErr(err)
	}
	out := make([]*Order, 0, len(aos))
	for _, ao := range aos {
		out = append(out, fromAlpacaOrder(ao))
	}
	return out, nil
}

func (a *AlpacaAdapter) CancelOrder(ctx context.Context, id string) error {
	if err := a.trading.CancelOrder(id); err != nil {
		return classifyAlpacaErr(err)
	}
	return nil
}

func (a *AlpacaAdapter) CancelAllOrders(ctx context.Context) error {
	if err := a.trading.CancelAllOrders(); err != nil {
		return classifyAlpacaErr(err)
	}
	return nil
}

func (a *AlpacaAdapter) GetPositions(ctx context.Context) ([]*Position, error) {
	aps, err := a.trading.GetPositions()
	if err != nil {
		return nil, classifyAlpacaErr(err)
	}
	out := make([]*Position, 0, len(aps))
	for _, ap := range aps {
		side := SideBuy
		if ap.Side == "short" {
			side = SideSell
		}
		out = append(out, &Position{
			Symbol:       ap.Symbol,
			Qty:          ap.Qty,
			Side:         side,
			AvgEntry:     ap.AvgEntryPrice,
			MarketValue:  ap.MarketValue,
			UnrealizedPL: ap.UnrealizedPL,
		})
	}
	return out, nil
}

func (a *AlpacaAdapter) ClosePosition(ctx context.Context, symbol string) error {
	_, err := a.trading.ClosePosition(symbol, alpaca.ClosePositionRequest{})
	if err != nil {
		return classifyAlpacaErr(err)
	}
	return nil
}

func (a *AlpacaAdapter) GetSnapshots(ctx context.Context, symbols []string) (map[string]Snapshot, error) {
	snaps, err := a.data.GetSnapshots(symbols, marketdata.GetSnapshotRequest{})
	if err != nil {
		return nil, classifyAlpacaErr(err)
	}
	out := make(map[string]Snapshot, len(snaps))
	for sym, s := range snaps {
		if s == nil {
			continue
		}
		snap := Snapshot{}
		if s.LatestTrade != nil {
			snap.LatestTradePrice = decimal.NewFromFloat(s.LatestTrade.Price)
		}
		if s.LatestQuote != nil {
			snap.LatestQuote = Quote{
				BidPrice: decimal.NewFromFloat(s.LatestQuote.BidPrice),
				AskPrice: decimal.NewFromFloat(s.LatestQuote.AskPrice),
			}
		}
		out[sym] = snap
	}
	return out, nil
}

func (a *AlpacaAdapter) GetMarketStatus(ctx context.Context) (*MarketStatus, error) {
	clock, err := a.trading.GetClock()
	if err != nil {
		return nil, classifyAlpacaErr(err)
	}
	session := "closed"
	if clock.IsOpen {
		session = "regular"
	}
	return &MarketStatus{
		IsOpen:          clock.IsOpen,
		Session:         session,
		IsExtendedHours: false,
	}, nil
}

func (a *AlpacaAdapter) GetAssets(ctx context.Context, assetClass string) ([]Asset, error) {
	req := alpaca.GetAssetsRequest{Status: "active"}
	if assetClass != "" {
		req.AssetClass = assetClass
	}
	aas, err := a.trading.GetAssets(req)
	if err != nil {
		return nil, classifyAlpacaErr(err)
	}
	out := make([]Asset, 0, len(aas))
	for _, aa := range aas {
		out = append(out, Asset{
			Symbol:       aa.Symbol,
			Class:        string(aa.Class),
			Tradable:     aa.Tradable,
			Fractionable: aa.Fractionable,
			Marginable:   aa.Marginable,
		})
	}
	return out, nil
}

func fromAlpacaOrder(ao alpaca.Order) *Order {
	o := &Order{
		ID:            ao.ID,
		ClientOrderID: ao.ClientOrderID,
		Symbol:        ao.Symbol,
		Side:          Side(ao.Side),
		Type:          OrderType(ao.Type),
		TimeInForce:   TimeInForce(ao.TimeInForce),
		Status:        OrderStatus(ao.Status),
		SubmittedAt:   ao.SubmittedAt,
		UpdatedAt:     ao.UpdatedAt,
		FilledAt:      ao.FilledAt,
	}
	if ao.Qty != nil {
		o.Qty = *ao.Qty
	}
	if ao.Notional != nil {
		o.Notional = *ao.Notional
	}
	if ao.LimitPrice != nil {
		o.LimitPrice = *ao.LimitPrice
	}
	if ao.StopPrice != nil {
		o.StopPrice = *ao.StopPrice
	}
	o.FilledQty = ao.FilledQty
	if ao.FilledAvgPrice != nil {
		o.FilledAvgPrice = *ao.FilledAvgPrice
	}
	return o
}

// classifyAlpacaErr normalizes Alpaca's API error text into the sentinel
// vocabulary internal/classify's pattern sets recognize.
func classifyAlpacaErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient"):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	case strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case strings.Contains(msg, "asset") && strings.Contains(msg, "not tradable"):
		return fmt.Errorf("%w: %v", ErrInvalidSymbol, err)
	case strings.Contains(msg, "market is closed"):
		return fmt.Errorf("%w: %v", ErrMarketClosed, err)
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	default:
		return err
	}
}
