package broker

import (
	"context"
	"errors"
	"testing"
)

func TestScriptedClient_CreateOrderSequence_FailThenSucceed(t *testing.T) {
	c := NewScriptedClient()
	want := &Order{ID: "b-1", ClientOrderID: "co-1", Status: OrderStatusFilled}
	c.CreateOrderSequence = []ScriptedCreateOrderResult{
		{Err: errors.New("ECONNREFUSED")},
		{Order: want},
	}

	ctx := context.Background()
	_, err := c.CreateOrder(ctx, OrderRequest{ClientOrderID: "co-1"})
	if err == nil {
		t.Fatal("expected the first scripted call to fail")
	}

	got, err := c.CreateOrder(ctx, OrderRequest{ClientOrderID: "co-1"})
	if err != nil {
		t.Fatalf("second scripted call: %v", err)
	}
	if got.ID != want.ID {
		t.Fatalf("got order %s, want %s", got.ID, want.ID)
	}
}

func TestScriptedClient_GetOrder_NotFound(t *testing.T) {
	c := NewScriptedClient()
	_, err := c.GetOrder(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestScriptedClient_CancelAllOrders_SkipsTerminal(t *testing.T) {
	c := NewScriptedClient()
	c.SetOrder(&Order{ID: "o1", Status: OrderStatusNew})
	c.SetOrder(&Order{ID: "o2", Status: OrderStatusFilled})

	if err := c.CancelAllOrders(context.Background()); err != nil {
		t.Fatal(err)
	}

	o1, _ := c.GetOrder(context.Background(), "o1")
	if o1.Status != OrderStatusCanceled {
		t.Fatalf("o1 status = %s, want canceled", o1.Status)
	}
	o2, _ := c.GetOrder(context.Background(), "o2")
	if o2.Status != OrderStatusFilled {
		t.Fatalf("o2 status = %s, should remain filled (already terminal)", o2.Status)
	}
}

func TestScriptedClient_GetMarketStatus_DefaultsOpen(t *testing.T) {
	c := NewScriptedClient()
	status, err := c.GetMarketStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !status.IsOpen {
		t.Fatal("expected default market status to be open")
	}
}
