package store

import (
	"context"
	"time"
)

// Store is the transactional contract the core consumes (spec §4.1). The
// claim operation is its only non-trivial requirement: implementations must
// guarantee that a single WorkItem is never returned by ClaimNextWorkItem to
// more than one caller (invariant I1/P4).
type Store interface {
	CreateWorkItem(ctx context.Context, item *WorkItem) (*WorkItem, error)
	GetWorkItem(ctx context.Context, id string) (*WorkItem, error)
	GetWorkItemByIdempotencyKey(ctx context.Context, key string) (*WorkItem, error)
	ClaimNextWorkItem(ctx context.Context, types []WorkItemType, now time.Time) (*WorkItem, error)
	UpdateWorkItem(ctx context.Context, id string, patch Patch) (*WorkItem, error)
	GetWorkItemCount(ctx context.Context, status WorkItemStatus, typ *WorkItemType) (int, error)
	GetWorkItems(ctx context.Context, limit int, status *WorkItemStatus) ([]*WorkItem, error)

	CreateWorkItemRun(ctx context.Context, run *WorkItemRun) error

	UpsertOrderByBrokerOrderID(ctx context.Context, brokerOrderID string, data *Order) (*Order, error)
	GetOrderByBrokerOrderID(ctx context.Context, brokerOrderID string) (*Order, error)
	GetOrderByID(ctx context.Context, brokerOrderID string) (*Order, error)
	GetOrdersByStatus(ctx context.Context, status OrderStatus) ([]*Order, error)
	GetRecentOrders(ctx context.Context, limit int) ([]*Order, error)

	CreateFill(ctx context.Context, fill *Fill) error
	GetFillsByOrderID(ctx context.Context, orderID string) ([]*Fill, error)
	GetFillsByBrokerOrderID(ctx context.Context, brokerOrderID string) ([]*Fill, error)
	GetFillsByOrderIDs(ctx context.Context, orderIDs []string) (map[string][]*Fill, error)
}
