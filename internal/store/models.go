// Package store defines the Work Item Store contract (spec §4.1) and the
// data model it persists (spec §3), plus two implementations: a gorm-backed
// store for production and a map-backed store for tests.
package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// WorkItemStatus is the WorkItem lifecycle status.
type WorkItemStatus string

const (
	StatusPending    WorkItemStatus = "PENDING"
	StatusClaimed    WorkItemStatus = "CLAIMED"
	StatusSucceeded  WorkItemStatus = "SUCCEEDED"
	StatusDeadLetter WorkItemStatus = "DEAD_LETTER"
)

// WorkItemType enumerates the queue's work taxonomy (spec §3).
type WorkItemType string

const (
	TypeOrderSubmit        WorkItemType = "ORDER_SUBMIT"
	TypeOrderCancel        WorkItemType = "ORDER_CANCEL"
	TypeOrderSync          WorkItemType = "ORDER_SYNC"
	TypePositionClose      WorkItemType = "POSITION_CLOSE"
	TypeKillSwitch         WorkItemType = "KILL_SWITCH"
	TypeDecisionEvaluation WorkItemType = "DECISION_EVALUATION"
	TypeAssetUniverseSync  WorkItemType = "ASSET_UNIVERSE_SYNC"
)

// DefaultMaxAttempts is the default WorkItem.MaxAttempts (spec §3).
const DefaultMaxAttempts = 3

// WorkItem is a durable unit of deferred work.
type WorkItem struct {
	ID              string `gorm:"primaryKey"`
	Type            WorkItemType
	Payload         string `gorm:"type:text"`
	IdempotencyKey  string `gorm:"uniqueIndex:idx_work_items_idem,where:idempotency_key <> ''"`
	Status          WorkItemStatus `gorm:"index:idx_work_items_claim"`
	Attempts        int
	MaxAttempts     int
	NextRunAt       time.Time `gorm:"index:idx_work_items_claim"`
	LastError       string    `gorm:"type:text"`
	Result          string    `gorm:"type:text"`
	BrokerOrderID   string    `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WorkItemRun is an append-only attempt log entry.
type WorkItemRun struct {
	ID            uint `gorm:"primaryKey;autoIncrement"`
	WorkItemID    string `gorm:"index"`
	AttemptNumber int
	Status        string
	CreatedAt     time.Time
}

// OrderStatus mirrors the broker-reported order status vocabulary (spec §6).
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusReplaced        OrderStatus = "replaced"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusPendingNew      OrderStatus = "pending_new"
)

// TerminalOrderStatuses are the statuses that end Phase 4 monitoring.
var TerminalOrderStatuses = map[OrderStatus]bool{
	OrderStatusFilled:   true,
	OrderStatusCanceled: true,
	OrderStatusExpired:  true,
	OrderStatusReplaced: true,
	OrderStatusRejected: true,
}

// Order is the local mirror of a broker order.
type Order struct {
	BrokerOrderID  string `gorm:"primaryKey"`
	ClientOrderID  string `gorm:"uniqueIndex"`
	Symbol         string `gorm:"index"`
	Side           string
	Type           string
	TimeInForce    string
	Qty            decimal.Decimal `gorm:"type:decimal(20,8)"`
	Notional       decimal.Decimal `gorm:"type:decimal(20,8)"`
	LimitPrice     decimal.Decimal `gorm:"type:decimal(20,8)"`
	StopPrice      decimal.Decimal `gorm:"type:decimal(20,8)"`
	Status         OrderStatus     `gorm:"index"`
	SubmittedAt    time.Time
	UpdatedAt      time.Time
	FilledAt       *time.Time
	FilledQty      decimal.Decimal `gorm:"type:decimal(20,8)"`
	FilledAvgPrice decimal.Decimal `gorm:"type:decimal(20,8)"`
	WorkItemID     string          `gorm:"index"`
	TraceID        string
	RawJSON        string `gorm:"type:text"`
}

// Fill is a per-execution record. Append-only.
type Fill struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	BrokerOrderID string `gorm:"index"`
	OrderID       string `gorm:"index"`
	Symbol        string
	Side          string
	Qty           decimal.Decimal `gorm:"type:decimal(20,8)"`
	Price         decimal.Decimal `gorm:"type:decimal(20,8)"`
	OccurredAt    time.Time
	RawJSON       string `gorm:"type:text"`
}

// Patch is a partial update applied to a WorkItem by UpdateWorkItem. Nil
// fields are left unchanged.
type Patch struct {
	Status        *WorkItemStatus
	Attempts      *int
	NextRunAt     *time.Time
	LastError     *string
	Result        *string
	BrokerOrderID *string
}
