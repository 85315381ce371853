package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore is the production Store implementation, backed by either
// SQLite or Postgres depending on the DSN prefix — the same dialect switch
// internal/database.New uses in the teacher codebase.
type GormStore struct {
	db      *gorm.DB
	dialect string // "postgres" or "sqlite"
}

// Open connects to dsn (a "postgres://..." URL or a SQLite file path /
// ":memory:") and migrates the schema.
func Open(dsn string) (*GormStore, error) {
	var db *gorm.DB
	var err error
	dialect := "sqlite"

	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialect = "postgres"
		db, err = gorm.Open(postgres.Open(dsn), gcfg)
	} else {
		db, err = gorm.Open(sqlite.Open(dsn), gcfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := db.AutoMigrate(&WorkItem{}, &WorkItemRun{}, &Order{}, &Fill{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	return &GormStore{db: db, dialect: dialect}, nil
}

func (s *GormStore) sqlDB() (*sql.DB, error) {
	return s.db.DB()
}

func (s *GormStore) CreateWorkItem(ctx context.Context, item *WorkItem) (*WorkItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.MaxAttempts == 0 {
		item.MaxAttempts = DefaultMaxAttempts
	}
	if item.Status == "" {
		item.Status = StatusPending
	}

	if item.IdempotencyKey == "" {
		if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
			return nil, fmt.Errorf("create work item: %w", err)
		}
		return item, nil
	}

	sqlDB, err := s.sqlDB()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var insertSQL string
	if s.dialect == "postgres" {
		insertSQL = `INSERT INTO work_items
			(id, type, payload, idempotency_key, status, attempts, max_attempts, next_run_at, last_error, result, broker_order_id, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (idempotency_key) DO NOTHING`
	} else {
		insertSQL = `INSERT OR IGNORE INTO work_items
			(id, type, payload, idempotency_key, status, attempts, max_attempts, next_run_at, last_error, result, broker_order_id, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`
	}

	res, err := sqlDB.ExecContext(ctx, insertSQL,
		item.ID, item.Type, item.Payload, item.IdempotencyKey, item.Status,
		item.Attempts, item.MaxAttempts, item.NextRunAt, item.LastError,
		item.Result, item.BrokerOrderID, now, now)
	if err != nil {
		return nil, fmt.Errorf("create work item: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 1 {
		item.CreatedAt, item.UpdatedAt = now, now
		return item, nil
	}

	// Lost the race (or a prior insert already exists): return the existing row.
	return s.GetWorkItemByIdempotencyKey(ctx, item.IdempotencyKey)
}

func (s *GormStore) GetWorkItem(ctx context.Context, id string) (*WorkItem, error) {
	var w WorkItem
	if err := s.db.WithContext(ctx).First(&w, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &w, nil
}

func (s *GormStore) GetWorkItemByIdempotencyKey(ctx context.Context, key string) (*WorkItem, error) {
	var w WorkItem
	if err := s.db.WithContext(ctx).First(&w, "idempotency_key = ?", key).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &w, nil
}

// ClaimNextWorkItem implements the store's one non-trivial contract as a
// single UPDATE ... RETURNING statement: a compare-and-set on status that
// is portable across SQLite and Postgres (spec §4.1 explicitly allows this
// in place of row-level locking).
func (s *GormStore) ClaimNextWorkItem(ctx context.Context, types []WorkItemType, now time.Time) (*WorkItem, error) {
	sqlDB, err := s.sqlDB()
	if err != nil {
		return nil, err
	}

	// args is built in the exact order placeholders appear in the query
	// text below: required for SQLite's positional "?" binding, and kept
	// consistent for Postgres's "$N" binding too.
	var args []interface{}
	nextPlaceholder := func(v interface{}) string {
		args = append(args, v)
		return placeholder(s.dialect, len(args))
	}

	pStatus := nextPlaceholder(StatusClaimed)
	pUpdatedAt := nextPlaceholder(now)
	pNow := nextPlaceholder(now)

	var whereType string
	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = nextPlaceholder(t)
		}
		whereType = " AND type IN (" + strings.Join(placeholders, ",") + ")"
	}

	query := fmt.Sprintf(`UPDATE work_items SET status = %s, updated_at = %s
		WHERE id = (
			SELECT id FROM work_items
			WHERE status = 'PENDING' AND next_run_at <= %s%s
			ORDER BY next_run_at ASC LIMIT 1
		)
		RETURNING id, type, payload, idempotency_key, status, attempts, max_attempts,
			next_run_at, last_error, result, broker_order_id, created_at, updated_at`,
		pStatus, pUpdatedAt, pNow, whereType)

	row := sqlDB.QueryRowContext(ctx, query, args...)

	var w WorkItem
	err = row.Scan(&w.ID, &w.Type, &w.Payload, &w.IdempotencyKey, &w.Status, &w.Attempts,
		&w.MaxAttempts, &w.NextRunAt, &w.LastError, &w.Result, &w.BrokerOrderID,
		&w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next work item: %w", err)
	}
	return &w, nil
}

// placeholder renders a positional parameter marker for the given 1-based
// index, using Postgres $N syntax or SQLite/MySQL-style ? depending on dialect.
func placeholder(dialect string, idx int) string {
	if dialect == "postgres" {
		return fmt.Sprintf("$%d", idx)
	}
	return "?"
}

func (s *GormStore) UpdateWorkItem(ctx context.Context, id string, patch Patch) (*WorkItem, error) {
	updates := map[string]interface{}{"updated_at": time.Now()}
	if patch.Status != nil {
		updates["status"] = *patch.Status
	}
	if patch.Attempts != nil {
		updates["attempts"] = *patch.Attempts
	}
	if patch.NextRunAt != nil {
		updates["next_run_at"] = *patch.NextRunAt
	}
	if patch.LastError != nil {
		updates["last_error"] = *patch.LastError
	}
	if patch.Result != nil {
		updates["result"] = *patch.Result
	}
	if patch.BrokerOrderID != nil {
		updates["broker_order_id"] = *patch.BrokerOrderID
	}

	if err := s.db.WithContext(ctx).Model(&WorkItem{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update work item: %w", err)
	}
	return s.GetWorkItem(ctx, id)
}

func (s *GormStore) GetWorkItemCount(ctx context.Context, status WorkItemStatus, typ *WorkItemType) (int, error) {
	q := s.db.WithContext(ctx).Model(&WorkItem{}).Where("status = ?", status)
	if typ != nil {
		q = q.Where("type = ?", *typ)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *GormStore) GetWorkItems(ctx context.Context, limit int, status *WorkItemStatus) ([]*WorkItem, error) {
	q := s.db.WithContext(ctx).Order("created_at ASC")
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var items []*WorkItem
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *GormStore) CreateWorkItemRun(ctx context.Context, run *WorkItemRun) error {
	return s.db.WithContext(ctx).Create(run).Error
}

func (s *GormStore) UpsertOrderByBrokerOrderID(ctx context.Context, brokerOrderID string, data *Order) (*Order, error) {
	data.BrokerOrderID = brokerOrderID
	data.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(data).Error; err != nil {
		return nil, fmt.Errorf("upsert order: %w", err)
	}
	return data, nil
}

func (s *GormStore) GetOrderByBrokerOrderID(ctx context.Context, brokerOrderID string) (*Order, error) {
	var o Order
	if err := s.db.WithContext(ctx).First(&o, "broker_order_id = ?", brokerOrderID).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &o, nil
}

func (s *GormStore) GetOrderByID(ctx context.Context, brokerOrderID string) (*Order, error) {
	return s.GetOrderByBrokerOrderID(ctx, brokerOrderID)
}

func (s *GormStore) GetOrdersByStatus(ctx context.Context, status OrderStatus) ([]*Order, error) {
	var out []*Order
	if err := s.db.WithContext(ctx).Where("status = ?", status).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) GetRecentOrders(ctx context.Context, limit int) ([]*Order, error) {
	q := s.db.WithContext(ctx).Order("submitted_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*Order
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) CreateFill(ctx context.Context, fill *Fill) error {
	return s.db.WithContext(ctx).Create(fill).Error
}

func (s *GormStore) GetFillsByOrderID(ctx context.Context, orderID string) ([]*Fill, error) {
	var out []*Fill
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) GetFillsByBrokerOrderID(ctx context.Context, brokerOrderID string) ([]*Fill, error) {
	var out []*Fill
	if err := s.db.WithContext(ctx).Where("broker_order_id = ?", brokerOrderID).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) GetFillsByOrderIDs(ctx context.Context, orderIDs []string) (map[string][]*Fill, error) {
	var fills []*Fill
	if err := s.db.WithContext(ctx).Where("order_id IN ?", orderIDs).Find(&fills).Error; err != nil {
		return nil, err
	}
	out := make(map[string][]*Fill)
	for _, f := range fills {
		out[f.OrderID] = append(out[f.OrderID], f)
	}
	return out, nil
}

func wrapNotFound(err error) error {
	if err == gorm.ErrRecordNotFound {
		return fmt.Errorf("%w", ErrNotFound)
	}
	return err
}
