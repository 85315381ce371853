package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store implementation for unit and property
// tests, per the dependency-injection design note in spec §9 ("substitute
// an in-memory store and a scripted broker").
type MemoryStore struct {
	mu sync.Mutex

	items     map[string]*WorkItem
	idemIndex map[string]string // idempotencyKey -> WorkItem.ID
	runs      []*WorkItemRun

	orders map[string]*Order // brokerOrderID -> Order
	fills  []*Fill
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:     make(map[string]*WorkItem),
		idemIndex: make(map[string]string),
		orders:    make(map[string]*Order),
	}
}

func cloneWorkItem(w *WorkItem) *WorkItem {
	c := *w
	return &c
}

func (s *MemoryStore) CreateWorkItem(ctx context.Context, item *WorkItem) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.IdempotencyKey != "" {
		if existingID, ok := s.idemIndex[item.IdempotencyKey]; ok {
			return cloneWorkItem(s.items[existingID]), nil
		}
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.MaxAttempts == 0 {
		item.MaxAttempts = DefaultMaxAttempts
	}
	if item.Status == "" {
		item.Status = StatusPending
	}
	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now

	stored := cloneWorkItem(item)
	s.items[stored.ID] = stored
	if stored.IdempotencyKey != "" {
		s.idemIndex[stored.IdempotencyKey] = stored.ID
	}
	return cloneWorkItem(stored), nil
}

func (s *MemoryStore) GetWorkItem(ctx context.Context, id string) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("work item %s: %w", id, ErrNotFound)
	}
	return cloneWorkItem(w), nil
}

func (s *MemoryStore) GetWorkItemByIdempotencyKey(ctx context.Context, key string) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.idemIndex[key]
	if !ok {
		return nil, fmt.Errorf("work item with key %s: %w", key, ErrNotFound)
	}
	return cloneWorkItem(s.items[id]), nil
}

// ClaimNextWorkItem atomically selects and claims the earliest-due PENDING
// item whose type is in types (or any type when types is empty). The
// mutex held for the whole read-modify-write makes this the in-process
// equivalent of the store's compare-and-set requirement (invariant I1/P4).
func (s *MemoryStore) ClaimNextWorkItem(ctx context.Context, types []WorkItemType, now time.Time) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed := map[WorkItemType]bool{}
	for _, t := range types {
		allowed[t] = true
	}

	var candidates []*WorkItem
	for _, w := range s.items {
		if w.Status != StatusPending {
			continue
		}
		if w.NextRunAt.After(now) {
			continue
		}
		if len(allowed) > 0 && !allowed[w.Type] {
			continue
		}
		candidates = append(candidates, w)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NextRunAt.Before(candidates[j].NextRunAt)
	})

	claimed := candidates[0]
	claimed.Status = StatusClaimed
	claimed.UpdatedAt = now
	return cloneWorkItem(claimed), nil
}

func (s *MemoryStore) UpdateWorkItem(ctx context.Context, id string, patch Patch) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("work item %s: %w", id, ErrNotFound)
	}
	applyPatch(w, patch)
	w.UpdatedAt = time.Now()
	return cloneWorkItem(w), nil
}

func applyPatch(w *WorkItem, patch Patch) {
	if patch.Status != nil {
		w.Status = *patch.Status
	}
	if patch.Attempts != nil {
		w.Attempts = *patch.Attempts
	}
	if patch.NextRunAt != nil {
		w.NextRunAt = *patch.NextRunAt
	}
	if patch.LastError != nil {
		w.LastError = *patch.LastError
	}
	if patch.Result != nil {
		w.Result = *patch.Result
	}
	if patch.BrokerOrderID != nil {
		w.BrokerOrderID = *patch.BrokerOrderID
	}
}

func (s *MemoryStore) GetWorkItemCount(ctx context.Context, status WorkItemStatus, typ *WorkItemType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.items {
		if w.Status != status {
			continue
		}
		if typ != nil && w.Type != *typ {
			continue
		}
		n++
	}
	return n, nil
}

func (s *MemoryStore) GetWorkItems(ctx context.Context, limit int, status *WorkItemStatus) ([]*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*WorkItem
	for _, w := range s.items {
		if status != nil && w.Status != *status {
			continue
		}
		out = append(out, cloneWorkItem(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateWorkItemRun(ctx context.Context, run *WorkItemRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.ID = uint(len(s.runs) + 1)
	run.CreatedAt = time.Now()
	cp := *run
	s.runs = append(s.runs, &cp)
	return nil
}

// Runs returns a copy of the recorded WorkItemRun log, for assertions in
// tests.
func (s *MemoryStore) Runs() []*WorkItemRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*WorkItemRun, len(s.runs))
	copy(out, s.runs)
	return out
}

func (s *MemoryStore) UpsertOrderByBrokerOrderID(ctx context.Context, brokerOrderID string, data *Order) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data.BrokerOrderID = brokerOrderID
	data.UpdatedAt = time.Now()
	cp := *data
	s.orders[brokerOrderID] = &cp
	out := *data
	return &out, nil
}

func (s *MemoryStore) GetOrderByBrokerOrderID(ctx context.Context, brokerOrderID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[brokerOrderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", brokerOrderID, ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) GetOrderByID(ctx context.Context, brokerOrderID string) (*Order, error) {
	return s.GetOrderByBrokerOrderID(ctx, brokerOrderID)
}

func (s *MemoryStore) GetOrdersByStatus(ctx context.Context, status OrderStatus) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Order
	for _, o := range s.orders {
		if o.Status == status {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetRecentOrders(ctx context.Context, limit int) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Order
	for _, o := range s.orders {
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateFill(ctx context.Context, fill *Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fill.ID = uint(len(s.fills) + 1)
	cp := *fill
	s.fills = append(s.fills, &cp)
	return nil
}

func (s *MemoryStore) GetFillsByOrderID(ctx context.Context, orderID string) ([]*Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Fill
	for _, f := range s.fills {
		if f.OrderID == orderID {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetFillsByBrokerOrderID(ctx context.Context, brokerOrderID string) ([]*Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Fill
	for _, f := range s.fills {
		if f.BrokerOrderID == brokerOrderID {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetFillsByOrderIDs(ctx context.Context, orderIDs []string) (map[string][]*Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[string]bool{}
	for _, id := range orderIDs {
		want[id] = true
	}
	out := make(map[string][]*Fill)
	for _, f := range s.fills {
		if want[f.OrderID] {
			cp := *f
			out[f.OrderID] = append(out[f.OrderID], &cp)
		}
	}
	return out, nil
}
