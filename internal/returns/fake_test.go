package returns_test

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/accounting/accountingtest"
	"github.com/odyssey-erp/backoffice/internal/inventory/inventorytest"
	"github.com/odyssey-erp/backoffice/internal/returns"
	"github.com/odyssey-erp/backoffice/internal/settings"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// memoryRepo keeps orders and requests next to in-memory stock and ledger, rolling all three back
// together.
type memoryRepo struct {
	*inventorytest.Store
	*accountingtest.Ledger

	txMu       sync.Mutex
	orders     map[int64]returns.Order
	orderItems map[int64][]returns.OrderItem
	requests   map[int64]returns.Request
	audits     []shared.AuditLog
	nextItem   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		Store:      inventorytest.NewStore(),
		Ledger:     accountingtest.NewLedger(),
		orders:     make(map[int64]returns.Order),
		orderItems: make(map[int64][]returns.OrderItem),
		requests:   make(map[int64]returns.Request),
	}
}

func (r *memoryRepo) addOrder(o returns.Order, items ...returns.OrderItem) {
	r.orders[o.ID] = o
	for i := range items {
		items[i].OrderID = o.ID
	}
	r.orderItems[o.ID] = items
}

// putRequest stores a request as-is, bypassing Create.
func (r *memoryRepo) putRequest(req returns.Request) {
	r.requests[req.ID] = cloneRequest(req)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, returns.TxRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	restoreStock := r.Store.Checkpoint()
	restoreLedger := r.Ledger.Checkpoint()
	saved := make(map[int64]returns.Request, len(r.requests))
	for k, v := range r.requests {
		saved[k] = cloneRequest(v)
	}
	audits := append([]shared.AuditLog(nil), r.audits...)
	nextItem := r.nextItem
	if err := fn(ctx, r); err != nil {
		restoreStock()
		restoreLedger()
		r.requests, r.audits, r.nextItem = saved, audits, nextItem
		return err
	}
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (returns.Request, error) {
	req, ok := r.requests[id]
	if !ok {
		return returns.Request{}, returns.ErrRequestNotFound
	}
	return cloneRequest(req), nil
}

func (r *memoryRepo) List(_ context.Context, filter returns.ListFilter) ([]returns.Request, int, error) {
	var matched []returns.Request
	for _, req := range r.requests {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		matched = append(matched, cloneRequest(req))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	start := min(shared.Offset(filter.Page, filter.PerPage), len(matched))
	end := min(start+filter.PerPage, len(matched))
	return matched[start:end], len(matched), nil
}

func (r *memoryRepo) GetOrder(_ context.Context, id int64) (returns.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return returns.Order{}, returns.ErrOrderNotFound
	}
	return o, nil
}

func (r *memoryRepo) ListOrderItems(_ context.Context, orderID int64) ([]returns.OrderItem, error) {
	return append([]returns.OrderItem(nil), r.orderItems[orderID]...), nil
}

func (r *memoryRepo) HasRequestForOrder(_ context.Context, orderID int64) (bool, error) {
	for _, req := range r.requests {
		if req.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) InsertRequest(ctx context.Context, req returns.Request) (returns.Request, error) {
	if exists, _ := r.HasRequestForOrder(ctx, req.OrderID); exists {
		return returns.Request{}, returns.ErrRequestExists
	}
	req.ID = int64(len(r.requests) + 1)
	r.requests[req.ID] = cloneRequest(req)
	return req, nil
}

func (r *memoryRepo) InsertItems(_ context.Context, requestID int64, items []returns.Item) ([]returns.Item, error) {
	req := r.requests[requestID]
	out := make([]returns.Item, 0, len(items))
	for _, item := range items {
		r.nextItem++
		item.ID = r.nextItem
		item.RequestID = requestID
		out = append(out, item)
	}
	req.Items = append(req.Items, out...)
	r.requests[requestID] = cloneRequest(req)
	return out, nil
}

func (r *memoryRepo) LockRequest(ctx context.Context, id int64) (returns.Request, error) {
	return r.Get(ctx, id)
}

func (r *memoryRepo) UpdateRequest(_ context.Context, req returns.Request) error {
	current, ok := r.requests[req.ID]
	if !ok {
		return fmt.Errorf("%w: return request %d missing", shared.ErrIntegrity, req.ID)
	}
	req.Items = current.Items
	r.requests[req.ID] = cloneRequest(req)
	return nil
}

func (r *memoryRepo) InsertAuditLog(_ context.Context, log shared.AuditLog) error {
	r.audits = append(r.audits, log)
	return nil
}

func (r *memoryRepo) auditActions() []string {
	out := make([]string, 0, len(r.audits))
	for _, a := range r.audits {
		out = append(out, a.Action)
	}
	return out
}

func cloneRequest(req returns.Request) returns.Request {
	req.Items = append([]returns.Item(nil), req.Items...)
	return req
}

type staticSettings struct {
	s settings.Settings
}

func (s *staticSettings) Current(context.Context) (settings.Settings, error) {
	return s.s, nil
}

type payout struct {
	requestID int64
	orderID   int64
	amount    decimal.Decimal
	manual    bool
}

type payoutSpy struct {
	calls []payout
}

func (p *payoutSpy) EnqueueRefundPayout(_ context.Context, requestID, orderID int64, amount decimal.Decimal, manual bool) error {
	p.calls = append(p.calls, payout{requestID, orderID, amount, manual})
	return nil
}

type metricsSpy struct {
	mu         sync.Mutex
	refunds    map[string]int
	violations map[string]int
}

func newMetricsSpy() *metricsSpy {
	return &metricsSpy{refunds: map[string]int{}, violations: map[string]int{}}
}

func (m *metricsSpy) RecordRefund(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds[status]++
}

func (m *metricsSpy) RecordIntegrityViolation(operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations[operation]++
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	if m.keys[module+":"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+":"+key] = true
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key, module string) error {
	delete(m.keys, module+":"+key)
	return nil
}
