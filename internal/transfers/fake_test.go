package transfers_test

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/inventory/inventorytest"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/transfers"
)

// memoryRepo keeps transfers next to an in-memory inventory store and rolls both back together.
type memoryRepo struct {
	*inventorytest.Store

	txMu      sync.Mutex
	transfers map[int64]transfers.Transfer
	audits    []shared.AuditLog
	nextItem  int64
	failAudit error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{Store: inventorytest.NewStore(), transfers: make(map[int64]transfers.Transfer)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, transfers.TxRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	restoreInventory := r.Store.Checkpoint()
	saved := make(map[int64]transfers.Transfer, len(r.transfers))
	for k, v := range r.transfers {
		saved[k] = cloneTransfer(v)
	}
	audits := append([]shared.AuditLog(nil), r.audits...)
	nextItem := r.nextItem
	if err := fn(ctx, r); err != nil {
		restoreInventory()
		r.transfers, r.audits, r.nextItem = saved, audits, nextItem
		return err
	}
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (transfers.Transfer, error) {
	t, ok := r.transfers[id]
	if !ok {
		return transfers.Transfer{}, transfers.ErrTransferNotFound
	}
	return cloneTransfer(t), nil
}

func (r *memoryRepo) List(_ context.Context, filter transfers.ListFilter) ([]transfers.Transfer, int, error) {
	var matched []transfers.Transfer
	for _, t := range r.transfers {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.WarehouseID != nil && t.FromWarehouseID != *filter.WarehouseID && t.ToWarehouseID != *filter.WarehouseID {
			continue
		}
		matched = append(matched, cloneTransfer(t))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	start := shared.Offset(filter.Page, filter.PerPage)
	if start > len(matched) {
		start = len(matched)
	}
	end := min(start+filter.PerPage, len(matched))
	return matched[start:end], len(matched), nil
}

func (r *memoryRepo) InsertTransfer(_ context.Context, t transfers.Transfer) (transfers.Transfer, error) {
	t.ID = int64(len(r.transfers) + 1)
	t.Number = fmt.Sprintf("TRF-%06d", t.ID)
	r.transfers[t.ID] = cloneTransfer(t)
	return t, nil
}

func (r *memoryRepo) InsertItems(_ context.Context, transferID int64, items []transfers.Item) ([]transfers.Item, error) {
	t := r.transfers[transferID]
	out := make([]transfers.Item, 0, len(items))
	for _, item := range items {
		r.nextItem++
		item.ID = r.nextItem
		item.TransferID = transferID
		out = append(out, item)
	}
	t.Items = append(t.Items, out...)
	r.transfers[transferID] = cloneTransfer(t)
	return out, nil
}

func (r *memoryRepo) LockTransfer(ctx context.Context, id int64) (transfers.Transfer, error) {
	return r.Get(ctx, id)
}

func (r *memoryRepo) UpdateTransfer(_ context.Context, t transfers.Transfer) error {
	current, ok := r.transfers[t.ID]
	if !ok {
		return fmt.Errorf("%w: transfer %d missing", shared.ErrIntegrity, t.ID)
	}
	t.Items = current.Items
	r.transfers[t.ID] = cloneTransfer(t)
	return nil
}

func (r *memoryRepo) UpdateItems(_ context.Context, items []transfers.Item) error {
	for _, item := range items {
		t := r.transfers[item.TransferID]
		for i := range t.Items {
			if t.Items[i].ID == item.ID {
				t.Items[i] = item
			}
		}
		r.transfers[item.TransferID] = cloneTransfer(t)
	}
	return nil
}

func (r *memoryRepo) InsertAuditLog(_ context.Context, log shared.AuditLog) error {
	if r.failAudit != nil {
		return r.failAudit
	}
	r.audits = append(r.audits, log)
	return nil
}

func cloneTransfer(t transfers.Transfer) transfers.Transfer {
	t.Items = append([]transfers.Item(nil), t.Items...)
	return t
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

type notifierSpy struct {
	rows []inventory.Inventory
}

func (n *notifierSpy) NotifyLowStock(_ context.Context, inv inventory.Inventory) error {
	n.rows = append(n.rows, inv)
	return nil
}

type metricsSpy struct {
	transitions map[string]int
	violations  map[string]int
}

func newMetricsSpy() *metricsSpy {
	return &metricsSpy{transitions: map[string]int{}, violations: map[string]int{}}
}

func (m *metricsSpy) RecordTransferTransition(status string) { m.transitions[status]++ }

func (m *metricsSpy) RecordIntegrityViolation(operation string) { m.violations[operation]++ }
