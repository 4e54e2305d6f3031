// Package inventorytest provides an in-memory inventory store for tests of packages that move stock.
package inventorytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/backoffice/internal/inventory"
)

type key struct {
	warehouseID int64
	variantID   int64
}

// Store is a map-backed inventory.TxRepository. WithTx serialises units of work and restores the
// previous state when the callback fails.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	warehouses map[int64]inventory.Warehouse
	rows       map[key]inventory.Inventory
	logs       []inventory.LogEntry
	nextLogID  int64

	// ZeroRowUpdates makes SaveInventory report that no row was touched.
	ZeroRowUpdates bool
	// Now stamps log rows when the adjustment carries no timestamp.
	Now func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		warehouses: make(map[int64]inventory.Warehouse),
		rows:       make(map[key]inventory.Inventory),
		Now:        func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) },
	}
}

// AddWarehouse registers a warehouse.
func (s *Store) AddWarehouse(id int64, typ inventory.WarehouseType, active bool) inventory.Warehouse {
	s.mu.Lock()
	defer s.mu.Unlock()
	wh := inventory.Warehouse{
		ID:       id,
		Code:     fmt.Sprintf("WH-%d", id),
		Name:     fmt.Sprintf("Warehouse %d", id),
		Type:     typ,
		IsActive: active,
	}
	s.warehouses[id] = wh
	return wh
}

// Seed sets a stock position directly, bypassing the log.
func (s *Store) Seed(warehouseID, variantID int64, available, reserved int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[key{warehouseID, variantID}] = inventory.Inventory{
		WarehouseID: warehouseID,
		VariantID:   variantID,
		Available:   available,
		Reserved:    reserved,
		MinStock:    inventory.DefaultMinStock,
		Exists:      true,
	}
}

// Row returns the stock position or the zero state.
func (s *Store) Row(warehouseID, variantID int64) inventory.Inventory {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv, ok := s.rows[key{warehouseID, variantID}]; ok {
		return inv
	}
	return inventory.Inventory{WarehouseID: warehouseID, VariantID: variantID}
}

// Logs returns a copy of every log row in insertion order.
func (s *Store) Logs() []inventory.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inventory.LogEntry, len(s.logs))
	copy(out, s.logs)
	return out
}

// LogsFor filters Logs by reference.
func (s *Store) LogsFor(reference string) []inventory.LogEntry {
	var out []inventory.LogEntry
	for _, entry := range s.Logs() {
		if entry.Reference == reference {
			out = append(out, entry)
		}
	}
	return out
}

// Checkpoint snapshots the store and returns a function restoring it.
func (s *Store) Checkpoint() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make(map[key]inventory.Inventory, len(s.rows))
	for k, v := range s.rows {
		rows[k] = v
	}
	warehouses := make(map[int64]inventory.Warehouse, len(s.warehouses))
	for k, v := range s.warehouses {
		warehouses[k] = v
	}
	logs := make([]inventory.LogEntry, len(s.logs))
	copy(logs, s.logs)
	nextLogID := s.nextLogID
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.rows = rows
		s.warehouses = warehouses
		s.logs = logs
		s.nextLogID = nextLogID
	}
}

// WithTx runs fn against the store, rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	restore := s.Checkpoint()
	if err := fn(ctx, s); err != nil {
		restore()
		return err
	}
	return nil
}

func (s *Store) LockInventory(_ context.Context, warehouseID, variantID int64) (inventory.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{warehouseID, variantID}
	if inv, ok := s.rows[k]; ok {
		return inv, nil
	}
	inv := inventory.Inventory{WarehouseID: warehouseID, VariantID: variantID, MinStock: inventory.DefaultMinStock, Exists: true}
	s.rows[k] = inv
	inv.Exists = false
	return inv, nil
}

func (s *Store) SaveInventory(_ context.Context, inv inventory.Inventory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{inv.WarehouseID, inv.VariantID}
	if _, ok := s.rows[k]; !ok || s.ZeroRowUpdates {
		return inventory.ErrNoRowsUpdated
	}
	inv.Exists = true
	s.rows[k] = inv
	return nil
}

func (s *Store) InsertLog(_ context.Context, entry inventory.LogEntry) (inventory.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	entry.ID = s.nextLogID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.Now()
	}
	s.logs = append(s.logs, entry)
	return entry, nil
}

func (s *Store) GetWarehouse(_ context.Context, id int64) (inventory.Warehouse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wh, ok := s.warehouses[id]
	if !ok {
		return inventory.Warehouse{}, inventory.ErrWarehouseNotFound
	}
	return wh, nil
}

func (s *Store) FindActiveWarehouse(_ context.Context, typ inventory.WarehouseType) (inventory.Warehouse, error) {
	for _, wh := range s.sortedWarehouses() {
		if wh.IsActive && (typ == "" || wh.Type == typ) {
			return wh, nil
		}
	}
	return inventory.Warehouse{}, inventory.ErrWarehouseNotFound
}

func (s *Store) Get(_ context.Context, warehouseID, variantID int64) (inventory.Inventory, error) {
	return s.Row(warehouseID, variantID), nil
}

func (s *Store) ListWarehouses(_ context.Context, activeOnly bool) ([]inventory.Warehouse, error) {
	var out []inventory.Warehouse
	for _, wh := range s.sortedWarehouses() {
		if activeOnly && !wh.IsActive {
			continue
		}
		out = append(out, wh)
	}
	return out, nil
}

func (s *Store) ListLogs(_ context.Context, filter inventory.LogFilter) ([]inventory.LogEntry, error) {
	logs := s.Logs()
	var out []inventory.LogEntry
	for i := len(logs) - 1; i >= 0; i-- {
		entry := logs[i]
		if filter.WarehouseID != nil && entry.WarehouseID != *filter.WarehouseID {
			continue
		}
		if filter.VariantID != nil && entry.VariantID != *filter.VariantID {
			continue
		}
		if filter.Reference != "" && entry.Reference != filter.Reference {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListTransferable(_ context.Context, warehouseID int64) ([]inventory.Inventory, error) {
	return s.filterRows(func(inv inventory.Inventory) bool {
		return inv.WarehouseID == warehouseID && inv.Available > 0
	}), nil
}

func (s *Store) ListLowStock(_ context.Context, warehouseID *int64) ([]inventory.Inventory, error) {
	return s.filterRows(func(inv inventory.Inventory) bool {
		return (warehouseID == nil || inv.WarehouseID == *warehouseID) && inv.IsLow()
	}), nil
}

func (s *Store) filterRows(keep func(inventory.Inventory) bool) []inventory.Inventory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Inventory
	for _, inv := range s.rows {
		if keep(inv) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WarehouseID != out[j].WarehouseID {
			return out[i].WarehouseID < out[j].WarehouseID
		}
		return out[i].VariantID < out[j].VariantID
	})
	return out
}

func (s *Store) sortedWarehouses() []inventory.Warehouse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inventory.Warehouse, 0, len(s.warehouses))
	for _, wh := range s.warehouses {
		out = append(out, wh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
