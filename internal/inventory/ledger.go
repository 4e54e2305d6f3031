package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TxRepository exposes the transactional operations every stock mutation is built from.
type TxRepository interface {
	// LockInventory returns the row locked for update, creating a zero row with
	// DefaultMinStock when the pair has never been stocked (Exists=false in that case).
	LockInventory(ctx context.Context, warehouseID, variantID int64) (Inventory, error)
	// SaveInventory writes available/reserved for a locked row. Zero affected rows is ErrNoRowsUpdated.
	SaveInventory(ctx context.Context, inv Inventory) error
	InsertLog(ctx context.Context, entry LogEntry) (LogEntry, error)
	GetWarehouse(ctx context.Context, id int64) (Warehouse, error)
	// FindActiveWarehouse returns the lowest-id active warehouse of the type, any type when empty.
	FindActiveWarehouse(ctx context.Context, typ WarehouseType) (Warehouse, error)
}

// Apply performs one adjust: lock, bounds check, write, and append exactly one log row.
// It must run inside the caller's unit of work.
func Apply(ctx context.Context, tx TxRepository, adj Adjustment) (Inventory, LogEntry, error) {
	if err := adj.Validate(); err != nil {
		return Inventory{}, LogEntry{}, err
	}
	current, err := tx.LockInventory(ctx, adj.WarehouseID, adj.VariantID)
	if err != nil {
		return Inventory{}, LogEntry{}, fmt.Errorf("lock inventory %d/%d: %w", adj.WarehouseID, adj.VariantID, err)
	}
	next := current
	next.Available += adj.DeltaAvailable
	next.Reserved += adj.DeltaReserved
	if next.Available < 0 {
		return Inventory{}, LogEntry{}, fmt.Errorf("%w: warehouse %d variant %d has %d available, %d requested",
			ErrInsufficientStock, adj.WarehouseID, adj.VariantID, current.Available, -adj.DeltaAvailable)
	}
	if next.Reserved < 0 {
		return Inventory{}, LogEntry{}, fmt.Errorf("%w: warehouse %d variant %d has %d reserved, %d released",
			ErrNegativeReserved, adj.WarehouseID, adj.VariantID, current.Reserved, -adj.DeltaReserved)
	}
	at := adj.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	next.UpdatedAt = at
	next.Exists = true
	if err := tx.SaveInventory(ctx, next); err != nil {
		return Inventory{}, LogEntry{}, fmt.Errorf("save inventory %d/%d: %w", adj.WarehouseID, adj.VariantID, err)
	}
	entry, err := tx.InsertLog(ctx, LogEntry{
		WarehouseID:    adj.WarehouseID,
		VariantID:      adj.VariantID,
		Action:         adj.Action,
		Quantity:       adj.Quantity,
		AvailableAfter: next.Available,
		ReservedAfter:  next.Reserved,
		Reference:      adj.Reference,
		Reason:         adj.Reason,
		ActorID:        adj.ActorID,
		CreatedAt:      at,
	})
	if err != nil {
		return Inventory{}, LogEntry{}, fmt.Errorf("insert inventory log: %w", err)
	}
	return next, entry, nil
}

// ResolveReturnWarehouse picks where returned stock goes: the preferred warehouse when it is
// active, else the active MAIN warehouse, else any active warehouse.
func ResolveReturnWarehouse(ctx context.Context, tx TxRepository, preferred *int64) (Warehouse, error) {
	if preferred != nil && *preferred > 0 {
		wh, err := tx.GetWarehouse(ctx, *preferred)
		switch {
		case err == nil && wh.IsActive:
			return wh, nil
		case err != nil && !errors.Is(err, ErrWarehouseNotFound):
			return Warehouse{}, err
		}
	}
	for _, typ := range []WarehouseType{WarehouseTypeMain, ""} {
		wh, err := tx.FindActiveWarehouse(ctx, typ)
		if err == nil {
			return wh, nil
		}
		if !errors.Is(err, ErrWarehouseNotFound) {
			return Warehouse{}, err
		}
	}
	return Warehouse{}, ErrNoActiveWarehouse
}
