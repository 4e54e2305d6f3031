package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, warehouseID, variantID int64) (Inventory, error)
	ListWarehouses(ctx context.Context, activeOnly bool) ([]Warehouse, error)
	ListLogs(ctx context.Context, filter LogFilter) ([]LogEntry, error)
	ListTransferable(ctx context.Context, warehouseID int64) ([]Inventory, error)
	ListLowStock(ctx context.Context, warehouseID *int64) ([]Inventory, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes inventory reads and manual adjustments.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// Get returns the stock position, or the zero state when the pair was never stocked.
func (s *Service) Get(ctx context.Context, warehouseID, variantID int64) (Inventory, error) {
	if warehouseID <= 0 || variantID <= 0 {
		return Inventory{}, ErrWarehouseVariantRequired
	}
	return s.repo.Get(ctx, warehouseID, variantID)
}

// ListWarehouses lists warehouses.
func (s *Service) ListWarehouses(ctx context.Context, activeOnly bool) ([]Warehouse, error) {
	return s.repo.ListWarehouses(ctx, activeOnly)
}

// ListLogs lists the movement history.
func (s *Service) ListLogs(ctx context.Context, filter LogFilter) ([]LogEntry, error) {
	return s.repo.ListLogs(ctx, filter)
}

// ListTransferable lists variants with free stock at a warehouse.
func (s *Service) ListTransferable(ctx context.Context, warehouseID int64) ([]Inventory, error) {
	if warehouseID <= 0 {
		return nil, ErrWarehouseVariantRequired
	}
	return s.repo.ListTransferable(ctx, warehouseID)
}

// ListLowStock lists rows at or below their minimum.
func (s *Service) ListLowStock(ctx context.Context, warehouseID *int64) ([]Inventory, error) {
	return s.repo.ListLowStock(ctx, warehouseID)
}

// Adjust applies a manual correction (e.g. after a stock count) in its own unit of work.
func (s *Service) Adjust(ctx context.Context, actor shared.Actor, input AdjustInput) (Inventory, LogEntry, error) {
	if !actor.Valid() {
		return Inventory{}, LogEntry{}, shared.ErrActorRequired
	}
	if input.Quantity == 0 {
		return Inventory{}, LogEntry{}, ErrEmptyAdjustment
	}
	if input.Reason == "" {
		return Inventory{}, LogEntry{}, shared.NewValidationError("inventory: adjustment reason is required")
	}
	var (
		inv   Inventory
		entry LogEntry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wh, err := tx.GetWarehouse(ctx, input.WarehouseID)
		if err != nil {
			return err
		}
		if !wh.IsActive {
			return ErrWarehouseInactive
		}
		inv, entry, err = Apply(ctx, tx, Adjustment{
			WarehouseID:    input.WarehouseID,
			VariantID:      input.VariantID,
			DeltaAvailable: input.Quantity,
			Action:         ActionAdjustment,
			Quantity:       input.Quantity,
			Reference:      fmt.Sprintf("ADJ-%d-%d", input.WarehouseID, s.now().UnixNano()),
			Reason:         input.Reason,
			ActorID:        actor.ID,
			At:             s.now().UTC(),
		})
		return err
	})
	if err != nil {
		if shared.IsIntegrity(err) {
			s.logger.Error("inventory adjustment aborted", slog.Int64("warehouse_id", input.WarehouseID),
				slog.Int64("variant_id", input.VariantID), slog.Any("error", err))
		}
		return Inventory{}, LogEntry{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   fmt.Sprintf("inventory:%s", ActionAdjustment),
			Entity:   "inventory",
			EntityID: fmt.Sprintf("%d:%d", input.WarehouseID, input.VariantID),
			Meta: map[string]any{
				"quantity":        input.Quantity,
				"reason":          input.Reason,
				"available_after": inv.Available,
				"log_id":          entry.ID,
			},
			At: s.now(),
		}); err != nil {
			s.logger.Warn("audit inventory adjustment", slog.Any("error", err))
		}
	}
	return inv, entry, nil
}
