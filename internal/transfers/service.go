package transfers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

const idempotencyModule = "transfers"

// TxRepository is the unit of work for one transition: transfer rows plus the inventory rows it moves.
type TxRepository interface {
	inventory.TxRepository
	InsertTransfer(ctx context.Context, t Transfer) (Transfer, error)
	InsertItems(ctx context.Context, transferID int64, items []Item) ([]Item, error)
	// LockTransfer loads the transfer and its items, locking the transfer row for update.
	LockTransfer(ctx context.Context, id int64) (Transfer, error)
	UpdateTransfer(ctx context.Context, t Transfer) error
	UpdateItems(ctx context.Context, items []Item) error
	InsertAuditLog(ctx context.Context, log shared.AuditLog) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Transfer, error)
	List(ctx context.Context, filter ListFilter) ([]Transfer, int, error)
}

// IdempotencyPort guards create against client retries.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// LowStockNotifier receives rows that fell to their alert threshold.
type LowStockNotifier interface {
	NotifyLowStock(ctx context.Context, inv inventory.Inventory) error
}

// MetricsRecorder counts transitions and fatal conditions.
type MetricsRecorder interface {
	RecordTransferTransition(status string)
	RecordIntegrityViolation(operation string)
}

// Service orchestrates the transfer state machine.
type Service struct {
	repo     RepositoryPort
	idem     IdempotencyPort
	notifier LowStockNotifier
	metrics  MetricsRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service. idem, notifier and metrics are optional.
func NewService(repo RepositoryPort, idem IdempotencyPort, notifier LowStockNotifier, metrics MetricsRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, idem: idem, notifier: notifier, metrics: metrics, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns a transfer with items.
func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of transfers.
func (s *Service) List(ctx context.Context, filter ListFilter) (ListResult, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return ListResult{}, shared.NewValidationError(fmt.Sprintf("transfers: unknown status %q", filter.Status))
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return ListResult{}, err
	}
	if items == nil {
		items = []Transfer{}
	}
	return ListResult{Transfers: items, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)}, nil
}

// Create records a PENDING transfer after checking free stock at the source. Nothing is reserved.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput, idempotencyKey string) (Transfer, error) {
	if !actor.Valid() {
		return Transfer{}, shared.ErrActorRequired
	}
	if err := validateCreate(input); err != nil {
		return Transfer{}, err
	}
	key := strings.TrimSpace(idempotencyKey)
	if key != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			return Transfer{}, err
		}
	}
	var created Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, id := range []int64{input.FromWarehouseID, input.ToWarehouseID} {
			wh, err := tx.GetWarehouse(ctx, id)
			if err != nil {
				return err
			}
			if !wh.IsActive {
				return fmt.Errorf("%w: %s", inventory.ErrWarehouseInactive, wh.Code)
			}
		}
		for _, item := range input.Items {
			inv, err := tx.LockInventory(ctx, input.FromWarehouseID, item.VariantID)
			if err != nil {
				return err
			}
			if inv.Available < item.Quantity {
				return fmt.Errorf("%w: variant %d has %d available, %d requested",
					inventory.ErrInsufficientStock, item.VariantID, inv.Available, item.Quantity)
			}
		}
		now := s.now().UTC()
		t, err := tx.InsertTransfer(ctx, Transfer{
			FromWarehouseID: input.FromWarehouseID,
			ToWarehouseID:   input.ToWarehouseID,
			Status:          StatusPending,
			Notes:           strings.TrimSpace(input.Notes),
			CreatedBy:       actor.ID,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if err != nil {
			return fmt.Errorf("insert transfer: %w", err)
		}
		items := make([]Item, 0, len(input.Items))
		for _, item := range input.Items {
			items = append(items, Item{VariantID: item.VariantID, RequestedQty: item.Quantity})
		}
		if t.Items, err = tx.InsertItems(ctx, t.ID, items); err != nil {
			return fmt.Errorf("insert transfer items: %w", err)
		}
		created = t
		return tx.InsertAuditLog(ctx, s.auditEntry(actor, "transfer.create", t, map[string]any{
			"from_warehouse_id": t.FromWarehouseID,
			"to_warehouse_id":   t.ToWarehouseID,
			"items":             len(t.Items),
		}))
	})
	if err != nil {
		if key != "" && s.idem != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
			if delErr := s.idem.Delete(ctx, key, idempotencyModule); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		return Transfer{}, s.fail("transfer.create", 0, err)
	}
	s.recordTransition(StatusPending)
	s.logger.Info("transfer created", slog.Int64("transfer_id", created.ID), slog.String("number", created.Number),
		slog.Int64("actor_id", actor.ID))
	return created, nil
}

// Approve reserves every line at the source. One insufficient line aborts the whole approval.
func (s *Service) Approve(ctx context.Context, actor shared.Actor, id int64) (Transfer, error) {
	var touched []inventory.Inventory
	t, err := s.transition(ctx, actor, id, StatusApproved, func(ctx context.Context, tx TxRepository, t *Transfer, now time.Time) (map[string]any, error) {
		for _, item := range t.Items {
			inv, _, err := inventory.Apply(ctx, tx, inventory.Adjustment{
				WarehouseID:    t.FromWarehouseID,
				VariantID:      item.VariantID,
				DeltaAvailable: -item.RequestedQty,
				DeltaReserved:  item.RequestedQty,
				Action:         inventory.ActionReserve,
				Quantity:       -item.RequestedQty,
				Reference:      t.Number,
				ActorID:        actor.ID,
				At:             now,
			})
			if err != nil {
				return nil, err
			}
			touched = append(touched, inv)
		}
		t.ApprovedBy, t.ApprovedAt = &actor.ID, &now
		return nil, nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.alertLowStock(ctx, touched)
	return t, nil
}

// Ship consumes the reservation. Unshipped remainder goes back to available; over-shipment draws
// the excess from available.
func (s *Service) Ship(ctx context.Context, actor shared.Actor, id int64, input ShipInput) (Transfer, error) {
	var touched []inventory.Inventory
	t, err := s.transition(ctx, actor, id, StatusInTransit, func(ctx context.Context, tx TxRepository, t *Transfer, now time.Time) (map[string]any, error) {
		overrides, err := lineOverrides(t.Items, input.Items)
		if err != nil {
			return nil, err
		}
		shipped := make(map[string]int, len(t.Items))
		for i := range t.Items {
			item := &t.Items[i]
			sent := item.RequestedQty
			if o, ok := overrides[item.ID]; ok {
				sent = o.Quantity
			}
			adj := inventory.Adjustment{
				WarehouseID: t.FromWarehouseID,
				VariantID:   item.VariantID,
				Reference:   t.Number,
				ActorID:     actor.ID,
				At:          now,
			}
			if remainder := item.RequestedQty - sent; remainder > 0 {
				release := adj
				release.DeltaAvailable, release.DeltaReserved = remainder, -remainder
				release.Action, release.Quantity = inventory.ActionRelease, remainder
				release.Reason = "partial shipment"
				inv, _, err := inventory.Apply(ctx, tx, release)
				if err != nil {
					return nil, err
				}
				touched = append(touched, inv)
			}
			if sent > 0 {
				out := adj
				out.DeltaReserved = -min(sent, item.RequestedQty)
				if extra := sent - item.RequestedQty; extra > 0 {
					out.DeltaAvailable = -extra
					out.Reason = "over-shipment"
				}
				out.Action, out.Quantity = inventory.ActionTransferOut, -sent
				inv, _, err := inventory.Apply(ctx, tx, out)
				if err != nil {
					return nil, err
				}
				touched = append(touched, inv)
			}
			item.SentQty = &sent
			shipped[fmt.Sprintf("%d", item.VariantID)] = sent
		}
		if err := tx.UpdateItems(ctx, t.Items); err != nil {
			return nil, fmt.Errorf("update transfer items: %w", err)
		}
		t.ShippedBy, t.ShippedAt = &actor.ID, &now
		return map[string]any{"shipped": shipped}, nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.alertLowStock(ctx, touched)
	return t, nil
}

// Receive stocks the destination. A received quantity below the shipped one is recorded as loss,
// never corrected.
func (s *Service) Receive(ctx context.Context, actor shared.Actor, id int64, input ReceiveInput) (Transfer, error) {
	return s.transition(ctx, actor, id, StatusReceived, func(ctx context.Context, tx TxRepository, t *Transfer, now time.Time) (map[string]any, error) {
		overrides, err := lineOverrides(t.Items, input.Items)
		if err != nil {
			return nil, err
		}
		discrepancies := make(map[string]int)
		lost := []int64{}
		for i := range t.Items {
			item := &t.Items[i]
			received := item.ExpectedQty()
			if o, ok := overrides[item.ID]; ok {
				received = o.Quantity
				if o.Notes != nil {
					item.Notes = o.Notes
				}
			}
			if received > 0 {
				if _, _, err := inventory.Apply(ctx, tx, inventory.Adjustment{
					WarehouseID:    t.ToWarehouseID,
					VariantID:      item.VariantID,
					DeltaAvailable: received,
					Action:         inventory.ActionTransferIn,
					Quantity:       received,
					Reference:      t.Number,
					ActorID:        actor.ID,
					At:             now,
				}); err != nil {
					return nil, err
				}
			}
			if received == 0 && item.ExpectedQty() > 0 {
				lost = append(lost, item.VariantID)
			}
			if delta := received - item.ExpectedQty(); delta != 0 {
				discrepancies[fmt.Sprintf("%d", item.VariantID)] = delta
				s.logger.Warn("transfer received with discrepancy", slog.String("number", t.Number),
					slog.Int64("variant_id", item.VariantID), slog.Int("expected", item.ExpectedQty()),
					slog.Int("received", received))
			}
			item.ReceivedQty = &received
		}
		if err := tx.UpdateItems(ctx, t.Items); err != nil {
			return nil, fmt.Errorf("update transfer items: %w", err)
		}
		t.ReceivedBy, t.ReceivedAt = &actor.ID, &now
		meta := map[string]any{"discrepancies": discrepancies}
		if len(lost) > 0 {
			// No TRANSFER_IN row exists for these variants; the audit entry is the only trace at the destination.
			meta["lost"] = lost
		}
		return meta, nil
	})
}

// Cancel terminates a PENDING or APPROVED transfer, releasing exactly what approval reserved.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64, reason string) (Transfer, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Transfer{}, ErrCancelReasonRequired
	}
	return s.transition(ctx, actor, id, StatusCancelled, func(ctx context.Context, tx TxRepository, t *Transfer, now time.Time) (map[string]any, error) {
		released := t.Status == StatusApproved
		if released {
			for _, item := range t.Items {
				if _, _, err := inventory.Apply(ctx, tx, inventory.Adjustment{
					WarehouseID:    t.FromWarehouseID,
					VariantID:      item.VariantID,
					DeltaAvailable: item.RequestedQty,
					DeltaReserved:  -item.RequestedQty,
					Action:         inventory.ActionRelease,
					Quantity:       item.RequestedQty,
					Reference:      t.Number,
					Reason:         reason,
					ActorID:        actor.ID,
					At:             now,
				}); err != nil {
					return nil, err
				}
			}
		}
		t.CancelledBy, t.CancelledAt, t.CancelReason = &actor.ID, &now, &reason
		return map[string]any{"reason": reason, "released": released}, nil
	})
}

type mutation func(ctx context.Context, tx TxRepository, t *Transfer, now time.Time) (map[string]any, error)

// transition runs one state change as a single unit of work: lock, guard, mutate, persist, audit.
func (s *Service) transition(ctx context.Context, actor shared.Actor, id int64, to Status, apply mutation) (Transfer, error) {
	if !actor.Valid() {
		return Transfer{}, shared.ErrActorRequired
	}
	operation := "transfer." + actionName(to)
	var result Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.LockTransfer(ctx, id)
		if err != nil {
			return err
		}
		if err := Guard(t.Status, to); err != nil {
			return err
		}
		now := s.now().UTC()
		meta, err := apply(ctx, tx, &t, now)
		if err != nil {
			return err
		}
		from := t.Status
		t.Status = to
		t.UpdatedAt = now
		if err := tx.UpdateTransfer(ctx, t); err != nil {
			return fmt.Errorf("update transfer: %w", err)
		}
		if meta == nil {
			meta = map[string]any{}
		}
		meta["from_status"] = string(from)
		meta["to_status"] = string(to)
		result = t
		return tx.InsertAuditLog(ctx, s.auditEntry(actor, operation, t, meta))
	})
	if err != nil {
		return Transfer{}, s.fail(operation, id, err)
	}
	s.recordTransition(to)
	s.logger.Info("transfer "+strings.ToLower(string(to)), slog.Int64("transfer_id", result.ID),
		slog.String("number", result.Number), slog.Int64("actor_id", actor.ID))
	return result, nil
}

func (s *Service) fail(operation string, id int64, err error) error {
	if shared.IsIntegrity(err) {
		s.logger.Error("transfer aborted", slog.String("operation", operation), slog.Int64("transfer_id", id),
			slog.Any("error", err))
		if s.metrics != nil {
			s.metrics.RecordIntegrityViolation(operation)
		}
	}
	return err
}

func (s *Service) recordTransition(status Status) {
	if s.metrics != nil {
		s.metrics.RecordTransferTransition(string(status))
	}
}

func (s *Service) alertLowStock(ctx context.Context, rows []inventory.Inventory) {
	if s.notifier == nil {
		return
	}
	seen := make(map[[2]int64]bool, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		inv := rows[i]
		k := [2]int64{inv.WarehouseID, inv.VariantID}
		if seen[k] {
			continue
		}
		seen[k] = true
		if !inv.IsLow() {
			continue
		}
		if err := s.notifier.NotifyLowStock(ctx, inv); err != nil {
			s.logger.Warn("enqueue low stock alert", slog.Int64("warehouse_id", inv.WarehouseID),
				slog.Int64("variant_id", inv.VariantID), slog.Any("error", err))
		}
	}
}

func (s *Service) auditEntry(actor shared.Actor, action string, t Transfer, meta map[string]any) shared.AuditLog {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = t.Number
	return shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "stock_transfer",
		EntityID: fmt.Sprintf("%d", t.ID),
		Meta:     meta,
		At:       s.now(),
	}
}

func actionName(to Status) string {
	switch to {
	case StatusApproved:
		return "approve"
	case StatusInTransit:
		return "ship"
	case StatusReceived:
		return "receive"
	case StatusCancelled:
		return "cancel"
	default:
		return strings.ToLower(string(to))
	}
}

func validateCreate(input CreateInput) error {
	if input.FromWarehouseID <= 0 || input.ToWarehouseID <= 0 {
		return inventory.ErrWarehouseVariantRequired
	}
	if input.FromWarehouseID == input.ToWarehouseID {
		return ErrInvalidRoute
	}
	if len(input.Items) == 0 {
		return ErrEmptyTransfer
	}
	seen := make(map[int64]bool, len(input.Items))
	for _, item := range input.Items {
		if item.VariantID <= 0 {
			return inventory.ErrWarehouseVariantRequired
		}
		if item.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		if seen[item.VariantID] {
			return fmt.Errorf("%w: variant %d", ErrDuplicateVariant, item.VariantID)
		}
		seen[item.VariantID] = true
	}
	return nil
}

func lineOverrides(items []Item, lines []LineQuantity) (map[int64]LineQuantity, error) {
	known := make(map[int64]bool, len(items))
	for _, item := range items {
		known[item.ID] = true
	}
	out := make(map[int64]LineQuantity, len(lines))
	for _, line := range lines {
		if !known[line.ItemID] {
			return nil, fmt.Errorf("%w: item %d", ErrUnknownItem, line.ItemID)
		}
		if _, dup := out[line.ItemID]; dup {
			return nil, fmt.Errorf("%w: item %d", ErrDuplicateItem, line.ItemID)
		}
		if line.Quantity < 0 {
			return nil, fmt.Errorf("%w: item %d", ErrNegativeQuantity, line.ItemID)
		}
		out[line.ItemID] = line
	}
	return out, nil
}
