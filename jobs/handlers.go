package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/inventory"
	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
)

// LowStockSource lists rows at or below their threshold.
type LowStockSource interface {
	ListLowStock(ctx context.Context, warehouseID *int64) ([]inventory.Inventory, error)
}

// LowStockNotifier raises one alert per row.
type LowStockNotifier interface {
	NotifyLowStock(ctx context.Context, inv inventory.Inventory) error
}

// KeyCleaner removes expired idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Handlers processes back-office tasks.
type Handlers struct {
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
	stock    LowStockSource
	notifier LowStockNotifier
	keys     KeyCleaner
}

// NewHandlers wires task handlers. stock, notifier and keys may be nil when the
// worker does not run the corresponding tasks.
func NewHandlers(logger *slog.Logger, metrics *jobmetrics.Metrics, stock LowStockSource, notifier LowStockNotifier, keys KeyCleaner) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{logger: logger, metrics: metrics, stock: stock, notifier: notifier, keys: keys}
}

// TaskHandlers lists every handler for registration on the worker mux.
func (h *Handlers) TaskHandlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskLowStock, Handler: h.HandleLowStock},
		{Type: TaskRefundPayout, Handler: h.HandleRefundPayout},
		{Type: TaskLowStockSweep, Handler: h.HandleLowStockSweep},
		{Type: TaskIdempotencyCleanup, Handler: h.HandleIdempotencyCleanup},
	}
}

// HandleLowStock reports a low stock row. Delivery to buyers happens downstream of the log.
func (h *Handlers) HandleLowStock(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track(TaskLowStock)
	var payload LowStockPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(fmt.Errorf("decode low stock payload: %v: %w", err, asynq.SkipRetry))
	}
	h.logger.WarnContext(ctx, "stock at or below minimum",
		slog.Int64("warehouse_id", payload.WarehouseID),
		slog.Int64("variant_id", payload.VariantID),
		slog.Int("available", payload.Available),
		slog.Int("min_stock", payload.MinStock))
	h.metrics.AddLowStockAlerts(payload.WarehouseID, 1)
	return tracker.End(nil)
}

// HandleRefundPayout hands an approved refund to the payment collaborator.
func (h *Handlers) HandleRefundPayout(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track(TaskRefundPayout)
	var payload RefundPayoutPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(fmt.Errorf("decode refund payout payload: %v: %w", err, asynq.SkipRetry))
	}
	if payload.ReturnRequestID <= 0 || !payload.Amount.IsPositive() {
		return tracker.End(fmt.Errorf("refund payout for request %d amount %s: %w",
			payload.ReturnRequestID, payload.Amount.String(), asynq.SkipRetry))
	}
	attrs := []any{
		slog.Int64("return_request_id", payload.ReturnRequestID),
		slog.Int64("order_id", payload.OrderID),
		slog.String("amount", payload.Amount.StringFixed(2)),
	}
	if payload.Manual {
		h.logger.WarnContext(ctx, "refund requires manual payout", attrs...)
	} else {
		h.logger.InfoContext(ctx, "refund payout dispatched", attrs...)
	}
	return tracker.End(nil)
}

// HandleLowStockSweep raises an alert for every low row in scope.
func (h *Handlers) HandleLowStockSweep(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track(TaskLowStockSweep)
	var payload LowStockSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(fmt.Errorf("decode sweep payload: %v: %w", err, asynq.SkipRetry))
	}
	if h.stock == nil || h.notifier == nil {
		return tracker.End(fmt.Errorf("low stock sweep not configured: %w", asynq.SkipRetry))
	}
	rows, err := h.stock.ListLowStock(ctx, payload.WarehouseID)
	if err != nil {
		return tracker.End(fmt.Errorf("list low stock: %w", err))
	}
	for _, inv := range rows {
		if err := h.notifier.NotifyLowStock(ctx, inv); err != nil {
			return tracker.End(fmt.Errorf("notify low stock %d/%d: %w", inv.WarehouseID, inv.VariantID, err))
		}
	}
	h.logger.InfoContext(ctx, "low stock sweep finished", slog.Int("rows", len(rows)))
	return tracker.End(nil)
}

// HandleIdempotencyCleanup drops idempotency keys past their retention.
func (h *Handlers) HandleIdempotencyCleanup(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track(TaskIdempotencyCleanup)
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.RetentionHours <= 0 {
		return tracker.End(fmt.Errorf("invalid cleanup payload: %w", asynq.SkipRetry))
	}
	if h.keys == nil {
		return tracker.End(fmt.Errorf("idempotency cleanup not configured: %w", asynq.SkipRetry))
	}
	removed, err := h.keys.Cleanup(ctx, time.Duration(payload.RetentionHours)*time.Hour)
	if err != nil {
		return tracker.End(fmt.Errorf("cleanup idempotency keys: %w", err))
	}
	h.metrics.AddExpiredKeys(removed)
	h.logger.InfoContext(ctx, "idempotency keys cleaned", slog.Int64("removed", removed))
	return tracker.End(nil)
}
