package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/inventory"
)

const (
	// QueueDefault carries alerts and housekeeping.
	QueueDefault = "default"
	// QueueCritical carries refund payouts.
	QueueCritical = "critical"

	TaskLowStock           = "inventory:low_stock"
	TaskLowStockSweep      = "inventory:low_stock_sweep"
	TaskRefundPayout       = "refund:payout"
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// LowStockPayload describes a stock row at or below its alert threshold.
type LowStockPayload struct {
	WarehouseID int64 `json:"warehouse_id"`
	VariantID   int64 `json:"variant_id"`
	Available   int   `json:"available"`
	MinStock    int   `json:"min_stock"`
}

// RefundPayoutPayload asks the payment collaborator to return money to the customer.
type RefundPayoutPayload struct {
	ReturnRequestID int64           `json:"return_request_id"`
	OrderID         int64           `json:"order_id"`
	Amount          decimal.Decimal `json:"amount"`
	Manual          bool            `json:"manual"`
}

// LowStockSweepPayload scopes a sweep to one warehouse, or all when nil.
type LowStockSweepPayload struct {
	WarehouseID  *int64    `json:"warehouse_id,omitempty"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// IdempotencyCleanupPayload carries the retention applied by the cleanup job.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewLowStockTask builds an alert task for inv. Alerts for the same row are
// collapsed for an hour.
func NewLowStockTask(inv inventory.Inventory) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockPayload{
		WarehouseID: inv.WarehouseID,
		VariantID:   inv.VariantID,
		Available:   inv.Available,
		MinStock:    inv.MinStock,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStock, body, asynq.Queue(QueueDefault), asynq.Unique(time.Hour)), nil
}

// NewRefundPayoutTask builds the payout task; the task id pins one payout per request.
func NewRefundPayoutTask(payload RefundPayoutPayload) (*asynq.Task, error) {
	if payload.ReturnRequestID <= 0 {
		return nil, fmt.Errorf("refund payout: return request id required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRefundPayout, body,
		asynq.Queue(QueueCritical),
		asynq.TaskID(fmt.Sprintf("refund-payout-%d", payload.ReturnRequestID)),
		asynq.MaxRetry(10),
	), nil
}

// NewLowStockSweepTask builds a sweep over low rows.
func NewLowStockSweepTask(warehouseID *int64, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockSweepPayload{WarehouseID: warehouseID, ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockSweep, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask builds the key cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	hours := int(retention / time.Hour)
	if hours <= 0 {
		return nil, fmt.Errorf("idempotency cleanup: retention must be at least one hour")
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: hours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
