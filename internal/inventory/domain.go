package inventory

import (
	"errors"
	"time"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// WarehouseType distinguishes the main fulfilment site from auxiliary ones.
type WarehouseType string

const (
	WarehouseTypeMain    WarehouseType = "MAIN"
	WarehouseTypeBranch  WarehouseType = "BRANCH"
	WarehouseTypeVirtual WarehouseType = "VIRTUAL"
)

// Warehouse is never deleted, only deactivated.
type Warehouse struct {
	ID        int64         `json:"id"`
	Code      string        `json:"code"`
	Name      string        `json:"name"`
	Type      WarehouseType `json:"type"`
	IsActive  bool          `json:"is_active"`
	CreatedAt time.Time     `json:"created_at"`
}

// DefaultMinStock is assigned to rows created lazily by a stock event.
const DefaultMinStock = 5

// Inventory is the stock position of one variant at one warehouse.
type Inventory struct {
	WarehouseID int64     `json:"warehouse_id"`
	VariantID   int64     `json:"variant_id"`
	Available   int       `json:"available"`
	Reserved    int       `json:"reserved"`
	MinStock    int       `json:"min_stock"`
	UpdatedAt   time.Time `json:"updated_at"`
	// Exists is false for the implicit zero state of a pair never touched before.
	Exists bool `json:"exists"`
}

// OnHand is the physical quantity held at the warehouse.
func (i Inventory) OnHand() int {
	return i.Available + i.Reserved
}

// IsLow reports whether available stock is at or below the alert threshold.
func (i Inventory) IsLow() bool {
	return i.Available <= i.MinStock
}

// Action tags every inventory log row.
type Action string

const (
	ActionReserve     Action = "RESERVE"
	ActionRelease     Action = "RELEASE"
	ActionTransferOut Action = "TRANSFER_OUT"
	ActionTransferIn  Action = "TRANSFER_IN"
	ActionReturn      Action = "RETURN"
	ActionAdjustment  Action = "ADJUSTMENT"
)

// IsValid checks the tag against the known set.
func (a Action) IsValid() bool {
	switch a {
	case ActionReserve, ActionRelease, ActionTransferOut, ActionTransferIn, ActionReturn, ActionAdjustment:
		return true
	default:
		return false
	}
}

// LogEntry is an immutable inventory_logs row.
type LogEntry struct {
	ID             int64     `json:"id"`
	WarehouseID    int64     `json:"warehouse_id"`
	VariantID      int64     `json:"variant_id"`
	Action         Action    `json:"action"`
	Quantity       int       `json:"quantity"`
	AvailableAfter int       `json:"available_after"`
	ReservedAfter  int       `json:"reserved_after"`
	Reference      string    `json:"reference"`
	Reason         string    `json:"reason,omitempty"`
	ActorID        int64     `json:"actor_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Adjustment describes one atomic change to an inventory row plus the log row recording it.
type Adjustment struct {
	WarehouseID    int64
	VariantID      int64
	DeltaAvailable int
	DeltaReserved  int
	Action         Action
	// Quantity is the signed movement written to the log.
	Quantity  int
	Reference string
	Reason    string
	ActorID   int64
	At        time.Time
}

// Validate ensures the adjustment is well formed.
func (a Adjustment) Validate() error {
	if a.WarehouseID == 0 || a.VariantID == 0 {
		return ErrWarehouseVariantRequired
	}
	if !a.Action.IsValid() {
		return ErrInvalidAction
	}
	if a.DeltaAvailable == 0 && a.DeltaReserved == 0 {
		return ErrEmptyAdjustment
	}
	return nil
}

// AdjustInput is a manual stock correction requested by an admin.
type AdjustInput struct {
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
	VariantID   int64  `json:"variant_id" validate:"required,gt=0"`
	Quantity    int    `json:"quantity" validate:"required"`
	Reason      string `json:"reason" validate:"required,min=3,max=500"`
}

// LogFilter narrows log listings.
type LogFilter struct {
	WarehouseID *int64
	VariantID   *int64
	Reference   string
	Limit       int
}

var (
	// ErrInventoryNotFound is returned by repositories for pairs with no row.
	ErrInventoryNotFound = errors.New("inventory record not found")
	// ErrInsufficientStock is returned when available stock would become negative.
	ErrInsufficientStock = shared.NewValidationError("inventory: insufficient available stock")
	// ErrNegativeReserved indicates a release larger than the outstanding reservation.
	ErrNegativeReserved = shared.NewIntegrityError("inventory: reserved stock would become negative")
	// ErrNoRowsUpdated indicates a locked row vanished before its update.
	ErrNoRowsUpdated = shared.NewIntegrityError("inventory: update affected zero rows")
	// ErrNoActiveWarehouse indicates there is nowhere to put returned stock.
	ErrNoActiveWarehouse = shared.NewIntegrityError("inventory: no active warehouse available")
	// ErrWarehouseNotFound indicates a missing warehouse.
	ErrWarehouseNotFound = shared.NewNotFoundError("inventory: warehouse not found")
	// ErrWarehouseInactive indicates a deactivated warehouse.
	ErrWarehouseInactive = shared.NewValidationError("inventory: warehouse is inactive")
	// ErrWarehouseVariantRequired indicates missing identifiers.
	ErrWarehouseVariantRequired = shared.NewValidationError("inventory: warehouse and variant required")
	// ErrInvalidAction indicates an unknown log tag.
	ErrInvalidAction = shared.NewValidationError("inventory: unknown action")
	// ErrEmptyAdjustment indicates an adjustment that changes nothing.
	ErrEmptyAdjustment = shared.NewValidationError("inventory: adjustment must change stock")
)
