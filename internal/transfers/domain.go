package transfers

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// ============================================================================
// TRANSFER STATUS
// ============================================================================

// Status represents the lifecycle of a stock transfer.
type Status string

const (
	StatusPending   Status = "PENDING"    // Requested, nothing reserved yet
	StatusApproved  Status = "APPROVED"   // Stock reserved at the source
	StatusInTransit Status = "IN_TRANSIT" // Shipped, reservation consumed
	StatusReceived  Status = "RECEIVED"   // Stocked at the destination
	StatusCancelled Status = "CANCELLED"  // Terminated, reservation released
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusCancelled},
	StatusApproved:  {StatusInTransit, StatusCancelled},
	StatusInTransit: {StatusReceived},
}

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusInTransit, StatusReceived, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no transition leaves the status.
func (s Status) IsTerminal() bool {
	return s == StatusReceived || s == StatusCancelled
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Guard returns ErrInvalidState unless from -> to is in the transition table.
func Guard(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, from, to)
	}
	return nil
}

// ============================================================================
// TRANSFER ENTITY
// ============================================================================

// Transfer moves stock between two warehouses.
type Transfer struct {
	ID              int64      `json:"id"`
	Number          string     `json:"number"`
	FromWarehouseID int64      `json:"from_warehouse_id"`
	ToWarehouseID   int64      `json:"to_warehouse_id"`
	Status          Status     `json:"status"`
	Notes           string     `json:"notes,omitempty"`
	CreatedBy       int64      `json:"created_by"`
	ApprovedBy      *int64     `json:"approved_by,omitempty"`
	ShippedBy       *int64     `json:"shipped_by,omitempty"`
	ReceivedBy      *int64     `json:"received_by,omitempty"`
	CancelledBy     *int64     `json:"cancelled_by,omitempty"`
	CancelReason    *string    `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ShippedAt       *time.Time `json:"shipped_at,omitempty"`
	ReceivedAt      *time.Time `json:"received_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Items           []Item     `json:"items,omitempty"`
}

// Item is one variant line of a transfer.
type Item struct {
	ID           int64   `json:"id"`
	TransferID   int64   `json:"transfer_id"`
	VariantID    int64   `json:"variant_id"`
	RequestedQty int     `json:"requested_qty"`
	SentQty      *int    `json:"sent_qty,omitempty"`
	ReceivedQty  *int    `json:"received_qty,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

// ExpectedQty is what the destination should receive: the shipped quantity once known.
func (i Item) ExpectedQty() int {
	if i.SentQty != nil {
		return *i.SentQty
	}
	return i.RequestedQty
}

// ============================================================================
// REQUEST DTOs
// ============================================================================

// CreateInput requests a new transfer.
type CreateInput struct {
	FromWarehouseID int64        `json:"from_warehouse_id" validate:"required,gt=0"`
	ToWarehouseID   int64        `json:"to_warehouse_id" validate:"required,gt=0"`
	Notes           string       `json:"notes" validate:"max=1000"`
	Items           []CreateItem `json:"items" validate:"required,min=1,dive"`
}

// CreateItem is one requested line.
type CreateItem struct {
	VariantID int64 `json:"variant_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

// LineQuantity overrides the quantity of one item, keyed by item id.
type LineQuantity struct {
	ItemID   int64   `json:"item_id" validate:"required,gt=0"`
	Quantity int     `json:"quantity" validate:"gte=0"`
	Notes    *string `json:"notes,omitempty" validate:"omitempty,max=500"`
}

// ShipInput carries optional per-item sent quantities. Omitted items ship in full.
type ShipInput struct {
	Items []LineQuantity `json:"items" validate:"dive"`
}

// ReceiveInput carries optional per-item received quantities and notes. Omitted items are
// received as shipped.
type ReceiveInput struct {
	Items []LineQuantity `json:"items" validate:"dive"`
}

// CancelInput carries the mandatory cancellation reason.
type CancelInput struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// ListFilter narrows transfer listings.
type ListFilter struct {
	Status      Status
	WarehouseID *int64
	Page        int
	PerPage     int
}

// ListResult is one page of transfers.
type ListResult struct {
	Transfers  []Transfer        `json:"transfers"`
	Pagination shared.Pagination `json:"pagination"`
}

var (
	// ErrInvalidRoute indicates source and destination are the same warehouse.
	ErrInvalidRoute = shared.NewValidationError("transfers: source and destination must differ")
	// ErrEmptyTransfer indicates a transfer without items.
	ErrEmptyTransfer = shared.NewValidationError("transfers: at least one item is required")
	// ErrInvalidQuantity indicates a non-positive requested quantity.
	ErrInvalidQuantity = shared.NewValidationError("transfers: quantity must be positive")
	// ErrDuplicateVariant indicates the same variant listed twice.
	ErrDuplicateVariant = shared.NewValidationError("transfers: variant listed more than once")
	// ErrUnknownItem indicates a per-item override referencing another transfer's item.
	ErrUnknownItem = shared.NewValidationError("transfers: item does not belong to transfer")
	// ErrDuplicateItem indicates the same item overridden twice in one request.
	ErrDuplicateItem = shared.NewValidationError("transfers: item listed more than once")
	// ErrNegativeQuantity indicates a negative shipped or received quantity.
	ErrNegativeQuantity = shared.NewValidationError("transfers: quantity cannot be negative")
	// ErrCancelReasonRequired indicates a cancellation without reason.
	ErrCancelReasonRequired = shared.NewValidationError("transfers: cancellation reason is required")
	// ErrInvalidState indicates the transfer is not in a status allowing the action.
	ErrInvalidState = shared.NewStateError("transfers: invalid status transition")
	// ErrTransferNotFound indicates a missing transfer.
	ErrTransferNotFound = shared.NewNotFoundError("transfers: transfer not found")
)
