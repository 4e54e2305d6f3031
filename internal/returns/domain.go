package returns

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// OrderStatusDelivered is the only order status eligible for a return.
const OrderStatusDelivered = "DELIVERED"

// PaymentMethodCOD marks cash-on-delivery orders, which are refunded by hand.
const PaymentMethodCOD = "COD"

// Order is the read-only view of an order owned by order management.
type Order struct {
	ID              int64           `json:"id"`
	Status          string          `json:"status"`
	Total           decimal.Decimal `json:"total"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentIntentID *string         `json:"payment_intent_id,omitempty"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// RequiresManualRefund reports whether the payout cannot go through the gateway.
func (o Order) RequiresManualRefund() bool {
	return o.PaymentMethod == PaymentMethodCOD || o.PaymentIntentID == nil || *o.PaymentIntentID == ""
}

// OrderItem is a purchased line with the prices and cost recorded at purchase time.
type OrderItem struct {
	ID              int64            `json:"id"`
	OrderID         int64            `json:"order_id"`
	VariantID       int64            `json:"variant_id"`
	WarehouseID     *int64           `json:"warehouse_id,omitempty"`
	Quantity        int              `json:"quantity"`
	UnitPrice       decimal.Decimal  `json:"unit_price"`
	DiscountedPrice *decimal.Decimal `json:"discounted_price,omitempty"`
	UnitCost        decimal.Decimal  `json:"unit_cost"`
}

// EffectivePrice is the price the customer actually paid per unit.
func (i OrderItem) EffectivePrice() decimal.Decimal {
	if i.DiscountedPrice != nil {
		return *i.DiscountedPrice
	}
	return i.UnitPrice
}

// Status of a return request.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCompleted Status = "COMPLETED"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusCompleted},
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCompleted:
		return true
	default:
		return false
	}
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

// Guard rejects any transition missing from the table.
func Guard(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
	}
	return nil
}

// Request is a customer return request.
type Request struct {
	ID                       int64            `json:"id"`
	OrderID                  int64            `json:"order_id"`
	Status                   Status           `json:"status"`
	Reason                   string           `json:"reason"`
	Description              string           `json:"description,omitempty"`
	RefundAmount             *decimal.Decimal `json:"refund_amount,omitempty"`
	RequiresManualProcessing bool             `json:"requires_manual_processing"`
	AdminNote                *string          `json:"admin_note,omitempty"`
	TransactionRef           *string          `json:"transaction_ref,omitempty"`
	RequestedBy              int64            `json:"requested_by"`
	ApprovedBy               *int64           `json:"approved_by,omitempty"`
	RejectedBy               *int64           `json:"rejected_by,omitempty"`
	CompletedBy              *int64           `json:"completed_by,omitempty"`
	CreatedAt                time.Time        `json:"created_at"`
	ApprovedAt               *time.Time       `json:"approved_at,omitempty"`
	RejectedAt               *time.Time       `json:"rejected_at,omitempty"`
	CompletedAt              *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt                time.Time        `json:"updated_at"`
	Items                    []Item           `json:"items"`
}

// Reference tags inventory logs and journal entries produced by the request.
func (r Request) Reference() string {
	return fmt.Sprintf("RET-%06d", r.ID)
}

// Item is one returned order line. Legacy requests carry none.
type Item struct {
	ID          int64 `json:"id"`
	RequestID   int64 `json:"return_request_id"`
	OrderItemID int64 `json:"order_item_id"`
	Quantity    int   `json:"quantity"`
}

// Eligibility answers whether an order can still be returned.
type Eligibility struct {
	Eligible        bool            `json:"eligible"`
	Reason          string          `json:"reason,omitempty"`
	DaysRemaining   int             `json:"days_remaining"`
	MaxRefundAmount decimal.Decimal `json:"max_refund_amount"`
}

// CreateInput opens a return request.
type CreateInput struct {
	OrderID     int64        `json:"order_id" validate:"required,gt=0"`
	Reason      string       `json:"reason" validate:"required,min=3,max=200"`
	Description string       `json:"description" validate:"max=2000"`
	Items       []CreateItem `json:"items" validate:"required,min=1,dive"`
}

// CreateItem selects a quantity of one order line.
type CreateItem struct {
	OrderItemID int64 `json:"order_item_id" validate:"required,gt=0"`
	Quantity    int   `json:"quantity" validate:"required,gt=0"`
}

// ApproveInput optionally overrides the computed refund amount.
type ApproveInput struct {
	Amount *decimal.Decimal `json:"amount"`
}

// RejectInput carries the rejection reason shown to the customer.
type RejectInput struct {
	Reason string `json:"reason" validate:"required"`
}

// CompleteInput carries the payout reference, when there is one.
type CompleteInput struct {
	TransactionRef *string `json:"transaction_ref" validate:"omitempty,max=200"`
}

// Completion summarises what CompleteRefund moved.
type Completion struct {
	Request        Request         `json:"request"`
	RefundAmount   decimal.Decimal `json:"refund_amount"`
	COGSReversed   decimal.Decimal `json:"cogs_reversed"`
	Legacy         bool            `json:"legacy"`
	LedgerReversed bool            `json:"ledger_reversed"`
	RevenueEntryID *int64          `json:"revenue_entry_id,omitempty"`
	COGSEntryID    *int64          `json:"cogs_entry_id,omitempty"`
	RestockedUnits int             `json:"restocked_units"`
}

// ListFilter narrows request listings.
type ListFilter struct {
	Status  Status
	Page    int
	PerPage int
}

// ListResult is one page of requests.
type ListResult struct {
	Requests   []Request         `json:"requests"`
	Pagination shared.Pagination `json:"pagination"`
}

// MinRejectReasonLength is the shortest accepted rejection reason.
const MinRejectReasonLength = 10

var (
	// ErrOrderNotFound indicates a missing order.
	ErrOrderNotFound = shared.NewNotFoundError("returns: order not found")
	// ErrRequestNotFound indicates a missing return request.
	ErrRequestNotFound = shared.NewNotFoundError("returns: return request not found")
	// ErrNotDelivered rejects orders that have not reached the customer.
	ErrNotDelivered = shared.NewStateError("returns: only delivered orders can be returned")
	// ErrRequestExists rejects a second request for the same order.
	ErrRequestExists = shared.NewStateError("returns: a return request already exists for this order")
	// ErrWindowExpired rejects requests outside the refund window.
	ErrWindowExpired = shared.NewStateError("returns: refund window expired")
	// ErrInvalidState indicates a transition missing from the table.
	ErrInvalidState = shared.NewStateError("returns: invalid status transition")
	// ErrUnknownOrderItem rejects items that do not belong to the order.
	ErrUnknownOrderItem = shared.NewValidationError("returns: item does not belong to the order")
	// ErrQuantityExceedsPurchased rejects returning more than was bought.
	ErrQuantityExceedsPurchased = shared.NewValidationError("returns: quantity exceeds purchased quantity")
	// ErrDuplicateItem rejects the same order line listed twice.
	ErrDuplicateItem = shared.NewValidationError("returns: order item listed twice")
	// ErrInvalidAmount rejects a non-positive refund amount.
	ErrInvalidAmount = shared.NewValidationError("returns: refund amount must be positive")
	// ErrAmountExceedsTotal rejects refunding more than the order total.
	ErrAmountExceedsTotal = shared.NewValidationError("returns: refund amount exceeds order total")
	// ErrRejectReasonTooShort rejects a terse rejection.
	ErrRejectReasonTooShort = shared.NewValidationError(fmt.Sprintf("returns: rejection reason must be at least %d characters", MinRejectReasonLength))
	// ErrOrphanItem indicates a stored return item pointing at a line the order no longer has.
	ErrOrphanItem = shared.NewIntegrityError("returns: return item references unknown order item")
)
