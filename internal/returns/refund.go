package returns

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RestockLine is one order line going back on the shelf.
type RestockLine struct {
	Item     OrderItem
	Quantity int
}

// Breakdown is the money and stock a completed return moves.
type Breakdown struct {
	Refund decimal.Decimal
	COGS   decimal.Decimal
	// Legacy requests carry no items: every order line is restocked, the order total is refunded
	// and COGS stays untouched because the cost basis is unknown.
	Legacy bool
	Lines  []RestockLine
}

// ComputeRefund prices only the returned lines, at the discounted price and the cost recorded
// at purchase time.
func ComputeRefund(order Order, orderItems []OrderItem, returned []Item) (Breakdown, error) {
	if len(returned) == 0 {
		b := Breakdown{Refund: order.Total.Round(2), COGS: decimal.Zero, Legacy: true}
		for _, item := range orderItems {
			if item.Quantity > 0 {
				b.Lines = append(b.Lines, RestockLine{Item: item, Quantity: item.Quantity})
			}
		}
		return b, nil
	}
	byID := make(map[int64]OrderItem, len(orderItems))
	for _, item := range orderItems {
		byID[item.ID] = item
	}
	b := Breakdown{Refund: decimal.Zero, COGS: decimal.Zero}
	for _, r := range returned {
		item, ok := byID[r.OrderItemID]
		if !ok {
			return Breakdown{}, fmt.Errorf("%w: order item %d", ErrOrphanItem, r.OrderItemID)
		}
		qty := decimal.NewFromInt(int64(r.Quantity))
		b.Refund = b.Refund.Add(item.EffectivePrice().Mul(qty))
		b.COGS = b.COGS.Add(item.UnitCost.Mul(qty))
		b.Lines = append(b.Lines, RestockLine{Item: item, Quantity: r.Quantity})
	}
	b.Refund = b.Refund.Round(2)
	b.COGS = b.COGS.Round(2)
	return b, nil
}

// SplitTax separates the tax embedded in a tax-inclusive amount.
func SplitTax(amount, rate decimal.Decimal) (net, tax decimal.Decimal) {
	if !rate.IsPositive() {
		return amount, decimal.Zero
	}
	net = amount.Div(decimal.NewFromInt(1).Add(rate)).Round(2)
	return net, amount.Sub(net)
}

// Evaluate checks an order against the refund window measured from delivery. The returned error
// is the state error matching the reason, nil when eligible.
func Evaluate(order Order, hasRequest bool, windowDays int, at time.Time) (Eligibility, error) {
	result := Eligibility{MaxRefundAmount: order.Total}
	if order.Status != OrderStatusDelivered || order.DeliveredAt == nil {
		result.Reason = "only delivered orders can be returned"
		return result, ErrNotDelivered
	}
	if hasRequest {
		result.Reason = "a return request already exists for this order"
		return result, ErrRequestExists
	}
	elapsed := int(at.Sub(*order.DeliveredAt) / (24 * time.Hour))
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > windowDays {
		result.Reason = fmt.Sprintf("refund window expired (%d days)", windowDays)
		return result, fmt.Errorf("%w: %d days", ErrWindowExpired, windowDays)
	}
	result.Eligible = true
	result.DaysRemaining = windowDays - elapsed
	return result, nil
}
