package domain

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderCart     OrderStatus = "cart"
	OrderPending  OrderStatus = "pending"
	OrderPaid     OrderStatus = "paid"
	OrderRefunded OrderStatus = "refunded"
)

var transitions = map[OrderStatus]OrderStatus{
	OrderPending:  OrderCart,
	OrderPaid:     OrderPending,
	OrderRefunded: OrderPaid,
}

// CanTransition reports whether to may directly follow from. Free checkout
// creates the order already pending inside the same transaction that pays
// it, so there is no cart→paid edge.
func CanTransition(from, to OrderStatus) bool {
	pred, ok := transitions[to]
	return ok && pred == from
}

// Transition returns ErrInvalidOrderState when from→to is not an edge of
// the order state machine.
func Transition(from, to OrderStatus) error {
	if !CanTransition(from, to) {
		return errors.Wrapf(ErrInvalidOrderState, "%s -> %s", from, to)
	}
	return nil
}

// NewPendingOrder snapshots cart lines into a pending order carrying the
// amounts computed by Calculate.
func NewPendingOrder(owner Owner, lines []CartLine, price PriceBreakdown, couponID *uuid.UUID, orderName string) Order {
	id := uuid.New()
	ol := make([]OrderLine, len(lines))
	for i, l := range lines {
		ol[i] = OrderLine{
			ID:            uuid.New(),
			OrderID:       id,
			SessionID:     l.SessionID,
			ProductID:     l.ProductID,
			Title:         l.Title,
			Quantity:      l.Quantity,
			UnitPrice:     l.UnitPrice,
			DiscountPrice: l.DiscountPrice,
		}
	}
	return Order{
		ID:             id,
		Owner:          owner,
		OrderRef:       NewOrderRef(),
		OrderName:      orderName,
		Status:         OrderPending,
		BaseAmount:     price.BaseTotal,
		CouponDiscount: price.CouponDiscount,
		UsedPoint:      price.UsablePoints,
		TotalAmount:    price.FinalAmount,
		CouponID:       couponID,
		Lines:          ol,
	}
}

// NewOrderRef returns the opaque reference handed to the payment gateway.
func NewOrderRef() string {
	return "ord_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// OrderName renders the display name shown on the gateway's payment page.
func OrderName(first string, lines int) string {
	if lines <= 1 {
		return first
	}
	return fmt.Sprintf("%s 외 %d건", first, lines-1)
}

// PriceLines converts persisted order lines back into calculator input.
func PriceLines(lines []OrderLine) []PriceLine {
	out := make([]PriceLine, len(lines))
	for i, l := range lines {
		out[i] = PriceLine{Quantity: l.Quantity, UnitPrice: l.UnitPrice, DiscountPrice: l.DiscountPrice}
	}
	return out
}

func CartPriceLines(lines []CartLine) []PriceLine {
	out := make([]PriceLine, len(lines))
	for i, l := range lines {
		out[i] = PriceLine{Quantity: l.Quantity, UnitPrice: l.UnitPrice, DiscountPrice: l.DiscountPrice}
	}
	return out
}
