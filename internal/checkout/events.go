package checkout

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderPaid     = "order.paid"
	EventOrderRefunded = "order.refunded"
)

// OrderEvent is the outbox payload for order state changes.
type OrderEvent struct {
	OrderID    uuid.UUID  `json:"orderId"`
	OrderRef   string     `json:"orderRef"`
	OrderName  string     `json:"orderName"`
	UserID     *uuid.UUID `json:"userId,omitempty"`
	PaymentID  uuid.UUID  `json:"paymentId"`
	Amount     int64      `json:"amount"`
	Method     string     `json:"method"`
	OccurredAt time.Time  `json:"occurredAt"`
}
