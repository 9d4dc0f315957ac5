package notify

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/booking-checkout/internal/checkout"
	"github.com/robertarktes/booking-checkout/internal/observability"
)

// Notifier sends customer-facing messages for order events. Mail and SMS
// senders live outside this service.
type Notifier interface {
	OrderPaid(ctx context.Context, ev checkout.OrderEvent) error
	OrderRefunded(ctx context.Context, ev checkout.OrderEvent) error
}

// Dispatcher decodes broker messages and routes them to a Notifier.
type Dispatcher struct {
	notifier Notifier
}

func NewDispatcher(n Notifier) *Dispatcher {
	return &Dispatcher{notifier: n}
}

// Handle matches rabbit.Handler. Unknown event types are acknowledged and
// dropped.
func (d *Dispatcher) Handle(ctx context.Context, routingKey string, body []byte) error {
	var ev checkout.OrderEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return errors.Wrapf(err, "decode %s", routingKey)
	}
	switch routingKey {
	case checkout.EventOrderPaid:
		return d.notifier.OrderPaid(ctx, ev)
	case checkout.EventOrderRefunded:
		return d.notifier.OrderRefunded(ctx, ev)
	}
	return nil
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger observability.Logger
}

func NewLogNotifier(logger observability.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) OrderPaid(_ context.Context, ev checkout.OrderEvent) error {
	n.fields(ev).Info("order paid")
	return nil
}

func (n *LogNotifier) OrderRefunded(_ context.Context, ev checkout.OrderEvent) error {
	n.fields(ev).Info("order refunded")
	return nil
}

func (n *LogNotifier) fields(ev checkout.OrderEvent) observability.Logger {
	return n.logger.WithFields(map[string]interface{}{
		"order_id":   ev.OrderID.String(),
		"order_ref":  ev.OrderRef,
		"order_name": ev.OrderName,
		"amount":     ev.Amount,
	})
}
