package notify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/robertarktes/booking-checkout/internal/checkout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	paid, refunded []checkout.OrderEvent
}

func (r *recorder) OrderPaid(_ context.Context, ev checkout.OrderEvent) error {
	r.paid = append(r.paid, ev)
	return nil
}

func (r *recorder) OrderRefunded(_ context.Context, ev checkout.OrderEvent) error {
	r.refunded = append(r.refunded, ev)
	return nil
}

func TestDispatcherRoutesByEventType(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec)
	ev := checkout.OrderEvent{OrderID: uuid.New(), OrderRef: "ord_1", Amount: 5000}
	body, err := json.Marshal(ev)
	require.NoError(t, err)

	require.NoError(t, d.Handle(context.Background(), checkout.EventOrderPaid, body))
	require.NoError(t, d.Handle(context.Background(), checkout.EventOrderRefunded, body))
	require.NoError(t, d.Handle(context.Background(), "order.shipped", body))

	require.Len(t, rec.paid, 1)
	assert.Equal(t, ev.OrderID, rec.paid[0].OrderID)
	assert.Len(t, rec.refunded, 1)
}

func TestDispatcherRejectsMalformedBody(t *testing.T) {
	d := NewDispatcher(&recorder{})
	assert.Error(t, d.Handle(context.Background(), checkout.EventOrderPaid, []byte("not json")))
}
