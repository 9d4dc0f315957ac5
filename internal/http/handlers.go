package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/booking-checkout/internal/checkout"
	"github.com/robertarktes/booking-checkout/internal/domain"
	"github.com/robertarktes/booking-checkout/internal/observability"
)

// Checkout is the slice of checkout.Service the handlers drive.
type Checkout interface {
	Prepare(ctx context.Context, req checkout.CartRequest) (checkout.PrepareResult, error)
	Confirm(ctx context.Context, req checkout.ConfirmRequest) (checkout.Result, error)
	FreeCheckout(ctx context.Context, req checkout.CartRequest) (checkout.Result, error)
	Refund(ctx context.Context, orderID uuid.UUID) error
	Order(ctx context.Context, owner domain.Owner, admin bool, orderID uuid.UUID) (*domain.Order, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	svc    Checkout
	logger observability.Logger
	probes map[string]Pinger
}

// NewHandlers builds the HTTP handlers. probes are checked by Readyz.
func NewHandlers(svc Checkout, logger observability.Logger, probes map[string]Pinger) *Handlers {
	return &Handlers{svc: svc, logger: logger, probes: probes}
}

type cartRequest struct {
	CartLineIDs []uuid.UUID `json:"cartLineIds"`
	CouponID    *uuid.UUID  `json:"couponId,omitempty"`
	PointAmount int64       `json:"pointAmount,omitempty"`
}

type confirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderRef   string `json:"orderRef"`
	Amount     int64  `json:"amount"`
}

type prepareResponse struct {
	Flow       checkout.Flow `json:"flow"`
	OrderRef   string        `json:"orderRef,omitempty"`
	OrderName  string        `json:"orderName,omitempty"`
	Amount     int64         `json:"amount"`
	SuccessURL string        `json:"successUrl,omitempty"`
	FailURL    string        `json:"failUrl,omitempty"`
}

type resultResponse struct {
	OrderID   uuid.UUID `json:"orderId"`
	PaymentID uuid.UUID `json:"paymentId"`
}

type orderLineResponse struct {
	SessionID     uuid.UUID `json:"sessionId"`
	ProductID     uuid.UUID `json:"productId"`
	Title         string    `json:"title"`
	Quantity      int       `json:"quantity"`
	UnitPrice     int64     `json:"unitPrice"`
	DiscountPrice int64     `json:"discountPrice"`
}

type orderResponse struct {
	ID             uuid.UUID           `json:"id"`
	OrderRef       string              `json:"orderRef"`
	OrderName      string              `json:"orderName"`
	Status         domain.OrderStatus  `json:"status"`
	BaseAmount     int64               `json:"baseAmount"`
	CouponDiscount int64               `json:"couponDiscount"`
	UsedPoint      int64               `json:"usedPoint"`
	TotalAmount    int64               `json:"totalAmount"`
	CouponID       *uuid.UUID          `json:"couponId,omitempty"`
	PaymentID      *uuid.UUID          `json:"paymentId,omitempty"`
	Lines          []orderLineResponse `json:"lines"`
	CreatedAt      time.Time           `json:"createdAt"`
}

func newOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		ID:             o.ID,
		OrderRef:       o.OrderRef,
		OrderName:      o.OrderName,
		Status:         o.Status,
		BaseAmount:     o.BaseAmount,
		CouponDiscount: o.CouponDiscount,
		UsedPoint:      o.UsedPoint,
		TotalAmount:    o.TotalAmount,
		CouponID:       o.CouponID,
		PaymentID:      o.PaymentID,
		Lines:          make([]orderLineResponse, 0, len(o.Lines)),
		CreatedAt:      o.CreatedAt,
	}
	for _, l := range o.Lines {
		resp.Lines = append(resp.Lines, orderLineResponse{
			SessionID:     l.SessionID,
			ProductID:     l.ProductID,
			Title:         l.Title,
			Quantity:      l.Quantity,
			UnitPrice:     l.UnitPrice,
			DiscountPrice: l.DiscountPrice,
		})
	}
	return resp
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Mark(errors.Wrap(err, "decode request body"), domain.ErrInvalidInput)
	}
	return nil
}

func (h *Handlers) cartRequest(r *http.Request) (checkout.CartRequest, error) {
	var body cartRequest
	if err := decode(r, &body); err != nil {
		return checkout.CartRequest{}, err
	}
	id, _ := IdentityFrom(r.Context())
	return checkout.CartRequest{
		Owner:       id.Owner,
		CartLineIDs: body.CartLineIDs,
		CouponID:    body.CouponID,
		PointAmount: body.PointAmount,
	}, nil
}

func (h *Handlers) Prepare(w http.ResponseWriter, r *http.Request) {
	req, err := h.cartRequest(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.svc.Prepare(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if res.Flow == checkout.FlowFree {
		writeJSON(w, http.StatusOK, prepareResponse{Flow: res.Flow})
		return
	}
	writeJSON(w, http.StatusOK, prepareResponse{
		Flow:       res.Flow,
		OrderRef:   res.OrderRef,
		OrderName:  res.OrderName,
		Amount:     res.Amount,
		SuccessURL: res.SuccessURL,
		FailURL:    res.FailURL,
	})
}

func (h *Handlers) Confirm(w http.ResponseWriter, r *http.Request) {
	var body confirmRequest
	if err := decode(r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if body.PaymentKey == "" || body.OrderRef == "" {
		writeError(w, r, h.logger, errors.Wrap(domain.ErrInvalidInput, "paymentKey and orderRef are required"))
		return
	}
	id, _ := IdentityFrom(r.Context())
	res, err := h.svc.Confirm(r.Context(), checkout.ConfirmRequest{
		Owner:      id.Owner,
		PaymentKey: body.PaymentKey,
		OrderRef:   body.OrderRef,
		Amount:     body.Amount,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{OrderID: res.OrderID, PaymentID: res.PaymentID})
}

func (h *Handlers) FreeCheckout(w http.ResponseWriter, r *http.Request) {
	req, err := h.cartRequest(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	res, err := h.svc.FreeCheckout(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{OrderID: res.OrderID, PaymentID: res.PaymentID})
}

func (h *Handlers) Refund(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, errors.Mark(errors.Wrap(err, "order id"), domain.ErrInvalidInput))
		return
	}
	if err := h.svc.Refund(r.Context(), orderID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, errors.Mark(errors.Wrap(err, "order id"), domain.ErrInvalidInput))
		return
	}
	id, _ := IdentityFrom(r.Context())
	order, err := h.svc.Order(r.Context(), id.Owner, id.Admin, orderID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Readyz reports 503 until every dependency answers a ping.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, p := range h.probes {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		observability.FromContext(r.Context(), h.logger).WithField("failed", failed).Warn("not ready")
		writeJSON(w, http.StatusServiceUnavailable, failed)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
