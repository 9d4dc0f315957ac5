package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redismock/v9"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	redisadapter "github.com/robertarktes/booking-checkout/internal/adapters/redis"
	"github.com/robertarktes/booking-checkout/internal/checkout"
	"github.com/robertarktes/booking-checkout/internal/domain"
	"github.com/robertarktes/booking-checkout/internal/idempotency"
	"github.com/robertarktes/booking-checkout/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type fakeCheckout struct {
	prepare     checkout.PrepareResult
	result      checkout.Result
	order       *domain.Order
	err         error
	lastCart    checkout.CartRequest
	lastConfirm checkout.ConfirmRequest
	refunded    []uuid.UUID
	calls       int
}

func (f *fakeCheckout) Prepare(_ context.Context, req checkout.CartRequest) (checkout.PrepareResult, error) {
	f.calls++
	f.lastCart = req
	return f.prepare, f.err
}

func (f *fakeCheckout) Confirm(_ context.Context, req checkout.ConfirmRequest) (checkout.Result, error) {
	f.calls++
	f.lastConfirm = req
	return f.result, f.err
}

func (f *fakeCheckout) FreeCheckout(_ context.Context, req checkout.CartRequest) (checkout.Result, error) {
	f.calls++
	f.lastCart = req
	return f.result, f.err
}

func (f *fakeCheckout) Refund(_ context.Context, orderID uuid.UUID) error {
	f.calls++
	f.refunded = append(f.refunded, orderID)
	return f.err
}

func (f *fakeCheckout) Order(_ context.Context, owner domain.Owner, admin bool, orderID uuid.UUID) (*domain.Order, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if !admin && f.order.Owner != owner {
		return nil, domain.ErrOwnershipMismatch
	}
	return f.order, nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newTestRouter(svc Checkout, idemp *idempotency.Idempotency, probes map[string]Pinger) http.Handler {
	h := NewHandlers(svc, observability.NopLogger(), probes)
	return SetupRouter(h, RouterConfig{JWTSecret: testSecret}, observability.NopLogger(), nil, idemp)
}

func token(t *testing.T, sub uuid.UUID, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  sub.String(),
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func do(t *testing.T, h http.Handler, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestPreparePayFlow(t *testing.T) {
	user := uuid.New()
	line := uuid.New()
	svc := &fakeCheckout{prepare: checkout.PrepareResult{
		Flow: checkout.FlowPay, OrderRef: "ord_1", OrderName: "Tour", Amount: 9000,
		SuccessURL: "https://shop/ok", FailURL: "https://shop/fail",
	}}
	router := newTestRouter(svc, nil, nil)

	w := do(t, router, http.MethodPost, "/checkout/prepare", token(t, user, "user"), map[string]interface{}{
		"cartLineIds": []uuid.UUID{line},
		"pointAmount": 500,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp prepareResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, checkout.FlowPay, resp.Flow)
	assert.Equal(t, "ord_1", resp.OrderRef)
	assert.Equal(t, int64(9000), resp.Amount)
	assert.Equal(t, "https://shop/ok", resp.SuccessURL)

	assert.Equal(t, domain.UserOwner(user), svc.lastCart.Owner)
	assert.Equal(t, []uuid.UUID{line}, svc.lastCart.CartLineIDs)
	assert.Equal(t, int64(500), svc.lastCart.PointAmount)
}

func TestPrepareFreeFlow(t *testing.T) {
	svc := &fakeCheckout{prepare: checkout.PrepareResult{Flow: checkout.FlowFree}}
	router := newTestRouter(svc, nil, nil)

	w := do(t, router, http.MethodPost, "/checkout/prepare", token(t, uuid.New(), "user"), map[string]interface{}{
		"cartLineIds": []uuid.UUID{uuid.New()},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"flow":"FREE","amount":0}`, w.Body.String())
}

func TestGuestTokenIdentifiesCaller(t *testing.T) {
	svc := &fakeCheckout{prepare: checkout.PrepareResult{Flow: checkout.FlowFree}}
	router := newTestRouter(svc, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/checkout/prepare", bytes.NewBufferString(`{"cartLineIds":[]}`))
	req.Header.Set(GuestTokenHeader, "guest-abc")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.GuestOwner("guest-abc"), svc.lastCart.Owner)
}

func TestAuthentication(t *testing.T) {
	svc := &fakeCheckout{}
	router := newTestRouter(svc, nil, nil)

	w := do(t, router, http.MethodPost, "/checkout/prepare", "", map[string]interface{}{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Unauthenticated", decodeError(t, w).Error)

	w = do(t, router, http.MethodPost, "/checkout/prepare", "not-a-jwt", map[string]interface{}{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": uuid.NewString()}).SignedString([]byte("other"))
	require.NoError(t, err)
	w = do(t, router, http.MethodPost, "/checkout/prepare", forged, map[string]interface{}{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Zero(t, svc.calls)
}

func TestConfirmErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"amount mismatch", errors.Wrap(domain.ErrAmountMismatch, "claimed 1"), http.StatusBadRequest, "AmountMismatch", false},
		{"already processed", domain.ErrAlreadyProcessed, http.StatusBadRequest, "AlreadyProcessed", false},
		{"in progress", domain.ErrConfirmInProgress, http.StatusConflict, "ConfirmInProgress", true},
		{"gateway rejected", errors.Mark(errors.New("REJECT_CARD_COMPANY"), domain.ErrGatewayRejected), http.StatusBadGateway, "GatewayRejected", true},
		{"not owner", domain.ErrOwnershipMismatch, http.StatusForbidden, "OwnershipMismatch", false},
		{"sold out", domain.ErrInsufficientInventory, http.StatusBadRequest, "InsufficientInventory", false},
		{"integrity", domain.ErrIntegrity, http.StatusInternalServerError, "IntegrityViolation", false},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "Internal", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&fakeCheckout{err: tc.err}, nil, nil)
			w := do(t, router, http.MethodPost, "/checkout/confirm", token(t, uuid.New(), "user"), confirmRequest{
				PaymentKey: "pk_1", OrderRef: "ord_1", Amount: 1000,
			})
			assert.Equal(t, tc.status, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tc.code, resp.Error)
			assert.Equal(t, tc.retryable, resp.Retryable)
		})
	}
}

func TestConfirmSuccess(t *testing.T) {
	user := uuid.New()
	res := checkout.Result{OrderID: uuid.New(), PaymentID: uuid.New()}
	svc := &fakeCheckout{result: res}
	router := newTestRouter(svc, nil, nil)

	w := do(t, router, http.MethodPost, "/checkout/confirm", token(t, user, "user"), confirmRequest{
		PaymentKey: "pk_1", OrderRef: "ord_1", Amount: 1000,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var got resultResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, res.OrderID, got.OrderID)
	assert.Equal(t, res.PaymentID, got.PaymentID)
	assert.Equal(t, checkout.ConfirmRequest{Owner: domain.UserOwner(user), PaymentKey: "pk_1", OrderRef: "ord_1", Amount: 1000}, svc.lastConfirm)
}

func TestConfirmRequiresFields(t *testing.T) {
	svc := &fakeCheckout{}
	router := newTestRouter(svc, nil, nil)

	w := do(t, router, http.MethodPost, "/checkout/confirm", token(t, uuid.New(), "user"), confirmRequest{Amount: 1000})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidInput", decodeError(t, w).Error)
	assert.Zero(t, svc.calls)
}

func TestRefundRequiresAdmin(t *testing.T) {
	svc := &fakeCheckout{}
	router := newTestRouter(svc, nil, nil)
	orderID := uuid.New()

	w := do(t, router, http.MethodPost, "/admin/orders/"+orderID.String()+"/refund", token(t, uuid.New(), "user"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, svc.refunded)

	w = do(t, router, http.MethodPost, "/admin/orders/"+orderID.String()+"/refund", token(t, uuid.New(), RoleAdmin), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
	assert.Equal(t, []uuid.UUID{orderID}, svc.refunded)
}

func TestRefundInvalidState(t *testing.T) {
	svc := &fakeCheckout{err: errors.Wrap(domain.ErrInvalidOrderState, "pending -> refunded")}
	router := newTestRouter(svc, nil, nil)

	w := do(t, router, http.MethodPost, "/admin/orders/"+uuid.NewString()+"/refund", token(t, uuid.New(), RoleAdmin), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "InvalidOrderState", decodeError(t, w).Error)
}

func TestGetOrderVisibility(t *testing.T) {
	owner := uuid.New()
	order := &domain.Order{
		ID:          uuid.New(),
		Owner:       domain.UserOwner(owner),
		OrderRef:    "ord_9",
		Status:      domain.OrderPaid,
		TotalAmount: 12000,
		Lines:       []domain.OrderLine{{SessionID: uuid.New(), Quantity: 2, UnitPrice: 6000}},
	}
	router := newTestRouter(&fakeCheckout{order: order}, nil, nil)
	path := "/orders/" + order.ID.String()

	w := do(t, router, http.MethodGet, path, token(t, owner, "user"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got orderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "ord_9", got.OrderRef)
	assert.Equal(t, domain.OrderPaid, got.Status)
	assert.Len(t, got.Lines, 1)

	w = do(t, router, http.MethodGet, path, token(t, uuid.New(), "user"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, router, http.MethodGet, path, token(t, uuid.New(), RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/orders/not-a-uuid", token(t, owner, "user"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReadyz(t *testing.T) {
	router := newTestRouter(&fakeCheckout{}, nil, map[string]Pinger{"crdb": pinger{}, "redis": pinger{}})
	w := do(t, router, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	router = newTestRouter(&fakeCheckout{}, nil, map[string]Pinger{"crdb": pinger{}, "redis": pinger{err: errors.New("dial tcp")}})
	w = do(t, router, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"redis":"dial tcp"}`, w.Body.String())
}

func TestIdempotentReplay(t *testing.T) {
	client, mock := redismock.NewClientMock()
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(client), time.Hour)
	svc := &fakeCheckout{}
	router := newTestRouter(svc, idemp, nil)

	user := uuid.New()
	key := "0123456789abcdef"
	stored, err := json.Marshal(redisadapter.IdempResponse{
		Status:      http.StatusOK,
		ContentType: "application/json",
		Result:      []byte(`{"orderId":"o","paymentId":"p"}`),
	})
	require.NoError(t, err)
	mock.ExpectGet("idemp:" + domain.UserOwner(user).String() + ":/checkout/confirm:" + key).SetVal(string(stored))

	req := httptest.NewRequest(http.MethodPost, "/checkout/confirm", bytes.NewBufferString(`{"paymentKey":"pk","orderRef":"ord","amount":1}`))
	req.Header.Set("Authorization", "Bearer "+token(t, user, "user"))
	req.Header.Set(IdempotencyKeyHeader, key)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, `{"orderId":"o","paymentId":"p"}`, w.Body.String())
	assert.Zero(t, svc.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyKeyTooShort(t *testing.T) {
	client, _ := redismock.NewClientMock()
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(client), time.Hour)
	svc := &fakeCheckout{}
	router := newTestRouter(svc, idemp, nil)

	req := httptest.NewRequest(http.MethodPost, "/checkout/free", bytes.NewBufferString(`{"cartLineIds":[]}`))
	req.Header.Set(GuestTokenHeader, "guest-1")
	req.Header.Set(IdempotencyKeyHeader, "short")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, svc.calls)
}
