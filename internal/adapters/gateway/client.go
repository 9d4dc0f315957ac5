package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/booking-checkout/internal/domain"
	"github.com/robertarktes/booking-checkout/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	StatusDone              = "DONE"
	StatusWaitingForDeposit = "WAITING_FOR_DEPOSIT"
	StatusCanceled          = "CANCELED"
	StatusAborted           = "ABORTED"
	StatusExpired           = "EXPIRED"

	codeAlreadyCanceled = "ALREADY_CANCELED_PAYMENT"
)

type ConfirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderRef   string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

// Payment is the gateway's view of one payment.
type Payment struct {
	PaymentKey string
	OrderRef   string
	Status     string
	Amount     int64
	Currency   string
	Method     domain.PaymentMethod
	ApprovedAt *time.Time
	Detail     string
}

// Settled reports whether the payment is final and collected. A virtual
// account still waiting for its deposit is ErrPaymentPending; every other
// non-terminal or failed status is ErrGatewayRejected.
func (p *Payment) Settled() error {
	switch p.Method {
	case domain.MethodCard, domain.MethodTransfer:
		if p.Status == StatusDone {
			return nil
		}
	case domain.MethodVirtualAccount:
		switch p.Status {
		case StatusDone:
			return nil
		case StatusWaitingForDeposit:
			return errors.Wrapf(domain.ErrPaymentPending, "payment %s", p.PaymentKey)
		}
	default:
		return errors.Wrapf(domain.ErrGatewayRejected, "payment %s: unsupported method %s", p.PaymentKey, p.Method)
	}
	return errors.Wrapf(domain.ErrGatewayRejected, "payment %s: status %s", p.PaymentKey, p.Status)
}

type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Confirm finalises an authorised payment. The returned payment is always
// settled; anything else is reported as an error.
func (c *Client) Confirm(ctx context.Context, req ConfirmRequest) (*Payment, error) {
	var resp paymentResponse
	err := c.do(ctx, "confirm", http.MethodPost, "/v1/payments/confirm", idempotencyKey("confirm", req.PaymentKey), req, &resp)
	if err != nil {
		return nil, err
	}
	p, err := resp.toPayment()
	if err != nil {
		return nil, err
	}
	if err := p.Settled(); err != nil {
		return nil, err
	}
	return p, nil
}

// Cancel cancels the whole payment. Cancelling an already cancelled payment
// succeeds.
func (c *Client) Cancel(ctx context.Context, paymentKey, reason string) error {
	body := map[string]string{"cancelReason": reason}
	err := c.do(ctx, "cancel", http.MethodPost, "/v1/payments/"+url.PathEscape(paymentKey)+"/cancel",
		idempotencyKey("cancel", paymentKey), body, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeAlreadyCanceled {
		return nil
	}
	return err
}

// Lookup fetches the payment attached to an order reference, whatever its
// status. It returns domain.ErrNotFound when the gateway has no payment for
// the reference.
func (c *Client) Lookup(ctx context.Context, orderRef string) (*Payment, error) {
	var resp paymentResponse
	err := c.do(ctx, "lookup", http.MethodGet, "/v1/payments/orders/"+url.PathEscape(orderRef), "", nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.toPayment()
}

// APIError is the gateway's error body.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, op, method, path, idemKey string, in, out interface{}) error {
	start := time.Now()
	outcome := "ok"
	defer func() {
		observability.GatewayDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	}()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal gateway request")
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build gateway request")
	}
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.secretKey+":")))
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		outcome = "unavailable"
		return errors.Mark(errors.Wrapf(err, "gateway %s", op), domain.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		switch {
		case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
			outcome = "not_found"
			return errors.Mark(apiErr, domain.ErrNotFound)
		case resp.StatusCode >= 500:
			outcome = "unavailable"
			return errors.Mark(apiErr, domain.ErrGatewayUnavailable)
		default:
			outcome = "rejected"
			return errors.Mark(apiErr, domain.ErrGatewayRejected)
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		outcome = "unavailable"
		return errors.Mark(errors.Wrap(err, "decode gateway response"), domain.ErrGatewayUnavailable)
	}
	return nil
}

// idempotencyKey derives a stable key from the payment key so a retried
// call is recognised by the gateway.
func idempotencyKey(op, paymentKey string) string {
	sum := sha256.Sum256([]byte(op + ":" + paymentKey))
	return hex.EncodeToString(sum[:])
}

type paymentResponse struct {
	PaymentKey  string `json:"paymentKey"`
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"totalAmount"`
	Currency    string `json:"currency"`
	Method      string `json:"method"`
	ApprovedAt  string `json:"approvedAt"`

	Card *struct {
		Company string `json:"company"`
		Number  string `json:"number"`
	} `json:"card"`
	Transfer *struct {
		BankCode string `json:"bankCode"`
	} `json:"transfer"`
	VirtualAccount *struct {
		Bank          string `json:"bank"`
		AccountNumber string `json:"accountNumber"`
		DueDate       string `json:"dueDate"`
	} `json:"virtualAccount"`
}

func (r paymentResponse) toPayment() (*Payment, error) {
	method, err := domain.ParsePaymentMethod(r.Method)
	if err != nil {
		return nil, errors.Mark(err, domain.ErrGatewayRejected)
	}
	p := &Payment{
		PaymentKey: r.PaymentKey,
		OrderRef:   r.OrderID,
		Status:     r.Status,
		Amount:     r.TotalAmount,
		Currency:   r.Currency,
		Method:     method,
	}
	if r.ApprovedAt != "" {
		if t, err := time.Parse(time.RFC3339, r.ApprovedAt); err == nil {
			p.ApprovedAt = &t
		}
	}
	switch method {
	case domain.MethodCard:
		if r.Card != nil {
			p.Detail = strings.TrimSpace(r.Card.Company + " " + r.Card.Number)
		}
	case domain.MethodTransfer:
		if r.Transfer != nil {
			p.Detail = r.Transfer.BankCode
		}
	case domain.MethodVirtualAccount:
		if r.VirtualAccount != nil {
			p.Detail = strings.TrimSpace(r.VirtualAccount.Bank + " " + r.VirtualAccount.AccountNumber)
		}
	}
	return p, nil
}
