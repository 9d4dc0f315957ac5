package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/booking-checkout/internal/domain"
	"github.com/robertarktes/booking-checkout/internal/observability"
)

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{domain.ErrEmptyCart, "EmptyCart", http.StatusBadRequest},
	{domain.ErrForeignCartItem, "ForeignCartItem", http.StatusBadRequest},
	{domain.ErrGuestNotAllowed, "GuestNotAllowed", http.StatusBadRequest},
	{domain.ErrAmountBelowMinimum, "AmountBelowMinimum", http.StatusBadRequest},
	{domain.ErrNotFree, "NotFree", http.StatusBadRequest},
	{domain.ErrOwnershipMismatch, "OwnershipMismatch", http.StatusForbidden},
	{domain.ErrAlreadyProcessed, "AlreadyProcessed", http.StatusBadRequest},
	{domain.ErrInvalidOrderState, "InvalidOrderState", http.StatusConflict},
	{domain.ErrAmountMismatch, "AmountMismatch", http.StatusBadRequest},
	{domain.ErrConfirmInProgress, "ConfirmInProgress", http.StatusConflict},
	{domain.ErrInsufficientInventory, "InsufficientInventory", http.StatusBadRequest},
	{domain.ErrInsufficientPoints, "InsufficientPoints", http.StatusBadRequest},
	{domain.ErrCouponNotFound, "CouponNotFound", http.StatusBadRequest},
	{domain.ErrCouponExpired, "CouponExpired", http.StatusBadRequest},
	{domain.ErrCouponNotOwned, "CouponNotOwned", http.StatusBadRequest},
	{domain.ErrCouponAlreadyUsed, "CouponAlreadyUsed", http.StatusBadRequest},
	{domain.ErrGatewayRejected, "GatewayRejected", http.StatusBadGateway},
	{domain.ErrGatewayUnavailable, "GatewayUnavailable", http.StatusBadGateway},
	{domain.ErrPaymentPending, "PaymentPending", http.StatusConflict},
	{domain.ErrSerializationFailure, "Conflict", http.StatusConflict},
	{domain.ErrConflict, "Conflict", http.StatusConflict},
	{domain.ErrNotFound, "NotFound", http.StatusNotFound},
	{domain.ErrInvalidInput, "InvalidInput", http.StatusBadRequest},
	{domain.ErrIntegrity, "IntegrityViolation", http.StatusInternalServerError},
}

func classify(err error) (string, int) {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code, c.status
		}
	}
	return "Internal", http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, logger observability.Logger, err error) {
	code, status := classify(err)
	msg := err.Error()
	log := observability.FromContext(r.Context(), logger).WithError(err).WithField("code", code)
	if status >= 500 && status != http.StatusBadGateway {
		log.Error("request failed")
		msg = http.StatusText(status)
	} else {
		log.Info("request rejected")
	}
	writeJSON(w, status, errorResponse{Error: code, Message: msg, Retryable: domain.Retryable(err)})
}

func writeStatus(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code, Message: http.StatusText(status)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
