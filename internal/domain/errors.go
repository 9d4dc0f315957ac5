package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")

	ErrEmptyCart          = errors.New("cart is empty")
	ErrForeignCartItem    = errors.New("cart line missing or not owned by caller")
	ErrGuestNotAllowed    = errors.New("coupons and points require a registered user")
	ErrAmountBelowMinimum = errors.New("amount is below the minimum payable amount")
	ErrNotFree            = errors.New("recomputed amount is not zero")
	ErrOwnershipMismatch  = errors.New("order belongs to another owner")

	ErrAlreadyProcessed  = errors.New("order already processed")
	ErrInvalidOrderState = errors.New("invalid order state transition")
	ErrAmountMismatch    = errors.New("amount does not match server total")
	ErrConfirmInProgress = errors.New("confirmation already in progress")

	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrInsufficientPoints    = errors.New("insufficient point balance")

	ErrCouponNotFound    = errors.New("coupon not found")
	ErrCouponExpired     = errors.New("coupon expired")
	ErrCouponNotOwned    = errors.New("coupon not owned by user")
	ErrCouponAlreadyUsed = errors.New("coupon already used")

	ErrGatewayRejected    = errors.New("payment gateway rejected the request")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrPaymentPending     = errors.New("payment awaiting deposit")

	ErrIntegrity = errors.New("integrity violation")
)

// Kind is the coarse error class surfaced to clients.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindStateConflict
	KindResourceExhaustion
	KindExternalFailure
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStateConflict:
		return "state_conflict"
	case KindResourceExhaustion:
		return "resource_exhaustion"
	case KindExternalFailure:
		return "external_failure"
	case KindIntegrity:
		return "integrity"
	default:
		return "internal"
	}
}

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidInput, KindValidation},
	{ErrEmptyCart, KindValidation},
	{ErrForeignCartItem, KindValidation},
	{ErrGuestNotAllowed, KindValidation},
	{ErrAmountBelowMinimum, KindValidation},
	{ErrNotFree, KindValidation},
	{ErrOwnershipMismatch, KindValidation},
	{ErrNotFound, KindValidation},
	{ErrCouponNotFound, KindValidation},
	{ErrCouponExpired, KindValidation},
	{ErrCouponNotOwned, KindValidation},

	{ErrAlreadyProcessed, KindStateConflict},
	{ErrInvalidOrderState, KindStateConflict},
	{ErrAmountMismatch, KindStateConflict},
	{ErrConfirmInProgress, KindStateConflict},
	{ErrCouponAlreadyUsed, KindStateConflict},
	{ErrSerializationFailure, KindStateConflict},
	{ErrConflict, KindStateConflict},

	{ErrInsufficientInventory, KindResourceExhaustion},
	{ErrInsufficientPoints, KindResourceExhaustion},

	{ErrGatewayRejected, KindExternalFailure},
	{ErrGatewayUnavailable, KindExternalFailure},
	{ErrPaymentPending, KindExternalFailure},

	{ErrIntegrity, KindIntegrity},
}

// KindOf classifies err against the sentinel taxonomy. Unknown errors are
// KindInternal.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Retryable reports whether the same request may succeed if sent again
// unchanged.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrSerializationFailure),
		errors.Is(err, ErrConfirmInProgress),
		errors.Is(err, ErrPaymentPending):
		return true
	}
	return KindOf(err) == KindExternalFailure
}
