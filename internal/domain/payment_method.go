package domain

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// PaymentMethod is the closed set of ways an order can be paid.
type PaymentMethod int

const (
	MethodUnknown PaymentMethod = iota
	MethodCard
	MethodTransfer
	MethodVirtualAccount
	MethodFree
)

func (m PaymentMethod) String() string {
	switch m {
	case MethodCard:
		return "card"
	case MethodTransfer:
		return "transfer"
	case MethodVirtualAccount:
		return "virtual_account"
	case MethodFree:
		return "free"
	default:
		return "unknown"
	}
}

// ParsePaymentMethod accepts both our stored names and the gateway's labels.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "card", "카드", "간편결제":
		return MethodCard, nil
	case "transfer", "계좌이체":
		return MethodTransfer, nil
	case "virtual_account", "virtualaccount", "가상계좌":
		return MethodVirtualAccount, nil
	case "free":
		return MethodFree, nil
	}
	return MethodUnknown, errors.Wrapf(ErrInvalidInput, "unknown payment method %q", s)
}
