package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/booking-checkout/internal/adapters/gateway"
	"github.com/robertarktes/booking-checkout/internal/domain"
)

// Store is the storage handle injected into the Service. Reads outside InTx
// are advisory; every decision that mutates state is re-checked inside a
// transaction.
type Store interface {
	CartLines(ctx context.Context, owner domain.Owner, ids []uuid.UUID) ([]domain.CartLine, error)
	ValidateCoupon(ctx context.Context, couponID, userID uuid.UUID, now time.Time) (*domain.CouponTemplate, error)
	PointBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByRef(ctx context.Context, ref string) (*domain.Order, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	StalePending(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
	MarkReconciled(ctx context.Context, orderID uuid.UUID, at time.Time) error
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of operations available inside one database transaction.
// Row locks taken by LoadForUpdate, Reserve, Release and LockedPointBalance
// are held until the transaction ends.
type Tx interface {
	CreatePending(ctx context.Context, order *domain.Order) error
	LoadForUpdate(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	MarkPaid(ctx context.Context, orderID, paymentID uuid.UUID, amount int64) error
	MarkRefunded(ctx context.Context, orderID uuid.UUID) error

	Reserve(ctx context.Context, sessionID uuid.UUID, quantity int) error
	Release(ctx context.Context, sessionID uuid.UUID, quantity int) error

	CreatePayment(ctx context.Context, p *domain.Payment) error
	MarkPaymentRefunded(ctx context.Context, paymentID uuid.UUID) error

	ConsumeCoupon(ctx context.Context, couponID, userID uuid.UUID) error
	LockedPointBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	DebitPoints(ctx context.Context, entry domain.PointEntry) error

	Emit(ctx context.Context, eventType string, aggregateID uuid.UUID, payload interface{}) error
}

type Gateway interface {
	Confirm(ctx context.Context, req gateway.ConfirmRequest) (*gateway.Payment, error)
	Cancel(ctx context.Context, paymentKey, reason string) error
	Lookup(ctx context.Context, orderRef string) (*gateway.Payment, error)
}

// Locker is an advisory, expiring lock used to keep duplicate confirm
// callbacks from reaching the gateway concurrently.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

type Catalog interface {
	Titles(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]string, error)
}

type Auditor interface {
	Record(ctx context.Context, action string, owner domain.Owner, data map[string]interface{}) error
}
