package domain

import (
	"time"

	"github.com/google/uuid"
)

// Owner identifies who a cart or order belongs to: a registered user or an
// anonymous guest holding a token.
type Owner struct {
	UserID     uuid.UUID
	GuestToken string
}

func UserOwner(id uuid.UUID) Owner { return Owner{UserID: id} }

func GuestOwner(token string) Owner { return Owner{GuestToken: token} }

func (o Owner) IsGuest() bool { return o.UserID == uuid.Nil }

func (o Owner) Valid() bool { return o.UserID != uuid.Nil || o.GuestToken != "" }

func (o Owner) String() string {
	if o.IsGuest() {
		return "guest:" + o.GuestToken
	}
	return "user:" + o.UserID.String()
}

type CartLine struct {
	ID            uuid.UUID
	Owner         Owner
	SessionID     uuid.UUID
	ProductID     uuid.UUID
	Title         string
	Quantity      int
	UnitPrice     int64
	DiscountPrice int64
}

type Order struct {
	ID             uuid.UUID
	Owner          Owner
	OrderRef       string
	OrderName      string
	Status         OrderStatus
	BaseAmount     int64
	CouponDiscount int64
	UsedPoint      int64
	TotalAmount    int64
	CouponID       *uuid.UUID
	PaymentID      *uuid.UUID
	Lines          []OrderLine
	ReconciledAt   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type OrderLine struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	SessionID     uuid.UUID
	ProductID     uuid.UUID
	Title         string
	Quantity      int
	UnitPrice     int64
	DiscountPrice int64
}

// EffectivePrice is the discount price when it is a real markdown, otherwise
// the unit price.
func (l OrderLine) EffectivePrice() int64 {
	return effectivePrice(l.UnitPrice, l.DiscountPrice)
}

func (l OrderLine) Subtotal() int64 {
	return int64(l.Quantity) * l.EffectivePrice()
}

type PaymentStatus string

const (
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type Payment struct {
	ID               uuid.UUID
	OrderID          uuid.UUID
	Amount           int64
	Currency         string
	Method           PaymentMethod
	Status           PaymentStatus
	PaymentKey       string
	ExternalOrderRef string
	MethodDetail     string
	ApprovedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Session is a dated, bookable occurrence of a product. A nil TotalSpots
// means the session has no seat limit.
type Session struct {
	ID             uuid.UUID
	ProductID      uuid.UUID
	TotalSpots     *int
	RemainingSpots int
}

func (s Session) Unlimited() bool { return s.TotalSpots == nil }

type CouponType string

const (
	CouponFixed   CouponType = "fixed"
	CouponPercent CouponType = "percent"
)

type CouponTemplate struct {
	ID        uuid.UUID
	Name      string
	Type      CouponType
	Amount    int64
	Percent   int
	ExpiresAt *time.Time
}

func (t CouponTemplate) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

type Coupon struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Template CouponTemplate
	IsUsed   bool
	UsedAt   *time.Time
}

type PointKind string

const (
	PointCredit PointKind = "적립"
	PointDebit  PointKind = "사용"
)

type PointEntry struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Amount      int64
	Kind        PointKind
	Description string
	OrderID     *uuid.UUID
	CreatedAt   time.Time
}
