package domain

import "time"

type PriceLine struct {
	Quantity      int
	UnitPrice     int64
	DiscountPrice int64
}

type PriceInput struct {
	Lines           []PriceLine
	Coupon          *CouponTemplate
	RequestedPoints int64
	PointBalance    int64
	Now             time.Time
}

type PriceBreakdown struct {
	BaseTotal      int64
	CouponDiscount int64
	UsablePoints   int64
	FinalAmount    int64
}

func (p PriceBreakdown) Free() bool { return p.FinalAmount == 0 }

// Calculate prices a cart. The coupon is applied before points, so the point
// cap is whatever the coupon leaves of the base total. It has no side
// effects and must be re-run on fresh data at every protocol step.
func Calculate(in PriceInput) PriceBreakdown {
	var base int64
	for _, l := range in.Lines {
		if l.Quantity <= 0 {
			continue
		}
		base += int64(l.Quantity) * effectivePrice(l.UnitPrice, l.DiscountPrice)
	}

	discount := couponDiscount(in.Coupon, base, in.Now)

	points := minInt64(in.RequestedPoints, in.PointBalance, maxInt64(0, base-discount))
	if points < 0 {
		points = 0
	}

	final := base - discount - points
	if final < 0 {
		final = 0
	}
	return PriceBreakdown{
		BaseTotal:      base,
		CouponDiscount: discount,
		UsablePoints:   points,
		FinalAmount:    final,
	}
}

func couponDiscount(t *CouponTemplate, base int64, now time.Time) int64 {
	if t == nil || base <= 0 || t.Expired(now) {
		return 0
	}
	var d int64
	switch t.Type {
	case CouponFixed:
		d = minInt64(t.Amount, base)
	case CouponPercent:
		d = base * int64(t.Percent) / 100
	}
	if d < 0 {
		return 0
	}
	if d > base {
		return base
	}
	return d
}

func effectivePrice(unit, discount int64) int64 {
	if discount > 0 && discount < unit {
		return discount
	}
	return unit
}

func minInt64(v int64, rest ...int64) int64 {
	for _, r := range rest {
		if r < v {
			v = r
		}
	}
	return v
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
