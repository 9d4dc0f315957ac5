package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/booking-checkout/internal/domain"
)

func (r *Repository) getCoupon(ctx context.Context, couponID uuid.UUID) (*domain.Coupon, error) {
	var c domain.Coupon
	var kind string
	var isUsed int
	err := r.pool.QueryRow(ctx, `
		SELECT c.id, c.user_id, c.is_used, c.used_at,
		       t.id, t.name, t.discount_type, t.discount_amount, t.discount_percent, t.expires_at
		FROM coupons c JOIN coupon_templates t ON t.id = c.template_id
		WHERE c.id = $1
	`, couponID).Scan(&c.ID, &c.UserID, &isUsed, &c.UsedAt,
		&c.Template.ID, &c.Template.Name, &kind, &c.Template.Amount, &c.Template.Percent, &c.Template.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCouponNotFound
	}
	if err != nil {
		return nil, err
	}
	c.IsUsed = isUsed == 1
	c.Template.Type = domain.CouponType(kind)
	return &c, nil
}

// ValidateCoupon returns the coupon's discount descriptor when userID may
// apply it at now. It never mutates state.
func (r *Repository) ValidateCoupon(ctx context.Context, couponID, userID uuid.UUID, now time.Time) (*domain.CouponTemplate, error) {
	c, err := r.getCoupon(ctx, couponID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, domain.ErrCouponNotOwned
	}
	if c.Template.Expired(now) {
		return nil, domain.ErrCouponExpired
	}
	if c.IsUsed {
		return nil, domain.ErrCouponAlreadyUsed
	}
	return &c.Template, nil
}

// ConsumeCoupon flips is_used exactly once. Callers run it in the same
// transaction that marks the consuming order paid.
func (t *txRepo) ConsumeCoupon(ctx context.Context, couponID, userID uuid.UUID) error {
	var owner uuid.UUID
	var isUsed int
	err := t.tx.QueryRow(ctx, `
		SELECT user_id, is_used FROM coupons WHERE id = $1 FOR UPDATE
	`, couponID).Scan(&owner, &isUsed)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrCouponNotFound
	}
	if err != nil {
		return err
	}
	if owner != userID {
		return domain.ErrCouponNotOwned
	}
	if isUsed == 1 {
		return domain.ErrCouponAlreadyUsed
	}
	_, err = t.tx.Exec(ctx, `UPDATE coupons SET is_used = 1, used_at = now() WHERE id = $1`, couponID)
	return err
}

func (r *Repository) PointBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::INT8 FROM point_ledger WHERE user_id = $1
	`, userID).Scan(&balance)
	return balance, err
}

// LockedPointBalance sums the user's ledger while holding locks on the
// rows it read, so a concurrent debit for the same user has to wait.
func (t *txRepo) LockedPointBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	rows, err := t.tx.Query(ctx, `SELECT amount FROM point_ledger WHERE user_id = $1 FOR UPDATE`, userID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var balance int64
	for rows.Next() {
		var amount int64
		if err := rows.Scan(&amount); err != nil {
			return 0, err
		}
		balance += amount
	}
	return balance, rows.Err()
}

// DebitPoints appends a negative ledger entry. It does not check the
// balance; callers verify it with LockedPointBalance first.
func (t *txRepo) DebitPoints(ctx context.Context, entry domain.PointEntry) error {
	if entry.Amount <= 0 {
		return errors.Wrapf(domain.ErrInvalidInput, "debit amount %d", entry.Amount)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO point_ledger (id, user_id, amount, kind, description, order_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.UserID, -entry.Amount, string(domain.PointDebit), entry.Description, entry.OrderID)
	return err
}
