package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/booking-checkout/internal/domain"
)

// CreatePayment inserts the payment row. A second row for the same gateway
// payment key or the same order violates a unique index and is reported as
// domain.ErrAlreadyProcessed.
func (t *txRepo) CreatePayment(ctx context.Context, p *domain.Payment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO payments (id, order_id, amount, currency, payment_method, status, payment_key,
			external_order_ref, method_detail, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, p.ID, p.OrderID, p.Amount, p.Currency, p.Method.String(), string(p.Status), p.PaymentKey,
		p.ExternalOrderRef, p.MethodDetail, p.ApprovedAt).Scan(&p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.Wrapf(domain.ErrAlreadyProcessed, "payment key %s", p.PaymentKey)
	}
	return err
}

func (t *txRepo) MarkPaymentRefunded(ctx context.Context, paymentID uuid.UUID) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE payments SET status = 'refunded', updated_at = now() WHERE id = $1 AND status = 'paid'
	`, paymentID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrIntegrity, "payment %s missing or not paid", paymentID)
	}
	return nil
}

func (r *Repository) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	var p domain.Payment
	var method, status string
	err := r.pool.QueryRow(ctx, `
		SELECT id, order_id, amount, currency, payment_method, status, payment_key, external_order_ref,
		       method_detail, approved_at, created_at, updated_at
		FROM payments WHERE id = $1
	`, id).Scan(&p.ID, &p.OrderID, &p.Amount, &p.Currency, &method, &status, &p.PaymentKey, &p.ExternalOrderRef,
		&p.MethodDetail, &p.ApprovedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Method, err = domain.ParsePaymentMethod(method)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrIntegrity, "payment %s: stored method %q", id, method)
	}
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}
