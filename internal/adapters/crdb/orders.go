package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/booking-checkout/internal/domain"
)

const orderColumns = `id, user_id, guest_token, order_ref, order_name, status, base_amount,
	coupon_discount, used_point, total_amount, coupon_id, payment_id, reconciled_at, created_at, updated_at`

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var userID *uuid.UUID
	var guest, status string
	err := row.Scan(&o.ID, &userID, &guest, &o.OrderRef, &o.OrderName, &status, &o.BaseAmount,
		&o.CouponDiscount, &o.UsedPoint, &o.TotalAmount, &o.CouponID, &o.PaymentID, &o.ReconciledAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Owner = ownerFromColumns(userID, guest)
	o.Status = domain.OrderStatus(status)
	return &o, nil
}

func loadLines(ctx context.Context, q querier, orderID uuid.UUID) ([]domain.OrderLine, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, session_id, product_id, title, quantity, unit_price, discount_price
		FROM order_lines WHERE order_id = $1 ORDER BY session_id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.SessionID, &l.ProductID, &l.Title, &l.Quantity, &l.UnitPrice, &l.DiscountPrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func getOrder(ctx context.Context, q querier, where string, arg any) (*domain.Order, error) {
	order, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if err != nil {
		return nil, err
	}
	order.Lines, err = loadLines(ctx, q, order.ID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return getOrder(ctx, r.pool, "id = $1", id)
}

func (r *Repository) GetOrderByRef(ctx context.Context, ref string) (*domain.Order, error) {
	return getOrder(ctx, r.pool, "order_ref = $1", ref)
}

// StalePending returns pending orders created before the cutoff. Orders no
// sweep has visited come first, then the least recently visited, so a batch
// full of abandoned checkouts cannot hide newer ones. Lines are loaded so
// callers can recompute amounts.
func (r *Repository) StalePending(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE status = 'pending' AND created_at < $1
		ORDER BY reconciled_at ASC NULLS FIRST, created_at ASC LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, *o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		orders[i].Lines, err = loadLines(ctx, r.pool, orders[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// MarkReconciled records that a sweep visited a still-pending order.
func (r *Repository) MarkReconciled(ctx context.Context, orderID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE orders SET reconciled_at = $2, reconcile_attempts = reconcile_attempts + 1
		WHERE id = $1 AND status = 'pending'
	`, orderID, at)
	return err
}

// CreatePending inserts the order and its lines. The order must be in the
// pending state; the store never creates paid orders directly.
func (t *txRepo) CreatePending(ctx context.Context, order *domain.Order) error {
	if err := domain.Transition(domain.OrderCart, order.Status); err != nil {
		return err
	}
	userID, guest := ownerColumns(order.Owner)
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders (id, user_id, guest_token, order_ref, order_name, status, base_amount,
			coupon_discount, used_point, total_amount, coupon_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, order.ID, userID, guest, order.OrderRef, order.OrderName, string(order.Status), order.BaseAmount,
		order.CouponDiscount, order.UsedPoint, order.TotalAmount, order.CouponID).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "insert order")
	}

	b := &pgx.Batch{}
	for _, l := range order.Lines {
		b.Queue(`
			INSERT INTO order_lines (id, order_id, session_id, product_id, title, quantity, unit_price, discount_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, l.ID, order.ID, l.SessionID, l.ProductID, l.Title, l.Quantity, l.UnitPrice, l.DiscountPrice)
	}
	return errors.Wrap(t.tx.SendBatch(ctx, b).Close(), "insert order lines")
}

// LoadForUpdate locks the order row for the rest of the transaction.
func (t *txRepo) LoadForUpdate(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return getOrder(ctx, t.tx, "id = $1 FOR UPDATE", orderID)
}

func (t *txRepo) MarkPaid(ctx context.Context, orderID, paymentID uuid.UUID, amount int64) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE orders SET status = 'paid', payment_id = $2, total_amount = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, orderID, paymentID, amount)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrInvalidOrderState, "order %s is not pending", orderID)
	}
	return nil
}

func (t *txRepo) MarkRefunded(ctx context.Context, orderID uuid.UUID) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE orders SET status = 'refunded', updated_at = now()
		WHERE id = $1 AND status = 'paid'
	`, orderID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrInvalidOrderState, "order %s is not paid", orderID)
	}
	return nil
}
