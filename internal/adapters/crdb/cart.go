package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/booking-checkout/internal/domain"
)

// CartLines loads the requested cart lines. It fails with
// domain.ErrForeignCartItem if any id is unknown or belongs to another
// owner, so callers never price a partial cart.
func (r *Repository) CartLines(ctx context.Context, owner domain.Owner, ids []uuid.UUID) ([]domain.CartLine, error) {
	if len(ids) == 0 {
		return nil, domain.ErrEmptyCart
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, guest_token, session_id, product_id, title, quantity, unit_price, discount_price
		FROM cart_lines WHERE id = ANY($1)
		ORDER BY session_id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[uuid.UUID]struct{}, len(ids))
	var lines []domain.CartLine
	for rows.Next() {
		var l domain.CartLine
		var userID *uuid.UUID
		var guest string
		if err := rows.Scan(&l.ID, &userID, &guest, &l.SessionID, &l.ProductID, &l.Title, &l.Quantity, &l.UnitPrice, &l.DiscountPrice); err != nil {
			return nil, err
		}
		l.Owner = ownerFromColumns(userID, guest)
		if l.Owner != owner {
			return nil, errors.Wrapf(domain.ErrForeignCartItem, "cart line %s", l.ID)
		}
		found[l.ID] = struct{}{}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return nil, errors.Wrapf(domain.ErrForeignCartItem, "cart line %s", id)
		}
	}
	return lines, nil
}
