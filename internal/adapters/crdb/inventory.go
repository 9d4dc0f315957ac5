package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/booking-checkout/internal/domain"
)

func (t *txRepo) lockSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	s := domain.Session{ID: sessionID}
	err := t.tx.QueryRow(ctx, `
		SELECT product_id, total_spots, remaining_spots FROM sessions WHERE id = $1 FOR UPDATE
	`, sessionID).Scan(&s.ProductID, &s.TotalSpots, &s.RemainingSpots)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "session %s", sessionID)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Reserve takes quantity seats from the session under an exclusive row
// lock. Unlimited sessions are left untouched.
func (t *txRepo) Reserve(ctx context.Context, sessionID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return errors.Wrapf(domain.ErrInvalidInput, "quantity %d", quantity)
	}
	s, err := t.lockSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.Unlimited() {
		return nil
	}
	if s.RemainingSpots < quantity {
		return errors.Wrapf(domain.ErrInsufficientInventory, "session %s: %d left, %d requested", sessionID, s.RemainingSpots, quantity)
	}
	_, err = t.tx.Exec(ctx, `
		UPDATE sessions SET remaining_spots = remaining_spots - $2 WHERE id = $1
	`, sessionID, quantity)
	return err
}

// Release gives quantity seats back, never above total_spots.
func (t *txRepo) Release(ctx context.Context, sessionID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return errors.Wrapf(domain.ErrInvalidInput, "quantity %d", quantity)
	}
	s, err := t.lockSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.Unlimited() {
		return nil
	}
	_, err = t.tx.Exec(ctx, `
		UPDATE sessions SET remaining_spots = LEAST(remaining_spots + $2, total_spots) WHERE id = $1
	`, sessionID, quantity)
	return err
}
