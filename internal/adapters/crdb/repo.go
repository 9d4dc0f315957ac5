package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/booking-checkout/internal/checkout"
	"github.com/robertarktes/booking-checkout/internal/domain"
	"github.com/robertarktes/booking-checkout/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
	CheckViolationCode       = "23514"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithTx runs fn in a SERIALIZABLE transaction. The transaction is rolled
// back on any error from fn; a serialization conflict on any statement or
// on commit surfaces as domain.ErrSerializationFailure.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return mapPgError(err)
	}
	return mapPgError(tx.Commit(ctx))
}

// InTx adapts WithTx to the checkout transaction port.
func (r *Repository) InTx(ctx context.Context, fn func(tx checkout.Tx) error) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&txRepo{tx: tx})
	})
}

// txRepo binds the repository's statements to one open transaction.
type txRepo struct {
	tx pgx.Tx
}

var _ checkout.Tx = (*txRepo)(nil)
var _ checkout.Store = (*Repository)(nil)

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
		return errors.Mark(errors.Wrap(err, "transaction aborted"), domain.ErrSerializationFailure)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == UniqueViolationCode
}

func ownerColumns(o domain.Owner) (*uuid.UUID, string) {
	if o.IsGuest() {
		return nil, o.GuestToken
	}
	id := o.UserID
	return &id, ""
}

func ownerFromColumns(userID *uuid.UUID, guestToken string) domain.Owner {
	if userID != nil {
		return domain.UserOwner(*userID)
	}
	return domain.GuestOwner(guestToken)
}
