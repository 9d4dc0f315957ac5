package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/booking-checkout/internal/domain"
	"github.com/robertarktes/booking-checkout/internal/observability"
	"golang.org/x/sync/errgroup"
)

const (
	ResultFinalized          = "finalized"
	ResultCompensated        = "compensated"
	ResultCompensationFailed = "compensation_failed"
	ResultNoPayment          = "no_payment"
	ResultAwaitingDeposit    = "awaiting_deposit"
	ResultNotSettled         = "not_settled"
	ResultAmountMismatch     = "amount_mismatch"
	ResultAlreadyProcessed   = "already_processed"
	ResultError              = "error"
)

// Reconciler closes the window between a gateway confirmation and the local
// commit. It looks up stale pending orders on the gateway and either
// finalises them, cancels their gateway payment, or leaves them alone.
type Reconciler struct {
	svc     *Service
	after   time.Duration
	batch   int
	workers int
}

func NewReconciler(svc *Service, after time.Duration, batch, workers int) *Reconciler {
	if batch <= 0 {
		batch = 100
	}
	if workers <= 0 {
		workers = 4
	}
	return &Reconciler{svc: svc, after: after, batch: batch, workers: workers}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.svc.logger.WithError(err).Error("reconcile sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep visits one batch of stale pending orders and returns how many
// ended in each result.
func (r *Reconciler) Sweep(ctx context.Context) (map[string]int, error) {
	ctx, span := tracer.Start(ctx, "checkout.Reconcile")
	defer span.End()

	orders, err := r.svc.store.StalePending(ctx, r.svc.now().Add(-r.after), r.batch)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	summary := make(map[string]int)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range orders {
		order := &orders[i]
		g.Go(func() error {
			result := r.reconcile(gctx, order)
			observability.ReconcileTotal.WithLabelValues(result).Inc()
			if result != ResultFinalized {
				if err := r.svc.store.MarkReconciled(gctx, order.ID, r.svc.now()); err != nil {
					r.svc.logger.WithError(err).WithField("order_ref", order.OrderRef).Warn("mark reconciled failed")
				}
			}
			mu.Lock()
			summary[result]++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	if len(orders) > 0 {
		r.svc.logger.WithField("summary", summary).Info("reconcile sweep finished")
	}
	return summary, nil
}

func (r *Reconciler) reconcile(ctx context.Context, order *domain.Order) string {
	log := r.svc.logger.WithField("order_ref", order.OrderRef)

	gp, err := r.svc.gateway.Lookup(ctx, order.OrderRef)
	if errors.Is(err, domain.ErrNotFound) {
		return ResultNoPayment
	}
	if err != nil {
		log.WithError(err).Warn("gateway lookup failed")
		return ResultError
	}
	if err := gp.Settled(); err != nil {
		if errors.Is(err, domain.ErrPaymentPending) {
			return ResultAwaitingDeposit
		}
		return ResultNotSettled
	}
	if gp.Amount != order.TotalAmount {
		log.WithFields(map[string]interface{}{
			"gateway_amount": gp.Amount,
			"order_amount":   order.TotalAmount,
		}).Error("gateway amount differs from order total")
		return ResultAmountMismatch
	}

	payment := r.svc.newPayment(order, gp)
	err = r.svc.store.InTx(ctx, func(tx Tx) error {
		return r.svc.finalize(ctx, tx, order.ID, &payment)
	})
	switch {
	case err == nil:
		log.WithField("payment_id", payment.ID.String()).Info("pending order finalised from gateway state")
		r.svc.audit(ctx, "checkout.reconciled", order.Owner, map[string]interface{}{
			"order_id":   order.ID.String(),
			"payment_id": payment.ID.String(),
		})
		return ResultFinalized
	case errors.Is(err, domain.ErrAlreadyProcessed):
		return ResultAlreadyProcessed
	case compensable(err):
		if r.svc.compensate(ctx, order, gp.PaymentKey, err) != nil {
			return ResultCompensationFailed
		}
		return ResultCompensated
	default:
		log.WithError(err).Error("reconcile finalise failed")
		return ResultError
	}
}
