package checkout

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/booking-checkout/internal/adapters/gateway"
	"github.com/robertarktes/booking-checkout/internal/config"
	"github.com/robertarktes/booking-checkout/internal/domain"
	"github.com/robertarktes/booking-checkout/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("checkout")

type Config struct {
	Currency             string
	MinPayableAmount     int64
	SuccessURL           string
	FailURL              string
	ConfirmLockTTL       time.Duration
	ReleaseSeatsOnRefund bool
	RefundViaGateway     bool
}

func NewConfig(c *config.Config) Config {
	return Config{
		Currency:             c.Currency,
		MinPayableAmount:     c.MinPayableAmount,
		SuccessURL:           c.SuccessURL,
		FailURL:              c.FailURL,
		ConfirmLockTTL:       c.ConfirmLockTTL,
		ReleaseSeatsOnRefund: c.ReleaseSeatsOnRefund,
		RefundViaGateway:     c.RefundViaGateway,
	}
}

// Service runs the checkout protocols. Catalog and Auditor may be nil.
type Service struct {
	cfg     Config
	store   Store
	gateway Gateway
	locker  Locker
	catalog Catalog
	auditor Auditor
	logger  observability.Logger
	now     func() time.Time
}

func NewService(cfg Config, store Store, gw Gateway, locker Locker, catalog Catalog, auditor Auditor, logger observability.Logger) *Service {
	return &Service{
		cfg:     cfg,
		store:   store,
		gateway: gw,
		locker:  locker,
		catalog: catalog,
		auditor: auditor,
		logger:  logger,
		now:     time.Now,
	}
}

type Flow string

const (
	FlowFree Flow = "FREE"
	FlowPay  Flow = "PAY"
)

type CartRequest struct {
	Owner       domain.Owner
	CartLineIDs []uuid.UUID
	CouponID    *uuid.UUID
	PointAmount int64
}

type PrepareResult struct {
	Flow       Flow
	OrderID    uuid.UUID
	OrderRef   string
	OrderName  string
	Amount     int64
	SuccessURL string
	FailURL    string
	Price      domain.PriceBreakdown
}

type ConfirmRequest struct {
	Owner      domain.Owner
	PaymentKey string
	OrderRef   string
	Amount     int64
}

type Result struct {
	OrderID   uuid.UUID
	PaymentID uuid.UUID
}

// Prepare prices the caller's cart and, unless the result is free, records
// a pending order the client can take to the gateway. It touches neither
// inventory nor the gateway.
func (s *Service) Prepare(ctx context.Context, req CartRequest) (res PrepareResult, err error) {
	ctx, span := tracer.Start(ctx, "checkout.Prepare")
	defer func() { s.finish(span, "prepare", err) }()

	lines, price, err := s.priceCart(ctx, req)
	if err != nil {
		return PrepareResult{}, err
	}
	if price.Free() {
		return PrepareResult{Flow: FlowFree, Price: price}, nil
	}
	if price.FinalAmount < s.cfg.MinPayableAmount {
		return PrepareResult{}, errors.Wrapf(domain.ErrAmountBelowMinimum, "%d < %d", price.FinalAmount, s.cfg.MinPayableAmount)
	}

	order := domain.NewPendingOrder(req.Owner, lines, price, req.CouponID, s.orderName(ctx, lines))
	err = s.store.InTx(ctx, func(tx Tx) error {
		return tx.CreatePending(ctx, &order)
	})
	if err != nil {
		return PrepareResult{}, err
	}
	span.SetAttributes(attribute.String("order.ref", order.OrderRef), attribute.Int64("order.amount", order.TotalAmount))

	s.audit(ctx, "checkout.prepared", req.Owner, map[string]interface{}{
		"order_id":  order.ID.String(),
		"order_ref": order.OrderRef,
		"amount":    order.TotalAmount,
	})
	return PrepareResult{
		Flow:       FlowPay,
		OrderID:    order.ID,
		OrderRef:   order.OrderRef,
		OrderName:  order.OrderName,
		Amount:     order.TotalAmount,
		SuccessURL: s.cfg.SuccessURL,
		FailURL:    s.cfg.FailURL,
		Price:      price,
	}, nil
}

// Confirm finalises a pending order after the client authorised the payment
// on the gateway. The gateway is called before any local transaction opens;
// if the local commit then fails the gateway payment is either cancelled
// (when the order can never be fulfilled) or left for the reconciler.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "checkout.Confirm", trace.WithAttributes(attribute.String("order.ref", req.OrderRef)))
	defer func() { s.finish(span, "confirm", err) }()

	if req.PaymentKey == "" || req.OrderRef == "" || req.Amount < 0 {
		return Result{}, errors.Wrap(domain.ErrInvalidInput, "paymentKey, orderRef and a non-negative amount are required")
	}
	order, err := s.store.GetOrderByRef(ctx, req.OrderRef)
	if err != nil {
		return Result{}, errors.Wrapf(err, "order %s", req.OrderRef)
	}
	if order.Owner != req.Owner {
		return Result{}, domain.ErrOwnershipMismatch
	}
	if order.Status != domain.OrderPending {
		return Result{}, errors.Wrapf(domain.ErrAlreadyProcessed, "order %s is %s", order.OrderRef, order.Status)
	}

	release, err := s.lock(ctx, "confirm:"+order.OrderRef)
	if err != nil {
		return Result{}, err
	}
	defer release()

	if err := s.verifyAmount(ctx, order, req.Amount); err != nil {
		s.audit(ctx, "checkout.amount_mismatch", order.Owner, map[string]interface{}{
			"order_ref": order.OrderRef,
			"claimed":   req.Amount,
			"stored":    order.TotalAmount,
		})
		return Result{}, err
	}

	gp, err := s.gateway.Confirm(ctx, gateway.ConfirmRequest{PaymentKey: req.PaymentKey, OrderRef: order.OrderRef, Amount: order.TotalAmount})
	if err != nil {
		s.audit(ctx, "checkout.gateway_rejected", order.Owner, map[string]interface{}{
			"order_ref": order.OrderRef,
			"error":     err.Error(),
		})
		return Result{}, err
	}
	if gp.Amount != order.TotalAmount {
		_ = s.compensate(ctx, order, gp.PaymentKey, domain.ErrAmountMismatch)
		return Result{}, errors.Wrapf(domain.ErrAmountMismatch, "gateway approved %d, order total %d", gp.Amount, order.TotalAmount)
	}

	payment := s.newPayment(order, gp)
	err = s.store.InTx(ctx, func(tx Tx) error {
		return s.finalize(ctx, tx, order.ID, &payment)
	})
	if err != nil {
		if compensable(err) {
			_ = s.compensate(ctx, order, gp.PaymentKey, err)
		} else if !errors.Is(err, domain.ErrAlreadyProcessed) {
			observability.FromContext(ctx, s.logger).WithError(err).WithFields(map[string]interface{}{
				"order_ref":   order.OrderRef,
				"payment_key": gp.PaymentKey,
			}).Error("gateway confirmed but local commit failed")
			s.audit(ctx, "checkout.orphaned_payment", order.Owner, map[string]interface{}{
				"order_ref":   order.OrderRef,
				"payment_key": gp.PaymentKey,
				"error":       err.Error(),
			})
		}
		return Result{}, err
	}

	s.audit(ctx, "checkout.confirmed", order.Owner, map[string]interface{}{
		"order_id":   order.ID.String(),
		"payment_id": payment.ID.String(),
		"amount":     payment.Amount,
		"method":     payment.Method.String(),
	})
	return Result{OrderID: order.ID, PaymentID: payment.ID}, nil
}

// FreeCheckout pays a cart whose recomputed amount is exactly zero with a
// zero-amount payment, in one transaction and without the gateway.
func (s *Service) FreeCheckout(ctx context.Context, req CartRequest) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "checkout.FreeCheckout")
	defer func() { s.finish(span, "free", err) }()

	lines, price, err := s.priceCart(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if !price.Free() {
		return Result{}, errors.Wrapf(domain.ErrNotFree, "recomputed amount %d", price.FinalAmount)
	}

	order := domain.NewPendingOrder(req.Owner, lines, price, req.CouponID, s.orderName(ctx, lines))
	now := s.now()
	payment := domain.Payment{
		ID:               uuid.New(),
		Amount:           0,
		Currency:         s.cfg.Currency,
		Method:           domain.MethodFree,
		Status:           domain.PaymentPaid,
		PaymentKey:       "free_" + order.OrderRef,
		ExternalOrderRef: order.OrderRef,
		ApprovedAt:       &now,
	}
	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.CreatePending(ctx, &order); err != nil {
			return err
		}
		return s.finalize(ctx, tx, order.ID, &payment)
	})
	if err != nil {
		return Result{}, err
	}

	s.audit(ctx, "checkout.free", req.Owner, map[string]interface{}{
		"order_id":   order.ID.String(),
		"payment_id": payment.ID.String(),
	})
	return Result{OrderID: order.ID, PaymentID: payment.ID}, nil
}

// Refund reverses a paid order. Coupons and points stay consumed.
func (s *Service) Refund(ctx context.Context, orderID uuid.UUID) (err error) {
	ctx, span := tracer.Start(ctx, "checkout.Refund", trace.WithAttributes(attribute.String("order.id", orderID.String())))
	defer func() { s.finish(span, "refund", err) }()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return errors.Wrapf(err, "order %s", orderID)
	}
	if err := domain.Transition(order.Status, domain.OrderRefunded); err != nil {
		return err
	}
	if order.PaymentID == nil {
		return errors.Wrapf(domain.ErrIntegrity, "paid order %s has no payment", orderID)
	}
	payment, err := s.store.GetPayment(ctx, *order.PaymentID)
	if err != nil {
		return errors.Wrapf(err, "payment %s", *order.PaymentID)
	}

	if s.cfg.RefundViaGateway && payment.Amount > 0 && payment.Method != domain.MethodFree {
		if err := s.gateway.Cancel(ctx, payment.PaymentKey, "admin refund"); err != nil {
			return err
		}
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		locked, err := tx.LoadForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := domain.Transition(locked.Status, domain.OrderRefunded); err != nil {
			return err
		}
		if err := tx.MarkRefunded(ctx, orderID); err != nil {
			return err
		}
		if err := tx.MarkPaymentRefunded(ctx, payment.ID); err != nil {
			return err
		}
		if s.cfg.ReleaseSeatsOnRefund {
			for _, r := range seatRequests(locked.Lines) {
				if err := tx.Release(ctx, r.sessionID, r.quantity); err != nil {
					return err
				}
			}
		}
		return tx.Emit(ctx, EventOrderRefunded, orderID, s.event(locked, payment))
	})
	if err != nil {
		if s.cfg.RefundViaGateway && payment.Amount > 0 {
			observability.FromContext(ctx, s.logger).WithError(err).
				WithField("order_id", orderID.String()).
				Error("gateway payment cancelled but local refund failed")
		}
		return err
	}

	s.audit(ctx, "checkout.refunded", order.Owner, map[string]interface{}{
		"order_id":   orderID.String(),
		"payment_id": payment.ID.String(),
		"amount":     payment.Amount,
	})
	return nil
}

// Order returns an order to its owner. Admins may read any order.
func (s *Service) Order(ctx context.Context, owner domain.Owner, admin bool, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !admin && order.Owner != owner {
		return nil, domain.ErrOwnershipMismatch
	}
	return order, nil
}

// finalize is the transactional body shared by Confirm, FreeCheckout and the
// reconciler. It must run inside InTx; any error rolls everything back.
func (s *Service) finalize(ctx context.Context, tx Tx, orderID uuid.UUID, payment *domain.Payment) error {
	order, err := tx.LoadForUpdate(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != domain.OrderPending {
		return errors.Wrapf(domain.ErrAlreadyProcessed, "order %s is %s", order.OrderRef, order.Status)
	}
	if payment.Amount != order.TotalAmount {
		return errors.Wrapf(domain.ErrAmountMismatch, "payment %d, order total %d", payment.Amount, order.TotalAmount)
	}

	for _, r := range seatRequests(order.Lines) {
		if err := tx.Reserve(ctx, r.sessionID, r.quantity); err != nil {
			if errors.Is(err, domain.ErrInsufficientInventory) {
				observability.InventoryConflicts.Inc()
			}
			return err
		}
	}

	payment.OrderID = order.ID
	if err := tx.CreatePayment(ctx, payment); err != nil {
		return err
	}
	if err := tx.MarkPaid(ctx, order.ID, payment.ID, payment.Amount); err != nil {
		return err
	}

	if order.CouponID != nil {
		if err := tx.ConsumeCoupon(ctx, *order.CouponID, order.Owner.UserID); err != nil {
			return err
		}
	}
	if order.UsedPoint > 0 {
		balance, err := tx.LockedPointBalance(ctx, order.Owner.UserID)
		if err != nil {
			return err
		}
		if balance < order.UsedPoint {
			return errors.Wrapf(domain.ErrInsufficientPoints, "balance %d, order uses %d", balance, order.UsedPoint)
		}
		err = tx.DebitPoints(ctx, domain.PointEntry{
			ID:          uuid.New(),
			UserID:      order.Owner.UserID,
			Amount:      order.UsedPoint,
			Kind:        domain.PointDebit,
			Description: "주문 결제 사용 " + order.OrderRef,
			OrderID:     &order.ID,
		})
		if err != nil {
			return err
		}
	}

	if err := tx.Emit(ctx, EventOrderPaid, order.ID, s.event(order, payment)); err != nil {
		return err
	}

	paid, err := tx.LoadForUpdate(ctx, order.ID)
	if err != nil {
		return err
	}
	if paid.Status != domain.OrderPaid || paid.PaymentID == nil || *paid.PaymentID != payment.ID {
		return errors.Wrapf(domain.ErrIntegrity, "order %s not linked to payment %s", order.ID, payment.ID)
	}
	return nil
}

func (s *Service) priceCart(ctx context.Context, req CartRequest) ([]domain.CartLine, domain.PriceBreakdown, error) {
	if !req.Owner.Valid() {
		return nil, domain.PriceBreakdown{}, errors.Wrap(domain.ErrInvalidInput, "missing owner")
	}
	if len(req.CartLineIDs) == 0 {
		return nil, domain.PriceBreakdown{}, domain.ErrEmptyCart
	}
	lines, err := s.store.CartLines(ctx, req.Owner, req.CartLineIDs)
	if err != nil {
		return nil, domain.PriceBreakdown{}, err
	}
	price, err := s.price(ctx, req.Owner, domain.CartPriceLines(lines), req.CouponID, req.PointAmount)
	if err != nil {
		return nil, domain.PriceBreakdown{}, err
	}
	return lines, price, nil
}

// price runs the calculator against freshly loaded coupon and balance data.
func (s *Service) price(ctx context.Context, owner domain.Owner, lines []domain.PriceLine, couponID *uuid.UUID, points int64) (domain.PriceBreakdown, error) {
	if points < 0 {
		return domain.PriceBreakdown{}, errors.Wrapf(domain.ErrInvalidInput, "point amount %d", points)
	}
	if owner.IsGuest() && (couponID != nil || points > 0) {
		return domain.PriceBreakdown{}, domain.ErrGuestNotAllowed
	}
	now := s.now()
	in := domain.PriceInput{Lines: lines, RequestedPoints: points, Now: now}
	if couponID != nil {
		tmpl, err := s.store.ValidateCoupon(ctx, *couponID, owner.UserID, now)
		if err != nil {
			return domain.PriceBreakdown{}, err
		}
		in.Coupon = tmpl
	}
	if points > 0 {
		balance, err := s.store.PointBalance(ctx, owner.UserID)
		if err != nil {
			return domain.PriceBreakdown{}, err
		}
		in.PointBalance = balance
	}
	return domain.Calculate(in), nil
}

// verifyAmount recomputes the order total from its persisted lines and the
// current coupon and point state, and requires the client's claim, the
// stored total and the recomputation to agree.
func (s *Service) verifyAmount(ctx context.Context, order *domain.Order, claimed int64) error {
	price, err := s.price(ctx, order.Owner, domain.PriceLines(order.Lines), order.CouponID, order.UsedPoint)
	if err != nil {
		return err
	}
	if price.FinalAmount != claimed || price.FinalAmount != order.TotalAmount || price.UsablePoints != order.UsedPoint {
		return errors.Wrapf(domain.ErrAmountMismatch, "claimed %d, stored %d, recomputed %d", claimed, order.TotalAmount, price.FinalAmount)
	}
	return nil
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	token, ok, err := s.locker.Acquire(ctx, key, s.cfg.ConfirmLockTTL)
	if err != nil {
		// The order row lock still serialises confirmation.
		observability.FromContext(ctx, s.logger).WithError(err).WithField("key", key).Warn("confirm lock unavailable")
		return func() {}, nil
	}
	if !ok {
		return nil, errors.Wrapf(domain.ErrConfirmInProgress, "%s", key)
	}
	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			observability.FromContext(ctx, s.logger).WithError(err).WithField("key", key).Warn("confirm lock release failed")
		}
	}, nil
}

// compensate cancels a gateway payment whose order cannot be fulfilled.
func (s *Service) compensate(ctx context.Context, order *domain.Order, paymentKey string, cause error) error {
	log := observability.FromContext(ctx, s.logger).WithFields(map[string]interface{}{
		"order_ref":   order.OrderRef,
		"payment_key": paymentKey,
		"cause":       cause.Error(),
	})
	data := map[string]interface{}{
		"order_ref":   order.OrderRef,
		"payment_key": paymentKey,
		"cause":       cause.Error(),
	}
	if err := s.gateway.Cancel(context.WithoutCancel(ctx), paymentKey, "order could not be fulfilled"); err != nil {
		log.WithError(err).Error("compensating cancel failed")
		data["cancel_error"] = err.Error()
		s.audit(ctx, "checkout.compensation_failed", order.Owner, data)
		return err
	}
	log.Warn("gateway payment cancelled")
	s.audit(ctx, "checkout.compensated", order.Owner, data)
	return nil
}

// compensable reports whether a finalize failure is permanent for this
// order, so the gateway payment should be returned.
func compensable(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindResourceExhaustion, domain.KindValidation:
		return true
	}
	return errors.Is(err, domain.ErrCouponAlreadyUsed)
}

func (s *Service) newPayment(order *domain.Order, gp *gateway.Payment) domain.Payment {
	currency := gp.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}
	approved := gp.ApprovedAt
	if approved == nil {
		now := s.now()
		approved = &now
	}
	return domain.Payment{
		ID:               uuid.New(),
		OrderID:          order.ID,
		Amount:           gp.Amount,
		Currency:         currency,
		Method:           gp.Method,
		Status:           domain.PaymentPaid,
		PaymentKey:       gp.PaymentKey,
		ExternalOrderRef: order.OrderRef,
		MethodDetail:     gp.Detail,
		ApprovedAt:       approved,
	}
}

func (s *Service) orderName(ctx context.Context, lines []domain.CartLine) string {
	if len(lines) == 0 {
		return ""
	}
	first := lines[0].Title
	if s.catalog != nil {
		titles, err := s.catalog.Titles(ctx, []uuid.UUID{lines[0].ProductID})
		if err != nil {
			observability.FromContext(ctx, s.logger).WithError(err).Warn("catalog lookup failed")
		} else if t, ok := titles[lines[0].ProductID]; ok && t != "" {
			first = t
		}
	}
	return domain.OrderName(first, len(lines))
}

func (s *Service) event(order *domain.Order, payment *domain.Payment) OrderEvent {
	ev := OrderEvent{
		OrderID:    order.ID,
		OrderRef:   order.OrderRef,
		OrderName:  order.OrderName,
		PaymentID:  payment.ID,
		Amount:     payment.Amount,
		Method:     payment.Method.String(),
		OccurredAt: s.now().UTC(),
	}
	if !order.Owner.IsGuest() {
		id := order.Owner.UserID
		ev.UserID = &id
	}
	return ev
}

func (s *Service) audit(ctx context.Context, action string, owner domain.Owner, data map[string]interface{}) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Record(ctx, action, owner, data); err != nil {
		observability.FromContext(ctx, s.logger).WithError(err).WithField("action", action).Warn("audit record failed")
	}
}

func (s *Service) finish(span trace.Span, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = domain.KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	observability.RequestsTotal.WithLabelValues(op, outcome).Inc()
	span.End()
}

type seatRequest struct {
	sessionID uuid.UUID
	quantity  int
}

// seatRequests merges lines per session and orders them by session id so
// concurrent transactions lock sessions in the same order.
func seatRequests(lines []domain.OrderLine) []seatRequest {
	bySession := make(map[uuid.UUID]int, len(lines))
	for _, l := range lines {
		bySession[l.SessionID] += l.Quantity
	}
	out := make([]seatRequest, 0, len(bySession))
	for id, q := range bySession {
		out = append(out, seatRequest{sessionID: id, quantity: q})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].sessionID[:], out[j].sessionID[:]) < 0
	})
	return out
}
