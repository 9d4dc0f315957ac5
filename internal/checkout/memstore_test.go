package checkout

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/booking-checkout/internal/adapters/gateway"
	"github.com/robertarktes/booking-checkout/internal/domain"
)

// memState is everything the fake store persists. InTx works on a clone and
// swaps it in on success, which gives all-or-nothing commits.
type memState struct {
	cart     map[uuid.UUID]domain.CartLine
	sessions map[uuid.UUID]domain.Session
	coupons  map[uuid.UUID]domain.Coupon
	ledger   []domain.PointEntry
	orders   map[uuid.UUID]domain.Order
	payments map[uuid.UUID]domain.Payment
	events   []emitted
}

type emitted struct {
	eventType   string
	aggregateID uuid.UUID
	payload     interface{}
}

func newMemState() *memState {
	return &memState{
		cart:     map[uuid.UUID]domain.CartLine{},
		sessions: map[uuid.UUID]domain.Session{},
		coupons:  map[uuid.UUID]domain.Coupon{},
		orders:   map[uuid.UUID]domain.Order{},
		payments: map[uuid.UUID]domain.Payment{},
	}
}

func (m *memState) clone() *memState {
	c := newMemState()
	for k, v := range m.cart {
		c.cart[k] = v
	}
	for k, v := range m.sessions {
		c.sessions[k] = v
	}
	for k, v := range m.coupons {
		c.coupons[k] = v
	}
	c.ledger = append([]domain.PointEntry(nil), m.ledger...)
	for k, v := range m.orders {
		v.Lines = append([]domain.OrderLine(nil), v.Lines...)
		c.orders[k] = v
	}
	for k, v := range m.payments {
		c.payments[k] = v
	}
	c.events = append([]emitted(nil), m.events...)
	return c
}

type memStore struct {
	mu    sync.Mutex
	state *memState
}

func newMemStore() *memStore {
	return &memStore{state: newMemState()}
}

func (s *memStore) CartLines(_ context.Context, owner domain.Owner, ids []uuid.UUID) ([]domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) == 0 {
		return nil, domain.ErrEmptyCart
	}
	var out []domain.CartLine
	for _, id := range ids {
		l, ok := s.state.cart[id]
		if !ok || l.Owner != owner {
			return nil, errors.Wrapf(domain.ErrForeignCartItem, "cart line %s", id)
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *memStore) ValidateCoupon(_ context.Context, couponID, userID uuid.UUID, now time.Time) (*domain.CouponTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.coupons[couponID]
	switch {
	case !ok:
		return nil, domain.ErrCouponNotFound
	case c.UserID != userID:
		return nil, domain.ErrCouponNotOwned
	case c.Template.Expired(now):
		return nil, domain.ErrCouponExpired
	case c.IsUsed:
		return nil, domain.ErrCouponAlreadyUsed
	}
	t := c.Template
	return &t, nil
}

func (s *memStore) PointBalance(_ context.Context, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.balance(userID), nil
}

func (m *memState) balance(userID uuid.UUID) int64 {
	var b int64
	for _, e := range m.ledger {
		if e.UserID == userID {
			b += e.Amount
		}
	}
	return b
}

func (s *memStore) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	o.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return &o, nil
}

func (s *memStore) GetOrderByRef(ctx context.Context, ref string) (*domain.Order, error) {
	s.mu.Lock()
	var id uuid.UUID
	for _, o := range s.state.orders {
		if o.OrderRef == ref {
			id = o.ID
		}
	}
	s.mu.Unlock()
	return s.GetOrder(ctx, id)
}

func (s *memStore) GetPayment(_ context.Context, id uuid.UUID) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

// StalePending orders like the SQL: never-visited first, then least
// recently visited, then oldest.
func (s *memStore) StalePending(_ context.Context, before time.Time, limit int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.state.orders {
		if o.Status == domain.OrderPending && o.CreatedAt.Before(before) {
			o.Lines = append([]domain.OrderLine(nil), o.Lines...)
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ReconciledAt, out[j].ReconciledAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MarkReconciled(_ context.Context, orderID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.orders[orderID]
	if !ok || o.Status != domain.OrderPending {
		return nil
	}
	o.ReconciledAt = &at
	s.state.orders[orderID] = o
	return nil
}

func (s *memStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	if err := fn(&memTx{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// seed helpers

func (s *memStore) addSession(total *int) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := domain.Session{ID: uuid.New(), ProductID: uuid.New(), TotalSpots: total}
	if total != nil {
		sess.RemainingSpots = *total
	}
	s.state.sessions[sess.ID] = sess
	return sess.ID
}

func (s *memStore) addCartLine(owner domain.Owner, sessionID uuid.UUID, qty int, unit, discount int64) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.state.sessions[sessionID]
	l := domain.CartLine{
		ID:            uuid.New(),
		Owner:         owner,
		SessionID:     sessionID,
		ProductID:     sess.ProductID,
		Title:         "클래스",
		Quantity:      qty,
		UnitPrice:     unit,
		DiscountPrice: discount,
	}
	s.state.cart[l.ID] = l
	return l.ID
}

func (s *memStore) addCoupon(userID uuid.UUID, tmpl domain.CouponTemplate) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := domain.Coupon{ID: uuid.New(), UserID: userID, Template: tmpl}
	s.state.coupons[c.ID] = c
	return c.ID
}

func (s *memStore) creditPoints(userID uuid.UUID, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ledger = append(s.state.ledger, domain.PointEntry{ID: uuid.New(), UserID: userID, Amount: amount, Kind: domain.PointCredit})
}

func (s *memStore) snapshot() *memState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *memStore) ageOrders(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range s.state.orders {
		o.CreatedAt = o.CreatedAt.Add(-d)
		s.state.orders[id] = o
	}
}

func (s *memStore) setCreatedAt(orderID uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.state.orders[orderID]
	o.CreatedAt = at
	s.state.orders[orderID] = o
}

type memTx struct {
	state *memState
}

func (t *memTx) CreatePending(_ context.Context, order *domain.Order) error {
	if err := domain.Transition(domain.OrderCart, order.Status); err != nil {
		return err
	}
	for _, o := range t.state.orders {
		if o.OrderRef == order.OrderRef {
			return domain.ErrConflict
		}
	}
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	o := *order
	o.Lines = append([]domain.OrderLine(nil), order.Lines...)
	t.state.orders[o.ID] = o
	return nil
}

func (t *memTx) LoadForUpdate(_ context.Context, orderID uuid.UUID) (*domain.Order, error) {
	o, ok := t.state.orders[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	o.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return &o, nil
}

func (t *memTx) MarkPaid(_ context.Context, orderID, paymentID uuid.UUID, amount int64) error {
	o := t.state.orders[orderID]
	if o.Status != domain.OrderPending {
		return domain.ErrInvalidOrderState
	}
	o.Status = domain.OrderPaid
	o.PaymentID = &paymentID
	o.TotalAmount = amount
	t.state.orders[orderID] = o
	return nil
}

func (t *memTx) MarkRefunded(_ context.Context, orderID uuid.UUID) error {
	o := t.state.orders[orderID]
	if o.Status != domain.OrderPaid {
		return domain.ErrInvalidOrderState
	}
	o.Status = domain.OrderRefunded
	t.state.orders[orderID] = o
	return nil
}

func (t *memTx) Reserve(_ context.Context, sessionID uuid.UUID, quantity int) error {
	s, ok := t.state.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	if s.Unlimited() {
		return nil
	}
	if s.RemainingSpots < quantity {
		return domain.ErrInsufficientInventory
	}
	s.RemainingSpots -= quantity
	t.state.sessions[sessionID] = s
	return nil
}

func (t *memTx) Release(_ context.Context, sessionID uuid.UUID, quantity int) error {
	s, ok := t.state.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	if s.Unlimited() {
		return nil
	}
	s.RemainingSpots += quantity
	if s.RemainingSpots > *s.TotalSpots {
		s.RemainingSpots = *s.TotalSpots
	}
	t.state.sessions[sessionID] = s
	return nil
}

func (t *memTx) CreatePayment(_ context.Context, p *domain.Payment) error {
	for _, existing := range t.state.payments {
		if existing.PaymentKey == p.PaymentKey || existing.OrderID == p.OrderID {
			return domain.ErrAlreadyProcessed
		}
	}
	t.state.payments[p.ID] = *p
	return nil
}

func (t *memTx) MarkPaymentRefunded(_ context.Context, paymentID uuid.UUID) error {
	p, ok := t.state.payments[paymentID]
	if !ok || p.Status != domain.PaymentPaid {
		return domain.ErrIntegrity
	}
	p.Status = domain.PaymentRefunded
	t.state.payments[paymentID] = p
	return nil
}

func (t *memTx) ConsumeCoupon(_ context.Context, couponID, userID uuid.UUID) error {
	c, ok := t.state.coupons[couponID]
	switch {
	case !ok:
		return domain.ErrCouponNotFound
	case c.UserID != userID:
		return domain.ErrCouponNotOwned
	case c.IsUsed:
		return domain.ErrCouponAlreadyUsed
	}
	c.IsUsed = true
	t.state.coupons[couponID] = c
	return nil
}

func (t *memTx) LockedPointBalance(_ context.Context, userID uuid.UUID) (int64, error) {
	return t.state.balance(userID), nil
}

func (t *memTx) DebitPoints(_ context.Context, entry domain.PointEntry) error {
	entry.Amount = -entry.Amount
	t.state.ledger = append(t.state.ledger, entry)
	return nil
}

func (t *memTx) Emit(_ context.Context, eventType string, aggregateID uuid.UUID, payload interface{}) error {
	t.state.events = append(t.state.events, emitted{eventType: eventType, aggregateID: aggregateID, payload: payload})
	return nil
}

// fakeGateway approves every confirm for the requested amount unless
// confirmErr is set.
type fakeGateway struct {
	mu         sync.Mutex
	confirmErr error
	confirms   map[string]int
	cancels    []string
	lookups    map[string]*gateway.Payment
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{confirms: map[string]int{}, lookups: map[string]*gateway.Payment{}}
}

func (g *fakeGateway) Confirm(_ context.Context, req gateway.ConfirmRequest) (*gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.confirmErr != nil {
		return nil, g.confirmErr
	}
	g.confirms[req.PaymentKey]++
	return &gateway.Payment{
		PaymentKey: req.PaymentKey,
		OrderRef:   req.OrderRef,
		Status:     gateway.StatusDone,
		Amount:     req.Amount,
		Currency:   "KRW",
		Method:     domain.MethodCard,
	}, nil
}

func (g *fakeGateway) Cancel(_ context.Context, paymentKey, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, paymentKey)
	return nil
}

func (g *fakeGateway) Lookup(_ context.Context, orderRef string) (*gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.lookups[orderRef]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (g *fakeGateway) cancelled() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancels...)
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]string{}}
}

func (l *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = token
	return token, true, nil
}

func (l *fakeLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		return errors.New("lock not held")
	}
	delete(l.held, key)
	return nil
}

type fakeAuditor struct {
	mu      sync.Mutex
	actions []string
}

func (a *fakeAuditor) Record(_ context.Context, action string, _ domain.Owner, _ map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return nil
}
