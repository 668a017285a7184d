package service

import (
	"context"
	"sort"
	"testing"
	"time"

	"tablepos/internal/apierror"
	"tablepos/internal/dto"
	"tablepos/internal/model"
	"tablepos/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// ── In-memory store ───────────────────────────────────────────────────────────
// memStore backs every repository with plain maps and slices. WithinTx
// snapshots the state and restores it when fn fails, so tests can assert
// that a failed operation left nothing behind.

type memState struct {
	billings map[uuid.UUID]model.Billing
	sessions map[uuid.UUID]model.TableSession
	links    map[uuid.UUID]uuid.UUID // session -> billing
	moves    []model.SessionMove
	orders   []model.Order
	items    []model.OrderItem
	payments []model.Payment
	logs     []model.PaymentLog
	outbox   []model.OutboxMessage
}

func (st memState) clone() memState {
	c := memState{
		billings: make(map[uuid.UUID]model.Billing, len(st.billings)),
		sessions: make(map[uuid.UUID]model.TableSession, len(st.sessions)),
		links:    make(map[uuid.UUID]uuid.UUID, len(st.links)),
		moves:    append([]model.SessionMove(nil), st.moves...),
		orders:   append([]model.Order(nil), st.orders...),
		items:    append([]model.OrderItem(nil), st.items...),
		payments: append([]model.Payment(nil), st.payments...),
		logs:     append([]model.PaymentLog(nil), st.logs...),
		outbox:   append([]model.OutboxMessage(nil), st.outbox...),
	}
	for k, v := range st.billings {
		c.billings[k] = v
	}
	for k, v := range st.sessions {
		c.sessions[k] = v
	}
	for k, v := range st.links {
		c.links[k] = v
	}
	return c
}

type failure struct {
	nth int // 0 fails every call
	err error
}

type memStore struct {
	memState
	clock  time.Time
	calls  map[string]int
	fails  map[string]failure
	txRuns int
}

func newMemStore() *memStore {
	return &memStore{
		memState: memState{
			billings: map[uuid.UUID]model.Billing{},
			sessions: map[uuid.UUID]model.TableSession{},
			links:    map[uuid.UUID]uuid.UUID{},
		},
		clock: time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC),
		calls: map[string]int{},
		fails: map[string]failure{},
	}
}

// failOn makes the nth call to op (counted from now) return err.
func (s *memStore) failOn(op string, nth int, err error) {
	s.calls[op] = 0
	s.fails[op] = failure{nth: nth, err: err}
}

func (s *memStore) hit(op string) error {
	s.calls[op]++
	if f, ok := s.fails[op]; ok && (f.nth == 0 || f.nth == s.calls[op]) {
		return f.err
	}
	return nil
}

// tick returns a strictly increasing timestamp.
func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) WithinTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	s.txRuns++
	saved := s.memState.clone()
	if err := fn(nil); err != nil {
		s.memState = saved
		return err
	}
	return nil
}

var _ repository.Transactor = (*memStore)(nil)

// ── Billings ──────────────────────────────────────────────────────────────────

type memBillings struct{ s *memStore }

func (r memBillings) Create(_ context.Context, _ *gorm.DB, b *model.Billing) error {
	if err := r.s.hit("billings.Create"); err != nil {
		return err
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.Status = model.BillingOpen
	b.Subtotal, b.TaxAmount, b.DiscountAmount, b.TotalAmount = decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	b.CreatedAt = r.s.tick()
	b.UpdatedAt = b.CreatedAt
	r.s.billings[b.ID] = *b
	return nil
}

func (r memBillings) FindByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*model.Billing, error) {
	if err := r.s.hit("billings.FindByID"); err != nil {
		return nil, err
	}
	b, ok := r.s.billings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r memBillings) FindForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Billing, error) {
	if err := r.s.hit("billings.FindForUpdate"); err != nil {
		return nil, err
	}
	b, ok := r.s.billings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r memBillings) UpdateTotals(_ context.Context, _ *gorm.DB, id uuid.UUID, subtotal, discount, tax, total decimal.Decimal) error {
	if err := r.s.hit("billings.UpdateTotals"); err != nil {
		return err
	}
	b, ok := r.s.billings[id]
	if !ok {
		return apierror.NotFound("billing not found")
	}
	b.Subtotal, b.DiscountAmount, b.TaxAmount, b.TotalAmount = subtotal, discount, tax, total
	b.UpdatedAt = r.s.tick()
	r.s.billings[id] = b
	return nil
}

func (r memBillings) Close(_ context.Context, _ *gorm.DB, id uuid.UUID, at time.Time) error {
	if err := r.s.hit("billings.Close"); err != nil {
		return err
	}
	b, ok := r.s.billings[id]
	if !ok {
		return apierror.NotFound("billing not found")
	}
	if b.Status == model.BillingOpen {
		b.Status = model.BillingClosed
		b.ClosedAt = &at
		r.s.billings[id] = b
	}
	return nil
}

func (r memBillings) MarkPaid(_ context.Context, _ *gorm.DB, id uuid.UUID, at time.Time) error {
	if err := r.s.hit("billings.MarkPaid"); err != nil {
		return err
	}
	b, ok := r.s.billings[id]
	if !ok {
		return apierror.NotFound("billing not found")
	}
	if b.Status != model.BillingPaid {
		b.Status = model.BillingPaid
		b.PaidAt = &at
		r.s.billings[id] = b
	}
	return nil
}

func (r memBillings) LinkSession(_ context.Context, _ *gorm.DB, billingID, sessionID uuid.UUID) error {
	if err := r.s.hit("billings.LinkSession"); err != nil {
		return err
	}
	if _, ok := r.s.links[sessionID]; ok {
		return apierror.Conflict("session already linked")
	}
	r.s.links[sessionID] = billingID
	return nil
}

var _ repository.BillingRepository = memBillings{}

// ── Sessions ──────────────────────────────────────────────────────────────────

type memSessions struct{ s *memStore }

func (r memSessions) CreateSession(_ context.Context, _ *gorm.DB, sess *model.TableSession) error {
	if err := r.s.hit("sessions.CreateSession"); err != nil {
		return err
	}
	for _, other := range r.s.sessions {
		if other.TableLabel == sess.TableLabel && other.Status == model.SessionActive {
			return apierror.Conflict("table " + sess.TableLabel + " already has an active session")
		}
	}
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	sess.Status = model.SessionActive
	sess.StartTime = r.s.tick()
	if sess.OriginalTableID == "" {
		sess.OriginalTableID = sess.TableLabel
	}
	r.s.sessions[sess.ID] = *sess
	return nil
}

func (r memSessions) FindByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*model.TableSession, error) {
	if err := r.s.hit("sessions.FindByID"); err != nil {
		return nil, err
	}
	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (r memSessions) LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.TableSession, error) {
	if err := r.s.hit("sessions.LockByID"); err != nil {
		return nil, err
	}
	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (r memSessions) GetActiveSessionForTable(_ context.Context, label string) (*model.TableSession, error) {
	if err := r.s.hit("sessions.GetActiveSessionForTable"); err != nil {
		return nil, err
	}
	for _, sess := range r.s.sessions {
		if sess.TableLabel == label && sess.Status == model.SessionActive {
			return &sess, nil
		}
	}
	return nil, nil
}

func (r memSessions) MarkMoved(_ context.Context, _ *gorm.DB, id uuid.UUID, dest string, at time.Time) error {
	if err := r.s.hit("sessions.MarkMoved"); err != nil {
		return err
	}
	sess, ok := r.s.sessions[id]
	if !ok {
		return apierror.NotFound("session not found")
	}
	if sess.Status != model.SessionActive {
		return apierror.InvalidState("session is " + sess.Status)
	}
	sess.Status = model.SessionMoved
	sess.DestinationTableID = &dest
	sess.MovedAt = &at
	sess.EndTime = &at
	r.s.sessions[id] = sess
	return nil
}

func (r memSessions) CreateMove(_ context.Context, _ *gorm.DB, m *model.SessionMove) error {
	if err := r.s.hit("sessions.CreateMove"); err != nil {
		return err
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	r.s.moves = append(r.s.moves, *m)
	return nil
}

func (r memSessions) ListByBilling(_ context.Context, _ *gorm.DB, billingID uuid.UUID) ([]model.TableSession, error) {
	if err := r.s.hit("sessions.ListByBilling"); err != nil {
		return nil, err
	}
	var out []model.TableSession
	for sid, bid := range r.s.links {
		if bid == billingID {
			out = append(out, r.s.sessions[sid])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (r memSessions) CloseActiveByBilling(_ context.Context, _ *gorm.DB, billingID uuid.UUID, at time.Time) (int64, error) {
	if err := r.s.hit("sessions.CloseActiveByBilling"); err != nil {
		return 0, err
	}
	var n int64
	for id, sess := range r.s.sessions {
		if sess.BillingID == billingID && sess.Status == model.SessionActive {
			sess.Status = model.SessionClosed
			sess.EndTime = &at
			r.s.sessions[id] = sess
			n++
		}
	}
	return n, nil
}

var _ repository.SessionRepository = memSessions{}

// ── Orders ────────────────────────────────────────────────────────────────────

type memOrders struct{ s *memStore }

func (r memOrders) GetOrdersByBilling(_ context.Context, _ *gorm.DB, billingID uuid.UUID) ([]model.Order, error) {
	if err := r.s.hit("orders.GetOrdersByBilling"); err != nil {
		return nil, err
	}
	var out []model.Order
	for _, o := range r.s.orders {
		if o.BillingID != nil && *o.BillingID == billingID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r memOrders) GetOrdersBySession(_ context.Context, _ *gorm.DB, sessionID uuid.UUID) ([]model.Order, error) {
	if err := r.s.hit("orders.GetOrdersBySession"); err != nil {
		return nil, err
	}
	var out []model.Order
	for _, o := range r.s.orders {
		if o.SessionID == sessionID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r memOrders) GetOrderItems(_ context.Context, _ *gorm.DB, orderID uuid.UUID) ([]model.OrderItem, error) {
	if err := r.s.hit("orders.GetOrderItems"); err != nil {
		return nil, err
	}
	var out []model.OrderItem
	for _, it := range r.s.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	return out, nil
}

var _ repository.OrderRepository = memOrders{}

// ── Payments ──────────────────────────────────────────────────────────────────

type memPayments struct{ s *memStore }

func (r memPayments) Create(_ context.Context, _ *gorm.DB, p *model.Payment) error {
	if err := r.s.hit("payments.Create"); err != nil {
		return err
	}
	if p.ExternalRef != nil {
		for _, other := range r.s.payments {
			if other.BillingID == p.BillingID && other.ExternalRef != nil && *other.ExternalRef == *p.ExternalRef {
				return apierror.Conflict("duplicate external_ref for this billing")
			}
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = r.s.tick()
	r.s.payments = append(r.s.payments, *p)
	return nil
}

func (r memPayments) ExistsExternalRef(_ context.Context, _ *gorm.DB, billingID uuid.UUID, ref string) (bool, error) {
	if err := r.s.hit("payments.ExistsExternalRef"); err != nil {
		return false, err
	}
	for _, p := range r.s.payments {
		if p.BillingID == billingID && p.ExternalRef != nil && *p.ExternalRef == ref {
			return true, nil
		}
	}
	return false, nil
}

func (r memPayments) ListByBilling(_ context.Context, _ *gorm.DB, billingID uuid.UUID) ([]model.Payment, error) {
	if err := r.s.hit("payments.ListByBilling"); err != nil {
		return nil, err
	}
	var out []model.Payment
	for _, p := range r.s.payments {
		if p.BillingID == billingID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r memPayments) Totals(_ context.Context, _ *gorm.DB, billingID uuid.UUID) (repository.PaymentTotals, error) {
	if err := r.s.hit("payments.Totals"); err != nil {
		return repository.PaymentTotals{}, err
	}
	t := repository.PaymentTotals{Paid: decimal.Zero, Tip: decimal.Zero}
	for _, p := range r.s.payments {
		if p.BillingID == billingID {
			t.Paid = t.Paid.Add(p.AmountPaid)
			t.Tip = t.Tip.Add(p.TipAmount)
		}
	}
	return t, nil
}

func (r memPayments) CreateLog(_ context.Context, _ *gorm.DB, l *model.PaymentLog) error {
	if err := r.s.hit("payments.CreateLog"); err != nil {
		return err
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.CreatedAt = r.s.tick()
	r.s.logs = append(r.s.logs, *l)
	return nil
}

func (r memPayments) ListLogs(_ context.Context, billingID uuid.UUID, offset, limit int) ([]model.PaymentLog, int64, error) {
	if err := r.s.hit("payments.ListLogs"); err != nil {
		return nil, 0, err
	}
	var all []model.PaymentLog
	for _, l := range r.s.logs {
		if l.BillingID == billingID {
			all = append(all, l)
		}
	}
	total := int64(len(all))
	if offset >= len(all) {
		return []model.PaymentLog{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

var _ repository.PaymentRepository = memPayments{}

// ── Outbox ────────────────────────────────────────────────────────────────────

type memOutbox struct{ s *memStore }

func (r memOutbox) Enqueue(_ context.Context, _ *gorm.DB, m *model.OutboxMessage) error {
	if err := r.s.hit("outbox.Enqueue"); err != nil {
		return err
	}
	m.ID = int64(len(r.s.outbox) + 1)
	m.Status = model.OutboxPending
	m.CreatedAt = r.s.tick()
	r.s.outbox = append(r.s.outbox, *m)
	return nil
}

func (r memOutbox) ClaimBatch(context.Context, string, int, time.Duration) ([]model.OutboxMessage, error) {
	return nil, nil
}
func (r memOutbox) MarkSent(context.Context, int64) error { return nil }
func (r memOutbox) MarkRetry(context.Context, int64, int, time.Time, string) error {
	return nil
}
func (r memOutbox) MarkDead(context.Context, int64, int, string) error { return nil }

var _ repository.OutboxRepository = memOutbox{}

// ── Fixture ───────────────────────────────────────────────────────────────────

type fixture struct {
	store   *memStore
	billing BillingService
	mover   SessionMover
	ledger  PaymentLedger
}

func newFixture() *fixture {
	s := newMemStore()
	retry := RetryPolicy{Attempts: 3, Base: time.Millisecond}
	billings, sessions, payments := memBillings{s}, memSessions{s}, memPayments{s}
	bs := NewBillingService(s, billings, sessions, payments, NewOrderAggregator(memOrders{s}), retry)
	return &fixture{
		store:   s,
		billing: bs,
		mover:   NewSessionMover(s, sessions, billings),
		ledger:  NewPaymentLedger(s, billings, sessions, payments, memOutbox{s}, bs, retry),
	}
}

// open creates a billing with its first session at table.
func (f *fixture) open(t *testing.T, table string) (billingID, sessionID uuid.UUID) {
	t.Helper()
	resp, err := f.billing.CreateBilling(context.Background(), dto.CreateBillingRequest{
		TableID:    table,
		ServerID:   "s-1",
		ServerName: "Ana",
	})
	require.NoError(t, err)
	return uuid.MustParse(resp.BillingID), uuid.MustParse(resp.SessionID)
}

// addOrder places an order under sessionID with the given tax and items.
func (f *fixture) addOrder(sessionID uuid.UUID, tax string, items ...model.OrderItem) model.Order {
	sess := f.store.sessions[sessionID]
	billingID := sess.BillingID
	o := model.Order{
		ID:             uuid.New(),
		SessionID:      sessionID,
		BillingID:      &billingID,
		TableID:        &sess.TableLabel,
		Status:         "served",
		DeliveryStatus: "delivered",
		TaxTotal:       decimal.RequireFromString(tax),
		CreatedAt:      f.store.tick(),
	}
	for _, it := range items {
		it.ID = int64(len(f.store.items) + 1)
		it.OrderID = o.ID
		o.Subtotal = o.Subtotal.Add(it.LineTotal)
		f.store.items = append(f.store.items, it)
	}
	o.Total = o.Subtotal.Add(o.TaxTotal)
	f.store.orders = append(f.store.orders, o)
	return o
}

// item builds a line priced price × qty with cost base per unit.
func item(name string, qty int, price, base string) model.OrderItem {
	unit := decimal.RequireFromString(price)
	return model.OrderItem{
		MenuItemID: name,
		Name:       name,
		Quantity:   qty,
		UnitPrice:  unit,
		BasePrice:  decimal.RequireFromString(base),
		LineTotal:  unit.Mul(decimal.NewFromInt(int64(qty))),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strPtr(s string) *string { return &s }

func assertDec(t *testing.T, want string, got decimal.Decimal, msg ...interface{}) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msg)
}

func paymentTotals(paid string) repository.PaymentTotals {
	return repository.PaymentTotals{Paid: dec(paid), Tip: decimal.Zero}
}
