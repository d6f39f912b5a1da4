package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ariefcatur/esim-orders/internal/catalog"
	"github.com/ariefcatur/esim-orders/internal/esimaccess"
	"github.com/ariefcatur/esim-orders/internal/gateway"
	"github.com/ariefcatur/esim-orders/internal/notify"
	"github.com/ariefcatur/esim-orders/internal/orders"
	"github.com/ariefcatur/esim-orders/internal/promo"
	"github.com/ariefcatur/esim-orders/internal/provisioning"
	"github.com/ariefcatur/esim-orders/internal/wallet"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// memOrders keeps the same guarantees as orders.Repo: every status change is a
// compare-and-set under one lock.
type memOrders struct {
	mu    sync.Mutex
	seq   int
	byID  map[string]*orders.Order
	esims map[string]*orders.ESim
}

func newMemOrders() *memOrders {
	return &memOrders{byID: map[string]*orders.Order{}, esims: map[string]*orders.ESim{}}
}

func (m *memOrders) Create(_ context.Context, o *orders.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if o.ID == "" {
		o.ID = fmt.Sprintf("o%d", m.seq)
	}
	if o.ExternalRef == "" {
		o.ExternalRef = fmt.Sprintf("ESIM-REF-%d", m.seq)
	}
	o.Status = orders.StatusPending
	cp := *o
	m.byID[o.ID] = &cp
	return nil
}

func (m *memOrders) Get(_ context.Context, id string) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) GetByExternalRef(_ context.Context, ref string) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if o.ExternalRef == ref {
			cp := *o
			return &cp, nil
		}
	}
	return nil, orders.ErrNotFound
}

func (m *memOrders) Transition(_ context.Context, id string, from []orders.Status, to orders.Status) (bool, error) {
	for _, f := range from {
		if !orders.CanTransition(f, to) {
			return false, orders.ErrInvalidTransition
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if o.Status == f {
			o.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *memOrders) SetVendorOrderNo(_ context.Context, id, no string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.byID[id]; ok && o.VendorOrderNo == "" {
		o.VendorOrderNo = no
	}
	return nil
}

func (m *memOrders) CompleteWithESim(_ context.Context, e *orders.ESim) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[e.OrderID]
	if !ok || o.Status != orders.StatusPaid {
		return false, nil
	}
	if _, dup := m.esims[e.OrderID]; dup {
		return false, errors.New("duplicate esim for order")
	}
	o.Status = orders.StatusCompleted
	m.esims[e.OrderID] = e
	return true, nil
}

func (m *memOrders) status(id string) orders.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].Status
}

func (m *memOrders) esimCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.esims)
}

// memWallet applies Complete atomically under one lock, like the SQL transaction.
type memWallet struct {
	mu      sync.Mutex
	seq     int
	credits map[string]int64
	txs     map[string]*wallet.Transaction
}

func newMemWallet(users ...string) *memWallet {
	w := &memWallet{credits: map[string]int64{}, txs: map[string]*wallet.Transaction{}}
	for _, u := range users {
		w.credits[u] = 0
	}
	return w
}

func (w *memWallet) CreatePending(_ context.Context, t *wallet.Transaction) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	bal, ok := w.credits[t.UserID]
	if !ok {
		return wallet.ErrUserNotFound
	}
	w.seq++
	t.ID = fmt.Sprintf("t%d", w.seq)
	t.ReferenceID = fmt.Sprintf("WLT-%d", w.seq)
	t.Status = wallet.StatusPending
	t.Balance = bal
	t.CreatedAt = time.Now()
	cp := *t
	w.txs[t.ID] = &cp
	return nil
}

func (w *memWallet) Get(_ context.Context, id string) (*wallet.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.txs[id]
	if !ok {
		return nil, wallet.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (w *memWallet) GetByReference(_ context.Context, ref string) (*wallet.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.txs {
		if t.ReferenceID == ref {
			cp := *t
			return &cp, nil
		}
	}
	return nil, wallet.ErrNotFound
}

func (w *memWallet) Complete(_ context.Context, id string) (int64, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.txs[id]
	if !ok || t.Status != wallet.StatusPending {
		return 0, false, nil
	}
	bal := w.credits[t.UserID] + wallet.Effect(t.Type, t.Amount)
	now := time.Now()
	w.credits[t.UserID] = bal
	t.Status = wallet.StatusCompleted
	t.Balance = bal
	t.CompletedAt = &now
	return bal, true, nil
}

func (w *memWallet) Fail(_ context.Context, id string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.txs[id]
	if !ok || t.Status != wallet.StatusPending {
		return false, nil
	}
	t.Status = wallet.StatusFailed
	return true, nil
}

func (w *memWallet) all(userID string) []wallet.Transaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []wallet.Transaction
	for _, t := range w.txs {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out
}

func (w *memWallet) balance(userID string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.credits[userID]
}

// memPromos mirrors the guarded increment of promo.Repo.
type memPromos struct {
	mu    sync.Mutex
	codes map[string]*promo.Code
}

func (m *memPromos) Get(_ context.Context, code string) (*promo.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return nil, promo.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memPromos) Reserve(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok || promo.Check(c, time.Now()) != nil {
		return false, nil
	}
	c.UsedCount++
	return true, nil
}

func (m *memPromos) Release(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.codes[code]; ok && c.UsedCount > 0 {
		c.UsedCount--
	}
	return nil
}

func (m *memPromos) used(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[code].UsedCount
}

type staticCatalog map[string]*catalog.Package

func (s staticCatalog) Resolve(_ context.Context, ref string) (*catalog.Package, error) {
	if p, ok := s[ref]; ok {
		return p, nil
	}
	return nil, catalog.ErrNotFound
}

type failingGateway struct{}

func (failingGateway) CreateCheckout(context.Context, gateway.CheckoutRequest) (string, error) {
	return "", fmt.Errorf("%w: http 500", gateway.ErrBadResponse)
}

// vendor issues a profile on the first query unless empty is set.
type vendor struct {
	mu     sync.Mutex
	empty  bool
	orders int
}

func (v *vendor) OrderProfiles(_ context.Context, req esimaccess.OrderRequest) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.orders++
	return "B-" + req.TransactionID, nil
}

func (v *vendor) QueryProfiles(_ context.Context, orderNo string) ([]esimaccess.Profile, error) {
	if v.empty {
		return []esimaccess.Profile{}, nil
	}
	return []esimaccess.Profile{{ICCID: "8988-" + orderNo, QRCodeURL: "https://qr/" + orderNo, AC: "LPA:1$x$" + orderNo}}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []string
	notes  []notify.Kind
}

func (r *recorder) Emit(_ context.Context, _, _, eventType string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func (r *recorder) Notify(_ context.Context, m notify.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, m.Kind)
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type harness struct {
	c      *Coordinator
	orders *memOrders
	wallet *memWallet
	promos *memPromos
	vendor *vendor
	rec    *recorder
	sleeps time.Duration
}

func newHarness() *harness {
	h := &harness{
		orders: newMemOrders(),
		wallet: newMemWallet("u1", "u2"),
		promos: &memPromos{codes: map[string]*promo.Code{}},
		vendor: &vendor{},
		rec:    &recorder{},
	}
	cat := staticCatalog{
		"JP-1GB-7D": {Code: "JP-1GB-7D", VendorPrice: 100000, PriceCents: 1000, Country: "JP", CountryName: "Japan",
			DataAmount: "1GB", DurationDays: 7, PlanName: "1GB / 7 days"},
	}
	var mu sync.Mutex
	wf := &provisioning.Workflow{
		Vendor:      h.vendor,
		Packages:    cat,
		Orders:      h.orders,
		Events:      h.rec,
		EmitPending: true,
		Interval:    provisioning.DefaultPollInterval,
		MaxAttempts: provisioning.DefaultMaxAttempts,
		Sleep: func(_ context.Context, d time.Duration) error {
			mu.Lock()
			h.sleeps += d
			mu.Unlock()
			return nil
		},
		Logger: discard,
	}
	h.c = &Coordinator{
		Orders:      h.orders,
		Wallet:      h.wallet,
		Promos:      &promo.Validator{Store: h.promos},
		Catalog:     cat,
		Gateway:     gateway.Simulator{},
		Provisioner: wf,
		Events:      h.rec,
		Notifier:    h.rec,
		Logger:      discard,
		BaseURL:     "http://shop.test",
		Currency:    "USD",
		Simulate:    true,
		SigningKey:  "whsec",
	}
	return h
}
