package cart

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"storefront-cart/internal/gateway"
	"storefront-cart/internal/guest"
	"storefront-cart/internal/model"
	"storefront-cart/internal/reconcile"
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var products = map[int64]model.Product{
	1: {ID: 1, Name: "Mug", Price: 10},
	2: {ID: 2, Name: "Tee", Price: 20},
	5: {ID: 5, Name: "Cap", Price: 7.5},
	9: {ID: 9, Name: "Pin", Price: 2.25},
}

func line(productID int64, qty int) model.CartLine {
	p := products[productID]
	return model.CartLine{
		ProductID:   productID,
		Quantity:    qty,
		ProductName: strPtr(p.Name),
		UnitPrice:   floatPtr(p.Price),
	}
}

// fakeCatalog serves products and counts lookups.
type fakeCatalog struct {
	mu    sync.Mutex
	calls int
}

func (c *fakeCatalog) Product(_ context.Context, id int64) (*model.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	p, ok := products[id]
	if !ok {
		return nil, model.NewNotFoundError("product")
	}
	return &p, nil
}

func (c *fakeCatalog) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeIdentity struct {
	mu          sync.Mutex
	id          *model.Identity
	invalidated int
}

func (f *fakeIdentity) IsAuthenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id != nil
}

func (f *fakeIdentity) Identity() (model.Identity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.id == nil {
		return model.Identity{}, false
	}
	return *f.id, true
}

func (f *fakeIdentity) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.id = nil
	f.invalidated++
}

func (f *fakeIdentity) set(id model.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.id = &id
}

type recordingReporter struct {
	mu   sync.Mutex
	ops  []string
	errs []error
}

func (r *recordingReporter) Report(_ context.Context, op string, err error, _ ...slog.Attr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
	r.errs = append(r.errs, err)
}

func (r *recordingReporter) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

// fakeServer is a stateful in-memory backend cart.
type fakeServer struct {
	mu        sync.Mutex
	lines     []model.CartLine
	nextID    int64
	calls     []string
	fetchErr  error
	commitErr error
	clearErr  error
}

func newFakeServer(lines ...model.CartLine) *fakeServer {
	s := &fakeServer{nextID: 100}
	for _, l := range lines {
		l.LineID = s.nextID
		s.nextID++
		s.lines = append(s.lines, l)
	}
	return s
}

func (s *fakeServer) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *fakeServer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeServer) snapshotLocked() *model.CartSnapshot {
	snap := &model.CartSnapshot{OwnerID: 7, CartID: 1, Items: append([]model.CartLine{}, s.lines...)}
	return snap.Clone()
}

func (s *fakeServer) find(productID int64) int {
	for i := range s.lines {
		if s.lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (s *fakeServer) set(productID int64, qty int) {
	idx := s.find(productID)
	switch {
	case idx >= 0 && qty <= 0:
		s.lines = append(s.lines[:idx], s.lines[idx+1:]...)
	case idx >= 0:
		s.lines[idx].Quantity = qty
	case qty > 0:
		l := line(productID, qty)
		l.LineID = s.nextID
		s.nextID++
		s.lines = append(s.lines, l)
	}
}

func (s *fakeServer) Fetch(context.Context) (*model.CartSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("fetch")
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.snapshotLocked(), nil
}

func (s *fakeServer) Add(_ context.Context, productID int64, quantity int) (*gateway.AddResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("add")
	current := 0
	if idx := s.find(productID); idx >= 0 {
		current = s.lines[idx].Quantity
	}
	s.set(productID, current+quantity)
	return &gateway.AddResult{Cart: s.snapshotLocked()}, nil
}

func (s *fakeServer) Remove(_ context.Context, productID int64) (*model.CartSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("remove")
	s.set(productID, 0)
	return s.snapshotLocked(), nil
}

func (s *fakeServer) UpdateQuantity(_ context.Context, productID int64, quantity int) (*model.CartSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("update")
	if s.find(productID) >= 0 {
		s.set(productID, quantity)
	}
	return s.snapshotLocked(), nil
}

func (s *fakeServer) Commit(context.Context) (*model.CartSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("commit")
	if s.commitErr != nil {
		return nil, s.commitErr
	}
	return s.snapshotLocked(), nil
}

func (s *fakeServer) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("clear")
	if s.clearErr != nil {
		return s.clearErr
	}
	s.lines = nil
	return nil
}

func (s *fakeServer) Sync(_ context.Context, items []reconcile.SyncItem) (*model.CartSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("sync")
	for _, it := range items {
		s.set(it.ProductID, it.Quantity)
	}
	return s.snapshotLocked(), nil
}

func (s *fakeServer) FetchByID(_ context.Context, cartID int64) (*model.CartSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("fetch_by_id")
	if cartID != 1 {
		return nil, model.NewNotFoundError("cart")
	}
	return s.snapshotLocked(), nil
}

type fixture struct {
	engine   *Engine
	store    *guest.Store
	catalog  *fakeCatalog
	identity *fakeIdentity
	reporter *recordingReporter
}

func newTestEngine(t *testing.T, gw gateway.Gateway, configure ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		store:    guest.NewStore(guest.NewMemoryBackend(), "", testLogger()),
		catalog:  &fakeCatalog{},
		identity: &fakeIdentity{},
		reporter: &recordingReporter{},
	}
	opts := Options{
		Gateway:       gw,
		Store:         f.store,
		Catalog:       f.catalog,
		Identity:      f.identity,
		Reporter:      f.reporter,
		Logger:        testLogger(),
		PersistDelay:  time.Hour, // tests flush explicitly
		RetryAttempts: 1,
		RetryInterval: time.Millisecond,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.engine = e
	t.Cleanup(func() { e.Close(context.Background()) })
	return f
}

// login authenticates the identity and runs the engine login.
func (f *fixture) login(t *testing.T) {
	t.Helper()
	id := model.Identity{ID: 7, Email: "ada@example.com", Name: "Ada", Role: "user"}
	f.identity.set(id)
	f.engine.Login(context.Background(), id)
}

func quantities(snap *model.CartSnapshot) map[int64]int {
	out := make(map[int64]int, len(snap.Items))
	for _, l := range snap.Items {
		out[l.ProductID] = l.Quantity
	}
	return out
}

func assertTotal(t *testing.T, snap *model.CartSnapshot) {
	t.Helper()
	var cents int64
	for _, l := range snap.Items {
		cents += model.ToCents(*l.UnitPrice) * int64(l.Quantity)
	}
	if got := model.ToCents(snap.TotalPrice); got != cents {
		t.Errorf("TotalPrice = %v, want %v", snap.TotalPrice, model.FromCents(cents))
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() without collaborators should fail")
	}

	_, err := New(Options{
		Gateway:  &gateway.Mock{},
		Store:    guest.NewStore(guest.NewMemoryBackend(), "", testLogger()),
		Catalog:  &fakeCatalog{},
		Identity: &fakeIdentity{},
		Strategy: "bulk",
	})
	if model.Classify(err) != model.KindValidation {
		t.Errorf("unknown strategy error kind = %v, want validation", model.Classify(err))
	}
}

func TestGuestAdd(t *testing.T) {
	f := newTestEngine(t, &gateway.Mock{})
	ctx := context.Background()

	if _, err := f.engine.Add(ctx, 1, 2); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	snap, err := f.engine.Add(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if got := quantities(snap); got[1] != 3 || len(got) != 1 {
		t.Errorf("quantities = %v, want map[1:3]", got)
	}
	if snap.TotalPrice != 30 {
		t.Errorf("TotalPrice = %v, want 30", snap.TotalPrice)
	}
	if f.catalog.Calls() != 1 {
		t.Errorf("catalog lookups = %d, want 1", f.catalog.Calls())
	}
	if f.engine.Mode() != StateGuest {
		t.Errorf("Mode() = %q, want guest", f.engine.Mode())
	}
}

func TestGuestAdd_UnknownProduct(t *testing.T) {
	f := newTestEngine(t, &gateway.Mock{})

	_, err := f.engine.Add(context.Background(), 404, 1)
	if model.Classify(err) != model.KindNotFound {
		t.Errorf("error kind = %v, want not_found", model.Classify(err))
	}
	if !f.engine.IsEmpty() {
		t.Error("cart should stay empty")
	}
}

func TestAdd_QuantityBelowOne(t *testing.T) {
	f := newTestEngine(t, &gateway.Mock{})

	for _, qty := range []int{0, -1} {
		_, err := f.engine.Add(context.Background(), 1, qty)
		if model.Classify(err) != model.KindValidation {
			t.Errorf("Add(qty=%d) error kind = %v, want validation", qty, model.Classify(err))
		}
	}
	if f.catalog.Calls() != 0 {
		t.Error("invalid add should not reach the catalog")
	}
}

func TestRemove_AbsentProductLeavesLines(t *testing.T) {
	tests := []struct {
		name  string
		login bool
	}{
		{"guest", false},
		{"authenticated", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newTestEngine(t, newFakeServer(line(1, 1)))
			if tt.login {
				f.login(t)
			} else {
				f.engine.Add(ctx, 1, 1)
			}
			before := f.engine.Snapshot()

			after, err := f.engine.Remove(ctx, 42)
			if err != nil {
				t.Fatalf("Remove() error = %v", err)
			}
			if len(after.Items) != len(before.Items) || quantities(after)[1] != quantities(before)[1] {
				t.Errorf("lines changed: before %v after %v", quantities(before), quantities(after))
			}
		})
	}
}

func TestUpdateQuantity_ZeroRemovesLine(t *testing.T) {
	tests := []struct {
		name  string
		login bool
	}{
		{"guest", false},
		{"authenticated", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newTestEngine(t, newFakeServer(line(5, 3)))
			if tt.login {
				f.login(t)
			} else {
				f.engine.Add(ctx, 5, 3)
			}

			snap, err := f.engine.UpdateQuantity(ctx, 5, 0)
			if err != nil {
				t.Fatalf("UpdateQuantity() error = %v", err)
			}
			if snap.FindLine(5) >= 0 {
				t.Errorf("line for product 5 still present: %v", quantities(snap))
			}
			assertTotal(t, snap)
		})
	}
}

func TestGuestUpdateQuantity_AbsentProductRecommits(t *testing.T) {
	f := newTestEngine(t, &gateway.Mock{})
	ctx := context.Background()
	f.engine.Add(ctx, 1, 1)

	sub := f.engine.Subscribe()
	defer sub.Cancel()
	<-sub.C() // replay

	snap, err := f.engine.UpdateQuantity(ctx, 9, 4)
	if err != nil {
		t.Fatalf("UpdateQuantity() error = %v", err)
	}
	if quantities(snap)[1] != 1 || len(snap.Items) != 1 {
		t.Errorf("quantities = %v, want map[1:1]", quantities(snap))
	}

	select {
	case got := <-sub.C():
		if len(got.Items) != 1 {
			t.Errorf("published lines = %d, want 1", len(got.Items))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published for no-op update")
	}
}

func TestTotalInvariant(t *testing.T) {
	f := newTestEngine(t, &gateway.Mock{})
	ctx := context.Background()

	steps := []func() (*model.CartSnapshot, error){
		func() (*model.CartSnapshot, error) { return f.engine.Add(ctx, 5, 3) },
		func() (*model.CartSnapshot, error) { return f.engine.Add(ctx, 9, 7) },
		func() (*model.CartSnapshot, error) { return f.engine.UpdateQuantity(ctx, 5, 1) },
		func() (*model.CartSnapshot, error) { return f.engine.Add(ctx, 2, 1) },
		func() (*model.CartSnapshot, error) { return f.engine.Remove(ctx, 9) },
	}
	for i, step := range steps {
		snap, err := step()
		if err != nil {
			t.Fatalf("step %d error = %v", i, err)
		}
		assertTotal(t, snap)
	}
	if got := f.engine.Total(); got != 27.5 {
		t.Errorf("Total() = %v, want 27.5", got)
	}
}

func TestDerivedViews(t *testing.T) {
	f := newTestEngine(t, &gateway.Mock{})
	ctx := context.Background()

	if !f.engine.IsEmpty() || f.engine.ItemCount() != 0 || f.engine.LineCount() != 0 {
		t.Fatal("new engine should be empty")
	}

	f.engine.Add(ctx, 1, 2)
	f.engine.Add(ctx, 2, 3)

	if f.engine.ItemCount() != 5 {
		t.Errorf("ItemCount() = %d, want 5", f.engine.ItemCount())
	}
	if f.engine.LineCount() != 2 {
		t.Errorf("LineCount() = %d, want 2", f.engine.LineCount())
	}
	if f.engine.IsEmpty() {
		t.Error("IsEmpty() = true, want false")
	}
}

func TestSnapshot_ReturnsCopy(t *testing.T) {
	f := newTestEngine(t, &gateway.Mock{})
	f.engine.Add(context.Background(), 1, 1)

	snap := f.engine.Snapshot()
	snap.Items[0].Quantity = 99
	*snap.Items[0].ProductName = "changed"

	again := f.engine.Snapshot()
	if again.Items[0].Quantity != 1 || *again.Items[0].ProductName != "Mug" {
		t.Error("mutating a snapshot changed the engine's cart")
	}
}

func TestGuestPersistence(t *testing.T) {
	f := newTestEngine(t, &gateway.Mock{}, func(o *Options) {
		o.PersistDelay = 20 * time.Millisecond
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.engine.Add(ctx, 1, 1)
	}

	// Rendering sees the change before it is written
	if f.engine.ItemCount() != 5 {
		t.Fatalf("ItemCount() = %d, want 5", f.engine.ItemCount())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if quantities(f.store.Load(ctx))[1] == 5 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("guest store = %v, want map[1:5]", quantities(f.store.Load(ctx)))
}

func TestStart(t *testing.T) {
	ctx := context.Background()

	t.Run("guest loads guest store", func(t *testing.T) {
		f := newTestEngine(t, &gateway.Mock{})
		stored := &model.CartSnapshot{Items: []model.CartLine{line(2, 2)}}
		f.store.Save(ctx, stored)

		f.engine.Start(ctx)

		if f.engine.Mode() != StateGuest {
			t.Errorf("Mode() = %q, want guest", f.engine.Mode())
		}
		if f.engine.Total() != 40 {
			t.Errorf("Total() = %v, want 40", f.engine.Total())
		}
	})

	t.Run("authenticated fetches server cart", func(t *testing.T) {
		f := newTestEngine(t, newFakeServer(line(1, 4)))
		f.identity.set(model.Identity{ID: 7, Role: "user"})

		f.engine.Start(ctx)

		if f.engine.Mode() != StateAuthenticated {
			t.Errorf("Mode() = %q, want authenticated", f.engine.Mode())
		}
		if f.engine.ItemCount() != 4 {
			t.Errorf("ItemCount() = %d, want 4", f.engine.ItemCount())
		}
		if owner, ok := f.engine.Owner(); !ok || owner.ID != 7 {
			t.Errorf("Owner() = %v, %v", owner, ok)
		}
	})

	t.Run("expired session falls back to guest", func(t *testing.T) {
		gw := &gateway.Mock{
			FetchFunc: func(context.Context) (*model.CartSnapshot, error) {
				return nil, model.NewUnauthorizedError("expired")
			},
		}
		f := newTestEngine(t, gw)
		f.identity.set(model.Identity{ID: 7})
		f.store.Save(ctx, &model.CartSnapshot{Items: []model.CartLine{line(9, 1)}})

		f.engine.Start(ctx)

		if f.engine.Mode() != StateGuest {
			t.Errorf("Mode() = %q, want guest", f.engine.Mode())
		}
		if !f.engine.ReauthRequired() {
			t.Error("ReauthRequired() = false, want true")
		}
		if quantities(f.engine.Snapshot())[9] != 1 {
			t.Errorf("cart = %v, want guest cart", quantities(f.engine.Snapshot()))
		}
	})

	t.Run("transient failure shows guest store", func(t *testing.T) {
		gw := &gateway.Mock{
			FetchFunc: func(context.Context) (*model.CartSnapshot, error) {
				return nil, model.NewTransientError("store api", errors.New("timeout"))
			},
		}
		f := newTestEngine(t, gw)
		f.identity.set(model.Identity{ID: 7})
		// Written by an older build with a stale total
		stale := &model.CartSnapshot{Items: []model.CartLine{line(1, 3)}, TotalPrice: 999}
		stale.Items[0].Subtotal = 10
		f.store.Save(ctx, stale)

		f.engine.Start(ctx)

		if f.engine.Mode() != StateAuthenticated {
			t.Errorf("Mode() = %q, want authenticated", f.engine.Mode())
		}
		snap := f.engine.Snapshot()
		if quantities(snap)[1] != 3 {
			t.Errorf("cart = %v, want guest cart map[1:3]", quantities(snap))
		}
		if snap.TotalPrice != 30 || snap.Items[0].Subtotal != 30 {
			t.Errorf("TotalPrice = %v, Subtotal = %v, want 30/30", snap.TotalPrice, snap.Items[0].Subtotal)
		}
	})
}

func TestSubscribe_SeesEveryMutation(t *testing.T) {
	f := newTestEngine(t, &gateway.Mock{})
	ctx := context.Background()

	sub := f.engine.Subscribe()
	defer sub.Cancel()

	f.engine.Add(ctx, 1, 1)
	f.engine.Add(ctx, 1, 1)
	f.engine.Remove(ctx, 1)

	want := []int{0, 1, 2, 0}
	for i, w := range want {
		select {
		case snap := <-sub.C():
			if snap.ItemCount() != w {
				t.Errorf("snapshot %d ItemCount = %d, want %d", i, snap.ItemCount(), w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("snapshot %d not delivered", i)
		}
	}
}
