// Package cart is the reconciliation engine. It owns the canonical cart
// snapshot, dispatches mutations to the backend or to the guest store
// depending on the session, merges the guest cart into the server cart at
// login and hands the cart back to the server at logout.
//
// The engine lock is held only for in-memory work. Gateway and storage
// calls run unlocked, so concurrent mutations to the same line race and
// the last response applied wins.
package cart

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"storefront-cart/internal/feed"
	"storefront-cart/internal/gateway"
	"storefront-cart/internal/metrics"
	"storefront-cart/internal/model"
	"storefront-cart/internal/observe"
)

// Engine states.
const (
	StateGuest         = "guest"
	StateAuthenticated = "authenticated"
)

// Engine events.
const (
	EventLogin  = "login"
	EventLogout = "logout"
	EventExpire = "expire"
)

// MergeStrategy selects how the login merge is sent to the backend.
type MergeStrategy string

const (
	// MergeSequential issues one update or add call per guest line.
	MergeSequential MergeStrategy = "sequential"
	// MergeSync sends the merged absolute quantities in one Sync call.
	MergeSync MergeStrategy = "sync"
)

// Identity is the session collaborator.
type Identity interface {
	IsAuthenticated() bool
	Identity() (model.Identity, bool)
	Invalidate()
}

// Catalog resolves product details for new guest lines.
type Catalog interface {
	Product(ctx context.Context, id int64) (*model.Product, error)
}

// GuestStore persists the anonymous cart. Load never fails.
type GuestStore interface {
	Load(ctx context.Context) *model.CartSnapshot
	Save(ctx context.Context, snap *model.CartSnapshot) error
	Clear(ctx context.Context) error
}

// ErrSessionChanged is returned when a login, logout or expiry happened
// while a mutation was in flight; its result is dropped.
var ErrSessionChanged = model.NewTransientError("cart", errors.New("session changed during request"))

// Options configures New.
type Options struct {
	Gateway  gateway.Gateway
	Store    GuestStore
	Catalog  Catalog
	Identity Identity
	Reporter observe.Reporter // Defaults to a LogReporter
	Logger   *slog.Logger

	Strategy      MergeStrategy // Defaults to MergeSequential
	PersistDelay  time.Duration // Defaults to feed.DefaultDelay
	RetryAttempts uint64        // Retries for Fetch and Commit; 0 uses 3
	RetryInterval time.Duration // Initial backoff; 0 uses 200ms
}

// Engine is the cart reconciliation engine. Create one per application
// session with New; it is safe for concurrent use.
type Engine struct {
	gw       gateway.Gateway
	store    GuestStore
	catalog  Catalog
	identity Identity
	reporter observe.Reporter
	logger   *slog.Logger
	strategy MergeStrategy
	retry    retryPolicy

	machine *fsm.FSM
	feed    *feed.Feed
	persist *feed.Debouncer

	mu     sync.Mutex
	snap   *model.CartSnapshot
	owner  *model.Identity
	reauth bool
	epoch  uint64 // bumped on every mode change
	// expiredAt is the epoch installed by the last session expiry.
	expiredAt uint64
}

// New creates an engine in guest mode with an empty cart. Call Start to
// load the initial cart.
func New(opts Options) (*Engine, error) {
	if opts.Gateway == nil || opts.Store == nil || opts.Catalog == nil || opts.Identity == nil {
		return nil, errors.New("cart: gateway, store, catalog and identity are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = observe.NewLogReporter(logger)
	}
	strategy := opts.Strategy
	switch strategy {
	case "":
		strategy = MergeSequential
	case MergeSequential, MergeSync:
	default:
		return nil, model.NewValidationError("merge strategy", string(strategy))
	}

	e := &Engine{
		gw:       opts.Gateway,
		store:    opts.Store,
		catalog:  opts.Catalog,
		identity: opts.Identity,
		reporter: reporter,
		logger:   logger,
		strategy: strategy,
		retry:    newRetryPolicy(opts.RetryAttempts, opts.RetryInterval),
		snap:     model.EmptyCart(),
	}
	e.feed = feed.New(e.snap)
	e.persist = feed.NewDebouncer(opts.PersistDelay, e.save, logger)
	e.machine = fsm.NewFSM(
		StateGuest,
		fsm.Events{
			{Name: EventLogin, Src: []string{StateGuest}, Dst: StateAuthenticated},
			{Name: EventLogout, Src: []string{StateAuthenticated}, Dst: StateGuest},
			{Name: EventExpire, Src: []string{StateAuthenticated}, Dst: StateGuest},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, ev *fsm.Event) {
				logger.Info("cart mode changed",
					slog.String("event", ev.Event),
					slog.String("from", ev.Src),
					slog.String("to", ev.Dst))
			},
		},
	)
	return e, nil
}

// save is the debounced persistence stage.
func (e *Engine) save(ctx context.Context, snap *model.CartSnapshot) error {
	err := e.store.Save(ctx, snap)
	metrics.PersistWrite(err)
	return err
}

// Mode returns StateGuest or StateAuthenticated.
func (e *Engine) Mode() string {
	return e.machine.Current()
}

func (e *Engine) authenticated() bool {
	return e.machine.Is(StateAuthenticated)
}

func (e *Engine) modeLabel() string {
	if e.authenticated() {
		return metrics.ModeAuthenticated
	}
	return metrics.ModeGuest
}

// transition fires event, ignoring events that do not apply to the
// current state.
func (e *Engine) transition(ctx context.Context, event string) {
	err := e.machine.Event(ctx, event)
	if err == nil {
		return
	}
	var invalid fsm.InvalidEventError
	var noTransition fsm.NoTransitionError
	if errors.As(err, &invalid) || errors.As(err, &noTransition) {
		return
	}
	e.logger.Warn("cart mode transition failed",
		slog.String("event", event),
		slog.String("error", err.Error()))
}

// Start loads the initial cart: the server cart for an authenticated
// session, else the guest store.
func (e *Engine) Start(ctx context.Context) {
	if !e.identity.IsAuthenticated() {
		e.loadGuest(ctx)
		return
	}

	if !e.authenticated() {
		e.machine.SetState(StateAuthenticated)
	}
	e.mu.Lock()
	e.epoch++
	if id, ok := e.identity.Identity(); ok {
		e.owner = &id
	}
	epoch := e.epoch
	e.mu.Unlock()
	e.loadServer(ctx, epoch)
}

// Refresh re-runs the initial load. An authenticated engine with a
// preserved guest cart (left by a failed merge) retries the merge.
func (e *Engine) Refresh(ctx context.Context) {
	if err := e.persist.Flush(ctx); err != nil {
		e.logger.Warn("flushing guest cart before refresh", slog.String("error", err.Error()))
	}

	if !e.authenticated() {
		e.loadGuest(ctx)
		return
	}

	epoch := e.currentEpoch()
	preserved := e.store.Load(ctx)
	if preserved.IsEmpty() {
		e.loadServer(ctx, epoch)
		return
	}
	e.merge(ctx, epoch, preserved)
}

// storedCart returns the guest store's cart with totals recomputed.
func (e *Engine) storedCart(ctx context.Context) *model.CartSnapshot {
	snap := e.store.Load(ctx)
	if err := snap.Recalculate(); err != nil {
		return model.EmptyCart()
	}
	return snap
}

func (e *Engine) loadGuest(ctx context.Context) {
	e.replace(e.storedCart(ctx))
}

// loadServer fetches the server cart for the session at epoch. A
// rejected session expires it; any other failure shows the guest cart.
func (e *Engine) loadServer(ctx context.Context, epoch uint64) {
	snap, err := e.fetch(ctx)
	switch {
	case err == nil:
	case model.Classify(err) == model.KindUnauthorized:
		e.expire(ctx, epoch)
		return
	default:
		e.logger.Warn("loading server cart failed, showing guest cart",
			slog.String("error", err.Error()))
		snap = e.storedCart(ctx)
	}
	e.install(epoch, snap, "load")
}

// expire drops to guest mode after the backend rejected the session seen
// at epoch and swaps in the guest store's cart. It returns the epoch a
// fallback mutation applies under.
func (e *Engine) expire(ctx context.Context, epoch uint64) uint64 {
	e.mu.Lock()
	next, moved := e.movedOnLocked(epoch)
	e.mu.Unlock()
	if moved {
		return next
	}

	guestCart := e.storedCart(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if next, moved := e.movedOnLocked(epoch); moved {
		return next
	}
	e.transition(ctx, EventExpire)
	metrics.Fallback()
	e.reauth = true
	e.owner = nil
	e.epoch++
	e.expiredAt = e.epoch
	e.publishLocked(guestCart)
	return e.epoch
}

// movedOnLocked reports whether the session changed since epoch. When the
// change was an expiry still in effect, the current epoch is returned so
// later fallbacks build on the guest cart it installed instead of
// reloading the store over it. Otherwise epoch itself comes back and the
// caller's commit fails with ErrSessionChanged.
func (e *Engine) movedOnLocked(epoch uint64) (uint64, bool) {
	switch {
	case epoch == e.epoch:
		return 0, false
	case e.epoch == e.expiredAt && !e.authenticated():
		return e.epoch, true
	default:
		return epoch, true
	}
}

func (e *Engine) currentEpoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch
}

// install publishes snap without persistence if the session is still the
// one at epoch; a stale result is dropped.
func (e *Engine) install(epoch uint64, snap *model.CartSnapshot, op string) {
	if _, err := e.commit(epoch, snap, false); err != nil {
		e.logger.Info("session changed, cart result dropped", slog.String("op", op))
	}
}

// replace publishes snap without scheduling persistence.
func (e *Engine) replace(snap *model.CartSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishLocked(snap)
}

// commit installs snap as the canonical cart if the session has not
// changed since epoch, publishes it and, in guest mode, schedules the
// write to the guest store.
func (e *Engine) commit(epoch uint64, snap *model.CartSnapshot, persist bool) (*model.CartSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch {
		return nil, ErrSessionChanged
	}
	return e.commitLocked(snap, persist), nil
}

func (e *Engine) commitLocked(snap *model.CartSnapshot, persist bool) *model.CartSnapshot {
	e.publishLocked(snap)
	if persist {
		e.persist.Schedule(e.snap)
	}
	return e.snap.Clone()
}

func (e *Engine) publishLocked(snap *model.CartSnapshot) {
	e.snap = snap.Clone()
	e.feed.Publish(e.snap)
}

// Snapshot returns a copy of the current cart.
func (e *Engine) Snapshot() *model.CartSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.Clone()
}

// ItemCount is the sum of line quantities.
func (e *Engine) ItemCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.ItemCount()
}

// LineCount is the number of distinct products.
func (e *Engine) LineCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.LineCount()
}

// Total returns the cart total.
func (e *Engine) Total() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.TotalPrice
}

// IsEmpty reports whether the cart has no lines.
func (e *Engine) IsEmpty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.IsEmpty()
}

// ReauthRequired reports whether the backend rejected the session since
// the last login.
func (e *Engine) ReauthRequired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reauth
}

// Owner returns the identity the engine was logged in with.
func (e *Engine) Owner() (model.Identity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.owner == nil {
		return model.Identity{}, false
	}
	return *e.owner, true
}

// Subscribe returns a subscription that first yields the current cart.
func (e *Engine) Subscribe() *feed.Subscription {
	return e.feed.Subscribe()
}

// Close flushes pending persistence and stops all subscriptions.
func (e *Engine) Close(ctx context.Context) error {
	err := e.persist.Close(ctx)
	e.feed.Close()
	return err
}
