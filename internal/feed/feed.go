// Package feed broadcasts cart snapshots to observers and debounces their
// persistence.
//
// Publishing is the synchronous stage: every subscriber sees every snapshot
// in publish order, each through its own unbounded queue so a slow
// observer never blocks the publisher. Persistence is the asynchronous
// stage handled by Debouncer.
package feed

import (
	"sync"

	"storefront-cart/internal/model"
)

// Feed is a replay-one broadcast of cart snapshots. Safe for concurrent use.
type Feed struct {
	mu      sync.Mutex
	current *model.CartSnapshot
	subs    map[*Subscription]struct{}
	closed  bool
}

// New creates a feed whose current value is initial (empty when nil).
func New(initial *model.CartSnapshot) *Feed {
	if initial == nil {
		initial = model.EmptyCart()
	}
	return &Feed{
		current: initial.Clone(),
		subs:    make(map[*Subscription]struct{}),
	}
}

// Publish makes snap the current value and queues it for every subscriber.
// Each subscriber receives its own copy.
func (f *Feed) Publish(snap *model.CartSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.current = snap.Clone()
	for sub := range f.subs {
		sub.push(f.current.Clone())
	}
}

// Current returns a copy of the latest published snapshot.
func (f *Feed) Current() *model.CartSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.Clone()
}

// Subscribe returns a subscription whose channel yields the current
// snapshot first, then every later one. Cancel it when done.
func (f *Feed) Subscribe() *Subscription {
	sub := newSubscription(f)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		sub.stop()
		return sub
	}
	f.subs[sub] = struct{}{}
	sub.push(f.current.Clone())
	f.mu.Unlock()

	return sub
}

// Subscribers is the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close cancels every subscription. Later publishes are dropped.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	subs := f.subs
	f.subs = make(map[*Subscription]struct{})
	f.mu.Unlock()

	for sub := range subs {
		sub.stop()
	}
}

func (f *Feed) remove(sub *Subscription) {
	f.mu.Lock()
	delete(f.subs, sub)
	f.mu.Unlock()
}

// Subscription is one observer's ordered view of the feed.
type Subscription struct {
	feed *Feed
	ch   chan *model.CartSnapshot

	mu     sync.Mutex
	queue  []*model.CartSnapshot
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
	exited chan struct{}
}

func newSubscription(f *Feed) *Subscription {
	s := &Subscription{
		feed:   f,
		ch:     make(chan *model.CartSnapshot),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.pump()
	return s
}

// C yields snapshots in publish order. Closed after Cancel.
func (s *Subscription) C() <-chan *model.CartSnapshot {
	return s.ch
}

// Cancel stops delivery and waits for the pump goroutine to exit.
// Undelivered snapshots are dropped. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.feed.remove(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
	<-s.exited
}

func (s *Subscription) push(snap *model.CartSnapshot) {
	s.mu.Lock()
	s.queue = append(s.queue, snap)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves queued snapshots to the channel one at a time.
func (s *Subscription) pump() {
	defer close(s.exited)
	defer close(s.ch)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- next:
		case <-s.done:
			return
		}
	}
}
