package render

import (
	"slices"
	"sync"

	v1 "subforge/internal/contracts/renderer/v1"
)

// Predicate selects the events a subscriber wants.
type Predicate func(v1.Event) bool

// EventHandler receives matching events.
type EventHandler func(v1.Event)

type subscription struct {
	key    uint64
	match  Predicate
	handle EventHandler
}

// Bus fans inbound renderer events out to subscribers. Handlers run on the
// publishing goroutine, outside the bus lock, so a handler may unsubscribe.
//
// Subscriptions for a single operation are indexed by id, so publishing
// costs the number of predicate subscriptions plus the matches for that
// operation, not the number of operations in flight.
type Bus struct {
	mu    sync.RWMutex
	next  uint64
	count int
	any   []*subscription
	byOp  map[string][]*subscription
}

func NewBus() *Bus {
	return &Bus{byOp: make(map[string][]*subscription)}
}

// Subscribe registers handle for events accepted by match. The returned
// function removes the subscription; calling it again is a no-op.
func (b *Bus) Subscribe(match Predicate, handle EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	s := b.newLocked(match, handle)
	b.any = append(b.any, s)
	b.mu.Unlock()

	return b.remover(func() {
		b.any = without(b.any, s.key)
	})
}

// SubscribeOperation registers handle for events correlated to id. It
// matches the same events as Subscribe(ForOperation(id), handle).
func (b *Bus) SubscribeOperation(id string, handle EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	s := b.newLocked(ForOperation(id), handle)
	b.byOp[id] = append(b.byOp[id], s)
	b.mu.Unlock()

	return b.remover(func() {
		if rest := without(b.byOp[id], s.key); len(rest) > 0 {
			b.byOp[id] = rest
		} else {
			delete(b.byOp, id)
		}
	})
}

func (b *Bus) newLocked(match Predicate, handle EventHandler) *subscription {
	b.next++
	b.count++
	return &subscription{key: b.next, match: match, handle: handle}
}

func (b *Bus) remover(removeLocked func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			removeLocked()
			b.count--
			b.mu.Unlock()
		})
	}
}

// Publish hands ev to every matching subscriber in subscription order and
// returns how many matched.
func (b *Bus) Publish(ev v1.Event) int {
	b.mu.RLock()
	indexed := b.byOp[ev.OperationID()]
	var targets []EventHandler
	i := 0
	for _, s := range b.any {
		for ; i < len(indexed) && indexed[i].key < s.key; i++ {
			targets = append(targets, indexed[i].handle)
		}
		if s.match(ev) {
			targets = append(targets, s.handle)
		}
	}
	for ; i < len(indexed); i++ {
		targets = append(targets, indexed[i].handle)
	}
	b.mu.RUnlock()

	for _, handle := range targets {
		handle(ev)
	}
	return len(targets)
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// ForOperation matches events correlated to id.
func ForOperation(id string) Predicate {
	return func(ev v1.Event) bool {
		return ev.OperationID() == id
	}
}

// without returns subs minus the entry with key. Keys are appended in
// increasing order, so subs stays sorted.
func without(subs []*subscription, key uint64) []*subscription {
	i, ok := slices.BinarySearchFunc(subs, key, func(s *subscription, k uint64) int {
		switch {
		case s.key < k:
			return -1
		case s.key > k:
			return 1
		}
		return 0
	})
	if !ok {
		return subs
	}
	return slices.Delete(subs, i, i+1)
}
