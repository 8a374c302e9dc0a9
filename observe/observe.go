// Package observe provides the small reactive primitives shared by the
// connectivity and media packages.
//
// A Feed broadcasts every published value to its subscribers. A Value holds
// the latest value, replays it to new subscribers and only notifies when the
// value actually changes. Both deliver synchronously on the publishing
// goroutine, one publication at a time, so subscribers observe values in
// publication order. A subscriber must not publish to the same Feed or Value
// from inside its callback.
package observe

import "sync"

// Feed is a multi-subscriber broadcast of values of type T.
// The zero value is ready to use.
type Feed[T any] struct {
	mu     sync.Mutex
	emitMu sync.Mutex
	nextID uint64
	subs   map[uint64]func(T)
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is idempotent.
func (f *Feed[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	f.mu.Lock()
	if f.subs == nil {
		f.subs = make(map[uint64]func(T))
	}
	f.nextID++
	id := f.nextID
	f.subs[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

// Once registers fn for the next published value only.
func (f *Feed[T]) Once(fn func(T)) (cancel func()) {
	var (
		mu    sync.Mutex
		fired bool
		unsub func()
	)
	mu.Lock()
	defer mu.Unlock()
	unsub = f.Subscribe(func(v T) {
		mu.Lock()
		if fired {
			mu.Unlock()
			return
		}
		fired = true
		u := unsub
		mu.Unlock()
		u()
		fn(v)
	})
	return unsub
}

// Publish delivers v to every current subscriber.
func (f *Feed[T]) Publish(v T) {
	f.emitMu.Lock()
	defer f.emitMu.Unlock()

	for _, fn := range f.snapshot() {
		fn(v)
	}
}

// Len returns the number of active subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed[T]) snapshot() []func(T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fns := make([]func(T), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	return fns
}

// Value is a distinct-until-changed holder of the latest T.
type Value[T comparable] struct {
	mu   sync.Mutex
	cur  T
	feed Feed[T]
}

// NewValue returns a Value holding initial.
func NewValue[T comparable](initial T) *Value[T] {
	return &Value[T]{cur: initial}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set stores next and notifies subscribers if it differs from the current
// value. It reports whether a change happened.
func (v *Value[T]) Set(next T) bool {
	v.feed.emitMu.Lock()
	defer v.feed.emitMu.Unlock()

	v.mu.Lock()
	if v.cur == next {
		v.mu.Unlock()
		return false
	}
	v.cur = next
	v.mu.Unlock()

	for _, fn := range v.feed.snapshot() {
		fn(next)
	}
	return true
}

// Subscribe calls fn with the current value and then with every change.
func (v *Value[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	v.feed.emitMu.Lock()
	defer v.feed.emitMu.Unlock()

	unsubscribe = v.feed.Subscribe(fn)
	fn(v.Get())
	return unsubscribe
}

// OnChange calls fn for every change after subscription, without replaying
// the current value.
func (v *Value[T]) OnChange(fn func(T)) (unsubscribe func()) {
	return v.feed.Subscribe(fn)
}
