// Package observe provides a minimal observable-value abstraction: a
// value with subscribers, and a computed value recomputed synchronously
// from its dependencies. Session flags (logged-in, public key, browser
// id) are exposed through it so transport and UI collaborators can
// react to credential changes without polling.
package observe

import "sync"

// CancelFunc unregisters a subscriber. Safe to call more than once.
type CancelFunc func()

// Readable is the read-only view of an observable value.
type Readable[T any] interface {
	Get() T
	Subscribe(fn func(T)) CancelFunc
}

// Value is an observable value. Subscribers are invoked synchronously,
// on the mutating goroutine, whenever Set changes the value.
type Value[T comparable] struct {
	mu     sync.Mutex
	v      T
	nextID int
	subs   map[int]func(T)
}

var _ Readable[int] = (*Value[int])(nil)

// NewValue creates a Value holding initial.
func NewValue[T comparable](initial T) *Value[T] {
	return &Value[T]{v: initial}
}

func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.v
}

// Set updates the value and notifies subscribers if it changed.
func (v *Value[T]) Set(next T) {
	v.mu.Lock()
	if v.v == next {
		v.mu.Unlock()
		return
	}
	v.v = next
	fns := v.subscribers()
	v.mu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
}

func (v *Value[T]) Subscribe(fn func(T)) CancelFunc {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.subs == nil {
		v.subs = make(map[int]func(T))
	}
	id := v.nextID
	v.nextID++
	v.subs[id] = fn

	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.subs, id)
	}
}

// subscribers must be called with v.mu held.
func (v *Value[T]) subscribers() []func(T) {
	fns := make([]func(T), 0, len(v.subs))
	for _, fn := range v.subs {
		fns = append(fns, fn)
	}
	return fns
}

// Computed derives a value from a compute function. It does not track
// dependencies itself: wiring code subscribes each dependency to call
// Invalidate, which recomputes synchronously and notifies subscribers
// on change.
type Computed[T comparable] struct {
	value   *Value[T]
	compute func() T
}

var _ Readable[bool] = (*Computed[bool])(nil)

// NewComputed creates a Computed and evaluates it once.
func NewComputed[T comparable](compute func() T) *Computed[T] {
	return &Computed[T]{
		value:   NewValue(compute()),
		compute: compute,
	}
}

func (c *Computed[T]) Get() T {
	return c.value.Get()
}

// Invalidate recomputes the value from its dependencies.
func (c *Computed[T]) Invalidate() {
	c.value.Set(c.compute())
}

func (c *Computed[T]) Subscribe(fn func(T)) CancelFunc {
	return c.value.Subscribe(fn)
}
