// Package cell provides a single-owner exclusive-access cell.
//
// The kernel runs on one logical core and never holds two borrows of the same
// state at once. A second overlapping borrow is a bug in the caller, so it
// aborts instead of blocking the way a mutex would.
package cell

import (
	"fmt"
	"sync/atomic"
)

// Exclusive guards a value of type T; at most one borrow may be outstanding.
type Exclusive[T any] struct {
	name     string
	value    T
	borrowed atomic.Bool
}

// New wraps value. name is used in the panic message on overlapping borrows.
func New[T any](name string, value T) *Exclusive[T] {
	return &Exclusive[T]{name: name, value: value}
}

// Borrow returns exclusive access to the value together with a release
// function. Borrowing while a previous borrow is still held panics.
func (c *Exclusive[T]) Borrow() (*T, func()) {
	if !c.borrowed.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("cell: %s already borrowed", c.name))
	}
	released := false
	return &c.value, func() {
		if released {
			return
		}
		released = true
		c.borrowed.Store(false)
	}
}

// With runs fn while holding the borrow.
func (c *Exclusive[T]) With(fn func(value *T)) {
	v, release := c.Borrow()
	defer release()
	fn(v)
}

// Borrowed reports whether a borrow is currently outstanding.
func (c *Exclusive[T]) Borrowed() bool {
	return c.borrowed.Load()
}
