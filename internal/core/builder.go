// Package core holds the stack assembly shared by the server package.
package core

import (
	"cmp"
	"slices"

	"github.com/Keksclan/onion"
)

// entry is one registered middleware with its execution order. Lower Order
// values run first (outermost).
type entry[T, R any] struct {
	mw    onion.Middleware[T, R]
	order int
}

// Builder collects middleware with explicit orders and produces a stack
// ready for onion.Compose.
type Builder[T, R any] struct {
	entries []entry[T, R]
}

// Add registers mw at the given order. nil middleware is ignored so options
// can pass through optional steps unconditionally.
func (b *Builder[T, R]) Add(order int, mw onion.Middleware[T, R]) {
	if mw == nil {
		return
	}
	b.entries = append(b.entries, entry[T, R]{mw: mw, order: order})
}

// Len returns the number of registered middleware.
func (b *Builder[T, R]) Len() int {
	return len(b.entries)
}

// Build returns the registered middleware sorted by order. Entries sharing
// an order keep their registration order.
func (b *Builder[T, R]) Build() []onion.Middleware[T, R] {
	sorted := slices.Clone(b.entries)
	slices.SortStableFunc(sorted, func(a, c entry[T, R]) int {
		return cmp.Compare(a.order, c.order)
	})

	stack := make([]onion.Middleware[T, R], 0, len(sorted))
	for _, e := range sorted {
		stack = append(stack, e.mw)
	}
	return stack
}
