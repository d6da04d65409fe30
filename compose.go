package onion

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"slices"
	"sync/atomic"
)

// Runner is a composed stack. Calling it runs the stack with args; terminal,
// when not nil, is invoked after the last middleware as if it were appended
// to the stack. The result is whatever the first middleware returns.
//
// A Runner holds no per-call state and may be invoked any number of times,
// sequentially or from concurrent goroutines.
type Runner[T, R any] func(args T, terminal Middleware[T, R]) (R, error)

// Run invokes the runner without a terminal continuation.
func (r Runner[T, R]) Run(args T) (R, error) {
	return r(args, nil)
}

// Go invokes the runner on a new goroutine and returns its deferred result.
func (r Runner[T, R]) Go(args T, terminal Middleware[T, R]) *Future[R] {
	f := newFuture[R]()
	go func() {
		f.complete(r(args, terminal))
	}()
	return f
}

// Compose validates stack and returns a Runner executing it in order. The
// stack is copied; later changes to the caller's slice do not affect the
// runner. A nil element is reported as [ErrTypeMismatch].
func Compose[T, R any](stack []Middleware[T, R]) (Runner[T, R], error) {
	for i, mw := range stack {
		if mw == nil {
			return nil, fmt.Errorf("%w: middleware %d is not a function", ErrTypeMismatch, i)
		}
	}
	mws := slices.Clone(stack)

	return func(args T, terminal Middleware[T, R]) (R, error) {
		inv := &invocation[T, R]{
			stack:    mws,
			terminal: terminal,
			args:     args,
		}
		inv.cursor.Store(-1)
		return inv.dispatch(0)
	}, nil
}

// MustCompose is like Compose but panics if the stack is invalid.
func MustCompose[T, R any](stack []Middleware[T, R]) Runner[T, R] {
	r, err := Compose(stack)
	if err != nil {
		panic(err)
	}
	return r
}

// ComposeAny composes a stack whose static type is unknown, e.g. one
// assembled from plugins. stack must be a slice or array whose elements are
// Middleware[T, R] or plain func(T, Next[R]) (R, error) values.
func ComposeAny[T, R any](stack any) (Runner[T, R], error) {
	v := reflect.ValueOf(stack)
	if !v.IsValid() || (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) {
		return nil, fmt.Errorf("%w: middleware stack must be a slice, got %T", ErrTypeMismatch, stack)
	}

	mws := make([]Middleware[T, R], v.Len())
	for i := range v.Len() {
		switch fn := v.Index(i).Interface().(type) {
		case Middleware[T, R]:
			mws[i] = fn
		case func(T, Next[R]) (R, error):
			mws[i] = fn
		default:
			return nil, fmt.Errorf("%w: middleware %d is %T, not a function", ErrTypeMismatch, i, fn)
		}
	}
	return Compose(mws)
}

// Chain composes stack and exposes the result as a single middleware.
func Chain[T, R any](stack ...Middleware[T, R]) (Middleware[T, R], error) {
	r, err := Compose(stack)
	if err != nil {
		return nil, err
	}
	return Nest(r), nil
}

// invocation is the state of one Runner call.
type invocation[T, R any] struct {
	stack    []Middleware[T, R]
	terminal Middleware[T, R]
	args     T

	// cursor is the highest index dispatched so far.
	cursor atomic.Int64
}

func (inv *invocation[T, R]) dispatch(i int) (R, error) {
	if !inv.advance(i) {
		var zero R
		return zero, ErrMultipleNext
	}

	var mw Middleware[T, R]
	switch {
	case i < len(inv.stack):
		mw = inv.stack[i]
	case i == len(inv.stack):
		mw = inv.terminal
	}
	if mw == nil {
		var zero R
		return zero, nil
	}

	return invoke(mw, inv.args, func() (R, error) {
		return inv.dispatch(i + 1)
	})
}

// advance moves the cursor to i. It fails if i was already reached, which
// also catches a Next called twice from different goroutines.
func (inv *invocation[T, R]) advance(i int) bool {
	for {
		cur := inv.cursor.Load()
		if int64(i) <= cur {
			return false
		}
		if inv.cursor.CompareAndSwap(cur, int64(i)) {
			return true
		}
	}
}

func invoke[T, R any](mw Middleware[T, R], args T, next Next[R]) (res R, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero R
			res = zero
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return mw(args, next)
}
