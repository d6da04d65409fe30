package onion

import "context"

// Future is the deferred result of a runner started with [Runner.Go].
type Future[R any] struct {
	done chan struct{}
	val  R
	err  error
}

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

// complete must be called exactly once.
func (f *Future[R]) complete(val R, err error) {
	f.val, f.err = val, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the invocation finishes and returns its result.
func (f *Future[R]) Result() (R, error) {
	<-f.done
	return f.val, f.err
}

// Wait is like Result but gives up when ctx is done. The invocation itself
// keeps running; there is no way to cancel it from the outside.
func (f *Future[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}
