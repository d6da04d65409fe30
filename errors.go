package onion

import (
	"errors"
	"fmt"
)

var (
	// ErrMultipleNext is returned by a Next that was already called within the
	// same invocation.
	ErrMultipleNext = errors.New("onion: next() called multiple times")

	// ErrTypeMismatch is returned at composition time when the stack is not a
	// sequence or one of its elements is not a callable middleware.
	ErrTypeMismatch = errors.New("onion: type mismatch")
)

// PanicError is the error a chain returns in place of a panic raised by one
// of its middleware. It surfaces through next() exactly like a returned error.
type PanicError struct {
	// Value is the value passed to panic().
	Value any
	// Stack is the goroutine stack captured where the panic was recovered.
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("onion: panic recovered: %v", e.Value)
}

// Unwrap exposes the panic value when it is an error, so errors.Is and
// errors.As keep matching the original failure.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// IsPanic reports whether err is or wraps a recovered panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
