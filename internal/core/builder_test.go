package core

import (
	"slices"
	"testing"

	"github.com/Keksclan/onion"
)

func mkTag(tag string, log *[]string) onion.Middleware[struct{}, any] {
	return func(_ struct{}, next onion.Next[any]) (any, error) {
		*log = append(*log, tag)
		return next()
	}
}

func runBuilt(t *testing.T, b *Builder[struct{}, any]) {
	t.Helper()
	run, err := onion.Compose(b.Build())
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if _, err := run.Run(struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBuilder_OrderDeterminesExecution(t *testing.T) {
	var log []string
	var b Builder[struct{}, any]

	// Register in reverse order; Order values should sort them correctly.
	b.Add(300, mkTag("C", &log))
	b.Add(100, mkTag("A", &log))
	b.Add(200, mkTag("B", &log))

	runBuilt(t, &b)

	expected := []string{"A", "B", "C"}
	if !slices.Equal(log, expected) {
		t.Fatalf("log mismatch: got %v, want %v", log, expected)
	}
}

func TestBuilder_StableForSameOrder(t *testing.T) {
	var log []string
	var b Builder[struct{}, any]

	b.Add(100, mkTag("first", &log))
	b.Add(100, mkTag("second", &log))
	b.Add(100, mkTag("third", &log))

	runBuilt(t, &b)

	expected := []string{"first", "second", "third"}
	if !slices.Equal(log, expected) {
		t.Fatalf("log mismatch: got %v, want %v", log, expected)
	}
}

func TestBuilder_BuildKeepsRegistrationOrder(t *testing.T) {
	var log []string
	var b Builder[struct{}, any]

	b.Add(200, mkTag("late", &log))
	_ = b.Build()
	b.Add(200, mkTag("later", &log))
	b.Add(100, mkTag("early", &log))

	runBuilt(t, &b)

	expected := []string{"early", "late", "later"}
	if !slices.Equal(log, expected) {
		t.Fatalf("log mismatch: got %v, want %v", log, expected)
	}
}

func TestBuilder_SkipsNil(t *testing.T) {
	var b Builder[struct{}, any]
	b.Add(100, nil)
	if b.Len() != 0 {
		t.Fatalf("expected nil middleware to be skipped, got %d entries", b.Len())
	}
	if got := b.Build(); len(got) != 0 {
		t.Fatalf("expected empty stack, got %d", len(got))
	}
}
