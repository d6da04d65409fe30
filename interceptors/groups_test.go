package interceptors

import (
	"context"
	"slices"
	"testing"

	"github.com/Keksclan/onion"
	"github.com/Keksclan/onion/contextx"
	"github.com/Keksclan/onion/policy"
)

func TestGroups_NestsGroupStack(t *testing.T) {
	resolver := policy.MustResolver(
		policy.Group("admin").Prefix("/admin."),
		policy.Group("public").Prefix("/public."),
	)

	var log []string
	adminStack := onion.MustCompose([]UnaryMiddleware{
		makeTag[*UnaryCall, any]("audit", &log),
		makeTag[*UnaryCall, any]("strict", &log),
	})
	handler := func(ctx context.Context, _ any) (any, error) {
		log = append(log, "handler:"+contextx.GroupFromContext(ctx))
		return "ok", nil
	}

	stack := []UnaryMiddleware{
		makeTag[*UnaryCall, any]("outer", &log),
		Groups(resolver, map[string]onion.Runner[*UnaryCall, any]{"admin": adminStack}),
		makeTag[*UnaryCall, any]("inner", &log),
	}

	if _, err := callUnary(t, t.Context(), "/admin.Svc/Delete", nil, handler, stack...); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"outer:before", "audit:before", "strict:before", "inner:before",
		"handler:admin",
		"inner:after", "strict:after", "audit:after", "outer:after",
	}
	if !slices.Equal(log, want) {
		t.Fatalf("admin call:\n got %v\nwant %v", log, want)
	}

	log = nil
	if _, err := callUnary(t, t.Context(), "/public.Svc/List", nil, handler, stack...); err != nil {
		t.Fatal(err)
	}
	want = []string{"outer:before", "inner:before", "handler:public", "inner:after", "outer:after"}
	if !slices.Equal(log, want) {
		t.Fatalf("public call:\n got %v\nwant %v", log, want)
	}

	log = nil
	if _, err := callUnary(t, t.Context(), "/other.Svc/Get", nil, handler, stack...); err != nil {
		t.Fatal(err)
	}
	want = []string{"outer:before", "inner:before", "handler:", "inner:after", "outer:after"}
	if !slices.Equal(log, want) {
		t.Fatalf("ungrouped call:\n got %v\nwant %v", log, want)
	}
}

func TestGroups_StackCanShortCircuit(t *testing.T) {
	resolver := policy.MustResolver(policy.Group("closed").Prefix("/closed."))
	closed := onion.MustCompose([]UnaryMiddleware{
		func(*UnaryCall, onion.Next[any]) (any, error) { return "maintenance", nil },
	})

	resp, err := callUnary(t, t.Context(), "/closed.Svc/Get", nil, failHandler(t),
		Groups(resolver, map[string]onion.Runner[*UnaryCall, any]{"closed": closed}))
	if err != nil {
		t.Fatal(err)
	}
	if resp != "maintenance" {
		t.Fatalf("got %v", resp)
	}
}
