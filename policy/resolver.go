// Package policy maps method names to named groups. A group carries a
// Policy and is what the gRPC middleware uses to pick per-group limiters,
// timeouts and nested sub-stacks.
package policy

import (
	"fmt"
	"sync"

	"github.com/Keksclan/onion/ratelimit"
)

// Match is the result of a successful resolution.
type Match struct {
	Group  string
	Policy Policy
}

// Resolver resolves a full method name to the best-matching group. It is
// safe for concurrent use.
type Resolver struct {
	groups   []*GroupBuilder
	limiters map[string]*ratelimit.Limiter

	// Method names repeat on every call.
	seen sync.Map // string -> resolution
}

type resolution struct {
	m  Match
	ok bool
}

// NewResolver validates the groups and builds a Resolver. Group names must
// be unique.
func NewResolver(groups ...*GroupBuilder) (*Resolver, error) {
	res := &Resolver{limiters: make(map[string]*ratelimit.Limiter)}
	names := make(map[string]struct{}, len(groups))

	for _, g := range groups {
		if g == nil {
			continue
		}
		if err := g.validate(); err != nil {
			return nil, err
		}
		if _, dup := names[g.name]; dup {
			return nil, fmt.Errorf("policy: duplicate group %q", g.name)
		}
		names[g.name] = struct{}{}

		if rl := g.policy.RateLimit; rl != nil {
			rps := float64(rl.Rate) / rl.Window.Seconds()
			res.limiters[g.name] = ratelimit.NewLimiter(rps, rl.Rate)
		}
		res.groups = append(res.groups, g)
	}
	return res, nil
}

// MustResolver is like NewResolver but panics on error.
func MustResolver(groups ...*GroupBuilder) *Resolver {
	res, err := NewResolver(groups...)
	if err != nil {
		panic(err)
	}
	return res
}

// Resolve finds the best-matching group for fullMethod.
//
// Priority rules:
//   - Exact matches beat prefix matches, which beat regex matches.
//   - Among matches of the same kind the longer match wins.
//   - When two matches have equal kind and length the group that was
//     registered first wins.
func (res *Resolver) Resolve(fullMethod string) (Match, bool) {
	if res == nil {
		return Match{}, false
	}
	if v, ok := res.seen.Load(fullMethod); ok {
		r := v.(resolution)
		return r.m, r.ok
	}

	var (
		best     Match
		found    bool
		bestKind matchKind
		bestLen  int
	)
	for _, g := range res.groups {
		for _, r := range g.rules {
			matched, n := r.match(fullMethod)
			if !matched {
				continue
			}
			if !found || r.kind < bestKind || (r.kind == bestKind && n > bestLen) {
				best = Match{Group: g.name, Policy: g.policy}
				bestKind, bestLen, found = r.kind, n, true
			}
		}
	}

	res.seen.Store(fullMethod, resolution{m: best, ok: found})
	return best, found
}

// Limiter returns the limiter of the group fullMethod resolves to, or nil
// when the group has no rate limit.
func (res *Resolver) Limiter(fullMethod string) *ratelimit.Limiter {
	m, ok := res.Resolve(fullMethod)
	if !ok {
		return nil
	}
	return res.limiters[m.Group]
}

// Policy returns the policy of the named group.
func (res *Resolver) Policy(group string) (Policy, bool) {
	if res == nil {
		return Policy{}, false
	}
	for _, g := range res.groups {
		if g.name == group {
			return g.policy, true
		}
	}
	return Policy{}, false
}

// Groups returns the registered group names in registration order.
func (res *Resolver) Groups() []string {
	if res == nil {
		return nil
	}
	names := make([]string, len(res.groups))
	for i, g := range res.groups {
		names[i] = g.name
	}
	return names
}
