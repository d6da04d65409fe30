package policy

import (
	"fmt"
	"regexp"
	"time"
)

// RateLimitRule describes a rate-limiting policy for a group of methods.
type RateLimitRule struct {
	// Rate is the maximum number of requests allowed within Window.
	Rate int
	// Window is the time window for the rate limit.
	Window time.Duration
}

// Policy holds the configuration that applies to a matched method group.
type Policy struct {
	RateLimit    *RateLimitRule
	Timeout      time.Duration
	AuthRequired bool
}

type matchKind int

const (
	kindExact  matchKind = iota // highest priority
	kindPrefix                  // medium priority
	kindRegex                   // lowest priority
)

type rule struct {
	kind    matchKind
	pattern string
	re      *regexp.Regexp
}

// GroupBuilder constructs a named method group with one or more matching
// rules and a policy. Errors in the rules are reported by NewResolver.
type GroupBuilder struct {
	name   string
	rules  []rule
	policy Policy
	err    error
}

// Group starts building a new method group with the given name.
func Group(name string) *GroupBuilder {
	return &GroupBuilder{name: name}
}

// Exact adds an exact-match rule for pattern.
func (g *GroupBuilder) Exact(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindExact, pattern: pattern})
	return g
}

// Prefix adds a prefix-match rule for pattern.
func (g *GroupBuilder) Prefix(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindPrefix, pattern: pattern})
	return g
}

// Regex adds a regex-match rule for pattern.
func (g *GroupBuilder) Regex(pattern string) *GroupBuilder {
	re, err := regexp.Compile(pattern)
	if err != nil {
		if g.err == nil {
			g.err = fmt.Errorf("policy: group %q: %w", g.name, err)
		}
		return g
	}
	g.rules = append(g.rules, rule{kind: kindRegex, pattern: pattern, re: re})
	return g
}

// Policy attaches p to the group.
func (g *GroupBuilder) Policy(p Policy) *GroupBuilder {
	g.policy = p
	return g
}

func (g *GroupBuilder) validate() error {
	if g.err != nil {
		return g.err
	}
	if g.name == "" {
		return fmt.Errorf("policy: group without a name")
	}
	if len(g.rules) == 0 {
		return fmt.Errorf("policy: group %q has no rules", g.name)
	}
	if rl := g.policy.RateLimit; rl != nil && (rl.Rate <= 0 || rl.Window <= 0) {
		return fmt.Errorf("policy: group %q: rate limit needs a positive rate and window", g.name)
	}
	return nil
}
