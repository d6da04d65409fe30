package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Keksclan/onion/breaker"
	"github.com/Keksclan/onion/cache"
	"github.com/Keksclan/onion/interceptors"
	"github.com/Keksclan/onion/internal/core"
	"github.com/Keksclan/onion/policy"
	"github.com/Keksclan/onion/ratelimit"
	"github.com/Keksclan/onion/security"
	"github.com/Keksclan/onion/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
)

// Option configures a Server.
type Option func(*config)

// config holds the settings collected from options. Middleware is assembled
// by NewServer once all options ran, so options may depend on each other
// regardless of the order they are passed in.
type config struct {
	logger *slog.Logger

	recovery  bool
	requestID bool
	logging   bool
	tracing   *tracing.Config
	registry  prometheus.Registerer
	filter    *security.Filter
	authFn    interceptors.AuthFunc
	global    *ratelimit.Limiter
	breaker   *breaker.Breaker
	timeout   time.Duration
	groups    []*policy.GroupBuilder
	resolver  *policy.Resolver
	l1        *cache.L1
	l2        *cache.L2
	compress  bool
	cacheTTL  time.Duration
	cached    map[string]func() proto.Message

	groupUnary  map[string][]interceptors.UnaryMiddleware
	groupStream map[string][]interceptors.StreamMiddleware

	unary  core.Builder[*interceptors.UnaryCall, any]
	stream core.Builder[*interceptors.StreamCall, struct{}]

	grpcOpts []grpc.ServerOption
	errs     []error
}

func (c *config) fail(format string, args ...any) {
	c.errs = append(c.errs, fmt.Errorf("server: "+format, args...))
}

// WithLogger sets the logger used by the recovery and logging middleware.
// Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithRecovery logs panics raised by middleware or handlers and turns them
// into codes.Internal instead of crashing the process.
func WithRecovery() Option {
	return func(c *config) { c.recovery = true }
}

// WithRequestID makes every call carry a request ID, see
// interceptors.RequestID.
func WithRequestID() Option {
	return func(c *config) { c.requestID = true }
}

// WithLogging logs one line per call.
func WithLogging() Option {
	return func(c *config) { c.logging = true }
}

// WithTracing opens an OpenTelemetry server span for every call. A nil cfg
// uses the global tracer provider and propagator.
func WithTracing(cfg *tracing.Config) Option {
	return func(c *config) {
		if cfg == nil {
			cfg = &tracing.Config{}
		}
		c.tracing = cfg
	}
}

// WithMetrics records stack metrics on reg. A nil reg uses a fresh registry
// served by Server.MetricsHandler.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *config) {
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		c.registry = reg
	}
}

// WithIPFilter rejects calls from client addresses filtered out by f with
// codes.PermissionDenied.
func WithIPFilter(f *security.Filter) Option {
	return func(c *config) { c.filter = f }
}

// WithAuth authenticates calls with fn. When policies are configured only
// groups with AuthRequired are authenticated.
func WithAuth(fn interceptors.AuthFunc) Option {
	return func(c *config) { c.authFn = fn }
}

// WithRateLimitGlobal limits all calls without a group rate limit to rps
// calls per second with the given burst.
func WithRateLimitGlobal(rps float64, burst int) Option {
	return func(c *config) {
		if rps <= 0 || burst <= 0 {
			c.fail("rate limit needs positive rps and burst, got %v/%d", rps, burst)
			return
		}
		c.global = ratelimit.NewLimiter(rps, burst)
	}
}

// WithBreaker guards handlers with a circuit breaker. Only server faults
// count as failures, see interceptors.ServerFault.
func WithBreaker(cfg breaker.Config) Option {
	return func(c *config) {
		if cfg.FailureThreshold <= 0 {
			c.fail("breaker needs a positive failure threshold")
			return
		}
		if cfg.HalfOpenMaxSuccess < 0 {
			c.fail("breaker probes must not be negative")
			return
		}
		c.breaker = breaker.New(cfg)
	}
}

// WithTimeout bounds calls whose group has no timeout policy with d.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithPolicies registers method groups. Their policies drive per-group rate
// limits, timeouts and authentication, and their names select group stacks.
func WithPolicies(groups ...*policy.GroupBuilder) Option {
	return func(c *config) { c.groups = append(c.groups, groups...) }
}

// WithGroupUnary nests stack into the unary chain for calls of group.
func WithGroupUnary(group string, stack ...interceptors.UnaryMiddleware) Option {
	return func(c *config) {
		if c.groupUnary == nil {
			c.groupUnary = make(map[string][]interceptors.UnaryMiddleware)
		}
		c.groupUnary[group] = append(c.groupUnary[group], stack...)
	}
}

// WithGroupStream nests stack into the stream chain for calls of group.
func WithGroupStream(group string, stack ...interceptors.StreamMiddleware) Option {
	return func(c *config) {
		if c.groupStream == nil {
			c.groupStream = make(map[string][]interceptors.StreamMiddleware)
		}
		c.groupStream[group] = append(c.groupStream[group], stack...)
	}
}

// WithCacheL1 enables an in-process cache holding up to maxEntries items.
// Combined with WithCacheL2 the two form a tiered cache.
func WithCacheL1(maxEntries int64) Option {
	return func(c *config) {
		l1, err := cache.NewL1(maxEntries)
		if err != nil {
			c.fail("cache L1: %w", err)
			return
		}
		c.l1 = l1
	}
}

// WithCacheL2 enables a Redis cache. Keys are stored under prefix.
func WithCacheL2(addr, password string, db int, prefix string) Option {
	return func(c *config) { c.l2 = cache.NewL2(addr, password, db, prefix) }
}

// WithCacheCompression stores cached values zstd-compressed. It requires
// WithCacheL1 or WithCacheL2.
func WithCacheCompression() Option {
	return func(c *config) { c.compress = true }
}

// WithResponseCache memoizes the protobuf responses of methods for ttl.
// methods maps full method names to constructors of their response message.
// It requires WithCacheL1 or WithCacheL2.
func WithResponseCache(ttl time.Duration, methods map[string]func() proto.Message) Option {
	return func(c *config) {
		if c.cached == nil {
			c.cached = make(map[string]func() proto.Message, len(methods))
		}
		for m, fn := range methods {
			c.cached[m] = fn
		}
		c.cacheTTL = ttl
	}
}

// WithUnary registers a unary middleware at order.
func WithUnary(order int, mw interceptors.UnaryMiddleware) Option {
	return func(c *config) { c.unary.Add(order, mw) }
}

// WithStream registers a stream middleware at order.
func WithStream(order int, mw interceptors.StreamMiddleware) Option {
	return func(c *config) { c.stream.Add(order, mw) }
}

// WithUnaryInterceptor adds an existing unary interceptor at OrderUser.
func WithUnaryInterceptor(ic grpc.UnaryServerInterceptor) Option {
	return func(c *config) { c.unary.Add(OrderUser, interceptors.FromUnary(ic)) }
}

// WithStreamInterceptor adds an existing stream interceptor at OrderUser.
func WithStreamInterceptor(ic grpc.StreamServerInterceptor) Option {
	return func(c *config) { c.stream.Add(OrderUser, interceptors.FromStream(ic)) }
}

// WithGRPCOptions passes raw options to grpc.NewServer. Interceptor options
// must not be passed here.
func WithGRPCOptions(opts ...grpc.ServerOption) Option {
	return func(c *config) { c.grpcOpts = append(c.grpcOpts, opts...) }
}

// DefaultOptions returns the recommended set of options for production use.
func DefaultOptions() []Option {
	return []Option{
		WithRecovery(),
		WithRequestID(),
		WithLogging(),
	}
}
