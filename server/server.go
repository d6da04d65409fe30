// Package server assembles the onion middleware into a gRPC server.
//
// Options record what to enable; NewServer builds one unary and one stream
// stack from them, ordered by fixed priorities (see the Order constants),
// and installs both as the server's interceptors:
//
//	srv, err := server.NewServer(
//		server.WithRecovery(),
//		server.WithRateLimitGlobal(500, 100),
//		server.WithAuth(myAuthFunc),
//		server.WithCacheL1(10_000),
//	)
//	pb.RegisterMyServiceServer(srv.GRPC(), &myImpl{})
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/Keksclan/onion"
	"github.com/Keksclan/onion/cache"
	"github.com/Keksclan/onion/interceptors"
	"github.com/Keksclan/onion/internal/core"
	"github.com/Keksclan/onion/metrics"
	"github.com/Keksclan/onion/policy"
	"github.com/Keksclan/onion/security"
	"github.com/Keksclan/onion/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
)

// Server wraps a *grpc.Server whose interceptors are the composed stacks.
type Server struct {
	grpcServer *grpc.Server
	cache      cache.Cache
	resolver   *policy.Resolver
	gatherer   prometheus.Gatherer
	closers    []func() error
}

// NewServer applies opts and builds the server. It fails when an option was
// invalid or a stack cannot be composed, releasing the caches opened so far.
func NewServer(opts ...Option) (_ *Server, err error) {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	s := &Server{gatherer: prometheus.DefaultGatherer}
	defer func() {
		if err != nil {
			_ = s.close()
		}
	}()

	if len(cfg.groups) > 0 {
		res, err := policy.NewResolver(cfg.groups...)
		if err != nil {
			cfg.errs = append(cfg.errs, err)
		}
		cfg.resolver = res
	}
	s.resolver = cfg.resolver

	switch {
	case cfg.l1 != nil && cfg.l2 != nil:
		s.cache = cache.NewTiered(cfg.l1, cfg.l2)
	case cfg.l1 != nil:
		s.cache = cfg.l1
	case cfg.l2 != nil:
		s.cache = cfg.l2
	}
	if cfg.l1 != nil {
		s.closers = append(s.closers, func() error { cfg.l1.Close(); return nil })
	}
	if cfg.l2 != nil {
		s.closers = append(s.closers, cfg.l2.Close)
	}
	if cfg.compress {
		if s.cache == nil {
			cfg.fail("WithCacheCompression requires WithCacheL1 or WithCacheL2")
		} else if z, err := cache.NewCompressed(s.cache); err != nil {
			cfg.fail("cache compression: %w", err)
		} else {
			s.cache = z
			s.closers = append(s.closers, func() error { z.Close(); return nil })
		}
	}
	if len(cfg.cached) > 0 && s.cache == nil {
		cfg.fail("WithResponseCache requires WithCacheL1 or WithCacheL2")
	}

	if cfg.registry != nil {
		if g, ok := cfg.registry.(prometheus.Gatherer); ok {
			s.gatherer = g
		}
	}

	unaryGroups, err := composeGroups(cfg.groupUnary)
	if err != nil {
		cfg.errs = append(cfg.errs, err)
	}
	streamGroups, err := composeGroups(cfg.groupStream)
	if err != nil {
		cfg.errs = append(cfg.errs, err)
	}
	if (len(unaryGroups) > 0 || len(streamGroups) > 0) && cfg.resolver == nil {
		cfg.fail("group stacks require WithPolicies")
	}

	if err := errors.Join(cfg.errs...); err != nil {
		return nil, err
	}

	var collector *metrics.Collector
	if cfg.registry != nil {
		collector = metrics.NewCollector(cfg.registry)
	}

	addCommon(&cfg.unary, &cfg, collector, "unary", unaryGroups)
	addCommon(&cfg.stream, &cfg, collector, "stream", streamGroups)
	if len(cfg.cached) > 0 {
		cfg.unary.Add(OrderCache, interceptors.Cache(s.cache, cfg.cacheTTL, cfg.cached))
	}

	unary, err := interceptors.ChainUnary(cfg.unary.Build())
	if err != nil {
		return nil, err
	}
	stream, err := interceptors.ChainStream(cfg.stream.Build())
	if err != nil {
		return nil, err
	}

	serverOpts := cfg.grpcOpts
	if unary != nil {
		serverOpts = append(serverOpts, grpc.UnaryInterceptor(unary))
	}
	if stream != nil {
		serverOpts = append(serverOpts, grpc.StreamInterceptor(stream))
	}
	s.grpcServer = grpc.NewServer(serverOpts...)
	return s, nil
}

// addCommon registers the middleware shared by unary and stream stacks.
func addCommon[T interceptors.Call, R any](b *core.Builder[T, R], cfg *config, collector *metrics.Collector, kind string, groups map[string]onion.Runner[T, R]) {
	b.Add(OrderStatus, interceptors.Status[T, R]())
	if cfg.recovery {
		b.Add(OrderRecovery, interceptors.Recovery[T, R](cfg.logger))
	}
	if cfg.tracing != nil {
		b.Add(OrderTracing, tracing.Server[T, R](cfg.tracing))
	}
	if collector != nil {
		b.Add(OrderMetrics, metrics.Middleware[T, R](collector, kind))
	}
	if cfg.requestID {
		b.Add(OrderRequestID, interceptors.RequestID[T, R]())
	}
	if cfg.logging {
		b.Add(OrderLogging, interceptors.Logging[T, R](cfg.logger))
	}
	if cfg.filter != nil {
		b.Add(OrderIPFilter, security.Middleware[T, R](cfg.filter))
	}
	if cfg.authFn != nil {
		b.Add(OrderAuth, interceptors.Auth[T, R](cfg.authFn, authResolver(cfg.resolver)))
	}
	if cfg.global != nil || cfg.resolver != nil {
		b.Add(OrderRateLimit, interceptors.RateLimit[T, R](cfg.global, cfg.resolver))
	}
	if cfg.breaker != nil {
		b.Add(OrderBreaker, interceptors.Breaker[T, R](cfg.breaker))
	}
	if cfg.timeout > 0 || cfg.resolver != nil {
		b.Add(OrderTimeout, interceptors.Timeout[T, R](cfg.resolver, cfg.timeout))
	}
	if cfg.resolver != nil {
		b.Add(OrderGroups, interceptors.Groups(cfg.resolver, groups))
	}
}

// authResolver returns res only when some group requires authentication;
// otherwise every call is authenticated.
func authResolver(res *policy.Resolver) *policy.Resolver {
	if res == nil {
		return nil
	}
	for _, g := range res.Groups() {
		if p, ok := res.Policy(g); ok && p.AuthRequired {
			return res
		}
	}
	return nil
}

func composeGroups[T, R any](stacks map[string][]onion.Middleware[T, R]) (map[string]onion.Runner[T, R], error) {
	out := make(map[string]onion.Runner[T, R], len(stacks))
	for name, stack := range stacks {
		run, err := onion.Compose(stack)
		if err != nil {
			return nil, err
		}
		out[name] = run
	}
	return out, nil
}

// GRPC returns the underlying *grpc.Server so callers can register services.
func (s *Server) GRPC() *grpc.Server {
	return s.grpcServer
}

// Cache returns the configured cache, or nil.
func (s *Server) Cache() cache.Cache {
	return s.cache
}

// Resolver returns the policy resolver, or nil without WithPolicies.
func (s *Server) Resolver() *policy.Resolver {
	return s.resolver
}

// MetricsHandler returns an http.Handler serving the Prometheus metrics of
// the registry given to WithMetrics, or of the default registry.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

// Serve accepts connections on lis until Shutdown is called.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Shutdown stops the server gracefully, or forcefully once ctx is done, and
// releases the caches.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
		<-done
	}
	return s.close()
}

func (s *Server) close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	s.closers = nil
	return errors.Join(errs...)
}
