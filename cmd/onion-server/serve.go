package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Keksclan/onion/server"
	"github.com/urfave/cli/v3"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const shutdownTimeout = 10 * time.Second

func loadConfig(ctx context.Context, c *cli.Command) (*server.EnvConfig, error) {
	return server.LoadConfig(ctx, c.String("config"))
}

// validate builds, and immediately releases, a server from cfg.
func validate(ctx context.Context, cfg *server.EnvConfig) error {
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	srv, err := server.NewServer(opts...)
	if err != nil {
		return err
	}
	return srv.Shutdown(ctx)
}

func serve(ctx context.Context, cfg *server.EnvConfig, logger *slog.Logger) error {
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	opts = append(opts, server.WithLogger(logger))

	srv, err := server.NewServer(opts...)
	if err != nil {
		return err
	}
	healthpb.RegisterHealthServer(srv.GRPC(), health.NewServer())
	reflection.Register(srv.GRPC())

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", srv.MetricsHandler())
		hs := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer hs.Close()
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()
	logger.Info("serving", "addr", lis.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
