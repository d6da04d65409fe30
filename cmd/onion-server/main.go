// Command onion-server runs a gRPC server assembled from onion middleware.
// Configuration comes from ONION_* environment variables, optionally on top
// of a YAML file with the same keys.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "onion-server: %v\n", err)
		os.Exit(1)
	}
}

func app() *cli.Command {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to a YAML config file",
		Aliases: []string{"c"},
		Sources: cli.EnvVars("ONION_CONFIG_PATH"),
	}
	levelFlag := &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level: debug, info, warn or error",
		Value:   "info",
		Sources: cli.EnvVars("ONION_LOG_LEVEL"),
	}

	return &cli.Command{
		Name:  "onion-server",
		Usage: "gRPC server built from onion middleware stacks",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serve the gRPC health service until interrupted",
				Flags: []cli.Flag{
					configFlag,
					levelFlag,
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address, overrides ONION_ADDR",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					logger, err := newLogger(c.String("log-level"))
					if err != nil {
						return err
					}
					cfg, err := loadConfig(ctx, c)
					if err != nil {
						return err
					}
					if addr := c.String("addr"); addr != "" {
						cfg.Addr = addr
					}
					return serve(ctx, cfg, logger)
				},
			},
			{
				Name:  "check-config",
				Usage: "Validate the configuration and exit",
				Flags: []cli.Flag{configFlag},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig(ctx, c)
					if err != nil {
						return err
					}
					if err := validate(ctx, cfg); err != nil {
						return err
					}
					fmt.Println("Configuration is valid.")
					return nil
				},
			},
		},
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l})), nil
}
