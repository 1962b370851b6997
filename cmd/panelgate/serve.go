package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/panelgate/panelgate/pkg/auth"
	"github.com/panelgate/panelgate/pkg/config"
	"github.com/panelgate/panelgate/pkg/server"
)

type serveOptions struct {
	configPath string
	token      string
	password   string
	debug      bool
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to configuration file")
	cmd.Flags().StringVar(&opts.token, "auth-token", "", "Shared token (or use PANELGATE_AUTH_TOKEN env)")
	cmd.Flags().StringVar(&opts.password, "auth-password", "", "Shared password (or use PANELGATE_AUTH_PASSWORD env)")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Log a line for every rejected request")

	return cmd
}

// loadConfig loads the configuration file, or the defaults when path is
// empty. Non-empty token and password take precedence over the file and
// the environment.
func loadConfig(path, token, password string) (*config.Config, error) {
	override := config.WithSecrets(token, password)
	if path == "" {
		return config.Default(override)
	}
	return config.Load(path, override)
}

func runServe(ctx context.Context, opts serveOptions, logOutput io.Writer) error {
	cfg, err := loadConfig(opts.configPath, opts.token, opts.password)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(logLevel(cfg.Logging, opts.debug))
	logger := newLogger(logOutput, cfg.Logging.Format, level)
	slog.SetDefault(logger)

	debugSink := auth.NewSlogDebugSink(logger.With(slog.String("component", "auth")), cfg.Logging.Debug || opts.debug)
	gate := auth.NewReloadable(newGate(cfg, debugSink))

	var metrics *auth.Metrics
	if cfg.MetricsEnabled() {
		metrics = auth.NewMetrics("")
	}

	logger.Info("starting panelgate",
		slog.String("addr", cfg.Server.Address),
		slog.Any("gate", gate.Load()),
	)

	if opts.configPath != "" {
		watcher, err := config.NewWatcher(opts.configPath, func(next *config.Config) {
			if gate.Swap(newGate(next, debugSink)) {
				logger.Info("credentials rotated", slog.Any("gate", gate.Load()))
			}
			debugSink.SetEnabled(next.Logging.Debug || opts.debug)
			level.Set(logLevel(next.Logging, opts.debug))
		},
			config.WithLogger(logger.With(slog.String("component", "config"))),
			config.WithOverrides(config.WithSecrets(opts.token, opts.password)),
		)
		if err != nil {
			return fmt.Errorf("creating config watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("starting config watcher: %w", err)
		}
		defer watcher.Stop()
	}

	srv := server.New(cfg, gate, metrics, logger, server.WithDebugSink(debugSink))
	if err := srv.Run(ctx); err != nil {
		return err
	}

	logger.Info("panelgate stopped")
	return nil
}

func newGate(cfg *config.Config, debug auth.DebugSink) *auth.SharedTokenOrPassword {
	return auth.NewSharedTokenOrPassword(cfg.Auth.Token, cfg.Auth.Password, auth.WithDebugSink(debug))
}

func logLevel(cfg config.LoggingConfig, debug bool) slog.Level {
	if debug || cfg.Debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(cfg.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, format string, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
