package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/railverify/internal/config"
	"github.com/roach88/railverify/internal/purchase"
	"github.com/roach88/railverify/internal/rails"
	"github.com/roach88/railverify/internal/store"
)

// app bundles what every command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	store  *store.Store
	logger *slog.Logger
}

// openApp loads configuration, configures logging, and opens the store.
// Callers must Close the returned app.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger, err := newLogger(cfg.Log, opts.Verbose, cmd.ErrOrStderr())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid log config", err)
	}
	slog.SetDefault(logger)

	logger.Debug("opening database", "driver", cfg.Database.Driver)
	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	return &app{cfg: cfg, store: st, logger: logger}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// service builds the purchase service with the given verify timeout.
func (a *app) service(verifyTimeout time.Duration) *purchase.Service {
	registry := rails.NewRegistry(a.cfg.RegistryOptions(nil))
	return purchase.NewService(a.store, registry,
		purchase.WithLogger(a.logger),
		purchase.WithVerifyTimeout(verifyTimeout),
	)
}

// newLogger builds the process logger. Verbose forces debug level.
func newLogger(cfg config.LogConfig, verbose bool, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}
	return slog.New(handler), nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM or when the
// command's own context ends.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func newPrinter(opts *RootOptions, cmd *cobra.Command) *Printer {
	return &Printer{
		JSON:    opts.Format == "json",
		Verbose: opts.Verbose,
		Out:     cmd.OutOrStdout(),
		Diag:    cmd.ErrOrStderr(),
	}
}
