package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/roach88/railverify/internal/httpapi"
	"github.com/roach88/railverify/internal/metrics"
	"github.com/roach88/railverify/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr       string
	WithWorker bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API serving purchase verification, purchase reads,
loopback-only rail administration, health probes and Prometheus metrics.

With --with-worker the reconciliation worker runs in the same process.

Example:
  railverify serve --config ./railverify.yaml
  railverify serve --addr 127.0.0.1:9000 --with-worker`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http.addr)")
	cmd.Flags().BoolVar(&opts.WithWorker, "with-worker", false, "also run the reconciliation worker")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	metrics.Register()
	gin.SetMode(gin.ReleaseMode)

	addr := opts.Addr
	if addr == "" {
		addr = a.cfg.HTTP.Addr
	}

	api := httpapi.New(a.service(a.cfg.HTTP.VerifyTimeout), a.store,
		httpapi.WithLogger(a.logger),
		httpapi.WithBuyerHeader(a.cfg.HTTP.BuyerHeader),
	)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.Handler(),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
	}

	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()

	workerDone := make(chan struct{})
	if opts.WithWorker {
		w := newWorker(a)
		go func() {
			defer close(workerDone)
			_ = w.Run(ctx)
		}()
	} else {
		close(workerDone)
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", addr, "driver", a.store.Driver(), "with_worker", opts.WithWorker)
		serveErr <- srv.ListenAndServe()
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s. Press Ctrl-C to stop.\n", addr)

	select {
	case err := <-serveErr:
		cancel()
		<-workerDone
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return WrapExitError(ExitCommandError, "http server failed", err)
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", "error", err)
	}
	<-workerDone

	a.logger.Info("server stopped gracefully")
	return nil
}

func newWorker(a *app) *worker.Worker {
	return worker.New(a.store, a.service(a.cfg.Worker.VerifyTimeout), worker.Config{
		Interval:   a.cfg.Worker.Interval,
		BatchSize:  a.cfg.Worker.BatchSize,
		RowTimeout: a.cfg.Worker.VerifyTimeout + a.cfg.Rails.RequestTimeout,
	}, worker.WithLogger(a.logger))
}
