package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/railverify/internal/metrics"
)

// WorkerOptions holds flags for the worker command.
type WorkerOptions struct {
	*RootOptions
	Once bool
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the reconciliation worker",
		Long: `Run the reconciliation worker.

Each cycle re-verifies up to worker.batch_size pending purchases, oldest
first, and completes or fails them. Purchases on disabled or removed rails
are skipped and stay pending.

Example:
  railverify worker
  railverify worker --once --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "process one batch and exit")

	return cmd
}

func runWorker(opts *WorkerOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	w := newWorker(a)
	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()

	if !opts.Once {
		metrics.Register()
		return w.Run(ctx)
	}

	stats, err := w.RunOnce(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "worker cycle failed", err)
	}

	text := fmt.Sprintf("scanned=%d completed=%d failed=%d pending=%d skipped=%d errors=%d\n",
		stats.Scanned, stats.Completed, stats.Failed, stats.Pending, stats.Skipped, stats.Errors)
	return newPrinter(opts.RootOptions, cmd).Result(text, map[string]int{
		"scanned":   stats.Scanned,
		"completed": stats.Completed,
		"failed":    stats.Failed,
		"pending":   stats.Pending,
		"skipped":   stats.Skipped,
		"errors":    stats.Errors,
	})
}
