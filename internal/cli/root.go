package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds the persistent flags shared by every command.
type RootOptions struct {
	ConfigPath string
	Format     string
	Verbose    bool
}

var outputFormats = []string{"text", "json"}

// Command groups shown in help.
const (
	groupProcesses  = "processes"
	groupOperations = "operations"
)

// NewRootCommand builds the railverify command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "railverify",
		Short: "railverify - multi-rail payment verification",
		Long: `Verify on-chain and platform payments for marketplace purchases.

railverify checks a claimed transfer on one of the supported rails (EVM,
Bitcoin, XRP Ledger, Pi), records the purchase, and grants the buyer an
entitlement once the transfer is final. Purchases that are not yet final
are settled later by the reconciliation worker.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(outputFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: want text or json", opts.Format))
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "", "config file (default ./railverify.yaml if present)")
	flags.StringVar(&opts.Format, "format", "text", "output format: text or json")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging and rejection details")

	cmd.AddGroup(
		&cobra.Group{ID: groupProcesses, Title: "Long-running processes:"},
		&cobra.Group{ID: groupOperations, Title: "Operations:"},
	)
	for _, sub := range []*cobra.Command{NewServeCommand(opts), NewWorkerCommand(opts)} {
		sub.GroupID = groupProcesses
		cmd.AddCommand(sub)
	}
	for _, sub := range []*cobra.Command{
		NewVerifyCommand(opts),
		NewRailsCommand(opts),
		NewPricesCommand(opts),
		NewPurchasesCommand(opts),
	} {
		sub.GroupID = groupOperations
		cmd.AddCommand(sub)
	}

	return cmd
}
