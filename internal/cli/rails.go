package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/railverify/internal/store"
	"github.com/roach88/railverify/internal/verify"
)

// RailsOptions holds flags for the rails commands.
type RailsOptions struct {
	*RootOptions
	ChainID int64
}

// NewRailsCommand creates the rails command group.
func NewRailsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RailsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rails",
		Short: "Manage payment rail configuration",
	}

	list := &cobra.Command{
		Use:           "list",
		Short:         "List configured rails",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRails(opts, cmd)
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Upsert rails from a YAML file",
		Long: `Upsert rails from a YAML file. Use "-" to read standard input.

Rows never carry credentials; RPC users, passwords, API keys and per-chain
RPC overrides belong in the process configuration.

The file is checked against the #RailFile schema before anything is written:
eth rows need a positive chain_id, treasury is 3 to 200 characters,
min_confirmations is 0 to 10000 and unknown fields are rejected. For btc,
metadata.treasury_addresses lists extra addresses that count as the treasury.

Example file:
  rails:
    - rail: eth
      chain_id: 8453
      currency: ETH
      treasury: "0xTreasury"
      min_confirmations: 12
    - rail: btc
      currency: BTC
      treasury: bc1qtreasury
      rpc_url: http://127.0.0.1:8332
      min_confirmations: 3
      metadata:
        treasury_addresses: [bc1qtreasury, bc1qcold]`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return importRails(opts, args[0], cmd)
		},
	}

	cmd.AddCommand(list, importCmd, railToggleCommand(opts, true), railToggleCommand(opts, false))
	return cmd
}

func railToggleCommand(opts *RailsOptions, enabled bool) *cobra.Command {
	use, short := "enable", "Enable a rail"
	if !enabled {
		use, short = "disable", "Disable a rail (pending purchases on it are skipped by the worker)"
	}
	cmd := &cobra.Command{
		Use:           use + " <rail>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return toggleRail(opts, args[0], enabled, cmd)
		},
	}
	cmd.Flags().Int64Var(&opts.ChainID, "chain-id", 0, "EVM chain id (required for eth)")
	return cmd
}

func listRails(opts *RailsOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rails, err := a.store.ListRails(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list rails", err)
	}

	var b strings.Builder
	if len(rails) == 0 {
		b.WriteString("No rails configured.\n")
	}
	items := make([]map[string]any, 0, len(rails))
	for _, r := range rails {
		state := "enabled"
		if !r.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "%-12s %-8s %-6s min_conf=%-4d %s\n", r.Key(), state, r.Currency, r.MinConfirmations, r.Treasury)
		items = append(items, map[string]any{
			"rail":             string(r.Rail),
			"chainId":          r.ChainID,
			"currency":         r.Currency,
			"treasury":         r.Treasury,
			"rpcUrl":           r.RPCURL,
			"enabled":          r.Enabled,
			"minConfirmations": r.MinConfirmations,
			"metadata":         r.Metadata,
		})
	}
	return newPrinter(opts.RootOptions, cmd).Result(b.String(), items)
}

func importRails(opts *RailsOptions, path string, cmd *cobra.Command) error {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open rail file", err)
		}
		defer file.Close()
		r = file
	}

	cfgs, err := parseRailFile(r)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid rail file", err)
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	f := newPrinter(opts.RootOptions, cmd)
	keys := make([]string, 0, len(cfgs))
	for _, c := range cfgs {
		if err := a.store.UpsertRail(cmd.Context(), c); err != nil {
			return WrapExitError(ExitCommandError, "failed to upsert rail "+c.Key(), err)
		}
		keys = append(keys, c.Key())
		f.Debugf("upserted %s (enabled=%t, min_confirmations=%d)", c.Key(), c.Enabled, c.MinConfirmations)
	}

	text := fmt.Sprintf("Imported %d rail(s): %s\n", len(keys), strings.Join(keys, ", "))
	return f.Result(text, map[string]any{"imported": keys})
}

func toggleRail(opts *RailsOptions, railName string, enabled bool, cmd *cobra.Command) error {
	rail, err := verify.ParseRail(strings.ToLower(railName))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid rail", err)
	}
	var chainID *int64
	if rail.UsesChainID() {
		if !cmd.Flags().Changed("chain-id") {
			return NewExitError(ExitCommandError, fmt.Sprintf("%s requires --chain-id", rail))
		}
		if opts.ChainID <= 0 {
			return NewExitError(ExitCommandError, fmt.Sprintf("%s requires a positive --chain-id", rail))
		}
		chainID = &opts.ChainID
	}

	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.store.SetRailEnabled(cmd.Context(), rail, chainID, enabled)
	if errors.Is(err, store.ErrNotFound) {
		return NewExitError(ExitCommandError, fmt.Sprintf("rail %s is not configured", verify.RailKey(rail, chainID)))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to update rail", err)
	}

	text := fmt.Sprintf("Rail %s enabled=%t\n", verify.RailKey(rail, chainID), enabled)
	return newPrinter(opts.RootOptions, cmd).Result(text, map[string]any{
		"rail":    string(rail),
		"chainId": chainID,
		"enabled": enabled,
	})
}
