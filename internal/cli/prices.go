package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewPricesCommand creates the prices command group.
func NewPricesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Manage listing prices",
	}

	set := &cobra.Command{
		Use:   "set <listing-id> <currency> <amount-int>",
		Short: "Set the active price of a listing in a currency",
		Long: `Set the active price of a listing in a currency.

The amount is an integer in atomic units (wei, satoshis, drops, platform
units). Earlier prices for the same listing and currency are deactivated.
Pending purchases keep the amount recorded when they were created.

Example:
  railverify prices set listing-1 ETH 10000000000000000`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPrice(rootOpts, args[0], args[1], args[2], cmd)
		},
	}

	cmd.AddCommand(set)
	return cmd
}

func setPrice(opts *RootOptions, listingID, currency, amount string, cmd *cobra.Command) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	price, err := a.store.SetPrice(cmd.Context(), listingID, strings.ToUpper(currency), amount)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set price", err)
	}

	text := fmt.Sprintf("Price %s: %s %s for %s\n", price.ID, price.AmountInt, price.Currency, price.ListingID)
	return newPrinter(opts, cmd).Result(text, map[string]any{
		"id":        price.ID,
		"listingId": price.ListingID,
		"currency":  price.Currency,
		"amountInt": price.AmountInt,
	})
}
