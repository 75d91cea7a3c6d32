package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/railverify/internal/store"
)

// PurchasesOptions holds flags for the purchases commands.
type PurchasesOptions struct {
	*RootOptions
	Limit int
}

// NewPurchasesCommand creates the purchases command group.
func NewPurchasesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurchasesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purchases",
		Short: "Inspect purchases",
	}

	show := &cobra.Command{
		Use:           "show <purchase-id>",
		Short:         "Show one purchase",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showPurchase(opts, args[0], cmd)
		},
	}

	pending := &cobra.Command{
		Use:           "pending",
		Short:         "List pending purchases, oldest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listPending(opts, cmd)
		},
	}
	pending.Flags().IntVar(&opts.Limit, "limit", 50, "maximum rows")

	cmd.AddCommand(show, pending)
	return cmd
}

func showPurchase(opts *PurchasesOptions, id string, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.store.GetPurchase(cmd.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return NewExitError(ExitCommandError, fmt.Sprintf("purchase %s not found", id))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read purchase", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Purchase %s\n", p.ID)
	fmt.Fprintf(&b, "  status:    %s\n", p.Status)
	fmt.Fprintf(&b, "  buyer:     %s\n", p.Buyer)
	fmt.Fprintf(&b, "  listing:   %s\n", p.ListingID)
	fmt.Fprintf(&b, "  amount:    %s %s\n", p.AmountInt, p.Currency)
	fmt.Fprintf(&b, "  rail:      %s\n", p.Key())
	fmt.Fprintf(&b, "  tx:        %s\n", p.TxReference)
	if p.FailReason != "" {
		fmt.Fprintf(&b, "  reason:    %s\n", p.FailReason)
	}
	if p.VerifiedConfirmations != nil {
		fmt.Fprintf(&b, "  verified:  %s (%d confirmations)\n", p.VerifiedAmountInt, *p.VerifiedConfirmations)
	}
	return newPrinter(opts.RootOptions, cmd).Result(b.String(), purchaseData(p))
}

func listPending(opts *PurchasesOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ps, err := a.store.ListPendingPurchases(cmd.Context(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list purchases", err)
	}

	var b strings.Builder
	if len(ps) == 0 {
		b.WriteString("No pending purchases.\n")
	}
	items := make([]map[string]any, 0, len(ps))
	for _, p := range ps {
		fmt.Fprintf(&b, "%s  %-10s  %-20s  %s\n", p.ID, p.Key(), p.ListingID, p.TxReference)
		items = append(items, purchaseData(p))
	}
	return newPrinter(opts.RootOptions, cmd).Result(b.String(), items)
}

func purchaseData(p store.Purchase) map[string]any {
	out := map[string]any{
		"id":          p.ID,
		"buyer":       p.Buyer,
		"listingId":   p.ListingID,
		"currency":    p.Currency,
		"amountInt":   p.AmountInt,
		"status":      string(p.Status),
		"rail":        string(p.Rail),
		"chainId":     p.ChainID,
		"txReference": p.TxReference,
		"createdAt":   p.CreatedAt,
	}
	if p.FailReason != "" {
		out["failReason"] = p.FailReason
	}
	if p.VerifiedConfirmations != nil {
		out["verifiedAmountInt"] = p.VerifiedAmountInt
		out["verifiedConfirmations"] = *p.VerifiedConfirmations
	}
	return out
}
