package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/railverify/internal/purchase"
	"github.com/roach88/railverify/internal/verify"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Rail           string
	ListingID      string
	TxReference    string
	Buyer          string
	ChainID        int64
	Memo           string
	DestinationTag uint32
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a purchase claim from the command line",
		Long: `Run the same flow as POST /marketplace/purchase/verify.

A pending purchase is created and verified once. Terminal failures mark it
failed; finality-pending results leave it for the worker.

Exit codes: 0 completed or pending, 1 rejected or upstream error, 2 command error.

Example:
  railverify verify --rail eth --chain-id 1 --listing L1 --tx 0xabc... --buyer 0x123...
  railverify verify --rail xrp --listing L1 --tx ABC... --buyer rBuyer --destination-tag 42`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Rail, "rail", "", "rail: eth, btc, xrp or pi (required)")
	cmd.Flags().StringVar(&opts.ListingID, "listing", "", "listing id (required)")
	cmd.Flags().StringVar(&opts.TxReference, "tx", "", "transaction hash or payment id (required)")
	cmd.Flags().StringVar(&opts.Buyer, "buyer", "", "buyer identity (required)")
	cmd.Flags().Int64Var(&opts.ChainID, "chain-id", 0, "EVM chain id (required for eth)")
	cmd.Flags().StringVar(&opts.Memo, "memo", "", "payment memo")
	cmd.Flags().Uint32Var(&opts.DestinationTag, "destination-tag", 0, "XRP destination tag")
	for _, name := range []string{"rail", "listing", "tx", "buyer"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	in := purchase.Input{
		Rail:        opts.Rail,
		ListingID:   opts.ListingID,
		Buyer:       opts.Buyer,
		TxReference: opts.TxReference,
		Memo:        opts.Memo,
	}
	if cmd.Flags().Changed("chain-id") {
		in.ChainID = &opts.ChainID
	}
	if cmd.Flags().Changed("destination-tag") {
		in.DestinationTag = &opts.DestinationTag
	}

	f := newPrinter(opts.RootOptions, cmd)
	res, err := a.service(a.cfg.HTTP.VerifyTimeout).Verify(cmd.Context(), in)
	if err != nil {
		if rej, ok := purchase.AsRejection(err); ok {
			_ = f.Rejection(rej)
			return NewExitError(ExitFailure, rej.Error())
		}
		if verify.IsInfrastructure(err) {
			_ = f.Failure("upstream_"+verify.ErrorKind(err), err)
			return WrapExitError(ExitFailure, "upstream error, purchase left pending", err)
		}
		return WrapExitError(ExitCommandError, "verify failed", err)
	}

	return f.Result(formatResult(res), resultJSON(res))
}

func formatResult(res purchase.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Purchase %s: %s\n", res.Purchase.ID, res.Disposition)
	fmt.Fprintf(&b, "  rail:      %s\n", res.Purchase.Key())
	fmt.Fprintf(&b, "  listing:   %s\n", res.Purchase.ListingID)
	fmt.Fprintf(&b, "  amount:    %s %s\n", res.Purchase.AmountInt, res.Purchase.Currency)
	if res.Reason != "" {
		fmt.Fprintf(&b, "  reason:    %s\n", res.Reason)
	}
	if res.Outcome.OK {
		fmt.Fprintf(&b, "  verified:  %s (%d confirmations)\n", res.Outcome.AmountAtomic, res.Outcome.Confirmations)
	}
	if res.Entitlement != nil {
		fmt.Fprintf(&b, "  entitlement granted to %s\n", res.Entitlement.Buyer)
	}
	return b.String()
}

func resultJSON(res purchase.Result) map[string]any {
	out := map[string]any{
		"status":   string(res.Disposition),
		"purchase": purchaseData(res.Purchase),
	}
	if res.Reason != "" {
		out["reason"] = string(res.Reason)
	}
	if res.Outcome.OK {
		out["verified"] = map[string]any{
			"canonicalId":   res.Outcome.CanonicalID,
			"amountAtomic":  res.Outcome.AmountAtomic,
			"confirmations": res.Outcome.Confirmations,
		}
	}
	if res.Entitlement != nil {
		out["entitlement"] = map[string]any{
			"buyer":               res.Entitlement.Buyer,
			"listingId":           res.Entitlement.ListingID,
			"grantedByPurchaseId": res.Entitlement.GrantedByPurchaseID,
		}
	}
	return out
}
