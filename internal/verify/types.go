package verify

import (
	"context"
	"errors"
	"fmt"
)

// Rail identifies a value-transfer network.
type Rail string

const (
	// RailETH is the EVM family. Requests must carry a chain id.
	RailETH Rail = "eth"
	// RailBTC is Bitcoin (UTXO outputs, Core JSON-RPC).
	RailBTC Rail = "btc"
	// RailXRP is the XRP Ledger (rippled JSON-RPC).
	RailXRP Rail = "xrp"
	// RailPi is the Pi custodial payment platform (REST).
	RailPi Rail = "pi"
)

// Rails lists every supported rail in a stable order.
var Rails = []Rail{RailETH, RailBTC, RailXRP, RailPi}

// ErrUnknownRail is returned when a rail identifier is not one of Rails.
var ErrUnknownRail = errors.New("unknown rail")

// ParseRail validates a rail identifier.
func ParseRail(s string) (Rail, error) {
	for _, r := range Rails {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRail, s)
}

// UsesChainID reports whether the rail is keyed by chain id.
func (r Rail) UsesChainID() bool {
	return r == RailETH
}

// VerifyRequest is the per-call description of the transfer being claimed.
type VerifyRequest struct {
	Rail      Rail
	ListingID string

	// Buyer is the authenticated buyer identity. For the EVM rail this is
	// the sender address the transaction must originate from.
	Buyer string

	// TxReference is a tx hash, txid, or platform payment id depending on rail.
	TxReference string

	// ChainID is only meaningful for RailETH.
	ChainID *int64

	Memo           string
	DestinationTag *uint32
}

// Expectation is the policy a verifier must enforce.
type Expectation struct {
	Treasury string

	// MinAtomic is the minimum delivered amount in atomic units, as a
	// base-10 integer string.
	MinAtomic string

	MinConfirmations int64

	Extras map[string]any
}

// Outcome is the business result of one verification.
type Outcome struct {
	OK bool

	// Set when OK.
	CanonicalID   string
	AmountAtomic  string
	Confirmations int64

	// Set when !OK.
	Reason Reason

	Meta map[string]any
}

// Success builds a successful outcome.
func Success(canonicalID, amountAtomic string, confirmations int64, meta map[string]any) Outcome {
	return Outcome{
		OK:            true,
		CanonicalID:   canonicalID,
		AmountAtomic:  amountAtomic,
		Confirmations: confirmations,
		Meta:          meta,
	}
}

// Failure builds a failed outcome with the given reason.
func Failure(reason Reason, meta map[string]any) Outcome {
	return Outcome{Reason: reason, Meta: meta}
}

// Retryable reports whether a failed outcome may turn into a success later.
// Successful outcomes are never retryable.
func (o Outcome) Retryable() bool {
	return !o.OK && o.Reason.Retryable()
}

// Verifier proves a claimed transfer against one rail.
//
// Implementations must bound every upstream call and must not return an
// error for business-rule failures.
type Verifier interface {
	Verify(ctx context.Context, req VerifyRequest, expect Expectation) (Outcome, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, req VerifyRequest, expect Expectation) (Outcome, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, req VerifyRequest, expect Expectation) (Outcome, error) {
	return f(ctx, req, expect)
}

// RailConfig is one configured rail instance. It carries no secrets.
type RailConfig struct {
	Rail             Rail
	ChainID          *int64
	Currency         string
	Treasury         string
	RPCURL           string
	Enabled          bool
	MinConfirmations int64
	Metadata         map[string]any
}

// Key returns the "rail:chain" identifier used in logs and audit records.
func (c RailConfig) Key() string {
	return RailKey(c.Rail, c.ChainID)
}

// Expectation derives the verification policy for a purchase amount.
func (c RailConfig) Expectation(minAtomic string) Expectation {
	return Expectation{
		Treasury:         c.Treasury,
		MinAtomic:        minAtomic,
		MinConfirmations: c.MinConfirmations,
		Extras:           c.Metadata,
	}
}

// RailKey formats a rail and optional chain id as "eth:1" or "btc:null".
func RailKey(rail Rail, chainID *int64) string {
	if chainID == nil {
		return string(rail) + ":null"
	}
	return fmt.Sprintf("%s:%d", rail, *chainID)
}
