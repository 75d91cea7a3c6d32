package rails

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/railverify/internal/verify"
)

// btcDecimals is the number of fractional digits in a BTC amount.
const btcDecimals = 8

// BitcoinConfig configures a BitcoinVerifier.
type BitcoinConfig struct {
	URL        string
	User       string
	Password   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// BitcoinVerifier verifies payments by summing the transaction outputs that
// pay the treasury.
type BitcoinVerifier struct {
	client *rpcClient
}

// NewBitcoinVerifier builds a verifier backed by a Bitcoin Core node.
func NewBitcoinVerifier(cfg BitcoinConfig) *BitcoinVerifier {
	return &BitcoinVerifier{client: &rpcClient{
		rail:     verify.RailBTC,
		url:      cfg.URL,
		dialect:  dialectBitcoin,
		user:     cfg.User,
		password: cfg.Password,
		timeout:  cfg.Timeout,
		http:     httpClientOrDefault(cfg.HTTPClient),
	}}
}

type btcRawTx struct {
	TxID          string      `json:"txid"`
	Confirmations *int64      `json:"confirmations"`
	Vout          []btcOutput `json:"vout"`
}

type btcOutput struct {
	Value        json.Number `json:"value"`
	N            int         `json:"n"`
	ScriptPubKey struct {
		Address   string   `json:"address"`
		Addresses []string `json:"addresses"`
	} `json:"scriptPubKey"`
}

// Verify fetches the verbose raw transaction and checks depth, outputs and
// value.
func (v *BitcoinVerifier) Verify(ctx context.Context, req verify.VerifyRequest, expect verify.Expectation) (verify.Outcome, error) {
	minimum, err := verify.ParseAtomic(expect.MinAtomic)
	if err != nil {
		return verify.Outcome{}, fmt.Errorf("btc verify: min amount: %w", err)
	}

	txid := strings.ToLower(strings.TrimSpace(req.TxReference))

	var tx *btcRawTx
	if err := v.client.call(ctx, "getrawtransaction", []any{txid, true}, &tx); err != nil {
		return verify.Outcome{}, err
	}
	if tx == nil {
		return verify.Outcome{}, &verify.DecodeError{Rail: verify.RailBTC, Op: "getrawtransaction", Err: fmt.Errorf("null transaction")}
	}

	confirmations := int64(0)
	if tx.Confirmations != nil {
		confirmations = *tx.Confirmations
	}
	meta := map[string]any{"confirmations": confirmations}
	if confirmations <= 0 {
		return verify.Failure(verify.ReasonUnconfirmed, meta), nil
	}

	treasuries := treasuryAddresses(expect)
	total := new(big.Int)
	var matched []int
	for _, out := range tx.Vout {
		if !outputPays(out, treasuries) {
			continue
		}
		sats, err := verify.DecimalToAtomic(out.Value.String(), btcDecimals)
		if err != nil {
			return verify.Outcome{}, &verify.DecodeError{Rail: verify.RailBTC, Op: "getrawtransaction", Err: fmt.Errorf("vout %d value: %w", out.N, err)}
		}
		total.Add(total, sats)
		matched = append(matched, out.N)
	}
	if len(matched) == 0 {
		return verify.Failure(verify.ReasonTreasuryMismatch, meta), nil
	}
	meta["outputs"] = matched
	meta["value"] = total.String()

	if !verify.MeetsMinimum(total, minimum) {
		return verify.Failure(verify.ReasonInsufficientValue, meta), nil
	}
	if confirmations < expect.MinConfirmations {
		meta["required"] = expect.MinConfirmations
		return verify.Failure(verify.ReasonInsufficientConfirmations, meta), nil
	}

	canonical := strings.ToLower(tx.TxID)
	if canonical == "" {
		canonical = txid
	}
	return verify.Success(canonical, total.String(), confirmations, meta), nil
}

// TreasuryAddressesKey names the rail metadata list of extra addresses
// (cold wallets, rotated keys) that also count as the treasury.
const TreasuryAddressesKey = "treasury_addresses"

// treasuryAddresses returns the configured treasury followed by any extra
// addresses from rail metadata. Blank entries are dropped.
func treasuryAddresses(expect verify.Expectation) []string {
	var out []string
	add := func(a string) {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	add(expect.Treasury)
	switch extra := expect.Extras[TreasuryAddressesKey].(type) {
	case []string:
		for _, a := range extra {
			add(a)
		}
	case []any:
		for _, a := range extra {
			if s, ok := a.(string); ok {
				add(s)
			}
		}
	case string:
		add(extra)
	}
	return out
}

func outputPays(out btcOutput, treasuries []string) bool {
	addrs := out.ScriptPubKey.Addresses
	if out.ScriptPubKey.Address != "" {
		addrs = append([]string{out.ScriptPubKey.Address}, addrs...)
	}
	for _, a := range addrs {
		for _, t := range treasuries {
			if sameBTCAddress(a, t) {
				return true
			}
		}
	}
	return false
}

// sameBTCAddress compares bech32 addresses case-insensitively and base58
// addresses exactly.
func sameBTCAddress(a, b string) bool {
	if isBech32(a) && isBech32(b) {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func isBech32(addr string) bool {
	lower := strings.ToLower(addr)
	for _, hrp := range []string{"bc1", "tb1", "bcrt1"} {
		if strings.HasPrefix(lower, hrp) {
			return true
		}
	}
	return false
}
