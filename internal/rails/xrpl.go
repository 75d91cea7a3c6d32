package rails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/railverify/internal/verify"
)

// XRPLConfig configures an XRPLVerifier.
type XRPLConfig struct {
	URL string
	// StrictDepth turns a failed validated-ledger lookup into an error
	// instead of counting the validated transaction as one confirmation.
	StrictDepth bool
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// XRPLVerifier verifies XRP Payment transactions against a rippled node.
type XRPLVerifier struct {
	client      *rpcClient
	strictDepth bool
}

// NewXRPLVerifier builds a verifier backed by a rippled JSON-RPC endpoint.
func NewXRPLVerifier(cfg XRPLConfig) *XRPLVerifier {
	return &XRPLVerifier{
		client: &rpcClient{
			rail:    verify.RailXRP,
			url:     cfg.URL,
			dialect: dialectRippled,
			timeout: cfg.Timeout,
			http:    httpClientOrDefault(cfg.HTTPClient),
		},
		strictDepth: cfg.StrictDepth,
	}
}

type xrplTx struct {
	Hash            string  `json:"hash"`
	TransactionType string  `json:"TransactionType"`
	Destination     string  `json:"Destination"`
	DestinationTag  *uint32 `json:"DestinationTag"`
	LedgerIndex     *int64  `json:"ledger_index"`
	Validated       bool    `json:"validated"`
	Meta            struct {
		TransactionResult string          `json:"TransactionResult"`
		DeliveredAmount   json.RawMessage `json:"delivered_amount"`
	} `json:"meta"`
}

type xrplLedger struct {
	LedgerIndex json.Number `json:"ledger_index"`
	Ledger      struct {
		LedgerIndex json.Number `json:"ledger_index"`
	} `json:"ledger"`
}

// Verify checks validation, payment type, destination and delivered amount.
// Depth is only looked up when more than one confirmation is required.
func (v *XRPLVerifier) Verify(ctx context.Context, req verify.VerifyRequest, expect verify.Expectation) (verify.Outcome, error) {
	minimum, err := verify.ParseAtomic(expect.MinAtomic)
	if err != nil {
		return verify.Outcome{}, fmt.Errorf("xrp verify: min amount: %w", err)
	}

	hash := strings.ToUpper(strings.TrimSpace(req.TxReference))
	params := []any{map[string]any{"transaction": hash, "binary": false}}

	var tx xrplTx
	if err := v.client.call(ctx, "tx", params, &tx); err != nil {
		return verify.Outcome{}, err
	}

	meta := map[string]any{"transaction_type": tx.TransactionType}
	if !tx.Validated {
		return verify.Failure(verify.ReasonNotValidated, meta), nil
	}
	if tx.TransactionType != "Payment" {
		return verify.Failure(verify.ReasonNotPayment, meta), nil
	}
	if r := tx.Meta.TransactionResult; r != "" && r != "tesSUCCESS" {
		meta["transaction_result"] = r
		return verify.Failure(verify.ReasonTxFailed, meta), nil
	}

	meta["destination"] = tx.Destination
	if tx.Destination != strings.TrimSpace(expect.Treasury) {
		return verify.Failure(verify.ReasonTreasuryMismatch, meta), nil
	}
	if req.DestinationTag != nil {
		if tx.DestinationTag == nil || *tx.DestinationTag != *req.DestinationTag {
			meta["destination_tag_mismatch"] = true
			return verify.Failure(verify.ReasonTreasuryMismatch, meta), nil
		}
	}

	delivered, reason, err := deliveredDrops(tx.Meta.DeliveredAmount)
	if err != nil {
		return verify.Outcome{}, &verify.DecodeError{Rail: verify.RailXRP, Op: "tx", Err: err}
	}
	if reason != "" {
		return verify.Failure(reason, meta), nil
	}
	amount, err := verify.ParseAtomic(delivered)
	if err != nil {
		return verify.Outcome{}, &verify.DecodeError{Rail: verify.RailXRP, Op: "tx", Err: fmt.Errorf("delivered_amount: %w", err)}
	}
	meta["delivered_amount"] = amount.String()
	if !verify.MeetsMinimum(amount, minimum) {
		return verify.Failure(verify.ReasonInsufficientValue, meta), nil
	}

	confirmations := int64(1)
	if expect.MinConfirmations > 1 {
		depth, err := v.depth(ctx, tx.LedgerIndex)
		switch {
		case err == nil:
			confirmations = depth
			meta["depth_source"] = "ledger"
		case v.strictDepth:
			return verify.Outcome{}, err
		default:
			meta["depth_source"] = "fallback"
			meta["depth_error"] = err.Error()
		}
	}
	meta["confirmations"] = confirmations

	if confirmations < expect.MinConfirmations {
		meta["required"] = expect.MinConfirmations
		return verify.Failure(verify.ReasonInsufficientConfirmations, meta), nil
	}

	canonical := strings.ToUpper(tx.Hash)
	if canonical == "" {
		canonical = hash
	}
	return verify.Success(canonical, amount.String(), confirmations, meta), nil
}

// depth approximates confirmations as validated index - tx index + 1,
// clamped to at least 1.
func (v *XRPLVerifier) depth(ctx context.Context, txLedger *int64) (int64, error) {
	if txLedger == nil {
		return 0, &verify.DecodeError{Rail: verify.RailXRP, Op: "tx", Err: fmt.Errorf("transaction has no ledger_index")}
	}

	var ledger xrplLedger
	params := []any{map[string]any{"ledger_index": "validated"}}
	if err := v.client.call(ctx, "ledger", params, &ledger); err != nil {
		return 0, err
	}

	idx := ledger.LedgerIndex
	if idx == "" {
		idx = ledger.Ledger.LedgerIndex
	}
	validated, err := idx.Int64()
	if err != nil {
		return 0, &verify.DecodeError{Rail: verify.RailXRP, Op: "ledger", Err: fmt.Errorf("ledger_index: %w", err)}
	}

	depth := validated - *txLedger + 1
	if depth < 1 {
		depth = 1
	}
	return depth, nil
}

// deliveredDrops extracts a drops amount. Issued-currency objects are not
// supported.
func deliveredDrops(raw json.RawMessage) (string, verify.Reason, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", verify.ReasonMissingDeliveredAmount, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", "", fmt.Errorf("delivered_amount: %w", err)
		}
		if s == "" || s == "unavailable" {
			return "", verify.ReasonMissingDeliveredAmount, nil
		}
		return s, "", nil
	case '{':
		return "", verify.ReasonUnsupportedDeliveredAmount, nil
	default:
		return "", "", fmt.Errorf("delivered_amount has unexpected shape %s", truncate(raw))
	}
}
