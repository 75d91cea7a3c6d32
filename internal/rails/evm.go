package rails

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/railverify/internal/verify"
)

// EVMConfig configures an EVMVerifier.
type EVMConfig struct {
	// SupportedChains lists the chain ids this deployment accepts.
	SupportedChains []int64
	// Endpoints maps chain id to JSON-RPC URL.
	Endpoints  map[int64]string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// EVMVerifier verifies native-value transfers on EVM chains.
type EVMVerifier struct {
	supported map[int64]bool
	clients   map[int64]*rpcClient
}

// NewEVMVerifier builds a verifier for the configured chains.
func NewEVMVerifier(cfg EVMConfig) *EVMVerifier {
	v := &EVMVerifier{
		supported: make(map[int64]bool, len(cfg.SupportedChains)),
		clients:   make(map[int64]*rpcClient, len(cfg.Endpoints)),
	}
	for _, id := range cfg.SupportedChains {
		v.supported[id] = true
	}
	for id, url := range cfg.Endpoints {
		if url == "" {
			continue
		}
		v.clients[id] = &rpcClient{
			rail:    verify.RailETH,
			url:     url,
			dialect: dialectJSONRPC2,
			timeout: cfg.Timeout,
			http:    httpClientOrDefault(cfg.HTTPClient),
		}
	}
	return v
}

type evmReceipt struct {
	Status      string `json:"status"`
	BlockNumber string `json:"blockNumber"`
}

type evmTransaction struct {
	Hash  string `json:"hash"`
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
}

// Verify checks receipt status, sender, recipient, value and depth, in that
// order.
func (v *EVMVerifier) Verify(ctx context.Context, req verify.VerifyRequest, expect verify.Expectation) (verify.Outcome, error) {
	if req.ChainID == nil || !v.supported[*req.ChainID] {
		return verify.Failure(verify.ReasonUnsupportedChain, chainMeta(req.ChainID)), nil
	}
	chainID := *req.ChainID
	client, ok := v.clients[chainID]
	if !ok {
		return verify.Failure(verify.ReasonRPCNotConfigured, chainMeta(req.ChainID)), nil
	}

	minimum, err := verify.ParseAtomic(expect.MinAtomic)
	if err != nil {
		return verify.Outcome{}, fmt.Errorf("eth verify: min amount: %w", err)
	}

	hash := strings.ToLower(strings.TrimSpace(req.TxReference))
	meta := map[string]any{"chain_id": chainID}

	var receipt *evmReceipt
	if err := client.call(ctx, "eth_getTransactionReceipt", []any{hash}, &receipt); err != nil {
		return verify.Outcome{}, err
	}
	if receipt == nil {
		return verify.Failure(verify.ReasonUnconfirmed, meta), nil
	}
	if receipt.Status != "" {
		status, err := parseQuantity(receipt.Status)
		if err != nil {
			return verify.Outcome{}, &verify.DecodeError{Rail: verify.RailETH, Op: "eth_getTransactionReceipt", Err: fmt.Errorf("status: %w", err)}
		}
		if status.Sign() == 0 {
			return verify.Failure(verify.ReasonTxFailed, meta), nil
		}
	}
	if receipt.BlockNumber == "" {
		return verify.Failure(verify.ReasonMissingBlockNumber, meta), nil
	}
	block, err := parseQuantity(receipt.BlockNumber)
	if err != nil {
		return verify.Outcome{}, &verify.DecodeError{Rail: verify.RailETH, Op: "eth_getTransactionReceipt", Err: fmt.Errorf("blockNumber: %w", err)}
	}
	meta["block_number"] = block.String()

	var tx *evmTransaction
	if err := client.call(ctx, "eth_getTransactionByHash", []any{hash}, &tx); err != nil {
		return verify.Outcome{}, err
	}
	if tx == nil {
		return verify.Failure(verify.ReasonUnconfirmed, meta), nil
	}

	from := strings.ToLower(tx.From)
	to := strings.ToLower(tx.To)
	meta["from"] = from
	meta["to"] = to

	if from != strings.ToLower(strings.TrimSpace(req.Buyer)) {
		return verify.Failure(verify.ReasonBuyerMismatch, meta), nil
	}
	if to == "" {
		return verify.Failure(verify.ReasonMissingTo, meta), nil
	}
	if to != strings.ToLower(strings.TrimSpace(expect.Treasury)) {
		return verify.Failure(verify.ReasonTreasuryMismatch, meta), nil
	}

	value, err := parseQuantity(tx.Value)
	if err != nil {
		return verify.Outcome{}, &verify.DecodeError{Rail: verify.RailETH, Op: "eth_getTransactionByHash", Err: fmt.Errorf("value: %w", err)}
	}
	meta["value"] = value.String()
	if !verify.MeetsMinimum(value, minimum) {
		return verify.Failure(verify.ReasonInsufficientValue, meta), nil
	}

	var headHex string
	if err := client.call(ctx, "eth_blockNumber", nil, &headHex); err != nil {
		return verify.Outcome{}, err
	}
	head, err := parseQuantity(headHex)
	if err != nil {
		return verify.Outcome{}, &verify.DecodeError{Rail: verify.RailETH, Op: "eth_blockNumber", Err: err}
	}

	// A transaction in the head block has one confirmation.
	depth := new(big.Int).Sub(head, block)
	depth.Add(depth, big.NewInt(1))
	confirmations := int64(0)
	if depth.Sign() > 0 {
		confirmations = depth.Int64()
	}
	meta["confirmations"] = confirmations

	if confirmations < expect.MinConfirmations {
		meta["required"] = expect.MinConfirmations
		return verify.Failure(verify.ReasonInsufficientConfirmations, meta), nil
	}
	return verify.Success(hash, value.String(), confirmations, meta), nil
}

// parseQuantity decodes a 0x-prefixed hex quantity.
func parseQuantity(s string) (*big.Int, error) {
	digits, ok := strings.CutPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if !ok {
		return nil, fmt.Errorf("quantity %q lacks 0x prefix", s)
	}
	if digits == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("quantity %q is not hex", s)
	}
	return n, nil
}

func chainMeta(chainID *int64) map[string]any {
	if chainID == nil {
		return map[string]any{"chain_id": nil}
	}
	return map[string]any{"chain_id": *chainID}
}
