package rails

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/railverify/internal/verify"
)

const (
	evmBuyer    = "0xAbC0000000000000000000000000000000000001"
	evmTreasury = "0xDEF0000000000000000000000000000000000002"
	evmHash     = "0xAAAA000000000000000000000000000000000000000000000000000000000001"
	oneEther    = "1000000000000000000"
)

type evmFixture struct {
	receipt any
	tx      any
	head    string
}

func defaultEVMFixture() evmFixture {
	return evmFixture{
		receipt: map[string]any{"status": "0x1", "blockNumber": "0x64"},
		tx: map[string]any{
			"hash":  evmHash,
			"from":  "0xabc0000000000000000000000000000000000001",
			"to":    "0xdef0000000000000000000000000000000000002",
			"value": "0xde0b6b3a7640000",
		},
		head: "0x66",
	}
}

func newEVMVerifierFor(t *testing.T, fx evmFixture) (*EVMVerifier, *fakeRPC) {
	t.Helper()
	srv := newRPCServer(t, map[string]rpcHandler{
		"eth_getTransactionReceipt": returns(fx.receipt),
		"eth_getTransactionByHash":  returns(fx.tx),
		"eth_blockNumber":           returns(fx.head),
	})
	v := NewEVMVerifier(EVMConfig{
		SupportedChains: []int64{1, 8453, 137},
		Endpoints:       map[int64]string{1: srv.URL},
		Timeout:         time.Second,
	})
	return v, srv
}

func evmRequest() verify.VerifyRequest {
	return verify.VerifyRequest{
		Rail:        verify.RailETH,
		ListingID:   "listing-1",
		Buyer:       evmBuyer,
		TxReference: evmHash,
		ChainID:     int64p(1),
	}
}

func evmExpect(minConf int64) verify.Expectation {
	return verify.Expectation{Treasury: evmTreasury, MinAtomic: oneEther, MinConfirmations: minConf}
}

func TestEVM_SuccessAtExactMinimum(t *testing.T) {
	v, srv := newEVMVerifierFor(t, defaultEVMFixture())

	out, err := v.Verify(context.Background(), evmRequest(), evmExpect(2))
	require.NoError(t, err)
	require.True(t, out.OK, "reason: %s", out.Reason)

	assert.Equal(t, "0xaaaa000000000000000000000000000000000000000000000000000000000001", out.CanonicalID)
	assert.Equal(t, oneEther, out.AmountAtomic)
	assert.Equal(t, int64(3), out.Confirmations, "head 0x66 - block 0x64 + 1")
	assert.Equal(t, []string{"eth_getTransactionReceipt", "eth_getTransactionByHash", "eth_blockNumber"}, srv.methods())

	var params []string
	require.NoError(t, json.Unmarshal(srv.Calls()[0].Params, &params))
	assert.Equal(t, []string{out.CanonicalID}, params, "hash is sent lower-cased")
}

func TestEVM_HeadBlockHasOneConfirmation(t *testing.T) {
	fx := defaultEVMFixture()
	fx.head = "0x64"
	v, _ := newEVMVerifierFor(t, fx)

	out, err := v.Verify(context.Background(), evmRequest(), evmExpect(1))
	require.NoError(t, err)
	require.True(t, out.OK)
	assert.Equal(t, int64(1), out.Confirmations)
}

func TestEVM_InsufficientConfirmationsIsRetryable(t *testing.T) {
	fx := defaultEVMFixture()
	fx.head = "0x64"
	v, _ := newEVMVerifierFor(t, fx)

	out, err := v.Verify(context.Background(), evmRequest(), evmExpect(2))
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.Equal(t, verify.ReasonInsufficientConfirmations, out.Reason)
	assert.True(t, out.Retryable())
	assert.Equal(t, int64(1), out.Meta["confirmations"])
}

func TestEVM_BusinessFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*evmFixture)
		req    func(*verify.VerifyRequest)
		want   verify.Reason
	}{
		{
			name:   "null receipt",
			mutate: func(fx *evmFixture) { fx.receipt = nil },
			want:   verify.ReasonUnconfirmed,
		},
		{
			name:   "reverted",
			mutate: func(fx *evmFixture) { fx.receipt = map[string]any{"status": "0x0", "blockNumber": "0x64"} },
			want:   verify.ReasonTxFailed,
		},
		{
			name:   "missing block number",
			mutate: func(fx *evmFixture) { fx.receipt = map[string]any{"status": "0x1", "blockNumber": nil} },
			want:   verify.ReasonMissingBlockNumber,
		},
		{
			name: "wrong sender",
			req:  func(r *verify.VerifyRequest) { r.Buyer = "0x9990000000000000000000000000000000000009" },
			want: verify.ReasonBuyerMismatch,
		},
		{
			name:   "contract creation",
			mutate: func(fx *evmFixture) { fx.tx.(map[string]any)["to"] = nil },
			want:   verify.ReasonMissingTo,
		},
		{
			name:   "wrong recipient",
			mutate: func(fx *evmFixture) { fx.tx.(map[string]any)["to"] = "0x1110000000000000000000000000000000000001" },
			want:   verify.ReasonTreasuryMismatch,
		},
		{
			name:   "one wei short",
			mutate: func(fx *evmFixture) { fx.tx.(map[string]any)["value"] = "0xde0b6b3a763ffff" },
			want:   verify.ReasonInsufficientValue,
		},
		{
			name: "unsupported chain",
			req:  func(r *verify.VerifyRequest) { r.ChainID = int64p(5) },
			want: verify.ReasonUnsupportedChain,
		},
		{
			name: "missing chain",
			req:  func(r *verify.VerifyRequest) { r.ChainID = nil },
			want: verify.ReasonUnsupportedChain,
		},
		{
			name: "supported chain without endpoint",
			req:  func(r *verify.VerifyRequest) { r.ChainID = int64p(137) },
			want: verify.ReasonRPCNotConfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := defaultEVMFixture()
			if tt.mutate != nil {
				tt.mutate(&fx)
			}
			req := evmRequest()
			if tt.req != nil {
				tt.req(&req)
			}
			v, _ := newEVMVerifierFor(t, fx)

			out, err := v.Verify(context.Background(), req, evmExpect(1))
			require.NoError(t, err)
			assert.False(t, out.OK)
			assert.Equal(t, tt.want, out.Reason)
		})
	}
}

func TestEVM_InfrastructureErrors(t *testing.T) {
	t.Run("upstream error object", func(t *testing.T) {
		srv := newRPCServer(t, map[string]rpcHandler{
			"eth_getTransactionReceipt": func(json.RawMessage) (any, map[string]any) {
				return nil, map[string]any{"code": -32000, "message": "header not found"}
			},
		})
		v := NewEVMVerifier(EVMConfig{SupportedChains: []int64{1}, Endpoints: map[int64]string{1: srv.URL}})

		_, err := v.Verify(context.Background(), evmRequest(), evmExpect(1))
		var ue *verify.UpstreamError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, "-32000", ue.Code)
		assert.Equal(t, "header not found", ue.Message)
		assert.True(t, verify.IsInfrastructure(err))
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := newRawServer(t, http.StatusOK, "<html>gateway</html>")
		v := NewEVMVerifier(EVMConfig{SupportedChains: []int64{1}, Endpoints: map[int64]string{1: srv.URL}})

		_, err := v.Verify(context.Background(), evmRequest(), evmExpect(1))
		var de *verify.DecodeError
		require.ErrorAs(t, err, &de)
		assert.Contains(t, de.Body, "gateway")
	})

	t.Run("rejected request", func(t *testing.T) {
		srv := newRawServer(t, http.StatusTooManyRequests, "slow down")
		v := NewEVMVerifier(EVMConfig{SupportedChains: []int64{1}, Endpoints: map[int64]string{1: srv.URL}})

		_, err := v.Verify(context.Background(), evmRequest(), evmExpect(1))
		var se *verify.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := newSlowServer(t)
		v := NewEVMVerifier(EVMConfig{
			SupportedChains: []int64{1},
			Endpoints:       map[int64]string{1: srv.URL},
			Timeout:         50 * time.Millisecond,
		})

		start := time.Now()
		_, err := v.Verify(context.Background(), evmRequest(), evmExpect(1))
		require.Error(t, err)
		assert.True(t, verify.IsTimeout(err), "got %v", err)
		assert.Equal(t, "timeout", verify.ErrorKind(err))
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestParseQuantity(t *testing.T) {
	n, err := parseQuantity("0x0")
	require.NoError(t, err)
	assert.Equal(t, "0", n.String())

	n, err = parseQuantity("0xDE0B6B3A7640000")
	require.NoError(t, err)
	assert.Equal(t, oneEther, n.String())

	_, err = parseQuantity("100")
	assert.Error(t, err)
	_, err = parseQuantity("0xzz")
	assert.Error(t, err)
}
