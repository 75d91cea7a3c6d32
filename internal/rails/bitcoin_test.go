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
	btcTreasury = "bc1qtreasury0000000000000000000000000000"
	btcTxID     = "9f2c000000000000000000000000000000000000000000000000000000000abc"
)

func btcOut(n int, value string, addrs ...string) map[string]any {
	spk := map[string]any{}
	if len(addrs) == 1 {
		spk["address"] = addrs[0]
	} else {
		spk["addresses"] = addrs
	}
	return map[string]any{"n": n, "value": json.Number(value), "scriptPubKey": spk}
}

func btcTx(confirmations any, outs ...map[string]any) map[string]any {
	tx := map[string]any{"txid": btcTxID, "vout": outs}
	if confirmations != nil {
		tx["confirmations"] = confirmations
	}
	return tx
}

func newBTCVerifierFor(t *testing.T, tx any) (*BitcoinVerifier, *fakeRPC) {
	t.Helper()
	srv := newRPCServer(t, map[string]rpcHandler{"getrawtransaction": returns(tx)})
	v := NewBitcoinVerifier(BitcoinConfig{URL: srv.URL, User: "rpcuser", Password: "rpcpass", Timeout: time.Second})
	return v, srv
}

func btcRequest() verify.VerifyRequest {
	return verify.VerifyRequest{Rail: verify.RailBTC, ListingID: "listing-1", TxReference: btcTxID}
}

func TestBitcoin_SumsEveryQualifyingOutput(t *testing.T) {
	tx := btcTx(6,
		btcOut(0, "0.0005", btcTreasury),
		btcOut(1, "0.12", "bc1qchange00000000000000000000000000000000"),
		btcOut(2, "0.0004", "3MultisigOther", btcTreasury),
	)
	v, srv := newBTCVerifierFor(t, tx)

	out, err := v.Verify(context.Background(), btcRequest(), verify.Expectation{
		Treasury: btcTreasury, MinAtomic: "90000", MinConfirmations: 1,
	})
	require.NoError(t, err)
	require.True(t, out.OK, "reason: %s", out.Reason)
	assert.Equal(t, "90000", out.AmountAtomic)
	assert.Equal(t, int64(6), out.Confirmations)
	assert.Equal(t, btcTxID, out.CanonicalID)
	assert.Equal(t, []int{0, 2}, out.Meta["outputs"])

	calls := srv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "rpcuser", calls[0].User)
	assert.Equal(t, "rpcpass", calls[0].Pass)
	assert.JSONEq(t, `["`+btcTxID+`", true]`, string(calls[0].Params))
}

func TestBitcoin_OneSatoshiIsExact(t *testing.T) {
	v, _ := newBTCVerifierFor(t, btcTx(1, btcOut(0, "0.00000001", btcTreasury)))

	out, err := v.Verify(context.Background(), btcRequest(), verify.Expectation{
		Treasury: btcTreasury, MinAtomic: "1", MinConfirmations: 1,
	})
	require.NoError(t, err)
	require.True(t, out.OK)
	assert.Equal(t, "1", out.AmountAtomic)
}

func TestBitcoin_FloatHostileValues(t *testing.T) {
	// 0.29 * 1e8 is 28999999.999999996 in float64.
	v, _ := newBTCVerifierFor(t, btcTx(1, btcOut(0, "0.29", btcTreasury)))

	out, err := v.Verify(context.Background(), btcRequest(), verify.Expectation{
		Treasury: btcTreasury, MinAtomic: "29000000", MinConfirmations: 1,
	})
	require.NoError(t, err)
	require.True(t, out.OK)
	assert.Equal(t, "29000000", out.AmountAtomic)
}

func TestBitcoin_Bech32TreasuryIsCaseInsensitive(t *testing.T) {
	upper := "BC1QTREASURY0000000000000000000000000000"
	v, _ := newBTCVerifierFor(t, btcTx(1, btcOut(0, "1", upper)))

	out, err := v.Verify(context.Background(), btcRequest(), verify.Expectation{
		Treasury: btcTreasury, MinAtomic: "100000000", MinConfirmations: 1,
	})
	require.NoError(t, err)
	assert.True(t, out.OK)
}

func TestBitcoin_Base58TreasuryIsExact(t *testing.T) {
	v, _ := newBTCVerifierFor(t, btcTx(1, btcOut(0, "1", "1abcdefTreasury")))

	out, err := v.Verify(context.Background(), btcRequest(), verify.Expectation{
		Treasury: "1ABCDEFTREASURY", MinAtomic: "1", MinConfirmations: 1,
	})
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.Equal(t, verify.ReasonTreasuryMismatch, out.Reason)
}

func TestBitcoin_ExtraTreasuryAddresses(t *testing.T) {
	const cold = "bc1qcold000000000000000000000000000000000"
	tx := btcTx(3,
		btcOut(0, "0.00003", btcTreasury),
		btcOut(1, "0.00005", cold),
		btcOut(2, "0.5", "bc1qchange00000000000000000000000000000000"),
	)

	tests := []struct {
		name   string
		extras map[string]any
		want   string
		outs   []int
	}{
		{"yaml list", map[string]any{"treasury_addresses": []any{btcTreasury, cold}}, "8000", []int{0, 1}},
		{"string list", map[string]any{"treasury_addresses": []string{" " + cold + " "}}, "8000", []int{0, 1}},
		{"single string", map[string]any{"treasury_addresses": cold}, "8000", []int{0, 1}},
		{"absent", nil, "3000", []int{0}},
		{"wrong type ignored", map[string]any{"treasury_addresses": 42}, "3000", []int{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newBTCVerifierFor(t, tx)
			out, err := v.Verify(context.Background(), btcRequest(), verify.Expectation{
				Treasury: btcTreasury, MinAtomic: "1", MinConfirmations: 1, Extras: tt.extras,
			})
			require.NoError(t, err)
			require.True(t, out.OK, "reason: %s", out.Reason)
			assert.Equal(t, tt.want, out.AmountAtomic)
			assert.Equal(t, tt.outs, out.Meta["outputs"])
		})
	}
}

func TestBitcoin_ColdAddressOnlyPayment(t *testing.T) {
	const cold = "bc1qcold000000000000000000000000000000000"
	v, _ := newBTCVerifierFor(t, btcTx(2, btcOut(0, "0.00005", cold)))

	out, err := v.Verify(context.Background(), btcRequest(), verify.Expectation{
		Treasury:  btcTreasury,
		MinAtomic: "5000",
		Extras:    map[string]any{"treasury_addresses": []any{btcTreasury, cold}},
	})
	require.NoError(t, err)
	require.True(t, out.OK, "reason: %s", out.Reason)
	assert.Equal(t, "5000", out.AmountAtomic)

	v, _ = newBTCVerifierFor(t, btcTx(2, btcOut(0, "0.00005", cold)))
	out, err = v.Verify(context.Background(), btcRequest(), verify.Expectation{
		Treasury: btcTreasury, MinAtomic: "5000",
	})
	require.NoError(t, err)
	assert.Equal(t, verify.ReasonTreasuryMismatch, out.Reason)
}

func TestBitcoin_BusinessFailures(t *testing.T) {
	tests := []struct {
		name    string
		tx      map[string]any
		min     string
		minConf int64
		want    verify.Reason
	}{
		{"mempool without confirmations field", btcTx(nil, btcOut(0, "1", btcTreasury)), "1", 1, verify.ReasonUnconfirmed},
		{"zero confirmations", btcTx(0, btcOut(0, "1", btcTreasury)), "1", 1, verify.ReasonUnconfirmed},
		{"no output to treasury", btcTx(3, btcOut(0, "1", "bc1qsomeoneelse")), "1", 1, verify.ReasonTreasuryMismatch},
		{"one satoshi short", btcTx(3, btcOut(0, "0.00099999", btcTreasury)), "100000", 1, verify.ReasonInsufficientValue},
		{"below threshold", btcTx(1, btcOut(0, "1", btcTreasury)), "1", 3, verify.ReasonInsufficientConfirmations},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newBTCVerifierFor(t, tt.tx)
			out, err := v.Verify(context.Background(), btcRequest(), verify.Expectation{
				Treasury: btcTreasury, MinAtomic: tt.min, MinConfirmations: tt.minConf,
			})
			require.NoError(t, err)
			assert.False(t, out.OK)
			assert.Equal(t, tt.want, out.Reason)
		})
	}
}

func TestBitcoin_SubSatoshiValueIsDecodeError(t *testing.T) {
	v, _ := newBTCVerifierFor(t, btcTx(1, btcOut(0, "0.000000001", btcTreasury)))

	_, err := v.Verify(context.Background(), btcRequest(), verify.Expectation{
		Treasury: btcTreasury, MinAtomic: "1", MinConfirmations: 1,
	})
	var de *verify.DecodeError
	require.ErrorAs(t, err, &de)
}

func TestBitcoin_CoreErrorWithHTTP500IsUpstreamError(t *testing.T) {
	srv := newRawServer(t, http.StatusInternalServerError,
		`{"result":null,"error":{"code":-5,"message":"No such mempool or blockchain transaction"},"id":"railverify"}`)
	v := NewBitcoinVerifier(BitcoinConfig{URL: srv.URL})

	_, err := v.Verify(context.Background(), btcRequest(), verify.Expectation{Treasury: btcTreasury, MinAtomic: "1"})
	var ue *verify.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "-5", ue.Code)
	assert.Equal(t, verify.RailBTC, ue.Rail)
}

func TestBitcoin_UnauthorizedIsStatusError(t *testing.T) {
	srv := newRawServer(t, http.StatusUnauthorized, "")
	v := NewBitcoinVerifier(BitcoinConfig{URL: srv.URL, User: "wrong"})

	_, err := v.Verify(context.Background(), btcRequest(), verify.Expectation{Treasury: btcTreasury, MinAtomic: "1"})
	var se *verify.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
}
