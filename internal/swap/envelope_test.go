package swap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
)

// builtTransactions returns one builder of each variant, built but unsigned,
// with the solver that signs it.
func builtTransactions(t *testing.T) map[Kind]struct {
	txn    Transaction
	solver Solver
} {
	t.Helper()
	sender := testWallet(t, 2)
	recipient := testWallet(t, 1)
	contract := testContract(t, recipient, sender)
	fc := newFakeChain()
	txid := fundedContract(t, fc, sender, contract, 100000)
	ctx := context.Background()

	fund, err := NewFund(chain.Testnet, sender)
	require.NoError(t, err)
	require.NoError(t, fund.BuildTransaction(contract, 25000, walletUTXOs(sender, 20000, 20000)))
	claim, err := NewClaim(ctx, chain.Testnet, fc, txid, recipient)
	require.NoError(t, err)
	require.NoError(t, claim.BuildTransaction())
	refund, err := NewRefund(ctx, chain.Testnet, fc, txid, sender, WithRecipient(recipient.Address()))
	require.NoError(t, err)
	require.NoError(t, refund.BuildTransaction(testTimeout))

	fundSolver, err := NewFundSolver(sender.PrivateKey())
	require.NoError(t, err)
	claimSolver, err := NewClaimSolver(recipient.PrivateKey(), testSecret, testTimeout)
	require.NoError(t, err)
	refundSolver, err := NewRefundSolver(sender.PrivateKey(), SecretHash(testSecret), testTimeout)
	require.NoError(t, err)

	return map[Kind]struct {
		txn    Transaction
		solver Solver
	}{
		KindFund:   {fund, fundSolver},
		KindClaim:  {claim, claimSolver},
		KindRefund: {refund, refundSolver},
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	for kind, b := range builtTransactions(t) {
		t.Run(string(kind), func(t *testing.T) {
			for _, signed := range []bool{false, true} {
				if signed {
					require.NoError(t, b.txn.Sign(b.solver))
				}

				s, err := b.txn.ToEnvelope()
				require.NoError(t, err)
				assert.True(t, IsEnvelope(s))

				env, err := Decode(s)
				require.NoError(t, err)
				raw, err := b.txn.Raw()
				require.NoError(t, err)

				assert.Equal(t, TypeOf(kind, signed), env.Type)
				assert.Equal(t, b.txn.Fee(), env.Fee)
				assert.Equal(t, chain.Testnet, env.Network)
				assert.Equal(t, raw, env.Raw)

				restored, err := FromEnvelope(s)
				require.NoError(t, err)
				assert.Equal(t, kind, restored.Kind())
				assert.Equal(t, signed, restored.Signed())
				assert.Equal(t, b.txn.Fee(), restored.Fee())
				restoredRaw, err := restored.Raw()
				require.NoError(t, err)
				assert.Equal(t, raw, restoredRaw)

				again, err := restored.ToEnvelope()
				require.NoError(t, err)
				assert.Equal(t, s, again)
			}
		})
	}
}

func TestEnvelopeOfflineSigning(t *testing.T) {
	for kind, b := range builtTransactions(t) {
		t.Run(string(kind), func(t *testing.T) {
			unsigned, err := b.txn.ToEnvelope()
			require.NoError(t, err)

			restored, err := FromEnvelope(unsigned)
			require.NoError(t, err)
			require.NoError(t, restored.Sign(b.solver))
			require.NoError(t, b.txn.Sign(b.solver))

			// Signatures are deterministic, so both paths give the same bytes.
			offline, err := restored.Raw()
			require.NoError(t, err)
			direct, err := b.txn.Raw()
			require.NoError(t, err)
			assert.Equal(t, direct, offline)
			assert.NoError(t, verifyAll(t, restored, decodeEnvelope(t, restored).Outputs))
		})
	}
}

func TestFromEnvelopeCannotRebuild(t *testing.T) {
	txns := builtTransactions(t)

	s, err := txns[KindFund].txn.ToEnvelope()
	require.NoError(t, err)
	restored, err := FromEnvelope(s)
	require.NoError(t, err)
	fund, ok := restored.(*FundTransaction)
	require.True(t, ok)
	assert.Equal(t, uint64(25000), fund.Amount())
	assert.ErrorIs(t, fund.BuildTransaction(nil, 1, nil), ErrState)

	s, err = txns[KindClaim].txn.ToEnvelope()
	require.NoError(t, err)
	restored, err = FromEnvelope(s)
	require.NoError(t, err)
	claim, ok := restored.(*ClaimTransaction)
	require.True(t, ok)
	assert.Equal(t, uint64(100000), claim.Value())
	assert.ErrorIs(t, claim.BuildTransaction(), ErrState)

	s, err = txns[KindRefund].txn.ToEnvelope()
	require.NoError(t, err)
	restored, err = FromEnvelope(s)
	require.NoError(t, err)
	refund, ok := restored.(*RefundTransaction)
	require.True(t, ok)
	sequence, err := refund.Sequence()
	require.NoError(t, err)
	assert.Equal(t, uint32(testTimeout), sequence)
	assert.ErrorIs(t, refund.BuildTransaction(testTimeout), ErrState)
}

func encodeJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(data)
}

func TestDecodeRejects(t *testing.T) {
	valid := map[string]any{
		"fee":     576,
		"raw":     "0200000000000000000000",
		"outputs": []any{},
		"type":    "claim_signed",
		"network": "testnet",
	}
	with := func(key string, value any) string {
		m := make(map[string]any, len(valid))
		for k, v := range valid {
			m[k] = v
		}
		m[key] = value
		return encodeJSON(t, m)
	}

	tests := map[string]string{
		"not base64":      "%%%",
		"not json":        base64.StdEncoding.EncodeToString([]byte("{")),
		"bare kind":       with("type", "fund"),
		"unknown type":    with("type", "claim_partial"),
		"missing type":    with("type", ""),
		"unknown network": with("network", "regtest"),
		"raw not hex":     with("raw", "zz"),
		"raw empty":       with("raw", ""),
	}
	for name, s := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(s)
			assert.ErrorIs(t, err, ErrEnvelopeFormat)
			assert.False(t, IsEnvelope(s))
		})
	}

	env, err := Decode(encodeJSON(t, valid))
	require.NoError(t, err)
	assert.Equal(t, TypeClaimSigned, env.Type)
}

func TestDecodeDefaultsNetwork(t *testing.T) {
	s := encodeJSON(t, map[string]any{
		"fee":  576,
		"raw":  "00",
		"type": "fund_unsigned",
	})
	env, err := Decode("  " + s + "\n")
	require.NoError(t, err)
	assert.Equal(t, chain.Mainnet, env.Network)
}

func TestEncodeRequiresType(t *testing.T) {
	_, err := Encode(&Envelope{Raw: "00"})
	assert.ErrorIs(t, err, ErrEnvelopeFormat)
	_, err = Encode(nil)
	assert.ErrorIs(t, err, ErrEnvelopeFormat)
}

func TestFromEnvelopeRejects(t *testing.T) {
	txns := builtTransactions(t)
	s, err := txns[KindClaim].txn.ToEnvelope()
	require.NoError(t, err)
	env, err := Decode(s)
	require.NoError(t, err)

	noRecipient := *env
	noRecipient.RecipientAddress = ""
	encoded, err := Encode(&noRecipient)
	require.NoError(t, err)
	_, err = FromEnvelope(encoded)
	assert.ErrorIs(t, err, ErrEnvelopeFormat)

	extraOutput := *env
	extraOutput.Outputs = append(append([]SpentOutput(nil), env.Outputs...), SpentOutput{Amount: 1})
	encoded, err = Encode(&extraOutput)
	require.NoError(t, err)
	_, err = FromEnvelope(encoded)
	assert.ErrorIs(t, err, ErrEnvelopeFormat)

	badRaw := *env
	badRaw.Raw = "0200"
	encoded, err = Encode(&badRaw)
	require.NoError(t, err)
	_, err = FromEnvelope(encoded)
	assert.ErrorIs(t, err, ErrEnvelopeFormat)
}
