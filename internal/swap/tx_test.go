package swap

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/wallet"
)

func TestFundTransaction(t *testing.T) {
	sender := testWallet(t, 2)
	recipient := testWallet(t, 1)
	contract := testContract(t, recipient, sender)

	fund, err := NewFund(chain.Testnet, sender)
	require.NoError(t, err)

	utxos := walletUTXOs(sender, 60000, 30000, 50000)
	require.NoError(t, fund.BuildTransaction(contract, 100000, utxos))

	// All three outputs are needed to cover 100000 plus the three-input fee.
	assert.Equal(t, uint64(1566), fund.Fee())
	assert.Len(t, fund.Unspent(), 3)
	assert.Equal(t, uint64(100000), fund.Amount())

	tx, err := fund.MsgTx()
	require.NoError(t, err)
	assert.Equal(t, DefaultTxVersion, tx.Version)
	require.Len(t, tx.TxIn, 3)
	require.Len(t, tx.TxOut, 2)
	assert.Equal(t, int64(100000), tx.TxOut[0].Value)
	assert.Equal(t, contract.PkScript(), tx.TxOut[0].PkScript)
	assert.Equal(t, int64(140000-1566-100000), tx.TxOut[1].Value)
	assert.Equal(t, sender.PkScript(), tx.TxOut[1].PkScript)
	for i, in := range tx.TxIn {
		assert.Equal(t, uint32(i), in.PreviousOutPoint.Index)
		assert.Equal(t, wire.MaxTxInSequenceNum, in.Sequence)
		assert.Empty(t, in.SignatureScript)
	}

	env := decodeEnvelope(t, fund)
	assert.Equal(t, TypeFundUnsigned, env.Type)
	assert.Equal(t, chain.Testnet, env.Network)
	assert.Equal(t, uint64(1566), env.Fee)
	require.Len(t, env.Outputs, 3)
	assert.Equal(t, SpentOutput{Amount: 30000, N: 1, Script: hexOf(sender.PkScript())}, env.Outputs[1])

	solver, err := NewFundSolver(sender.PrivateKey())
	require.NoError(t, err)
	require.NoError(t, fund.Sign(solver))
	assert.True(t, fund.Signed())
	assert.Equal(t, TypeFundSigned, decodeEnvelope(t, fund).Type)
	assert.NoError(t, verifyAll(t, fund, env.Outputs))
}

func TestFundTransactionSegwit(t *testing.T) {
	sender := testWallet(t, 2, wallet.WithAddressType(chain.AddressP2WPKH))
	contract := testContract(t, testWallet(t, 1), sender)

	fund, err := NewFund(chain.Testnet, sender, WithWitnessContract())
	require.NoError(t, err)
	require.NoError(t, fund.BuildTransaction(contract, 50000, walletUTXOs(sender, 20000, 40000)))

	tx, err := fund.MsgTx()
	require.NoError(t, err)
	assert.Equal(t, contract.WitnessPkScript(), tx.TxOut[0].PkScript)

	solver, err := NewFundSolver(sender.PrivateKey())
	require.NoError(t, err)
	require.NoError(t, fund.Sign(solver))

	signed, err := fund.MsgTx()
	require.NoError(t, err)
	for _, in := range signed.TxIn {
		assert.Empty(t, in.SignatureScript)
		assert.Len(t, in.Witness, 2)
	}
	assert.NoError(t, verifyAll(t, fund, decodeEnvelope(t, fund).Outputs))
}

func TestFundTransactionErrors(t *testing.T) {
	sender := testWallet(t, 2)
	contract := testContract(t, testWallet(t, 1), sender)

	fund, err := NewFund(chain.Testnet, sender)
	require.NoError(t, err)

	err = fund.BuildTransaction(contract, 100000, walletUTXOs(sender, 60000, 40000))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.False(t, fund.Built())

	assert.ErrorIs(t, fund.BuildTransaction(contract, 100000, nil), ErrInsufficientFunds)
	assert.ErrorIs(t, fund.BuildTransaction(contract, 0, walletUTXOs(sender, 60000)), ErrInvalidParameter)
	assert.ErrorIs(t, fund.BuildTransaction(nil, 1000, walletUTXOs(sender, 60000)), ErrInvalidParameter)

	mainnetContract, err := NewContract(contract.SecretHash, contract.RecipientHash, contract.SenderHash, testTimeout, chain.Mainnet)
	require.NoError(t, err)
	assert.ErrorIs(t, fund.BuildTransaction(mainnetContract, 1000, walletUTXOs(sender, 60000)), ErrInvalidParameter)

	bad := walletUTXOs(sender, 60000)
	bad[0].TxID = "xyz"
	assert.ErrorIs(t, fund.BuildTransaction(contract, 1000, bad), ErrInvalidParameter)

	// Amounts beyond the money supply would wrap to negative output values.
	oversized := []struct {
		name   string
		amount uint64
		utxos  []backend.UTXO
	}{
		{"amount above supply", btcutil.MaxSatoshi + 1, walletUTXOs(sender, 100000)},
		{"amount above int64", 1 << 63, walletUTXOs(sender, 1<<63+100000)},
		{"utxo above supply", 1000, walletUTXOs(sender, 60000, btcutil.MaxSatoshi+1)},
	}
	for _, tt := range oversized {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, fund.BuildTransaction(contract, tt.amount, tt.utxos), ErrInvalidParameter)
			assert.False(t, fund.Built())
		})
	}

	_, err = NewFund(chain.Mainnet, sender)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = NewFund(chain.Testnet, nil)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = NewFund(chain.Testnet, sender, WithVersion(0))
	assert.ErrorIs(t, err, ErrInvalidParameter)

	require.NoError(t, fund.BuildTransaction(contract, 1000, walletUTXOs(sender, 60000)))
	claimSolver, err := NewClaimSolver(sender.PrivateKey(), testSecret, testTimeout)
	require.NoError(t, err)
	assert.ErrorIs(t, fund.Sign(claimSolver), ErrInvalidParameter)
	assert.ErrorIs(t, fund.Sign(nil), ErrInvalidParameter)
}

func TestBuildFromProvider(t *testing.T) {
	sender := testWallet(t, 2)
	contract := testContract(t, testWallet(t, 1), sender)

	fc := newFakeChain()
	// Oldest first: the 90-confirmation output is selected before the others.
	fc.utxos = []backend.UTXO{
		{TxID: testTxID(1), Vout: 0, Amount: 500000, Confirmations: 1},
		{TxID: testTxID(2), Vout: 3, Amount: 200000, Confirmations: 90},
	}

	fund, err := NewFund(chain.Testnet, sender)
	require.NoError(t, err)
	require.NoError(t, fund.BuildFromProvider(context.Background(), fc, contract, 100000))

	selected := fund.Unspent()
	require.Len(t, selected, 1)
	assert.Equal(t, testTxID(2), selected[0].TxID)
	assert.Equal(t, hexOf(sender.PkScript()), selected[0].ScriptPubKey)

	fc.err = backend.ErrRateLimited
	err = fund.BuildFromProvider(context.Background(), fc, contract, 100000)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, backend.ErrRateLimited)
	assert.Equal(t, backend.ErrRateLimited.Error(), err.Error())
}

func TestStateOrder(t *testing.T) {
	sender := testWallet(t, 2)
	recipient := testWallet(t, 1)
	contract := testContract(t, recipient, sender)
	fc := newFakeChain()
	txid := fundedContract(t, fc, sender, contract, 100000)
	ctx := context.Background()

	fund, err := NewFund(chain.Testnet, sender)
	require.NoError(t, err)
	claim, err := NewClaim(ctx, chain.Testnet, fc, txid, recipient)
	require.NoError(t, err)
	refund, err := NewRefund(ctx, chain.Testnet, fc, txid, sender, WithRecipient(recipient.Address()))
	require.NoError(t, err)

	fundSolver, _ := NewFundSolver(sender.PrivateKey())
	claimSolver, _ := NewClaimSolver(recipient.PrivateKey(), testSecret, testTimeout)
	refundSolver, _ := NewRefundSolver(sender.PrivateKey(), SecretHash(testSecret), testTimeout)

	tests := []struct {
		name   string
		txn    Transaction
		solver Solver
	}{
		{"fund", fund, fundSolver},
		{"claim", claim, claimSolver},
		{"refund", refund, refundSolver},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, tt.txn.Built())
			assert.ErrorIs(t, tt.txn.Sign(tt.solver), ErrState)
			_, err := tt.txn.Raw()
			assert.ErrorIs(t, err, ErrState)
			_, err = tt.txn.ID()
			assert.ErrorIs(t, err, ErrState)
			_, err = tt.txn.ToEnvelope()
			assert.ErrorIs(t, err, ErrState)
			_, err = tt.txn.MsgTx()
			assert.ErrorIs(t, err, ErrState)
			assert.False(t, tt.txn.Signed())
		})
	}
}

func TestClaimTransaction(t *testing.T) {
	for _, witness := range []bool{false, true} {
		name := "p2sh"
		var opts []Option
		if witness {
			name = "p2wsh"
			opts = append(opts, WithWitnessContract())
		}

		t.Run(name, func(t *testing.T) {
			sender := testWallet(t, 2)
			recipient := testWallet(t, 1)
			contract := testContract(t, recipient, sender)
			fc := newFakeChain()
			txid := fundedContract(t, fc, sender, contract, 100000, opts...)

			claim, err := NewClaim(context.Background(), chain.Testnet, fc, txid, recipient)
			require.NoError(t, err)
			assert.Equal(t, uint64(100000), claim.Value())
			require.NoError(t, claim.BuildTransaction())
			assert.Equal(t, uint64(576), claim.Fee())

			tx, err := claim.MsgTx()
			require.NoError(t, err)
			require.Len(t, tx.TxIn, 1)
			require.Len(t, tx.TxOut, 1)
			assert.Equal(t, txid, tx.TxIn[0].PreviousOutPoint.Hash.String())
			assert.Equal(t, uint32(0), tx.TxIn[0].PreviousOutPoint.Index)
			assert.Equal(t, wire.MaxTxInSequenceNum, tx.TxIn[0].Sequence)
			assert.Equal(t, int64(100000-576), tx.TxOut[0].Value)
			assert.Equal(t, recipient.PkScript(), tx.TxOut[0].PkScript)

			env := decodeEnvelope(t, claim)
			assert.Equal(t, TypeClaimUnsigned, env.Type)
			assert.Equal(t, recipient.Address(), env.RecipientAddress)
			assert.Equal(t, sender.Address(), env.SenderAddress)

			solver, err := NewClaimSolver(recipient.PrivateKey(), testSecret, testTimeout)
			require.NoError(t, err)
			require.NoError(t, claim.Sign(solver))
			assert.Equal(t, TypeClaimSigned, claim.Type())
			assert.NoError(t, verifyAll(t, claim, env.Outputs))

			signed, err := claim.MsgTx()
			require.NoError(t, err)
			if witness {
				assert.Empty(t, signed.TxIn[0].SignatureScript)
				assert.Len(t, signed.TxIn[0].Witness, 5)
				assert.Equal(t, testSecret, []byte(signed.TxIn[0].Witness[2]))
			} else {
				assert.Empty(t, signed.TxIn[0].Witness)
				pushes, err := txscript.PushedData(signed.TxIn[0].SignatureScript)
				require.NoError(t, err)
				assert.Contains(t, pushes, testSecret)
				assert.Contains(t, pushes, contract.Script())
			}
		})
	}
}

func TestClaimWrongSecretFails(t *testing.T) {
	sender := testWallet(t, 2)
	recipient := testWallet(t, 1)
	contract := testContract(t, recipient, sender)
	fc := newFakeChain()
	txid := fundedContract(t, fc, sender, contract, 100000)

	claim, err := NewClaim(context.Background(), chain.Testnet, fc, txid, recipient)
	require.NoError(t, err)
	require.NoError(t, claim.BuildTransaction())

	wrong := make([]byte, SecretSize)
	solver, err := NewClaimSolver(recipient.PrivateKey(), wrong, testTimeout)
	require.NoError(t, err)

	// The witness is still produced; the script engine rejects it.
	require.NoError(t, claim.Sign(solver))
	assert.Error(t, verifyAll(t, claim, decodeEnvelope(t, claim).Outputs))
}

func TestClaimWrongKeyFails(t *testing.T) {
	sender := testWallet(t, 2)
	recipient := testWallet(t, 1)
	contract := testContract(t, recipient, sender)
	fc := newFakeChain()
	txid := fundedContract(t, fc, sender, contract, 100000)

	// The sender cannot use the claim branch even with the secret.
	claim, err := NewClaim(context.Background(), chain.Testnet, fc, txid, sender, WithSender(sender.Address()))
	require.NoError(t, err)
	require.NoError(t, claim.BuildTransaction())
	solver, err := NewClaimSolver(sender.PrivateKey(), testSecret, testTimeout)
	require.NoError(t, err)
	require.NoError(t, claim.Sign(solver))
	assert.Error(t, verifyAll(t, claim, decodeEnvelope(t, claim).Outputs))
}

func TestNewClaimErrors(t *testing.T) {
	sender := testWallet(t, 2)
	recipient := testWallet(t, 1)
	ctx := context.Background()
	fc := newFakeChain()

	// Only ordinary outputs: no contract to claim.
	plain := wire.NewMsgTx(2)
	plain.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{1}, 0), nil, nil))
	plain.AddTxOut(wire.NewTxOut(1000, recipient.PkScript()))
	plain.AddTxOut(wire.NewTxOut(2000, sender.PkScript()))
	plainID := fc.add(plain)

	_, err := NewClaim(ctx, chain.Testnet, fc, plainID, recipient)
	assert.ErrorIs(t, err, ErrContractNotFound)

	_, err = NewClaim(ctx, chain.Testnet, fc, testTxID(9), recipient)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, backend.ErrTxNotFound)

	_, err = NewClaim(ctx, chain.Testnet, fc, "nope", recipient)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = NewClaim(ctx, chain.Mainnet, fc, plainID, recipient)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	// A contract output without a change output needs an explicit sender.
	contract := testContract(t, recipient, sender)
	lone := wire.NewMsgTx(2)
	lone.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{2}, 0), nil, nil))
	lone.AddTxOut(wire.NewTxOut(5000, contract.PkScript()))
	loneID := fc.add(lone)

	_, err = NewClaim(ctx, chain.Testnet, fc, loneID, recipient)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = NewClaim(ctx, chain.Testnet, fc, loneID, recipient, WithSender(sender.PublicKeyHex()))
	assert.NoError(t, err)
}

func TestClaimFindsContractByShape(t *testing.T) {
	sender := testWallet(t, 2)
	recipient := testWallet(t, 1)
	contract := testContract(t, recipient, sender)
	fc := newFakeChain()

	// Change first, contract second.
	swapped := wire.NewMsgTx(2)
	swapped.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{3}, 0), nil, nil))
	swapped.AddTxOut(wire.NewTxOut(7000, sender.PkScript()))
	swapped.AddTxOut(wire.NewTxOut(90000, contract.PkScript()))
	txid := fc.add(swapped)

	claim, err := NewClaim(context.Background(), chain.Testnet, fc, txid, recipient)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), claim.Outpoint().Index)
	assert.Equal(t, uint64(90000), claim.Value())

	require.NoError(t, claim.BuildTransaction())
	solver, err := NewClaimSolver(recipient.PrivateKey(), testSecret, testTimeout)
	require.NoError(t, err)
	require.NoError(t, claim.Sign(solver))
	assert.NoError(t, verifyAll(t, claim, decodeEnvelope(t, claim).Outputs))
}

func TestClaimTooSmall(t *testing.T) {
	sender := testWallet(t, 2)
	recipient := testWallet(t, 1)
	contract := testContract(t, recipient, sender)
	fc := newFakeChain()

	dust := wire.NewMsgTx(2)
	dust.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{4}, 0), nil, nil))
	dust.AddTxOut(wire.NewTxOut(576, contract.PkScript()))
	dust.AddTxOut(wire.NewTxOut(1000, sender.PkScript()))
	txid := fc.add(dust)

	claim, err := NewClaim(context.Background(), chain.Testnet, fc, txid, recipient)
	require.NoError(t, err)
	assert.ErrorIs(t, claim.BuildTransaction(), ErrInsufficientFunds)
}

func TestRefundTransaction(t *testing.T) {
	for _, witness := range []bool{false, true} {
		name := "p2sh"
		var opts []Option
		if witness {
			name = "p2wsh"
			opts = append(opts, WithWitnessContract())
		}

		t.Run(name, func(t *testing.T) {
			sender := testWallet(t, 2)
			recipient := testWallet(t, 1)
			contract := testContract(t, recipient, sender)
			fc := newFakeChain()
			txid := fundedContract(t, fc, sender, contract, 100000, opts...)

			refund, err := NewRefund(context.Background(), chain.Testnet, fc, txid, sender, WithRecipient(recipient.Address()))
			require.NoError(t, err)
			require.NoError(t, refund.BuildTransaction(testTimeout))

			sequence, err := refund.Sequence()
			require.NoError(t, err)
			assert.Equal(t, uint32(testTimeout), sequence)

			tx, err := refund.MsgTx()
			require.NoError(t, err)
			assert.Equal(t, int32(2), tx.Version)
			assert.Equal(t, sender.PkScript(), tx.TxOut[0].PkScript)
			assert.Equal(t, int64(100000-576), tx.TxOut[0].Value)

			env := decodeEnvelope(t, refund)
			assert.Equal(t, TypeRefundUnsigned, env.Type)
			assert.Equal(t, recipient.Address(), env.RecipientAddress)
			assert.Equal(t, sender.Address(), env.SenderAddress)

			solver, err := NewRefundSolver(sender.PrivateKey(), SecretHash(testSecret), testTimeout)
			require.NoError(t, err)
			require.NoError(t, refund.Sign(solver))
			assert.Equal(t, TypeRefundSigned, refund.Type())
			assert.NoError(t, verifyAll(t, refund, env.Outputs))
		})
	}
}

func TestRefundSolverTimeoutMismatch(t *testing.T) {
	sender := testWallet(t, 2)
	recipient := testWallet(t, 1)
	contract := testContract(t, recipient, sender)
	fc := newFakeChain()
	txid := fundedContract(t, fc, sender, contract, 100000)

	refund, err := NewRefund(context.Background(), chain.Testnet, fc, txid, sender, WithRecipient(recipient.Address()))
	require.NoError(t, err)
	require.NoError(t, refund.BuildTransaction(testTimeout))

	solver, err := NewRefundSolver(sender.PrivateKey(), SecretHash(testSecret), testTimeout+1)
	require.NoError(t, err)
	assert.ErrorIs(t, refund.Sign(solver), ErrInvalidParameter)
	assert.False(t, refund.Signed())
}

func TestSignNilSolver(t *testing.T) {
	txns := builtTransactions(t)

	var fundSolver *FundSolver
	var claimSolver *ClaimSolver
	var refundSolver *RefundSolver
	tests := []struct {
		kind   Kind
		solver Solver
	}{
		{KindFund, fundSolver},
		{KindClaim, claimSolver},
		{KindRefund, refundSolver},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			txn := txns[tt.kind].txn
			assert.NotPanics(t, func() {
				assert.ErrorIs(t, txn.Sign(tt.solver), ErrInvalidParameter)
			})
			assert.False(t, txn.Signed())
		})
	}
}

func TestRefundBeforeTimeoutFails(t *testing.T) {
	sender := testWallet(t, 2)
	recipient := testWallet(t, 1)
	contract := testContract(t, recipient, sender)
	fc := newFakeChain()
	txid := fundedContract(t, fc, sender, contract, 100000)

	refund, err := NewRefund(context.Background(), chain.Testnet, fc, txid, sender, WithRecipient(recipient.Address()))
	require.NoError(t, err)
	require.NoError(t, refund.BuildTransaction(testTimeout-1))

	// Sign the real contract against an input whose sequence is one block short.
	tx, err := refund.MsgTx()
	require.NoError(t, err)
	spent := decodeEnvelope(t, refund).Outputs
	script, err := hex.DecodeString(spent[0].Script)
	require.NoError(t, err)
	prevOut := wire.NewTxOut(int64(spent[0].Amount), script)
	prevOuts := txscript.NewCannedPrevOutputFetcher(prevOut.PkScript, prevOut.Value)

	w, err := contractWitness(refund.log, &Spend{
		Tx:       tx,
		Index:    0,
		PrevOut:  prevOut,
		PrevOuts: prevOuts,
		Network:  chain.Testnet,
	}, contract, sender.PrivateKey(), nil, []byte{})
	require.NoError(t, err)
	w.apply(tx.TxIn[0])

	assert.Error(t, verifyInput(tx, 0, prevOuts))

	// The same witness at the full timeout is valid.
	refund2, err := NewRefund(context.Background(), chain.Testnet, fc, txid, sender, WithRecipient(recipient.Address()))
	require.NoError(t, err)
	require.NoError(t, refund2.BuildTransaction(testTimeout))
	tx2, err := refund2.MsgTx()
	require.NoError(t, err)
	w2, err := contractWitness(refund2.log, &Spend{
		Tx:       tx2,
		Index:    0,
		PrevOut:  prevOut,
		PrevOuts: prevOuts,
		Network:  chain.Testnet,
	}, contract, sender.PrivateKey(), nil, []byte{})
	require.NoError(t, err)
	w2.apply(tx2.TxIn[0])
	assert.NoError(t, verifyInput(tx2, 0, prevOuts))
}

func TestNewRefundErrors(t *testing.T) {
	sender := testWallet(t, 2)
	recipient := testWallet(t, 1)
	contract := testContract(t, recipient, sender)
	fc := newFakeChain()
	txid := fundedContract(t, fc, sender, contract, 100000)
	ctx := context.Background()

	_, err := NewRefund(ctx, chain.Testnet, fc, txid, sender)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = NewRefund(ctx, chain.Testnet, fc, txid, sender, WithRecipient("garbage"))
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = NewRefund(ctx, chain.Testnet, fc, txid, sender, WithRecipient(recipient.Address()), WithVersion(1))
	assert.ErrorIs(t, err, ErrInvalidParameter)

	refund, err := NewRefund(ctx, chain.Testnet, fc, txid, sender, WithRecipient(recipient.Address()))
	require.NoError(t, err)
	assert.ErrorIs(t, refund.BuildTransaction(MaxTimeout+1), ErrInvalidParameter)

	require.NoError(t, refund.BuildTransaction(testTimeout))
	claimSolver, err := NewClaimSolver(sender.PrivateKey(), testSecret, testTimeout)
	require.NoError(t, err)
	assert.ErrorIs(t, refund.Sign(claimSolver), ErrInvalidParameter)
}

func TestBuildersRunIndependently(t *testing.T) {
	sender := testWallet(t, 2)
	recipient := testWallet(t, 1)
	contract := testContract(t, recipient, sender)
	fc := newFakeChain()
	txid := fundedContract(t, fc, sender, contract, 100000)

	claim, err := NewClaim(context.Background(), chain.Testnet, fc, txid, recipient)
	require.NoError(t, err)
	refund, err := NewRefund(context.Background(), chain.Testnet, fc, txid, sender, WithRecipient(recipient.Address()))
	require.NoError(t, err)

	done := make(chan error, 2)
	go func() {
		if err := claim.BuildTransaction(); err != nil {
			done <- err
			return
		}
		solver, _ := NewClaimSolver(recipient.PrivateKey(), testSecret, testTimeout)
		done <- claim.Sign(solver)
	}()
	go func() {
		if err := refund.BuildTransaction(testTimeout); err != nil {
			done <- err
			return
		}
		solver, _ := NewRefundSolver(sender.PrivateKey(), SecretHash(testSecret), testTimeout)
		done <- refund.Sign(solver)
	}()
	require.NoError(t, <-done)
	require.NoError(t, <-done)

	claimID, err := claim.ID()
	require.NoError(t, err)
	refundID, err := refund.ID()
	require.NoError(t, err)
	assert.NotEqual(t, claimID, refundID)
}
