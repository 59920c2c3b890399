package swap

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/wallet"
)

const testTimeout = 144

var testSecret = bytes.Repeat([]byte{0x42}, SecretSize)

// testWallet returns a testnet wallet whose private key is the integer seed.
func testWallet(t *testing.T, seed byte, opts ...wallet.Option) *wallet.Wallet {
	t.Helper()
	key := make([]byte, 32)
	key[31] = seed
	privKey, _ := btcec.PrivKeyFromBytes(key)
	w, err := wallet.New(privKey, chain.Testnet, opts...)
	require.NoError(t, err)
	return w
}

func testTxID(b byte) string {
	return hex.EncodeToString(bytes.Repeat([]byte{b}, 32))
}

func testContract(t *testing.T, recipient, sender *wallet.Wallet) *Contract {
	t.Helper()
	c, err := BuildContract(SecretHash(testSecret), recipient.Address(), sender.Address(), testTimeout, chain.Testnet)
	require.NoError(t, err)
	return c
}

// fakeChain serves transactions and unspent outputs from memory.
type fakeChain struct {
	txs       map[string]*backend.Transaction
	utxos     []backend.UTXO
	broadcast []string
	err       error
}

func newFakeChain() *fakeChain {
	return &fakeChain{txs: make(map[string]*backend.Transaction)}
}

func (f *fakeChain) GetTransaction(ctx context.Context, txID string) (*backend.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	tx, ok := f.txs[txID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrTxNotFound, txID)
	}
	return tx, nil
}

func (f *fakeChain) GetAddressUTXOs(ctx context.Context, address string) ([]backend.UTXO, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]backend.UTXO(nil), f.utxos...), nil
}

func (f *fakeChain) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	raw, err := hex.DecodeString(rawTxHex)
	if err != nil {
		return "", err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", err
	}
	f.broadcast = append(f.broadcast, rawTxHex)
	f.add(&tx)
	return tx.TxHash().String(), nil
}

func (f *fakeChain) DecodeRawTransaction(ctx context.Context, rawTxHex string) (*backend.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, err := hex.DecodeString(rawTxHex)
	if err != nil {
		return nil, err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return toBackendTx(&tx), nil
}

// add records tx as a known transaction and returns its id.
func (f *fakeChain) add(tx *wire.MsgTx) string {
	btx := toBackendTx(tx)
	f.txs[btx.TxID] = btx
	return btx.TxID
}

// toBackendTx renders tx the way a provider reports it.
func toBackendTx(tx *wire.MsgTx) *backend.Transaction {
	size := int64(tx.SerializeSize())
	weight := int64(tx.SerializeSizeStripped())*3 + size
	btx := &backend.Transaction{
		TxID:     tx.TxHash().String(),
		Hash:     tx.WitnessHash().String(),
		Version:  tx.Version,
		Size:     size,
		Weight:   weight,
		VSize:    (weight + 3) / 4,
		LockTime: tx.LockTime,
	}
	for _, in := range tx.TxIn {
		input := backend.TxInput{
			TxID:      in.PreviousOutPoint.Hash.String(),
			Vout:      in.PreviousOutPoint.Index,
			ScriptSig: hex.EncodeToString(in.SignatureScript),
			Sequence:  in.Sequence,
		}
		for _, item := range in.Witness {
			input.Witness = append(input.Witness, hex.EncodeToString(item))
		}
		btx.Inputs = append(btx.Inputs, input)
	}
	for _, out := range tx.TxOut {
		btx.Outputs = append(btx.Outputs, backend.TxOutput{
			ScriptPubKey: hex.EncodeToString(out.PkScript),
			Value:        uint64(out.Value),
		})
	}
	return btx
}

// walletUTXOs returns outputs paying w with the given amounts.
func walletUTXOs(w *wallet.Wallet, amounts ...uint64) []backend.UTXO {
	script := hex.EncodeToString(w.PkScript())
	utxos := make([]backend.UTXO, len(amounts))
	for i, amount := range amounts {
		utxos[i] = backend.UTXO{
			TxID:          testTxID(byte(0xa0 + i)),
			Vout:          uint32(i),
			Amount:        amount,
			ScriptPubKey:  script,
			Confirmations: int64(10 - i),
		}
	}
	return utxos
}

// fundedContract builds and signs a fund transaction for contract and
// registers it with the chain. It returns the funding txid.
func fundedContract(t *testing.T, fc *fakeChain, sender *wallet.Wallet, contract *Contract, amount uint64, opts ...Option) string {
	t.Helper()
	fund, err := NewFund(chain.Testnet, sender, opts...)
	require.NoError(t, err)
	require.NoError(t, fund.BuildTransaction(contract, amount, walletUTXOs(sender, amount*2)))

	solver, err := NewFundSolver(sender.PrivateKey())
	require.NoError(t, err)
	require.NoError(t, fund.Sign(solver))

	tx, err := fund.MsgTx()
	require.NoError(t, err)
	return fc.add(tx)
}

// verifyInput runs the script engine over input idx of tx.
func verifyInput(tx *wire.MsgTx, idx int, prevOuts txscript.PrevOutputFetcher) error {
	prevOut := prevOuts.FetchPrevOutput(tx.TxIn[idx].PreviousOutPoint)
	if prevOut == nil {
		return fmt.Errorf("no previous output for input %d", idx)
	}
	engine, err := txscript.NewEngine(prevOut.PkScript, tx, idx, txscript.StandardVerifyFlags,
		nil, txscript.NewTxSigHashes(tx, prevOuts), prevOut.Value, prevOuts)
	if err != nil {
		return err
	}
	return engine.Execute()
}

// verifyAll runs the script engine over every input of a built transaction.
func verifyAll(t *testing.T, txn Transaction, spent []SpentOutput) error {
	t.Helper()
	tx, err := txn.MsgTx()
	require.NoError(t, err)
	require.Len(t, spent, len(tx.TxIn))

	prevOuts := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range tx.TxIn {
		script, err := hex.DecodeString(spent[i].Script)
		require.NoError(t, err)
		prevOuts.AddPrevOut(in.PreviousOutPoint, wire.NewTxOut(int64(spent[i].Amount), script))
	}
	for i := range tx.TxIn {
		if err := verifyInput(tx, i, prevOuts); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}
	return nil
}

func decodeEnvelope(t *testing.T, txn Transaction) *Envelope {
	t.Helper()
	s, err := txn.ToEnvelope()
	require.NoError(t, err)
	env, err := Decode(s)
	require.NoError(t, err)
	return env
}

func hexOf(b []byte) string {
	return hex.EncodeToString(b)
}
