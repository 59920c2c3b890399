package swap

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/wallet"
)

// FundTransaction pays an amount from the funder's wallet into a contract.
//
// Output layout is fixed: output 0 locks the amount to the contract,
// output 1 returns the change to the funder. Claim and refund builders
// rely on this order.
type FundTransaction struct {
	transaction
	wallet   *wallet.Wallet
	witness  bool
	amount   uint64
	selected []backend.UTXO
}

// NewFund creates a fund builder spending from w.
func NewFund(network chain.Network, w *wallet.Wallet, opts ...Option) (*FundTransaction, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: wallet required", ErrInvalidParameter)
	}
	if w.Network() != network {
		return nil, fmt.Errorf("%w: wallet is on %s, builder on %s", ErrInvalidParameter, w.Network(), network)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	base, err := newTransaction(KindFund, network, o.version)
	if err != nil {
		return nil, err
	}
	return &FundTransaction{transaction: base, wallet: w, witness: o.witness}, nil
}

// BuildTransaction selects from utxos, in the given order, enough value to
// cover amount plus the fee, and builds the unsigned transaction.
func (f *FundTransaction) BuildTransaction(contract *Contract, amount uint64, utxos []backend.UTXO) error {
	if f.wallet == nil {
		return fmt.Errorf("%w: fund restored from an envelope cannot be rebuilt", ErrState)
	}
	if contract == nil {
		return fmt.Errorf("%w: contract required", ErrInvalidParameter)
	}
	if contract.Network != f.network {
		return fmt.Errorf("%w: contract is on %s, builder on %s", ErrInvalidParameter, contract.Network, f.network)
	}
	if amount == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidParameter)
	}
	if amount > btcutil.MaxSatoshi {
		return fmt.Errorf("%w: amount %d exceeds %d", ErrInvalidParameter, amount, int64(btcutil.MaxSatoshi))
	}
	for _, u := range utxos {
		if u.Amount > btcutil.MaxSatoshi {
			return fmt.Errorf("%w: utxo %s:%d amount %d exceeds %d", ErrInvalidParameter, u.TxID, u.Vout, u.Amount, int64(btcutil.MaxSatoshi))
		}
	}

	f.reset()

	indices, accumulated := SelectUTXOs(utxos, amount)
	fee := estimateFee(max(len(indices), 1), FundOutputs)
	if !covers(accumulated, amount, fee) {
		return fmt.Errorf("%w: have %d, need %d + %d fee", ErrInsufficientFunds, accumulated, amount, fee)
	}

	walletScript := f.wallet.PkScript()
	tx := wire.NewMsgTx(f.version)
	spent := make([]SpentOutput, 0, len(indices))
	selected := make([]backend.UTXO, 0, len(indices))
	for _, i := range indices {
		u := utxos[i]
		hash, err := parseTxID(u.TxID)
		if err != nil {
			return err
		}
		script := walletScript
		if u.ScriptPubKey != "" {
			if script, err = hex.DecodeString(u.ScriptPubKey); err != nil {
				return fmt.Errorf("%w: utxo %s:%d script: %v", ErrInvalidParameter, u.TxID, u.Vout, err)
			}
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, u.Vout), nil, nil))
		spent = append(spent, SpentOutput{Amount: u.Amount, N: u.Vout, Script: hex.EncodeToString(script)})
		selected = append(selected, u)
	}

	contractScript := contract.PkScript()
	if f.witness {
		contractScript = contract.WitnessPkScript()
	}
	change := accumulated - fee - amount
	tx.AddTxOut(wire.NewTxOut(int64(amount), contractScript))
	tx.AddTxOut(wire.NewTxOut(int64(change), walletScript))

	f.tx = tx
	f.fee = fee
	f.spent = spent
	f.amount = amount
	f.selected = selected

	f.log.Debug("Built fund transaction",
		"contract", contract.Address(),
		"amount", amount,
		"inputs", len(indices),
		"fee", fee,
		"change", change)
	return nil
}

// BuildFromProvider fetches the wallet's unspent outputs, oldest first,
// and builds from them.
func (f *FundTransaction) BuildFromProvider(ctx context.Context, fetcher wallet.UTXOFetcher, contract *Contract, amount uint64) error {
	if f.wallet == nil {
		return fmt.Errorf("%w: fund restored from an envelope cannot be rebuilt", ErrState)
	}
	utxos, err := f.wallet.Unspent(ctx, fetcher)
	if err != nil {
		return providerError("get unspent outputs", err)
	}
	return f.BuildTransaction(contract, amount, utxos)
}

// Sign signs every input with a FundSolver.
func (f *FundTransaction) Sign(solver Solver) error {
	return f.sign(solver, BranchFund, nil)
}

// Amount returns the amount locked to the contract.
func (f *FundTransaction) Amount() uint64 {
	return f.amount
}

// Unspent returns the outputs selected as inputs.
func (f *FundTransaction) Unspent() []backend.UTXO {
	return append([]backend.UTXO(nil), f.selected...)
}
