package swap

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/wallet"
)

// TransactionFetcher is the part of a backend that looks up a transaction.
type TransactionFetcher interface {
	GetTransaction(ctx context.Context, txID string) (*backend.Transaction, error)
}

// Output positions a fund transaction produces.
const (
	contractVout = 0
	changeVout   = 1
)

// contractSpend is the part claim and refund share: a single input
// spending a contract output and a single output paying the wallet.
type contractSpend struct {
	transaction
	wallet *wallet.Wallet

	outpoint      wire.OutPoint
	value         uint64
	pkScript      []byte
	recipientHash []byte
	senderHash    []byte
}

func newContractSpend(ctx context.Context, kind Kind, network chain.Network, fetcher TransactionFetcher, fundingTxID string, w *wallet.Wallet, o options) (*contractSpend, *backend.Transaction, error) {
	if w == nil {
		return nil, nil, fmt.Errorf("%w: wallet required", ErrInvalidParameter)
	}
	if w.Network() != network {
		return nil, nil, fmt.Errorf("%w: wallet is on %s, builder on %s", ErrInvalidParameter, w.Network(), network)
	}
	if fetcher == nil {
		return nil, nil, fmt.Errorf("%w: transaction fetcher required", ErrInvalidParameter)
	}
	hash, err := parseTxID(fundingTxID)
	if err != nil {
		return nil, nil, err
	}
	base, err := newTransaction(kind, network, o.version)
	if err != nil {
		return nil, nil, err
	}

	funding, err := fetcher.GetTransaction(ctx, fundingTxID)
	if err != nil {
		return nil, nil, providerError("get transaction", err)
	}

	vout, ok := findOutput(funding.Outputs, contractVout, txscript.ScriptHashTy, txscript.WitnessV0ScriptHashTy)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no script hash output in %s", ErrContractNotFound, fundingTxID)
	}
	out := funding.Outputs[vout]
	pkScript, err := hex.DecodeString(out.ScriptPubKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: output %d script: %v", ErrContractNotFound, vout, err)
	}

	s := &contractSpend{
		transaction: base,
		wallet:      w,
		outpoint:    *wire.NewOutPoint(hash, uint32(vout)),
		value:       out.Value,
		pkScript:    pkScript,
	}

	s.log.Debug("Located contract output",
		"txid", fundingTxID,
		"vout", vout,
		"value", out.Value)
	return s, funding, nil
}

// fundingSender returns the key hash paid by the funding transaction's
// change output.
func fundingSender(outputs []backend.TxOutput, network chain.Network) ([]byte, error) {
	vout, ok := findOutput(outputs, changeVout, txscript.PubKeyHashTy, txscript.WitnessV0PubKeyHashTy)
	if !ok {
		return nil, fmt.Errorf("%w: funding transaction has no change output to identify the sender", ErrInvalidParameter)
	}
	script, _ := hex.DecodeString(outputs[vout].ScriptPubKey)
	cfg, err := chain.ChainConfig(network)
	if err != nil {
		return nil, err
	}
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, cfg)
	if err != nil || len(addrs) != 1 {
		return nil, fmt.Errorf("%w: cannot read sender from output %d", ErrInvalidParameter, vout)
	}
	return addrs[0].ScriptAddress(), nil
}

// findOutput returns the index of the first output whose script is one of
// classes, checking preferred before the others.
func findOutput(outputs []backend.TxOutput, preferred int, classes ...txscript.ScriptClass) (int, bool) {
	matches := func(i int) bool {
		script, err := hex.DecodeString(outputs[i].ScriptPubKey)
		if err != nil {
			return false
		}
		class := txscript.GetScriptClass(script)
		for _, c := range classes {
			if class == c {
				return true
			}
		}
		return false
	}

	if preferred < len(outputs) && matches(preferred) {
		return preferred, true
	}
	for i := range outputs {
		if matches(i) {
			return i, true
		}
	}
	return 0, false
}

// build creates the single-input single-output spend.
func (s *contractSpend) build(sequence uint32) error {
	if s.wallet == nil {
		return fmt.Errorf("%w: %s restored from an envelope cannot be rebuilt", ErrState, s.kind)
	}
	fee := estimateFee(1, 1)
	if s.value <= fee {
		return fmt.Errorf("%w: contract holds %d, fee is %d", ErrInsufficientFunds, s.value, fee)
	}

	s.reset()

	tx := wire.NewMsgTx(s.version)
	in := wire.NewTxIn(&s.outpoint, nil, nil)
	in.Sequence = sequence
	tx.AddTxIn(in)
	tx.AddTxOut(wire.NewTxOut(int64(s.value-fee), s.wallet.PkScript()))

	s.tx = tx
	s.fee = fee
	s.spent = []SpentOutput{{
		Amount: s.value,
		N:      s.outpoint.Index,
		Script: hex.EncodeToString(s.pkScript),
	}}
	s.sender, _ = wallet.IdentityAddress(s.senderHash, s.network)
	s.recipient, _ = wallet.IdentityAddress(s.recipientHash, s.network)

	s.log.Debug("Built contract spend",
		"kind", s.kind,
		"outpoint", s.outpoint.String(),
		"sequence", sequence,
		"fee", fee)
	return nil
}

// Value returns the amount held by the contract output.
func (s *contractSpend) Value() uint64 {
	return s.value
}

// Outpoint returns the contract output being spent.
func (s *contractSpend) Outpoint() wire.OutPoint {
	return s.outpoint
}

// ClaimTransaction spends a contract output with the secret, paying the
// recipient.
type ClaimTransaction struct {
	*contractSpend
}

// NewClaim looks up the funding transaction and prepares a claim of its
// contract output to w. The sender is read from the funding change output
// unless WithSender is given.
func NewClaim(ctx context.Context, network chain.Network, fetcher TransactionFetcher, fundingTxID string, w *wallet.Wallet, opts ...Option) (*ClaimTransaction, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s, funding, err := newContractSpend(ctx, KindClaim, network, fetcher, fundingTxID, w, o)
	if err != nil {
		return nil, err
	}

	s.recipientHash = w.Hash160()
	if o.sender != "" {
		if s.senderHash, err = wallet.IdentityHash160(o.sender, network); err != nil {
			return nil, fmt.Errorf("%w: sender: %v", ErrInvalidParameter, err)
		}
	} else if s.senderHash, err = fundingSender(funding.Outputs, network); err != nil {
		return nil, err
	}
	return &ClaimTransaction{contractSpend: s}, nil
}

// BuildTransaction builds the unsigned claim. The input is final: the
// claim branch has no time lock.
func (c *ClaimTransaction) BuildTransaction() error {
	return c.build(wire.MaxTxInSequenceNum)
}

// Sign attaches the claim witness produced by a ClaimSolver.
func (c *ClaimTransaction) Sign(solver Solver) error {
	return c.sign(solver, BranchClaim, c.senderHash)
}
