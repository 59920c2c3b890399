package swap

import (
	"context"
	"fmt"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/wallet"
)

// RefundTransaction spends a contract output through the timeout branch,
// paying the sender back.
type RefundTransaction struct {
	*contractSpend
}

// NewRefund looks up the funding transaction and prepares a refund of its
// contract output to w. The contract's recipient must be given with
// WithRecipient: a script hash output does not reveal it.
func NewRefund(ctx context.Context, network chain.Network, fetcher TransactionFetcher, fundingTxID string, w *wallet.Wallet, opts ...Option) (*RefundTransaction, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.recipient == "" {
		return nil, fmt.Errorf("%w: refund needs the contract recipient", ErrInvalidParameter)
	}
	if o.version < 2 {
		return nil, fmt.Errorf("%w: relative time locks need transaction version 2, got %d", ErrInvalidParameter, o.version)
	}
	recipientHash, err := wallet.IdentityHash160(o.recipient, network)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient: %v", ErrInvalidParameter, err)
	}

	s, _, err := newContractSpend(ctx, KindRefund, network, fetcher, fundingTxID, w, o)
	if err != nil {
		return nil, err
	}
	s.recipientHash = recipientHash
	s.senderHash = w.Hash160()
	return &RefundTransaction{contractSpend: s}, nil
}

// BuildTransaction builds the unsigned refund. The input sequence is set
// to timeout so the ledger enforces the contract's relative lock.
func (r *RefundTransaction) BuildTransaction(timeout uint32) error {
	if timeout > MaxTimeout {
		return fmt.Errorf("%w: timeout %d exceeds %d", ErrInvalidParameter, timeout, MaxTimeout)
	}
	return r.build(timeout)
}

// Sequence returns the input sequence, which is the refund timeout.
func (r *RefundTransaction) Sequence() (uint32, error) {
	if err := r.requireBuilt("Sequence"); err != nil {
		return 0, err
	}
	return r.tx.TxIn[0].Sequence, nil
}

// Sign attaches the refund witness produced by a RefundSolver. The solver's
// timeout must equal the input sequence.
func (r *RefundTransaction) Sign(solver Solver) error {
	sequence, err := r.Sequence()
	if err != nil {
		return err
	}
	if rs, ok := solver.(*RefundSolver); ok {
		if rs == nil {
			return fmt.Errorf("%w: nil refund solver", ErrInvalidParameter)
		}
		if rs.Timeout() != sequence {
			return fmt.Errorf("%w: solver timeout %d does not match input sequence %d", ErrInvalidParameter, rs.Timeout(), sequence)
		}
	}
	return r.sign(solver, BranchRefund, r.recipientHash)
}
