package swap

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/wallet"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

// Branch identifies how an input is unlocked.
type Branch string

const (
	BranchFund   Branch = "fund"   // ordinary key spend
	BranchClaim  Branch = "claim"  // contract, secret path
	BranchRefund Branch = "refund" // contract, timeout path
)

// Spend describes the input a solver is asked to unlock.
type Spend struct {
	Tx       *wire.MsgTx
	Index    int
	PrevOut  *wire.TxOut
	PrevOuts txscript.PrevOutputFetcher
	Network  chain.Network

	// Counterparty is the key hash the builder recorded for the other side
	// of the contract: the sender for a claim, the recipient for a refund.
	Counterparty []byte
}

// Witness is the unlocking data for one input. Legacy spends fill
// SignatureScript, segwit spends fill Stack.
type Witness struct {
	SignatureScript []byte
	Stack           wire.TxWitness
}

func (w *Witness) apply(in *wire.TxIn) {
	in.SignatureScript = w.SignatureScript
	in.Witness = w.Stack
}

// Solver produces the unlocking data for one input. A solver does not
// modify the transaction it is given.
type Solver interface {
	Branch() Branch
	Solve(spend *Spend) (*Witness, error)
}

// FundSolver signs the funder's own P2PKH / P2WPKH inputs.
type FundSolver struct {
	privKey *btcec.PrivateKey
}

// NewFundSolver creates a solver for funding inputs.
func NewFundSolver(privKey *btcec.PrivateKey) (*FundSolver, error) {
	if privKey == nil {
		return nil, fmt.Errorf("%w: private key required", ErrInvalidParameter)
	}
	return &FundSolver{privKey: privKey}, nil
}

func (s *FundSolver) Branch() Branch { return BranchFund }

func (s *FundSolver) Solve(spend *Spend) (*Witness, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil solver", ErrInvalidParameter)
	}
	sigScript, stack, err := wallet.InputSignature(spend.Tx, spend.Index, s.privKey, spend.PrevOuts)
	if err != nil {
		return nil, fmt.Errorf("failed to sign input %d: %w", spend.Index, err)
	}
	return &Witness{SignatureScript: sigScript, Stack: stack}, nil
}

// ClaimSolver redeems a contract with the secret. The contract is rebuilt
// from the solver's own key, secret and timeout plus the sender recorded by
// the builder.
type ClaimSolver struct {
	privKey *btcec.PrivateKey
	secret  []byte
	timeout uint32
	log     *logging.Logger
}

// NewClaimSolver creates a solver for the claim path.
func NewClaimSolver(privKey *btcec.PrivateKey, secret []byte, timeout uint32) (*ClaimSolver, error) {
	if privKey == nil {
		return nil, fmt.Errorf("%w: private key required", ErrInvalidParameter)
	}
	if len(secret) != SecretSize {
		return nil, fmt.Errorf("%w: secret must be %d bytes, got %d", ErrInvalidParameter, SecretSize, len(secret))
	}
	if timeout > MaxTimeout {
		return nil, fmt.Errorf("%w: timeout %d exceeds %d", ErrInvalidParameter, timeout, MaxTimeout)
	}
	return &ClaimSolver{
		privKey: privKey,
		secret:  append([]byte(nil), secret...),
		timeout: timeout,
		log:     logging.GetDefault().Component("swap"),
	}, nil
}

func (s *ClaimSolver) Branch() Branch { return BranchClaim }

// Timeout returns the contract timeout the solver assumes.
func (s *ClaimSolver) Timeout() uint32 { return s.timeout }

// Contract rebuilds the contract being claimed.
func (s *ClaimSolver) Contract(senderHash []byte, network chain.Network) (*Contract, error) {
	recipientHash := btcutil.Hash160(s.privKey.PubKey().SerializeCompressed())
	return NewContract(SecretHash(s.secret), recipientHash, senderHash, s.timeout, network)
}

func (s *ClaimSolver) Solve(spend *Spend) (*Witness, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil solver", ErrInvalidParameter)
	}
	contract, err := s.Contract(spend.Counterparty, spend.Network)
	if err != nil {
		return nil, err
	}
	return contractWitness(s.log, spend, contract, s.privKey, s.secret, []byte{0x01})
}

// RefundSolver redeems a contract after its timeout. The contract is
// rebuilt from the solver's own key, secret hash and timeout plus the
// recipient recorded by the builder.
type RefundSolver struct {
	privKey    *btcec.PrivateKey
	secretHash []byte
	timeout    uint32
	log        *logging.Logger
}

// NewRefundSolver creates a solver for the refund path.
func NewRefundSolver(privKey *btcec.PrivateKey, secretHash []byte, timeout uint32) (*RefundSolver, error) {
	if privKey == nil {
		return nil, fmt.Errorf("%w: private key required", ErrInvalidParameter)
	}
	if len(secretHash) != SecretSize {
		return nil, fmt.Errorf("%w: secret hash must be %d bytes, got %d", ErrInvalidParameter, SecretSize, len(secretHash))
	}
	if timeout > MaxTimeout {
		return nil, fmt.Errorf("%w: timeout %d exceeds %d", ErrInvalidParameter, timeout, MaxTimeout)
	}
	return &RefundSolver{
		privKey:    privKey,
		secretHash: append([]byte(nil), secretHash...),
		timeout:    timeout,
		log:        logging.GetDefault().Component("swap"),
	}, nil
}

func (s *RefundSolver) Branch() Branch { return BranchRefund }

// Timeout returns the contract timeout the solver assumes.
func (s *RefundSolver) Timeout() uint32 { return s.timeout }

// Contract rebuilds the contract being refunded.
func (s *RefundSolver) Contract(recipientHash []byte, network chain.Network) (*Contract, error) {
	senderHash := btcutil.Hash160(s.privKey.PubKey().SerializeCompressed())
	return NewContract(s.secretHash, recipientHash, senderHash, s.timeout, network)
}

func (s *RefundSolver) Solve(spend *Spend) (*Witness, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil solver", ErrInvalidParameter)
	}
	contract, err := s.Contract(spend.Counterparty, spend.Network)
	if err != nil {
		return nil, err
	}
	return contractWitness(s.log, spend, contract, s.privKey, nil, []byte{})
}

// contractWitness signs a contract input and assembles the unlocking data.
//
// Stack (bottom to top):
//
//	<signature> <pubkey> [secret] <branch selector> <contract script>
//
// The selector is 0x01 for the claim branch and empty for the refund branch.
// A contract that does not hash to the spent output is still signed; the
// resulting spend will not validate.
func contractWitness(log *logging.Logger, spend *Spend, contract *Contract, privKey *btcec.PrivateKey, secret, selector []byte) (*Witness, error) {
	if spend.Index < 0 || spend.Index >= len(spend.Tx.TxIn) {
		return nil, fmt.Errorf("%w: input index %d out of range", ErrInvalidParameter, spend.Index)
	}
	if !contract.Locks(spend.PrevOut.PkScript) {
		log.Warn("Contract does not match spent output",
			"input", spend.Index,
			"contract", contract.Address(),
			"witness_contract", contract.WitnessAddress())
	}

	script := contract.script
	pubKey := privKey.PubKey().SerializeCompressed()
	var args [][]byte
	if secret != nil {
		args = append(args, secret)
	}
	args = append(args, selector)

	switch txscript.GetScriptClass(spend.PrevOut.PkScript) {
	case txscript.WitnessV0ScriptHashTy:
		sigHashes := txscript.NewTxSigHashes(spend.Tx, spend.PrevOuts)
		sighash, err := txscript.CalcWitnessSigHash(
			script,
			sigHashes,
			txscript.SigHashAll,
			spend.Tx,
			spend.Index,
			spend.PrevOut.Value,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to compute sighash: %w", err)
		}
		stack := wire.TxWitness{signDigest(privKey, sighash), pubKey}
		stack = append(stack, args...)
		stack = append(stack, script)
		return &Witness{Stack: stack}, nil

	case txscript.ScriptHashTy:
		sighash, err := txscript.CalcSignatureHash(script, txscript.SigHashAll, spend.Tx, spend.Index)
		if err != nil {
			return nil, fmt.Errorf("failed to compute sighash: %w", err)
		}
		builder := txscript.NewScriptBuilder()
		builder.AddData(signDigest(privKey, sighash))
		builder.AddData(pubKey)
		for _, arg := range args {
			builder.AddData(arg)
		}
		builder.AddData(script)
		sigScript, err := builder.Script()
		if err != nil {
			return nil, fmt.Errorf("failed to build signature script: %w", err)
		}
		return &Witness{SignatureScript: sigScript}, nil

	default:
		return nil, fmt.Errorf("%w: input %d does not spend a script hash output", ErrContractNotFound, spend.Index)
	}
}

// signDigest returns a DER signature with the SIGHASH_ALL byte appended.
func signDigest(privKey *btcec.PrivateKey, digest []byte) []byte {
	sig := btcecdsa.Sign(privKey, digest)
	return append(sig.Serialize(), byte(txscript.SigHashAll))
}
