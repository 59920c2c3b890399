package swap

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

// DefaultTxVersion is the transaction version used unless overridden.
// Version 2 is required for OP_CHECKSEQUENCEVERIFY.
const DefaultTxVersion int32 = 2

// Kind is the transaction variant.
type Kind string

const (
	KindFund   Kind = "fund"
	KindClaim  Kind = "claim"
	KindRefund Kind = "refund"
)

// Type is the envelope tag: variant plus signing state.
type Type string

const (
	TypeFundUnsigned   Type = "fund_unsigned"
	TypeFundSigned     Type = "fund_signed"
	TypeClaimUnsigned  Type = "claim_unsigned"
	TypeClaimSigned    Type = "claim_signed"
	TypeRefundUnsigned Type = "refund_unsigned"
	TypeRefundSigned   Type = "refund_signed"
)

// TypeOf returns the tag for a variant in the given signing state.
func TypeOf(kind Kind, signed bool) Type {
	if signed {
		return Type(string(kind) + "_signed")
	}
	return Type(string(kind) + "_unsigned")
}

// Valid reports whether t is one of the six recognized tags.
func (t Type) Valid() bool {
	switch t {
	case TypeFundUnsigned, TypeFundSigned,
		TypeClaimUnsigned, TypeClaimSigned,
		TypeRefundUnsigned, TypeRefundSigned:
		return true
	}
	return false
}

// Kind returns the variant part of the tag.
func (t Type) Kind() Kind {
	kind, _, _ := strings.Cut(string(t), "_")
	return Kind(kind)
}

// Signed reports whether the tag marks a signed transaction.
func (t Type) Signed() bool {
	return strings.HasSuffix(string(t), "_signed")
}

// SpentOutput describes an output spent by one input, in input order.
// Envelopes carry these so a transaction can be signed or decoded offline.
type SpentOutput struct {
	Amount uint64 `json:"amount"`
	N      uint32 `json:"n"`
	Script string `json:"script"`
}

// Transaction is the behaviour shared by the fund, claim and refund
// builders. BuildTransaction differs per variant and must be called first.
type Transaction interface {
	Kind() Kind
	Type() Type
	Network() chain.Network
	Fee() uint64
	Built() bool
	Signed() bool

	Sign(solver Solver) error
	MsgTx() (*wire.MsgTx, error)
	Raw() (string, error)
	ID() (string, error)
	ToEnvelope() (string, error)
}

// Option configures a builder.
type Option func(*options)

type options struct {
	version   int32
	witness   bool
	sender    string
	recipient string
}

func defaultOptions() options {
	return options{version: DefaultTxVersion}
}

// WithVersion sets the transaction version.
func WithVersion(version int32) Option {
	return func(o *options) {
		o.version = version
	}
}

// WithWitnessContract makes a fund transaction pay the contract's P2WSH
// script instead of its P2SH script.
func WithWitnessContract() Option {
	return func(o *options) {
		o.witness = true
	}
}

// WithSender overrides the sender identity a claim reads from the funding
// transaction's change output.
func WithSender(identity string) Option {
	return func(o *options) {
		o.sender = identity
	}
}

// WithRecipient sets the recipient identity of the contract a refund spends.
func WithRecipient(identity string) Option {
	return func(o *options) {
		o.recipient = identity
	}
}

// transaction holds the state common to every variant.
type transaction struct {
	kind    Kind
	network chain.Network
	version int32

	tx        *wire.MsgTx
	fee       uint64
	spent     []SpentOutput
	signed    bool
	sender    string
	recipient string

	log *logging.Logger
}

func newTransaction(kind Kind, network chain.Network, version int32) (transaction, error) {
	if _, ok := chain.Get(network); !ok {
		return transaction{}, fmt.Errorf("%w: unsupported network %q", ErrInvalidParameter, network)
	}
	if version < 1 {
		return transaction{}, fmt.Errorf("%w: transaction version %d", ErrInvalidParameter, version)
	}
	return transaction{
		kind:    kind,
		network: network,
		version: version,
		log:     logging.GetDefault().Component("swap"),
	}, nil
}

func (t *transaction) Kind() Kind             { return t.kind }
func (t *transaction) Network() chain.Network { return t.network }
func (t *transaction) Fee() uint64            { return t.fee }
func (t *transaction) Built() bool            { return t.tx != nil }
func (t *transaction) Signed() bool           { return t.signed }

// Type returns the envelope tag for the current state.
func (t *transaction) Type() Type {
	return TypeOf(t.kind, t.signed)
}

func (t *transaction) requireBuilt(op string) error {
	if t.tx == nil {
		return fmt.Errorf("%w: %s %s before BuildTransaction", ErrState, op, t.kind)
	}
	return nil
}

// MsgTx returns a copy of the transaction.
func (t *transaction) MsgTx() (*wire.MsgTx, error) {
	if err := t.requireBuilt("MsgTx"); err != nil {
		return nil, err
	}
	return t.tx.Copy(), nil
}

// Raw returns the hex serialization.
func (t *transaction) Raw() (string, error) {
	if err := t.requireBuilt("Raw"); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// ID returns the transaction id.
func (t *transaction) ID() (string, error) {
	if err := t.requireBuilt("ID"); err != nil {
		return "", err
	}
	return t.tx.TxHash().String(), nil
}

// ToEnvelope serializes the transaction and its metadata.
func (t *transaction) ToEnvelope() (string, error) {
	raw, err := t.Raw()
	if err != nil {
		return "", err
	}
	return Encode(&Envelope{
		Fee:              t.fee,
		Raw:              raw,
		Outputs:          t.spent,
		Type:             t.Type(),
		Network:          t.network,
		RecipientAddress: t.recipient,
		SenderAddress:    t.sender,
	})
}

// prevOutFetcher maps each input's outpoint to the output it spends.
func (t *transaction) prevOutFetcher() (*txscript.MultiPrevOutFetcher, error) {
	if len(t.spent) != len(t.tx.TxIn) {
		return nil, fmt.Errorf("%w: %d spent outputs for %d inputs", ErrState, len(t.spent), len(t.tx.TxIn))
	}
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range t.tx.TxIn {
		script, err := hex.DecodeString(t.spent[i].Script)
		if err != nil {
			return nil, fmt.Errorf("%w: spent output %d script: %v", ErrInvalidParameter, i, err)
		}
		fetcher.AddPrevOut(in.PreviousOutPoint, wire.NewTxOut(int64(t.spent[i].Amount), script))
	}
	return fetcher, nil
}

// sign runs solver over every input and attaches the results. Nothing is
// attached unless every input solves.
func (t *transaction) sign(solver Solver, want Branch, counterparty []byte) error {
	if err := t.requireBuilt("Sign"); err != nil {
		return err
	}
	if solver == nil || solver.Branch() != want {
		return fmt.Errorf("%w: %s transaction needs a %s solver", ErrInvalidParameter, t.kind, want)
	}

	fetcher, err := t.prevOutFetcher()
	if err != nil {
		return err
	}

	unsigned := t.tx.Copy()
	for _, in := range unsigned.TxIn {
		in.SignatureScript = nil
		in.Witness = nil
	}

	witnesses := make([]*Witness, len(unsigned.TxIn))
	for i, in := range unsigned.TxIn {
		w, err := solver.Solve(&Spend{
			Tx:           unsigned,
			Index:        i,
			PrevOut:      fetcher.FetchPrevOutput(in.PreviousOutPoint),
			PrevOuts:     fetcher,
			Network:      t.network,
			Counterparty: counterparty,
		})
		if err != nil {
			return err
		}
		witnesses[i] = w
	}

	for i, w := range witnesses {
		w.apply(unsigned.TxIn[i])
	}
	t.tx = unsigned
	t.signed = true

	t.log.Debug("Signed transaction",
		"kind", t.kind,
		"txid", t.tx.TxHash().String(),
		"inputs", len(t.tx.TxIn))
	return nil
}

// reset clears any previous build.
func (t *transaction) reset() {
	t.tx = nil
	t.fee = 0
	t.spent = nil
	t.signed = false
}

func parseTxID(txid string) (*chainhash.Hash, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil || len(txid) != chainhash.MaxHashStringSize {
		return nil, fmt.Errorf("%w: transaction id %q", ErrInvalidParameter, txid)
	}
	return hash, nil
}
