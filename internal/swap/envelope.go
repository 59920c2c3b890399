package swap

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/wallet"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

// Envelope is the portable form of a transaction exchanged between swap
// counterparties: base64 of this structure as JSON.
type Envelope struct {
	Fee              uint64        `json:"fee"`
	Raw              string        `json:"raw"`
	Outputs          []SpentOutput `json:"outputs"`
	Type             Type          `json:"type"`
	Network          chain.Network `json:"network"`
	RecipientAddress string        `json:"recipient_address,omitempty"`
	SenderAddress    string        `json:"sender_address,omitempty"`
}

// Encode serializes an envelope.
func Encode(env *Envelope) (string, error) {
	if env == nil || !env.Type.Valid() {
		return "", fmt.Errorf("%w: cannot encode envelope without a recognized type", ErrEnvelopeFormat)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode parses an envelope. It fails unless the type is one of the six
// recognized tags and the raw transaction is hex.
func Decode(s string) (*Envelope, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: not base64: %v", ErrEnvelopeFormat, err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: not JSON: %v", ErrEnvelopeFormat, err)
	}
	if !env.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrEnvelopeFormat, env.Type)
	}
	if env.Network, err = chain.ParseNetwork(string(env.Network)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvelopeFormat, err)
	}
	if _, err := hex.DecodeString(env.Raw); err != nil || env.Raw == "" {
		return nil, fmt.Errorf("%w: raw transaction is not hex", ErrEnvelopeFormat)
	}
	return &env, nil
}

// IsEnvelope reports whether s decodes as an envelope.
func IsEnvelope(s string) bool {
	_, err := Decode(s)
	return err == nil
}

// MsgTx deserializes the raw transaction.
func (e *Envelope) MsgTx() (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(e.Raw)
	if err != nil {
		return nil, fmt.Errorf("%w: raw transaction is not hex", ErrEnvelopeFormat)
	}
	tx := wire.NewMsgTx(DefaultTxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: raw transaction: %v", ErrEnvelopeFormat, err)
	}
	return tx, nil
}

// FromEnvelope restores a built builder from an envelope, so an unsigned
// transaction prepared elsewhere can be signed locally. The result cannot
// be rebuilt, only signed and serialized.
func FromEnvelope(s string) (Transaction, error) {
	env, err := Decode(s)
	if err != nil {
		return nil, err
	}
	tx, err := env.MsgTx()
	if err != nil {
		return nil, err
	}
	if len(env.Outputs) != len(tx.TxIn) {
		return nil, fmt.Errorf("%w: %d spent outputs for %d inputs", ErrEnvelopeFormat, len(env.Outputs), len(tx.TxIn))
	}

	base := transaction{
		kind:      env.Type.Kind(),
		network:   env.Network,
		version:   tx.Version,
		tx:        tx,
		fee:       env.Fee,
		spent:     env.Outputs,
		signed:    env.Type.Signed(),
		sender:    env.SenderAddress,
		recipient: env.RecipientAddress,
		log:       logging.GetDefault().Component("swap"),
	}

	if base.kind == KindFund {
		f := &FundTransaction{transaction: base}
		if len(tx.TxOut) > contractVout {
			f.amount = uint64(tx.TxOut[contractVout].Value)
		}
		return f, nil
	}

	if len(tx.TxIn) != 1 {
		return nil, fmt.Errorf("%w: %s spends %d inputs, want 1", ErrEnvelopeFormat, base.kind, len(tx.TxIn))
	}
	pkScript, err := hex.DecodeString(env.Outputs[0].Script)
	if err != nil {
		return nil, fmt.Errorf("%w: spent output script is not hex", ErrEnvelopeFormat)
	}
	recipientHash, err := wallet.IdentityHash160(env.RecipientAddress, env.Network)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient_address: %v", ErrEnvelopeFormat, err)
	}
	senderHash, err := wallet.IdentityHash160(env.SenderAddress, env.Network)
	if err != nil {
		return nil, fmt.Errorf("%w: sender_address: %v", ErrEnvelopeFormat, err)
	}

	spend := &contractSpend{
		transaction:   base,
		outpoint:      tx.TxIn[0].PreviousOutPoint,
		value:         env.Outputs[0].Amount,
		pkScript:      pkScript,
		recipientHash: recipientHash,
		senderHash:    senderHash,
	}
	if base.kind == KindClaim {
		return &ClaimTransaction{contractSpend: spend}, nil
	}
	return &RefundTransaction{contractSpend: spend}, nil
}
