// Package swap builds, signs and serializes hash time-locked contract
// transactions: funding a contract address, claiming it with the secret,
// and refunding it after the relative timeout.
package swap

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/wallet"
	"github.com/klingon-exchange/klingon-htlc/pkg/helpers"
)

const (
	// SecretSize is the length of a secret and of its SHA256 hash.
	SecretSize = 32

	// MaxTimeout is the largest block-based relative lock BIP68 can express.
	MaxTimeout = 0xFFFF
)

// Contract is a derived HTLC locking script. Build it with BuildContract or
// NewContract; every field is a pure function of the constructor inputs.
type Contract struct {
	SecretHash    []byte // SHA256 of the secret
	RecipientHash []byte // hash160 of the key that claims with the secret
	SenderHash    []byte // hash160 of the key that refunds after the timeout
	Timeout       uint32 // relative lock in blocks
	Network       chain.Network

	script         []byte
	address        string
	witnessAddress string
}

// BuildContract derives the contract for two counterparty identities. An
// identity is a P2PKH address, a P2WPKH address or a hex public key.
func BuildContract(secretHash []byte, recipient, sender string, timeout uint32, network chain.Network) (*Contract, error) {
	recipientHash, err := wallet.IdentityHash160(recipient, network)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient: %v", ErrInvalidParameter, err)
	}
	senderHash, err := wallet.IdentityHash160(sender, network)
	if err != nil {
		return nil, fmt.Errorf("%w: sender: %v", ErrInvalidParameter, err)
	}
	return NewContract(secretHash, recipientHash, senderHash, timeout, network)
}

// NewContract derives the contract from already-resolved key hashes.
func NewContract(secretHash, recipientHash, senderHash []byte, timeout uint32, network chain.Network) (*Contract, error) {
	cfg, err := chain.ChainConfig(network)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}

	script, err := BuildContractScript(secretHash, recipientHash, senderHash, timeout)
	if err != nil {
		return nil, err
	}

	p2sh, err := btcutil.NewAddressScriptHash(script, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create P2SH address: %w", err)
	}
	scriptHash := sha256.Sum256(script)
	p2wsh, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create P2WSH address: %w", err)
	}

	return &Contract{
		SecretHash:     bytes.Clone(secretHash),
		RecipientHash:  bytes.Clone(recipientHash),
		SenderHash:     bytes.Clone(senderHash),
		Timeout:        timeout,
		Network:        network,
		script:         script,
		address:        p2sh.EncodeAddress(),
		witnessAddress: p2wsh.EncodeAddress(),
	}, nil
}

// BuildContractScript creates the HTLC script.
//
// Script structure:
//
//	OP_IF
//	    OP_SHA256 <secret_hash> OP_EQUALVERIFY
//	    OP_DUP OP_HASH160 <recipient_hash> OP_EQUALVERIFY OP_CHECKSIG
//	OP_ELSE
//	    <timeout> OP_CHECKSEQUENCEVERIFY OP_DROP
//	    OP_DUP OP_HASH160 <sender_hash> OP_EQUALVERIFY OP_CHECKSIG
//	OP_ENDIF
//
// Claim path (OP_IF branch): secret + recipient signature
// Refund path (OP_ELSE branch): sender signature once the input's
// sequence reaches the timeout
func BuildContractScript(secretHash, recipientHash, senderHash []byte, timeout uint32) ([]byte, error) {
	if len(secretHash) != SecretSize {
		return nil, fmt.Errorf("%w: secret hash must be %d bytes, got %d", ErrInvalidParameter, SecretSize, len(secretHash))
	}
	if len(recipientHash) != 20 {
		return nil, fmt.Errorf("%w: recipient hash must be 20 bytes, got %d", ErrInvalidParameter, len(recipientHash))
	}
	if len(senderHash) != 20 {
		return nil, fmt.Errorf("%w: sender hash must be 20 bytes, got %d", ErrInvalidParameter, len(senderHash))
	}
	if timeout > MaxTimeout {
		return nil, fmt.Errorf("%w: timeout %d exceeds maximum relative lock (%d)", ErrInvalidParameter, timeout, MaxTimeout)
	}

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(secretHash)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(recipientHash)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_CHECKSIG)

	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(int64(timeout))
	builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(senderHash)
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_CHECKSIG)

	builder.AddOp(txscript.OP_ENDIF)

	return builder.Script()
}

// ParseContract recovers a contract from its script. The script must be
// exactly what BuildContractScript produces for the recovered values.
func ParseContract(script []byte, network chain.Network) (*Contract, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)

	expect := func(op byte) error {
		if !tokenizer.Next() || tokenizer.Opcode() != op {
			return fmt.Errorf("%w: expected %s", ErrInvalidParameter, opName(op))
		}
		return nil
	}
	push := func(what string, size int) ([]byte, error) {
		if !tokenizer.Next() || len(tokenizer.Data()) != size {
			return nil, fmt.Errorf("%w: expected %d-byte %s", ErrInvalidParameter, size, what)
		}
		return tokenizer.Data(), nil
	}

	if err := expect(txscript.OP_IF); err != nil {
		return nil, err
	}
	if err := expect(txscript.OP_SHA256); err != nil {
		return nil, err
	}
	secretHash, err := push("secret hash", SecretSize)
	if err != nil {
		return nil, err
	}
	for _, op := range []byte{txscript.OP_EQUALVERIFY, txscript.OP_DUP, txscript.OP_HASH160} {
		if err := expect(op); err != nil {
			return nil, err
		}
	}
	recipientHash, err := push("recipient hash", 20)
	if err != nil {
		return nil, err
	}
	for _, op := range []byte{txscript.OP_EQUALVERIFY, txscript.OP_CHECKSIG, txscript.OP_ELSE} {
		if err := expect(op); err != nil {
			return nil, err
		}
	}

	if !tokenizer.Next() {
		return nil, fmt.Errorf("%w: expected timeout", ErrInvalidParameter)
	}
	timeout, err := parseTimeout(tokenizer.Opcode(), tokenizer.Data())
	if err != nil {
		return nil, err
	}

	for _, op := range []byte{txscript.OP_CHECKSEQUENCEVERIFY, txscript.OP_DROP, txscript.OP_DUP, txscript.OP_HASH160} {
		if err := expect(op); err != nil {
			return nil, err
		}
	}
	senderHash, err := push("sender hash", 20)
	if err != nil {
		return nil, err
	}
	for _, op := range []byte{txscript.OP_EQUALVERIFY, txscript.OP_CHECKSIG, txscript.OP_ENDIF} {
		if err := expect(op); err != nil {
			return nil, err
		}
	}
	if tokenizer.Next() || tokenizer.Err() != nil {
		return nil, fmt.Errorf("%w: trailing data after OP_ENDIF", ErrInvalidParameter)
	}

	c, err := NewContract(secretHash, recipientHash, senderHash, timeout, network)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(c.script, script) {
		return nil, fmt.Errorf("%w: non-canonical contract encoding", ErrInvalidParameter)
	}
	return c, nil
}

// IsContractScript reports whether script is a well-formed HTLC script.
func IsContractScript(script []byte) bool {
	_, err := ParseContract(script, chain.Mainnet)
	return err == nil
}

// parseTimeout decodes a small-int opcode or a minimal script number push.
func parseTimeout(op byte, data []byte) (uint32, error) {
	if txscript.IsSmallInt(op) {
		return uint32(txscript.AsSmallInt(op)), nil
	}
	if len(data) == 0 || len(data) > 3 {
		return 0, fmt.Errorf("%w: invalid timeout push", ErrInvalidParameter)
	}
	if data[len(data)-1]&0x80 != 0 {
		return 0, fmt.Errorf("%w: negative timeout", ErrInvalidParameter)
	}
	var timeout uint32
	for i, b := range data {
		timeout |= uint32(b) << (8 * i)
	}
	return timeout, nil
}

func opName(op byte) string {
	name, err := txscript.DisasmString([]byte{op})
	if err != nil {
		return fmt.Sprintf("opcode 0x%02x", op)
	}
	return name
}

// Script returns a copy of the script bytes.
func (c *Contract) Script() []byte {
	return bytes.Clone(c.script)
}

// Hex returns the script as a hex string.
func (c *Contract) Hex() string {
	return hex.EncodeToString(c.script)
}

// Opcode returns the script disassembly.
func (c *Contract) Opcode() string {
	asm, _ := txscript.DisasmString(c.script)
	return asm
}

// Hash returns hash160 of the script, the P2SH commitment.
func (c *Contract) Hash() []byte {
	return btcutil.Hash160(c.script)
}

// WitnessHash returns SHA256 of the script, the P2WSH commitment.
func (c *Contract) WitnessHash() []byte {
	h := sha256.Sum256(c.script)
	return h[:]
}

// Address returns the P2SH address of the contract.
func (c *Contract) Address() string {
	return c.address
}

// WitnessAddress returns the P2WSH address of the contract.
func (c *Contract) WitnessAddress() string {
	return c.witnessAddress
}

// PkScript returns the P2SH locking script: OP_HASH160 <hash> OP_EQUAL.
func (c *Contract) PkScript() []byte {
	script, _ := txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(c.Hash()).
		AddOp(txscript.OP_EQUAL).
		Script()
	return script
}

// WitnessPkScript returns the P2WSH locking script: OP_0 <sha256>.
func (c *Contract) WitnessPkScript() []byte {
	script, _ := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(c.WitnessHash()).
		Script()
	return script
}

// Locks reports whether pkScript pays to this contract, either form.
func (c *Contract) Locks(pkScript []byte) bool {
	return bytes.Equal(pkScript, c.PkScript()) || bytes.Equal(pkScript, c.WitnessPkScript())
}

// RecipientAddress returns the P2PKH address of the recipient key hash.
func (c *Contract) RecipientAddress() string {
	addr, _ := wallet.IdentityAddress(c.RecipientHash, c.Network)
	return addr
}

// SenderAddress returns the P2PKH address of the sender key hash.
func (c *Contract) SenderAddress() string {
	addr, _ := wallet.IdentityAddress(c.SenderHash, c.Network)
	return addr
}

// GenerateSecret generates a cryptographically secure 32-byte secret
// and returns both the secret and its SHA256 hash.
func GenerateSecret() (secret, hash []byte, err error) {
	secret, err = helpers.GenerateSecureRandom(SecretSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	return secret, SecretHash(secret), nil
}

// SecretHash returns SHA256(secret).
func SecretHash(secret []byte) []byte {
	h := sha256.Sum256(secret)
	return h[:]
}

// VerifySecret checks if a secret matches the expected hash.
func VerifySecret(secret, expectedHash []byte) bool {
	if len(secret) != SecretSize || len(expectedHash) != SecretSize {
		return false
	}
	return helpers.ConstantTimeCompare(SecretHash(secret), expectedHash)
}
