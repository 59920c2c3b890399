// Package wallet provides the single-key signing identity used to fund and
// redeem contracts. Keys come from WIF, raw hex or a BIP39 mnemonic (BIP44 path).
package wallet

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/internal/chain"
)

// UTXOFetcher is the part of a backend the wallet needs to list its coins.
type UTXOFetcher interface {
	GetAddressUTXOs(ctx context.Context, address string) ([]backend.UTXO, error)
}

// Wallet is one private key on one network, with an ordinary address.
type Wallet struct {
	network  chain.Network
	params   *chain.Params
	privKey  *btcec.PrivateKey
	addrType chain.AddressType
	path     string
	address  btcutil.Address
}

// Option configures a Wallet.
type Option func(*Wallet)

// WithAddressType selects the wallet's receiving address encoding.
// Only p2pkh and p2wpkh are supported.
func WithAddressType(t chain.AddressType) Option {
	return func(w *Wallet) {
		w.addrType = t
	}
}

// New creates a wallet around an existing private key.
func New(privKey *btcec.PrivateKey, network chain.Network, opts ...Option) (*Wallet, error) {
	if privKey == nil {
		return nil, fmt.Errorf("private key is required")
	}
	params, ok := chain.Get(network)
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}

	w := &Wallet{
		network:  network,
		params:   params,
		privKey:  privKey,
		addrType: params.DefaultAddressType,
	}
	for _, opt := range opts {
		opt(w)
	}

	pubKeyHash := btcutil.Hash160(privKey.PubKey().SerializeCompressed())
	var err error
	switch w.addrType {
	case chain.AddressP2PKH:
		w.address, err = btcutil.NewAddressPubKeyHash(pubKeyHash, params.ChainConfig())
	case chain.AddressP2WPKH:
		w.address, err = btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params.ChainConfig())
	default:
		return nil, fmt.Errorf("unsupported wallet address type: %s", w.addrType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s address: %w", w.addrType, err)
	}

	return w, nil
}

// FromWIF creates a wallet from a Wallet Import Format key.
// The WIF must belong to network.
func FromWIF(wifStr string, network chain.Network, opts ...Option) (*Wallet, error) {
	params, ok := chain.Get(network)
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode WIF: %w", err)
	}
	if !wif.IsForNet(params.ChainConfig()) {
		return nil, fmt.Errorf("WIF is for a different network than %s", network)
	}
	return New(wif.PrivKey, network, opts...)
}

// FromPrivateKeyHex creates a wallet from a 32-byte hex private key.
func FromPrivateKeyHex(keyHex string, network chain.Network, opts ...Option) (*Wallet, error) {
	b, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}

	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(b); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("private key is outside the curve order")
	}
	return New(secp256k1.NewPrivateKey(&scalar), network, opts...)
}

// GenerateMnemonic generates a new 24-word BIP39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks if a mnemonic is valid.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// FromMnemonic derives the key at m/44'/coin'/account'/0/index.
// The passphrase is optional (can be empty string).
func FromMnemonic(mnemonic, passphrase string, network chain.Network, account, index uint32, opts ...Option) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	params, ok := chain.Get(network)
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	key, err := hdkeychain.NewMaster(seed, params.ChainConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	for _, child := range params.DerivationPath(account, 0, index) {
		key, err = key.Derive(child)
		if err != nil {
			return nil, fmt.Errorf("failed to derive %s: %w", params.DerivationPathString(account, 0, index), err)
		}
	}

	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}

	w, err := New(privKey, network, opts...)
	if err != nil {
		return nil, err
	}
	w.path = params.DerivationPathString(account, 0, index)
	return w, nil
}

// Network returns the wallet's network.
func (w *Wallet) Network() chain.Network {
	return w.network
}

// Params returns the network parameters.
func (w *Wallet) Params() *chain.Params {
	return w.params
}

// PrivateKey returns the signing key.
func (w *Wallet) PrivateKey() *btcec.PrivateKey {
	return w.privKey
}

// PublicKey returns the compressed public key bytes.
func (w *Wallet) PublicKey() []byte {
	return w.privKey.PubKey().SerializeCompressed()
}

// PublicKeyHex returns the compressed public key as hex.
func (w *Wallet) PublicKeyHex() string {
	return hex.EncodeToString(w.PublicKey())
}

// Hash160 returns RIPEMD160(SHA256(pubkey)).
func (w *Wallet) Hash160() []byte {
	return btcutil.Hash160(w.PublicKey())
}

// Address returns the encoded receiving address.
func (w *Wallet) Address() string {
	return w.address.EncodeAddress()
}

// AddressType returns the receiving address encoding.
func (w *Wallet) AddressType() chain.AddressType {
	return w.addrType
}

// DerivationPath returns the BIP44 path, or "" for imported keys.
func (w *Wallet) DerivationPath() string {
	return w.path
}

// WIF returns the compressed WIF encoding of the private key.
func (w *Wallet) WIF() (string, error) {
	wif, err := btcutil.NewWIF(w.privKey, w.params.ChainConfig(), true)
	if err != nil {
		return "", fmt.Errorf("failed to create WIF: %w", err)
	}
	return wif.String(), nil
}

// PkScript returns the locking script paying to the wallet address.
func (w *Wallet) PkScript() []byte {
	script, err := txscript.PayToAddrScript(w.address)
	if err != nil {
		// Only reachable for address types New rejects.
		panic(fmt.Sprintf("wallet: pay-to-address script: %v", err))
	}
	return script
}

// Unspent lists the wallet's unspent outputs, oldest first. Outputs the
// provider reported without a locking script get the wallet's own script.
func (w *Wallet) Unspent(ctx context.Context, fetcher UTXOFetcher) ([]backend.UTXO, error) {
	utxos, err := fetcher.GetAddressUTXOs(ctx, w.Address())
	if err != nil {
		return nil, err
	}

	script := hex.EncodeToString(w.PkScript())
	for i := range utxos {
		if utxos[i].ScriptPubKey == "" {
			utxos[i].ScriptPubKey = script
		}
	}
	backend.SortOldestFirst(utxos)
	return utxos, nil
}
