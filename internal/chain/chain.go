// Package chain defines Bitcoin network parameters used for address encoding,
// key serialization and HD derivation.
package chain

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// Network represents mainnet or testnet.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// ParseNetwork converts a user supplied network name into a Network.
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "main", "":
		return Mainnet, nil
	case "testnet", "test", "testnet3":
		return Testnet, nil
	default:
		return "", fmt.Errorf("unknown network %q, expected mainnet or testnet", s)
	}
}

// AddressType represents the address encoding format.
type AddressType string

const (
	AddressP2PKH  AddressType = "p2pkh"  // Legacy (1... / m... n...)
	AddressP2SH   AddressType = "p2sh"   // Script hash (3... / 2...)
	AddressP2WPKH AddressType = "p2wpkh" // Native SegWit (bc1q... / tb1q...)
	AddressP2WSH  AddressType = "p2wsh"  // SegWit script (bc1q... / tb1q...)
)

// Params contains all parameters for a Bitcoin network.
type Params struct {
	Name     string
	Network  Network
	Decimals uint8

	// BIP44 derivation
	CoinType       uint32
	DefaultPurpose uint32

	PubKeyHashAddrID byte   // Address prefix for P2PKH
	ScriptHashAddrID byte   // Address prefix for P2SH
	Bech32HRP        string // Bech32 human-readable prefix
	WIF              byte   // Private key prefix

	// BIP32 HD key magic bytes
	HDPrivateKeyID [4]byte
	HDPublicKeyID  [4]byte

	DefaultAddressType AddressType
}

// DerivationPath returns the BIP44 derivation path for this network.
// Format: m/purpose'/coin'/account'/change/index
func (p *Params) DerivationPath(account, change, index uint32) []uint32 {
	return []uint32{
		p.DefaultPurpose + 0x80000000, // purpose' (hardened)
		p.CoinType + 0x80000000,       // coin_type' (hardened)
		account + 0x80000000,          // account' (hardened)
		change,                        // change (0=external, 1=internal)
		index,                         // address_index
	}
}

// DerivationPathString returns the derivation path as a string.
func (p *Params) DerivationPathString(account, change, index uint32) string {
	return fmt.Sprintf("m/%d'/%d'/%d'/%d/%d", p.DefaultPurpose, p.CoinType, account, change, index)
}

// ChainConfig returns the btcd parameters matching this network.
func (p *Params) ChainConfig() *chaincfg.Params {
	if p.Network == Testnet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

var registry = map[Network]*Params{
	Mainnet: {
		Name:     "Bitcoin",
		Network:  Mainnet,
		Decimals: 8,

		CoinType:       0,
		DefaultPurpose: 44,

		PubKeyHashAddrID: 0x00, // 1...
		ScriptHashAddrID: 0x05, // 3...
		Bech32HRP:        "bc",
		WIF:              0x80,

		HDPrivateKeyID: [4]byte{0x04, 0x88, 0xad, 0xe4}, // xprv
		HDPublicKeyID:  [4]byte{0x04, 0x88, 0xb2, 0x1e}, // xpub

		DefaultAddressType: AddressP2PKH,
	},
	Testnet: {
		Name:     "Bitcoin Testnet",
		Network:  Testnet,
		Decimals: 8,

		// Testnet uses coin type 1 for all coins
		CoinType:       1,
		DefaultPurpose: 44,

		PubKeyHashAddrID: 0x6F, // m or n
		ScriptHashAddrID: 0xC4, // 2...
		Bech32HRP:        "tb",
		WIF:              0xEF,

		HDPrivateKeyID: [4]byte{0x04, 0x35, 0x83, 0x94}, // tprv
		HDPublicKeyID:  [4]byte{0x04, 0x35, 0x87, 0xcf}, // tpub

		DefaultAddressType: AddressP2PKH,
	},
}

// Get returns params for a network.
func Get(network Network) (*Params, bool) {
	params, ok := registry[network]
	return params, ok
}

// MustGet returns params for a network and panics on an unknown network.
// Only use it with the Mainnet and Testnet constants.
func MustGet(network Network) *Params {
	params, ok := registry[network]
	if !ok {
		panic("chain: unknown network " + string(network))
	}
	return params
}

// ChainConfig resolves a network straight to btcd parameters.
func ChainConfig(network Network) (*chaincfg.Params, error) {
	params, ok := Get(network)
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	return params.ChainConfig(), nil
}
