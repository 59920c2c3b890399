package wallet

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
)

// ParseAddress decodes an address and checks it belongs to network.
func ParseAddress(address string, network chain.Network) (btcutil.Address, chain.AddressType, error) {
	cfg, err := chain.ChainConfig(network)
	if err != nil {
		return nil, "", err
	}

	decoded, err := btcutil.DecodeAddress(address, cfg)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode address: %w", err)
	}
	if !decoded.IsForNet(cfg) {
		return nil, "", fmt.Errorf("address %s is not a %s address", address, network)
	}

	var addrType chain.AddressType
	switch decoded.(type) {
	case *btcutil.AddressPubKeyHash:
		addrType = chain.AddressP2PKH
	case *btcutil.AddressScriptHash:
		addrType = chain.AddressP2SH
	case *btcutil.AddressWitnessPubKeyHash:
		addrType = chain.AddressP2WPKH
	case *btcutil.AddressWitnessScriptHash:
		addrType = chain.AddressP2WSH
	default:
		return nil, "", fmt.Errorf("unsupported address type %T", decoded)
	}

	return decoded, addrType, nil
}

// IdentityHash160 resolves a counterparty identity to the 20-byte key hash
// the contract commits to. The identity may be a P2PKH address, a P2WPKH
// address or a hex-encoded public key.
func IdentityHash160(identity string, network chain.Network) ([]byte, error) {
	if raw, err := hex.DecodeString(identity); err == nil && (len(raw) == 33 || len(raw) == 65) {
		pubKey, err := btcec.ParsePubKey(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid public key: %w", err)
		}
		return btcutil.Hash160(pubKey.SerializeCompressed()), nil
	}

	addr, addrType, err := ParseAddress(identity, network)
	if err != nil {
		return nil, err
	}
	switch addrType {
	case chain.AddressP2PKH, chain.AddressP2WPKH:
		return addr.ScriptAddress(), nil
	default:
		return nil, fmt.Errorf("%s address %s does not identify a single key", addrType, identity)
	}
}

// IdentityAddress returns the P2PKH address for a 20-byte key hash.
func IdentityAddress(pubKeyHash []byte, network chain.Network) (string, error) {
	cfg, err := chain.ChainConfig(network)
	if err != nil {
		return "", err
	}
	addr, err := btcutil.NewAddressPubKeyHash(pubKeyHash, cfg)
	if err != nil {
		return "", fmt.Errorf("failed to create P2PKH address: %w", err)
	}
	return addr.EncodeAddress(), nil
}
