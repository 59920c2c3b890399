// Package backend provides ledger-state providers: fetching unspent outputs and
// transactions, decoding raw transactions and broadcasting signed ones.
// Nothing in this package handles private keys.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/klingon-exchange/klingon-htlc/internal/chain"
)

// Common errors
var (
	ErrNotConnected       = errors.New("backend not connected")
	ErrTxNotFound         = errors.New("transaction not found")
	ErrAddressNotFound    = errors.New("address not found")
	ErrInvalidResponse    = errors.New("invalid backend response")
	ErrBroadcastFailed    = errors.New("broadcast failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnsupportedBackend = errors.New("unsupported backend type")
	ErrDecodeUnsupported  = errors.New("backend cannot decode raw transactions")
)

// Type represents the backend type.
type Type string

const (
	TypeMempool Type = "mempool" // mempool.space API
	TypeEsplora Type = "esplora" // blockstream.info API
	TypeJSONRPC Type = "jsonrpc" // Bitcoin Core RPC
)

// UTXO represents an unspent transaction output.
type UTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Amount        uint64 `json:"value"`        // satoshis
	ScriptPubKey  string `json:"scriptpubkey"` // hex, may be empty when the provider omits it
	Confirmations int64  `json:"confirmations"`
	BlockHeight   int64  `json:"block_height,omitempty"`
}

// Transaction represents a transaction as reported by a provider.
type Transaction struct {
	TxID          string     `json:"txid"`
	Hash          string     `json:"hash,omitempty"`
	Version       int32      `json:"version"`
	Size          int64      `json:"size"`
	VSize         int64      `json:"vsize"`
	Weight        int64      `json:"weight"`
	LockTime      uint32     `json:"locktime"`
	Fee           uint64     `json:"fee"`
	Confirmed     bool       `json:"confirmed"`
	BlockHash     string     `json:"block_hash,omitempty"`
	BlockHeight   int64      `json:"block_height,omitempty"`
	Confirmations int64      `json:"confirmations"`
	Inputs        []TxInput  `json:"vin"`
	Outputs       []TxOutput `json:"vout"`
	Hex           string     `json:"hex,omitempty"`
}

// TxInput represents a transaction input.
type TxInput struct {
	TxID         string   `json:"txid"`
	Vout         uint32   `json:"vout"`
	ScriptSig    string   `json:"scriptsig,omitempty"`
	ScriptSigAsm string   `json:"scriptsig_asm,omitempty"`
	Witness      []string `json:"witness,omitempty"`
	Sequence     uint32   `json:"sequence"`
}

// TxOutput represents a transaction output.
type TxOutput struct {
	ScriptPubKey     string `json:"scriptpubkey"`
	ScriptPubKeyAsm  string `json:"scriptpubkey_asm,omitempty"`
	ScriptPubKeyType string `json:"scriptpubkey_type,omitempty"`
	ScriptPubKeyAddr string `json:"scriptpubkey_address,omitempty"`
	Value            uint64 `json:"value"`
}

// Backend defines the interface for ledger-state providers.
type Backend interface {
	// Type returns the backend type (mempool, esplora, jsonrpc).
	Type() Type

	GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error)
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error)
}

// Decoder is implemented by providers that can decode a raw transaction
// without it being known to the network.
type Decoder interface {
	DecodeRawTransaction(ctx context.Context, rawTxHex string) (*Transaction, error)
}

// Config contains backend configuration.
type Config struct {
	Type       Type   `yaml:"type"`
	MainnetURL string `yaml:"mainnet"`
	TestnetURL string `yaml:"testnet"`

	// For JSON-RPC (direct node)
	RPCUser string `yaml:"rpc_user,omitempty"`
	RPCPass string `yaml:"rpc_pass,omitempty"`

	Timeout int `yaml:"timeout,omitempty"` // seconds, default 30
}

// DefaultTimeout is used when Config.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// DefaultConfig returns the mempool.space preset.
func DefaultConfig() *Config {
	return &Config{
		Type:       TypeMempool,
		MainnetURL: "https://mempool.space/api",
		TestnetURL: "https://mempool.space/testnet/api",
		Timeout:    30,
	}
}

// EsploraConfig returns the blockstream.info preset.
func EsploraConfig() *Config {
	return &Config{
		Type:       TypeEsplora,
		MainnetURL: "https://blockstream.info/api",
		TestnetURL: "https://blockstream.info/testnet/api",
		Timeout:    30,
	}
}

// URL returns the endpoint for the given network.
func (c *Config) URL(network chain.Network) string {
	if network == chain.Testnet {
		return c.TestnetURL
	}
	return c.MainnetURL
}

// TimeoutDuration returns the request timeout.
func (c *Config) TimeoutDuration() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.Timeout) * time.Second
}

// New creates the backend described by cfg for network.
func New(cfg *Config, network chain.Network) (Backend, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	url := cfg.URL(network)
	if url == "" {
		return nil, fmt.Errorf("no %s endpoint configured for %s backend", network, cfg.Type)
	}

	switch cfg.Type {
	case TypeMempool, "":
		b := NewMempoolBackend(url)
		b.httpClient.Timeout = cfg.TimeoutDuration()
		return b, nil
	case TypeEsplora:
		b := NewEsploraBackend(url)
		b.httpClient.Timeout = cfg.TimeoutDuration()
		return b, nil
	case TypeJSONRPC:
		b := NewJSONRPCBackend(url, cfg.RPCUser, cfg.RPCPass)
		b.httpClient.Timeout = cfg.TimeoutDuration()
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Type)
	}
}

// SortOldestFirst orders utxos by age, most confirmations first, so that
// greedy selection over the result is reproducible. Unconfirmed outputs go last.
func SortOldestFirst(utxos []UTXO) {
	sort.SliceStable(utxos, func(i, j int) bool {
		a, b := utxos[i], utxos[j]
		if a.Confirmations != b.Confirmations {
			return a.Confirmations > b.Confirmations
		}
		if (a.BlockHeight == 0) != (b.BlockHeight == 0) {
			return a.BlockHeight != 0
		}
		return a.BlockHeight < b.BlockHeight
	})
}
