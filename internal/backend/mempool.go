package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MempoolBackend implements Backend using the mempool.space API.
// Compatible with mempool.space and self-hosted instances.
type MempoolBackend struct {
	baseURL    string
	httpClient *http.Client
}

// NewMempoolBackend creates a new mempool.space backend.
func NewMempoolBackend(baseURL string) *MempoolBackend {
	return &MempoolBackend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// Type returns TypeMempool.
func (m *MempoolBackend) Type() Type {
	return TypeMempool
}

// GetAddressUTXOs returns unspent outputs for an address.
// The endpoint does not report locking scripts, so ScriptPubKey is left empty.
func (m *MempoolBackend) GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var result []struct {
		TxID   string `json:"txid"`
		Vout   uint32 `json:"vout"`
		Status struct {
			Confirmed   bool  `json:"confirmed"`
			BlockHeight int64 `json:"block_height"`
		} `json:"status"`
		Value uint64 `json:"value"`
	}

	if err := m.get(ctx, "/address/"+address+"/utxo", ErrAddressNotFound, &result); err != nil {
		return nil, err
	}

	// Without a tip height every confirmed output counts as one confirmation.
	currentHeight, err := m.GetBlockHeight(ctx)
	if err != nil {
		currentHeight = 0
	}

	utxos := make([]UTXO, len(result))
	for i, u := range result {
		var confirmations int64
		if u.Status.Confirmed && u.Status.BlockHeight > 0 {
			confirmations = 1
			if currentHeight >= u.Status.BlockHeight {
				confirmations = currentHeight - u.Status.BlockHeight + 1
			}
		}
		utxos[i] = UTXO{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Amount:        u.Value,
			Confirmations: confirmations,
			BlockHeight:   u.Status.BlockHeight,
		}
	}

	return utxos, nil
}

// GetTransaction returns a transaction by ID.
func (m *MempoolBackend) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	var result mempoolTx
	if err := m.get(ctx, "/tx/"+txID, ErrTxNotFound, &result); err != nil {
		return nil, err
	}
	tx := convertTx(result)
	return &tx, nil
}

// BroadcastTransaction broadcasts a raw transaction and returns its txid.
func (m *MempoolBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/tx", strings.NewReader(rawTxHex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s", ErrBroadcastFailed, strings.TrimSpace(string(body)))
	}

	return strings.TrimSpace(string(body)), nil
}

// GetBlockHeight returns the current block height.
func (m *MempoolBackend) GetBlockHeight(ctx context.Context) (int64, error) {
	var height int64
	if err := m.get(ctx, "/blocks/tip/height", ErrNotConnected, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// get performs a GET request and decodes the JSON response.
// notFound is returned on a 404.
func (m *MempoolBackend) get(ctx context.Context, path string, notFound error, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return err
	}

	// Avoid stale CDN responses
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return notFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

type mempoolOutput struct {
	ScriptPubKey     string `json:"scriptpubkey"`
	ScriptPubKeyAsm  string `json:"scriptpubkey_asm"`
	ScriptPubKeyType string `json:"scriptpubkey_type"`
	ScriptPubKeyAddr string `json:"scriptpubkey_address"`
	Value            uint64 `json:"value"`
}

// mempoolTx is the mempool.space / Esplora transaction format.
type mempoolTx struct {
	TxID     string `json:"txid"`
	Version  int32  `json:"version"`
	LockTime uint32 `json:"locktime"`
	Size     int64  `json:"size"`
	Weight   int64  `json:"weight"`
	Fee      uint64 `json:"fee"`
	Status   struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight int64  `json:"block_height"`
		BlockHash   string `json:"block_hash"`
		BlockTime   int64  `json:"block_time"`
	} `json:"status"`
	Vin []struct {
		TxID         string   `json:"txid"`
		Vout         uint32   `json:"vout"`
		ScriptSig    string   `json:"scriptsig"`
		ScriptSigAsm string   `json:"scriptsig_asm"`
		Witness      []string `json:"witness"`
		Sequence     uint32   `json:"sequence"`
	} `json:"vin"`
	Vout []mempoolOutput `json:"vout"`
}

// convertTx converts the mempool format to Transaction.
func convertTx(mt mempoolTx) Transaction {
	tx := Transaction{
		TxID:        mt.TxID,
		Version:     mt.Version,
		Size:        mt.Size,
		Weight:      mt.Weight,
		VSize:       (mt.Weight + 3) / 4,
		LockTime:    mt.LockTime,
		Fee:         mt.Fee,
		Confirmed:   mt.Status.Confirmed,
		BlockHash:   mt.Status.BlockHash,
		BlockHeight: mt.Status.BlockHeight,
		Inputs:      make([]TxInput, len(mt.Vin)),
		Outputs:     make([]TxOutput, len(mt.Vout)),
	}

	for j, vin := range mt.Vin {
		tx.Inputs[j] = TxInput{
			TxID:         vin.TxID,
			Vout:         vin.Vout,
			ScriptSig:    vin.ScriptSig,
			ScriptSigAsm: vin.ScriptSigAsm,
			Witness:      vin.Witness,
			Sequence:     vin.Sequence,
		}
	}

	for j, vout := range mt.Vout {
		tx.Outputs[j] = TxOutput(vout)
	}

	return tx
}

// Ensure MempoolBackend implements Backend
var _ Backend = (*MempoolBackend)(nil)
