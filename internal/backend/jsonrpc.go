package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/google/uuid"
)

// Bitcoin Core RPC error codes this package maps to sentinels.
const (
	rpcInvalidAddressOrKey = -5
	rpcDeserializationErr  = -22
	rpcVerifyRejected      = -26
)

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// JSONRPCBackend implements Backend and Decoder against a Bitcoin Core node.
type JSONRPCBackend struct {
	rpcURL     string
	rpcUser    string
	rpcPass    string
	httpClient *http.Client
}

// NewJSONRPCBackend creates a new JSON-RPC backend.
func NewJSONRPCBackend(rpcURL, user, pass string) *JSONRPCBackend {
	return &JSONRPCBackend{
		rpcURL:  rpcURL,
		rpcUser: user,
		rpcPass: pass,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// Type returns TypeJSONRPC.
func (j *JSONRPCBackend) Type() Type {
	return TypeJSONRPC
}

// GetAddressUTXOs scans the UTXO set for address. The first call on a node
// can take minutes; Bitcoin Core caches subsequent scans.
func (j *JSONRPCBackend) GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	result, err := j.call(ctx, "scantxoutset", "start", []string{"addr(" + address + ")"})
	if err != nil {
		return nil, err
	}

	var scan struct {
		Success bool  `json:"success"`
		Height  int64 `json:"height"`
		Unspent []struct {
			TxID         string  `json:"txid"`
			Vout         uint32  `json:"vout"`
			ScriptPubKey string  `json:"scriptPubKey"`
			Amount       float64 `json:"amount"`
			Height       int64   `json:"height"`
		} `json:"unspents"`
	}
	if err := json.Unmarshal(result, &scan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !scan.Success {
		return nil, fmt.Errorf("%w: scantxoutset did not complete", ErrInvalidResponse)
	}

	utxos := make([]UTXO, len(scan.Unspent))
	for i, u := range scan.Unspent {
		amount, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: amount %v: %v", ErrInvalidResponse, u.Amount, err)
		}
		var confirmations int64
		if u.Height > 0 && scan.Height >= u.Height {
			confirmations = scan.Height - u.Height + 1
		}
		utxos[i] = UTXO{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Amount:        uint64(amount),
			ScriptPubKey:  u.ScriptPubKey,
			Confirmations: confirmations,
			BlockHeight:   u.Height,
		}
	}

	return utxos, nil
}

// GetTransaction returns a verbose transaction. Requires -txindex for
// transactions not in the node's wallet or mempool.
func (j *JSONRPCBackend) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	result, err := j.call(ctx, "getrawtransaction", txID, true)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == rpcInvalidAddressOrKey {
			return nil, fmt.Errorf("%w: %s", ErrTxNotFound, rpcErr.Message)
		}
		return nil, err
	}
	return parseVerboseTx(result)
}

// DecodeRawTransaction asks the node to decode rawTxHex.
func (j *JSONRPCBackend) DecodeRawTransaction(ctx context.Context, rawTxHex string) (*Transaction, error) {
	result, err := j.call(ctx, "decoderawtransaction", rawTxHex)
	if err != nil {
		return nil, err
	}
	tx, err := parseVerboseTx(result)
	if err != nil {
		return nil, err
	}
	tx.Hex = rawTxHex
	return tx, nil
}

// BroadcastTransaction submits a signed transaction to the node's mempool.
func (j *JSONRPCBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	result, err := j.call(ctx, "sendrawtransaction", rawTxHex)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && (rpcErr.Code == rpcVerifyRejected || rpcErr.Code == rpcDeserializationErr) {
			return "", fmt.Errorf("%w: %s", ErrBroadcastFailed, rpcErr.Message)
		}
		return "", err
	}

	var txID string
	if err := json.Unmarshal(result, &txID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return txID, nil
}

// GetBlockHeight returns the current block height.
func (j *JSONRPCBackend) GetBlockHeight(ctx context.Context) (int64, error) {
	result, err := j.call(ctx, "getblockcount")
	if err != nil {
		return 0, err
	}

	var height int64
	if err := json.Unmarshal(result, &height); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return height, nil
}

// verboseTx is the shape shared by getrawtransaction (verbose) and decoderawtransaction.
type verboseTx struct {
	TxID          string `json:"txid"`
	Hash          string `json:"hash"`
	Version       int32  `json:"version"`
	Size          int64  `json:"size"`
	VSize         int64  `json:"vsize"`
	Weight        int64  `json:"weight"`
	LockTime      uint32 `json:"locktime"`
	Hex           string `json:"hex"`
	BlockHash     string `json:"blockhash"`
	Confirmations int64  `json:"confirmations"`
	Vin           []struct {
		TxID      string `json:"txid"`
		Vout      uint32 `json:"vout"`
		ScriptSig *struct {
			Asm string `json:"asm"`
			Hex string `json:"hex"`
		} `json:"scriptSig"`
		TxInWitness []string `json:"txinwitness"`
		Sequence    uint32   `json:"sequence"`
	} `json:"vin"`
	Vout []struct {
		Value        float64 `json:"value"`
		N            uint32  `json:"n"`
		ScriptPubKey struct {
			Asm     string `json:"asm"`
			Hex     string `json:"hex"`
			Type    string `json:"type"`
			Address string `json:"address"`
		} `json:"scriptPubKey"`
	} `json:"vout"`
}

func parseVerboseTx(raw json.RawMessage) (*Transaction, error) {
	var vt verboseTx
	if err := json.Unmarshal(raw, &vt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	tx := &Transaction{
		TxID:          vt.TxID,
		Hash:          vt.Hash,
		Version:       vt.Version,
		Size:          vt.Size,
		VSize:         vt.VSize,
		Weight:        vt.Weight,
		LockTime:      vt.LockTime,
		Hex:           vt.Hex,
		BlockHash:     vt.BlockHash,
		Confirmations: vt.Confirmations,
		Confirmed:     vt.Confirmations > 0,
		Inputs:        make([]TxInput, len(vt.Vin)),
		Outputs:       make([]TxOutput, len(vt.Vout)),
	}

	for i, in := range vt.Vin {
		input := TxInput{
			TxID:     in.TxID,
			Vout:     in.Vout,
			Witness:  in.TxInWitness,
			Sequence: in.Sequence,
		}
		if in.ScriptSig != nil {
			input.ScriptSig = in.ScriptSig.Hex
			input.ScriptSigAsm = in.ScriptSig.Asm
		}
		tx.Inputs[i] = input
	}

	for i, out := range vt.Vout {
		amount, err := btcutil.NewAmount(out.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: output %d value: %v", ErrInvalidResponse, i, err)
		}
		tx.Outputs[i] = TxOutput{
			ScriptPubKey:     out.ScriptPubKey.Hex,
			ScriptPubKeyAsm:  out.ScriptPubKey.Asm,
			ScriptPubKeyType: out.ScriptPubKey.Type,
			ScriptPubKeyAddr: out.ScriptPubKey.Address,
			Value:            uint64(amount),
		}
	}

	return tx, nil
}

func (j *JSONRPCBackend) call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	id := uuid.NewString()

	data, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "1.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.rpcURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if j.rpcUser != "" {
		req.SetBasicAuth(j.rpcUser, j.rpcPass)
	}

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: unauthorized", ErrNotConnected)
	}

	// Bitcoin Core answers RPC errors with HTTP 500 and a JSON body.
	var response struct {
		ID     string          `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if response.Error != nil {
		return nil, response.Error
	}
	if response.ID != id {
		return nil, fmt.Errorf("%w: response id %q does not match request %q", ErrInvalidResponse, response.ID, id)
	}

	return response.Result, nil
}

// Ensure JSONRPCBackend implements Backend and Decoder
var (
	_ Backend = (*JSONRPCBackend)(nil)
	_ Decoder = (*JSONRPCBackend)(nil)
)
