package swap

import (
	"context"
	"encoding/hex"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/pkg/helpers"
)

// Decoded is the human-readable form of an envelope.
type Decoded struct {
	Fee     uint64        `json:"fee"`
	Type    Type          `json:"type"`
	Network chain.Network `json:"network"`
	Tx      *TxView       `json:"tx"`
}

// TxView mirrors Bitcoin Core's decoderawtransaction output.
type TxView struct {
	TxID     string     `json:"txid"`
	Hash     string     `json:"hash"`
	Version  int32      `json:"version"`
	Size     int64      `json:"size"`
	VSize    int64      `json:"vsize"`
	Weight   int64      `json:"weight"`
	LockTime uint32     `json:"locktime"`
	Vin      []VinView  `json:"vin"`
	Vout     []VoutView `json:"vout"`
}

type VinView struct {
	TxID      string        `json:"txid"`
	Vout      uint32        `json:"vout"`
	ScriptSig ScriptSigView `json:"scriptSig"`
	Witness   []string      `json:"txinwitness,omitempty"`
	Sequence  uint32        `json:"sequence"`
}

type ScriptSigView struct {
	Asm string `json:"asm"`
	Hex string `json:"hex"`
}

type VoutView struct {
	Value        string           `json:"value"`
	N            uint32           `json:"n"`
	ScriptPubKey ScriptPubKeyView `json:"scriptPubKey"`
}

type ScriptPubKeyView struct {
	Asm     string `json:"asm"`
	Hex     string `json:"hex"`
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
}

// DecodeTransaction decodes an envelope and its transaction. With a nil
// decoder the transaction is deserialized locally; otherwise the provider
// decodes it. Script types and addresses are always derived locally so
// both paths agree.
func DecodeTransaction(ctx context.Context, envelope string, decoder backend.Decoder) (*Decoded, error) {
	env, err := Decode(envelope)
	if err != nil {
		return nil, err
	}

	var view *TxView
	if decoder == nil {
		tx, err := env.MsgTx()
		if err != nil {
			return nil, err
		}
		view = localView(tx, env.Network)
	} else {
		tx, err := decoder.DecodeRawTransaction(ctx, env.Raw)
		if err != nil {
			return nil, providerError("decode raw transaction", err)
		}
		view = providerView(tx, env.Network)
	}

	return &Decoded{
		Fee:     env.Fee,
		Type:    env.Type,
		Network: env.Network,
		Tx:      view,
	}, nil
}

func localView(tx *wire.MsgTx, network chain.Network) *TxView {
	size := int64(tx.SerializeSize())
	weight := int64(tx.SerializeSizeStripped())*3 + size

	view := &TxView{
		TxID:     tx.TxHash().String(),
		Hash:     tx.WitnessHash().String(),
		Version:  tx.Version,
		Size:     size,
		VSize:    (weight + 3) / 4,
		Weight:   weight,
		LockTime: tx.LockTime,
		Vin:      make([]VinView, len(tx.TxIn)),
		Vout:     make([]VoutView, len(tx.TxOut)),
	}
	for i, in := range tx.TxIn {
		asm, _ := txscript.DisasmString(in.SignatureScript)
		vin := VinView{
			TxID:      in.PreviousOutPoint.Hash.String(),
			Vout:      in.PreviousOutPoint.Index,
			ScriptSig: ScriptSigView{Asm: asm, Hex: hex.EncodeToString(in.SignatureScript)},
			Sequence:  in.Sequence,
		}
		for _, item := range in.Witness {
			vin.Witness = append(vin.Witness, hex.EncodeToString(item))
		}
		view.Vin[i] = vin
	}
	for i, out := range tx.TxOut {
		view.Vout[i] = VoutView{
			Value:        helpers.SatoshisToBTC(uint64(out.Value)),
			N:            uint32(i),
			ScriptPubKey: scriptPubKeyView(out.PkScript, network),
		}
	}
	return view
}

func providerView(tx *backend.Transaction, network chain.Network) *TxView {
	view := &TxView{
		TxID:     tx.TxID,
		Hash:     tx.Hash,
		Version:  tx.Version,
		Size:     tx.Size,
		VSize:    tx.VSize,
		Weight:   tx.Weight,
		LockTime: tx.LockTime,
		Vin:      make([]VinView, len(tx.Inputs)),
		Vout:     make([]VoutView, len(tx.Outputs)),
	}
	if view.Hash == "" {
		view.Hash = view.TxID
	}
	for i, in := range tx.Inputs {
		asm := in.ScriptSigAsm
		if asm == "" {
			if script, err := hex.DecodeString(in.ScriptSig); err == nil {
				asm, _ = txscript.DisasmString(script)
			}
		}
		view.Vin[i] = VinView{
			TxID:      in.TxID,
			Vout:      in.Vout,
			ScriptSig: ScriptSigView{Asm: asm, Hex: in.ScriptSig},
			Witness:   in.Witness,
			Sequence:  in.Sequence,
		}
	}
	for i, out := range tx.Outputs {
		script, _ := hex.DecodeString(out.ScriptPubKey)
		view.Vout[i] = VoutView{
			Value:        helpers.SatoshisToBTC(out.Value),
			N:            uint32(i),
			ScriptPubKey: scriptPubKeyView(script, network),
		}
	}
	return view
}

func scriptPubKeyView(script []byte, network chain.Network) ScriptPubKeyView {
	asm, _ := txscript.DisasmString(script)
	view := ScriptPubKeyView{
		Asm:  asm,
		Hex:  hex.EncodeToString(script),
		Type: txscript.GetScriptClass(script).String(),
	}
	if cfg, err := chain.ChainConfig(network); err == nil {
		if _, addrs, _, err := txscript.ExtractPkScriptAddrs(script, cfg); err == nil && len(addrs) == 1 {
			view.Address = addrs[0].EncodeAddress()
		}
	}
	return view
}
