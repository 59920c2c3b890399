package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// InputSignature computes the unlocking data for input inputIndex of tx,
// which spends an ordinary pay-to-pubkey-hash or pay-to-witness-pubkey-hash
// output looked up through prevOutFetcher. tx is not modified. Exactly one
// of sigScript and witness is set.
func InputSignature(tx *wire.MsgTx, inputIndex int, privKey *btcec.PrivateKey, prevOutFetcher txscript.PrevOutputFetcher) (sigScript []byte, witness wire.TxWitness, err error) {
	if inputIndex < 0 || inputIndex >= len(tx.TxIn) {
		return nil, nil, fmt.Errorf("input index %d out of range", inputIndex)
	}

	outpoint := tx.TxIn[inputIndex].PreviousOutPoint
	prevOut := prevOutFetcher.FetchPrevOutput(outpoint)
	if prevOut == nil {
		return nil, nil, fmt.Errorf("previous output %s not found", outpoint)
	}

	switch class := txscript.GetScriptClass(prevOut.PkScript); class {
	case txscript.PubKeyHashTy:
		sigScript, err = signP2PKH(tx, inputIndex, privKey, prevOut.PkScript)
		return sigScript, nil, err
	case txscript.WitnessV0PubKeyHashTy:
		witness, err = signP2WPKH(tx, inputIndex, privKey, prevOut, prevOutFetcher)
		return nil, witness, err
	default:
		return nil, nil, fmt.Errorf("cannot sign %s output %s", class, outpoint)
	}
}

// signP2WPKH signs a native SegWit input.
func signP2WPKH(tx *wire.MsgTx, inputIndex int, privKey *btcec.PrivateKey, prevOut *wire.TxOut, prevOutFetcher txscript.PrevOutputFetcher) (wire.TxWitness, error) {
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)

	return txscript.WitnessSignature(
		tx,
		sigHashes,
		inputIndex,
		prevOut.Value,
		prevOut.PkScript,
		txscript.SigHashAll,
		privKey,
		true, // compressed
	)
}

// signP2PKH signs a legacy input.
func signP2PKH(tx *wire.MsgTx, inputIndex int, privKey *btcec.PrivateKey, pkScript []byte) ([]byte, error) {
	return txscript.SignatureScript(
		tx,
		inputIndex,
		pkScript,
		txscript.SigHashAll,
		privKey,
		true, // compressed
	)
}
