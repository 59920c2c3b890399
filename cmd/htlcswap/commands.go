package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/swap"
	"github.com/klingon-exchange/klingon-htlc/internal/wallet"
	"github.com/klingon-exchange/klingon-htlc/pkg/helpers"
)

// keyFlags selects the signing key. Exactly one source must be given.
type keyFlags struct {
	wif        string
	keyHex     string
	mnemonic   string
	passphrase string
	account    uint
	index      uint
	segwit     bool
}

func (k *keyFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&k.wif, "wif", "", "Private key in WIF")
	fs.StringVar(&k.keyHex, "key", "", "Private key as 32-byte hex")
	fs.StringVar(&k.mnemonic, "mnemonic", "", "BIP39 mnemonic")
	fs.StringVar(&k.passphrase, "passphrase", "", "BIP39 passphrase")
	fs.UintVar(&k.account, "account", 0, "BIP44 account for -mnemonic")
	fs.UintVar(&k.index, "index", 0, "BIP44 address index for -mnemonic")
	fs.BoolVar(&k.segwit, "segwit", false, "Use a native segwit (P2WPKH) wallet address")
}

func (k *keyFlags) wallet(network chain.Network) (*wallet.Wallet, error) {
	var opts []wallet.Option
	if k.segwit {
		opts = append(opts, wallet.WithAddressType(chain.AddressP2WPKH))
	}
	switch {
	case k.wif != "":
		return wallet.FromWIF(k.wif, network, opts...)
	case k.keyHex != "":
		return wallet.FromPrivateKeyHex(k.keyHex, network, opts...)
	case k.mnemonic != "":
		return wallet.FromMnemonic(k.mnemonic, k.passphrase, network, uint32(k.account), uint32(k.index), opts...)
	default:
		return nil, errors.New("a key is required: use -wif, -key or -mnemonic")
	}
}

// readEnvelope returns the envelope flag value, reading stdin for "-".
func readEnvelope(s string) (string, error) {
	if s == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read envelope from stdin: %w", err)
		}
		s = string(data)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("-envelope is required")
	}
	return s, nil
}

func decodeHex(name, s string, size int) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("-%s is required", name)
	}
	b, err := helpers.HexToFixedBytes(s, size)
	if err != nil {
		return nil, fmt.Errorf("-%s: %w", name, err)
	}
	return b, nil
}

// timeoutBlocks narrows a -timeout flag value to a relative block count.
func timeoutBlocks(v uint) (uint32, error) {
	if v > swap.MaxTimeout {
		return 0, fmt.Errorf("-timeout must be at most %d, got %d", swap.MaxTimeout, v)
	}
	return uint32(v), nil
}

// built is the result of a build command.
type built struct {
	Envelope string `json:"envelope"`
	TxID     string `json:"txid"`
	Type     string `json:"type"`
	Fee      string `json:"fee"`
}

func result(txn swap.Transaction) (*built, error) {
	envelope, err := txn.ToEnvelope()
	if err != nil {
		return nil, err
	}
	txid, err := txn.ID()
	if err != nil {
		return nil, err
	}
	return &built{
		Envelope: envelope,
		TxID:     txid,
		Type:     string(txn.Type()),
		Fee:      helpers.SatoshisToBTC(txn.Fee()),
	}, nil
}

func runSecret(ctx context.Context, e *env, args []string) (any, error) {
	fs := flag.NewFlagSet("secret", flag.ContinueOnError)
	given := fs.String("secret", "", "Hash this 32-byte hex secret instead of generating one")
	expected := fs.String("secret-hash", "", "Check -secret against this SHA256, hex")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *expected != "" && *given == "" {
		return nil, errors.New("-secret-hash needs -secret")
	}

	var secret, hash []byte
	var err error
	if *given != "" {
		if secret, err = decodeHex("secret", *given, swap.SecretSize); err != nil {
			return nil, err
		}
		hash = swap.SecretHash(secret)
	} else if secret, hash, err = swap.GenerateSecret(); err != nil {
		return nil, err
	}

	out := map[string]any{
		"secret":      hex.EncodeToString(secret),
		"secret_hash": hex.EncodeToString(hash),
	}
	if *expected != "" {
		want, err := decodeHex("secret-hash", *expected, swap.SecretSize)
		if err != nil {
			return nil, err
		}
		out["matches"] = swap.VerifySecret(secret, want)
	}
	return out, nil
}

// contractFlags describe a contract on the command line.
type contractFlags struct {
	secretHash string
	recipient  string
	sender     string
	timeout    uint
}

func (c *contractFlags) register(fs *flag.FlagSet, e *env, withSender bool) {
	fs.StringVar(&c.secretHash, "secret-hash", "", "SHA256 of the swap secret, hex")
	fs.StringVar(&c.recipient, "recipient", "", "Recipient address or public key")
	if withSender {
		fs.StringVar(&c.sender, "sender", "", "Sender address or public key")
	}
	fs.UintVar(&c.timeout, "timeout", uint(e.cfg.Swap.MakerTimeoutBlocks), "Relative timeout in blocks")
}

func (c *contractFlags) contract(network chain.Network) (*swap.Contract, error) {
	secretHash, err := decodeHex("secret-hash", c.secretHash, swap.SecretSize)
	if err != nil {
		return nil, err
	}
	timeout, err := timeoutBlocks(c.timeout)
	if err != nil {
		return nil, err
	}
	return swap.BuildContract(secretHash, c.recipient, c.sender, timeout, network)
}

func runHTLC(ctx context.Context, e *env, args []string) (any, error) {
	fs := flag.NewFlagSet("htlc", flag.ContinueOnError)
	var cf contractFlags
	cf.register(fs, e, true)
	script := fs.String("script", "", "Inspect an existing contract script, hex, instead of building one")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var contract *swap.Contract
	var err error
	if *script != "" {
		var raw []byte
		if raw, err = helpers.HexToBytes(*script); err != nil {
			return nil, fmt.Errorf("-script: %w", err)
		}
		contract, err = swap.ParseContract(raw, e.network)
	} else {
		contract, err = cf.contract(e.network)
	}
	if err != nil {
		return nil, err
	}
	return contractView(e, contract)
}

// contractView describes a contract and what it costs to spend.
func contractView(e *env, contract *swap.Contract) (map[string]any, error) {
	spendFee, err := swap.EstimateFee(1, 1)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"secret_hash":     hex.EncodeToString(contract.SecretHash),
		"recipient":       contract.RecipientAddress(),
		"sender":          contract.SenderAddress(),
		"address":         contract.Address(),
		"witness_address": contract.WitnessAddress(),
		"hash":            hex.EncodeToString(contract.Hash()),
		"script":          contract.Hex(),
		"opcode":          contract.Opcode(),
		"timeout":         contract.Timeout,
		"network":         e.network,
		"time_estimate":   e.cfg.Swap.EstimateDelay(contract.Timeout).String(),
		"spend_fee":       helpers.SatoshisToBTC(spendFee),
	}, nil
}

func runFund(ctx context.Context, e *env, args []string) (any, error) {
	fs := flag.NewFlagSet("fund", flag.ContinueOnError)
	var kf keyFlags
	var cf contractFlags
	kf.register(fs)
	cf.register(fs, e, false)
	amount := fs.String("amount", "", "Amount to lock, in BTC")
	witness := fs.Bool("witness", false, "Pay the contract's P2WSH address instead of P2SH")
	sign := fs.Bool("sign", false, "Sign the transaction")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	w, err := kf.wallet(e.network)
	if err != nil {
		return nil, err
	}
	cf.sender = w.Address()
	contract, err := cf.contract(e.network)
	if err != nil {
		return nil, err
	}
	sats, err := helpers.BTCToSatoshis(*amount)
	if err != nil {
		return nil, fmt.Errorf("-amount: %w", err)
	}

	opts := []swap.Option{swap.WithVersion(e.cfg.Swap.TxVersion)}
	if *witness {
		opts = append(opts, swap.WithWitnessContract())
	}
	fund, err := swap.NewFund(e.network, w, opts...)
	if err != nil {
		return nil, err
	}
	b, err := e.backend()
	if err != nil {
		return nil, err
	}
	if err := fund.BuildFromProvider(ctx, b, contract, sats); err != nil {
		return nil, err
	}
	e.log.Info("Built fund transaction",
		"contract", contract.Address(),
		"amount", helpers.SatoshisToBTC(sats),
		"inputs", len(fund.Unspent()))

	if *sign {
		solver, err := swap.NewFundSolver(w.PrivateKey())
		if err != nil {
			return nil, err
		}
		if err := fund.Sign(solver); err != nil {
			return nil, err
		}
	}
	return result(fund)
}

func runClaim(ctx context.Context, e *env, args []string) (any, error) {
	fs := flag.NewFlagSet("claim", flag.ContinueOnError)
	var kf keyFlags
	kf.register(fs)
	txid := fs.String("txid", "", "Funding transaction id")
	secretHex := fs.String("secret", "", "Swap secret, hex; signs the claim when given")
	sender := fs.String("sender", "", "Contract sender, when the funding transaction has no change output")
	timeoutFlag := fs.Uint("timeout", uint(e.cfg.Swap.MakerTimeoutBlocks), "Contract timeout in blocks")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	timeout, err := timeoutBlocks(*timeoutFlag)
	if err != nil {
		return nil, err
	}

	w, err := kf.wallet(e.network)
	if err != nil {
		return nil, err
	}
	b, err := e.backend()
	if err != nil {
		return nil, err
	}

	opts := []swap.Option{swap.WithVersion(e.cfg.Swap.TxVersion)}
	if *sender != "" {
		opts = append(opts, swap.WithSender(*sender))
	}
	claim, err := swap.NewClaim(ctx, e.network, b, *txid, w, opts...)
	if err != nil {
		return nil, err
	}
	if err := claim.BuildTransaction(); err != nil {
		return nil, err
	}

	if *secretHex != "" {
		secret, err := decodeHex("secret", *secretHex, swap.SecretSize)
		if err != nil {
			return nil, err
		}
		solver, err := swap.NewClaimSolver(w.PrivateKey(), secret, timeout)
		if err != nil {
			return nil, err
		}
		if err := claim.Sign(solver); err != nil {
			return nil, err
		}
	}
	return result(claim)
}

func runRefund(ctx context.Context, e *env, args []string) (any, error) {
	fs := flag.NewFlagSet("refund", flag.ContinueOnError)
	var kf keyFlags
	kf.register(fs)
	txid := fs.String("txid", "", "Funding transaction id")
	recipient := fs.String("recipient", "", "Contract recipient address or public key")
	secretHash := fs.String("secret-hash", "", "SHA256 of the swap secret, hex; signs the refund when given")
	timeoutFlag := fs.Uint("timeout", uint(e.cfg.Swap.MakerTimeoutBlocks), "Contract timeout in blocks")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	timeout, err := timeoutBlocks(*timeoutFlag)
	if err != nil {
		return nil, err
	}

	w, err := kf.wallet(e.network)
	if err != nil {
		return nil, err
	}
	b, err := e.backend()
	if err != nil {
		return nil, err
	}

	refund, err := swap.NewRefund(ctx, e.network, b, *txid, w,
		swap.WithVersion(e.cfg.Swap.TxVersion),
		swap.WithRecipient(*recipient))
	if err != nil {
		return nil, err
	}
	if err := refund.BuildTransaction(timeout); err != nil {
		return nil, err
	}

	if *secretHash != "" {
		hash, err := decodeHex("secret-hash", *secretHash, swap.SecretSize)
		if err != nil {
			return nil, err
		}
		solver, err := swap.NewRefundSolver(w.PrivateKey(), hash, timeout)
		if err != nil {
			return nil, err
		}
		if err := refund.Sign(solver); err != nil {
			return nil, err
		}
	}
	return result(refund)
}

func runSign(ctx context.Context, e *env, args []string) (any, error) {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	var kf keyFlags
	kf.register(fs)
	envelope := fs.String("envelope", "", "Unsigned envelope, or - for stdin")
	secretHex := fs.String("secret", "", "Swap secret, hex (claim)")
	secretHash := fs.String("secret-hash", "", "SHA256 of the swap secret, hex (refund)")
	timeoutFlag := fs.Uint("timeout", uint(e.cfg.Swap.MakerTimeoutBlocks), "Contract timeout in blocks (claim, refund)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	timeout, err := timeoutBlocks(*timeoutFlag)
	if err != nil {
		return nil, err
	}

	s, err := readEnvelope(*envelope)
	if err != nil {
		return nil, err
	}
	txn, err := swap.FromEnvelope(s)
	if err != nil {
		return nil, err
	}
	if txn.Network() != e.network {
		return nil, fmt.Errorf("envelope is for %s, running on %s", txn.Network(), e.network)
	}
	w, err := kf.wallet(e.network)
	if err != nil {
		return nil, err
	}

	var solver swap.Solver
	switch txn.Kind() {
	case swap.KindFund:
		solver, err = swap.NewFundSolver(w.PrivateKey())
	case swap.KindClaim:
		var secret []byte
		if secret, err = decodeHex("secret", *secretHex, swap.SecretSize); err != nil {
			return nil, err
		}
		solver, err = swap.NewClaimSolver(w.PrivateKey(), secret, timeout)
	case swap.KindRefund:
		var hash []byte
		if hash, err = decodeHex("secret-hash", *secretHash, swap.SecretSize); err != nil {
			return nil, err
		}
		solver, err = swap.NewRefundSolver(w.PrivateKey(), hash, timeout)
	}
	if err != nil {
		return nil, err
	}
	if err := txn.Sign(solver); err != nil {
		return nil, err
	}
	return result(txn)
}

func runDecode(ctx context.Context, e *env, args []string) (any, error) {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	envelope := fs.String("envelope", "", "Envelope or contract script hex, or - for stdin")
	online := fs.Bool("online", false, "Decode with the configured backend")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	s, err := readEnvelope(*envelope)
	if err != nil {
		return nil, err
	}
	if !swap.IsEnvelope(s) {
		if raw, err := helpers.HexToBytes(s); err == nil && swap.IsContractScript(raw) {
			contract, err := swap.ParseContract(raw, e.network)
			if err != nil {
				return nil, err
			}
			return contractView(e, contract)
		}
	}
	if !*online {
		return swap.DecodeTransaction(ctx, s, nil)
	}

	b, err := e.backend()
	if err != nil {
		return nil, err
	}
	decoder, ok := b.(backend.Decoder)
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrDecodeUnsupported, b.Type())
	}
	return swap.DecodeTransaction(ctx, s, decoder)
}

func runSubmit(ctx context.Context, e *env, args []string) (any, error) {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	envelope := fs.String("envelope", "", "Signed envelope, or - for stdin")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	s, err := readEnvelope(*envelope)
	if err != nil {
		return nil, err
	}
	b, err := e.backend()
	if err != nil {
		return nil, err
	}
	return swap.Submit(ctx, s, b)
}

func runKey(ctx context.Context, e *env, args []string) (any, error) {
	fs := flag.NewFlagSet("key", flag.ContinueOnError)
	var kf keyFlags
	kf.register(fs)
	generate := fs.Bool("generate", false, "Generate a new 24-word mnemonic")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	out := map[string]any{}
	if *generate {
		if kf.wif != "" || kf.keyHex != "" || kf.mnemonic != "" {
			return nil, errors.New("-generate cannot be combined with -wif, -key or -mnemonic")
		}
		mnemonic, err := wallet.GenerateMnemonic()
		if err != nil {
			return nil, err
		}
		kf.mnemonic = mnemonic
		out["mnemonic"] = mnemonic
	}
	if kf.mnemonic != "" && !wallet.ValidateMnemonic(kf.mnemonic) {
		return nil, errors.New("-mnemonic is not a valid BIP39 mnemonic")
	}

	w, err := kf.wallet(e.network)
	if err != nil {
		return nil, err
	}
	wif, err := w.WIF()
	if err != nil {
		return nil, err
	}
	out["address"] = w.Address()
	out["address_type"] = w.AddressType()
	out["public_key"] = w.PublicKeyHex()
	out["wif"] = wif
	out["network"] = e.network
	if path := w.DerivationPath(); path != "" {
		out["derivation_path"] = path
	}
	return out, nil
}
