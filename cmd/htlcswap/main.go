// Package main provides htlcswap - build, sign and broadcast HTLC atomic swap transactions.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/internal/chain"
	"github.com/klingon-exchange/klingon-htlc/internal/config"
	"github.com/klingon-exchange/klingon-htlc/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

// env is what every command runs with.
type env struct {
	network chain.Network
	cfg     *config.Config
	log     *logging.Logger
}

// backend connects to the configured ledger-state provider.
func (e *env) backend() (backend.Backend, error) {
	b, err := backend.New(e.cfg.Backend, e.network)
	if err != nil {
		return nil, err
	}
	e.log.Debug("Using backend", "type", b.Type(), "url", e.cfg.Backend.URL(e.network))
	return b, nil
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, e *env, args []string) (any, error)
}

var commands = []command{
	{"key", "show or generate a signing key", runKey},
	{"secret", "generate a swap secret and its hash", runSecret},
	{"htlc", "derive the contract and its addresses", runHTLC},
	{"fund", "build a transaction paying into a contract", runFund},
	{"claim", "build a transaction claiming a contract with the secret", runClaim},
	{"refund", "build a transaction refunding a contract after its timeout", runRefund},
	{"sign", "sign an unsigned envelope", runSign},
	{"decode", "show the transaction inside an envelope", runDecode},
	{"submit", "broadcast a signed envelope", runSubmit},
}

func main() {
	var (
		dataDir     = flag.String("data-dir", config.DefaultDataDir, "Data directory")
		configFile  = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		testnet     = flag.Bool("testnet", false, "Use testnet (separate config)")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Usage = usage
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      "info",
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		fmt.Printf("htlcswap %s (commit: %s)\n", version, commit)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	cmd, ok := findCommand(args[0])
	if !ok {
		log.Error("Unknown command", "command", args[0])
		usage()
		os.Exit(2)
	}

	network := chain.Mainnet
	effectiveDataDir := *dataDir
	if *testnet {
		network = chain.Testnet
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}
	if *configFile != "" {
		effectiveDataDir = filepath.Dir(*configFile)
	}

	cfg, err := config.Load(effectiveDataDir, network)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}
	cfg.Network = network
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)
	log.Debug("Config loaded", "path", config.Path(effectiveDataDir), "network", network)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := cmd.run(ctx, &env{network: network, cfg: cfg, log: log.Component(cmd.name)}, args[1:])
	if err != nil {
		log.Fatal("Command failed", "command", cmd.name, "error", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatal("Failed to write result", "error", err)
	}
}

func findCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: htlcswap [flags] <command> [command flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(out, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(out, "\nFlags:\n")
	flag.PrintDefaults()
}
