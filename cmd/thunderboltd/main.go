// Command thunderboltd runs the Thunderbolt consensus core: it opens the
// persistence service, constructs the transaction validator and the
// blockchain engine over the chosen network's genesis, wires the mempool as
// a listener, and idles until interrupted. It is the only package that
// knows about every collaborator at once (teacher's cmd/rubin-node/main.go).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"thunderbolt.dev/node/blockchain"
	"thunderbolt.dev/node/internal/logs"
	"thunderbolt.dev/node/mempool"
	"thunderbolt.dev/node/node"
	"thunderbolt.dev/node/store"
	"thunderbolt.dev/node/validation"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := node.DefaultConfig()
	cfg := defaults

	fs := flag.NewFlagSet("thunderboltd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Network, "network", defaults.Network, "network name (mainnet/testnet/regtest)")
	fs.StringVar(&cfg.DataDir, "datadir", defaults.DataDir, "node data directory")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: trace|debug|info|warn|error|critical")
	dryRun := fs.Bool("dry-run", false, "print effective config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := node.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}
	params, _ := node.ParamsForNetwork(cfg.Network)

	chainDir := node.ChainDir(cfg.DataDir, cfg.Network)
	if err := os.MkdirAll(chainDir, 0o750); err != nil {
		fmt.Fprintf(stderr, "datadir create failed: %v\n", err)
		return 2
	}
	if err := logs.Init(node.LogFilePath(cfg.DataDir, cfg.Network)); err != nil {
		fmt.Fprintf(stderr, "log init failed: %v\n", err)
		return 2
	}
	logs.SetLevel(logs.ParseLevel(cfg.LogLevel))
	log := logs.Get(logs.TagNode)

	if err := printConfig(stdout, cfg); err != nil {
		fmt.Fprintf(stderr, "config encode failed: %v\n", err)
		return 1
	}
	if *dryRun {
		return 0
	}

	persistence, err := store.Open(chainDir)
	if err != nil {
		fmt.Fprintf(stderr, "store open failed: %v\n", err)
		return 2
	}
	defer persistence.Close()

	validator := validation.New(params.CoinbaseMaturity, store.NotFound)
	engine := blockchain.New(params.Genesis, validator, persistence)

	if err := engine.SubmitBlock(params.Genesis); err != nil && !blockchain.IsRejected(err) {
		fmt.Fprintf(stderr, "genesis submission failed: %v\n", err)
		return 2
	}

	pool := mempool.New(validator, engine, engine)
	engine.AddOutputsUpdateListener(pool)
	engine.AddBlockDisconnectedListener(pool)

	if headID, height, ok := engine.ChainHead(); ok {
		fmt.Fprintf(stdout, "chain: network=%s height=%d head=%x\n", params.Name, height, headID)
	} else {
		fmt.Fprintf(stdout, "chain: network=%s empty\n", params.Name)
	}
	log.Info("thunderboltd started: network=%s datadir=%s", params.Name, chainDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(stdout, "thunderboltd running")
	<-ctx.Done()
	fmt.Fprintln(stdout, "thunderboltd stopped")
	log.Info("thunderboltd stopped")
	return 0
}

func printConfig(w io.Writer, cfg node.Config) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}
