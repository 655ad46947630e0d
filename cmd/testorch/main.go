// Command testorch is a thin composition root: flag parsing, signal
// handling, and exit codes around the engine facade. It is not the CLI
// surface the specification scopes out (argument ergonomics, progress
// bars, subcommands) — just the minimum needed to exercise the core
// end to end, mirroring the shape of the teacher's cli/cmd/ariadne/main.go.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/meridianlabs/testorch/engine"
	"github.com/meridianlabs/testorch/internal/clock"
	"github.com/meridianlabs/testorch/models"
	"github.com/meridianlabs/testorch/runner"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// Exit codes: 0 success, 1 one or more tests failed, 2 configuration error.
const (
	exitSuccess = 0
	exitFailed  = 1
	exitConfig  = 2
)

func run(args []string) int {
	var (
		networks          string
		tests             string
		mode              string
		parallel          bool
		maxConcurrent     int
		timeout           time.Duration
		verbose           bool
		retryUntilSuccess bool
		contractType      string
		registryDir       string
		storePath         string
		watchRegistry     bool
		privateKey        string
		snapshotInterval  time.Duration
	)

	fs := flag.NewFlagSet("testorch", flag.ContinueOnError)
	fs.StringVar(&networks, "networks", "", "Comma-separated network ids to run (required)")
	fs.StringVar(&tests, "tests", "deployment,evm,defi,load,finality", "Comma-separated test phases to run")
	fs.StringVar(&mode, "mode", "sequential", "Run mode: sequential|parallel|standard|diversified|stress|deployment")
	fs.BoolVar(&parallel, "parallel", false, "Run networks concurrently instead of in declaration order")
	fs.IntVar(&maxConcurrent, "maxConcurrent", 5, "Bounded concurrency for the load phase")
	fs.DurationVar(&timeout, "timeout", 5*time.Minute, "Overall run timeout (0 = no timeout)")
	fs.BoolVar(&verbose, "verbose", false, "Enable debug-level logging")
	fs.BoolVar(&retryUntilSuccess, "retryUntilSuccess", false, "Rerun only the failing sub-tests of a phase up to 10 times")
	fs.StringVar(&contractType, "contractType", "", "Restrict the deployment phase to one contract type: evm|defi|load")
	fs.StringVar(&registryDir, "registryDir", "testdata/networks", "Network spec directory")
	fs.StringVar(&storePath, "storePath", "./data/test-results.db", "Result Store database file")
	fs.BoolVar(&watchRegistry, "watchRegistry", false, "Hot-reload the network registry on file changes")
	fs.StringVar(&privateKey, "privateKey", os.Getenv("TESTORCH_PRIVATE_KEY"), "Hex private key used to sign transactions (or set TESTORCH_PRIVATE_KEY)")
	fs.DurationVar(&snapshotInterval, "snapshotInterval", 0, "Log a periodic engine snapshot while the run executes (0 = disabled)")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if networks == "" {
		fmt.Fprintln(os.Stderr, "testorch: -networks is required (comma-separated network ids)")
		return exitConfig
	}
	if privateKey == "" {
		fmt.Fprintln(os.Stderr, "testorch: -privateKey (or TESTORCH_PRIVATE_KEY) is required")
		return exitConfig
	}

	testTypes, err := parseTestTypes(tests)
	if err != nil {
		fmt.Fprintln(os.Stderr, "testorch:", err)
		return exitConfig
	}

	cfg := engine.Defaults()
	cfg.RegistryDir = registryDir
	cfg.StorePath = storePath
	cfg.WatchRegistry = watchRegistry

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Warn("signal received; initiating graceful shutdown")
		cancel()
		<-sigCh
		log.Warn("second signal received; forcing exit")
		os.Exit(1)
	}()

	eng, err := engine.New(ctx, cfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "testorch: create engine:", err)
		return exitConfig
	}
	defer func() { _ = eng.Close() }()

	runCfg := runner.Config{
		Networks:          strings.Split(networks, ","),
		Tests:             testTypes,
		Mode:              models.RunMode(mode),
		Parallel:          parallel,
		MaxConcurrent:     maxConcurrent,
		Timeout:           timeout,
		Verbose:           verbose,
		RetryUntilSuccess: retryUntilSuccess,
		ContractType:      models.ContractType(contractType),
		PrivateKey:        privateKey,
		TriggeredBy:       "manual",
	}

	summary, err := runWithSnapshots(ctx, eng, runCfg, snapshotInterval, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "testorch: run failed:", err)
		return exitConfig
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(summary)

	if summary.Totals.Failures > 0 {
		return exitFailed
	}
	return exitSuccess
}

// runWithSnapshots runs cfg on eng, logging a Snapshot every interval
// while the run is in flight (interval <= 0 disables this). It uses
// clock.Clock.After in a self-rescheduling loop rather than time.Ticker
// so a future test harness can substitute a fake Clock.
func runWithSnapshots(ctx context.Context, eng *engine.Engine, cfg runner.Config, interval time.Duration, log *slog.Logger) (runner.Summary, error) {
	type result struct {
		summary runner.Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := eng.Run(ctx, cfg)
		done <- result{summary, err}
	}()

	if interval <= 0 {
		r := <-done
		return r.summary, r.err
	}

	clk := clock.Real{}
	tick := clk.After(interval)
	for {
		select {
		case r := <-done:
			return r.summary, r.err
		case <-tick:
			snap := eng.Snapshot()
			log.Info("engine snapshot", "uptime", snap.Uptime, "networks_loaded", snap.Networks, "pool_active_providers", snap.Pool.ActiveProviders)
			tick = clk.After(interval)
		}
	}
}

func parseTestTypes(csv string) ([]models.TestType, error) {
	var out []models.TestType
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch models.TestType(part) {
		case models.TestTypeDeployment, models.TestTypeEVM, models.TestTypeDeFi, models.TestTypeLoad, models.TestTypeFinality:
			out = append(out, models.TestType(part))
		default:
			return nil, fmt.Errorf("unknown test type %q", part)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("-tests resolved to an empty phase list")
	}
	return out, nil
}
