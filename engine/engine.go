// Package engine composes every component — Network Registry, Gas
// Strategy Manager, Retry Manager, Resource Pool, Result Store, Contract
// Registry, Event Bus, Analytics, and the Test Runner — behind a single
// facade, mirroring the teacher's engine.Engine (99souls/ariadne
// engine/engine.go): one Config, one New, one composed struct holding
// every subsystem.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meridianlabs/testorch/analytics"
	"github.com/meridianlabs/testorch/contracts"
	"github.com/meridianlabs/testorch/events"
	"github.com/meridianlabs/testorch/gas"
	"github.com/meridianlabs/testorch/pool"
	"github.com/meridianlabs/testorch/registry"
	"github.com/meridianlabs/testorch/retry"
	"github.com/meridianlabs/testorch/runner"
	"github.com/meridianlabs/testorch/store"
)

// Engine composes every subsystem behind a single facade. Stable lifecycle:
// New constructs and loads the registry, Run executes one TestRun end to
// end, Close tears every subsystem down; all three are safe to call
// exactly as documented regardless of which Config options are set.
type Engine struct {
	cfg Config

	Registry  *registry.Registry
	Gas       *gas.Manager
	Policies  *retry.PolicyTable
	Retry     *retry.Manager
	Breakers  *retry.BreakerRegistry
	Pool      *pool.Pool
	Contracts *contracts.Registry
	Store     *store.Store
	Bus       *events.Bus
	Analytics *analytics.Analyzer
	Runner    *runner.Runner

	Log *slog.Logger

	startedAt time.Time

	watchCancel context.CancelFunc
	watchErrs   <-chan error
	closeOnce   sync.Once
}

// New constructs an Engine from cfg: it loads the network registry, opens
// the result store, wires the gas/retry/pool/contracts/events/analytics
// components, and builds the Test Runner over all of them. Registry load
// errors for individual files are logged and skipped (spec.md §4.A); it
// is fatal only when spec files are present and none of them loads. A
// missing or empty directory yields an empty registry.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}

	reg := registry.New(cfg.RegistryDir)
	if loadErrs, err := reg.LoadAll(); err != nil {
		return nil, fmt.Errorf("engine: load registry %q: %w", cfg.RegistryDir, err)
	} else {
		for _, le := range loadErrs {
			log.Warn("registry: skipped invalid network spec", "error", le)
		}
	}

	s, err := store.Open(ctx, cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("engine: open store %q: %w", cfg.StorePath, err)
	}

	var registerer prometheus.Registerer
	if cfg.MetricsEnabled {
		registerer = prometheus.DefaultRegisterer
	}

	gasMgr := gas.New(log)
	policies := retry.NewPolicyTable()
	retryMgr := retry.NewManager(policies)
	breakers := retry.NewBreakerRegistry(cfg.BreakerFailureThreshold, cfg.BreakerRecoveryTimeout)
	p := pool.New(cfg.PoolIdleWindow)
	bus := events.NewBus(registerer)
	contractReg := contracts.New(s, bus)
	analyzer := analytics.New(s, bus)

	e := &Engine{
		cfg: cfg, Registry: reg, Gas: gasMgr, Policies: policies, Retry: retryMgr,
		Breakers: breakers, Pool: p, Contracts: contractReg, Store: s, Bus: bus,
		Analytics: analyzer, Log: log, startedAt: time.Now(),
	}
	e.Runner = runner.New(reg, gasMgr, policies, retryMgr, breakers, p, contractReg, s, bus, log)

	if cfg.WatchRegistry {
		watchCtx, cancel := context.WithCancel(ctx)
		errs, err := reg.Watch(watchCtx)
		if err != nil {
			cancel()
			_ = e.Close()
			return nil, fmt.Errorf("engine: watch registry %q: %w", cfg.RegistryDir, err)
		}
		e.watchCancel = cancel
		e.watchErrs = errs
		go e.logWatchErrors()
	}

	return e, nil
}

func (e *Engine) logWatchErrors() {
	for err := range e.watchErrs {
		if err != nil {
			e.Log.Warn("registry: hot reload error", "error", err)
		}
	}
}

// Run executes one TestRun via the Test Runner (spec.md §4.G).
func (e *Engine) Run(ctx context.Context, cfg runner.Config) (runner.Summary, error) {
	return e.Runner.Run(ctx, cfg)
}

// Snapshot is a unified, JSON-friendly view of engine state, mirroring
// the teacher's Engine.Snapshot — useful for a periodic progress ticker
// in the composition-root CLI or a future dashboard.
type Snapshot struct {
	StartedAt time.Time     `json:"started_at"`
	Uptime    time.Duration `json:"uptime"`
	Pool      pool.Stats    `json:"pool"`
	Networks  int           `json:"networks_loaded"`
}

// Snapshot returns a unified state view.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		StartedAt: e.startedAt,
		Uptime:    time.Since(e.startedAt),
		Pool:      e.Pool.Stats(),
		Networks:  len(e.Registry.All()),
	}
}

// Close stops the registry watcher (if any), tears down the Resource
// Pool, and closes the Result Store. Idempotent.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.watchCancel != nil {
			e.watchCancel()
		}
		if e.Pool != nil {
			if cerr := e.Pool.Cleanup(); cerr != nil {
				err = cerr
			}
		}
		if e.Store != nil {
			if cerr := e.Store.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
