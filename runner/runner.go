package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianlabs/testorch/contracts"
	"github.com/meridianlabs/testorch/events"
	"github.com/meridianlabs/testorch/gas"
	"github.com/meridianlabs/testorch/models"
	"github.com/meridianlabs/testorch/pool"
	"github.com/meridianlabs/testorch/registry"
	"github.com/meridianlabs/testorch/retry"
	"github.com/meridianlabs/testorch/store"
)

// Runner wires every other component into the one orchestration entrypoint
// (spec.md §4.G). It is the only component in the system that creates
// concurrency: everything it calls is either single-threaded or already
// safe for concurrent use (Pool, Store, Bus).
type Runner struct {
	Registry  *registry.Registry
	Gas       *gas.Manager
	Policies  *retry.PolicyTable
	Retry     *retry.Manager
	Breakers  *retry.BreakerRegistry
	Pool      *pool.Pool
	Contracts *contracts.Registry
	Store     *store.Store
	Bus       *events.Bus
	Log       *slog.Logger
}

// New wires a Runner from its already-constructed dependencies. A nil
// logger falls back to slog.Default().
func New(reg *registry.Registry, g *gas.Manager, policies *retry.PolicyTable, retryMgr *retry.Manager, breakers *retry.BreakerRegistry, p *pool.Pool, c *contracts.Registry, s *store.Store, bus *events.Bus, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{Registry: reg, Gas: g, Policies: policies, Retry: retryMgr, Breakers: breakers, Pool: p, Contracts: c, Store: s, Bus: bus, Log: log}
}

// Summary is the final rollup Run returns: one TestRun header plus its
// per-network results.
type Summary struct {
	RunID    string
	Totals   models.Totals
	Networks []models.NetworkResult
}

// errBelowFloor marks a phase whose success rate missed its floor as
// retryable at the phase level, independent of the error category of any
// individual sub-test failure inside it.
func errBelowFloor(testType models.TestType, rate float64) *models.ClassifiedError {
	return &models.ClassifiedError{
		Category:  models.ErrorUnknown,
		Retryable: true,
		Severity:  models.SeverityLow,
		Cause:     fmt.Errorf("runner: phase %s success rate %.2f below floor", testType, rate),
	}
}

// Run executes one TestRun end to end: it persists the run header,
// iterates the requested networks (in parallel or in declaration order
// depending on cfg.Parallel), runs each network's phase queue,
// persists every result, and emits test_completed on the event bus
// (spec.md §4.G).
func (r *Runner) Run(ctx context.Context, cfg Config) (Summary, error) {
	specs := make([]models.NetworkSpec, 0, len(cfg.Networks))
	for _, id := range cfg.Networks {
		spec, ok := r.Registry.Get(id)
		if !ok {
			return Summary{}, fmt.Errorf("runner: unknown network %q", id)
		}
		specs = append(specs, spec)
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	rawConfig, err := json.Marshal(cfg)
	if err != nil {
		return Summary{}, fmt.Errorf("runner: serialize config: %w", err)
	}

	run := models.TestRun{
		RunID:       uuid.NewString(),
		StartTime:   time.Now(),
		Mode:        cfg.Mode,
		Parallel:    cfg.Parallel,
		NetworkIDs:  cfg.Networks,
		TestTypes:   cfg.Tests,
		RawConfig:   string(rawConfig),
		TriggeredBy: cfg.TriggeredBy,
	}
	if _, err := r.Store.InsertTestRun(ctx, run); err != nil {
		return Summary{}, fmt.Errorf("runner: persist test run header: %w", err)
	}
	r.Bus.Publish(events.TestRunStarted, events.TestRunStartedFields(run.RunID, run.Mode, run.NetworkIDs, run.TestTypes))

	queue := phaseQueue(cfg.Tests)

	var results []models.NetworkResult
	if cfg.Parallel {
		results = r.runParallel(ctx, run.RunID, specs, cfg, queue)
	} else {
		results = r.runSequential(ctx, run.RunID, specs, cfg, queue)
	}

	totals := models.Totals{}
	for i, res := range results {
		if err := r.Store.InsertNetworkResult(ctx, res); err != nil {
			r.Log.Error("persist network result failed", "network", res.NetworkID, "error", err)
		}
		totals.Tests += res.Totals.Tests
		totals.Successes += res.Totals.Successes
		totals.Failures += res.Totals.Failures
		totals.GasUsed += res.Totals.GasUsed
		totals.CostNative += res.Totals.CostNative
		totals.CostUSD += res.Totals.CostUSD
		results[i] = res
	}

	if err := r.Store.UpdateTestRun(ctx, run.RunID, time.Now(), totals); err != nil {
		r.Log.Error("finalize test run failed", "run", run.RunID, "error", err)
	}

	r.Bus.Publish(events.TestCompleted, events.TestCompletedFields(run.RunID, totals, results))
	return Summary{RunID: run.RunID, Totals: totals, Networks: results}, nil
}

// runParallel starts one goroutine per network; a single network's
// failure never aborts the others (spec.md §4.G step 2).
func (r *Runner) runParallel(ctx context.Context, runID string, specs []models.NetworkSpec, cfg Config, queue []models.TestType) []models.NetworkResult {
	results := make([]models.NetworkResult, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec models.NetworkSpec) {
			defer wg.Done()
			results[i] = r.runNetwork(ctx, runID, spec, cfg, queue)
		}(i, spec)
	}
	wg.Wait()
	return results
}

// runSequential iterates networks in declaration order, continuing past a
// failed network unless its error is one the spec treats as critical
// (currently: none are — every network failure is isolated) (spec.md
// §4.G step 3).
func (r *Runner) runSequential(ctx context.Context, runID string, specs []models.NetworkSpec, cfg Config, queue []models.TestType) []models.NetworkResult {
	results := make([]models.NetworkResult, 0, len(specs))
	for _, spec := range specs {
		results = append(results, r.runNetwork(ctx, runID, spec, cfg, queue))
	}
	return results
}

// runNetwork acquires resources for one network, runs its phase queue,
// persists every leaf test result, and returns the network's rollup.
func (r *Runner) runNetwork(ctx context.Context, runID string, spec models.NetworkSpec, cfg Config, queue []models.TestType) models.NetworkResult {
	r.Bus.Publish(events.NetworkStarted, events.NetworkStartedFields(runID, spec.ID))

	result := models.NetworkResult{RunID: runID, NetworkID: spec.ID, ChainID: spec.ChainID, Success: true}

	probeStart := time.Now()
	nc, err := r.acquireNetworkContext(ctx, spec, cfg.PrivateKey)
	if err != nil {
		r.Log.Error("acquire network context failed", "network", spec.ID, "error", err)
		result.Success = false
		result.Totals.Failures = 1
		r.recordNetworkStatus(ctx, spec, models.NetworkStatus{
			NetworkID: spec.ID, ChainID: spec.ChainID, Online: false,
			ResponseTimeMs: time.Since(probeStart).Milliseconds(), Timestamp: time.Now(),
			RPCURL: rpcURLOf(spec), ErrorMessage: err.Error(),
		})
		return result
	}
	defer r.releaseNetworkContext(nc)

	startBlock, blockErr := nc.provider.BlockNumber(ctx)
	if blockErr == nil {
		result.BlockNumberStart = startBlock
	}
	result.AverageGasPriceWei = nc.quote.GasPriceWei
	r.recordNetworkStatus(ctx, spec, models.NetworkStatus{
		NetworkID: spec.ID, ChainID: spec.ChainID, BlockNumber: startBlock, GasPrice: nc.quote.GasPriceWei,
		Online: blockErr == nil, ResponseTimeMs: time.Since(probeStart).Milliseconds(), Timestamp: time.Now(),
		RPCURL: rpcURLOf(spec),
	})

	var allDetails []models.TestResult
	for _, phase := range queue {
		phaseResult := r.runPhaseWithRetry(ctx, nc, runID, cfg, phase)

		if cfg.RetryUntilSuccess && !phaseResult.Success {
			phaseResult = r.rerunFailing(ctx, nc, runID, cfg, phase, phaseResult)
		}

		if !phaseResult.Success {
			result.Success = false
		}
		allDetails = append(allDetails, phaseResult.Details...)
	}

	for _, d := range allDetails {
		if err := r.Store.InsertTestResult(ctx, d); err != nil {
			r.Log.Error("persist test result failed", "network", spec.ID, "test", d.TestName, "error", err)
		}
		if d.Success {
			result.Totals.Successes++
		} else {
			result.Totals.Failures++
		}
		result.Totals.Tests++
		result.Totals.GasUsed += d.GasUsed
		result.Totals.CostNative += d.CostNative
		result.Totals.CostUSD += d.CostUSD
	}

	if endBlock, err := nc.provider.BlockNumber(ctx); err == nil {
		result.BlockNumberEnd = endBlock
	}

	return result
}

// runPhaseWithRetry wraps one phase execution in RetryManager.Execute,
// with maxRetries overridden per phaseMaxRetries (spec.md §4.G step 4c).
// A phase that misses its floor is retried as a whole unit, not just its
// failing sub-tests — that narrower retry is retryUntilSuccess's job.
func (r *Runner) runPhaseWithRetry(ctx context.Context, nc *networkContext, runID string, cfg Config, phase models.TestType) PhaseResult {
	maxRetries := phaseMaxRetries[phase]
	// retry.Execute's generic result is zeroed on a failing final attempt
	// (it only carries a value on success), so the last attempt's leaf
	// results are captured here rather than relied on from its return.
	var last PhaseResult
	_, err := retry.Execute(ctx, r.Retry, nc.spec.ChainID, &maxRetries, func(ctx context.Context) (PhaseResult, error) {
		pr := r.runPhase(ctx, nc, runID, cfg, phase)
		last = pr
		if !pr.Success {
			return pr, errBelowFloor(phase, pr.SuccessRate)
		}
		return pr, nil
	})
	if err != nil && last.TestCount == 0 {
		// Every attempt errored before producing any leaf results (e.g. the
		// phase implementation itself returned early) — synthesize a single
		// failing TestResult so the failure is visible in the Store.
		return PhaseResult{Success: false, TestCount: 1, Details: []models.TestResult{{
			RunID: runID, NetworkID: nc.spec.ID, TestType: phase, TestName: string(phase) + "_phase",
			Start: time.Now(), End: time.Now(), ErrorMessage: err.Error(), ErrorCategory: models.ErrorUnknown,
		}}}
	}
	return last
}

// rerunFailing reruns only the sub-tests that failed in phaseResult, up
// to maxRetryUntilSuccessAttempts times, merging successes back in
// (spec.md §4.G step 4e).
func (r *Runner) rerunFailing(ctx context.Context, nc *networkContext, runID string, cfg Config, phase models.TestType, phaseResult PhaseResult) PhaseResult {
	current := phaseResult
	for attempt := 0; attempt < maxRetryUntilSuccessAttempts && !current.Success; attempt++ {
		names := failedNames(current.Details)
		if len(names) == 0 {
			break
		}
		rerun := r.runPhaseSubset(ctx, nc, runID, cfg, phase, names)
		merged := mergeRerun(current.Details, rerun.Details)
		current = summarizePhase(phase, time.Now().Add(-current.Duration), merged)
	}
	return current
}
