package runner

import (
	"math/big"
	"time"

	"github.com/meridianlabs/testorch/models"
)

// TxOutcome is the terminal state of a single submitted test within a
// phase (spec.md §4.G): Submitted -> (Confirmed | Replaced -> Confirmed |
// TimedOut | Reverted | Failed(other)). Replaced-and-confirmed maps to
// success.
type TxOutcome string

const (
	OutcomeConfirmed         TxOutcome = "confirmed"
	OutcomeReplacedConfirmed TxOutcome = "replaced_confirmed"
	OutcomeTimedOut          TxOutcome = "timed_out"
	OutcomeReverted          TxOutcome = "reverted"
	OutcomeFailed            TxOutcome = "failed"
)

// Success reports whether outcome counts as a passing test.
func (o TxOutcome) Success() bool {
	return o == OutcomeConfirmed || o == OutcomeReplacedConfirmed
}

// PhaseResult is what a phase implementation returns (spec.md §4.G step
// 4d): "{success, testCount, successRate, duration, gasUsed, details}".
type PhaseResult struct {
	Success     bool
	TestCount   int
	SuccessRate float64
	Duration    time.Duration
	GasUsed     uint64
	Details     []models.TestResult
}

// meetsFloor reports whether the phase's success rate clears the
// phase-specific floor.
func meetsFloor(testType models.TestType, successRate float64) bool {
	floor, ok := phaseFloor[testType]
	if !ok {
		floor = 1.0
	}
	return successRate >= floor
}

// summarizePhase builds a PhaseResult from a slice of leaf results.
func summarizePhase(testType models.TestType, start time.Time, details []models.TestResult) PhaseResult {
	var successes int
	var gasUsed uint64
	for _, d := range details {
		if d.Success {
			successes++
		}
		gasUsed += d.GasUsed
	}
	rate := 1.0
	if len(details) > 0 {
		rate = float64(successes) / float64(len(details))
	}
	return PhaseResult{
		Success:     meetsFloor(testType, rate),
		TestCount:   len(details),
		SuccessRate: rate,
		Duration:    time.Since(start),
		GasUsed:     gasUsed,
		Details:     details,
	}
}

// failedNames returns the test names of every unsuccessful result, for
// the retryUntilSuccess re-run scope.
func failedNames(details []models.TestResult) []string {
	var out []string
	for _, d := range details {
		if !d.Success {
			out = append(out, d.TestName)
		}
	}
	return out
}

// failedResult builds a single-entry failing TestResult from a
// classified error, for phase implementations that fail before producing
// any sub-test outcomes (e.g. the artifact could not be loaded).
func failedResult(runID, networkID string, testType models.TestType, testName string, start time.Time, err error) models.TestResult {
	end := time.Now()
	category := models.ErrorUnknown
	if ce, ok := err.(*models.ClassifiedError); ok {
		category = ce.Category
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return models.TestResult{
		RunID: runID, NetworkID: networkID, TestType: testType, TestName: testName,
		Success: false, Start: start, End: end, Duration: end.Sub(start),
		ErrorMessage: msg, ErrorCategory: category,
	}
}

// costNative converts gasUsed * priceWei into a native-unit float for
// reporting (spec.md Totals.CostNative); USD conversion is out of scope
// here (the price-feed fetcher is an explicit Non-goal).
func costNative(gasUsed uint64, priceWei models.Wei) float64 {
	cost := new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), priceWei.Int())
	f := new(big.Float).Quo(new(big.Float).SetInt(cost), big.NewFloat(1e18))
	out, _ := f.Float64()
	return out
}

// derefU64 returns *p, or 0 if p is nil.
func derefU64(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}

// mergeRerun replaces entries in details whose TestName appears in
// rerun, keeping everything else as-is — used when retryUntilSuccess
// reruns only the failing sub-tests.
func mergeRerun(details []models.TestResult, rerun []models.TestResult) []models.TestResult {
	byName := make(map[string]models.TestResult, len(rerun))
	for _, r := range rerun {
		byName[r.TestName] = r
	}
	out := make([]models.TestResult, len(details))
	for i, d := range details {
		if r, ok := byName[d.TestName]; ok {
			out[i] = r
			continue
		}
		out[i] = d
	}
	return out
}
