// Package runner implements the Test Runner: the only component in the
// system that creates concurrency. It orchestrates a TestRun across one
// or more networks, executing typed test phases, persisting outcomes
// through the Result Store, and publishing rollups on the Event Bus.
package runner

import (
	"time"

	"github.com/meridianlabs/testorch/models"
)

// Config enumerates the options a TestRun is launched with (spec.md
// §4.G "Configuration").
type Config struct {
	Networks          []string
	Tests             []models.TestType
	Mode              models.RunMode
	Parallel          bool
	MaxConcurrent     int
	Timeout           time.Duration
	Verbose           bool
	RetryUntilSuccess bool
	ContractType      models.ContractType
	PrivateKey        string
	TriggeredBy       string
}

// phaseOrder is the fixed order test phases run in, per spec.md §4.G
// ("build a phase queue from tests in fixed order").
var phaseOrder = []models.TestType{
	models.TestTypeDeployment,
	models.TestTypeEVM,
	models.TestTypeDeFi,
	models.TestTypeLoad,
	models.TestTypeFinality,
}

// phaseQueue returns phaseOrder filtered to the requested test types.
func phaseQueue(requested []models.TestType) []models.TestType {
	want := make(map[models.TestType]bool, len(requested))
	for _, t := range requested {
		want[t] = true
	}
	var out []models.TestType
	for _, p := range phaseOrder {
		if want[p] {
			out = append(out, p)
		}
	}
	return out
}

// phaseFloor is the success-rate floor each phase must meet to count as
// successful (spec.md §4.G).
var phaseFloor = map[models.TestType]float64{
	models.TestTypeDeployment: 1.0,
	models.TestTypeEVM:        1.0,
	models.TestTypeDeFi:       0.9,
	models.TestTypeLoad:       0.8,
	models.TestTypeFinality:   1.0,
}

// phaseMaxRetries is the maxRetries a phase's top-level RetryManager.execute
// call uses (spec.md §4.G: "maxRetries = policy(chainId, phase)"). Unlike
// the per-operation retry policy table in the retry package (keyed by
// error category), a phase is retried as a whole unit a small, bounded
// number of times; the category-aware backoff/breaker machinery still
// governs the individual RPC calls inside each phase.
var phaseMaxRetries = map[models.TestType]int{
	models.TestTypeDeployment: 1,
	models.TestTypeEVM:        2,
	models.TestTypeDeFi:       2,
	models.TestTypeLoad:       1,
	models.TestTypeFinality:   1,
}

// maxRetryUntilSuccessAttempts bounds the outer re-run loop when
// cfg.RetryUntilSuccess is set: at most 10 outer attempts (spec.md §4.G
// step 4e, Scenario S3).
const maxRetryUntilSuccessAttempts = 10
