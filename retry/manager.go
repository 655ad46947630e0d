package retry

import (
	"context"
	"time"

	"github.com/meridianlabs/testorch/models"
)

// Manager executes operations against the configured per-(chainId,
// errorCategory) retry policy, classifying errors and applying
// exponential backoff with jitter between attempts.
type Manager struct {
	policies *PolicyTable
}

// NewManager builds a Manager around the given policy table. A nil table
// falls back to an empty one (every lookup resolves to DefaultPolicy).
func NewManager(policies *PolicyTable) *Manager {
	if policies == nil {
		policies = NewPolicyTable()
	}
	return &Manager{policies: policies}
}

// Execute runs op, retrying according to the policy resolved for
// (chainID, <category of the most recent error>). maxRetriesOverride, if
// non-nil, replaces the resolved policy's MaxRetries for this call only.
// The last error is returned unwrapped as a *models.ClassifiedError if
// every attempt is exhausted or the error is not retryable.
func Execute[T any](ctx context.Context, m *Manager, chainID uint64, maxRetriesOverride *int, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr *models.ClassifiedError
	var bo interface{ NextBackOff() time.Duration }
	var lastCategory models.ErrorCategory
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		classified := Classify(err)
		lastErr = classified

		policy := m.policies.Resolve(chainID, classified.Category)
		maxRetries := policy.MaxRetries
		if maxRetriesOverride != nil {
			maxRetries = *maxRetriesOverride
		}

		if !classified.Retryable || attempt >= maxRetries {
			return zero, lastErr
		}

		if bo == nil || classified.Category != lastCategory {
			bo = policy.backoffFor()
			lastCategory = classified.Category
		}
		d := bo.NextBackOff()

		attempt++
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
