// Package retry implements the Retry Manager: per-(chainId, errorCategory)
// exponential backoff with jitter, plus a circuit breaker factory.
package retry

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/meridianlabs/testorch/models"
)

// Policy is the resolved retry configuration for one (chainId, category)
// pair.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	JitterMax  float64 // fraction, e.g. 0.25 for up to +25%
}

// DefaultPolicy is used whenever no network-specific override exists.
var DefaultPolicy = Policy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second, JitterMax: 0.25}

// PolicyTable resolves (chainId, errorCategory) -> Policy, falling back to
// the package DefaultPolicy when no override is set for that pair.
type PolicyTable struct {
	perChain map[uint64]map[models.ErrorCategory]Policy
	fallback Policy
}

// NewPolicyTable builds an empty table using DefaultPolicy as the fallback.
func NewPolicyTable() *PolicyTable {
	return &PolicyTable{perChain: map[uint64]map[models.ErrorCategory]Policy{}, fallback: DefaultPolicy}
}

// Set installs an override for (chainId, category). For example chain X
// may set gas.MaxRetries=1 to make gas rejections effectively
// non-retryable, while timeout.MaxRetries=6 tolerates slow networks.
func (t *PolicyTable) Set(chainID uint64, category models.ErrorCategory, p Policy) {
	m, ok := t.perChain[chainID]
	if !ok {
		m = map[models.ErrorCategory]Policy{}
		t.perChain[chainID] = m
	}
	m[category] = p
}

// Resolve looks up the policy for (chainID, category), falling back to the
// table-wide default when no override exists. Reverts are forced to
// MaxRetries=0 regardless of any configured override, since reverts are
// never retried per spec.md §4.C.
func (t *PolicyTable) Resolve(chainID uint64, category models.ErrorCategory) Policy {
	p := t.fallback
	if m, ok := t.perChain[chainID]; ok {
		if override, ok := m[category]; ok {
			p = override
		}
	}
	if category == models.ErrorRevert {
		p.MaxRetries = 0
	}
	return p
}

// backoffFor builds an exponential sequence matching this policy: delay for
// attempt k is baseDelay × 2^(k−1), capped at maxDelay, then widened by
// jitter that only ever adds — [d, d×(1+jitterMax)] — never subtracts;
// the jittered delay is capped at maxDelay again.
// cenkalti/backoff's own RandomizationFactor jitters symmetrically
// (currentInterval×(1±RandomizationFactor)), which can undershoot
// baseDelay×2^(k−1); asymmetricBackOff wraps it with RandomizationFactor=0
// and applies the one-sided jitter itself. Attempt-count enforcement is the
// caller's responsibility — MaxElapsedTime is left unbounded here.
func (p Policy) backoffFor() *asymmetricBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return &asymmetricBackOff{inner: b, jitterMax: p.JitterMax, maxDelay: p.MaxDelay}
}

// asymmetricBackOff adapts a jitter-free cenkalti/backoff.ExponentialBackOff
// into one with one-sided jitter: NextBackOff() never returns less than the
// unjittered delay.
type asymmetricBackOff struct {
	inner     *backoff.ExponentialBackOff
	jitterMax float64
	maxDelay  time.Duration
}

func (a *asymmetricBackOff) NextBackOff() time.Duration {
	d := a.inner.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	jittered := time.Duration(float64(d) * (1 + rand.Float64()*a.jitterMax))
	if a.maxDelay > 0 && jittered > a.maxDelay {
		jittered = a.maxDelay
	}
	return jittered
}
