package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/testorch/models"
)

func TestExecuteSucceedsWithoutRetry(t *testing.T) {
	m := NewManager(NewPolicyTable())
	calls := 0
	result, err := Execute(context.Background(), m, 1, nil, func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 1, calls)
}

func TestExecuteRetriesRetryableErrorsUntilSuccess(t *testing.T) {
	table := NewPolicyTable()
	table.Set(1, models.ErrorConnection, Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, JitterMax: 0})
	m := NewManager(table)

	calls := 0
	result, err := Execute(context.Background(), m, 1, nil, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("dial tcp: connection refused")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestExecuteNeverRetriesRevert(t *testing.T) {
	table := NewPolicyTable()
	table.Set(1, models.ErrorRevert, Policy{MaxRetries: 5, BaseDelay: time.Millisecond})
	m := NewManager(table)

	calls := 0
	_, err := Execute(context.Background(), m, 1, nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("execution reverted: insufficient balance")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var classified *models.ClassifiedError
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, models.ErrorRevert, classified.Category)
}

func TestExecuteStopsAfterMaxRetriesExhausted(t *testing.T) {
	table := NewPolicyTable()
	table.Set(7, models.ErrorTimeout, Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	m := NewManager(table)

	calls := 0
	_, err := Execute(context.Background(), m, 7, nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("request timeout")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestExecuteMaxRetriesOverrideWins(t *testing.T) {
	table := NewPolicyTable()
	table.Set(9, models.ErrorConnection, Policy{MaxRetries: 10, BaseDelay: time.Millisecond})
	m := NewManager(table)

	override := 0
	calls := 0
	_, err := Execute(context.Background(), m, 9, &override, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("connection refused")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteRespectsContextCancellation(t *testing.T) {
	m := NewManager(NewPolicyTable())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Execute(context.Background(), m, 1, nil, func(ctx context.Context) (int, error) {
		return 0, nil
	})
	require.NoError(t, err)

	_, err = Execute(ctx, m, 1, nil, func(c context.Context) (int, error) {
		t.Fatal("op must not run when ctx is already cancelled")
		return 0, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := CreateBreaker(2, 10*time.Millisecond)
	fail := func(ctx context.Context) error { return errors.New("boom") }

	_ = b.Call(context.Background(), fail)
	_ = b.Call(context.Background(), fail)
	assert.Equal(t, "open", b.State())

	err := b.Call(context.Background(), fail)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerHalfOpenRecoversOnSuccess(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	b := CreateBreaker(1, 5*time.Millisecond).WithClock(clock)
	_ = b.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	assert.Equal(t, "open", b.State())

	clock.now = clock.now.Add(10 * time.Millisecond)
	err := b.Call(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "closed", b.State())
}

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func TestBackoffForStaysWithinAsymmetricJitterBound(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Hour, JitterMax: 0.25}
	b := p.backoffFor()

	base := p.BaseDelay
	for k := 1; k <= 4; k++ {
		d := b.NextBackOff()
		lower := base
		upper := time.Duration(float64(base) * 1.25)
		assert.GreaterOrEqualf(t, d, lower, "attempt %d delay %s below base %s", k, d, lower)
		assert.LessOrEqualf(t, d, upper, "attempt %d delay %s above jittered ceiling %s", k, d, upper)
		base *= 2
	}
}

func TestBreakerRegistryReusesInstancePerKey(t *testing.T) {
	r := NewBreakerRegistry(3, time.Second)
	a := r.Get(1, models.ErrorGas)
	b := r.Get(1, models.ErrorGas)
	c := r.Get(1, models.ErrorTimeout)
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}
