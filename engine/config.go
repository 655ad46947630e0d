package engine

import "time"

// Config is the public configuration surface for the Engine facade: it
// narrows and wires the individual component configs so a caller (the
// composition-root CLI, or an embedding program) need only set a handful
// of top-level knobs (spec.md §2, "cross-cutting").
type Config struct {
	// RegistryDir is the directory of network-spec YAML files.
	RegistryDir string
	// WatchRegistry enables fsnotify-driven hot reload of RegistryDir.
	WatchRegistry bool

	// StorePath is the SQLite database file backing the Result Store.
	StorePath string

	// PoolIdleWindow is the Resource Pool's idle-provider eviction window;
	// <= 0 disables eviction.
	PoolIdleWindow time.Duration

	// BreakerFailureThreshold and BreakerRecoveryTimeout configure every
	// circuit breaker the Retry Manager creates (one per chainId/category).
	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration

	// MetricsEnabled registers Prometheus collectors for the Event Bus.
	// When false, components are built with a nil registerer.
	MetricsEnabled bool
}

// Defaults returns a Config with reasonable defaults for local/manual
// operation, mirroring the teacher's engine.Defaults().
func Defaults() Config {
	return Config{
		RegistryDir:             "testdata/networks",
		WatchRegistry:           false,
		StorePath:               "./data/test-results.db",
		PoolIdleWindow:          5 * time.Minute,
		BreakerFailureThreshold: 5,
		BreakerRecoveryTimeout:  30 * time.Second,
		MetricsEnabled:          false,
	}
}
