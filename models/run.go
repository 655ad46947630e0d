package models

import "time"

// RunMode enumerates how a TestRun schedules work across networks.
type RunMode string

const (
	ModeStandard   RunMode = "standard"
	ModeSequential RunMode = "sequential"
	ModeParallel   RunMode = "parallel"
	ModeDiversified RunMode = "diversified"
	ModeStress     RunMode = "stress"
	ModeDeployment RunMode = "deployment"
)

// TestType enumerates the phases a network can be asked to run.
type TestType string

const (
	TestTypeDeployment TestType = "deployment"
	TestTypeEVM        TestType = "evm"
	TestTypeDeFi       TestType = "defi"
	TestTypeLoad       TestType = "load"
	TestTypeFinality   TestType = "finality"
)

// Totals is the shared roll-up shape used by TestRun and NetworkResult.
type Totals struct {
	Tests      int     `json:"tests"`
	Successes  int     `json:"successes"`
	Failures   int     `json:"failures"`
	GasUsed    uint64  `json:"gas_used"`
	CostNative float64 `json:"cost_native"`
	CostUSD    float64 `json:"cost_usd"`
}

// TestRun is the root aggregate for one orchestrated invocation.
type TestRun struct {
	RunID       string    `json:"run_id"` // external UUID
	InternalID  int64     `json:"internal_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time,omitempty"`
	Mode        RunMode   `json:"mode"`
	Parallel    bool      `json:"parallel"`
	NetworkIDs  []string  `json:"network_ids"`
	TestTypes   []TestType `json:"test_types"`
	Totals      Totals    `json:"totals"`
	RawConfig   string    `json:"raw_config"` // serialized RunConfig, opaque to the store
	TriggeredBy string    `json:"triggered_by,omitempty"`
}

// NetworkResult is the per-(runId, networkId) roll-up.
type NetworkResult struct {
	RunID             string `json:"run_id"`
	NetworkID         string `json:"network_id"`
	ChainID           uint64 `json:"chain_id"`
	Totals            Totals `json:"totals"`
	Success           bool   `json:"success"`
	BlockNumberStart  uint64 `json:"block_number_start"`
	BlockNumberEnd    uint64 `json:"block_number_end"`
	AverageGasPriceWei Wei   `json:"average_gas_price_wei"`
}

// TestResult is a single leaf test outcome.
type TestResult struct {
	RunID         string        `json:"run_id"`
	NetworkID     string        `json:"network_id"`
	TestType      TestType      `json:"test_type"`
	TestName      string        `json:"test_name"`
	Success       bool          `json:"success"`
	Start         time.Time     `json:"start"`
	End           time.Time     `json:"end"`
	Duration      time.Duration `json:"duration"`
	GasUsed       uint64        `json:"gas_used"`
	GasPrice      Wei           `json:"gas_price"`
	TxHash        string        `json:"tx_hash,omitempty"`
	BlockNumber   *uint64       `json:"block_number,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	ErrorCategory ErrorCategory `json:"error_category,omitempty"`
	CostNative    float64       `json:"cost_native"`
	CostUSD       float64       `json:"cost_usd"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// PerformanceMetric is one sample in a (networkId, name) time series.
type PerformanceMetric struct {
	RunID     string    `json:"run_id"`
	NetworkID string    `json:"network_id"`
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
	TestType  TestType  `json:"test_type,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// NetworkStatus is a point-in-time liveness probe result.
type NetworkStatus struct {
	NetworkID      string    `json:"network_id"`
	ChainID        uint64    `json:"chain_id"`
	BlockNumber    uint64    `json:"block_number"`
	GasPrice       Wei       `json:"gas_price"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Online         bool      `json:"online"`
	Timestamp      time.Time `json:"timestamp"`
	RPCURL         string    `json:"rpc_url"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// Alert is a raised condition, optionally tied to a network/test type.
type Alert struct {
	ID          int64          `json:"id"`
	Kind        string         `json:"kind"`
	Severity    Severity       `json:"severity"`
	NetworkID   string         `json:"network_id,omitempty"`
	TestType    TestType       `json:"test_type,omitempty"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	TriggeredAt time.Time      `json:"triggered_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
}
