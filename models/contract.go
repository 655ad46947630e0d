package models

import "time"

// ContractType classifies what a deployed contract is used for.
type ContractType string

const (
	ContractEVM     ContractType = "evm"
	ContractDeFi    ContractType = "defi"
	ContractLoad    ContractType = "load"
	ContractUnknown ContractType = "unknown"
)

// HealthStatus is the last-known liveness state of a deployment.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthFailed   HealthStatus = "failed"
)

// ContractDeployment is one row in the authoritative deployment index.
// For any (ChainID, Type, Name), at most one row has Active=true.
type ContractDeployment struct {
	DeploymentID    string         `json:"deployment_id"`
	NetworkID       string         `json:"network_id"`
	ChainID         uint64         `json:"chain_id"`
	Name            string         `json:"name"`
	Type            ContractType   `json:"type"`
	Address         string         `json:"address"`
	TxHash          string         `json:"tx_hash"`
	BlockNumber     uint64         `json:"block_number"`
	GasUsed         uint64         `json:"gas_used"`
	GasPrice        Wei            `json:"gas_price"`
	DeployedAt      time.Time      `json:"deployed_at"`
	Deployer        string         `json:"deployer"`
	ConstructorArgs []byte         `json:"constructor_args,omitempty"`
	ABI             []byte         `json:"abi"`
	BytecodeHash    string         `json:"bytecode_hash"`
	Version         int            `json:"version"`
	Active          bool           `json:"active"`
	Verified        bool           `json:"verified"`
	HealthStatus    HealthStatus   `json:"health_status"`
	LastHealthCheck *time.Time     `json:"last_health_check,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ArtifactSource  string         `json:"artifact_source,omitempty"`
}

// HealthCheck is one append-only health probe row, tied to a deployment by
// foreign key. A HealthCheck must never be persisted for a deployment that
// does not exist (the store silently no-ops that save, per spec policy).
type HealthCheck struct {
	DeploymentID     string         `json:"deployment_id"`
	CheckTime        time.Time      `json:"check_time"`
	Status           HealthStatus   `json:"status"`
	ResponseTimeMs   int64          `json:"response_time_ms"`
	GasPriceAtCheck  Wei            `json:"gas_price_at_check"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Checks           []CheckEntry   `json:"checks,omitempty"`
}

// CheckEntry is one individual probe performed during a health check
// (code fetch, block-number liveness, optional view-function call).
type CheckEntry struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Detail  string `json:"detail,omitempty"`
}

// Artifact is the consumed compiled-contract structure (§6): a compiled
// bytecode + ABI pair. Source compilation is out of scope; the core only
// consumes this pre-built shape.
type Artifact struct {
	ABI      []byte `json:"abi"`
	Bytecode string `json:"bytecode"` // hex, "0x"-prefixed
}
