package contracts

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/meridianlabs/testorch/events"
	"github.com/meridianlabs/testorch/models"
)

// ChainReader is the subset of a chain client health checks need.
type ChainReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// HealthResult is what CheckHealth returns to the caller.
type HealthResult struct {
	Healthy        bool
	ResponseTimeMs int64
	Checks         []models.CheckEntry
}

// CheckHealth performs, in order: (1) fetch on-chain code at the
// deployment's address with bounded retry — empty code means failed;
// (2) fetch the latest block number to confirm network liveness; (3) if
// the ABI contains a zero-argument view function, invoke it. It records
// a HealthCheck row (if the deployment exists) and updates the cached
// health status on the deployment row.
func (r *Registry) CheckHealth(ctx context.Context, d models.ContractDeployment, chain ChainReader) HealthResult {
	start := time.Now()
	var checks []models.CheckEntry
	healthy := true

	code, err := fetchCodeWithRetry(ctx, chain, common.HexToAddress(d.Address), 3)
	switch {
	case err != nil:
		checks = append(checks, models.CheckEntry{Name: "code_at_address", Passed: false, Detail: err.Error()})
		healthy = false
	case len(code) == 0:
		checks = append(checks, models.CheckEntry{Name: "code_at_address", Passed: false, Detail: "no code at address"})
		healthy = false
	default:
		checks = append(checks, models.CheckEntry{Name: "code_at_address", Passed: true})
	}

	blockNumber, err := chain.BlockNumber(ctx)
	if err != nil {
		checks = append(checks, models.CheckEntry{Name: "block_number_liveness", Passed: false, Detail: err.Error()})
		healthy = false
	} else {
		checks = append(checks, models.CheckEntry{Name: "block_number_liveness", Passed: true, Detail: fmt.Sprintf("block=%d", blockNumber)})
	}

	if healthy {
		if viewFn, ok := zeroArgViewFunction(d.ABI); ok {
			call := ethereum.CallMsg{To: addrPtr(common.HexToAddress(d.Address)), Data: viewFn.ID}
			if _, err := chain.CallContract(ctx, call, nil); err != nil {
				checks = append(checks, models.CheckEntry{Name: "view_call:" + viewFn.Name, Passed: false, Detail: err.Error()})
				healthy = false
			} else {
				checks = append(checks, models.CheckEntry{Name: "view_call:" + viewFn.Name, Passed: true})
			}
		}
	}

	responseMs := time.Since(start).Milliseconds()
	status := models.HealthHealthy
	var errMsg string
	if !healthy {
		status = models.HealthFailed
		errMsg = "one or more health probes failed"
	}

	now := time.Now()
	_ = r.store.InsertHealthCheck(ctx, models.HealthCheck{
		DeploymentID: d.DeploymentID, CheckTime: now, Status: status, ResponseTimeMs: responseMs,
		ErrorMessage: errMsg, Checks: checks,
	})
	_ = r.store.UpdateHealthStatus(ctx, d.DeploymentID, status, now)

	if !healthy {
		alert := models.Alert{
			Kind: "contract_health", Severity: models.SeverityHigh, NetworkID: d.NetworkID,
			Message: fmt.Sprintf("contract %s (%s) failed health check: %s", d.Name, d.Address, errMsg),
			Details: map[string]any{"deploymentId": d.DeploymentID, "responseTimeMs": responseMs},
			TriggeredAt: now,
		}
		if id, err := r.store.InsertAlert(ctx, alert); err == nil {
			alert.ID = id
		}
		if r.bus != nil {
			r.bus.Publish(events.AlertTriggered, events.AlertTriggeredFields(alert))
		}
	}

	return HealthResult{Healthy: healthy, ResponseTimeMs: responseMs, Checks: checks}
}

// VerifyBatch runs CheckHealth for every contract in parallel and
// aggregates whether all of them are healthy.
func (r *Registry) VerifyBatch(ctx context.Context, deployments []models.ContractDeployment, chain ChainReader) (allHealthy bool, results map[string]HealthResult, err error) {
	results = make(map[string]HealthResult, len(deployments))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range deployments {
		d := d
		g.Go(func() error {
			res := r.CheckHealth(gctx, d, chain)
			mu.Lock()
			results[d.DeploymentID] = res
			mu.Unlock()
			return nil
		})
	}
	if waitErr := g.Wait(); waitErr != nil {
		return false, results, waitErr
	}
	allHealthy = true
	for _, res := range results {
		if !res.Healthy {
			allHealthy = false
		}
	}
	return allHealthy, results, nil
}

func fetchCodeWithRetry(ctx context.Context, chain ChainReader, addr common.Address, attempts int) ([]byte, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		code, err := chain.CodeAt(ctx, addr, nil)
		if err == nil {
			return code, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func zeroArgViewFunction(rawABI []byte) (*abi.Method, bool) {
	if len(rawABI) == 0 {
		return nil, false
	}
	parsed, err := abi.JSON(bytes.NewReader(rawABI))
	if err != nil {
		return nil, false
	}
	for _, m := range parsed.Methods {
		if len(m.Inputs) == 0 && (m.StateMutability == "view" || m.StateMutability == "pure") {
			method := m
			return &method, true
		}
	}
	return nil, false
}

func addrPtr(a common.Address) *common.Address {
	return &a
}
