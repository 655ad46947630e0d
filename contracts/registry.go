// Package contracts implements the Contract Registry: the authoritative
// "what is deployed where" index, layered over the Result Store's
// deployment tables, plus on-chain health probing.
package contracts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridianlabs/testorch/events"
	"github.com/meridianlabs/testorch/models"
	"github.com/meridianlabs/testorch/store"
)

// Registry is the Contract Registry, backed by a Result Store. Health
// probe failures raise an alert on bus.
type Registry struct {
	store *store.Store
	bus   *events.Bus
}

// New builds a Registry over an already-open Store, publishing health
// alerts on bus.
func New(s *store.Store, bus *events.Bus) *Registry {
	return &Registry{store: s, bus: bus}
}

// Save assigns a new deployment id (if unset), supersedes any previous
// active (chainId, type, name) row, and inserts the new deployment.
func (r *Registry) Save(ctx context.Context, d models.ContractDeployment) (models.ContractDeployment, error) {
	if d.DeploymentID == "" {
		d.DeploymentID = uuid.NewString()
	}
	if d.DeployedAt.IsZero() {
		d.DeployedAt = time.Now()
	}
	if err := r.store.SaveDeployment(ctx, d); err != nil {
		return models.ContractDeployment{}, fmt.Errorf("contracts: save %s: %w", d.Name, err)
	}
	return d, nil
}

// GetActive returns the current active deployment for (chainId, type, name).
func (r *Registry) GetActive(ctx context.Context, chainID uint64, contractType models.ContractType, name string) (models.ContractDeployment, bool, error) {
	return r.store.GetActiveDeployment(ctx, chainID, contractType, name)
}

// GetActiveByType returns every active deployment of a type on a chain.
func (r *Registry) GetActiveByType(ctx context.Context, chainID uint64, contractType models.ContractType) ([]models.ContractDeployment, error) {
	return r.store.GetActiveDeploymentsByType(ctx, chainID, contractType)
}

// GetAllByNetwork returns every deployment (active or not) on a chain.
func (r *Registry) GetAllByNetwork(ctx context.Context, chainID uint64) ([]models.ContractDeployment, error) {
	return r.store.GetAllDeploymentsByNetwork(ctx, chainID)
}

// GetABI returns the stored ABI blob for a deployment.
func (r *Registry) GetABI(ctx context.Context, deploymentID string) ([]byte, error) {
	return r.store.GetABI(ctx, deploymentID)
}

// MarkInactive flips one deployment's active flag off.
func (r *Registry) MarkInactive(ctx context.Context, deploymentID string) error {
	return r.store.MarkInactive(ctx, deploymentID)
}

// CleanupOldHealthChecks deletes health check rows older than days.
func (r *Registry) CleanupOldHealthChecks(ctx context.Context, days int) (int64, error) {
	return r.store.CleanupOldHealthChecks(ctx, days)
}

// GetStats returns deployment stats, scoped to chainID when non-zero.
func (r *Registry) GetStats(ctx context.Context, chainID uint64) (store.DeploymentStats, error) {
	return r.store.GetDeploymentStats(ctx, chainID)
}
