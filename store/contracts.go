package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridianlabs/testorch/models"
)

// SaveDeployment flips any existing active (chainId, type, name) row to
// inactive, then inserts deployment, all inside one transaction — the
// Contract Registry's uniqueness invariant is additionally enforced here
// at the store level, backed by the partial unique index in schema.go.
func (s *Store) SaveDeployment(ctx context.Context, d models.ContractDeployment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE contract_deployments SET active = 0
		WHERE chain_id = ? AND type = ? AND name = ? AND active = 1`,
		d.ChainID, string(d.Type), d.Name); err != nil {
		return fmt.Errorf("store: supersede previous deployment: %w", err)
	}

	var metadataJSON []byte
	if len(d.Metadata) > 0 {
		metadataJSON, err = json.Marshal(d.Metadata)
		if err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO contract_deployments (deployment_id, network_name, chain_id, name, type, address, tx_hash, block_number, gas_used, gas_price, deployed_at, deployer, constructor_args, abi, bytecode_hash, version, active, verified, health_status, metadata, artifact_source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)`,
		d.DeploymentID, d.NetworkID, d.ChainID, d.Name, string(d.Type), d.Address, d.TxHash, d.BlockNumber,
		fmt.Sprint(d.GasUsed), d.GasPrice.String(), d.DeployedAt, d.Deployer, d.ConstructorArgs, d.ABI, d.BytecodeHash,
		d.Version, d.Verified, string(models.HealthHealthy), nullIfEmptyBytes(metadataJSON), nullIfEmpty(d.ArtifactSource)); err != nil {
		return fmt.Errorf("store: insert deployment: %w", err)
	}
	return tx.Commit()
}

// GetActiveDeployment returns the current active deployment for
// (chainId, type, name), if any.
func (s *Store) GetActiveDeployment(ctx context.Context, chainID uint64, contractType models.ContractType, name string) (models.ContractDeployment, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT deployment_id, network_name, chain_id, name, type, address, tx_hash, block_number, gas_used, gas_price, deployed_at, deployer, constructor_args, abi, bytecode_hash, version, active, verified, health_status, last_health_check, metadata, artifact_source
		FROM contract_deployments WHERE chain_id = ? AND type = ? AND name = ? AND active = 1`, chainID, string(contractType), name)
	d, err := scanDeployment(row)
	if err == sql.ErrNoRows {
		return models.ContractDeployment{}, false, nil
	}
	if err != nil {
		return models.ContractDeployment{}, false, err
	}
	return d, true, nil
}

// GetActiveDeploymentsByType returns every active deployment of a type
// on a chain.
func (s *Store) GetActiveDeploymentsByType(ctx context.Context, chainID uint64, contractType models.ContractType) ([]models.ContractDeployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT deployment_id, network_name, chain_id, name, type, address, tx_hash, block_number, gas_used, gas_price, deployed_at, deployer, constructor_args, abi, bytecode_hash, version, active, verified, health_status, last_health_check, metadata, artifact_source
		FROM contract_deployments WHERE chain_id = ? AND type = ? AND active = 1`, chainID, string(contractType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeployments(rows)
}

// GetAllDeploymentsByNetwork returns every deployment (active or not) on
// a chain.
func (s *Store) GetAllDeploymentsByNetwork(ctx context.Context, chainID uint64) ([]models.ContractDeployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT deployment_id, network_name, chain_id, name, type, address, tx_hash, block_number, gas_used, gas_price, deployed_at, deployer, constructor_args, abi, bytecode_hash, version, active, verified, health_status, last_health_check, metadata, artifact_source
		FROM contract_deployments WHERE chain_id = ?`, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeployments(rows)
}

// GetABI returns the stored ABI blob for a deployment.
func (s *Store) GetABI(ctx context.Context, deploymentID string) ([]byte, error) {
	var abi []byte
	err := s.db.QueryRowContext(ctx, `SELECT abi FROM contract_deployments WHERE deployment_id = ?`, deploymentID).Scan(&abi)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: deployment %q not found", deploymentID)
	}
	return abi, err
}

// MarkInactive flips one deployment's active flag off directly.
func (s *Store) MarkInactive(ctx context.Context, deploymentID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE contract_deployments SET active = 0 WHERE deployment_id = ?`, deploymentID)
	return err
}

// UpdateHealthStatus sets the cached health status and last-checked
// timestamp on a deployment.
func (s *Store) UpdateHealthStatus(ctx context.Context, deploymentID string, status models.HealthStatus, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE contract_deployments SET health_status = ?, last_health_check = ? WHERE deployment_id = ?`, string(status), at, deploymentID)
	return err
}

// InsertHealthCheck records one probe. It silently no-ops if the
// deployment does not exist, matching the observed policy in spec.md §4.E
// rather than returning a foreign-key error to the caller.
func (s *Store) InsertHealthCheck(ctx context.Context, hc models.HealthCheck) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM contract_deployments WHERE deployment_id = ?)`, hc.DeploymentID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return nil
	}
	checksJSON, err := json.Marshal(hc.Checks)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contract_health_checks (deployment_id, check_time, status, response_time_ms, gas_price_at_check, error_message, checks)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		hc.DeploymentID, hc.CheckTime, string(hc.Status), hc.ResponseTimeMs, hc.GasPriceAtCheck.String(), nullIfEmpty(hc.ErrorMessage), string(checksJSON))
	return err
}

// CleanupOldHealthChecks deletes health check rows older than the given
// number of days, returning the count removed.
func (s *Store) CleanupOldHealthChecks(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res, err := s.db.ExecContext(ctx, `DELETE FROM contract_health_checks WHERE check_time < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeploymentStats summarizes the deployment index, optionally scoped to
// one chain.
type DeploymentStats struct {
	TotalDeployments  int
	ActiveDeployments int
	HealthyCount      int
	DegradedCount     int
	FailedCount       int
}

// GetDeploymentStats computes DeploymentStats, scoped to chainID when
// non-zero.
func (s *Store) GetDeploymentStats(ctx context.Context, chainID uint64) (DeploymentStats, error) {
	query := `SELECT
		COUNT(*),
		SUM(CASE WHEN active = 1 THEN 1 ELSE 0 END),
		SUM(CASE WHEN health_status = 'healthy' THEN 1 ELSE 0 END),
		SUM(CASE WHEN health_status = 'degraded' THEN 1 ELSE 0 END),
		SUM(CASE WHEN health_status = 'failed' THEN 1 ELSE 0 END)
		FROM contract_deployments`
	args := []any{}
	if chainID != 0 {
		query += " WHERE chain_id = ?"
		args = append(args, chainID)
	}
	var stats DeploymentStats
	var active, healthy, degraded, failed sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.TotalDeployments, &active, &healthy, &degraded, &failed); err != nil {
		return DeploymentStats{}, err
	}
	stats.ActiveDeployments = int(active.Int64)
	stats.HealthyCount = int(healthy.Int64)
	stats.DegradedCount = int(degraded.Int64)
	stats.FailedCount = int(failed.Int64)
	return stats, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDeployment(row scannable) (models.ContractDeployment, error) {
	var d models.ContractDeployment
	var gasUsed, gasPrice string
	var lastHealthCheck sql.NullTime
	var metadata, artifactSource sql.NullString
	err := row.Scan(&d.DeploymentID, &d.NetworkID, &d.ChainID, &d.Name, &d.Type, &d.Address, &d.TxHash, &d.BlockNumber,
		&gasUsed, &gasPrice, &d.DeployedAt, &d.Deployer, &d.ConstructorArgs, &d.ABI, &d.BytecodeHash, &d.Version,
		&d.Active, &d.Verified, &d.HealthStatus, &lastHealthCheck, &metadata, &artifactSource)
	if err != nil {
		return models.ContractDeployment{}, err
	}
	fmt.Sscan(gasUsed, &d.GasUsed)
	if w, werr := parseWei(gasPrice); werr == nil {
		d.GasPrice = w
	}
	if lastHealthCheck.Valid {
		t := lastHealthCheck.Time
		d.LastHealthCheck = &t
	}
	d.ArtifactSource = artifactSource.String
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &d.Metadata); err != nil {
			return models.ContractDeployment{}, err
		}
	}
	return d, nil
}

func scanDeployments(rows *sql.Rows) ([]models.ContractDeployment, error) {
	var out []models.ContractDeployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
