package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridianlabs/testorch/models"
)

// InsertTestRun persists the TestRun header and returns its internal id.
func (s *Store) InsertTestRun(ctx context.Context, run models.TestRun) (int64, error) {
	networks, err := json.Marshal(run.NetworkIDs)
	if err != nil {
		return 0, err
	}
	testTypes, err := json.Marshal(run.TestTypes)
	if err != nil {
		return 0, err
	}
	totals, err := json.Marshal(run.Totals)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO test_runs (run_id, start_time, mode, parallel, networks, test_types, totals, config, triggered_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.StartTime, string(run.Mode), run.Parallel, string(networks), string(testTypes), string(totals), run.RawConfig, nullIfEmpty(run.TriggeredBy))
	if err != nil {
		return 0, fmt.Errorf("store: insert test run: %w", err)
	}
	return res.LastInsertId()
}

// UpdateTestRun writes the final end time, duration, and totals for an
// already-inserted run, resolving runID (external or, if it parses as
// an integer internal id, that form too) to its internal id.
func (s *Store) UpdateTestRun(ctx context.Context, runID string, endTime time.Time, totals models.Totals) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	internalID, err := s.resolveInternalID(ctx, tx, runID)
	if err != nil {
		return err
	}
	totalsJSON, err := json.Marshal(totals)
	if err != nil {
		return err
	}

	var start time.Time
	if err := tx.QueryRowContext(ctx, `SELECT start_time FROM test_runs WHERE internal_id = ?`, internalID).Scan(&start); err != nil {
		return err
	}
	durationMs := endTime.Sub(start).Milliseconds()

	if _, err := tx.ExecContext(ctx, `
		UPDATE test_runs SET end_time = ?, duration_ms = ?, totals = ?, updated_at = CURRENT_TIMESTAMP
		WHERE internal_id = ?`, endTime, durationMs, string(totalsJSON), internalID); err != nil {
		return fmt.Errorf("store: update test run: %w", err)
	}
	return tx.Commit()
}

// InsertNetworkResult persists one per-(run, network) roll-up.
func (s *Store) InsertNetworkResult(ctx context.Context, result models.NetworkResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	internalID, err := s.resolveInternalID(ctx, tx, result.RunID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO network_results (run_internal_id, network_name, chain_id, tests, successes, failures, gas_used, cost_native, cost_usd, block_number_start, block_number_end, average_gas_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		internalID, result.NetworkID, result.ChainID, result.Totals.Tests, result.Totals.Successes, result.Totals.Failures,
		fmt.Sprint(result.Totals.GasUsed), result.Totals.CostNative, result.Totals.CostUSD,
		result.BlockNumberStart, result.BlockNumberEnd, result.AverageGasPriceWei.String()); err != nil {
		return fmt.Errorf("store: insert network result: %w", err)
	}
	return tx.Commit()
}

// InsertTestResult persists one leaf test outcome. Invariant enforced at
// the call site (runner): if success=false, errorMessage or
// errorCategory is set; if txHash is present, blockNumber is present.
func (s *Store) InsertTestResult(ctx context.Context, result models.TestResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	internalID, err := s.resolveInternalID(ctx, tx, result.RunID)
	if err != nil {
		return err
	}

	var metadataJSON []byte
	if len(result.Metadata) > 0 {
		metadataJSON, err = json.Marshal(result.Metadata)
		if err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO test_results (run_internal_id, network_name, test_type, test_name, success, start_time, end_time, duration_ms, gas_used, gas_price, tx_hash, block_number, error_message, error_category, cost_native, cost_usd, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		internalID, result.NetworkID, string(result.TestType), result.TestName, result.Success,
		result.Start, result.End, result.Duration.Milliseconds(), fmt.Sprint(result.GasUsed), result.GasPrice.String(),
		nullIfEmpty(result.TxHash), result.BlockNumber, nullIfEmpty(result.ErrorMessage), nullIfEmpty(string(result.ErrorCategory)),
		result.CostNative, result.CostUSD, nullIfEmptyBytes(metadataJSON)); err != nil {
		return fmt.Errorf("store: insert test result: %w", err)
	}
	return tx.Commit()
}

// InsertPerformanceMetric appends one metric sample.
func (s *Store) InsertPerformanceMetric(ctx context.Context, m models.PerformanceMetric) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	internalID, err := s.resolveInternalID(ctx, tx, m.RunID)
	if err != nil {
		return err
	}
	var extraJSON []byte
	if len(m.Extra) > 0 {
		extraJSON, err = json.Marshal(m.Extra)
		if err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO performance_metrics (run_internal_id, network_name, name, value, unit, timestamp, test_type, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		internalID, m.NetworkID, m.Name, m.Value, m.Unit, m.Timestamp, nullIfEmpty(string(m.TestType)), nullIfEmptyBytes(extraJSON)); err != nil {
		return fmt.Errorf("store: insert performance metric: %w", err)
	}
	return tx.Commit()
}

// InsertPerformanceMetrics is a convenience batch insert, one transaction
// per call (spec.md §4.H recordMetric/recordMetrics).
func (s *Store) InsertPerformanceMetrics(ctx context.Context, metrics []models.PerformanceMetric) error {
	for _, m := range metrics {
		if err := s.InsertPerformanceMetric(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// InsertNetworkStatus records one liveness probe.
func (s *Store) InsertNetworkStatus(ctx context.Context, st models.NetworkStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO network_status (network_name, chain_id, block_number, gas_price, response_time_ms, online, timestamp, rpc_url, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.NetworkID, st.ChainID, st.BlockNumber, st.GasPrice.String(), st.ResponseTimeMs, st.Online, st.Timestamp, st.RPCURL, nullIfEmpty(st.ErrorMessage))
	if err != nil {
		return fmt.Errorf("store: insert network status: %w", err)
	}
	return nil
}

// InsertAlert raises a new alert and returns its id.
func (s *Store) InsertAlert(ctx context.Context, a models.Alert) (int64, error) {
	var detailsJSON []byte
	var err error
	if len(a.Details) > 0 {
		detailsJSON, err = json.Marshal(a.Details)
		if err != nil {
			return 0, err
		}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (kind, severity, network_name, test_type, message, details, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Kind, string(a.Severity), nullIfEmpty(a.NetworkID), nullIfEmpty(string(a.TestType)), a.Message, nullIfEmptyBytes(detailsJSON), a.TriggeredAt)
	if err != nil {
		return 0, fmt.Errorf("store: insert alert: %w", err)
	}
	return res.LastInsertId()
}

// ResolveAlert marks an alert resolved at the given time.
func (s *Store) ResolveAlert(ctx context.Context, id int64, resolvedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`, resolvedAt, id)
	if err != nil {
		return fmt.Errorf("store: resolve alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("store: alert %d not found or already resolved", id)
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullIfEmptyBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
