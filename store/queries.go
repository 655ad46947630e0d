package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/meridianlabs/testorch/models"
)

// TestRunFilter narrows GetTestRuns; zero-valued fields are unconstrained.
type TestRunFilter struct {
	Since   time.Time
	Mode    models.RunMode
	Network string
	Limit   int
}

// GetTestRuns returns runs newest-first matching the filter.
func (s *Store) GetTestRuns(ctx context.Context, f TestRunFilter) ([]models.TestRun, error) {
	var where []string
	var args []any
	if !f.Since.IsZero() {
		where = append(where, "start_time >= ?")
		args = append(args, f.Since)
	}
	if f.Mode != "" {
		where = append(where, "mode = ?")
		args = append(args, string(f.Mode))
	}
	if f.Network != "" {
		where = append(where, "networks LIKE ?")
		args = append(args, "%\""+f.Network+"\"%")
	}
	query := `SELECT internal_id, run_id, start_time, end_time, mode, parallel, networks, test_types, totals, config, triggered_by FROM test_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get test runs: %w", err)
	}
	defer rows.Close()

	var out []models.TestRun
	for rows.Next() {
		var run models.TestRun
		var endTime sql.NullTime
		var networksJSON, testTypesJSON, totalsJSON string
		var config, triggeredBy sql.NullString
		if err := rows.Scan(&run.InternalID, &run.RunID, &run.StartTime, &endTime, &run.Mode, &run.Parallel, &networksJSON, &testTypesJSON, &totalsJSON, &config, &triggeredBy); err != nil {
			return nil, err
		}
		if endTime.Valid {
			run.EndTime = endTime.Time
		}
		run.RawConfig = config.String
		run.TriggeredBy = triggeredBy.String
		if err := json.Unmarshal([]byte(networksJSON), &run.NetworkIDs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(testTypesJSON), &run.TestTypes); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(totalsJSON), &run.Totals); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// GetNetworkResults returns every per-network roll-up for one run.
func (s *Store) GetNetworkResults(ctx context.Context, runID string) ([]models.NetworkResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	internalID, err := s.resolveInternalID(ctx, tx, runID)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT network_name, chain_id, tests, successes, failures, gas_used, cost_native, cost_usd, block_number_start, block_number_end, average_gas_price
		FROM network_results WHERE run_internal_id = ?`, internalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.NetworkResult
	for rows.Next() {
		var r models.NetworkResult
		var gasUsed, avgGasPrice string
		var blockStart, blockEnd sql.NullInt64
		r.RunID = runID
		if err := rows.Scan(&r.NetworkID, &r.ChainID, &r.Totals.Tests, &r.Totals.Successes, &r.Totals.Failures, &gasUsed, &r.Totals.CostNative, &r.Totals.CostUSD, &blockStart, &blockEnd, &avgGasPrice); err != nil {
			return nil, err
		}
		fmt.Sscan(gasUsed, &r.Totals.GasUsed)
		r.BlockNumberStart = uint64(blockStart.Int64)
		r.BlockNumberEnd = uint64(blockEnd.Int64)
		r.Success = r.Totals.Failures == 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetTestResults returns leaf results for a run, optionally filtered to
// one network.
func (s *Store) GetTestResults(ctx context.Context, runID string, network string) ([]models.TestResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	internalID, err := s.resolveInternalID(ctx, tx, runID)
	if err != nil {
		return nil, err
	}

	query := `SELECT network_name, test_type, test_name, success, start_time, end_time, duration_ms, gas_used, gas_price, tx_hash, block_number, error_message, error_category, cost_native, cost_usd, metadata FROM test_results WHERE run_internal_id = ?`
	args := []any{internalID}
	if network != "" {
		query += " AND network_name = ?"
		args = append(args, network)
	}

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TestResult
	for rows.Next() {
		var r models.TestResult
		var gasUsed, gasPrice string
		var txHash, errorMessage, errorCategory, metadata sql.NullString
		var blockNumber sql.NullInt64
		var durationMs int64
		r.RunID = runID
		if err := rows.Scan(&r.NetworkID, &r.TestType, &r.TestName, &r.Success, &r.Start, &r.End, &durationMs, &gasUsed, &gasPrice, &txHash, &blockNumber, &errorMessage, &errorCategory, &r.CostNative, &r.CostUSD, &metadata); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		fmt.Sscan(gasUsed, &r.GasUsed)
		if w, err := parseWei(gasPrice); err == nil {
			r.GasPrice = w
		}
		r.TxHash = txHash.String
		if blockNumber.Valid {
			bn := uint64(blockNumber.Int64)
			r.BlockNumber = &bn
		}
		r.ErrorMessage = errorMessage.String
		r.ErrorCategory = models.ErrorCategory(errorCategory.String)
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &r.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PerformanceMetricFilter narrows GetPerformanceMetrics.
type PerformanceMetricFilter struct {
	Network string
	Name    string
	Since   time.Time
	Until   time.Time
}

// GetPerformanceMetrics returns matching samples ordered by timestamp
// ascending (spec.md §4.H getTimeSeries ordering contract).
func (s *Store) GetPerformanceMetrics(ctx context.Context, f PerformanceMetricFilter) ([]models.PerformanceMetric, error) {
	var where []string
	var args []any
	if f.Network != "" {
		where = append(where, "network_name = ?")
		args = append(args, f.Network)
	}
	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since)
	}
	if !f.Until.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, f.Until)
	}
	query := `SELECT network_name, name, value, unit, timestamp, test_type, extra FROM performance_metrics`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get performance metrics: %w", err)
	}
	defer rows.Close()

	var out []models.PerformanceMetric
	for rows.Next() {
		var m models.PerformanceMetric
		var unit, testType, extra sql.NullString
		if err := rows.Scan(&m.NetworkID, &m.Name, &m.Value, &unit, &m.Timestamp, &testType, &extra); err != nil {
			return nil, err
		}
		m.Unit = unit.String
		m.TestType = models.TestType(testType.String)
		if extra.Valid {
			if err := json.Unmarshal([]byte(extra.String), &m.Extra); err != nil {
				return nil, err
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// NetworkStatusFilter narrows GetNetworkStatus.
type NetworkStatusFilter struct {
	Network string
	Since   time.Time
	Limit   int
}

// GetNetworkStatus returns probes newest-first matching the filter.
func (s *Store) GetNetworkStatus(ctx context.Context, f NetworkStatusFilter) ([]models.NetworkStatus, error) {
	var where []string
	var args []any
	if f.Network != "" {
		where = append(where, "network_name = ?")
		args = append(args, f.Network)
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since)
	}
	query := `SELECT network_name, chain_id, block_number, gas_price, response_time_ms, online, timestamp, rpc_url, error_message FROM network_status`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get network status: %w", err)
	}
	defer rows.Close()

	var out []models.NetworkStatus
	for rows.Next() {
		var st models.NetworkStatus
		var gasPrice sql.NullString
		var blockNumber sql.NullInt64
		var errorMessage sql.NullString
		if err := rows.Scan(&st.NetworkID, &st.ChainID, &blockNumber, &gasPrice, &st.ResponseTimeMs, &st.Online, &st.Timestamp, &st.RPCURL, &errorMessage); err != nil {
			return nil, err
		}
		st.BlockNumber = uint64(blockNumber.Int64)
		if w, err := parseWei(gasPrice.String); err == nil {
			st.GasPrice = w
		}
		st.ErrorMessage = errorMessage.String
		out = append(out, st)
	}
	return out, rows.Err()
}

// AlertFilter narrows GetAlerts.
type AlertFilter struct {
	Network        string
	Severity       models.Severity
	UnresolvedOnly bool
}

// GetAlerts returns matching alerts newest-first.
func (s *Store) GetAlerts(ctx context.Context, f AlertFilter) ([]models.Alert, error) {
	var where []string
	var args []any
	if f.Network != "" {
		where = append(where, "network_name = ?")
		args = append(args, f.Network)
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if f.UnresolvedOnly {
		where = append(where, "resolved_at IS NULL")
	}
	query := `SELECT id, kind, severity, network_name, test_type, message, details, triggered_at, resolved_at FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY triggered_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		var a models.Alert
		var network, testType, details sql.NullString
		var resolvedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.Kind, &a.Severity, &network, &testType, &a.Message, &details, &a.TriggeredAt, &resolvedAt); err != nil {
			return nil, err
		}
		a.NetworkID = network.String
		a.TestType = models.TestType(testType.String)
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &a.Details); err != nil {
				return nil, err
			}
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			a.ResolvedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func parseWei(s string) (models.Wei, error) {
	if s == "" {
		return models.ZeroWei(), nil
	}
	var w models.Wei
	if err := w.UnmarshalJSON([]byte(`"` + s + `"`)); err != nil {
		return models.ZeroWei(), err
	}
	return w, nil
}
