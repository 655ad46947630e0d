package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrPurgeNotConfirmed guards every purge operation against accidental
// calls; callers must pass confirm=true.
var ErrPurgeNotConfirmed = errors.New("store: purge requires explicit confirmation")

// Vacuum reclaims free space after a purge.
func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `VACUUM`)
	return err
}

// Optimize runs SQLite's query-planner statistics refresh.
func (s *Store) Optimize(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `PRAGMA optimize`)
	return err
}

// Stats summarizes row counts across every table, for operational
// visibility.
type Stats struct {
	TestRuns             int64
	TestResults          int64
	PerformanceMetrics   int64
	Alerts               int64
	ContractDeployments  int64
	ContractHealthChecks int64
}

// GetStats computes Stats with one query per table.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	queries := []struct {
		table string
		dest  *int64
	}{
		{"test_runs", &st.TestRuns},
		{"test_results", &st.TestResults},
		{"performance_metrics", &st.PerformanceMetrics},
		{"alerts", &st.Alerts},
		{"contract_deployments", &st.ContractDeployments},
		{"contract_health_checks", &st.ContractHealthChecks},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", q.table)).Scan(q.dest); err != nil {
			return Stats{}, fmt.Errorf("store: count %s: %w", q.table, err)
		}
	}
	return st, nil
}

// Backup copies the live database to path using SQLite's VACUUM INTO,
// which produces a consistent snapshot without blocking other readers.
func (s *Store) Backup(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path)
	if err != nil {
		return fmt.Errorf("store: backup to %s: %w", path, err)
	}
	return nil
}

// purgeFilter scopes one purge call. test_runs and its children
// (test_results, network_results, performance_metrics) are scoped by
// whereTestRuns/runArgs; network_status and alerts carry their own
// timestamp/network_name columns independent of test_runs and are scoped
// separately by whereNetworkStatus/whereAlerts.
type purgeFilter struct {
	whereTestRuns      string
	runArgs            []any
	whereNetworkStatus string
	nsArgs             []any
	whereAlerts        string
	alertArgs          []any
}

// purgeTables deletes the selected runs' children before the runs
// themselves, then the matching network_status and alerts rows, all in one
// transaction, then vacuums.
func (s *Store) purgeTables(ctx context.Context, confirm bool, f purgeFilter) error {
	if !confirm {
		return ErrPurgeNotConfirmed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	runIDQuery := "SELECT internal_id FROM test_runs"
	if f.whereTestRuns != "" {
		runIDQuery += " WHERE " + f.whereTestRuns
	}
	rows, err := tx.QueryContext(ctx, runIDQuery, f.runArgs...)
	if err != nil {
		return err
	}
	var internalIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		internalIDs = append(internalIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(internalIDs) > 0 {
		placeholders, idArgs := inClause(internalIDs)
		for _, table := range []string{"test_results", "network_results", "performance_metrics"} {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE run_internal_id IN (%s)", table, placeholders), idArgs...); err != nil {
				return fmt.Errorf("store: purge %s: %w", table, err)
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM test_runs WHERE internal_id IN (%s)", placeholders), idArgs...); err != nil {
			return fmt.Errorf("store: purge test_runs: %w", err)
		}
	}

	if err := deleteWhere(ctx, tx, "network_status", f.whereNetworkStatus, f.nsArgs); err != nil {
		return err
	}
	if err := deleteWhere(ctx, tx, "alerts", f.whereAlerts, f.alertArgs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return s.Vacuum(ctx)
}

// deleteWhere runs DELETE FROM table [WHERE where] with args, leaving the
// table untouched only when the transaction itself fails.
func deleteWhere(ctx context.Context, tx *sql.Tx, table, where string, args []any) error {
	q := "DELETE FROM " + table
	if where != "" {
		q += " WHERE " + where
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("store: purge %s: %w", table, err)
	}
	return nil
}

// PurgeAll deletes every run and its children, plus all network_status and
// alerts rows. Requires confirm=true.
func (s *Store) PurgeAll(ctx context.Context, confirm bool) error {
	return s.purgeTables(ctx, confirm, purgeFilter{})
}

// PurgeOlderThan deletes runs started more than days days ago, along with
// network_status and alerts rows older than the same cutoff. Requires
// confirm=true.
func (s *Store) PurgeOlderThan(ctx context.Context, days int, confirm bool) error {
	cutoff := time.Now().AddDate(0, 0, -days)
	return s.purgeTables(ctx, confirm, purgeFilter{
		whereTestRuns:      "start_time < ?",
		runArgs:            []any{cutoff},
		whereNetworkStatus: "timestamp < ?",
		nsArgs:             []any{cutoff},
		whereAlerts:        "triggered_at < ?",
		alertArgs:          []any{cutoff},
	})
}

// PurgeByNetwork deletes runs whose networks list contains name, along
// with network_status and alerts rows for that network. Requires
// confirm=true.
func (s *Store) PurgeByNetwork(ctx context.Context, name string, confirm bool) error {
	return s.purgeTables(ctx, confirm, purgeFilter{
		whereTestRuns:      "networks LIKE ?",
		runArgs:            []any{"%\"" + name + "\"%"},
		whereNetworkStatus: "network_name = ?",
		nsArgs:             []any{name},
		whereAlerts:        "network_name = ?",
		alertArgs:          []any{name},
	})
}

func inClause(ids []int64) (string, []any) {
	placeholders := ""
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = id
	}
	return placeholders, args
}
