package store

// schemaDDL is applied idempotently (IF NOT EXISTS) on every Open. Table
// and column names are semantic per spec.md §4.E; JSON-shaped columns
// (networks, testTypes, totals, config, metadata, details, checks,
// constructorArgs, abi, extra) are stored as TEXT/BLOB and
// marshaled/unmarshaled at the Go boundary.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS test_runs (
	internal_id   INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL UNIQUE,
	start_time    DATETIME NOT NULL,
	end_time      DATETIME,
	duration_ms   INTEGER,
	mode          TEXT NOT NULL,
	parallel      INTEGER NOT NULL DEFAULT 0,
	networks      TEXT NOT NULL,
	test_types    TEXT NOT NULL,
	totals        TEXT NOT NULL,
	config        TEXT,
	triggered_by  TEXT,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS network_results (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	run_internal_id    INTEGER NOT NULL REFERENCES test_runs(internal_id),
	network_name       TEXT NOT NULL,
	chain_id           INTEGER NOT NULL,
	tests              INTEGER NOT NULL DEFAULT 0,
	successes          INTEGER NOT NULL DEFAULT 0,
	failures           INTEGER NOT NULL DEFAULT 0,
	gas_used           TEXT NOT NULL DEFAULT '0',
	cost_native        TEXT NOT NULL DEFAULT '0',
	cost_usd           REAL NOT NULL DEFAULT 0,
	block_number_start INTEGER,
	block_number_end   INTEGER,
	average_gas_price  TEXT
);
CREATE INDEX IF NOT EXISTS idx_network_results_run ON network_results(run_internal_id);

CREATE TABLE IF NOT EXISTS test_results (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_internal_id INTEGER NOT NULL REFERENCES test_runs(internal_id),
	network_name    TEXT NOT NULL,
	test_type       TEXT NOT NULL,
	test_name       TEXT NOT NULL,
	success         INTEGER NOT NULL,
	start_time      DATETIME NOT NULL,
	end_time        DATETIME NOT NULL,
	duration_ms     INTEGER NOT NULL,
	gas_used        TEXT NOT NULL DEFAULT '0',
	gas_price       TEXT NOT NULL DEFAULT '0',
	tx_hash         TEXT,
	block_number    INTEGER,
	error_message   TEXT,
	error_category  TEXT,
	cost_native     TEXT NOT NULL DEFAULT '0',
	cost_usd        REAL NOT NULL DEFAULT 0,
	metadata        TEXT
);
CREATE INDEX IF NOT EXISTS idx_test_results_run ON test_results(run_internal_id);
CREATE INDEX IF NOT EXISTS idx_test_results_network ON test_results(network_name);

CREATE TABLE IF NOT EXISTS performance_metrics (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_internal_id INTEGER NOT NULL REFERENCES test_runs(internal_id),
	network_name    TEXT NOT NULL,
	name            TEXT NOT NULL,
	value           REAL NOT NULL,
	unit            TEXT,
	timestamp       DATETIME NOT NULL,
	test_type       TEXT,
	extra           TEXT
);
CREATE INDEX IF NOT EXISTS idx_performance_metrics_run ON performance_metrics(run_internal_id);
CREATE INDEX IF NOT EXISTS idx_performance_metrics_series ON performance_metrics(network_name, name, timestamp);

CREATE TABLE IF NOT EXISTS network_status (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	network_name    TEXT NOT NULL,
	chain_id        INTEGER NOT NULL,
	block_number    INTEGER,
	gas_price       TEXT,
	response_time_ms INTEGER,
	online          INTEGER NOT NULL,
	timestamp       DATETIME NOT NULL,
	rpc_url         TEXT,
	error_message   TEXT
);
CREATE INDEX IF NOT EXISTS idx_network_status_network ON network_status(network_name, timestamp);

CREATE TABLE IF NOT EXISTS alerts (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	kind         TEXT NOT NULL,
	severity     TEXT NOT NULL,
	network_name TEXT,
	test_type    TEXT,
	message      TEXT NOT NULL,
	details      TEXT,
	triggered_at DATETIME NOT NULL,
	resolved_at  DATETIME
);
CREATE INDEX IF NOT EXISTS idx_alerts_network ON alerts(network_name);

CREATE TABLE IF NOT EXISTS contract_deployments (
	deployment_id    TEXT PRIMARY KEY,
	network_name     TEXT NOT NULL,
	chain_id         INTEGER NOT NULL,
	name             TEXT NOT NULL,
	type             TEXT NOT NULL,
	address          TEXT NOT NULL,
	tx_hash          TEXT NOT NULL,
	block_number     INTEGER NOT NULL,
	gas_used         TEXT NOT NULL DEFAULT '0',
	gas_price        TEXT NOT NULL DEFAULT '0',
	deployed_at      DATETIME NOT NULL,
	deployer         TEXT NOT NULL,
	constructor_args BLOB,
	abi              BLOB NOT NULL,
	bytecode_hash    TEXT NOT NULL,
	version          INTEGER NOT NULL DEFAULT 1,
	active           INTEGER NOT NULL DEFAULT 1,
	verified         INTEGER NOT NULL DEFAULT 0,
	health_status    TEXT NOT NULL DEFAULT 'healthy',
	last_health_check DATETIME,
	metadata         TEXT,
	artifact_source  TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_contract_deployments_active
	ON contract_deployments(chain_id, type, name)
	WHERE active = 1;
CREATE INDEX IF NOT EXISTS idx_contract_deployments_chain ON contract_deployments(chain_id, type, name, active);

CREATE TABLE IF NOT EXISTS contract_health_checks (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	deployment_id    TEXT NOT NULL REFERENCES contract_deployments(deployment_id),
	check_time       DATETIME NOT NULL,
	status           TEXT NOT NULL,
	response_time_ms INTEGER NOT NULL,
	gas_price_at_check TEXT NOT NULL DEFAULT '0',
	error_message    TEXT,
	checks           TEXT
);
CREATE INDEX IF NOT EXISTS idx_contract_health_checks_deployment ON contract_health_checks(deployment_id);
`
