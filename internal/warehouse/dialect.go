package warehouse

import (
	"fmt"
	"strings"
)

// dialect captures the differences between the database/sql backends.
type dialect struct {
	name      string
	floatType string
	// ddl returns the migration statements for the given table-name prefix.
	ddl func(prefix string) []string
}

var sqliteDialect = dialect{
	name:      "sqlite",
	floatType: "REAL",
	ddl: func(p string) []string {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %sraw_customers (
	run_id        TEXT    NOT NULL,
	batch_index   INTEGER NOT NULL,
	customer_id   TEXT    NOT NULL,
	company_name  TEXT    NOT NULL,
	plan          TEXT,
	mrr_raw       TEXT    NOT NULL,
	contract_date DATE    NOT NULL
)`, p),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %sraw_usage (
	run_id             TEXT    NOT NULL,
	batch_index        INTEGER NOT NULL,
	log_id             TEXT    NOT NULL,
	customer_id        TEXT    NOT NULL,
	log_date           DATE    NOT NULL,
	feature_used       TEXT    NOT NULL,
	minutes_on_feature INTEGER NOT NULL
)`, p),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %sraw_tickets (
	run_id      TEXT    NOT NULL,
	batch_index INTEGER NOT NULL,
	ticket_id   TEXT    NOT NULL,
	customer_id TEXT    NOT NULL,
	opened_at   DATE    NOT NULL,
	ticket_type TEXT    NOT NULL,
	priority    TEXT
)`, p),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %sraw_churn_target (
	run_id       TEXT    NOT NULL,
	batch_index  INTEGER NOT NULL,
	customer_id  TEXT    NOT NULL,
	churn_status INTEGER NOT NULL
)`, p),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %sgeneration_log (
	id              TEXT      PRIMARY KEY,
	project         TEXT      NOT NULL,
	status          TEXT      NOT NULL DEFAULT 'running',
	seed            INTEGER   NOT NULL,
	total_customers INTEGER   NOT NULL,
	batch_size      INTEGER   NOT NULL,
	batches_written INTEGER   NOT NULL DEFAULT 0,
	usage_rows      INTEGER   NOT NULL DEFAULT 0,
	ticket_rows     INTEGER   NOT NULL DEFAULT 0,
	churned         INTEGER   NOT NULL DEFAULT 0,
	error           TEXT,
	started_at      TIMESTAMP NOT NULL,
	completed_at    TIMESTAMP
)`, p),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %sgeneration_batches (
	run_id      TEXT      NOT NULL REFERENCES %sgeneration_log (id),
	batch_index INTEGER   NOT NULL,
	customers   INTEGER   NOT NULL,
	usage_rows  INTEGER   NOT NULL,
	tickets     INTEGER   NOT NULL,
	churned     INTEGER   NOT NULL,
	written_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, batch_index)
)`, p, p),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %[1]sidx_raw_customers_batch ON %[1]sraw_customers (run_id, batch_index)", p),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %[1]sidx_raw_usage_batch ON %[1]sraw_usage (run_id, batch_index)", p),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %[1]sidx_raw_tickets_batch ON %[1]sraw_tickets (run_id, batch_index)", p),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %[1]sidx_raw_churn_target_batch ON %[1]sraw_churn_target (run_id, batch_index)", p),
		}
	},
}

var mysqlDialect = dialect{
	name:      "mysql",
	floatType: "DOUBLE",
	ddl: func(p string) []string {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %sraw_customers (
	run_id        VARCHAR(36)   NOT NULL,
	batch_index   INT           NOT NULL,
	customer_id   VARCHAR(32)   NOT NULL,
	company_name  VARCHAR(255)  NOT NULL,
	plan          VARCHAR(32),
	mrr_raw       VARCHAR(32)   NOT NULL,
	contract_date DATE          NOT NULL,
	INDEX idx_batch (run_id, batch_index)
)`, p),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %sraw_usage (
	run_id             VARCHAR(36) NOT NULL,
	batch_index        INT         NOT NULL,
	log_id             VARCHAR(32) NOT NULL,
	customer_id        VARCHAR(32) NOT NULL,
	log_date           DATE        NOT NULL,
	feature_used       VARCHAR(64) NOT NULL,
	minutes_on_feature INT         NOT NULL,
	INDEX idx_batch (run_id, batch_index)
)`, p),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %sraw_tickets (
	run_id      VARCHAR(36) NOT NULL,
	batch_index INT         NOT NULL,
	ticket_id   VARCHAR(32) NOT NULL,
	customer_id VARCHAR(32) NOT NULL,
	opened_at   DATE        NOT NULL,
	ticket_type VARCHAR(64) NOT NULL,
	priority    VARCHAR(16),
	INDEX idx_batch (run_id, batch_index)
)`, p),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %sraw_churn_target (
	run_id       VARCHAR(36) NOT NULL,
	batch_index  INT         NOT NULL,
	customer_id  VARCHAR(32) NOT NULL,
	churn_status TINYINT     NOT NULL,
	INDEX idx_batch (run_id, batch_index)
)`, p),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %sgeneration_log (
	id              VARCHAR(36)  PRIMARY KEY,
	project         VARCHAR(255) NOT NULL,
	status          VARCHAR(16)  NOT NULL DEFAULT 'running',
	seed            BIGINT       NOT NULL,
	total_customers INT          NOT NULL,
	batch_size      INT          NOT NULL,
	batches_written INT          NOT NULL DEFAULT 0,
	usage_rows      BIGINT       NOT NULL DEFAULT 0,
	ticket_rows     BIGINT       NOT NULL DEFAULT 0,
	churned         BIGINT       NOT NULL DEFAULT 0,
	error           TEXT,
	started_at      DATETIME(6)  NOT NULL,
	completed_at    DATETIME(6) NULL,
	INDEX idx_started (started_at)
)`, p),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %sgeneration_batches (
	run_id      VARCHAR(36) NOT NULL,
	batch_index INT         NOT NULL,
	customers   BIGINT      NOT NULL,
	usage_rows  BIGINT      NOT NULL,
	tickets     BIGINT      NOT NULL,
	churned     BIGINT      NOT NULL,
	written_at  DATETIME(6) NOT NULL,
	PRIMARY KEY (run_id, batch_index)
)`, p),
		}
	},
}

// placeholders renders "(?, ?, ?), (?, ?, ?)" for rows of width cols.
func placeholders(rows, cols int) string {
	one := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	all := make([]string, rows)
	for i := range all {
		all[i] = one
	}
	return strings.Join(all, ", ")
}
