package warehouse

import (
	"regexp"

	"github.com/sells-group/churnops/internal/model"
)

var identRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Table names, before dataset qualification.
const (
	TableCustomers = "raw_customers"
	TableUsage     = "raw_usage"
	TableTickets   = "raw_tickets"
	TableChurn     = "raw_churn_target"
	TableRuns      = "generation_log"
	TableBatches   = "generation_batches"
)

var batchKey = []string{"run_id", "batch_index"}

var (
	customerColumns = []string{"run_id", "batch_index", "customer_id", "company_name", "plan", "mrr_raw", "contract_date"}
	usageColumns    = []string{"run_id", "batch_index", "log_id", "customer_id", "log_date", "feature_used", "minutes_on_feature"}
	ticketColumns   = []string{"run_id", "batch_index", "ticket_id", "customer_id", "opened_at", "ticket_type", "priority"}
	churnColumns    = []string{"run_id", "batch_index", "customer_id", "churn_status"}
	batchColumns    = []string{"run_id", "batch_index", "customers", "usage_rows", "tickets", "churned", "written_at"}
)

// tableLoad is one raw table's rows within a batch.
type tableLoad struct {
	table   string
	columns []string
	rows    [][]any
}

// batchLoads renders a batch into rows for the four raw tables, in write order.
func batchLoads(runID string, b *model.Batch) []tableLoad {
	customers := make([][]any, len(b.Customers))
	for i, c := range b.Customers {
		customers[i] = []any{runID, b.Index, c.ID, c.CompanyName, nullable(c.Plan), c.MRRRaw, c.ContractDate}
	}

	tickets := make([][]any, len(b.Tickets))
	for i, t := range b.Tickets {
		tickets[i] = []any{runID, b.Index, t.ID, t.CustomerID, t.OpenedAt, t.Type, nullable(t.Priority)}
	}

	churn := make([][]any, len(b.Churn))
	for i, c := range b.Churn {
		churn[i] = []any{runID, b.Index, c.CustomerID, c.Status()}
	}

	return []tableLoad{
		{TableCustomers, customerColumns, customers},
		{TableUsage, usageColumns, usageRows(runID, b.Index, b.Usage)},
		{TableTickets, ticketColumns, tickets},
		{TableChurn, churnColumns, churn},
	}
}

func usageRows(runID string, index int, logs []model.UsageLog) [][]any {
	rows := make([][]any, len(logs))
	for i, u := range logs {
		rows[i] = []any{runID, index, u.ID, u.CustomerID, u.Date, u.Feature, u.Minutes}
	}
	return rows
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func batchResult(b *model.Batch, counts map[string]int64) *model.BatchResult {
	return &model.BatchResult{
		Index:     b.Index,
		Customers: counts[TableCustomers],
		Usage:     counts[TableUsage],
		Tickets:   counts[TableTickets],
		Churn:     int64(b.Churned()),
	}
}
