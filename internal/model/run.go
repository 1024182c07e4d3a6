package model

import "time"

// RunStatus represents the state of a generation run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// WriteMode selects how a batch lands in the raw tables.
type WriteMode string

const (
	// WriteReplace empties the raw tables before loading.
	WriteReplace WriteMode = "replace"
	// WriteAppend adds rows to whatever the tables hold.
	WriteAppend WriteMode = "append"
)

// OrphanBatchIndex tags the orphan usage rows appended after the last batch.
const OrphanBatchIndex = -1

// GenerationRun is one row of the generation log.
type GenerationRun struct {
	ID             string     `json:"id"`
	Project        string     `json:"project"`
	Status         RunStatus  `json:"status"`
	Seed           uint64     `json:"seed"`
	TotalCustomers int        `json:"total_customers"`
	BatchSize      int        `json:"batch_size"`
	BatchesWritten int        `json:"batches_written"`
	UsageRows      int64      `json:"usage_rows"`
	TicketRows     int64      `json:"ticket_rows"`
	Churned        int64      `json:"churned"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// BatchResult holds the row counts of one committed batch.
type BatchResult struct {
	Index     int   `json:"index"`
	Customers int64 `json:"customers"`
	Usage     int64 `json:"usage"`
	Tickets   int64 `json:"tickets"`
	Churn     int64 `json:"churn"`
}

// RunTotals summarizes a finished run.
type RunTotals struct {
	Customers int64 `json:"customers"`
	UsageRows int64 `json:"usage_rows"`
	Tickets   int64 `json:"tickets"`
	Churned   int64 `json:"churned"`
	Batches   int   `json:"batches"`
}
