package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/churnops/internal/model"
)

func timePtr(t time.Time) *time.Time { return &t }

func testRuns(now time.Time) []model.GenerationRun {
	return []model.GenerationRun{
		{
			ID:             "abc12345-6789-0000-0000-000000000000",
			Status:         model.RunStatusComplete,
			Seed:           42,
			TotalCustomers: 1000,
			BatchSize:      300,
			BatchesWritten: 4,
			UsageRows:      51234,
			TicketRows:     2048,
			Churned:        180,
			StartedAt:      now,
			CompletedAt:    timePtr(now.Add(90 * time.Second)),
		},
		{
			ID:             "def12345-6789-0000-0000-000000000000",
			Status:         model.RunStatusFailed,
			Seed:           7,
			TotalCustomers: 1000,
			BatchSize:      500,
			BatchesWritten: 1,
			Error:          "generate: batch 1: connection refused",
			StartedAt:      now.Add(-time.Hour),
			CompletedAt:    timePtr(now.Add(-59 * time.Minute)),
		},
		{
			ID:        "ghi12345",
			Status:    model.RunStatusRunning,
			StartedAt: now.Add(-2 * time.Hour),
		},
	}
}

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)

	var buf bytes.Buffer
	formatRunsList(&buf, testRuns(now))

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "4/4")
	assert.Contains(t, output, "51234")
	assert.Contains(t, output, "2026-06-15 10:30")
	assert.Contains(t, output, "1m30s")
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "1/2")
	assert.Contains(t, output, "error: generate: batch 1: connection refused")
	assert.Contains(t, output, "running")
}

func TestRunsStats(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

	s := computeRunStats(testRuns(now))
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Running)
	assert.Equal(t, int64(1000), s.Customers)
	assert.Equal(t, int64(180), s.Churned)
	assert.InDelta(t, 90.0, s.AvgDurSecs, 0.01)

	var buf bytes.Buffer
	formatRunStats(&buf, s)
	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "Churn rate:")
	assert.Contains(t, output, "18.0%")
	assert.Contains(t, output, "90.0s")
}

func TestRunsStats_Empty(t *testing.T) {
	s := computeRunStats(nil)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.AvgDurSecs)

	var buf bytes.Buffer
	formatRunStats(&buf, s)
	assert.NotContains(t, buf.String(), "Churn rate")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hello w...", truncate("hello world!", 10))
}
