package trainer

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/churnops/internal/features"
	"github.com/sells-group/churnops/internal/model"
	"github.com/sells-group/churnops/internal/resilience"
	"github.com/sells-group/churnops/internal/warehouse"
)

// Source yields KPI rows with features in schema order.
type Source interface {
	Load(ctx context.Context) ([]model.KPIRow, error)
	Describe() string
}

// WarehouseSource reads the KPI table from the warehouse.
type WarehouseSource struct {
	wh    warehouse.Warehouse
	query warehouse.KPIQuery
	retry resilience.RetryConfig
}

// NewWarehouseSource reads table through wh using schema's columns.
func NewWarehouseSource(wh warehouse.Warehouse, table string, schema *features.Schema, retry resilience.RetryConfig) *WarehouseSource {
	retry.OnRetry = resilience.RetryLogger("read_kpis", zap.String("table", table))
	return &WarehouseSource{
		wh:    wh,
		query: warehouse.KPIQuery{Table: table, Features: schema.Names(), Target: schema.Target},
		retry: retry,
	}
}

func (s *WarehouseSource) Load(ctx context.Context) ([]model.KPIRow, error) {
	rows, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]model.KPIRow, error) {
		return s.wh.ReadKPIs(ctx, s.query)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "trainer: read %s", s.query.Table)
	}
	return rows, nil
}

func (s *WarehouseSource) Describe() string { return "warehouse:" + s.query.Table }

// CSVSource reads a KPI export with a header row. Columns are matched by
// name; extra columns are ignored and empty cells are nulls.
type CSVSource struct {
	path   string
	schema *features.Schema
}

// NewCSVSource reads the file at path.
func NewCSVSource(path string, schema *features.Schema) *CSVSource {
	return &CSVSource{path: path, schema: schema}
}

func (s *CSVSource) Describe() string { return "csv:" + s.path }

func (s *CSVSource) Load(_ context.Context) ([]model.KPIRow, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, eris.Wrapf(err, "trainer: open %s", s.path)
	}
	defer f.Close() //nolint:errcheck
	return ReadCSV(f, s.schema)
}

// ReadCSV parses KPI rows from r.
func ReadCSV(r io.Reader, schema *features.Schema) ([]model.KPIRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "trainer: read csv header")
	}
	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}

	want := append(schema.Names(), schema.Target)
	pos := make([]int, len(want))
	var missing []string
	for i, name := range want {
		idx, ok := colIdx[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		pos[i] = idx
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("trainer: csv missing columns %s", strings.Join(missing, ", "))
	}

	var out []model.KPIRow
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "trainer: csv line %d", line)
		}
		vals := make([]*float64, len(want))
		for i, p := range pos {
			if p >= len(record) {
				continue
			}
			v, err := parseCell(record[p])
			if err != nil {
				return nil, eris.Wrapf(err, "trainer: csv line %d column %s", line, want[i])
			}
			vals[i] = v
		}
		n := schema.Len()
		out = append(out, model.KPIRow{Features: vals[:n], Target: vals[n]})
	}
	return out, nil
}

func parseCell(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "null", "nan", "none":
		return nil, nil
	case "true":
		v := 1.0
		return &v, nil
	case "false":
		v := 0.0
		return &v, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
