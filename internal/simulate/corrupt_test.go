package simulate

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/churnops/internal/config"
	"github.com/sells-group/churnops/internal/model"
)

func itoa(i int) string { return strconv.Itoa(i) }

func syntheticBatch(customers, tickets int) *model.Batch {
	b := &model.Batch{}
	day := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range customers {
		b.Customers = append(b.Customers, model.NewRawCustomer(model.Customer{
			ID:           model.CustomerID(i),
			CompanyName:  "Acme " + itoa(i),
			Plan:         model.PlanPro,
			MRR:          250.5,
			ContractDate: day,
		}))
	}
	for i := range tickets {
		b.Tickets = append(b.Tickets, model.NewRawTicket(model.SupportTicket{
			ID:         "tic_" + itoa(i+1),
			CustomerID: model.CustomerID(i % max(1, customers)),
			OpenedAt:   day,
			Type:       model.TicketQuestion,
			Priority:   "Medium",
		}))
	}
	return b
}

func TestFormatBRL(t *testing.T) {
	assert.Equal(t, "R$ 1234,56", FormatBRL(1234.56))
	assert.Equal(t, "R$ 4999,99", FormatBRL(4999.99))
	assert.Equal(t, "R$ 99,90", FormatBRL(99.9))
	assert.Equal(t, "R$ 250,00", FormatBRL(250))

	for _, v := range []float64{50, 149.99, 1000.01, 4321.5} {
		raw := strings.ReplaceAll(strings.TrimPrefix(FormatBRL(v), "R$ "), ",", ".")
		got, err := strconv.ParseFloat(raw, 64)
		require.NoError(t, err, raw)
		assert.InDelta(t, v, got, 1e-9)
	}
}

func TestCorruptCounts(t *testing.T) {
	s := New(testGeneratorConfig(), testNow)
	b := syntheticBatch(200, 300)

	st := s.Corrupt(b)

	assert.Equal(t, 10, st.PlanNull)
	assert.Equal(t, 20, st.PlanTypo)
	assert.Equal(t, 60, st.MRRCurrency)
	assert.Equal(t, 4, st.MRRInvalid)
	assert.Equal(t, 30, st.PriorityNull)
	assert.Equal(t, 30, st.TicketTypo)
	assert.Equal(t, 3, st.TicketDupe)
	assert.Len(t, b.Tickets, 303)

	invalid, currency := 0, 0
	for _, c := range b.Customers {
		switch {
		case c.MRRRaw == InvalidMRR:
			invalid++
		case strings.HasPrefix(c.MRRRaw, "R$ "):
			currency++
			assert.Equal(t, "R$ 250,50", c.MRRRaw)
		default:
			assert.Equal(t, "250.5", c.MRRRaw)
		}
		if c.Plan != nil && *c.Plan != string(model.PlanPro) {
			assert.Contains(t, planTypos, *c.Plan)
		}
	}
	assert.Equal(t, 4, invalid)
	// Invalid may overwrite rows that were formatted as currency.
	assert.GreaterOrEqual(t, currency, 56)
	assert.LessOrEqual(t, currency, 60)
}

func TestCorruptDuplicatesAtLeastOne(t *testing.T) {
	s := New(testGeneratorConfig(), testNow)
	b := syntheticBatch(10, 20)

	st := s.Corrupt(b)
	assert.Equal(t, 1, st.TicketDupe)
	require.Len(t, b.Tickets, 21)

	ids := map[string]int{}
	for _, tk := range b.Tickets {
		ids[tk.ID]++
	}
	dupes := 0
	for _, n := range ids {
		if n > 1 {
			dupes++
		}
	}
	assert.Equal(t, 1, dupes)
}

func TestCorruptSkipsEmptyTickets(t *testing.T) {
	s := New(testGeneratorConfig(), testNow)
	b := syntheticBatch(20, 0)

	st := s.Corrupt(b)
	assert.Zero(t, st.PriorityNull)
	assert.Zero(t, st.TicketTypo)
	assert.Zero(t, st.TicketDupe)
	assert.Empty(t, b.Tickets)
	assert.Equal(t, 1, st.PlanNull)
}

func TestCorruptDisabled(t *testing.T) {
	cfg := testGeneratorConfig()
	cfg.Corruption = config.CorruptionConfig{}
	s := New(cfg, testNow)
	b := syntheticBatch(50, 50)

	st := s.Corrupt(b)
	assert.Equal(t, CorruptionStats{}, st)
	assert.Len(t, b.Tickets, 50)
	for _, c := range b.Customers {
		require.NotNil(t, c.Plan)
		assert.Equal(t, "Pro", *c.Plan)
	}
}
