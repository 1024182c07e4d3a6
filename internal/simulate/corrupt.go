package simulate

import (
	"math"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/sells-group/churnops/internal/model"
)

// InvalidMRR is the sentinel written over a sample of revenue values.
const InvalidMRR = "Invalid"

var (
	planTypos   = []string{" basic", "pro ", "ENTERPRISE", "Básico", "Proo"}
	ticketTypos = []string{"critical bug", " Question", "feature req", "Bug"}

	brl = message.NewPrinter(language.BrazilianPortuguese)
)

// CorruptionStats counts the defects injected into one batch.
type CorruptionStats struct {
	PlanNull     int `json:"plan_null"`
	PlanTypo     int `json:"plan_typo"`
	MRRCurrency  int `json:"mrr_currency"`
	MRRInvalid   int `json:"mrr_invalid"`
	PriorityNull int `json:"priority_null"`
	TicketTypo   int `json:"ticket_typo"`
	TicketDupe   int `json:"ticket_dupe"`
}

// FormatBRL renders an amount with a decimal comma and no grouping, e.g.
// "R$ 1234,56". Cleaning reverses it by dropping the prefix and swapping the
// comma for a point.
func FormatBRL(v float64) string {
	return "R$ " + brl.Sprint(number.Decimal(v, number.Scale(2), number.NoSeparator()))
}

// Corrupt injects data-quality defects into a batch in place. Each defect
// class samples its own rows without replacement, so classes may overlap.
func (s *Simulator) Corrupt(b *model.Batch) CorruptionStats {
	c := s.cfg.Corruption
	var st CorruptionStats

	if n := len(b.Customers); n > 0 {
		for _, i := range s.sample(n, c.PlanNull) {
			b.Customers[i].Plan = nil
			st.PlanNull++
		}
		for _, i := range s.sample(n, c.PlanTypo) {
			typo := planTypos[s.rng.IntN(len(planTypos))]
			b.Customers[i].Plan = &typo
			st.PlanTypo++
		}
		for _, i := range s.sample(n, c.MRRCurrency) {
			if mrr, ok := parseMRR(b.Customers[i].MRRRaw); ok {
				b.Customers[i].MRRRaw = FormatBRL(mrr)
				st.MRRCurrency++
			}
		}
		for _, i := range s.sample(n, c.MRRInvalid) {
			b.Customers[i].MRRRaw = InvalidMRR
			st.MRRInvalid++
		}
	}

	n := len(b.Tickets)
	if n == 0 {
		return st
	}
	for _, i := range s.sample(n, c.PriorityNull) {
		b.Tickets[i].Priority = nil
		st.PriorityNull++
	}
	for _, i := range s.sample(n, c.TicketTypo) {
		b.Tickets[i].Type = ticketTypos[s.rng.IntN(len(ticketTypos))]
		st.TicketTypo++
	}
	if c.TicketDupe > 0 {
		k := min(n, max(1, int(float64(n)*c.TicketDupe)))
		for _, i := range s.rng.Perm(n)[:k] {
			b.Tickets = append(b.Tickets, b.Tickets[i])
			st.TicketDupe++
		}
	}
	return st
}

// sample picks round(frac*n) distinct indices in [0,n).
func (s *Simulator) sample(n int, frac float64) []int {
	k := int(math.RoundToEven(frac * float64(n)))
	if k <= 0 {
		return nil
	}
	k = min(k, n)
	return s.rng.Perm(n)[:k]
}

func parseMRR(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(raw, 64)
	return v, err == nil
}
