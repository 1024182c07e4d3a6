// Package simulate fabricates customer accounts and their usage, ticket and
// churn records from a seeded probabilistic behavior model.
package simulate

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/churnops/internal/config"
	"github.com/sells-group/churnops/internal/model"
)

// pcgStream decorrelates the second PCG word from the seed.
const pcgStream = 0x9e3779b97f4a7c15

// Revenue ranges per plan, in currency units per month.
var revenueRanges = map[model.Plan][2]float64{
	model.PlanBasic:      {50, 150},
	model.PlanPro:        {200, 500},
	model.PlanEnterprise: {1000, 5000},
}

// Bundle is one simulated customer with every record derived from it.
type Bundle struct {
	Customer         model.Customer
	Engagement       float64
	ChurnProbability float64
	Churn            model.ChurnLabel
	Usage            []model.UsageLog
	Tickets          []model.SupportTicket
}

// Simulator draws customers and events. It is not safe for concurrent use:
// every draw advances one shared random stream so a seed reproduces a run.
type Simulator struct {
	cfg   config.GeneratorConfig
	today time.Time
	start time.Time

	src   rand.Source
	rng   *rand.Rand
	faker *gofakeit.Faker

	planDist       distuv.Categorical
	priorityDist   distuv.Categorical
	ticketDefault  distuv.Categorical
	ticketLowMRR   distuv.Categorical
	engagement     map[model.Plan]distuv.Normal
	featuresPerDay distuv.Normal
	minutes        distuv.Normal

	usageSeq  int
	ticketSeq int
}

// New creates a simulator anchored at the given day.
func New(cfg config.GeneratorConfig, now time.Time) *Simulator {
	src := rand.NewPCG(cfg.Seed, cfg.Seed^pcgStream)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	return &Simulator{
		cfg:   cfg,
		today: today,
		start: today.AddDate(0, 0, -cfg.HistoryDays),
		src:   src,
		rng:   rand.New(src),
		faker: gofakeit.New(cfg.Seed),

		planDist:      distuv.NewCategorical([]float64{0.5, 0.4, 0.1}, src),
		priorityDist:  distuv.NewCategorical([]float64{0.3, 0.5, 0.2}, src),
		ticketDefault: distuv.NewCategorical(defaultTicketWeights, src),
		ticketLowMRR:  distuv.NewCategorical(lowRevenueTicketWeights, src),
		engagement: map[model.Plan]distuv.Normal{
			model.PlanBasic:      {Mu: 0.6, Sigma: 0.3, Src: src},
			model.PlanPro:        {Mu: 0.9, Sigma: 0.2, Src: src},
			model.PlanEnterprise: {Mu: 1.2, Sigma: 0.2, Src: src},
		},
		featuresPerDay: distuv.Normal{Mu: 5, Sigma: 2, Src: src},
		minutes:        distuv.Normal{Mu: 15, Sigma: 5, Src: src},
	}
}

// Today returns the day the simulation treats as "now".
func (s *Simulator) Today() time.Time { return s.today }

var (
	defaultTicketWeights    = []float64{0.5, 0.1, 0.1, 0.3}
	lowRevenueTicketWeights = []float64{0.4, 0.3, 0.2, 0.1}
)

// DrawPlan draws a tier with weights Basic 0.5, Pro 0.4, Enterprise 0.1.
func (s *Simulator) DrawPlan() model.Plan {
	return model.Plans[int(s.planDist.Rand())]
}

// RevenueRange returns the inclusive MRR bounds for a plan.
func RevenueRange(plan model.Plan) (min, max float64) {
	r, ok := revenueRanges[plan]
	if !ok {
		r = revenueRanges[model.PlanEnterprise]
	}
	return r[0], r[1]
}

// DrawMRR draws a uniform revenue within the plan range, rounded to cents.
func (s *Simulator) DrawMRR(plan model.Plan) float64 {
	lo, hi := RevenueRange(plan)
	v := distuv.Uniform{Min: lo, Max: hi, Src: s.src}.Rand()
	return math.Round(v*100) / 100
}

// DrawEngagement draws the per-customer engagement factor.
func (s *Simulator) DrawEngagement(plan model.Plan) float64 {
	d, ok := s.engagement[plan]
	if !ok {
		d = s.engagement[model.PlanBasic]
	}
	return d.Rand()
}

// TicketFactor is the per-day probability of opening a ticket.
func TicketFactor(plan model.Plan) float64 {
	if plan == model.PlanBasic {
		return 0.03
	}
	return 0.01
}

// TicketTypeWeights returns weights over model.TicketTypes. Low-revenue
// accounts skew towards bugs.
func TicketTypeWeights(mrr float64) []float64 {
	if mrr < 200 {
		return lowRevenueTicketWeights
	}
	return defaultTicketWeights
}

// ChurnProbability composes the additive churn risk and clamps it to [0,1].
func ChurnProbability(c config.ChurnConfig, plan model.Plan, mrr, engagement float64) float64 {
	p := c.Base
	if plan == model.PlanBasic {
		p += c.BasicPlan
	}
	if mrr < c.RevenueThreshold {
		p += c.LowRevenue
	}
	if engagement < c.EngagementCutoff {
		p += c.LowEngagement
	}
	return math.Min(1, math.Max(0, p))
}

// Customer builds the n-th customer of a run and its event streams.
func (s *Simulator) Customer(n int) Bundle {
	tenureWindow := s.cfg.HistoryDays - s.cfg.MinTenureDays
	contract := s.start.AddDate(0, 0, s.rng.IntN(tenureWindow+1))
	plan := s.DrawPlan()
	mrr := s.DrawMRR(plan)

	cust := model.Customer{
		ID:           model.CustomerID(n),
		CompanyName:  s.faker.Company(),
		Plan:         plan,
		MRR:          mrr,
		ContractDate: contract,
	}

	engagement := s.DrawEngagement(plan)
	ticketFactor := TicketFactor(plan)
	ticketTypes := s.ticketDefault
	if mrr < 200 {
		ticketTypes = s.ticketLowMRR
	}

	p := ChurnProbability(s.cfg.Churn, plan, mrr, engagement)
	b := Bundle{
		Customer:         cust,
		Engagement:       engagement,
		ChurnProbability: p,
		Churn: model.ChurnLabel{
			CustomerID: cust.ID,
			Churned:    s.rng.Float64() < p,
		},
	}

	days := int(s.today.Sub(contract).Hours() / 24)
	for d := 0; d < days; d++ {
		day := contract.AddDate(0, 0, d)

		if s.rng.Float64() < 0.7*engagement {
			used := max(1, int(math.Round(s.featuresPerDay.Rand()*engagement)))
			for range used {
				s.usageSeq++
				b.Usage = append(b.Usage, model.UsageLog{
					ID:         fmt.Sprintf("log_%d", s.usageSeq),
					CustomerID: cust.ID,
					Date:       day,
					Feature:    model.ProductFeatures[s.rng.IntN(len(model.ProductFeatures))],
					Minutes:    max(5, int(s.minutes.Rand())),
				})
			}
		}

		if s.rng.Float64() < ticketFactor {
			s.ticketSeq++
			b.Tickets = append(b.Tickets, model.SupportTicket{
				ID:         fmt.Sprintf("tic_%d", s.ticketSeq),
				CustomerID: cust.ID,
				OpenedAt:   day,
				Type:       model.TicketTypes[int(ticketTypes.Rand())],
				Priority:   model.TicketPriorities[int(s.priorityDist.Rand())],
			})
		}
	}

	return b
}

// Batch generates customers [index*size, min(total, index*size+size)) in raw
// form. The rows are clean; Corrupt applies data-quality defects.
func (s *Simulator) Batch(index, size, total int) *model.Batch {
	first := index * size
	last := min(total, first+size)

	batch := &model.Batch{Index: index}
	for n := first; n < last; n++ {
		b := s.Customer(n)
		batch.Customers = append(batch.Customers, model.NewRawCustomer(b.Customer))
		batch.Churn = append(batch.Churn, b.Churn)
		batch.Usage = append(batch.Usage, b.Usage...)
		for _, t := range b.Tickets {
			batch.Tickets = append(batch.Tickets, model.NewRawTicket(t))
		}
	}
	return batch
}

// BatchCount returns how many batches cover total customers.
func BatchCount(total, size int) int {
	if size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}
