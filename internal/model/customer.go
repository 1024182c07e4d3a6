package model

import (
	"fmt"
	"time"
)

// Plan is a subscription tier.
type Plan string

const (
	PlanBasic      Plan = "Basic"
	PlanPro        Plan = "Pro"
	PlanEnterprise Plan = "Enterprise"
)

// Plans lists the valid tiers in draw order.
var Plans = []Plan{PlanBasic, PlanPro, PlanEnterprise}

// Valid reports whether p is one of the known tiers.
func (p Plan) Valid() bool {
	switch p {
	case PlanBasic, PlanPro, PlanEnterprise:
		return true
	default:
		return false
	}
}

// Product features a usage event can touch.
var ProductFeatures = []string{
	"feature_A_finance",
	"feature_B_reports",
	"feature_C_invoicing",
	"feature_D_users",
}

// Ticket types, in the order used by type weights.
const (
	TicketQuestion       = "Question"
	TicketCriticalBug    = "Critical Bug"
	TicketMinorBug       = "Minor Bug"
	TicketFeatureRequest = "Feature Request"
)

// TicketTypes lists ticket types in weight order.
var TicketTypes = []string{TicketQuestion, TicketCriticalBug, TicketMinorBug, TicketFeatureRequest}

// Ticket priorities, in the order used by priority weights.
var TicketPriorities = []string{"High", "Medium", "Low"}

// OrphanCustomerID is referenced by injected orphan usage rows and never generated.
const OrphanCustomerID = "cli_99999"

// CustomerID formats the sequential identifier of the n-th simulated customer.
func CustomerID(n int) string {
	return fmt.Sprintf("cli_%d", 1000+n)
}

// Customer is a simulated account. Immutable once generated.
type Customer struct {
	ID           string    `json:"customer_id"`
	CompanyName  string    `json:"company_name"`
	Plan         Plan      `json:"plan"`
	MRR          float64   `json:"mrr"`
	ContractDate time.Time `json:"contract_date"`
}

// UsageLog is one feature-use event.
type UsageLog struct {
	ID         string    `json:"log_id"`
	CustomerID string    `json:"customer_id"`
	Date       time.Time `json:"log_date"`
	Feature    string    `json:"feature_used"`
	Minutes    int       `json:"minutes_on_feature"`
}

// SupportTicket is one opened ticket.
type SupportTicket struct {
	ID         string    `json:"ticket_id"`
	CustomerID string    `json:"customer_id"`
	OpenedAt   time.Time `json:"opened_at"`
	Type       string    `json:"ticket_type"`
	Priority   string    `json:"priority"`
}

// ChurnLabel is the binary outcome for one customer.
type ChurnLabel struct {
	CustomerID string `json:"customer_id"`
	Churned    bool   `json:"churn_status"`
}

// Status returns the label as the 0/1 integer stored in the warehouse.
func (c ChurnLabel) Status() int {
	if c.Churned {
		return 1
	}
	return 0
}
