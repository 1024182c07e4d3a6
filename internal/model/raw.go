package model

import (
	"strconv"
	"time"
)

// RawCustomer is a customer row as written to raw_customers. Plan may be
// nil or misspelled and MRRRaw may hold a formatted or invalid string.
type RawCustomer struct {
	ID           string
	CompanyName  string
	Plan         *string
	MRRRaw       string
	ContractDate time.Time
}

// NewRawCustomer converts a clean customer into its pre-corruption raw row.
func NewRawCustomer(c Customer) RawCustomer {
	plan := string(c.Plan)
	return RawCustomer{
		ID:           c.ID,
		CompanyName:  c.CompanyName,
		Plan:         &plan,
		MRRRaw:       strconv.FormatFloat(c.MRR, 'f', -1, 64),
		ContractDate: c.ContractDate,
	}
}

// RawTicket is a ticket row as written to raw_tickets. Priority may be nil
// and Type may be misspelled.
type RawTicket struct {
	ID         string
	CustomerID string
	OpenedAt   time.Time
	Type       string
	Priority   *string
}

// NewRawTicket converts a clean ticket into its pre-corruption raw row.
func NewRawTicket(t SupportTicket) RawTicket {
	priority := t.Priority
	return RawTicket{
		ID:         t.ID,
		CustomerID: t.CustomerID,
		OpenedAt:   t.OpenedAt,
		Type:       t.Type,
		Priority:   &priority,
	}
}

// Batch is one generated chunk of customers and their dependent records.
type Batch struct {
	Index     int
	Customers []RawCustomer
	Usage     []UsageLog
	Tickets   []RawTicket
	Churn     []ChurnLabel
}

// Churned counts positive labels in the batch.
func (b *Batch) Churned() int {
	n := 0
	for _, c := range b.Churn {
		if c.Churned {
			n++
		}
	}
	return n
}
