package model

// KPIRow is one customer row of the KPI table. Nil entries are SQL NULLs.
type KPIRow struct {
	Features []*float64
	Target   *float64
}
