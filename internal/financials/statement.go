// Package financials models operating statements whose ratios are always
// derived from their line items.
package financials

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
)

// RevenueCategory tags a revenue line item.
type RevenueCategory string

const (
	RevenueMedicare    RevenueCategory = "medicare"
	RevenueMedicaid    RevenueCategory = "medicaid"
	RevenueManagedCare RevenueCategory = "managed_care"
	RevenuePrivatePay  RevenueCategory = "private_pay"
	RevenueAncillary   RevenueCategory = "ancillary"
	RevenueOther       RevenueCategory = "other"
)

// ExpenseCategory tags an expense line item.
type ExpenseCategory string

const (
	ExpenseSalaries      ExpenseCategory = "salaries"
	ExpenseBenefits      ExpenseCategory = "benefits"
	ExpenseAgencyLabor   ExpenseCategory = "agency_labor"
	ExpenseDietary       ExpenseCategory = "dietary"
	ExpenseSupplies      ExpenseCategory = "supplies"
	ExpenseUtilities     ExpenseCategory = "utilities"
	ExpenseInsurance     ExpenseCategory = "insurance"
	ExpensePropertyTax   ExpenseCategory = "property_tax"
	ExpenseManagementFee ExpenseCategory = "management_fee"
	ExpenseProviderTax   ExpenseCategory = "provider_tax"
	ExpenseRent          ExpenseCategory = "rent"
	ExpenseInterest      ExpenseCategory = "interest"
	ExpenseDepreciation  ExpenseCategory = "depreciation"
	ExpenseAmortization  ExpenseCategory = "amortization"
	ExpenseIncomeTax     ExpenseCategory = "income_tax"
	ExpenseOther         ExpenseCategory = "other"
)

// belowEBITDA reports whether the category is excluded from operating expenses.
func (c ExpenseCategory) belowEBITDA() bool {
	switch c {
	case ExpenseInterest, ExpenseDepreciation, ExpenseAmortization, ExpenseIncomeTax:
		return true
	}
	return false
}

func (c ExpenseCategory) isLabor() bool {
	switch c {
	case ExpenseSalaries, ExpenseBenefits, ExpenseAgencyLabor:
		return true
	}
	return false
}

// RevenueItem is one revenue line.
type RevenueItem struct {
	Category RevenueCategory `json:"category"`
	Label    string          `json:"label"`
	Amount   float64         `json:"amount"`
}

// ExpenseItem is one expense line.
type ExpenseItem struct {
	Category ExpenseCategory `json:"category"`
	Label    string          `json:"label"`
	Amount   float64         `json:"amount"`
}

// Period describes the span a statement covers.
type Period struct {
	Label  string `json:"label"`
	Months int    `json:"months"`
}

// Metrics are derived from a statement's line items and never set directly.
type Metrics struct {
	TotalRevenue          float64 `json:"total_revenue"`
	OperatingExpenses     float64 `json:"operating_expenses"`
	Rent                  float64 `json:"rent"`
	EBITDAR               float64 `json:"ebitdar"`
	EBITDA                float64 `json:"ebitda"`
	NOI                   float64 `json:"noi"`
	NetIncome             float64 `json:"net_income"`
	EBITDARMargin         float64 `json:"ebitdar_margin"` // percent
	EBITDAMargin          float64 `json:"ebitda_margin"`  // percent
	NOIMargin             float64 `json:"noi_margin"`     // percent
	LaborCost             float64 `json:"labor_cost"`
	LaborCostRatio        float64 `json:"labor_cost_ratio"` // percent of revenue
	AgencyShareOfLabor    float64 `json:"agency_share_of_labor"`
	RevenuePerBed         float64 `json:"revenue_per_bed"`
	NOIPerBed             float64 `json:"noi_per_bed"`
	RevenuePerPatientDay  float64 `json:"revenue_per_patient_day"`
	ExpensePerPatientDay  float64 `json:"expense_per_patient_day"`
	AnnualizationFactor   float64 `json:"annualization_factor"`
	AnnualizedNOI         float64 `json:"annualized_noi"`
	AnnualizedRevenue     float64 `json:"annualized_revenue"`
	AnnualizedOperatingEx float64 `json:"annualized_operating_expenses"`
}

// Statement is an immutable operating statement. Use NewStatement or the
// With* methods; each returns a new value with metrics recomputed.
type Statement struct {
	period      Period
	beds        int
	patientDays float64
	revenue     []RevenueItem
	expenses    []ExpenseItem
	metrics     Metrics
}

// NewStatement builds a statement and derives its metrics. Beds and patient
// days feed the per-bed and per-day figures and may be zero.
func NewStatement(period Period, beds int, patientDays float64, revenue []RevenueItem, expenses []ExpenseItem) Statement {
	s := Statement{
		period:      period,
		beds:        beds,
		patientDays: patientDays,
		revenue:     append([]RevenueItem(nil), revenue...),
		expenses:    append([]ExpenseItem(nil), expenses...),
	}
	s.metrics = computeMetrics(s)
	return s
}

// SimpleStatement builds an annual statement from totals, for callers that
// only know revenue, operating expenses, and rent.
func SimpleStatement(revenue, operatingExpenses, rent float64) Statement {
	expenses := []ExpenseItem{{Category: ExpenseOther, Label: "Operating expenses", Amount: operatingExpenses}}
	if rent > 0 {
		expenses = append(expenses, ExpenseItem{Category: ExpenseRent, Label: "Rent", Amount: rent})
	}
	return NewStatement(
		Period{Label: "annual", Months: 12}, 0, 0,
		[]RevenueItem{{Category: RevenueOther, Label: "Revenue", Amount: revenue}},
		expenses,
	)
}

// Period returns the statement period.
func (s Statement) Period() Period { return s.period }

// Beds returns the bed count used for per-bed metrics.
func (s Statement) Beds() int { return s.beds }

// PatientDays returns the patient days used for per-day metrics.
func (s Statement) PatientDays() float64 { return s.patientDays }

// Revenue returns a copy of the revenue items.
func (s Statement) Revenue() []RevenueItem { return append([]RevenueItem(nil), s.revenue...) }

// Expenses returns a copy of the expense items.
func (s Statement) Expenses() []ExpenseItem { return append([]ExpenseItem(nil), s.expenses...) }

// Metrics returns the derived metrics.
func (s Statement) Metrics() Metrics { return s.metrics }

// RevenueBy sums revenue for a category.
func (s Statement) RevenueBy(c RevenueCategory) float64 {
	var total float64
	for _, it := range s.revenue {
		if it.Category == c {
			total += it.Amount
		}
	}
	return total
}

// ExpenseBy sums expenses for a category.
func (s Statement) ExpenseBy(c ExpenseCategory) float64 {
	var total float64
	for _, it := range s.expenses {
		if it.Category == c {
			total += it.Amount
		}
	}
	return total
}

// WithRevenue returns a copy with an extra revenue item.
func (s Statement) WithRevenue(item RevenueItem) Statement {
	return NewStatement(s.period, s.beds, s.patientDays, append(s.Revenue(), item), s.expenses)
}

// WithExpense returns a copy with an extra expense item.
func (s Statement) WithExpense(item ExpenseItem) Statement {
	return NewStatement(s.period, s.beds, s.patientDays, s.revenue, append(s.Expenses(), item))
}

// WithBeds returns a copy using a different bed count and patient days.
func (s Statement) WithBeds(beds int, patientDays float64) Statement {
	return NewStatement(s.period, beds, patientDays, s.revenue, s.expenses)
}

// Project returns the statement grown for the given number of years, with
// revenue and expense items compounded at their own rates.
func (s Statement) Project(years int, revenueGrowth, expenseGrowth float64) Statement {
	rf := math.Pow(1+revenueGrowth, float64(years))
	ef := math.Pow(1+expenseGrowth, float64(years))

	rev := s.Revenue()
	for i := range rev {
		rev[i].Amount *= rf
	}
	exp := s.Expenses()
	for i := range exp {
		exp[i].Amount *= ef
	}
	p := s.period
	p.Label = p.Label + " projected"
	return NewStatement(p, s.beds, s.patientDays, rev, exp)
}

func computeMetrics(s Statement) Metrics {
	var m Metrics
	for _, it := range s.revenue {
		m.TotalRevenue += it.Amount
	}

	var belowLine, agency float64
	for _, it := range s.expenses {
		switch {
		case it.Category == ExpenseRent:
			m.Rent += it.Amount
		case it.Category.belowEBITDA():
			belowLine += it.Amount
		default:
			m.OperatingExpenses += it.Amount
		}
		if it.Category.isLabor() {
			m.LaborCost += it.Amount
		}
		if it.Category == ExpenseAgencyLabor {
			agency += it.Amount
		}
	}

	m.EBITDAR = m.TotalRevenue - m.OperatingExpenses
	m.EBITDA = m.EBITDAR - m.Rent
	m.NOI = m.EBITDA
	m.NetIncome = m.EBITDA - belowLine

	m.EBITDARMargin = pct(m.EBITDAR, m.TotalRevenue)
	m.EBITDAMargin = pct(m.EBITDA, m.TotalRevenue)
	m.NOIMargin = pct(m.NOI, m.TotalRevenue)
	m.LaborCostRatio = pct(m.LaborCost, m.TotalRevenue)
	m.AgencyShareOfLabor = pct(agency, m.LaborCost)

	m.AnnualizationFactor = 1
	if s.period.Months > 0 && s.period.Months != 12 {
		m.AnnualizationFactor = 12 / float64(s.period.Months)
	}
	m.AnnualizedNOI = m.NOI * m.AnnualizationFactor
	m.AnnualizedRevenue = m.TotalRevenue * m.AnnualizationFactor
	m.AnnualizedOperatingEx = (m.OperatingExpenses + m.Rent) * m.AnnualizationFactor

	if s.beds > 0 {
		m.RevenuePerBed = m.AnnualizedRevenue / float64(s.beds)
		m.NOIPerBed = m.AnnualizedNOI / float64(s.beds)
	}
	if s.patientDays > 0 {
		m.RevenuePerPatientDay = m.TotalRevenue / s.patientDays
		m.ExpensePerPatientDay = (m.OperatingExpenses + m.Rent) / s.patientDays
	}
	return m
}

func pct(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den * 100
}

type statementJSON struct {
	Period      Period        `json:"period"`
	Beds        int           `json:"beds,omitempty"`
	PatientDays float64       `json:"patient_days,omitempty"`
	Revenue     []RevenueItem `json:"revenue"`
	Expenses    []ExpenseItem `json:"expenses"`
	Metrics     *Metrics      `json:"metrics,omitempty"`
}

// MarshalJSON encodes the line items together with the derived metrics.
func (s Statement) MarshalJSON() ([]byte, error) {
	m := s.metrics
	return json.Marshal(statementJSON{
		Period:      s.period,
		Beds:        s.beds,
		PatientDays: s.patientDays,
		Revenue:     s.revenue,
		Expenses:    s.expenses,
		Metrics:     &m,
	})
}

// UnmarshalJSON decodes line items and recomputes metrics; any metrics in the
// payload are ignored.
func (s *Statement) UnmarshalJSON(data []byte) error {
	var raw statementJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "financials: decode statement")
	}
	if raw.Period.Months == 0 {
		raw.Period.Months = 12
	}
	*s = NewStatement(raw.Period, raw.Beds, raw.PatientDays, raw.Revenue, raw.Expenses)
	return nil
}
