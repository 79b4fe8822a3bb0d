package valuation

import (
	"fmt"
	"math"

	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/settings"
)

// ProjectionYear is one year of the DCF projection.
type ProjectionYear struct {
	Year           int     `json:"year"`
	Occupancy      float64 `json:"occupancy,omitempty"`
	Revenue        float64 `json:"revenue"`
	Expenses       float64 `json:"expenses"`
	NOI            float64 `json:"noi"`
	Capex          float64 `json:"capex"`
	CashFlow       float64 `json:"cash_flow"`
	DiscountFactor float64 `json:"discount_factor"`
	PresentValue   float64 `json:"present_value"`
}

// DCFResult is the full projection behind a DCF value.
type DCFResult struct {
	Years          []ProjectionYear `json:"years"`
	DiscountRate   float64          `json:"discount_rate"`
	ExitCapRate    float64          `json:"exit_cap_rate"`
	TerminalValue  float64          `json:"terminal_value"`
	PVCashFlows    float64          `json:"pv_cash_flows"`
	PVTerminal     float64          `json:"pv_terminal"`
	TotalValue     float64          `json:"total_value"`
	IRR            float64          `json:"irr"`
	IRRConverged   bool             `json:"irr_converged"`
	EquityMultiple float64          `json:"equity_multiple"`
}

// DCF values the facility by projecting cash flows over a hold period and
// discounting them together with a capitalized exit.
type DCF struct {
	cfg    settings.DCFSettings
	weight float64
}

// NewDCF builds the calculator from settings.
func NewDCF(s settings.Settings) *DCF {
	return &DCF{cfg: s.DCF, weight: s.Methods.DCF.Weight}
}

// Project runs the year-by-year projection.
func (d *DCF) Project(in Input) DCFResult {
	at := in.Facility.AssetType
	m := in.Financials.Metrics()
	revenue0 := m.AnnualizedRevenue
	expenses0 := m.AnnualizedOperatingEx
	noi0 := m.AnnualizedNOI

	res := DCFResult{
		DiscountRate: d.cfg.DiscountRate.For(at),
		ExitCapRate:  d.cfg.ExitCapRate.For(at),
	}
	hold := d.cfg.HoldYears
	if hold < 1 {
		hold = 1
	}

	current, hasOcc := in.Occupancy()
	ramp := hasOcc && d.cfg.TargetOccupancy > 0 && d.cfg.YearsToStabilize > 0

	// A rate at or below -100% has no present value.
	if res.DiscountRate <= -1 {
		return res
	}

	discount := 1.0
	var nominal float64
	for y := 1; y <= hold; y++ {
		yr := ProjectionYear{Year: y}
		occFactor := 1.0
		if ramp {
			progress := math.Min(float64(y)/float64(d.cfg.YearsToStabilize), 1)
			yr.Occupancy = current + (d.cfg.TargetOccupancy-current)*progress
			occFactor = yr.Occupancy / current
		}

		yr.Revenue = revenue0 * math.Pow(1+d.cfg.RevenueGrowth, float64(y)) * occFactor
		if d.cfg.NOIGrowthRate != nil {
			yr.NOI = noi0 * math.Pow(1+*d.cfg.NOIGrowthRate, float64(y))
			yr.Expenses = yr.Revenue - yr.NOI
		} else {
			yr.Expenses = expenses0 * math.Pow(1+d.cfg.ExpenseGrowth, float64(y))
			yr.NOI = yr.Revenue - yr.Expenses
		}

		yr.Capex = yr.Revenue * d.cfg.CapexPercent
		if y == 1 {
			yr.Capex += d.cfg.InitialCapex
		}
		yr.CashFlow = yr.NOI - yr.Capex

		discount /= 1 + res.DiscountRate
		yr.DiscountFactor = discount
		yr.PresentValue = yr.CashFlow * discount
		res.PVCashFlows += yr.PresentValue
		nominal += yr.CashFlow
		res.Years = append(res.Years, yr)
	}

	final := res.Years[len(res.Years)-1]
	if res.ExitCapRate > 0 {
		res.TerminalValue = final.NOI / res.ExitCapRate * (1 - d.cfg.SellingCosts)
	}
	res.PVTerminal = res.TerminalValue * discount
	res.TotalValue = res.PVCashFlows + res.PVTerminal

	if res.TotalValue > 0 {
		flows := make([]float64, 0, hold+1)
		flows = append(flows, -res.TotalValue)
		for i, yr := range res.Years {
			cf := yr.CashFlow
			if i == len(res.Years)-1 {
				cf += res.TerminalValue
			}
			flows = append(flows, cf)
		}
		res.IRR, res.IRRConverged = IRR(flows, res.DiscountRate)
		res.EquityMultiple = (nominal + res.TerminalValue) / res.TotalValue
	}
	return res
}

// Calculate implements the DCF method.
func (d *DCF) Calculate(in Input) model.ValuationMethod {
	res := d.Project(in)
	value := math.Max(res.TotalValue, 0)
	if !finite(value) {
		value = 0
	}

	adjustments := []model.Adjustment{
		{Description: fmt.Sprintf("PV of %d-year cash flows", len(res.Years)), Kind: model.AdjustDollar, Impact: res.PVCashFlows},
		{Description: fmt.Sprintf("PV of terminal value at %.2f%% exit cap", res.ExitCapRate*100), Kind: model.AdjustDollar, Impact: res.PVTerminal},
	}
	if d.cfg.NOIGrowthRate != nil {
		adjustments = append(adjustments, adjustmentNote(fmt.Sprintf("NOI grown directly at %.2f%%", *d.cfg.NOIGrowthRate*100)))
	}
	if d.cfg.InitialCapex > 0 {
		adjustments = append(adjustments, model.Adjustment{Description: "Initial capital expenditure", Kind: model.AdjustDollar, Impact: -d.cfg.InitialCapex})
	}

	inputs := map[string]float64{
		"noi":             in.NOI(),
		"hold_years":      float64(len(res.Years)),
		"discount_rate":   res.DiscountRate,
		"exit_cap_rate":   res.ExitCapRate,
		"terminal_value":  res.TerminalValue,
		"irr":             res.IRR,
		"equity_multiple": res.EquityMultiple,
	}

	conf := model.ConfidenceLow
	if value > 0 {
		points := 0
		m := in.Financials.Metrics()
		if in.Financials != nil {
			points++
		}
		if m.TotalRevenue > 0 {
			points++
		}
		if in.Operating.HasOccupancy() {
			points++
		}
		if len(res.Years) >= 5 {
			points++
		}
		if m.NOIMargin > 0 && m.NOIMargin <= 40 {
			points++
		}
		conf = confidenceFromPoints(points, 5, 3)
	}
	return model.NewValuationMethod(model.MethodDCF, value, conf, d.weight, inputs, adjustments)
}

// IRR solves for the rate at which the NPV of cashflows (period 0 first) is
// zero, using Newton-Raphson from guess. It stops after 100 iterations, when
// |NPV| < 1e-4, or when the derivative vanishes; the bool reports whether the
// NPV tolerance was met.
func IRR(cashflows []float64, guess float64) (float64, bool) {
	rate := guess
	for i := 0; i < 100; i++ {
		var npv, deriv float64
		for t, cf := range cashflows {
			denom := math.Pow(1+rate, float64(t))
			npv += cf / denom
			deriv -= float64(t) * cf / (denom * (1 + rate))
		}
		if math.Abs(npv) < 1e-4 {
			return rate, true
		}
		if math.Abs(deriv) < 1e-12 {
			return rate, false
		}
		rate -= npv / deriv
		if rate <= -1 {
			rate = -0.9999
		}
	}
	return rate, false
}
