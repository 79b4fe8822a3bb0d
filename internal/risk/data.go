package risk

import (
	"github.com/sells-group/underwriter/internal/financials"
	"github.com/sells-group/underwriter/internal/model"
)

// EvalData is everything the factors and deal-breaker rules read. Nil
// sections are treated as unreported.
type EvalData struct {
	Facility          model.FacilityProfile   `json:"facility"`
	CMS               *model.CMSData          `json:"cms,omitempty"`
	Operating         *model.OperatingMetrics `json:"operating,omitempty"`
	Financials        *financials.Normalized  `json:"financials,omitempty"`
	Market            *model.MarketData       `json:"market,omitempty"`
	State             *model.StateProfile     `json:"state,omitempty"`
	AnnualDebtService float64                 `json:"annual_debt_service,omitempty"`
}

func (d EvalData) occupancy() (float64, bool) {
	if d.Operating.HasOccupancy() {
		return d.Operating.Occupancy, true
	}
	return 0, false
}

// hppd prefers reported staffing over the CMS figure.
func (d EvalData) hppd() (float64, bool) {
	if d.Operating != nil {
		if h := d.Operating.Staffing.Total(); h > 0 {
			return h, true
		}
	}
	if d.CMS != nil && d.CMS.TotalNurseHPPD > 0 {
		return d.CMS.TotalNurseHPPD, true
	}
	return 0, false
}

func (d EvalData) agencyPct() (float64, bool) {
	if d.Operating != nil {
		return d.Operating.Staffing.AgencyPct, true
	}
	return 0, false
}

func (d EvalData) turnoverPct() (float64, bool) {
	if d.Operating != nil && d.Operating.Staffing.TurnoverPct > 0 {
		return d.Operating.Staffing.TurnoverPct, true
	}
	if d.CMS != nil && d.CMS.NurseTurnoverPct > 0 {
		return d.CMS.NurseTurnoverPct, true
	}
	return 0, false
}

func (d EvalData) payerMix() (model.PayerMix, bool) {
	if d.Operating != nil && d.Operating.PayerMix.Total() > 0 {
		return d.Operating.PayerMix, true
	}
	return model.PayerMix{}, false
}

// metrics returns the normalized metrics when the statement carries revenue.
func (d EvalData) metrics() (financials.Metrics, bool) {
	m := d.Financials.Metrics()
	return m, d.Financials != nil && m.TotalRevenue > 0
}

func (d EvalData) marketOccupancy() (float64, bool) {
	if d.Market != nil && d.Market.MarketOccupancy > 0 {
		return d.Market.MarketOccupancy, true
	}
	return 0, false
}
