// Package valuation implements the six valuation methods and the engine
// that reconciles them into one value.
package valuation

import (
	"time"

	"github.com/sells-group/underwriter/internal/financials"
	"github.com/sells-group/underwriter/internal/model"
)

// Input is everything the calculators may read. Nil pointers mean the data
// was not supplied; calculators degrade confidence instead of failing.
type Input struct {
	Facility    model.FacilityProfile   `json:"facility"`
	Financials  *financials.Normalized  `json:"financials,omitempty"`
	CMS         *model.CMSData          `json:"cms,omitempty"`
	Operating   *model.OperatingMetrics `json:"operating,omitempty"`
	Market      *model.MarketData       `json:"market,omitempty"`
	Comparables []model.ComparableSale  `json:"comparables,omitempty"`
	AsOf        time.Time               `json:"as_of,omitempty"`
}

// NOI returns the annualized normalized NOI, or zero without financials.
func (in Input) NOI() float64 { return in.Financials.NOI() }

// Beds returns the effective bed count.
func (in Input) Beds() int { return in.Facility.Beds.Effective() }

// Occupancy returns occupancy in percent and whether it was reported.
func (in Input) Occupancy() (float64, bool) {
	if !in.Operating.HasOccupancy() {
		return 0, false
	}
	return in.Operating.Occupancy, true
}

// StarRating returns the CMS overall rating and whether it is known.
func (in Input) StarRating() (int, bool) {
	if in.CMS == nil || in.CMS.OverallRating < 1 || in.CMS.OverallRating > 5 {
		return 0, false
	}
	return in.CMS.OverallRating, true
}

// Age returns the building age in years and whether it is known.
func (in Input) Age() (int, bool) {
	return in.Facility.Age(in.asOf().Year())
}

func (in Input) asOf() time.Time {
	if in.AsOf.IsZero() {
		return time.Now().UTC()
	}
	return in.AsOf
}

func adjustmentNote(desc string) model.Adjustment {
	return model.Adjustment{Description: desc, Kind: model.AdjustNote}
}
