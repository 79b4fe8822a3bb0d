package valuation

import (
	"fmt"

	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/settings"
)

// NOIMultiple values the facility as NOI times an adjusted multiple.
type NOIMultiple struct {
	cfg    settings.NOIMultipleSettings
	weight float64
}

// NewNOIMultiple builds the calculator from settings.
func NewNOIMultiple(s settings.Settings) *NOIMultiple {
	return &NOIMultiple{cfg: s.NOIMultiple, weight: s.Methods.NOIMultiple.Weight}
}

// AdjustedMultiple returns the multiple and its adjustment trail.
func (n *NOIMultiple) AdjustedMultiple(in Input) (float64, []model.Adjustment) {
	multiple := n.cfg.Base.For(in.Facility.AssetType)
	adjustments := []model.Adjustment{}
	add := func(desc string, delta float64) {
		if delta == 0 {
			return
		}
		multiple += delta
		adjustments = append(adjustments, model.Adjustment{Description: desc, Kind: model.AdjustMultiplier, Impact: delta})
	}

	if stars, ok := in.StarRating(); ok {
		if d, ok := n.cfg.Quality.Lookup(float64(stars)); ok {
			add(fmt.Sprintf("Quality: %d-star CMS rating", stars), d)
		}
	}
	if beds := in.Beds(); beds > 0 {
		if d, ok := n.cfg.Size.Lookup(float64(beds)); ok {
			add(fmt.Sprintf("Size: %d beds", beds), d)
		}
	}
	if occ, ok := in.Occupancy(); ok {
		if d, ok := n.cfg.Occupancy.Lookup(occ); ok {
			add(fmt.Sprintf("Occupancy: %.1f%%", occ), d)
		}
	}
	if m := in.Financials.Metrics(); m.TotalRevenue > 0 {
		switch {
		case m.NOIMargin >= n.cfg.StableMarginPct:
			add(fmt.Sprintf("NOI stability: %.1f%% margin", m.NOIMargin), n.cfg.StabilityBonus)
		case m.NOIMargin < n.cfg.UnstableMarginPct:
			add(fmt.Sprintf("NOI instability: %.1f%% margin", m.NOIMargin), n.cfg.StabilityPenalty)
		}
	}
	if strength, _ := AssessMarket(in.Market); strength != MarketUnknown {
		if d, ok := marketAdjustment(n.cfg.Market, strength); ok {
			add(fmt.Sprintf("Market strength: %s", strength), d)
		}
	}

	if multiple < n.cfg.MinMultiple {
		adjustments = append(adjustments, model.Adjustment{
			Description: fmt.Sprintf("Floored at minimum multiple %.1fx", n.cfg.MinMultiple),
			Kind:        model.AdjustMultiplier,
			Impact:      n.cfg.MinMultiple - multiple,
		})
		multiple = n.cfg.MinMultiple
	}
	return multiple, adjustments
}

// Calculate implements the NOI multiple method.
func (n *NOIMultiple) Calculate(in Input) model.ValuationMethod {
	noi := in.NOI()
	multiple, adjustments := n.AdjustedMultiple(in)

	var value float64
	if noi > 0 {
		value = noi * multiple
	}

	points := 0
	if noi > 0 {
		points += 2
	}
	if in.CMS != nil {
		points++
	}
	if in.Operating.HasOccupancy() {
		points++
	}
	if in.Market != nil {
		points++
	}
	if in.Financials.Metrics().TotalRevenue > 0 {
		points++
	}

	inputs := map[string]float64{
		"noi":               noi,
		"base_multiple":     n.cfg.Base.For(in.Facility.AssetType),
		"adjusted_multiple": multiple,
	}
	return model.NewValuationMethod(model.MethodNOIMultiple, value, confidenceFromPoints(points, 6, 4), n.weight, inputs, adjustments)
}
