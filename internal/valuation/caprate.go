package valuation

import (
	"fmt"

	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/settings"
)

// CapRate values the facility by direct capitalization: NOI divided by a
// base rate plus additive basis-point adjustments.
type CapRate struct {
	cfg    settings.CapRateSettings
	weight float64
}

// NewCapRate builds the calculator from settings.
func NewCapRate(s settings.Settings) *CapRate {
	return &CapRate{cfg: s.CapRate, weight: s.Methods.CapRate.Weight}
}

// AdjustedRate returns the adjusted cap rate and its adjustment trail.
func (c *CapRate) AdjustedRate(in Input) (float64, []model.Adjustment) {
	base := c.cfg.BaseRate.For(in.Facility.AssetType)
	rate := base
	adjustments := []model.Adjustment{}
	add := func(desc string, delta float64) {
		if delta == 0 {
			return
		}
		rate += delta
		adjustments = append(adjustments, model.Adjustment{Description: desc, Kind: model.AdjustRate, Impact: delta})
	}

	if stars, ok := in.StarRating(); ok {
		if d, ok := c.cfg.Quality.Lookup(float64(stars)); ok {
			add(fmt.Sprintf("Quality: %d-star CMS rating", stars), d)
		}
	}
	if beds := in.Beds(); beds > 0 {
		if d, ok := c.cfg.Size.Lookup(float64(beds)); ok {
			add(fmt.Sprintf("Size: %d beds", beds), d)
		}
	}
	if age, ok := in.Age(); ok {
		if d, ok := c.cfg.Age.Lookup(float64(age)); ok {
			add(fmt.Sprintf("Age: %d years", age), d)
		}
	}
	if occ, ok := in.Occupancy(); ok {
		if d, ok := c.cfg.Occupancy.Lookup(occ); ok {
			add(fmt.Sprintf("Occupancy: %.1f%%", occ), d)
		}
	}
	if d, ok := c.cfg.Location.For(in.Facility.LocationType); ok {
		add(fmt.Sprintf("Location: %s", in.Facility.LocationType), d)
	}
	if strength, _ := AssessMarket(in.Market); strength != MarketUnknown {
		if d, ok := marketAdjustment(c.cfg.Market, strength); ok {
			add(fmt.Sprintf("Market strength: %s", strength), d)
		}
	}

	if rate < c.cfg.MinRate {
		adjustments = append(adjustments, model.Adjustment{
			Description: fmt.Sprintf("Floored at minimum cap rate %.2f%%", c.cfg.MinRate*100),
			Kind:        model.AdjustRate,
			Impact:      c.cfg.MinRate - rate,
		})
		rate = c.cfg.MinRate
	}
	return rate, adjustments
}

// Calculate implements the cap rate method.
func (c *CapRate) Calculate(in Input) model.ValuationMethod {
	noi := in.NOI()
	rate, adjustments := c.AdjustedRate(in)

	var value float64
	if noi > 0 && rate > 0 {
		value = noi / rate
	}

	_, marketPoints := AssessMarket(in.Market)
	inputs := map[string]float64{
		"noi":               noi,
		"base_cap_rate":     c.cfg.BaseRate.For(in.Facility.AssetType),
		"adjusted_cap_rate": rate,
		"beds":              float64(in.Beds()),
		"market_points":     float64(marketPoints),
	}
	return model.NewValuationMethod(model.MethodCapRate, value, c.confidence(in, noi), c.weight, inputs, adjustments)
}

// confidence awards points for data completeness and sanity checks.
func (c *CapRate) confidence(in Input, noi float64) model.Confidence {
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
	if beds := in.Beds(); beds > 0 && noi > 0 {
		perBed := noi / float64(beds)
		if perBed >= 2_000 && perBed <= 40_000 {
			points++
		}
	}
	if occ, ok := in.Occupancy(); ok && occ >= 50 && occ <= 100 {
		points++
	}
	return confidenceFromPoints(points, 6, 4)
}

func confidenceFromPoints(points, high, medium int) model.Confidence {
	switch {
	case points >= high:
		return model.ConfidenceHigh
	case points >= medium:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}
