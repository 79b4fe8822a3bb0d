package valuation

import (
	"fmt"

	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/settings"
)

// PricePerBed values the facility as beds times a base price per bed scaled
// by multiplicative market-comp factors.
type PricePerBed struct {
	cfg    settings.PricePerBedSettings
	weight float64
}

// NewPricePerBed builds the calculator from settings.
func NewPricePerBed(s settings.Settings) *PricePerBed {
	return &PricePerBed{cfg: s.PricePerBed, weight: s.Methods.PricePerBed.Weight}
}

// Calculate implements the price-per-bed method.
func (p *PricePerBed) Calculate(in Input) model.ValuationMethod {
	beds := in.Beds()
	base := p.cfg.Base.For(in.Facility.AssetType)
	ppb := base
	adjustments := []model.Adjustment{}
	points := 0
	mul := func(desc string, m float64) {
		points++
		if m == 1 || m == 0 {
			return
		}
		ppb *= m
		adjustments = append(adjustments, model.Adjustment{Description: desc, Kind: model.AdjustMultiplier, Impact: m})
	}

	if stars, ok := in.StarRating(); ok {
		if m, ok := p.cfg.Quality.Lookup(float64(stars)); ok {
			mul(fmt.Sprintf("Quality: %d-star CMS rating", stars), m)
		}
	}
	if beds > 0 {
		if m, ok := p.cfg.Size.Lookup(float64(beds)); ok {
			mul(fmt.Sprintf("Size: %d beds", beds), m)
		}
	}
	if age, ok := in.Age(); ok {
		if m, ok := p.cfg.Age.Lookup(float64(age)); ok {
			mul(fmt.Sprintf("Age: %d years", age), m)
		}
	}
	if occ, ok := in.Occupancy(); ok {
		if m, ok := p.cfg.Occupancy.Lookup(occ); ok {
			mul(fmt.Sprintf("Occupancy: %.1f%%", occ), m)
		}
	}
	if m, ok := p.cfg.Location.For(in.Facility.LocationType); ok {
		mul(fmt.Sprintf("Location: %s", in.Facility.LocationType), m)
	}
	if m, ok := p.cfg.Region.For(in.Facility.Region); ok {
		mul(fmt.Sprintf("Region: %s", in.Facility.Region), m)
	}

	var value float64
	if beds > 0 {
		value = float64(beds) * ppb
	}

	inputs := map[string]float64{
		"beds":             float64(beds),
		"base_ppb":         base,
		"adjusted_ppb":     ppb,
		"total_multiplier": ppb / nonZero(base),
	}

	conf := model.ConfidenceLow
	if beds > 0 {
		conf = confidenceFromPoints(points, 5, 3)
	}
	return model.NewValuationMethod(model.MethodPricePerBed, value, conf, p.weight, inputs, adjustments)
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}
