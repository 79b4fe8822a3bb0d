package valuation

import (
	"fmt"
	"math"

	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/settings"
)

// ReplacementBreakdown itemizes the cost approach.
type ReplacementBreakdown struct {
	Acres             float64 `json:"acres"`
	LandValue         float64 `json:"land_value"`
	SquareFeet        float64 `json:"square_feet"`
	BuildingCost      float64 `json:"building_cost"`
	SoftCosts         float64 `json:"soft_costs"`
	FFE               float64 `json:"ffe"`
	GrossCost         float64 `json:"gross_cost"`
	EffectiveAge      float64 `json:"effective_age"`
	PhysicalDep       float64 `json:"physical_depreciation"`
	FunctionalObs     float64 `json:"functional_obsolescence"`
	ExternalObs       float64 `json:"external_obsolescence"`
	TotalDepreciation float64 `json:"total_depreciation"`
	Value             float64 `json:"value"`
}

// ReplacementCost values the facility at the cost to rebuild it, less
// depreciation.
type ReplacementCost struct {
	cfg    settings.ReplacementCostSettings
	weight float64
}

// NewReplacementCost builds the calculator from settings.
func NewReplacementCost(s settings.Settings) *ReplacementCost {
	return &ReplacementCost{cfg: s.ReplacementCost, weight: s.Methods.ReplacementCost.Weight}
}

// Breakdown computes the cost approach line by line.
func (r *ReplacementCost) Breakdown(in Input) (ReplacementBreakdown, []model.Adjustment) {
	f := in.Facility
	beds := float64(in.Beds())
	var b ReplacementBreakdown
	adjustments := []model.Adjustment{}

	b.Acres = f.Acres
	if b.Acres <= 0 {
		b.Acres = beds * r.cfg.AcresPerBed
		adjustments = append(adjustments, adjustmentNote(fmt.Sprintf("Site area estimated at %.2f acres from bed count", b.Acres)))
	}
	landRate, ok := r.cfg.LandPerAcre.For(f.LocationType)
	if !ok {
		landRate = r.cfg.LandPerAcre.Suburban
		adjustments = append(adjustments, adjustmentNote("Location type unknown; suburban land rate used"))
	}
	b.LandValue = b.Acres * landRate

	b.SquareFeet = f.SquareFeet
	if b.SquareFeet <= 0 {
		b.SquareFeet = beds * r.cfg.SFPerBed.For(f.AssetType)
		adjustments = append(adjustments, adjustmentNote(fmt.Sprintf("Building area estimated at %.0f SF from bed count", b.SquareFeet)))
	}
	regional, ok := r.cfg.RegionalMultiplier.For(f.Region)
	if !ok || regional <= 0 {
		regional = 1
	}
	b.BuildingCost = b.SquareFeet * r.cfg.CostPerSF.For(f.AssetType) * regional
	b.SoftCosts = b.BuildingCost * r.cfg.SoftCostPct
	b.FFE = beds * r.cfg.FFEPerBed.For(f.AssetType)
	b.GrossCost = (b.LandValue + b.BuildingCost + b.SoftCosts + b.FFE) * (1 + r.cfg.EntrepreneurialIncentive)

	depreciable := math.Max(b.GrossCost-b.LandValue, 0)
	if age, ok := in.Age(); ok {
		b.EffectiveAge = effectiveAge(age, f.YearRenovated, in.asOf().Year())
		if b.EffectiveAge < float64(age) {
			adjustments = append(adjustments, model.Adjustment{
				Description: fmt.Sprintf("Renovation credit: effective age %.1f of %d years", b.EffectiveAge, age),
				Kind:        model.AdjustNote,
				Impact:      b.EffectiveAge - float64(age),
			})
		}
		if r.cfg.UsefulLife > 0 {
			b.PhysicalDep = math.Min(b.EffectiveAge/r.cfg.UsefulLife, 1) * (1 - r.cfg.ResidualPct) * depreciable
		}
	} else {
		adjustments = append(adjustments, adjustmentNote("Year built unknown; no physical depreciation applied"))
	}
	b.FunctionalObs = depreciable * r.cfg.FunctionalObsolescence
	b.ExternalObs = depreciable * r.cfg.ExternalObsolescence
	b.TotalDepreciation = math.Min(b.PhysicalDep+b.FunctionalObs+b.ExternalObs, depreciable)
	b.Value = b.GrossCost - b.TotalDepreciation

	if b.TotalDepreciation > 0 {
		adjustments = append(adjustments, model.Adjustment{Description: "Total depreciation", Kind: model.AdjustDollar, Impact: -b.TotalDepreciation})
	}
	return b, adjustments
}

// effectiveAge reduces actual age by up to half when the building was
// renovated, scaled by how recent the renovation is.
func effectiveAge(age, yearRenovated, asOfYear int) float64 {
	if age <= 0 || yearRenovated <= 0 || yearRenovated > asOfYear {
		return float64(age)
	}
	since := float64(asOfYear - yearRenovated)
	if since >= float64(age) {
		return float64(age)
	}
	reduction := 0.5 * (1 - since/float64(age))
	reduction = math.Max(0, math.Min(0.5, reduction))
	return float64(age) * (1 - reduction)
}

// Calculate implements the replacement cost method.
func (r *ReplacementCost) Calculate(in Input) model.ValuationMethod {
	if in.Beds() <= 0 && in.Facility.SquareFeet <= 0 {
		return model.NewValuationMethod(model.MethodReplacementCost, 0, model.ConfidenceLow, r.weight, nil,
			[]model.Adjustment{adjustmentNote("No bed count or building area; cost approach not applicable")})
	}
	b, adjustments := r.Breakdown(in)

	points := 0
	if in.Facility.SquareFeet > 0 {
		points++
	}
	if in.Facility.Acres > 0 {
		points++
	}
	if _, ok := in.Age(); ok {
		points++
	}
	if _, ok := r.cfg.LandPerAcre.For(in.Facility.LocationType); ok {
		points++
	}
	if _, ok := r.cfg.RegionalMultiplier.For(in.Facility.Region); ok {
		points++
	}

	inputs := map[string]float64{
		"land_value":         b.LandValue,
		"building_cost":      b.BuildingCost,
		"soft_costs":         b.SoftCosts,
		"ffe":                b.FFE,
		"gross_cost":         b.GrossCost,
		"effective_age":      b.EffectiveAge,
		"total_depreciation": b.TotalDepreciation,
	}
	return model.NewValuationMethod(model.MethodReplacementCost, math.Max(b.Value, 0), confidenceFromPoints(points, 5, 3), r.weight, inputs, adjustments)
}
