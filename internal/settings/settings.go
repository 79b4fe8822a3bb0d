// Package settings holds the tunable valuation assumptions: per-asset-type
// base tables, bracketed adjustment tables, method weights and the
// reconciliation policy.
package settings

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/underwriter/internal/model"
)

// Reconciliation methods.
const (
	ReconcileWeightedAverage = "weighted_average"
	ReconcileMedian          = "median"
	ReconcileModeAdjusted    = "mode_adjusted"
)

// ByType is a value per asset type.
type ByType struct {
	SNF float64 `json:"snf" yaml:"snf"`
	ALF float64 `json:"alf" yaml:"alf"`
	ILF float64 `json:"ilf" yaml:"ilf"`
}

// For returns the value for t. Unknown types fall back to SNF.
func (b ByType) For(t model.AssetType) float64 {
	switch t {
	case model.AssetALF:
		return b.ALF
	case model.AssetILF:
		return b.ILF
	default:
		return b.SNF
	}
}

// ByLocation is a value per location classification.
type ByLocation struct {
	Urban    float64 `json:"urban" yaml:"urban"`
	Suburban float64 `json:"suburban" yaml:"suburban"`
	Rural    float64 `json:"rural" yaml:"rural"`
	Frontier float64 `json:"frontier" yaml:"frontier"`
}

// For returns the value for l, or false when l is unset or unknown.
func (b ByLocation) For(l model.LocationType) (float64, bool) {
	switch l {
	case model.LocationUrban:
		return b.Urban, true
	case model.LocationSuburban:
		return b.Suburban, true
	case model.LocationRural:
		return b.Rural, true
	case model.LocationFrontier:
		return b.Frontier, true
	}
	return 0, false
}

// ByRegion is a value per census-style region.
type ByRegion struct {
	Northeast float64 `json:"northeast" yaml:"northeast"`
	Southeast float64 `json:"southeast" yaml:"southeast"`
	Midwest   float64 `json:"midwest" yaml:"midwest"`
	Southwest float64 `json:"southwest" yaml:"southwest"`
	West      float64 `json:"west" yaml:"west"`
}

// For returns the value for r, or false when r is unset or unknown.
func (b ByRegion) For(r model.Region) (float64, bool) {
	switch r {
	case model.RegionNortheast:
		return b.Northeast, true
	case model.RegionSoutheast:
		return b.Southeast, true
	case model.RegionMidwest:
		return b.Midwest, true
	case model.RegionSouthwest:
		return b.Southwest, true
	case model.RegionWest:
		return b.West, true
	}
	return 0, false
}

// MarketAdjustments maps an assessed market strength to an adjustment.
type MarketAdjustments struct {
	Strong  float64 `json:"strong" yaml:"strong"`
	Average float64 `json:"average" yaml:"average"`
	Weak    float64 `json:"weak" yaml:"weak"`
}

// Tier is one bracket of an adjustment table: it applies when the input is
// at least Min.
type Tier struct {
	Min   float64 `json:"min" yaml:"min"`
	Value float64 `json:"value" yaml:"value"`
}

// Tiers is a bracket table ordered by Min, highest first.
type Tiers []Tier

// Lookup returns the value of the first bracket whose Min is <= x. It
// expects the table in descending order; SortTiers restores it and Validate
// enforces it.
func (t Tiers) Lookup(x float64) (float64, bool) {
	for _, tier := range t {
		if x >= tier.Min {
			return tier.Value, true
		}
	}
	return 0, false
}

// CapRateSettings configures the direct capitalization method.
type CapRateSettings struct {
	BaseRate  ByType            `json:"base_rate" yaml:"base_rate"`
	MinRate   float64           `json:"min_rate" yaml:"min_rate"`
	Quality   Tiers             `json:"quality" yaml:"quality"`     // by overall star rating
	Size      Tiers             `json:"size" yaml:"size"`           // by effective beds
	Age       Tiers             `json:"age" yaml:"age"`             // by building age in years
	Occupancy Tiers             `json:"occupancy" yaml:"occupancy"` // by occupancy percent
	Location  ByLocation        `json:"location" yaml:"location"`
	Market    MarketAdjustments `json:"market" yaml:"market"`
}

// PricePerBedSettings configures the price-per-bed method. Adjustments are
// multipliers.
type PricePerBedSettings struct {
	Base      ByType     `json:"base" yaml:"base"`
	Quality   Tiers      `json:"quality" yaml:"quality"`
	Size      Tiers      `json:"size" yaml:"size"`
	Age       Tiers      `json:"age" yaml:"age"`
	Occupancy Tiers      `json:"occupancy" yaml:"occupancy"`
	Location  ByLocation `json:"location" yaml:"location"`
	Region    ByRegion   `json:"region" yaml:"region"`
}

// DCFSettings configures the discounted cash flow projection.
type DCFSettings struct {
	HoldYears     int     `json:"hold_years" yaml:"hold_years"`
	DiscountRate  ByType  `json:"discount_rate" yaml:"discount_rate"`
	ExitCapRate   ByType  `json:"exit_cap_rate" yaml:"exit_cap_rate"`
	RevenueGrowth float64 `json:"revenue_growth" yaml:"revenue_growth"`
	ExpenseGrowth float64 `json:"expense_growth" yaml:"expense_growth"`
	CapexPercent  float64 `json:"capex_percent" yaml:"capex_percent"`
	SellingCosts  float64 `json:"selling_costs" yaml:"selling_costs"`
	InitialCapex  float64 `json:"initial_capex" yaml:"initial_capex"`
	// NOIGrowthRate, when set, grows NOI directly instead of projecting
	// revenue and expenses separately.
	NOIGrowthRate *float64 `json:"noi_growth_rate" yaml:"noi_growth_rate"`
	// TargetOccupancy is a percent; zero disables the stabilization ramp.
	TargetOccupancy  float64 `json:"target_occupancy" yaml:"target_occupancy"`
	YearsToStabilize int     `json:"years_to_stabilize" yaml:"years_to_stabilize"`
}

// NOIMultipleSettings configures the NOI multiple method.
type NOIMultipleSettings struct {
	Base              ByType            `json:"base" yaml:"base"`
	MinMultiple       float64           `json:"min_multiple" yaml:"min_multiple"`
	Quality           Tiers             `json:"quality" yaml:"quality"`
	Size              Tiers             `json:"size" yaml:"size"`
	Occupancy         Tiers             `json:"occupancy" yaml:"occupancy"`
	StableMarginPct   float64           `json:"stable_margin_pct" yaml:"stable_margin_pct"`
	StabilityBonus    float64           `json:"stability_bonus" yaml:"stability_bonus"`
	UnstableMarginPct float64           `json:"unstable_margin_pct" yaml:"unstable_margin_pct"`
	StabilityPenalty  float64           `json:"stability_penalty" yaml:"stability_penalty"`
	Market            MarketAdjustments `json:"market" yaml:"market"`
}

// SimilarityWeights weight the components of comparable similarity.
type SimilarityWeights struct {
	Distance float64 `json:"distance" yaml:"distance"`
	Recency  float64 `json:"recency" yaml:"recency"`
	Size     float64 `json:"size" yaml:"size"`
	Quality  float64 `json:"quality" yaml:"quality"`
}

// ComparablesSettings configures the comparable sales method.
type ComparablesSettings struct {
	MaxAgeMonths     int               `json:"max_age_months" yaml:"max_age_months"`
	MaxDistanceMiles float64           `json:"max_distance_miles" yaml:"max_distance_miles"`
	MinComparables   int               `json:"min_comparables" yaml:"min_comparables"`
	TopN             int               `json:"top_n" yaml:"top_n"`
	Weights          SimilarityWeights `json:"weights" yaml:"weights"`
	// SizeThresholdPct is the bed-count difference (percent) above which a
	// comp's price per bed is adjusted; SizeAdjustment is the price change
	// per unit of relative size difference.
	SizeThresholdPct float64 `json:"size_threshold_pct" yaml:"size_threshold_pct"`
	SizeAdjustment   float64 `json:"size_adjustment" yaml:"size_adjustment"`
	// AgeThresholdYears is the vintage difference above which a comp is
	// adjusted by AgeAdjustmentPerYear for each year of difference.
	AgeThresholdYears    float64 `json:"age_threshold_years" yaml:"age_threshold_years"`
	AgeAdjustmentPerYear float64 `json:"age_adjustment_per_year" yaml:"age_adjustment_per_year"`
	MaxAdjustmentPct     float64 `json:"max_adjustment_pct" yaml:"max_adjustment_pct"`
	DefaultQualityScore  float64 `json:"default_quality_score" yaml:"default_quality_score"`
}

// ReplacementCostSettings configures the cost approach.
type ReplacementCostSettings struct {
	LandPerAcre              ByLocation `json:"land_per_acre" yaml:"land_per_acre"`
	AcresPerBed              float64    `json:"acres_per_bed" yaml:"acres_per_bed"`
	CostPerSF                ByType     `json:"cost_per_sf" yaml:"cost_per_sf"`
	SFPerBed                 ByType     `json:"sf_per_bed" yaml:"sf_per_bed"`
	RegionalMultiplier       ByRegion   `json:"regional_multiplier" yaml:"regional_multiplier"`
	SoftCostPct              float64    `json:"soft_cost_pct" yaml:"soft_cost_pct"`
	FFEPerBed                ByType     `json:"ffe_per_bed" yaml:"ffe_per_bed"`
	EntrepreneurialIncentive float64    `json:"entrepreneurial_incentive" yaml:"entrepreneurial_incentive"`
	UsefulLife               float64    `json:"useful_life" yaml:"useful_life"`
	ResidualPct              float64    `json:"residual_pct" yaml:"residual_pct"`
	FunctionalObsolescence   float64    `json:"functional_obsolescence" yaml:"functional_obsolescence"`
	ExternalObsolescence     float64    `json:"external_obsolescence" yaml:"external_obsolescence"`
}

// MethodSettings toggles and weights one valuation method.
type MethodSettings struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	Weight  float64 `json:"weight" yaml:"weight"`
}

// Methods holds the per-method toggles.
type Methods struct {
	CapRate         MethodSettings `json:"cap_rate" yaml:"cap_rate"`
	PricePerBed     MethodSettings `json:"price_per_bed" yaml:"price_per_bed"`
	DCF             MethodSettings `json:"dcf" yaml:"dcf"`
	NOIMultiple     MethodSettings `json:"noi_multiple" yaml:"noi_multiple"`
	ComparableSales MethodSettings `json:"comparable_sales" yaml:"comparable_sales"`
	ReplacementCost MethodSettings `json:"replacement_cost" yaml:"replacement_cost"`
}

// For returns the settings of a method by name.
func (m Methods) For(name model.MethodName) MethodSettings {
	if p := m.ptr(name); p != nil {
		return *p
	}
	return MethodSettings{}
}

func (m *Methods) ptr(name model.MethodName) *MethodSettings {
	switch name {
	case model.MethodCapRate:
		return &m.CapRate
	case model.MethodPricePerBed:
		return &m.PricePerBed
	case model.MethodDCF:
		return &m.DCF
	case model.MethodNOIMultiple:
		return &m.NOIMultiple
	case model.MethodComparableSales:
		return &m.ComparableSales
	case model.MethodReplacementCost:
		return &m.ReplacementCost
	}
	return nil
}

// ConfidenceFactors scale method weights by reported confidence.
type ConfidenceFactors struct {
	High   float64 `json:"high" yaml:"high"`
	Medium float64 `json:"medium" yaml:"medium"`
	Low    float64 `json:"low" yaml:"low"`
}

// For returns the factor for c.
func (f ConfidenceFactors) For(c model.Confidence) float64 {
	switch c {
	case model.ConfidenceHigh:
		return f.High
	case model.ConfidenceMedium:
		return f.Medium
	default:
		return f.Low
	}
}

// ReconciliationSettings controls how method values are combined.
type ReconciliationSettings struct {
	Method              string            `json:"method" yaml:"method"`
	ConfidenceWeighting bool              `json:"confidence_weighting" yaml:"confidence_weighting"`
	ConfidenceFactors   ConfidenceFactors `json:"confidence_factors" yaml:"confidence_factors"`
	TrimOutliers        bool              `json:"trim_outliers" yaml:"trim_outliers"`
	OutlierThreshold    float64           `json:"outlier_threshold" yaml:"outlier_threshold"`
}

// Settings is the complete set of valuation assumptions.
type Settings struct {
	CapRate         CapRateSettings         `json:"cap_rate" yaml:"cap_rate"`
	PricePerBed     PricePerBedSettings     `json:"price_per_bed" yaml:"price_per_bed"`
	DCF             DCFSettings             `json:"dcf" yaml:"dcf"`
	NOIMultiple     NOIMultipleSettings     `json:"noi_multiple" yaml:"noi_multiple"`
	Comparables     ComparablesSettings     `json:"comparables" yaml:"comparables"`
	ReplacementCost ReplacementCostSettings `json:"replacement_cost" yaml:"replacement_cost"`
	Methods         Methods                 `json:"methods" yaml:"methods"`
	Reconciliation  ReconciliationSettings  `json:"reconciliation" yaml:"reconciliation"`
}

// Defaults returns the global default settings. Each call returns a fresh
// value that the caller may modify.
func Defaults() Settings {
	return Settings{
		CapRate: CapRateSettings{
			BaseRate: ByType{SNF: 0.10, ALF: 0.075, ILF: 0.065},
			MinRate:  0.04,
			Quality: Tiers{
				{Min: 5, Value: -0.0075}, {Min: 4, Value: -0.0035}, {Min: 3, Value: 0},
				{Min: 2, Value: 0.005}, {Min: 1, Value: 0.01},
			},
			Size: Tiers{
				{Min: 150, Value: -0.0025}, {Min: 100, Value: 0}, {Min: 50, Value: 0.0025}, {Min: 0, Value: 0.0075},
			},
			Age: Tiers{
				{Min: 40, Value: 0.005}, {Min: 30, Value: 0.0025}, {Min: 20, Value: 0},
				{Min: 10, Value: -0.0025}, {Min: 0, Value: -0.005},
			},
			Occupancy: Tiers{
				{Min: 90, Value: -0.005}, {Min: 85, Value: -0.0025}, {Min: 80, Value: 0},
				{Min: 75, Value: 0.005}, {Min: 0, Value: 0.01},
			},
			Location: ByLocation{Urban: -0.0025, Suburban: 0, Rural: 0.005, Frontier: 0.01},
			Market:   MarketAdjustments{Strong: -0.005, Average: 0, Weak: 0.005},
		},
		PricePerBed: PricePerBedSettings{
			Base: ByType{SNF: 85_000, ALF: 150_000, ILF: 175_000},
			Quality: Tiers{
				{Min: 5, Value: 1.15}, {Min: 4, Value: 1.08}, {Min: 3, Value: 1.0},
				{Min: 2, Value: 0.9}, {Min: 1, Value: 0.8},
			},
			Size: Tiers{
				{Min: 150, Value: 1.03}, {Min: 100, Value: 1.0}, {Min: 50, Value: 0.97}, {Min: 0, Value: 0.9},
			},
			Age: Tiers{
				{Min: 40, Value: 0.85}, {Min: 30, Value: 0.92}, {Min: 20, Value: 1.0},
				{Min: 10, Value: 1.05}, {Min: 0, Value: 1.15},
			},
			Occupancy: Tiers{
				{Min: 90, Value: 1.1}, {Min: 85, Value: 1.05}, {Min: 80, Value: 1.0},
				{Min: 75, Value: 0.93}, {Min: 0, Value: 0.85},
			},
			Location: ByLocation{Urban: 1.1, Suburban: 1.0, Rural: 0.85, Frontier: 0.75},
			Region:   ByRegion{Northeast: 1.15, Southeast: 0.95, Midwest: 0.9, Southwest: 0.95, West: 1.2},
		},
		DCF: DCFSettings{
			HoldYears:     10,
			DiscountRate:  ByType{SNF: 0.13, ALF: 0.11, ILF: 0.10},
			ExitCapRate:   ByType{SNF: 0.11, ALF: 0.08, ILF: 0.07},
			RevenueGrowth: 0.03,
			ExpenseGrowth: 0.035,
			CapexPercent:  0.02,
			SellingCosts:  0.02,
		},
		NOIMultiple: NOIMultipleSettings{
			Base:        ByType{SNF: 8.0, ALF: 11.0, ILF: 13.0},
			MinMultiple: 5.0,
			Quality: Tiers{
				{Min: 5, Value: 1.0}, {Min: 4, Value: 0.5}, {Min: 3, Value: 0},
				{Min: 2, Value: -0.5}, {Min: 1, Value: -1.0},
			},
			Size: Tiers{
				{Min: 150, Value: 0.5}, {Min: 100, Value: 0}, {Min: 50, Value: -0.25}, {Min: 0, Value: -0.75},
			},
			Occupancy: Tiers{
				{Min: 90, Value: 0.75}, {Min: 85, Value: 0.25}, {Min: 80, Value: 0},
				{Min: 75, Value: -0.5}, {Min: 0, Value: -1.0},
			},
			StableMarginPct:   15,
			StabilityBonus:    0.5,
			UnstableMarginPct: 5,
			StabilityPenalty:  -1.0,
			Market:            MarketAdjustments{Strong: 0.5, Average: 0, Weak: -0.5},
		},
		Comparables: ComparablesSettings{
			MaxAgeMonths:         36,
			MaxDistanceMiles:     100,
			MinComparables:       3,
			TopN:                 5,
			Weights:              SimilarityWeights{Distance: 0.25, Recency: 0.25, Size: 0.25, Quality: 0.25},
			SizeThresholdPct:     5,
			SizeAdjustment:       0.10,
			AgeThresholdYears:    2,
			AgeAdjustmentPerYear: 0.01,
			MaxAdjustmentPct:     25,
			DefaultQualityScore:  0.8,
		},
		ReplacementCost: ReplacementCostSettings{
			LandPerAcre:              ByLocation{Urban: 750_000, Suburban: 300_000, Rural: 75_000, Frontier: 25_000},
			AcresPerBed:              0.05,
			CostPerSF:                ByType{SNF: 325, ALF: 275, ILF: 250},
			SFPerBed:                 ByType{SNF: 450, ALF: 650, ILF: 900},
			RegionalMultiplier:       ByRegion{Northeast: 1.15, Southeast: 0.92, Midwest: 0.95, Southwest: 0.93, West: 1.2},
			SoftCostPct:              0.20,
			FFEPerBed:                ByType{SNF: 15_000, ALF: 12_000, ILF: 10_000},
			EntrepreneurialIncentive: 0.10,
			UsefulLife:               50,
			ResidualPct:              0.10,
		},
		Methods: Methods{
			CapRate:         MethodSettings{Enabled: true, Weight: 0.30},
			DCF:             MethodSettings{Enabled: true, Weight: 0.20},
			PricePerBed:     MethodSettings{Enabled: true, Weight: 0.15},
			NOIMultiple:     MethodSettings{Enabled: true, Weight: 0.15},
			ComparableSales: MethodSettings{Enabled: true, Weight: 0.15},
			ReplacementCost: MethodSettings{Enabled: true, Weight: 0.05},
		},
		Reconciliation: ReconciliationSettings{
			Method:              ReconcileWeightedAverage,
			ConfidenceWeighting: true,
			ConfidenceFactors:   ConfidenceFactors{High: 1.2, Medium: 1.0, Low: 0.7},
			TrimOutliers:        true,
			OutlierThreshold:    2.0,
		},
	}
}

// Clone returns a deep copy of s.
func (s Settings) Clone() Settings {
	c := s
	c.CapRate.Quality = cloneTiers(s.CapRate.Quality)
	c.CapRate.Size = cloneTiers(s.CapRate.Size)
	c.CapRate.Age = cloneTiers(s.CapRate.Age)
	c.CapRate.Occupancy = cloneTiers(s.CapRate.Occupancy)
	c.PricePerBed.Quality = cloneTiers(s.PricePerBed.Quality)
	c.PricePerBed.Size = cloneTiers(s.PricePerBed.Size)
	c.PricePerBed.Age = cloneTiers(s.PricePerBed.Age)
	c.PricePerBed.Occupancy = cloneTiers(s.PricePerBed.Occupancy)
	c.NOIMultiple.Quality = cloneTiers(s.NOIMultiple.Quality)
	c.NOIMultiple.Size = cloneTiers(s.NOIMultiple.Size)
	c.NOIMultiple.Occupancy = cloneTiers(s.NOIMultiple.Occupancy)
	if s.DCF.NOIGrowthRate != nil {
		g := *s.DCF.NOIGrowthRate
		c.DCF.NOIGrowthRate = &g
	}
	return c
}

type namedTiers struct {
	path  string
	table *Tiers
}

func (s *Settings) tierTables() []namedTiers {
	return []namedTiers{
		{"cap_rate.quality", &s.CapRate.Quality},
		{"cap_rate.size", &s.CapRate.Size},
		{"cap_rate.age", &s.CapRate.Age},
		{"cap_rate.occupancy", &s.CapRate.Occupancy},
		{"price_per_bed.quality", &s.PricePerBed.Quality},
		{"price_per_bed.size", &s.PricePerBed.Size},
		{"price_per_bed.age", &s.PricePerBed.Age},
		{"price_per_bed.occupancy", &s.PricePerBed.Occupancy},
		{"noi_multiple.quality", &s.NOIMultiple.Quality},
		{"noi_multiple.size", &s.NOIMultiple.Size},
		{"noi_multiple.occupancy", &s.NOIMultiple.Occupancy},
	}
}

// SortTiers orders every bracket table by Min, highest first.
func (s *Settings) SortTiers() {
	for _, nt := range s.tierTables() {
		t := *nt.table
		sort.SliceStable(t, func(i, j int) bool { return t[i].Min > t[j].Min })
	}
}

func cloneTiers(t Tiers) Tiers {
	if t == nil {
		return nil
	}
	return append(Tiers(nil), t...)
}

// Validate checks every numeric leaf against its accepted range and that s
// is internally consistent.
func Validate(s Settings) error {
	var errs []string

	for p, d := range registry {
		if d.kind != KindFloat && d.kind != KindInt {
			continue
		}
		v := d.get(&s)
		if v == nil {
			continue
		}
		if f, err := toFloat(p, v); err != nil || !d.bound.contains(f) {
			errs = append(errs, fmt.Sprintf("%s %v outside %s", p, v, d.bound))
		}
	}

	for _, nt := range s.tierTables() {
		t := *nt.table
		if !sort.SliceIsSorted(t, func(i, j int) bool { return t[i].Min > t[j].Min }) {
			errs = append(errs, fmt.Sprintf("%s tiers must be ordered by min, highest first", nt.path))
		}
	}

	if s.Comparables.TopN < s.Comparables.MinComparables {
		errs = append(errs, "comparables.top_n must be >= min_comparables")
	}

	var enabledWeight float64
	for _, name := range model.MethodNames {
		if m := s.Methods.For(name); m.Enabled {
			enabledWeight += m.Weight
		}
	}
	if enabledWeight <= 0 {
		errs = append(errs, "at least one enabled method must carry weight")
	}

	switch s.Reconciliation.Method {
	case ReconcileWeightedAverage, ReconcileMedian, ReconcileModeAdjusted:
	default:
		errs = append(errs, fmt.Sprintf("reconciliation.method %q is not supported", s.Reconciliation.Method))
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("settings: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
