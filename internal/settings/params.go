package settings

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cast"
)

// Sentinel errors returned by the parameter registry.
var (
	ErrUnknownParam = eris.New("settings: unknown parameter")
	ErrInvalidValue = eris.New("settings: invalid parameter value")
)

// Kind is the value type of a parameter.
type Kind string

const (
	KindFloat  Kind = "float"
	KindInt    Kind = "int"
	KindBool   Kind = "bool"
	KindString Kind = "string"
)

// Param identifies one settable leaf of Settings by its dotted JSON path,
// for example "dcf.exit_cap_rate.snf". Only registered paths are valid.
type Param string

// String implements fmt.Stringer.
func (p Param) String() string { return string(p) }

// Category is the first path segment ("dcf").
func (p Param) Category() string {
	c, _, _ := strings.Cut(string(p), ".")
	return c
}

// Key is the path below the category ("exit_cap_rate.snf").
func (p Param) Key() string {
	_, k, _ := strings.Cut(string(p), ".")
	return k
}

// Kind returns the parameter's value type, or "" if p is not registered.
func (p Param) Kind() Kind { return registry[p].kind }

// Nullable reports whether the parameter accepts nil to mean "unset".
func (p Param) Nullable() bool { return registry[p].nullable }

// Numeric reports whether the parameter holds a float or int.
func (p Param) Numeric() bool {
	k := p.Kind()
	return k == KindFloat || k == KindInt
}

type paramDef struct {
	kind     Kind
	nullable bool
	bound    bound
	get      func(*Settings) any
	set      func(*Settings, any) error
}

// bound is the accepted range of a numeric parameter. An open end excludes
// its limit.
type bound struct {
	min, max         float64
	minOpen, maxOpen bool
}

var (
	nonNegative = bound{min: 0, max: math.Inf(1)}
	positive    = bound{min: 0, max: math.Inf(1), minOpen: true}
	fraction    = bound{min: 0, max: 1}
	rate        = bound{min: 0, max: 1, minOpen: true}
	growth      = bound{min: -1, max: 1, minOpen: true}
)

func atLeast(n float64) bound { return bound{min: n, max: math.Inf(1)} }

func (b bound) contains(f float64) bool {
	if f < b.min || f > b.max {
		return false
	}
	return !(b.minOpen && f == b.min) && !(b.maxOpen && f == b.max)
}

func (b bound) String() string {
	lo, hi := "[", "]"
	if b.minOpen {
		lo = "("
	}
	if b.maxOpen {
		hi = ")"
	}
	return fmt.Sprintf("%s%g, %g%s", lo, b.min, b.max, hi)
}

func (b bound) check(p Param, f float64) error {
	if !b.contains(f) {
		return eris.Wrapf(ErrInvalidValue, "%s: %g outside %s", p, f, b)
	}
	return nil
}

var registry = buildRegistry()

// Lookup resolves a dotted path to a registered Param.
func Lookup(path string) (Param, error) {
	p := Param(path)
	if _, ok := registry[p]; !ok {
		return "", eris.Wrapf(ErrUnknownParam, "%q", path)
	}
	return p, nil
}

// JoinPath builds a dotted path from an override's category and key.
func JoinPath(category, key string) string {
	if category == "" {
		return key
	}
	return category + "." + key
}

// Params lists every registered parameter in path order.
func Params() []Param {
	out := make([]Param, 0, len(registry))
	for p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Get returns the current value of p: float64, int, bool, string, or nil
// for an unset nullable parameter.
func (s *Settings) Get(p Param) (any, error) {
	d, ok := registry[p]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownParam, "%q", p)
	}
	return d.get(s), nil
}

// CheckValue reports whether f lies within the accepted range of the numeric
// parameter p. It does not touch any Settings.
func CheckValue(p Param, f float64) error {
	d, ok := registry[p]
	if !ok {
		return eris.Wrapf(ErrUnknownParam, "%q", p)
	}
	switch d.kind {
	case KindInt:
		f = math.Round(f)
	case KindFloat:
	default:
		return eris.Wrapf(ErrInvalidValue, "%s is not numeric", p)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return eris.Wrapf(ErrInvalidValue, "%s: want number, got %v", p, f)
	}
	return d.bound.check(p, f)
}

// Set coerces v to the parameter's kind, checks it against the parameter's
// range and stores it.
func (s *Settings) Set(p Param, v any) error {
	d, ok := registry[p]
	if !ok {
		return eris.Wrapf(ErrUnknownParam, "%q", p)
	}
	return d.set(s, v)
}

// GetFloat returns a numeric parameter as float64. An unset nullable
// parameter reads as zero.
func (s *Settings) GetFloat(p Param) (float64, error) {
	if !p.Numeric() {
		if p.Kind() == "" {
			return 0, eris.Wrapf(ErrUnknownParam, "%q", p)
		}
		return 0, eris.Wrapf(ErrInvalidValue, "%s is not numeric", p)
	}
	v, err := s.Get(p)
	if err != nil || v == nil {
		return 0, err
	}
	return cast.ToFloat64E(v)
}

func toFloat(p Param, v any) (float64, error) {
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, eris.Wrapf(ErrInvalidValue, "%s: want number, got %v", p, v)
	}
	return f, nil
}

func floatParam(reg map[Param]paramDef, path string, b bound, field func(*Settings) *float64) {
	p := Param(path)
	reg[p] = paramDef{
		kind:  KindFloat,
		bound: b,
		get:   func(s *Settings) any { return *field(s) },
		set: func(s *Settings, v any) error {
			f, err := toFloat(p, v)
			if err != nil {
				return err
			}
			if err := b.check(p, f); err != nil {
				return err
			}
			*field(s) = f
			return nil
		},
	}
}

func optionalFloatParam(reg map[Param]paramDef, path string, b bound, field func(*Settings) **float64) {
	p := Param(path)
	reg[p] = paramDef{
		kind:     KindFloat,
		nullable: true,
		bound:    b,
		get: func(s *Settings) any {
			if ptr := *field(s); ptr != nil {
				return *ptr
			}
			return nil
		},
		set: func(s *Settings, v any) error {
			if v == nil {
				*field(s) = nil
				return nil
			}
			f, err := toFloat(p, v)
			if err != nil {
				return err
			}
			if err := b.check(p, f); err != nil {
				return err
			}
			*field(s) = &f
			return nil
		},
	}
}

func intParam(reg map[Param]paramDef, path string, b bound, field func(*Settings) *int) {
	p := Param(path)
	reg[p] = paramDef{
		kind:  KindInt,
		bound: b,
		get:   func(s *Settings) any { return *field(s) },
		set: func(s *Settings, v any) error {
			f, err := toFloat(p, v)
			if err != nil {
				return err
			}
			f = math.Round(f)
			if err := b.check(p, f); err != nil {
				return err
			}
			*field(s) = int(f)
			return nil
		},
	}
}

func boolParam(reg map[Param]paramDef, path string, field func(*Settings) *bool) {
	p := Param(path)
	reg[p] = paramDef{
		kind: KindBool,
		get:  func(s *Settings) any { return *field(s) },
		set: func(s *Settings, v any) error {
			b, err := cast.ToBoolE(v)
			if err != nil {
				return eris.Wrapf(ErrInvalidValue, "%s: want bool, got %v", p, v)
			}
			*field(s) = b
			return nil
		},
	}
}

func enumParam(reg map[Param]paramDef, path string, field func(*Settings) *string, allowed ...string) {
	p := Param(path)
	reg[p] = paramDef{
		kind: KindString,
		get:  func(s *Settings) any { return *field(s) },
		set: func(s *Settings, v any) error {
			str, err := cast.ToStringE(v)
			if err != nil {
				return eris.Wrapf(ErrInvalidValue, "%s: want string, got %v", p, v)
			}
			for _, a := range allowed {
				if str == a {
					*field(s) = str
					return nil
				}
			}
			return eris.Wrapf(ErrInvalidValue, "%s: %q not one of %s", p, str, strings.Join(allowed, ", "))
		},
	}
}

func byTypeParams(reg map[Param]paramDef, prefix string, b bound, field func(*Settings) *ByType) {
	floatParam(reg, prefix+".snf", b, func(s *Settings) *float64 { return &field(s).SNF })
	floatParam(reg, prefix+".alf", b, func(s *Settings) *float64 { return &field(s).ALF })
	floatParam(reg, prefix+".ilf", b, func(s *Settings) *float64 { return &field(s).ILF })
}

func methodParams(reg map[Param]paramDef, name string, field func(*Settings) *MethodSettings) {
	boolParam(reg, "methods."+name+".enabled", func(s *Settings) *bool { return &field(s).Enabled })
	floatParam(reg, "methods."+name+".weight", nonNegative, func(s *Settings) *float64 { return &field(s).Weight })
}

func buildRegistry() map[Param]paramDef {
	reg := make(map[Param]paramDef)

	// Cap rate.
	byTypeParams(reg, "cap_rate.base_rate", rate, func(s *Settings) *ByType { return &s.CapRate.BaseRate })
	floatParam(reg, "cap_rate.min_rate", fraction, func(s *Settings) *float64 { return &s.CapRate.MinRate })

	// Price per bed.
	byTypeParams(reg, "price_per_bed.base", nonNegative, func(s *Settings) *ByType { return &s.PricePerBed.Base })

	// DCF.
	intParam(reg, "dcf.hold_years", bound{min: 1, max: 30}, func(s *Settings) *int { return &s.DCF.HoldYears })
	byTypeParams(reg, "dcf.discount_rate", rate, func(s *Settings) *ByType { return &s.DCF.DiscountRate })
	byTypeParams(reg, "dcf.exit_cap_rate", rate, func(s *Settings) *ByType { return &s.DCF.ExitCapRate })
	floatParam(reg, "dcf.revenue_growth", growth, func(s *Settings) *float64 { return &s.DCF.RevenueGrowth })
	floatParam(reg, "dcf.expense_growth", growth, func(s *Settings) *float64 { return &s.DCF.ExpenseGrowth })
	floatParam(reg, "dcf.capex_percent", fraction, func(s *Settings) *float64 { return &s.DCF.CapexPercent })
	floatParam(reg, "dcf.selling_costs", fraction, func(s *Settings) *float64 { return &s.DCF.SellingCosts })
	floatParam(reg, "dcf.initial_capex", nonNegative, func(s *Settings) *float64 { return &s.DCF.InitialCapex })
	optionalFloatParam(reg, "dcf.noi_growth_rate", growth, func(s *Settings) **float64 { return &s.DCF.NOIGrowthRate })
	floatParam(reg, "dcf.target_occupancy", bound{min: 0, max: 100}, func(s *Settings) *float64 { return &s.DCF.TargetOccupancy })
	intParam(reg, "dcf.years_to_stabilize", bound{min: 0, max: 30}, func(s *Settings) *int { return &s.DCF.YearsToStabilize })

	// NOI multiple.
	byTypeParams(reg, "noi_multiple.base", positive, func(s *Settings) *ByType { return &s.NOIMultiple.Base })
	floatParam(reg, "noi_multiple.min_multiple", nonNegative, func(s *Settings) *float64 { return &s.NOIMultiple.MinMultiple })

	// Comparables.
	intParam(reg, "comparables.max_age_months", atLeast(1), func(s *Settings) *int { return &s.Comparables.MaxAgeMonths })
	floatParam(reg, "comparables.max_distance_miles", positive, func(s *Settings) *float64 { return &s.Comparables.MaxDistanceMiles })
	intParam(reg, "comparables.min_comparables", atLeast(1), func(s *Settings) *int { return &s.Comparables.MinComparables })
	intParam(reg, "comparables.top_n", atLeast(1), func(s *Settings) *int { return &s.Comparables.TopN })

	// Replacement cost.
	byTypeParams(reg, "replacement_cost.cost_per_sf", nonNegative, func(s *Settings) *ByType { return &s.ReplacementCost.CostPerSF })
	floatParam(reg, "replacement_cost.soft_cost_pct", fraction, func(s *Settings) *float64 { return &s.ReplacementCost.SoftCostPct })
	floatParam(reg, "replacement_cost.entrepreneurial_incentive", fraction, func(s *Settings) *float64 { return &s.ReplacementCost.EntrepreneurialIncentive })
	floatParam(reg, "replacement_cost.useful_life", positive, func(s *Settings) *float64 { return &s.ReplacementCost.UsefulLife })
	floatParam(reg, "replacement_cost.residual_pct", fraction, func(s *Settings) *float64 { return &s.ReplacementCost.ResidualPct })
	floatParam(reg, "replacement_cost.functional_obsolescence", fraction, func(s *Settings) *float64 { return &s.ReplacementCost.FunctionalObsolescence })
	floatParam(reg, "replacement_cost.external_obsolescence", fraction, func(s *Settings) *float64 { return &s.ReplacementCost.ExternalObsolescence })

	// Methods.
	methodParams(reg, "cap_rate", func(s *Settings) *MethodSettings { return &s.Methods.CapRate })
	methodParams(reg, "price_per_bed", func(s *Settings) *MethodSettings { return &s.Methods.PricePerBed })
	methodParams(reg, "dcf", func(s *Settings) *MethodSettings { return &s.Methods.DCF })
	methodParams(reg, "noi_multiple", func(s *Settings) *MethodSettings { return &s.Methods.NOIMultiple })
	methodParams(reg, "comparable_sales", func(s *Settings) *MethodSettings { return &s.Methods.ComparableSales })
	methodParams(reg, "replacement_cost", func(s *Settings) *MethodSettings { return &s.Methods.ReplacementCost })

	// Reconciliation.
	enumParam(reg, "reconciliation.method", func(s *Settings) *string { return &s.Reconciliation.Method },
		ReconcileWeightedAverage, ReconcileMedian, ReconcileModeAdjusted)
	boolParam(reg, "reconciliation.confidence_weighting", func(s *Settings) *bool { return &s.Reconciliation.ConfidenceWeighting })
	boolParam(reg, "reconciliation.trim_outliers", func(s *Settings) *bool { return &s.Reconciliation.TrimOutliers })
	floatParam(reg, "reconciliation.outlier_threshold", positive, func(s *Settings) *float64 { return &s.Reconciliation.OutlierThreshold })

	return reg
}
