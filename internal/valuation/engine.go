package valuation

import (
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/settings"
)

// Calculator is one valuation method.
type Calculator interface {
	Calculate(in Input) model.ValuationMethod
}

// Output is the stable result shape of one valuation run.
type Output struct {
	Result         model.ValuationResult   `json:"result"`
	Methods        []model.ValuationMethod `json:"methods"`
	Sensitivity    model.Sensitivity       `json:"sensitivity"`
	Reconciliation model.Reconciliation    `json:"reconciliation"`
}

// Engine runs the enabled calculators and reconciles their results. An
// Engine is immutable once built and safe for concurrent use.
type Engine struct {
	settings    settings.Settings
	calculators map[model.MethodName]Calculator
}

// NewEngine builds an engine with calculators configured from s.
func NewEngine(s settings.Settings) *Engine {
	s = s.Clone()
	return &Engine{
		settings: s,
		calculators: map[model.MethodName]Calculator{
			model.MethodCapRate:         NewCapRate(s),
			model.MethodPricePerBed:     NewPricePerBed(s),
			model.MethodDCF:             NewDCF(s),
			model.MethodNOIMultiple:     NewNOIMultiple(s),
			model.MethodComparableSales: NewComparableSales(s),
			model.MethodReplacementCost: NewReplacementCost(s),
		},
	}
}

// Settings returns a copy of the engine's settings.
func (e *Engine) Settings() settings.Settings { return e.settings.Clone() }

// applicable reports whether a method's preconditions hold for in.
func applicable(name model.MethodName, in Input) bool {
	switch name {
	case model.MethodCapRate, model.MethodDCF, model.MethodNOIMultiple:
		return in.NOI() > 0
	case model.MethodPricePerBed:
		return in.Beds() > 0
	case model.MethodComparableSales:
		return len(in.Comparables) > 0
	case model.MethodReplacementCost:
		return in.Beds() > 0 || in.Facility.SquareFeet > 0
	}
	return false
}

// Valuate runs every enabled, applicable method and packages the result.
func (e *Engine) Valuate(in Input) *Output {
	methods := make([]model.ValuationMethod, 0, len(model.MethodNames))
	for _, name := range model.MethodNames {
		if !e.settings.Methods.For(name).Enabled || !applicable(name, in) {
			continue
		}
		methods = append(methods, e.calculators[name].Calculate(in))
	}

	rec := Reconcile(methods, e.settings.Reconciliation)
	sens := Curves(in)

	value := rec.ReconciledValue
	result := model.ValuationResult{
		Methods:         methods,
		ReconciledValue: value,
		ValueLow:        math.Max(value-rec.StdDev, 0),
		ValueMid:        value,
		ValueHigh:       value + rec.StdDev,
		Confidence:      overallConfidence(methods),
		Sensitivity:     sens,
	}
	if beds := in.Beds(); beds > 0 {
		result.ValuePerBed = value / float64(beds)
	}
	if value > 0 {
		result.ImpliedCapRate = in.NOI() / value
	}

	zap.L().Debug("valuation: valuate",
		zap.String("facility", in.Facility.Name),
		zap.Int("methods", len(methods)),
		zap.Int("trimmed", rec.TrimmedCount),
		zap.Float64("value", value),
	)

	return &Output{
		Result:         result,
		Methods:        methods,
		Sensitivity:    sens,
		Reconciliation: rec,
	}
}

// overallConfidence is high when at least two methods report high, low when
// at least two report low, and medium otherwise.
func overallConfidence(methods []model.ValuationMethod) model.Confidence {
	var high, low int
	for _, m := range methods {
		switch m.Confidence {
		case model.ConfidenceHigh:
			high++
		case model.ConfidenceLow:
			low++
		}
	}
	switch {
	case high >= 2:
		return model.ConfidenceHigh
	case low >= 2:
		return model.ConfidenceLow
	default:
		return model.ConfidenceMedium
	}
}
