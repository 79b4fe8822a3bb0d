package model

// Confidence is the qualitative confidence label attached to an estimate.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// MethodName identifies a valuation method.
type MethodName string

const (
	MethodCapRate         MethodName = "cap_rate"
	MethodPricePerBed     MethodName = "price_per_bed"
	MethodDCF             MethodName = "dcf"
	MethodNOIMultiple     MethodName = "noi_multiple"
	MethodComparableSales MethodName = "comparable_sales"
	MethodReplacementCost MethodName = "replacement_cost"
)

// MethodNames lists the methods in their reporting order.
var MethodNames = []MethodName{
	MethodCapRate, MethodPricePerBed, MethodDCF,
	MethodNOIMultiple, MethodComparableSales, MethodReplacementCost,
}

// AdjustmentKind describes the unit of an adjustment's impact.
type AdjustmentKind string

const (
	AdjustDollar     AdjustmentKind = "dollar"
	AdjustRate       AdjustmentKind = "rate"
	AdjustMultiplier AdjustmentKind = "multiplier"
	AdjustNote       AdjustmentKind = "note"
)

// Adjustment is one entry in a method's audit trail.
type Adjustment struct {
	Description string         `json:"description"`
	Kind        AdjustmentKind `json:"kind"`
	Impact      float64        `json:"impact"`
}

// ValuationMethod is the output of one estimation method. Build it with
// NewValuationMethod so WeightedValue stays equal to Value * Weight.
type ValuationMethod struct {
	Name          MethodName         `json:"name"`
	Value         float64            `json:"value"`
	Confidence    Confidence         `json:"confidence"`
	Weight        float64            `json:"weight"`
	WeightedValue float64            `json:"weighted_value"`
	Inputs        map[string]float64 `json:"inputs"`
	Adjustments   []Adjustment       `json:"adjustments"`
}

// NewValuationMethod assembles a method result and derives its weighted value.
func NewValuationMethod(name MethodName, value float64, confidence Confidence, weight float64, inputs map[string]float64, adjustments []Adjustment) ValuationMethod {
	if inputs == nil {
		inputs = map[string]float64{}
	}
	if adjustments == nil {
		adjustments = []Adjustment{}
	}
	return ValuationMethod{
		Name:          name,
		Value:         value,
		Confidence:    confidence,
		Weight:        weight,
		WeightedValue: value * weight,
		Inputs:        inputs,
		Adjustments:   adjustments,
	}
}

// SensitivityPoint is one point on a sensitivity curve.
type SensitivityPoint struct {
	Input float64 `json:"input"`
	Value float64 `json:"value"`
}

// Sensitivity holds the illustrative curves shipped with every valuation.
type Sensitivity struct {
	CapRate   []SensitivityPoint `json:"cap_rate"`
	Occupancy []SensitivityPoint `json:"occupancy"`
	NOI       []SensitivityPoint `json:"noi"`
}

// ReconciliationEntry records how one method contributed to the reconciled value.
type ReconciliationEntry struct {
	Method         MethodName `json:"method"`
	Value          float64    `json:"value"`
	Confidence     Confidence `json:"confidence"`
	BaseWeight     float64    `json:"base_weight"`
	AdjustedWeight float64    `json:"adjusted_weight"`
	ZScore         float64    `json:"z_score"`
	Trimmed        bool       `json:"trimmed"`
}

// Reconciliation describes the combination step.
type Reconciliation struct {
	Method          string                `json:"method"`
	Entries         []ReconciliationEntry `json:"entries"`
	ReconciledValue float64               `json:"reconciled_value"`
	StdDev          float64               `json:"std_dev"`
	TrimmedCount    int                   `json:"trimmed_count"`
}

// ValuationResult is the packaged outcome of one valuation run.
type ValuationResult struct {
	Methods         []ValuationMethod `json:"methods"`
	ReconciledValue float64           `json:"reconciled_value"`
	ValuePerBed     float64           `json:"value_per_bed"`
	ImpliedCapRate  float64           `json:"implied_cap_rate"`
	ValueLow        float64           `json:"value_low"`
	ValueMid        float64           `json:"value_mid"`
	ValueHigh       float64           `json:"value_high"`
	Confidence      Confidence        `json:"confidence"`
	Sensitivity     Sensitivity       `json:"sensitivity"`
}

// Method returns the result for the named method, if it ran.
func (r *ValuationResult) Method(name MethodName) (ValuationMethod, bool) {
	for _, m := range r.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return ValuationMethod{}, false
}
