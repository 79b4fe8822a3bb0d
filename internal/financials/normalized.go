package financials

// NormalizationAdjustment documents one change made while normalizing a
// statement (for example, replacing an owner's management fee with market rate).
type NormalizationAdjustment struct {
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Original    float64 `json:"original"`
	Normalized  float64 `json:"normalized"`
	Impact      float64 `json:"impact"`
}

// BenchmarkComparison compares one metric against a peer benchmark.
type BenchmarkComparison struct {
	Metric    string  `json:"metric"`
	Actual    float64 `json:"actual"`
	Benchmark float64 `json:"benchmark"`
	Variance  float64 `json:"variance"`
	Flag      string  `json:"flag,omitempty"`
}

// NewBenchmarkComparison derives the variance between actual and benchmark.
func NewBenchmarkComparison(metric string, actual, benchmark float64, flag string) BenchmarkComparison {
	return BenchmarkComparison{
		Metric:    metric,
		Actual:    actual,
		Benchmark: benchmark,
		Variance:  actual - benchmark,
		Flag:      flag,
	}
}

// Normalized is the output of the external normalization step. The engines
// only read Normalized.Metrics() and the normalized line items.
type Normalized struct {
	Original    Statement                 `json:"original"`
	Normalized  Statement                 `json:"normalized"`
	Adjustments []NormalizationAdjustment `json:"adjustments"`
	Benchmarks  []BenchmarkComparison     `json:"benchmarks"`
}

// FromStatement wraps a statement that needed no normalization.
func FromStatement(s Statement) *Normalized {
	return &Normalized{Original: s, Normalized: s}
}

// NOI returns the annualized normalized NOI, or zero when n is nil.
func (n *Normalized) NOI() float64 {
	if n == nil {
		return 0
	}
	return n.Normalized.Metrics().AnnualizedNOI
}

// Metrics returns the normalized metrics, or the zero Metrics when n is nil.
func (n *Normalized) Metrics() Metrics {
	if n == nil {
		return Metrics{}
	}
	return n.Normalized.Metrics()
}
