package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/underwriter/internal/analysis"
	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/params"
	"github.com/sells-group/underwriter/internal/recalc"
	"github.com/sells-group/underwriter/internal/risk"
	"github.com/sells-group/underwriter/internal/valuation"
)

func sampleValuation() *valuation.Output {
	methods := []model.ValuationMethod{
		model.NewValuationMethod(model.MethodCapRate, 9_000_000, model.ConfidenceHigh, 0.5, map[string]float64{"noi": 1_000_000, "cap_rate": 0.111}, nil),
		model.NewValuationMethod(model.MethodPricePerBed, 8_000_000, model.ConfidenceMedium, 0.5, nil,
			[]model.Adjustment{{Description: "Below-average star rating", Kind: model.AdjustDollar, Impact: -250_000}}),
	}
	return &valuation.Output{
		Result: model.ValuationResult{
			Methods:         methods,
			ReconciledValue: 8_500_000,
			ValuePerBed:     85_000,
			ImpliedCapRate:  0.1176,
			ValueLow:        7_650_000,
			ValueMid:        8_500_000,
			ValueHigh:       9_350_000,
			Confidence:      model.ConfidenceHigh,
			Sensitivity: model.Sensitivity{CapRate: []model.SensitivityPoint{
				{Input: 0.10, Value: 10_000_000},
				{Input: 0.12, Value: 8_333_333},
			}},
		},
		Methods: methods,
		Reconciliation: model.Reconciliation{
			Method: "weighted_average",
			Entries: []model.ReconciliationEntry{
				{Method: model.MethodCapRate, Value: 9_000_000, Confidence: model.ConfidenceHigh, BaseWeight: 0.5, AdjustedWeight: 0.5},
				{Method: model.MethodPricePerBed, Value: 8_000_000, Confidence: model.ConfidenceMedium, BaseWeight: 0.5, AdjustedWeight: 0.5},
			},
			ReconciledValue: 8_500_000,
			StdDev:          500_000,
		},
	}
}

func sampleRisk() *risk.Output {
	actual := 1.0
	return &risk.Output{
		Assessment: model.RiskAssessment{
			OverallScore:  41.5,
			OverallRating: model.RatingModerate,
			Categories: []model.CategoryScore{{
				Category: model.CategoryRegulatory,
				Score:    55,
				Weight:   0.25,
				Rating:   model.RatingElevated,
				Factors: []model.RiskFactor{{
					ID: "star_rating", Category: model.CategoryRegulatory, Name: "CMS star rating",
					Score: 60, Weight: 0.4, Severity: model.RatingElevated, Details: "2 stars", DataAvailable: true,
				}},
			}},
			DealBreakers: []model.DealBreakerResult{
				{ID: "sff", Name: "Special Focus Facility", Category: model.CategoryRegulatory, Triggered: true, Threshold: 1, Actual: &actual, Reason: "facility is on the SFF list"},
			},
			KeyRisks: []model.RiskFactor{{
				ID: "star_rating", Name: "CMS star rating", Score: 60, Severity: model.RatingElevated, Details: "2 stars",
			}},
			Mitigants:        []model.Mitigant{{FactorID: "star_rating", Action: "Budget a quality improvement plan"}},
			DueDiligenceList: []string{"Review the last three surveys"},
		},
		DealBreakers: risk.DealBreakers{
			AnyTriggered: true,
			Triggered:    []string{"sff"},
			Results: []model.DealBreakerResult{
				{ID: "sff", Name: "Special Focus Facility", Category: model.CategoryRegulatory, Triggered: true, Threshold: 1, Actual: &actual, Reason: "facility is on the SFF list"},
				{ID: "abuse", Name: "Abuse citation", Category: model.CategoryRegulatory},
			},
		},
		Summary: risk.Summary{
			Recommendation:   model.RecommendPass,
			OverallScore:     41.5,
			OverallRating:    model.RatingModerate,
			DealBreakerCount: 1,
			KeyRiskCount:     1,
		},
	}
}

func sampleParams() *params.Resolved {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return &params.Resolved{
		DealID: "deal-1",
		Preset: "conservative",
		Sources: map[string]model.ParameterSource{
			"valuation.cap_rate.snf": {Path: "valuation.cap_rate.snf", Source: model.SourceDealOverride, OriginalValue: 0.12, OverriddenValue: 0.11, OverriddenBy: "ana", OverriddenAt: &at},
			"valuation.ppb.snf":      {Path: "valuation.ppb.snf", Source: model.SourcePreset, OriginalValue: 85000.0, OverriddenValue: 80000.0},
		},
		Rejected: []params.Rejection{{Path: "valuation.cap_rate.snf", Source: model.SourceUserInput, Value: -1, Reason: "must be positive"}},
	}
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "$8,500,000", Currency(8_500_000))
	assert.Equal(t, "-$1,200", Currency(-1_200))
	assert.Equal(t, "87.5%", Percent(87.5))
	assert.Equal(t, "10.50%", Rate(0.105))
	assert.Equal(t, "+4.2%", SignedPercent(4.2))
	assert.Equal(t, "-4.2%", SignedPercent(-4.2))
	assert.Equal(t, "0.0%", SignedPercent(0))
	assert.Equal(t, "1,234.50", Number(1234.5, 2))
	assert.Equal(t, "8.0x", Multiple(8))
}

func TestFormatValuation(t *testing.T) {
	out := FormatValuation(sampleValuation())
	assert.Contains(t, out, "# Valuation")
	assert.Contains(t, out, "Reconciled value: $8,500,000 (high confidence)")
	assert.Contains(t, out, "Range: $7,650,000 to $9,350,000")
	assert.Contains(t, out, "Value per bed: $85,000")
	assert.Contains(t, out, "Implied cap rate: 11.76%")
	assert.Contains(t, out, "## Reconciliation (weighted_average)")
	assert.Contains(t, out, "Below-average star rating (-$250,000)")
	assert.NotContains(t, out, "outlier")
}

func TestFormatRisk(t *testing.T) {
	out := FormatRisk(sampleRisk())
	assert.Contains(t, out, "Recommendation: pass")
	assert.Contains(t, out, "Overall score: 41.5 (moderate)")
	assert.Contains(t, out, "- Special Focus Facility: facility is on the SFF list")
	assert.NotContains(t, out, "Abuse citation")
	assert.Contains(t, out, "- Budget a quality improvement plan")
	assert.Contains(t, out, "## Due Diligence Focus")
}

func TestFormatAnalysis(t *testing.T) {
	res := &analysis.Result{
		AnalysisID: "a-1",
		DealID:     "deal-1",
		Extraction: &analysis.Extraction{Facility: model.FacilityProfile{Name: "Oak Manor"}},
		Risk:       sampleRisk(),
		Valuation:  &recalc.Entry{Valuation: sampleValuation()},
		Synthesis:  analysis.Synthesis{Headline: "Pass at $8,500,000"},
		Warnings:   []string{"cms lookup failed"},
		Duration:   1500 * time.Millisecond,
	}
	out := FormatAnalysis(res)
	assert.True(t, strings.HasPrefix(out, "# Analysis: Oak Manor\n"))
	assert.Contains(t, out, "Pass at $8,500,000")
	assert.Contains(t, out, "- cms lookup failed")
	assert.Contains(t, out, "## Valuation")
	assert.Contains(t, out, "### Methods")
	assert.Contains(t, out, "## Risk Assessment")
}

func TestWriteParameters(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteParameters(&buf, sampleParams()))
	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "PARAMETER"))
	assert.True(t, strings.HasPrefix(lines[1], "valuation.cap_rate.snf"))
	assert.Contains(t, lines[1], "ana")
	assert.True(t, strings.HasPrefix(lines[2], "valuation.ppb.snf"))
	assert.Contains(t, lines[3], "must be positive")
}

func TestWriteSensitivity(t *testing.T) {
	var buf bytes.Buffer
	err := WriteSensitivity(&buf, &recalc.SensitivityResult{
		Param:          "valuation.cap_rate.snf",
		BaseParamValue: 0.12,
		BaseValue:      8_500_000,
		Elasticity:     -1,
		Points: []recalc.SensitivityPoint{
			{ParamValue: 0.108, Value: 9_444_444, ParamChangePct: -10, ValueChangePct: 11.1},
			{ParamValue: 0.132, Value: 7_727_273, ParamChangePct: 10, ValueChangePct: -9.1},
		},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "elasticity -1.00")
	assert.Contains(t, out, "$9,444,444")
	assert.Contains(t, out, "+11.1%")
	assert.Contains(t, out, "-9.1%")
}

func TestWriteTornadoAndScenarios(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTornado(&buf, &recalc.TornadoResult{
		BaseValue: 8_500_000,
		Bars:      []recalc.TornadoBar{{Param: "valuation.cap_rate.snf", LowInput: 0.108, HighInput: 0.132, LowValue: 9_444_444, HighValue: 7_727_273, Swing: 1_717_171}},
	}))
	assert.Contains(t, buf.String(), "$1,717,171")

	buf.Reset()
	require.NoError(t, WriteScenarios(&buf, &recalc.ScenarioComparison{
		BaselineValue:      8_500_000,
		BaselineConfidence: model.ConfidenceHigh,
		Scenarios: []recalc.ScenarioResult{{
			Name: "downside", Value: 7_650_000, Diff: -850_000, DiffPct: -10, Confidence: model.ConfidenceMedium,
			Rejected: []params.Rejection{{Path: "x.y", Value: "bad", Reason: "unknown parameter"}},
		}},
	}))
	out := buf.String()
	assert.Contains(t, out, "baseline")
	assert.Contains(t, out, "-$850,000")
	assert.Contains(t, out, "downside: rejected x.y=bad: unknown parameter")
}

func TestWriteMonteCarlo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMonteCarlo(&buf, &recalc.MonteCarloResult{
		Iterations: 1000,
		Seed:       42,
		Mean:       8_400_000,
		Histogram: []recalc.Bucket{
			{Min: 7_000_000, Max: 8_000_000, Count: 10},
			{Min: 8_000_000, Max: 9_000_000, Count: 20},
		},
	}))
	out := buf.String()
	assert.Contains(t, out, "$8,400,000")
	assert.Contains(t, out, strings.Repeat("#", histogramWidth))
	assert.Contains(t, out, strings.Repeat("#", histogramWidth/2)+"\n")
}
