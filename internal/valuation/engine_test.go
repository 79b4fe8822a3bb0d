package valuation

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/settings"
)

func method(name model.MethodName, value float64, conf model.Confidence, weight float64) model.ValuationMethod {
	return model.NewValuationMethod(name, value, conf, weight, nil, nil)
}

func sumWeights(entries []model.ReconciliationEntry) float64 {
	var s float64
	for _, e := range entries {
		s += e.AdjustedWeight
	}
	return s
}

func plainReconciliation() settings.ReconciliationSettings {
	return settings.ReconciliationSettings{Method: settings.ReconcileWeightedAverage}
}

func TestReconcile_WeightedAverage(t *testing.T) {
	t.Parallel()
	methods := []model.ValuationMethod{
		method(model.MethodCapRate, 100, model.ConfidenceMedium, 0.6),
		method(model.MethodPricePerBed, 200, model.ConfidenceMedium, 0.2),
		method(model.MethodDCF, 0, model.ConfidenceLow, 0.2), // ignored
	}
	rec := Reconcile(methods, plainReconciliation())

	require.Len(t, rec.Entries, 2)
	assert.InDelta(t, 0.75, rec.Entries[0].AdjustedWeight, 1e-12)
	assert.InDelta(t, 125, rec.ReconciledValue, 1e-9)
	assert.InDelta(t, 50, rec.StdDev, 1e-9)
}

func TestReconcile_ConfidenceWeighting(t *testing.T) {
	t.Parallel()
	cfg := settings.Defaults().Reconciliation
	cfg.TrimOutliers = false
	methods := []model.ValuationMethod{
		method(model.MethodCapRate, 100, model.ConfidenceHigh, 0.5),
		method(model.MethodPricePerBed, 200, model.ConfidenceLow, 0.5),
	}
	rec := Reconcile(methods, cfg)

	hi, lo := 0.5*1.2, 0.5*0.7
	assert.InDelta(t, hi/(hi+lo), rec.Entries[0].AdjustedWeight, 1e-12)
	assert.InDelta(t, (100*hi+200*lo)/(hi+lo), rec.ReconciledValue, 1e-9)
}

func TestReconcile_Median(t *testing.T) {
	t.Parallel()
	cfg := plainReconciliation()
	cfg.Method = settings.ReconcileMedian
	methods := []model.ValuationMethod{
		method(model.MethodCapRate, 100, model.ConfidenceHigh, 0.9),
		method(model.MethodPricePerBed, 300, model.ConfidenceHigh, 0.05),
		method(model.MethodDCF, 200, model.ConfidenceHigh, 0.05),
		method(model.MethodNOIMultiple, 400, model.ConfidenceHigh, 0.05),
	}
	rec := Reconcile(methods, cfg)
	assert.InDelta(t, 250, rec.ReconciledValue, 1e-9)
}

func TestReconcile_ModeAdjusted(t *testing.T) {
	t.Parallel()
	cfg := plainReconciliation()
	cfg.Method = settings.ReconcileModeAdjusted
	methods := []model.ValuationMethod{
		method(model.MethodCapRate, 100, model.ConfidenceHigh, 1),
		method(model.MethodPricePerBed, 100, model.ConfidenceHigh, 1),
		method(model.MethodDCF, 200, model.ConfidenceHigh, 1),
	}
	rec := Reconcile(methods, cfg)

	// Median 100; the 200 value's weight is halved.
	assert.InDelta(t, (100+100+200*0.5)/2.5, rec.ReconciledValue, 1e-9)
	assert.InDelta(t, 1.0, sumWeights(rec.Entries), 1e-12)
}

func TestReconcile_TrimsOutlier(t *testing.T) {
	t.Parallel()
	cfg := settings.Defaults().Reconciliation
	cfg.ConfidenceWeighting = false
	methods := []model.ValuationMethod{
		method(model.MethodCapRate, 100, model.ConfidenceMedium, 1),
		method(model.MethodPricePerBed, 100, model.ConfidenceMedium, 1),
		method(model.MethodDCF, 100, model.ConfidenceMedium, 1),
		method(model.MethodNOIMultiple, 100, model.ConfidenceMedium, 1),
		method(model.MethodComparableSales, 100, model.ConfidenceMedium, 1),
		method(model.MethodReplacementCost, 1000, model.ConfidenceMedium, 1),
	}
	rec := Reconcile(methods, cfg)

	assert.Equal(t, 1, rec.TrimmedCount)
	last := rec.Entries[len(rec.Entries)-1]
	assert.True(t, last.Trimmed)
	assert.Zero(t, last.AdjustedWeight)
	assert.Greater(t, last.ZScore, 2.0)
	assert.InDelta(t, 100, rec.ReconciledValue, 1e-9)
	assert.InDelta(t, 1.0, sumWeights(rec.Entries), 1e-12)
}

func TestReconcile_Properties(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))
	names := model.MethodNames

	for trial := 0; trial < 500; trial++ {
		n := 2 + rng.Intn(len(names)-1)
		methods := make([]model.ValuationMethod, n)
		confs := []model.Confidence{model.ConfidenceHigh, model.ConfidenceMedium, model.ConfidenceLow}
		for i := 0; i < n; i++ {
			v := 1 + rng.Float64()*1_000_000
			if rng.Intn(4) == 0 {
				v *= 50
			}
			methods[i] = method(names[i], v, confs[rng.Intn(3)], rng.Float64())
		}
		cfg := settings.Defaults().Reconciliation
		cfg.OutlierThreshold = 0.1 + rng.Float64()*2

		rec := Reconcile(methods, cfg)
		require.Len(t, rec.Entries, n)
		assert.InDelta(t, 1.0, sumWeights(rec.Entries), 1e-9, "trial %d", trial)
		assert.GreaterOrEqual(t, len(survivingValues(rec.Entries)), 2, "trial %d", trial)
	}
}

func TestReconcile_ZeroWeightsShareEqually(t *testing.T) {
	t.Parallel()
	methods := []model.ValuationMethod{
		method(model.MethodCapRate, 100, model.ConfidenceMedium, 0),
		method(model.MethodPricePerBed, 300, model.ConfidenceMedium, 0),
	}
	rec := Reconcile(methods, plainReconciliation())
	assert.InDelta(t, 200, rec.ReconciledValue, 1e-9)
}

func TestReconcile_IgnoresNonFiniteValues(t *testing.T) {
	t.Parallel()
	methods := []model.ValuationMethod{
		method(model.MethodCapRate, 100, model.ConfidenceMedium, 0.5),
		method(model.MethodPricePerBed, 200, model.ConfidenceMedium, 0.5),
		method(model.MethodDCF, math.Inf(1), model.ConfidenceMedium, 0.5),
		method(model.MethodNOIMultiple, math.NaN(), model.ConfidenceMedium, 0.5),
	}
	rec := Reconcile(methods, plainReconciliation())

	require.Len(t, rec.Entries, 2)
	assert.InDelta(t, 150, rec.ReconciledValue, 1e-9)
	assert.InDelta(t, 1, sumWeights(rec.Entries), 1e-12)
}

func TestEngine_NegativeDiscountRateStaysEncodable(t *testing.T) {
	t.Parallel()
	s := settings.Defaults()
	s.DCF.DiscountRate.SNF = -1

	out := NewEngine(s).Valuate(baseInput())
	assert.False(t, math.IsInf(out.Result.ReconciledValue, 0))
	assert.Positive(t, out.Result.ReconciledValue)
	_, err := json.Marshal(out)
	require.NoError(t, err)
}

func TestReconcile_Empty(t *testing.T) {
	t.Parallel()
	rec := Reconcile(nil, settings.Defaults().Reconciliation)
	assert.Empty(t, rec.Entries)
	assert.Zero(t, rec.ReconciledValue)
}

func TestEngine_BaseScenario(t *testing.T) {
	t.Parallel()
	out := NewEngine(settings.Defaults()).Valuate(baseInput())

	capRate, ok := out.Result.Method(model.MethodCapRate)
	require.True(t, ok)
	assert.InDelta(t, 25_000_000, capRate.Value, 1e-6)
	assert.Equal(t, model.ConfidenceLow, capRate.Confidence)

	_, ok = out.Result.Method(model.MethodComparableSales)
	assert.False(t, ok, "comparable sales needs comps")

	for _, m := range out.Methods {
		assert.InDelta(t, m.Value*m.Weight, m.WeightedValue, 1e-6, string(m.Name))
	}
	assert.InDelta(t, 1.0, sumWeights(out.Reconciliation.Entries), 1e-9)
	assert.Positive(t, out.Result.ReconciledValue)
	assert.Equal(t, out.Result.ReconciledValue, out.Result.ValueMid)
	assert.LessOrEqual(t, out.Result.ValueLow, out.Result.ValueMid)
	assert.GreaterOrEqual(t, out.Result.ValueHigh, out.Result.ValueMid)
	assert.InDelta(t, out.Result.ReconciledValue/120, out.Result.ValuePerBed, 1e-6)
	assert.InDelta(t, 2_500_000/out.Result.ReconciledValue, out.Result.ImpliedCapRate, 1e-12)
	assert.Equal(t, model.ConfidenceLow, out.Result.Confidence)
}

func TestEngine_Preconditions(t *testing.T) {
	t.Parallel()
	in := baseInput()
	in.Financials = nil
	out := NewEngine(settings.Defaults()).Valuate(in)

	names := make([]model.MethodName, 0, len(out.Methods))
	for _, m := range out.Methods {
		names = append(names, m.Name)
	}
	assert.ElementsMatch(t, []model.MethodName{model.MethodPricePerBed, model.MethodReplacementCost}, names)
	assert.Zero(t, out.Result.ImpliedCapRate)
}

func TestEngine_DisabledMethod(t *testing.T) {
	t.Parallel()
	s := settings.Defaults()
	s.Methods.DCF.Enabled = false
	out := NewEngine(s).Valuate(baseInput())
	_, ok := out.Result.Method(model.MethodDCF)
	assert.False(t, ok)
}

func TestEngine_SettingsAreCopied(t *testing.T) {
	t.Parallel()
	s := settings.Defaults()
	e := NewEngine(s)
	s.CapRate.BaseRate.SNF = 0.2

	capRate, _ := e.Valuate(baseInput()).Result.Method(model.MethodCapRate)
	assert.InDelta(t, 25_000_000, capRate.Value, 1e-6)
}

func TestOverallConfidence(t *testing.T) {
	t.Parallel()
	h, m, l := model.ConfidenceHigh, model.ConfidenceMedium, model.ConfidenceLow
	mk := func(cs ...model.Confidence) []model.ValuationMethod {
		out := make([]model.ValuationMethod, len(cs))
		for i, c := range cs {
			out[i] = model.ValuationMethod{Confidence: c}
		}
		return out
	}
	assert.Equal(t, h, overallConfidence(mk(h, h, l, l)))
	assert.Equal(t, l, overallConfidence(mk(h, l, l)))
	assert.Equal(t, m, overallConfidence(mk(h, m, l)))
	assert.Equal(t, m, overallConfidence(nil))
}

func TestCurves(t *testing.T) {
	t.Parallel()
	s := Curves(baseInput())

	require.Len(t, s.CapRate, 5)
	assert.InDelta(t, 25_000_000, s.CapRate[0].Value, 1e-6)
	assert.InDelta(t, 2_500_000/0.14, s.CapRate[4].Value, 1e-6)

	require.Len(t, s.Occupancy, 6)
	assert.InDelta(t, 70, s.Occupancy[0].Input, 1e-9)
	assert.InDelta(t, 20_000_000*70/85, s.Occupancy[0].Value, 1e-6)

	require.Len(t, s.NOI, 5)
	assert.InDelta(t, 20_000_000*0.8, s.NOI[0].Value, 1e-6)
	assert.InDelta(t, 20_000_000, s.NOI[2].Value, 1e-6)
	assert.False(t, math.IsNaN(s.NOI[4].Value))
}
