package params

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/settings"
	"github.com/sells-group/underwriter/internal/store"
)

func newTestResolver(t *testing.T) (*Resolver, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemory()
	r := NewResolver(st, st, settings.Defaults()).WithNow(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return r, st
}

func savePreset(t *testing.T, r *Resolver, name, doc string) {
	t.Helper()
	_, err := r.SavePreset(context.Background(), model.Preset{Name: name, Settings: json.RawMessage(doc), CreatedBy: "ops"})
	require.NoError(t, err)
}

func TestResolve_DefaultsOnly(t *testing.T) {
	r, _ := newTestResolver(t)

	res, err := r.Resolve(context.Background(), "deal-1")
	require.NoError(t, err)
	assert.Empty(t, res.Sources)
	assert.Empty(t, res.Rejected)
	assert.Empty(t, res.Preset)
	assert.Equal(t, settings.Defaults(), res.Settings)
}

func TestResolve_Layering(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	savePreset(t, r, "conservative", `{"dcf": {"hold_years": 7, "exit_cap_rate": {"snf": 0.12}}}`)
	_, err := r.SaveOverride(ctx, "deal-1", PresetPath, "conservative", "alice", "")
	require.NoError(t, err)
	_, err = r.SaveOverride(ctx, "deal-1", "dcf.exit_cap_rate.snf", 0.125, "alice", "broker guidance")
	require.NoError(t, err)

	res, err := r.ResolveWithInputs(ctx, "deal-1", Inputs{"cap_rate.base_rate.snf": 0.095})
	require.NoError(t, err)
	assert.Equal(t, "conservative", res.Preset)
	assert.Empty(t, res.Rejected)

	assert.Equal(t, 7, res.Settings.DCF.HoldYears)
	assert.InDelta(t, 0.125, res.Settings.DCF.ExitCapRate.SNF, 1e-12)
	assert.InDelta(t, 0.095, res.Settings.CapRate.BaseRate.SNF, 1e-12)

	hold, ok := res.Source("dcf.hold_years")
	require.True(t, ok)
	assert.Equal(t, model.SourcePreset, hold.Source)
	assert.Equal(t, "ops", hold.OverriddenBy)

	exit, ok := res.Source("dcf.exit_cap_rate.snf")
	require.True(t, ok)
	assert.Equal(t, model.SourceDealOverride, exit.Source)
	assert.Equal(t, "alice", exit.OverriddenBy)
	assert.InDelta(t, 0.11, exit.OriginalValue, 1e-12, "original value is the global default")
	assert.InDelta(t, 0.125, exit.OverriddenValue, 1e-12)

	base, ok := res.Source("cap_rate.base_rate.snf")
	require.True(t, ok)
	assert.Equal(t, model.SourceUserInput, base.Source)
	require.NotNil(t, base.OverriddenAt)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), *base.OverriddenAt)

	_, ok = res.Source(PresetPath)
	assert.False(t, ok)
}

func TestResolve_ProvenanceOnlyChangedLeaves(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	// Same as the default: no provenance.
	_, err := r.SaveOverride(ctx, "deal-1", "dcf.hold_years", 10, "alice", "")
	require.NoError(t, err)
	_, err = r.SaveOverride(ctx, "deal-1", "dcf.revenue_growth", 0.04, "alice", "")
	require.NoError(t, err)

	// A session input that restores the default removes the provenance entry.
	res, err := r.ResolveWithInputs(ctx, "deal-1", Inputs{"dcf.revenue_growth": 0.03})
	require.NoError(t, err)
	assert.Empty(t, res.Sources)

	res, err = r.ResolveWithInputs(ctx, "deal-1", Inputs{"reconciliation.method": "median"})
	require.NoError(t, err)

	defaults, err := settings.Flatten(settings.Defaults())
	require.NoError(t, err)
	final, err := settings.Flatten(res.Settings)
	require.NoError(t, err)
	require.Len(t, res.Sources, 2)
	for path := range res.Sources {
		assert.False(t, settings.LeafEqual(defaults[path], final[path]), "%s is unchanged but has provenance", path)
	}
}

func TestResolve_LenientOnStaleRows(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	for _, o := range []model.ParameterOverride{
		{DealID: "deal-1", Category: "dcf", Key: "warp_factor", Value: json.RawMessage(`3`)},
		{DealID: "deal-1", Category: "dcf", Key: "hold_years", Value: json.RawMessage(`"ten"`)},
		{DealID: "deal-1", Category: "dcf", Key: "revenue_growth", Value: json.RawMessage(`0.05`)},
		{DealID: "deal-1", Category: model.PresetOverrideCategory, Key: model.PresetOverrideKey, Value: json.RawMessage(`"gone"`)},
	} {
		_, err := st.UpsertOverride(ctx, o)
		require.NoError(t, err)
	}

	res, err := r.ResolveWithInputs(ctx, "deal-1", Inputs{"nope.nothing": 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.05, res.Settings.DCF.RevenueGrowth, 1e-12)
	assert.Equal(t, 10, res.Settings.DCF.HoldYears)
	assert.Empty(t, res.Preset)

	paths := make([]string, 0, len(res.Rejected))
	for _, rej := range res.Rejected {
		paths = append(paths, rej.Path)
	}
	assert.ElementsMatch(t, []string{PresetPath, "dcf.hold_years", "dcf.warp_factor", "nope.nothing"}, paths)
	assert.Len(t, res.Sources, 1)
}

func TestResolve_RejectsOutOfRangeValues(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	for _, o := range []model.ParameterOverride{
		{DealID: "deal-1", Category: "dcf", Key: "discount_rate.snf", Value: json.RawMessage(`-1`)},
		{DealID: "deal-1", Category: "dcf", Key: "hold_years", Value: json.RawMessage(`-5`)},
		{DealID: "deal-1", Category: "dcf", Key: "exit_cap_rate.snf", Value: json.RawMessage(`0.12`)},
	} {
		_, err := st.UpsertOverride(ctx, o)
		require.NoError(t, err)
	}

	res, err := r.ResolveWithInputs(ctx, "deal-1", Inputs{
		"comparables.top_n":          1,
		"comparables.max_age_months": 24,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.13, res.Settings.DCF.DiscountRate.SNF, 1e-12)
	assert.Equal(t, 10, res.Settings.DCF.HoldYears)
	assert.InDelta(t, 0.12, res.Settings.DCF.ExitCapRate.SNF, 1e-12)
	assert.Equal(t, 5, res.Settings.Comparables.TopN, "top_n below min_comparables is reverted")
	assert.Equal(t, 24, res.Settings.Comparables.MaxAgeMonths)
	require.NoError(t, settings.Validate(res.Settings))

	reasons := map[string]string{}
	for _, rej := range res.Rejected {
		reasons[rej.Path] = rej.Reason
	}
	require.Len(t, reasons, 3)
	assert.Contains(t, reasons["dcf.discount_rate.snf"], "outside")
	assert.Contains(t, reasons["dcf.hold_years"], "outside")
	assert.Contains(t, reasons["comparables.top_n"], "min_comparables")

	_, ok := res.Source("comparables.top_n")
	assert.False(t, ok)
}

func TestResolve_RejectsInconsistentPreset(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	// Schema-valid, but switches off every method.
	savePreset(t, r, "nothing", `{"methods": {"cap_rate": {"enabled": false}, "dcf": {"enabled": false}, "price_per_bed": {"enabled": false}, "noi_multiple": {"enabled": false}, "comparable_sales": {"enabled": false}, "replacement_cost": {"enabled": false}}}`)
	_, err := r.SaveOverride(ctx, "deal-1", PresetPath, "nothing", "alice", "")
	require.NoError(t, err)

	res, err := r.Resolve(ctx, "deal-1")
	require.NoError(t, err)
	assert.Empty(t, res.Preset)
	assert.True(t, res.Settings.Methods.DCF.Enabled)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, PresetPath, res.Rejected[0].Path)
	assert.Contains(t, res.Rejected[0].Reason, "at least one enabled method")
}

func TestSaveOverride_Strict(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		path  string
		value any
	}{
		{"unknown parameter", "dcf.warp_factor", 1.0},
		{"wrong kind", "dcf.exit_cap_rate.snf", "high"},
		{"bad enum", "reconciliation.method", "mean"},
		{"negative discount rate", "dcf.discount_rate.snf", -1},
		{"negative hold", "dcf.hold_years", -5},
		{"top n below minimum", "comparables.top_n", 2},
		{"negative weight", "methods.cap_rate.weight", -0.3},
		{"missing preset", PresetPath, "nope"},
		{"preset not a string", PresetPath, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.SaveOverride(ctx, "deal-1", tt.path, tt.value, "alice", "")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidOverride)
		})
	}

	_, err := r.SaveOverride(ctx, "", "dcf.hold_years", 5, "alice", "")
	assert.ErrorIs(t, err, ErrInvalidOverride)
}

func TestSaveOverride_CoercesAndStores(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	saved, err := r.SaveOverride(ctx, "deal-1", "dcf.hold_years", 7.0, "alice", "shorter hold")
	require.NoError(t, err)
	assert.Equal(t, "dcf", saved.Category)
	assert.Equal(t, "hold_years", saved.Key)
	assert.JSONEq(t, `7`, string(saved.Value))
	assert.Equal(t, "shorter hold", saved.Reason)

	rows, err := st.ActiveOverrides(ctx, "deal-1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestOverrideHooks(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	var calls []string
	r.OnOverrideChange(func(dealID string) { calls = append(calls, dealID) })

	_, err := r.SaveOverride(ctx, "deal-1", "dcf.hold_years", 7, "alice", "")
	require.NoError(t, err)
	require.NoError(t, r.RemoveOverride(ctx, "deal-1", "dcf.hold_years", "bob"))
	savePreset(t, r, "base", `{}`)

	_, err = r.SaveOverride(ctx, "deal-1", "dcf.hold_years", "seven", "alice", "")
	require.Error(t, err)

	assert.Equal(t, []string{"deal-1", "deal-1", ""}, calls)
}

func TestRemoveOverride(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := r.SaveOverride(ctx, "deal-1", "dcf.hold_years", 7, "alice", "")
	require.NoError(t, err)
	require.NoError(t, r.RemoveOverride(ctx, "deal-1", "dcf.hold_years", "bob"))

	err = r.RemoveOverride(ctx, "deal-1", "dcf.hold_years", "bob")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, r.RemoveOverride(ctx, "deal-1", "hold_years", "bob"), ErrInvalidOverride)

	history, err := r.Overrides(ctx, "deal-1", true)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Active)

	res, err := r.Resolve(ctx, "deal-1")
	require.NoError(t, err)
	assert.Equal(t, 10, res.Settings.DCF.HoldYears)
	assert.Empty(t, res.Sources)
}

func TestSavePreset_Validates(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := r.SavePreset(ctx, model.Preset{Name: "bad", Settings: json.RawMessage(`{"magic": {}}`)})
	assert.ErrorIs(t, err, settings.ErrInvalidPreset)

	_, err = r.SavePreset(ctx, model.Preset{Name: " ", Settings: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, settings.ErrInvalidPreset)

	p, err := r.ImportPresetYAML(ctx, "short-hold", "five year hold", model.AssetSNF, []byte("dcf:\n  hold_years: 5\n"), "ops")
	require.NoError(t, err)
	assert.Equal(t, "short-hold", p.Name)
	assert.JSONEq(t, `{"dcf":{"hold_years":5}}`, string(p.Settings))
}
