package recalc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/underwriter/internal/params"
	"github.com/sells-group/underwriter/internal/settings"
)

func TestSlider_Clamp(t *testing.T) {
	s := Slider{Param: "cap_rate.base_rate.snf", Min: 0.08, Max: 0.12, Step: 0.0025, Default: 0.10}

	tests := []struct {
		in, want float64
	}{
		{0.10, 0.10},
		{0.1012, 0.10},
		{0.1014, 0.1025},
		{0.05, 0.08},
		{0.5, 0.12},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, s.clamp(tt.in), 1e-12, "clamp(%v)", tt.in)
	}

	free := Slider{Min: 0, Max: 1}
	assert.InDelta(t, 0.333, free.clamp(0.333), 1e-12, "zero step does not snap")
}

func TestSlider_Differs(t *testing.T) {
	s := Slider{Min: 0, Max: 100, Step: 10, Default: 50}
	assert.False(t, s.differs(50))
	assert.False(t, s.differs(54.9))
	assert.True(t, s.differs(60))

	exact := Slider{Min: 0, Max: 1, Default: 0.5}
	assert.False(t, exact.differs(0.5))
	assert.True(t, exact.differs(0.5001))
}

func TestSliderFor(t *testing.T) {
	s, err := SliderFor(settings.Defaults(), "price_per_bed.base.snf", 0.2, 20)
	require.NoError(t, err)
	assert.InDelta(t, 68_000, s.Min, 1e-6)
	assert.InDelta(t, 102_000, s.Max, 1e-6)
	assert.InDelta(t, 85_000, s.Default, 1e-9)
	assert.InDelta(t, 1_700, s.Step, 1e-6)

	_, err = SliderFor(settings.Defaults(), "reconciliation.method", 0.2, 20)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func newTestSliders(t *testing.T, fake *fakeRecalculator) *SliderCalculator {
	t.Helper()
	dc := NewDebouncedCalculator(context.Background(), fake, time.Hour, 0, nil)
	t.Cleanup(dc.Stop)

	sc, err := NewSliderCalculator(dc, Request{DealID: "deal-1", Inputs: params.Inputs{"dcf.hold_years": 7}}, []Slider{
		{Param: "cap_rate.base_rate.snf", Min: 0.08, Max: 0.12, Step: 0.0025, Default: 0.10},
		{Param: "price_per_bed.base.snf", Min: 60_000, Max: 110_000, Step: 1_000, Default: 85_000},
	})
	require.NoError(t, err)
	return sc
}

func TestSliderCalculator_OnlyChangedOverrides(t *testing.T) {
	fake := &fakeRecalculator{}
	sc := newTestSliders(t, fake)

	v, seq, err := sc.Set("cap_rate.base_rate.snf", 0.2)
	require.NoError(t, err)
	assert.InDelta(t, 0.12, v, 1e-12)
	assert.Equal(t, uint64(1), seq)

	// Leading edge ran synchronously with the clamped value and the base inputs.
	reqs := fake.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "deal-1", reqs[0].DealID)
	assert.Equal(t, 7, reqs[0].Inputs["dcf.hold_years"])
	assert.InDelta(t, 0.12, reqs[0].Inputs["cap_rate.base_rate.snf"], 1e-12)
	assert.NotContains(t, reqs[0].Inputs, "price_per_bed.base.snf")

	// Within half a step of the default: not an override.
	_, _, err = sc.Set("price_per_bed.base.snf", 85_400)
	require.NoError(t, err)
	got, ok := sc.Value("price_per_bed.base.snf")
	require.True(t, ok)
	assert.InDelta(t, 85_000, got, 1e-9)
	ov := sc.Overrides()
	require.Len(t, ov, 1)
	assert.InDelta(t, 0.12, ov["cap_rate.base_rate.snf"], 1e-12)

	_, _, err = sc.Set("price_per_bed.base.snf", 90_000)
	require.NoError(t, err)
	assert.Len(t, sc.Overrides(), 2)

	sc.Reset()
	assert.Empty(t, sc.Overrides())
	got, _ = sc.Value("cap_rate.base_rate.snf")
	assert.InDelta(t, 0.10, got, 1e-12)
}

func TestSliderCalculator_Errors(t *testing.T) {
	fake := &fakeRecalculator{}
	sc := newTestSliders(t, fake)

	_, _, err := sc.Set("dcf.hold_years", 5)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, ok := sc.Value("dcf.hold_years")
	assert.False(t, ok)
	assert.Empty(t, fake.requests())

	dc := NewDebouncedCalculator(context.Background(), fake, time.Hour, 0, nil)
	defer dc.Stop()
	bad := [][]Slider{
		{{Param: "dcf.warp_factor", Min: 0, Max: 1}},
		{{Param: "dcf.revenue_growth", Min: 0.05, Max: 0.01}},
		{{Param: "dcf.revenue_growth", Min: 0, Max: 0.1, Default: 0.2}},
		{{Param: "dcf.revenue_growth", Min: 0, Max: 0.1, Step: -1}},
		{{Param: "dcf.revenue_growth", Max: 1}, {Param: "dcf.revenue_growth", Max: 1}},
	}
	for _, sliders := range bad {
		_, err := NewSliderCalculator(dc, Request{}, sliders)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}

	assert.Equal(t, []string{"cap_rate.base_rate.snf", "price_per_bed.base.snf"}, func() []string {
		var out []string
		for _, s := range sc.Sliders() {
			out = append(out, s.Param)
		}
		return out
	}())
}
