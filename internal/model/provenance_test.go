package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParameterOverride_Path(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		o    ParameterOverride
		want string
	}{
		{"category and key", ParameterOverride{Category: "cap_rate", Key: "base_rate.snf"}, "cap_rate.base_rate.snf"},
		{"key only", ParameterOverride{Key: "reconciliation"}, "reconciliation"},
		{"preset selector", ParameterOverride{Category: PresetOverrideCategory, Key: PresetOverrideKey}, "preset.__preset__"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.o.Path())
		})
	}
}

func TestParameterOverride_IsPresetSelector(t *testing.T) {
	t.Parallel()
	assert.True(t, ParameterOverride{Category: PresetOverrideCategory, Key: PresetOverrideKey}.IsPresetSelector())
	assert.False(t, ParameterOverride{Category: "dcf", Key: "hold_years"}.IsPresetSelector())
}

func TestParameterSource_JSON(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	src := ParameterSource{
		Path:            "dcf.exit_cap_rate.snf",
		Source:          SourceDealOverride,
		OriginalValue:   0.11,
		OverriddenValue: 0.115,
		OverriddenBy:    "analyst@sells.com",
		OverriddenAt:    &at,
	}

	data, err := json.Marshal(src)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"source":"deal_override"`)
	assert.Contains(t, string(data), `"original_value":0.11`)
}

func TestBedCounts_Effective(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 110, BedCounts{Licensed: 120, Certified: 115, Operational: 110}.Effective())
	assert.Equal(t, 115, BedCounts{Licensed: 120, Certified: 115}.Effective())
	assert.Equal(t, 120, BedCounts{Licensed: 120}.Effective())
	assert.Equal(t, 0, BedCounts{}.Effective())
}

func TestFacilityProfile_Age(t *testing.T) {
	t.Parallel()

	age, ok := FacilityProfile{YearBuilt: 1996}.Age(2026)
	assert.True(t, ok)
	assert.Equal(t, 30, age)

	_, ok = FacilityProfile{}.Age(2026)
	assert.False(t, ok)

	_, ok = FacilityProfile{YearBuilt: 2030}.Age(2026)
	assert.False(t, ok)
}

func TestNewValuationMethod_WeightedValue(t *testing.T) {
	t.Parallel()

	m := NewValuationMethod(MethodCapRate, 25_000_000, ConfidenceLow, 0.3, nil, nil)
	assert.InDelta(t, 7_500_000, m.WeightedValue, 1e-6)
	assert.NotNil(t, m.Inputs)
	assert.NotNil(t, m.Adjustments)
}

func TestAssetType_Valid(t *testing.T) {
	t.Parallel()
	assert.True(t, AssetSNF.Valid())
	assert.True(t, AssetILF.Valid())
	assert.False(t, AssetType("CCRC").Valid())
}

func TestPayerMixTotal(t *testing.T) {
	t.Parallel()
	p := PayerMix{Medicare: 15, Medicaid: 60, ManagedCare: 10, PrivatePay: 12, Other: 3}
	assert.InDelta(t, 100, p.Total(), 1e-9)
}
