package model

import (
	"encoding/json"
	"time"
)

// ParameterSourceKind identifies which layer set a parameter value.
type ParameterSourceKind string

const (
	SourceGlobal       ParameterSourceKind = "global"
	SourcePreset       ParameterSourceKind = "preset"
	SourceDealOverride ParameterSourceKind = "deal_override"
	SourceUserInput    ParameterSourceKind = "user_input"
)

// PresetOverrideKey is the override key that selects a named preset for a deal.
const PresetOverrideKey = "__preset__"

// PresetOverrideCategory is the category used for the preset selector row.
const PresetOverrideCategory = "preset"

// ParameterSource tracks where an effective parameter value came from.
type ParameterSource struct {
	Path            string              `json:"path"`
	Source          ParameterSourceKind `json:"source"`
	OriginalValue   any                 `json:"original_value"`
	OverriddenValue any                 `json:"overridden_value"`
	OverriddenBy    string              `json:"overridden_by,omitempty"`
	OverriddenAt    *time.Time          `json:"overridden_at,omitempty"`
}

// ParameterOverride is a persisted deal-specific parameter value. Rows are
// upserted by (DealID, Category, Key) and deactivated rather than deleted.
type ParameterOverride struct {
	ID        string          `json:"id"`
	DealID    string          `json:"deal_id"`
	Category  string          `json:"category"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Active    bool            `json:"active"`
	Reason    string          `json:"reason,omitempty"`
	CreatedBy string          `json:"created_by,omitempty"`
	UpdatedBy string          `json:"updated_by,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Path returns the dotted parameter path addressed by the override.
func (o ParameterOverride) Path() string {
	if o.Category == "" {
		return o.Key
	}
	return o.Category + "." + o.Key
}

// IsPresetSelector reports whether the row selects a preset.
func (o ParameterOverride) IsPresetSelector() bool {
	return o.Key == PresetOverrideKey
}

// Preset is a named, reusable settings document merged over global defaults.
type Preset struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	AssetType   AssetType       `json:"asset_type,omitempty"`
	Settings    json.RawMessage `json:"settings"`
	CreatedBy   string          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
