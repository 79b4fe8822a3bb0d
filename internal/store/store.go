package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/underwriter/internal/model"
)

// ErrNotFound is returned when a requested row does not exist or, for
// overrides, is not active.
var ErrNotFound = eris.New("store: not found")

// CompFilter specifies criteria for listing comparable sales.
type CompFilter struct {
	AssetType model.AssetType `json:"asset_type,omitempty"`
	State     string          `json:"state,omitempty"`
	Since     time.Time       `json:"since,omitempty"`
	Limit     int             `json:"limit,omitempty"`
}

// OverrideStore persists deal-level parameter overrides. Rows are keyed by
// (deal, category, key); removal deactivates rather than deletes.
type OverrideStore interface {
	ActiveOverrides(ctx context.Context, dealID string) ([]model.ParameterOverride, error)
	ListOverrides(ctx context.Context, dealID string, includeInactive bool) ([]model.ParameterOverride, error)
	UpsertOverride(ctx context.Context, o model.ParameterOverride) (*model.ParameterOverride, error)
	DeactivateOverride(ctx context.Context, dealID, category, key, by string) error
}

// PresetStore persists named settings presets, unique by name.
type PresetStore interface {
	GetPreset(ctx context.Context, name string) (*model.Preset, error)
	SavePreset(ctx context.Context, p model.Preset) (*model.Preset, error)
	ListPresets(ctx context.Context) ([]model.Preset, error)
}

// Store defines the persistence interface for the underwriting engines.
type Store interface {
	OverrideStore
	PresetStore

	// Comparable sales
	UpsertComparables(ctx context.Context, comps []model.ComparableSale) (int64, error)
	ListComparables(ctx context.Context, filter CompFilter) ([]model.ComparableSale, error)

	// CMS snapshots
	GetCMSSnapshot(ctx context.Context, ccn string) (*model.CMSData, error)
	SaveCMSSnapshot(ctx context.Context, data model.CMSData) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// compLimit returns the effective row limit for a filter.
func compLimit(f CompFilter) int {
	if f.Limit <= 0 {
		return 500
	}
	return f.Limit
}
