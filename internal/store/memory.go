package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/underwriter/internal/model"
)

// MemoryStore is an in-process Store used for local runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	overrides map[string]model.ParameterOverride // deal|category|key
	presets   map[string]model.Preset
	comps     map[string]model.ComparableSale
	cms       map[string]model.CMSData
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		overrides: make(map[string]model.ParameterOverride),
		presets:   make(map[string]model.Preset),
		comps:     make(map[string]model.ComparableSale),
		cms:       make(map[string]model.CMSData),
	}
}

func overrideKey(dealID, category, key string) string {
	return dealID + "|" + category + "|" + key
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) ActiveOverrides(ctx context.Context, dealID string) ([]model.ParameterOverride, error) {
	return m.ListOverrides(ctx, dealID, false)
}

func (m *MemoryStore) ListOverrides(_ context.Context, dealID string, includeInactive bool) ([]model.ParameterOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []model.ParameterOverride{}
	for _, o := range m.overrides {
		if o.DealID != dealID || (!o.Active && !includeInactive) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (m *MemoryStore) UpsertOverride(_ context.Context, o model.ParameterOverride) (*model.ParameterOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	k := overrideKey(o.DealID, o.Category, o.Key)
	if prev, ok := m.overrides[k]; ok {
		o.ID = prev.ID
		o.CreatedAt = prev.CreatedAt
		o.CreatedBy = prev.CreatedBy
	} else {
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		if o.CreatedBy == "" {
			o.CreatedBy = o.UpdatedBy
		}
		o.CreatedAt = now
	}
	o.Active = true
	o.UpdatedAt = now
	m.overrides[k] = o
	return &o, nil
}

func (m *MemoryStore) DeactivateOverride(_ context.Context, dealID, category, key, by string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := overrideKey(dealID, category, key)
	o, ok := m.overrides[k]
	if !ok || !o.Active {
		return eris.Wrapf(ErrNotFound, "override %s/%s.%s", dealID, category, key)
	}
	o.Active = false
	o.UpdatedBy = by
	o.UpdatedAt = time.Now().UTC()
	m.overrides[k] = o
	return nil
}

func (m *MemoryStore) GetPreset(_ context.Context, name string) (*model.Preset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.presets[name]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "preset %q", name)
	}
	return &p, nil
}

func (m *MemoryStore) SavePreset(_ context.Context, p model.Preset) (*model.Preset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.presets[p.Name]; ok {
		p.ID = prev.ID
		p.CreatedAt = prev.CreatedAt
		p.CreatedBy = prev.CreatedBy
	} else {
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		p.CreatedAt = time.Now().UTC()
	}
	m.presets[p.Name] = p
	return &p, nil
}

func (m *MemoryStore) ListPresets(context.Context) ([]model.Preset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Preset, 0, len(m.presets))
	for _, p := range m.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) UpsertComparables(_ context.Context, comps []model.ComparableSale) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range comps {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		m.comps[c.ID] = c
	}
	return int64(len(comps)), nil
}

func (m *MemoryStore) ListComparables(_ context.Context, filter CompFilter) ([]model.ComparableSale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []model.ComparableSale{}
	for _, c := range m.comps {
		if filter.AssetType != "" && c.AssetType != filter.AssetType {
			continue
		}
		if filter.State != "" && c.State != filter.State {
			continue
		}
		if !filter.Since.IsZero() && c.SaleDate.Before(filter.Since) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SaleDate.Equal(out[j].SaleDate) {
			return out[i].SaleDate.After(out[j].SaleDate)
		}
		return out[i].ID < out[j].ID
	})
	if limit := compLimit(filter); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetCMSSnapshot(_ context.Context, ccn string) (*model.CMSData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.cms[ccn]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "cms snapshot %s", ccn)
	}
	return &d, nil
}

func (m *MemoryStore) SaveCMSSnapshot(_ context.Context, data model.CMSData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cms[data.CertificationNumber] = data
	return nil
}
