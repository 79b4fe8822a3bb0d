// Package params layers global defaults, named presets, persisted deal
// overrides and session inputs into one effective settings value, recording
// where every changed leaf came from.
package params

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/underwriter/internal/model"
	"github.com/sells-group/underwriter/internal/settings"
	"github.com/sells-group/underwriter/internal/store"
)

// ErrInvalidOverride is returned by SaveOverride for an unknown parameter, a
// value of the wrong kind or range, or a value that leaves the settings
// inconsistent.
var ErrInvalidOverride = eris.New("params: invalid override")

// PresetPath is the dotted path of the preset selector override.
var PresetPath = settings.JoinPath(model.PresetOverrideCategory, model.PresetOverrideKey)

// Inputs are ephemeral session overrides keyed by dotted parameter path.
// They are never persisted.
type Inputs map[string]any

// Rejection describes a stored or session override skipped during
// resolution.
type Rejection struct {
	Path   string                    `json:"path"`
	Source model.ParameterSourceKind `json:"source"`
	Value  any                       `json:"value"`
	Reason string                    `json:"reason"`
}

// Resolved is the effective parameter set for a deal. It is rebuilt on every
// resolution.
type Resolved struct {
	DealID   string                           `json:"deal_id"`
	Settings settings.Settings                `json:"settings"`
	Sources  map[string]model.ParameterSource `json:"sources"`
	Preset   string                           `json:"preset,omitempty"`
	Rejected []Rejection                      `json:"rejected,omitempty"`
}

// Source returns the provenance of path, if it differs from the global
// default.
func (r *Resolved) Source(path string) (model.ParameterSource, bool) {
	s, ok := r.Sources[path]
	return s, ok
}

// Resolver merges the parameter layers for a deal.
type Resolver struct {
	overrides store.OverrideStore
	presets   store.PresetStore
	defaults  settings.Settings
	now       func() time.Time

	mu    sync.RWMutex
	hooks []func(dealID string)
}

// NewResolver creates a resolver over the given stores.
func NewResolver(overrides store.OverrideStore, presets store.PresetStore, defaults settings.Settings) *Resolver {
	d := defaults.Clone()
	d.SortTiers()
	return &Resolver{
		overrides: overrides,
		presets:   presets,
		defaults:  d,
		now:       time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (r *Resolver) WithNow(t time.Time) *Resolver {
	r.now = func() time.Time { return t }
	return r
}

// Defaults returns a copy of the global default settings.
func (r *Resolver) Defaults() settings.Settings { return r.defaults.Clone() }

// OnOverrideChange registers fn to run after an override write succeeds.
// fn receives the deal ID, or "" when a preset change may affect every deal.
func (r *Resolver) OnOverrideChange(fn func(dealID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

func (r *Resolver) notify(dealID string) {
	r.mu.RLock()
	hooks := append([]func(string){}, r.hooks...)
	r.mu.RUnlock()
	for _, fn := range hooks {
		fn(dealID)
	}
}

// Resolve returns the effective parameters for a deal from defaults, its
// selected preset and its active overrides.
func (r *Resolver) Resolve(ctx context.Context, dealID string) (*Resolved, error) {
	return r.ResolveWithInputs(ctx, dealID, nil)
}

// ResolveWithInputs is Resolve with session inputs applied last. Stored or
// session values that name an unknown parameter, carry a value of the wrong
// kind or range, or would leave the settings failing settings.Validate are
// skipped and reported in Rejected; only storage failures return an error.
func (r *Resolver) ResolveWithInputs(ctx context.Context, dealID string, inputs Inputs) (*Resolved, error) {
	rows, err := r.overrides.ActiveOverrides(ctx, dealID)
	if err != nil {
		return nil, eris.Wrapf(err, "params: load overrides for %s", dealID)
	}

	b := &builder{
		log:      zap.L().With(zap.String("deal_id", dealID)),
		defaults: r.defaults,
		out: &Resolved{
			DealID:   dealID,
			Settings: r.defaults.Clone(),
			Sources:  make(map[string]model.ParameterSource),
		},
	}
	b.valid = settings.Validate(b.out.Settings) == nil

	var deal []model.ParameterOverride
	var selector *model.ParameterOverride
	for i := range rows {
		if rows[i].IsPresetSelector() {
			selector = &rows[i]
			continue
		}
		deal = append(deal, rows[i])
	}

	if selector != nil {
		if err := r.applyPreset(ctx, b, *selector); err != nil {
			return nil, err
		}
	}

	sort.Slice(deal, func(i, j int) bool { return deal[i].Path() < deal[j].Path() })
	for _, o := range deal {
		var v any
		if err := json.Unmarshal(o.Value, &v); err != nil {
			b.reject(o.Path(), model.SourceDealOverride, string(o.Value), "value is not valid JSON")
			continue
		}
		at := o.UpdatedAt
		b.set(o.Path(), v, model.SourceDealOverride, o.UpdatedBy, &at)
	}

	if len(inputs) > 0 {
		now := r.now().UTC()
		paths := make([]string, 0, len(inputs))
		for p := range inputs {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			b.set(p, inputs[p], model.SourceUserInput, "", &now)
		}
	}

	if err := b.prune(); err != nil {
		return nil, err
	}
	return b.out, nil
}

func (r *Resolver) applyPreset(ctx context.Context, b *builder, sel model.ParameterOverride) error {
	var name string
	if err := json.Unmarshal(sel.Value, &name); err != nil || name == "" {
		b.reject(PresetPath, model.SourcePreset, string(sel.Value), "preset selector must be a non-empty string")
		return nil
	}

	p, err := r.presets.GetPreset(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		b.reject(PresetPath, model.SourcePreset, name, "preset not found")
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "params: load preset %s", name)
	}

	before, err := settings.Flatten(b.out.Settings)
	if err != nil {
		return err
	}
	merged, err := settings.ApplyPreset(b.out.Settings, p.Settings)
	if err != nil {
		b.reject(PresetPath, model.SourcePreset, name, err.Error())
		return nil
	}
	if b.valid {
		if err := settings.Validate(merged); err != nil {
			b.reject(PresetPath, model.SourcePreset, name, err.Error())
			return nil
		}
	}
	after, err := settings.Flatten(merged)
	if err != nil {
		return err
	}

	b.out.Settings = merged
	b.out.Preset = name
	at := p.CreatedAt
	for path, v := range after {
		if settings.LeafEqual(before[path], v) {
			continue
		}
		b.record(path, before[path], v, model.SourcePreset, p.CreatedBy, &at)
	}
	return nil
}

type builder struct {
	log      *zap.Logger
	defaults settings.Settings
	out      *Resolved
	// valid is set while out.Settings passes settings.Validate; each layer
	// must keep it that way.
	valid bool
}

func (b *builder) set(path string, v any, src model.ParameterSourceKind, by string, at *time.Time) {
	p, err := settings.Lookup(path)
	if err != nil {
		b.reject(path, src, v, "unknown parameter")
		return
	}
	prev, _ := b.out.Settings.Get(p)
	if err := b.out.Settings.Set(p, v); err != nil {
		b.reject(path, src, v, err.Error())
		return
	}
	if b.valid {
		if err := settings.Validate(b.out.Settings); err != nil {
			_ = b.out.Settings.Set(p, prev)
			b.reject(path, src, v, err.Error())
			return
		}
	}
	cur, _ := b.out.Settings.Get(p)
	b.record(path, prev, cur, src, by, at)
}

// record keeps the earliest original value when a later layer overwrites the
// same path, so OriginalValue is always the value before any layer applied.
func (b *builder) record(path string, prev, cur any, src model.ParameterSourceKind, by string, at *time.Time) {
	original := prev
	if existing, ok := b.out.Sources[path]; ok {
		original = existing.OriginalValue
	}
	b.out.Sources[path] = model.ParameterSource{
		Path:            path,
		Source:          src,
		OriginalValue:   original,
		OverriddenValue: cur,
		OverriddenBy:    by,
		OverriddenAt:    at,
	}
}

func (b *builder) reject(path string, src model.ParameterSourceKind, v any, reason string) {
	b.log.Warn("params: override rejected",
		zap.String("path", path),
		zap.String("source", string(src)),
		zap.String("reason", reason),
	)
	b.out.Rejected = append(b.out.Rejected, Rejection{Path: path, Source: src, Value: v, Reason: reason})
}

// prune drops provenance for leaves that ended equal to the global default.
func (b *builder) prune() error {
	if len(b.out.Sources) == 0 {
		return nil
	}
	defaults, err := settings.Flatten(b.defaults)
	if err != nil {
		return err
	}
	final, err := settings.Flatten(b.out.Settings)
	if err != nil {
		return err
	}
	for path := range b.out.Sources {
		if settings.LeafEqual(defaults[path], final[path]) {
			delete(b.out.Sources, path)
		}
	}
	return nil
}

// SaveOverride validates and upserts a deal override, then fires the change
// hooks. Setting PresetPath selects a preset by name.
func (r *Resolver) SaveOverride(ctx context.Context, dealID, path string, value any, by, reason string) (*model.ParameterOverride, error) {
	if dealID == "" {
		return nil, eris.Wrap(ErrInvalidOverride, "deal id is required")
	}

	var category, key string
	if path == PresetPath {
		name, ok := value.(string)
		if !ok || name == "" {
			return nil, eris.Wrap(ErrInvalidOverride, "preset selector must be a preset name")
		}
		if _, err := r.presets.GetPreset(ctx, name); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, eris.Wrapf(ErrInvalidOverride, "preset %q does not exist", name)
			}
			return nil, eris.Wrapf(err, "params: load preset %s", name)
		}
		category, key = model.PresetOverrideCategory, model.PresetOverrideKey
	} else {
		p, err := settings.Lookup(path)
		if err != nil {
			return nil, eris.Wrapf(ErrInvalidOverride, "%s: %v", path, err)
		}
		check := r.defaults.Clone()
		if err := check.Set(p, value); err != nil {
			return nil, eris.Wrapf(ErrInvalidOverride, "%v", err)
		}
		if err := settings.Validate(check); err != nil {
			return nil, eris.Wrapf(ErrInvalidOverride, "%s: %v", path, err)
		}
		value, _ = check.Get(p)
		category, key = p.Category(), p.Key()
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, eris.Wrapf(ErrInvalidOverride, "encode %s: %v", path, err)
	}

	saved, err := r.overrides.UpsertOverride(ctx, model.ParameterOverride{
		DealID:    dealID,
		Category:  category,
		Key:       key,
		Value:     raw,
		Reason:    reason,
		UpdatedBy: by,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "params: save override %s/%s", dealID, path)
	}

	zap.L().Info("params: override saved",
		zap.String("deal_id", dealID),
		zap.String("path", path),
		zap.String("by", by),
	)
	r.notify(dealID)
	return saved, nil
}

// RemoveOverride deactivates the active override at path. Stale rows that no
// longer name a registered parameter can still be removed.
func (r *Resolver) RemoveOverride(ctx context.Context, dealID, path, by string) error {
	category, key, ok := strings.Cut(path, ".")
	if !ok || category == "" || key == "" {
		return eris.Wrapf(ErrInvalidOverride, "malformed path %q", path)
	}
	if err := r.overrides.DeactivateOverride(ctx, dealID, category, key, by); err != nil {
		return eris.Wrapf(err, "params: remove override %s/%s", dealID, path)
	}

	zap.L().Info("params: override removed",
		zap.String("deal_id", dealID),
		zap.String("path", path),
		zap.String("by", by),
	)
	r.notify(dealID)
	return nil
}

// Overrides lists a deal's overrides, including deactivated rows when
// history is true.
func (r *Resolver) Overrides(ctx context.Context, dealID string, history bool) ([]model.ParameterOverride, error) {
	out, err := r.overrides.ListOverrides(ctx, dealID, history)
	return out, eris.Wrapf(err, "params: list overrides %s", dealID)
}

// SavePreset validates a preset document and stores it by name. Every deal
// cache is invalidated because any deal may select the preset.
func (r *Resolver) SavePreset(ctx context.Context, p model.Preset) (*model.Preset, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, eris.Wrap(settings.ErrInvalidPreset, "name is required")
	}
	if err := settings.ValidatePreset(p.Settings); err != nil {
		return nil, err
	}
	saved, err := r.presets.SavePreset(ctx, p)
	if err != nil {
		return nil, eris.Wrapf(err, "params: save preset %s", p.Name)
	}
	zap.L().Info("params: preset saved", zap.String("name", p.Name))
	r.notify("")
	return saved, nil
}

// ImportPresetYAML converts a YAML preset document and saves it.
func (r *Resolver) ImportPresetYAML(ctx context.Context, name, description string, assetType model.AssetType, data []byte, by string) (*model.Preset, error) {
	doc, err := settings.PresetFromYAML(data)
	if err != nil {
		return nil, err
	}
	return r.SavePreset(ctx, model.Preset{
		Name:        name,
		Description: description,
		AssetType:   assetType,
		Settings:    doc,
		CreatedBy:   by,
	})
}
