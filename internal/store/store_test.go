package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/underwriter/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// backends returns every Store implementation that runs without a server.
func backends(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": newTestSQLiteStore(t),
	}
}

func override(deal, category, key string, value any) model.ParameterOverride {
	raw, _ := json.Marshal(value)
	return model.ParameterOverride{
		DealID: deal, Category: category, Key: key, Value: raw,
		Reason: "analyst adjustment", UpdatedBy: "alice",
	}
}

func TestStore_UpsertOverride_UniquePerPath(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := st.UpsertOverride(ctx, override("deal-1", "valuation", "cap_rate", 0.11))
			require.NoError(t, err)
			assert.True(t, first.Active)
			assert.NotEmpty(t, first.ID)
			assert.Equal(t, "alice", first.CreatedBy)

			next := override("deal-1", "valuation", "cap_rate", 0.12)
			next.UpdatedBy = "bob"
			second, err := st.UpsertOverride(ctx, next)
			require.NoError(t, err)
			assert.Equal(t, first.ID, second.ID)
			assert.Equal(t, "alice", second.CreatedBy)
			assert.Equal(t, "bob", second.UpdatedBy)

			active, err := st.ActiveOverrides(ctx, "deal-1")
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.JSONEq(t, "0.12", string(active[0].Value))
		})
	}
}

func TestStore_DeactivateOverride(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := st.UpsertOverride(ctx, override("deal-1", "valuation", "cap_rate", 0.11))
			require.NoError(t, err)
			_, err = st.UpsertOverride(ctx, override("deal-1", "risk", "pass_threshold", 70))
			require.NoError(t, err)
			_, err = st.UpsertOverride(ctx, override("deal-2", "valuation", "cap_rate", 0.09))
			require.NoError(t, err)

			require.NoError(t, st.DeactivateOverride(ctx, "deal-1", "valuation", "cap_rate", "bob"))
			err = st.DeactivateOverride(ctx, "deal-1", "valuation", "cap_rate", "bob")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, st.DeactivateOverride(ctx, "deal-1", "nope", "nope", "bob"), ErrNotFound)

			active, err := st.ActiveOverrides(ctx, "deal-1")
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, "risk", active[0].Category)

			all, err := st.ListOverrides(ctx, "deal-1", true)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "risk", all[0].Category)
			assert.Equal(t, "valuation", all[1].Category)
			assert.False(t, all[1].Active)
			assert.Equal(t, "bob", all[1].UpdatedBy)

			// Re-upserting reactivates the same row.
			again, err := st.UpsertOverride(ctx, override("deal-1", "valuation", "cap_rate", 0.10))
			require.NoError(t, err)
			assert.True(t, again.Active)
			assert.Equal(t, all[1].ID, again.ID)
		})
	}
}

func TestStore_ActiveOverrides_Empty(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			out, err := st.ActiveOverrides(context.Background(), "unknown")
			require.NoError(t, err)
			assert.NotNil(t, out)
			assert.Empty(t, out)
		})
	}
}

func TestStore_Presets(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := st.GetPreset(ctx, "conservative")
			assert.ErrorIs(t, err, ErrNotFound)

			saved, err := st.SavePreset(ctx, model.Preset{
				Name: "conservative", AssetType: model.AssetSNF,
				Settings: json.RawMessage(`{"valuation":{"cap_rate":0.13}}`), CreatedBy: "alice",
			})
			require.NoError(t, err)
			assert.NotEmpty(t, saved.ID)

			updated, err := st.SavePreset(ctx, model.Preset{
				Name: "conservative", Description: "higher cap",
				Settings: json.RawMessage(`{"valuation":{"cap_rate":0.14}}`),
			})
			require.NoError(t, err)
			assert.Equal(t, saved.ID, updated.ID)

			_, err = st.SavePreset(ctx, model.Preset{Name: "aggressive", Settings: json.RawMessage(`{}`)})
			require.NoError(t, err)

			got, err := st.GetPreset(ctx, "conservative")
			require.NoError(t, err)
			assert.Equal(t, "higher cap", got.Description)
			assert.JSONEq(t, `{"valuation":{"cap_rate":0.14}}`, string(got.Settings))

			list, err := st.ListPresets(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "aggressive", list[0].Name)
			assert.Equal(t, "conservative", list[1].Name)
		})
	}
}

func TestStore_Comparables(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	comps := []model.ComparableSale{
		{ID: "c1", Name: "Oak Manor", AssetType: model.AssetSNF, State: "TX", SaleDate: base, Price: 12_000_000, Beds: 120, PricePerBed: 100_000},
		{ID: "c2", Name: "Pine Court", AssetType: model.AssetSNF, State: "OK", SaleDate: base.AddDate(0, -6, 0), Price: 8_000_000, Beds: 100, PricePerBed: 80_000},
		{ID: "c3", Name: "Elm House", AssetType: model.AssetALF, State: "TX", SaleDate: base.AddDate(-2, 0, 0), Price: 9_000_000, Beds: 80, PricePerBed: 112_500},
	}

	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			n, err := st.UpsertComparables(ctx, comps)
			require.NoError(t, err)
			assert.EqualValues(t, 3, n)

			all, err := st.ListComparables(ctx, CompFilter{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{"c1", "c2", "c3"}, []string{all[0].ID, all[1].ID, all[2].ID})
			assert.True(t, all[0].SaleDate.Equal(base))

			snf, err := st.ListComparables(ctx, CompFilter{AssetType: model.AssetSNF})
			require.NoError(t, err)
			assert.Len(t, snf, 2)

			tx, err := st.ListComparables(ctx, CompFilter{State: "TX", Since: base.AddDate(-1, 0, 0)})
			require.NoError(t, err)
			require.Len(t, tx, 1)
			assert.Equal(t, "c1", tx[0].ID)

			limited, err := st.ListComparables(ctx, CompFilter{Limit: 1})
			require.NoError(t, err)
			assert.Len(t, limited, 1)

			// Upsert by ID replaces the row.
			changed := comps[0]
			changed.Price = 13_000_000
			_, err = st.UpsertComparables(ctx, []model.ComparableSale{changed})
			require.NoError(t, err)
			all, err = st.ListComparables(ctx, CompFilter{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.InDelta(t, 13_000_000, all[0].Price, 0.01)
		})
	}
}

func TestStore_CMSSnapshot(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := st.GetCMSSnapshot(ctx, "455001")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, st.SaveCMSSnapshot(ctx, model.CMSData{CertificationNumber: "455001", OverallRating: 3}))
			require.NoError(t, st.SaveCMSSnapshot(ctx, model.CMSData{CertificationNumber: "455001", OverallRating: 4, IsSFFCandidate: true}))

			got, err := st.GetCMSSnapshot(ctx, "455001")
			require.NoError(t, err)
			assert.Equal(t, 4, got.OverallRating)
			assert.True(t, got.IsSFFCandidate)
		})
	}
}

func TestMemoryStore_ConcurrentUpserts(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.UpsertOverride(ctx, override("deal-1", "valuation", "cap_rate", float64(i)/100))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	active, err := st.ActiveOverrides(ctx, "deal-1")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestCompLimit(t *testing.T) {
	assert.Equal(t, 500, compLimit(CompFilter{}))
	assert.Equal(t, 500, compLimit(CompFilter{Limit: -3}))
	assert.Equal(t, 25, compLimit(CompFilter{Limit: 25}))
}
