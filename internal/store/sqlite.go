package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/underwriter/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS parameter_overrides (
	id         TEXT PRIMARY KEY,
	deal_id    TEXT NOT NULL,
	category   TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	active     INTEGER NOT NULL DEFAULT 1,
	reason     TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	updated_by TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (deal_id, category, key)
);

CREATE TABLE IF NOT EXISTS presets (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	asset_type  TEXT NOT NULL DEFAULT '',
	settings    TEXT NOT NULL,
	created_by  TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS comparable_sales (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	asset_type     TEXT NOT NULL,
	city           TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT '',
	sale_date      DATETIME NOT NULL,
	price          REAL NOT NULL,
	beds           INTEGER NOT NULL,
	price_per_bed  REAL NOT NULL DEFAULT 0,
	cap_rate       REAL NOT NULL DEFAULT 0,
	year_built     INTEGER NOT NULL DEFAULT 0,
	square_feet    REAL NOT NULL DEFAULT 0,
	distance_miles REAL NOT NULL DEFAULT 0,
	star_rating    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cms_snapshots (
	ccn        TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	fetched_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_parameter_overrides_deal ON parameter_overrides(deal_id, active);
CREATE INDEX IF NOT EXISTS idx_comparable_sales_type_state ON comparable_sales(asset_type, state);
CREATE INDEX IF NOT EXISTS idx_comparable_sales_sale_date ON comparable_sales(sale_date);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Overrides ---

func (s *SQLiteStore) ActiveOverrides(ctx context.Context, dealID string) ([]model.ParameterOverride, error) {
	return s.ListOverrides(ctx, dealID, false)
}

func (s *SQLiteStore) ListOverrides(ctx context.Context, dealID string, includeInactive bool) ([]model.ParameterOverride, error) {
	query := `SELECT ` + overrideColumns + ` FROM parameter_overrides WHERE deal_id = ?`
	if !includeInactive {
		query += ` AND active = 1`
	}
	query += ` ORDER BY category, key`

	rows, err := s.db.QueryContext(ctx, query, dealID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list overrides %s", dealID)
	}
	defer rows.Close() //nolint:errcheck

	out := []model.ParameterOverride{}
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list overrides iterate")
}

func (s *SQLiteStore) UpsertOverride(ctx context.Context, o model.ParameterOverride) (*model.ParameterOverride, error) {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.CreatedBy == "" {
		o.CreatedBy = o.UpdatedBy
	}
	now := time.Now().UTC()

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO parameter_overrides (`+overrideColumns+`)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?)
		 ON CONFLICT (deal_id, category, key) DO UPDATE SET
			value = excluded.value, active = 1, reason = excluded.reason,
			updated_by = excluded.updated_by, updated_at = excluded.updated_at
		 RETURNING `+overrideColumns,
		o.ID, o.DealID, o.Category, o.Key, string(o.Value), o.Reason, o.CreatedBy, o.UpdatedBy, now, now,
	)
	saved, err := scanOverride(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert override %s/%s", o.DealID, o.Path())
	}
	return saved, nil
}

func (s *SQLiteStore) DeactivateOverride(ctx context.Context, dealID, category, key, by string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE parameter_overrides SET active = 0, updated_by = ?, updated_at = ?
		 WHERE deal_id = ? AND category = ? AND key = ? AND active = 1`,
		by, time.Now().UTC(), dealID, category, key,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: deactivate override %s", dealID)
	}
	return checkRowsAffected(res, "override", dealID+"/"+category+"."+key)
}

// --- Presets ---

const presetColumns = `id, name, description, asset_type, settings, created_by, created_at`

func (s *SQLiteStore) GetPreset(ctx context.Context, name string) (*model.Preset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+presetColumns+` FROM presets WHERE name = ?`, name)
	p, err := scanPreset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "preset %q", name)
	}
	return p, err
}

func (s *SQLiteStore) SavePreset(ctx context.Context, p model.Preset) (*model.Preset, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO presets (`+presetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET
			description = excluded.description, asset_type = excluded.asset_type, settings = excluded.settings
		 RETURNING `+presetColumns,
		p.ID, p.Name, p.Description, string(p.AssetType), string(p.Settings), p.CreatedBy, time.Now().UTC(),
	)
	saved, err := scanPreset(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: save preset %s", p.Name)
	}
	return saved, nil
}

func (s *SQLiteStore) ListPresets(ctx context.Context) ([]model.Preset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+presetColumns+` FROM presets ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list presets")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.Preset{}
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list presets iterate")
}

// --- Comparable sales ---

func (s *SQLiteStore) UpsertComparables(ctx context.Context, comps []model.ComparableSale) (int64, error) {
	if len(comps) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin comparables tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO comparable_sales (id, name, asset_type, city, state, sale_date, price, beds,
			price_per_bed, cap_rate, year_built, square_feet, distance_miles, star_rating)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare comparables insert")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, c := range comps {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.SaleDate = c.SaleDate.UTC()
		if _, err := stmt.ExecContext(ctx, compRow(c)...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert comparable %s", c.ID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit comparables")
	}
	return n, nil
}

func (s *SQLiteStore) ListComparables(ctx context.Context, filter CompFilter) ([]model.ComparableSale, error) {
	query := `SELECT id, name, asset_type, city, state, sale_date, price, beds, price_per_bed, cap_rate,
		year_built, square_feet, distance_miles, star_rating FROM comparable_sales WHERE 1=1`
	var args []any
	if filter.AssetType != "" {
		query += ` AND asset_type = ?`
		args = append(args, string(filter.AssetType))
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, filter.State)
	}
	if !filter.Since.IsZero() {
		query += ` AND sale_date >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY sale_date DESC, id LIMIT ?`
	args = append(args, compLimit(filter))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list comparables")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.ComparableSale{}
	for rows.Next() {
		var c model.ComparableSale
		var assetType string
		if err := rows.Scan(&c.ID, &c.Name, &assetType, &c.City, &c.State, &c.SaleDate, &c.Price, &c.Beds,
			&c.PricePerBed, &c.CapRate, &c.YearBuilt, &c.SquareFeet, &c.DistanceMiles, &c.StarRating); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan comparable")
		}
		c.AssetType = model.AssetType(assetType)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list comparables iterate")
}

// --- CMS snapshots ---

func (s *SQLiteStore) GetCMSSnapshot(ctx context.Context, ccn string) (*model.CMSData, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM cms_snapshots WHERE ccn = ?`, ccn).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "cms snapshot %s", ccn)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get cms snapshot %s", ccn)
	}
	var out model.CMSData
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cms snapshot")
	}
	return &out, nil
}

func (s *SQLiteStore) SaveCMSSnapshot(ctx context.Context, data model.CMSData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal cms snapshot")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cms_snapshots (ccn, data, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT (ccn) DO UPDATE SET data = excluded.data, fetched_at = excluded.fetched_at`,
		data.CertificationNumber, string(payload), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save cms snapshot %s", data.CertificationNumber)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanOverride(row scannable) (*model.ParameterOverride, error) {
	var o model.ParameterOverride
	var value string
	if err := row.Scan(&o.ID, &o.DealID, &o.Category, &o.Key, &value, &o.Active,
		&o.Reason, &o.CreatedBy, &o.UpdatedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan override")
	}
	o.Value = json.RawMessage(value)
	return &o, nil
}

func scanPreset(row scannable) (*model.Preset, error) {
	var p model.Preset
	var assetType, settings string
	err := row.Scan(&p.ID, &p.Name, &p.Description, &assetType, &settings, &p.CreatedBy, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan preset")
	}
	p.AssetType = model.AssetType(assetType)
	p.Settings = json.RawMessage(settings)
	return &p, nil
}
