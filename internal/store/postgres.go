package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/underwriter/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const overrideColumns = `id, deal_id, category, key, value, active, reason, created_by, updated_by, created_at, updated_at`

// preparedStatements lists queries prepared on each new connection. The
// recalculation path reads active overrides on every cache miss.
var preparedStatements = map[string]string{
	"active_overrides": `SELECT ` + overrideColumns + ` FROM parameter_overrides WHERE deal_id = $1 AND active ORDER BY category, key`,
	"get_preset":       `SELECT id, name, description, asset_type, settings, created_by, created_at FROM presets WHERE name = $1`,
	"get_cms_snapshot": `SELECT data FROM cms_snapshots WHERE ccn = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS parameter_overrides (
	id         TEXT PRIMARY KEY,
	deal_id    TEXT NOT NULL,
	category   TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      JSONB NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT true,
	reason     TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	updated_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (deal_id, category, key)
);

CREATE INDEX IF NOT EXISTS idx_parameter_overrides_deal_active ON parameter_overrides(deal_id) WHERE active;

CREATE TABLE IF NOT EXISTS presets (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	asset_type  TEXT NOT NULL DEFAULT '',
	settings    JSONB NOT NULL,
	created_by  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS comparable_sales (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	asset_type     TEXT NOT NULL,
	city           TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT '',
	sale_date      DATE NOT NULL,
	price          DOUBLE PRECISION NOT NULL,
	beds           INTEGER NOT NULL,
	price_per_bed  DOUBLE PRECISION NOT NULL DEFAULT 0,
	cap_rate       DOUBLE PRECISION NOT NULL DEFAULT 0,
	year_built     INTEGER NOT NULL DEFAULT 0,
	square_feet    DOUBLE PRECISION NOT NULL DEFAULT 0,
	distance_miles DOUBLE PRECISION NOT NULL DEFAULT 0,
	star_rating    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_comparable_sales_type_state ON comparable_sales(asset_type, state);
CREATE INDEX IF NOT EXISTS idx_comparable_sales_sale_date ON comparable_sales(sale_date DESC);

CREATE TABLE IF NOT EXISTS cms_snapshots (
	ccn        TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Overrides ---

func (s *PostgresStore) ActiveOverrides(ctx context.Context, dealID string) ([]model.ParameterOverride, error) {
	return s.ListOverrides(ctx, dealID, false)
}

func (s *PostgresStore) ListOverrides(ctx context.Context, dealID string, includeInactive bool) ([]model.ParameterOverride, error) {
	query := `SELECT ` + overrideColumns + ` FROM parameter_overrides WHERE deal_id = $1`
	if !includeInactive {
		query += ` AND active`
	}
	query += ` ORDER BY category, key`

	rows, err := s.pool.Query(ctx, query, dealID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list overrides %s", dealID)
	}
	defer rows.Close()

	out := []model.ParameterOverride{}
	for rows.Next() {
		var o model.ParameterOverride
		var value []byte
		if err := rows.Scan(&o.ID, &o.DealID, &o.Category, &o.Key, &value, &o.Active,
			&o.Reason, &o.CreatedBy, &o.UpdatedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan override")
		}
		o.Value = json.RawMessage(value)
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list overrides iterate")
}

func (s *PostgresStore) UpsertOverride(ctx context.Context, o model.ParameterOverride) (*model.ParameterOverride, error) {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if o.CreatedBy == "" {
		o.CreatedBy = o.UpdatedBy
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO parameter_overrides (`+overrideColumns+`)
		 VALUES ($1, $2, $3, $4, $5, true, $6, $7, $8, $9, $9)
		 ON CONFLICT (deal_id, category, key) DO UPDATE SET
			value = EXCLUDED.value, active = true, reason = EXCLUDED.reason,
			updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at
		 RETURNING id, created_by, created_at`,
		o.ID, o.DealID, o.Category, o.Key, []byte(o.Value), o.Reason, o.CreatedBy, o.UpdatedBy, now,
	).Scan(&o.ID, &o.CreatedBy, &o.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert override %s/%s", o.DealID, o.Path())
	}
	o.Active = true
	o.UpdatedAt = now
	return &o, nil
}

func (s *PostgresStore) DeactivateOverride(ctx context.Context, dealID, category, key, by string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE parameter_overrides SET active = false, updated_by = $4, updated_at = $5
		 WHERE deal_id = $1 AND category = $2 AND key = $3 AND active`,
		dealID, category, key, by, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: deactivate override %s", dealID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "override %s/%s.%s", dealID, category, key)
	}
	return nil
}

// --- Presets ---

func (s *PostgresStore) GetPreset(ctx context.Context, name string) (*model.Preset, error) {
	var p model.Preset
	var settings []byte
	var assetType string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, asset_type, settings, created_by, created_at FROM presets WHERE name = $1`,
		name,
	).Scan(&p.ID, &p.Name, &p.Description, &assetType, &settings, &p.CreatedBy, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "preset %q", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get preset %s", name)
	}
	p.AssetType = model.AssetType(assetType)
	p.Settings = json.RawMessage(settings)
	return &p, nil
}

func (s *PostgresStore) SavePreset(ctx context.Context, p model.Preset) (*model.Preset, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO presets (id, name, description, asset_type, settings, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description, asset_type = EXCLUDED.asset_type, settings = EXCLUDED.settings
		 RETURNING id, created_at`,
		p.ID, p.Name, p.Description, string(p.AssetType), []byte(p.Settings), p.CreatedBy, time.Now().UTC(),
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: save preset %s", p.Name)
	}
	return &p, nil
}

func (s *PostgresStore) ListPresets(ctx context.Context) ([]model.Preset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, asset_type, settings, created_by, created_at FROM presets ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list presets")
	}
	defer rows.Close()

	out := []model.Preset{}
	for rows.Next() {
		var p model.Preset
		var settings []byte
		var assetType string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &assetType, &settings, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan preset")
		}
		p.AssetType = model.AssetType(assetType)
		p.Settings = json.RawMessage(settings)
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list presets iterate")
}

// --- Comparable sales ---

var compColumns = []string{
	"id", "name", "asset_type", "city", "state", "sale_date", "price", "beds",
	"price_per_bed", "cap_rate", "year_built", "square_feet", "distance_miles", "star_rating",
}

var compMerge = bulkMerge{table: "comparable_sales", columns: compColumns, key: "id"}

func compRow(c model.ComparableSale) []any {
	return []any{
		c.ID, c.Name, string(c.AssetType), c.City, c.State, c.SaleDate, c.Price, c.Beds,
		c.PricePerBed, c.CapRate, c.YearBuilt, c.SquareFeet, c.DistanceMiles, c.StarRating,
	}
}

// UpsertComparables bulk-loads comps, replacing rows with the same ID.
func (s *PostgresStore) UpsertComparables(ctx context.Context, comps []model.ComparableSale) (int64, error) {
	rows := make([][]any, 0, len(comps))
	for _, c := range comps {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		rows = append(rows, compRow(c))
	}
	n, err := compMerge.run(ctx, s.pool, rows)
	return n, eris.Wrap(err, "postgres: upsert comparables")
}

func (s *PostgresStore) ListComparables(ctx context.Context, filter CompFilter) ([]model.ComparableSale, error) {
	query := `SELECT id, name, asset_type, city, state, sale_date, price, beds, price_per_bed, cap_rate,
		year_built, square_feet, distance_miles, star_rating FROM comparable_sales WHERE true`
	args := []any{}
	argIdx := 1

	if filter.AssetType != "" {
		query += fmt.Sprintf(` AND asset_type = $%d`, argIdx)
		args = append(args, string(filter.AssetType))
		argIdx++
	}
	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, filter.State)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND sale_date >= $%d`, argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY sale_date DESC, id LIMIT $%d`, argIdx)
	args = append(args, compLimit(filter))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list comparables")
	}
	defer rows.Close()

	out := []model.ComparableSale{}
	for rows.Next() {
		var c model.ComparableSale
		var assetType string
		if err := rows.Scan(&c.ID, &c.Name, &assetType, &c.City, &c.State, &c.SaleDate, &c.Price, &c.Beds,
			&c.PricePerBed, &c.CapRate, &c.YearBuilt, &c.SquareFeet, &c.DistanceMiles, &c.StarRating); err != nil {
			return nil, eris.Wrap(err, "postgres: scan comparable")
		}
		c.AssetType = model.AssetType(assetType)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list comparables iterate")
}

// --- CMS snapshots ---

func (s *PostgresStore) GetCMSSnapshot(ctx context.Context, ccn string) (*model.CMSData, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM cms_snapshots WHERE ccn = $1`, ccn).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "cms snapshot %s", ccn)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cms snapshot %s", ccn)
	}
	var out model.CMSData
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cms snapshot")
	}
	return &out, nil
}

func (s *PostgresStore) SaveCMSSnapshot(ctx context.Context, data model.CMSData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cms snapshot")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO cms_snapshots (ccn, data, fetched_at) VALUES ($1, $2, $3)
		 ON CONFLICT (ccn) DO UPDATE SET data = EXCLUDED.data, fetched_at = EXCLUDED.fetched_at`,
		data.CertificationNumber, payload, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save cms snapshot %s", data.CertificationNumber)
}
