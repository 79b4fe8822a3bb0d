package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

// Pool is the subset of *pgxpool.Pool the Postgres store uses. It is
// satisfied by pgxmock.PgxPoolIface in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// bulkMerge describes a COPY-then-merge load into one table.
type bulkMerge struct {
	table   string
	columns []string
	key     string // single-column unique key; rows[i][0] must hold it
}

func (m bulkMerge) staging() string { return m.table + "_staging" }

func (m bulkMerge) createStagingSQL() string {
	return fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{m.staging()}.Sanitize(), pgx.Identifier{m.table}.Sanitize())
}

func (m bulkMerge) mergeSQL() string {
	cols := make([]string, len(m.columns))
	var sets []string
	for i, c := range m.columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
		if c != m.key {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", cols[i], cols[i]))
		}
	}
	list := strings.Join(cols, ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		pgx.Identifier{m.table}.Sanitize(), list, list,
		pgx.Identifier{m.staging()}.Sanitize(),
		pgx.Identifier{m.key}.Sanitize(),
		strings.Join(sets, ", "))
}

// lastByKey keeps the last row for each key, preserving first-seen order.
// ON CONFLICT cannot touch the same target row twice in one statement, and
// a re-exported sheet often repeats a sale.
func lastByKey(rows [][]any) [][]any {
	idx := make(map[any]int, len(rows))
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		if i, ok := idx[r[0]]; ok {
			out[i] = r
			continue
		}
		idx[r[0]] = len(out)
		out = append(out, r)
	}
	return out
}

// run stages rows with COPY inside a transaction and merges them into the
// target table. It returns the number of rows inserted or updated.
func (m bulkMerge) run(ctx context.Context, pool Pool, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	rows = lastByKey(rows)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin bulk load")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, m.createStagingSQL()); err != nil {
		return 0, eris.Wrapf(err, "postgres: stage %s", m.table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{m.staging()}, m.columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "postgres: copy into %s", m.staging())
	}
	tag, err := tx.Exec(ctx, m.mergeSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: merge %s", m.table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit bulk load")
	}
	return tag.RowsAffected(), nil
}
