// Package relational provides a StorageBackend over database/sql for
// PostgreSQL and SQLite.
//
// Each facet is a table with one column per attribute plus the who-columns.
// SQL has no conditional upsert with an arbitrary predicate, so the backend
// does not advertise NativeConditionalWrite: Update only touches existing
// rows (UPDATE … WHERE key AND condition RETURNING *) and the engine falls
// back to Insert (INSERT … ON CONFLICT DO NOTHING RETURNING *) when the
// condition permits creation.
package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jacentio/dataapi/internal/segment"
	"github.com/jacentio/dataapi/statement"
	"github.com/jacentio/dataapi/store"
)

// Backend stores items in a pair of SQL tables.
type Backend struct {
	db     *sql.DB
	config Config
	logger *slog.Logger
}

// Open connects to dsn with the configured dialect's driver.
func Open(ctx context.Context, dsn string, config Config, logger *slog.Logger) (*Backend, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open(config.Dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("relational: open %s: %w", config.Dialect.Name, err)
	}
	if config.Dialect.Name == SQLite.Name {
		// SQLite serialises writers; one connection also keeps :memory:
		// databases alive for the life of the pool.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("relational: ping %s: %w", config.Dialect.Name, err)
	}
	return New(db, config, logger)
}

// New wraps an open database. A nil logger uses slog.Default().
func New(db *sql.DB, config Config, logger *slog.Logger) (*Backend, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{db: db, config: config, logger: logger}, nil
}

func (b *Backend) Capabilities() store.Capabilities {
	return store.Capabilities{
		FilteredScanLimit: true,
		ParallelScan:      true,
	}
}

func (b *Backend) KeyAttribute() string { return b.config.KeyAttribute }

// DB returns the underlying database.
func (b *Backend) DB() *sql.DB { return b.db }

func (b *Backend) table(facet statement.Facet) string {
	if facet == statement.Metadata {
		return b.config.MetadataTable
	}
	return b.config.Table
}

func (b *Backend) Get(ctx context.Context, facet statement.Facet, id string, attrs []string) (store.Record, error) {
	q, err := renderSelect(b.config.Dialect, b.table(facet), b.config.KeyAttribute,
		[]statement.Condition{statement.Equal(b.config.KeyAttribute, id)}, nil, 0)
	if err != nil {
		return nil, err
	}
	recs, err := b.queryRows(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return project(recs[0], attrs), nil
}

func (b *Backend) Update(ctx context.Context, u *statement.Update) (store.WriteResult, error) {
	q, err := renderUpdate(b.config.Dialect, b.table(u.Facet), b.config.KeyAttribute, u)
	if err != nil {
		return store.WriteResult{}, err
	}
	return b.write(ctx, q)
}

func (b *Backend) Insert(ctx context.Context, ins *statement.Insert) (store.WriteResult, error) {
	q, err := renderInsert(b.config.Dialect, b.table(ins.Facet), b.config.KeyAttribute, ins)
	if err != nil {
		return store.WriteResult{}, err
	}
	return b.write(ctx, q)
}

// write runs a statement returning at most one row. No row means the
// condition or the conflict clause suppressed the write.
func (b *Backend) write(ctx context.Context, q *query) (store.WriteResult, error) {
	recs, err := b.queryRows(ctx, q)
	if err != nil {
		return store.WriteResult{}, err
	}
	if len(recs) == 0 {
		return store.WriteResult{Outcome: store.Rejected}, nil
	}
	return store.WriteResult{Outcome: store.Applied, Record: recs[0]}, nil
}

func (b *Backend) Remove(ctx context.Context, facet statement.Facet, id string) (store.Outcome, error) {
	q := newQuery(b.config.Dialect)
	t, err := q.ident(b.table(facet))
	if err != nil {
		return store.Rejected, err
	}
	q.write("DELETE FROM ", t)
	if err := q.where(statement.Equal(b.config.KeyAttribute, id)); err != nil {
		return store.Rejected, err
	}

	b.logger.Debug("exec", "sql", q.String())
	res, err := b.db.ExecContext(ctx, q.String(), q.args...)
	if err != nil {
		return store.Rejected, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.Rejected, err
	}
	if n == 0 {
		return store.SkippedAlreadyInState, nil
	}
	return store.Applied, nil
}

func (b *Backend) Query(ctx context.Context, spec store.QuerySpec) (*store.RawPage, error) {
	conds := []statement.Condition{statement.Equal(spec.Attr, spec.Value), spec.Filter}
	return b.page(ctx, spec.Facet, conds, spec.Attrs, spec.Limit, spec.Start, 0, 0)
}

func (b *Backend) Scan(ctx context.Context, spec store.ScanSpec) (*store.RawPage, error) {
	return b.page(ctx, spec.Facet, []statement.Condition{spec.Filter}, spec.Attrs, spec.Limit, spec.Start, spec.Segment, spec.TotalSegments)
}

// page reads matching rows in key order after start. Segments are applied
// to the result rows, so a segmented read cannot push its limit into SQL.
func (b *Backend) page(ctx context.Context, facet statement.Facet, conds []statement.Condition, attrs []string, limit int, start store.Key, seg, total int) (*store.RawPage, error) {
	var after any
	if start != nil {
		after = start[b.config.KeyAttribute]
	}
	sqlLimit := limit
	if total > 0 {
		sqlLimit = 0
	}
	q, err := renderSelect(b.config.Dialect, b.table(facet), b.config.KeyAttribute, conds, after, sqlLimit)
	if err != nil {
		return nil, err
	}
	recs, err := b.queryRows(ctx, q)
	if err != nil {
		return nil, err
	}

	page := &store.RawPage{}
	var last any
	for _, rec := range recs {
		id := rec[b.config.KeyAttribute]
		if total > 0 && !segment.Contains(fmt.Sprint(id), seg, total) {
			continue
		}
		if limit > 0 && len(page.Items) == limit {
			page.LastKey = store.Key{b.config.KeyAttribute: last}
			break
		}
		page.Items = append(page.Items, project(rec, attrs))
		last = id
	}
	return page, nil
}

func (b *Backend) Usage(ctx context.Context, facet statement.Facet) (store.FacetUsage, error) {
	q := newQuery(b.config.Dialect)
	t, err := q.ident(b.table(facet))
	if err != nil {
		return store.FacetUsage{}, err
	}

	var u store.FacetUsage
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t).Scan(&u.Count); err != nil {
		return store.FacetUsage{}, err
	}
	if b.config.Dialect.size != "" {
		if err := b.db.QueryRowContext(ctx, b.config.Dialect.size, t).Scan(&u.SizeBytes); err != nil {
			return store.FacetUsage{}, err
		}
	}
	return u, nil
}

func (b *Backend) Streams(context.Context) (*store.StreamInfo, error) {
	return nil, fmt.Errorf("%w: relational backends have no change stream", store.ErrUnimplemented)
}

func (b *Backend) Close() error { return b.db.Close() }

// queryRows runs q and decodes every row.
func (b *Backend) queryRows(ctx context.Context, q *query) ([]store.Record, error) {
	b.logger.Debug("query", "sql", q.String())
	rows, err := b.db.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	dbTypes := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name()
		dbTypes[i] = strings.ToUpper(c.DatabaseTypeName())
	}
	var out []store.Record
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, decodeRow(names, dbTypes, values))
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}

// decodeRow converts a scanned row into a record with engine names. NULL
// columns are absent attributes. dbTypes holds the upper-cased declared type
// of each column and restores documents and decimals that drivers return
// as text.
func decodeRow(names, dbTypes []string, values []any) store.Record {
	rec := make(store.Record, len(names))
	for i, col := range names {
		v := values[i]
		if v == nil {
			continue
		}
		var dbType string
		if i < len(dbTypes) {
			dbType = dbTypes[i]
		}
		v = decodeValue(dbType, v)
		attr := Columns.Logical(col)
		switch attr {
		case statement.Deleted:
			v = statement.Truthy(v)
		case statement.ItemVersion:
			if n, ok := statement.Int64(v); ok {
				v = n
			}
		}
		rec[attr] = v
	}
	return rec
}

func decodeValue(dbType string, v any) any {
	switch t := v.(type) {
	case []byte:
		v = string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	}
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch dbType {
	case "JSON", "JSONB":
		var doc any
		if err := json.Unmarshal([]byte(s), &doc); err == nil {
			return doc
		}
	case "NUMERIC", "DECIMAL", "REAL", "FLOAT4", "FLOAT8", "DOUBLE PRECISION":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

// project copies rec, keeping only attrs when set.
func project(rec store.Record, attrs []string) store.Record {
	if len(attrs) == 0 {
		return rec
	}
	out := make(store.Record, len(attrs))
	for _, a := range attrs {
		if v, ok := rec[a]; ok {
			out[a] = v
		}
	}
	return out
}

var _ store.StorageBackend = (*Backend)(nil)
