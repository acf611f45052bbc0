// Package postgres implements dbdriver.Database on top of jackc/pgx/v5,
// storing each model's documents in a table with a `data jsonb` column. It
// follows the teacher's ConnectPostgres connection-setup style
// (internal/db/db.go) and its PostgresPool wrapper pattern
// (internal/db/interfaces.go): wrap the concrete pool behind the minimal
// interface this package actually needs.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaycrud/engine/internal/dbdriver"
)

// Connect dials postgres and verifies connectivity before returning.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	slog.Info("database connection established", "db", "postgres")
	return pool, nil
}

// Driver implements dbdriver.Database against a Postgres pool. Every model
// table has columns (id text primary key, data jsonb not null).
type Driver struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Driver {
	return &Driver{pool: pool}
}

func (d *Driver) Handle() any { return d.pool }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *Driver) TableList(ctx context.Context) ([]string, error) {
	rows, err := d.pool.Query(ctx, `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public'`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("postgres: scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (d *Driver) TableCreate(ctx context.Context, table string) error {
	stmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (id text PRIMARY KEY, data jsonb NOT NULL)`,
		quoteIdent(table),
	)
	if _, err := d.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", table, err)
	}
	return nil
}

func (d *Driver) IndexList(ctx context.Context, table string) ([]string, error) {
	rows, err := d.pool.Query(ctx, `SELECT indexname FROM pg_indexes WHERE tablename = $1`, table)
	if err != nil {
		return nil, fmt.Errorf("postgres: list indexes on %s: %w", table, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("postgres: scan index name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (d *Driver) IndexCreate(ctx context.Context, table string, def dbdriver.IndexDef) error {
	if def.Fn != nil {
		return def.Fn(d.pool)
	}
	exprs := make([]string, 0, len(def.Fields))
	for _, field := range def.Fields {
		exprs = append(exprs, fmt.Sprintf("(data->>%s)", pgx.Identifier{field}.Sanitize()))
	}
	stmt := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`,
		quoteIdent(def.Name), quoteIdent(table), strings.Join(exprs, ", "),
	)
	if _, err := d.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: create index %s on %s: %w", def.Name, table, err)
	}
	return nil
}

func (d *Driver) IndexDrop(ctx context.Context, table, name string) error {
	if _, err := d.pool.Exec(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %s`, quoteIdent(name))); err != nil {
		return fmt.Errorf("postgres: drop index %s: %w", name, err)
	}
	return nil
}

func (d *Driver) Get(ctx context.Context, table, id string) (map[string]any, error) {
	row := d.pool.QueryRow(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id = $1`, quoteIdent(table)), id)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get %s/%s: %w", table, id, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("postgres: decode %s/%s: %w", table, id, err)
	}
	return doc, nil
}

func (d *Driver) Insert(ctx context.Context, table string, value map[string]any, returnChanges bool) (dbdriver.WriteResult, error) {
	id, _ := value["id"].(string)
	body, err := json.Marshal(value)
	if err != nil {
		return dbdriver.WriteResult{}, fmt.Errorf("postgres: encode insert value: %w", err)
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (id, data) VALUES ($1, $2)`, quoteIdent(table))
	if returnChanges {
		stmt += " RETURNING data"
	}

	if returnChanges {
		row := d.pool.QueryRow(ctx, stmt, id, body)
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			return dbdriver.WriteResult{}, mapWriteError(err, id)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return dbdriver.WriteResult{}, fmt.Errorf("postgres: decode inserted %s/%s: %w", table, id, err)
		}
		return dbdriver.WriteResult{Changes: []map[string]any{doc}}, nil
	}

	if _, err := d.pool.Exec(ctx, stmt, id, body); err != nil {
		return dbdriver.WriteResult{}, mapWriteError(err, id)
	}
	return dbdriver.WriteResult{}, nil
}

func (d *Driver) Update(ctx context.Context, table, id string, value map[string]any, returnChanges bool) (dbdriver.WriteResult, error) {
	patch, err := json.Marshal(value)
	if err != nil {
		return dbdriver.WriteResult{}, fmt.Errorf("postgres: encode update value: %w", err)
	}

	stmt := fmt.Sprintf(`UPDATE %s SET data = data || $1::jsonb WHERE id = $2`, quoteIdent(table))
	if returnChanges {
		stmt += " RETURNING data"
	}

	if returnChanges {
		row := d.pool.QueryRow(ctx, stmt, patch, id)
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return dbdriver.WriteResult{}, &notFoundError{table: table, id: id}
			}
			return dbdriver.WriteResult{}, fmt.Errorf("postgres: update %s/%s: %w", table, id, err)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return dbdriver.WriteResult{}, fmt.Errorf("postgres: decode updated %s/%s: %w", table, id, err)
		}
		return dbdriver.WriteResult{Changes: []map[string]any{doc}}, nil
	}

	tag, err := d.pool.Exec(ctx, stmt, patch, id)
	if err != nil {
		return dbdriver.WriteResult{}, fmt.Errorf("postgres: update %s/%s: %w", table, id, err)
	}
	if tag.RowsAffected() == 0 {
		return dbdriver.WriteResult{}, &notFoundError{table: table, id: id}
	}
	return dbdriver.WriteResult{}, nil
}

func (d *Driver) Replace(ctx context.Context, table, id string, value map[string]any, returnChanges bool) (dbdriver.WriteResult, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return dbdriver.WriteResult{}, fmt.Errorf("postgres: encode replace value: %w", err)
	}

	stmt := fmt.Sprintf(`UPDATE %s SET data = $1::jsonb WHERE id = $2`, quoteIdent(table))
	if returnChanges {
		stmt += " RETURNING data"
	}

	if returnChanges {
		row := d.pool.QueryRow(ctx, stmt, body, id)
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return dbdriver.WriteResult{}, &notFoundError{table: table, id: id}
			}
			return dbdriver.WriteResult{}, fmt.Errorf("postgres: replace %s/%s: %w", table, id, err)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return dbdriver.WriteResult{}, fmt.Errorf("postgres: decode replaced %s/%s: %w", table, id, err)
		}
		return dbdriver.WriteResult{Changes: []map[string]any{doc}}, nil
	}

	tag, err := d.pool.Exec(ctx, stmt, body, id)
	if err != nil {
		return dbdriver.WriteResult{}, fmt.Errorf("postgres: replace %s/%s: %w", table, id, err)
	}
	if tag.RowsAffected() == 0 {
		return dbdriver.WriteResult{}, &notFoundError{table: table, id: id}
	}
	return dbdriver.WriteResult{}, nil
}

func (d *Driver) Delete(ctx context.Context, table, id string, returnChanges bool) (dbdriver.WriteResult, error) {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, quoteIdent(table))
	if returnChanges {
		stmt += " RETURNING data"
	}

	if returnChanges {
		row := d.pool.QueryRow(ctx, stmt, id)
		var raw []byte
		if err := row.Scan(&raw); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return dbdriver.WriteResult{}, &notFoundError{table: table, id: id}
			}
			return dbdriver.WriteResult{}, fmt.Errorf("postgres: delete %s/%s: %w", table, id, err)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return dbdriver.WriteResult{}, fmt.Errorf("postgres: decode deleted %s/%s: %w", table, id, err)
		}
		return dbdriver.WriteResult{Changes: []map[string]any{doc}}, nil
	}

	tag, err := d.pool.Exec(ctx, stmt, id)
	if err != nil {
		return dbdriver.WriteResult{}, fmt.Errorf("postgres: delete %s/%s: %w", table, id, err)
	}
	if tag.RowsAffected() == 0 {
		return dbdriver.WriteResult{}, &notFoundError{table: table, id: id}
	}
	return dbdriver.WriteResult{}, nil
}

// notFoundError reports a missing document. Its message is worded so that
// the message-matching error mapping in internal/crudcore recognises it.
type notFoundError struct {
	table, id string
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("the query did not find a document and returned null for %s/%s", e.table, e.id)
}

func mapWriteError(err error, id string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("duplicate primary key `%s`: %w", id, err)
	}
	return fmt.Errorf("postgres write failed: %w", err)
}
