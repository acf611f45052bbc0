package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaycrud/engine/internal/dbdriver"
)

// Query is the native collection-query builder a view's transform function
// composes onto. Conditions are ANDed together; OrderBy is a raw column
// expression trusted to come from schema-declared transforms, not client
// input.
type Query struct {
	Table   string
	Where   []string
	Args    []any
	OrderBy string
}

// Eq adds a `data->>'field' = $n` condition and returns q for chaining, the
// shape view.Transform functions are expected to build on.
func (q *Query) Eq(field string, value any) *Query {
	q.Args = append(q.Args, fmt.Sprintf("%v", value))
	q.Where = append(q.Where, fmt.Sprintf("data->>'%s' = $%d", field, len(q.Args)))
	return q
}

func (d *Driver) BaseQuery(table string) dbdriver.CollectionQuery {
	return &Query{Table: table}
}

func asQuery(q dbdriver.CollectionQuery) (*Query, error) {
	pq, ok := q.(*Query)
	if !ok {
		return nil, fmt.Errorf("postgres: unexpected collection query type %T", q)
	}
	return pq, nil
}

func (d *Driver) QueryIDs(ctx context.Context, query dbdriver.CollectionQuery, offset, limit int, pluck []string) ([]map[string]any, error) {
	q, err := asQuery(query)
	if err != nil {
		return nil, err
	}

	columns := pluckExpr(pluck)
	stmt := fmt.Sprintf("SELECT %s FROM %s", columns, quoteIdent(q.Table))
	if len(q.Where) > 0 {
		stmt += " WHERE " + strings.Join(q.Where, " AND ")
	}
	if q.OrderBy != "" {
		stmt += " ORDER BY " + q.OrderBy
	}
	args := append([]any{}, q.Args...)
	stmt += fmt.Sprintf(" OFFSET $%d LIMIT $%d", len(args)+1, len(args)+2)
	args = append(args, offset, limit)

	rows, err := d.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query collection %s: %w", q.Table, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scan collection row: %w", err)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("postgres: decode collection row: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (d *Driver) Count(ctx context.Context, query dbdriver.CollectionQuery) (int, error) {
	q, err := asQuery(query)
	if err != nil {
		return 0, err
	}

	stmt := fmt.Sprintf("SELECT count(*) FROM %s", quoteIdent(q.Table))
	if len(q.Where) > 0 {
		stmt += " WHERE " + strings.Join(q.Where, " AND ")
	}

	var count int
	if err := d.pool.QueryRow(ctx, stmt, q.Args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count collection %s: %w", q.Table, err)
	}
	return count, nil
}

// pluckExpr builds the SELECT column list. {"id"} selects the id column
// directly (the hot collection-listing path); anything else selects the
// whole jsonb document and lets the caller project client-side.
func pluckExpr(pluck []string) string {
	if len(pluck) == 1 && pluck[0] == "id" {
		return "jsonb_build_object('id', id)"
	}
	return "data"
}
