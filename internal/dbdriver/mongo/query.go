package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/relaycrud/engine/internal/dbdriver"
)

// Query is the native collection-query builder a view's transform function
// composes onto.
type Query struct {
	Table  string
	Filter bson.M
	Sort   bson.D
}

// Eq adds an equality filter on field and returns q for chaining.
func (q *Query) Eq(field string, value any) *Query {
	q.Filter[field] = value
	return q
}

func (d *Driver) BaseQuery(table string) dbdriver.CollectionQuery {
	return &Query{Table: table, Filter: bson.M{}}
}

func asQuery(q dbdriver.CollectionQuery) (*Query, error) {
	mq, ok := q.(*Query)
	if !ok {
		return nil, fmt.Errorf("mongo: unexpected collection query type %T", q)
	}
	return mq, nil
}

func (d *Driver) QueryIDs(ctx context.Context, query dbdriver.CollectionQuery, offset, limit int, pluck []string) ([]map[string]any, error) {
	q, err := asQuery(query)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSkip(int64(offset)).SetLimit(int64(limit))
	if q.Sort != nil {
		opts.SetSort(q.Sort)
	}
	if len(pluck) == 1 && pluck[0] == "id" {
		opts.SetProjection(bson.M{"_id": 1})
	}

	cursor, err := d.db.Collection(q.Table).Find(ctx, q.Filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: query collection %s: %w", q.Table, err)
	}
	defer cursor.Close(ctx)

	var out []map[string]any
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo: decode collection row: %w", err)
		}
		out = append(out, fromDocument(doc))
	}
	return out, cursor.Err()
}

func (d *Driver) Count(ctx context.Context, query dbdriver.CollectionQuery) (int, error) {
	q, err := asQuery(query)
	if err != nil {
		return 0, err
	}
	count, err := d.db.Collection(q.Table).CountDocuments(ctx, q.Filter)
	if err != nil {
		return 0, fmt.Errorf("mongo: count collection %s: %w", q.Table, err)
	}
	return int(count), nil
}
