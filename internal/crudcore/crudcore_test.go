package crudcore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrud/engine/internal/cache"
	"github.com/relaycrud/engine/internal/dbdriver"
	"github.com/relaycrud/engine/internal/pubsub"
	"github.com/relaycrud/engine/internal/schema"
	"github.com/relaycrud/engine/internal/validate"
)

// fakeQuery is the CollectionQuery this test's fakeDB operates on: a table
// name plus an optional exact-match filter, composed by a view's Transform.
type fakeQuery struct {
	table  string
	filter map[string]any
}

// fakeDB is an in-memory dbdriver.Database, grounded on the teacher's own
// use of a thin driver interface: table -> id -> document.
type fakeDB struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]any
	nextID int
}

func newFakeDB() *fakeDB {
	return &fakeDB{tables: make(map[string]map[string]map[string]any)}
}

func (d *fakeDB) table(name string) map[string]map[string]any {
	if d.tables[name] == nil {
		d.tables[name] = make(map[string]map[string]any)
	}
	return d.tables[name]
}

func (d *fakeDB) TableList(ctx context.Context) ([]string, error)                { return nil, nil }
func (d *fakeDB) TableCreate(ctx context.Context, table string) error            { return nil }
func (d *fakeDB) IndexList(ctx context.Context, table string) ([]string, error)  { return nil, nil }
func (d *fakeDB) IndexDrop(ctx context.Context, table, name string) error        { return nil }
func (d *fakeDB) IndexCreate(ctx context.Context, table string, def dbdriver.IndexDef) error {
	return nil
}
func (d *fakeDB) Handle() any                           { return nil }
func (d *fakeDB) BaseQuery(table string) dbdriver.CollectionQuery { return fakeQuery{table: table} }

func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func (d *fakeDB) Get(ctx context.Context, table, id string) (map[string]any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.table(table)[id]
	if !ok {
		return nil, nil
	}
	return cloneDoc(doc), nil
}

func (d *fakeDB) Insert(ctx context.Context, table string, value map[string]any, returnChanges bool) (dbdriver.WriteResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := fmt.Sprintf("id-%d", d.nextID)
	doc := cloneDoc(value)
	doc["id"] = id
	d.table(table)[id] = doc
	if !returnChanges {
		return dbdriver.WriteResult{}, nil
	}
	return dbdriver.WriteResult{Changes: []map[string]any{cloneDoc(doc)}}, nil
}

func (d *fakeDB) Update(ctx context.Context, table, id string, value map[string]any, returnChanges bool) (dbdriver.WriteResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.table(table)[id]
	if !ok {
		return dbdriver.WriteResult{}, fmt.Errorf("the query did not find a document and returned null for %s/%s", table, id)
	}
	merged := cloneDoc(doc)
	for k, v := range value {
		merged[k] = v
	}
	d.table(table)[id] = merged
	if !returnChanges {
		return dbdriver.WriteResult{}, nil
	}
	return dbdriver.WriteResult{Changes: []map[string]any{cloneDoc(merged)}}, nil
}

func (d *fakeDB) Replace(ctx context.Context, table, id string, value map[string]any, returnChanges bool) (dbdriver.WriteResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc := cloneDoc(value)
	doc["id"] = id
	d.table(table)[id] = doc
	if !returnChanges {
		return dbdriver.WriteResult{}, nil
	}
	return dbdriver.WriteResult{Changes: []map[string]any{cloneDoc(doc)}}, nil
}

func (d *fakeDB) Delete(ctx context.Context, table, id string, returnChanges bool) (dbdriver.WriteResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.table(table), id)
	return dbdriver.WriteResult{}, nil
}

func (d *fakeDB) matching(q fakeQuery) []map[string]any {
	var out []map[string]any
	for _, doc := range d.table(q.table) {
		match := true
		for k, v := range q.filter {
			if doc[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, cloneDoc(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i]["id"].(string) < out[j]["id"].(string) })
	return out
}

func (d *fakeDB) QueryIDs(ctx context.Context, query dbdriver.CollectionQuery, offset, limit int, pluck []string) ([]map[string]any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	docs := d.matching(query.(fakeQuery))
	if offset > len(docs) {
		offset = len(docs)
	}
	docs = docs[offset:]
	if limit < len(docs) {
		docs = docs[:limit]
	}
	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		row := make(map[string]any, len(pluck))
		for _, field := range pluck {
			row[field] = doc[field]
		}
		out = append(out, row)
	}
	return out, nil
}

func (d *fakeDB) Count(ctx context.Context, query dbdriver.CollectionQuery) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.matching(query.(fakeQuery))), nil
}

func byOwnerFilterTransform(baseQuery, db any, params map[string]any) any {
	fq := baseQuery.(fakeQuery)
	fq.filter = map[string]any{"owner": params["owner"]}
	return fq
}

func itemConstraints() map[string]validate.Constraint {
	return map[string]validate.Constraint{
		"owner":  validate.String().Required(),
		"status": validate.String().Enum("open", "closed"),
		"name":   validate.String(),
	}
}

func testItemSchema(t *testing.T, opts ...schema.Option) *schema.Schema {
	t.Helper()
	s, err := schema.New([]schema.Model{
		{
			Name:   "Item",
			Fields: itemConstraints(),
			Views: map[string]schema.ViewDef{
				"byOwner": {
					ParamFields:     []string{"owner"},
					PrimaryFields:   []string{"owner"},
					AffectingFields: []string{"owner", "status"},
					Transform:       byOwnerFilterTransform,
				},
			},
		},
	}, opts...)
	require.NoError(t, err)
	return s
}

type testCore struct {
	core     *Core
	db       *fakeDB
	exchange *pubsub.InMemoryExchange
}

func newTestCore(t *testing.T, opts ...schema.Option) *testCore {
	t.Helper()
	s := testItemSchema(t, opts...)
	db := newFakeDB()
	exchange := pubsub.NewInMemoryExchange()
	c := New(Options{
		Schema:   s,
		Database: db,
		Cache:    cache.New(cache.Options{Disabled: true}),
		Exchange: exchange,
	})
	return &testCore{core: c, db: db, exchange: exchange}
}

func TestCreate_InsertsAndReturnsSanitizedRecord(t *testing.T) {
	tc := newTestCore(t)

	result, err := tc.core.Create(context.Background(), schema.Query{
		Action: schema.ActionCreate, Type: "Item",
		Value: map[string]any{"owner": "u1", "status": "open", "name": "n1"},
	})

	require.NoError(t, err)
	assert.Equal(t, "u1", result["owner"])
	assert.NotEmpty(t, result["id"])
}

func TestCreate_ValidationFailureIsNotInserted(t *testing.T) {
	tc := newTestCore(t)

	_, err := tc.core.Create(context.Background(), schema.Query{
		Action: schema.ActionCreate, Type: "Item",
		Value: map[string]any{"status": "open"},
	})

	assert.Error(t, err)
	docs, _ := tc.db.QueryIDs(context.Background(), fakeQuery{table: "Item"}, 0, 100, []string{"id"})
	assert.Empty(t, docs)
}

func TestCreate_NonObjectValueFails(t *testing.T) {
	tc := newTestCore(t)

	_, err := tc.core.Create(context.Background(), schema.Query{Action: schema.ActionCreate, Type: "Item", Value: "not-a-map"})

	assert.Error(t, err)
}

func TestRead_ByID_ReturnsNilForMissingResource(t *testing.T) {
	tc := newTestCore(t)

	result, err := tc.core.Read(context.Background(), schema.Query{Action: schema.ActionRead, Type: "Item", ID: "missing"}, nil)

	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestRead_ByID_ReturnsSingleField(t *testing.T) {
	tc := newTestCore(t)
	created, err := tc.core.Create(context.Background(), schema.Query{
		Action: schema.ActionCreate, Type: "Item",
		Value: map[string]any{"owner": "u1", "status": "open", "name": "n1"},
	})
	require.NoError(t, err)
	id := created["id"].(string)

	result, err := tc.core.Read(context.Background(), schema.Query{Action: schema.ActionRead, Type: "Item", ID: id, Field: "owner"}, nil)

	require.NoError(t, err)
	assert.Equal(t, "u1", result)
}

func TestRead_ByView_ReturnsMatchingPage(t *testing.T) {
	tc := newTestCore(t)
	_, err := tc.core.Create(context.Background(), schema.Query{
		Action: schema.ActionCreate, Type: "Item", Value: map[string]any{"owner": "u1", "status": "open"},
	})
	require.NoError(t, err)
	_, err = tc.core.Create(context.Background(), schema.Query{
		Action: schema.ActionCreate, Type: "Item", Value: map[string]any{"owner": "u2", "status": "open"},
	})
	require.NoError(t, err)

	result, err := tc.core.Read(context.Background(), schema.Query{
		Action: schema.ActionRead, Type: "Item", View: "byOwner",
		ViewParams: map[string]any{"owner": "u1"},
	}, nil)
	require.NoError(t, err)

	page := result.(*CollectionResult)
	assert.Len(t, page.Data, 1)
	assert.True(t, page.IsLastPage)
}

func TestUpdate_MergesPatchAndDispatches(t *testing.T) {
	tc := newTestCore(t)
	created, err := tc.core.Create(context.Background(), schema.Query{
		Action: schema.ActionCreate, Type: "Item", Value: map[string]any{"owner": "u1", "status": "open"},
	})
	require.NoError(t, err)
	id := created["id"].(string)

	updated, err := tc.core.Update(context.Background(), schema.Query{
		Action: schema.ActionUpdate, Type: "Item", ID: id, Field: "status", Value: "closed",
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "closed", updated["status"])
	assert.Equal(t, "u1", updated["owner"])
}

func TestUpdate_MissingDocumentFails(t *testing.T) {
	tc := newTestCore(t)

	_, err := tc.core.Update(context.Background(), schema.Query{
		Action: schema.ActionUpdate, Type: "Item", ID: "missing", Field: "status", Value: "closed",
	}, nil)

	assert.Error(t, err)
}

func TestUpdate_RejectsIDFieldUpdate(t *testing.T) {
	tc := newTestCore(t)

	_, err := tc.core.Update(context.Background(), schema.Query{
		Action: schema.ActionUpdate, Type: "Item", ID: "i1", Field: "id", Value: "new",
	}, nil)

	assert.Error(t, err)
}

func TestUpdate_WithoutIDFails(t *testing.T) {
	tc := newTestCore(t)

	_, err := tc.core.Update(context.Background(), schema.Query{Action: schema.ActionUpdate, Type: "Item"}, nil)

	assert.Error(t, err)
}

func TestDelete_WholeDocumentRemovesIt(t *testing.T) {
	tc := newTestCore(t)
	created, err := tc.core.Create(context.Background(), schema.Query{
		Action: schema.ActionCreate, Type: "Item", Value: map[string]any{"owner": "u1", "status": "open"},
	})
	require.NoError(t, err)
	id := created["id"].(string)

	result, err := tc.core.Delete(context.Background(), schema.Query{Action: schema.ActionDelete, Type: "Item", ID: id}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": id}, result)

	doc, _ := tc.db.Get(context.Background(), "Item", id)
	assert.Nil(t, doc)
}

func TestDelete_MissingDocumentFails(t *testing.T) {
	tc := newTestCore(t)

	_, err := tc.core.Delete(context.Background(), schema.Query{Action: schema.ActionDelete, Type: "Item", ID: "missing"}, nil)

	assert.Error(t, err)
}

func TestDelete_SingleFieldClearsItWithoutRemovingDocument(t *testing.T) {
	tc := newTestCore(t)
	created, err := tc.core.Create(context.Background(), schema.Query{
		Action: schema.ActionCreate, Type: "Item", Value: map[string]any{"owner": "u1", "status": "open", "name": "n1"},
	})
	require.NoError(t, err)
	id := created["id"].(string)

	_, err = tc.core.Delete(context.Background(), schema.Query{Action: schema.ActionDelete, Type: "Item", ID: id, Field: "name"}, nil)
	require.NoError(t, err)

	doc, err := tc.db.Get(context.Background(), "Item", id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	_, present := doc["name"]
	assert.False(t, present)
	assert.Equal(t, "u1", doc["owner"])
}

func TestFail_RunsThroughErrorMapperAndEmitsFailure(t *testing.T) {
	tc := newTestCore(t)
	var mapped error
	tc.core.errorMapper = func(err error, action schema.Action, q schema.Query) error {
		mapped = err
		return fmt.Errorf("mapped: %w", err)
	}

	_, err := tc.core.Delete(context.Background(), schema.Query{Action: schema.ActionDelete, Type: "Item", ID: "missing"}, nil)

	require.Error(t, err)
	require.NotNil(t, mapped)
	assert.Contains(t, err.Error(), "mapped:")

	select {
	case fail := <-tc.core.Fails():
		assert.Equal(t, "delete", fail.Operation)
	default:
		t.Fatal("expected a failure event")
	}
}
