// Package dbdriver declares the document-store contract the CRUD core
// depends on, independent of any concrete backend. The interface shape
// (a thin set of verbs wrapping a native pool/handle) follows the teacher's
// internal/db/interfaces.go: wrap the concrete driver behind a minimal,
// mockable interface rather than depending on *pgxpool.Pool directly.
package dbdriver

import "context"

// IndexDef is a declared index as the bootstrap layer and the database
// driver agree on it: either a simple field-name index, or one whose
// creation is delegated to Fn against the native handle returned by Handle.
type IndexDef struct {
	Name   string
	Fields []string
	Fn     func(handle any) error
}

// WriteResult mirrors the document-store write-result shape required by
// spec: zero or more field-level errors, and the post-write document for
// every mutated row when ReturnChanges was requested.
type WriteResult struct {
	Errors     int
	FirstError error
	Changes    []map[string]any
}

// CollectionQuery is a backend-native query object, built by composing
// BaseQuery with a view's transform function (see internal/querytransform).
// Its concrete type is backend-specific; drivers assert it internally.
type CollectionQuery any

// Database is the document-store contract. Every concrete driver
// (postgres, mongo) implements this against its own native client.
type Database interface {
	// TableList/TableCreate/Index* back the schema bootstrap component.
	TableList(ctx context.Context) ([]string, error)
	TableCreate(ctx context.Context, table string) error
	IndexList(ctx context.Context, table string) ([]string, error)
	IndexCreate(ctx context.Context, table string, def IndexDef) error
	IndexDrop(ctx context.Context, table, name string) error

	// Handle returns the native database handle (e.g. *pgxpool.Pool,
	// *mongo.Database) for compound-index functions and view transforms
	// that need backend-specific capabilities.
	Handle() any

	// BaseQuery builds a backend-native query rooted at table, the starting
	// point a view's transform function composes onto.
	BaseQuery(table string) CollectionQuery

	Get(ctx context.Context, table, id string) (map[string]any, error)
	Insert(ctx context.Context, table string, value map[string]any, returnChanges bool) (WriteResult, error)
	Update(ctx context.Context, table, id string, value map[string]any, returnChanges bool) (WriteResult, error)
	Replace(ctx context.Context, table, id string, value map[string]any, returnChanges bool) (WriteResult, error)
	Delete(ctx context.Context, table, id string, returnChanges bool) (WriteResult, error)

	// QueryIDs runs query (a CollectionQuery produced by BaseQuery plus a
	// view transform) and returns up to limit documents pruned to the
	// pluck fields (id-only collection reads pass []string{"id"}),
	// starting at offset.
	QueryIDs(ctx context.Context, query CollectionQuery, offset, limit int, pluck []string) ([]map[string]any, error)

	// Count runs query and returns the number of matching documents.
	Count(ctx context.Context, query CollectionQuery) (int, error)
}
