// Package schema holds the process-wide, immutable description of every
// model this engine serves: field constraints, indexes, views, cross-model
// relations and access hooks. A Schema is built once at process start and
// treated as read-only afterward; the two flat indices it precomputes
// (foreign-view index and type-relation index) are what let the view-affect
// engine reason about cross-model view membership without walking a cyclic
// graph on every write.
package schema

import (
	"fmt"

	"github.com/relaycrud/engine/internal/validate"
)

// Fields maps a field name to its constraint.
type Fields map[string]validate.Constraint

// IndexDef describes one declared index. A bare name-only index has Fn nil
// and indexes the single field named Name; a computed/compound index
// supplies Fn, which receives the native database handle so it can use
// backend-specific compound-index helpers, and Columns is ignored.
type IndexDef struct {
	Name    string
	Columns []string
	Fn      IndexFunc
	Type    string
	Options map[string]any
}

// Fields returns the columns this index covers, defaulting to a single
// column named after the index itself when Columns wasn't set.
func (d IndexDef) Fields() []string {
	if len(d.Columns) > 0 {
		return d.Columns
	}
	return []string{d.Name}
}

// IndexFunc builds a compound/computed index definition against the native
// database handle. The handle type is backend-specific (e.g. *pgxpool.Pool),
// so it is passed as `any` and the function is expected to assert it.
type IndexFunc func(db any) error

// RelationFunc maps a resource of the declaring model to the value of a
// field under another model's namespace.
type RelationFunc func(resource map[string]any) any

// TransformFunc composes a view's caller-supplied predicate onto a base
// database query. Both baseQuery and the return value are backend-specific
// query builders passed as `any`.
type TransformFunc func(baseQuery any, db any, params map[string]any) any

// ViewDef describes one named, parameterised, ordered projection.
type ViewDef struct {
	Name string

	// ParamFields is the full set of fields the transform function
	// receives. PrimaryFields, when non-empty, is the routing subset that
	// selects the channel; when empty, all of ParamFields route.
	ParamFields   []string
	PrimaryFields []string

	// AffectingFields change a resource's membership/position within the
	// view without changing its channel identity.
	AffectingFields []string

	// ForeignAffectingFields declares, per foreign model, which of that
	// model's fields should also cause this view to be reconsidered. This
	// is how a view defined on model M stays coherent when a model it
	// cross-references (via a RelationFunc declared on that other model)
	// changes.
	ForeignAffectingFields map[string][]string

	// MultiFields is populated by New from the owning model's field
	// constraints: the subset of this view's routing fields (PrimaryFields,
	// or ParamFields when PrimaryFields is empty) declared `Multi()`. The
	// publication dispatcher consults this instead of guessing multi-ness
	// from a value's runtime shape, so a comma or a null in an ordinary
	// field never gets treated as a multi-value set. Callers building a
	// ViewDef by hand leave this nil; New fills it in.
	MultiFields []string

	Transform       TransformFunc
	DisableRealtime bool
}

// AccessRequest is passed to both pre- and post-access hooks.
type AccessRequest struct {
	Action    string
	AuthToken string
	Query     any
	Resource  map[string]any
}

// PreAccessHook runs before an invocation or subscription is allowed to
// proceed. Returning an error blocks the request; returning false is lifted
// to a canonical CRUDBlockedError by the access filter.
type PreAccessHook func(req AccessRequest) (bool, error)

// PostAccessHook runs after a resource has been fetched, for reads and for
// subscriptions that pre-fetch their subject. It may transform the result
// (e.g. redact fields) or block by returning an error.
type PostAccessHook func(req AccessRequest) (any, error)

// Access bundles a model's pre/post hooks.
type Access struct {
	Pre  PreAccessHook
	Post PostAccessHook
}

// Model is one entry of the schema.
type Model struct {
	Name        string
	Fields      Fields
	Indexes     []IndexDef
	Views       map[string]ViewDef
	Relations   map[string]map[string]RelationFunc // targetModel -> fieldName -> fn
	Access      Access
	MaxPageSize int
}

// Schema is the immutable, process-wide model registry plus its derived
// indices.
type Schema struct {
	Models map[string]Model

	// TypedViewChannelParams disables the default string-coercion of
	// primary-param values before channel-name serialisation.
	TypedViewChannelParams bool
	BlockPreByDefault      bool
	MaxMultiPublish        int
	DefaultMaxPageSize     int

	foreignViews   foreignViewIndex
	typeRelations  typeRelationIndex
}

// ForeignViewSpec is one entry of the foreign-view index: the paramFields
// and affectingFields of a view, as they apply when that view is considered
// under an alternate targetType triggered by a write to some other model.
type ForeignViewSpec struct {
	ParamFields     []string
	AffectingFields []string
}

// foreignViewIndex maps the written model -> the alternate targetType
// (parentType) a candidate should adopt -> view name -> the spec describing
// that view's params/affecting fields, as declared via foreignAffectingFields.
type foreignViewIndex map[string]map[string]map[string]ForeignViewSpec

// typeRelationIndex maps sourceType -> targetType -> fieldName -> relationFn.
type typeRelationIndex map[string]map[string]map[string]RelationFunc

// New compiles a Schema from a flat list of models, deriving the
// foreign-view and type-relation indices. It validates referential
// integrity (relation/foreignAffectingFields targets must name a declared
// model) so a misconfigured schema fails fast at construction rather than
// surfacing as a missing publication at runtime.
func New(models []Model, opts ...Option) (*Schema, error) {
	s := &Schema{
		Models:             make(map[string]Model, len(models)),
		MaxMultiPublish:    20,
		DefaultMaxPageSize: 100,
		foreignViews:       make(foreignViewIndex),
		typeRelations:      make(typeRelationIndex),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, m := range models {
		if _, exists := s.Models[m.Name]; exists {
			return nil, fmt.Errorf("schema: duplicate model %q", m.Name)
		}
		s.Models[m.Name] = m
	}

	for name, m := range s.Models {
		for target, fields := range m.Relations {
			if _, ok := s.Models[target]; !ok {
				return nil, fmt.Errorf("schema: model %q declares a relation to undeclared model %q", name, target)
			}
			for field, fn := range fields {
				if s.typeRelations[name] == nil {
					s.typeRelations[name] = make(map[string]map[string]RelationFunc)
				}
				if s.typeRelations[name][target] == nil {
					s.typeRelations[name][target] = make(map[string]RelationFunc)
				}
				s.typeRelations[name][target][field] = fn
			}
		}

		for viewName, v := range m.Views {
			v.MultiFields = multiFieldsOf(m.Fields, effectivePrimaryFields(v))
			m.Views[viewName] = v

			for foreignModel, fields := range v.ForeignAffectingFields {
				if _, ok := s.Models[foreignModel]; !ok {
					return nil, fmt.Errorf("schema: view %q on model %q names undeclared foreign model %q", viewName, name, foreignModel)
				}
				// Filed under the model actually being written (name, the
				// view's home model): a write to `name` may also affect this
				// view under the alternate targetType `foreignModel`, with
				// field values resolved through a relation declared on `name`.
				if s.foreignViews[name] == nil {
					s.foreignViews[name] = make(map[string]map[string]ForeignViewSpec)
				}
				if s.foreignViews[name][foreignModel] == nil {
					s.foreignViews[name][foreignModel] = make(map[string]ForeignViewSpec)
				}
				affecting := append([]string{}, v.AffectingFields...)
				affecting = append(affecting, fields...)
				s.foreignViews[name][foreignModel][viewName] = ForeignViewSpec{
					ParamFields:     v.ParamFields,
					AffectingFields: affecting,
				}
			}
		}
	}

	return s, nil
}

// effectivePrimaryFields returns the routing subset a view's channel is
// keyed on: PrimaryFields when declared, otherwise every ParamFields entry.
func effectivePrimaryFields(v ViewDef) []string {
	if len(v.PrimaryFields) > 0 {
		return v.PrimaryFields
	}
	return v.ParamFields
}

// multiFieldsOf returns the subset of candidateFields whose constraint on
// fields was built with Multi(), so the dispatcher can tell a genuinely
// multi-valued routing field apart from an ordinary field whose value
// happens to contain a comma or be null.
func multiFieldsOf(fields Fields, candidateFields []string) []string {
	var out []string
	for _, field := range candidateFields {
		constraint, ok := fields[field]
		if !ok {
			continue
		}
		mc, ok := constraint.(validate.MultiConstraint)
		if ok && mc.IsMulti() {
			out = append(out, field)
		}
	}
	return out
}

// Option customises Schema construction.
type Option func(*Schema)

func WithTypedViewChannelParams() Option {
	return func(s *Schema) { s.TypedViewChannelParams = true }
}

func WithBlockPreByDefault() Option {
	return func(s *Schema) { s.BlockPreByDefault = true }
}

func WithMaxMultiPublish(n int) Option {
	return func(s *Schema) { s.MaxMultiPublish = n }
}

func WithDefaultMaxPageSize(n int) Option {
	return func(s *Schema) { s.DefaultMaxPageSize = n }
}

// ForeignViewsOf returns the foreign-view index entries filed under
// writtenModel: for every (homeModel, viewName) pair whose view depends on
// writtenModel's fields, the spec describing that dependency.
func (s *Schema) ForeignViewsOf(writtenModel string) map[string]map[string]ForeignViewSpec {
	return s.foreignViews[writtenModel]
}

// Relation looks up the relation function mapping a resource of sourceType
// to targetType's field, if one is declared.
func (s *Schema) Relation(sourceType, targetType, field string) (RelationFunc, bool) {
	byTarget, ok := s.typeRelations[sourceType]
	if !ok {
		return nil, false
	}
	fn, ok := byTarget[targetType][field]
	return fn, ok
}

// HasModel reports whether name is a declared model.
func (s *Schema) HasModel(name string) bool {
	_, ok := s.Models[name]
	return ok
}

// MaxPageSizeFor returns the effective page-size cap for a model, falling
// back to the schema default when the model doesn't override it.
func (s *Schema) MaxPageSizeFor(modelName string) int {
	if m, ok := s.Models[modelName]; ok && m.MaxPageSize > 0 {
		return m.MaxPageSize
	}
	return s.DefaultMaxPageSize
}
