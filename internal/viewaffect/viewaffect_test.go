package viewaffect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrud/engine/internal/schema"
)

func TestGetValueByDotPath(t *testing.T) {
	data := map[string]any{"owner": map[string]any{"id": "u1"}}

	assert.Equal(t, "u1", GetValueByDotPath(data, "owner.id"))
	assert.Nil(t, GetValueByDotPath(data, "owner.missing"))
	assert.Nil(t, GetValueByDotPath(data, "missing.id"))
	assert.Equal(t, data, GetValueByDotPath(data, "."))
}

func itemSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New([]schema.Model{
		{
			Name: "Item",
			Views: map[string]schema.ViewDef{
				"byOwner": {
					ParamFields:     []string{"owner"},
					AffectingFields: []string{"owner"},
				},
			},
		},
	})
	require.NoError(t, err)
	return s
}

func TestGetAffectedViews_OwnModelView(t *testing.T) {
	s := itemSchema(t)

	views := GetAffectedViews(s, Request{
		Type:     "Item",
		Resource: map[string]any{"id": "i1", "owner": "u1"},
	})

	require.Len(t, views, 1)
	assert.Equal(t, "byOwner", views[0].View)
	assert.Equal(t, "Item", views[0].Type)
	assert.Equal(t, "u1", views[0].Params["owner"])
}

func TestGetAffectedViews_FiltersByModifiedFields(t *testing.T) {
	s := itemSchema(t)

	views := GetAffectedViews(s, Request{
		Type:     "Item",
		Resource: map[string]any{"id": "i1", "owner": "u1"},
		Fields:   []string{"unrelatedField"},
	})

	assert.Empty(t, views)
}

func TestGetAffectedViews_IDAlwaysCountsAsAffecting(t *testing.T) {
	s := itemSchema(t)

	views := GetAffectedViews(s, Request{
		Type:     "Item",
		Resource: map[string]any{"id": "i1", "owner": "u1"},
		Fields:   []string{"id"},
	})

	require.Len(t, views, 1)
}

func TestGetAffectedViews_ForeignView(t *testing.T) {
	s, err := schema.New([]schema.Model{
		{Name: "User", Fields: schema.Fields{}},
		{
			Name: "Item",
			Relations: map[string]map[string]schema.RelationFunc{
				"User": {
					"id": func(resource map[string]any) any { return resource["ownerId"] },
				},
			},
			Views: map[string]schema.ViewDef{
				"byUser": {
					ParamFields:            []string{"id"},
					ForeignAffectingFields: map[string][]string{"User": {}},
				},
			},
		},
	})
	require.NoError(t, err)

	views := GetAffectedViews(s, Request{
		Type:     "Item",
		Resource: map[string]any{"id": "i1", "ownerId": "u1"},
		Fields:   []string{"ownerId"},
	})

	require.Len(t, views, 1)
	assert.Equal(t, "User", views[0].Type)
	assert.Equal(t, "byUser", views[0].View)
	assert.Equal(t, "u1", views[0].Params["id"])
}

func TestGetAffectedViews_ForeignView_SurvivesUnrelatedFieldFilter(t *testing.T) {
	// A foreign candidate's paramFields/affectingFields name fields on the
	// target model (User), never on the written model (Item), so they can
	// never appear in req.Fields (Item's own changed-field names) — the
	// namespace mismatch must not be mistaken for "no relevant field
	// changed" and drop the candidate.
	s, err := schema.New([]schema.Model{
		{Name: "User", Fields: schema.Fields{}},
		{
			Name: "Item",
			Relations: map[string]map[string]schema.RelationFunc{
				"User": {
					"id": func(resource map[string]any) any { return resource["ownerId"] },
				},
			},
			Views: map[string]schema.ViewDef{
				"byUser": {
					ParamFields:            []string{"id"},
					ForeignAffectingFields: map[string][]string{"User": {}},
				},
			},
		},
	})
	require.NoError(t, err)

	views := GetAffectedViews(s, Request{
		Type:     "Item",
		Resource: map[string]any{"id": "i1", "ownerId": "u1", "status": "open"},
		Fields:   []string{"status"},
	})

	require.Len(t, views, 1)
	assert.Equal(t, "User", views[0].Type)
	assert.Equal(t, "byUser", views[0].View)
}

func TestGetModifiedResourceFields(t *testing.T) {
	old := map[string]any{"name": "Ada", "age": float64(30)}
	updated := map[string]any{"name": "Ada", "age": float64(31), "extra": "new"}

	changes := GetModifiedResourceFields(old, updated)

	assert.Len(t, changes, 2)
	assert.Equal(t, FieldChange{Before: float64(30), After: float64(31)}, changes["age"])
	assert.Equal(t, FieldChange{Before: nil, After: "new"}, changes["extra"])
	_, hasName := changes["name"]
	assert.False(t, hasName)
}

func TestModifiedFieldNames_Sorted(t *testing.T) {
	changes := map[string]FieldChange{
		"zeta":  {Before: 1, After: 2},
		"alpha": {Before: 1, After: 2},
	}

	names := ModifiedFieldNames(changes)

	assert.Equal(t, []string{"alpha", "zeta"}, names)
}
