package querytransform

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaycrud/engine/internal/schema"
)

func TestSanitize_MissingFieldsBecomeNil(t *testing.T) {
	sanitized := Sanitize([]string{"owner", "status"}, map[string]any{"owner": "u1", "extra": "ignored"})

	assert.Equal(t, map[string]any{"owner": "u1", "status": nil}, sanitized)
}

func TestTransform_NoTransformReturnsBaseQueryUnchanged(t *testing.T) {
	base := "base-query"

	result := Transform(nil, base, schema.ViewDef{ParamFields: []string{"owner"}}, map[string]any{"owner": "u1"})

	assert.Equal(t, base, result)
}

func TestTransform_ComposesTransformWithSanitizedParams(t *testing.T) {
	var gotDB any
	var gotParams map[string]any
	view := schema.ViewDef{
		ParamFields: []string{"owner"},
		Transform: func(baseQuery, db any, params map[string]any) any {
			gotDB = db
			gotParams = params
			return "transformed:" + baseQuery.(string)
		},
	}

	result := Transform("native-handle", "base-query", view, map[string]any{"owner": "u1", "extra": "dropped"})

	assert.Equal(t, "transformed:base-query", result)
	assert.Equal(t, "native-handle", gotDB)
	assert.Equal(t, map[string]any{"owner": "u1"}, gotParams)
}
