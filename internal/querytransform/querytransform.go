// Package querytransform implements the leaf query transformer: it sanitizes
// caller-supplied viewParams down to a view's declared paramFields and, when
// the view names a transform function, composes it onto a base database
// query.
package querytransform

import "github.com/relaycrud/engine/internal/schema"

// Transform sanitizes viewParams to view.ParamFields (missing fields become
// nil) and, if view.Transform is set, composes it onto baseQuery using db as
// the native database handle. With no transform declared, it returns
// baseQuery unchanged.
func Transform(db any, baseQuery any, view schema.ViewDef, viewParams map[string]any) any {
	sanitized := Sanitize(view.ParamFields, viewParams)
	if view.Transform == nil {
		return baseQuery
	}
	return view.Transform(baseQuery, db, sanitized)
}

// Sanitize reduces params to exactly paramFields, with any field absent from
// params coerced to nil.
func Sanitize(paramFields []string, params map[string]any) map[string]any {
	sanitized := make(map[string]any, len(paramFields))
	for _, field := range paramFields {
		if v, ok := params[field]; ok {
			sanitized[field] = v
			continue
		}
		sanitized[field] = nil
	}
	return sanitized
}
