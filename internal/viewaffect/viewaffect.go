// Package viewaffect maps field-level resource mutations to the set of view
// channels they affect, including cross-model (foreign) view membership via
// the schema's relation functions. Dot-path field resolution follows the
// teacher's getValueByDotPath helper (internal/leader/changestream.go):
// split on ".", walk nested map[string]any.
package viewaffect

import (
	"reflect"
	"sort"
	"strings"

	"github.com/relaycrud/engine/internal/schema"
)

// GetValueByDotPath resolves a (possibly nested) field path against data.
// A bare "." returns data itself. Any missing segment yields nil.
func GetValueByDotPath(data map[string]any, path string) any {
	if path == "." {
		return data
	}
	parts := strings.Split(path, ".")
	current := any(data)
	for _, part := range parts {
		mapCurrent, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		value, exists := mapCurrent[part]
		if !exists {
			return nil
		}
		current = value
	}
	return current
}

// Request describes a single write for the purposes of view-affect
// calculation.
type Request struct {
	Type     string
	Resource map[string]any

	// Fields, when non-nil, restricts the result to views that depend on at
	// least one of these fields. A nil slice accepts every candidate view
	// unconditionally.
	Fields []string
}

// ViewData is one affected view, as produced by GetAffectedViews.
type ViewData struct {
	View          string
	Type          string
	Params        map[string]any
	AffectingData map[string]any
}

type candidate struct {
	targetType      string
	viewName        string
	paramFields     []string
	affectingFields []string

	// foreign is true for a relation-derived candidate (targetType differs
	// from the written model). Its paramFields/affectingFields name fields on
	// targetType, not on the written model, so they live in a different
	// namespace than req.Fields (the written model's changed-field names) and
	// can never be intersected against it.
	foreign bool
}

// GetAffectedViews enumerates, in a deterministic (type, view) order, every
// view whose membership or channel identity could have changed given req.
func GetAffectedViews(s *schema.Schema, req Request) []ViewData {
	model, ok := s.Models[req.Type]
	if !ok {
		return nil
	}

	var candidates []candidate
	for viewName, v := range model.Views {
		candidates = append(candidates, candidate{
			targetType:      req.Type,
			viewName:        viewName,
			paramFields:     v.ParamFields,
			affectingFields: v.AffectingFields,
		})
	}
	for parentType, views := range s.ForeignViewsOf(req.Type) {
		for viewName, spec := range views {
			candidates = append(candidates, candidate{
				targetType:      parentType,
				viewName:        viewName,
				paramFields:     spec.ParamFields,
				affectingFields: spec.AffectingFields,
				foreign:         true,
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].targetType != candidates[j].targetType {
			return candidates[i].targetType < candidates[j].targetType
		}
		return candidates[i].viewName < candidates[j].viewName
	})

	results := make([]ViewData, 0, len(candidates))
	for _, c := range candidates {
		params := resolveFields(s, req.Type, c.targetType, req.Resource, c.paramFields)
		affectingData := resolveFields(s, req.Type, c.targetType, req.Resource, c.affectingFields)

		// A foreign candidate's paramFields/affectingFields name fields on
		// c.targetType, never on req.Type, so they can't be intersected
		// against req.Fields (the written model's own changed-field names).
		// The relation function is an opaque closure over the whole
		// resource with no declared written-field dependency to filter on,
		// so every relation-backed foreign candidate is always considered.
		if req.Fields != nil && !c.foreign {
			if !intersects(req.Fields, unionKeys(c.paramFields, c.affectingFields)) {
				continue
			}
		}

		results = append(results, ViewData{
			View:          c.viewName,
			Type:          c.targetType,
			Params:        params,
			AffectingData: affectingData,
		})
	}
	return results
}

func resolveFields(s *schema.Schema, writtenType, targetType string, resource map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, field := range fields {
		if fn, ok := s.Relation(writtenType, targetType, field); ok {
			out[field] = fn(resource)
			continue
		}
		out[field] = GetValueByDotPath(resource, field)
	}
	return out
}

func unionKeys(a, b []string) []string {
	seen := map[string]bool{"id": true}
	out := []string{"id"}
	for _, f := range a {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, f := range b {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func intersects(a, b []string) bool {
	set := make(map[string]bool, len(b))
	for _, f := range b {
		set[f] = true
	}
	for _, f := range a {
		if set[f] {
			return true
		}
	}
	return false
}

// FieldChange is one entry of GetModifiedResourceFields's result.
type FieldChange struct {
	Before any
	After  any
}

// GetModifiedResourceFields returns every field that differs between
// oldResource and newResource, considering the union of keys present on
// either side.
func GetModifiedResourceFields(oldResource, newResource map[string]any) map[string]FieldChange {
	changed := make(map[string]FieldChange)
	seen := make(map[string]bool, len(oldResource)+len(newResource))
	for k := range oldResource {
		seen[k] = true
	}
	for k := range newResource {
		seen[k] = true
	}
	for field := range seen {
		before := oldResource[field]
		after := newResource[field]
		if !reflect.DeepEqual(before, after) {
			changed[field] = FieldChange{Before: before, After: after}
		}
	}
	return changed
}

// ModifiedFieldNames returns the sorted field names from
// GetModifiedResourceFields, a convenience for callers that only need the
// set of names to pass as Request.Fields.
func ModifiedFieldNames(changes map[string]FieldChange) []string {
	names := make([]string, 0, len(changes))
	for name := range changes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
