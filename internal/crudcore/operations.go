package crudcore

import (
	"context"
	"fmt"

	"github.com/relaycrud/engine/internal/channel"
	"github.com/relaycrud/engine/internal/errs"
	"github.com/relaycrud/engine/internal/pubsub"
	"github.com/relaycrud/engine/internal/querytransform"
	"github.com/relaycrud/engine/internal/schema"
	"github.com/relaycrud/engine/internal/viewaffect"
)

// Create validates and inserts value, then dispatches the resource and view
// publications spec.md §4.6 names. Create takes no socket and runs no
// post-access filter.
func (c *Core) Create(ctx context.Context, q schema.Query) (map[string]any, error) {
	if err := schema.ValidateQuery(q, c.schema); err != nil {
		return nil, c.fail("create", q, err)
	}
	value, ok := q.Value.(map[string]any)
	if !ok {
		return nil, c.fail("create", q, &errs.InvalidArgumentsError{Message: "create requires an object value"})
	}

	validator, err := c.modelValidator(q.Type)
	if err != nil {
		return nil, c.fail("create", q, err)
	}
	sanitized, err := validator(value, false, false)
	if err != nil {
		return nil, c.fail("create", q, err)
	}

	result, err := c.db.Insert(ctx, q.Type, sanitized, true)
	if err != nil {
		return nil, c.fail("create", q, mapDatabaseError(err))
	}
	inserted := sanitized
	if len(result.Changes) > 0 {
		inserted = result.Changes[0]
	}
	id, _ := inserted["id"].(string)

	c.dispatchWrite(writeCreate, q.Type, id, nil, inserted, nil, q)
	c.events.emitCreate(CreateEvent{Type: q.Type, Resource: inserted})
	return inserted, nil
}

// Read dispatches on the three read sub-modes spec.md §4.6 names: by id
// (optionally projected to a single field), or a collection page via a
// view. socket nil means a server-origin call, which bypasses the
// post-access filter.
func (c *Core) Read(ctx context.Context, q schema.Query, socket pubsub.Socket) (any, error) {
	if err := schema.ValidateQuery(q, c.schema); err != nil {
		return nil, c.fail("read", q, err)
	}

	if q.View != "" {
		return c.readByView(ctx, q, socket)
	}
	return c.readByID(ctx, q, socket)
}

func (c *Core) readByID(ctx context.Context, q schema.Query, socket pubsub.Socket) (any, error) {
	c.ensureResourceSubscription(ctx, q.Type, q.ID)

	resource, err := c.cache.Pass(ctx, q.Type, q.ID, func(ctx context.Context) (map[string]any, error) {
		doc, err := c.db.Get(ctx, q.Type, q.ID)
		if err != nil {
			return nil, mapDatabaseError(err)
		}
		return doc, nil
	})
	if err != nil {
		return nil, c.fail("read", q, err)
	}
	if resource == nil {
		return nil, nil
	}

	var result any = resource
	if socket != nil {
		result, err = c.access.ApplyPostAccessFilter(ctx, string(schema.ActionRead), q.AuthToken, q, resource)
		if err != nil {
			return nil, c.fail("read", q, err)
		}
	}

	if q.Field == "" {
		return result, nil
	}
	resultMap, ok := result.(map[string]any)
	if !ok {
		return nil, nil
	}
	value := resultMap[q.Field]
	if s, ok := value.(string); ok && q.HasSliceTo {
		if q.SliceTo < len(s) {
			value = s[:q.SliceTo]
		}
	}
	return value, nil
}

// CollectionResult is the shape a collection (view, no id) read returns.
type CollectionResult struct {
	Data       []map[string]any
	Count      int
	HasCount   bool
	IsLastPage bool
}

func (c *Core) readByView(ctx context.Context, q schema.Query, socket pubsub.Socket) (any, error) {
	model := c.schema.Models[q.Type]
	view, ok := model.Views[q.View]
	if !ok {
		return nil, c.fail("read", q, &errs.CRUDInvalidParams{Message: fmt.Sprintf("undeclared view %q", q.View)})
	}

	pageSize := q.PageSize
	if !q.HasPageSize || pageSize <= 0 {
		pageSize = c.schema.MaxPageSizeFor(q.Type)
	}

	rows, err := c.readCollection(ctx, q.Type, view, q.ViewParams, q.Offset, pageSize, q.GetCount, 0)
	if err != nil {
		return nil, c.fail("read", q, err)
	}

	var result any = rows
	if socket != nil {
		result, err = c.access.ApplyPostAccessFilter(ctx, string(schema.ActionRead), q.AuthToken, q, rows)
		if err != nil {
			return nil, c.fail("read", q, err)
		}
	}
	return result, nil
}

// readCollection builds the transformed query for view/viewParams, fetches
// pageSize+1 id-only records starting at offset (so IsLastPage can be
// determined without a second query), and optionally fetches a total count.
// The trailing int is unused; it keeps this signature aligned with the
// access filter's resource-fetcher call site, which always wants a plain
// page with no count.
func (c *Core) readCollection(ctx context.Context, typ string, view schema.ViewDef, viewParams map[string]any, offset, pageSize int, getCount bool, _ int) (*CollectionResult, error) {
	base := c.db.BaseQuery(typ)
	query := querytransform.Transform(c.db.Handle(), base, view, viewParams)

	rows, err := c.db.QueryIDs(ctx, query, offset, pageSize+1, []string{"id"})
	if err != nil {
		return nil, mapDatabaseError(err)
	}

	isLastPage := len(rows) <= pageSize
	if !isLastPage {
		rows = rows[:pageSize]
	}

	result := &CollectionResult{Data: rows, IsLastPage: isLastPage}
	if getCount {
		count, err := c.db.Count(ctx, query)
		if err != nil {
			return nil, mapDatabaseError(err)
		}
		result.Count = count
		result.HasCount = true
	}
	return result, nil
}

// Update loads the current resource, validates the incoming partial value,
// writes it, reconciles the cache, and dispatches the resulting
// publications per spec.md §4.5/§4.6.
func (c *Core) Update(ctx context.Context, q schema.Query, socket pubsub.Socket) (map[string]any, error) {
	if err := schema.ValidateQuery(q, c.schema); err != nil {
		return nil, c.fail("update", q, err)
	}
	if q.ID == "" {
		return nil, c.fail("update", q, &errs.CRUDInvalidParams{Message: "update requires an id"})
	}
	if q.Field == "id" {
		return nil, c.fail("update", q, &errs.CRUDInvalidParams{Message: "field \"id\" cannot be updated"})
	}

	patch, err := updatePatch(q)
	if err != nil {
		return nil, c.fail("update", q, err)
	}

	old, err := c.db.Get(ctx, q.Type, q.ID)
	if err != nil {
		return nil, c.fail("update", q, mapDatabaseError(err))
	}
	if old == nil {
		return nil, c.fail("update", q, &errs.DocumentNotFoundError{Type: q.Type, ID: q.ID})
	}

	if socket != nil {
		if _, err := c.access.ApplyPostAccessFilter(ctx, string(schema.ActionUpdate), q.AuthToken, q, old); err != nil {
			return nil, c.fail("update", q, err)
		}
	}

	validator, err := c.modelValidator(q.Type)
	if err != nil {
		return nil, c.fail("update", q, err)
	}
	sanitizedPatch, err := validator(patch, true, false)
	if err != nil {
		return nil, c.fail("update", q, err)
	}

	result, err := c.db.Update(ctx, q.Type, q.ID, sanitizedPatch, true)
	if err != nil {
		return nil, c.fail("update", q, mapDatabaseError(err))
	}
	newResource := mergeInto(old, sanitizedPatch)
	if len(result.Changes) > 0 {
		newResource = result.Changes[0]
	}

	c.cache.Update(q.Type, q.ID, sanitizedPatch)

	changed := viewaffect.ModifiedFieldNames(viewaffect.GetModifiedResourceFields(old, newResource))
	c.dispatchWrite(writeUpdate, q.Type, q.ID, old, newResource, changed, q)
	c.events.emitUpdate(UpdateEvent{Type: q.Type, ID: q.ID, Old: old, New: newResource})
	return newResource, nil
}

// updatePatch normalizes the query's single-field or whole-value update
// shape into a flat field->value map.
func updatePatch(q schema.Query) (map[string]any, error) {
	if q.Field != "" {
		return map[string]any{q.Field: q.Value}, nil
	}
	value, ok := q.Value.(map[string]any)
	if !ok {
		return nil, &errs.InvalidArgumentsError{Message: "update requires an object value or a field+value pair"}
	}
	return value, nil
}

func mergeInto(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Delete removes either the whole document or a single field from it,
// per spec.md §4.6's two delete modes.
func (c *Core) Delete(ctx context.Context, q schema.Query, socket pubsub.Socket) (any, error) {
	if err := schema.ValidateQuery(q, c.schema); err != nil {
		return nil, c.fail("delete", q, err)
	}
	if q.ID == "" {
		return nil, c.fail("delete", q, &errs.CRUDInvalidParams{Message: "delete requires an id"})
	}

	old, err := c.db.Get(ctx, q.Type, q.ID)
	if err != nil {
		return nil, c.fail("delete", q, mapDatabaseError(err))
	}
	if old == nil {
		return nil, c.fail("delete", q, &errs.DocumentNotFoundError{Type: q.Type, ID: q.ID})
	}

	if socket != nil {
		if _, err := c.access.ApplyPostAccessFilter(ctx, string(schema.ActionDelete), q.AuthToken, q, old); err != nil {
			return nil, c.fail("delete", q, err)
		}
	}

	if q.Field != "" {
		return c.deleteField(ctx, q, old)
	}
	return c.deleteWhole(ctx, q, old)
}

func (c *Core) deleteWhole(ctx context.Context, q schema.Query, old map[string]any) (any, error) {
	if _, err := c.db.Delete(ctx, q.Type, q.ID, true); err != nil {
		return nil, c.fail("delete", q, mapDatabaseError(err))
	}
	c.cache.Clear(q.Type, q.ID)

	model := c.schema.Models[q.Type]
	declaredFields := make([]string, 0, len(model.Fields))
	for field := range model.Fields {
		declaredFields = append(declaredFields, field)
	}

	c.dispatchWrite(writeDelete, q.Type, q.ID, old, nil, declaredFields, q)
	c.events.emitDelete(DeleteEvent{Type: q.Type, ID: q.ID, Old: old})
	return map[string]any{"id": q.ID}, nil
}

func (c *Core) deleteField(ctx context.Context, q schema.Query, old map[string]any) (any, error) {
	validator, err := c.modelValidator(q.Type)
	if err != nil {
		return nil, c.fail("delete", q, err)
	}
	if _, err := validator(map[string]any{q.Field: nil}, true, false); err != nil {
		return nil, c.fail("delete", q, err)
	}

	withoutField := make(map[string]any, len(old))
	for k, v := range old {
		if k == q.Field {
			continue
		}
		withoutField[k] = v
	}

	result, err := c.db.Replace(ctx, q.Type, q.ID, withoutField, true)
	if err != nil {
		return nil, c.fail("delete", q, mapDatabaseError(err))
	}
	newResource := withoutField
	if len(result.Changes) > 0 {
		newResource = result.Changes[0]
	}
	c.cache.Update(q.Type, q.ID, map[string]any{q.Field: nil})

	c.publish(channel.ResourceName(q.Type, q.ID), nil, q)
	c.publishFieldChange(writeDelete, q.Type, q.ID, q.Field, nil, q)
	c.dispatchViews(writeUpdate, q.Type, old, newResource, []string{q.Field}, q)

	c.events.emitUpdate(UpdateEvent{Type: q.Type, ID: q.ID, Old: old, New: newResource})
	return map[string]any{"id": q.ID}, nil
}

func (c *Core) fail(operation string, q schema.Query, err error) error {
	mapped := c.errorMapper(err, q.Action, q)
	c.events.emitFailure(operation, q, mapped)
	return mapped
}
