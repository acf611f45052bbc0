package crudcore

import (
	"context"
	"fmt"

	"github.com/relaycrud/engine/internal/channel"
	"github.com/relaycrud/engine/internal/errs"
	"github.com/relaycrud/engine/internal/schema"
	"github.com/relaycrud/engine/internal/viewaffect"
)

// NotifyResourceUpdate injects a write made outside this engine (e.g. a
// batch job writing straight to the database) into the publication
// pipeline: it clears the cache entry so the next read sees the external
// write, then republishes the resource channel and a field-channel
// notification for each of fields, using the now-current value.
func (c *Core) NotifyResourceUpdate(ctx context.Context, typ, id string, fields []string) error {
	c.cache.Clear(typ, id)
	resource, err := c.db.Get(ctx, typ, id)
	if err != nil {
		return mapDatabaseError(err)
	}

	q := schema.Query{Action: schema.ActionUpdate, Type: typ, ID: id}
	c.publish(channel.ResourceName(typ, id), nil, q)
	for _, field := range fields {
		if field == "id" {
			continue
		}
		c.publishFieldChange(writeUpdate, typ, id, field, resource, q)
	}
	return nil
}

// NotifyViewUpdate fires a single view-channel publication directly, for a
// caller that already knows the affected (view, params) pair rather than
// wanting the View-Affect Engine to recompute it. params may include an
// "id" key naming the resource the notification is about; absent that, the
// published value carries an empty id. operation defaults to "update".
func (c *Core) NotifyViewUpdate(typ, viewName string, params map[string]any, operation string) error {
	if operation == "" {
		operation = string(writeUpdate)
	}
	model, ok := c.schema.Models[typ]
	if !ok {
		return &errs.CRUDInvalidModelType{Type: typ}
	}
	view, ok := model.Views[viewName]
	if !ok {
		return &errs.CRUDInvalidParams{Message: fmt.Sprintf("undeclared view %q on model %q", viewName, typ)}
	}
	if view.DisableRealtime {
		return nil
	}

	id, _ := params["id"].(string)
	budget := c.schema.MaxMultiPublish
	q := schema.Query{Action: schema.ActionUpdate, Type: typ}
	c.publishMultiExpansion(view, viewName, typ, params, id, operation, &budget, q)
	return nil
}

// NotifyUpdate replays the full publication dispatcher against an
// externally-computed (oldResource, newResource) pair: it derives the
// modified-field set itself, then dispatches exactly as Update would after
// its own database write.
func (c *Core) NotifyUpdate(ctx context.Context, typ string, oldResource, newResource map[string]any) error {
	id := resourceID(newResource)
	if id == "" {
		id = resourceID(oldResource)
	}
	q := schema.Query{Action: schema.ActionUpdate, Type: typ, ID: id}

	changed := viewaffect.ModifiedFieldNames(viewaffect.GetModifiedResourceFields(oldResource, newResource))
	c.dispatchWrite(writeUpdate, typ, id, oldResource, newResource, changed, q)
	return nil
}
