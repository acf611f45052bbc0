package crudcore

import (
	"context"
	"strings"

	"github.com/relaycrud/engine/internal/channel"
	"github.com/relaycrud/engine/internal/schema"
	"github.com/relaycrud/engine/internal/viewaffect"
)

// fieldPayload is the shape a resource-field publication carries, bit-exact
// per spec.md §4.5 item 2. PublisherSocketID/PublisherID implement
// pubsub.PublisherCarrier so PUBLISH_OUT echo suppression can strip or
// preserve them per destination socket without this package needing to
// know about that pipeline.
type fieldPayload struct {
	Type              string `json:"type"`
	Value             any    `json:"value,omitempty"`
	PublisherSocketID string `json:"publisherSocketId,omitempty"`
	PublisherID       string `json:"publisherId,omitempty"`
}

func (p fieldPayload) Publisher() (string, string) { return p.PublisherSocketID, p.PublisherID }

func (p fieldPayload) WithoutPublisher() any {
	p.PublisherSocketID = ""
	p.PublisherID = ""
	return p
}

// viewPayload is the shape a view-channel publication carries.
type viewPayload struct {
	Type  string         `json:"type"`
	Value map[string]any `json:"value"`
}

// writeKind names the CRUD operation that produced a dispatch, used to pick
// the view/field payload "type" tag.
type writeKind string

const (
	writeCreate writeKind = "create"
	writeUpdate writeKind = "update"
	writeDelete writeKind = "delete"
)

// dispatchWrite is the publication dispatcher (spec.md §4.5): it always
// fires the bare resource channel first, then resource-field channels for
// every modified field, then view channel(s) computed by the view-affect
// engine, honoring disableRealtime and the maxMultiPublish cap. The ordering
// between these three groups is an observable invariant and must not
// change.
func (c *Core) dispatchWrite(kind writeKind, typ, id string, oldResource, newResource map[string]any, changedFields []string, q schema.Query) {
	c.publish(channel.ResourceName(typ, id), nil, q)

	for _, field := range changedFields {
		if field == "id" {
			continue
		}
		c.publishFieldChange(kind, typ, id, field, newResource, q)
	}

	c.dispatchViews(kind, typ, oldResource, newResource, changedFields, q)
}

func (c *Core) publishFieldChange(kind writeKind, typ, id, field string, newResource map[string]any, q schema.Query) {
	payload := fieldPayload{
		Type:              string(kind),
		PublisherSocketID: q.PublisherSocketID,
		PublisherID:       q.PublisherID,
	}
	if kind != writeDelete {
		payload.Value = newResource[field]
	}
	c.publish(channel.FieldName(typ, id, field), payload, q)
}

// dispatchViews computes affected views via the view-affect engine and
// fires the create/update/delete view-channel publications, including
// before/after channel transitions when a view's params changed, and the
// multi-param expansion, per spec.md §4.5 items 3-5.
func (c *Core) dispatchViews(kind writeKind, typ string, oldResource, newResource map[string]any, changedFields []string, q schema.Query) {
	resourceForAffect := newResource
	if resourceForAffect == nil {
		resourceForAffect = oldResource
	}

	budget := c.schema.MaxMultiPublish

	switch kind {
	case writeCreate:
		views := viewaffect.GetAffectedViews(c.schema, viewaffect.Request{Type: typ, Resource: resourceForAffect, Fields: changedFields})
		for _, v := range views {
			if c.isRealtimeDisabled(typ, v.View) {
				continue
			}
			c.publishViewVariants(v, string(writeCreate), resourceID(resourceForAffect), &budget, q)
		}
	case writeDelete:
		views := viewaffect.GetAffectedViews(c.schema, viewaffect.Request{Type: typ, Resource: oldResource, Fields: changedFields})
		for _, v := range views {
			if c.isRealtimeDisabled(typ, v.View) {
				continue
			}
			c.publishViewVariants(v, string(writeDelete), resourceID(oldResource), &budget, q)
		}
	case writeUpdate:
		newViews := viewaffect.GetAffectedViews(c.schema, viewaffect.Request{Type: typ, Resource: newResource, Fields: changedFields})
		oldViews := viewaffect.GetAffectedViews(c.schema, viewaffect.Request{Type: typ, Resource: oldResource, Fields: changedFields})
		id := resourceID(newResource)

		for _, v := range newViews {
			if c.isRealtimeDisabled(typ, v.View) {
				continue
			}
			model := c.schema.Models[v.Type]
			view := model.Views[v.View]
			oldView := findView(oldViews, v.View, v.Type)

			if oldView == nil {
				c.publishViewVariants(v, string(writeCreate), id, &budget, q)
				continue
			}
			if paramsEqual(oldView.Params, v.Params) {
				c.publishMultiExpansion(view, v.View, v.Type, v.Params, id, "update", &budget, q)
				continue
			}
			c.publishViewTransition(view, v.View, v.Type, oldView.Params, v.Params, id, &budget, q)
		}

		// Views the old resource matched but the new one no longer does
		// (e.g. it left every multi-valued variant, or a relation target
		// changed) need an explicit delete on their old channel.
		for _, ov := range oldViews {
			if c.isRealtimeDisabled(typ, ov.View) {
				continue
			}
			if findView(newViews, ov.View, ov.Type) != nil {
				continue
			}
			model := c.schema.Models[ov.Type]
			view := model.Views[ov.View]
			c.publishMultiExpansion(view, ov.View, ov.Type, ov.Params, resourceID(oldResource), "delete", &budget, q)
		}
	}
}

func resourceID(resource map[string]any) string {
	if resource == nil {
		return ""
	}
	id, _ := resource["id"].(string)
	return id
}

func findView(views []viewaffect.ViewData, name, targetType string) *viewaffect.ViewData {
	for i := range views {
		if views[i].View == name && views[i].Type == targetType {
			return &views[i]
		}
	}
	return nil
}

func paramsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// publishViewVariants publishes a create/delete notification on every
// multi-param variant channel of v's current params.
func (c *Core) publishViewVariants(v viewaffect.ViewData, kind string, id string, budget *int, q schema.Query) {
	model, ok := c.schema.Models[v.Type]
	if !ok {
		return
	}
	view := model.Views[v.View]
	c.publishMultiExpansion(view, v.View, v.Type, v.Params, id, kind, budget, q)
}

// publishViewTransition implements spec.md §4.5 item 3's "params changed"
// rule together with item 4's multi-param suppression: channels present
// only under the old params get a delete, channels present only under the
// new params get a create, and channels present under both (a multi-valued
// field that retained some but not all of its values) are suppressed
// entirely, since the resource's membership in that exact channel never
// changed.
func (c *Core) publishViewTransition(view schema.ViewDef, viewName, targetType string, oldParams, newParams map[string]any, id string, budget *int, q schema.Query) {
	oldSet := channelSetOf(viewName, targetType, view.PrimaryFields, expandMultiVariants(view, oldParams), c.schema.TypedViewChannelParams)
	newSet := channelSetOf(viewName, targetType, view.PrimaryFields, expandMultiVariants(view, newParams), c.schema.TypedViewChannelParams)

	for ch := range oldSet {
		if _, stillPresent := newSet[ch]; stillPresent {
			continue
		}
		if *budget <= 0 {
			return
		}
		c.publish(ch, viewPayload{Type: "delete", Value: map[string]any{"id": id}}, q)
		*budget--
	}
	for ch := range newSet {
		if _, existedBefore := oldSet[ch]; existedBefore {
			continue
		}
		if *budget <= 0 {
			return
		}
		c.publish(ch, viewPayload{Type: "create", Value: map[string]any{"id": id}}, q)
		*budget--
	}
}

// publishMultiExpansion implements spec.md §4.5 item 4 for the
// non-transition case (create, delete, or an in-place update whose params
// didn't change): publish kind on every multi-param variant channel of
// params, capped by budget.
func (c *Core) publishMultiExpansion(view schema.ViewDef, viewName, targetType string, params map[string]any, id string, kind string, budget *int, q schema.Query) {
	for _, variant := range expandMultiVariants(view, params) {
		if *budget <= 0 {
			return
		}
		ch, err := channel.ViewName(viewName, channel.PrimaryParams(variant, view.PrimaryFields, c.schema.TypedViewChannelParams), targetType)
		if err != nil {
			c.log.Warn("failed to build view channel name", "view", viewName, "error", err)
			continue
		}
		c.publish(ch, viewPayload{Type: kind, Value: map[string]any{"id": id}}, q)
		*budget--
	}
}

func channelSetOf(viewName, targetType string, primaryFields []string, variants []map[string]any, typed bool) map[string]bool {
	out := make(map[string]bool, len(variants))
	for _, params := range variants {
		ch, err := channel.ViewName(viewName, channel.PrimaryParams(params, primaryFields, typed), targetType)
		if err != nil {
			continue
		}
		out[ch] = true
	}
	return out
}

// expandMultiVariants expands params into one variant per value of a
// declared multi-valued routing field (view.MultiFields, populated by
// schema.New from that field's `Multi()` constraint), plus the sentinel
// "false" variant when such a field's value is explicitly null, per
// spec.md §4.5 item 4. Multi-ness is read off the schema, never inferred
// from a value's shape: an ordinary field whose value happens to contain a
// comma, or that is simply null, is left untouched. A view with no declared
// multi field yields a single variant: params unchanged.
func expandMultiVariants(view schema.ViewDef, params map[string]any) []map[string]any {
	if params == nil {
		return nil
	}

	multiField := ""
	var values []string
	for _, field := range view.MultiFields {
		v, present := params[field]
		if !present {
			continue
		}
		switch val := v.(type) {
		case string:
			multiField = field
			values = strings.Split(val, ",")
		case nil:
			multiField = field
			values = []string{"false"}
		default:
			continue
		}
		break
	}
	if multiField == "" {
		return []map[string]any{params}
	}

	variants := make([]map[string]any, 0, len(values))
	for _, v := range values {
		variant := make(map[string]any, len(params))
		for k, val := range params {
			variant[k] = val
		}
		variant[multiField] = v
		variants = append(variants, variant)
	}
	return variants
}

func (c *Core) isRealtimeDisabled(typ, viewName string) bool {
	model, ok := c.schema.Models[typ]
	if !ok {
		return false
	}
	view, ok := model.Views[viewName]
	return ok && view.DisableRealtime
}

// publish hands a payload to the socket exchange, a no-op if none is wired
// (e.g. a Core exercised only for its validation/dispatch-computation logic
// in tests).
func (c *Core) publish(ch string, payload any, q schema.Query) {
	if c.exchange == nil {
		return
	}
	if err := c.exchange.Publish(context.Background(), ch, payload); err != nil {
		c.log.Warn("publish failed", "channel", ch, "error", err)
	}
}
