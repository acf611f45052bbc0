// Package accessfilter hooks the socket server's inbound and outbound
// middleware pipeline (internal/pubsub) into a model's declared access
// hooks (schema.Access). It enforces maxPageSize, applies pre/post filters
// around INVOKE and SUBSCRIBE, blocks direct client PUBLISH_IN on CRUD
// channels, and strips publisher-echo metadata on PUBLISH_OUT. Error
// wrapping follows the teacher's fmt.Errorf("...: %w", err) discipline.
package accessfilter

import (
	"context"
	"fmt"

	"github.com/relaycrud/engine/internal/channel"
	"github.com/relaycrud/engine/internal/errs"
	"github.com/relaycrud/engine/internal/pubsub"
	"github.com/relaycrud/engine/internal/schema"
)

// ResourceFetcher loads the subject of a SUBSCRIBE so the post filter has
// something to inspect. Single-document subscriptions resolve via the
// cache; collection/view subscriptions resolve via a page of ids. CRUD Core
// supplies the concrete implementation; this package only depends on the
// signature.
type ResourceFetcher func(ctx context.Context, parsed *channel.Parsed) (any, error)

// Filter applies schema.Access hooks around the four socket actions.
type Filter struct {
	schema  *schema.Schema
	fetch   ResourceFetcher
}

func New(s *schema.Schema, fetch ResourceFetcher) *Filter {
	return &Filter{schema: s, fetch: fetch}
}

// Middleware adapts the filter into a pubsub.Middleware usable with
// pubsub.Exchange.Use.
func (f *Filter) Middleware() pubsub.Middleware {
	return func(ctx context.Context, action pubsub.Action, socket pubsub.Socket, channelName string, data any) (bool, any, error) {
		switch action {
		case pubsub.ActionSubscribe:
			return f.handleSubscribe(ctx, socket, channelName, data)
		case pubsub.ActionPublishIn:
			return f.handlePublishIn(channelName)
		case pubsub.ActionPublishOut:
			return f.handlePublishOut(socket, data)
		default:
			return true, nil, nil
		}
	}
}

// CheckInvoke runs the pre-filter for an INVOKE of the crud procedure,
// additionally enforcing maxPageSize for paginated view reads.
func (f *Filter) CheckInvoke(ctx context.Context, authToken string, q schema.Query) error {
	if q.Action == schema.ActionRead && q.View != "" && q.HasPageSize {
		if q.PageSize > f.schema.MaxPageSizeFor(q.Type) {
			return &errs.CRUDInvalidParams{Message: fmt.Sprintf("pageSize %d exceeds maxPageSize for %s", q.PageSize, q.Type)}
		}
	}
	return f.runPre(ctx, string(q.Action), authToken, q, nil)
}

// handleSubscribe mirrors the pre-filter logic of an INVOKE, then pre-fetches
// the subscription subject and runs the post filter over it. data is the
// client's subscribe-time payload; when it carries a map, non-primary view
// params in it augment the channel-parsed ones (spec.md §9, first Open
// Question).
func (f *Filter) handleSubscribe(ctx context.Context, socket pubsub.Socket, channelName string, data any) (bool, any, error) {
	parsed, err := channel.ParseChannelResourceQuery(channelName)
	if err != nil || parsed == nil {
		// Not a CRUD-shaped channel; nothing for this filter to enforce.
		return true, nil, nil
	}

	var authToken string
	if socket != nil {
		authToken = socket.AuthToken()
	}

	clientSupplied, _ := data.(map[string]any)
	q := f.queryFromParsed(parsed, clientSupplied)
	if err := f.runPre(ctx, "subscribe", authToken, q, nil); err != nil {
		return false, nil, err
	}

	var resource any
	if f.fetch != nil {
		resource, err = f.fetch(ctx, parsed)
		if err != nil {
			return false, nil, err
		}
	}

	result, err := f.runPost(ctx, "subscribe", authToken, q, resource)
	if err != nil {
		return false, nil, err
	}
	return true, result, nil
}

// handlePublishIn always blocks: clients may not publish directly onto
// CRUD-shaped channels.
func (f *Filter) handlePublishIn(channelName string) (bool, any, error) {
	parsed, err := channel.ParseChannelResourceQuery(channelName)
	if err != nil || parsed == nil {
		return true, nil, nil
	}
	return false, nil, &errs.CRUDPublishNotAllowedError{Channel: channelName}
}

// handlePublishOut strips publisher metadata before delivery, and silently
// blocks delivery back to the socket that caused the write unless a
// publisherId marker asks for the echo to be preserved (spec.md §4.7, last
// paragraph). Payloads that don't carry publisher identity at all (the bare
// resource channel, view-channel payloads) pass through unchanged.
func (f *Filter) handlePublishOut(socket pubsub.Socket, data any) (bool, any, error) {
	carrier, ok := data.(pubsub.PublisherCarrier)
	if !ok {
		return true, data, nil
	}

	socketID, publisherID := carrier.Publisher()
	if socket != nil && socketID != "" && socketID == socket.ID() {
		if publisherID == "" {
			return false, nil, nil
		}
		return true, data, nil
	}
	return true, carrier.WithoutPublisher(), nil
}

func (f *Filter) runPre(ctx context.Context, action, authToken string, q schema.Query, resource map[string]any) error {
	model, ok := f.schema.Models[q.Type]
	if !ok {
		return nil
	}
	req := schema.AccessRequest{Action: action, AuthToken: authToken, Query: q, Resource: resource}

	if model.Access.Pre == nil {
		if f.schema.BlockPreByDefault {
			return &errs.CRUDBlockedError{Kind: errs.BlockPre}
		}
		return nil
	}

	allow, err := model.Access.Pre(req)
	if err != nil {
		return &errs.CRUDBlockedError{Kind: errs.BlockPre, Reason: err}
	}
	if !allow {
		return &errs.CRUDBlockedError{Kind: errs.BlockPre}
	}
	return nil
}

// ApplyPostAccessFilter runs the model's post-access hook over an
// already-fetched resource, for CRUD Core's read path (the subscribe path
// uses the private runPost wired through fetchResource). A model with no
// post hook returns resource unchanged.
func (f *Filter) ApplyPostAccessFilter(ctx context.Context, action, authToken string, q schema.Query, resource any) (any, error) {
	return f.runPost(ctx, action, authToken, q, resource)
}

func (f *Filter) runPost(ctx context.Context, action, authToken string, q schema.Query, resource any) (any, error) {
	model, ok := f.schema.Models[q.Type]
	if !ok || model.Access.Post == nil {
		return resource, nil
	}

	var resourceMap map[string]any
	if m, ok := resource.(map[string]any); ok {
		resourceMap = m
	}
	req := schema.AccessRequest{Action: action, AuthToken: authToken, Query: q, Resource: resourceMap}

	result, err := model.Access.Post(req)
	if err != nil {
		return nil, &errs.CRUDBlockedError{Kind: errs.BlockPost, Reason: err}
	}
	return result, nil
}

// queryFromParsed builds the schema.Query a subscribe's access hooks see.
// For a view channel, clientSupplied augments the channel-parsed params with
// whatever non-primary fields the client sent alongside the subscribe
// itself, per viewPrimaryFields's declared-primary lookup.
func (f *Filter) queryFromParsed(p *channel.Parsed, clientSupplied map[string]any) schema.Query {
	q := schema.Query{Type: p.Type, Action: schema.ActionSubscribe}
	switch p.Kind {
	case channel.KindResource:
		q.ID = p.ID
	case channel.KindField:
		q.ID = p.ID
		q.Field = p.Field
	case channel.KindView:
		q.View = p.View
		q.ViewParams = AugmentViewParams(f.viewPrimaryFields(p.Type, p.View), p.ViewParams, clientSupplied)
	}
	return q
}

// viewPrimaryFields returns the declared routing fields of modelType's
// viewName, falling back to its full ParamFields when PrimaryFields wasn't
// set, mirroring how schema.New treats an unset PrimaryFields as "route on
// everything".
func (f *Filter) viewPrimaryFields(modelType, viewName string) []string {
	model, ok := f.schema.Models[modelType]
	if !ok {
		return nil
	}
	view, ok := model.Views[viewName]
	if !ok {
		return nil
	}
	if len(view.PrimaryFields) > 0 {
		return view.PrimaryFields
	}
	return view.ParamFields
}

// AugmentViewParams merges the client's non-primary fields into the
// channel-parsed view params; primary fields always come from parsed. The
// access filter's subscribe path (queryFromParsed) is its caller.
func AugmentViewParams(primaryFields []string, parsed map[string]any, clientSupplied map[string]any) map[string]any {
	primary := make(map[string]bool, len(primaryFields))
	for _, f := range primaryFields {
		primary[f] = true
	}
	out := make(map[string]any, len(parsed)+len(clientSupplied))
	for k, v := range parsed {
		out[k] = v
	}
	for k, v := range clientSupplied {
		if primary[k] {
			continue
		}
		out[k] = v
	}
	return out
}
