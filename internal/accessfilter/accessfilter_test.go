package accessfilter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrud/engine/internal/channel"
	"github.com/relaycrud/engine/internal/errs"
	"github.com/relaycrud/engine/internal/pubsub"
	"github.com/relaycrud/engine/internal/schema"
)

type fakeSocket struct {
	id        string
	authToken string
}

func (s fakeSocket) ID() string        { return s.id }
func (s fakeSocket) AuthToken() string { return s.authToken }

type fieldPayload struct {
	Value             any
	PublisherSocketID string
	PublisherID       string
}

func (p fieldPayload) Publisher() (string, string) { return p.PublisherSocketID, p.PublisherID }
func (p fieldPayload) WithoutPublisher() any {
	p.PublisherSocketID = ""
	p.PublisherID = ""
	return p
}

func schemaWithAccess(access schema.Access) *schema.Schema {
	s, _ := schema.New([]schema.Model{{Name: "Item", Access: access}})
	return s
}

func TestCheckInvoke_PageSizeOverMaxIsBlocked(t *testing.T) {
	s, _ := schema.New([]schema.Model{{Name: "Item", MaxPageSize: 10}})
	f := New(s, nil)

	err := f.CheckInvoke(context.Background(), "tok", schema.Query{
		Action: schema.ActionRead, Type: "Item", View: "byOwner", PageSize: 20, HasPageSize: true,
	})

	var target *errs.CRUDInvalidParams
	assert.ErrorAs(t, err, &target)
}

func TestCheckInvoke_NoPreHookAllowsByDefault(t *testing.T) {
	s, _ := schema.New([]schema.Model{{Name: "Item"}})
	f := New(s, nil)

	err := f.CheckInvoke(context.Background(), "tok", schema.Query{Action: schema.ActionRead, Type: "Item"})

	assert.NoError(t, err)
}

func TestCheckInvoke_BlockPreByDefaultBlocksWithNoHook(t *testing.T) {
	s, _ := schema.New([]schema.Model{{Name: "Item"}}, schema.WithBlockPreByDefault())
	f := New(s, nil)

	err := f.CheckInvoke(context.Background(), "tok", schema.Query{Action: schema.ActionRead, Type: "Item"})

	var target *errs.CRUDBlockedError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, errs.BlockPre, target.Kind)
}

func TestCheckInvoke_PreHookFalseIsLiftedToBlockedError(t *testing.T) {
	s := schemaWithAccess(schema.Access{Pre: func(schema.AccessRequest) (bool, error) { return false, nil }})
	f := New(s, nil)

	err := f.CheckInvoke(context.Background(), "tok", schema.Query{Action: schema.ActionRead, Type: "Item"})

	var target *errs.CRUDBlockedError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, errs.BlockPre, target.Kind)
	assert.Nil(t, target.Reason)
}

func TestCheckInvoke_PreHookErrorIsWrapped(t *testing.T) {
	inner := errors.New("not allowed")
	s := schemaWithAccess(schema.Access{Pre: func(schema.AccessRequest) (bool, error) { return false, inner }})
	f := New(s, nil)

	err := f.CheckInvoke(context.Background(), "tok", schema.Query{Action: schema.ActionRead, Type: "Item"})

	var target *errs.CRUDBlockedError
	require.ErrorAs(t, err, &target)
	assert.ErrorIs(t, target.Reason, inner)
}

func TestCheckInvoke_PreHookTrueAllows(t *testing.T) {
	s := schemaWithAccess(schema.Access{Pre: func(schema.AccessRequest) (bool, error) { return true, nil }})
	f := New(s, nil)

	err := f.CheckInvoke(context.Background(), "tok", schema.Query{Action: schema.ActionRead, Type: "Item"})

	assert.NoError(t, err)
}

func TestApplyPostAccessFilter_NoHookReturnsResourceUnchanged(t *testing.T) {
	s, _ := schema.New([]schema.Model{{Name: "Item"}})
	f := New(s, nil)

	resource := map[string]any{"id": "1"}
	result, err := f.ApplyPostAccessFilter(context.Background(), "read", "tok", schema.Query{Type: "Item"}, resource)

	require.NoError(t, err)
	assert.Equal(t, resource, result)
}

func TestApplyPostAccessFilter_HookCanRedact(t *testing.T) {
	s := schemaWithAccess(schema.Access{Post: func(req schema.AccessRequest) (any, error) {
		redacted := map[string]any{"id": req.Resource["id"]}
		return redacted, nil
	}})
	f := New(s, nil)

	result, err := f.ApplyPostAccessFilter(context.Background(), "read", "tok", schema.Query{Type: "Item"}, map[string]any{"id": "1", "secret": "x"})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "1"}, result)
}

func TestApplyPostAccessFilter_HookErrorBlocks(t *testing.T) {
	inner := errors.New("denied")
	s := schemaWithAccess(schema.Access{Post: func(schema.AccessRequest) (any, error) { return nil, inner }})
	f := New(s, nil)

	_, err := f.ApplyPostAccessFilter(context.Background(), "read", "tok", schema.Query{Type: "Item"}, map[string]any{})

	var target *errs.CRUDBlockedError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, errs.BlockPost, target.Kind)
}

func TestMiddleware_PublishIn_BlocksCRUDChannel(t *testing.T) {
	s, _ := schema.New([]schema.Model{{Name: "Item"}})
	f := New(s, nil)

	allow, _, err := f.Middleware()(context.Background(), pubsub.ActionPublishIn, nil, "crud>Item/1", nil)

	assert.False(t, allow)
	var target *errs.CRUDPublishNotAllowedError
	assert.ErrorAs(t, err, &target)
}

func TestMiddleware_PublishIn_IgnoresNonCRUDChannel(t *testing.T) {
	s, _ := schema.New([]schema.Model{{Name: "Item"}})
	f := New(s, nil)

	allow, _, err := f.Middleware()(context.Background(), pubsub.ActionPublishIn, nil, "other/channel", nil)

	assert.True(t, allow)
	assert.NoError(t, err)
}

func TestMiddleware_PublishOut_StripsPublisherForOtherSockets(t *testing.T) {
	s, _ := schema.New([]schema.Model{{Name: "Item"}})
	f := New(s, nil)
	payload := fieldPayload{Value: "v", PublisherSocketID: "writer-socket", PublisherID: "req-1"}

	allow, data, err := f.Middleware()(context.Background(), pubsub.ActionPublishOut, fakeSocket{id: "other-socket"}, "crud>Item/1/name", payload)

	require.NoError(t, err)
	assert.True(t, allow)
	stripped := data.(fieldPayload)
	assert.Empty(t, stripped.PublisherSocketID)
	assert.Empty(t, stripped.PublisherID)
}

func TestMiddleware_PublishOut_BlocksEchoToOriginatingSocketWithoutPublisherID(t *testing.T) {
	s, _ := schema.New([]schema.Model{{Name: "Item"}})
	f := New(s, nil)
	payload := fieldPayload{Value: "v", PublisherSocketID: "writer-socket"}

	allow, data, err := f.Middleware()(context.Background(), pubsub.ActionPublishOut, fakeSocket{id: "writer-socket"}, "crud>Item/1/name", payload)

	require.NoError(t, err)
	assert.False(t, allow)
	assert.Nil(t, data)
}

func TestMiddleware_PublishOut_AllowsEchoWhenPublisherIDSet(t *testing.T) {
	s, _ := schema.New([]schema.Model{{Name: "Item"}})
	f := New(s, nil)
	payload := fieldPayload{Value: "v", PublisherSocketID: "writer-socket", PublisherID: "req-1"}

	allow, data, err := f.Middleware()(context.Background(), pubsub.ActionPublishOut, fakeSocket{id: "writer-socket"}, "crud>Item/1/name", payload)

	require.NoError(t, err)
	assert.True(t, allow)
	assert.Equal(t, payload, data)
}

func TestMiddleware_PublishOut_NonCarrierPayloadPassesThroughUnchanged(t *testing.T) {
	s, _ := schema.New([]schema.Model{{Name: "Item"}})
	f := New(s, nil)

	allow, data, err := f.Middleware()(context.Background(), pubsub.ActionPublishOut, fakeSocket{id: "any"}, "crud>Item/1", nil)

	require.NoError(t, err)
	assert.True(t, allow)
	assert.Nil(t, data)
}

func TestAugmentViewParams_DropsPrimaryFieldOverride(t *testing.T) {
	out := AugmentViewParams([]string{"owner"}, map[string]any{"owner": "u1"}, map[string]any{"owner": "u2", "status": "open"})

	assert.Equal(t, "u1", out["owner"])
	assert.Equal(t, "open", out["status"])
}

func TestHandleSubscribe_RunsPreAndPostHooks(t *testing.T) {
	var preCalled, postCalled bool
	s := schemaWithAccess(schema.Access{
		Pre: func(schema.AccessRequest) (bool, error) {
			preCalled = true
			return true, nil
		},
		Post: func(req schema.AccessRequest) (any, error) {
			postCalled = true
			return req.Resource, nil
		},
	})
	filter := New(s, func(ctx context.Context, parsed *channel.Parsed) (any, error) {
		return map[string]any{"id": "1"}, nil
	})

	allow, _, err := filter.Middleware()(context.Background(), pubsub.ActionSubscribe, fakeSocket{id: "s1"}, "crud>Item/1", nil)

	require.NoError(t, err)
	assert.True(t, allow)
	assert.True(t, preCalled)
	assert.True(t, postCalled)
}

func TestHandleSubscribe_PreHookBlockSkipsFetchAndPost(t *testing.T) {
	var fetchCalled bool
	s := schemaWithAccess(schema.Access{Pre: func(schema.AccessRequest) (bool, error) { return false, nil }})
	filter := New(s, func(ctx context.Context, parsed *channel.Parsed) (any, error) {
		fetchCalled = true
		return nil, nil
	})

	allow, _, err := filter.Middleware()(context.Background(), pubsub.ActionSubscribe, fakeSocket{id: "s1"}, "crud>Item/1", nil)

	assert.False(t, allow)
	var target *errs.CRUDBlockedError
	require.ErrorAs(t, err, &target)
	assert.False(t, fetchCalled)
}

func TestHandleSubscribe_NonCRUDChannelPassesThrough(t *testing.T) {
	s, _ := schema.New([]schema.Model{{Name: "Item"}})
	f := New(s, nil)

	allow, _, err := f.Middleware()(context.Background(), pubsub.ActionSubscribe, fakeSocket{id: "s1"}, "other/channel", nil)

	require.NoError(t, err)
	assert.True(t, allow)
}

func TestHandleSubscribe_ClientSuppliedDataAugmentsNonPrimaryViewParams(t *testing.T) {
	var seenQuery schema.Query
	s, err := schema.New([]schema.Model{{
		Name: "Item",
		Views: map[string]schema.ViewDef{
			"byOwner": {PrimaryFields: []string{"owner"}},
		},
		Access: schema.Access{
			Pre: func(req schema.AccessRequest) (bool, error) {
				seenQuery = req.Query.(schema.Query)
				return true, nil
			},
		},
	}})
	require.NoError(t, err)

	filter := New(s, nil)
	chName, err := channel.ViewName("byOwner", map[string]any{"owner": "u1"}, "Item")
	require.NoError(t, err)
	data := map[string]any{"owner": "attacker", "status": "open"}

	allow, _, err := filter.Middleware()(context.Background(), pubsub.ActionSubscribe, fakeSocket{id: "s1"}, chName, data)

	require.NoError(t, err)
	assert.True(t, allow)
	assert.Equal(t, "u1", seenQuery.ViewParams["owner"], "primary field must come from the channel, not client data")
	assert.Equal(t, "open", seenQuery.ViewParams["status"], "non-primary client-supplied field should augment the params")
}
