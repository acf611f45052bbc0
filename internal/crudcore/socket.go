package crudcore

import (
	"context"

	"github.com/relaycrud/engine/internal/errs"
	"github.com/relaycrud/engine/internal/pubsub"
	"github.com/relaycrud/engine/internal/schema"
)

// AttachSocket subscribes to socket's `crud` procedure and processes its
// requests strictly in arrival order (spec.md §4.6 "Socket attach"): one
// goroutine drains socket.Procedure("crud") sequentially, so a slow
// operation on this socket delays only this socket's own later requests,
// never another socket's.
func (c *Core) AttachSocket(ctx context.Context, socket pubsub.ProcedureSocket) {
	go func() {
		for req := range socket.Procedure("crud") {
			c.handleProcedureRequest(ctx, socket, req)
		}
	}()
}

func (c *Core) handleProcedureRequest(ctx context.Context, socket pubsub.ProcedureSocket, req pubsub.ProcedureRequest) {
	q, err := queryFromRequestData(req.Data())
	if err != nil {
		req.Error(c.fail("invoke", q, err))
		return
	}
	q.AuthToken = socket.AuthToken()
	q.PublisherSocketID = socket.ID()

	if err := c.access.CheckInvoke(ctx, q.AuthToken, q); err != nil {
		req.Error(c.fail(string(q.Action), q, err))
		return
	}

	result, err := c.dispatchQuery(ctx, q, socket)
	if err != nil {
		// Create/Read/Update/Delete already ran the error through
		// c.errorMapper via c.fail before returning it.
		req.Error(err)
		return
	}
	req.End(result)
}

func (c *Core) dispatchQuery(ctx context.Context, q schema.Query, socket pubsub.Socket) (any, error) {
	switch q.Action {
	case schema.ActionCreate:
		return c.Create(ctx, q)
	case schema.ActionRead:
		return c.Read(ctx, q, socket)
	case schema.ActionUpdate:
		return c.Update(ctx, q, socket)
	case schema.ActionDelete:
		return c.Delete(ctx, q, socket)
	default:
		return nil, c.fail(string(q.Action), q, &errs.CRUDInvalidOperation{Action: string(q.Action)})
	}
}

// queryFromRequestData decodes a `{action, ...query}` procedure request
// into a schema.Query. Numeric fields arrive as float64 (the shape any
// JSON-backed transport hands a Go map), so they're coerced explicitly.
func queryFromRequestData(data map[string]any) (schema.Query, error) {
	q := schema.Query{
		Action:      schema.Action(asString(data["action"])),
		Type:        asString(data["type"]),
		ID:          asString(data["id"]),
		Field:       asString(data["field"]),
		Value:       data["value"],
		View:        asString(data["view"]),
		PublisherID: asString(data["publisherId"]),
	}

	if vp, ok := data["viewParams"].(map[string]any); ok {
		q.ViewParams = vp
	}
	if v, present := data["offset"]; present {
		q.Offset, q.HasOffset = asInt(v), true
	}
	if v, present := data["pageSize"]; present {
		q.PageSize, q.HasPageSize = asInt(v), true
	}
	if v, present := data["sliceTo"]; present {
		q.SliceTo, q.HasSliceTo = asInt(v), true
	}
	if v, ok := data["getCount"].(bool); ok {
		q.GetCount = v
	}

	if q.Type == "" {
		return q, &errs.CRUDInvalidModelType{Type: q.Type}
	}
	return q, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
