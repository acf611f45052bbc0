package crudcore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrud/engine/internal/schema"
)

func TestEvents_CreateEmitsCreateEvent(t *testing.T) {
	tc := newTestCore(t)

	_, err := tc.core.Create(context.Background(), schema.Query{
		Action: schema.ActionCreate, Type: "Item", Value: map[string]any{"owner": "u1", "status": "open"},
	})
	require.NoError(t, err)

	select {
	case e := <-tc.core.Creates():
		assert.Equal(t, "Item", e.Type)
		assert.Equal(t, "u1", e.Resource["owner"])
	default:
		t.Fatal("expected a create event")
	}
}

func TestEvents_UpdateEmitsUpdateEvent(t *testing.T) {
	tc := newTestCore(t)
	created, err := tc.core.Create(context.Background(), schema.Query{
		Action: schema.ActionCreate, Type: "Item", Value: map[string]any{"owner": "u1", "status": "open"},
	})
	require.NoError(t, err)
	id := created["id"].(string)

	_, err = tc.core.Update(context.Background(), schema.Query{
		Action: schema.ActionUpdate, Type: "Item", ID: id, Field: "status", Value: "closed",
	}, nil)
	require.NoError(t, err)

	select {
	case e := <-tc.core.Updates():
		assert.Equal(t, id, e.ID)
		assert.Equal(t, "open", e.Old["status"])
		assert.Equal(t, "closed", e.New["status"])
	default:
		t.Fatal("expected an update event")
	}
}

func TestEvents_DeleteEmitsDeleteEvent(t *testing.T) {
	tc := newTestCore(t)
	created, err := tc.core.Create(context.Background(), schema.Query{
		Action: schema.ActionCreate, Type: "Item", Value: map[string]any{"owner": "u1", "status": "open"},
	})
	require.NoError(t, err)
	id := created["id"].(string)

	_, err = tc.core.Delete(context.Background(), schema.Query{Action: schema.ActionDelete, Type: "Item", ID: id}, nil)
	require.NoError(t, err)

	select {
	case e := <-tc.core.Deletes():
		assert.Equal(t, id, e.ID)
	default:
		t.Fatal("expected a delete event")
	}
}

func TestEvents_FailureEmitsBothFailAndErrorEvents(t *testing.T) {
	tc := newTestCore(t)

	_, err := tc.core.Delete(context.Background(), schema.Query{Action: schema.ActionDelete, Type: "Item", ID: "missing"}, nil)
	require.Error(t, err)

	select {
	case f := <-tc.core.Fails():
		assert.Equal(t, "delete", f.Operation)
	default:
		t.Fatal("expected a fail event")
	}
	select {
	case e := <-tc.core.Errors():
		assert.Error(t, e.Err)
	default:
		t.Fatal("expected an error event")
	}
}
