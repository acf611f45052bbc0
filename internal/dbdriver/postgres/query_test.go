package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuery_Eq_AppendsPositionalArgsInOrder(t *testing.T) {
	q := &Query{Table: "Item"}

	q.Eq("owner", "u1").Eq("status", "open")

	assert.Equal(t, []string{`data->>'owner' = $1`, `data->>'status' = $2`}, q.Where)
	assert.Equal(t, []any{"u1", "open"}, q.Args)
}

func TestBaseQuery_ReturnsEmptyQueryForTable(t *testing.T) {
	d := &Driver{}

	q := d.BaseQuery("Item")

	query, ok := q.(*Query)
	assert.True(t, ok)
	assert.Equal(t, "Item", query.Table)
	assert.Empty(t, query.Where)
}

func TestAsQuery_RejectsForeignQueryType(t *testing.T) {
	_, err := asQuery("not-a-query")

	assert.Error(t, err)
}

func TestPluckExpr_IDOnlyUsesJSONBBuildObject(t *testing.T) {
	assert.Equal(t, "jsonb_build_object('id', id)", pluckExpr([]string{"id"}))
	assert.Equal(t, "data", pluckExpr([]string{"id", "owner"}))
	assert.Equal(t, "data", pluckExpr(nil))
}
