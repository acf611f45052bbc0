package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceAndFieldName(t *testing.T) {
	assert.Equal(t, "crud>users/42", ResourceName("users", "42"))
	assert.Equal(t, "crud>users/42/name", FieldName("users", "42", "name"))
}

func TestViewName_StableAcrossKeyOrder(t *testing.T) {
	a, err := ViewName("byOwner", map[string]any{"ownerId": "1", "status": "open"}, "tickets")
	require.NoError(t, err)
	b, err := ViewName("byOwner", map[string]any{"status": "open", "ownerId": "1"}, "tickets")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPrimaryParams_FiltersToDeclaredFields(t *testing.T) {
	params := map[string]any{"ownerId": "1", "status": "open", "extra": "ignored"}

	selected := PrimaryParams(params, []string{"ownerId", "status"}, false)

	assert.Equal(t, map[string]any{"ownerId": "1", "status": "open"}, selected)
}

func TestPrimaryParams_MissingFieldBecomesNull(t *testing.T) {
	selected := PrimaryParams(map[string]any{"ownerId": "1"}, []string{"ownerId", "status"}, false)

	assert.Equal(t, map[string]any{"ownerId": "1", "status": nil}, selected)
}

func TestPrimaryParams_StringifiesUnlessTyped(t *testing.T) {
	params := map[string]any{"count": float64(3)}

	stringified := PrimaryParams(params, nil, false)
	assert.Equal(t, "3", stringified["count"])

	typed := PrimaryParams(params, nil, true)
	assert.Equal(t, float64(3), typed["count"])
}

func TestParseChannelResourceQuery_Resource(t *testing.T) {
	parsed, err := ParseChannelResourceQuery("crud>users/42")
	require.NoError(t, err)
	require.NotNil(t, parsed)
	assert.Equal(t, KindResource, parsed.Kind)
	assert.Equal(t, "users", parsed.Type)
	assert.Equal(t, "42", parsed.ID)
}

func TestParseChannelResourceQuery_Field(t *testing.T) {
	parsed, err := ParseChannelResourceQuery("crud>users/42/name")
	require.NoError(t, err)
	require.NotNil(t, parsed)
	assert.Equal(t, KindField, parsed.Kind)
	assert.Equal(t, "name", parsed.Field)
}

func TestParseChannelResourceQuery_View(t *testing.T) {
	name, err := ViewName("byOwner", map[string]any{"ownerId": "1"}, "tickets")
	require.NoError(t, err)

	parsed, err := ParseChannelResourceQuery(name)
	require.NoError(t, err)
	require.NotNil(t, parsed)
	assert.Equal(t, KindView, parsed.Kind)
	assert.Equal(t, "byOwner", parsed.View)
	assert.Equal(t, "tickets", parsed.Type)
	assert.Equal(t, map[string]any{"ownerId": "1"}, parsed.ViewParams)
}

func TestParseChannelResourceQuery_NonCRUDChannelIsNilNotError(t *testing.T) {
	parsed, err := ParseChannelResourceQuery("some/other/channel")
	assert.NoError(t, err)
	assert.Nil(t, parsed)
}

func TestParseChannelResourceQuery_MalformedEnvelopeErrors(t *testing.T) {
	parsed, err := ParseChannelResourceQuery("crud>a/b/c/d")
	assert.Error(t, err)
	assert.Nil(t, parsed)
}
