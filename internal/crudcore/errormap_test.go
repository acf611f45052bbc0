package crudcore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrud/engine/internal/errs"
)

func TestMapDatabaseError_NilPassesThrough(t *testing.T) {
	assert.Nil(t, mapDatabaseError(nil))
}

func TestMapDatabaseError_NotFoundPattern(t *testing.T) {
	err := errors.New("the query did not find a document and returned null for Item/id-1")

	mapped := mapDatabaseError(err)

	var target *errs.DocumentNotFoundError
	require.ErrorAs(t, mapped, &target)
	assert.Equal(t, "Item", target.Type)
	assert.Equal(t, "id-1", target.ID)
}

func TestMapDatabaseError_DuplicateKeyPattern(t *testing.T) {
	err := errors.New("duplicate primary key `id-1`")

	mapped := mapDatabaseError(err)

	var target *errs.DuplicatePrimaryKeyError
	require.ErrorAs(t, mapped, &target)
	assert.Equal(t, "id-1", target.PrimaryKey)
}

func TestMapDatabaseError_UnmatchedBecomesDatabaseError(t *testing.T) {
	inner := errors.New("connection reset")

	mapped := mapDatabaseError(inner)

	var target *errs.DatabaseError
	require.ErrorAs(t, mapped, &target)
	assert.ErrorIs(t, mapped, inner)
}
