package index

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	Color string
}

func colorExtractor(entity any) (string, error) {
	w, ok := entity.(widget)
	if !ok {
		return "", fmt.Errorf("not a widget: %T", entity)
	}
	return w.Color, nil
}

func TestMemory_AddToCollectionWithoutIndices(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.AddToCollection("widget", widget{Color: "red"}))
	require.NoError(t, m.AddToCollection("widget", widget{Color: "blue"}))
}

func TestMemory_TryAddIndexBackfillsExistingEntities(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.AddToCollection("widget", widget{Color: "red"}))
	require.NoError(t, m.AddToCollection("widget", widget{Color: "blue"}))
	require.NoError(t, m.AddToCollection("widget", widget{Color: "red"}))

	require.NoError(t, m.TryAddIndex("widget", "by_color", colorExtractor))

	reds := m.Lookup("widget", "by_color", "red")
	assert.Len(t, reds, 2)
	blues := m.Lookup("widget", "by_color", "blue")
	assert.Len(t, blues, 1)
}

func TestMemory_TryAddIndexMaintainsFutureEntities(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.TryAddIndex("widget", "by_color", colorExtractor))
	require.NoError(t, m.AddToCollection("widget", widget{Color: "green"}))

	greens := m.Lookup("widget", "by_color", "green")
	assert.Len(t, greens, 1)
}

func TestMemory_ReRegisteringIndexIsAlreadyPresentNotError(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.TryAddIndex("widget", "by_color", colorExtractor))
	err := m.TryAddIndex("widget", "by_color", colorExtractor)
	assert.ErrorIs(t, err, ErrAlreadyPresent)
}

func TestMemory_IndicesAreScopedPerEntityType(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.TryAddIndex("widget", "by_color", colorExtractor))
	// Same index name under a different entity type is a distinct
	// registration, not a collision.
	require.NoError(t, m.TryAddIndex("gadget", "by_color", colorExtractor))
}
