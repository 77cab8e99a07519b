package canvas

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kno-canvas/internal/models"
)

func newTestRegistry(t *testing.T, store Store) (*Registry, *Persistence) {
	t.Helper()
	p := newTestPersistence(t, store)
	r := NewRegistry(p, nil)
	ids := &sequentialIDs{}
	r.newID = ids.next
	return r, p
}

func TestRegistryCreateAndRename(t *testing.T) {
	r, _ := newTestRegistry(t, NewMemoryStore())

	first := r.Create("Research")
	second := r.Create("   ")

	assert.Equal(t, DefaultDocumentTitle, second.Title)
	assert.Equal(t, []string{second.ID, first.ID}, docIDs(r.List()), "newest first")
	assert.Equal(t, second.ID, r.Selected())

	renamed, err := r.Rename(first.ID, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultDocumentTitle, renamed.Title)

	_, err = r.Rename("missing", "x")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestRegistryTrashLifecycle(t *testing.T) {
	store := NewMemoryStore()
	r, p := newTestRegistry(t, store)
	ctx := context.Background()
	a := r.Create("A")
	b := r.Create("B")

	require.NoError(t, r.MoveToTrash(b.ID))
	assert.Equal(t, []string{a.ID}, docIDs(r.List()))
	assert.Equal(t, []string{b.ID}, docIDs(r.Trash()))
	assert.Equal(t, a.ID, r.Selected(), "the next active document is selected")

	assert.ErrorIs(t, r.DeleteForever(ctx, a.ID), ErrNotInTrash)
	assert.ErrorIs(t, r.Restore(a.ID), ErrNotInTrash)

	require.NoError(t, r.Restore(b.ID))
	assert.Equal(t, []string{b.ID, a.ID}, docIDs(r.List()))
	assert.Empty(t, r.Trash())

	require.NoError(t, r.MoveToTrash(a.ID))
	require.NoError(t, p.Flush(ctx))
	require.NoError(t, r.DeleteForever(ctx, a.ID))
	require.NoError(t, p.Flush(ctx))

	assert.Empty(t, r.Trash())
	_, found, err := store.Load(ctx, StateKey(a.ID))
	require.NoError(t, err)
	assert.False(t, found, "deleting forever drops the canvas state")
	_, found, err = store.Load(ctx, StateKey(b.ID))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRegistryPersistsAcrossLoads(t *testing.T) {
	store := NewMemoryStore()
	r, p := newTestRegistry(t, store)
	ctx := context.Background()
	a := r.Create("A")
	b := r.Create("B")
	require.NoError(t, r.MoveToTrash(a.ID))
	r.Touch(b.ID, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), 7)
	require.NoError(t, p.Flush(ctx))

	reloaded := NewRegistry(p, nil)
	require.NoError(t, reloaded.Load(ctx))

	assert.Equal(t, []string{b.ID}, docIDs(reloaded.List()))
	assert.Equal(t, []string{a.ID}, docIDs(reloaded.Trash()))
	assert.Equal(t, b.ID, reloaded.Selected())
	got, ok := reloaded.Get(b.ID)
	require.True(t, ok)
	assert.Equal(t, 7, got.NodeCount)
	assert.Nil(t, got.State, "the list never embeds canvas state")
}

func docIDs(docs []models.CanvasDocument) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}
