package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemark/pagemark.go/pkg/models"
	"github.com/pagemark/pagemark.go/pkg/store"
)

func annotation(id string, page int) models.Annotation {
	return models.Annotation{
		ID:         id,
		DocumentID: "doc-1",
		Page:       page,
		Type:       models.TypeHighlight,
		Rects:      []models.Rect{{X: 1, Y: 1, Width: 10, Height: 10}},
	}
}

func TestSetAllReplacesCache(t *testing.T) {
	s := store.New()
	s.Apply(store.Upsert{Annotation: annotation("old", 1)})

	s.Apply(store.SetAll{Annotations: []models.Annotation{
		annotation("a", 1),
		annotation("b", 2),
	}})

	_, ok := s.Get("old")
	assert.False(t, ok)
	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
}

func TestUpsertAppendsOnce(t *testing.T) {
	s := store.New()
	a := annotation("a1", 1)

	s.Apply(store.Upsert{Annotation: a})
	a.Revision = 1
	s.Apply(store.Upsert{Annotation: a})

	all := s.All()
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].Revision)
}

func TestUpsertPreservesInsertionOrder(t *testing.T) {
	s := store.New()
	s.Apply(store.Upsert{Annotation: annotation("first", 1)})
	s.Apply(store.Upsert{Annotation: annotation("second", 1)})
	s.Apply(store.Upsert{Annotation: annotation("first", 1)})

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "first", all[0].ID)
	assert.Equal(t, "second", all[1].ID)
}

func TestPatchMergesChanges(t *testing.T) {
	s := store.New()
	s.Apply(store.Upsert{Annotation: annotation("a1", 1)})

	content := "looks good"
	s.Apply(store.Patch{ID: "a1", Changes: models.Patch{Content: &content}})

	got, ok := s.Get("a1")
	require.True(t, ok)
	assert.Equal(t, "looks good", got.Content)
	assert.Len(t, got.Rects, 1, "untouched fields survive the patch")
}

func TestPatchAbsentIDIsNoop(t *testing.T) {
	s := store.New()
	content := "orphan"
	s.Apply(store.Patch{ID: "ghost", Changes: models.Patch{Content: &content}})
	assert.Zero(t, s.Len())
}

func TestReconcileOptimisticSwapsIDs(t *testing.T) {
	s := store.New()
	tempID := models.NewTempID()
	s.Apply(store.Upsert{Annotation: annotation(tempID, 1)})
	s.Apply(store.Upsert{Annotation: annotation("later", 1)})

	saved := annotation("srv-9", 1)
	saved.Revision = 0
	s.Apply(store.ReconcileOptimistic{TempID: tempID, Saved: saved})

	_, ok := s.Get(tempID)
	assert.False(t, ok)
	got, ok := s.Get("srv-9")
	require.True(t, ok)
	assert.Equal(t, saved, got)

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "srv-9", all[0].ID, "server id takes the temp entry's position")
	assert.Equal(t, "later", all[1].ID)

	ids := map[string]int{}
	for _, a := range all {
		ids[a.ID]++
	}
	assert.Equal(t, 1, ids["srv-9"], "order contains the server id exactly once")
	assert.Zero(t, ids[tempID])
}

func TestReconcileOptimisticUnknownTempAppends(t *testing.T) {
	s := store.New()
	saved := annotation("srv-1", 1)
	s.Apply(store.ReconcileOptimistic{TempID: "never-seen", Saved: saved})

	all := s.All()
	require.Len(t, all, 1)
	assert.Equal(t, "srv-1", all[0].ID)
}

func TestRemove(t *testing.T) {
	s := store.New()
	s.Apply(store.Upsert{Annotation: annotation("a1", 1)})
	s.Apply(store.Remove{ID: "a1"})

	assert.Zero(t, s.Len())
	assert.Empty(t, s.All())
}

func TestByPageFilters(t *testing.T) {
	s := store.New()
	s.Apply(store.Upsert{Annotation: annotation("p1-a", 1)})
	s.Apply(store.Upsert{Annotation: annotation("p2-a", 2)})
	s.Apply(store.Upsert{Annotation: annotation("p1-b", 1)})

	page1 := s.ByPage(1)
	require.Len(t, page1, 2)
	assert.Equal(t, "p1-a", page1[0].ID)
	assert.Equal(t, "p1-b", page1[1].ID)
	assert.Empty(t, s.ByPage(3))
}

func TestSetActiveTool(t *testing.T) {
	s := store.New()
	assert.Equal(t, models.ToolSelect, s.ActiveTool())

	s.Apply(store.SetActiveTool{Tool: models.ToolDraw})
	assert.Equal(t, models.ToolDraw, s.ActiveTool())
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	initial := store.NewState()
	next := store.Reduce(initial, store.Upsert{Annotation: annotation("a1", 1)})

	assert.Empty(t, initial.ByID)
	assert.Empty(t, initial.Order)
	require.Len(t, next.Order, 1)

	// A later reduce over next must not bleed into the earlier snapshot.
	store.Reduce(next, store.Remove{ID: "a1"})
	assert.Contains(t, next.ByID, "a1")
}
