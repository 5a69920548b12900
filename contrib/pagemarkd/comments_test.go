package pagemarkd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCommentAssignsIdentity(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	saved, err := s.CreateComment(ctx, Comment{
		DocumentID: "doc-1",
		Body:       "needs a second pass",
		Author:     "alice",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, 1, saved.Revision)
	assert.False(t, saved.CreatedAt.IsZero())

	count, err := s.CommentRevisionCount(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCommentThreadingRequiresLiveParent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	parent, err := s.CreateComment(ctx, Comment{
		DocumentID: "doc-1",
		Body:       "top level",
		Author:     "alice",
	})
	require.NoError(t, err)

	reply, err := s.CreateComment(ctx, Comment{
		DocumentID: "doc-1",
		ParentID:   parent.ID,
		Body:       "agreed",
		Author:     "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, reply.ParentID)

	_, err = s.CreateComment(ctx, Comment{
		DocumentID: "doc-1",
		ParentID:   "missing",
		Body:       "orphan",
	})
	assert.ErrorIs(t, err, ErrCommentGone)

	// A parent from another document is not a valid thread root.
	_, err = s.CreateComment(ctx, Comment{
		DocumentID: "doc-2",
		ParentID:   parent.ID,
		Body:       "cross document",
	})
	assert.ErrorIs(t, err, ErrCommentGone)
}

func TestListCommentsByDocument(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.CreateComment(ctx, Comment{DocumentID: "doc-1", Body: "one"})
	require.NoError(t, err)
	_, err = s.CreateComment(ctx, Comment{DocumentID: "doc-1", Body: "two"})
	require.NoError(t, err)
	_, err = s.CreateComment(ctx, Comment{DocumentID: "doc-2", Body: "elsewhere"})
	require.NoError(t, err)

	comments, err := s.ListComments(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "one", comments[0].Body)
	assert.Equal(t, "two", comments[1].Body)
}

func TestUpdateCommentBumpsRevisionAndSnapshots(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	saved, err := s.CreateComment(ctx, Comment{
		DocumentID: "doc-1",
		Body:       "draft wording",
		Author:     "alice",
	})
	require.NoError(t, err)

	updated, err := s.UpdateComment(ctx, saved.ID, "final wording", 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Revision)
	assert.Equal(t, "final wording", updated.Body)

	count, err := s.CommentRevisionCount(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUpdateCommentStaleRevisionCarriesCurrent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	saved, err := s.CreateComment(ctx, Comment{
		DocumentID: "doc-1",
		Body:       "original",
		Author:     "alice",
	})
	require.NoError(t, err)

	_, err = s.UpdateComment(ctx, saved.ID, "first edit", 1, "alice")
	require.NoError(t, err)

	_, err = s.UpdateComment(ctx, saved.ID, "second edit", 1, "bob")
	var stale *StaleCommentError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, 2, stale.Current.Revision)
	assert.Equal(t, "first edit", stale.Current.Body)

	// The losing edit must not leave a snapshot behind.
	count, err := s.CommentRevisionCount(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDeleteCommentIsSoft(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	saved, err := s.CreateComment(ctx, Comment{DocumentID: "doc-1", Body: "to remove"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteComment(ctx, saved.ID))

	comments, err := s.ListComments(ctx, "doc-1")
	require.NoError(t, err)
	assert.Empty(t, comments)

	// History survives the delete.
	count, err := s.CommentRevisionCount(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.ErrorIs(t, s.DeleteComment(ctx, saved.ID), ErrCommentGone)

	_, err = s.UpdateComment(ctx, saved.ID, "necromancy", 1, "alice")
	assert.ErrorIs(t, err, ErrCommentGone)
}
