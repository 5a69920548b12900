package pagemarkd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const commentSchema = `
CREATE TABLE IF NOT EXISTS comments (
	id            TEXT PRIMARY KEY,
	document_id   TEXT NOT NULL,
	annotation_id TEXT NOT NULL DEFAULT '',
	parent_id     TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL,
	author        TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	revision      INTEGER NOT NULL DEFAULT 1,
	is_deleted    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_comments_document
	ON comments (document_id, is_deleted, created_at);

CREATE TABLE IF NOT EXISTS comment_revisions (
	comment_id      TEXT NOT NULL REFERENCES comments (id) ON DELETE CASCADE,
	revision_number INTEGER NOT NULL,
	body            TEXT NOT NULL,
	changed_by      TEXT NOT NULL DEFAULT '',
	changed_at      TEXT NOT NULL,
	UNIQUE (comment_id, revision_number)
);
`

// Comment is a discussion entry on a document. It can sit on an
// annotation, reply to another comment via ParentID, or stand alone on
// the document.
type Comment struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	AnnotationID string    `json:"annotation_id,omitempty"`
	ParentID     string    `json:"parent_id,omitempty"`
	Body         string    `json:"body"`
	Author       string    `json:"author,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Revision     int       `json:"revision"`
}

// ErrCommentGone marks a comment that does not exist or was deleted.
var ErrCommentGone = errors.New("comment not found")

// StaleCommentError is the comment counterpart of StaleRevisionError.
type StaleCommentError struct {
	Current Comment
}

func (e *StaleCommentError) Error() string {
	return fmt.Sprintf("stale revision for comment %s (current %d)",
		e.Current.ID, e.Current.Revision)
}

const commentColumns = `id, document_id, annotation_id, parent_id, body,
	author, created_at, updated_at, revision`

func scanComment(row interface{ Scan(...any) error }) (Comment, error) {
	var (
		c         Comment
		createdAt string
		updatedAt string
	)
	err := row.Scan(&c.ID, &c.DocumentID, &c.AnnotationID, &c.ParentID,
		&c.Body, &c.Author, &createdAt, &updatedAt, &c.Revision)
	if err != nil {
		return Comment{}, err
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Comment{}, err
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Comment{}, err
	}
	return c, nil
}

// ListComments returns the live comments of a document in thread order
// (creation time).
func (s *Store) ListComments(ctx context.Context, documentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+commentColumns+`
		FROM comments WHERE document_id = ? AND is_deleted = 0
		ORDER BY created_at, rowid`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := []Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// CreateComment stores a new comment at revision 1 with its initial
// revision snapshot. A reply's parent must be a live comment of the same
// document.
func (s *Store) CreateComment(ctx context.Context, c Comment) (Comment, error) {
	c.ID = uuid.NewString()
	c.Revision = 1
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Comment{}, err
	}
	defer tx.Rollback()

	if c.ParentID != "" {
		var parentDocument string
		err := tx.QueryRowContext(ctx, `SELECT document_id FROM comments
			WHERE id = ? AND is_deleted = 0`, c.ParentID).Scan(&parentDocument)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && parentDocument != c.DocumentID) {
			return Comment{}, ErrCommentGone
		}
		if err != nil {
			return Comment{}, err
		}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO comments
		(id, document_id, annotation_id, parent_id, body, author, created_at, updated_at, revision)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.DocumentID, c.AnnotationID, c.ParentID, c.Body, c.Author,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), c.Revision)
	if err != nil {
		return Comment{}, err
	}

	if err := insertCommentRevision(ctx, tx, c.ID, c.Revision, c.Body, c.Author, now); err != nil {
		return Comment{}, err
	}
	return c, tx.Commit()
}

// UpdateComment replaces the body under the same optimistic concurrency
// rule as annotations: a mismatched revision returns the current comment
// in a *StaleCommentError, and every accepted edit appends a revision
// snapshot.
func (s *Store) UpdateComment(ctx context.Context, id, body string, knownRevision int, changedBy string) (Comment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Comment{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+commentColumns+`
		FROM comments WHERE id = ? AND is_deleted = 0`, id)
	current, err := scanComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, ErrCommentGone
	}
	if err != nil {
		return Comment{}, err
	}

	if current.Revision != knownRevision {
		return Comment{}, &StaleCommentError{Current: current}
	}

	next := current
	next.Body = body
	next.Revision = current.Revision + 1
	next.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `UPDATE comments
		SET body = ?, updated_at = ?, revision = ? WHERE id = ?`,
		next.Body, next.UpdatedAt.Format(time.RFC3339Nano), next.Revision, id)
	if err != nil {
		return Comment{}, err
	}

	if err := insertCommentRevision(ctx, tx, id, next.Revision, next.Body, changedBy, next.UpdatedAt); err != nil {
		return Comment{}, err
	}
	return next, tx.Commit()
}

// DeleteComment soft-deletes, keeping the thread history.
func (s *Store) DeleteComment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE comments SET is_deleted = 1 WHERE id = ? AND is_deleted = 0`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCommentGone
	}
	return nil
}

// CommentRevisionCount returns how many revision snapshots a comment has.
func (s *Store) CommentRevisionCount(ctx context.Context, commentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM comment_revisions WHERE comment_id = ?`,
		commentID).Scan(&n)
	return n, err
}

func insertCommentRevision(ctx context.Context, tx *sql.Tx, commentID string, number int, body, changedBy string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comment_revisions
		(comment_id, revision_number, body, changed_by, changed_at)
		VALUES (?, ?, ?, ?, ?)`,
		commentID, number, body, changedBy, at.Format(time.RFC3339Nano))
	return err
}
