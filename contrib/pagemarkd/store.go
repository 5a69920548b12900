package pagemarkd

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pagemark/pagemark.go/pkg/constants"
	"github.com/pagemark/pagemark.go/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS annotations (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	version_id  TEXT NOT NULL,
	page        INTEGER NOT NULL,
	type        TEXT NOT NULL,
	payload     TEXT NOT NULL DEFAULT '{}',
	author      TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	revision    INTEGER NOT NULL DEFAULT 1,
	is_deleted  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_annotations_version
	ON annotations (version_id, is_deleted, page, created_at);

CREATE TABLE IF NOT EXISTS annotation_revisions (
	annotation_id   TEXT NOT NULL REFERENCES annotations (id) ON DELETE CASCADE,
	revision_number INTEGER NOT NULL,
	payload         TEXT NOT NULL DEFAULT '{}',
	changed_by      TEXT NOT NULL DEFAULT '',
	changed_at      TEXT NOT NULL,
	UNIQUE (annotation_id, revision_number)
);

CREATE TABLE IF NOT EXISTS collab_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id TEXT NOT NULL,
	user_id     TEXT NOT NULL DEFAULT '',
	event_type  TEXT NOT NULL,
	event       TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_collab_events_document
	ON collab_events (document_id, created_at DESC);

CREATE TABLE IF NOT EXISTS presence_sessions (
	document_id   TEXT NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	connection_id TEXT NOT NULL,
	joined_at     TEXT NOT NULL,
	last_seen_at  TEXT NOT NULL,
	UNIQUE (document_id, connection_id)
);
`

// StaleRevisionError is returned by UpdateAnnotation when the caller's
// known revision no longer matches. It carries the current entity so the
// handler can put it in the 409 body.
type StaleRevisionError struct {
	Current models.Annotation
}

func (e *StaleRevisionError) Error() string {
	return fmt.Sprintf("stale revision for annotation %s (current %d)",
		e.Current.ID, e.Current.Revision)
}

// Store is the SQLite persistence layer.
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema + commentSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// payload is the geometry-and-style part of an annotation, stored as one
// JSON column so revisions can snapshot it wholesale.
type payload struct {
	Rects   []models.Rect  `json:"rects,omitempty"`
	Points  []models.Point `json:"points,omitempty"`
	Style   models.Style   `json:"style"`
	Content string         `json:"content,omitempty"`
}

func payloadOf(a models.Annotation) ([]byte, error) {
	return json.Marshal(payload{
		Rects:   a.Rects,
		Points:  a.Points,
		Style:   a.Style,
		Content: a.Content,
	})
}

const annotationColumns = `id, document_id, version_id, page, type, payload,
	author, created_at, updated_at, revision`

func scanAnnotation(row interface{ Scan(...any) error }) (models.Annotation, error) {
	var (
		a           models.Annotation
		versionID   string
		payloadJSON string
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(&a.ID, &a.DocumentID, &versionID, &a.Page, &a.Type,
		&payloadJSON, &a.Author, &createdAt, &updatedAt, &a.Revision)
	if err != nil {
		return models.Annotation{}, err
	}

	var p payload
	if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
		return models.Annotation{}, fmt.Errorf("decoding payload of %s: %w", a.ID, err)
	}
	a.Rects = p.Rects
	a.Points = p.Points
	a.Style = p.Style
	a.Content = p.Content

	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return models.Annotation{}, err
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return models.Annotation{}, err
	}
	return a, nil
}

// ListAnnotations returns the live annotations of a version, ordered by
// page then creation time. page 0 means all pages.
func (s *Store) ListAnnotations(ctx context.Context, versionID string, page int) ([]models.Annotation, error) {
	query := `SELECT ` + annotationColumns + ` FROM annotations
		WHERE version_id = ? AND is_deleted = 0`
	args := []any{versionID}
	if page > 0 {
		query += ` AND page = ?`
		args = append(args, page)
	}
	query += ` ORDER BY page, created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	annotations := []models.Annotation{}
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, a)
	}
	return annotations, rows.Err()
}

// CreateAnnotation assigns a server id and revision 1, stores the entity,
// and snapshots the initial revision.
func (s *Store) CreateAnnotation(ctx context.Context, versionID string, a models.Annotation) (models.Annotation, error) {
	a.ID = uuid.NewString()
	a.Revision = 1
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	body, err := payloadOf(a)
	if err != nil {
		return models.Annotation{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Annotation{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO annotations
		(id, document_id, version_id, page, type, payload, author, created_at, updated_at, revision)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DocumentID, versionID, a.Page, a.Type, string(body), a.Author,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), a.Revision)
	if err != nil {
		return models.Annotation{}, err
	}

	if err := insertRevision(ctx, tx, a.ID, a.Revision, string(body), a.Author, now); err != nil {
		return models.Annotation{}, err
	}
	return a, tx.Commit()
}

// GetAnnotation fetches one live annotation.
func (s *Store) GetAnnotation(ctx context.Context, id string) (models.Annotation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+annotationColumns+`
		FROM annotations WHERE id = ? AND is_deleted = 0`, id)
	a, err := scanAnnotation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Annotation{}, constants.ErrAnnotationGone
	}
	return a, err
}

// UpdateAnnotation applies a patch under optimistic concurrency: the
// caller's known revision must match the stored one, otherwise the
// current entity comes back in a *StaleRevisionError. Every accepted
// update appends a revision snapshot.
func (s *Store) UpdateAnnotation(ctx context.Context, id string, p models.Patch, knownRevision int, changedBy string) (models.Annotation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Annotation{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+annotationColumns+`
		FROM annotations WHERE id = ? AND is_deleted = 0`, id)
	current, err := scanAnnotation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Annotation{}, constants.ErrAnnotationGone
	}
	if err != nil {
		return models.Annotation{}, err
	}

	if current.Revision != knownRevision {
		return models.Annotation{}, &StaleRevisionError{Current: current}
	}

	next := p.Apply(current)
	next.Revision = current.Revision + 1
	next.UpdatedAt = time.Now().UTC()

	body, err := payloadOf(next)
	if err != nil {
		return models.Annotation{}, err
	}

	_, err = tx.ExecContext(ctx, `UPDATE annotations
		SET page = ?, payload = ?, updated_at = ?, revision = ?
		WHERE id = ?`,
		next.Page, string(body), next.UpdatedAt.Format(time.RFC3339Nano), next.Revision, id)
	if err != nil {
		return models.Annotation{}, err
	}

	if err := insertRevision(ctx, tx, id, next.Revision, string(body), changedBy, next.UpdatedAt); err != nil {
		return models.Annotation{}, err
	}
	return next, tx.Commit()
}

// DeleteAnnotation soft-deletes: the row stays for history, the entity
// disappears from lists and lookups.
func (s *Store) DeleteAnnotation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE annotations SET is_deleted = 1 WHERE id = ? AND is_deleted = 0`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return constants.ErrAnnotationGone
	}
	return nil
}

func insertRevision(ctx context.Context, tx *sql.Tx, annotationID string, number int, body, changedBy string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO annotation_revisions
		(annotation_id, revision_number, payload, changed_by, changed_at)
		VALUES (?, ?, ?, ?, ?)`,
		annotationID, number, body, changedBy, at.Format(time.RFC3339Nano))
	return err
}

// RevisionCount returns how many revision snapshots an annotation has.
func (s *Store) RevisionCount(ctx context.Context, annotationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM annotation_revisions WHERE annotation_id = ?`,
		annotationID).Scan(&n)
	return n, err
}

// LogEvent appends to the collaboration event log.
func (s *Store) LogEvent(ctx context.Context, documentID, userID, eventType string, event json.RawMessage) error {
	if len(event) == 0 {
		event = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO collab_events
		(document_id, user_id, event_type, event, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		documentID, userID, eventType, string(event),
		time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// UpsertPresence records a connection as present on a document.
func (s *Store) UpsertPresence(ctx context.Context, documentID, userID, connectionID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `INSERT INTO presence_sessions
		(document_id, user_id, connection_id, joined_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (document_id, connection_id)
		DO UPDATE SET user_id = excluded.user_id, last_seen_at = excluded.last_seen_at`,
		documentID, userID, connectionID, now, now)
	return err
}

// TouchPresence refreshes last_seen_at, driven by client heartbeats.
func (s *Store) TouchPresence(ctx context.Context, connectionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE presence_sessions SET last_seen_at = ? WHERE connection_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), connectionID)
	return err
}

// RemovePresence drops a connection's presence row.
func (s *Store) RemovePresence(ctx context.Context, connectionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM presence_sessions WHERE connection_id = ?`, connectionID)
	return err
}

// ListPresence returns the distinct users present on a document.
func (s *Store) ListPresence(ctx context.Context, documentID string) ([]models.Collaborator, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id
		FROM presence_sessions WHERE document_id = ? ORDER BY user_id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.Collaborator{}
	for rows.Next() {
		var c models.Collaborator
		if err := rows.Scan(&c.ID); err != nil {
			return nil, err
		}
		users = append(users, c)
	}
	return users, rows.Err()
}
