// Package reconcile implements the optimistic-mutation protocol between
// the annotation store and the network: apply locally first, persist via
// the request/response API, then reconcile the store with the server's
// answer and notify peers over the sync channel.
//
// Every mutation is tracked as a small state machine, pending →
// confirmed | conflicted | failed, so the rules are testable without any
// UI attached. There is no automatic retry anywhere: failure visibility
// is preferred over silent recovery, and on conflict the human re-applies
// their intent.
package reconcile

import (
	"context"
	"os"

	"github.com/pagemark/pagemark.go/pkg/connection"
	"github.com/pagemark/pagemark.go/pkg/logger"
	"github.com/pagemark/pagemark.go/pkg/models"
	"github.com/pagemark/pagemark.go/pkg/store"
)

// MutationStatus is the lifecycle state of one tracked mutation.
type MutationStatus int

const (
	StatusPending MutationStatus = iota
	StatusConfirmed
	StatusConflicted
	StatusFailed
)

func (s MutationStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusConflicted:
		return "conflicted"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// MutationKind discriminates what the mutation does.
type MutationKind string

const (
	KindCreate MutationKind = "create"
	KindUpdate MutationKind = "update"
	KindDelete MutationKind = "delete"
)

// Mutation is the record of one optimistic mutation and its outcome.
type Mutation struct {
	Kind         MutationKind
	AnnotationID string
	Status       MutationStatus
	Err          error
}

// Severity grades user-facing notifications.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is a user-facing message about a mutation outcome.
type Notification struct {
	Severity     Severity
	Message      string
	AnnotationID string
}

// Notifier surfaces notifications to the user. Implementations must not
// block.
type Notifier interface {
	Notify(n Notification)
}

// NopNotifier drops all notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(Notification) {}

// Reconciler glues the store to the persistence API and the sync channel
// for one open document version.
type Reconciler struct {
	store       *store.Store
	persistence connection.Persistence
	broadcaster connection.Broadcaster
	notifier    Notifier
	logger      logger.Logger

	versionID string
}

func New(s *store.Store, p connection.Persistence, b connection.Broadcaster, versionID string) *Reconciler {
	return &Reconciler{
		store:       s,
		persistence: p,
		broadcaster: b,
		notifier:    NopNotifier{},
		logger:      logger.New(os.Stdout),
		versionID:   versionID,
	}
}

// Notifier replaces the notification sink.
func (r *Reconciler) Notifier(n Notifier) *Reconciler {
	r.notifier = n
	return r
}

// Logger replaces the reconciler's logger.
func (r *Reconciler) Logger(l logger.Logger) *Reconciler {
	r.logger = l
	return r
}

// Create inserts the annotation optimistically under its temporary id and
// persists it. On success the temp id is atomically swapped for the
// server entity and peers are notified. On failure the optimistic entity
// stays visible locally, understood as unsynced.
func (r *Reconciler) Create(ctx context.Context, a models.Annotation) *Mutation {
	m := &Mutation{Kind: KindCreate, AnnotationID: a.ID, Status: StatusPending}

	r.store.Apply(store.Upsert{Annotation: a})

	saved, err := r.persistence.Create(ctx, r.versionID, a)
	if err != nil {
		m.Status = StatusFailed
		m.Err = err
		r.logger.Error("annotation create failed", "annotation_id", a.ID, "error", err)
		r.notifier.Notify(Notification{
			Severity:     SeverityError,
			Message:      "Could not save the annotation. It is only visible to you until the next successful save.",
			AnnotationID: a.ID,
		})
		return m
	}

	r.store.Apply(store.ReconcileOptimistic{TempID: a.ID, Saved: saved})
	m.AnnotationID = saved.ID
	m.Status = StatusConfirmed

	// Only the server-confirmed entity is broadcast; a temp-id
	// annotation is never authoritative for peers.
	r.broadcast(models.EventAnnotationCreated, models.AnnotationEvent{Annotation: saved})
	return m
}

// Update patches the annotation optimistically and persists the change
// with the locally known revision.
//
// Returns nil when the annotation is not in the store: a peer deleted it
// mid-edit, and the dangling patch is deliberately a no-op.
func (r *Reconciler) Update(ctx context.Context, id string, p models.Patch) *Mutation {
	current, ok := r.store.Get(id)
	if !ok {
		r.logger.Debug("dropping patch for absent annotation", "annotation_id", id)
		return nil
	}
	knownRevision := current.Revision

	m := &Mutation{Kind: KindUpdate, AnnotationID: id, Status: StatusPending}
	r.store.Apply(store.Patch{ID: id, Changes: p})

	saved, err := r.persistence.Update(ctx, id, p, knownRevision)
	if err != nil {
		if conflict, isConflict := connection.AsConflict(err); isConflict {
			// The server's entity wins locally. The user re-applies
			// their change by hand if they still want it.
			r.store.Apply(store.Upsert{Annotation: conflict.Current})
			m.Status = StatusConflicted
			m.Err = err
			r.notifier.Notify(Notification{
				Severity:     SeverityWarning,
				Message:      "Someone else changed this annotation at the same time. Their version was applied; please retry your change.",
				AnnotationID: id,
			})
			return m
		}

		// The user's intent was not contradicted, only unconfirmed, so
		// the optimistic state stays.
		m.Status = StatusFailed
		m.Err = err
		r.logger.Error("annotation update failed", "annotation_id", id, "error", err)
		r.notifier.Notify(Notification{
			Severity:     SeverityError,
			Message:      "Could not save your change. It is only visible to you until the next successful save.",
			AnnotationID: id,
		})
		return m
	}

	r.store.Apply(store.Upsert{Annotation: saved})
	m.Status = StatusConfirmed
	r.broadcast(models.EventAnnotationUpdated, models.AnnotationEvent{Annotation: saved})
	return m
}

// Delete removes the annotation optimistically. If the server rejects the
// delete, the entity is restored field-identical and the user notified:
// the UI must never keep claiming "deleted" while the server disagrees.
func (r *Reconciler) Delete(ctx context.Context, id string) *Mutation {
	snapshot, ok := r.store.Get(id)
	if !ok {
		return nil
	}

	m := &Mutation{Kind: KindDelete, AnnotationID: id, Status: StatusPending}
	r.store.Apply(store.Remove{ID: id})

	if snapshot.IsPending() {
		// Never persisted; nothing to delete on the server.
		m.Status = StatusConfirmed
		return m
	}

	if err := r.persistence.Delete(ctx, id); err != nil {
		r.store.Apply(store.Upsert{Annotation: snapshot})
		m.Status = StatusFailed
		m.Err = err
		r.logger.Error("annotation delete failed", "annotation_id", id, "error", err)
		r.notifier.Notify(Notification{
			Severity:     SeverityError,
			Message:      "Could not delete the annotation. It has been restored.",
			AnnotationID: id,
		})
		return m
	}

	m.Status = StatusConfirmed
	r.broadcast(models.EventAnnotationDeleted, models.AnnotationDeletedEvent{AnnotationID: id})
	return m
}

func (r *Reconciler) broadcast(eventType string, body any) {
	if r.broadcaster == nil {
		return
	}
	msg, err := models.NewMessage(eventType, body)
	if err != nil {
		r.logger.Error("encoding broadcast failed", "event_type", eventType, "error", err)
		return
	}
	// Peer notification is best effort; durability already came from the
	// persistence call.
	if err := r.broadcaster.Publish(msg); err != nil {
		r.logger.Debug("peer broadcast failed", "event_type", eventType, "error", err)
	}
}
