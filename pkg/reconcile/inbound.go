package reconcile

import (
	"encoding/json"
	"fmt"

	"github.com/pagemark/pagemark.go/pkg/models"
	"github.com/pagemark/pagemark.go/pkg/store"
)

// ApplyEvent applies an inbound channel envelope to the store. Presence
// and cursor events are not store concerns and are ignored here; the
// workspace routes them to its presence state.
//
// Both a peer's broadcast and this client's own persistence response can
// carry an update for the same annotation, with no cross-channel sequence
// numbering. Whatever arrives last wins; that narrow non-determinism is an
// accepted property of the protocol, not something to arbitrate here.
func (r *Reconciler) ApplyEvent(msg models.Message) error {
	switch msg.EventType {
	case models.EventDocumentOpened:
		var event models.DocumentOpenedEvent
		if err := json.Unmarshal(msg.Event, &event); err != nil {
			return fmt.Errorf("decoding %s: %w", msg.EventType, err)
		}
		r.store.Apply(store.SetAll{Annotations: event.Annotations})

	case models.EventAnnotationCreated, models.EventAnnotationUpdated:
		var event models.AnnotationEvent
		if err := json.Unmarshal(msg.Event, &event); err != nil {
			return fmt.Errorf("decoding %s: %w", msg.EventType, err)
		}
		if event.Annotation.IsPending() {
			// A peer must never push a temp-id annotation as
			// authoritative; drop it rather than cache it.
			r.logger.Warn("ignoring peer event with temporary id",
				"event_type", msg.EventType, "annotation_id", event.Annotation.ID)
			return nil
		}
		r.store.Apply(store.Upsert{Annotation: event.Annotation})

	case models.EventAnnotationDeleted:
		var event models.AnnotationDeletedEvent
		if err := json.Unmarshal(msg.Event, &event); err != nil {
			return fmt.Errorf("decoding %s: %w", msg.EventType, err)
		}
		r.store.Apply(store.Remove{ID: event.AnnotationID})
	}

	return nil
}
