package models

import (
	"encoding/json"
	"fmt"
)

// Event types carried by the collaboration channel envelope.
const (
	EventDocumentOpened    = "document.opened"
	EventPresenceUpdated   = "presence.updated"
	EventPresenceHeartbeat = "presence.heartbeat"
	EventAnnotationCreated = "annotation.created"
	EventAnnotationUpdated = "annotation.updated"
	EventAnnotationDeleted = "annotation.deleted"
	EventCursorUpdated     = "cursor.updated"
)

// Message is the channel envelope: an event type and an opaque body whose
// shape depends on the type.
type Message struct {
	EventType string          `json:"event_type"`
	Event     json.RawMessage `json:"event"`
	UserID    string          `json:"user_id,omitempty"`
}

// NewMessage marshals body into an envelope.
func NewMessage(eventType string, body any) (Message, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s event: %w", eventType, err)
	}
	return Message{EventType: eventType, Event: raw}, nil
}

// DocumentOpenedEvent delivers the initial annotation snapshot when a
// client joins a document.
type DocumentOpenedEvent struct {
	DocumentID  string       `json:"document_id"`
	Annotations []Annotation `json:"annotations"`
}

// Collaborator is one connected editor as reported by presence updates.
type Collaborator struct {
	ID   string `json:"user_id"`
	Name string `json:"name,omitempty"`
}

// PresenceUpdatedEvent carries the full current collaborator set.
type PresenceUpdatedEvent struct {
	Users []Collaborator `json:"users"`
}

// AnnotationEvent wraps a confirmed annotation pushed by a peer.
type AnnotationEvent struct {
	Annotation Annotation `json:"annotation"`
}

// AnnotationDeletedEvent identifies a removed annotation.
type AnnotationDeletedEvent struct {
	AnnotationID string `json:"annotation_id"`
}

// CursorEvent is a peer pointer position in page space. It is rendered as
// a transient overlay and never persisted.
type CursorEvent struct {
	UserID string  `json:"user_id"`
	Page   int     `json:"page"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// collaboratorColors is the palette cursors and badges are drawn from.
var collaboratorColors = []string{
	"#f43f5e", "#22c55e", "#0ea5e9", "#f59e0b", "#7c3aed", "#14b8a6",
}

// ColorForID derives a stable color for a collaborator from their id, so a
// peer keeps the same badge color across reconnects.
func ColorForID(id string) string {
	var hash uint32
	for _, r := range id {
		hash = hash*31 + uint32(r)
	}
	return collaboratorColors[int(hash)%len(collaboratorColors)]
}
