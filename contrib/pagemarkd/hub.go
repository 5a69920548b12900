package pagemarkd

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	gorilla "github.com/gorilla/websocket"

	"github.com/pagemark/pagemark.go/internal/rand"
	"github.com/pagemark/pagemark.go/pkg/constants"
	"github.com/pagemark/pagemark.go/pkg/logger"
	"github.com/pagemark/pagemark.go/pkg/models"
)

// Hub fans collaboration envelopes out to every connection of a
// document. One group per document id.
type Hub struct {
	store  *Store
	logger logger.Logger

	upgrader gorilla.Upgrader

	mu     sync.Mutex
	groups map[string]map[*hubClient]struct{}
}

type hubClient struct {
	conn         *gorilla.Conn
	documentID   string
	userID       string
	connectionID string

	// send is drained by the client's write loop. A slow consumer gets
	// messages dropped rather than stalling the whole group.
	send chan []byte
}

func NewHub(store *Store, log logger.Logger) *Hub {
	return &Hub{
		store:  store,
		logger: log,
		groups: map[string]map[*hubClient]struct{}{},
	}
}

// ServeDocument upgrades the request and runs the connection until the
// client goes away.
func (h *Hub) ServeDocument(w http.ResponseWriter, r *http.Request, documentID, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "document_id", documentID, "error", err)
		return
	}

	c := &hubClient{
		conn:         conn,
		documentID:   documentID,
		userID:       userID,
		connectionID: rand.String(constants.ConnectionIDLength),
		send:         make(chan []byte, 32),
	}

	h.join(r.Context(), c)
	go c.writeLoop()
	c.readLoop(h)
}

func (h *Hub) join(ctx context.Context, c *hubClient) {
	h.mu.Lock()
	group, ok := h.groups[c.documentID]
	if !ok {
		group = map[*hubClient]struct{}{}
		h.groups[c.documentID] = group
	}
	group[c] = struct{}{}
	h.mu.Unlock()

	if err := h.store.UpsertPresence(ctx, c.documentID, c.userID, c.connectionID); err != nil {
		h.logger.Error("recording presence failed", "connection_id", c.connectionID, "error", err)
	}
	h.logEvent(ctx, c, "presence.join", nil)

	h.sendSnapshot(ctx, c)
	h.broadcastPresence(ctx, c.documentID)
}

func (h *Hub) leave(c *hubClient) {
	h.mu.Lock()
	if group, ok := h.groups[c.documentID]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(h.groups, c.documentID)
		}
	}
	h.mu.Unlock()
	close(c.send)

	ctx := context.Background()
	h.logEvent(ctx, c, "presence.leave", nil)
	if err := h.store.RemovePresence(ctx, c.connectionID); err != nil {
		h.logger.Error("removing presence failed", "connection_id", c.connectionID, "error", err)
	}
	h.broadcastPresence(ctx, c.documentID)
}

// sendSnapshot pushes the current annotation state to a newly joined
// connection so it never renders from a partial picture.
func (h *Hub) sendSnapshot(ctx context.Context, c *hubClient) {
	annotations, err := h.store.ListAnnotations(ctx, c.documentID, 0)
	if err != nil {
		h.logger.Error("loading snapshot failed", "document_id", c.documentID, "error", err)
		return
	}
	msg, err := models.NewMessage(models.EventDocumentOpened, models.DocumentOpenedEvent{
		DocumentID:  c.documentID,
		Annotations: annotations,
	})
	if err != nil {
		return
	}
	c.trySend(mustEncode(msg))
}

func (h *Hub) broadcastPresence(ctx context.Context, documentID string) {
	users, err := h.store.ListPresence(ctx, documentID)
	if err != nil {
		h.logger.Error("listing presence failed", "document_id", documentID, "error", err)
		return
	}
	msg, err := models.NewMessage(models.EventPresenceUpdated, models.PresenceUpdatedEvent{Users: users})
	if err != nil {
		return
	}
	h.Broadcast(documentID, msg)
}

// Broadcast sends an envelope to every connection of the document,
// the originator included.
func (h *Hub) Broadcast(documentID string, msg models.Message) {
	data := mustEncode(msg)

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.groups[documentID] {
		c.trySend(data)
	}
}

func (h *Hub) logEvent(ctx context.Context, c *hubClient, eventType string, event json.RawMessage) {
	if err := h.store.LogEvent(ctx, c.documentID, c.userID, eventType, event); err != nil {
		h.logger.Error("logging collab event failed", "event_type", eventType, "error", err)
	}
}

func (c *hubClient) readLoop(h *Hub) {
	defer func() {
		h.leave(c)
		c.conn.Close()
	}()

	for {
		var msg models.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.EventType == "" {
			continue
		}

		ctx := context.Background()
		if msg.EventType == models.EventPresenceHeartbeat {
			if err := h.store.TouchPresence(ctx, c.connectionID); err != nil {
				h.logger.Error("touching presence failed", "connection_id", c.connectionID, "error", err)
			}
			continue
		}

		msg.UserID = c.userID
		h.logEvent(ctx, c, msg.EventType, msg.Event)
		h.Broadcast(c.documentID, msg)
	}
}

func (c *hubClient) writeLoop() {
	for data := range c.send {
		if err := c.conn.WriteMessage(gorilla.TextMessage, data); err != nil {
			return
		}
	}
}

func (c *hubClient) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

func mustEncode(msg models.Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		// Message bodies are raw JSON already; marshalling the
		// envelope cannot fail.
		panic(err)
	}
	return data
}
