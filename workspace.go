package pagemark

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pagemark/pagemark.go/pkg/connection"
	"github.com/pagemark/pagemark.go/pkg/constants"
	"github.com/pagemark/pagemark.go/pkg/controller"
	"github.com/pagemark/pagemark.go/pkg/logger"
	"github.com/pagemark/pagemark.go/pkg/models"
	"github.com/pagemark/pagemark.go/pkg/reconcile"
	"github.com/pagemark/pagemark.go/pkg/store"
)

// Config configures a collaboration session for one document version.
type Config struct {
	// BaseURL is the backend origin, http(s) or ws(s) scheme.
	BaseURL string
	// DocumentID is the document version to open.
	DocumentID string
	// Author is the local user's id, stamped on authored annotations.
	Author string
	// Tokens supplies the bearer token for HTTP and the channel
	// handshake. Optional.
	Tokens connection.TokenSource
	// Notifier receives user-facing mutation outcomes. Defaults to a
	// no-op sink.
	Notifier reconcile.Notifier
	// Reconnect enables the self-healing channel wrapper with the given
	// check interval; zero disables reconnection.
	Reconnect time.Duration
	// Logger defaults to zerolog on stdout.
	Logger logger.Logger
}

// Session is one open document: the store, sync channel, reconciler, and
// interaction controller wired together. Create it with [Open].
type Session struct {
	cfg         Config
	store       *store.Store
	channel     connection.Channel
	persistence connection.Persistence
	reconciler  *reconcile.Reconciler
	controller  *controller.Controller
	logger      logger.Logger

	presence presenceState

	// cancelled guards the initial load: a session closed while the
	// list request is in flight must not apply the stale response.
	cancelled atomic.Bool
	closeOnce sync.Once
}

// presenceState tracks who else has the document open and where their
// cursors are. It is never persisted and is cleared on disconnect.
type presenceState struct {
	mu            sync.RWMutex
	collaborators map[string]models.Collaborator
	cursors       map[string]models.CursorEvent
}

// Open creates a session, connects the sync channel, and loads the
// initial annotation list. A failed list request yields an empty document
// rather than an error: collaboration still works and later events fill
// the store.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.BaseURL == "" {
		return nil, constants.ErrNoBaseURL
	}
	if cfg.DocumentID == "" {
		return nil, constants.ErrNoDocument
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.New(os.Stdout)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = reconcile.NopNotifier{}
	}

	s := &Session{
		cfg:         cfg,
		store:       store.New(),
		persistence: connection.NewHTTPPersistence(cfg.BaseURL, cfg.Tokens),
		logger:      cfg.Logger,
		presence: presenceState{
			collaborators: make(map[string]models.Collaborator),
			cursors:       make(map[string]models.CursorEvent),
		},
	}

	ws := connection.NewWebSocketChannel(cfg.BaseURL, cfg.DocumentID, cfg.Tokens).
		Logger(cfg.Logger)
	if cfg.Reconnect > 0 {
		s.channel = connection.NewReconnectingChannel(ws, cfg.Reconnect)
	} else {
		s.channel = ws
	}

	s.reconciler = reconcile.New(s.store, s.persistence, s.channel, cfg.DocumentID).
		Notifier(cfg.Notifier).
		Logger(cfg.Logger)
	s.controller = controller.New(s.store, s.reconciler, s.channel, cfg.DocumentID, cfg.Author).
		Logger(cfg.Logger)

	s.channel.OnMessage(s.dispatch)
	if err := s.channel.Connect(ctx); err != nil {
		return nil, err
	}

	s.loadInitial(ctx)
	return s, nil
}

func (s *Session) loadInitial(ctx context.Context) {
	annotations, err := s.persistence.List(ctx, s.cfg.DocumentID)
	if err != nil {
		s.logger.Warn("initial annotation load failed, starting empty",
			"document_id", s.cfg.DocumentID, "error", err)
		annotations = nil
	}
	if s.cancelled.Load() {
		// The user navigated away while the request was in flight.
		return
	}
	s.store.Apply(store.SetAll{Annotations: annotations})
}

// Store exposes the normalized annotation state for rendering.
func (s *Session) Store() *store.Store {
	return s.store
}

// Controller exposes the pointer-event state machine for the input layer.
func (s *Session) Controller() *controller.Controller {
	return s.controller
}

// Reconciler exposes the mutation protocol for callers that bypass the
// controller.
func (s *Session) Reconciler() *reconcile.Reconciler {
	return s.reconciler
}

func (s *Session) dispatch(msg models.Message) {
	switch msg.EventType {
	case models.EventPresenceUpdated:
		var event models.PresenceUpdatedEvent
		if err := json.Unmarshal(msg.Event, &event); err != nil {
			s.logger.Warn("malformed presence event", "error", err)
			return
		}
		s.presence.setCollaborators(event.Users)

	case models.EventCursorUpdated:
		var event models.CursorEvent
		if err := json.Unmarshal(msg.Event, &event); err != nil {
			s.logger.Warn("malformed cursor event", "error", err)
			return
		}
		if event.UserID == s.cfg.Author {
			return
		}
		s.presence.setCursor(event)

	default:
		if err := s.reconciler.ApplyEvent(msg); err != nil {
			s.logger.Warn("dropping malformed channel event",
				"event_type", msg.EventType, "error", err)
		}
	}
}

// Collaborators returns the users currently viewing the document, with
// their deterministic overlay colors.
func (s *Session) Collaborators() []CollaboratorPresence {
	return s.presence.collaboratorList()
}

// Cursors returns the latest known peer cursor positions in page space.
func (s *Session) Cursors() []models.CursorEvent {
	return s.presence.cursorList()
}

// CollaboratorPresence pairs a collaborator with their assigned color.
type CollaboratorPresence struct {
	models.Collaborator
	Color string
}

// Close cancels any in-flight initial load, clears presence, and closes
// the channel.
func (s *Session) Close(ctx context.Context) error {
	err := constants.ErrClosed
	s.closeOnce.Do(func() {
		s.cancelled.Store(true)
		s.presence.clear()
		err = s.channel.Close(ctx)
	})
	return err
}

func (p *presenceState) setCollaborators(users []models.Collaborator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[string]struct{}, len(users))
	for _, u := range users {
		p.collaborators[u.ID] = u
		seen[u.ID] = struct{}{}
	}
	for id := range p.collaborators {
		if _, ok := seen[id]; !ok {
			delete(p.collaborators, id)
			delete(p.cursors, id)
		}
	}
}

func (p *presenceState) setCursor(event models.CursorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursors[event.UserID] = event
}

func (p *presenceState) collaboratorList() []CollaboratorPresence {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]CollaboratorPresence, 0, len(p.collaborators))
	for _, c := range p.collaborators {
		out = append(out, CollaboratorPresence{
			Collaborator: c,
			Color:        models.ColorForID(c.ID),
		})
	}
	return out
}

func (p *presenceState) cursorList() []models.CursorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.CursorEvent, 0, len(p.cursors))
	for _, c := range p.cursors {
		out = append(out, c)
	}
	return out
}

func (p *presenceState) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collaborators = make(map[string]models.Collaborator)
	p.cursors = make(map[string]models.CursorEvent)
}
