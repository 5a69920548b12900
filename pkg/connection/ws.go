package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/pagemark/pagemark.go/pkg/constants"
	"github.com/pagemark/pagemark.go/pkg/logger"
	"github.com/pagemark/pagemark.go/pkg/models"
)

// DefaultDialer is the gorilla dialer used by WebSocketChannel. It is the
// default gorilla dialer with compression enabled.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

type Option func(ws *WebSocketChannel) error

var _ Channel = (*WebSocketChannel)(nil)

// wsSession is the lifecycle of a single dial: the socket, its close
// signal, and the error that ended it. Connect installs a fresh session
// for every dial and the read and heartbeat goroutines hold the session
// they were started with, so a goroutine from a previous dial can never
// touch the lifecycle of the current one.
type wsSession struct {
	conn       *gorilla.Conn
	closeChan  chan int
	closeOnce  sync.Once
	closeError error
}

// end closes the session exactly once. closeError is only written by
// whichever side wins this race, before closeChan closes, so readers
// behind the closed channel never see a torn write.
func (s *wsSession) end(err error) {
	s.closeOnce.Do(func() {
		s.closeError = err
		close(s.closeChan)
	})
}

func (s *wsSession) ended() bool {
	select {
	case <-s.closeChan:
		return true
	default:
		return false
	}
}

// WebSocketChannel is the live sync channel for one open document.
//
// A read goroutine decodes inbound envelopes and hands them to the
// registered handler; a heartbeat goroutine keeps the connection alive
// through idle proxies. Both stop when Close is called or the peer goes
// away.
type WebSocketChannel struct {
	baseURL    string
	documentID string
	tokens     TokenSource

	// connLock serializes socket writes and session swaps; the session
	// pointer itself is atomic so Publish and IsDisconnected can load
	// it without contending with writers.
	connLock sync.Mutex
	session  atomic.Pointer[wsSession]

	// HeartbeatInterval controls the presence.heartbeat cadence. Zero
	// disables the heartbeat, which only makes sense in tests.
	HeartbeatInterval time.Duration

	Option []Option
	logger logger.Logger

	handler    MessageHandler
	handlerSet bool
}

// NewWebSocketChannel builds a channel for the given document. baseURL is
// the http(s) origin of the collaboration service; the scheme is rewritten
// for the WebSocket handshake.
func NewWebSocketChannel(baseURL, documentID string, tokens TokenSource) *WebSocketChannel {
	return &WebSocketChannel{
		baseURL:           baseURL,
		documentID:        documentID,
		tokens:            tokens,
		HeartbeatInterval: constants.DefaultHeartbeatInterval,
		logger:            logger.New(os.Stdout),
	}
}

// Logger replaces the channel's logger.
func (ws *WebSocketChannel) Logger(l logger.Logger) *WebSocketChannel {
	ws.logger = l
	return ws
}

// SetHeartbeatInterval overrides the heartbeat cadence before Connect.
func (ws *WebSocketChannel) SetHeartbeatInterval(interval time.Duration) *WebSocketChannel {
	ws.Option = append(ws.Option, func(ws *WebSocketChannel) error {
		ws.HeartbeatInterval = interval
		return nil
	})
	return ws
}

func (ws *WebSocketChannel) OnMessage(handler MessageHandler) {
	ws.handler = handler
	ws.handlerSet = true
}

// websocketURL rewrites the service origin into the per-document socket
// endpoint, attaching the access token as a query parameter the way the
// service expects it.
func (ws *WebSocketChannel) websocketURL() (string, error) {
	if ws.baseURL == "" {
		return "", constants.ErrNoBaseURL
	}
	if ws.documentID == "" {
		return "", constants.ErrNoDocument
	}

	u, err := url.Parse(ws.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	switch u.Scheme {
	case constants.HTTPSecureScheme, constants.WebsocketSecureScheme:
		u.Scheme = constants.WebsocketSecureScheme
	default:
		u.Scheme = constants.WebsocketScheme
	}
	u.Path = fmt.Sprintf("/ws/documents/%s/", ws.documentID)

	if ws.tokens != nil {
		if token := ws.tokens.AccessToken(); token != "" {
			q := u.Query()
			q.Set("token", token)
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), nil
}

// Connect dials the document endpoint and starts the read and heartbeat
// goroutines. Re-dialing after a disconnect installs a fresh session; a
// still-live previous session is ended first.
func (ws *WebSocketChannel) Connect(ctx context.Context) error {
	if !ws.handlerSet {
		return errors.New("OnMessage must be called before Connect")
	}

	endpoint, err := ws.websocketURL()
	if err != nil {
		return err
	}

	connection, res, err := DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	for _, option := range ws.Option {
		if err := option(ws); err != nil {
			connection.Close()
			return err
		}
	}

	s := &wsSession{conn: connection, closeChan: make(chan int)}

	ws.connLock.Lock()
	if old := ws.session.Load(); old != nil && !old.ended() {
		old.end(constants.ErrClosed)
		old.conn.Close()
	}
	ws.session.Store(s)
	ws.connLock.Unlock()

	go ws.readLoop(s)
	if ws.HeartbeatInterval > 0 {
		go ws.heartbeatLoop(s, ws.HeartbeatInterval)
	}
	return nil
}

// Publish writes an envelope to the channel. Returns ErrNotConnected
// before Connect and the close error after Close.
func (ws *WebSocketChannel) Publish(msg models.Message) error {
	s := ws.session.Load()
	if s == nil {
		return constants.ErrNotConnected
	}

	select {
	case <-s.closeChan:
		if s.closeError != nil {
			return s.closeError
		}
		return constants.ErrClosed
	default:
	}

	return ws.write(s, msg)
}

func (ws *WebSocketChannel) write(s *wsSession, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	ws.connLock.Lock()
	defer ws.connLock.Unlock()
	return s.conn.WriteMessage(gorilla.TextMessage, data)
}

// Close closes the channel and stops the read and heartbeat goroutines.
//
// The context lets the caller bound the close handshake when the network
// is unreliable; the connection is torn down locally regardless.
func (ws *WebSocketChannel) Close(ctx context.Context) error {
	ws.connLock.Lock()
	defer ws.connLock.Unlock()

	s := ws.session.Load()
	if s == nil {
		return constants.ErrNotConnected
	}

	// Signal the read and heartbeat goroutines first, so they stop
	// touching the connection while it is being closed.
	s.end(nil)

	// Best effort: let the server know this was a clean close. If the
	// write fails or the context expires we still close the socket to
	// avoid leaking resources locally.
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- s.conn.WriteMessage(
			gorilla.CloseMessage,
			gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""),
		)
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			ws.logger.Error("failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}

	return s.conn.Close()
}

func (ws *WebSocketChannel) readLoop(s *wsSession) {
	for {
		select {
		case <-s.closeChan:
			return
		default:
			_, data, err := s.conn.ReadMessage()
			if err != nil {
				ws.handleError(s, err)
				return
			}
			ws.handleMessage(data)
		}
	}
}

// handleError marks the session ended. Once a gorilla connection returns
// a read error it keeps returning it, so every read error ends the loop;
// the reconnecting wrapper or the next document-open cycle re-dials.
func (ws *WebSocketChannel) handleError(s *wsSession, err error) {
	closeErr := err
	switch {
	case errors.Is(err, net.ErrClosed):
		closeErr = net.ErrClosed
	case gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) ||
		gorilla.IsUnexpectedCloseError(err):
		closeErr = io.ErrClosedPipe
	default:
		ws.logger.Error("collaboration socket read failed", "error", err)
	}
	s.end(closeErr)
}

func (ws *WebSocketChannel) handleMessage(data []byte) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		// Malformed frames are dropped, not fatal: one bad peer event
		// must not take the channel down.
		ws.logger.Error("dropping malformed channel message", "error", err)
		return
	}
	if msg.EventType == "" {
		return
	}
	ws.handler(msg)
}

func (ws *WebSocketChannel) heartbeatLoop(s *wsSession, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	heartbeat, err := models.NewMessage(models.EventPresenceHeartbeat, struct{}{})
	if err != nil {
		panic("unreachable: heartbeat event is always encodable")
	}

	for {
		select {
		case <-s.closeChan:
			return
		case <-ticker.C:
			if err := ws.write(s, heartbeat); err != nil {
				ws.logger.Debug("heartbeat write failed", "error", err)
			}
		}
	}
}

// IsDisconnected reports whether a previously connected channel has
// stopped, either via Close or because the peer went away.
func (ws *WebSocketChannel) IsDisconnected() bool {
	s := ws.session.Load()
	return s != nil && s.ended()
}
