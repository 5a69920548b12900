// Package fakecollab provides a fake collaboration WebSocket server for
// testing the sync channel. It accepts connections at any path, records
// every envelope a client sends, and can broadcast envelopes to all
// connected clients.
package fakecollab

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	gorilla "github.com/gorilla/websocket"

	"github.com/pagemark/pagemark.go/pkg/models"
)

type Server struct {
	httpServer *httptest.Server
	upgrader   gorilla.Upgrader

	mu    sync.Mutex
	conns map[*gorilla.Conn]struct{}

	// Received delivers every envelope sent by any client, heartbeats
	// included. Buffered so slow tests don't stall the server.
	Received chan models.Message

	// LastQuery records the query string of the most recent handshake,
	// so tests can assert on token attachment.
	LastQuery string

	// Annotations is served as the list response for plain HTTP GETs,
	// letting session tests exercise the initial load.
	Annotations []models.Annotation

	// FailList makes plain HTTP GETs return a server error.
	FailList bool
}

func New() *Server {
	s := &Server{
		conns:    map[*gorilla.Conn]struct{}{},
		Received: make(chan models.Message, 64),
	}
	s.httpServer = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the http:// origin of the fake server.
func (s *Server) URL() string {
	return s.httpServer.URL
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if !gorilla.IsWebSocketUpgrade(r) {
		s.handleList(w)
		return
	}

	s.mu.Lock()
	s.LastQuery = r.URL.RawQuery
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	go s.readLoop(conn)
}

func (s *Server) handleList(w http.ResponseWriter) {
	s.mu.Lock()
	failList := s.FailList
	annotations := append([]models.Annotation(nil), s.Annotations...)
	s.mu.Unlock()

	if failList {
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(annotations)
}

func (s *Server) readLoop(conn *gorilla.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		s.Received <- msg
	}
}

// Broadcast sends an envelope to every connected client.
func (s *Server) Broadcast(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.WriteJSON(msg)
	}
}

// DropClients force-closes every client connection without a close
// handshake, simulating a network drop.
func (s *Server) DropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}

// ClientCount returns the number of currently connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) Close() {
	s.DropClients()
	s.httpServer.Close()
}
