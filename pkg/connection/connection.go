// Package connection provides the two network legs of the collaboration
// SDK: the per-document WebSocket sync channel delivering live peer
// events, and the HTTP persistence client that is the durable source of
// truth for annotation mutations.
package connection

import (
	"context"

	"github.com/pagemark/pagemark.go/pkg/models"
)

// TokenSource supplies the access token attached to every request and to
// the channel handshake. Token refresh and 401 recovery live behind this
// interface; the SDK only ever asks for the current token.
type TokenSource interface {
	AccessToken() string
}

// StaticToken is a TokenSource for a fixed token, mostly useful in tests.
type StaticToken string

func (s StaticToken) AccessToken() string { return string(s) }

// MessageHandler receives every inbound envelope from the sync channel.
// It is invoked from the channel's read goroutine; handlers hand off to
// the store, which serializes access.
type MessageHandler func(models.Message)

// Channel is a persistent bidirectional connection scoped to one open
// document. It is established when the document is opened and torn down
// when the document is closed or changed.
type Channel interface {
	// Connect dials the channel and starts delivering inbound messages
	// to the handler registered with OnMessage.
	Connect(ctx context.Context) error

	// Publish sends an envelope to the service for fan-out to peers.
	// It is a low-latency notification path; durability comes from the
	// persistence client, not from Publish.
	Publish(msg models.Message) error

	// OnMessage registers the inbound handler. Must be called before
	// Connect.
	OnMessage(handler MessageHandler)

	// Close tears the connection down and cancels the heartbeat.
	Close(ctx context.Context) error
}

// Broadcaster is the narrow outbound capability handed to components that
// only ever publish (the interaction controller and the reconciler). It
// replaces the original design's module-level mutable socket reference, so
// the channel is injectable and trivially mockable.
type Broadcaster interface {
	Publish(msg models.Message) error
}
