package constants

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNoBaseURL      = errors.New("base url not set")
	ErrNoDocument     = errors.New("document not set")
	ErrClosed         = errors.New("channel is closed")
	ErrNotConnected   = errors.New("channel is not connected")
	ErrTimeout        = errors.New("timeout")
	ErrAnnotationGone = errors.New("annotation no longer exists")
)

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
)

const (
	// DefaultHeartbeatInterval keeps idle proxies from dropping the
	// collaboration socket.
	DefaultHeartbeatInterval = 25 * time.Second

	// DefaultHTTPTimeout bounds every persistence request. A timed-out
	// request is surfaced the same way as any other failed request.
	DefaultHTTPTimeout = 10 * time.Second

	// DefaultSampleInterval bounds how often freehand draft points are
	// recorded while the pointer is held down.
	DefaultSampleInterval = 16 * time.Millisecond

	// MinDraftSize is the screen-space width/height below which a drag
	// draft is discarded instead of committed.
	MinDraftSize = 4.0

	// MinPointDistance is the screen-space distance below which adjacent
	// freehand points are collapsed during simplification.
	MinPointDistance = 2.0

	ConnectionIDLength = 16
)
