package connection

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ReconnectingChannelState tracks where the wrapper is in its lifecycle,
// so a re-dial can never race a deliberate teardown.
type ReconnectingChannelState int

const (
	ReconnectingChannelStateUnknown ReconnectingChannelState = iota
	ReconnectingChannelStateConnecting
	ReconnectingChannelStateConnected
	ReconnectingChannelStateDisconnecting
	ReconnectingChannelStateDisconnected
)

func (s ReconnectingChannelState) String() string {
	switch s {
	case ReconnectingChannelStateConnecting:
		return "connecting"
	case ReconnectingChannelStateConnected:
		return "connected"
	case ReconnectingChannelStateDisconnecting:
		return "disconnecting"
	case ReconnectingChannelStateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// TransitionTo validates a lifecycle edge. Invalid edges surface as
// errors instead of silently corrupting the wrapper's state.
func (s ReconnectingChannelState) TransitionTo(
	newState ReconnectingChannelState,
) (ReconnectingChannelState, error) {
	switch s {
	case ReconnectingChannelStateConnecting:
		switch newState {
		case ReconnectingChannelStateConnected, ReconnectingChannelStateDisconnected:
			return newState, nil
		}
	case ReconnectingChannelStateConnected:
		switch newState {
		case ReconnectingChannelStateDisconnecting, ReconnectingChannelStateDisconnected:
			return newState, nil
		}
	case ReconnectingChannelStateDisconnecting:
		if newState == ReconnectingChannelStateDisconnected {
			return newState, nil
		}
	case ReconnectingChannelStateDisconnected:
		switch newState {
		case ReconnectingChannelStateConnecting, ReconnectingChannelStateDisconnected:
			return newState, nil
		}
	}

	return ReconnectingChannelStateUnknown,
		fmt.Errorf("invalid channel state transition from %v to %v", s, newState)
}

// ReconnectingChannel wraps a WebSocketChannel and re-dials the document
// endpoint when the connection drops after a successful initial Connect.
// A reconnected peer receives a fresh document.opened snapshot from the
// server, so no replay buffer is needed on this side.
//
// The initial Connect failing is left to the caller: the document view
// falls back to a degraded non-live mode, and the next document-open
// cycle retries.
type ReconnectingChannel struct {
	*WebSocketChannel

	// CheckInterval is how often the wrapper checks whether the channel
	// dropped. Defaults to 5 seconds.
	CheckInterval time.Duration

	connCloseCh       chan int
	reconnLoopCloseCh chan int

	state ReconnectingChannelState

	mu sync.Mutex
}

var _ Channel = (*ReconnectingChannel)(nil)

func NewReconnectingChannel(c *WebSocketChannel, checkInterval time.Duration) *ReconnectingChannel {
	return &ReconnectingChannel{
		WebSocketChannel: c,
		state:            ReconnectingChannelStateDisconnected,
		CheckInterval:    checkInterval,
	}
}

func (rc *ReconnectingChannel) transitionTo(newState ReconnectingChannelState) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	newState, err := rc.state.TransitionTo(newState)
	if err != nil {
		return err
	}

	rc.state = newState
	rc.logger.Debug("sync channel state changed", "state", newState.String())

	return nil
}

func (rc *ReconnectingChannel) mustTransitionTo(newState ReconnectingChannelState) {
	if err := rc.transitionTo(newState); err != nil {
		panic(fmt.Sprintf("BUG: %v", err))
	}
}

func (rc *ReconnectingChannel) Connect(ctx context.Context) error {
	if err := rc.transitionTo(ReconnectingChannelStateConnecting); err != nil {
		return err
	}

	if err := rc.WebSocketChannel.Connect(ctx); err != nil {
		rc.mustTransitionTo(ReconnectingChannelStateDisconnected)
		return err
	}

	rc.connCloseCh = make(chan int, 1)
	rc.reconnLoopCloseCh = make(chan int, 1)

	go rc.reconnectionLoop()

	rc.mustTransitionTo(ReconnectingChannelStateConnected)

	return nil
}

// Close stops the reconnection loop first, so it cannot re-dial a channel
// the caller just tore down, then closes the underlying connection.
func (rc *ReconnectingChannel) Close(ctx context.Context) error {
	if err := rc.transitionTo(ReconnectingChannelStateDisconnecting); err != nil {
		return fmt.Errorf("channel is already closing or closed: %w", err)
	}

	defer func() {
		rc.mustTransitionTo(ReconnectingChannelStateDisconnected)
	}()

	close(rc.connCloseCh)
	<-rc.reconnLoopCloseCh

	return rc.WebSocketChannel.Close(ctx)
}

func (rc *ReconnectingChannel) reconnectionLoop() {
	checkInterval := 5 * time.Second
	if rc.CheckInterval > 0 {
		checkInterval = rc.CheckInterval
	}

	defer func() {
		close(rc.reconnLoopCloseCh)
	}()

	for {
		select {
		case <-rc.connCloseCh:
			return
		case <-time.After(checkInterval):
		}

		if rc.WebSocketChannel.IsDisconnected() {
			rc.logger.Info("document channel dropped, re-dialing",
				"document_id", rc.documentID)
			if err := rc.WebSocketChannel.Connect(context.Background()); err != nil {
				rc.logger.Error("re-dialing document channel failed",
					"document_id", rc.documentID, "error", err)
			} else {
				rc.logger.Info("document channel restored",
					"document_id", rc.documentID)
			}
		}
	}
}
