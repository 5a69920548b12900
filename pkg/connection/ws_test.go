package connection_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemark/pagemark.go/internal/fakecollab"
	"github.com/pagemark/pagemark.go/pkg/connection"
	"github.com/pagemark/pagemark.go/pkg/models"
)

func newTestChannel(t *testing.T, server *fakecollab.Server) (*connection.WebSocketChannel, chan models.Message) {
	t.Helper()

	inbound := make(chan models.Message, 16)
	ch := connection.NewWebSocketChannel(server.URL(), "doc-1", connection.StaticToken("secret"))
	ch.OnMessage(func(msg models.Message) {
		inbound <- msg
	})
	return ch, inbound
}

func TestChannelPublishAndReceive(t *testing.T) {
	server := fakecollab.New()
	defer server.Close()

	ch, inbound := newTestChannel(t, server)
	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Close(context.Background())

	out, err := models.NewMessage(models.EventCursorUpdated, models.CursorEvent{
		UserID: "me", Page: 1, X: 10, Y: 20,
	})
	require.NoError(t, err)
	require.NoError(t, ch.Publish(out))

	select {
	case got := <-server.Received:
		assert.Equal(t, models.EventCursorUpdated, got.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the published message")
	}

	push, err := models.NewMessage(models.EventAnnotationDeleted, models.AnnotationDeletedEvent{
		AnnotationID: "a1",
	})
	require.NoError(t, err)
	server.Broadcast(push)

	select {
	case got := <-inbound:
		assert.Equal(t, models.EventAnnotationDeleted, got.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not receive the broadcast")
	}
}

func TestChannelAttachesToken(t *testing.T) {
	server := fakecollab.New()
	defer server.Close()

	ch, _ := newTestChannel(t, server)
	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Close(context.Background())

	assert.Contains(t, server.LastQuery, "token=secret")
}

func TestChannelHeartbeat(t *testing.T) {
	server := fakecollab.New()
	defer server.Close()

	ch, _ := newTestChannel(t, server)
	ch.SetHeartbeatInterval(20 * time.Millisecond)
	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Close(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-server.Received:
			if msg.EventType == models.EventPresenceHeartbeat {
				return
			}
		case <-deadline:
			t.Fatal("no heartbeat observed")
		}
	}
}

func TestChannelCloseStopsPublish(t *testing.T) {
	server := fakecollab.New()
	defer server.Close()

	ch, _ := newTestChannel(t, server)
	require.NoError(t, ch.Connect(context.Background()))
	require.NoError(t, ch.Close(context.Background()))

	msg, err := models.NewMessage(models.EventPresenceHeartbeat, struct{}{})
	require.NoError(t, err)
	assert.Error(t, ch.Publish(msg))
	assert.True(t, ch.IsDisconnected())
}

func TestChannelRequiresHandler(t *testing.T) {
	ch := connection.NewWebSocketChannel("http://localhost:0", "doc-1", nil)
	assert.Error(t, ch.Connect(context.Background()))
}

func TestChannelDetectsServerDrop(t *testing.T) {
	server := fakecollab.New()
	defer server.Close()

	ch, _ := newTestChannel(t, server)
	require.NoError(t, ch.Connect(context.Background()))

	server.DropClients()

	require.Eventually(t, ch.IsDisconnected, 2*time.Second, 10*time.Millisecond)
}

func TestReconnectingChannelRedials(t *testing.T) {
	server := fakecollab.New()
	defer server.Close()

	base, _ := newTestChannel(t, server)
	base.SetHeartbeatInterval(0)
	rc := connection.NewReconnectingChannel(base, 20*time.Millisecond)

	require.NoError(t, rc.Connect(context.Background()))
	defer rc.Close(context.Background())

	require.Eventually(t, func() bool { return server.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	server.DropClients()
	require.Eventually(t, func() bool { return server.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, rc.IsDisconnected())
}

// Publishing and disconnect checks must stay safe while the wrapper
// re-dials from its own goroutine, including across many back-to-back
// drops.
func TestReconnectingChannelSurvivesDropsWhilePublishing(t *testing.T) {
	server := fakecollab.New()
	defer server.Close()

	base, _ := newTestChannel(t, server)
	base.SetHeartbeatInterval(0)
	rc := connection.NewReconnectingChannel(base, 10*time.Millisecond)

	require.NoError(t, rc.Connect(context.Background()))

	msg, err := models.NewMessage(models.EventPresenceHeartbeat, struct{}{})
	require.NoError(t, err)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				_ = rc.Publish(msg)
				_ = rc.IsDisconnected()
			}
		}
	}()

	for i := 0; i < 10; i++ {
		require.Eventually(t, func() bool { return server.ClientCount() == 1 },
			2*time.Second, 5*time.Millisecond)
		server.DropClients()
	}
	require.Eventually(t, func() bool { return server.ClientCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	close(stop)
	<-done
	require.NoError(t, rc.Close(context.Background()))
}

func TestReconnectingChannelDoubleCloseFails(t *testing.T) {
	server := fakecollab.New()
	defer server.Close()

	base, _ := newTestChannel(t, server)
	rc := connection.NewReconnectingChannel(base, time.Second)

	require.NoError(t, rc.Connect(context.Background()))
	require.NoError(t, rc.Close(context.Background()))
	assert.Error(t, rc.Close(context.Background()))
}
