package pagemarkd_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagemark/pagemark.go/contrib/pagemarkd"
	"github.com/pagemark/pagemark.go/pkg/connection"
	"github.com/pagemark/pagemark.go/pkg/logger"
	"github.com/pagemark/pagemark.go/pkg/models"
)

// The server is exercised through the real client: HTTPPersistence for
// REST and WebSocketChannel for the collaboration endpoint.

func newTestServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	store, err := pagemarkd.OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv := pagemarkd.NewServer(store, logger.New(testWriter{t}), pagemarkd.Config{AuthToken: token})
	httpServer := httptest.NewServer(srv.Router())
	t.Cleanup(httpServer.Close)
	return httpServer
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func draft() models.Annotation {
	return models.Annotation{
		ID:         models.NewTempID(),
		DocumentID: "doc-1",
		Page:       1,
		Type:       models.TypeHighlight,
		Rects:      []models.Rect{{X: 10, Y: 10, Width: 100, Height: 30}},
		Style:      models.Style{Color: "#facc15", Opacity: 0.35, Thickness: 2},
		Author:     "alice",
	}
}

func TestAnnotationLifecycleOverREST(t *testing.T) {
	httpServer := newTestServer(t, "")
	client := connection.NewHTTPPersistence(httpServer.URL, nil)
	ctx := context.Background()

	saved, err := client.Create(ctx, "ver-1", draft())
	require.NoError(t, err)
	assert.False(t, models.IsTempID(saved.ID))
	assert.Equal(t, 1, saved.Revision)

	list, err := client.List(ctx, "ver-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, saved.ID, list[0].ID)

	content := "needs a citation"
	updated, err := client.Update(ctx, saved.ID, models.Patch{Content: &content}, saved.Revision)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Revision)
	assert.Equal(t, content, updated.Content)

	// A second writer with the original revision must lose and get the
	// current entity back.
	other := "competing edit"
	_, err = client.Update(ctx, saved.ID, models.Patch{Content: &other}, saved.Revision)
	require.Error(t, err)
	conflict, ok := connection.AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, 2, conflict.Current.Revision)
	assert.Equal(t, content, conflict.Current.Content)

	require.NoError(t, client.Delete(ctx, saved.ID))

	list, err = client.List(ctx, "ver-1")
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.Error(t, client.Delete(ctx, saved.ID))
}

func TestRESTRequiresToken(t *testing.T) {
	httpServer := newTestServer(t, "secret")
	ctx := context.Background()

	unauthenticated := connection.NewHTTPPersistence(httpServer.URL, nil)
	_, err := unauthenticated.List(ctx, "ver-1")
	assert.Error(t, err)

	authenticated := connection.NewHTTPPersistence(httpServer.URL, connection.StaticToken("secret"))
	_, err = authenticated.List(ctx, "ver-1")
	assert.NoError(t, err)
}

func openChannel(t *testing.T, baseURL, documentID string) (*connection.WebSocketChannel, chan models.Message) {
	t.Helper()
	received := make(chan models.Message, 16)
	ch := connection.NewWebSocketChannel(baseURL, documentID, nil)
	ch.OnMessage(func(msg models.Message) { received <- msg })
	require.NoError(t, ch.Connect(context.Background()))
	t.Cleanup(func() { _ = ch.Close(context.Background()) })
	return ch, received
}

func waitFor(t *testing.T, received chan models.Message, eventType string) models.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-received:
			if msg.EventType == eventType {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func TestWebSocketSnapshotOnConnect(t *testing.T) {
	httpServer := newTestServer(t, "")
	client := connection.NewHTTPPersistence(httpServer.URL, nil)

	saved, err := client.Create(context.Background(), "doc-1", draft())
	require.NoError(t, err)

	_, received := openChannel(t, httpServer.URL, "doc-1")

	snapshot := waitFor(t, received, models.EventDocumentOpened)
	var opened models.DocumentOpenedEvent
	require.NoError(t, json.Unmarshal(snapshot.Event, &opened))
	require.Len(t, opened.Annotations, 1)
	assert.Equal(t, saved.ID, opened.Annotations[0].ID)

	presence := waitFor(t, received, models.EventPresenceUpdated)
	var users models.PresenceUpdatedEvent
	require.NoError(t, json.Unmarshal(presence.Event, &users))
	assert.Len(t, users.Users, 1)
}

func TestWebSocketBroadcastBetweenClients(t *testing.T) {
	httpServer := newTestServer(t, "")

	first, firstReceived := openChannel(t, httpServer.URL, "doc-1")
	_, secondReceived := openChannel(t, httpServer.URL, "doc-1")

	waitFor(t, firstReceived, models.EventDocumentOpened)
	waitFor(t, secondReceived, models.EventDocumentOpened)

	msg, err := models.NewMessage(models.EventAnnotationCreated, models.AnnotationEvent{
		Annotation: models.Annotation{ID: "srv-1", Page: 1, Type: models.TypeNote, Revision: 1},
	})
	require.NoError(t, err)
	require.NoError(t, first.Publish(msg))

	got := waitFor(t, secondReceived, models.EventAnnotationCreated)
	var event models.AnnotationEvent
	require.NoError(t, json.Unmarshal(got.Event, &event))
	assert.Equal(t, "srv-1", event.Annotation.ID)
}

// The client SDK has no comment surface, so the comment endpoints are
// exercised with plain HTTP requests.
func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, payload
}

func TestCommentLifecycleOverREST(t *testing.T) {
	httpServer := newTestServer(t, "")
	base := httpServer.URL + "/documents/doc-1/comments"

	resp, payload := doJSON(t, http.MethodPost, base, map[string]any{
		"body":   "looks wrong on page 3",
		"author": "alice",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created pagemarkd.Comment
	require.NoError(t, json.Unmarshal(payload, &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Revision)
	assert.Equal(t, "doc-1", created.DocumentID)

	// A threaded reply references the parent.
	resp, payload = doJSON(t, http.MethodPost, base, map[string]any{
		"body":      "fixed in the latest upload",
		"author":    "bob",
		"parent_id": created.ID,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var reply pagemarkd.Comment
	require.NoError(t, json.Unmarshal(payload, &reply))
	assert.Equal(t, created.ID, reply.ParentID)

	resp, payload = doJSON(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []pagemarkd.Comment
	require.NoError(t, json.Unmarshal(payload, &listed))
	require.Len(t, listed, 2)

	commentURL := httpServer.URL + "/comments/" + created.ID
	resp, payload = doJSON(t, http.MethodPatch, commentURL, map[string]any{
		"body":     "looks wrong on page 4",
		"revision": 1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated pagemarkd.Comment
	require.NoError(t, json.Unmarshal(payload, &updated))
	assert.Equal(t, 2, updated.Revision)

	// An edit against the superseded revision gets the current comment
	// back in the conflict body.
	resp, payload = doJSON(t, http.MethodPatch, commentURL, map[string]any{
		"body":     "competing edit",
		"revision": 1,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var conflict struct {
		Detail  string            `json:"detail"`
		Comment pagemarkd.Comment `json:"comment"`
	}
	require.NoError(t, json.Unmarshal(payload, &conflict))
	assert.Equal(t, 2, conflict.Comment.Revision)
	assert.Equal(t, "looks wrong on page 4", conflict.Comment.Body)

	resp, _ = doJSON(t, http.MethodDelete, commentURL, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPatch, commentURL, map[string]any{
		"body":     "too late",
		"revision": 2,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCommentValidationOverREST(t *testing.T) {
	httpServer := newTestServer(t, "")
	base := httpServer.URL + "/documents/doc-1/comments"

	resp, _ := doJSON(t, http.MethodPost, base, map[string]any{"body": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, base, map[string]any{
		"body":      "reply to nothing",
		"parent_id": "missing",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPatch, httpServer.URL+"/comments/any", map[string]any{
		"body": "missing revision",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketRequiresToken(t *testing.T) {
	httpServer := newTestServer(t, "secret")

	ch := connection.NewWebSocketChannel(httpServer.URL, "doc-1", nil)
	ch.OnMessage(func(models.Message) {})
	assert.Error(t, ch.Connect(context.Background()))

	authed := connection.NewWebSocketChannel(httpServer.URL, "doc-1", connection.StaticToken("secret"))
	authed.OnMessage(func(models.Message) {})
	require.NoError(t, authed.Connect(context.Background()))
	_ = authed.Close(context.Background())
}
