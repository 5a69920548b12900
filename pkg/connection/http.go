package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pagemark/pagemark.go/pkg/constants"
	"github.com/pagemark/pagemark.go/pkg/models"
)

// ConflictError is returned by Update when the server rejected a patch
// because the client's known revision is stale. It carries the server's
// current authoritative entity so the caller can overwrite local state.
type ConflictError struct {
	Current models.Annotation
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("annotation %s was changed concurrently (server revision %d)",
		e.Current.ID, e.Current.Revision)
}

// AsConflict unwraps err into a ConflictError, if it is one.
func AsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	ok := errors.As(err, &conflict)
	return conflict, ok
}

// apiError is the service's error body.
type apiError struct {
	Detail string `json:"detail"`
}

// Persistence is the request/response annotation API. The sync channel
// notifies peers; this client is what actually makes a mutation durable.
type Persistence interface {
	List(ctx context.Context, versionID string) ([]models.Annotation, error)
	Create(ctx context.Context, versionID string, a models.Annotation) (models.Annotation, error)
	Update(ctx context.Context, id string, p models.Patch, knownRevision int) (models.Annotation, error)
	Delete(ctx context.Context, id string) error
}

// HTTPPersistence implements Persistence against the REST API.
type HTTPPersistence struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

var _ Persistence = (*HTTPPersistence)(nil)

func NewHTTPPersistence(baseURL string, tokens TokenSource) *HTTPPersistence {
	return &HTTPPersistence{
		baseURL: baseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: constants.DefaultHTTPTimeout,
		},
	}
}

// SetTimeout overrides the per-request timeout.
func (h *HTTPPersistence) SetTimeout(timeout time.Duration) *HTTPPersistence {
	h.httpClient.Timeout = timeout
	return h
}

// SetHTTPClient swaps the underlying client, e.g. for a transport with
// custom TLS configuration.
func (h *HTTPPersistence) SetHTTPClient(client *http.Client) *HTTPPersistence {
	h.httpClient = client
	return h
}

// List fetches the annotations of a document version. A malformed body is
// treated as an empty list: a broken snapshot must not block opening the
// document.
func (h *HTTPPersistence) List(ctx context.Context, versionID string) ([]models.Annotation, error) {
	body, err := h.do(ctx, http.MethodGet, fmt.Sprintf("/versions/%s/annotations", versionID), nil)
	if err != nil {
		return nil, err
	}

	var annotations []models.Annotation
	if err := json.Unmarshal(body, &annotations); err != nil {
		return []models.Annotation{}, nil
	}
	return annotations, nil
}

// Create persists a new annotation. The response carries the server id and
// the initial revision.
func (h *HTTPPersistence) Create(ctx context.Context, versionID string, a models.Annotation) (models.Annotation, error) {
	body, err := h.do(ctx, http.MethodPost, fmt.Sprintf("/versions/%s/annotations", versionID), a)
	if err != nil {
		return models.Annotation{}, err
	}

	var saved models.Annotation
	if err := json.Unmarshal(body, &saved); err != nil {
		return models.Annotation{}, fmt.Errorf("decoding created annotation: %w", err)
	}
	return saved, nil
}

// updateRequest is the PATCH body: the changed fields plus the revision
// the client believes is current.
type updateRequest struct {
	models.Patch
	Revision int `json:"revision"`
}

// conflictResponse is the 409 body: the server's current entity.
type conflictResponse struct {
	Detail     string            `json:"detail"`
	Annotation models.Annotation `json:"annotation"`
}

// Update persists a patch under optimistic concurrency. A revision
// mismatch comes back as a *ConflictError carrying the server's entity.
func (h *HTTPPersistence) Update(ctx context.Context, id string, p models.Patch, knownRevision int) (models.Annotation, error) {
	body, err := h.do(ctx, http.MethodPatch, fmt.Sprintf("/annotations/%s", id),
		updateRequest{Patch: p, Revision: knownRevision})
	if err != nil {
		return models.Annotation{}, err
	}

	var saved models.Annotation
	if err := json.Unmarshal(body, &saved); err != nil {
		return models.Annotation{}, fmt.Errorf("decoding updated annotation: %w", err)
	}
	return saved, nil
}

func (h *HTTPPersistence) Delete(ctx context.Context, id string) error {
	_, err := h.do(ctx, http.MethodDelete, fmt.Sprintf("/annotations/%s", id), nil)
	return err
}

func (h *HTTPPersistence) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if h.baseURL == "" {
		return nil, constants.ErrNoBaseURL
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.tokens != nil {
		if token := h.tokens.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBytes, nil
	}

	if resp.StatusCode == http.StatusConflict {
		var conflict conflictResponse
		if err := json.Unmarshal(respBytes, &conflict); err != nil {
			return nil, fmt.Errorf("decoding conflict response: %w", err)
		}
		return nil, &ConflictError{Current: conflict.Annotation}
	}

	var apiErr apiError
	if err := json.Unmarshal(respBytes, &apiErr); err == nil && apiErr.Detail != "" {
		return nil, fmt.Errorf("%s %s: %s", method, path, apiErr.Detail)
	}
	return nil, fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
}
