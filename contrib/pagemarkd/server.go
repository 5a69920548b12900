package pagemarkd

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pagemark/pagemark.go/pkg/constants"
	"github.com/pagemark/pagemark.go/pkg/logger"
	"github.com/pagemark/pagemark.go/pkg/models"
)

// Server wires the REST API and the WebSocket hub.
type Server struct {
	store  *Store
	hub    *Hub
	logger logger.Logger
	token  string
}

func NewServer(store *Store, log logger.Logger, cfg Config) *Server {
	return &Server{
		store:  store,
		hub:    NewHub(store, log),
		logger: log,
		token:  cfg.AuthToken,
	}
}

// Router builds the HTTP surface: annotation CRUD plus the per-document
// WebSocket endpoint.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/versions/{versionID}/annotations", s.handleList)
		r.Post("/versions/{versionID}/annotations", s.handleCreate)
		r.Patch("/annotations/{annotationID}", s.handleUpdate)
		r.Delete("/annotations/{annotationID}", s.handleDelete)
		r.Get("/documents/{documentID}/comments", s.handleListComments)
		r.Post("/documents/{documentID}/comments", s.handleCreateComment)
		r.Patch("/comments/{commentID}", s.handleUpdateComment)
		r.Delete("/comments/{commentID}", s.handleDeleteComment)
	})

	r.Get("/ws/documents/{documentID}/", s.handleWebSocket)
	return r
}

// requireToken checks the bearer token when the server is configured
// with one.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			header := r.Header.Get("Authorization")
			if strings.TrimPrefix(header, "Bearer ") != s.token {
				writeError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	versionID := chi.URLParam(r, "versionID")

	page := 0
	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		page = parsed
	}

	annotations, err := s.store.ListAnnotations(r.Context(), versionID, page)
	if err != nil {
		s.logger.Error("listing annotations failed", "version_id", versionID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not list annotations")
		return
	}
	writeJSON(w, http.StatusOK, annotations)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	versionID := chi.URLParam(r, "versionID")

	var a models.Annotation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := s.store.CreateAnnotation(r.Context(), versionID, a)
	if err != nil {
		s.logger.Error("creating annotation failed", "version_id", versionID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not create annotation")
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// patchRequest mirrors the client's PATCH body: changed fields plus the
// revision the client believes is current.
type patchRequest struct {
	models.Patch
	Revision *int `json:"revision"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "annotationID")

	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Revision == nil {
		writeError(w, http.StatusBadRequest, "revision is required")
		return
	}

	saved, err := s.store.UpdateAnnotation(r.Context(), id, req.Patch, *req.Revision, userFrom(r))
	if err != nil {
		var stale *StaleRevisionError
		switch {
		case errors.As(err, &stale):
			writeJSON(w, http.StatusConflict, map[string]any{
				"detail":     "stale revision",
				"annotation": stale.Current,
			})
		case errors.Is(err, constants.ErrAnnotationGone):
			writeError(w, http.StatusNotFound, "annotation not found")
		default:
			s.logger.Error("updating annotation failed", "annotation_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "could not update annotation")
		}
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "annotationID")

	if err := s.store.DeleteAnnotation(r.Context(), id); err != nil {
		if errors.Is(err, constants.ErrAnnotationGone) {
			writeError(w, http.StatusNotFound, "annotation not found")
			return
		}
		s.logger.Error("deleting annotation failed", "annotation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not delete annotation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")

	comments, err := s.store.ListComments(r.Context(), documentID)
	if err != nil {
		s.logger.Error("listing comments failed", "document_id", documentID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not list comments")
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")

	var c Comment
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(c.Body) == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}
	c.DocumentID = documentID
	if c.Author == "" {
		c.Author = userFrom(r)
	}

	saved, err := s.store.CreateComment(r.Context(), c)
	if err != nil {
		if errors.Is(err, ErrCommentGone) {
			writeError(w, http.StatusBadRequest, "parent comment not found")
			return
		}
		s.logger.Error("creating comment failed", "document_id", documentID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not create comment")
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// commentPatchRequest carries the new body plus the revision the client
// last saw, matching the annotation PATCH contract.
type commentPatchRequest struct {
	Body     string `json:"body"`
	Revision *int   `json:"revision"`
}

func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "commentID")

	var req commentPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Revision == nil {
		writeError(w, http.StatusBadRequest, "revision is required")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}

	saved, err := s.store.UpdateComment(r.Context(), id, req.Body, *req.Revision, userFrom(r))
	if err != nil {
		var stale *StaleCommentError
		switch {
		case errors.As(err, &stale):
			writeJSON(w, http.StatusConflict, map[string]any{
				"detail":  "stale revision",
				"comment": stale.Current,
			})
		case errors.Is(err, ErrCommentGone):
			writeError(w, http.StatusNotFound, "comment not found")
		default:
			s.logger.Error("updating comment failed", "comment_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "could not update comment")
		}
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "commentID")

	if err := s.store.DeleteComment(r.Context(), id); err != nil {
		if errors.Is(err, ErrCommentGone) {
			writeError(w, http.StatusNotFound, "comment not found")
			return
		}
		s.logger.Error("deleting comment failed", "comment_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not delete comment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")

	token := r.URL.Query().Get("token")
	if s.token != "" && token != s.token {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}

	// Without real authentication the user id rides in a query
	// parameter; the production service resolves it from the token.
	userID := r.URL.Query().Get("user")
	if userID == "" {
		userID = "anonymous"
	}

	s.hub.ServeDocument(w, r, documentID, userID)
}

func userFrom(r *http.Request) string {
	if user := r.URL.Query().Get("user"); user != "" {
		return user
	}
	return "anonymous"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
