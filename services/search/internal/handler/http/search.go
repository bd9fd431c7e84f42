package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/pr-poehali-dev/velund-ai-project/pkg/httputil"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/middleware"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/pagination"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/validator"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/service"
)

// maxSearchBody bounds the search request body; queries are short.
const maxSearchBody = 64 << 10

// SearchHandler handles HTTP requests for search endpoints.
type SearchHandler struct {
	service *service.SearchService
	logger  *slog.Logger
}

// NewSearchHandler creates a new search HTTP handler.
func NewSearchHandler(svc *service.SearchService, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// SearchRequest is the JSON request body of POST /api/v1/search.
type SearchRequest struct {
	Query  string `json:"query"`
	UserID UserID `json:"user_id"`
}

// UserID accepts a user id sent as a JSON string, number or null.
type UserID string

// UnmarshalJSON implements json.Unmarshaler.
func (u *UserID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*u = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*u = UserID(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("user_id must be a string or a number")
		}
		*u = UserID(n.String())
	}
	return nil
}

// --- Handlers ---

// Search handles POST /api/v1/search with a JSON body and GET /api/v1/search?q=.
// The session user wins over a user_id sent in the body.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if r.Method == http.MethodGet {
		req.Query = r.URL.Query().Get("q")
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxSearchBody)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteErrorCode(w, r, http.StatusBadRequest, "INVALID_INPUT", "invalid JSON body")
			return
		}
	}

	userID := string(req.UserID)
	if s := middleware.SessionFromContext(r.Context()); s.Authenticated() {
		userID = s.UserID
	}

	result, err := h.service.Search(r.Context(), service.SearchInput{
		Query:  req.Query,
		UserID: userID,
	})
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// Suggest handles GET /api/v1/search/suggest?q=&limit=
func (h *SearchHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.WriteErrorCode(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "limit must be a positive integer")
			return
		}
		limit = n
	}

	names, err := h.service.Suggest(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"suggestions": names})
}

// History handles GET /api/v1/search/history. Admins may pass user_id to
// read another user's history.
func (h *SearchHandler) History(w http.ResponseWriter, r *http.Request) {
	s := middleware.SessionFromContext(r.Context())
	userID := s.UserID
	if other := strings.TrimSpace(r.URL.Query().Get("user_id")); other != "" && other != userID {
		if !s.HasRole(middleware.RoleAdmin) {
			httputil.WriteErrorCode(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient permissions")
			return
		}
		userID = other
	}

	page, err := h.service.History(r.Context(), userID, pagination.FromRequest(r))
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, page)
}

// ZeroResults handles GET /api/v1/search/history/zero-results?limit=
func (h *SearchHandler) ZeroResults(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.WriteErrorCode(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "limit must be a positive integer")
			return
		}
		limit = n
	}

	queries, err := h.service.ZeroResults(r.Context(), limit)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"queries": queries})
}

// writeError renders validation failures with their fields and every other
// error through the shared error mapping.
func writeError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		httputil.WriteValidationError(w, valErr)
		return
	}
	httputil.WriteError(w, r, err, logger)
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && (mt == "application/json" || strings.HasSuffix(mt, "+json"))
}

func writeUnsupportedMediaType(w http.ResponseWriter, r *http.Request) {
	httputil.WriteErrorCode(w, r, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Content-Type must be application/json")
}
