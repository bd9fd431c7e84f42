package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-jwt-signing"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sessionEcho(got *Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = SessionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestSession_ValidToken(t *testing.T) {
	token, err := IssueToken(testSecret, "user-42", RoleAdmin, time.Hour)
	require.NoError(t, err)

	var got Session
	h := SessionMiddleware(SessionConfig{Secret: testSecret}, discardLogger())(sessionEcho(&got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, Session{UserID: "user-42", Role: RoleAdmin, Source: SourceToken}, got)
}

func TestSession_SubjectFallback(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-7",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	raw, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)

	s, err := SessionConfig{Secret: testSecret}.ParseSession(http.Header{"Authorization": {"bearer " + raw}})
	require.NoError(t, err)
	assert.Equal(t, "user-7", s.UserID)
	assert.Empty(t, s.Role)
}

func TestSession_RejectsBadTokens(t *testing.T) {
	expired, err := IssueToken(testSecret, "user-1", "", -time.Hour)
	require.NoError(t, err)
	foreign, err := IssueToken("another-secret", "user-1", RoleAdmin, time.Hour)
	require.NoError(t, err)
	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "user-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"expired", "Bearer " + expired},
		{"wrong secret", "Bearer " + foreign},
		{"alg none", "Bearer " + unsigned},
		{"malformed scheme", "Token abc"},
		{"empty token", "Bearer  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Session
			h := SessionMiddleware(SessionConfig{Secret: testSecret}, discardLogger())(sessionEcho(&got))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Contains(t, rr.Body.String(), `"code":"UNAUTHORIZED"`)
		})
	}
}

func TestSession_UserHeader(t *testing.T) {
	header := http.Header{"X-User-Id": {" 15 "}}

	s, err := SessionConfig{TrustUserHeader: true}.ParseSession(header)
	require.NoError(t, err)
	assert.Equal(t, Session{UserID: "15", Source: SourceHeader}, s)

	s, err = SessionConfig{}.ParseSession(header)
	require.NoError(t, err)
	assert.False(t, s.Authenticated())
	assert.Equal(t, SourceAnonymous, s.Source)
}

func TestSessionFromContext_DefaultsToAnonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	s := SessionFromContext(req.Context())
	assert.False(t, s.Authenticated())
	assert.Equal(t, SourceAnonymous, s.Source)
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RequireRole(RoleAdmin)(ok)

	tests := []struct {
		name    string
		session Session
		want    int
	}{
		{"anonymous", Session{}, http.StatusUnauthorized},
		{"plain user", Session{UserID: "u1", Source: SourceHeader}, http.StatusForbidden},
		{"admin", Session{UserID: "u2", Role: RoleAdmin, Source: SourceToken}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/catalog/reload", nil)
			req = req.WithContext(WithSession(req.Context(), tt.session))
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestRequireToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RequireToken(ok)

	tests := []struct {
		name    string
		session Session
		want    int
	}{
		{"anonymous", Session{Source: SourceAnonymous}, http.StatusUnauthorized},
		{"header only", Session{UserID: "42", Source: SourceHeader}, http.StatusUnauthorized},
		{"token", Session{UserID: "42", Source: SourceToken}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/search/history", nil)
			req = req.WithContext(WithSession(req.Context(), tt.session))
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}
