package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pr-poehali-dev/velund-ai-project/pkg/httputil"
)

// Session source values.
const (
	SourceAnonymous = "anonymous"
	SourceToken     = "token"
	SourceHeader    = "header"
)

// RoleAdmin grants access to catalog administration routes.
const RoleAdmin = "admin"

// Session describes who is making the request. It is built once per request
// by the Session middleware and handed to handlers explicitly; an empty
// Session is an anonymous caller.
type Session struct {
	UserID string
	Role   string
	Source string
}

// Authenticated reports whether the session identifies a user.
func (s Session) Authenticated() bool { return s.UserID != "" }

// HasRole reports whether the session carries one of roles.
func (s Session) HasRole(roles ...string) bool {
	for _, r := range roles {
		if s.Role == r {
			return true
		}
	}
	return false
}

// Claims are the JWT claims accepted by the Session middleware. The user id is
// read from user_id, falling back to sub.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SessionConfig controls how the Session middleware identifies callers.
type SessionConfig struct {
	// Secret is the HS256 signing key. Empty disables bearer tokens.
	Secret string
	// TrustUserHeader accepts an unauthenticated X-User-Id header as the user
	// id. The search page sends it; such sessions never get a role.
	TrustUserHeader bool
}

type sessionKey struct{}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the request session, anonymous when none is set.
func SessionFromContext(ctx context.Context) Session {
	if s, ok := ctx.Value(sessionKey{}).(Session); ok {
		return s
	}
	return Session{Source: SourceAnonymous}
}

var errNoToken = errors.New("no bearer token")

// ParseSession resolves the session for a set of request headers. A present
// but invalid bearer token is an error; no credentials is an anonymous session.
func (cfg SessionConfig) ParseSession(header http.Header) (Session, error) {
	token, err := bearerToken(header.Get("Authorization"))
	switch {
	case err == nil && cfg.Secret != "":
		return cfg.parseToken(token)
	case err != nil && !errors.Is(err, errNoToken):
		return Session{}, err
	}

	if cfg.TrustUserHeader {
		if id := strings.TrimSpace(header.Get("X-User-Id")); id != "" && len(id) <= 64 {
			return Session{UserID: id, Source: SourceHeader}, nil
		}
	}
	return Session{Source: SourceAnonymous}, nil
}

func (cfg SessionConfig) parseToken(raw string) (Session, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
	)
	var claims Claims
	if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}); err != nil {
		return Session{}, err
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return Session{}, errors.New("token carries no user id")
	}
	return Session{UserID: userID, Role: claims.Role, Source: SourceToken}, nil
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errNoToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("invalid authorization header format")
	}
	return strings.TrimSpace(token), nil
}

// IssueToken signs an HS256 token for userID with role, valid for ttl.
func IssueToken(secret, userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// SessionMiddleware resolves the request session and stores it in the context.
// Requests with an invalid bearer token are rejected with 401.
func SessionMiddleware(cfg SessionConfig, l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := cfg.ParseSession(r.Header)
			if err != nil {
				l.WarnContext(r.Context(), "rejected session",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				httputil.WriteErrorCode(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}

// RequireRole rejects anonymous callers with 401 and callers without one of
// roles with 403.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := SessionFromContext(r.Context())
			if !s.Authenticated() {
				httputil.WriteErrorCode(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}
			if !s.HasRole(roles...) {
				httputil.WriteErrorCode(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireToken rejects sessions not backed by a verified bearer token. An
// X-User-Id header may attribute a search but never unlocks stored data.
func RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s := SessionFromContext(r.Context()); !s.Authenticated() || s.Source != SourceToken {
			httputil.WriteErrorCode(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "bearer token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
