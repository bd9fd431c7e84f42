package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds configuration for the CORS middleware.
type CORSConfig struct {
	// AllowedOrigins lists allowed origins. "*" allows any origin.
	AllowedOrigins []string

	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string

	// MaxAge is how long (in seconds) preflight results can be cached.
	MaxAge int

	AllowCredentials bool
}

var (
	defaultCORSMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	defaultCORSHeaders = []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID", "X-User-Id", "X-Auth-Token"}
)

// DefaultCORSConfig returns the configuration the search page is served with:
// any origin, the search and admin methods, and a one-day preflight cache.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: defaultCORSMethods,
		AllowedHeaders: defaultCORSHeaders,
		ExposedHeaders: []string{"X-Correlation-ID"},
		MaxAge:         86400,
	}
}

// Headers returns the static CORS headers for a request from origin. It is
// shared by the HTTP middleware and the Lambda entry point.
func (cfg CORSConfig) Headers(origin string) map[string]string {
	cfg = cfg.withDefaults()
	h := map[string]string{
		"Access-Control-Allow-Methods": strings.Join(cfg.AllowedMethods, ", "),
		"Access-Control-Allow-Headers": strings.Join(cfg.AllowedHeaders, ", "),
		"Access-Control-Max-Age":       strconv.Itoa(cfg.MaxAge),
	}
	if allowed := cfg.allowOrigin(origin); allowed != "" {
		h["Access-Control-Allow-Origin"] = allowed
		if allowed != "*" {
			h["Vary"] = "Origin"
		}
	}
	if len(cfg.ExposedHeaders) > 0 {
		h["Access-Control-Expose-Headers"] = strings.Join(cfg.ExposedHeaders, ", ")
	}
	if cfg.AllowCredentials {
		h["Access-Control-Allow-Credentials"] = "true"
	}
	return h
}

func (cfg CORSConfig) withDefaults() CORSConfig {
	if len(cfg.AllowedMethods) == 0 {
		cfg.AllowedMethods = defaultCORSMethods
	}
	if len(cfg.AllowedHeaders) == 0 {
		cfg.AllowedHeaders = defaultCORSHeaders
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 86400
	}
	return cfg
}

func (cfg CORSConfig) allowOrigin(origin string) string {
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			return "*"
		}
		if origin != "" && o == origin {
			return origin
		}
	}
	return ""
}

// CORS returns middleware that sets Cross-Origin Resource Sharing headers and
// answers preflight requests itself.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for k, v := range cfg.Headers(r.Header.Get("Origin")) {
				w.Header().Set(k, v)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
