package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/pr-poehali-dev/velund-ai-project/pkg/errors"
)

// upstreamErrorBody covers both the Velund error shape ({"error": "...",
// "code": "..."}) and the OpenAI-compatible one ({"error": {"message": ...}}).
type upstreamErrorBody struct {
	Error json.RawMessage `json:"error"`
	Code  string          `json:"code"`
}

type nestedError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func (b upstreamErrorBody) message() string {
	if len(b.Error) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(b.Error, &s) == nil {
		return s
	}
	var n nestedError
	if json.Unmarshal(b.Error, &n) == nil {
		return n.Message
	}
	return ""
}

// ParseResponseError reads and closes the body of a non-2xx response and
// translates it into an error. Authentication and server-side failures of an
// upstream are reported as upstream unavailability: the caller's request was
// fine, the dependency was not.
func ParseResponseError(resp *http.Response, upstream string) error {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", upstream, resp.StatusCode, err)
	}

	msg := string(raw)
	var body upstreamErrorBody
	if json.Unmarshal(raw, &body) == nil {
		if m := body.message(); m != "" {
			msg = m
		}
	}
	cause := fmt.Errorf("%s returned status %d: %s", upstream, resp.StatusCode, msg)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &apperrors.AppError{
			Code:    "RATE_LIMITED",
			Message: upstream + " is rate limiting requests",
			Status:  http.StatusTooManyRequests,
			Err:     fmt.Errorf("%w: %w", apperrors.ErrRateLimited, cause),
		}
	case resp.StatusCode == http.StatusNotFound:
		path := ""
		if resp.Request != nil && resp.Request.URL != nil {
			path = resp.Request.URL.Path
		}
		return apperrors.NotFound(upstream, path)
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, cause)
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return apperrors.UpstreamUnavailable(cause)
	default:
		return cause
	}
}
