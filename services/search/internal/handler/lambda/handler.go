// Package lambda serves the search endpoint as an AWS Lambda function behind
// an API Gateway proxy integration. It speaks the same contract as the HTTP
// API: POST {query, user_id} returns the search result, OPTIONS answers CORS.
package lambda

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	apperrors "github.com/pr-poehali-dev/velund-ai-project/pkg/errors"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/logger"
	"github.com/pr-poehali-dev/velund-ai-project/pkg/middleware"
	"github.com/pr-poehali-dev/velund-ai-project/services/search/internal/service"
)

// corsConfig mirrors the headers the search page was first deployed with.
var corsConfig = middleware.CORSConfig{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{http.MethodPost, http.MethodOptions},
	AllowedHeaders: []string{"Content-Type", "X-User-Id"},
	MaxAge:         86400,
}

type searchRequest struct {
	Query  string          `json:"query"`
	UserID json.RawMessage `json:"user_id"`
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Handler adapts API Gateway proxy events to the search service.
type Handler struct {
	service *service.SearchService
	session middleware.SessionConfig
	logger  *slog.Logger
}

// NewHandler creates a Lambda handler.
func NewHandler(svc *service.SearchService, session middleware.SessionConfig, logger *slog.Logger) *Handler {
	return &Handler{
		service: svc,
		session: session,
		logger:  logger,
	}
}

// Handle processes one API Gateway proxy request.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	requestID := req.RequestContext.RequestID
	if requestID != "" {
		ctx = logger.WithCorrelationID(ctx, requestID)
	}

	switch req.HTTPMethod {
	case http.MethodOptions:
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusOK,
			Headers:    corsConfig.Headers(""),
			Body:       "",
		}, nil
	case http.MethodPost:
	default:
		return h.reply(http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"}), nil
	}

	header := make(http.Header, len(req.Headers))
	for k, v := range req.Headers {
		header.Set(k, v)
	}
	sess, err := h.session.ParseSession(header)
	if err != nil {
		return h.reply(http.StatusUnauthorized, errorBody{
			Error: "invalid or expired token", Code: "UNAUTHORIZED", RequestID: requestID,
		}), nil
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		if body, err = base64.StdEncoding.DecodeString(req.Body); err != nil {
			return h.reply(http.StatusBadRequest, errorBody{
				Error: "invalid request body", Code: "INVALID_INPUT", RequestID: requestID,
			}), nil
		}
	}

	var in searchRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &in); err != nil {
			return h.reply(http.StatusBadRequest, errorBody{
				Error: "invalid JSON body", Code: "INVALID_INPUT", RequestID: requestID,
			}), nil
		}
	}

	userID := sess.UserID
	if userID == "" {
		userID = rawUserID(in.UserID)
	}

	result, err := h.service.Search(ctx, service.SearchInput{Query: in.Query, UserID: userID})
	// The execution environment is frozen once Handle returns.
	h.service.Wait()
	if err != nil {
		return h.replyError(ctx, err, requestID), nil
	}
	return h.reply(http.StatusOK, result), nil
}

// rawUserID reads a user id sent as a string or a number.
func rawUserID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func (h *Handler) replyError(ctx context.Context, err error, requestID string) events.APIGatewayProxyResponse {
	status := apperrors.HTTPStatus(err)
	body := errorBody{Error: "an internal error occurred", Code: "INTERNAL_ERROR", RequestID: requestID}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		body.Error = appErr.Message
		body.Code = appErr.Code
	}
	if status >= http.StatusInternalServerError {
		logger.WithContext(ctx, h.logger).ErrorContext(ctx, "search failed",
			slog.String("error", err.Error()),
			slog.String("code", body.Code),
		)
	}
	return h.reply(status, body)
}

func (h *Handler) reply(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"an internal error occurred","code":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Access-Control-Allow-Origin": "*",
			"Content-Type":                "application/json",
		},
		Body: string(body),
	}
}
