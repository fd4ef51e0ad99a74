package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/biobank/shipment-lifecycle/pkg/errors"
	"github.com/gin-gonic/gin"
)

// ErrorResponse is the envelope every failed request is answered with
type ErrorResponse struct {
	Status string    `json:"status"`
	Data   ErrorData `json:"data"`
}

// ErrorData carries the error details inside the envelope
type ErrorData struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
	Timestamp string            `json:"timestamp"`
	Path      string            `json:"path"`
}

var (
	mappersMu    sync.RWMutex
	errorMappers []errors.Mapper
)

// RegisterErrorMapper adds a mapper consulted before the generic message
// patterns when converting handler errors into responses
func RegisterErrorMapper(m errors.Mapper) {
	mappersMu.Lock()
	defer mappersMu.Unlock()
	errorMappers = append(errorMappers, m)
}

func mapError(err error) *errors.AppError {
	mappersMu.RLock()
	defer mappersMu.RUnlock()
	return errors.MapDomainError(err, errorMappers...)
}

func newErrorResponse(c *gin.Context, code, message string, details map[string]string) ErrorResponse {
	return ErrorResponse{
		Status: "error",
		Data: ErrorData{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: GetRequestID(c),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Path:      c.Request.URL.Path,
		},
	}
}

// ErrorHandler renders errors attached with c.Error as the error envelope
func ErrorHandler(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		appErr := mapError(c.Errors.Last().Err)
		logError(logger, c, appErr)
		c.JSON(appErr.HTTPStatus, newErrorResponse(c, appErr.Code, appErr.Message, appErr.Details))
	}
}

// ErrorResponder provides helper methods for sending error responses
type ErrorResponder struct {
	ctx    *gin.Context
	logger *slog.Logger
}

// NewErrorResponder creates a new ErrorResponder
func NewErrorResponder(ctx *gin.Context, logger *slog.Logger) *ErrorResponder {
	return &ErrorResponder{ctx: ctx, logger: logger}
}

// RespondWithError maps err and sends it
func (r *ErrorResponder) RespondWithError(err error) {
	r.RespondWithAppError(mapError(err))
}

// RespondWithAppError sends an AppError response
func (r *ErrorResponder) RespondWithAppError(appErr *errors.AppError) {
	logError(r.logger, r.ctx, appErr)
	r.ctx.JSON(appErr.HTTPStatus, newErrorResponse(r.ctx, appErr.Code, appErr.Message, appErr.Details))
}

// RespondBadRequest sends a 400 response
func (r *ErrorResponder) RespondBadRequest(message string) {
	r.RespondWithAppError(errors.ErrBadRequest(message))
}

// RespondValidationError sends a validation error response
func (r *ErrorResponder) RespondValidationError(message string, fields map[string]string) {
	r.RespondWithAppError(errors.ErrValidationWithFields(message, fields))
}

func logError(logger *slog.Logger, c *gin.Context, appErr *errors.AppError) {
	level := slog.LevelError
	if appErr.HTTPStatus < http.StatusInternalServerError {
		level = slog.LevelWarn
	}

	attrs := []any{
		"code", appErr.Code,
		"message", appErr.Message,
		"status", appErr.HTTPStatus,
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
		"requestId", GetRequestID(c),
		"clientIP", c.ClientIP(),
	}
	if appErr.Err != nil {
		attrs = append(attrs, "error", appErr.Err.Error())
	}
	if appErr.Details != nil {
		attrs = append(attrs, "details", appErr.Details)
	}

	logger.Log(c.Request.Context(), level, "API error", attrs...)
}

// AbortWithAppError aborts the request with an AppError
func AbortWithAppError(c *gin.Context, appErr *errors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, newErrorResponse(c, appErr.Code, appErr.Message, appErr.Details))
}
