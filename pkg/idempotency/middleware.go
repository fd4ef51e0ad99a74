package idempotency

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/biobank/shipment-lifecycle/pkg/errors"
	"github.com/biobank/shipment-lifecycle/pkg/metrics"
	"github.com/biobank/shipment-lifecycle/pkg/middleware"
	"github.com/gin-gonic/gin"
)

const (
	DefaultMaxKeyLength    = 255
	DefaultLockTimeout     = 5 * time.Minute
	DefaultRetentionPeriod = 24 * time.Hour
	DefaultMaxResponseSize = 1 * 1024 * 1024

	// HeaderReplayed marks a response served from a stored record
	HeaderReplayed = "Idempotent-Replayed"

	// CodeParameterMismatch answers a reused key carrying a different body
	CodeParameterMismatch = "IDEMPOTENCY_PARAMETER_MISMATCH"
)

// Config holds configuration for the idempotency middleware
type Config struct {
	ServiceName     string
	Store           Store
	MaxKeyLength    int
	LockTimeout     time.Duration
	RetentionPeriod time.Duration
	MaxResponseSize int
	Metrics         *metrics.Metrics // optional
	Logger          *slog.Logger
}

// DefaultConfig returns a default configuration for the given service
func DefaultConfig(serviceName string, store Store, logger *slog.Logger) *Config {
	return &Config{
		ServiceName:     serviceName,
		Store:           store,
		MaxKeyLength:    DefaultMaxKeyLength,
		LockTimeout:     DefaultLockTimeout,
		RetentionPeriod: DefaultRetentionPeriod,
		MaxResponseSize: DefaultMaxResponseSize,
		Logger:          logger,
	}
}

// responseWriter captures what the handler writes
type responseWriter struct {
	gin.ResponseWriter
	body       *bytes.Buffer
	statusCode int
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware replays the stored response for a repeated Idempotency-Key.
// Requests without the header pass through untouched.
func Middleware(config *Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := NormalizeKey(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}

		if appErr := ValidateKey(key, config.MaxKeyLength); appErr != nil {
			middleware.AbortWithAppError(c, appErr)
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
		}

		process(c, config, key, Fingerprint(body))
	}
}

func process(c *gin.Context, config *Config, key, fingerprint string) {
	ctx := c.Request.Context()
	path := c.FullPath()
	logger := config.Logger.With("key", key, "service", config.ServiceName, "path", path)

	now := time.Now().UTC()
	record, isNew, err := config.Store.Acquire(ctx, &Record{
		Key:                key,
		ServiceID:          config.ServiceName,
		RequestPath:        c.Request.URL.Path,
		RequestMethod:      c.Request.Method,
		RequestFingerprint: fingerprint,
		CreatedAt:          now,
		ExpiresAt:          now.Add(config.RetentionPeriod),
	})
	if err != nil {
		logger.Error("Failed to acquire idempotency lock", "error", err)
		config.record(path, "storage_error")
		middleware.AbortWithAppError(c, errors.ErrServiceUnavailable("idempotency store").Wrap(err))
		return
	}

	if record.IsCompleted() {
		if record.RequestFingerprint != fingerprint {
			logger.Warn("Idempotency parameter mismatch")
			config.record(path, "mismatch")
			middleware.AbortWithAppError(c, errors.NewAppError(CodeParameterMismatch,
				"request parameters differ from the original request with this idempotency key",
				http.StatusUnprocessableEntity))
			return
		}

		logger.Info("Idempotency cache hit", "statusCode", record.ResponseCode)
		config.record(path, "hit")
		for k, v := range record.ResponseHeaders {
			c.Header(k, v)
		}
		c.Header(HeaderReplayed, "true")
		c.Data(record.ResponseCode, "application/json", record.ResponseBody)
		c.Abort()
		return
	}

	if !isNew && record.IsLocked() {
		lockAge := time.Since(*record.LockedAt)
		if lockAge < config.LockTimeout {
			logger.Warn("Concurrent idempotency request", "lockAge", lockAge)
			config.record(path, "concurrent")
			middleware.AbortWithAppError(c, errors.ErrConflict("a request with this idempotency key is currently being processed"))
			return
		}
		logger.Info("Stale lock detected, proceeding", "lockAge", lockAge)
	}

	config.record(path, "miss")

	writer := &responseWriter{
		ResponseWriter: c.Writer,
		body:           &bytes.Buffer{},
		statusCode:     http.StatusOK,
	}
	c.Writer = writer

	c.Next()

	// Server failures are not final; let the client retry with the same key.
	if writer.statusCode >= http.StatusInternalServerError {
		if err := config.Store.Release(ctx, config.ServiceName, key); err != nil {
			logger.Error("Failed to release idempotency lock", "error", err)
		}
		return
	}

	responseBody := writer.body.Bytes()
	if len(responseBody) > config.MaxResponseSize {
		logger.Warn("Response too large to cache", "size", len(responseBody), "maxSize", config.MaxResponseSize)
		responseBody = []byte(fmt.Sprintf(`{"status":"error","data":{"code":"RESPONSE_TOO_LARGE","message":"response too large to cache","size":%d}}`, len(responseBody)))
	}

	headers := make(map[string]string)
	for k, v := range c.Writer.Header() {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	if err := config.Store.Complete(ctx, config.ServiceName, key, writer.statusCode, responseBody, headers); err != nil {
		logger.Error("Failed to store idempotency response", "error", err)
		config.record(path, "storage_error")
		return
	}
	logger.Debug("Stored idempotency response", "statusCode", writer.statusCode)
}

func (cfg *Config) record(path, outcome string) {
	if cfg.Metrics != nil {
		cfg.Metrics.RecordIdempotency(path, outcome)
	}
}
