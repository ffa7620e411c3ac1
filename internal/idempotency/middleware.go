package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	HeaderKey      = "X-Idempotency-Key"
	HeaderReplayed = "X-Idempotency-Replayed"
	headerUserID   = "X-User-ID"

	DefaultTTL = 24 * time.Hour
)

// Backend is implemented by Store
type Backend interface {
	Begin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (BeginResult, error)
	Complete(ctx context.Context, scope, key, fingerprint string, resp CachedResponse, ttl time.Duration) error
	Release(ctx context.Context, scope, key, fingerprint string) error
}

type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware replays the first response for a repeated X-Idempotency-Key.
// Requests without the header pass through. A key reused with a different request, or while the
// first request is still running, is rejected with 409. Responses with status >= 500 are not
// recorded. Backend errors are logged and the request proceeds without idempotency.
func Middleware(backend Backend, ttl time.Duration, logger *slog.Logger) gin.HandlerFunc {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderKey)
		if key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body is too large")
			return
		}
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "INVALID_ARGUMENT", "Failed to read request body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		userID := c.GetHeader(headerUserID)
		scope := userID + ":" + c.Request.Method + ":" + c.FullPath()
		fp := fingerprint(c.Request.Method, c.Request.URL.Path, userID, body)

		ctx := c.Request.Context()
		res, err := backend.Begin(ctx, scope, key, fp, ttl)
		if err != nil {
			logger.Warn("Idempotency store unavailable, proceeding without replay protection",
				slog.String("scope", scope),
				slog.Any("error", err),
			)
			c.Next()
			return
		}

		switch res.State {
		case StateReplay:
			c.Header(HeaderReplayed, "true")
			c.Data(res.Cached.StatusCode, res.Cached.ContentType, res.Cached.Body)
			c.Abort()
			return
		case StateConflict:
			abortWithError(c, http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key was used with a different request")
			return
		case StateInProgress:
			abortWithError(c, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "A request with this idempotency key is in progress")
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w

		// request context may already be cancelled
		bg := context.WithoutCancel(ctx)
		defer func() {
			if p := recover(); p != nil {
				if err := backend.Release(bg, scope, key, fp); err != nil {
					logger.Warn("Failed to release idempotency key", slog.Any("error", err))
				}
				panic(p)
			}

			status := w.Status()
			if status >= http.StatusInternalServerError {
				if err := backend.Release(bg, scope, key, fp); err != nil {
					logger.Warn("Failed to release idempotency key", slog.Any("error", err))
				}
				return
			}

			cached := CachedResponse{
				StatusCode:  status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        w.body.Bytes(),
			}
			if err := backend.Complete(bg, scope, key, fp, cached, ttl); err != nil {
				logger.Warn("Failed to record idempotent response", slog.Any("error", err))
			}
		}()

		c.Next()
	}
}

func fingerprint(method, path, userID string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
