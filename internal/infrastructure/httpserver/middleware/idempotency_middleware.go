package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/avatarctic/idempotency-engine/internal/core/domain/idempotency"
	"github.com/avatarctic/idempotency-engine/internal/core/ports"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// IdempotencyMiddleware routes request bodies through the idempotency
// orchestrator: the first request with a given payload executes the handler
// and caches its response envelope, repeats of the same payload replay it.
type IdempotencyMiddleware struct {
	idempotency ports.Idempoter
	logger      *logrus.Logger
}

func NewIdempotencyMiddleware(idempotency ports.Idempoter, logger *logrus.Logger) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{idempotency: idempotency, logger: logger}
}

// cachedResponse is the envelope stored as the record's response data.
type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// nonReplayableError carries a client or server error response out of the
// orchestrator so the record is cleared instead of cached: failures must be
// retried from scratch, never replayed.
type nonReplayableError struct {
	resp cachedResponse
}

func (e *nonReplayableError) Error() string {
	return fmt.Sprintf("response status %d is not replayable", e.resp.Status)
}

// captureWriter buffers the handler's response instead of sending it, so the
// envelope can be cached before anything reaches the client.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *captureWriter) WriteHeader(code int) { w.status = code }

func (w *captureWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.buf.Write(b)
}

func (m *IdempotencyMiddleware) Handler() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			body, err := io.ReadAll(c.Request().Body)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
			}
			c.Request().Body = io.NopCloser(bytes.NewReader(body))

			out, err := m.idempotency.Process(c.Request().Context(), body, func(ctx context.Context, _ []byte) ([]byte, error) {
				return m.runHandler(c, next)
			})
			if err != nil {
				return m.respondError(c, err)
			}

			var cached cachedResponse
			if uerr := json.Unmarshal(out, &cached); uerr != nil {
				return fmt.Errorf("failed to decode cached response: %w", uerr)
			}
			return c.Blob(cached.Status, cached.ContentType, cached.Body)
		}
	}
}

// runHandler invokes the wrapped handler against a buffering writer and
// returns the serialized response envelope.
func (m *IdempotencyMiddleware) runHandler(c echo.Context, next echo.HandlerFunc) ([]byte, error) {
	res := c.Response()
	capture := &captureWriter{ResponseWriter: res.Writer}
	original := res.Writer
	res.Writer = capture

	err := next(c)

	res.Writer = original
	// the buffered response never reached the client; uncommit so the replay
	// or error write below can set the real status
	res.Committed = false
	res.Status = 0
	if err != nil {
		return nil, err
	}

	resp := cachedResponse{
		Status:      capture.status,
		ContentType: res.Header().Get(echo.HeaderContentType),
		Body:        capture.buf.Bytes(),
	}
	if resp.Status >= http.StatusBadRequest {
		return nil, &nonReplayableError{resp: resp}
	}
	return json.Marshal(resp)
}

func (m *IdempotencyMiddleware) respondError(c echo.Context, err error) error {
	var nre *nonReplayableError
	switch {
	case errors.As(err, &nre):
		return c.Blob(nre.resp.Status, nre.resp.ContentType, nre.resp.Body)
	case errors.Is(err, idempotency.ErrStillInProgress):
		return c.JSON(http.StatusConflict, map[string]string{"error": "a request with this payload is already being processed"})
	case errors.Is(err, idempotency.ErrItemAlreadyExists):
		return c.JSON(http.StatusConflict, map[string]string{"error": "a request with this payload was already accepted, retry later"})
	case errors.Is(err, idempotency.ErrValidation):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "payload conflicts with a previous request using the same idempotency key"})
	case errors.Is(err, idempotency.ErrNoIdempotencyKey):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "request payload carries no idempotency key data"})
	default:
		m.logger.WithError(err).Error("idempotent request processing failed")
		return err
	}
}
