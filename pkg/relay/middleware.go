package relay

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vango-go/village-live/pkg/core"
)

const ctxKeyRequestID = "request_id"

func requestIDFrom(c echo.Context) string {
	id, _ := c.Get(ctxKeyRequestID).(string)
	return id
}

func requestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := strings.TrimSpace(c.Request().Header.Get(echo.HeaderXRequestID))
		if id == "" {
			id = "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		c.Response().Header().Set(echo.HeaderXRequestID, id)
		c.Set(ctxKeyRequestID, id)
		return next(c)
	}
}

func (s *Server) recoverPanic(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("panic", "panic", v, "request_id", requestIDFrom(c))
				err = core.NewAPIError("internal error")
			}
		}()
		return next(c)
	}
}

// accessLog renders handler errors itself so the logged status is the one
// the client saw.
func (s *Server) accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}
		s.logger.Info("request",
			"request_id", requestIDFrom(c),
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", c.Response().Status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}
}

func bodyLimit(limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.ContentLength > limit {
				return &core.Error{Type: core.ErrInvalidRequest, Message: "request body too large", Code: "body_too_large"}
			}
			req.Body = http.MaxBytesReader(c.Response(), req.Body, limit)
			return next(c)
		}
	}
}

type errorEnvelope struct {
	Error *core.Error `json:"error"`
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		apiErr  *core.Error
		httpErr *echo.HTTPError
		out     core.Error
		status  int
	)
	switch {
	case errors.As(err, &apiErr):
		out = *apiErr
		status = apiErr.HTTPStatus()
	case errors.Is(err, ErrNotFound):
		out = *core.NewNotFoundError("not found")
		status = http.StatusNotFound
	case errors.As(err, &httpErr):
		status = httpErr.Code
		out = core.Error{Type: core.ErrorTypeForStatus(status), Message: fmt.Sprint(httpErr.Message)}
	default:
		s.logger.Error("request failed", "request_id", requestIDFrom(c), "error", err)
		out = *core.NewAPIError("internal error")
		status = http.StatusInternalServerError
	}
	out.RequestID = requestIDFrom(c)

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, errorEnvelope{Error: &out})
}
