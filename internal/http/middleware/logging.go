// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the correlation and logging plumbing shared by the access
// logger (see RedactingLogger):
//
//   - RequestID() reuses or mints the X-Request-ID correlation ID.
//   - Recovery() turns panics into the API's JSON 500 envelope.
//   - LoggerFrom() hands handlers the request-scoped zerolog.Logger so their
//     own lines carry request_id, route and, once authenticated, user_id.
//
// Recommended order: RequestID, RedactingLogger, Recovery.
package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-social-chat/internal/auth"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// maxRequestIDLength bounds client-supplied correlation IDs.
	maxRequestIDLength = 128
	// maxQueryLogLength caps the bytes of raw query logged per request.
	maxQueryLogLength = 2048
)

// RequestID attaches (or propagates) a correlation identifier per request.
// An incoming X-Request-ID is reused when it is non-blank and short enough;
// otherwise a UUIDv4 is generated. The value is stored in the context and
// echoed on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if rid == "" || len(rid) > maxRequestIDLength {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// requestIDOf prefers the ID set by RequestID, then the response header,
// then whatever the client sent.
func requestIDOf(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s := asString(v); s != "" {
			return s
		}
	}
	if rid := c.Writer.Header().Get(requestIDHeader); rid != "" {
		return rid
	}
	return c.GetHeader(requestIDHeader)
}

// Recovery intercepts panics, logs the stack through the request-scoped
// logger and, if nothing was written yet, answers with
//
//	{"request_id": "...", "code": "internal_error", "message": "internal error"}
//
// A panic after the body started streaming only aborts with 500.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := requestIDOf(c)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger attached by the access logger,
// or a copy of the global logger when none is attached. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// attachLogger derives the request-scoped logger from the global one and
// stores it for LoggerFrom.
func attachLogger(c *gin.Context, route string) *zerolog.Logger {
	l := log.With().
		Str("request_id", requestIDOf(c)).
		Str("method", c.Request.Method).
		Str("path", route).
		Logger()
	c.Set(loggerKey, &l)
	return &l
}

// routeOf is the registered route, or the raw path when nothing matched.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

// isUpgrade reports a websocket handshake. Such requests stay inside the
// middleware chain for the whole connection lifetime.
func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// finishRequest emits the access log line once the handler chain returns.
// Level follows the outcome: error for 5xx or collected gin errors, warn for
// 4xx, info otherwise.
func finishRequest(c *gin.Context, lg *zerolog.Logger, start time.Time, fields map[string]any) {
	status := c.Writer.Status()

	var ev *zerolog.Event
	switch {
	case len(c.Errors) > 0:
		ev = lg.Error().Str("errors", c.Errors.String())
	case status >= http.StatusInternalServerError:
		ev = lg.Error()
	case status >= http.StatusBadRequest:
		ev = lg.Warn()
	default:
		ev = lg.Info()
	}
	if uid := auth.UserID(c); uid != "" {
		ev = ev.Str("user_id", uid)
	}
	if isUpgrade(c.Request) {
		ev = ev.Bool("upgrade", true)
	}
	ev.Fields(fields).
		Int("status", status).
		Int("bytes", c.Writer.Size()).
		Dur("latency", time.Since(start)).
		Msg("http_request")
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate cuts s to max bytes plus an ellipsis; max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
