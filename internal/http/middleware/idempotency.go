// This file validates the Idempotency-Key header for message sends and marks
// requests whose key already produced a message, so the handler can replay
// the stored result and the rate limiter can let it through.
//
// Keys are scoped to (sender, peer): the verified identity and the :id path
// parameter of POST /messages/send/:id. The validator runs after
// auth.Middleware.

package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-social-chat/internal/auth"
)

// HeaderIdempotencyKey carries the client's key. Clients reuse the same key
// when retrying the same logical send.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed marks a response served from an earlier send
// with the same key.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key, if the request carried one.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s, _ := c.Value(ctxKeyIdemKey).(string)
	return s, s != ""
}

// IsReplay reports whether a live record already exists for the key.
func IsReplay(c *gin.Context) bool {
	b, _ := c.Value(ctxKeyIdemReplay).(bool)
	return b
}

// IdempotencyOptions tunes key validation. Expiry belongs to the lookup.
type IdempotencyOptions struct {
	// MaxLen caps the key length; <= 0 means 200.
	MaxLen int
	// Pattern restricts allowed characters; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether a still-valid record exists for
// (userID, peerID, key) at now. Errors are logged and treated as a miss.
type IdempotencyLookup func(ctx context.Context, userID, peerID, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator checks the Idempotency-Key header and stashes it for
// GetIdempotencyKey. A malformed key is answered with 400 bad_request. For an
// authenticated POST with a lookup, a hit marks the request for IsReplay and
// IsRateBypass. Without the header the middleware does nothing.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": requestIDOf(c),
				"code":       "bad_request",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		uid := auth.UserID(c)
		if lookup == nil || uid == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		exists, err := lookup(c.Request.Context(), uid, c.Param("id"), key, time.Now().UTC())
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
		}
		if exists {
			c.Set(ctxKeyIdemReplay, true)
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	}
}
