package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// RedactOptions adds to the built-in scrub rules of RedactingLogger.
//
// MaskHeaders are header names (case-insensitive) whose values are replaced
// with "[REDACTED]", on top of Authorization, Cookie and Set-Cookie.
//
// MaskQueryParams are query parameter names masked the same way, on top of
// token and access_token. The socket handshake carries its bearer token as
// ?token=, so those two are always masked.
type RedactOptions struct {
	MaskHeaders     []string
	MaskQueryParams []string
}

// UUIDs are redacted before phone numbers so the loose phone pattern does
// not chew on UUID digit groups.
var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

type scrubber struct {
	headers map[string]struct{}
	params  *regexp.Regexp
}

func newScrubber(opts RedactOptions) *scrubber {
	s := &scrubber{headers: map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			s.headers[h] = struct{}{}
		}
	}
	names := []string{"token", "access_token"}
	for _, p := range opts.MaskQueryParams {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, regexp.QuoteMeta(p))
		}
	}
	s.params = regexp.MustCompile(`(?i)(^|&)(` + strings.Join(names, "|") + `)=[^&]*`)
	return s
}

// pii replaces IDs, emails and phone numbers, in that order.
func (s *scrubber) pii(v string) string {
	if v == "" {
		return v
	}
	v = uuidRE.ReplaceAllString(v, "[REDACTED:id]")
	v = emailRE.ReplaceAllString(v, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(v, "[REDACTED:phone]")
}

func (s *scrubber) query(raw string) string {
	return truncate(s.pii(s.params.ReplaceAllString(raw, "${1}${2}=[REDACTED]")), maxQueryLogLength)
}

func (s *scrubber) header(name string, values []string) string {
	if _, ok := s.headers[strings.ToLower(name)]; ok {
		return "[REDACTED]"
	}
	return s.pii(strings.Join(values, ", "))
}

// RedactingLogger is the access logger. It attaches the request-scoped
// logger (see LoggerFrom) and, when the chain returns, writes one
// "http_request" line with the scrubbed query and request headers, status,
// size, latency and the verified user ID if auth ran.
//
// Bodies are never logged. Scrubbing lowers, but does not remove, the chance
// of personal data reaching the logs.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	s := newScrubber(opts)
	return func(c *gin.Context) {
		start := time.Now()
		lg := attachLogger(c, routeOf(c))

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			headers[k] = s.header(k, vv)
		}
		fields := map[string]any{
			"query":     s.query(c.Request.URL.RawQuery),
			"headers":   headers,
			"remote_ip": c.ClientIP(),
		}

		c.Next()

		finishRequest(c, lg, start, fields)
	}
}
