// Package auth turns request credentials into a verified user identity. It
// never manages credentials itself: tokens are issued elsewhere and only
// verified here.
//
// Two modes:
//   - jwt: HS256 bearer tokens carrying a "user_id" (or "sub") claim, read
//     from the Authorization header or a "token" query parameter (websocket
//     clients cannot set headers)
//   - header: trust X-User-ID or a "userId" query parameter, for local
//     development behind a trusted proxy
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is the gin context key holding the verified user ID.
const ContextKey = "userID"

// HeaderUserID is read in header mode.
const HeaderUserID = "X-User-ID"

const headerRequestID = "X-Request-ID"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownMode  = errors.New("unknown auth mode")
)

// Authenticator resolves the identity behind a request. An empty ID with a
// nil error means no credentials were presented.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// New returns the Authenticator for mode ("jwt" or "header").
func New(mode string, secret []byte) (Authenticator, error) {
	switch mode {
	case "jwt":
		if len(secret) == 0 {
			return nil, errors.New("jwt mode requires a secret")
		}
		return NewJWT(secret), nil
	case "header":
		return Header{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// JWTVerifier validates HS256 tokens.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWT returns a verifier for tokens signed with secret.
func NewJWT(secret []byte) *JWTVerifier {
	return &JWTVerifier{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(30*time.Second)),
	}
}

// Verify parses token and returns its user ID.
func (v *JWTVerifier) Verify(token string) (string, error) {
	claims := jwt.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id := claimString(claims["user_id"])
	if id == "" {
		id, _ = claims.GetSubject()
	}
	if id == "" {
		return "", fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return id, nil
}

// Authenticate implements Authenticator.
func (v *JWTVerifier) Authenticate(r *http.Request) (string, error) {
	tok := bearer(r.Header.Get("Authorization"))
	if tok == "" {
		tok = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if tok == "" {
		return "", nil
	}
	return v.Verify(tok)
}

// Sign issues a token for userID. It is meant for tests and local tooling.
func Sign(secret []byte, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Header trusts the X-User-ID header or the userId query parameter.
type Header struct{}

// Authenticate implements Authenticator.
func (Header) Authenticate(r *http.Request) (string, error) {
	if id := strings.TrimSpace(r.Header.Get(HeaderUserID)); id != "" {
		return id, nil
	}
	return strings.TrimSpace(r.URL.Query().Get("userId")), nil
}

// Middleware rejects requests without a verified identity and stores the
// identity under ContextKey.
func Middleware(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := a.Authenticate(c.Request)
		if err != nil || id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": requestID(c),
				"code":       "unauthorized",
				"message":    "authentication required",
			})
			return
		}
		c.Set(ContextKey, id)
		c.Next()
	}
}

// UserID returns the identity stored by Middleware, or "".
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ContextKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// requestID reads the correlation ID the request-id middleware echoes on the
// response, falling back to the one the client sent.
func requestID(c *gin.Context) string {
	if rid := c.Writer.Header().Get(headerRequestID); rid != "" {
		return rid
	}
	return c.GetHeader(headerRequestID)
}

func bearer(h string) string {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

// claimString accepts string and numeric user IDs.
func claimString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
