// Package attachments validates image payloads supplied with a message and
// stores them in a blob store that hands back a stable reference.
package attachments

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxBytes is the decoded size ceiling used when none is configured.
const DefaultMaxBytes = 10 << 20

var (
	ErrEmpty           = errors.New("attachment is empty")
	ErrMalformed       = errors.New("attachment is not valid base64 or data URL")
	ErrTooLarge        = errors.New("attachment exceeds size limit")
	ErrUnsupportedType = errors.New("attachment type not supported")
	ErrNotFound        = errors.New("attachment not found")
)

// Allowed sniffed content types.
var allowed = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

var refPath = regexp.MustCompile(`^(/[A-Za-z0-9._~-]+)*/attachments/[0-9a-fA-F-]{36}$`)

// Decoded is a validated raw attachment.
type Decoded struct {
	Data []byte
	MIME string
	Ext  string
}

// IsReference reports whether s already points at a stored image: an
// absolute http(s) URL or this service's /attachments/<id> path.
func IsReference(s string) bool {
	s = strings.TrimSpace(s)
	if refPath.MatchString(s) {
		return true
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Decode accepts "data:<mime>;base64,<payload>" or bare base64, enforces
// maxBytes on the decoded size and sniffs the content type. A declared
// data-URL type is ignored; only the sniffed type counts.
func Decode(raw string, maxBytes int64) (*Decoded, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	payload := strings.TrimSpace(raw)
	if strings.HasPrefix(payload, "data:") {
		head, body, ok := strings.Cut(payload, ",")
		if !ok || !strings.HasSuffix(strings.ToLower(head), ";base64") {
			return nil, ErrMalformed
		}
		payload = body
	}
	payload = stripSpace(payload)
	if payload == "" {
		return nil, ErrEmpty
	}
	// Reject before allocating when the encoded length alone is over budget.
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes+2 {
		return nil, fmt.Errorf("%w (%d bytes max)", ErrTooLarge, maxBytes)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, ErrMalformed
		}
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes max)", ErrTooLarge, maxBytes)
	}

	mt := mimetype.Detect(data)
	ext, ok := allowed[mt.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mt.String())
	}
	return &Decoded{Data: data, MIME: mt.String(), Ext: ext}, nil
}

func stripSpace(s string) string {
	if !strings.ContainsAny(s, " \t\r\n") {
		return s
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}
