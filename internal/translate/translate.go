// Package translate adapts an external translation provider. Each call is a
// synchronous pass-through; nothing is cached or persisted and provider
// failures are folded into three categories callers can map to responses.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/tbourn/go-social-chat/internal/domain"
)

// UnknownLabel is used when a language cannot be named.
const UnknownLabel = "Unknown"

var (
	ErrInvalidLanguage     = errors.New("target language is not a valid language code")
	ErrUnavailable         = errors.New("translation service unavailable")
	ErrUnsupportedLanguage = errors.New("target language not supported")
	ErrFailed              = errors.New("translation failed")
)

// Provider turns text into the target language.
type Provider interface {
	Translate(ctx context.Context, text string, target language.Tag) (string, error)
}

// Disabled always reports the service as unavailable.
type Disabled struct{}

// Translate implements Provider.
func (Disabled) Translate(context.Context, string, language.Tag) (string, error) {
	return "", ErrUnavailable
}

// Translator wraps a Provider and labels the result.
type Translator struct {
	Provider Provider
}

// New returns a Translator; a nil provider behaves as Disabled.
func New(p Provider) *Translator {
	if p == nil {
		p = Disabled{}
	}
	return &Translator{Provider: p}
}

// ParseTarget validates a BCP 47 code such as "es", "pt-BR" or "zh-Hant".
func ParseTarget(code string) (language.Tag, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return language.Und, ErrInvalidLanguage
	}
	tag, err := language.Parse(code)
	if err != nil || tag == language.Und {
		return language.Und, fmt.Errorf("%w: %q", ErrInvalidLanguage, code)
	}
	return tag, nil
}

// Translate translates text into the language named by targetCode.
// Errors are always one of the package sentinels (possibly wrapped).
func (t *Translator) Translate(ctx context.Context, text, targetCode string) (*domain.TranslationResult, error) {
	tag, err := ParseTarget(targetCode)
	if err != nil {
		return nil, err
	}
	out, err := t.Provider.Translate(ctx, text, tag)
	if err != nil {
		return nil, categorize(err)
	}
	return &domain.TranslationResult{
		TranslatedText:      out,
		SourceLanguageLabel: DetectSource(text),
		TargetLanguageLabel: Label(tag),
		OriginalText:        text,
	}, nil
}

// Label renders tag as an English display name, e.g. "Spanish".
func Label(tag language.Tag) string {
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return UnknownLabel
}

// DetectSource guesses the language of text and returns its English name.
func DetectSource(text string) string {
	info := whatlanggo.Detect(text)
	if info.Script == nil || info.Confidence <= 0 {
		return UnknownLabel
	}
	code := info.Lang.Iso6391()
	if code == "" {
		code = info.Lang.Iso6393()
	}
	if tag, err := language.Parse(code); err == nil {
		if name := display.English.Languages().Name(tag); name != "" {
			return name
		}
	}
	if name := info.Lang.String(); name != "" {
		return name
	}
	return UnknownLabel
}

func categorize(err error) error {
	switch {
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrUnsupportedLanguage), errors.Is(err, ErrFailed):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
}
