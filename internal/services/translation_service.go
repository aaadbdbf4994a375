package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-social-chat/internal/domain"
	"github.com/tbourn/go-social-chat/internal/repo"
	"github.com/tbourn/go-social-chat/internal/translate"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TranslateInput is a translation request. MessageID, when set, is only used
// to authorize the caller; the translated payload is always Text.
type TranslateInput struct {
	Text           string
	TargetLanguage string
	MessageID      string
}

// TranslationService authorizes and delegates on-demand translation.
// Results are never persisted.
type TranslationService struct {
	DB         *gorm.DB
	Translator *translate.Translator
}

// Translate checks the request, optionally verifies that requesterID is a
// participant of MessageID, and returns the provider's translation.
func (s *TranslationService) Translate(ctx context.Context, requesterID string, in TranslateInput) (*domain.TranslationResult, error) {
	ctx, span := otel.Tracer("services/TranslationService").Start(ctx, "Translate",
		trace.WithAttributes(
			attribute.String("user.id", requesterID),
			attribute.String("target.language", in.TargetLanguage),
			attribute.Bool("has_message_id", in.MessageID != ""),
		),
	)
	defer span.End()

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, invalid(ErrMissingText, "")
	}
	target := strings.TrimSpace(in.TargetLanguage)
	if target == "" {
		return nil, invalid(ErrMissingTargetLanguage, "")
	}

	if id := strings.TrimSpace(in.MessageID); id != "" {
		m, err := repo.GetMessage(ctx, s.DB, id)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		if err != nil {
			return nil, err
		}
		if !m.Involves(requesterID) {
			return nil, ErrForbidden
		}
	}

	tr := s.Translator
	if tr == nil {
		tr = translate.New(nil)
	}
	res, err := tr.Translate(ctx, text, target)
	if errors.Is(err, translate.ErrInvalidLanguage) {
		return nil, invalid(err, "")
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return res, nil
}
