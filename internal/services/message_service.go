// Package services – MessageService
//
// MessageService owns the lifecycle of direct messages: it validates input,
// resolves attachments, persists through the repo layer and then asks the
// notifier to push live events. Persistence always happens before any push;
// a failed push never fails the call.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the participant identifiers and pagination parameters where applicable.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-social-chat/internal/attachments"
	"github.com/tbourn/go-social-chat/internal/domain"
	"github.com/tbourn/go-social-chat/internal/notify"
	"github.com/tbourn/go-social-chat/internal/repo"
	"github.com/tbourn/go-social-chat/internal/utils"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "services/MessageService"

// Notifier is the delivery contract MessageService depends on.
type Notifier interface {
	Notify(event string, targets ...notify.Target) int
}

// SendInput is the optional body of a message.
type SendInput struct {
	Text string
	// Image is either a resolvable reference or raw base64 / data URL bytes.
	Image string
	// IdempotencyKey deduplicates retries of the same send.
	IdempotencyKey string
}

// SendResult is the persisted message and whether it was replayed from an
// earlier request with the same idempotency key.
type SendResult struct {
	Message  *domain.Message
	Replayed bool
}

// MessageService coordinates message persistence and live delivery.
type MessageService struct {
	DB       *gorm.DB
	Store    attachments.Store
	Notifier Notifier
	Log      zerolog.Logger

	MaxTextRunes       int
	MaxAttachmentBytes int64
	IdempotencyTTL     time.Duration
}

// errReplay aborts the send transaction when the idempotency record already
// exists, so the freshly inserted row is rolled back.
var errReplay = errors.New("idempotent replay")

// Send validates and persists a message from senderID to receiverID, then
// pushes newMessage to the receiver if online.
func (s *MessageService) Send(ctx context.Context, senderID, receiverID string, in SendInput) (*SendResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("sender.id", senderID),
			attribute.String("receiver.id", receiverID),
			attribute.Bool("has_image", in.Image != ""),
		),
	)
	defer span.End()

	receiverID = strings.TrimSpace(receiverID)
	if receiverID == "" {
		return nil, invalid(ErrMissingReceiver, "")
	}
	text := sanitizeText(in.Text)
	if s.MaxTextRunes > 0 && utf8.RuneCountInString(text) > s.MaxTextRunes {
		return nil, invalid(ErrTextTooLong, fmt.Sprintf("max %d characters", s.MaxTextRunes))
	}
	image := strings.TrimSpace(in.Image)
	if text == "" && image == "" {
		return nil, invalid(ErrEmptyMessage, "")
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if prev, err := s.replay(ctx, senderID, receiverID, key); err != nil {
			return nil, err
		} else if prev != nil {
			span.SetAttributes(attribute.Bool("idempotency.replayed", true))
			return &SendResult{Message: prev, Replayed: true}, nil
		}
	}

	ref, err := s.resolveImage(ctx, image)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	// A fresh upload is owned by this send until the row commits.
	uploaded := ref != image

	var msg *domain.Message
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := repo.CreateMessage(ctx, tx, senderID, receiverID, text, ref)
		if err != nil {
			return err
		}
		if key != "" {
			if err := repo.ReleaseExpiredKey(ctx, tx, senderID, receiverID, key, time.Now().UTC()); err != nil {
				return err
			}
			_, err := repo.CreateIdempotency(ctx, tx, senderID, receiverID, key, m.ID, http.StatusCreated, s.ttl())
			if errors.Is(err, repo.ErrDuplicate) {
				return errReplay
			}
			if err != nil {
				return err
			}
		}
		msg = m
		return nil
	})
	if err != nil && uploaded {
		s.discardUpload(ctx, ref)
	}
	if errors.Is(err, errReplay) {
		// A concurrent request with the same key won the race.
		prev, rerr := s.replay(ctx, senderID, receiverID, key)
		if rerr != nil {
			return nil, rerr
		}
		if prev != nil {
			return &SendResult{Message: prev, Replayed: true}, nil
		}
		return nil, fmt.Errorf("idempotency record vanished for key %q", key)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return nil, fmt.Errorf("persist message: %w", err)
	}

	if s.Notifier != nil {
		s.Notifier.Notify(notify.EventNewMessage, notify.Target{UserID: receiverID, Payload: msg})
	}
	span.SetAttributes(attribute.String("message.id", msg.ID))
	return &SendResult{Message: msg}, nil
}

// History returns every message between a and b in creation order.
func (s *MessageService) History(ctx context.Context, a, b string) ([]domain.Message, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "History",
		trace.WithAttributes(attribute.String("user.id", a), attribute.String("peer.id", b)),
	)
	defer span.End()

	items, err := repo.ListConversation(ctx, s.DB, a, b, 0)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Message{}
	}
	return items, nil
}

// HistoryPage returns one page of the conversation between a and b plus the
// total number of messages in it.
func (s *MessageService) HistoryPage(ctx context.Context, a, b string, page, pageSize int) ([]domain.Message, int64, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "HistoryPage",
		trace.WithAttributes(
			attribute.String("user.id", a),
			attribute.String("peer.id", b),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	page, pageSize = utils.ClampPage(page, pageSize)

	total, err := repo.CountConversation(ctx, s.DB, a, b)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := repo.ListConversationPage(ctx, s.DB, a, b, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []domain.Message{}
	}
	return items, total, nil
}

// ConversationTag returns a weak ETag that changes whenever a message is
// added to or removed from the conversation. The tag is specific to the
// requested view: page <= 0 names the full history, anything else a single
// page after clamping, so a tag never validates a different page's body.
func (s *MessageService) ConversationTag(ctx context.Context, a, b string, page, pageSize int) (string, error) {
	count, latest, latestID, err := repo.ConversationStats(ctx, s.DB, a, b)
	if err != nil {
		return "", err
	}
	var ts int64
	if latest != nil {
		ts = latest.UnixNano()
	}
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	view := "all"
	if page > 0 {
		page, pageSize = utils.ClampPage(page, pageSize)
		view = fmt.Sprintf("p%d.%d", page, pageSize)
	}
	return fmt.Sprintf(`W/"conv:%s:%s:%d:%d:%s:%s"`, lo, hi, count, ts, latestID, view), nil
}

// Delete removes a message on behalf of its sender and notifies both
// participants. Only the sender may delete; a second delete of the same ID
// reports ErrMessageNotFound.
func (s *MessageService) Delete(ctx context.Context, requesterID, messageID string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("user.id", requesterID), attribute.String("message.id", messageID)),
	)
	defer span.End()

	m, err := repo.GetMessage(ctx, s.DB, messageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	if m.SenderID != requesterID {
		return ErrForbidden
	}

	// Conditional delete: of two racing requests only one affects a row.
	if err := repo.DeleteMessageBySender(ctx, s.DB, messageID, requesterID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}

	if s.Notifier != nil {
		s.Notifier.Notify(notify.EventMessageDeleted,
			notify.Target{UserID: m.SenderID, Payload: notify.MessageDeleted{
				MessageID: m.ID, DeletedBy: requesterID, ConversationWith: m.ReceiverID,
			}},
			notify.Target{UserID: m.ReceiverID, Payload: notify.MessageDeleted{
				MessageID: m.ID, DeletedBy: requesterID, ConversationWith: m.SenderID,
			}},
		)
	}
	return nil
}

// PurgeExpired drops idempotency records whose TTL has elapsed.
func (s *MessageService) PurgeExpired(ctx context.Context) (int64, error) {
	return repo.PurgeExpiredIdempotency(ctx, s.DB, time.Now().UTC())
}

func (s *MessageService) replay(ctx context.Context, senderID, receiverID, key string) (*domain.Message, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, senderID, receiverID, key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	prev, err := repo.GetMessage(ctx, s.DB, rec.MessageID)
	if errors.Is(err, repo.ErrNotFound) {
		// The original was deleted since; treat the key as spent.
		return nil, ErrMessageNotFound
	}
	return prev, err
}

// resolveImage returns the reference to persist for image, uploading raw
// payloads first. An empty image resolves to "".
func (s *MessageService) resolveImage(ctx context.Context, image string) (string, error) {
	if image == "" || attachments.IsReference(image) {
		return image, nil
	}
	d, err := attachments.Decode(image, s.MaxAttachmentBytes)
	if err != nil {
		return "", &ValidationError{Err: fmt.Errorf("%w: %w", ErrInvalidImage, err)}
	}
	if s.Store == nil {
		return "", ErrAttachmentStore
	}
	ref, err := s.Store.Upload(ctx, d)
	if err != nil {
		s.Log.Error().Err(err).Msg("attachment upload failed")
		return "", fmt.Errorf("%w: %v", ErrAttachmentStore, err)
	}
	return ref, nil
}

// discardUpload removes a blob whose message never committed. Failure only
// leaves an unreferenced blob behind, so it is logged and swallowed.
func (s *MessageService) discardUpload(ctx context.Context, ref string) {
	if err := s.Store.Delete(context.WithoutCancel(ctx), ref); err != nil {
		s.Log.Warn().Err(err).Str("ref", ref).Msg("orphaned attachment not removed")
	}
}

func (s *MessageService) ttl() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return 24 * time.Hour
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeText normalizes user text:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two,
//   - trims surrounding whitespace.
func sanitizeText(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
