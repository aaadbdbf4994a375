// Package handlers exposes the REST surface of the chat service:
//   - POST   /messages/send/{id}   (send to receiver id)
//   - GET    /messages/{id}        (conversation with counterpart id, paginated, ETag)
//   - DELETE /messages/{id}        (sender-only delete for both parties)
//   - POST   /messages/translate   (on-demand translation)
//   - GET    /messages/online      (current online set)
//   - GET    /attachments/{id}     (stored image bytes)
//
// Handlers are transport-thin: they bind input, call application services,
// and translate service errors into the shared ErrorResponse envelope.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-social-chat/internal/attachments"
	"github.com/tbourn/go-social-chat/internal/auth"
	"github.com/tbourn/go-social-chat/internal/domain"
	"github.com/tbourn/go-social-chat/internal/http/middleware"
	"github.com/tbourn/go-social-chat/internal/services"
	"github.com/tbourn/go-social-chat/internal/translate"
	"github.com/tbourn/go-social-chat/internal/utils"
)

//
// Service contracts (context-aware)
//

// MessageService defines the message operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type MessageService interface {
	// Send persists a message and pushes it to the receiver if online.
	Send(ctx context.Context, senderID, receiverID string, in services.SendInput) (*services.SendResult, error)
	// History returns the whole conversation between a and b.
	History(ctx context.Context, a, b string) ([]domain.Message, error)
	// HistoryPage returns a page of the conversation between a and b and its total size.
	HistoryPage(ctx context.Context, a, b string, page, pageSize int) ([]domain.Message, int64, error)
	// ConversationTag returns a weak ETag for one view of the conversation
	// between a and b; page 0 is the full history.
	ConversationTag(ctx context.Context, a, b string, page, pageSize int) (string, error)
	// Delete removes a message on behalf of its sender.
	Delete(ctx context.Context, requesterID, messageID string) error
}

// TranslationService defines on-demand translation.
type TranslationService interface {
	Translate(ctx context.Context, requesterID string, in services.TranslateInput) (*domain.TranslationResult, error)
}

// PresenceView is the read side of the presence registry.
type PresenceView interface {
	Snapshot() []string
}

// AttachmentReader loads stored attachments by ID.
type AttachmentReader interface {
	Get(ctx context.Context, id string) (*attachments.Blob, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	msgSvc      MessageService
	trSvc       TranslationService
	presence    PresenceView
	attachments AttachmentReader
}

// New constructs and returns a Handlers instance bound to the given services.
func New(msgSvc MessageService, trSvc TranslationService, presence PresenceView, att AttachmentReader) *Handlers {
	return &Handlers{msgSvc: msgSvc, trSvc: trSvc, presence: presence, attachments: att}
}

// userID returns the verified identity set by auth.Middleware.
func userID(c *gin.Context) string { return auth.UserID(c) }

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination reads page and page_size from the query. paged is false
// when the caller asked for neither.
func clampPagination(c *gin.Context) (page, pageSize int, paged bool) {
	rawPage, rawSize := c.Query("page"), c.Query("page_size")
	if rawPage == "" && rawSize == "" {
		return 0, 0, false
	}
	page, pageSize = utils.ParsePage(rawPage, rawSize)
	return page, pageSize, true
}

// failFor maps a service error onto the error envelope. Messages for
// validation failures are returned verbatim; anything unexpected is logged
// and answered with a generic message.
func failFor(c *gin.Context, err error, forbiddenMsg string) {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, ve.Error())
	case errors.Is(err, translate.ErrUnsupportedLanguage):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, translate.ErrUnsupportedLanguage.Error())
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, forbiddenMsg)
	case errors.Is(err, services.ErrMessageNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, services.ErrMessageNotFound.Error())
	case errors.Is(err, translate.ErrUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, translate.ErrUnavailable.Error())
	case errors.Is(err, translate.ErrFailed):
		logCause(c, err)
		fail(c, http.StatusBadGateway, ErrCodeUpstreamFailed, translate.ErrFailed.Error())
	case errors.Is(err, services.ErrAttachmentStore):
		logCause(c, err)
		fail(c, http.StatusBadGateway, ErrCodeUpstreamFailed, services.ErrAttachmentStore.Error())
	default:
		logCause(c, err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}

func logCause(c *gin.Context, err error) {
	lg := middleware.LoggerFrom(c)
	lg.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
}
