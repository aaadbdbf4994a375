// Message HTTP handlers.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a message was already
// created for (sender, receiver, key), the handler returns that message with
// 200 and `Idempotency-Replayed: true` instead of creating another one.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-social-chat/internal/domain"
	"github.com/tbourn/go-social-chat/internal/http/middleware"
	"github.com/tbourn/go-social-chat/internal/services"
)

//
// DTOs
//

// SendMessageRequest is the JSON payload for sending a direct message.
// At least one of Text or Image must be present.
type SendMessageRequest struct {
	// Text is normalized (line endings, blank lines, surrounding whitespace).
	Text string `json:"text" example:"see you at 6?"`
	// Image is a data URL, bare base64, or an existing attachment reference.
	Image string `json:"image" example:"https://cdn.example.com/cat.png"`
}

// ListMessagesResponse contains a page of a conversation and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// DeleteMessageResponse confirms a deletion.
type DeleteMessageResponse struct {
	MessageID string `json:"message_id" example:"5f0c7c1e-3f0e-4f52-a9a6-6d8f6f9b41d2"`
}

//
// Handlers
//

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a direct message
// @Description Persists a message to the receiver and pushes `newMessage` to them if online.
// @Description Supports idempotency via the Idempotency-Key header (same key → same message).
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Receiver user ID"
// @Param       body             body    handlers.SendMessageRequest  true  "Message payload"
//
// @Success     201  {object}  domain.Message          "Created"
// @Success     200  {object}  domain.Message          "Idempotent replay"
// @Header      200  {string}  Idempotency-Replayed    "true on replay"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     502  {object}  handlers.ErrorResponse  "Attachment store failed"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /messages/send/{id} [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	res, err := h.msgSvc.Send(c.Request.Context(), userID(c), c.Param("id"), services.SendInput{
		Text:           req.Text,
		Image:          req.Image,
		IdempotencyKey: key,
	})
	if err != nil {
		failFor(c, err, "access denied")
		return
	}
	if res.Replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
		ok(c, http.StatusOK, res.Message)
		return
	}
	ok(c, http.StatusCreated, res.Message)
}

// GetMessages godoc
// @ID          getMessages
// @Summary     Conversation history
// @Description Returns messages exchanged with the counterpart in creation order.
// @Description Without page or page_size the whole conversation is returned.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       id             path    string  true  "Counterpart user ID"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(200) default(50)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag  "Weak ETag for the conversation"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /messages/{id} [get]
func (h *Handlers) GetMessages(c *gin.Context) {
	ctx := c.Request.Context()
	me := userID(c)
	peer := strings.TrimSpace(c.Param("id"))
	if peer == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "counterpart id is required")
		return
	}

	page, pageSize, paged := clampPagination(c)

	// Best effort: a failed tag lookup just skips the conditional path.
	if etag, err := h.msgSvc.ConversationTag(ctx, me, peer, page, pageSize); err == nil && notModified(c, etag) {
		return
	}

	if !paged {
		items, err := h.msgSvc.History(ctx, me, peer)
		if err != nil {
			failFor(c, err, "access denied")
			return
		}
		n := len(items)
		ok(c, http.StatusOK, ListMessagesResponse{
			Messages:   items,
			Pagination: newPagination(1, n, int64(n)),
		})
		return
	}

	items, total, err := h.msgSvc.HistoryPage(ctx, me, peer, page, pageSize)
	if err != nil {
		failFor(c, err, "access denied")
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// DeleteMessage godoc
// @ID          deleteMessage
// @Summary     Delete a message for both participants
// @Description Only the sender may delete. Both participants receive `messageDeleted`.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Message ID"
//
// @Success     200  {object} handlers.DeleteMessageResponse
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     403  {object} handlers.ErrorResponse "Not the sender"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /messages/{id} [delete]
func (h *Handlers) DeleteMessage(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if err := h.msgSvc.Delete(c.Request.Context(), userID(c), id); err != nil {
		failFor(c, err, "only the sender may delete this message")
		return
	}
	ok(c, http.StatusOK, DeleteMessageResponse{MessageID: id})
}
