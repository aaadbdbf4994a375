package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-social-chat/internal/attachments"
)

// GetAttachment godoc
// @ID          getAttachment
// @Summary     Download an attachment
// @Tags        Attachments
// @Produce     png,jpeg,gif,webp
// @Param       id  path  string  true  "Attachment ID (UUID)"  format(uuid)
// @Success     200  {file}   binary
// @Failure     404  {object} handlers.ErrorResponse "Attachment not found"
// @Router      /attachments/{id} [get]
func (h *Handlers) GetAttachment(c *gin.Context) {
	if h.attachments == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "attachment not found")
		return
	}
	b, err := h.attachments.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, attachments.ErrNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "attachment not found")
		return
	}
	if err != nil {
		logCause(c, err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	if notModified(c, strconv.Quote(b.ID)) {
		return
	}
	c.Data(http.StatusOK, b.MIME, b.Data)
}
