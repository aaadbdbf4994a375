package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-social-chat/internal/services"
)

// TranslateRequest is the JSON payload for on-demand translation.
// MessageID, if given, only authorizes the caller; Text is what gets translated.
type TranslateRequest struct {
	Text           string `json:"text" example:"see you at 6?"`
	TargetLanguage string `json:"targetLanguage" example:"es"`
	MessageID      string `json:"messageId,omitempty" example:"5f0c7c1e-3f0e-4f52-a9a6-6d8f6f9b41d2"`
}

// Translate godoc
// @ID          translateMessage
// @Summary     Translate text
// @Description Translates caller-supplied text into a BCP 47 target language. The result is not stored.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.TranslateRequest  true  "Translation request"
//
// @Success     200  {object} domain.TranslationResult
// @Failure     400  {object} handlers.ErrorResponse "Missing field or unsupported language"
// @Failure     403  {object} handlers.ErrorResponse "Not a participant of messageId"
// @Failure     404  {object} handlers.ErrorResponse "messageId not found"
// @Failure     502  {object} handlers.ErrorResponse "Provider failed"
// @Failure     503  {object} handlers.ErrorResponse "Provider unavailable"
// @Router      /messages/translate [post]
func (h *Handlers) Translate(c *gin.Context) {
	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	res, err := h.trSvc.Translate(c.Request.Context(), userID(c), services.TranslateInput(req))
	if err != nil {
		failFor(c, err, "access denied")
		return
	}
	ok(c, http.StatusOK, res)
}
