package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OnlineUsersResponse mirrors the getOnlineUsers socket payload.
type OnlineUsersResponse struct {
	Online []string `json:"online"`
}

// OnlineUsers godoc
// @ID          onlineUsers
// @Summary     Current online users
// @Description Snapshot of the presence registry, sorted. Clients use it on cold start before the socket broadcast arrives.
// @Tags        Presence
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object} handlers.OnlineUsersResponse
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Router      /messages/online [get]
func (h *Handlers) OnlineUsers(c *gin.Context) {
	online := []string{}
	if h.presence != nil {
		online = append(online, h.presence.Snapshot()...)
	}
	ok(c, http.StatusOK, OnlineUsersResponse{Online: online})
}
