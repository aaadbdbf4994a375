package gateway

import (
	"encoding/json"
	"strings"
)

// Client to server event names.
const (
	EventUserReconnected  = "userReconnected"
	EventUserDisconnected = "userDisconnected"
)

// Close code sent to a connection whose identity was taken over by a newer one.
const CloseSuperseded = 4000

// envelope is the JSON text frame exchanged in both directions.
type envelope struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
	Version uint64          `json:"v,omitempty"`
}

type outbound struct {
	Event   string `json:"event"`
	Data    any    `json:"data"`
	Version uint64 `json:"v,omitempty"`
}

// userIDFrom accepts either a bare JSON string or {"userId": "..."}.
func userIDFrom(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.UserID)
	}
	return ""
}
