// Package notify pushes named events to the live connections of specific
// users. Delivery is best effort: an offline user or a failed push is
// logged and counted, never returned to the caller, because the state
// change behind the event has already been committed.
package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-social-chat/internal/presence"
)

// Server to client event names.
const (
	EventNewMessage     = "newMessage"
	EventMessageDeleted = "messageDeleted"
	EventOnlineUsers    = "getOnlineUsers"
)

// Delivery outcomes used as metric labels.
const (
	OutcomeDelivered = "delivered"
	OutcomeOffline   = "offline"
	OutcomeFailed    = "failed"
)

var deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "notify_deliveries_total",
	Help: "Event pushes by event name and outcome.",
}, []string{"event", "outcome"})

func init() {
	prometheus.MustRegister(deliveries)
}

// MessageDeleted is the payload of EventMessageDeleted. ConversationWith is
// the other participant as seen by the recipient of the frame.
type MessageDeleted struct {
	MessageID        string `json:"messageId"`
	DeletedBy        string `json:"deletedBy"`
	ConversationWith string `json:"conversationWith"`
}

// Locator resolves a user's current connection.
type Locator interface {
	Lookup(userID string) (presence.Conn, bool)
}

// Target is one recipient of an event with its own payload.
type Target struct {
	UserID  string
	Payload any
}

// Notifier delivers events through whatever connection the registry holds
// at the moment of delivery.
type Notifier struct {
	loc Locator
	log zerolog.Logger
}

// New returns a Notifier bound to loc.
func New(loc Locator, log zerolog.Logger) *Notifier {
	return &Notifier{loc: loc, log: log.With().Str("component", "notify").Logger()}
}

// Notify pushes event to every target that is online. Targets resolving to
// the same connection receive a single push carrying the first payload.
// It returns the number of successful pushes.
func (n *Notifier) Notify(event string, targets ...Target) int {
	seen := make(map[string]struct{}, len(targets))
	delivered := 0
	for _, t := range targets {
		conn, ok := n.loc.Lookup(t.UserID)
		if !ok {
			deliveries.WithLabelValues(event, OutcomeOffline).Inc()
			n.log.Debug().Str("event", event).Str("user_id", t.UserID).Msg("recipient offline")
			continue
		}
		if _, dup := seen[conn.ID()]; dup {
			continue
		}
		seen[conn.ID()] = struct{}{}

		if err := conn.Push(presence.Frame{Event: event, Data: t.Payload}); err != nil {
			deliveries.WithLabelValues(event, OutcomeFailed).Inc()
			n.log.Warn().Err(err).Str("event", event).Str("user_id", t.UserID).Str("conn_id", conn.ID()).Msg("push failed")
			continue
		}
		deliveries.WithLabelValues(event, OutcomeDelivered).Inc()
		delivered++
	}
	return delivered
}

// NotifyUser is Notify for a single recipient.
func (n *Notifier) NotifyUser(event, userID string, payload any) bool {
	return n.Notify(event, Target{UserID: userID, Payload: payload}) == 1
}

// BroadcastPresence sends the online set carried by ch to every connection
// registered at the time of the change. It is meant to be installed as the
// registry's change hook.
func (n *Notifier) BroadcastPresence(ch presence.Change) {
	frame := presence.Frame{Event: EventOnlineUsers, Data: ch.Online, Version: ch.Version}
	for _, conn := range ch.Conns {
		if err := conn.Push(frame); err != nil {
			deliveries.WithLabelValues(EventOnlineUsers, OutcomeFailed).Inc()
			n.log.Warn().Err(err).Str("conn_id", conn.ID()).Uint64("version", ch.Version).Msg("presence push failed")
			continue
		}
		deliveries.WithLabelValues(EventOnlineUsers, OutcomeDelivered).Inc()
	}
}
