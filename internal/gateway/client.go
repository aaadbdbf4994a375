package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-social-chat/internal/presence"
)

var (
	// ErrClosed is returned by Push once the client has been closed.
	ErrClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when the client cannot keep up; the client
	// is closed as a side effect.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Client is one websocket connection. It implements presence.Conn.
type Client struct {
	id   string
	gw   *Gateway
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	mu           sync.Mutex
	userID       string
	closed       bool
	closeCode    int
	closeReason  string
	lastPresence uint64
}

func newClient(gw *Gateway, conn *websocket.Conn, id, userID string) *Client {
	return &Client{
		id:        id,
		gw:        gw,
		conn:      conn,
		send:      make(chan []byte, gw.cfg.SendBuffer),
		userID:    userID,
		closeCode: websocket.CloseNormalClosure,
		log:       gw.log.With().Str("conn_id", id).Logger(),
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string { return c.id }

// UserID returns the identity the connection is currently bound to, or ""
// for an anonymous connection.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) setUserID(id string) {
	c.mu.Lock()
	c.userID = id
	c.mu.Unlock()
}

// Push enqueues f without blocking. Presence frames older than the newest
// one already queued are dropped silently.
func (c *Client) Push(f presence.Frame) error {
	b, err := json.Marshal(outbound{Event: f.Event, Data: f.Data, Version: f.Version})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if f.Version != 0 {
		if f.Version <= c.lastPresence {
			return nil
		}
		c.lastPresence = f.Version
	}
	select {
	case c.send <- b:
		return nil
	default:
		c.closeLocked(websocket.CloseTryAgainLater, "send buffer full")
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which sends a close frame with code and reason.
func (c *Client) Close(code int, reason string) {
	c.mu.Lock()
	c.closeLocked(code, reason)
	c.mu.Unlock()
}

func (c *Client) closeLocked(code int, reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.send)
}

// readPump consumes inbound frames until the transport fails. Whatever the
// cause, it ends with exactly one UnregisterByConnection.
func (c *Client) readPump() {
	defer func() {
		c.gw.drop(c)
		c.Close(websocket.CloseNormalClosure, "")
		_ = c.conn.Close()
	}()

	pongWait := c.gw.cfg.PongWait
	c.conn.SetReadLimit(c.gw.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug().Err(err).Msg("websocket read")
			}
			return
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Debug().Err(err).Msg("ignoring malformed frame")
			continue
		}
		c.gw.handleInbound(c, env)
	}
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (c *Client) writePump() {
	writeWait := c.gw.cfg.WriteWait
	ticker := time.NewTicker(c.gw.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.mu.Lock()
				code, reason := c.closeCode, c.closeReason
				c.mu.Unlock()
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("websocket write")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
