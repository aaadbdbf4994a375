// Package gateway terminates websocket connections, binds them to a
// verified identity and keeps the presence registry in step with the
// transport lifecycle.
//
// Connection lifecycle:
//
//	connecting -> authenticated (Replace in registry) -> closed (UnregisterByConnection)
//
// An anonymous connection (no identity in the handshake) is kept open but
// stays out of the registry, so it receives nothing until a trusted
// userReconnected frame binds it.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-social-chat/internal/presence"
)

var activeConns = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "gateway_connections_active",
	Help: "Open websocket connections, anonymous ones included.",
})

func init() {
	prometheus.MustRegister(activeConns)
}

// Authenticator extracts a verified identity from the handshake request.
// An empty identity with a nil error means the connection is anonymous.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Registry is the subset of presence.Registry the gateway mutates.
type Registry interface {
	Replace(userID string, c presence.Conn) (presence.Conn, bool)
	Unregister(userID string) bool
	UnregisterByConnection(c presence.Conn) (string, bool)
}

// Config tunes the websocket transport.
type Config struct {
	WriteWait       time.Duration
	PongWait        time.Duration
	SendBuffer      int
	MaxMessageBytes int64
	// TrustClientIdentity lets userReconnected/userDisconnected name any user,
	// as older clients expect. Off by default.
	TrustClientIdentity bool
	AllowedOrigins      []string
}

func (c Config) withDefaults() Config {
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.SendBuffer < 1 {
		c.SendBuffer = 256
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	return c
}

// Gateway upgrades HTTP requests and runs one read and one write pump per
// connection.
type Gateway struct {
	reg      Registry
	auth     Authenticator
	cfg      Config
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
	wg      sync.WaitGroup
}

// New returns a Gateway.
func New(reg Registry, auth Authenticator, cfg Config, log zerolog.Logger) *Gateway {
	g := &Gateway{
		reg:     reg,
		auth:    auth,
		cfg:     cfg.withDefaults(),
		log:     log.With().Str("component", "gateway").Logger(),
		clients: make(map[*Client]struct{}),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// Handle adapts the gateway to a gin route.
func (g *Gateway) Handle(c *gin.Context) {
	g.ServeHTTP(c.Writer, c.Request)
}

// ServeHTTP authenticates, upgrades and starts the pumps.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := g.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	c := newClient(g, conn, uuid.NewString(), userID)
	g.track(c)

	// Bind before the read pump exists: its exit is the only path to drop,
	// so a transport that dies during the handshake is still unregistered.
	if userID != "" {
		g.bind(c, userID)
	}

	g.wg.Add(2)
	go func() { defer g.wg.Done(); c.writePump() }()
	go func() { defer g.wg.Done(); c.readPump() }()
	g.log.Info().Str("conn_id", c.id).Str("user_id", userID).Msg("websocket connected")
}

// bind registers c under userID and closes whatever connection it displaced.
func (g *Gateway) bind(c *Client, userID string) {
	prev, replaced := g.reg.Replace(userID, c)
	if !replaced {
		return
	}
	if old, ok := prev.(*Client); ok {
		old.setUserID("")
		old.Close(CloseSuperseded, "superseded")
	}
	g.log.Info().Str("user_id", userID).Str("conn_id", c.id).Str("prev_conn_id", prev.ID()).Msg("connection superseded")
}

func (g *Gateway) handleInbound(c *Client, env envelope) {
	claimed := userIDFrom(env.Data)
	own := c.UserID()

	switch env.Event {
	case EventUserReconnected:
		target := own
		if claimed != "" && claimed != own {
			if !g.cfg.TrustClientIdentity {
				g.log.Warn().Str("conn_id", c.id).Str("user_id", own).Str("claimed", claimed).Msg("ignoring reconnect for foreign identity")
				return
			}
			target = claimed
			c.setUserID(claimed)
		}
		if target == "" {
			return
		}
		g.bind(c, target)

	case EventUserDisconnected:
		if claimed != "" && claimed != own {
			if !g.cfg.TrustClientIdentity {
				g.log.Warn().Str("conn_id", c.id).Str("user_id", own).Str("claimed", claimed).Msg("ignoring disconnect for foreign identity")
				return
			}
			g.reg.Unregister(claimed)
			return
		}
		g.reg.UnregisterByConnection(c)

	default:
		g.log.Debug().Str("conn_id", c.id).Str("event", env.Event).Msg("ignoring unknown event")
	}
}

func (g *Gateway) track(c *Client) {
	g.mu.Lock()
	g.clients[c] = struct{}{}
	g.mu.Unlock()
	activeConns.Inc()
}

// drop is called once per connection when its read pump exits.
func (g *Gateway) drop(c *Client) {
	g.mu.Lock()
	_, ok := g.clients[c]
	delete(g.clients, c)
	g.mu.Unlock()
	if !ok {
		return
	}
	activeConns.Dec()
	if userID, removed := g.reg.UnregisterByConnection(c); removed {
		g.log.Info().Str("conn_id", c.id).Str("user_id", userID).Msg("websocket disconnected")
	}
}

// Shutdown asks every connection to close and waits for the pumps to exit
// or for ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	for c := range g.clients {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() { g.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range g.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
