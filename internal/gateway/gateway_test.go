package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-social-chat/internal/notify"
	"github.com/tbourn/go-social-chat/internal/presence"
)

// queryAuth trusts ?user= and rejects ?user=bad.
type queryAuth struct{}

func (queryAuth) Authenticate(r *http.Request) (string, error) {
	u := r.URL.Query().Get("user")
	if u == "bad" {
		return "", errors.New("bad token")
	}
	return u, nil
}

type harness struct {
	reg *presence.Registry
	n   *notify.Notifier
	gw  *Gateway
	srv *httptest.Server
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	reg := presence.NewRegistry()
	n := notify.New(reg, zerolog.Nop())
	reg.SetOnChange(n.BroadcastPresence)
	gw := New(reg, queryAuth{}, cfg, zerolog.Nop())
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	return &harness{reg: reg, n: n, gw: gw, srv: srv}
}

func (h *harness) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type frame struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	Version uint64          `json:"v"`
}

func readFrame(t *testing.T, c *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := c.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

// readUntil skips frames until one with the given event arrives.
func readUntil(t *testing.T, c *websocket.Conn, event string, match func(frame) bool) frame {
	t.Helper()
	for {
		f := readFrame(t, c)
		if f.Event == event && (match == nil || match(f)) {
			return f
		}
	}
}

func onlineIs(want ...string) func(frame) bool {
	return func(f frame) bool {
		var got []string
		_ = json.Unmarshal(f.Data, &got)
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}
}

func write(t *testing.T, c *websocket.Conn, event string, data any) {
	t.Helper()
	b, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, b))
}

func TestGateway_ConnectBroadcastsOnlineSet(t *testing.T) {
	h := newHarness(t, Config{})

	alice := h.dial(t, "alice")
	readUntil(t, alice, notify.EventOnlineUsers, onlineIs("alice"))

	bob := h.dial(t, "bob")
	readUntil(t, bob, notify.EventOnlineUsers, onlineIs("alice", "bob"))
	readUntil(t, alice, notify.EventOnlineUsers, onlineIs("alice", "bob"))

	require.Equal(t, []string{"alice", "bob"}, h.reg.Snapshot())
}

func TestGateway_RejectsInvalidCredentials(t *testing.T) {
	h := newHarness(t, Config{})
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/?user=bad"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_AnonymousNotRegistered(t *testing.T) {
	h := newHarness(t, Config{})
	_ = h.dial(t, "")

	require.Eventually(t, func() bool { return h.gw.count() == 1 }, time.Second, 10*time.Millisecond)
	require.Empty(t, h.reg.Snapshot())
}

func TestGateway_UncleanDropUnregisters(t *testing.T) {
	h := newHarness(t, Config{})
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	readUntil(t, bob, notify.EventOnlineUsers, onlineIs("alice", "bob"))

	// When alice's transport goes away without a logout frame
	require.NoError(t, alice.UnderlyingConn().Close())

	// Then bob observes a broadcast without alice
	readUntil(t, bob, notify.EventOnlineUsers, onlineIs("bob"))
	require.Equal(t, []string{"bob"}, h.reg.Snapshot())
}

// slowRegistry holds every Replace open long enough for the peer to vanish
// mid-handshake.
type slowRegistry struct {
	*presence.Registry
	delay    time.Duration
	replaced atomic.Int32
}

func (r *slowRegistry) Replace(userID string, c presence.Conn) (presence.Conn, bool) {
	time.Sleep(r.delay)
	defer r.replaced.Add(1)
	return r.Registry.Replace(userID, c)
}

func TestGateway_DropDuringBindStillUnregisters(t *testing.T) {
	reg := &slowRegistry{Registry: presence.NewRegistry(), delay: 100 * time.Millisecond}
	gw := New(reg, queryAuth{}, Config{}, zerolog.Nop())
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=alice"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.NoError(t, conn.UnderlyingConn().Close())

	require.Eventually(t, func() bool {
		return reg.replaced.Load() == 1 && reg.Len() == 0 && gw.count() == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Empty(t, reg.Snapshot())
}

func TestGateway_UserDisconnected_ExplicitLogout(t *testing.T) {
	h := newHarness(t, Config{})
	alice := h.dial(t, "alice")
	readUntil(t, alice, notify.EventOnlineUsers, onlineIs("alice"))

	write(t, alice, EventUserDisconnected, "alice")

	require.Eventually(t, func() bool { return h.reg.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestGateway_UserReconnected_Rebinds(t *testing.T) {
	h := newHarness(t, Config{})
	alice := h.dial(t, "alice")
	readUntil(t, alice, notify.EventOnlineUsers, onlineIs("alice"))

	write(t, alice, EventUserDisconnected, map[string]string{"userId": "alice"})
	require.Eventually(t, func() bool { return h.reg.Len() == 0 }, time.Second, 10*time.Millisecond)

	write(t, alice, EventUserReconnected, "alice")
	readUntil(t, alice, notify.EventOnlineUsers, onlineIs("alice"))
}

func TestGateway_ForeignIdentityIgnoredUnlessTrusted(t *testing.T) {
	h := newHarness(t, Config{})
	alice := h.dial(t, "alice")
	bob := h.dial(t, "bob")
	readUntil(t, bob, notify.EventOnlineUsers, onlineIs("alice", "bob"))

	v := h.reg.Version()
	// alice tries to log bob out
	write(t, alice, EventUserDisconnected, "bob")
	// and then pokes her own reconnect so we know the previous frame was handled
	write(t, alice, EventUserReconnected, "alice")
	f := readUntil(t, alice, notify.EventOnlineUsers, func(f frame) bool { return f.Version > v })
	require.True(t, onlineIs("alice", "bob")(f))
	require.Equal(t, []string{"alice", "bob"}, h.reg.Snapshot())

	trusted := newHarness(t, Config{TrustClientIdentity: true})
	anon := trusted.dial(t, "")
	write(t, anon, EventUserReconnected, "carol")
	readUntil(t, anon, notify.EventOnlineUsers, onlineIs("carol"))
}

func TestGateway_NewConnectionSupersedesOld(t *testing.T) {
	h := newHarness(t, Config{})
	first := h.dial(t, "alice")
	readUntil(t, first, notify.EventOnlineUsers, onlineIs("alice"))

	second := h.dial(t, "alice")
	readUntil(t, second, notify.EventOnlineUsers, onlineIs("alice"))

	// The old socket is told it was superseded.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	var closeErr *websocket.CloseError
	for {
		_, _, err := first.ReadMessage()
		if err != nil {
			require.ErrorAs(t, err, &closeErr)
			break
		}
	}
	require.Equal(t, CloseSuperseded, closeErr.Code)

	// Closing the stale socket must not evict the live one.
	_ = first.Close()
	time.Sleep(50 * time.Millisecond)
	conn, ok := h.reg.Lookup("alice")
	require.True(t, ok)
	require.NotNil(t, conn)
	require.Equal(t, []string{"alice"}, h.reg.Snapshot())

	// Messages go to the new socket.
	require.True(t, h.n.NotifyUser(notify.EventNewMessage, "alice", map[string]string{"text": "hi"}))
	f := readUntil(t, second, notify.EventNewMessage, nil)
	require.JSONEq(t, `{"text":"hi"}`, string(f.Data))
}

func TestGateway_Shutdown(t *testing.T) {
	h := newHarness(t, Config{})
	c := h.dial(t, "alice")
	readUntil(t, c, notify.EventOnlineUsers, onlineIs("alice"))

	ctx, cancel := contextWithTimeout(2 * time.Second)
	defer cancel()
	require.NoError(t, h.gw.Shutdown(ctx))
	require.Empty(t, h.reg.Snapshot())
}
