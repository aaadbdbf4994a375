// Package presence tracks which users are online and through which live
// connection. The Registry is the only owner of that mapping; every other
// component goes through its methods.
//
// Invariants:
//   - at most one connection per user; a newer connection replaces the older
//   - a connection maps to at most one user (reverse index by connection ID)
//   - every mutation that changes the online set bumps a version counter and
//     fires the change hook outside the lock
package presence

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Frame is one named server event pushed to a connection. Version is only
// set for presence broadcasts and lets a connection drop stale snapshots.
type Frame struct {
	Event   string
	Data    any
	Version uint64
}

// Conn is a live push connection. Push must not block; implementations
// report a full or closed connection as an error.
type Conn interface {
	ID() string
	Push(Frame) error
}

// Change describes the online set right after a mutation.
type Change struct {
	Op      string
	UserID  string
	Online  []string
	Conns   []Conn
	Version uint64
}

// Registry is a mutex-guarded map from user ID to Conn.
type Registry struct {
	mu      sync.RWMutex
	byUser  map[string]Conn
	byConn  map[string]string
	version uint64

	onChange func(Change)
	log      zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for registry events.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.log = l.With().Str("component", "presence").Logger() }
}

// WithOnChange installs the hook called after every change of the online set.
// The hook runs on the caller's goroutine, outside the registry lock.
func WithOnChange(fn func(Change)) Option {
	return func(r *Registry) { r.onChange = fn }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byUser: make(map[string]Conn),
		byConn: make(map[string]string),
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetOnChange replaces the change hook. It exists so the registry and the
// notifier can be wired after both are constructed.
func (r *Registry) SetOnChange(fn func(Change)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Register binds userID to c, overwriting any previous binding.
func (r *Registry) Register(userID string, c Conn) {
	r.Replace(userID, c)
}

// Replace binds userID to c and returns the connection it displaced, if any.
// Re-registering the same connection is still reported as a change so that
// a reconnecting client receives a fresh snapshot.
func (r *Registry) Replace(userID string, c Conn) (prev Conn, replaced bool) {
	if userID == "" || c == nil {
		return nil, false
	}

	r.mu.Lock()
	prev, replaced = r.byUser[userID]
	if replaced {
		delete(r.byConn, prev.ID())
	}
	// A connection re-registering under another identity releases the old one.
	if other, ok := r.byConn[c.ID()]; ok && other != userID {
		delete(r.byUser, other)
	}
	r.byUser[userID] = c
	r.byConn[c.ID()] = userID
	ch := r.changeLocked("register", userID)
	r.mu.Unlock()

	if replaced && prev.ID() == c.ID() {
		prev, replaced = nil, false
	}
	registryChanges.WithLabelValues("register").Inc()
	r.log.Debug().Str("user_id", userID).Str("conn_id", c.ID()).Bool("replaced", replaced).Msg("presence register")
	r.fire(ch)
	return prev, replaced
}

// Unregister removes userID. It reports whether a record existed; a missing
// record is a no-op and does not notify.
func (r *Registry) Unregister(userID string) bool {
	r.mu.Lock()
	c, ok := r.byUser[userID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byUser, userID)
	delete(r.byConn, c.ID())
	ch := r.changeLocked("unregister", userID)
	r.mu.Unlock()

	registryChanges.WithLabelValues("unregister").Inc()
	r.log.Debug().Str("user_id", userID).Msg("presence unregister")
	r.fire(ch)
	return true
}

// UnregisterByConnection removes whichever user is still bound to c. When
// the user has already moved to a newer connection nothing happens, so a late
// close of a superseded socket cannot evict the live one.
func (r *Registry) UnregisterByConnection(c Conn) (string, bool) {
	if c == nil {
		return "", false
	}
	r.mu.Lock()
	userID, ok := r.byConn[c.ID()]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(r.byConn, c.ID())
	delete(r.byUser, userID)
	ch := r.changeLocked("drop", userID)
	r.mu.Unlock()

	registryChanges.WithLabelValues("drop").Inc()
	r.log.Debug().Str("user_id", userID).Str("conn_id", c.ID()).Msg("presence drop")
	r.fire(ch)
	return userID, true
}

// Lookup returns the connection currently bound to userID.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	c, ok := r.byUser[userID]
	r.mu.RUnlock()
	return c, ok
}

// Snapshot returns the sorted online set.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onlineLocked()
}

// Connections returns every registered connection.
func (r *Registry) Connections() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.byUser)
}

// Version returns the version of the latest change.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) onlineLocked() []string {
	ids := lo.Keys(r.byUser)
	sort.Strings(ids)
	return ids
}

func (r *Registry) changeLocked(op, userID string) *Change {
	r.version++
	onlineUsers.Set(float64(len(r.byUser)))
	if r.onChange == nil {
		return nil
	}
	return &Change{
		Op:      op,
		UserID:  userID,
		Online:  r.onlineLocked(),
		Conns:   lo.Values(r.byUser),
		Version: r.version,
	}
}

func (r *Registry) fire(ch *Change) {
	if ch == nil {
		return
	}
	r.mu.RLock()
	fn := r.onChange
	r.mu.RUnlock()
	if fn != nil {
		fn(*ch)
	}
}
