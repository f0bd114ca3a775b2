// Package registry is the authoritative in-memory source of "who is
// reachable right now and through which connections". It owns the
// user-to-connection presence maps and the named broadcast scopes; all
// other components reach live clients through it.
package registry

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Link is the narrow transport seam the registry addresses connections
// through. The websocket layer implements it; tests use in-memory
// fakes.
type Link interface {
	ID() string
	UserID() string
	Role() string
	ConnectedAt() time.Time
	// Alive reports whether the transport still considers the channel
	// open. Used by the maintenance sweep, never for send decisions.
	Alive() bool
	Send(event string, payload any) error
	Close() error
}

// Registry tracks connections, per-user presence, and scope
// membership. One mutex guards all three maps: a user can reconnect on
// one device while disconnecting on another in overlapping windows,
// and the maps must never disagree.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Link            // connection id -> link
	users  map[string]map[string]Link // user id -> connection id -> link
	scopes map[string]map[string]Link // scope name -> connection id -> link
	logger *zap.Logger
}

func New(logger *zap.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]Link),
		users:  make(map[string]map[string]Link),
		scopes: make(map[string]map[string]Link),
		logger: logger.Named("registry"),
	}
}

// Register admits a connection. A duplicate connection id is an
// invariant violation: the existing state is left untouched and the
// error is surfaced for logging only.
func (r *Registry) Register(link Link) error {
	if link == nil {
		return ErrNilLink
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	connID := link.ID()
	if _, exists := r.conns[connID]; exists {
		r.logger.Error("duplicate connection registration",
			zap.String("connection_id", connID),
			zap.String("user_id", link.UserID()))
		return ErrDuplicateConnection
	}

	r.conns[connID] = link
	userID := link.UserID()
	if r.users[userID] == nil {
		r.users[userID] = make(map[string]Link)
	}
	r.users[userID][connID] = link
	return nil
}

// Unregister removes a connection from the presence map and from every
// scope it joined. Unregistering an unknown id is a no-op, which makes
// disconnect safe to run concurrently with any in-flight handler for
// the same connection.
func (r *Registry) Unregister(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(connID)
}

// removeLocked deletes all registry state for a connection id. The
// user entry is garbage-collected on last disconnect so that a user id
// is present iff its connection set is non-empty.
func (r *Registry) removeLocked(connID string) bool {
	link, exists := r.conns[connID]
	if !exists {
		return false
	}
	delete(r.conns, connID)

	userID := link.UserID()
	if set, ok := r.users[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.users, userID)
		}
	}

	for name, members := range r.scopes {
		if _, ok := members[connID]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(r.scopes, name)
			}
		}
	}
	return true
}

// IsOnline reports whether the user has at least one open connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// ConnectionCount returns the user's open connection count.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// Connections returns a snapshot of the user's links.
func (r *Registry) Connections(userID string) []Link {
	r.mu.RLock()
	defer r.mu.RUnlock()

	links := make([]Link, 0, len(r.users[userID]))
	for _, link := range r.users[userID] {
		links = append(links, link)
	}
	return links
}

// SendToUser delivers an event to every connection of the user and
// returns how many sends were attempted. Zero connections is a no-op:
// the transport layer never queues for later delivery, that belongs to
// the notification policy. Send failures on individual connections are
// logged and skipped so one device cannot block the others.
func (r *Registry) SendToUser(userID, eventName string, payload any) int {
	links := r.Connections(userID)
	for _, link := range links {
		if err := link.Send(eventName, payload); err != nil {
			r.logger.Warn("send to connection failed",
				zap.String("user_id", userID),
				zap.String("connection_id", link.ID()),
				zap.String("event", eventName),
				zap.Error(err))
		}
	}
	return len(links)
}

// DisconnectUser sends a termination event to every connection of the
// user, then closes and unregisters each one. Returns the number of
// connections terminated.
func (r *Registry) DisconnectUser(userID, eventName string, payload any) int {
	links := r.Connections(userID)
	for _, link := range links {
		if err := link.Send(eventName, payload); err != nil {
			r.logger.Debug("termination event send failed",
				zap.String("connection_id", link.ID()), zap.Error(err))
		}
		_ = link.Close()
		r.Unregister(link.ID())
	}
	return len(links)
}

// BroadcastAll delivers an event to every open connection. Used only
// by the system-wide hook surface (emergency, maintenance, release
// notes).
func (r *Registry) BroadcastAll(eventName string, payload any) int {
	r.mu.RLock()
	links := make([]Link, 0, len(r.conns))
	for _, link := range r.conns {
		links = append(links, link)
	}
	r.mu.RUnlock()

	sent := 0
	for _, link := range links {
		if err := link.Send(eventName, payload); err != nil {
			continue
		}
		sent++
	}
	return sent
}

// OnlineUsers returns the distinct online user ids, optionally
// filtered by role (empty role means everyone).
func (r *Registry) OnlineUsers(role string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.users))
	for userID, set := range r.users {
		if role != "" {
			match := false
			for _, link := range set {
				if link.Role() == role {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		users = append(users, userID)
	}
	return users
}

// Stats is the aggregate snapshot exposed by the introspection API.
type Stats struct {
	Connections int `json:"connections"`
	OnlineUsers int `json:"online_users"`
	Scopes      int `json:"scopes"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Connections: len(r.conns),
		OnlineUsers: len(r.users),
		Scopes:      len(r.scopes),
	}
}

// Sweep force-unregisters connections the transport reports dead and
// whose connect time exceeds the idle threshold. This is the safety
// net behind the disconnect handler, not the primary cleanup path.
// Returns the ids removed so callers can clear cross-indexed state.
func (r *Registry) Sweep(idleThreshold time.Duration) []Link {
	cutoff := time.Now().Add(-idleThreshold)

	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []Link
	for connID, link := range r.conns {
		if !link.Alive() && link.ConnectedAt().Before(cutoff) {
			stale = append(stale, link)
			r.removeLocked(connID)
		}
	}
	if len(stale) > 0 {
		r.logger.Info("swept stale connections", zap.Int("count", len(stale)))
	}
	return stale
}
