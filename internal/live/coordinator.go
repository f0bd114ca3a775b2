// Package live coordinates live-session rosters. A roster is the
// user-identity view of session membership: it survives a user's
// reconnect to a new connection id, unlike the connection-keyed
// live:<id> scope. Sessions move empty -> active -> empty, and the
// empty state reclaims the roster entry.
package live

import (
	"sync"

	"go.uber.org/zap"

	"coursepulse/internal/event"
	"coursepulse/internal/registry"
)

// Interaction kinds relayed between session members.
const (
	InteractHandRaise    = "hand_raise"
	InteractChat         = "chat"
	InteractPollResponse = "poll_response"
	InteractReaction     = "reaction"
	InteractScreenShare  = "screen_share"
)

// member tracks one user inside one session, including which of their
// connections are attached. The user leaves the roster only when the
// last of those connections leaves or drops.
type member struct {
	role  string
	conns map[string]bool
}

type Coordinator struct {
	mu      sync.Mutex
	rosters map[string]map[string]*member // session id -> user id -> member

	registry *registry.Registry
	logger   *zap.Logger
}

func NewCoordinator(reg *registry.Registry, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		rosters:  make(map[string]map[string]*member),
		registry: reg,
		logger:   logger.Named("live"),
	}
}

// Join attaches the connection to the session scope and the user to
// the roster. Existing members get a roster-delta broadcast only when
// a new user appears, not when a known user adds a device; the joiner
// always gets an ack with the current total.
func (c *Coordinator) Join(sessionID string, link registry.Link) error {
	if err := c.registry.JoinScope(link, registry.LiveScope(sessionID)); err != nil {
		return err
	}

	c.mu.Lock()
	roster := c.rosters[sessionID]
	if roster == nil {
		roster = make(map[string]*member)
		c.rosters[sessionID] = roster
	}
	m, known := roster[link.UserID()]
	if !known {
		m = &member{role: link.Role(), conns: make(map[string]bool)}
		roster[link.UserID()] = m
	}
	m.conns[link.ID()] = true
	total := len(roster)
	c.mu.Unlock()

	if !known {
		c.registry.BroadcastScope(registry.LiveScope(sessionID), event.OutJoinedLiveSession, map[string]any{
			"session_id":        sessionID,
			"user_id":           link.UserID(),
			"role":              link.Role(),
			"participant_count": total,
		}, link.ID())
		c.logger.Info("user joined live session",
			zap.String("session_id", sessionID),
			zap.String("user_id", link.UserID()),
			zap.Int("participants", total))
	}

	return link.Send(event.OutJoinedLiveSession, map[string]any{
		"session_id":        sessionID,
		"participant_count": total,
	})
}

// Leave detaches one connection. The departure delta goes out only
// when the user's last connection in the session is gone; an empty
// roster is deleted so no dangling state survives the session.
func (c *Coordinator) Leave(sessionID string, link registry.Link) {
	c.registry.LeaveScope(link, registry.LiveScope(sessionID))
	if gone, total := c.detach(sessionID, link.UserID(), link.ID()); gone {
		c.announceLeft(sessionID, link.UserID(), total)
	}
	_ = link.Send(event.OutLeftLiveSession, map[string]any{
		"session_id": sessionID,
	})
}

// DropConnection removes a dropped connection's user from every roster
// it participates in. Disconnect is keyed by connection id while
// rosters are keyed by user id; this cross-index cleanup is the
// subtle-bug hotspot and is covered heavily by tests.
func (c *Coordinator) DropConnection(link registry.Link) {
	type departure struct {
		sessionID string
		total     int
	}
	var departures []departure

	c.mu.Lock()
	for sessionID, roster := range c.rosters {
		m, ok := roster[link.UserID()]
		if !ok || !m.conns[link.ID()] {
			continue
		}
		delete(m.conns, link.ID())
		if len(m.conns) == 0 {
			delete(roster, link.UserID())
			if len(roster) == 0 {
				delete(c.rosters, sessionID)
			}
			departures = append(departures, departure{sessionID, len(roster)})
		}
	}
	c.mu.Unlock()

	for _, d := range departures {
		c.announceLeft(d.sessionID, link.UserID(), d.total)
	}
}

// RelayInteraction broadcasts a typed interaction to the other session
// members. Sender identity is stamped server-side from the connection;
// a client-supplied identity in the content is never trusted.
func (c *Coordinator) RelayInteraction(sessionID string, sender registry.Link, kind string, content any) error {
	outEvent := event.OutLiveInteraction
	switch kind {
	case InteractHandRaise, InteractChat, InteractPollResponse, InteractReaction:
	case InteractScreenShare:
		outEvent = event.OutScreenShareUpdate
	default:
		return ErrUnknownInteraction
	}

	c.mu.Lock()
	roster := c.rosters[sessionID]
	m, ok := roster[sender.UserID()]
	isMember := ok && m.conns[sender.ID()]
	c.mu.Unlock()
	if !isMember {
		return ErrNotInSession
	}

	c.registry.BroadcastScope(registry.LiveScope(sessionID), outEvent, map[string]any{
		"session_id": sessionID,
		"kind":       kind,
		"content":    content,
		"from_user":  sender.UserID(),
		"from_role":  sender.Role(),
	}, sender.ID())
	return nil
}

// RosterSize returns the distinct-user count; zero means the session
// does not exist.
func (c *Coordinator) RosterSize(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rosters[sessionID])
}

// Snapshot returns user id -> role for one session's roster.
func (c *Coordinator) Snapshot(sessionID string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	roster := c.rosters[sessionID]
	out := make(map[string]string, len(roster))
	for userID, m := range roster {
		out[userID] = m.role
	}
	return out
}

// Sessions returns session id -> participant count for every active
// roster.
func (c *Coordinator) Sessions() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int, len(c.rosters))
	for sessionID, roster := range c.rosters {
		out[sessionID] = len(roster)
	}
	return out
}

// PruneEmpty reclaims empty rosters. Leave/DropConnection already do
// this inline; the maintenance sweep calls it as a safety net.
func (c *Coordinator) PruneEmpty() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	pruned := 0
	for sessionID, roster := range c.rosters {
		if len(roster) == 0 {
			delete(c.rosters, sessionID)
			pruned++
		}
	}
	return pruned
}

// detach removes one connection of one user from one session. Reports
// whether the user fully left and the remaining participant count.
func (c *Coordinator) detach(sessionID, userID, connID string) (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	roster := c.rosters[sessionID]
	m, ok := roster[userID]
	if !ok || !m.conns[connID] {
		return false, len(roster)
	}
	delete(m.conns, connID)
	if len(m.conns) > 0 {
		return false, len(roster)
	}
	delete(roster, userID)
	if len(roster) == 0 {
		delete(c.rosters, sessionID)
		return true, 0
	}
	return true, len(roster)
}

func (c *Coordinator) announceLeft(sessionID, userID string, total int) {
	c.registry.BroadcastScope(registry.LiveScope(sessionID), event.OutLeftLiveSession, map[string]any{
		"session_id":        sessionID,
		"user_id":           userID,
		"participant_count": total,
	}, "")
	c.logger.Info("user left live session",
		zap.String("session_id", sessionID),
		zap.String("user_id", userID),
		zap.Int("participants", total))
}
