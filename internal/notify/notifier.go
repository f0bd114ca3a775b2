package notify

import (
	"context"

	"go.uber.org/zap"

	"coursepulse/internal/event"
	"coursepulse/internal/registry"
)

// Presence is the slice of the connection registry the notifier needs.
type Presence interface {
	IsOnline(userID string) bool
	SendToUser(userID, eventName string, payload any) int
}

// PreferenceReader loads a user's persisted notification settings.
// A missing record is (nil, nil), not an error.
type PreferenceReader interface {
	GetPreferences(ctx context.Context, userID string) (*event.Preferences, error)
}

// PendingReader queries the durable notification store for unread
// items, newest first, bounded by limit.
type PendingReader interface {
	UnreadNotifications(ctx context.Context, userID string, limit int) ([]*event.Notification, error)
}

// Notifier applies the delivery policy to live pushes and to the
// flush-on-connect replay. It never buffers: a notification that finds
// the user offline stays discoverable only through the durable store.
type Notifier struct {
	presence Presence
	prefs    PreferenceReader
	pending  PendingReader
	window   int
	logger   *zap.Logger
}

func NewNotifier(presence Presence, prefs PreferenceReader, pending PendingReader, flushWindow int, logger *zap.Logger) *Notifier {
	return &Notifier{
		presence: presence,
		prefs:    prefs,
		pending:  pending,
		window:   flushWindow,
		logger:   logger.Named("notify"),
	}
}

// PushNotification filters one notification through the policy and, if
// it passes and the user is online, delivers it immediately to every
// connection. At-most-once, best-effort; offline users are a no-op.
// Returns whether delivery was attempted.
func (n *Notifier) PushNotification(ctx context.Context, userID string, notif *event.Notification) bool {
	return n.PushEvent(ctx, userID, event.OutNotification, notif)
}

// PushEvent is PushNotification with an explicit outbound event name;
// the hook surface uses it to keep fixed per-hook event names.
func (n *Notifier) PushEvent(ctx context.Context, userID, eventName string, notif *event.Notification) bool {
	prefs := n.loadPrefs(ctx, userID)
	if !ShouldDeliver(notif, prefs) {
		return false
	}
	if !n.presence.IsOnline(userID) {
		return false
	}
	n.presence.SendToUser(userID, eventName, notif)
	return true
}

// FlushPending replays unread notifications to one new connection.
// Invoked once per connection, never per reconnect burst. The window
// is bounded and everything that survives the policy filter goes out
// as a single batched event, which caps burst amplification when a
// user reconnects with a large backlog.
func (n *Notifier) FlushPending(ctx context.Context, conn registry.Link) {
	userID := conn.UserID()

	items, err := n.pending.UnreadNotifications(ctx, userID, n.window)
	if err != nil {
		n.logger.Warn("pending notification load failed",
			zap.String("user_id", userID), zap.Error(err))
		return
	}
	if len(items) == 0 {
		return
	}

	prefs := n.loadPrefs(ctx, userID)
	deliverable := make([]*event.Notification, 0, len(items))
	for _, item := range items {
		if ShouldDeliver(item, prefs) {
			deliverable = append(deliverable, item)
		}
	}
	if len(deliverable) == 0 {
		return
	}

	if err := conn.Send(event.OutPendingNotifications, map[string]any{
		"notifications": deliverable,
		"count":         len(deliverable),
	}); err != nil {
		n.logger.Debug("pending flush send failed",
			zap.String("user_id", userID), zap.Error(err))
	}
}

// loadPrefs treats a read failure like an absent record: the policy
// then denies everything except exempt types, which is the degraded
// behavior persistence failures are allowed to cause.
func (n *Notifier) loadPrefs(ctx context.Context, userID string) *event.Preferences {
	prefs, err := n.prefs.GetPreferences(ctx, userID)
	if err != nil {
		n.logger.Warn("preference load failed",
			zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return prefs
}
