// Package store persists the three records the engine touches:
// notification preferences, the durable notification items it reads
// for live delivery and flush-on-connect, and the device-session audit
// trail. SQLite with a single-writer goroutine: concurrent reads are
// fine under WAL, writes are funneled to avoid lock contention.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"coursepulse/internal/config"
	"coursepulse/internal/event"
)

type Store struct {
	db      *sql.DB
	writeCh chan writeOp
	timeout time.Duration

	shutdown chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool

	logger *zap.Logger
}

type writeOp struct {
	fn     func(db *sql.DB) error
	result chan error
}

func New(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply pragma %q: %w", pragma, err)
		}
	}
	for _, ddl := range schema {
		if _, err := db.Exec(ddl); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	s := &Store{
		db:       db,
		writeCh:  make(chan writeOp, 100),
		timeout:  cfg.Timeout,
		shutdown: make(chan struct{}),
		logger:   logger.Named("store"),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

// writeLoop applies every write in one goroutine, retrying once after
// a short backoff before reporting failure.
func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeCh:
			err := op.fn(s.db)
			if err != nil {
				s.logger.Warn("write failed, retrying", zap.Error(err))
				time.Sleep(250 * time.Millisecond)
				err = op.fn(s.db)
			}
			op.result <- err
		case <-s.shutdown:
			return
		}
	}
}

func (s *Store) executeWrite(fn func(db *sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOp{fn: fn, result: result}:
		return <-result
	case <-time.After(s.timeout):
		return ErrWriteTimeout
	case <-s.shutdown:
		return ErrClosed
	}
}

// GetPreferences loads the user's preference record; (nil, nil) when
// no record exists, which the policy treats as "deny unless exempt".
func (s *Store) GetPreferences(ctx context.Context, userID string) (*event.Preferences, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, in_app, email, push, sms,
		       assignment_updates, course_updates, account_updates,
		       marketing, discussion_activity, payment_updates, updated_at
		FROM notification_preferences WHERE user_id = ?`, userID)

	var p event.Preferences
	err := row.Scan(&p.UserID, &p.InApp, &p.Email, &p.Push, &p.SMS,
		&p.AssignmentUpdates, &p.CourseUpdates, &p.AccountUpdates,
		&p.Marketing, &p.DiscussionActivity, &p.PaymentUpdates, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query preferences: %w", err)
	}
	return &p, nil
}

// SavePreferences upserts the full record.
func (s *Store) SavePreferences(ctx context.Context, p *event.Preferences) error {
	p.UpdatedAt = time.Now()
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO notification_preferences
				(user_id, in_app, email, push, sms,
				 assignment_updates, course_updates, account_updates,
				 marketing, discussion_activity, payment_updates, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				in_app = excluded.in_app,
				email = excluded.email,
				push = excluded.push,
				sms = excluded.sms,
				assignment_updates = excluded.assignment_updates,
				course_updates = excluded.course_updates,
				account_updates = excluded.account_updates,
				marketing = excluded.marketing,
				discussion_activity = excluded.discussion_activity,
				payment_updates = excluded.payment_updates,
				updated_at = excluded.updated_at`,
			p.UserID, p.InApp, p.Email, p.Push, p.SMS,
			p.AssignmentUpdates, p.CourseUpdates, p.AccountUpdates,
			p.Marketing, p.DiscussionActivity, p.PaymentUpdates, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert preferences: %w", err)
		}
		return nil
	})
}

// UnreadNotifications returns the user's most recent unread items,
// newest first, capped at limit.
func (s *Store) UnreadNotifications(ctx context.Context, userID string, limit int) ([]*event.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, priority, title, message, data, read, created_at
		FROM notifications
		WHERE user_id = ? AND read = 0
		ORDER BY created_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unread notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*event.Notification
	for rows.Next() {
		var n event.Notification
		var data string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Priority,
			&n.Title, &n.Message, &data, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
			return nil, fmt.Errorf("failed to decode notification data: %w", err)
		}
		items = append(items, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification rows: %w", err)
	}
	return items, nil
}

// InsertNotification stores a new durable item. Callers persist before
// invoking the push hooks.
func (s *Store) InsertNotification(ctx context.Context, n *event.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Priority == "" {
		n.Priority = event.PriorityNormal
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("failed to encode notification data: %w", err)
	}
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO notifications (id, user_id, type, priority, title, message, data, read, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID, n.UserID, n.Type, n.Priority, n.Title, n.Message, string(data), n.Read, n.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}
		return nil
	})
}

// MarkNotificationsRead flips the read flag on the given ids, scoped
// to the owning user so one client cannot ack another's items.
func (s *Store) MarkNotificationsRead(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE notifications SET read = 1 WHERE user_id = ? AND id IN (`+placeholders+`)`,
			args...)
		if err != nil {
			return fmt.Errorf("failed to mark notifications read: %w", err)
		}
		return nil
	})
}

// CreateDeviceSession writes the connect half of the audit record.
func (s *Store) CreateDeviceSession(ctx context.Context, ds *event.DeviceSession) error {
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO device_sessions
				(id, connection_id, user_id, device_class, os, browser, remote_addr, connected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ds.ID, ds.ConnectionID, ds.UserID,
			ds.Device.Class, ds.Device.OS, ds.Device.Browser, ds.Device.RemoteAddr,
			ds.ConnectedAt)
		if err != nil {
			return fmt.Errorf("failed to insert device session: %w", err)
		}
		return nil
	})
}

// CloseDeviceSession writes the disconnect half. Idempotent: a second
// close for the same connection id leaves the first timestamp.
func (s *Store) CloseDeviceSession(ctx context.Context, connectionID string, at time.Time) error {
	return s.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			UPDATE device_sessions SET disconnected_at = ?
			WHERE connection_id = ? AND disconnected_at IS NULL`,
			at, connectionID)
		if err != nil {
			return fmt.Errorf("failed to close device session: %w", err)
		}
		return nil
	})
}

// LatestDeviceSession returns the user's most recent audit record, or
// (nil, nil) for a first-ever connection.
func (s *Store) LatestDeviceSession(ctx context.Context, userID string) (*event.DeviceSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, connection_id, user_id, device_class, os, browser, remote_addr,
		       connected_at, disconnected_at
		FROM device_sessions
		WHERE user_id = ?
		ORDER BY connected_at DESC
		LIMIT 1`, userID)

	var ds event.DeviceSession
	var disconnected sql.NullTime
	err := row.Scan(&ds.ID, &ds.ConnectionID, &ds.UserID,
		&ds.Device.Class, &ds.Device.OS, &ds.Device.Browser, &ds.Device.RemoteAddr,
		&ds.ConnectedAt, &disconnected)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device session: %w", err)
	}
	if disconnected.Valid {
		ds.DisconnectedAt = &disconnected.Time
	}
	return &ds, nil
}

// HealthCheck validates connectivity for the introspection surface.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close drains the writer and closes the database. Safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
