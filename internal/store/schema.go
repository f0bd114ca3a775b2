package store

// Schema bootstrap, applied on open. The notifications table is owned
// by the wider platform; the engine only reads it and flips read
// flags, but the DDL is kept here so a standalone deployment works.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS notification_preferences (
		user_id             TEXT PRIMARY KEY,
		in_app              INTEGER NOT NULL DEFAULT 1,
		email               INTEGER NOT NULL DEFAULT 1,
		push                INTEGER NOT NULL DEFAULT 1,
		sms                 INTEGER NOT NULL DEFAULT 0,
		assignment_updates  INTEGER NOT NULL DEFAULT 1,
		course_updates      INTEGER NOT NULL DEFAULT 1,
		account_updates     INTEGER NOT NULL DEFAULT 1,
		marketing           INTEGER NOT NULL DEFAULT 0,
		discussion_activity INTEGER NOT NULL DEFAULT 1,
		payment_updates     INTEGER NOT NULL DEFAULT 1,
		updated_at          TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		type       TEXT NOT NULL,
		priority   TEXT NOT NULL DEFAULT 'normal',
		title      TEXT NOT NULL DEFAULT '',
		message    TEXT NOT NULL DEFAULT '',
		data       TEXT NOT NULL DEFAULT '{}',
		read       INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_unread
		ON notifications (user_id, read, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS device_sessions (
		id              TEXT PRIMARY KEY,
		connection_id   TEXT NOT NULL UNIQUE,
		user_id         TEXT NOT NULL,
		device_class    TEXT NOT NULL DEFAULT 'unknown',
		os              TEXT NOT NULL DEFAULT 'unknown',
		browser         TEXT NOT NULL DEFAULT 'unknown',
		remote_addr     TEXT NOT NULL DEFAULT '',
		connected_at    TIMESTAMP NOT NULL,
		disconnected_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_device_sessions_user
		ON device_sessions (user_id, connected_at DESC)`,
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}
