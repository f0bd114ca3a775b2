package registry

import "errors"

var (
	// ErrNilLink guards against registering a nil connection handle.
	ErrNilLink = errors.New("connection link cannot be nil")
	// ErrDuplicateConnection signals a double-register of the same
	// connection id. This is a programming error, logged as a defect
	// signal; it never crashes the process.
	ErrDuplicateConnection = errors.New("connection id already registered")
	// ErrNotRegistered is returned when a scope operation references a
	// connection the registry no longer tracks.
	ErrNotRegistered = errors.New("connection not registered")
)
