package live

import "errors"

var (
	ErrNotInSession       = errors.New("user is not a member of this live session")
	ErrUnknownInteraction = errors.New("unknown live interaction kind")
)
