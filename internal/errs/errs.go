package errs

import "errors"

// Sentinel errors mapped to HTTP status codes / websocket error frames in handlers.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidMessage  = errors.New("invalid message")
	ErrUnauthorized    = errors.New("not authorized")
	ErrPersistence     = errors.New("session store unavailable")
)
