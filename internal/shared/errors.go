package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrActorMissing occurs when a request carries no actor identity.
	ErrActorMissing = errors.New("actor identity missing")
)
