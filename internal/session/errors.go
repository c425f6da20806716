package session

import "errors"

// Failure taxonomy shared by every component that mutates live-session state.
// Inbound event handlers translate these into ack payloads; anything else
// wrapping a storage or broadcast failure is treated as transient I/O.
var (
	// ErrNotFound: the session, waiting entry, or grant does not exist.
	// Recoverable, reported to the caller, never fatal.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState: the operation does not apply to the current state,
	// e.g. admitting an email that is not waiting.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnauthorized: role-gated action attempted by an insufficient role,
	// or a DM with an unresolvable target.
	ErrUnauthorized = errors.New("unauthorized")
)
