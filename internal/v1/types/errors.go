package types

import (
	"errors"
	"fmt"
)

// Domain errors shared across the service, HTTP, and socket layers.
// Handlers map these to status codes; everything else wraps them with
// detail via fmt.Errorf("...: %w", err).
var (
	// ErrNotFound covers missing rooms, questions, and participants.
	ErrNotFound = errors.New("not found")

	// ErrForbidden covers non-host privileged actions, blocked users,
	// and private-room access without membership.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidConfig rejects a room configuration at creation time.
	ErrInvalidConfig = errors.New("invalid room configuration")

	// ErrInvalidState rejects an operation the room's status does not
	// permit, e.g. submitting to a room that is not playing.
	ErrInvalidState = errors.New("invalid room state")

	// ErrRoomFull rejects a join when no seats remain.
	ErrRoomFull = errors.New("room is full")

	// ErrWrongPassword rejects a private-room join with a bad password.
	ErrWrongPassword = errors.New("incorrect room password")

	// ErrTimeLimitExceeded rejects a submission after the battle clock
	// has run out; the battle is force-completed as a side effect.
	ErrTimeLimitExceeded = errors.New("time limit exceeded")

	// ErrNotReady rejects a ranked start while a non-host participant
	// has not signalled ready.
	ErrNotReady = errors.New("all participants must be ready")
)

// ErrBlocked marks a kicked user attempting to rejoin. It unwraps to
// ErrForbidden so handlers need only one branch for 403.
var ErrBlocked = fmt.Errorf("user is blocked from this room: %w", ErrForbidden)
