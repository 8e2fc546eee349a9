package domain

import "errors"

var (
	// ErrNotAllowed is returned when a roster identifier is not in the room's
	// frozen allow-list. Only the moderator can fix this; clients must not retry.
	ErrNotAllowed = errors.New("identifier not in the room allow-list")
	// ErrConnectionTimeout is returned when a channel fails to open within the
	// client watchdog window.
	ErrConnectionTimeout = errors.New("connection attempt timed out")
	// ErrTransport is returned when a channel closes unexpectedly mid-session.
	ErrTransport = errors.New("transport channel closed unexpectedly")
	// ErrInvalidTransition is returned for lifecycle actions not legal in the
	// room's current phase (e.g. starting with zero participants).
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrRoomNotFound is returned when no active room matches a code.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomFinished is returned for mutations attempted after FINISH.
	ErrRoomFinished = errors.New("room already finished")
	// ErrExamNotFound indicates the exam content could not be loaded.
	ErrExamNotFound = errors.New("exam not found")
	// ErrParticipantNotFound is returned when an identifier has not joined.
	ErrParticipantNotFound = errors.New("participant not found in room")
)
