package models

import "errors"

// Application-wide standard errors
var (
	// Lookup errors
	ErrNotFound         = errors.New("resource not found")
	ErrChapterNotFound  = errors.New("chapter not found")
	ErrBranchNotFound   = errors.New("branch not found")
	ErrInstanceNotFound = errors.New("story instance not found")
	ErrSessionNotFound  = errors.New("voting session not found")

	// Validation errors (never retried)
	ErrInvalidInput    = errors.New("invalid input data")
	ErrUnauthenticated = errors.New("user identity required")

	// Vote rejections (reported to the caller, never retried)
	ErrAlreadyVoted     = errors.New("user has already voted for this chapter")
	ErrSessionNotActive = errors.New("voting session is not active")
	ErrUnknownChoice    = errors.New("choice does not belong to this chapter")

	// Progression errors
	ErrNoVotes             = errors.New("no votes cast for this chapter")
	ErrTransitionConflict  = errors.New("concurrent chapter transition detected")
	ErrStoryEnded          = errors.New("story instance has already ended")
	ErrStoryNotStarted     = errors.New("story instance has not been started")

	// Infrastructure errors
	ErrStorage = errors.New("storage operation failed") // transient, retriable with backoff
	ErrPublish = errors.New("realtime publish failed")  // logged and swallowed at the fan-out boundary
)

// RejectionReason maps a vote rejection error to the short human-readable
// reason string surfaced to clients. Internal detail never crosses this
// boundary.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyVoted):
		return "AlreadyVoted"
	case errors.Is(err, ErrSessionNotActive):
		return "SessionNotActive"
	case errors.Is(err, ErrUnknownChoice):
		return "UnknownChoice"
	case errors.Is(err, ErrUnauthenticated):
		return "IdentityRequired"
	default:
		return "Rejected"
	}
}

// IsRejection reports whether err is a non-retriable vote rejection rather
// than a transient fault.
func IsRejection(err error) bool {
	return errors.Is(err, ErrAlreadyVoted) ||
		errors.Is(err, ErrSessionNotActive) ||
		errors.Is(err, ErrUnknownChoice) ||
		errors.Is(err, ErrUnauthenticated)
}
