package chat

import "errors"

var (
	// ErrInvalidSession is returned when an operation references a
	// session id absent from the registry. Callers treat it as a no-op
	// plus a log entry; it never reaches the transcript.
	ErrInvalidSession = errors.New("unknown session id")

	// ErrEmptyInput is returned for blank message content. Silently
	// ignored at the pipeline boundary.
	ErrEmptyInput = errors.New("empty input")

	// ErrReplyPending is returned by Send while the session already has
	// an outstanding reply request.
	ErrReplyPending = errors.New("reply already pending for session")
)
