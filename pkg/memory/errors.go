package memory

import "errors"

var (
	// ErrCacheWrite indicates the must-succeed fast-cache write failed; the
	// turn is lost from the session window and the caller should retry.
	ErrCacheWrite = errors.New("fast cache write failed")

	// ErrSummaryUnavailable indicates no summary could be read or generated
	// for the chat.
	ErrSummaryUnavailable = errors.New("conversation summary unavailable")
)
