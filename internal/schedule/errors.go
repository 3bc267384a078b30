package schedule

import "errors"

var (
	// ErrSendFailed means the platform rejected or timed out a message send.
	ErrSendFailed = errors.New("schedule: message send failed")
	// ErrDisplayMissing means an entry's display message cannot be resolved.
	ErrDisplayMissing = errors.New("schedule: display message missing")

	ErrRSVPFull        = errors.New("schedule: rsvp category is full")
	ErrRSVPClosed      = errors.New("schedule: rsvp deadline has passed")
	ErrUnknownCategory = errors.New("schedule: unknown rsvp category")

	ErrInvalidEntry = errors.New("schedule: invalid entry")
)
