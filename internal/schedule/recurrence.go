package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// ValidatePattern checks that pattern is a parseable RRULE body.
func ValidatePattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return nil
	}
	if _, err := rrule.StrToRRule(pattern); err != nil {
		return fmt.Errorf("%w: recurrence %q: %v", ErrInvalidEntry, pattern, err)
	}
	return nil
}

// nextStart returns the first occurrence strictly after e.Start, evaluated in
// loc so wall-clock rules survive DST changes. ok is false when the rule has
// no further occurrences.
func nextStart(e *Entry, loc *time.Location) (time.Time, bool, error) {
	r, err := rrule.StrToRRule(e.Recurrence.Pattern)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: recurrence %q: %v", ErrInvalidEntry, e.Recurrence.Pattern, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	orig := e.Recurrence.OrigStart
	if orig.IsZero() {
		orig = e.Start
	}
	r.DTStart(orig.In(loc))
	next := r.After(e.Start.In(loc), false)
	if next.IsZero() {
		return time.Time{}, false, nil
	}
	return next, true, nil
}

// Advance moves a recurring entry to its next occurrence. It reports false
// when the entry does not repeat, its count is exhausted, the rule has ended
// or the next start lies past Expire; the caller then destroys the entry.
//
// On success the fired set, started flag and RSVP lists are reset and the
// occurrence keeps its duration. Deadline shifts with the start.
func (e *Entry) Advance(loc *time.Location) (bool, error) {
	if e.Recurrence.Pattern == "" || e.Recurrence.Count == 1 {
		return false, nil
	}
	next, ok, err := nextStart(e, loc)
	if err != nil || !ok {
		return false, err
	}
	if !e.Expire.IsZero() && next.After(e.Expire) {
		return false, nil
	}
	if e.Recurrence.OrigStart.IsZero() {
		e.Recurrence.OrigStart = e.Start
	}
	shift := next.Sub(e.Start)
	dur := e.End.Sub(e.Start)
	e.Start = next
	e.End = next.Add(dur)
	if !e.Deadline.IsZero() {
		e.Deadline = e.Deadline.Add(shift)
	}
	if e.Recurrence.Count > 1 {
		e.Recurrence.Count--
	}
	e.HasStarted = false
	e.Fired = nil
	for k := range e.RSVP.Members {
		e.RSVP.Members[k] = []string{}
	}
	return true, nil
}
