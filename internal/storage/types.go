package storage

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned by writes that target a record that does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrNotAcknowledged wraps every driver failure on a write path.
	ErrNotAcknowledged = errors.New("storage: write not acknowledged")
	// ErrDuplicateID is returned by Insert when the ID is already taken.
	ErrDuplicateID = errors.New("storage: duplicate id")
	ErrClosed      = errors.New("storage: closed")
	// ErrInvalidRecord is returned for nil records or records without an ID.
	ErrInvalidRecord = errors.New("storage: invalid record")
)

// Config configures storage.
//
// Driver values: "memory" (default), "file", "sqlite", "postgres".
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the entry persistence port.
//
// Reads that match nothing are not errors: FindOne reports ok=false.
// Update applies fn to the current record and persists the result atomically
// with respect to other writes on the same ID; an error from fn aborts the
// write and is returned unchanged.
type Store interface {
	FindOne(ctx context.Context, f Filter) (*Record, bool, error)
	Find(ctx context.Context, f Filter) ([]*Record, error)
	Count(ctx context.Context, f Filter) (int, error)
	Insert(ctx context.Context, r *Record) error
	Replace(ctx context.Context, r *Record) error
	Update(ctx context.Context, id uint32, fn func(r *Record) error) (*Record, error)
	Delete(ctx context.Context, id uint32) error
	Close() error
}

// Filter is a conjunction of equality terms; zero fields are ignored.
type Filter struct {
	ID          uint32
	WorkspaceID string
	ChannelID   string
}

func (f Filter) Match(r *Record) bool {
	if r == nil {
		return false
	}
	if f.ID != 0 && r.ID != f.ID {
		return false
	}
	if f.WorkspaceID != "" && r.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.ChannelID != "" && r.ChannelID != f.ChannelID {
		return false
	}
	return true
}

// Record is the persisted shape of a schedule entry.
// Reminder offsets are whole minutes before the anchor.
type Record struct {
	ID         uint32      `json:"id"`
	Title      string      `json:"title"`
	Start      time.Time   `json:"start"`
	End        time.Time   `json:"end"`
	Comments   []string    `json:"comments,omitempty"`
	Recurrence *Recurrence `json:"recurrence,omitempty"`

	Reminders    []int `json:"reminders,omitempty"`
	EndReminders []int `json:"end_reminders,omitempty"`

	URL        string `json:"url,omitempty"`
	HasStarted bool   `json:"has_started"`
	MessageID  string `json:"message_id,omitempty"`
	ChannelID  string `json:"channel_id"`
	ExternalID string `json:"external_id,omitempty"`

	RSVPMembers map[string][]string `json:"rsvp_members,omitempty"`
	RSVPLimits  map[string]int      `json:"rsvp_limits,omitempty"`

	Image     string `json:"image,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`

	StartQuiet     bool `json:"start_quiet,omitempty"`
	EndQuiet       bool `json:"end_quiet,omitempty"`
	RemindersQuiet bool `json:"reminders_quiet,omitempty"`

	Expire   time.Time `json:"expire,omitzero"`
	Deadline time.Time `json:"deadline,omitzero"`

	WorkspaceID string `json:"workspace_id"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`

	Announcements []Announcement `json:"announcements,omitempty"`
	Fired         []string       `json:"fired,omitempty"`
}

type Recurrence struct {
	Pattern   string    `json:"pattern"`
	OrigStart time.Time `json:"orig_start"`
	Count     int       `json:"count,omitempty"`
}

type Announcement struct {
	ID      string `json:"id,omitempty"`
	Anchor  string `json:"anchor"` // "start" or "end"
	Offset  int    `json:"offset"` // minutes before (positive) or after (negative) the anchor
	Message string `json:"message,omitempty"`
	Target  string `json:"target,omitempty"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Comments = slices.Clone(r.Comments)
	c.Reminders = slices.Clone(r.Reminders)
	c.EndReminders = slices.Clone(r.EndReminders)
	c.Announcements = slices.Clone(r.Announcements)
	c.Fired = slices.Clone(r.Fired)
	c.RSVPLimits = maps.Clone(r.RSVPLimits)
	if r.Recurrence != nil {
		rc := *r.Recurrence
		c.Recurrence = &rc
	}
	if r.RSVPMembers != nil {
		c.RSVPMembers = make(map[string][]string, len(r.RSVPMembers))
		for k, v := range r.RSVPMembers {
			c.RSVPMembers[k] = slices.Clone(v)
		}
	}
	return &c
}

// sortRecords orders by start time, then ID, so listings are stable across drivers.
func sortRecords(rs []*Record) {
	slices.SortFunc(rs, func(a, b *Record) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
