package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"schedbot/internal/storage"
	"schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

// Manager owns entry lifecycle. All methods are safe for concurrent use.
type Manager struct {
	store  storage.Store
	chat   transport.Adapter
	ids    *Allocator
	log    logx.Logger
	now    func() time.Time

	settings atomic.Pointer[Settings]
	rend     atomic.Pointer[rendererBox]
	custom   bool

	// lock is the schedule lock: it serializes remove-then-delete sequences.
	lock sync.Mutex

	queue   *announceQueue
	refresh *refresher

	lanesMu sync.Mutex
	lanes   *lanes
}

type rendererBox struct{ r Renderer }

type Option func(*Manager)

func WithLogger(log logx.Logger) Option { return func(m *Manager) { m.log = log } }

// WithRenderer replaces the default HTML renderer.
func WithRenderer(r Renderer) Option {
	return func(m *Manager) {
		m.rend.Store(&rendererBox{r: r})
		m.custom = true
	}
}

// WithClock injects the time source used by every pass.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func NewManager(store storage.Store, chat transport.Adapter, s Settings, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		chat:  chat,
		ids:   NewAllocator(store),
		log:   logx.Nop(),
		now:   time.Now,
		queue: newAnnounceQueue(),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With(logx.String("comp", "schedule"))
	m.refresh = newRefresher(s.RefreshRate)
	m.Apply(s)
	return m
}

// Apply swaps the settings used by subsequent operations. Timer cadences only
// take effect on the next Start.
func (m *Manager) Apply(s Settings) {
	if s.Location == nil {
		s.Location = time.UTC
	}
	m.settings.Store(&s)
	if !m.custom {
		m.rend.Store(&rendererBox{r: HTMLRenderer{Location: s.Location, Clock24: s.Clock24}})
	}
	m.refresh.setRate(s.RefreshRate)
}

func (m *Manager) renderer() Renderer { return m.rend.Load().r }

func (m *Manager) Settings() Settings { return *m.settings.Load() }

// ScheduleLock returns the lock that command handlers and timer lanes hold
// across multi-step destroy sequences.
func (m *Manager) ScheduleLock() sync.Locker { return &m.lock }

// external bounds one platform or store call.
func (m *Manager) external(ctx context.Context) (context.Context, context.CancelFunc) {
	d := m.settings.Load().ExternalTimeout
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// NewEntry posts e's display message and persists it. Channel defaults fill in
// reminders and RSVP categories the caller left unset. When autoSort is true
// and the channel has a sort policy, the channel is re-sorted afterwards.
//
// A failed send leaves nothing behind. A failed insert deletes the message
// that was just sent.
func (m *Manager) NewEntry(ctx context.Context, e *Entry, autoSort bool) (ID, error) {
	if e == nil || e.ChannelID == "" || e.WorkspaceID == "" {
		return 0, fmt.Errorf("%w: channel and workspace are required", ErrInvalidEntry)
	}
	if err := ValidatePattern(e.Recurrence.Pattern); err != nil {
		return 0, err
	}
	e = e.Clone()
	cs := m.settings.Load().Channel(e.ChannelID)
	if e.Reminders == nil {
		e.Reminders = append([]time.Duration(nil), cs.Reminders...)
	}
	if e.EndReminders == nil {
		e.EndReminders = append([]time.Duration(nil), cs.EndReminders...)
	}
	if cs.RSVPEnabled {
		if e.RSVP.Members == nil {
			e.RSVP.Members = map[string][]string{}
		}
		for _, o := range cs.RSVPOptions {
			if _, ok := e.RSVP.Members[o.Category]; !ok {
				e.RSVP.Members[o.Category] = []string{}
			}
		}
	}
	if e.Recurrence.Pattern != "" && e.Recurrence.OrigStart.IsZero() {
		e.Recurrence.OrigStart = e.Start
	}
	e.Fired = nil

	id, err := m.ids.Allocate(ctx)
	if err != nil {
		return 0, err
	}
	defer m.ids.Release(id)
	e.ID = id

	msg := m.display(e, m.now())
	sctx, cancel := m.external(ctx)
	ref, err := m.chat.Send(sctx, e.ChannelID, msg)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	e.MessageID = ref.MessageID

	m.addAffordances(ctx, ref, e, msg)

	ictx, cancel := m.external(ctx)
	err = m.store.Insert(ictx, e.Record())
	cancel()
	if err != nil {
		dctx, cancel := m.external(context.WithoutCancel(ctx))
		if derr := m.chat.Delete(dctx, ref); derr != nil {
			m.log.Warn("orphan display message not deleted", logx.String("id", id.String()), logx.String("message_id", ref.MessageID), logx.Err(derr))
		}
		cancel()
		return 0, err
	}
	m.refresh.remember(id, msg)
	m.log.Info("entry created", logx.String("id", id.String()), logx.String("channel", e.ChannelID), logx.Time("start", e.Start))

	if autoSort && cs.AutoSort != SortOff {
		if err := m.SortChannel(ctx, e.ChannelID, cs.AutoSort); err != nil {
			m.log.Warn("auto sort failed", logx.String("channel", e.ChannelID), logx.Err(err))
		}
	}
	return id, nil
}

// affordances lists one emoji per enabled RSVP category plus the clear emoji.
// Categories with a limit of 0 get none.
func affordances(e *Entry, cs ChannelSettings) []string {
	if !cs.RSVPEnabled {
		return nil
	}
	var out []string
	for _, o := range cs.RSVPOptions {
		if limit, ok := e.Limit(o.Category); ok && limit == 0 {
			continue
		}
		out = append(out, o.Emoji)
	}
	if cs.RSVPClear != "" {
		out = append(out, cs.RSVPClear)
	}
	return out
}

// display renders the display message of e along with its affordances.
func (m *Manager) display(e *Entry, now time.Time) transport.OutMessage {
	msg := m.renderer().Render(e, now)
	msg.Affordances = affordances(e, m.settings.Load().Channel(e.ChannelID))
	return msg
}

// addAffordances reacts with every affordance of msg. Failures are logged.
func (m *Manager) addAffordances(ctx context.Context, ref transport.MessageRef, e *Entry, msg transport.OutMessage) {
	for _, emoji := range msg.Affordances {
		rctx, cancel := m.external(ctx)
		if err := m.chat.React(rctx, ref, emoji); err != nil {
			m.log.Warn("rsvp reaction failed", logx.String("id", e.ID.String()), logx.String("emoji", emoji), logx.Err(err))
		}
		cancel()
	}
}

// UpdateEntry re-renders e into its existing display message and then
// replaces the stored record. If the message cannot be edited the record is
// left untouched. Triggers that already fired stay fired unless the edit moved
// them, so an edit never causes a repeat announcement.
func (m *Manager) UpdateEntry(ctx context.Context, e *Entry, autoSort bool) error {
	if e == nil || e.ID == 0 {
		return fmt.Errorf("%w: missing id", ErrInvalidEntry)
	}
	if e.MessageID == "" {
		return ErrDisplayMissing
	}
	if err := ValidatePattern(e.Recurrence.Pattern); err != nil {
		return err
	}
	msg := m.display(e, m.now())
	if err := m.edit(ctx, e, msg); err != nil {
		return err
	}
	next := e.Record()
	rctx, cancel := m.external(ctx)
	_, err := m.store.Update(rctx, uint32(e.ID), func(r *storage.Record) error {
		next.Fired = carryFired(FromRecord(r), e)
		next.HasStarted = next.HasStarted || (r.HasStarted && r.Start.Equal(next.Start))
		*r = *next
		return nil
	})
	cancel()
	if err != nil {
		return err
	}
	m.refresh.remember(e.ID, msg)

	if autoSort {
		if cs := m.settings.Load().Channel(e.ChannelID); cs.AutoSort != SortOff {
			if err := m.SortChannel(ctx, e.ChannelID, cs.AutoSort); err != nil {
				m.log.Warn("auto sort failed", logx.String("channel", e.ChannelID), logx.Err(err))
			}
		}
	}
	return nil
}

func (m *Manager) edit(ctx context.Context, e *Entry, msg transport.OutMessage) error {
	if e.MessageID == "" {
		return ErrDisplayMissing
	}
	ectx, cancel := m.external(ctx)
	defer cancel()
	_, err := m.chat.Edit(ectx, transport.MessageRef{ChannelID: e.ChannelID, MessageID: e.MessageID}, msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDisplayMissing, err)
	}
	return nil
}

// StartEvent marks the entry as started without touching its display.
func (m *Manager) StartEvent(ctx context.Context, id ID) error {
	uctx, cancel := m.external(ctx)
	defer cancel()
	_, err := m.store.Update(uctx, uint32(id), func(r *storage.Record) error {
		r.HasStarted = true
		return nil
	})
	return err
}

// RemoveEntry deletes the record only. The caller deletes the display
// message afterwards, under ScheduleLock.
func (m *Manager) RemoveEntry(ctx context.Context, id ID) error {
	dctx, cancel := m.external(ctx)
	err := m.store.Delete(dctx, uint32(id))
	cancel()
	if err != nil {
		return err
	}
	m.queue.dropEntry(id)
	m.refresh.forget(id)
	m.log.Info("entry removed", logx.String("id", id.String()))
	return nil
}

// ReloadEntry re-reads the entry and re-renders its display unconditionally.
func (m *Manager) ReloadEntry(ctx context.Context, id ID) error {
	e, ok, err := m.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	msg := m.display(e, m.now())
	if err := m.edit(ctx, e, msg); err != nil {
		return err
	}
	m.refresh.remember(id, msg)
	return nil
}

// Destroy removes the entry and then deletes its display message, holding the
// schedule lock across both steps. Destroying an entry that is already gone
// reports false and no error.
func (m *Manager) Destroy(ctx context.Context, id ID) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.destroyLocked(ctx, id)
}

func (m *Manager) destroyLocked(ctx context.Context, id ID) (bool, error) {
	e, ok, err := m.GetEntry(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := m.RemoveEntry(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if e.MessageID != "" {
		dctx, cancel := m.external(ctx)
		err := m.chat.Delete(dctx, transport.MessageRef{ChannelID: e.ChannelID, MessageID: e.MessageID})
		cancel()
		if err != nil {
			m.log.Warn("display message delete failed", logx.String("id", id.String()), logx.Err(err))
		}
	}
	return true, nil
}

// DestroyWorkspace destroys every entry of a workspace and reports how many
// were removed.
func (m *Manager) DestroyWorkspace(ctx context.Context, workspaceID string) (int, error) {
	if workspaceID == "" {
		return 0, fmt.Errorf("%w: workspace is required", ErrInvalidEntry)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	entries, err := m.GetEntriesFromWorkspace(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	n := 0
	var errs []error
	for _, e := range entries {
		ok, err := m.destroyLocked(ctx, e.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.ID, err))
			continue
		}
		if ok {
			n++
		}
	}
	return n, errors.Join(errs...)
}

func (m *Manager) GetEntry(ctx context.Context, id ID) (*Entry, bool, error) {
	return m.findOne(ctx, storage.Filter{ID: uint32(id)})
}

// GetEntryFromWorkspace is GetEntry restricted to one workspace.
func (m *Manager) GetEntryFromWorkspace(ctx context.Context, id ID, workspaceID string) (*Entry, bool, error) {
	if workspaceID == "" {
		return nil, false, nil
	}
	return m.findOne(ctx, storage.Filter{ID: uint32(id), WorkspaceID: workspaceID})
}

func (m *Manager) GetEntriesFromWorkspace(ctx context.Context, workspaceID string) ([]*Entry, error) {
	if workspaceID == "" {
		return nil, nil
	}
	return m.find(ctx, storage.Filter{WorkspaceID: workspaceID})
}

func (m *Manager) GetEntriesFromChannel(ctx context.Context, channelID string) ([]*Entry, error) {
	if channelID == "" {
		return nil, nil
	}
	return m.find(ctx, storage.Filter{ChannelID: channelID})
}

// IsLimitReached reports whether the workspace holds MaxEntries or more
// entries. A non-positive limit never triggers.
func (m *Manager) IsLimitReached(ctx context.Context, workspaceID string) (bool, error) {
	limit := m.settings.Load().MaxEntries
	if limit <= 0 {
		return false, nil
	}
	cctx, cancel := m.external(ctx)
	defer cancel()
	n, err := m.store.Count(cctx, storage.Filter{WorkspaceID: workspaceID})
	if err != nil {
		return false, err
	}
	return n >= limit, nil
}

// RSVP puts member into category and refreshes the display.
func (m *Manager) RSVP(ctx context.Context, id ID, category, member string) (*Entry, error) {
	now := m.now()
	return m.mutateRSVP(ctx, id, func(e *Entry) error { return e.AddMember(category, member, now) })
}

// CancelRSVP removes member from every category of the entry.
func (m *Manager) CancelRSVP(ctx context.Context, id ID, member string) (*Entry, error) {
	now := m.now()
	return m.mutateRSVP(ctx, id, func(e *Entry) error {
		if !e.Deadline.IsZero() && now.After(e.Deadline) {
			return ErrRSVPClosed
		}
		e.RemoveMember(member)
		return nil
	})
}

// ReactRSVP applies an affordance picked on a display message. An option emoji
// moves member into its category and the clear emoji removes member from all
// of them. ok is false when the message shows no entry or emoji is not one of
// the channel's affordances.
func (m *Manager) ReactRSVP(ctx context.Context, channelID, messageID, emoji, member string) (e *Entry, ok bool, err error) {
	entries, err := m.find(ctx, storage.Filter{ChannelID: channelID})
	if err != nil {
		return nil, false, err
	}
	cs := m.settings.Load().Channel(channelID)
	if !cs.RSVPEnabled {
		return nil, false, nil
	}
	for _, cur := range entries {
		if cur.MessageID != messageID {
			continue
		}
		if cs.RSVPClear != "" && emoji == cs.RSVPClear {
			e, err = m.CancelRSVP(ctx, cur.ID, member)
			return e, true, err
		}
		for _, o := range cs.RSVPOptions {
			if o.Emoji == emoji {
				e, err = m.RSVP(ctx, cur.ID, o.Category, member)
				return e, true, err
			}
		}
		return nil, false, nil
	}
	return nil, false, nil
}

func (m *Manager) mutateRSVP(ctx context.Context, id ID, fn func(e *Entry) error) (*Entry, error) {
	uctx, cancel := m.external(ctx)
	rec, err := m.store.Update(uctx, uint32(id), func(r *storage.Record) error {
		e := FromRecord(r)
		if err := fn(e); err != nil {
			return err
		}
		r.RSVPMembers = e.Record().RSVPMembers
		return nil
	})
	cancel()
	if err != nil {
		return nil, err
	}
	e := FromRecord(rec)
	msg := m.display(e, m.now())
	if err := m.edit(ctx, e, msg); err != nil {
		m.log.Warn("rsvp display refresh failed", logx.String("id", id.String()), logx.Err(err))
	} else {
		m.refresh.remember(id, msg)
	}
	return e, nil
}

func (m *Manager) findOne(ctx context.Context, f storage.Filter) (*Entry, bool, error) {
	cctx, cancel := m.external(ctx)
	defer cancel()
	r, ok, err := m.store.FindOne(cctx, f)
	if err != nil || !ok {
		return nil, false, err
	}
	return FromRecord(r), true, nil
}

func (m *Manager) find(ctx context.Context, f storage.Filter) ([]*Entry, error) {
	cctx, cancel := m.external(ctx)
	defer cancel()
	rs, err := m.store.Find(cctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, 0, len(rs))
	for _, r := range rs {
		out = append(out, FromRecord(r))
	}
	return out, nil
}

// carryFired keeps the fired keys of stored whose trigger time is the same in
// next. Fired state of next itself is ignored since callers may hold a stale copy.
func carryFired(stored, next *Entry) []string {
	if len(stored.Fired) == 0 {
		return nil
	}
	at := make(map[string]time.Time)
	for _, t := range next.Triggers() {
		at[t.Key] = t.At
	}
	var out []string
	for _, t := range stored.Triggers() {
		if !stored.HasFired(t.Key) {
			continue
		}
		if nt, ok := at[t.Key]; ok && nt.Equal(t.At) {
			out = append(out, t.Key)
		}
	}
	return out
}
