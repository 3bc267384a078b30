package schedule

import (
	"container/heap"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"schedbot/internal/storage"
	logx "schedbot/pkg/logx"
)

var (
	errStaleOccurrence  = errors.New("occurrence changed")
	errAlreadyFired     = errors.New("trigger already fired")
	errNothingToAdvance = errors.New("occurrence not finished")
	errExhausted        = errors.New("recurrence exhausted")
)

type queueKey struct {
	id    ID
	key   string
	start int64 // occurrence start, unix nanos
}

type queued struct {
	queueKey
	at    time.Time
	index int
}

type queueHeap []*queued

func (h queueHeap) Len() int { return len(h) }
func (h queueHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	return h[i].id < h[j].id
}
func (h queueHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *queueHeap) Push(x any) {
	it := x.(*queued)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *queueHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// announceQueue is the time-ordered set of triggers FILL found due soon.
// An (entry, trigger, occurrence) triple is queued at most once.
type announceQueue struct {
	mu   sync.Mutex
	h    queueHeap
	keys map[queueKey]*queued
}

func newAnnounceQueue() *announceQueue {
	return &announceQueue{keys: map[queueKey]*queued{}}
}

func (q *announceQueue) push(k queueKey, at time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if it, ok := q.keys[k]; ok {
		if !it.at.Equal(at) {
			it.at = at
			heap.Fix(&q.h, it.index)
		}
		return false
	}
	it := &queued{queueKey: k, at: at}
	heap.Push(&q.h, it)
	q.keys[k] = it
	return true
}

// popDue removes and returns every item due at or before now, oldest first.
func (q *announceQueue) popDue(now time.Time) []*queued {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*queued
	for q.h.Len() > 0 && !q.h[0].at.After(now) {
		it := heap.Pop(&q.h).(*queued)
		delete(q.keys, it.queueKey)
		out = append(out, it)
	}
	return out
}

func (q *announceQueue) dropEntry(id ID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for k, it := range q.keys {
		if k.id == id {
			heap.Remove(&q.h, it.index)
			delete(q.keys, k)
		}
	}
}

func (q *announceQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Fill queues every unfired trigger due within the fill window. It also
// finishes occurrences whose end already fired but that were never advanced
// or destroyed, once no announcement after the end is left.
func (m *Manager) Fill(ctx context.Context) error {
	s := m.settings.Load()
	now := m.now()
	horizon := now.Add(s.FillWindow)

	entries, err := m.find(ctx, storage.Filter{})
	if err != nil {
		return err
	}
	added := 0
	for _, e := range entries {
		if e.HasFired("end") && !e.pendingAfterEnd() {
			if err := m.finishOccurrence(ctx, e.ID); err != nil {
				m.log.Warn("occurrence follow-up failed", logx.String("id", e.ID.String()), logx.Err(err))
			}
			continue
		}
		for _, t := range e.Triggers() {
			if e.HasFired(t.Key) || t.At.After(horizon) {
				continue
			}
			if m.queue.push(queueKey{id: e.ID, key: t.Key, start: e.Start.UnixNano()}, t.At) {
				added++
			}
		}
	}
	if added > 0 {
		m.log.Debug("announcements queued", logx.Int("added", added), logx.Int("pending", m.queue.len()))
	}
	return nil
}

// Empty fires every queued trigger that is due. Each item is re-validated
// against the store first, so a trigger fires at most once per occurrence even
// if the entry was edited, advanced or removed after it was queued.
func (m *Manager) Empty(ctx context.Context) error {
	now := m.now()
	for _, it := range m.queue.popDue(now) {
		if err := m.fire(ctx, it, now); err != nil {
			m.log.Warn("announcement failed", logx.String("id", it.id.String()), logx.String("trigger", it.key), logx.Err(err))
		}
	}
	return nil
}

func (m *Manager) fire(ctx context.Context, it *queued, now time.Time) error {
	e, ok, err := m.GetEntry(ctx, it.id)
	if err != nil || !ok {
		return err
	}
	if e.Start.UnixNano() != it.start || e.HasFired(it.key) {
		return nil
	}
	t, ok := e.Trigger(it.key)
	if !ok || t.At.After(now) {
		return nil
	}

	s := m.settings.Load()
	late := s.StaleAfter > 0 && now.Sub(t.At) > s.StaleAfter
	if !late && !quiet(e, t) {
		if err := m.announce(ctx, e, t, now); err != nil {
			// Left unfired; the next FILL re-queues it.
			return err
		}
	} else if late {
		m.log.Info("stale trigger skipped", logx.String("id", e.ID.String()), logx.String("trigger", t.Key), logx.Duration("late", now.Sub(t.At)))
	}

	uctx, cancel := m.external(ctx)
	_, err = m.store.Update(uctx, uint32(e.ID), func(r *storage.Record) error {
		if r.Start.UnixNano() != it.start {
			return errStaleOccurrence
		}
		if slices.Contains(r.Fired, t.Key) {
			return errAlreadyFired
		}
		r.Fired = append(r.Fired, t.Key)
		if t.Kind == TriggerStart {
			r.HasStarted = true
		}
		return nil
	})
	cancel()
	switch {
	case errors.Is(err, errStaleOccurrence), errors.Is(err, errAlreadyFired), errors.Is(err, storage.ErrNotFound):
		return nil
	case err != nil:
		return err
	}

	switch t.Kind {
	case TriggerStart:
		if err := m.ReloadEntry(ctx, e.ID); err != nil {
			m.log.Debug("display refresh after start failed", logx.String("id", e.ID.String()), logx.Err(err))
		}
	case TriggerEnd:
		return m.finishOccurrence(ctx, e.ID)
	case TriggerAnnounce:
		if !t.At.Before(e.End) {
			return m.finishOccurrence(ctx, e.ID)
		}
	case TriggerExpire:
		_, err := m.Destroy(ctx, e.ID)
		return err
	}
	return nil
}

func quiet(e *Entry, t Trigger) bool {
	switch t.Kind {
	case TriggerReminder, TriggerEndReminder:
		return e.Quiet.Reminders
	case TriggerStart:
		return e.Quiet.Start
	case TriggerEnd:
		return e.Quiet.End
	case TriggerExpire:
		return true
	}
	return false
}

func (m *Manager) announce(ctx context.Context, e *Entry, t Trigger, now time.Time) error {
	cs := m.settings.Load().Channel(e.ChannelID)
	target := cs.AnnounceTarget
	if target == "" {
		target = e.ChannelID
	}
	var template string
	switch t.Kind {
	case TriggerReminder:
		template = cs.ReminderMessage
	case TriggerStart:
		template = cs.StartMessage
	case TriggerEndReminder:
		template = cs.EndReminderMessage
	case TriggerEnd:
		template = cs.EndMessage
	case TriggerAnnounce:
		template = t.Announce.Message
		if t.Announce.Target != "" {
			target = t.Announce.Target
		}
	}
	msg := m.renderer().Announce(e, t, template, now)
	sctx, cancel := m.external(ctx)
	defer cancel()
	if _, err := m.chat.Send(sctx, target, msg); err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	m.log.Debug("announced", logx.String("id", e.ID.String()), logx.String("trigger", t.Key), logx.String("target", target))
	return nil
}

// finishOccurrence advances a recurring entry whose end and post-end
// announcements have fired, or destroys it when there is nothing left to
// advance to.
func (m *Manager) finishOccurrence(ctx context.Context, id ID) error {
	loc := m.settings.Load().Location
	uctx, cancel := m.external(ctx)
	rec, err := m.store.Update(uctx, uint32(id), func(r *storage.Record) error {
		e := FromRecord(r)
		if !e.HasFired("end") || e.pendingAfterEnd() {
			return errNothingToAdvance
		}
		ok, err := e.Advance(loc)
		if err != nil {
			m.log.Warn("recurrence rule unusable", logx.String("id", id.String()), logx.Err(err))
			return errExhausted
		}
		if !ok {
			return errExhausted
		}
		*r = *e.Record()
		return nil
	})
	cancel()
	switch {
	case errors.Is(err, errNothingToAdvance), errors.Is(err, storage.ErrNotFound):
		return nil
	case errors.Is(err, errExhausted):
		_, err := m.Destroy(ctx, id)
		return err
	case err != nil:
		return err
	}
	m.queue.dropEntry(id)
	e := FromRecord(rec)
	m.log.Info("entry advanced", logx.String("id", id.String()), logx.Time("start", e.Start))
	msg := m.display(e, m.now())
	if err := m.edit(ctx, e, msg); err != nil {
		m.log.Warn("display refresh after advance failed", logx.String("id", id.String()), logx.Err(err))
		return nil
	}
	m.refresh.remember(id, msg)
	return nil
}
