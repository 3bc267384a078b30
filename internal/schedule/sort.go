package schedule

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strconv"

	"schedbot/internal/storage"
	logx "schedbot/pkg/logx"
)

// SortChannel reorders the displays of a channel by start time without
// posting new messages: the channel's existing display messages are reused
// in posting order and each is re-edited with the entry that belongs there.
//
// Records are repointed first, then messages edited. A failed edit leaves a
// stale body behind that the refresh cascade repairs; it never leaves two
// entries on one message.
func (m *Manager) SortChannel(ctx context.Context, channelID string, order SortOrder) error {
	if order == SortOff {
		return nil
	}
	m.lock.Lock()
	defer m.lock.Unlock()

	all, err := m.GetEntriesFromChannel(ctx, channelID)
	if err != nil {
		return err
	}
	entries := slices.DeleteFunc(all, func(e *Entry) bool { return e.MessageID == "" })
	if len(entries) < 2 {
		return nil
	}

	msgIDs := make([]string, 0, len(entries))
	for _, e := range entries {
		msgIDs = append(msgIDs, e.MessageID)
	}
	slices.SortFunc(msgIDs, compareMessageIDs)

	slices.SortStableFunc(entries, func(a, b *Entry) int {
		c := a.Start.Compare(b.Start)
		if order == SortDescending {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	var moved []*Entry
	for i, e := range entries {
		if e.MessageID == msgIDs[i] {
			continue
		}
		target := msgIDs[i]
		uctx, cancel := m.external(ctx)
		_, err := m.store.Update(uctx, uint32(e.ID), func(r *storage.Record) error {
			r.MessageID = target
			return nil
		})
		cancel()
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		e.MessageID = target
		m.refresh.forget(e.ID)
		moved = append(moved, e)
	}

	var errs []error
	for _, e := range moved {
		msg := m.display(e, m.now())
		if err := m.edit(ctx, e, msg); err != nil {
			errs = append(errs, err)
			continue
		}
		m.refresh.remember(e.ID, msg)
	}
	if len(moved) > 0 {
		m.log.Debug("channel sorted", logx.String("channel", channelID), logx.Int("moved", len(moved)))
	}
	return errors.Join(errs...)
}

// compareMessageIDs orders message IDs by posting order: numerically when
// both parse, lexically otherwise.
func compareMessageIDs(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return cmp.Compare(ai, bi)
	}
	if c := cmp.Compare(len(a), len(b)); c != 0 {
		return c
	}
	return cmp.Compare(a, b)
}
