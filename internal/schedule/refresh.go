package schedule

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"schedbot/internal/storage"
	"schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

// Band selects which entries a refresh pass touches, by distance to the
// entry's next boundary.
type Band int

const (
	// BandCoarse: boundary more than a day away.
	BandCoarse Band = iota
	// BandMedium: boundary within a day but more than an hour away.
	BandMedium
	// BandFine: boundary within an hour, or the entry has started.
	BandFine
)

func (b Band) String() string {
	switch b {
	case BandCoarse:
		return "coarse"
	case BandMedium:
		return "medium"
	case BandFine:
		return "fine"
	}
	return "unknown"
}

// BandOf classifies e as of now.
func BandOf(e *Entry, now time.Time) Band {
	d := e.Boundary().Sub(now)
	switch {
	case e.HasStarted || d <= time.Hour:
		return BandFine
	case d <= 24*time.Hour:
		return BandMedium
	default:
		return BandCoarse
	}
}

// refresher remembers what each display currently shows and paces edits.
type refresher struct {
	limiter *rate.Limiter

	mu    sync.Mutex
	shown map[ID]uint64
}

func newRefresher(perSec int) *refresher {
	r := &refresher{limiter: rate.NewLimiter(rate.Inf, 1), shown: map[ID]uint64{}}
	r.setRate(perSec)
	return r
}

func (r *refresher) setRate(perSec int) {
	if perSec <= 0 {
		r.limiter.SetLimit(rate.Inf)
		return
	}
	r.limiter.SetLimit(rate.Limit(perSec))
	r.limiter.SetBurst(perSec)
}

func bodyHash(msg transport.OutMessage) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(msg.ParseMode))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(msg.Text))
	for _, a := range msg.Affordances {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(a))
	}
	return h.Sum64()
}

func (r *refresher) remember(id ID, msg transport.OutMessage) {
	r.mu.Lock()
	r.shown[id] = bodyHash(msg)
	r.mu.Unlock()
}

func (r *refresher) forget(id ID) {
	r.mu.Lock()
	delete(r.shown, id)
	r.mu.Unlock()
}

func (r *refresher) unchanged(id ID, msg transport.OutMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.shown[id]
	return ok && h == bodyHash(msg)
}

// Refresh re-renders the displays of every entry in band whose rendered body
// changed since it was last shown. It is purely cosmetic; failures are logged
// and the pass moves on. It returns the number of displays edited.
func (m *Manager) Refresh(ctx context.Context, band Band) (int, error) {
	entries, err := m.find(ctx, storage.Filter{})
	if err != nil {
		return 0, err
	}
	edited := 0
	for _, e := range entries {
		now := m.now()
		if BandOf(e, now) != band || e.MessageID == "" {
			continue
		}
		msg := m.display(e, now)
		if m.refresh.unchanged(e.ID, msg) {
			continue
		}
		if err := m.refresh.limiter.Wait(ctx); err != nil {
			return edited, err
		}
		if err := m.edit(ctx, e, msg); err != nil {
			m.log.Warn("display refresh failed", logx.String("id", e.ID.String()), logx.String("band", band.String()), logx.Err(err))
			continue
		}
		m.refresh.remember(e.ID, msg)
		edited++
	}
	if edited > 0 {
		m.log.Debug("displays refreshed", logx.String("band", band.String()), logx.Int("edited", edited))
	}
	return edited, nil
}
