package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "schedbot/pkg/logx"
)

// delaySchedule fires once at first, then every base interval.
type delaySchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *delaySchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

func newDelaySchedule(now time.Time, first, every time.Duration) cron.Schedule {
	return &delaySchedule{base: cron.Every(every), first: now.Add(first)}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}

// lane is one cron instance whose jobs never overlap each other.
type lane struct {
	name string
	c    *cron.Cron
	mu   sync.Mutex
}

type lanes struct {
	announce *lane
	display  *lane
}

func (m *Manager) newLane(name string) *lane {
	cl := cronLogger{log: m.log.With(logx.String("lane", name))}
	return &lane{
		name: name,
		c: cron.New(
			cron.WithLocation(m.settings.Load().Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

func (m *Manager) addPass(ctx context.Context, l *lane, pass string, first, every time.Duration, run func(ctx context.Context) error) {
	job := cron.FuncJob(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		started := time.Now()
		if err := run(ctx); err != nil {
			m.log.Warn("pass failed", logx.String("lane", l.name), logx.String("pass", pass), logx.Err(err))
		}
		if d := time.Since(started); d > every {
			m.log.Warn("pass slower than its interval", logx.String("lane", l.name), logx.String("pass", pass), logx.Duration("took", d))
		}
	})
	l.c.Schedule(newDelaySchedule(time.Now(), first, every), job)
}

// Start launches the announcement lane (FILL and EMPTY) and the display lane
// (coarse, medium and fine refresh). Passes are not interrupted when ctx is
// cancelled; use Stop to wait for the running ones.
func (m *Manager) Start(ctx context.Context) error {
	m.lanesMu.Lock()
	defer m.lanesMu.Unlock()
	if m.lanes != nil {
		return errors.New("schedule: already started")
	}
	t := m.settings.Load().Timers
	base := context.WithoutCancel(ctx)

	ann := m.newLane("announce")
	m.addPass(base, ann, "fill", t.FillFirst, t.FillEvery, m.Fill)
	m.addPass(base, ann, "empty", t.EmptyFirst, t.EmptyEvery, m.Empty)

	disp := m.newLane("display")
	for _, p := range []struct {
		band         Band
		first, every time.Duration
	}{
		{BandCoarse, t.CoarseFirst, t.CoarseEvery},
		{BandMedium, t.MediumFirst, t.MediumEvery},
		{BandFine, t.FineFirst, t.FineEvery},
	} {
		band := p.band
		m.addPass(base, disp, "refresh."+band.String(), p.first, p.every, func(ctx context.Context) error {
			_, err := m.Refresh(ctx, band)
			return err
		})
	}

	m.lanes = &lanes{announce: ann, display: disp}
	ann.c.Start()
	disp.c.Start()
	m.log.Info("timer lanes started",
		logx.Duration("fill_every", t.FillEvery), logx.Duration("empty_every", t.EmptyEvery),
		logx.Duration("fine_every", t.FineEvery))
	return nil
}

// Stop stops scheduling new passes and waits for running ones or ctx.
func (m *Manager) Stop(ctx context.Context) error {
	m.lanesMu.Lock()
	l := m.lanes
	m.lanes = nil
	m.lanesMu.Unlock()
	if l == nil {
		return nil
	}
	a := l.announce.c.Stop()
	d := l.display.c.Stop()
	for _, done := range []context.Context{a, d} {
		select {
		case <-done.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.log.Info("timer lanes stopped")
	return nil
}
