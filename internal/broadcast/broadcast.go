// Package broadcast fans one message out to many channels with bounded
// concurrency, a shared rate limit and per-target retry.
//
// Delivery is best-effort: a target that still fails after RetryMax retries
// is reported in the Result and skipped.
package broadcast

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

type Config struct {
	Workers    int
	RatePerSec int
	RetryMax   int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	return c
}

// Result summarises one broadcast.
type Result struct {
	Total  int
	Sent   int
	Failed []string // channel IDs, sorted
	Took   time.Duration
}

type Service struct {
	cfg     Config
	chat    transport.Adapter
	log     logx.Logger
	limiter *rate.Limiter

	// backoff is the wait before retry i (0-based).
	backoff func(i int) time.Duration
}

func New(cfg Config, chat transport.Adapter, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		chat:    chat,
		log:     log.With(logx.String("comp", "broadcast")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		backoff: func(i int) time.Duration { return time.Duration(200+100*i) * time.Millisecond },
	}
}

// Send delivers msg to every target once. Duplicate targets are sent to once.
// It returns early with the partial result when ctx is done.
func (s *Service) Send(ctx context.Context, name string, targets []string, msg transport.OutMessage) Result {
	started := time.Now()
	targets = slices.Compact(slices.Sorted(slices.Values(targets)))
	res := Result{Total: len(targets)}

	jobs := make(chan string)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for range min(s.cfg.Workers, len(targets)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range jobs {
				err := s.sendOne(ctx, target, msg)
				mu.Lock()
				if err != nil {
					res.Failed = append(res.Failed, target)
					s.log.Warn("broadcast send failed", logx.String("job", name), logx.String("target", target), logx.Err(err))
				} else {
					res.Sent++
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, t := range targets {
		select {
		case jobs <- t:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	slices.Sort(res.Failed)
	res.Took = time.Since(started)
	s.log.Info("broadcast finished",
		logx.String("job", name),
		logx.Int("total", res.Total),
		logx.Int("sent", res.Sent),
		logx.Int("failed", len(res.Failed)),
		logx.Duration("took", res.Took),
	)
	return res
}

func (s *Service) sendOne(ctx context.Context, target string, msg transport.OutMessage) error {
	var last error
	for i := 0; i <= s.cfg.RetryMax; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff(i - 1)):
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := s.chat.Send(ctx, target, msg)
		if err == nil {
			return nil
		}
		last = err
	}
	return last
}
