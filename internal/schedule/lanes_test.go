package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDelaySchedule(t *testing.T) {
	t.Parallel()
	s := newDelaySchedule(t0, 15*time.Second, 20*time.Second)
	first := s.Next(t0)
	if !first.Equal(t0.Add(15 * time.Second)) {
		t.Fatalf("first = %v", first)
	}
	if second := s.Next(first); !second.Equal(t0.Add(35 * time.Second)) {
		t.Fatalf("second = %v", second)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	if err := h.m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.m.Start(ctx); err == nil {
		t.Fatal("second Start succeeded")
	}
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.m.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := h.m.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestConcurrentStartStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	var started atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.m.Start(ctx) == nil {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	if n := started.Load(); n != 1 {
		t.Fatalf("Start succeeded %d times", n)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.m.Stop(stopCtx); err != nil {
				t.Errorf("Stop: %v", err)
			}
		}()
	}
	wg.Wait()
	if err := h.m.Start(ctx); err != nil {
		t.Fatalf("restart after Stop: %v", err)
	}
	if err := h.m.Stop(stopCtx); err != nil {
		t.Fatalf("final Stop: %v", err)
	}
}
