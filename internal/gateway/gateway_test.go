package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testGateway(cfg Config, opts ...Option) *Gateway {
	g := New(cfg, zerolog.Nop(), opts...)
	g.sleep = func(context.Context, time.Duration) error { return nil }
	return g
}

func TestDoBoundsConcurrency(t *testing.T) {
	const limit = 2
	const burst = 8
	g := testGateway(Config{ConcurrencyLimit: limit, Attempts: 1})

	var current, peak int32
	var wg sync.WaitGroup
	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), "burst", func(context.Context) error {
				now := atomic.AddInt32(&current, 1)
				for {
					seen := atomic.LoadInt32(&peak)
					if now <= seen || atomic.CompareAndSwapInt32(&peak, seen, now) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got > limit {
		t.Fatalf("observed %d concurrent calls, limit is %d", got, limit)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	g := New(Config{ConcurrencyLimit: 1, Attempts: 8, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second}, zerolog.Nop())
	var delays []time.Duration
	g.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	calls := 0
	err := g.Do(context.Background(), "flaky", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	want := []time.Duration{250 * time.Millisecond, 500 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("expected %d delays, got %d", len(want), len(delays))
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay %d: expected %s, got %s", i, want[i], delays[i])
		}
	}
}

func TestDoExhaustionReturnsOriginalError(t *testing.T) {
	original := errors.New("dial tcp: connection refused")
	g := testGateway(Config{ConcurrencyLimit: 1, Attempts: 4})

	calls := 0
	err := g.Do(context.Background(), "down", func(context.Context) error {
		calls++
		return original
	})
	if calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
	if !errors.Is(err, original) {
		t.Fatalf("expected the original error, got %v", err)
	}
}

func TestDoTerminalErrorNotRetried(t *testing.T) {
	terminal := errors.New("insufficient collateral")
	g := testGateway(Config{ConcurrencyLimit: 1, Attempts: 8})

	calls := 0
	err := g.Do(context.Background(), "revert", func(context.Context) error {
		calls++
		return terminal
	})
	if calls != 1 {
		t.Fatalf("terminal error should not retry, got %d attempts", calls)
	}
	if !errors.Is(err, terminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestDoProbeFailureDoesNotAbortRetryCycle(t *testing.T) {
	probeCalls := 0
	g := testGateway(Config{ConcurrencyLimit: 1, Attempts: 3}, WithProbe(func(context.Context) error {
		probeCalls++
		return errors.New("probe down")
	}))

	calls := 0
	err := g.Do(context.Background(), "flaky", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("network error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("probe failures must not abort retries: %v", err)
	}
	if probeCalls != 2 {
		t.Fatalf("expected one probe per retry delay, got %d", probeCalls)
	}
}

func TestDoCancelledContextWhileWaiting(t *testing.T) {
	g := testGateway(Config{ConcurrencyLimit: 1, Attempts: 1})

	release := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), "holder", func(context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Do(ctx, "waiter", func(context.Context) error { return nil })
	close(release)
	if err == nil {
		t.Fatalf("expected error acquiring slot with cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffCapped(t *testing.T) {
	g := testGateway(Config{ConcurrencyLimit: 1, Attempts: 8, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second})
	prev := time.Duration(0)
	for attempt := 1; attempt < 8; attempt++ {
		d := g.backoff(attempt)
		if d < prev {
			t.Fatalf("backoff decreased at attempt %d: %s < %s", attempt, d, prev)
		}
		if d > 5*time.Second {
			t.Fatalf("backoff exceeded cap at attempt %d: %s", attempt, d)
		}
		prev = d
	}
	if g.backoff(7) != 5*time.Second {
		t.Fatalf("expected capped delay, got %s", g.backoff(7))
	}
}

func TestWaitUntilHealthy(t *testing.T) {
	calls := 0
	g := testGateway(Config{ConcurrencyLimit: 1, Attempts: 1}, WithProbe(func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not ready")
		}
		return nil
	}))

	if err := g.WaitUntilHealthy(context.Background(), time.Second, 10*time.Millisecond); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 probes, got %d", calls)
	}
}

func TestWaitUntilHealthyTimeout(t *testing.T) {
	g := New(Config{ConcurrencyLimit: 1, Attempts: 1}, zerolog.Nop(), WithProbe(func(context.Context) error {
		return errors.New("still down")
	}))
	g.sleep = sleepCtx

	err := g.WaitUntilHealthy(context.Background(), 30*time.Millisecond, 10*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestTransientClassification(t *testing.T) {
	cases := map[string]bool{
		"read tcp 1.2.3.4: connection reset by peer": true,
		"context deadline exceeded (timeout)":        true,
		"dial tcp: connect: connection refused":      true,
		"network error":                              true,
		"remote revert [E42]: insufficient margin":   false,
		"decode response: unexpected EOF":            false,
	}
	for msg, want := range cases {
		if got := Transient(errors.New(msg)); got != want {
			t.Fatalf("Transient(%q) = %v, want %v", msg, got, want)
		}
	}
	if Transient(nil) {
		t.Fatalf("nil error must not be transient")
	}
	if Transient(context.Canceled) {
		t.Fatalf("cancellation must not be transient")
	}
}
