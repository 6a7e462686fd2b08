// Package gateway bounds and retries every outbound call the console
// makes. Callers never implement their own retry loops; they hand the
// gateway a closure and get back either success, the original terminal
// error, or the original transient error once attempts are exhausted.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/SayidwithDexextra/dexextra-console/internal/metrics"
)

// Config tunes the concurrency budget and retry policy.
type Config struct {
	ConcurrencyLimit int
	Attempts         int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ConcurrencyLimit: 3,
		Attempts:         8,
		BaseDelay:        250 * time.Millisecond,
		MaxDelay:         5 * time.Second,
	}
}

func (c Config) sanitized() Config {
	if c.ConcurrencyLimit <= 0 {
		c.ConcurrencyLimit = 3
	}
	if c.Attempts <= 0 {
		c.Attempts = 8
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 250 * time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = 5 * time.Second
	}
	return c
}

// Gateway serializes outbound calls through a FIFO-fair counting
// semaphore and retries transient failures with capped exponential
// backoff.
type Gateway struct {
	cfg   Config
	sem   *semaphore.Weighted
	log   zerolog.Logger
	probe func(context.Context) error
	sleep func(context.Context, time.Duration) error
}

// Option configures Gateway construction parameters.
type Option func(*Gateway)

// WithProbe installs the cheap readiness probe consulted best-effort
// before each retry delay and by WaitUntilHealthy.
func WithProbe(probe func(context.Context) error) Option {
	return func(g *Gateway) { g.probe = probe }
}

// New constructs a gateway with the supplied policy.
func New(cfg Config, log zerolog.Logger, opts ...Option) *Gateway {
	cfg = cfg.sanitized()
	g := &Gateway{
		cfg:   cfg,
		sem:   semaphore.NewWeighted(int64(cfg.ConcurrencyLimit)),
		log:   log,
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do acquires a concurrency slot, runs fn with retries, and releases the
// slot exactly once. Slot acquisition blocks in arrival order; a context
// cancelled while waiting is the only fatal path out.
func (g *Gateway) Do(ctx context.Context, label string, fn func(context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire call slot: %w", err)
	}
	defer g.sem.Release(1)
	metrics.CallsInFlight.Inc()
	defer metrics.CallsInFlight.Dec()

	var lastErr error
	for attempt := 1; attempt <= g.cfg.Attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			metrics.RemoteCallsTotal.WithLabelValues(label, "ok").Inc()
			return nil
		}
		if !Transient(lastErr) {
			metrics.RemoteCallsTotal.WithLabelValues(label, "error").Inc()
			return lastErr
		}
		if attempt == g.cfg.Attempts {
			break
		}
		metrics.RemoteRetriesTotal.WithLabelValues(label).Inc()
		g.log.Warn().Err(lastErr).Str("call", label).Int("attempt", attempt).Msg("transient failure, retrying")
		g.probeBestEffort(ctx)
		if err := g.sleep(ctx, g.backoff(attempt)); err != nil {
			return err
		}
	}
	metrics.RemoteCallsTotal.WithLabelValues(label, "exhausted").Inc()
	return lastErr
}

// backoff returns the delay after the given 1-based attempt: base,
// doubling, capped at MaxDelay.
func (g *Gateway) backoff(attempt int) time.Duration {
	delay := g.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= g.cfg.MaxDelay {
			return g.cfg.MaxDelay
		}
	}
	if delay > g.cfg.MaxDelay {
		return g.cfg.MaxDelay
	}
	return delay
}

// probeBestEffort issues one readiness probe and ignores its outcome.
func (g *Gateway) probeBestEffort(ctx context.Context) {
	if g.probe == nil {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := g.probe(probeCtx); err != nil {
		g.log.Debug().Err(err).Msg("readiness probe failed")
	}
}

// WaitUntilHealthy polls the readiness probe until it succeeds or the
// timeout elapses.
func (g *Gateway) WaitUntilHealthy(ctx context.Context, timeout, interval time.Duration) error {
	if g.probe == nil {
		return nil
	}
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		lastErr = g.probe(probeCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("remote endpoint unhealthy after %s: %w", timeout, lastErr)
		}
		if err := g.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

var transientMarkers = []string{
	"connection reset",
	"timeout",
	"timed out",
	"refused",
	"network error",
	"broken pipe",
	"no such host",
}

// Transient reports whether err looks like a recoverable network failure.
// Remote reverts and validation errors never match.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
