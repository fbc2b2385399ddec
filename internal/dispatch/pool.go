// Package dispatch provides the bounded-concurrency executor for inference
// calls. It owns the process's only mutable shared state: the in-flight
// counter, the FIFO wait queue, and the global rate-limit backoff window.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/derekphilipau/deep-label/internal/inference"
	"github.com/derekphilipau/deep-label/internal/logger"
)

// Task is one inference call to run under the pool's limits.
type Task func(ctx context.Context) (*inference.Response, error)

// Config contains pool configuration.
type Config struct {
	// Limit is the maximum number of concurrently executing tasks.
	Limit int
	// MaxAttempts caps transient-error retries per task. Rate-limit errors
	// do not consume an attempt.
	MaxAttempts int
	// RetryBase is the first transient-retry delay; it doubles per attempt.
	RetryBase time.Duration
	// BackoffBase seeds the global rate-limit window: after the n-th
	// consecutive rate limit the window is min(BackoffBase*2^n, BackoffMax).
	BackoffBase time.Duration
	// BackoffMax caps the global rate-limit window.
	BackoffMax time.Duration
	// CostPerMInputTokens / CostPerMOutputTokens are USD per million tokens,
	// used only for the advisory cost estimate.
	CostPerMInputTokens  float64
	CostPerMOutputTokens float64
}

func (c *Config) setDefaults() {
	if c.Limit <= 0 {
		c.Limit = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 60 * time.Second
	}
}

// Usage holds the pool's advisory counters. They exist for observability
// and never affect control flow.
type Usage struct {
	Calls         int64
	Successes     int64
	Failures      int64
	RateLimitHits int64
	InputTokens   int64
	OutputTokens  int64
	EstimatedCost float64
}

type waiter struct {
	ready      chan struct{}
	enqueuedAt time.Time
	granted    bool
}

// Pool executes tasks with bounded concurrency, FIFO fairness, and a global
// adaptive backoff shared by every caller. One Pool instance per pipeline
// run keeps independent runs from cross-contaminating backoff state; runs
// that intentionally share an account limit share a Pool.
type Pool struct {
	cfg    Config
	logger *logger.Logger

	mu              sync.Mutex
	inFlight        int
	queue           []*waiter
	rateLimitStreak int
	notBefore       time.Time
	usage           Usage

	now func() time.Time
}

// New creates a pool with the given limits.
func New(cfg Config, log *logger.Logger) *Pool {
	cfg.setDefaults()
	return &Pool{cfg: cfg, logger: log, now: time.Now}
}

// Do runs the task under the concurrency limit, applying the retry and
// backoff policy. It blocks until the task finishes, retries are exhausted,
// or ctx is done. Transient failures and rate limits are tracked by two
// independent counters: attemptsUsed (capped) and the pool-wide
// rateLimitStreak (unbounded); a rate-limit error never consumes an attempt.
func (p *Pool) Do(ctx context.Context, task Task) (*inference.Response, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()

	attemptsUsed := 0
	for {
		if err := p.waitBackoff(ctx); err != nil {
			return nil, err
		}

		resp, err := task(ctx)
		p.recordCall(resp, err)
		if err == nil {
			p.resetStreak()
			return resp, nil
		}

		switch inference.ClassOf(err) {
		case inference.ClassRateLimited:
			p.extendBackoff()
		case inference.ClassTransient:
			attemptsUsed++
			if attemptsUsed >= p.cfg.MaxAttempts {
				return nil, fmt.Errorf("retries exhausted after %d attempts: %w", attemptsUsed, err)
			}
			delay := p.cfg.RetryBase << (attemptsUsed - 1)
			p.logger.Debug("Retrying after transient error", "attempt", attemptsUsed, "delay", delay, "error", err)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}
}

// InFlight returns the number of currently executing tasks.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// QueueLen returns the number of tasks waiting for a slot.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Backoff returns the consecutive rate-limit count and the no-dispatch-before
// deadline.
func (p *Pool) Backoff() (streak int, notBefore time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rateLimitStreak, p.notBefore
}

// Snapshot returns a copy of the advisory usage counters.
func (p *Pool) Snapshot() Usage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage
}

func (p *Pool) acquire(ctx context.Context) error {
	p.mu.Lock()
	w := &waiter{ready: make(chan struct{}), enqueuedAt: p.now()}
	p.queue = append(p.queue, w)
	p.pumpLocked()
	p.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		if w.granted {
			// Lost the race: the slot was granted while ctx fired.
			p.inFlight--
			p.pumpLocked()
			p.mu.Unlock()
			return ctx.Err()
		}
		for i, q := range p.queue {
			if q == w {
				p.queue = append(p.queue[:i], p.queue[i+1:]...)
				break
			}
		}
		p.mu.Unlock()
		return ctx.Err()
	}
}

func (p *Pool) release() {
	p.mu.Lock()
	p.inFlight--
	p.pumpLocked()
	p.mu.Unlock()
}

// pumpLocked grants queued waiters in FIFO order while capacity exists and
// no backoff window is active. Callers must hold p.mu.
func (p *Pool) pumpLocked() {
	now := p.now()
	if wait := p.notBefore.Sub(now); wait > 0 {
		if len(p.queue) > 0 && p.inFlight < p.cfg.Limit {
			time.AfterFunc(wait+time.Millisecond, p.pump)
		}
		return
	}
	for len(p.queue) > 0 && p.inFlight < p.cfg.Limit {
		w := p.queue[0]
		p.queue = p.queue[1:]
		p.inFlight++
		w.granted = true
		close(w.ready)
		if waited := now.Sub(w.enqueuedAt); waited > time.Second {
			p.logger.Debug("Task dequeued after wait", "waited", waited)
		}
	}
}

func (p *Pool) pump() {
	p.mu.Lock()
	p.pumpLocked()
	p.mu.Unlock()
}

// waitBackoff blocks until the global backoff window has passed.
func (p *Pool) waitBackoff(ctx context.Context) error {
	for {
		p.mu.Lock()
		wait := p.notBefore.Sub(p.now())
		p.mu.Unlock()
		if wait <= 0 {
			return nil
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// extendBackoff pushes the global no-dispatch deadline out exponentially in
// the consecutive rate-limit count. The window is shared by all callers
// because the upstream limit is per account, not per caller.
func (p *Pool) extendBackoff() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rateLimitStreak++
	p.usage.RateLimitHits++
	delay := p.cfg.BackoffBase << p.rateLimitStreak
	if delay > p.cfg.BackoffMax || delay <= 0 {
		delay = p.cfg.BackoffMax
	}
	p.notBefore = p.now().Add(delay)
	p.logger.Warn("Rate limited, backing off", "streak", p.rateLimitStreak, "window", delay)
}

func (p *Pool) resetStreak() {
	p.mu.Lock()
	p.rateLimitStreak = 0
	p.mu.Unlock()
}

func (p *Pool) recordCall(resp *inference.Response, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.usage.Calls++
	if err != nil {
		p.usage.Failures++
		return
	}
	p.usage.Successes++
	if resp != nil {
		p.usage.InputTokens += int64(resp.Usage.InputTokens)
		p.usage.OutputTokens += int64(resp.Usage.OutputTokens)
		p.usage.EstimatedCost += float64(resp.Usage.InputTokens)/1e6*p.cfg.CostPerMInputTokens +
			float64(resp.Usage.OutputTokens)/1e6*p.cfg.CostPerMOutputTokens
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
