// Package governor provides the single serialization point for outbound
// calls to the document-understanding service: admission control, a sliding
// rate window, a bounded retry machine and a circuit breaker. It has no
// knowledge of document semantics.
package governor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lukavetter/vatlens/internal/common"
)

// Priority controls queue placement. High priority submissions are admitted
// ahead of any waiting normal priority work.
type Priority int

// Priority levels.
const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// Config holds tuning knobs for the governor.
type Config struct {
	// RequestsPerMinute is the window ceiling on admissions.
	RequestsPerMinute int
	// CostPerMinute is the window ceiling on estimated cost units.
	CostPerMinute int
	// QueueCapacity bounds the number of submissions waiting for admission.
	QueueCapacity int
	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold int
	// Cooldown is how long the breaker stays open.
	Cooldown time.Duration
	// MaxAttempts bounds retries of retryable failures per submission.
	MaxAttempts int
	// InitialDelay is the first retry backoff delay.
	InitialDelay time.Duration
	// MaxDelay caps the retry backoff.
	MaxDelay time.Duration
}

// DefaultConfig returns the default governor configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		CostPerMinute:     100000,
		QueueCapacity:     32,
		FailureThreshold:  5,
		Cooldown:          60 * time.Second,
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		MaxDelay:          8 * time.Second,
	}
}

// Request is one unit of work to run under governor control. Fn is invoked
// once per attempt; the governor owns the retry loop.
type Request struct {
	Fn          func(ctx context.Context) error
	Priority    Priority
	Cost        int
	MaxAttempts int // overrides Config.MaxAttempts when > 0
}

type windowEntry struct {
	at   time.Time
	cost int
}

// Governor serializes and rate-limits access to the external service.
type Governor struct {
	openUntil   time.Time
	logger      *slog.Logger
	window      []windowEntry
	cfg         Config
	queued      int
	highWaiting int
	consecFails int
	mu          sync.Mutex
}

// New creates a governor with the given configuration, filling zero values
// with defaults.
func New(cfg Config, logger *slog.Logger) *Governor {
	def := DefaultConfig()
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.CostPerMinute <= 0 {
		cfg.CostPerMinute = def.CostPerMinute
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Governor{cfg: cfg, logger: logger}
}

// Submit runs the request under admission control. Retryable failures are
// re-queued with exponential backoff up to the attempt budget; terminal
// failures propagate immediately. While the breaker is open every submission
// fails fast with ErrCircuitOpen, and a full queue fails fast with
// ErrQueueFull.
func (g *Governor) Submit(ctx context.Context, req Request) error {
	if req.Fn == nil {
		return fmt.Errorf("%w: nil callable", common.ErrMalformedRequest)
	}

	if err := g.checkBreaker(); err != nil {
		return err
	}

	if err := g.enterQueue(req.Priority); err != nil {
		return err
	}
	defer g.leaveQueue(req.Priority)

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = g.cfg.MaxAttempts
	}

	// Each attempt re-checks the breaker and re-enters admission; the
	// backoff between attempts belongs to the retry helper.
	return common.WithRetry(ctx, func() error {
		if err := g.checkBreaker(); err != nil {
			return err
		}

		if err := g.admit(ctx, req.Priority, req.Cost); err != nil {
			return err
		}

		err := req.Fn(ctx)
		if err == nil {
			g.recordSuccess()
			return nil
		}
		if common.IsRetryable(err) {
			g.recordFailure()
		}
		return err
	}, common.RetryOptions{
		MaxAttempts:  maxAttempts,
		InitialDelay: g.cfg.InitialDelay,
		MaxDelay:     g.cfg.MaxDelay,
	})
}

// checkBreaker fails fast while the breaker is open and closes it once the
// cooldown has elapsed.
func (g *Governor) checkBreaker() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.openUntil.IsZero() {
		return nil
	}

	if time.Now().Before(g.openUntil) {
		return common.ErrCircuitOpen
	}

	// Cooldown elapsed: close and reset.
	g.openUntil = time.Time{}
	g.consecFails = 0
	g.logger.Info("circuit breaker closed after cooldown")
	return nil
}

func (g *Governor) enterQueue(pri Priority) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.queued >= g.cfg.QueueCapacity {
		return common.ErrQueueFull
	}
	g.queued++
	if pri == PriorityHigh {
		g.highWaiting++
	}
	return nil
}

func (g *Governor) leaveQueue(pri Priority) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.queued--
	if pri == PriorityHigh {
		g.highWaiting--
	}
}

// admit blocks until the sliding window has headroom and no higher-priority
// work is waiting, then records the admission.
func (g *Governor) admit(ctx context.Context, pri Priority, cost int) error {
	for {
		wait, ok := g.tryAdmit(pri, cost)
		if ok {
			return nil
		}

		if wait <= 0 {
			wait = 50 * time.Millisecond
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("governor admission canceled: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
}

// tryAdmit attempts a non-blocking admission. When the window is saturated
// it returns how long until the oldest entry leaves the window.
func (g *Governor) tryAdmit(pri Priority, cost int) (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	g.pruneWindow(now)

	// Normal priority yields to any waiting high priority submission.
	if pri == PriorityNormal && g.highWaiting > 0 {
		return 50 * time.Millisecond, false
	}

	costUsed := 0
	for _, e := range g.window {
		costUsed += e.cost
	}

	// Above 80% of either ceiling, hold off until the window drains.
	reqCeiling := (g.cfg.RequestsPerMinute * 80) / 100
	costCeiling := (g.cfg.CostPerMinute * 80) / 100
	if len(g.window) >= reqCeiling || costUsed+cost > costCeiling {
		// An empty window cannot drain any further: admit rather than
		// stall forever, but still record the admission so the next
		// oversized submission waits out the window.
		if len(g.window) == 0 {
			g.window = append(g.window, windowEntry{at: now, cost: cost})
			return 0, true
		}
		remaining := time.Minute - now.Sub(g.window[0].at)
		return remaining, false
	}

	g.window = append(g.window, windowEntry{at: now, cost: cost})
	return 0, true
}

// pruneWindow drops entries older than one minute. Callers must hold mu.
func (g *Governor) pruneWindow(now time.Time) {
	cutoff := now.Add(-time.Minute)
	idx := 0
	for idx < len(g.window) && g.window[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		g.window = g.window[idx:]
	}
}

func (g *Governor) recordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.consecFails = 0
}

func (g *Governor) recordFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.consecFails++
	if g.consecFails >= g.cfg.FailureThreshold && g.openUntil.IsZero() {
		g.openUntil = time.Now().Add(g.cfg.Cooldown)
		g.logger.Warn("circuit breaker opened",
			"consecutive_failures", g.consecFails,
			"cooldown", g.cfg.Cooldown)
	}
}

// Snapshot reports current governor state for diagnostics.
func (g *Governor) Snapshot() (queued int, windowUsage int, breakerOpen bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pruneWindow(time.Now())
	open := !g.openUntil.IsZero() && time.Now().Before(g.openUntil)
	return g.queued, len(g.window), open
}
