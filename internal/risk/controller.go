// Package risk owns the process-wide request cadence. Every outbound call
// to the ticketing service, polling and ordering alike, reserves a slot
// here so concurrent targets share one request budget.
package risk

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"rail_sniper/internal/domain"
)

// Config bounds the adaptive interval and the failure tolerance.
type Config struct {
	MinInterval      time.Duration
	MaxInterval      time.Duration
	BackoffFactor    float64 // interval multiplier on failure, e.g. 1.5
	DecayFactor      float64 // interval multiplier on success, e.g. 0.9
	FailureThreshold int     // consecutive failures before a suspected ban
	DailyLimit       int     // requests per calendar day, 0 = unlimited
	JitterMax        time.Duration
}

// DefaultConfig mirrors the pacing the upstream tolerates in practice.
func DefaultConfig() Config {
	return Config{
		MinInterval:      5 * time.Second,
		MaxInterval:      15 * time.Second,
		BackoffFactor:    1.5,
		DecayFactor:      0.9,
		FailureThreshold: 5,
		DailyLimit:       1000,
		JitterMax:        time.Second,
	}
}

// State is a point-in-time view of the controller, for the status feed.
type State struct {
	IntervalSeconds     float64   `json:"interval_seconds"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	DailyCount          int       `json:"daily_count"`
	DailyLimit          int       `json:"daily_limit"`
	Banned              bool      `json:"banned"`
	BanRelease          time.Time `json:"ban_release,omitempty"`
	LastRequest         time.Time `json:"last_request,omitempty"`
}

// Controller paces outbound requests with an adaptive interval. A single
// instance is shared by all target loops; its critical sections only touch
// a few fields so contention stays cheap.
type Controller struct {
	mu       sync.Mutex
	cfg      Config
	interval time.Duration
	failures int
	lastSlot time.Time // release time of the most recently reserved slot
	daily    int
	dailyDay string
	banUntil time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	logger *slog.Logger
}

// New creates a controller starting at the minimum interval.
func New(cfg Config) *Controller {
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = 1.5
	}
	if cfg.DecayFactor <= 0 || cfg.DecayFactor >= 1 {
		cfg.DecayFactor = 0.9
	}
	return &Controller{
		cfg:      cfg,
		interval: cfg.MinInterval,
		now:      time.Now,
		sleep:    realSleep,
		logger:   slog.Default().With("module", "risk"),
	}
}

func realSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// AwaitSlot blocks until the next request may be issued, then records the
// reservation. Returns ErrSuspectedBan while a ban cooldown is active and
// ErrDailyLimitReached once the daily budget is spent; the caller must halt
// the affected target instead of retrying.
func (c *Controller) AwaitSlot(ctx context.Context) error {
	c.mu.Lock()
	now := c.now()

	today := now.Format("2006-01-02")
	if c.dailyDay != today {
		c.dailyDay = today
		c.daily = 0
	}

	if !c.banUntil.IsZero() {
		if now.Before(c.banUntil) {
			c.mu.Unlock()
			return domain.ErrSuspectedBan
		}
		c.banUntil = time.Time{}
		c.logger.Info("ban cooldown elapsed, resuming requests")
	}

	if c.cfg.DailyLimit > 0 && c.daily >= c.cfg.DailyLimit {
		c.mu.Unlock()
		return domain.ErrDailyLimitReached
	}

	// Reserve the slot while holding the lock so two callers can never be
	// released closer together than the current interval.
	jitter := time.Duration(0)
	if c.cfg.JitterMax > 0 {
		jitter = time.Duration(rand.Int63n(int64(c.cfg.JitterMax)))
	}
	slot := now
	if earliest := c.lastSlot.Add(c.interval); earliest.After(slot) {
		slot = earliest
	}
	slot = slot.Add(jitter)
	c.lastSlot = slot
	wait := slot.Sub(now)
	c.mu.Unlock()

	return c.sleep(ctx, wait)
}

// OnSuccess decays the interval toward the minimum and clears the failure
// streak and any ban state.
func (c *Controller) OnSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures = 0
	c.banUntil = time.Time{}
	c.daily++

	decayed := time.Duration(float64(c.interval) * c.cfg.DecayFactor)
	if decayed < c.cfg.MinInterval {
		decayed = c.cfg.MinInterval
	}
	c.interval = decayed
}

// OnRateLimited backs the interval off and, past the failure threshold,
// enters a ban cooldown with exponentially growing length (capped at 30m).
func (c *Controller) OnRateLimited() {
	c.onFailure("rate_limited")
}

// OnError is failure feedback for non-throttling errors; pacing reacts the
// same way since the upstream does not distinguish them reliably.
func (c *Controller) OnError() {
	c.onFailure("error")
}

func (c *Controller) onFailure(cause string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++
	c.daily++

	backed := time.Duration(float64(c.interval) * c.cfg.BackoffFactor)
	if backed > c.cfg.MaxInterval {
		backed = c.cfg.MaxInterval
	}
	c.interval = backed

	if c.cfg.FailureThreshold > 0 && c.failures >= c.cfg.FailureThreshold {
		over := c.failures - c.cfg.FailureThreshold
		minutes := 1 << uint(min(over, 5))
		if minutes > 30 {
			minutes = 30
		}
		c.banUntil = c.now().Add(time.Duration(minutes) * time.Minute)
		c.logger.Error("suspected ban",
			slog.String("cause", cause),
			slog.Int("consecutive_failures", c.failures),
			slog.Time("release", c.banUntil),
		)
		return
	}

	c.logger.Warn("request failed, interval backed off",
		slog.String("cause", cause),
		slog.Int("consecutive_failures", c.failures),
		slog.Duration("interval", c.interval),
	)
}

// Suspended reports whether a ban cooldown is currently active.
func (c *Controller) Suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.banUntil.IsZero() && c.now().Before(c.banUntil)
}

// Interval returns the current pacing interval.
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Snapshot returns the current controller state for observability.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		IntervalSeconds:     c.interval.Seconds(),
		ConsecutiveFailures: c.failures,
		DailyCount:          c.daily,
		DailyLimit:          c.cfg.DailyLimit,
		Banned:              !c.banUntil.IsZero() && c.now().Before(c.banUntil),
		BanRelease:          c.banUntil,
		LastRequest:         c.lastSlot,
	}
}
