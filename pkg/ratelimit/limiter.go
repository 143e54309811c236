package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const window = time.Minute

var (
	ErrStopped          = errors.New("rate limiter wait interrupted by shutdown")
	ErrRetriesExhausted = errors.New("retry attempts exhausted")
)

type Config struct {
	RequestsPerSecond float64
	RequestsPerMinute int
	BurstSize         int
	RetryAttempts     int
	BackoffBase       float64
	BackoffMax        time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		RequestsPerMinute: 500,
		BurstSize:         20,
		RetryAttempts:     5,
		BackoffBase:       2,
		BackoffMax:        300 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = d.RequestsPerSecond
	}
	if c.BurstSize <= 0 {
		c.BurstSize = d.BurstSize
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	if c.BackoffBase <= 1 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	return c
}

// Stats is a point in time copy of the limiter counters.
type Stats struct {
	TotalRequests     int64         `json:"total_requests"`
	ThrottledRequests int64         `json:"throttled_requests"`
	FailedRequests    int64         `json:"failed_requests"`
	TotalWait         time.Duration `json:"-"`
	TotalWaitSeconds  float64       `json:"total_wait_seconds"`
	CurrentRPM        int           `json:"current_rpm"`
	Tokens            float64       `json:"tokens_available"`
	BackoffAttempt    int           `json:"backoff_attempt"`
	InBackoff         bool          `json:"in_backoff"`
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithAfter replaces the timer used while waiting.
func WithAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(l *Limiter) { l.after = after }
}

// Limiter combines a token bucket, a trailing one minute request log and
// exponential backoff. The stricter constraint always governs.
type Limiter struct {
	mu           sync.Mutex
	cfg          Config
	bucket       *rate.Limiter
	stamps       []time.Time
	attempt      int
	backoffUntil time.Time
	stats        Stats

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

func New(cfg Config, opts ...Option) *Limiter {
	cfg = cfg.withDefaults()
	l := &Limiter{
		cfg:    cfg,
		bucket: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
		now:    time.Now,
		after:  time.After,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire admits one request and returns zero, or returns how long the
// caller must wait before asking again. Nothing is consumed on a non-zero wait.
func (l *Limiter) Acquire() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.trim(now)

	var wait time.Duration
	if l.backoffUntil.After(now) {
		wait = l.backoffUntil.Sub(now)
	}

	if rpm := l.cfg.RequestsPerMinute; rpm > 0 && len(l.stamps) >= rpm {
		wait = max(wait, l.stamps[len(l.stamps)-rpm].Add(window).Sub(now))
	}

	if tokens := l.bucket.TokensAt(now); tokens < 1 {
		seconds := (1 - tokens) / l.cfg.RequestsPerSecond
		wait = max(wait, time.Duration(math.Ceil(seconds*float64(time.Second))))
	}

	if wait > 0 {
		l.stats.ThrottledRequests++
		l.stats.TotalWait += wait
		return wait
	}

	l.bucket.AllowN(now, 1)
	l.stamps = append(l.stamps, now)
	l.stats.TotalRequests++
	return 0
}

// OnResult feeds back the outcome of an admitted request. A failure extends
// the backoff to max(min(base^attempt, BackoffMax), retryAfter); a success
// clears it.
func (l *Limiter) OnResult(success bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if success {
		l.attempt = 0
		l.backoffUntil = time.Time{}
		return
	}

	l.attempt++
	l.stats.FailedRequests++

	delay := l.cfg.BackoffMax
	if seconds := math.Pow(l.cfg.BackoffBase, float64(l.attempt)); seconds < l.cfg.BackoffMax.Seconds() {
		delay = time.Duration(seconds * float64(time.Second))
	}
	delay = max(delay, retryAfter)

	until := l.now().Add(delay)
	if until.After(l.backoffUntil) {
		l.backoffUntil = until
	}
}

// Wait blocks until Acquire admits the caller. It returns early when ctx is
// done or stop is closed, without consuming anything.
func (l *Limiter) Wait(ctx context.Context, stop <-chan struct{}) error {
	for {
		d := l.Acquire()
		if d == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return ErrStopped
		case <-l.after(d):
		}
	}
}

// Reconfigure applies new rate parameters, keeping the request log and
// backoff state.
func (l *Limiter) Reconfigure(cfg Config) {
	cfg = cfg.withDefaults()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.bucket.SetLimitAt(now, rate.Limit(cfg.RequestsPerSecond))
	l.bucket.SetBurstAt(now, cfg.BurstSize)
	l.cfg = cfg
}

func (l *Limiter) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

func (l *Limiter) Attempt() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempt
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.trim(now)

	s := l.stats
	s.TotalWaitSeconds = math.Round(s.TotalWait.Seconds()*1000) / 1000
	s.CurrentRPM = len(l.stamps)
	s.Tokens = math.Round(l.bucket.TokensAt(now)*100) / 100
	s.BackoffAttempt = l.attempt
	s.InBackoff = l.backoffUntil.After(now)
	return s
}

// trim drops timestamps that have left the trailing window. Callers hold mu.
func (l *Limiter) trim(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}
