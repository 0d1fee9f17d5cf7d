package llm

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig bounds the driver.
type RetryConfig struct {
	MaxRetries    int
	BaseDelay     time.Duration
	FallbackModel string
}

// DefaultRetryConfig matches the standard provider profile.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
	}
}

// Completion is a retry-driver result with attempt accounting.
type Completion struct {
	*Result
	UsedFallback bool
	Attempts     int
}

// Driver wraps a Completer with bounded exponential backoff and an optional
// one-shot fallback model.
type Driver struct {
	completer Completer
	cfg       RetryConfig
	metrics   *Metrics
	sleep     func(ctx context.Context, d time.Duration) error
	jitter    func() float64
}

// DriverOption configures a Driver at construction.
type DriverOption func(*Driver)

// WithMetrics overrides the process-wide counters.
func WithMetrics(m *Metrics) DriverOption {
	return func(d *Driver) { d.metrics = m }
}

// WithSleep overrides the inter-attempt sleep, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) DriverOption {
	return func(d *Driver) { d.sleep = fn }
}

// WithJitter overrides the jitter source, for tests.
func WithJitter(fn func() float64) DriverOption {
	return func(d *Driver) { d.jitter = fn }
}

// NewDriver wraps a completer. Counters go to the process-wide metrics
// unless WithMetrics overrides them.
func NewDriver(c Completer, cfg RetryConfig, opts ...DriverOption) *Driver {
	d := &Driver{
		completer: c,
		cfg:       cfg,
		sleep:     sleepCtx,
		jitter:    rand.Float64,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = DefaultMetrics()
	}
	return d
}

// Complete calls the underlying completer up to MaxRetries times with full
// jitter backoff, then the fallback model exactly once if configured. The
// returned Completion reports the attempt count and whether the fallback
// answered.
func (d *Driver) Complete(ctx context.Context, p Params) (*Completion, error) {
	var lastErr error
	for k := 0; k < d.cfg.MaxRetries; k++ {
		d.metrics.recordAttempt()
		res, err := d.completer.Complete(ctx, p)
		if err == nil {
			if k == 0 {
				d.metrics.recordFirstTrySuccess()
			} else {
				d.metrics.recordRetrySuccess()
			}
			return &Completion{Result: res, Attempts: k + 1}, nil
		}
		lastErr = err
		class := Classify(err)
		d.metrics.recordError(class)
		log.Warn().Err(err).Str("model", p.Model).
			Str("class", string(class)).Int("attempt", k+1).
			Msg("Completion attempt failed")

		if k < d.cfg.MaxRetries-1 {
			if err := d.sleep(ctx, d.backoff(k)); err != nil {
				d.metrics.recordFailure()
				return nil, err
			}
		}
	}

	if d.cfg.FallbackModel != "" {
		fb := p
		fb.Model = d.cfg.FallbackModel
		d.metrics.recordAttempt()
		res, err := d.completer.Complete(ctx, fb)
		if err == nil {
			d.metrics.recordFallbackSuccess()
			log.Info().Str("model", fb.Model).Msg("Fallback model answered")
			return &Completion{Result: res, UsedFallback: true, Attempts: d.cfg.MaxRetries + 1}, nil
		}
		lastErr = err
	}

	d.metrics.recordFailure()
	return nil, lastErr
}

// backoff computes base·2^k scaled by a factor in [0.5, 1.5).
func (d *Driver) backoff(k int) time.Duration {
	base := float64(d.cfg.BaseDelay) * float64(int64(1)<<uint(k))
	return time.Duration(base * (0.5 + d.jitter()))
}

// Classify buckets a provider error by substring match on the lowercase
// message.
func Classify(err error) Class {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return ClassRateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return ClassTimeout
	case strings.Contains(msg, "500") || strings.Contains(msg, "internal server"):
		return ClassServerError
	case strings.Contains(msg, "502") || strings.Contains(msg, "bad gateway"):
		return ClassBadGateway
	case strings.Contains(msg, "503") || strings.Contains(msg, "service unavailable"):
		return ClassServiceUnavailable
	case strings.Contains(msg, "network") || strings.Contains(msg, "econnrefused") || strings.Contains(msg, "econnreset"):
		return ClassNetworkError
	default:
		return ClassUnknown
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
