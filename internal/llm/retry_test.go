package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

// scriptedCompleter fails a fixed number of times, then succeeds. It records
// every model it was asked for.
type scriptedCompleter struct {
	failures int
	err      error
	calls    int
	models   []string
}

func (c *scriptedCompleter) Complete(ctx context.Context, p Params) (*Result, error) {
	c.calls++
	c.models = append(c.models, p.Model)
	if c.calls <= c.failures {
		return nil, c.err
	}
	return &Result{Content: "orders", StopReason: "end_turn"}, nil
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestFirstTrySuccess(t *testing.T) {
	m := NewMetrics()
	c := &scriptedCompleter{}
	d := NewDriver(c, DefaultRetryConfig(), WithMetrics(m), WithSleep(noSleep))

	out, err := d.Complete(context.Background(), Params{Model: "primary"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Attempts != 1 || out.UsedFallback {
		t.Errorf("attempts=%d fallback=%v, want 1/false", out.Attempts, out.UsedFallback)
	}

	snap := m.Snapshot()
	if snap.TotalAttempts != 1 || snap.FirstTrySuccesses != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	m := NewMetrics()
	c := &scriptedCompleter{failures: 2, err: errors.New("request timed out")}
	d := NewDriver(c, RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond},
		WithMetrics(m), WithSleep(noSleep))

	out, err := d.Complete(context.Background(), Params{Model: "primary"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Attempts != 3 || out.UsedFallback {
		t.Errorf("attempts=%d fallback=%v, want 3/false", out.Attempts, out.UsedFallback)
	}

	snap := m.Snapshot()
	if snap.RetrySuccesses != 1 || snap.FirstTrySuccesses != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.ErrorCounts[ClassTimeout] != 2 {
		t.Errorf("timeout count = %d, want 2", snap.ErrorCounts[ClassTimeout])
	}
}

func TestFallbackAfterExhaustion(t *testing.T) {
	m := NewMetrics()
	c := &scriptedCompleter{failures: 3, err: errors.New("rate limit exceeded (429)")}
	d := NewDriver(c, RetryConfig{
		MaxRetries:    3,
		BaseDelay:     time.Millisecond,
		FallbackModel: "fallback-model",
	}, WithMetrics(m), WithSleep(noSleep))

	out, err := d.Complete(context.Background(), Params{Model: "primary"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Attempts != 4 || !out.UsedFallback {
		t.Errorf("attempts=%d fallback=%v, want 4/true", out.Attempts, out.UsedFallback)
	}
	if c.models[3] != "fallback-model" {
		t.Errorf("fourth call used model %q", c.models[3])
	}

	snap := m.Snapshot()
	if snap.ErrorCounts[ClassRateLimit] != 3 {
		t.Errorf("rate_limit count = %d, want 3", snap.ErrorCounts[ClassRateLimit])
	}
	if snap.FallbackSuccesses != 1 || snap.TotalFailures != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.TotalAttempts != 4 {
		t.Errorf("total attempts = %d, want 4", snap.TotalAttempts)
	}
}

func TestExhaustionWithoutFallback(t *testing.T) {
	m := NewMetrics()
	wantErr := errors.New("503 service unavailable")
	c := &scriptedCompleter{failures: 10, err: wantErr}
	d := NewDriver(c, RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond},
		WithMetrics(m), WithSleep(noSleep))

	_, err := d.Complete(context.Background(), Params{Model: "primary"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want last provider error", err)
	}
	if c.calls != 2 {
		t.Errorf("calls = %d, want 2", c.calls)
	}

	snap := m.Snapshot()
	if snap.TotalFailures != 1 {
		t.Errorf("total failures = %d, want 1", snap.TotalFailures)
	}
}

func TestFallbackFailurePropagatesLastError(t *testing.T) {
	m := NewMetrics()
	fbErr := errors.New("fallback is down")
	calls := 0
	c := CompleterFunc(func(ctx context.Context, p Params) (*Result, error) {
		calls++
		if p.Model == "fallback-model" {
			return nil, fbErr
		}
		return nil, errors.New("500 internal server error")
	})
	d := NewDriver(c, RetryConfig{
		MaxRetries:    2,
		BaseDelay:     time.Millisecond,
		FallbackModel: "fallback-model",
	}, WithMetrics(m), WithSleep(noSleep))

	_, err := d.Complete(context.Background(), Params{Model: "primary"})
	if !errors.Is(err, fbErr) {
		t.Fatalf("got %v, want fallback error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if snap := m.Snapshot(); snap.TotalFailures != 1 || snap.FallbackSuccesses != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestBackoffProgression(t *testing.T) {
	var delays []time.Duration
	c := &scriptedCompleter{failures: 3, err: errors.New("429")}
	d := NewDriver(c, RetryConfig{MaxRetries: 3, BaseDelay: 100 * time.Millisecond},
		WithMetrics(NewMetrics()),
		WithSleep(func(ctx context.Context, dur time.Duration) error {
			delays = append(delays, dur)
			return nil
		}),
		WithJitter(func() float64 { return 0.5 }),
	)

	d.Complete(context.Background(), Params{Model: "primary"})

	// Jitter pinned to 0.5 makes the factor exactly 1.0.
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("sleeps = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want Class
	}{
		{"Rate Limit exceeded", ClassRateLimit},
		{"got HTTP 429", ClassRateLimit},
		{"request timed out", ClassTimeout},
		{"dial timeout", ClassTimeout},
		{"500 internal server error", ClassServerError},
		{"502 Bad Gateway", ClassBadGateway},
		{"503 Service Unavailable", ClassServiceUnavailable},
		{"network is unreachable", ClassNetworkError},
		{"ECONNRESET", ClassNetworkError},
		{"something odd happened", ClassUnknown},
	}
	for _, tc := range cases {
		if got := Classify(errors.New(tc.msg)); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
}

func TestDefaultMetricsOverride(t *testing.T) {
	m := NewMetrics()
	restore := SetDefaultMetrics(m)
	defer restore()

	c := &scriptedCompleter{}
	d := NewDriver(c, DefaultRetryConfig(), WithSleep(noSleep))
	if _, err := d.Complete(context.Background(), Params{Model: "primary"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if snap := m.Snapshot(); snap.FirstTrySuccesses != 1 {
		t.Errorf("override metrics not used: %+v", snap)
	}
}
