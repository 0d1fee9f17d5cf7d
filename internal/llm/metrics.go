package llm

import "sync"

// Class buckets provider errors for the retry counters.
type Class string

const (
	ClassRateLimit          Class = "rate_limit"
	ClassTimeout            Class = "timeout"
	ClassServerError        Class = "server_error"
	ClassBadGateway         Class = "bad_gateway"
	ClassServiceUnavailable Class = "service_unavailable"
	ClassNetworkError       Class = "network_error"
	ClassUnknown            Class = "unknown"
)

// Metrics accumulates retry-driver counters across calls. Safe for
// concurrent use.
type Metrics struct {
	mu                sync.Mutex
	totalAttempts     int
	firstTrySuccesses int
	retrySuccesses    int
	fallbackSuccesses int
	totalFailures     int
	errorCounts       map[Class]int
}

// NewMetrics returns zeroed counters.
func NewMetrics() *Metrics {
	return &Metrics{errorCounts: make(map[Class]int)}
}

func (m *Metrics) recordAttempt() {
	m.mu.Lock()
	m.totalAttempts++
	m.mu.Unlock()
}

func (m *Metrics) recordError(c Class) {
	m.mu.Lock()
	m.errorCounts[c]++
	m.mu.Unlock()
}

func (m *Metrics) recordFirstTrySuccess() {
	m.mu.Lock()
	m.firstTrySuccesses++
	m.mu.Unlock()
}

func (m *Metrics) recordRetrySuccess() {
	m.mu.Lock()
	m.retrySuccesses++
	m.mu.Unlock()
}

func (m *Metrics) recordFallbackSuccess() {
	m.mu.Lock()
	m.fallbackSuccesses++
	m.mu.Unlock()
}

func (m *Metrics) recordFailure() {
	m.mu.Lock()
	m.totalFailures++
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	TotalAttempts     int           `json:"total_attempts"`
	FirstTrySuccesses int           `json:"first_try_successes"`
	RetrySuccesses    int           `json:"retry_successes"`
	FallbackSuccesses int           `json:"fallback_successes"`
	TotalFailures     int           `json:"total_failures"`
	ErrorCounts       map[Class]int `json:"error_counts"`
}

// Snapshot copies the counters, including the error-class map.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[Class]int, len(m.errorCounts))
	for k, v := range m.errorCounts {
		counts[k] = v
	}
	return MetricsSnapshot{
		TotalAttempts:     m.totalAttempts,
		FirstTrySuccesses: m.firstTrySuccesses,
		RetrySuccesses:    m.retrySuccesses,
		FallbackSuccesses: m.fallbackSuccesses,
		TotalFailures:     m.totalFailures,
		ErrorCounts:       counts,
	}
}
