package llm

import "sync"

// Process-wide retry metrics, shared by drivers that are not given their
// own. Tests swap them with SetDefaultMetrics and restore afterwards.
var (
	defaultMu      sync.Mutex
	defaultMetrics = NewMetrics()
)

// DefaultMetrics returns the process-wide counters.
func DefaultMetrics() *Metrics {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultMetrics
}

// SetDefaultMetrics replaces the process-wide counters and returns a func
// that restores the previous ones.
func SetDefaultMetrics(m *Metrics) func() {
	defaultMu.Lock()
	prev := defaultMetrics
	defaultMetrics = m
	defaultMu.Unlock()
	return func() {
		defaultMu.Lock()
		defaultMetrics = prev
		defaultMu.Unlock()
	}
}
