package webhook

import "sync"

// Process-wide manager shared by all sessions. Explicit init/teardown; tests
// swap it with SetDefault.
var (
	defaultMu      sync.Mutex
	defaultManager *Manager
)

// InitDefault installs the process-wide manager. Calling it twice replaces
// the previous one.
func InitDefault(cfg Config, opts ...ManagerOption) *Manager {
	m := NewManager(cfg, opts...)
	defaultMu.Lock()
	defaultManager = m
	defaultMu.Unlock()
	return m
}

// Default returns the process-wide manager, or nil before InitDefault.
func Default() *Manager {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultManager
}

// SetDefault replaces the process-wide manager and returns a func restoring
// the previous one.
func SetDefault(m *Manager) func() {
	defaultMu.Lock()
	prev := defaultManager
	defaultManager = m
	defaultMu.Unlock()
	return func() {
		defaultMu.Lock()
		defaultManager = prev
		defaultMu.Unlock()
	}
}

// TeardownDefault flushes and drops the process-wide manager.
func TeardownDefault() {
	defaultMu.Lock()
	m := defaultManager
	defaultManager = nil
	defaultMu.Unlock()
	if m != nil {
		m.Flush()
	}
}
