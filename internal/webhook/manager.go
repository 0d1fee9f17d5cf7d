// Package webhook fans game events out to HTTP subscribers with HMAC-signed
// payloads, at-least-once delivery, and a dead-letter queue for exhausted
// deliveries.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventType is one of the seven subscriber-visible event names.
type EventType string

const (
	EventGameCreated     EventType = "game.created"
	EventGameStarted     EventType = "game.started"
	EventGameEnded       EventType = "game.ended"
	EventPhaseStarted    EventType = "phase.started"
	EventPhaseResolved   EventType = "phase.resolved"
	EventOrdersSubmitted EventType = "orders.submitted"
	EventMessageSent     EventType = "message.sent"
)

// allEventTypes is the closed set registrations are validated against.
var allEventTypes = map[EventType]bool{
	EventGameCreated:     true,
	EventGameStarted:     true,
	EventGameEnded:       true,
	EventPhaseStarted:    true,
	EventPhaseResolved:   true,
	EventOrdersSubmitted: true,
	EventMessageSent:     true,
}

var (
	ErrInvalidEventType    = errors.New("invalid webhook event type")
	ErrRegistrationMissing = errors.New("webhook registration not found")
)

// Registration is one subscriber endpoint.
type Registration struct {
	ID          string      `json:"id"`
	URL         string      `json:"url"`
	Secret      string      `json:"-"`
	Events      []EventType `json:"events"`
	Description string      `json:"description,omitempty"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (r *Registration) subscribed(e EventType) bool {
	for _, et := range r.Events {
		if et == e {
			return true
		}
	}
	return false
}

// Payload is the JSON body POSTed to subscribers. Timestamp is ISO-8601 UTC.
type Payload struct {
	ID        string         `json:"id"`
	Event     EventType      `json:"event"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Attempt records one HTTP try within a delivery.
type Attempt struct {
	Number     int       `json:"number"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// DeliveryRecord is the outcome of delivering one payload to one
// registration.
type DeliveryRecord struct {
	ID             string    `json:"id"`
	RegistrationID string    `json:"registration_id"`
	PayloadID      string    `json:"payload_id"`
	Event          EventType `json:"event"`
	Delivered      bool      `json:"delivered"`
	Attempts       []Attempt `json:"attempts"`
	CompletedAt    time.Time `json:"completed_at"`
}

// DeadLetterEntry holds a payload whose delivery budget was exhausted.
type DeadLetterEntry struct {
	ID             string    `json:"id"`
	RegistrationID string    `json:"registration_id"`
	Payload        Payload   `json:"payload"`
	Reason         string    `json:"reason"`
	FailedAt       time.Time `json:"failed_at"`
}

// Stats is a point-in-time view of manager counters.
type Stats struct {
	Registrations        int `json:"registrations"`
	ActiveRegistrations  int `json:"active_registrations"`
	TotalDeliveries      int `json:"total_deliveries"`
	SuccessfulDeliveries int `json:"successful_deliveries"`
	FailedDeliveries     int `json:"failed_deliveries"`
	DeadLetters          int `json:"dead_letters"`
	PendingDeliveries    int `json:"pending_deliveries"`
}

// Config bounds delivery retries.
type Config struct {
	MaxRetries      int
	BaseDelay       time.Duration
	DeliveryTimeout time.Duration
}

// DefaultConfig returns the standard delivery profile.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		DeliveryTimeout: 10 * time.Second,
	}
}

// Manager owns the registration table, delivery log, and dead-letter queue.
// One lock guards all of them; deliveries run on their own goroutines and
// report back under the same lock.
type Manager struct {
	cfg    Config
	client *http.Client
	sleep  func(d time.Duration)

	mu          sync.Mutex
	regs        []*Registration // insertion order drives dispatch order
	deliveries  []DeliveryRecord
	deadLetters []DeadLetterEntry
	pending     int
	wg          sync.WaitGroup
}

// ManagerOption configures a Manager at construction.
type ManagerOption func(*Manager)

// WithHTTPClient overrides the delivery client, for tests.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) { m.client = c }
}

// WithSleep overrides the inter-attempt sleep, for tests.
func WithSleep(fn func(d time.Duration)) ManagerOption {
	return func(m *Manager) { m.sleep = fn }
}

// NewManager creates an empty manager.
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:   cfg,
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		m.client = &http.Client{Timeout: cfg.DeliveryTimeout}
	}
	return m
}

// Register validates the event list against the closed set and adds an
// active registration.
func (m *Manager) Register(url, secret string, events []EventType, description string) (*Registration, error) {
	for _, e := range events {
		if !allEventTypes[e] {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEventType, e)
		}
	}
	reg := &Registration{
		ID:          uuid.NewString(),
		URL:         url,
		Secret:      secret,
		Events:      append([]EventType(nil), events...),
		Description: description,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}
	m.mu.Lock()
	m.regs = append(m.regs, reg)
	m.mu.Unlock()

	cp := *reg
	return &cp, nil
}

// Unregister removes a registration.
func (m *Manager) Unregister(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.regs {
		if r.ID == id {
			m.regs = append(m.regs[:i], m.regs[i+1:]...)
			return true
		}
	}
	return false
}

// Activate re-enables a deactivated registration.
func (m *Manager) Activate(id string) bool { return m.setActive(id, true) }

// Deactivate stops future dispatches to a registration without removing it.
func (m *Manager) Deactivate(id string) bool { return m.setActive(id, false) }

func (m *Manager) setActive(id string, active bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regs {
		if r.ID == id {
			r.Active = active
			return true
		}
	}
	return false
}

// Get returns a copy of a registration.
func (m *Manager) Get(id string) (*Registration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regs {
		if r.ID == id {
			cp := *r
			cp.Events = append([]EventType(nil), r.Events...)
			return &cp, true
		}
	}
	return nil, false
}

// List returns copies of all registrations in insertion order.
func (m *Manager) List() []*Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Registration, 0, len(m.regs))
	for _, r := range m.regs {
		cp := *r
		cp.Events = append([]EventType(nil), r.Events...)
		out = append(out, &cp)
	}
	return out
}

// Dispatch builds one payload and schedules a delivery to every active
// registration subscribed to the event, in registration order. Deliveries
// run concurrently; the call returns immediately.
func (m *Manager) Dispatch(event EventType, data map[string]any) (*Payload, error) {
	if !allEventTypes[event] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventType, event)
	}
	payload := &Payload{
		ID:        uuid.NewString(),
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}

	m.mu.Lock()
	for _, r := range m.regs {
		if !r.Active || !r.subscribed(event) {
			continue
		}
		m.startDeliveryLocked(r.ID, r.URL, r.Secret, *payload)
	}
	m.mu.Unlock()
	return payload, nil
}

// startDeliveryLocked accounts for one in-flight delivery and launches it.
func (m *Manager) startDeliveryLocked(regID, url, secret string, payload Payload) {
	m.pending++
	m.wg.Add(1)
	go m.deliver(regID, url, secret, payload)
}

// Flush blocks until every in-flight delivery completes, including retries.
func (m *Manager) Flush() {
	m.wg.Wait()
}

// deliver runs the full retry budget for one payload against one endpoint.
func (m *Manager) deliver(regID, url, secret string, payload Payload) {
	defer m.wg.Done()

	rec := DeliveryRecord{
		ID:             uuid.NewString(),
		RegistrationID: regID,
		PayloadID:      payload.ID,
		Event:          payload.Event,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		rec.Attempts = append(rec.Attempts, Attempt{Number: 1, Error: err.Error(), At: time.Now().UTC()})
		m.finishDelivery(rec, payload, "marshal payload: "+err.Error())
		return
	}
	signature := sign(secret, body)

	var lastErr string
	for k := 1; k <= m.cfg.MaxRetries; k++ {
		attempt := Attempt{Number: k, At: time.Now().UTC()}
		status, err := m.post(url, body, signature, payload)
		if err != nil {
			attempt.Error = err.Error()
			lastErr = err.Error()
		} else {
			attempt.StatusCode = status
			if status >= 200 && status < 300 {
				rec.Attempts = append(rec.Attempts, attempt)
				rec.Delivered = true
				m.finishDelivery(rec, payload, "")
				return
			}
			lastErr = fmt.Sprintf("status %d", status)
		}
		rec.Attempts = append(rec.Attempts, attempt)

		if k < m.cfg.MaxRetries {
			m.sleep(m.cfg.BaseDelay * (1 << (k - 1)))
		}
	}

	m.finishDelivery(rec, payload, lastErr)
}

func (m *Manager) post(url string, body []byte, signature string, payload Payload) (int, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+signature)
	req.Header.Set("X-Webhook-Event", string(payload.Event))
	req.Header.Set("X-Webhook-Id", payload.ID)
	req.Header.Set("X-Webhook-Timestamp", payload.Timestamp)

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// finishDelivery records the outcome and, on failure, appends to the
// dead-letter queue.
func (m *Manager) finishDelivery(rec DeliveryRecord, payload Payload, reason string) {
	rec.CompletedAt = time.Now().UTC()

	m.mu.Lock()
	m.pending--
	m.deliveries = append(m.deliveries, rec)
	if !rec.Delivered {
		m.deadLetters = append(m.deadLetters, DeadLetterEntry{
			ID:             uuid.NewString(),
			RegistrationID: rec.RegistrationID,
			Payload:        payload,
			Reason:         reason,
			FailedAt:       rec.CompletedAt,
		})
	}
	m.mu.Unlock()

	if rec.Delivered {
		log.Debug().Str("payloadId", payload.ID).Str("event", string(payload.Event)).
			Int("attempts", len(rec.Attempts)).Msg("Webhook delivered")
	} else {
		log.Warn().Str("payloadId", payload.ID).Str("event", string(payload.Event)).
			Str("reason", reason).Msg("Webhook delivery exhausted, dead-lettered")
	}
}

// Deliveries returns a copy of the delivery log.
func (m *Manager) Deliveries() []DeliveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeliveryRecord(nil), m.deliveries...)
}

// DeadLetters returns a copy of the dead-letter queue.
func (m *Manager) DeadLetters() []DeadLetterEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeadLetterEntry(nil), m.deadLetters...)
}

// ClearDeadLetters empties the queue and returns how many entries it held.
func (m *Manager) ClearDeadLetters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.deadLetters)
	m.deadLetters = nil
	return n
}

// RetryDeadLetter removes an entry from the queue and re-schedules its
// delivery against the current registration. Returns false when either the
// entry or its registration no longer exists.
func (m *Manager) RetryDeadLetter(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, e := range m.deadLetters {
		if e.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	entry := m.deadLetters[idx]

	var reg *Registration
	for _, r := range m.regs {
		if r.ID == entry.RegistrationID {
			reg = r
			break
		}
	}
	if reg == nil {
		return false
	}

	m.deadLetters = append(m.deadLetters[:idx], m.deadLetters[idx+1:]...)
	m.startDeliveryLocked(reg.ID, reg.URL, reg.Secret, entry.Payload)
	return true
}

// Stats returns current counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Registrations:     len(m.regs),
		TotalDeliveries:   len(m.deliveries),
		DeadLetters:       len(m.deadLetters),
		PendingDeliveries: m.pending,
	}
	for _, r := range m.regs {
		if r.Active {
			s.ActiveRegistrations++
		}
	}
	for _, d := range m.deliveries {
		if d.Delivered {
			s.SuccessfulDeliveries++
		} else {
			s.FailedDeliveries++
		}
	}
	return s
}

// sign computes the hex HMAC-SHA256 of the exact bytes sent.
func sign(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
