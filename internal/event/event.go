// Package event defines the discriminated game event set and the in-session
// fan-out bus. Every user-visible state change flows through here.
package event

import (
	"time"

	"github.com/concertlabs/concert/internal/model"
)

// Type discriminates the event payload.
type Type string

const (
	TypeGameCreated       Type = "GAME_CREATED"
	TypeGameStarted       Type = "GAME_STARTED"
	TypeGamePaused        Type = "GAME_PAUSED"
	TypeGameResumed       Type = "GAME_RESUMED"
	TypeGameCompleted     Type = "GAME_COMPLETED"
	TypeGameAbandoned     Type = "GAME_ABANDONED"
	TypePhaseStarted      Type = "PHASE_STARTED"
	TypePhaseEndingSoon   Type = "PHASE_ENDING_SOON"
	TypePhaseEnded        Type = "PHASE_ENDED"
	TypeOrdersSubmitted   Type = "ORDERS_SUBMITTED"
	TypeAllOrdersReceived Type = "ALL_ORDERS_RECEIVED"
	TypeOrdersResolved    Type = "ORDERS_RESOLVED"
	TypeAgentNudged       Type = "AGENT_NUDGED"
	TypeAgentTimeout      Type = "AGENT_TIMEOUT"
	TypeAgentInactive     Type = "AGENT_INACTIVE"
	TypeMessageSent       Type = "MESSAGE_SENT"
	TypeError             Type = "ERROR"
)

// Event is one entry in a session's append-only history. Payload holds the
// type-specific struct below; consumers branch on Type.
type Event struct {
	Type      Type      `json:"type"`
	GameID    string    `json:"game_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// GameCreated carries the display name of a newly created game.
type GameCreated struct {
	Name string `json:"name"`
}

// GameStarted carries the opening phase coordinates.
type GameStarted struct {
	Year   int             `json:"year"`
	Season model.Season    `json:"season"`
	Phase  model.PhaseType `json:"phase"`
}

// GamePaused carries an optional operator-supplied reason.
type GamePaused struct {
	Reason string `json:"reason,omitempty"`
}

// GameCompleted reports the end of a finished game.
type GameCompleted struct {
	Winner    model.Power `json:"winner,omitempty"`
	IsDraw    bool        `json:"is_draw"`
	FinalYear int         `json:"final_year"`
}

// GameAbandoned reports an operator-terminated game.
type GameAbandoned struct {
	Reason string `json:"reason"`
}

// PhaseStarted announces a new phase and its deadline.
type PhaseStarted struct {
	Year         int             `json:"year"`
	Season       model.Season    `json:"season"`
	Phase        model.PhaseType `json:"phase"`
	Deadline     time.Time       `json:"deadline"`
	ActivePowers []model.Power   `json:"active_powers"`
}

// PhaseEndingSoon is the nudge broadcast before the deadline.
type PhaseEndingSoon struct {
	Year          int             `json:"year"`
	Season        model.Season    `json:"season"`
	Phase         model.PhaseType `json:"phase"`
	Deadline      time.Time       `json:"deadline"`
	TimeRemaining time.Duration   `json:"time_remaining"`
	PendingPowers []model.Power   `json:"pending_powers"`
}

// PhaseEnded closes a phase at its deadline.
type PhaseEnded struct {
	Year          int             `json:"year"`
	Season        model.Season    `json:"season"`
	Phase         model.PhaseType `json:"phase"`
	TimeoutPowers []model.Power   `json:"timeout_powers"`
}

// OrdersSubmitted records one power completing its submission.
type OrdersSubmitted struct {
	Power      model.Power `json:"power"`
	OrderCount int         `json:"order_count"`
}

// AllOrdersReceived fires once when the last active power submits.
type AllOrdersReceived struct {
	Year   int             `json:"year"`
	Season model.Season    `json:"season"`
	Phase  model.PhaseType `json:"phase"`
}

// OrdersResolved carries the resolution summary for a finished phase.
type OrdersResolved struct {
	Year    int                     `json:"year"`
	Season  model.Season            `json:"season"`
	Phase   model.PhaseType         `json:"phase"`
	Summary model.ResolutionSummary `json:"summary"`
}

// AgentNudged targets one pending power before the deadline.
type AgentNudged struct {
	Power         model.Power   `json:"power"`
	Deadline      time.Time     `json:"deadline"`
	TimeRemaining time.Duration `json:"time_remaining"`
}

// AgentTimeout records a power missing the deadline. Action is "auto-hold"
// when default orders were substituted, "none" otherwise.
type AgentTimeout struct {
	Power  model.Power     `json:"power"`
	Phase  model.PhaseType `json:"phase"`
	Action string          `json:"action"`
}

// AgentInactive fires when a power's missed-deadline count reaches the
// configured maximum.
type AgentInactive struct {
	Power           model.Power `json:"power"`
	MissedDeadlines int         `json:"missed_deadlines"`
}

// MessageSent records an in-game diplomacy message.
type MessageSent struct {
	Sender    model.Power `json:"sender"`
	Recipient model.Power `json:"recipient,omitempty"`
	ChannelID string      `json:"channel_id"`
	Preview   string      `json:"preview"`
}

// Error surfaces an asynchronous failure on the bus.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
