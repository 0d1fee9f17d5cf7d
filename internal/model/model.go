// Package model defines the closed vocabulary of the match runner: powers,
// seasons, phases, game status, and the bookkeeping records shared by the
// orchestrator and session layers. Unknown strings are rejected at parse time.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Power is one of the seven fixed nation identifiers.
type Power string

const (
	England Power = "ENGLAND"
	France  Power = "FRANCE"
	Germany Power = "GERMANY"
	Italy   Power = "ITALY"
	Austria Power = "AUSTRIA"
	Russia  Power = "RUSSIA"
	Turkey  Power = "TURKEY"
)

// AllPowers lists the seven powers in canonical order.
var AllPowers = []Power{England, France, Germany, Italy, Austria, Russia, Turkey}

// ParsePower validates a string against the closed power set.
func ParsePower(s string) (Power, error) {
	p := Power(strings.ToUpper(s))
	for _, known := range AllPowers {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown power %q", s)
}

// Season is SPRING or FALL.
type Season string

const (
	Spring Season = "SPRING"
	Fall   Season = "FALL"
)

// PhaseType is the stage of a game turn.
type PhaseType string

const (
	PhaseDiplomacy PhaseType = "DIPLOMACY"
	PhaseMovement  PhaseType = "MOVEMENT"
	PhaseRetreat   PhaseType = "RETREAT"
	PhaseBuild     PhaseType = "BUILD"
)

// GameStatus is the session lifecycle state.
type GameStatus string

const (
	StatusPending   GameStatus = "PENDING"
	StatusActive    GameStatus = "ACTIVE"
	StatusPaused    GameStatus = "PAUSED"
	StatusCompleted GameStatus = "COMPLETED"
	StatusAbandoned GameStatus = "ABANDONED"
)

// Ended reports whether the status is terminal.
func (s GameStatus) Ended() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// AgentHandle tracks an agent bound to a power. Mutated only by the
// orchestrator on submission, timeout, or an explicit activity mark.
type AgentHandle struct {
	Power           Power     `json:"power"`
	AgentID         string    `json:"agent_id"`
	IsResponsive    bool      `json:"is_responsive"`
	LastActivity    time.Time `json:"last_activity"`
	MissedDeadlines int       `json:"missed_deadlines"`
}

// SubmissionStatus records one power's progress in the current phase.
// Created on phase start, destroyed on phase end.
type SubmissionStatus struct {
	Power       Power      `json:"power"`
	Submitted   bool       `json:"submitted"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	OrderCount  int        `json:"order_count"`
}

// PhaseStatus is the live per-phase bookkeeping. Non-nil while a phase is
// in progress, nil between phases and after the game ends.
type PhaseStatus struct {
	Year        int                `json:"year"`
	Season      Season             `json:"season"`
	Phase       PhaseType          `json:"phase"`
	Deadline    time.Time          `json:"deadline"`
	StartedAt   time.Time          `json:"started_at"`
	Submissions []SubmissionStatus `json:"submissions"`
	NudgeSent   bool               `json:"nudge_sent"`
	// DeadlineHandled latches once timeout processing runs so the deadline
	// is handled at most once per phase instance.
	DeadlineHandled bool `json:"deadline_handled"`
}

// Submission returns the submission record for a power, or nil if the power
// is not active this phase.
func (ps *PhaseStatus) Submission(p Power) *SubmissionStatus {
	for i := range ps.Submissions {
		if ps.Submissions[i].Power == p {
			return &ps.Submissions[i]
		}
	}
	return nil
}

// PendingPowers returns the active powers that have not submitted.
func (ps *PhaseStatus) PendingPowers() []Power {
	var pending []Power
	for _, sub := range ps.Submissions {
		if !sub.Submitted {
			pending = append(pending, sub.Power)
		}
	}
	return pending
}

// AllSubmitted reports whether every active power has submitted.
func (ps *PhaseStatus) AllSubmitted() bool {
	for _, sub := range ps.Submissions {
		if !sub.Submitted {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so callers cannot mutate live bookkeeping.
func (ps *PhaseStatus) Clone() *PhaseStatus {
	if ps == nil {
		return nil
	}
	cp := *ps
	cp.Submissions = make([]SubmissionStatus, len(ps.Submissions))
	copy(cp.Submissions, ps.Submissions)
	return &cp
}

// SupplyChange records one supply center changing hands during resolution.
type SupplyChange struct {
	Province string `json:"province"`
	From     Power  `json:"from,omitempty"`
	To       Power  `json:"to,omitempty"`
}

// ResolutionSummary is the outcome of resolving one phase.
type ResolutionSummary struct {
	SuccessfulMoves int            `json:"successful_moves"`
	FailedMoves     int            `json:"failed_moves"`
	DislodgedUnits  int            `json:"dislodged_units"`
	UnitsBuilt      int            `json:"units_built"`
	UnitsDisbanded  int            `json:"units_disbanded"`
	SupplyChanges   []SupplyChange `json:"supply_changes"`
}

// Message is an in-game diplomacy message routed between powers.
// Empty Recipient means a public broadcast.
type Message struct {
	ID        string    `json:"id"`
	GameID    string    `json:"game_id"`
	Sender    Power     `json:"sender"`
	Recipient Power     `json:"recipient,omitempty"`
	ChannelID string    `json:"channel_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
