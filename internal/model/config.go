package model

import (
	"encoding/json"
	"time"
)

// OrchestratorConfig controls phase durations, nudges, and timeout behavior.
// Durations serialize as millisecond integers, see configJSON.
type OrchestratorConfig struct {
	DiplomacyPhaseDuration time.Duration
	MovementPhaseDuration  time.Duration
	RetreatPhaseDuration   time.Duration
	BuildPhaseDuration     time.Duration
	NudgeBeforeDeadline    time.Duration
	MaxMissedDeadlines     int
	AutoHoldOnTimeout      bool
	AutoResolveOnComplete  bool
	MinPhaseDuration       time.Duration
}

// configJSON is the wire form: durations as millisecond integers.
type configJSON struct {
	DiplomacyPhaseDuration int64 `json:"diplomacy_phase_duration_ms"`
	MovementPhaseDuration  int64 `json:"movement_phase_duration_ms"`
	RetreatPhaseDuration   int64 `json:"retreat_phase_duration_ms"`
	BuildPhaseDuration     int64 `json:"build_phase_duration_ms"`
	NudgeBeforeDeadline    int64 `json:"nudge_before_deadline_ms"`
	MaxMissedDeadlines     int   `json:"max_missed_deadlines"`
	AutoHoldOnTimeout      bool  `json:"auto_hold_on_timeout"`
	AutoResolveOnComplete  bool  `json:"auto_resolve_on_complete"`
	MinPhaseDuration       int64 `json:"min_phase_duration_ms"`
}

func (c OrchestratorConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(configJSON{
		DiplomacyPhaseDuration: c.DiplomacyPhaseDuration.Milliseconds(),
		MovementPhaseDuration:  c.MovementPhaseDuration.Milliseconds(),
		RetreatPhaseDuration:   c.RetreatPhaseDuration.Milliseconds(),
		BuildPhaseDuration:     c.BuildPhaseDuration.Milliseconds(),
		NudgeBeforeDeadline:    c.NudgeBeforeDeadline.Milliseconds(),
		MaxMissedDeadlines:     c.MaxMissedDeadlines,
		AutoHoldOnTimeout:      c.AutoHoldOnTimeout,
		AutoResolveOnComplete:  c.AutoResolveOnComplete,
		MinPhaseDuration:       c.MinPhaseDuration.Milliseconds(),
	})
}

func (c *OrchestratorConfig) UnmarshalJSON(data []byte) error {
	var j configJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*c = OrchestratorConfig{
		DiplomacyPhaseDuration: time.Duration(j.DiplomacyPhaseDuration) * time.Millisecond,
		MovementPhaseDuration:  time.Duration(j.MovementPhaseDuration) * time.Millisecond,
		RetreatPhaseDuration:   time.Duration(j.RetreatPhaseDuration) * time.Millisecond,
		BuildPhaseDuration:     time.Duration(j.BuildPhaseDuration) * time.Millisecond,
		NudgeBeforeDeadline:    time.Duration(j.NudgeBeforeDeadline) * time.Millisecond,
		MaxMissedDeadlines:     j.MaxMissedDeadlines,
		AutoHoldOnTimeout:      j.AutoHoldOnTimeout,
		AutoResolveOnComplete:  j.AutoResolveOnComplete,
		MinPhaseDuration:       time.Duration(j.MinPhaseDuration) * time.Millisecond,
	}
	return nil
}

// DefaultOrchestratorConfig returns the standard timing profile.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		DiplomacyPhaseDuration: 300 * time.Second,
		MovementPhaseDuration:  120 * time.Second,
		RetreatPhaseDuration:   60 * time.Second,
		BuildPhaseDuration:     60 * time.Second,
		NudgeBeforeDeadline:    30 * time.Second,
		MaxMissedDeadlines:     3,
		AutoHoldOnTimeout:      true,
		AutoResolveOnComplete:  true,
		MinPhaseDuration:       time.Second,
	}
}

// PhaseDuration returns the configured duration for a phase type.
func (c OrchestratorConfig) PhaseDuration(phase PhaseType) time.Duration {
	switch phase {
	case PhaseMovement:
		return c.MovementPhaseDuration
	case PhaseRetreat:
		return c.RetreatPhaseDuration
	case PhaseBuild:
		return c.BuildPhaseDuration
	default:
		return c.DiplomacyPhaseDuration
	}
}

// ConfigPatch is a partial update applied to an OrchestratorConfig.
// Nil fields leave the current value unchanged.
type ConfigPatch struct {
	DiplomacyPhaseDuration *time.Duration
	MovementPhaseDuration  *time.Duration
	RetreatPhaseDuration   *time.Duration
	BuildPhaseDuration     *time.Duration
	NudgeBeforeDeadline    *time.Duration
	MaxMissedDeadlines     *int
	AutoHoldOnTimeout      *bool
	AutoResolveOnComplete  *bool
	MinPhaseDuration       *time.Duration
}

// Apply returns a copy of c with the patch's non-nil fields applied.
func (p ConfigPatch) Apply(c OrchestratorConfig) OrchestratorConfig {
	if p.DiplomacyPhaseDuration != nil {
		c.DiplomacyPhaseDuration = *p.DiplomacyPhaseDuration
	}
	if p.MovementPhaseDuration != nil {
		c.MovementPhaseDuration = *p.MovementPhaseDuration
	}
	if p.RetreatPhaseDuration != nil {
		c.RetreatPhaseDuration = *p.RetreatPhaseDuration
	}
	if p.BuildPhaseDuration != nil {
		c.BuildPhaseDuration = *p.BuildPhaseDuration
	}
	if p.NudgeBeforeDeadline != nil {
		c.NudgeBeforeDeadline = *p.NudgeBeforeDeadline
	}
	if p.MaxMissedDeadlines != nil {
		c.MaxMissedDeadlines = *p.MaxMissedDeadlines
	}
	if p.AutoHoldOnTimeout != nil {
		c.AutoHoldOnTimeout = *p.AutoHoldOnTimeout
	}
	if p.AutoResolveOnComplete != nil {
		c.AutoResolveOnComplete = *p.AutoResolveOnComplete
	}
	if p.MinPhaseDuration != nil {
		c.MinPhaseDuration = *p.MinPhaseDuration
	}
	return c
}
