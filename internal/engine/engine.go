// Package engine defines the narrow capability interface through which the
// match runner consumes a Diplomacy rules engine. The runner never adjudicates
// anything itself; it submits orders, asks for resolution, and reads the
// resulting state.
package engine

import "github.com/concertlabs/concert/internal/model"

// Unit is a single army or fleet on the board.
type Unit struct {
	Type     string      `json:"type"` // "army" or "fleet"
	Power    model.Power `json:"power"`
	Province string      `json:"province"`
	Coast    string      `json:"coast,omitempty"`
}

// DislodgedUnit is a unit awaiting retreat or disband.
type DislodgedUnit struct {
	Unit          Unit     `json:"unit"`
	DislodgedFrom string   `json:"dislodged_from"`
	Retreats      []string `json:"retreats,omitempty"`
}

// State is the board position plus turn bookkeeping. The runner treats it as
// opaque except for the read helpers below; only engine calls mutate it.
type State struct {
	Year          int                   `json:"year"`
	Season        model.Season          `json:"season"`
	Phase         model.PhaseType       `json:"phase"`
	Units         []Unit                `json:"units"`
	Dislodged     []DislodgedUnit       `json:"dislodged,omitempty"`
	PendingBuilds map[model.Power]int   `json:"pending_builds,omitempty"`
	SupplyCenters map[string]model.Power `json:"supply_centers"`
}

// UnitsOf returns the units owned by a power, in engine order.
func (s *State) UnitsOf(p model.Power) []Unit {
	var units []Unit
	for _, u := range s.Units {
		if u.Power == p {
			units = append(units, u)
		}
	}
	return units
}

// DislodgedOf returns the dislodged units of a power.
func (s *State) DislodgedOf(p model.Power) []DislodgedUnit {
	var out []DislodgedUnit
	for _, d := range s.Dislodged {
		if d.Unit.Power == p {
			out = append(out, d)
		}
	}
	return out
}

// SupplyCount returns the number of supply centers a power owns.
func (s *State) SupplyCount(p model.Power) int {
	n := 0
	for _, owner := range s.SupplyCenters {
		if owner == p {
			n++
		}
	}
	return n
}

// PowerIsAlive reports whether a power still has units or supply centers.
func (s *State) PowerIsAlive(p model.Power) bool {
	return len(s.UnitsOf(p)) > 0 || s.SupplyCount(p) > 0
}

// MovementOrder is one movement-phase order. Type is one of
// "hold", "move", "support", "convoy".
type MovementOrder struct {
	UnitType  string `json:"unit_type"`
	Location  string `json:"location"`
	Coast     string `json:"coast,omitempty"`
	Type      string `json:"type"`
	Target    string `json:"target,omitempty"`
	AuxLoc    string `json:"aux_loc,omitempty"`
	AuxTarget string `json:"aux_target,omitempty"`
}

// RetreatOrder places or disbands a dislodged unit. Empty Target means
// disband.
type RetreatOrder struct {
	Location string `json:"location"`
	Target   string `json:"target,omitempty"`
}

// BuildOrder adds or removes a unit during the build phase. Type is one of
// "build", "disband", "waive".
type BuildOrder struct {
	Type     string `json:"type"`
	UnitType string `json:"unit_type,omitempty"`
	Location string `json:"location,omitempty"`
	Coast    string `json:"coast,omitempty"`
}

// Resolution reports counts from one engine resolution pass. Supply center
// diffs are computed by the caller from the state before and after.
type Resolution struct {
	SuccessfulMoves int
	FailedMoves     int
	DislodgedUnits  int
	UnitsBuilt      int
	UnitsDisbanded  int
}

// Engine is the rules-engine capability set. Implementations must be
// deterministic on valid state; errors indicate invalid orders or corrupt
// state, never transient conditions. Resolvers mutate the state in place and
// advance it to the next phase.
type Engine interface {
	InitialState() *State
	SubmitMovement(st *State, power model.Power, orders []MovementOrder) error
	SubmitRetreat(st *State, power model.Power, orders []RetreatOrder) error
	SubmitBuild(st *State, power model.Power, orders []BuildOrder) error
	ResolveMovement(st *State) (*Resolution, error)
	ResolveRetreats(st *State) (*Resolution, error)
	ResolveBuilds(st *State) (*Resolution, error)
	Clone(st *State) *State
}
