// Package enginetest provides a deterministic in-memory rules engine for
// tests. Adjudication is deliberately naive: a move succeeds when its target
// is empty and uncontested, and dislodgement only happens on provinces the
// test marked with DislodgeOn. Phase advancement follows the real calendar.
package enginetest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/concertlabs/concert/internal/engine"
	"github.com/concertlabs/concert/internal/model"
)

// supplyProvinces is the set of capturable centers: home centers plus the
// neutral ones.
var supplyProvinces = map[string]bool{
	"LON": true, "EDI": true, "LVP": true,
	"PAR": true, "MAR": true, "BRE": true,
	"BER": true, "MUN": true, "KIE": true,
	"ROM": true, "VEN": true, "NAP": true,
	"VIE": true, "BUD": true, "TRI": true,
	"MOS": true, "WAR": true, "SEV": true, "STP": true,
	"CON": true, "SMY": true, "ANK": true,
	"BEL": true, "HOL": true, "SPA": true, "POR": true,
	"TUN": true, "SER": true, "RUM": true, "BUL": true,
	"GRE": true, "DEN": true, "SWE": true, "NOR": true,
}

type pendingOrders struct {
	movement map[model.Power][]engine.MovementOrder
	retreats map[model.Power][]engine.RetreatOrder
	builds   map[model.Power][]engine.BuildOrder
}

// Engine is the fake. Zero value is usable.
type Engine struct {
	mu     sync.Mutex
	orders map[*engine.State]*pendingOrders

	// DislodgeOn lets a test force dislodgement: a move into one of these
	// provinces succeeds and dislodges the occupant instead of bouncing.
	DislodgeOn map[string]bool

	// FailSubmit and FailResolve, when set, are returned by every submit or
	// resolve call.
	FailSubmit  error
	FailResolve error
}

// New returns an empty fake engine.
func New() *Engine {
	return &Engine{orders: make(map[*engine.State]*pendingOrders)}
}

// InitialState returns the standard 1901 opening position.
func (e *Engine) InitialState() *engine.State {
	st := &engine.State{
		Year:          1901,
		Season:        model.Spring,
		Phase:         model.PhaseDiplomacy,
		SupplyCenters: make(map[string]model.Power),
	}
	add := func(p model.Power, typ, prov, coast string) {
		st.Units = append(st.Units, engine.Unit{Type: typ, Power: p, Province: prov, Coast: coast})
	}
	add(model.England, "fleet", "LON", "")
	add(model.England, "fleet", "EDI", "")
	add(model.England, "army", "LVP", "")
	add(model.France, "army", "PAR", "")
	add(model.France, "army", "MAR", "")
	add(model.France, "fleet", "BRE", "")
	add(model.Germany, "army", "BER", "")
	add(model.Germany, "army", "MUN", "")
	add(model.Germany, "fleet", "KIE", "")
	add(model.Italy, "army", "ROM", "")
	add(model.Italy, "army", "VEN", "")
	add(model.Italy, "fleet", "NAP", "")
	add(model.Austria, "army", "VIE", "")
	add(model.Austria, "army", "BUD", "")
	add(model.Austria, "fleet", "TRI", "")
	add(model.Russia, "army", "MOS", "")
	add(model.Russia, "army", "WAR", "")
	add(model.Russia, "fleet", "SEV", "")
	add(model.Russia, "fleet", "STP", "sc")
	add(model.Turkey, "army", "CON", "")
	add(model.Turkey, "army", "SMY", "")
	add(model.Turkey, "fleet", "ANK", "")
	for _, u := range st.Units {
		st.SupplyCenters[u.Province] = u.Power
	}
	return st
}

func (e *Engine) pending(st *engine.State) *pendingOrders {
	p, ok := e.orders[st]
	if !ok {
		p = &pendingOrders{
			movement: make(map[model.Power][]engine.MovementOrder),
			retreats: make(map[model.Power][]engine.RetreatOrder),
			builds:   make(map[model.Power][]engine.BuildOrder),
		}
		e.orders[st] = p
	}
	return p
}

// SubmitMovement stores orders after checking each references a unit of the
// power. Resubmission replaces the previous set.
func (e *Engine) SubmitMovement(st *engine.State, power model.Power, orders []engine.MovementOrder) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailSubmit != nil {
		return e.FailSubmit
	}
	for _, o := range orders {
		if !hasUnit(st, power, o.Location) {
			return fmt.Errorf("no %s unit at %s", power, o.Location)
		}
	}
	e.pending(st).movement[power] = orders
	return nil
}

// SubmitRetreat stores retreat orders after checking each references a
// dislodged unit of the power.
func (e *Engine) SubmitRetreat(st *engine.State, power model.Power, orders []engine.RetreatOrder) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailSubmit != nil {
		return e.FailSubmit
	}
	for _, o := range orders {
		found := false
		for _, d := range st.DislodgedOf(power) {
			if d.DislodgedFrom == o.Location {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("no dislodged %s unit at %s", power, o.Location)
		}
	}
	e.pending(st).retreats[power] = orders
	return nil
}

// SubmitBuild stores build-phase orders. Build counts beyond the power's
// pending adjustment are rejected.
func (e *Engine) SubmitBuild(st *engine.State, power model.Power, orders []engine.BuildOrder) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailSubmit != nil {
		return e.FailSubmit
	}
	builds := 0
	for _, o := range orders {
		if o.Type == "build" {
			builds++
		}
	}
	if n := st.PendingBuilds[power]; builds > 0 && builds > n {
		return errors.New("more builds than adjustment allows")
	}
	e.pending(st).builds[power] = orders
	return nil
}

// ResolveMovement applies stored movement orders. Units with no order hold.
func (e *Engine) ResolveMovement(st *engine.State) (*engine.Resolution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailResolve != nil {
		return nil, e.FailResolve
	}

	p := e.pending(st)
	res := &engine.Resolution{}

	type move struct {
		unitIdx int
		target  string
	}
	occupied := make(map[string]int, len(st.Units))
	for i, u := range st.Units {
		occupied[u.Province] = i
	}

	var moves []move
	targets := make(map[string]int)
	moving := make(map[int]bool)
	for power, orders := range p.movement {
		for _, o := range orders {
			if o.Type != "move" {
				continue
			}
			idx, ok := occupied[o.Location]
			if !ok || st.Units[idx].Power != power {
				continue
			}
			moves = append(moves, move{unitIdx: idx, target: o.Target})
			targets[o.Target]++
			moving[idx] = true
		}
	}

	var dislodged []engine.DislodgedUnit
	for _, m := range moves {
		if targets[m.target] > 1 {
			res.FailedMoves++
			continue
		}
		if occIdx, occ := occupied[m.target]; occ && !moving[occIdx] {
			if e.DislodgeOn[m.target] {
				u := st.Units[occIdx]
				dislodged = append(dislodged, engine.DislodgedUnit{
					Unit:          u,
					DislodgedFrom: u.Province,
				})
				st.Units[occIdx].Province = "" // removed below
				res.DislodgedUnits++
			} else {
				res.FailedMoves++
				continue
			}
		}
		st.Units[m.unitIdx].Province = m.target
		st.Units[m.unitIdx].Coast = ""
		res.SuccessfulMoves++
	}

	kept := st.Units[:0]
	for _, u := range st.Units {
		if u.Province != "" {
			kept = append(kept, u)
		}
	}
	st.Units = kept
	st.Dislodged = dislodged

	delete(e.orders, st)
	if len(dislodged) > 0 {
		st.Phase = model.PhaseRetreat
		return res, nil
	}
	e.advanceAfterMovement(st)
	return res, nil
}

// ResolveRetreats applies stored retreat orders; dislodged units with no
// order, or whose retreat target is occupied, disband.
func (e *Engine) ResolveRetreats(st *engine.State) (*engine.Resolution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailResolve != nil {
		return nil, e.FailResolve
	}

	p := e.pending(st)
	res := &engine.Resolution{}
	occupied := make(map[string]bool, len(st.Units))
	for _, u := range st.Units {
		occupied[u.Province] = true
	}

	for _, d := range st.Dislodged {
		target := ""
		for _, o := range p.retreats[d.Unit.Power] {
			if o.Location == d.DislodgedFrom {
				target = o.Target
				break
			}
		}
		if target == "" || occupied[target] {
			res.UnitsDisbanded++
			continue
		}
		u := d.Unit
		u.Province = target
		st.Units = append(st.Units, u)
		occupied[target] = true
		res.SuccessfulMoves++
	}
	st.Dislodged = nil

	delete(e.orders, st)
	e.advanceAfterMovement(st)
	return res, nil
}

// ResolveBuilds applies stored build orders and advances to the next spring.
func (e *Engine) ResolveBuilds(st *engine.State) (*engine.Resolution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailResolve != nil {
		return nil, e.FailResolve
	}

	p := e.pending(st)
	res := &engine.Resolution{}
	for power, orders := range p.builds {
		for _, o := range orders {
			switch o.Type {
			case "build":
				st.Units = append(st.Units, engine.Unit{
					Type:     o.UnitType,
					Power:    power,
					Province: o.Location,
					Coast:    o.Coast,
				})
				res.UnitsBuilt++
			case "disband":
				for i, u := range st.Units {
					if u.Power == power && u.Province == o.Location {
						st.Units = append(st.Units[:i], st.Units[i+1:]...)
						res.UnitsDisbanded++
						break
					}
				}
			}
		}
	}

	st.PendingBuilds = nil
	delete(e.orders, st)
	st.Year++
	st.Season = model.Spring
	st.Phase = model.PhaseDiplomacy
	return res, nil
}

// advanceAfterMovement moves the calendar forward after a movement (or the
// retreat that followed it). Fall resolutions capture supply centers and may
// open a build phase.
func (e *Engine) advanceAfterMovement(st *engine.State) {
	if st.Season == model.Spring {
		st.Season = model.Fall
		st.Phase = model.PhaseDiplomacy
		return
	}

	for _, u := range st.Units {
		if supplyProvinces[u.Province] {
			st.SupplyCenters[u.Province] = u.Power
		}
	}

	pending := make(map[model.Power]int)
	for _, p := range model.AllPowers {
		if diff := st.SupplyCount(p) - len(st.UnitsOf(p)); diff != 0 && st.PowerIsAlive(p) {
			pending[p] = diff
		}
	}
	if len(pending) > 0 {
		st.PendingBuilds = pending
		st.Phase = model.PhaseBuild
		return
	}
	st.Year++
	st.Season = model.Spring
	st.Phase = model.PhaseDiplomacy
}

// Clone deep-copies a state.
func (e *Engine) Clone(st *engine.State) *engine.State {
	cp := *st
	cp.Units = append([]engine.Unit(nil), st.Units...)
	cp.Dislodged = append([]engine.DislodgedUnit(nil), st.Dislodged...)
	if st.PendingBuilds != nil {
		cp.PendingBuilds = make(map[model.Power]int, len(st.PendingBuilds))
		for k, v := range st.PendingBuilds {
			cp.PendingBuilds[k] = v
		}
	}
	cp.SupplyCenters = make(map[string]model.Power, len(st.SupplyCenters))
	for k, v := range st.SupplyCenters {
		cp.SupplyCenters[k] = v
	}
	return &cp
}

func hasUnit(st *engine.State, power model.Power, province string) bool {
	for _, u := range st.Units {
		if u.Power == power && u.Province == province {
			return true
		}
	}
	return false
}
