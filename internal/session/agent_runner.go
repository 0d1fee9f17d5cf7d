package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/concertlabs/concert/internal/engine"
	"github.com/concertlabs/concert/internal/event"
	"github.com/concertlabs/concert/internal/llm"
	"github.com/concertlabs/concert/internal/model"
)

// ParseFunc turns raw model output into movement orders for one power.
type ParseFunc func(content string, units []engine.Unit) ([]engine.MovementOrder, error)

// RunnerConfig selects the model profile used for all seven powers.
type RunnerConfig struct {
	Model       string
	MaxTokens   int64
	Temperature float64
}

// Runner plays every registered agent of a session through the LLM retry
// driver. Order generation runs concurrently per power; submissions go
// through the normal session path. After driver exhaustion the power falls
// back to its default orders so the phase always makes progress.
type Runner struct {
	session *Session
	driver  *llm.Driver
	cfg     RunnerConfig
	parse   ParseFunc

	wg     sync.WaitGroup
	detach func()
}

// NewRunner wires a runner to a session. parse may be nil to use the
// line-oriented default.
func NewRunner(s *Session, driver *llm.Driver, cfg RunnerConfig, parse ParseFunc) *Runner {
	if parse == nil {
		parse = ParseMovementOrders
	}
	return &Runner{session: s, driver: driver, cfg: cfg, parse: parse}
}

// Start subscribes the runner to the session bus. Each PHASE_STARTED fans
// out one goroutine per active power.
func (r *Runner) Start(ctx context.Context) {
	r.detach = r.session.OnEvent(func(e event.Event) {
		if e.Type != event.TypePhaseStarted {
			return
		}
		p, ok := e.Payload.(event.PhaseStarted)
		if !ok {
			return
		}
		for _, power := range p.ActivePowers {
			if _, registered := r.session.Agent(power); !registered {
				continue
			}
			r.wg.Add(1)
			go func(power model.Power, phase model.PhaseType) {
				defer r.wg.Done()
				r.playPower(ctx, power, phase)
			}(power, p.Phase)
		}
	})
}

// Stop unsubscribes and waits for in-flight agent work.
func (r *Runner) Stop() {
	if r.detach != nil {
		r.detach()
	}
	r.wg.Wait()
}

// playPower produces and submits one power's orders for the phase. Retreat
// and build phases use default orders; movement phases consult the model.
func (r *Runner) playPower(ctx context.Context, power model.Power, phase model.PhaseType) {
	if phase == model.PhaseRetreat || phase == model.PhaseBuild {
		if err := r.session.SubmitDefaultOrders(power); err != nil {
			log.Warn().Err(err).Str("gameId", r.session.ID()).Str("power", string(power)).
				Msg("Default order submission failed")
		}
		return
	}

	st := r.session.State()
	if st == nil {
		return
	}
	units := st.UnitsOf(power)

	completion, err := r.driver.Complete(ctx, llm.Params{
		Model:       r.cfg.Model,
		System:      systemPrompt(power),
		Messages:    []llm.Message{{Role: "user", Content: boardPrompt(st, power)}},
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
	})
	if err == nil {
		orders, perr := r.parse(completion.Content, units)
		if perr == nil {
			if serr := r.session.SubmitMovementOrders(power, orders); serr == nil {
				return
			}
		} else {
			log.Warn().Err(perr).Str("power", string(power)).Msg("Unparseable model orders")
		}
	} else {
		log.Warn().Err(err).Str("power", string(power)).Msg("Completion exhausted")
	}

	if err := r.session.SubmitDefaultOrders(power); err != nil {
		log.Warn().Err(err).Str("gameId", r.session.ID()).Str("power", string(power)).
			Msg("Fallback default submission failed")
	}
}

func systemPrompt(power model.Power) string {
	return fmt.Sprintf(
		"You are the %s player in a game of Diplomacy. "+
			"Reply with one order per line in the form: "+
			"<province> hold | <province> move <target> | "+
			"<province> support <province> <target> | <province> convoy <province> <target>. "+
			"Issue exactly one order per unit you own.", power)
}

func boardPrompt(st *engine.State, power model.Power) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %d, %s phase.\n", st.Season, st.Year, st.Phase)
	fmt.Fprintf(&sb, "Your units (%s):\n", power)
	for _, u := range st.UnitsOf(power) {
		fmt.Fprintf(&sb, "  %s %s\n", u.Type, u.Province)
	}
	sb.WriteString("Other units:\n")
	for _, u := range st.Units {
		if u.Power != power {
			fmt.Fprintf(&sb, "  %s %s %s\n", u.Power, u.Type, u.Province)
		}
	}
	sb.WriteString("Submit your orders.")
	return sb.String()
}

// ParseMovementOrders reads one order per line. Lines that do not reference
// one of the power's units are skipped; a response with no usable order is
// an error so the caller falls back to defaults.
func ParseMovementOrders(content string, units []engine.Unit) ([]engine.MovementOrder, error) {
	byProvince := make(map[string]engine.Unit, len(units))
	for _, u := range units {
		byProvince[strings.ToUpper(u.Province)] = u
	}

	var orders []engine.MovementOrder
	seen := make(map[string]bool)
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 2 {
			continue
		}
		loc := strings.ToUpper(fields[0])
		unit, ok := byProvince[loc]
		if !ok || seen[loc] {
			continue
		}

		order := engine.MovementOrder{
			UnitType: unit.Type,
			Location: unit.Province,
			Coast:    unit.Coast,
		}
		switch strings.ToLower(fields[1]) {
		case "hold":
			order.Type = "hold"
		case "move":
			if len(fields) < 3 {
				continue
			}
			order.Type = "move"
			order.Target = strings.ToUpper(fields[2])
		case "support":
			if len(fields) < 4 {
				continue
			}
			order.Type = "support"
			order.AuxLoc = strings.ToUpper(fields[2])
			order.AuxTarget = strings.ToUpper(fields[3])
		case "convoy":
			if len(fields) < 4 {
				continue
			}
			order.Type = "convoy"
			order.AuxLoc = strings.ToUpper(fields[2])
			order.AuxTarget = strings.ToUpper(fields[3])
		default:
			continue
		}
		orders = append(orders, order)
		seen[loc] = true
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("no usable orders in %d-byte response", len(content))
	}
	return orders, nil
}
