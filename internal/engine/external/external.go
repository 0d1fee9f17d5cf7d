// Package external adapts a standalone adjudicator binary to the engine
// capability interface. Each call execs the binary with a JSON request on
// stdin and reads the resulting state from stdout; the runner never
// adjudicates anything itself.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/concertlabs/concert/internal/engine"
	"github.com/concertlabs/concert/internal/model"
)

// callTimeout bounds one adjudicator invocation.
const callTimeout = 30 * time.Second

// Engine shells out to an adjudicator binary.
type Engine struct {
	path    string
	timeout time.Duration
}

// New verifies the binary exists and returns the adapter.
func New(path string) (*Engine, error) {
	if path == "" {
		return nil, errors.New("engine path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("engine binary: %w", err)
	}
	return &Engine{path: path, timeout: callTimeout}, nil
}

type request struct {
	Op       string                 `json:"op"`
	State    *engine.State          `json:"state,omitempty"`
	Power    model.Power            `json:"power,omitempty"`
	Movement []engine.MovementOrder `json:"movement,omitempty"`
	Retreats []engine.RetreatOrder  `json:"retreats,omitempty"`
	Builds   []engine.BuildOrder    `json:"builds,omitempty"`
}

type response struct {
	State      *engine.State      `json:"state,omitempty"`
	Resolution *engine.Resolution `json:"resolution,omitempty"`
	Error      string             `json:"error,omitempty"`
}

func (e *Engine) call(req request) (*response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.path)
	cmd.Stdin = bytes.NewReader(body)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("engine %s: %w (stderr: %s)", req.Op, err, errOut.String())
	}

	var resp response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	return &resp, nil
}

// InitialState returns the standard 1901 opening. The opening is static
// data, so no engine call is needed.
func (e *Engine) InitialState() *engine.State {
	return OpeningState()
}

func (e *Engine) submit(op string, st *engine.State, req request) error {
	req.Op = op
	req.State = st
	resp, err := e.call(req)
	if err != nil {
		return err
	}
	if resp.State == nil {
		return fmt.Errorf("engine %s returned no state", op)
	}
	*st = *resp.State
	return nil
}

// SubmitMovement validates and stages movement orders.
func (e *Engine) SubmitMovement(st *engine.State, power model.Power, orders []engine.MovementOrder) error {
	return e.submit("submit_movement", st, request{Power: power, Movement: orders})
}

// SubmitRetreat validates and stages retreat orders.
func (e *Engine) SubmitRetreat(st *engine.State, power model.Power, orders []engine.RetreatOrder) error {
	return e.submit("submit_retreat", st, request{Power: power, Retreats: orders})
}

// SubmitBuild validates and stages build orders.
func (e *Engine) SubmitBuild(st *engine.State, power model.Power, orders []engine.BuildOrder) error {
	return e.submit("submit_build", st, request{Power: power, Builds: orders})
}

func (e *Engine) resolve(op string, st *engine.State) (*engine.Resolution, error) {
	resp, err := e.call(request{Op: op, State: st})
	if err != nil {
		return nil, err
	}
	if resp.State == nil || resp.Resolution == nil {
		return nil, fmt.Errorf("engine %s returned incomplete response", op)
	}
	*st = *resp.State
	return resp.Resolution, nil
}

// ResolveMovement adjudicates the staged movement orders.
func (e *Engine) ResolveMovement(st *engine.State) (*engine.Resolution, error) {
	return e.resolve("resolve_movement", st)
}

// ResolveRetreats adjudicates the staged retreat orders.
func (e *Engine) ResolveRetreats(st *engine.State) (*engine.Resolution, error) {
	return e.resolve("resolve_retreats", st)
}

// ResolveBuilds applies the staged build orders.
func (e *Engine) ResolveBuilds(st *engine.State) (*engine.Resolution, error) {
	return e.resolve("resolve_builds", st)
}

// Clone deep copies a state through its JSON form.
func (e *Engine) Clone(st *engine.State) *engine.State {
	data, err := json.Marshal(st)
	if err != nil {
		log.Error().Err(err).Msg("State clone encode failed")
		return nil
	}
	var cp engine.State
	if err := json.Unmarshal(data, &cp); err != nil {
		log.Error().Err(err).Msg("State clone decode failed")
		return nil
	}
	return &cp
}
