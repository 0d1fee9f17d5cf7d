package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/concertlabs/concert/internal/engine"
	"github.com/concertlabs/concert/internal/model"
	"github.com/concertlabs/concert/internal/session"
)

// GameHandler handles game lifecycle and order endpoints.
type GameHandler struct {
	registry *session.Registry
}

// NewGameHandler creates a GameHandler.
func NewGameHandler(registry *session.Registry) *GameHandler {
	return &GameHandler{registry: registry}
}

// gameSummary is the list/detail projection of a session.
type gameSummary struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Status    model.GameStatus   `json:"status"`
	Phase     *model.PhaseStatus `json:"phase,omitempty"`
	Agents    int                `json:"agents"`
	CreatedAt time.Time          `json:"created_at"`
}

func summarize(s *session.Session) gameSummary {
	return gameSummary{
		ID:        s.ID(),
		Name:      s.Name(),
		Status:    s.Status(),
		Phase:     s.PhaseStatus(),
		Agents:    len(s.Agents()),
		CreatedAt: s.CreatedAt(),
	}
}

// configPatchRequest carries optional overrides, durations as Go strings
// such as "5m" or "90s".
type configPatchRequest struct {
	DiplomacyPhaseDuration *string `json:"diplomacy_phase_duration,omitempty"`
	MovementPhaseDuration  *string `json:"movement_phase_duration,omitempty"`
	RetreatPhaseDuration   *string `json:"retreat_phase_duration,omitempty"`
	BuildPhaseDuration     *string `json:"build_phase_duration,omitempty"`
	NudgeBeforeDeadline    *string `json:"nudge_before_deadline,omitempty"`
	MinPhaseDuration       *string `json:"min_phase_duration,omitempty"`
	MaxMissedDeadlines     *int    `json:"max_missed_deadlines,omitempty"`
	AutoHoldOnTimeout      *bool   `json:"auto_hold_on_timeout,omitempty"`
	AutoResolveOnComplete  *bool   `json:"auto_resolve_on_complete,omitempty"`
}

func (req configPatchRequest) toPatch() (model.ConfigPatch, error) {
	var patch model.ConfigPatch
	set := func(dst **time.Duration, src *string) error {
		if src == nil {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return err
		}
		*dst = &d
		return nil
	}
	if err := set(&patch.DiplomacyPhaseDuration, req.DiplomacyPhaseDuration); err != nil {
		return patch, err
	}
	if err := set(&patch.MovementPhaseDuration, req.MovementPhaseDuration); err != nil {
		return patch, err
	}
	if err := set(&patch.RetreatPhaseDuration, req.RetreatPhaseDuration); err != nil {
		return patch, err
	}
	if err := set(&patch.BuildPhaseDuration, req.BuildPhaseDuration); err != nil {
		return patch, err
	}
	if err := set(&patch.NudgeBeforeDeadline, req.NudgeBeforeDeadline); err != nil {
		return patch, err
	}
	if err := set(&patch.MinPhaseDuration, req.MinPhaseDuration); err != nil {
		return patch, err
	}
	patch.MaxMissedDeadlines = req.MaxMissedDeadlines
	patch.AutoHoldOnTimeout = req.AutoHoldOnTimeout
	patch.AutoResolveOnComplete = req.AutoResolveOnComplete
	return patch, nil
}

// CreateGame handles POST /api/v1/games
func (h *GameHandler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string             `json:"name"`
		Config configPatchRequest `json:"config"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	patch, err := req.Config.toPatch()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid duration: "+err.Error())
		return
	}

	s := h.registry.Create(req.Name, patch.Apply(model.DefaultOrchestratorConfig()))
	writeJSON(w, http.StatusCreated, summarize(s))
}

// ListGames handles GET /api/v1/games
func (h *GameHandler) ListGames(w http.ResponseWriter, r *http.Request) {
	sessions := h.registry.List()
	out := make([]gameSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, summarize(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *GameHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, ok := h.registry.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "game not found")
	}
	return s, ok
}

// GetGame handles GET /api/v1/games/{id}
func (h *GameHandler) GetGame(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, struct {
		gameSummary
		Config model.OrchestratorConfig `json:"config"`
		Agents []model.AgentHandle      `json:"agent_handles"`
	}{summarize(s), s.Config(), s.Agents()})
}

// GetState handles GET /api/v1/games/{id}/state
func (h *GameHandler) GetState(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	st := s.State()
	if st == nil {
		writeError(w, http.StatusConflict, "game has no board yet")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetEvents handles GET /api/v1/games/{id}/events
func (h *GameHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Events())
}

// lifecycleStatus maps session transition errors to HTTP statuses.
func lifecycleStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, session.ErrWrongPhase):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// StartGame handles POST /api/v1/games/{id}/start
func (h *GameHandler) StartGame(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := s.Start(); err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summarize(s))
}

// PauseGame handles POST /api/v1/games/{id}/pause
func (h *GameHandler) PauseGame(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	decodeJSON(r, &req)
	if err := s.Pause(req.Reason); err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summarize(s))
}

// ResumeGame handles POST /api/v1/games/{id}/resume
func (h *GameHandler) ResumeGame(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := s.Resume(); err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summarize(s))
}

// AbandonGame handles POST /api/v1/games/{id}/abandon
func (h *GameHandler) AbandonGame(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	decodeJSON(r, &req)
	if err := s.Abandon(req.Reason); err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summarize(s))
}

// DeleteGame handles DELETE /api/v1/games/{id}
func (h *GameHandler) DeleteGame(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if !s.Status().Ended() {
		writeError(w, http.StatusConflict, "game is still running")
		return
	}
	if err := h.registry.Remove(r.Context(), s.ID()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// UpdateConfig handles PATCH /api/v1/games/{id}/config
func (h *GameHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req configPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid duration: "+err.Error())
		return
	}
	s.UpdateConfig(patch)
	writeJSON(w, http.StatusOK, s.Config())
}

// ForceDeadline handles POST /api/v1/games/{id}/deadline/force
func (h *GameHandler) ForceDeadline(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := s.ForceDeadline(); err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deadline forced"})
}

// RegisterAgent handles POST /api/v1/games/{id}/agents
func (h *GameHandler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Power   string `json:"power"`
		AgentID string `json:"agent_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	power, err := model.ParsePower(req.Power)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	s.RegisterAgent(model.AgentHandle{
		Power:        power,
		AgentID:      req.AgentID,
		IsResponsive: true,
		LastActivity: time.Now().UTC(),
	})
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

// SubmitOrders handles POST /api/v1/games/{id}/orders. Exactly one of the
// order lists must match the current phase; "default": true submits the
// power's default orders instead.
func (h *GameHandler) SubmitOrders(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Power    string                 `json:"power"`
		Default  bool                   `json:"default,omitempty"`
		Movement []engine.MovementOrder `json:"movement,omitempty"`
		Retreats []engine.RetreatOrder  `json:"retreats,omitempty"`
		Builds   []engine.BuildOrder    `json:"builds,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	power, err := model.ParsePower(req.Power)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch {
	case req.Default:
		err = s.SubmitDefaultOrders(power)
	case req.Movement != nil:
		err = s.SubmitMovementOrders(power, req.Movement)
	case req.Retreats != nil:
		err = s.SubmitRetreatOrders(power, req.Retreats)
	case req.Builds != nil:
		err = s.SubmitBuildOrders(power, req.Builds)
	default:
		writeError(w, http.StatusBadRequest, "no orders in request")
		return
	}
	if err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "submitted"})
}

// SendMessage handles POST /api/v1/games/{id}/messages
func (h *GameHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Sender    string `json:"sender"`
		Recipient string `json:"recipient,omitempty"`
		Body      string `json:"body"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sender, err := model.ParsePower(req.Sender)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var recipient model.Power
	if req.Recipient != "" {
		if recipient, err = model.ParsePower(req.Recipient); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	msg, err := s.SendMessage(sender, recipient, req.Body)
	if err != nil {
		writeError(w, lifecycleStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// GetMessages handles GET /api/v1/games/{id}/messages?channel=
func (h *GameHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	msgs := s.Messages(r.URL.Query().Get("channel"))
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
