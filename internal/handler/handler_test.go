package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/concertlabs/concert/internal/auth"
	"github.com/concertlabs/concert/internal/engine/enginetest"
	"github.com/concertlabs/concert/internal/model"
	"github.com/concertlabs/concert/internal/session"
	"github.com/concertlabs/concert/internal/webhook"
)

func newGameHandler() *GameHandler {
	return NewGameHandler(session.NewRegistry(enginetest.New(), nil))
}

// doJSON builds a request with an optional JSON body and path values.
func doJSON(t *testing.T, h http.HandlerFunc, method, target string, body any, pathValues map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestCreateGame(t *testing.T) {
	h := newGameHandler()

	rec := doJSON(t, h.CreateGame, http.MethodPost, "/api/v1/games", map[string]any{
		"name": "test match",
		"config": map[string]any{
			"movement_phase_duration": "90s",
			"max_missed_deadlines":    2,
		},
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	game := decodeBody[gameSummary](t, rec)
	if game.Name != "test match" || game.Status != model.StatusPending {
		t.Errorf("unexpected summary: %+v", game)
	}
	if game.ID == "" {
		t.Error("expected generated game ID")
	}
}

func TestCreateGameValidation(t *testing.T) {
	h := newGameHandler()

	rec := doJSON(t, h.CreateGame, http.MethodPost, "/api/v1/games", map[string]any{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing name: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, h.CreateGame, http.MethodPost, "/api/v1/games", map[string]any{
		"name":   "bad duration",
		"config": map[string]any{"movement_phase_duration": "ninety seconds"},
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad duration: expected 400, got %d", rec.Code)
	}
}

func TestGameNotFound(t *testing.T) {
	h := newGameHandler()
	rec := doJSON(t, h.GetGame, http.MethodGet, "/api/v1/games/nope", nil,
		map[string]string{"id": "nope"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestGameLifecycleEndpoints(t *testing.T) {
	h := newGameHandler()

	rec := doJSON(t, h.CreateGame, http.MethodPost, "/api/v1/games",
		map[string]any{"name": "lifecycle"}, nil)
	game := decodeBody[gameSummary](t, rec)
	ids := map[string]string{"id": game.ID}

	rec = doJSON(t, h.StartGame, http.MethodPost, "/", nil, ids)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[gameSummary](t, rec); got.Status != model.StatusActive {
		t.Errorf("status after start = %s", got.Status)
	}

	// Starting twice is a state conflict.
	rec = doJSON(t, h.StartGame, http.MethodPost, "/", nil, ids)
	if rec.Code != http.StatusConflict {
		t.Errorf("double start: expected 409, got %d", rec.Code)
	}

	rec = doJSON(t, h.PauseGame, http.MethodPost, "/", map[string]string{"reason": "maintenance"}, ids)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, h.ResumeGame, http.MethodPost, "/", nil, ids)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", rec.Code)
	}

	// Deleting a running game is rejected; abandoning then deleting works.
	rec = doJSON(t, h.DeleteGame, http.MethodDelete, "/", nil, ids)
	if rec.Code != http.StatusConflict {
		t.Errorf("delete running: expected 409, got %d", rec.Code)
	}
	rec = doJSON(t, h.AbandonGame, http.MethodPost, "/", map[string]string{"reason": "done"}, ids)
	if rec.Code != http.StatusOK {
		t.Fatalf("abandon: expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, h.DeleteGame, http.MethodDelete, "/", nil, ids)
	if rec.Code != http.StatusOK {
		t.Errorf("delete: expected 200, got %d", rec.Code)
	}
}

func TestSubmitOrdersEndpoint(t *testing.T) {
	h := newGameHandler()
	rec := doJSON(t, h.CreateGame, http.MethodPost, "/", map[string]any{"name": "orders"}, nil)
	game := decodeBody[gameSummary](t, rec)
	ids := map[string]string{"id": game.ID}
	doJSON(t, h.StartGame, http.MethodPost, "/", nil, ids)

	rec = doJSON(t, h.SubmitOrders, http.MethodPost, "/", map[string]any{
		"power":   "france",
		"default": true,
	}, ids)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit defaults: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h.SubmitOrders, http.MethodPost, "/", map[string]any{
		"power": "ATLANTIS",
	}, ids)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown power: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, h.SubmitOrders, http.MethodPost, "/", map[string]any{
		"power": "germany",
	}, ids)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty submission: expected 400, got %d", rec.Code)
	}

	// Build orders during a movement phase are a phase conflict.
	rec = doJSON(t, h.SubmitOrders, http.MethodPost, "/", map[string]any{
		"power":  "germany",
		"builds": []map[string]string{{"type": "waive"}},
	}, ids)
	if rec.Code != http.StatusConflict {
		t.Errorf("wrong phase: expected 409, got %d", rec.Code)
	}
}

func TestMessageEndpoints(t *testing.T) {
	h := newGameHandler()
	rec := doJSON(t, h.CreateGame, http.MethodPost, "/", map[string]any{"name": "talks"}, nil)
	game := decodeBody[gameSummary](t, rec)
	ids := map[string]string{"id": game.ID}
	doJSON(t, h.StartGame, http.MethodPost, "/", nil, ids)

	rec = doJSON(t, h.SendMessage, http.MethodPost, "/", map[string]string{
		"sender":    "france",
		"recipient": "england",
		"body":      "shall we split the channel?",
	}, ids)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	msg := decodeBody[model.Message](t, rec)
	if msg.ChannelID != "ENGLAND-FRANCE" {
		t.Errorf("channel = %s", msg.ChannelID)
	}

	req := httptest.NewRequest(http.MethodGet, "/?channel=ENGLAND-FRANCE", nil)
	req.SetPathValue("id", game.ID)
	list := httptest.NewRecorder()
	h.GetMessages(list, req)
	msgs := decodeBody[[]model.Message](t, list)
	if len(msgs) != 1 {
		t.Errorf("messages = %d, want 1", len(msgs))
	}
}

func TestUpdateConfigEndpoint(t *testing.T) {
	h := newGameHandler()
	rec := doJSON(t, h.CreateGame, http.MethodPost, "/", map[string]any{"name": "tuning"}, nil)
	game := decodeBody[gameSummary](t, rec)
	ids := map[string]string{"id": game.ID}

	rec = doJSON(t, h.UpdateConfig, http.MethodPatch, "/", map[string]any{
		"movement_phase_duration": "45s",
	}, ids)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d", rec.Code)
	}
	cfg := decodeBody[model.OrchestratorConfig](t, rec)
	if cfg.MovementPhaseDuration != 45*time.Second {
		t.Errorf("movement duration = %v", cfg.MovementPhaseDuration)
	}
}

func TestWebhookEndpoints(t *testing.T) {
	mgr := webhook.NewManager(webhook.DefaultConfig())
	h := NewWebhookHandler(mgr)

	rec := doJSON(t, h.CreateWebhook, http.MethodPost, "/", map[string]any{
		"url":    "https://example.com/hook",
		"secret": "s3cret",
		"events": []string{"game.started", "phase.resolved"},
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	reg := decodeBody[webhook.Registration](t, rec)
	if reg.ID == "" || !reg.Active {
		t.Errorf("unexpected registration: %+v", reg)
	}

	rec = doJSON(t, h.CreateWebhook, http.MethodPost, "/", map[string]any{
		"url":    "https://example.com/hook",
		"secret": "s3cret",
		"events": []string{"game.imploded"},
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid event: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, h.ListWebhooks, http.MethodGet, "/", nil, nil)
	if got := decodeBody[[]webhook.Registration](t, rec); len(got) != 1 {
		t.Errorf("list = %d, want 1", len(got))
	}

	ids := map[string]string{"id": reg.ID}
	rec = doJSON(t, h.DeactivateWebhook, http.MethodPost, "/", nil, ids)
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate: expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, h.GetWebhook, http.MethodGet, "/", nil, ids)
	if got := decodeBody[webhook.Registration](t, rec); got.Active {
		t.Error("expected inactive registration")
	}

	rec = doJSON(t, h.GetStats, http.MethodGet, "/", nil, nil)
	stats := decodeBody[webhook.Stats](t, rec)
	if stats.Registrations != 1 || stats.ActiveRegistrations != 0 {
		t.Errorf("stats = %+v", stats)
	}

	rec = doJSON(t, h.DeleteWebhook, http.MethodDelete, "/", nil, ids)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}
	rec = doJSON(t, h.DeleteWebhook, http.MethodDelete, "/", nil, ids)
	if rec.Code != http.StatusNotFound {
		t.Errorf("repeat delete: expected 404, got %d", rec.Code)
	}
}

func TestRetryDeadLetterEndpoint(t *testing.T) {
	mgr := webhook.NewManager(webhook.DefaultConfig())
	h := NewWebhookHandler(mgr)

	rec := doJSON(t, h.RetryDeadLetter, http.MethodPost, "/", nil,
		map[string]string{"id": "missing"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestIssueToken(t *testing.T) {
	jwtMgr := auth.NewJWTManager("test-secret")
	h := NewAuthHandler(jwtMgr, "admin-key-123")

	rec := doJSON(t, h.IssueToken, http.MethodPost, "/", map[string]string{
		"operator_id": "op-1",
		"api_key":     "admin-key-123",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	pair := decodeBody[auth.TokenPair](t, rec)
	claims, err := jwtMgr.ValidateToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("validate issued token: %v", err)
	}
	if claims.OperatorID != "op-1" {
		t.Errorf("operator_id = %s", claims.OperatorID)
	}

	rec = doJSON(t, h.IssueToken, http.MethodPost, "/", map[string]string{
		"operator_id": "op-1",
		"api_key":     "wrong",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: expected 401, got %d", rec.Code)
	}

	// Refresh with the issued refresh token.
	rec = doJSON(t, h.RefreshToken, http.MethodPost, "/", map[string]string{
		"refresh_token": pair.RefreshToken,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("refresh: expected 200, got %d", rec.Code)
	}
}
