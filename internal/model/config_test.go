package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestConfigJSONMillisecondUnits(t *testing.T) {
	data, err := json.Marshal(DefaultOrchestratorConfig())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(data)
	if !strings.Contains(body, `"diplomacy_phase_duration_ms":300000`) {
		t.Errorf("diplomacy duration not in milliseconds: %s", body)
	}
	if !strings.Contains(body, `"min_phase_duration_ms":1000`) {
		t.Errorf("min phase duration not in milliseconds: %s", body)
	}

	var got OrchestratorConfig
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != DefaultOrchestratorConfig() {
		t.Errorf("roundtrip changed config: %+v", got)
	}
}

func TestConfigJSONRoundTrip(t *testing.T) {
	cfg := DefaultOrchestratorConfig()
	cfg.MovementPhaseDuration = 45 * time.Second
	cfg.AutoHoldOnTimeout = false

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got OrchestratorConfig
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.MovementPhaseDuration != 45*time.Second {
		t.Errorf("movement duration = %v, want 45s", got.MovementPhaseDuration)
	}
	if got.AutoHoldOnTimeout {
		t.Error("auto hold not preserved")
	}
}
