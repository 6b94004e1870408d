package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"streamline/internal/core"
)

func TestHealthAndState(t *testing.T) {
	dir := core.NewDirectory()
	if err := dir.Register("alice", "pw", "pw", "pk"); err != nil {
		t.Fatalf("register: %v", err)
	}
	rooms := core.NewRoomRegistry()
	rooms.Create("lobby", "alice")
	audit := core.NewAuditLog()
	audit.Record(core.AuditEntry{Actor: "alice", Action: "kick", Target: "bob", Room: "lobby"})

	api := New(dir, rooms, audit)
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	healthResp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer healthResp.Body.Close()
	if healthResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", healthResp.StatusCode)
	}
	var health healthResponse
	if err := json.NewDecoder(healthResp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" {
		t.Fatalf("unexpected health payload: %#v", health)
	}

	stateResp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state: %v", err)
	}
	defer stateResp.Body.Close()
	if stateResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /api/state, got %d", stateResp.StatusCode)
	}
	var state stateResponse
	if err := json.NewDecoder(stateResp.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Accounts != 1 || state.Rooms != 1 {
		t.Fatalf("unexpected state payload: %#v", state)
	}
	if len(state.RoomNames) != 1 || state.RoomNames[0] != "lobby" {
		t.Fatalf("expected lobby in room_names, got %#v", state.RoomNames)
	}
	if len(state.RecentAudit) != 1 || state.RecentAudit[0].Action != "kick" {
		t.Fatalf("expected the kick audit entry in recent_audit, got %#v", state.RecentAudit)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	api := New(core.NewDirectory(), core.NewRoomRegistry(), core.NewAuditLog())
	ts := httptest.NewServer(api.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", resp.StatusCode)
	}
}
