package protocol

import (
	"encoding/json"
	"testing"
)

func TestErrorToEvent(t *testing.T) {
	err := NewError(CodeNotFound, "no such room")
	ev := err.ToEvent()
	if ev.Kind != EventError || ev.Code != CodeNotFound || ev.Msg != "no such room" {
		t.Fatalf("unexpected event: %#v", ev)
	}
	if err.Error() != "NotFound: no such room" {
		t.Fatalf("unexpected Error() string: %q", err.Error())
	}
}

func TestChatFrameJSONShape(t *testing.T) {
	frame := ChatFrame{To: "*", CT: "cGF5bG9hZA=="}
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back ChatFrame
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != frame {
		t.Fatalf("expected round-trip equality, got %#v", back)
	}
}

func TestEventOmitsEmptyFields(t *testing.T) {
	ev := Event{Kind: EventPong}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("expected only \"kind\" to be present on a bare event, got %v", raw)
	}
	if raw["kind"] != EventPong {
		t.Fatalf("expected kind=%q, got %v", EventPong, raw["kind"])
	}
}
