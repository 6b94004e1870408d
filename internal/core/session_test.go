package core

import "testing"

func TestSessionLifecycleTransitions(t *testing.T) {
	s := NewSession("127.0.0.1:5555")
	if s.Phase() != PhaseGuest {
		t.Fatalf("expected fresh session to be Guest, got %s", s.Phase())
	}

	s.SetLoggedIn("alice")
	if s.Phase() != PhaseLoggedIn || s.Username() != "alice" {
		t.Fatalf("expected LoggedIn/alice, got %s/%s", s.Phase(), s.Username())
	}

	s.SetInRoom("lobby")
	if s.Phase() != PhaseInRoom || s.Room() != "lobby" {
		t.Fatalf("expected InRoom/lobby, got %s/%s", s.Phase(), s.Room())
	}

	s.SetLoggedOutOfRoom()
	if s.Phase() != PhaseLoggedIn || s.Room() != "" {
		t.Fatalf("expected LoggedIn with no room, got %s/%q", s.Phase(), s.Room())
	}

	s.Reset()
	if s.Phase() != PhaseGuest || s.Username() != "" {
		t.Fatalf("expected a full reset back to Guest, got %s/%q", s.Phase(), s.Username())
	}
}

func TestSessionPushOverflowAndClose(t *testing.T) {
	s := NewSession("127.0.0.1:5555")
	for i := 0; i < outboundQueueSize; i++ {
		if !s.Push([]byte("x")) {
			t.Fatalf("expected push %d to succeed within queue capacity", i)
		}
	}
	if s.Push([]byte("overflow")) {
		t.Fatal("expected push beyond queue capacity to report false")
	}

	if s.Closed() {
		t.Fatal("fresh session should not be closed")
	}
	s.Close()
	if !s.Closed() {
		t.Fatal("expected session to report closed after Close")
	}
	select {
	case <-s.CloseSignal():
	default:
		t.Fatal("expected CloseSignal to be closed after Close")
	}
	s.Close() // idempotent, must not panic on double-close
}
