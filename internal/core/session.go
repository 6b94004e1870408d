package core

import (
	"sync"

	"github.com/google/uuid"
)

// Phase is a session's coarse lifecycle state.
type Phase int

const (
	PhaseGuest Phase = iota
	PhaseLoggedIn
	PhaseInRoom
)

func (p Phase) String() string {
	switch p {
	case PhaseLoggedIn:
		return "LoggedIn"
	case PhaseInRoom:
		return "InRoom"
	default:
		return "Guest"
	}
}

// outboundQueueSize bounds each session's outbound frame channel; overflow
// closes the session (Dispatcher.send). No Backpressure error frame is sent
// to the peer when that happens.
const outboundQueueSize = 256

// Session is the ephemeral per-connection state a live TCP connection
// carries. Mutated only by the Dispatcher/Housekeeper while holding the
// global lock, except for fields marked otherwise.
type Session struct {
	ID       string // google/uuid, used in logs/diagnostics only
	PeerAddr string

	mu       sync.Mutex
	phase    Phase
	username string // set once phase >= LoggedIn
	room     string // set once phase == InRoom

	IgnoreSet map[string]bool

	outbound chan []byte
	closed   bool
	closeCh  chan struct{}
}

// NewSession allocates a fresh Guest-phase session for an accepted
// connection.
func NewSession(peerAddr string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		PeerAddr:  peerAddr,
		IgnoreSet: make(map[string]bool),
		outbound:  make(chan []byte, outboundQueueSize),
		closeCh:   make(chan struct{}),
	}
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// SetLoggedIn transitions Guest -> LoggedIn, binding the session to an
// account.
func (s *Session) SetLoggedIn(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseLoggedIn
	s.username = username
	s.room = ""
}

// SetInRoom transitions LoggedIn -> InRoom(room).
func (s *Session) SetInRoom(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseInRoom
	s.room = room
}

// SetLoggedOutOfRoom transitions InRoom -> LoggedIn (leave/kick/ban/timeout).
func (s *Session) SetLoggedOutOfRoom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseLoggedIn
	s.room = ""
}

// Reset transitions back to Guest (logout).
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseGuest
	s.username = ""
	s.room = ""
}

// Push enqueues an outbound frame. Non-blocking: if the queue is full it
// returns false, and the caller (Dispatcher.send) closes the session.
func (s *Session) Push(frame []byte) bool {
	select {
	case s.outbound <- frame:
		return true
	default:
		return false
	}
}

// Outbound exposes the read side for the connection's writer goroutine.
func (s *Session) Outbound() <-chan []byte { return s.outbound }

// Close marks the session terminal and signals the writer goroutine to
// stop. The writer returns on that signal without draining, so frames
// still queued at that point may never be written. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.closeCh)
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) CloseSignal() <-chan struct{} { return s.closeCh }
