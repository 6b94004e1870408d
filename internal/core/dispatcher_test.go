package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"streamline/internal/protocol"
)

type fakeSnapshotter struct {
	usersDirty int
	roomsDirty int
}

func (f *fakeSnapshotter) MarkUsersDirty() { f.usersDirty++ }
func (f *fakeSnapshotter) MarkRoomsDirty() { f.roomsDirty++ }

// fakeVault backs the vault import/export commands in tests with plain
// maps instead of internal/store's on-disk JSON files.
type fakeVault struct {
	users map[string]*Account
	rooms map[string]RoomSnapshot
}

func newFakeVault() *fakeVault {
	return &fakeVault{users: make(map[string]*Account), rooms: make(map[string]RoomSnapshot)}
}

func (f *fakeVault) ExportUser(username string, acct *Account) error {
	cp := *acct
	f.users[username] = &cp
	return nil
}

func (f *fakeVault) ImportUser(username string) (*Account, error) {
	acct, ok := f.users[username]
	if !ok {
		return nil, fmt.Errorf("no vault entry for user %q", username)
	}
	cp := *acct
	return &cp, nil
}

func (f *fakeVault) ExportRoom(name string, snap RoomSnapshot) error {
	f.rooms[name] = snap
	return nil
}

func (f *fakeVault) ImportRoom(name string) (RoomSnapshot, error) {
	snap, ok := f.rooms[name]
	if !ok {
		return RoomSnapshot{}, fmt.Errorf("no vault entry for room %q", name)
	}
	return snap, nil
}

func (f *fakeVault) ExportUserLog(username string, acct *Account) error { return nil }

func newTestDispatcher() (*Dispatcher, *fakeSnapshotter) {
	snap := &fakeSnapshotter{}
	return NewDispatcher(NewDirectory(), NewRoomRegistry(), snap, newFakeVault()), snap
}

// nextEvent drains one already-pushed frame from sess without blocking;
// Dispatcher.Handle pushes synchronously under its own lock, so by the time
// Handle returns any resulting frame is already sitting in the channel.
func nextEvent(t *testing.T, sess *Session) protocol.Event {
	t.Helper()
	select {
	case frame := <-sess.Outbound():
		var ev protocol.Event
		if err := json.Unmarshal(frame[:len(frame)-1], &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return ev
	default:
		t.Fatal("expected a pushed event, found none")
		return protocol.Event{}
	}
}

func TestDispatcherRegisterAndLogin(t *testing.T) {
	d, snap := newTestDispatcher()
	sess := NewSession("127.0.0.1:1")

	d.Handle(sess, "/account register alice hunter2 hunter2 pk-alice")
	ev := nextEvent(t, sess)
	if ev.Kind != protocol.EventState || ev.Phase != PhaseLoggedIn.String() {
		t.Fatalf("expected LoggedIn state event, got %#v", ev)
	}
	if sess.Phase() != PhaseLoggedIn || sess.Username() != "alice" {
		t.Fatalf("expected session logged in as alice, got %s/%s", sess.Phase(), sess.Username())
	}
	if snap.usersDirty != 1 {
		t.Fatalf("expected exactly one users-dirty mark, got %d", snap.usersDirty)
	}

	other := NewSession("127.0.0.1:2")
	d.Handle(other, "/account login alice hunter2 pk-alice-2")
	ev = nextEvent(t, other)
	if ev.Kind != protocol.EventState || ev.Phase != PhaseLoggedIn.String() {
		t.Fatalf("expected LoggedIn state event, got %#v", ev)
	}

	// Logging in elsewhere displaces the first session.
	if !sess.Closed() {
		t.Fatal("expected the displaced session to be closed")
	}
}

func TestDispatcherRoomCreateJoinAndChat(t *testing.T) {
	d, _ := newTestDispatcher()
	owner := NewSession("127.0.0.1:1")
	d.Handle(owner, "/account register alice pw pw pk")
	nextEvent(t, owner) // login state

	d.Handle(owner, "/room create lobby")
	ev := nextEvent(t, owner)
	if ev.Kind != protocol.EventState || ev.Room != "lobby" {
		t.Fatalf("expected room-create state event, got %#v", ev)
	}

	guest := NewSession("127.0.0.1:2")
	d.Handle(guest, "/account register bob pw pw pk")
	nextEvent(t, guest)

	d.Handle(guest, "/room join lobby")
	ev = nextEvent(t, guest)
	if ev.Kind != protocol.EventState || ev.Room != "lobby" {
		t.Fatalf("expected bob's join state event, got %#v", ev)
	}
	ownerEv := nextEvent(t, owner)
	if ownerEv.Kind != protocol.EventMemberJoin || ownerEv.User != "bob" {
		t.Fatalf("expected owner to see bob's member_join, got %#v", ownerEv)
	}

	d.Handle(guest, `{"to":"*","ct":"cGF5bG9hZA=="}`)
	chatEv := nextEvent(t, owner)
	if chatEv.Kind != protocol.EventChat || chatEv.From != "bob" || chatEv.CT != "cGF5bG9hZA==" {
		t.Fatalf("expected broadcast chat relayed to owner, got %#v", chatEv)
	}
}

func TestDispatcherModKickRequiresRole(t *testing.T) {
	d, _ := newTestDispatcher()
	owner := NewSession("127.0.0.1:1")
	d.Handle(owner, "/account register alice pw pw pk")
	nextEvent(t, owner)
	d.Handle(owner, "/room create lobby")
	nextEvent(t, owner)

	member := NewSession("127.0.0.1:2")
	d.Handle(member, "/account register bob pw pw pk")
	nextEvent(t, member)
	d.Handle(member, "/room join lobby")
	nextEvent(t, member)
	nextEvent(t, owner) // member_join notice

	other := NewSession("127.0.0.1:3")
	d.Handle(other, "/account register carol pw pw pk")
	nextEvent(t, other)
	d.Handle(other, "/room join lobby")
	nextEvent(t, other)
	nextEvent(t, owner)
	nextEvent(t, member)

	// A plain User has no mod.kick permission by default.
	d.Handle(member, "/mod kick carol")
	ev := nextEvent(t, member)
	if ev.Kind != protocol.EventError || ev.Code != protocol.CodePermissionDenied {
		t.Fatalf("expected permission-denied for a User kicking, got %#v", ev)
	}

	// The owner can kick.
	d.Handle(owner, "/mod kick carol")
	ev = nextEvent(t, owner)
	if ev.Kind == protocol.EventError {
		t.Fatalf("expected owner's kick to succeed, got error %#v", ev)
	}
}

func TestDispatcherParseErrorSurfacesAsEvent(t *testing.T) {
	d, _ := newTestDispatcher()
	sess := NewSession("127.0.0.1:1")
	d.Handle(sess, "/bogus")
	ev := nextEvent(t, sess)
	if ev.Kind != protocol.EventError || ev.Code != protocol.CodeParseError {
		t.Fatalf("expected a parse-error event, got %#v", ev)
	}
}

func TestDispatcherAccountExportImportRoundTrip(t *testing.T) {
	d, _ := newTestDispatcher()
	sess := NewSession("127.0.0.1:1")
	d.Handle(sess, "/account register alice hunter2 hunter2 pk")
	nextEvent(t, sess) // login state

	d.Handle(sess, "/account export")
	ev := nextEvent(t, sess)
	if ev.Kind != protocol.EventSystem || ev.Msg != "account exported" {
		t.Fatalf("expected export confirmation, got %#v", ev)
	}

	if err := d.Dir.EditPassword("alice", "newpass", "newpass"); err != nil {
		t.Fatalf("edit password: %v", err)
	}

	d.Handle(sess, "/account import")
	ev = nextEvent(t, sess)
	if ev.Kind != protocol.EventSystem || ev.Msg != "account imported" {
		t.Fatalf("expected import confirmation, got %#v", ev)
	}

	acct := d.Dir.Get("alice")
	if _, loginErr := d.Dir.Login("alice", "hunter2", "pk"); loginErr != nil {
		t.Fatalf("expected the vault password to win on import, got %v (acct %#v)", loginErr, acct)
	}
}

func TestDispatcherRoomImportRestoresRoles(t *testing.T) {
	d, _ := newTestDispatcher()
	owner := NewSession("127.0.0.1:1")
	d.Handle(owner, "/account register alice pw pw pk")
	nextEvent(t, owner)
	d.Handle(owner, "/room create lobby")
	nextEvent(t, owner)

	d.Handle(owner, "/super export")
	ev := nextEvent(t, owner)
	if ev.Kind != protocol.EventSystem || ev.Msg != "room exported" {
		t.Fatalf("expected export confirmation, got %#v", ev)
	}

	if _, err := d.Rooms.Delete("lobby", "alice", false); err != nil {
		t.Fatalf("delete room: %v", err)
	}

	d.Handle(owner, "/room import lobby")
	ev = nextEvent(t, owner)
	if ev.Kind != protocol.EventSystem || ev.Room != "lobby" {
		t.Fatalf("expected import confirmation, got %#v", ev)
	}
	if role := d.Rooms.Get("lobby").RoleOf("alice"); role != RoleOwner {
		t.Fatalf("expected alice to be restored as Owner, got %s", role)
	}
}

func TestDispatcherSuperUsersSurfacesAuditEntries(t *testing.T) {
	d, _ := newTestDispatcher()
	owner := NewSession("127.0.0.1:1")
	d.Handle(owner, "/account register alice pw pw pk")
	nextEvent(t, owner)
	d.Handle(owner, "/room create lobby")
	nextEvent(t, owner)

	member := NewSession("127.0.0.1:2")
	d.Handle(member, "/account register bob pw pw pk")
	nextEvent(t, member)
	d.Handle(member, "/room join lobby")
	nextEvent(t, member)
	nextEvent(t, owner) // member_join notice

	d.Handle(owner, "/mod kick bob")
	nextEvent(t, owner) // member_leave fanout from the kick

	d.Handle(owner, "/super users")
	ev := nextEvent(t, owner)
	if !strings.Contains(ev.Msg, "alice kick bob") {
		t.Fatalf("expected super users output to include the kick audit entry, got %#v", ev)
	}
}
