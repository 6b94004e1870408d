package store

import (
	"path/filepath"
	"testing"
	"time"

	"streamline/internal/core"
)

func TestStoreUsersRoundTrip(t *testing.T) {
	t.Parallel()

	dir := newTempDataDir(t)
	st := New(dir)

	if err := st.LoadUsers(core.NewDirectory()); err != nil {
		t.Fatalf("load users before any file exists: %v", err)
	}

	d := core.NewDirectory()
	if err := d.Register("alice", "pw", "pw", "pk-alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := st.SaveUsers(d); err != nil {
		t.Fatalf("save users: %v", err)
	}

	restored := core.NewDirectory()
	if err := st.LoadUsers(restored); err != nil {
		t.Fatalf("load users: %v", err)
	}
	acct := restored.Get("alice")
	if acct == nil || acct.PublicKey != "pk-alice" {
		t.Fatalf("expected alice's account to round-trip, got %#v", acct)
	}
}

func TestStoreRoomsRoundTrip(t *testing.T) {
	t.Parallel()

	dir := newTempDataDir(t)
	st := New(dir)

	rr := core.NewRoomRegistry()
	rr.Create("lobby", "alice")
	rr.SetRateLimit("lobby", 3)
	if err := st.SaveRooms(rr); err != nil {
		t.Fatalf("save rooms: %v", err)
	}

	restored := core.NewRoomRegistry()
	if err := st.LoadRooms(restored); err != nil {
		t.Fatalf("load rooms: %v", err)
	}
	room := restored.Get("lobby")
	if room == nil || room.Owner != "alice" || room.RateLimit != 3 {
		t.Fatalf("expected lobby to round-trip, got %#v", room)
	}
}

func TestStoreExportImportUser(t *testing.T) {
	t.Parallel()

	dir := newTempDataDir(t)
	st := New(dir)

	acct := &core.Account{Username: "alice", PasswordHash: "hash", PublicKey: "pk"}
	if err := st.ExportUser("alice", acct); err != nil {
		t.Fatalf("export user: %v", err)
	}
	got, err := st.ImportUser("alice")
	if err != nil {
		t.Fatalf("import user: %v", err)
	}
	if got.PasswordHash != "hash" || got.PublicKey != "pk" {
		t.Fatalf("unexpected imported account: %#v", got)
	}

	if _, err := st.ImportUser("nobody"); err == nil {
		t.Fatal("expected importing a never-exported user to fail")
	}
}

func TestStoreExportImportRoom(t *testing.T) {
	t.Parallel()

	dir := newTempDataDir(t)
	st := New(dir)

	rr := core.NewRoomRegistry()
	rr.Create("lobby", "alice")
	snap := rr.Snapshot()["lobby"]
	if err := st.ExportRoom("lobby", snap); err != nil {
		t.Fatalf("export room: %v", err)
	}

	got, err := st.ImportRoom("lobby")
	if err != nil {
		t.Fatalf("import room: %v", err)
	}
	if got.Owner != "alice" {
		t.Fatalf("unexpected imported room: %#v", got)
	}
}

func TestCoalescerWritesAfterBurstOfMarks(t *testing.T) {
	t.Parallel()

	writes := make(chan struct{}, 16)
	stop := make(chan struct{})
	defer close(stop)

	c := NewCoalescer(func() error {
		writes <- struct{}{}
		return nil
	}, nil, stop)

	for i := 0; i < 20; i++ {
		c.MarkDirty()
	}

	select {
	case <-writes:
	case <-time.After(time.Second):
		t.Fatal("expected at least one write from a burst of MarkDirty calls")
	}
}

func newTempDataDir(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "data")
}
