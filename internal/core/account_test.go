package core

import "testing"

func TestDirectoryRegisterLogin(t *testing.T) {
	d := NewDirectory()
	if err := d.Register("alice", "hunter2", "hunter2", "pk-alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := d.Register("alice", "hunter2", "hunter2", "pk-alice"); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := d.Register("bad name!", "x", "x", ""); err == nil {
		t.Fatal("expected invalid username to be rejected")
	}
	if err := d.Register("bob", "pw1", "pw2", ""); err == nil {
		t.Fatal("expected mismatched passwords to be rejected")
	}

	acct, err := d.Login("alice", "hunter2", "pk-new")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if acct.PublicKey != "pk-new" {
		t.Fatalf("expected login to refresh public key, got %q", acct.PublicKey)
	}

	if _, err := d.Login("alice", "wrong", "pk"); err == nil {
		t.Fatal("expected bad password to fail login")
	}
	if _, err := d.Login("nobody", "x", "pk"); err == nil {
		t.Fatal("expected unknown user to fail login")
	}
}

func TestDirectoryRenameAccount(t *testing.T) {
	d := NewDirectory()
	if err := d.Register("alice", "pw", "pw", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := d.Register("bob", "pw", "pw", ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := d.RenameAccount("alice", "bob"); err == nil {
		t.Fatal("expected rename to a taken name to fail")
	}
	if err := d.RenameAccount("alice", "carol"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if d.Get("alice") != nil {
		t.Fatal("old username should no longer resolve")
	}
	acct := d.Get("carol")
	if acct == nil || acct.Username != "carol" {
		t.Fatalf("expected renamed account under carol, got %#v", acct)
	}

	names := d.Names()
	if len(names) != 2 || names[0] != "carol" {
		t.Fatalf("expected registration order preserved with renamed entry, got %v", names)
	}
}

func TestDirectorySnapshotRestore(t *testing.T) {
	d := NewDirectory()
	if err := d.Register("alice", "pw", "pw", "pk"); err != nil {
		t.Fatalf("register: %v", err)
	}

	snap := d.Snapshot()
	restored := NewDirectory()
	restored.Restore(snap, []string{"alice"})

	acct := restored.Get("alice")
	if acct == nil || acct.PublicKey != "pk" {
		t.Fatalf("expected restored account, got %#v", acct)
	}

	snap["alice"].PublicKey = "tampered"
	if d.Get("alice").PublicKey != "pk" {
		t.Fatal("Snapshot should return value copies, not share storage with the live directory")
	}
}

func TestDirectoryDelete(t *testing.T) {
	d := NewDirectory()
	if err := d.Register("alice", "pw", "pw", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := d.Delete("alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := d.Delete("alice"); err == nil {
		t.Fatal("expected deleting an unknown account to fail")
	}
	if len(d.Names()) != 0 {
		t.Fatalf("expected empty directory after delete, got %v", d.Names())
	}
}
