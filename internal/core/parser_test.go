package core

import "testing"

func TestParseSimpleVerbs(t *testing.T) {
	cmd, err := Parse("/msg alice hello there")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Verb != VerbMsg {
		t.Fatalf("expected VerbMsg, got %s", cmd.Verb)
	}
	if len(cmd.Args) != 3 || cmd.Args[0] != "alice" {
		t.Fatalf("unexpected args: %v", cmd.Args)
	}
	if cmd.Rest != "alice hello there" {
		t.Fatalf("unexpected rest: %q", cmd.Rest)
	}
}

func TestParseUnknownCommand(t *testing.T) {
	if _, err := Parse("/nonsense"); err == nil {
		t.Fatal("expected an unknown command to fail parsing")
	}
	if _, err := Parse("/"); err == nil {
		t.Fatal("expected an empty command to fail parsing")
	}
}

func TestParseAccountRegister(t *testing.T) {
	cmd, err := Parse("/account register alice hunter2 hunter2 pk-deadbeef")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Verb != VerbAccountRegister {
		t.Fatalf("expected VerbAccountRegister, got %s", cmd.Verb)
	}
	if len(cmd.Args) != 3 || cmd.Args[0] != "alice" || cmd.Args[2] != "hunter2" {
		t.Fatalf("unexpected args: %v", cmd.Args)
	}
	if cmd.Rest != "pk-deadbeef" {
		t.Fatalf("expected public key in Rest, got %q", cmd.Rest)
	}

	if _, err := Parse("/account register alice hunter2"); err == nil {
		t.Fatal("expected a short register command to fail")
	}
}

func TestParseRoomDeleteAcceptsBothOrderings(t *testing.T) {
	cmd, err := Parse("/room delete lobby force")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Verb != VerbRoomDelete || len(cmd.Args) != 2 || cmd.Args[0] != "lobby" || cmd.Args[1] != "force" {
		t.Fatalf("unexpected command: %#v", cmd)
	}

	cmd, err = Parse("/room delete force lobby")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Args[0] != "lobby" || cmd.Args[1] != "force" {
		t.Fatalf("unexpected command for reversed order: %#v", cmd)
	}

	cmd, err = Parse("/room delete lobby")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cmd.Args) != 1 || cmd.Args[0] != "lobby" {
		t.Fatalf("expected no force flag: %#v", cmd)
	}

	if _, err := Parse("/room delete lobby extra force"); err == nil {
		t.Fatal("expected more than one non-force token to be rejected")
	}
}

func TestParseModBanAndMute(t *testing.T) {
	cmd, err := Parse("/mod ban bob 1h spamming the channel")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Verb != VerbModBan || cmd.Args[0] != "bob" || cmd.Args[1] != "1h" {
		t.Fatalf("unexpected command: %#v", cmd)
	}
	if cmd.Rest != "spamming the channel" {
		t.Fatalf("unexpected reason: %q", cmd.Rest)
	}

	if _, err := Parse("/mod ban bob"); err == nil {
		t.Fatal("expected mod ban with no duration to fail")
	}
}

func TestParseSuperRoles(t *testing.T) {
	cmd, err := Parse("/super roles assign Moderator bob")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Verb != VerbSuperRolesAssign || cmd.Args[0] != "Moderator" || cmd.Args[1] != "bob" {
		t.Fatalf("unexpected command: %#v", cmd)
	}

	if _, err := Parse("/super roles bogus Moderator bob"); err == nil {
		t.Fatal("expected an unknown roles subcommand to fail")
	}
}

func TestParseDurationGrammar(t *testing.T) {
	d, permanent, err := ParseDuration("1d2h3m4s")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if permanent {
		t.Fatal("did not expect permanent for an explicit duration")
	}
	want := 26*60*60 + 3*60 + 4
	if int(d.Seconds()) != want {
		t.Fatalf("expected %ds, got %v", want, d)
	}

	_, permanent, err = ParseDuration("*")
	if err != nil || !permanent {
		t.Fatalf("expected '*' to parse as permanent, got permanent=%v err=%v", permanent, err)
	}

	if _, _, err := ParseDuration(""); err == nil {
		t.Fatal("expected an empty duration to be rejected")
	}
	if _, _, err := ParseDuration("5x"); err == nil {
		t.Fatal("expected an unknown unit to be rejected")
	}
}

func TestParseHexColor(t *testing.T) {
	c, err := ParseHexColor("#ff00aa")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c != "FF00AA" {
		t.Fatalf("expected normalized uppercase color, got %q", c)
	}
	if _, err := ParseHexColor("red"); err == nil {
		t.Fatal("expected a non-hex color name to be rejected")
	}
	if _, err := ParseHexColor("#fff"); err == nil {
		t.Fatal("expected a 3-digit hex shorthand to be rejected")
	}
}
