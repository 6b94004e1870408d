package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Verb identifies a parsed command's handler, independent of which alias
// the user typed.
type Verb string

const (
	VerbAccountRegister Verb = "account_register"
	VerbAccountLogin    Verb = "account_login"
	VerbAccountEdit     Verb = "account_edit"
	VerbAccountDelete   Verb = "account_delete"
	VerbAccountImport   Verb = "account_import"
	VerbAccountExport   Verb = "account_export"
	VerbLogout          Verb = "logout"
	VerbQuit            Verb = "quit"

	VerbRoomCreate Verb = "room_create"
	VerbRoomJoin   Verb = "room_join"
	VerbRoomLeave  Verb = "room_leave"
	VerbRoomDelete Verb = "room_delete"
	VerbRoomImport Verb = "room_import"

	VerbMsg      Verb = "msg"
	VerbMe       Verb = "me"
	VerbAnnounce Verb = "announce"
	VerbAFK      Verb = "afk"
	VerbSeen     Verb = "seen"
	VerbIgnore   Verb = "ignore"
	VerbUnignore Verb = "unignore"
	VerbPing     Verb = "ping"

	VerbUserList    Verb = "user_list"
	VerbUserRename  Verb = "user_rename"
	VerbUserRecolor Verb = "user_recolor"
	VerbUserHide    Verb = "user_hide"

	VerbModInfo Verb = "mod_info"
	VerbModKick Verb = "mod_kick"
	VerbModBan  Verb = "mod_ban"
	VerbModMute Verb = "mod_mute"

	VerbSuperUsers       Verb = "super_users"
	VerbSuperRename      Verb = "super_rename"
	VerbSuperExport      Verb = "super_export"
	VerbSuperWhitelist   Verb = "super_whitelist"
	VerbSuperLimit       Verb = "super_limit"
	VerbSuperRolesAssign Verb = "super_roles_assign"
	VerbSuperRolesAdd    Verb = "super_roles_add"
	VerbSuperRolesRevoke Verb = "super_roles_revoke"
)

// Command is the tagged value the parser produces for every line beginning
// with '/'. Handlers switch on Verb and read typed fields; Rest carries a
// message/reason tail that was not further tokenized.
type Command struct {
	Verb Verb
	Args []string
	Rest string
}

// verbTable maps every top-level verb name and alias that is NOT a
// "<namespace> <subcommand>" pair (those are parsed by parseAccount,
// parseRoom, parseUser, parseMod, parseSuper instead) to a canonical Verb.
var verbTable = map[string]Verb{
	"logout": VerbLogout,
	"quit":   VerbQuit,
	"exit":   VerbQuit,

	"msg":      VerbMsg,
	"m":        VerbMsg,
	"me":       VerbMe,
	"announce": VerbAnnounce,
	"a":        VerbAnnounce,
	"afk":      VerbAFK,
	"seen":     VerbSeen,
	"ignore":   VerbIgnore,
	"unignore": VerbUnignore,
	"ping":     VerbPing,
}

var errParse = func(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

// Parse tokenizes a raw line already known to start with '/'. It is
// phase-agnostic: it only validates grammar, never session state. Phase
// enforcement happens in the Dispatcher.
func Parse(line string) (*Command, error) {
	body := strings.TrimPrefix(line, "/")
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return nil, errParse("empty command")
	}
	head := strings.ToLower(fields[0])
	rest := fields[1:]

	switch head {
	case "account":
		return parseAccount(rest, body)
	case "room":
		return parseRoom(rest)
	case "user":
		return parseUser(rest)
	case "mod":
		return parseMod(rest, body)
	case "super":
		return parseSuper(rest, body)
	default:
		verb, ok := verbTable[head]
		if !ok || verb == "" {
			return nil, errParse("unknown command %q", head)
		}
		return &Command{Verb: verb, Args: rest, Rest: restAfter(body, 1)}, nil
	}
}

// restAfter returns body with the first n whitespace-delimited tokens
// stripped, preserving original inter-word spacing for the remainder.
func restAfter(body string, n int) string {
	rem := body
	for i := 0; i < n; i++ {
		rem = strings.TrimLeft(rem, " \t")
		sp := strings.IndexAny(rem, " \t")
		if sp < 0 {
			return ""
		}
		rem = rem[sp:]
	}
	return strings.TrimLeft(rem, " \t")
}

func parseAccount(args []string, fullBody string) (*Command, error) {
	if len(args) == 0 {
		return nil, errParse("account: missing subcommand")
	}
	sub := strings.ToLower(args[0])
	tail := args[1:]
	switch sub {
	case "register":
		if len(tail) < 4 {
			return nil, errParse("account register: need <user> <password> <confirm> <public_key>")
		}
		return &Command{Verb: VerbAccountRegister, Args: tail[:3], Rest: strings.Join(tail[3:], " ")}, nil
	case "login":
		if len(tail) < 3 {
			return nil, errParse("account login: need <user> <password> <public_key>")
		}
		return &Command{Verb: VerbAccountLogin, Args: tail[:2], Rest: strings.Join(tail[2:], " ")}, nil
	case "edit":
		return &Command{Verb: VerbAccountEdit, Args: tail}, nil
	case "delete":
		return &Command{Verb: VerbAccountDelete, Args: tail}, nil
	case "import":
		return &Command{Verb: VerbAccountImport, Args: tail}, nil
	case "export":
		return &Command{Verb: VerbAccountExport, Args: tail}, nil
	default:
		return nil, errParse("account: unknown subcommand %q", sub)
	}
}

func parseRoom(args []string) (*Command, error) {
	if len(args) == 0 {
		return nil, errParse("room: missing subcommand")
	}
	sub := strings.ToLower(args[0])
	tail := args[1:]
	switch sub {
	case "create":
		return &Command{Verb: VerbRoomCreate, Args: tail}, nil
	case "join":
		return &Command{Verb: VerbRoomJoin, Args: tail}, nil
	case "leave", "part":
		return &Command{Verb: VerbRoomLeave, Args: tail}, nil
	case "delete":
		return parseRoomDelete(tail)
	case "import":
		return &Command{Verb: VerbRoomImport, Args: tail}, nil
	default:
		return nil, errParse("room: unknown subcommand %q", sub)
	}
}

// parseRoomDelete accepts both "[force] <room>" and "<room> [force]" since
// RoomRegistry.Create refuses "force" (in any letter case) as a room name.
func parseRoomDelete(tail []string) (*Command, error) {
	if len(tail) == 0 {
		return nil, errParse("room delete: missing room name")
	}
	force := false
	var roomArgs []string
	for _, t := range tail {
		if strings.EqualFold(t, "force") {
			force = true
			continue
		}
		roomArgs = append(roomArgs, t)
	}
	if len(roomArgs) != 1 {
		return nil, errParse("room delete: expected exactly one room name")
	}
	args := []string{roomArgs[0]}
	if force {
		args = append(args, "force")
	}
	return &Command{Verb: VerbRoomDelete, Args: args}, nil
}

func parseUser(args []string) (*Command, error) {
	if len(args) == 0 {
		return nil, errParse("user: missing subcommand")
	}
	sub := strings.ToLower(args[0])
	tail := args[1:]
	switch sub {
	case "list":
		return &Command{Verb: VerbUserList, Args: tail}, nil
	case "rename":
		return &Command{Verb: VerbUserRename, Args: tail}, nil
	case "recolor":
		return &Command{Verb: VerbUserRecolor, Args: tail}, nil
	case "hide":
		return &Command{Verb: VerbUserHide, Args: tail}, nil
	default:
		return nil, errParse("user: unknown subcommand %q", sub)
	}
}

func parseMod(args []string, fullBody string) (*Command, error) {
	if len(args) == 0 {
		return nil, errParse("mod: missing subcommand")
	}
	sub := strings.ToLower(args[0])
	tail := args[1:]
	switch sub {
	case "info":
		return &Command{Verb: VerbModInfo, Args: tail}, nil
	case "kick":
		if len(tail) < 1 {
			return nil, errParse("mod kick: missing target")
		}
		return &Command{Verb: VerbModKick, Args: tail[:1], Rest: restAfter(fullBody, 3)}, nil
	case "ban":
		if len(tail) < 2 {
			return nil, errParse("mod ban: need <user> <duration> [reason]")
		}
		return &Command{Verb: VerbModBan, Args: tail[:2], Rest: restAfter(fullBody, 4)}, nil
	case "mute":
		if len(tail) < 2 {
			return nil, errParse("mod mute: need <user> <duration> [reason]")
		}
		return &Command{Verb: VerbModMute, Args: tail[:2], Rest: restAfter(fullBody, 4)}, nil
	default:
		return nil, errParse("mod: unknown subcommand %q", sub)
	}
}

func parseSuper(args []string, fullBody string) (*Command, error) {
	if len(args) == 0 {
		return nil, errParse("super: missing subcommand")
	}
	sub := strings.ToLower(args[0])
	tail := args[1:]
	switch sub {
	case "users":
		return &Command{Verb: VerbSuperUsers, Args: tail}, nil
	case "rename":
		return &Command{Verb: VerbSuperRename, Args: tail}, nil
	case "export":
		return &Command{Verb: VerbSuperExport, Args: tail}, nil
	case "whitelist":
		return &Command{Verb: VerbSuperWhitelist, Args: tail}, nil
	case "limit":
		return &Command{Verb: VerbSuperLimit, Args: tail}, nil
	case "roles":
		if len(tail) == 0 {
			return nil, errParse("super roles: missing subcommand")
		}
		rolesSub := strings.ToLower(tail[0])
		rolesTail := tail[1:]
		switch rolesSub {
		case "assign":
			if len(rolesTail) < 2 {
				return nil, errParse("super roles assign: need <role> <user>")
			}
			return &Command{Verb: VerbSuperRolesAssign, Args: rolesTail[:2]}, nil
		case "add":
			if len(rolesTail) < 2 {
				return nil, errParse("super roles add: need <role> <code>")
			}
			return &Command{Verb: VerbSuperRolesAdd, Args: rolesTail[:2]}, nil
		case "revoke":
			if len(rolesTail) < 2 {
				return nil, errParse("super roles revoke: need <role> <code>")
			}
			return &Command{Verb: VerbSuperRolesRevoke, Args: rolesTail[:2]}, nil
		default:
			return nil, errParse("super roles: unknown subcommand %q", rolesSub)
		}
	default:
		return nil, errParse("super: unknown subcommand %q", sub)
	}
}

var durRE = regexp.MustCompile(`^(?:(\d+)d)?(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

// durPartRE matches one "<n><unit>" component of a duration.
var durPartRE = regexp.MustCompile(`\d+[dhms]`)

// ParseDuration implements the "(<n>d)?(<n>h)?(<n>m)?(<n>s)?" / "*" grammar:
// total, commutative over component order, rejects empty or negative specs
// other than the literal "*" (permanent).
func ParseDuration(s string) (d time.Duration, permanent bool, err error) {
	if s == "*" {
		return 0, true, nil
	}
	// Regroup the components in d, h, m, s order so durRE, which fixes
	// that order, accepts them however they were written.
	parts := durPartRE.FindAllString(s, -1)
	canon := ""
	for _, unit := range "dhms" {
		for _, p := range parts {
			if rune(p[len(p)-1]) == unit {
				canon += p
			}
		}
	}
	if len(canon) != len(s) {
		return 0, false, errParse("invalid duration %q", s)
	}
	m := durRE.FindStringSubmatch(canon)
	if m == nil || m[0] == "" {
		return 0, false, errParse("invalid duration %q", s)
	}
	var total time.Duration
	any := false
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	for i, g := range m[1:] {
		if g == "" {
			continue
		}
		n, convErr := strconv.Atoi(g)
		if convErr != nil {
			return 0, false, errParse("invalid duration component %q", g)
		}
		total += time.Duration(n) * units[i]
		any = true
	}
	if !any {
		return 0, false, errParse("empty duration")
	}
	return total, false, nil
}

var hexColorRE = regexp.MustCompile(`^#?([0-9A-Fa-f]{6})$`)

// ParseHexColor validates and normalizes a 6-hex-digit color, stripping an
// optional leading '#'.
func ParseHexColor(s string) (string, error) {
	m := hexColorRE.FindStringSubmatch(s)
	if m == nil {
		return "", errParse("invalid color %q", s)
	}
	return strings.ToUpper(m[1]), nil
}
