package core

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"streamline/internal/metrics"
	"streamline/internal/protocol"
)

// Snapshotter decouples the Dispatcher from the concrete persistence
// package (internal/store imports internal/core, not the reverse); it
// marks a durable-mutation's file dirty for the background Coalescer to
// pick up.
type Snapshotter interface {
	MarkUsersDirty()
	MarkRoomsDirty()
}

// Vault decouples the Dispatcher from internal/store the same way
// Snapshotter does, but for the single-entity vault operations
// (/account import|export, /room import, /super export) rather than the
// whole-registry files.
type Vault interface {
	ExportUser(username string, acct *Account) error
	ImportUser(username string) (*Account, error)
	ExportRoom(name string, snap RoomSnapshot) error
	ImportRoom(name string) (RoomSnapshot, error)
	ExportUserLog(username string, acct *Account) error
}

// Dispatcher is the sole mutator of the User Directory and Room Registry.
// A single mutex serializes every dispatched command, including the
// fan-out pushes into session outbound queues: a locked-client,
// single-threaded command processing model.
type Dispatcher struct {
	mu    sync.Mutex
	Dir   *Directory
	Rooms *RoomRegistry
	Audit *AuditLog
	snap  Snapshotter
	vault Vault

	online map[string]*Session // username -> session, present from LoggedIn onward
}

func NewDispatcher(dir *Directory, rooms *RoomRegistry, snap Snapshotter, vault Vault) *Dispatcher {
	return &Dispatcher{
		Dir:    dir,
		Rooms:  rooms,
		Audit:  NewAuditLog(),
		snap:   snap,
		vault:  vault,
		online: make(map[string]*Session),
	}
}

func (d *Dispatcher) send(sess *Session, ev protocol.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	data = append(data, '\n')
	if !sess.Push(data) {
		sess.Close()
	}
}

func (d *Dispatcher) sendError(sess *Session, e *protocol.Error) {
	d.send(sess, e.ToEvent())
}

func (d *Dispatcher) sendTo(username string, ev protocol.Event) {
	if s, ok := d.online[username]; ok {
		d.send(s, ev)
	}
}

func (d *Dispatcher) fanoutRoom(roomName string, ev protocol.Event, exclude string) {
	room := d.Rooms.Get(roomName)
	if room == nil {
		return
	}
	for _, username := range room.members() {
		if username == exclude {
			continue
		}
		d.sendTo(username, ev)
	}
}

// Handle processes one inbound line from sess: a '/'-prefixed command, or
// a chat frame JSON object. Called by the connection's read loop; holds
// the dispatcher lock for the duration.
func (d *Dispatcher) Handle(sess *Session, line string) {
	start := time.Now()
	defer func() { metrics.DispatchLatency.Observe(time.Since(start).Seconds()) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}
	if room := sess.Room(); room != "" {
		d.Rooms.Touch(room, sess.Username())
	}
	if strings.HasPrefix(line, "/") {
		cmd, err := Parse(line)
		if err != nil {
			d.sendError(sess, protocol.NewError(protocol.CodeParseError, err.Error()))
			return
		}
		metrics.CommandsTotal.WithLabelValues(string(cmd.Verb)).Inc()
		d.dispatchCommand(sess, cmd)
		return
	}
	var frame protocol.ChatFrame
	if jsonErr := json.Unmarshal([]byte(line), &frame); jsonErr != nil {
		d.sendError(sess, protocol.NewError(protocol.CodeParseError, "not a command or chat frame"))
		return
	}
	d.handleChat(sess, frame)
}

// Disconnect is called once when a connection's socket closes, cleaning up
// room presence immediately rather than waiting for the next housekeeper
// tick.
func (d *Dispatcher) Disconnect(sess *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	username := sess.Username()
	if username == "" {
		return
	}
	if room := sess.Room(); room != "" {
		d.Rooms.Leave(room, username)
		d.fanoutRoom(room, protocol.Event{Kind: protocol.EventMemberLeave, User: username, Room: room}, username)
	}
	if d.online[username] == sess {
		delete(d.online, username)
	}
}

// evictIdleLocked transitions username's session back to LoggedIn and
// notifies them with a Timeout event. Caller must already hold d.mu.
func (d *Dispatcher) evictIdleLocked(roomName, username string) {
	if err := d.Rooms.Leave(roomName, username); err != nil {
		return
	}
	if s, ok := d.online[username]; ok {
		s.SetLoggedOutOfRoom()
	}
	d.sendTo(username, protocol.Event{Kind: protocol.EventTimeout, Room: roomName})
	d.fanoutRoom(roomName, protocol.Event{Kind: protocol.EventMemberLeave, User: username, Room: roomName}, username)
}

// RunHousekeeping expires bans/mutes and evicts idle members across every
// room, then marks both persisted files dirty. Called by the housekeeper
// ticker; runs under the same single dispatcher lock as command dispatch
// so expiry/eviction is serialized with every other mutation of Directory
// and RoomRegistry, not just the final per-member eviction step.
func (d *Dispatcher) RunHousekeeping(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Rooms.ExpireBansAndMutes(now)
	for _, name := range d.Rooms.Names() {
		for _, username := range d.Rooms.IdleMembers(name, now) {
			d.evictIdleLocked(name, username)
		}
	}
	d.snap.MarkUsersDirty()
	d.snap.MarkRoomsDirty()
}

func requireFields(args []string, n int) bool { return len(args) >= n }

func (d *Dispatcher) dispatchCommand(sess *Session, cmd *Command) {
	switch cmd.Verb {
	case VerbAccountRegister:
		d.cmdAccountRegister(sess, cmd)
	case VerbAccountLogin:
		d.cmdAccountLogin(sess, cmd)
	case VerbAccountEdit:
		d.cmdAccountEdit(sess, cmd)
	case VerbAccountDelete:
		d.cmdAccountDelete(sess)
	case VerbAccountImport:
		d.cmdAccountImport(sess)
	case VerbAccountExport:
		d.cmdAccountExport(sess)
	case VerbLogout:
		d.cmdLogout(sess)
	case VerbQuit:
		d.cmdQuit(sess)

	case VerbRoomCreate:
		d.cmdRoomCreate(sess, cmd)
	case VerbRoomJoin:
		d.cmdRoomJoin(sess, cmd)
	case VerbRoomLeave:
		d.cmdRoomLeave(sess)
	case VerbRoomDelete:
		d.cmdRoomDelete(sess, cmd)
	case VerbRoomImport:
		d.cmdRoomImport(sess, cmd)

	case VerbMsg:
		d.cmdMsg(sess, cmd)
	case VerbMe:
		d.cmdMe(sess, cmd)
	case VerbAnnounce:
		d.cmdAnnounce(sess, cmd)
	case VerbAFK:
		d.cmdAFK(sess, cmd)
	case VerbSeen:
		d.cmdSeen(sess, cmd)
	case VerbIgnore:
		d.cmdIgnore(sess, cmd, true)
	case VerbUnignore:
		d.cmdIgnore(sess, cmd, false)
	case VerbPing:
		d.cmdPing(sess, cmd)

	case VerbUserList:
		d.cmdUserList(sess)
	case VerbUserRename:
		d.cmdUserRename(sess, cmd)
	case VerbUserRecolor:
		d.cmdUserRecolor(sess, cmd)
	case VerbUserHide:
		d.cmdUserHide(sess, cmd)

	case VerbModInfo:
		d.cmdModInfo(sess)
	case VerbModKick:
		d.cmdModKick(sess, cmd)
	case VerbModBan:
		d.cmdModBan(sess, cmd)
	case VerbModMute:
		d.cmdModMute(sess, cmd)

	case VerbSuperRolesAssign:
		d.cmdRolesAssign(sess, cmd)
	case VerbSuperRolesAdd:
		d.cmdRolesAdd(sess, cmd)
	case VerbSuperRolesRevoke:
		d.cmdRolesRevoke(sess, cmd)
	case VerbSuperWhitelist:
		d.cmdWhitelist(sess, cmd)
	case VerbSuperLimit:
		d.cmdLimit(sess, cmd)
	case VerbSuperUsers:
		d.cmdSuperUsers(sess)
	case VerbSuperRename:
		d.sendError(sess, protocol.NewError(protocol.CodeInternal, "room rename not supported"))
	case VerbSuperExport:
		d.cmdSuperExport(sess)

	default:
		d.sendError(sess, protocol.NewError(protocol.CodeParseError, "unhandled command"))
	}
}

// --- account ---------------------------------------------------------

func (d *Dispatcher) cmdAccountRegister(sess *Session, cmd *Command) {
	if sess.Phase() != PhaseGuest {
		d.sendError(sess, protocol.NewError(protocol.CodeAlreadyLoggedIn, "already logged in"))
		return
	}
	if !requireFields(cmd.Args, 3) {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <user> <password> <confirm>"))
		return
	}
	username, password, confirm := cmd.Args[0], cmd.Args[1], cmd.Args[2]
	if err := d.Dir.Register(username, password, confirm, cmd.Rest); err != nil {
		d.sendError(sess, err)
		return
	}
	d.snap.MarkUsersDirty()
	d.loginSession(sess, username)
}

func (d *Dispatcher) cmdAccountLogin(sess *Session, cmd *Command) {
	if sess.Phase() != PhaseGuest {
		d.sendError(sess, protocol.NewError(protocol.CodeAlreadyLoggedIn, "already logged in"))
		return
	}
	if !requireFields(cmd.Args, 2) {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <user> <password>"))
		return
	}
	username, password := cmd.Args[0], cmd.Args[1]
	if _, err := d.Dir.Login(username, password, cmd.Rest); err != nil {
		d.sendError(sess, err)
		return
	}
	// A fresh login from elsewhere displaces any existing session for this
	// username.
	if old, ok := d.online[username]; ok && old != sess {
		if room := old.Room(); room != "" {
			d.Rooms.Leave(room, username)
		}
		old.Reset()
		old.Close()
	}
	d.loginSession(sess, username)
}

func (d *Dispatcher) loginSession(sess *Session, username string) {
	sess.SetLoggedIn(username)
	d.online[username] = sess
	d.send(sess, protocol.Event{Kind: protocol.EventState, Phase: PhaseLoggedIn.String(), User: username})
}

func (d *Dispatcher) cmdAccountEdit(sess *Session, cmd *Command) {
	if sess.Phase() == PhaseGuest {
		d.sendError(sess, protocol.NewError(protocol.CodeNotLoggedIn, "not logged in"))
		return
	}
	if len(cmd.Args) < 1 {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <username|password> ..."))
		return
	}
	username := sess.Username()
	switch strings.ToLower(cmd.Args[0]) {
	case "password":
		if !requireFields(cmd.Args, 3) {
			d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need password <new> <confirm>"))
			return
		}
		if err := d.Dir.EditPassword(username, cmd.Args[1], cmd.Args[2]); err != nil {
			d.sendError(sess, err)
			return
		}
		d.snap.MarkUsersDirty()
		d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: "password updated"})
	case "username":
		if !requireFields(cmd.Args, 2) {
			d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need username <new>"))
			return
		}
		newName := cmd.Args[1]
		if err := d.Dir.RenameAccount(username, newName); err != nil {
			d.sendError(sess, err)
			return
		}
		d.Rooms.RenameUser(username, newName)
		room := sess.Room()
		wasInRoom := sess.Phase() == PhaseInRoom
		delete(d.online, username)
		d.online[newName] = sess
		sess.SetLoggedIn(newName)
		if wasInRoom {
			sess.SetInRoom(room)
		}
		d.snap.MarkUsersDirty()
		d.snap.MarkRoomsDirty()
		d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: "username updated", User: newName})
	default:
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "unknown edit field"))
	}
}

func (d *Dispatcher) cmdAccountDelete(sess *Session) {
	if sess.Phase() == PhaseGuest {
		d.sendError(sess, protocol.NewError(protocol.CodeNotLoggedIn, "not logged in"))
		return
	}
	username := sess.Username()
	ownedRooms := d.Rooms.PurgeUser(username)
	for _, roomName := range ownedRooms {
		evicted := d.Rooms.ForceDelete(roomName)
		for _, u := range evicted {
			if u == username {
				continue
			}
			if s, ok := d.online[u]; ok {
				s.SetLoggedOutOfRoom()
			}
			d.sendTo(u, protocol.Event{Kind: protocol.EventKicked, Room: roomName, Reason: "owner deleted account"})
		}
	}
	if err := d.Dir.Delete(username); err != nil {
		d.sendError(sess, err)
		return
	}
	delete(d.online, username)
	d.snap.MarkUsersDirty()
	d.snap.MarkRoomsDirty()
	d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: "account deleted"})
	sess.Reset()
	sess.Close()
}

// cmdAccountExport writes the caller's account to the vault and to
// data/logs/users/<name>.json.
func (d *Dispatcher) cmdAccountExport(sess *Session) {
	if sess.Phase() == PhaseGuest {
		d.sendError(sess, protocol.NewError(protocol.CodeNotLoggedIn, "not logged in"))
		return
	}
	username := sess.Username()
	acct := d.Dir.Get(username)
	if acct == nil {
		d.sendError(sess, protocol.NewError(protocol.CodeNotFound, "no such account"))
		return
	}
	if err := d.vault.ExportUser(username, acct); err != nil {
		d.sendError(sess, protocol.NewError(protocol.CodeInternal, err.Error()))
		return
	}
	if err := d.vault.ExportUserLog(username, acct); err != nil {
		d.sendError(sess, protocol.NewError(protocol.CodeInternal, err.Error()))
		return
	}
	d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: "account exported"})
}

// cmdAccountImport restores the caller's account from the vault,
// overwriting the live copy (e.g. after a password/key rollback).
func (d *Dispatcher) cmdAccountImport(sess *Session) {
	if sess.Phase() == PhaseGuest {
		d.sendError(sess, protocol.NewError(protocol.CodeNotLoggedIn, "not logged in"))
		return
	}
	username := sess.Username()
	acct, err := d.vault.ImportUser(username)
	if err != nil {
		d.sendError(sess, protocol.NewError(protocol.CodeNotFound, err.Error()))
		return
	}
	d.Dir.RestoreAccount(acct)
	d.snap.MarkUsersDirty()
	d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: "account imported"})
}

func (d *Dispatcher) cmdLogout(sess *Session) {
	if sess.Phase() == PhaseGuest {
		d.sendError(sess, protocol.NewError(protocol.CodeNotLoggedIn, "not logged in"))
		return
	}
	username := sess.Username()
	if room := sess.Room(); room != "" {
		d.Rooms.Leave(room, username)
		d.fanoutRoom(room, protocol.Event{Kind: protocol.EventMemberLeave, User: username, Room: room}, username)
	}
	delete(d.online, username)
	sess.Reset()
	d.send(sess, protocol.Event{Kind: protocol.EventState, Phase: PhaseGuest.String()})
}

func (d *Dispatcher) cmdQuit(sess *Session) {
	username := sess.Username()
	if room := sess.Room(); room != "" {
		d.Rooms.Leave(room, username)
		d.fanoutRoom(room, protocol.Event{Kind: protocol.EventMemberLeave, User: username, Room: room}, username)
	}
	if username != "" {
		delete(d.online, username)
	}
	sess.Close()
}

// --- rooms -------------------------------------------------------------

func (d *Dispatcher) cmdRoomCreate(sess *Session, cmd *Command) {
	if sess.Phase() == PhaseGuest {
		d.sendError(sess, protocol.NewError(protocol.CodeNotLoggedIn, "not logged in"))
		return
	}
	if len(cmd.Args) < 1 {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <room>"))
		return
	}
	username := sess.Username()
	if sess.Phase() == PhaseInRoom {
		d.sendError(sess, protocol.NewError(protocol.CodeAlreadyInRoom, "leave your current room first"))
		return
	}
	room, err := d.Rooms.Create(cmd.Args[0], username)
	if err != nil {
		d.sendError(sess, err)
		return
	}
	sess.SetInRoom(room.Name)
	d.snap.MarkRoomsDirty()
	d.send(sess, protocol.Event{Kind: protocol.EventState, Phase: PhaseInRoom.String(), Room: room.Name})
}

func (d *Dispatcher) cmdRoomJoin(sess *Session, cmd *Command) {
	if sess.Phase() == PhaseGuest {
		d.sendError(sess, protocol.NewError(protocol.CodeNotLoggedIn, "not logged in"))
		return
	}
	if sess.Phase() == PhaseInRoom {
		d.sendError(sess, protocol.NewError(protocol.CodeAlreadyInRoom, "leave your current room first"))
		return
	}
	if len(cmd.Args) < 1 {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <room>"))
		return
	}
	username := sess.Username()
	room, err := d.Rooms.Join(cmd.Args[0], username)
	if err != nil {
		d.sendError(sess, err)
		return
	}
	sess.SetInRoom(room.Name)
	d.send(sess, protocol.Event{Kind: protocol.EventState, Phase: PhaseInRoom.String(), Room: room.Name})
	d.fanoutRoom(room.Name, protocol.Event{Kind: protocol.EventMemberJoin, User: username, Room: room.Name}, username)
}

func (d *Dispatcher) cmdRoomLeave(sess *Session) {
	if sess.Phase() != PhaseInRoom {
		d.sendError(sess, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	username := sess.Username()
	roomName := sess.Room()
	if err := d.Rooms.Leave(roomName, username); err != nil {
		d.sendError(sess, err)
		return
	}
	sess.SetLoggedOutOfRoom()
	d.send(sess, protocol.Event{Kind: protocol.EventState, Phase: PhaseLoggedIn.String()})
	d.fanoutRoom(roomName, protocol.Event{Kind: protocol.EventMemberLeave, User: username, Room: roomName}, username)
}

func (d *Dispatcher) cmdRoomDelete(sess *Session, cmd *Command) {
	if sess.Phase() != PhaseInRoom {
		d.sendError(sess, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	if len(cmd.Args) < 1 {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <room>"))
		return
	}
	force := false
	for _, a := range cmd.Args[1:] {
		if strings.EqualFold(a, "force") {
			force = true
		}
	}
	roomName := cmd.Args[0]
	username := sess.Username()
	evicted, err := d.Rooms.Delete(roomName, username, force)
	if err != nil {
		d.sendError(sess, err)
		return
	}
	d.snap.MarkRoomsDirty()
	for _, u := range evicted {
		if s, ok := d.online[u]; ok {
			s.SetLoggedOutOfRoom()
		}
		d.sendTo(u, protocol.Event{Kind: protocol.EventState, Phase: PhaseLoggedIn.String(), Room: roomName})
	}
}

// cmdRoomImport restores a room from the vault under a name not currently
// live in the registry. Membership is not restored; the caller still
// needs /room join afterward.
func (d *Dispatcher) cmdRoomImport(sess *Session, cmd *Command) {
	if sess.Phase() == PhaseGuest {
		d.sendError(sess, protocol.NewError(protocol.CodeNotLoggedIn, "not logged in"))
		return
	}
	if len(cmd.Args) < 1 {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <room>"))
		return
	}
	name := cmd.Args[0]
	if d.Rooms.Get(name) != nil {
		d.sendError(sess, protocol.NewError(protocol.CodeAlreadyExists, "room exists"))
		return
	}
	snap, err := d.vault.ImportRoom(name)
	if err != nil {
		d.sendError(sess, protocol.NewError(protocol.CodeNotFound, err.Error()))
		return
	}
	d.Rooms.RestoreRoom(name, snap)
	d.snap.MarkRoomsDirty()
	d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: "room imported", Room: name})
}

// --- messaging -----------------------------------------------------------

func (d *Dispatcher) cmdMsg(sess *Session, cmd *Command) {
	if sess.Phase() != PhaseInRoom {
		d.sendError(sess, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	if len(cmd.Args) < 1 {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <user> <body>"))
		return
	}
	roomName := sess.Room()
	username := sess.Username()
	room := d.Rooms.Get(roomName)
	role := room.RoleOf(username)
	if !Allowed(role, CodeMsg, room.Perms(role)) {
		d.sendError(sess, protocol.NewError(protocol.CodePermissionDenied, "msg not permitted"))
		return
	}
	if d.Rooms.IsMuted(roomName, username) {
		d.sendError(sess, protocol.NewError(protocol.CodeMuted, "you are muted"))
		return
	}
	target := cmd.Args[0]
	targetSess, ok := d.online[target]
	if !ok || targetSess.Room() != roomName {
		d.sendError(sess, protocol.NewError(protocol.CodeNotFound, "recipient not in your room"))
		return
	}
	if targetSess.IgnoreSet[username] {
		return
	}
	if !d.Rooms.Allow(roomName, username) {
		metrics.RateLimitDropsTotal.Inc()
		d.sendError(sess, protocol.NewError(protocol.CodeRateLimited, "rate limited"))
		d.send(sess, protocol.Event{Kind: protocol.EventRateLimited})
		return
	}
	d.Rooms.Touch(roomName, username)
	d.send(targetSess, protocol.Event{Kind: protocol.EventChat, From: username, Body: restAfter(cmd.Rest, 1), Timestamp: time.Now().Unix()})
}

func (d *Dispatcher) cmdMe(sess *Session, cmd *Command) {
	if sess.Phase() != PhaseInRoom {
		d.sendError(sess, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	roomName := sess.Room()
	username := sess.Username()
	room := d.Rooms.Get(roomName)
	role := room.RoleOf(username)
	if !Allowed(role, CodeMe, room.Perms(role)) {
		d.sendError(sess, protocol.NewError(protocol.CodePermissionDenied, "me not permitted"))
		return
	}
	if d.Rooms.IsMuted(roomName, username) {
		d.sendError(sess, protocol.NewError(protocol.CodeMuted, "you are muted"))
		return
	}
	if !d.Rooms.Allow(roomName, username) {
		metrics.RateLimitDropsTotal.Inc()
		d.send(sess, protocol.Event{Kind: protocol.EventRateLimited})
		return
	}
	d.Rooms.Touch(roomName, username)
	body := cmd.Rest
	ev := protocol.Event{Kind: protocol.EventMe, From: username, Body: strings.TrimSpace(body), Timestamp: time.Now().Unix()}
	for _, member := range room.members() {
		if s, ok := d.online[member]; ok && !s.IgnoreSet[username] {
			d.send(s, ev)
		}
	}
}

func (d *Dispatcher) cmdAnnounce(sess *Session, cmd *Command) {
	if sess.Phase() != PhaseInRoom {
		d.sendError(sess, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	roomName := sess.Room()
	username := sess.Username()
	room := d.Rooms.Get(roomName)
	role := room.RoleOf(username)
	if !Allowed(role, CodeAnnounce, room.Perms(role)) {
		d.sendError(sess, protocol.NewError(protocol.CodePermissionDenied, "announce not permitted"))
		return
	}
	if d.Rooms.IsMuted(roomName, username) {
		d.sendError(sess, protocol.NewError(protocol.CodeMuted, "you are muted"))
		return
	}
	if !d.Rooms.Allow(roomName, username) {
		metrics.RateLimitDropsTotal.Inc()
		d.send(sess, protocol.Event{Kind: protocol.EventRateLimited})
		return
	}
	d.Rooms.Touch(roomName, username)
	body := strings.TrimSpace(cmd.Rest)
	ev := protocol.Event{Kind: protocol.EventAnnounce, From: username, Body: body, Timestamp: time.Now().Unix()}
	// Announce bypasses ignore lists.
	for _, member := range room.members() {
		d.sendTo(member, ev)
	}
}

func (d *Dispatcher) cmdAFK(sess *Session, cmd *Command) {
	if sess.Phase() != PhaseInRoom {
		d.sendError(sess, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	roomName := sess.Room()
	username := sess.Username()
	afk := true
	if len(cmd.Args) > 0 {
		afk = strings.EqualFold(cmd.Args[0], "on") || cmd.Args[0] == "1"
	}
	if err := d.Rooms.SetAFK(roomName, username, afk); err != nil {
		d.sendError(sess, err)
		return
	}
	d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: "afk updated"})
}

func (d *Dispatcher) cmdSeen(sess *Session, cmd *Command) {
	if sess.Phase() != PhaseInRoom {
		d.sendError(sess, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	if len(cmd.Args) < 1 {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <user>"))
		return
	}
	roomName := sess.Room()
	room := d.Rooms.Get(roomName)
	role := room.RoleOf(sess.Username())
	if !Allowed(role, CodeSeen, room.Perms(role)) {
		d.sendError(sess, protocol.NewError(protocol.CodePermissionDenied, "seen not permitted"))
		return
	}
	last, err := d.Rooms.Seen(roomName, cmd.Args[0])
	if err != nil {
		d.sendError(sess, err)
		return
	}
	d.send(sess, protocol.Event{Kind: protocol.EventSystem, User: cmd.Args[0], Timestamp: last.Unix()})
}

func (d *Dispatcher) cmdIgnore(sess *Session, cmd *Command, ignore bool) {
	if sess.Phase() == PhaseGuest {
		d.sendError(sess, protocol.NewError(protocol.CodeNotLoggedIn, "not logged in"))
		return
	}
	if len(cmd.Args) < 1 {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <user>"))
		return
	}
	if ignore {
		sess.IgnoreSet[cmd.Args[0]] = true
	} else {
		delete(sess.IgnoreSet, cmd.Args[0])
	}
	d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: "ignore list updated"})
}

func (d *Dispatcher) cmdPing(sess *Session, cmd *Command) {
	var ts int64
	if len(cmd.Args) > 0 {
		ts, _ = strconv.ParseInt(cmd.Args[0], 10, 64)
	}
	d.send(sess, protocol.Event{Kind: protocol.EventPong, Timestamp: ts})
}

// --- user (self-service, non-moderation) --------------------------------

func (d *Dispatcher) cmdUserList(sess *Session) {
	if sess.Phase() != PhaseInRoom {
		d.sendError(sess, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	roomName := sess.Room()
	room := d.Rooms.Get(roomName)
	role := room.RoleOf(sess.Username())
	if !Allowed(role, CodeUserList, room.Perms(role)) {
		d.sendError(sess, protocol.NewError(protocol.CodePermissionDenied, "user list not permitted"))
		return
	}
	members, err := d.Rooms.ListMembers(roomName)
	if err != nil {
		d.sendError(sess, err)
		return
	}
	d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: strings.Join(members, ",")})
}

func (d *Dispatcher) cmdUserRename(sess *Session, cmd *Command) {
	if sess.Phase() != PhaseInRoom {
		d.sendError(sess, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	if len(cmd.Args) < 1 {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <nickname>"))
		return
	}
	if err := d.Rooms.SetNickname(sess.Room(), sess.Username(), cmd.Args[0]); err != nil {
		d.sendError(sess, err)
		return
	}
	d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: "nickname updated"})
}

func (d *Dispatcher) cmdUserRecolor(sess *Session, cmd *Command) {
	if sess.Phase() != PhaseInRoom {
		d.sendError(sess, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	if len(cmd.Args) < 1 {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <color>"))
		return
	}
	color, parseErr := ParseHexColor(cmd.Args[0])
	if parseErr != nil {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, parseErr.Error()))
		return
	}
	if err := d.Rooms.SetColor(sess.Room(), sess.Username(), color); err != nil {
		d.sendError(sess, err)
		return
	}
	d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: "color updated"})
}

func (d *Dispatcher) cmdUserHide(sess *Session, cmd *Command) {
	if sess.Phase() != PhaseInRoom {
		d.sendError(sess, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	hidden := true
	if len(cmd.Args) > 0 {
		hidden = strings.EqualFold(cmd.Args[0], "on") || cmd.Args[0] == "1"
	}
	if err := d.Rooms.SetHidden(sess.Room(), sess.Username(), hidden); err != nil {
		d.sendError(sess, err)
		return
	}
	d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: "hidden updated"})
}

// --- moderation ----------------------------------------------------------

func (d *Dispatcher) requireRoomPerm(sess *Session, code Code) (room *Room, ok bool) {
	if sess.Phase() != PhaseInRoom {
		d.sendError(sess, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return nil, false
	}
	room = d.Rooms.Get(sess.Room())
	role := room.RoleOf(sess.Username())
	if !Allowed(role, code, room.Perms(role)) {
		d.sendError(sess, protocol.NewError(protocol.CodePermissionDenied, "insufficient permission"))
		return nil, false
	}
	return room, true
}

func (d *Dispatcher) cmdModInfo(sess *Session) {
	room, ok := d.requireRoomPerm(sess, CodeModInfo)
	if !ok {
		return
	}
	d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: strings.Join(room.members(), ",")})
}

func (d *Dispatcher) cmdModKick(sess *Session, cmd *Command) {
	room, ok := d.requireRoomPerm(sess, CodeModKick)
	if !ok {
		return
	}
	if len(cmd.Args) < 1 {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <user>"))
		return
	}
	target := cmd.Args[0]
	if err := d.Rooms.Kick(room.Name, sess.Username(), target); err != nil {
		d.sendError(sess, err)
		return
	}
	d.Audit.Record(AuditEntry{When: time.Now(), Actor: sess.Username(), Action: "kick", Target: target, Room: room.Name, Detail: cmd.Rest})
	if s, ok := d.online[target]; ok {
		s.SetLoggedOutOfRoom()
	}
	d.sendTo(target, protocol.Event{Kind: protocol.EventKicked, Room: room.Name, Reason: cmd.Rest})
	d.fanoutRoom(room.Name, protocol.Event{Kind: protocol.EventMemberLeave, User: target, Room: room.Name}, target)
}

func (d *Dispatcher) cmdModBan(sess *Session, cmd *Command) {
	room, ok := d.requireRoomPerm(sess, CodeModBan)
	if !ok {
		return
	}
	if !requireFields(cmd.Args, 2) {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <user> <duration>"))
		return
	}
	target, durSpec := cmd.Args[0], cmd.Args[1]
	dur, permanent, parseErr := ParseDuration(durSpec)
	if parseErr != nil {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, parseErr.Error()))
		return
	}
	var until time.Time
	if !permanent {
		until = time.Now().Add(dur)
	}
	if err := d.Rooms.Ban(room.Name, sess.Username(), target, until, cmd.Rest); err != nil {
		d.sendError(sess, err)
		return
	}
	d.Audit.Record(AuditEntry{When: time.Now(), Actor: sess.Username(), Action: "ban", Target: target, Room: room.Name, Detail: cmd.Rest})
	if s, ok := d.online[target]; ok {
		s.SetLoggedOutOfRoom()
	}
	ev := protocol.Event{Kind: protocol.EventBanned, Room: room.Name, Reason: cmd.Rest}
	if !permanent {
		ev.Until = until.Unix()
	}
	d.sendTo(target, ev)
	d.fanoutRoom(room.Name, protocol.Event{Kind: protocol.EventMemberLeave, User: target, Room: room.Name}, target)
	d.snap.MarkRoomsDirty()
}

func (d *Dispatcher) cmdModMute(sess *Session, cmd *Command) {
	room, ok := d.requireRoomPerm(sess, CodeModMute)
	if !ok {
		return
	}
	if !requireFields(cmd.Args, 2) {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <user> <duration>"))
		return
	}
	target, durSpec := cmd.Args[0], cmd.Args[1]
	dur, permanent, parseErr := ParseDuration(durSpec)
	if parseErr != nil {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, parseErr.Error()))
		return
	}
	var until time.Time
	if !permanent {
		until = time.Now().Add(dur)
	}
	if err := d.Rooms.Mute(room.Name, sess.Username(), target, until, cmd.Rest); err != nil {
		d.sendError(sess, err)
		return
	}
	d.Audit.Record(AuditEntry{When: time.Now(), Actor: sess.Username(), Action: "mute", Target: target, Room: room.Name, Detail: cmd.Rest})
	ev := protocol.Event{Kind: protocol.EventMuted, Room: room.Name, Reason: cmd.Rest}
	if !permanent {
		ev.Until = until.Unix()
	}
	d.sendTo(target, ev)
	d.snap.MarkRoomsDirty()
}

// --- superuser -------------------------------------------------------

func (d *Dispatcher) cmdRolesAssign(sess *Session, cmd *Command) {
	room, ok := d.requireRoomPerm(sess, CodeSuperRoles)
	if !ok {
		return
	}
	if !requireFields(cmd.Args, 2) {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <role> <user>"))
		return
	}
	role := roleFromToken(cmd.Args[0])
	target := cmd.Args[1]
	if err := d.Rooms.AssignRole(room.Name, sess.Username(), target, role); err != nil {
		d.sendError(sess, err)
		return
	}
	d.Audit.Record(AuditEntry{When: time.Now(), Actor: sess.Username(), Action: "role_assign", Target: target, Room: room.Name, Detail: role.String()})
	d.snap.MarkRoomsDirty()
	d.fanoutRoom(room.Name, protocol.Event{Kind: protocol.EventSystem, Msg: "role assigned", User: target}, "")
}

func (d *Dispatcher) cmdRolesAdd(sess *Session, cmd *Command) {
	room, ok := d.requireRoomPerm(sess, CodeSuperRoles)
	if !ok {
		return
	}
	if !requireFields(cmd.Args, 2) {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <role> <code>"))
		return
	}
	role := roleFromToken(cmd.Args[0])
	if err := d.Rooms.AddPermission(room.Name, role, Code(cmd.Args[1])); err != nil {
		d.sendError(sess, err)
		return
	}
	d.snap.MarkRoomsDirty()
	d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: "permission added"})
}

func (d *Dispatcher) cmdRolesRevoke(sess *Session, cmd *Command) {
	room, ok := d.requireRoomPerm(sess, CodeSuperRoles)
	if !ok {
		return
	}
	if !requireFields(cmd.Args, 2) {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <role> <code>"))
		return
	}
	role := roleFromToken(cmd.Args[0])
	if err := d.Rooms.RevokePermission(room.Name, role, Code(cmd.Args[1])); err != nil {
		d.sendError(sess, err)
		return
	}
	d.snap.MarkRoomsDirty()
	d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: "permission revoked"})
}

func (d *Dispatcher) cmdWhitelist(sess *Session, cmd *Command) {
	room, ok := d.requireRoomPerm(sess, CodeSuperWhitelist)
	if !ok {
		return
	}
	if len(cmd.Args) < 1 {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <on|off|add|remove> [user]"))
		return
	}
	var err *appError
	switch strings.ToLower(cmd.Args[0]) {
	case "on":
		err = d.Rooms.SetWhitelist(room.Name, true)
	case "off":
		err = d.Rooms.SetWhitelist(room.Name, false)
	case "add":
		if len(cmd.Args) < 2 {
			err = newAppError(codeInvalidArgument, "need <user>")
		} else {
			err = d.Rooms.WhitelistAdd(room.Name, cmd.Args[1])
		}
	case "remove":
		if len(cmd.Args) < 2 {
			err = newAppError(codeInvalidArgument, "need <user>")
		} else {
			err = d.Rooms.WhitelistRemove(room.Name, cmd.Args[1])
		}
	default:
		err = newAppError(codeInvalidArgument, "unknown whitelist subcommand")
	}
	if err != nil {
		d.sendError(sess, err)
		return
	}
	d.snap.MarkRoomsDirty()
	d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: "whitelist updated"})
}

func (d *Dispatcher) cmdLimit(sess *Session, cmd *Command) {
	room, ok := d.requireRoomPerm(sess, CodeSuperLimit)
	if !ok {
		return
	}
	if !requireFields(cmd.Args, 2) {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "need <rate|session> <value>"))
		return
	}
	n, convErr := strconv.Atoi(cmd.Args[1])
	if convErr != nil {
		d.sendError(sess, protocol.NewError(protocol.CodeInvalidArgument, "value must be an integer"))
		return
	}
	var err *appError
	switch strings.ToLower(cmd.Args[0]) {
	case "rate":
		err = d.Rooms.SetRateLimit(room.Name, n)
	case "session":
		err = d.Rooms.SetSessionTimeout(room.Name, n)
	default:
		err = newAppError(codeInvalidArgument, "unknown limit kind")
	}
	if err != nil {
		d.sendError(sess, err)
		return
	}
	d.snap.MarkRoomsDirty()
	d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: "limit updated"})
}

// cmdSuperUsers reports the room's online members plus a trailing section
// of recent audit entries for this room, newest last.
func (d *Dispatcher) cmdSuperUsers(sess *Session) {
	room, ok := d.requireRoomPerm(sess, CodeSuperUsers)
	if !ok {
		return
	}
	room.mu.RLock()
	names := make([]string, 0, len(room.MembersOnline))
	for u := range room.MembersOnline {
		names = append(names, u)
	}
	room.mu.RUnlock()

	var audit []string
	for _, e := range d.Audit.Recent() {
		if e.Room != room.Name {
			continue
		}
		audit = append(audit, e.Actor+" "+e.Action+" "+e.Target)
	}
	msg := strings.Join(names, ",")
	if len(audit) > 0 {
		msg += "|" + strings.Join(audit, ";")
	}
	d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: msg})
}

// cmdSuperExport writes the current room's snapshot to the vault.
func (d *Dispatcher) cmdSuperExport(sess *Session) {
	room, ok := d.requireRoomPerm(sess, CodeSuperExport)
	if !ok {
		return
	}
	snap, found := d.Rooms.SnapshotRoom(room.Name)
	if !found {
		d.sendError(sess, protocol.NewError(protocol.CodeNotFound, "no such room"))
		return
	}
	if err := d.vault.ExportRoom(room.Name, snap); err != nil {
		d.sendError(sess, protocol.NewError(protocol.CodeInternal, err.Error()))
		return
	}
	d.send(sess, protocol.Event{Kind: protocol.EventSystem, Msg: "room exported"})
}

func roleFromToken(s string) Role {
	switch strings.ToLower(s) {
	case "owner":
		return RoleOwner
	case "admin":
		return RoleAdmin
	case "moderator", "mod":
		return RoleModerator
	default:
		return RoleUser
	}
}

// --- chat frames -----------------------------------------------------

func (d *Dispatcher) handleChat(sess *Session, frame protocol.ChatFrame) {
	if sess.Phase() != PhaseInRoom {
		d.sendError(sess, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	roomName := sess.Room()
	username := sess.Username()
	if d.Rooms.IsMuted(roomName, username) {
		d.sendError(sess, protocol.NewError(protocol.CodeMuted, "you are muted"))
		return
	}
	if !d.Rooms.Allow(roomName, username) {
		metrics.RateLimitDropsTotal.Inc()
		d.send(sess, protocol.Event{Kind: protocol.EventRateLimited})
		return
	}
	d.Rooms.Touch(roomName, username)
	room := d.Rooms.Get(roomName)
	if room == nil {
		return
	}
	ts := time.Now().Unix()
	if frame.To == "*" {
		for _, member := range room.members() {
			s, ok := d.online[member]
			if !ok {
				continue
			}
			if member != username && s.IgnoreSet[username] {
				continue
			}
			d.send(s, protocol.Event{Kind: protocol.EventChat, From: username, To: "*", CT: frame.CT, Timestamp: ts})
		}
		return
	}
	target, ok := d.online[frame.To]
	if !ok || target.Room() != roomName {
		d.sendError(sess, protocol.NewError(protocol.CodeNotFound, "recipient not in your room"))
		return
	}
	if target.IgnoreSet[username] {
		return
	}
	d.send(target, protocol.Event{Kind: protocol.EventChat, From: username, To: frame.To, CT: frame.CT, Timestamp: ts})
}
