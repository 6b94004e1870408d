package core

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BanEntry and MuteEntry share the same shape: an optional expiry and an
// optional reason. A zero Until means permanent.
type BanEntry struct {
	Until  time.Time
	Reason string
}

type MuteEntry struct {
	Until  time.Time
	Reason string
}

func (b BanEntry) active(now time.Time) bool  { return b.Until.IsZero() || b.Until.After(now) }
func (m MuteEntry) active(now time.Time) bool { return m.Until.IsZero() || m.Until.After(now) }

// Whitelist gates room join when Enabled; Owner always passes regardless of
// Members contents.
type Whitelist struct {
	Enabled bool
	Members map[string]bool
}

// MemberState is per-user room-membership state.
type MemberState struct {
	Nickname     string
	Color        string
	Hidden       bool
	AFK          bool
	LastSeen     time.Time
	limiter      *rate.Limiter // nil when the room has no rate_limit configured
}

func (m *MemberState) touch(now time.Time) { m.LastSeen = now }

// Room is the full per-room state the Room Registry owns.
type Room struct {
	mu sync.RWMutex

	Name            string
	Owner           string
	Roles           map[string]Role
	RolePermissions map[Role]map[Code]bool // keyed by RoleModerator/RoleUser only
	RoleColors      map[Role]string
	WL              Whitelist
	Bans            map[string]BanEntry
	Mutes           map[string]MuteEntry
	RateLimit       int // messages per 5s, 0 = disabled
	SessionTimeout  int // seconds, 0 = disabled
	MembersOnline   map[string]*MemberState
}

func newRoom(name, owner string) *Room {
	perms := DefaultRolePermissions()
	return &Room{
		Name:            name,
		Owner:           owner,
		Roles:           map[string]Role{owner: RoleOwner},
		RolePermissions: perms,
		RoleColors:      DefaultRoleColors(),
		WL:              Whitelist{Members: make(map[string]bool)},
		Bans:            make(map[string]BanEntry),
		Mutes:           make(map[string]MuteEntry),
		MembersOnline:   map[string]*MemberState{owner: {LastSeen: time.Now()}},
	}
}

// RoleOf returns the role a username holds in the room, defaulting to User
// for a member with no explicit entry.
func (r *Room) RoleOf(username string) Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if role, ok := r.Roles[username]; ok {
		return role
	}
	return RoleUser
}

// Perms returns the permission set applicable to role (empty for Owner/Admin
// since Allowed short-circuits those).
func (r *Room) Perms(role Role) map[Code]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.RolePermissions[role]
}

func (r *Room) member(username string) *MemberState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.MembersOnline[username]
}

func (r *Room) memberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.MembersOnline)
}

func (r *Room) members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.MembersOnline))
	for u := range r.MembersOnline {
		out = append(out, u)
	}
	return out
}

// RoomRegistry is the in-memory registry of rooms keyed by name, ordered
// for deterministic listing.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	order []string
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[string]*Room)}
}

// Create makes a fresh room with owner as its sole Owner member. The name
// "force" is refused because /room delete reads that token as its flag.
func (rr *RoomRegistry) Create(name, owner string) (*Room, *appError) {
	if !ValidName(name) || strings.EqualFold(name, "force") {
		return nil, newAppError(codeInvalidArgument, "invalid room name")
	}
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if _, ok := rr.rooms[name]; ok {
		return nil, newAppError(codeAlreadyExists, "room exists")
	}
	room := newRoom(name, owner)
	rr.rooms[name] = room
	rr.order = append(rr.order, name)
	return room, nil
}

// Get returns the room by name, or nil.
func (rr *RoomRegistry) Get(name string) *Room {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return rr.rooms[name]
}

// Names lists room names in creation order.
func (rr *RoomRegistry) Names() []string {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	out := make([]string, len(rr.order))
	copy(out, rr.order)
	return out
}

// Delete removes a room. requester must be the Owner; fails with
// NotOwner otherwise. Non-owner members present block deletion
// unless force is set. Returns the evicted usernames (the other members
// followed by the owner) so the dispatcher can transition their
// sessions back to LoggedIn.
func (rr *RoomRegistry) Delete(name, requester string, force bool) ([]string, *appError) {
	rr.mu.Lock()
	room, ok := rr.rooms[name]
	if !ok {
		rr.mu.Unlock()
		return nil, newAppError(codeNotFound, "no such room")
	}
	rr.mu.Unlock()

	room.mu.Lock()
	if room.Owner != requester {
		room.mu.Unlock()
		return nil, newAppError(codeNotOwner, "only the owner may delete this room")
	}
	var others []string
	for u := range room.MembersOnline {
		if u != requester {
			others = append(others, u)
		}
	}
	if len(others) > 0 && !force {
		room.mu.Unlock()
		return nil, newAppError(codeInvalidArgument, "room has other members present; use force")
	}
	room.mu.Unlock()

	rr.mu.Lock()
	delete(rr.rooms, name)
	for i, n := range rr.order {
		if n == name {
			rr.order = append(rr.order[:i], rr.order[i+1:]...)
			break
		}
	}
	rr.mu.Unlock()

	return append(others, requester), nil
}

// Join admits username into room. Checks ban and whitelist; seeds a User
// role and MemberState if the user has no prior role entry (returning
// members keep whatever role they held before, e.g. Moderator/Admin).
func (rr *RoomRegistry) Join(name, username string) (*Room, *appError) {
	room := rr.Get(name)
	if room == nil {
		return nil, newAppError(codeNotFound, "no such room")
	}
	now := time.Now()

	room.mu.Lock()
	defer room.mu.Unlock()

	if ban, ok := room.Bans[username]; ok && ban.active(now) {
		return nil, newAppError(codeBanned, ban.Reason)
	}
	if room.WL.Enabled && username != room.Owner && !room.WL.Members[username] {
		return nil, newAppError(codeWhitelistBlocked, "room is whitelisted")
	}
	if _, ok := room.MembersOnline[username]; ok {
		return nil, newAppError(codeAlreadyInRoom, "already in room")
	}
	if _, ok := room.Roles[username]; !ok {
		room.Roles[username] = RoleUser
	}
	room.MembersOnline[username] = &MemberState{LastSeen: now}
	return room, nil
}

// Leave removes username's MemberState from room without touching Roles
// (a returning member keeps their role). Used for /room leave, /quit,
// timeout eviction, and as the first step of kick/ban.
func (rr *RoomRegistry) Leave(name, username string) *appError {
	room := rr.Get(name)
	if room == nil {
		return newAppError(codeNotFound, "no such room")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if _, ok := room.MembersOnline[username]; !ok {
		return newAppError(codeNotInRoom, "not in room")
	}
	delete(room.MembersOnline, username)
	return nil
}

// canModerate enforces the role-rank protections for moderation actions:
// Admins may not act on Admins/Owner; Moderators may not act on
// Moderators/Admins/Owner; nobody may act on Owner.
func canModerate(actorRole, targetRole Role) bool {
	if targetRole == RoleOwner {
		return false
	}
	return actorRole > targetRole
}

// Kick removes target's MemberState from the room. Caller (dispatcher) is
// responsible for the RBAC gate on the kick verb itself and for the
// actor/target role protections, resolved here via canModerate so the
// rule lives in one place.
func (rr *RoomRegistry) Kick(name, actor, target string) *appError {
	room := rr.Get(name)
	if room == nil {
		return newAppError(codeNotFound, "no such room")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if _, ok := room.MembersOnline[target]; !ok {
		return newAppError(codeNotInRoom, "target not in room")
	}
	actorRole := room.Roles[actor]
	targetRole := room.Roles[target]
	if actor != target && !canModerate(actorRole, targetRole) {
		return newAppError(codePermissionDenied, "insufficient role to kick this user")
	}
	delete(room.MembersOnline, target)
	return nil
}

// Ban kicks target (if present) and records a ban entry.
func (rr *RoomRegistry) Ban(name, actor, target string, until time.Time, reason string) *appError {
	room := rr.Get(name)
	if room == nil {
		return newAppError(codeNotFound, "no such room")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	actorRole := room.Roles[actor]
	targetRole := room.Roles[target]
	if targetRole == RoleOwner {
		return newAppError(codeOwnerProtected, "cannot ban the owner")
	}
	if actor != target && !canModerate(actorRole, targetRole) {
		return newAppError(codePermissionDenied, "insufficient role to ban this user")
	}
	delete(room.MembersOnline, target)
	room.Bans[target] = BanEntry{Until: until, Reason: reason}
	return nil
}

// Unban clears a ban entry outright.
func (rr *RoomRegistry) Unban(name, target string) *appError {
	room := rr.Get(name)
	if room == nil {
		return newAppError(codeNotFound, "no such room")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	delete(room.Bans, target)
	return nil
}

// Mute records a mute entry; muted users may still issue commands but
// their chat/me/msg/announce is rejected (enforced in the dispatcher via
// IsMuted).
func (rr *RoomRegistry) Mute(name, actor, target string, until time.Time, reason string) *appError {
	room := rr.Get(name)
	if room == nil {
		return newAppError(codeNotFound, "no such room")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	actorRole := room.Roles[actor]
	targetRole := room.Roles[target]
	if targetRole == RoleOwner {
		return newAppError(codeOwnerProtected, "cannot mute the owner")
	}
	if actor != target && !canModerate(actorRole, targetRole) {
		return newAppError(codePermissionDenied, "insufficient role to mute this user")
	}
	room.Mutes[target] = MuteEntry{Until: until, Reason: reason}
	return nil
}

func (rr *RoomRegistry) Unmute(name, target string) *appError {
	room := rr.Get(name)
	if room == nil {
		return newAppError(codeNotFound, "no such room")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	delete(room.Mutes, target)
	return nil
}

// IsMuted reports whether username currently has an active mute in room.
func (rr *RoomRegistry) IsMuted(name, username string) bool {
	room := rr.Get(name)
	if room == nil {
		return false
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	m, ok := room.Mutes[username]
	return ok && m.active(time.Now())
}

// AssignRole implements /super roles assign, including the owner-transfer
// special case: assigning Owner demotes the previous Owner to Admin
// atomically.
func (rr *RoomRegistry) AssignRole(name, actor, target string, newRole Role) *appError {
	room := rr.Get(name)
	if room == nil {
		return newAppError(codeNotFound, "no such room")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if _, ok := room.MembersOnline[target]; !ok {
		return newAppError(codeNotFound, "target must be a current member")
	}
	actorRole := room.Roles[actor]
	if !CanAssignRole(actorRole, newRole) {
		return newAppError(codePermissionDenied, "insufficient role to assign this role")
	}
	if newRole == RoleOwner {
		prevOwner := room.Owner
		room.Roles[prevOwner] = RoleAdmin
		room.Roles[target] = RoleOwner
		room.Owner = target
		return nil
	}
	if room.Roles[target] == RoleOwner {
		return newAppError(codeOwnerProtected, "use owner transfer to change the owner's role")
	}
	room.Roles[target] = newRole
	return nil
}

// AddPermission/RevokePermission implement /super roles add|revoke.
func (rr *RoomRegistry) AddPermission(name string, role Role, code Code) *appError {
	room := rr.Get(name)
	if room == nil {
		return newAppError(codeNotFound, "no such room")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.RolePermissions[role] == nil {
		room.RolePermissions[role] = make(map[Code]bool)
	}
	AddPermission(room.RolePermissions[role], code)
	return nil
}

func (rr *RoomRegistry) RevokePermission(name string, role Role, code Code) *appError {
	room := rr.Get(name)
	if room == nil {
		return newAppError(codeNotFound, "no such room")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.RolePermissions[role] != nil {
		RevokePermission(room.RolePermissions[role], code)
	}
	return nil
}

// SetWhitelist toggles whitelist enforcement.
func (rr *RoomRegistry) SetWhitelist(name string, enabled bool) *appError {
	room := rr.Get(name)
	if room == nil {
		return newAppError(codeNotFound, "no such room")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	room.WL.Enabled = enabled
	return nil
}

func (rr *RoomRegistry) WhitelistAdd(name, username string) *appError {
	room := rr.Get(name)
	if room == nil {
		return newAppError(codeNotFound, "no such room")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	room.WL.Members[username] = true
	return nil
}

func (rr *RoomRegistry) WhitelistRemove(name, username string) *appError {
	room := rr.Get(name)
	if room == nil {
		return newAppError(codeNotFound, "no such room")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	delete(room.WL.Members, username)
	return nil
}

// SetRateLimit sets messages-per-5s (0 disables); existing member limiters
// are dropped so they get recreated lazily with the new rate.
func (rr *RoomRegistry) SetRateLimit(name string, n int) *appError {
	room := rr.Get(name)
	if room == nil {
		return newAppError(codeNotFound, "no such room")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	room.RateLimit = n
	for _, m := range room.MembersOnline {
		m.limiter = nil
	}
	return nil
}

func (rr *RoomRegistry) SetSessionTimeout(name string, seconds int) *appError {
	room := rr.Get(name)
	if room == nil {
		return newAppError(codeNotFound, "no such room")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	room.SessionTimeout = seconds
	return nil
}

// SetColor implements /user recolor for the calling member.
func (rr *RoomRegistry) SetColor(name, username, color string) *appError {
	room := rr.Get(name)
	if room == nil {
		return newAppError(codeNotFound, "no such room")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	m, ok := room.MembersOnline[username]
	if !ok {
		return newAppError(codeNotInRoom, "not in room")
	}
	m.Color = color
	return nil
}

func (rr *RoomRegistry) SetNickname(name, username, nickname string) *appError {
	room := rr.Get(name)
	if room == nil {
		return newAppError(codeNotFound, "no such room")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	m, ok := room.MembersOnline[username]
	if !ok {
		return newAppError(codeNotInRoom, "not in room")
	}
	m.Nickname = nickname
	return nil
}

func (rr *RoomRegistry) SetHidden(name, username string, hidden bool) *appError {
	room := rr.Get(name)
	if room == nil {
		return newAppError(codeNotFound, "no such room")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	m, ok := room.MembersOnline[username]
	if !ok {
		return newAppError(codeNotInRoom, "not in room")
	}
	m.Hidden = hidden
	return nil
}

func (rr *RoomRegistry) SetAFK(name, username string, afk bool) *appError {
	room := rr.Get(name)
	if room == nil {
		return newAppError(codeNotFound, "no such room")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	m, ok := room.MembersOnline[username]
	if !ok {
		return newAppError(codeNotInRoom, "not in room")
	}
	m.AFK = afk
	return nil
}

// Touch updates last_seen for username in room, called on every inbound
// message or command.
func (rr *RoomRegistry) Touch(name, username string) {
	room := rr.Get(name)
	if room == nil {
		return
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if m, ok := room.MembersOnline[username]; ok {
		m.touch(time.Now())
	}
}

// Seen returns username's last_seen timestamp in room, if present.
func (rr *RoomRegistry) Seen(name, username string) (time.Time, *appError) {
	room := rr.Get(name)
	if room == nil {
		return time.Time{}, newAppError(codeNotFound, "no such room")
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	m, ok := room.MembersOnline[username]
	if !ok {
		return time.Time{}, newAppError(codeNotFound, "user not in room")
	}
	return m.LastSeen, nil
}

// ListMembers returns non-hidden members of room.
func (rr *RoomRegistry) ListMembers(name string) ([]string, *appError) {
	room := rr.Get(name)
	if room == nil {
		return nil, newAppError(codeNotFound, "no such room")
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	out := make([]string, 0, len(room.MembersOnline))
	for u, m := range room.MembersOnline {
		if !m.Hidden {
			out = append(out, u)
		}
	}
	return out, nil
}

// Allow reports whether a chat/me/msg/announce send from username passes
// the room's rate limiter, lazily creating one per member when
// room.RateLimit is set. The sliding window is approximated as a token
// bucket refilling at RateLimit/5 per second (see DESIGN.md).
func (rr *RoomRegistry) Allow(name, username string) bool {
	room := rr.Get(name)
	if room == nil {
		return true
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.RateLimit <= 0 {
		return true
	}
	m, ok := room.MembersOnline[username]
	if !ok {
		return true
	}
	if m.limiter == nil {
		m.limiter = rate.NewLimiter(rate.Limit(room.RateLimit)/5, room.RateLimit)
	}
	return m.limiter.Allow()
}

// IdleMembers returns usernames whose last_seen exceeds room's
// session_timeout as of now, used for housekeeper eviction.
func (rr *RoomRegistry) IdleMembers(name string, now time.Time) []string {
	room := rr.Get(name)
	if room == nil || room.SessionTimeout <= 0 {
		return nil
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	threshold := time.Duration(room.SessionTimeout) * time.Second
	var idle []string
	for u, m := range room.MembersOnline {
		if now.Sub(m.LastSeen) > threshold {
			idle = append(idle, u)
		}
	}
	return idle
}

// ExpireBansAndMutes drops every ban/mute entry whose Until has passed.
func (rr *RoomRegistry) ExpireBansAndMutes(now time.Time) {
	rr.mu.RLock()
	rooms := make([]*Room, 0, len(rr.rooms))
	for _, room := range rr.rooms {
		rooms = append(rooms, room)
	}
	rr.mu.RUnlock()

	for _, room := range rooms {
		room.mu.Lock()
		for u, b := range room.Bans {
			if !b.active(now) {
				delete(room.Bans, u)
			}
		}
		for u, m := range room.Mutes {
			if !m.active(now) {
				delete(room.Mutes, u)
			}
		}
		room.mu.Unlock()
	}
}

// RenameUser rewrites every reference to oldName in every room's
// roles/whitelist/bans/mutes/members_online to newName.
func (rr *RoomRegistry) RenameUser(oldName, newName string) {
	rr.mu.RLock()
	rooms := make([]*Room, 0, len(rr.rooms))
	for _, room := range rr.rooms {
		rooms = append(rooms, room)
	}
	rr.mu.RUnlock()

	for _, room := range rooms {
		room.mu.Lock()
		if room.Owner == oldName {
			room.Owner = newName
		}
		if role, ok := room.Roles[oldName]; ok {
			delete(room.Roles, oldName)
			room.Roles[newName] = role
		}
		if room.WL.Members[oldName] {
			delete(room.WL.Members, oldName)
			room.WL.Members[newName] = true
		}
		if b, ok := room.Bans[oldName]; ok {
			delete(room.Bans, oldName)
			room.Bans[newName] = b
		}
		if m, ok := room.Mutes[oldName]; ok {
			delete(room.Mutes, oldName)
			room.Mutes[newName] = m
		}
		if ms, ok := room.MembersOnline[oldName]; ok {
			delete(room.MembersOnline, oldName)
			room.MembersOnline[newName] = ms
		}
		room.mu.Unlock()
	}
}

// PurgeUser removes every reference to username across all rooms and
// reports the names of rooms username owned, so the dispatcher can destroy
// them and evict their members with reason "owner deleted account".
func (rr *RoomRegistry) PurgeUser(username string) (ownedRooms []string) {
	rr.mu.RLock()
	names := make([]string, len(rr.order))
	copy(names, rr.order)
	rr.mu.RUnlock()

	for _, name := range names {
		room := rr.Get(name)
		if room == nil {
			continue
		}
		room.mu.Lock()
		owned := room.Owner == username
		delete(room.Roles, username)
		delete(room.WL.Members, username)
		delete(room.Bans, username)
		delete(room.Mutes, username)
		delete(room.MembersOnline, username)
		room.mu.Unlock()
		if owned {
			ownedRooms = append(ownedRooms, name)
		}
	}
	return ownedRooms
}

// ForceDelete removes a room unconditionally (used for the owner-deleted
// cascade, which does not go through the normal force-flag /room delete
// path). Returns the usernames who were present so they can be evicted.
func (rr *RoomRegistry) ForceDelete(name string) []string {
	room := rr.Get(name)
	if room == nil {
		return nil
	}
	room.mu.Lock()
	var present []string
	for u := range room.MembersOnline {
		present = append(present, u)
	}
	room.mu.Unlock()

	rr.mu.Lock()
	delete(rr.rooms, name)
	for i, n := range rr.order {
		if n == name {
			rr.order = append(rr.order[:i], rr.order[i+1:]...)
			break
		}
	}
	rr.mu.Unlock()
	return present
}

// RoomSnapshot is the persisted shape for one room entry in data/rooms.json.
type RoomSnapshot struct {
	Owner           string                 `json:"owner"`
	Roles           map[string]string      `json:"roles"`
	RolePermissions map[string][]string    `json:"role_permissions"`
	RoleColors      map[string]string      `json:"role_colors"`
	Whitelist       WhitelistSnapshot      `json:"whitelist"`
	Bans            map[string]BanSnapshot `json:"bans"`
	Mutes           map[string]BanSnapshot `json:"mutes"`
	RateLimit       int                    `json:"rate_limit,omitempty"`
	SessionTimeout  int                    `json:"session_timeout,omitempty"`
}

type WhitelistSnapshot struct {
	Enabled bool     `json:"enabled"`
	Members []string `json:"members"`
}

type BanSnapshot struct {
	Until  int64  `json:"until,omitempty"` // unix seconds, 0 = permanent
	Reason string `json:"reason,omitempty"`
}

// snapshotRoomLocked renders room into the persisted shape. Caller must
// hold room.mu for reading.
func snapshotRoomLocked(room *Room) RoomSnapshot {
	roles := make(map[string]string, len(room.Roles))
	for u, role := range room.Roles {
		roles[u] = role.String()
	}
	perms := make(map[string][]string, len(room.RolePermissions))
	for role, codes := range room.RolePermissions {
		list := make([]string, 0, len(codes))
		for c := range codes {
			list = append(list, string(c))
		}
		perms[role.String()] = list
	}
	colors := make(map[string]string, len(room.RoleColors))
	for role, color := range room.RoleColors {
		colors[role.String()] = color
	}
	members := make([]string, 0, len(room.WL.Members))
	for u := range room.WL.Members {
		members = append(members, u)
	}
	bans := make(map[string]BanSnapshot, len(room.Bans))
	for u, b := range room.Bans {
		bans[u] = BanSnapshot{Until: unixOrZero(b.Until), Reason: b.Reason}
	}
	mutes := make(map[string]BanSnapshot, len(room.Mutes))
	for u, m := range room.Mutes {
		mutes[u] = BanSnapshot{Until: unixOrZero(m.Until), Reason: m.Reason}
	}
	return RoomSnapshot{
		Owner:           room.Owner,
		Roles:           roles,
		RolePermissions: perms,
		RoleColors:      colors,
		Whitelist:       WhitelistSnapshot{Enabled: room.WL.Enabled, Members: members},
		Bans:            bans,
		Mutes:           mutes,
		RateLimit:       room.RateLimit,
		SessionTimeout:  room.SessionTimeout,
	}
}

// Snapshot renders the registry into the persisted data/rooms.json shape.
func (rr *RoomRegistry) Snapshot() map[string]RoomSnapshot {
	rr.mu.RLock()
	names := make([]string, len(rr.order))
	copy(names, rr.order)
	rr.mu.RUnlock()

	out := make(map[string]RoomSnapshot, len(names))
	for _, name := range names {
		room := rr.Get(name)
		if room == nil {
			continue
		}
		room.mu.RLock()
		out[name] = snapshotRoomLocked(room)
		room.mu.RUnlock()
	}
	return out
}

// SnapshotRoom renders a single room into the persisted shape, used by
// /super export. ok is false if no such room exists.
func (rr *RoomRegistry) SnapshotRoom(name string) (snap RoomSnapshot, ok bool) {
	room := rr.Get(name)
	if room == nil {
		return RoomSnapshot{}, false
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return snapshotRoomLocked(room), true
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// roomFromSnapshot builds a *Room from a persisted or vault-imported
// snapshot. Members are never restored as online; room membership is
// ephemeral and only repopulated as sessions reconnect and join.
func roomFromSnapshot(name string, rs RoomSnapshot) *Room {
	room := &Room{
		Name:            name,
		Owner:           rs.Owner,
		Roles:           make(map[string]Role, len(rs.Roles)),
		RolePermissions: make(map[Role]map[Code]bool, len(rs.RolePermissions)),
		RoleColors:      make(map[Role]string, len(rs.RoleColors)),
		WL:              Whitelist{Enabled: rs.Whitelist.Enabled, Members: make(map[string]bool, len(rs.Whitelist.Members))},
		Bans:            make(map[string]BanEntry, len(rs.Bans)),
		Mutes:           make(map[string]MuteEntry, len(rs.Mutes)),
		RateLimit:       rs.RateLimit,
		SessionTimeout:  rs.SessionTimeout,
		MembersOnline:   make(map[string]*MemberState),
	}
	for u, roleName := range rs.Roles {
		room.Roles[u] = ParseRole(roleName)
	}
	for roleName, codes := range rs.RolePermissions {
		set := make(map[Code]bool, len(codes))
		for _, c := range codes {
			set[Code(c)] = true
		}
		room.RolePermissions[ParseRole(roleName)] = set
	}
	for roleName, color := range rs.RoleColors {
		room.RoleColors[ParseRole(roleName)] = color
	}
	for _, u := range rs.Whitelist.Members {
		room.WL.Members[u] = true
	}
	for u, b := range rs.Bans {
		room.Bans[u] = BanEntry{Until: unixToTime(b.Until), Reason: b.Reason}
	}
	for u, m := range rs.Mutes {
		room.Mutes[u] = MuteEntry{Until: unixToTime(m.Until), Reason: m.Reason}
	}
	return room
}

// Restore rebuilds the registry from a loaded data/rooms.json map.
func (rr *RoomRegistry) Restore(snap map[string]RoomSnapshot, order []string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.rooms = make(map[string]*Room, len(snap))
	rr.order = order
	for name, rs := range snap {
		rr.rooms[name] = roomFromSnapshot(name, rs)
	}
}

// RestoreRoom inserts a single room from a vault import (/room import),
// appending it to the order slice. Caller has already checked the name is
// free in the live registry.
func (rr *RoomRegistry) RestoreRoom(name string, rs RoomSnapshot) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.rooms[name] = roomFromSnapshot(name, rs)
	rr.order = append(rr.order, name)
}

func unixToTime(u int64) time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}
