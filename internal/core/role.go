package core

// Role is a per-room privilege level. Roles compare by rank, highest first.
type Role int

const (
	RoleUser Role = iota
	RoleModerator
	RoleAdmin
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "Owner"
	case RoleAdmin:
		return "Admin"
	case RoleModerator:
		return "Moderator"
	default:
		return "User"
	}
}

// ParseRole maps a wire/persisted role name back to a Role. Unknown names
// default to RoleUser; callers that need strictness should check the string
// against the four known spellings themselves before calling this.
func ParseRole(s string) Role {
	switch s {
	case "Owner":
		return RoleOwner
	case "Admin":
		return RoleAdmin
	case "Moderator":
		return RoleModerator
	default:
		return RoleUser
	}
}

// Code is a permission token. Leaf codes gate one command; a parent code
// (the part before the dot; unscoped codes have none) grants every leaf
// under it when present in a role's permission set.
type Code string

const (
	CodeAFK      Code = "afk"
	CodeMsg      Code = "msg"
	CodeMe       Code = "me"
	CodeSeen     Code = "seen"
	CodeAnnounce Code = "announce"

	CodeUserList    Code = "user.list"
	CodeUserRename  Code = "user.rename"
	CodeUserRecolor Code = "user.recolor"
	CodeUserHide    Code = "user.hide"

	CodeModInfo Code = "mod.info"
	CodeModKick Code = "mod.kick"
	CodeModBan  Code = "mod.ban"
	CodeModMute Code = "mod.mute"

	CodeSuperUsers     Code = "super.users"
	CodeSuperRename    Code = "super.rename"
	CodeSuperExport    Code = "super.export"
	CodeSuperWhitelist Code = "super.whitelist"
	CodeSuperLimit     Code = "super.limit"
	CodeSuperRoles     Code = "super.roles"

	// Parent codes. Holding one of these implicitly grants every leaf
	// under it.
	ParentUser  Code = "user"
	ParentMod   Code = "mod"
	ParentSuper Code = "super"
)

// Parent returns the parent code for a leaf, or "" if the code has none
// (afk/msg/me/seen/announce are unscoped leaves with no parent).
func (c Code) Parent() Code {
	for _, p := range []Code{ParentUser, ParentMod, ParentSuper} {
		prefix := string(p) + "."
		if len(c) > len(prefix) && string(c)[:len(prefix)] == prefix {
			return p
		}
	}
	return ""
}

// AllLeafCodes lists every leaf permission code. Allowed does not consult
// it; a parent grant is resolved through Code.Parent.
var AllLeafCodes = []Code{
	CodeAFK, CodeMsg, CodeMe, CodeSeen, CodeAnnounce,
	CodeUserList, CodeUserRename, CodeUserRecolor, CodeUserHide,
	CodeModInfo, CodeModKick, CodeModBan, CodeModMute,
	CodeSuperUsers, CodeSuperRename, CodeSuperExport, CodeSuperWhitelist, CodeSuperLimit, CodeSuperRoles,
}

// DefaultRolePermissions returns the default addable-code sets for
// Moderator and User. Owner/Admin are not keyed here; RBAC treats them as
// always-allowed.
func DefaultRolePermissions() map[Role]map[Code]bool {
	user := map[Code]bool{
		CodeAFK:    true,
		CodeMsg:    true,
		CodeMe:     true,
		CodeSeen:   true,
		ParentUser: true,
	}
	mod := map[Code]bool{
		ParentMod:      true,
		CodeSuperUsers: true,
	}
	// Expand the Moderator set so it textually contains the User leaves too,
	// matching "Moderator = User ∪ {mod, super.users}" without relying on
	// the parent-closure lookup for the inherited User leaves.
	for code := range user {
		mod[code] = true
	}
	return map[Role]map[Code]bool{
		RoleUser:      user,
		RoleModerator: mod,
	}
}

// DefaultRoleColors returns the seed role to color map a freshly created
// room starts with.
func DefaultRoleColors() map[Role]string {
	return map[Role]string{
		RoleOwner:     "FFD700",
		RoleAdmin:     "E03131",
		RoleModerator: "339AF0",
		RoleUser:      "ADB5BD",
	}
}
