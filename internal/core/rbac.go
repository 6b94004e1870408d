package core

// Allowed reports whether role may exercise code in a room whose granted
// permission set is perms. Owner and Admin always pass; every other role
// must hold the exact leaf, its parent, or an explicitly-added copy of the
// leaf in perms.
func Allowed(role Role, code Code, perms map[Code]bool) bool {
	if role == RoleOwner || role == RoleAdmin {
		return true
	}
	if perms[code] {
		return true
	}
	if parent := code.Parent(); parent != "" && perms[parent] {
		return true
	}
	return false
}

// AddPermission grants code in role's set. Mutates perms in place, so perms
// must be non-nil (RoomRegistry.AddPermission creates a missing set);
// callers hold the room lock.
func AddPermission(perms map[Code]bool, code Code) {
	perms[code] = true
}

// RevokePermission removes code from role's set. A no-op if absent.
func RevokePermission(perms map[Code]bool, code Code) {
	delete(perms, code)
}

// CanAssignRole reports whether an actor holding actorRole may set target's
// role to newRole. Owner may assign any role, Owner included (an ownership
// transfer); Admin may assign Moderator/User but not Admin or Owner;
// Moderator and User may not assign roles.
func CanAssignRole(actorRole, newRole Role) bool {
	if actorRole == RoleOwner {
		return true
	}
	if actorRole == RoleAdmin {
		return newRole == RoleModerator || newRole == RoleUser
	}
	return false
}
