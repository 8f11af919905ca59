package rbac

// Role names. Keep these stable; they are stored on agent profiles and
// carried in access tokens.
const (
	RoleAgent      = "agent"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsKnownRole(role string) bool {
	switch role {
	case RoleAgent, RoleSupervisor, RoleAdmin:
		return true
	default:
		return false
	}
}
