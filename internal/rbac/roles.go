package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAgent      = "agent"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// SeesAllAgents reports whether role may watch other agents' consoles.
func SeesAllAgents(role string) bool { return role == RoleSupervisor || role == RoleAdmin }
