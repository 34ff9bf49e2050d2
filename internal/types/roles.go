package types

// Role tags an already-authenticated caller. Transport and authentication
// live outside the core; every inbound call arrives with one of these.
type Role string

const (
	RoleAgent     Role = "agent"
	RoleDeveloper Role = "developer"
	RoleObserver  Role = "observer"
	RoleAdmin     Role = "admin"
)

// CanWrite reports whether the role may mutate agent lifecycle state.
// Write operations are restricted to agent and admin.
func (r Role) CanWrite() bool {
	return r == RoleAgent || r == RoleAdmin
}

// CanRead reports whether the role may issue read operations. Every
// recognized role reads; unknown roles do not.
func (r Role) CanRead() bool {
	switch r {
	case RoleAgent, RoleDeveloper, RoleObserver, RoleAdmin:
		return true
	}
	return false
}
