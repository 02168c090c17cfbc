package rbac

type Role string
type Action string

const (
	RoleEmployee Role = "employee"
	RoleAuditor  Role = "auditor"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionAnswer Action = "answer"
	ActionAssign Action = "assign"
	ActionReview Action = "review"
	ActionExport Action = "export"
	ActionAdmin  Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleManager:
		return action == ActionRead || action == ActionAnswer || action == ActionAssign ||
			action == ActionReview || action == ActionExport
	case RoleAuditor:
		return action == ActionRead || action == ActionExport
	case RoleEmployee:
		return action == ActionRead || action == ActionAnswer
	default:
		return false
	}
}

// CanAssign is the allow-list gate for assignment operations. Both assign and
// unassign reject before any cache patch or mutation unless this holds.
func CanAssign(role Role) bool {
	return role == RoleAdmin || role == RoleManager
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleEmployee, RoleAuditor, RoleManager, RoleAdmin:
		return Role(role)
	default:
		return RoleEmployee
	}
}
