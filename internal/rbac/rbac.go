package rbac

type Role string
type Action string

const (
	RoleParent  Role = "parent"
	RoleMentor  Role = "mentor"
	RoleLearner Role = "learner"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionChat    Action = "chat"
	ActionWrite   Action = "write"
	ActionApprove Action = "approve"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleLearner:
		return action == ActionRead || action == ActionChat || action == ActionWrite || action == ActionApprove
	case RoleMentor:
		return action == ActionRead || action == ActionChat
	case RoleParent:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleParent, RoleMentor, RoleLearner, RoleAdmin:
		return Role(role)
	default:
		return RoleLearner
	}
}
