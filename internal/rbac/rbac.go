package rbac

type Role string
type Action string

const (
	RoleParticipant Role = "participant"
	RoleAdmin       Role = "admin"
)

const (
	// ActionRespond covers reading and writing one's own answers.
	ActionRespond Action = "respond"
	ActionExport  Action = "export"
	// ActionViewAll covers every participant's progress and answers.
	ActionViewAll Action = "view_all"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleParticipant:
		return action == ActionRespond || action == ActionExport
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleParticipant, RoleAdmin:
		return Role(role)
	default:
		return RoleParticipant
	}
}
