package jobs

// Job type identifiers shared by the API (enqueue side) and the worker
// (execute side).
const (
	TypeUserWelcome = "user.welcome"
	TypeTaskDigest  = "task.digest"
)

func IsValidType(t string) bool {
	switch t {
	case TypeUserWelcome, TypeTaskDigest:
		return true
	default:
		return false
	}
}
