package proxy

// State is a step of the metered request lifecycle.
type State string

const (
	StateAuthenticating State = "authenticating"
	StateQuotaChecking  State = "quota_checking"
	StateForwarding     State = "forwarding"
	StateCompleted      State = "completed"
	StateRejected       State = "rejected"
	StateFailed         State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateRejected || s == StateFailed
}
