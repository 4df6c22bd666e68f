package provision

// State of the provisioning state machine.
type State int

const (
	StateUnprovisioned State = iota
	StateProvisioning
	StateProvisioned
	StateReprovisionCheck
)

func (s State) String() string {
	switch s {
	case StateUnprovisioned:
		return "unprovisioned"
	case StateProvisioning:
		return "provisioning"
	case StateProvisioned:
		return "provisioned"
	case StateReprovisionCheck:
		return "reprovision-check"
	default:
		return "invalid"
	}
}

// Run modes reported through Config.OnRun.
const (
	ModeFirstRun  = "first_run"
	ModeReconcile = "reconcile"
)
