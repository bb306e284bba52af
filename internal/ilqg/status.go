package ilqg

// Status is the terminal state of the last Solve call.
type Status int

const (
	NotSolved Status = iota
	Converged
	MaxIterationsReached
	DivergedOrFailed
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case MaxIterationsReached:
		return "max iterations reached"
	case DivergedOrFailed:
		return "diverged or failed"
	default:
		return "not solved"
	}
}

// Success reports whether the status carries a usable policy.
func (s Status) Success() bool {
	return s == Converged || s == MaxIterationsReached
}
