package gan

// Phase is the position of the trainer inside one adversarial step.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseGenForward
	PhaseDiscUpdate
	PhaseGenUpdate
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseGenForward:
		return "gen_forward"
	case PhaseDiscUpdate:
		return "disc_update"
	case PhaseGenUpdate:
		return "gen_update"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}
