package reconcile

import "fmt"

// State is a step of a reconciliation run.
type State string

const (
	Idle      State = "IDLE"
	Fetching  State = "FETCHING"
	Matching  State = "MATCHING"
	DryReport State = "DRY_REPORT"
	Applying  State = "APPLYING"
	Done      State = "DONE"
	Failed    State = "FAILED"
)

var next = map[State][]State{
	Idle:      {Fetching},
	Fetching:  {Matching, Failed},
	Matching:  {DryReport, Applying, Failed},
	DryReport: {Done},
	Applying:  {Done, Failed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// machine tracks the state of one run and refuses transitions that are not
// part of the run lifecycle.
type machine struct {
	state State
	trace []State
}

func newMachine() *machine {
	return &machine{state: Idle, trace: []State{Idle}}
}

func (m *machine) enter(s State) error {
	for _, n := range next[m.state] {
		if n == s {
			m.state = s
			m.trace = append(m.trace, s)
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", m.state, s)
}
