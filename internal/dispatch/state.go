package dispatch

import "fmt"

// State of one (event, mapping) task.
type State int

const (
	Pending State = iota
	Dispatching
	RetryWait
	Done
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Dispatching:
		return "DISPATCHING"
	case RetryWait:
		return "RETRY_WAIT"
	case Done:
		return "DONE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var transitions = map[State][]State{
	Pending:     {Dispatching, Done},
	Dispatching: {RetryWait, Done},
	RetryWait:   {Dispatching, Done},
}

func canMove(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// lifecycle tracks a task's state; Done is absorbing.
type lifecycle struct {
	state State
	hook  func(State)
}

func (l *lifecycle) move(to State) error {
	if !canMove(l.state, to) {
		return fmt.Errorf("dispatch: illegal transition %s -> %s", l.state, to)
	}
	l.state = to
	if l.hook != nil {
		l.hook(to)
	}
	return nil
}
