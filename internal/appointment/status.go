package appointment

import (
	"fmt"
)

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// IsTerminal reports whether no transition leaves s.
func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transition moves a to the given status. The appointment is left untouched
// when the edge does not exist.
func (a *Appointment) transition(to AppointmentStatus) error {
	if !CanTransition(a.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}
	a.Status = to
	return nil
}
