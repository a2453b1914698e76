package appointment

import "time"

// move is a pending change of an appointment's start time.
type move struct {
	appt *Appointment
	to   time.Time
}

// shiftLater pushes every scheduled appointment that starts strictly after
// delayed back by overrun. Relative spacing is kept.
func shiftLater(day []*Appointment, delayed *Appointment, overrun time.Duration) []move {
	if overrun <= 0 {
		return nil
	}

	later := make([]*Appointment, 0, len(day))
	for _, a := range day {
		if a.ID == delayed.ID || a.Status != StatusScheduled {
			continue
		}
		if a.ScheduledTime.After(delayed.ScheduledTime) {
			later = append(later, a)
		}
	}
	sortBySchedule(later)

	moves := make([]move, 0, len(later))
	for _, a := range later {
		moves = append(moves, move{appt: a, to: a.ScheduledTime.Add(overrun)})
	}
	return moves
}
