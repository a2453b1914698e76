package appointment

import "time"

// compactLater pulls the scheduled appointments after completed forward onto
// a fixed grid that begins at start and advances by spacing, keeping their
// order. An appointment never moves later than it already is, never before
// free or the end of the previous appointment's plan, and never onto the
// interval of an appointment that stays where it is (an earlier no-show, a
// consultation still in progress). With plans equal to the spacing and no
// such blockers this is exactly the grid.
func compactLater(day []*Appointment, completed *Appointment, start time.Time, spacing time.Duration, free time.Time, avg int) []move {
	later := make([]*Appointment, 0, len(day))
	blockers := make([]*Appointment, 0, len(day))
	for _, a := range day {
		switch {
		case a.ID == completed.ID || a.Status == StatusCancelled:
		case a.Status == StatusScheduled && a.ScheduledTime.After(completed.ScheduledTime):
			later = append(later, a)
		default:
			blockers = append(blockers, a)
		}
	}
	sortBySchedule(later)

	var moves []move
	grid := start
	prevEnd := free
	for _, a := range later {
		dur := minutes(a.plannedOr(avg))
		target := grid
		if prevEnd.After(target) {
			target = prevEnd
		}
		target = clearOf(target, dur, blockers)
		if a.ScheduledTime.Before(target) {
			target = a.ScheduledTime
		}

		if !target.Equal(a.ScheduledTime) {
			moves = append(moves, move{appt: a, to: target})
		}
		if end := target.Add(dur); end.After(prevEnd) {
			prevEnd = end
		}
		grid = grid.Add(spacing)
	}
	return moves
}

// clearOf returns the first time at or after t where dur fits without
// touching any blocker's interval.
func clearOf(t time.Time, dur time.Duration, blockers []*Appointment) time.Time {
	for moved := true; moved; {
		moved = false
		for _, b := range blockers {
			end := b.occupiedUntil()
			if t.Before(end) && t.Add(dur).After(b.ScheduledTime) {
				t = end
				moved = true
			}
		}
	}
	return t
}
