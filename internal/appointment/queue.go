package appointment

// rebalanceQueue ranks the active appointments of one provider/day by
// scheduled time and derives wait estimates from the cumulative planned
// duration ahead of each one. It returns the full ordered queue and the
// appointments whose stored values changed. Terminal appointments are
// dropped from the queue and cleared.
func rebalanceQueue(day []*Appointment, avg int) ([]QueueEntry, []*Appointment) {
	active := make([]*Appointment, 0, len(day))
	var changed []*Appointment

	for _, a := range day {
		if a.IsActive() {
			active = append(active, a)
			continue
		}
		if a.QueuePosition != 0 || a.EstimatedWaitTime != 0 {
			a.QueuePosition = 0
			a.EstimatedWaitTime = 0
			changed = append(changed, a)
		}
	}
	sortBySchedule(active)

	entries := make([]QueueEntry, 0, len(active))
	cumulative := 0
	for i, a := range active {
		pos := i + 1
		if a.QueuePosition != pos || a.EstimatedWaitTime != cumulative {
			a.QueuePosition = pos
			a.EstimatedWaitTime = cumulative
			changed = append(changed, a)
		}
		entries = append(entries, QueueEntry{
			AppointmentID:     a.ID,
			QueuePosition:     pos,
			EstimatedWaitTime: cumulative,
		})
		cumulative += a.plannedOr(avg)
	}

	return entries, changed
}
