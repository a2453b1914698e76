package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps everything in process memory. It backs STORE=memory
// and the tests. Every read returns copies.
type MemoryRepository struct {
	mu           sync.RWMutex
	providers    map[uuid.UUID]Provider
	appointments map[uuid.UUID]Appointment
	availability map[uuid.UUID]map[time.Weekday]AvailabilityWindow
	stats        map[uuid.UUID]ProviderStats
	events       []EventLog
	nextEventID  int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		providers:    make(map[uuid.UUID]Provider),
		appointments: make(map[uuid.UUID]Appointment),
		availability: make(map[uuid.UUID]map[time.Weekday]AvailabilityWindow),
		stats:        make(map[uuid.UUID]ProviderStats),
	}
}

func (r *MemoryRepository) CreateProvider(_ context.Context, p Provider) (*Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[p.ID]; ok {
		return nil, fmt.Errorf("provider %s already exists", p.ID)
	}
	r.providers[p.ID] = p
	return &p, nil
}

func (r *MemoryRepository) GetProvider(_ context.Context, id uuid.UUID) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	c := a.clone()
	return &c, nil
}

func (r *MemoryRepository) ListProviderDay(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ptrs []*Appointment
	for _, a := range r.appointments {
		if a.ProviderID != providerID || a.ScheduledTime.Before(from) || !a.ScheduledTime.Before(to) {
			continue
		}
		c := a.clone()
		ptrs = append(ptrs, &c)
	}
	sortBySchedule(ptrs)

	result := make([]Appointment, 0, len(ptrs))
	for _, a := range ptrs {
		result = append(result, *a)
	}
	return result, nil
}

func (r *MemoryRepository) ListActiveProviderDays(_ context.Context, loc *time.Location, from time.Time) ([]ProviderDay, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var days []ProviderDay
	for _, a := range r.appointments {
		if !a.IsActive() || a.ScheduledTime.Before(from) {
			continue
		}
		y, m, d := a.ScheduledTime.In(loc).Date()
		pd := ProviderDay{ProviderID: a.ProviderID, Date: time.Date(y, m, d, 0, 0, 0, 0, loc)}
		if seen[pd.Key()] {
			continue
		}
		seen[pd.Key()] = true
		days = append(days, pd)
	}

	sort.Slice(days, func(i, j int) bool {
		if !days[i].Date.Equal(days[j].Date) {
			return days[i].Date.Before(days[j].Date)
		}
		return days[i].ProviderID.String() < days[j].ProviderID.String()
	})
	return days, nil
}

// ApplyBatch validates the whole batch before touching any state.
func (r *MemoryRepository) ApplyBatch(_ context.Context, b Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range b.Insert {
		if _, ok := r.appointments[a.ID]; ok {
			return fmt.Errorf("appointment %s already exists", a.ID)
		}
		if _, ok := r.providers[a.ProviderID]; !ok {
			return ErrProviderNotFound
		}
	}
	for _, a := range b.Update {
		if _, ok := r.appointments[a.ID]; !ok {
			return ErrAppointmentNotFound
		}
	}
	if b.Consultation != nil {
		if _, ok := r.providers[b.Consultation.ProviderID]; !ok {
			return ErrProviderNotFound
		}
	}

	for _, a := range b.Insert {
		r.appointments[a.ID] = a.clone()
	}
	for _, a := range b.Update {
		r.appointments[a.ID] = a.clone()
	}
	for _, ev := range b.Events {
		r.nextEventID++
		ev.ID = r.nextEventID
		r.events = append(r.events, ev)
	}
	if c := b.Consultation; c != nil {
		var cur *ProviderStats
		if st, ok := r.stats[c.ProviderID]; ok {
			cur = &st
		}
		next := applyConsultation(cur, *c)
		next.UpdatedAt = time.Now()
		r.stats[c.ProviderID] = next
	}
	return nil
}

func (r *MemoryRepository) GetAvailability(_ context.Context, providerID uuid.UUID, weekday time.Weekday) (*AvailabilityWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.availability[providerID][weekday]
	if !ok {
		return nil, ErrAvailabilityNotFound
	}
	return &w, nil
}

func (r *MemoryRepository) ListAvailability(_ context.Context, providerID uuid.UUID) ([]AvailabilityWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]AvailabilityWindow, 0, len(r.availability[providerID]))
	for _, w := range r.availability[providerID] {
		result = append(result, w)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Weekday < result[j].Weekday })
	return result, nil
}

func (r *MemoryRepository) UpsertAvailability(_ context.Context, w AvailabilityWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[w.ProviderID]; !ok {
		return ErrProviderNotFound
	}
	if r.availability[w.ProviderID] == nil {
		r.availability[w.ProviderID] = make(map[time.Weekday]AvailabilityWindow)
	}
	r.availability[w.ProviderID][w.Weekday] = w
	return nil
}

func (r *MemoryRepository) GetProviderStats(_ context.Context, providerID uuid.UUID) (*ProviderStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.stats[providerID]
	if !ok {
		return nil, ErrStatsNotFound
	}
	return &st, nil
}

// SetProviderStats overwrites the statistics row. Used by seeding and tests.
func (r *MemoryRepository) SetProviderStats(_ context.Context, st ProviderStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[st.ProviderID]; !ok {
		return ErrProviderNotFound
	}
	r.stats[st.ProviderID] = st
	return nil
}

// Events returns a copy of the event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}
