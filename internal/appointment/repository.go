package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrProviderNotFound     = errors.New("provider not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrAvailabilityNotFound = errors.New("availability window not found")
	ErrStatsNotFound        = errors.New("provider statistics not found")
)

// Repository contains all store interactions needed by the service.
type Repository interface {
	CreateProvider(ctx context.Context, p Provider) (*Provider, error)
	GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error)

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ListProviderDay returns every appointment of the provider with a
	// scheduled time in [from, to), ordered by scheduled time.
	ListProviderDay(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error)

	// ListActiveProviderDays returns each provider/day, in loc, that holds at
	// least one scheduled or in-progress appointment at or after from.
	ListActiveProviderDays(ctx context.Context, loc *time.Location, from time.Time) ([]ProviderDay, error)

	// ApplyBatch writes the batch atomically. On error nothing is applied.
	ApplyBatch(ctx context.Context, b Batch) error

	// Availability calendar
	GetAvailability(ctx context.Context, providerID uuid.UUID, weekday time.Weekday) (*AvailabilityWindow, error)
	ListAvailability(ctx context.Context, providerID uuid.UUID) ([]AvailabilityWindow, error)
	UpsertAvailability(ctx context.Context, w AvailabilityWindow) error

	// Provider statistics
	GetProviderStats(ctx context.Context, providerID uuid.UUID) (*ProviderStats, error)
}
