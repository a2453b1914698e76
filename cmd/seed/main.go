package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/db"
	"github.com/hackgods/consultation-scheduling/internal/logging"
	"github.com/hackgods/consultation-scheduling/internal/notify"
	redisclient "github.com/hackgods/consultation-scheduling/internal/redis"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var symptoms = []string{"cough", "fever", "headache", "rash", "back pain", "fatigue", "dizziness", "sore throat"}

// nopNotifier drops notifications; seeded bookings never reschedule anyone.
type nopNotifier struct{}

func (nopNotifier) Rescheduled(notify.Rescheduled)    {}
func (nopNotifier) RefundEligible(notify.RefundSignal) {}

func main() {
	cfg, err := config.Load()
	if err != nil {
		stderrLog := zerolog.New(os.Stderr)
		stderrLog.Fatal().Err(err).Msg("config load error")
	}
	if cfg.Store != config.StorePostgres {
		stderrLog := zerolog.New(os.Stderr)
		stderrLog.Fatal().Msg("seed needs STORE=postgres")
	}

	logger := logging.New(cfg, "seed")
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{ApplicationName: "seed"})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		logger.Fatal().Err(err).Msg("apply schema")
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	providers, err := seedProviders(context.Background(), logger, pool, faker, envInt("SEED_PROVIDERS", 50))
	if err != nil {
		logger.Fatal().Err(err).Msg("seed providers")
	}

	if n := envInt("SEED_BOOKINGS_PER_PROVIDER", 0); n > 0 {
		if err := seedBookings(context.Background(), logger, cfg, pool, faker, providers, n); err != nil {
			logger.Fatal().Err(err).Msg("seed bookings")
		}
	}

	logger.Info().Int("providers", len(providers)).Msg("seed complete")
}

// seedProviders inserts providers with a weekday schedule and a warm
// consultation average so slot sizing is not uniform across the fleet.
func seedProviders(ctx context.Context, logger zerolog.Logger, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) ([]uuid.UUID, error) {
	logger.Info().Int("count", count).Msg("seeding providers")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + faker.Name()
		spec := specialties[faker.Number(0, len(specialties)-1)]

		if _, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec); err != nil {
			return nil, err
		}

		// Mornings start between 08:00 and 10:00, days last 6 to 9 hours.
		start := 8*60 + 30*faker.Number(0, 4)
		end := start + 60*faker.Number(6, 9)
		for wd := time.Monday; wd <= time.Friday; wd++ {
			if _, err := tx.Exec(ctx, `
				INSERT INTO availability_windows (provider_id, weekday, start_minute, end_minute, enabled)
				VALUES ($1, $2, $3, $4, $5)
			`, id, int(wd), start, end, faker.Number(0, 9) > 0); err != nil {
				return nil, err
			}
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO provider_stats (provider_id, avg_consultation_duration, completed_count, updated_at)
			VALUES ($1, $2, $3, now())
		`, id, 5*faker.Number(3, 9), faker.Number(0, 400)); err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info().Int("count", len(ids)).Msg("providers seeded")
	return ids, nil
}

// seedBookings books through the service so queue positions and event logs
// come out the way live traffic would leave them.
func seedBookings(ctx context.Context, logger zerolog.Logger, cfg config.Config, pool *pgxpool.Pool, faker *gofakeit.Faker, providers []uuid.UUID, perProvider int) error {
	svc := appointment.NewService(
		appointment.NewPgRepository(pool),
		redisclient.NewLocalLocker(cfg.LockTTL, cfg.LockWait),
		nopNotifier{},
		cfg,
		appointment.WithLogger(logger),
	)

	day := nextWeekday(time.Now().In(svc.Location()))
	booked := 0
	for _, providerID := range providers {
		for i := 0; i < perProvider; i++ {
			_, err := svc.Book(ctx, appointment.BookingRequest{
				ProviderID: providerID,
				SubjectID:  uuid.New(),
				Date:       day,
				Symptoms:   []string{faker.RandomString(symptoms), faker.RandomString(symptoms)},
			})
			if errors.Is(err, appointment.ErrNoSlotAvailable) || errors.Is(err, appointment.ErrNoAvailability) {
				break
			}
			if err != nil {
				return err
			}
			booked++
		}
	}

	logger.Info().Int("count", booked).Str("date", day.Format(time.DateOnly)).Msg("bookings seeded")
	return nil
}

func nextWeekday(now time.Time) time.Time {
	d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
