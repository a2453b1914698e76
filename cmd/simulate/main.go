package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

var specialties = []string{"General Practice", "Dermatology", "Pediatrics", "Cardiology"}

type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	Providers      int
	DaysAhead      int
	BookingRatio   float64
	LifecycleRatio float64
	CancelRatio    float64
	ReadRatio      float64
}

// DataPool tracks what the simulator created so later operations have
// something to act on. Appointments move from booked to started and are
// dropped once completed or cancelled.
type DataPool struct {
	Providers []uuid.UUID
	Dates     []string

	mu      sync.Mutex
	booked  []uuid.UUID
	started []uuid.UUID
}

func (dp *DataPool) AddBooked(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked = append(dp.booked, id)
}

func (dp *DataPool) AddStarted(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.started = append(dp.started, id)
}

func (dp *DataPool) TakeBooked(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return take(&dp.booked, rng)
}

func (dp *DataPool) TakeStarted(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return take(&dp.started, rng)
}

func take(ids *[]uuid.UUID, rng *rand.Rand) (uuid.UUID, bool) {
	n := len(*ids)
	if n == 0 {
		return uuid.Nil, false
	}
	i := rng.IntN(n)
	id := (*ids)[i]
	(*ids)[i] = (*ids)[n-1]
	*ids = (*ids)[:n-1]
	return id, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking  OperationMetrics
	Start    OperationMetrics
	Delay    OperationMetrics
	Complete OperationMetrics
	Cancel   OperationMetrics
	Queue    OperationMetrics
	FindSlot OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Str("component", "simulate").Logger()
	logger.Info().Msg("simulator starting")

	_ = godotenv.Load()
	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("lifecycle", cfg.LifecycleRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("config")

	sim := &Simulator{
		config: cfg,
		pool:   &DataPool{},
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	setupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sim.setup(setupCtx); err != nil {
		logger.Fatal().Err(err).Msg("setup failed")
	}
	logger.Info().Int("providers", len(sim.pool.Providers)).Strs("dates", sim.pool.Dates).Msg("providers ready")

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:     getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:       getDuration("SIM_DURATION", 30*time.Second),
		Workers:        getInt("SIM_WORKERS", 10),
		Providers:      getInt("SIM_PROVIDERS", 5),
		DaysAhead:      getInt("SIM_DAYS_AHEAD", 3),
		BookingRatio:   getFloat("SIM_BOOKING_RATIO", 0.4),
		LifecycleRatio: getFloat("SIM_LIFECYCLE_RATIO", 0.25),
		CancelRatio:    getFloat("SIM_CANCEL_RATIO", 0.05),
		ReadRatio:      getFloat("SIM_READ_RATIO", 0.3),
	}

	total := cfg.BookingRatio + cfg.LifecycleRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.LifecycleRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("SIM_DURATION must be > 0")
	}
	if cfg.Providers <= 0 {
		return errors.New("SIM_PROVIDERS must be > 0")
	}
	if cfg.DaysAhead <= 0 {
		return errors.New("SIM_DAYS_AHEAD must be > 0")
	}
	return nil
}

// setup creates providers open around the clock so booking pressure, not
// opening hours, decides when a day fills up.
func (s *Simulator) setup(ctx context.Context) error {
	faker := gofakeit.New(0)
	open := true

	for i := 0; i < s.config.Providers; i++ {
		var provider struct {
			ID uuid.UUID `json:"id"`
		}
		status, err := s.call(ctx, http.MethodPost, "/providers", map[string]any{
			"name":      "Dr. " + faker.Name(),
			"specialty": faker.RandomString(specialties),
		}, &provider)
		if err != nil {
			return fmt.Errorf("create provider: %w", err)
		}
		if status != http.StatusCreated {
			return fmt.Errorf("create provider: status %d", status)
		}

		for wd := 0; wd < 7; wd++ {
			path := fmt.Sprintf("/providers/%s/availability/%d", provider.ID, wd)
			status, err := s.call(ctx, http.MethodPut, path, map[string]any{
				"start":   "00:00",
				"end":     "24:00",
				"enabled": &open,
			}, nil)
			if err != nil {
				return fmt.Errorf("set availability: %w", err)
			}
			if status != http.StatusOK {
				return fmt.Errorf("set availability: status %d", status)
			}
		}
		s.pool.Providers = append(s.pool.Providers, provider.ID)
	}

	today := time.Now()
	for d := 1; d <= s.config.DaysAhead; d++ {
		s.pool.Dates = append(s.pool.Dates, today.AddDate(0, 0, d).Format(time.DateOnly))
	}
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.LifecycleRatio:
			s.doLifecycle(ctx, rng)
		case r < s.config.BookingRatio+s.config.LifecycleRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			if rng.IntN(2) == 0 {
				s.doQueue(ctx, rng)
			} else {
				s.doFindSlot(ctx, rng)
			}
		}
	}
}

func (s *Simulator) pick(rng *rand.Rand) (uuid.UUID, string) {
	return s.pool.Providers[rng.IntN(len(s.pool.Providers))], s.pool.Dates[rng.IntN(len(s.pool.Dates))]
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	providerID, date := s.pick(rng)
	body := map[string]any{
		"provider_id": providerID,
		"subject_id":  uuid.New(),
		"date":        date,
	}
	if rng.IntN(3) == 0 {
		body["duration_minutes"] = 10 + 5*rng.IntN(6)
	}

	var appt struct {
		ID uuid.UUID `json:"id"`
	}
	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/appointments", body, &appt)
	s.metrics.Booking.Record(time.Since(start), status, err)

	if err == nil && status == http.StatusCreated && appt.ID != uuid.Nil {
		s.pool.AddBooked(appt.ID)
	}
}

// doLifecycle advances one appointment: starts a booked one, or delays or
// completes a started one.
func (s *Simulator) doLifecycle(ctx context.Context, rng *rand.Rand) {
	if id, ok := s.pool.TakeStarted(rng); ok {
		if rng.IntN(4) == 0 {
			start := time.Now()
			status, err := s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/delay",
				map[string]int{"overrun_minutes": 5 + rng.IntN(20)}, nil)
			s.metrics.Delay.Record(time.Since(start), status, err)
			s.pool.AddStarted(id)
			return
		}

		start := time.Now()
		status, err := s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/complete",
			map[string]int{"actual_duration_minutes": 5 + rng.IntN(50)}, nil)
		s.metrics.Complete.Record(time.Since(start), status, err)
		return
	}

	id, ok := s.pool.TakeBooked(rng)
	if !ok {
		return
	}
	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/start", nil, nil)
	s.metrics.Start.Record(time.Since(start), status, err)
	if err == nil && status == http.StatusOK {
		s.pool.AddStarted(id)
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.TakeBooked(rng)
	if !ok {
		return
	}
	by := "patient"
	if rng.IntN(4) == 0 {
		by = "provider"
	}

	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/cancel",
		map[string]string{"cancelled_by": by}, nil)
	s.metrics.Cancel.Record(time.Since(start), status, err)
}

func (s *Simulator) doQueue(ctx context.Context, rng *rand.Rand) {
	providerID, date := s.pick(rng)
	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, fmt.Sprintf("/providers/%s/queue?date=%s", providerID, date), nil, nil)
	s.metrics.Queue.Record(time.Since(start), status, err)
}

func (s *Simulator) doFindSlot(ctx context.Context, rng *rand.Rand) {
	providerID, date := s.pick(rng)
	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, fmt.Sprintf("/providers/%s/slots?date=%s", providerID, date), nil, nil)
	s.metrics.FindSlot.Record(time.Since(start), status, err)
}

// call sends a JSON request and decodes a successful response into out.
func (s *Simulator) call(ctx context.Context, method, path string, in, out any) (int, error) {
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Providers: %d\n", s.config.Providers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Start", &s.metrics.Start)
	printOperationReport("Delay", &s.metrics.Delay)
	printOperationReport("Complete", &s.metrics.Complete)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Queue", &s.metrics.Queue)
	printOperationReport("Find slot", &s.metrics.FindSlot)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
