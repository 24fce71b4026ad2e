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
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/herbal-consult-booking/internal/booking"
	"github.com/hackgods/herbal-consult-booking/internal/config"
	"github.com/hackgods/herbal-consult-booking/internal/db"
	"github.com/hackgods/herbal-consult-booking/internal/logging"
	"github.com/hackgods/herbal-consult-booking/internal/session"
)

// SimConfig drives a load run against a live api-server. Booking workers
// deliberately converge on a few slots so the conflict path is exercised.
type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	PatientLimit int
	HotSlots     int
	Date         string
	Live         liveAccount
}

type target struct {
	SpecialistID uuid.UUID
	Time         string
}

type fixtures struct {
	patients    []patient
	specialists []uuid.UUID
	hot         []target
}

type patient struct {
	ID      uuid.UUID
	Token   string
	session *session.Manager
}

// bearer returns the access token to send, following refreshes for a live
// patient.
func (p patient) bearer() string {
	if p.session == nil {
		return p.Token
	}
	if cur := p.session.Current(); cur != nil {
		return cur.AccessToken
	}
	return ""
}

type opStats struct {
	total     atomic.Int64
	success   atomic.Int64
	conflict  atomic.Int64
	failed    atomic.Int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (o *opStats) record(latency time.Duration, status int) {
	o.total.Add(1)
	switch {
	case status >= 200 && status < 300:
		o.success.Add(1)
	case status == http.StatusConflict:
		o.conflict.Add(1)
	default:
		o.failed.Add(1)
	}

	o.mu.Lock()
	o.latencies = append(o.latencies, latency)
	o.mu.Unlock()
}

func (o *opStats) percentile(p int) time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.latencies) == 0 {
		return 0
	}
	sorted := slices.Clone(o.latencies)
	slices.Sort(sorted)
	idx := min(len(sorted)*p/100, len(sorted)-1)
	return sorted[idx]
}

type simulator struct {
	cfg    SimConfig
	fx     *fixtures
	client *http.Client

	book  opStats
	slots opStats
	list  opStats
}

func main() {
	base, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	logging.Init("simulate", base.Env, base.LogLevel)

	cfg := loadSimConfig()
	if cfg.Workers <= 0 || cfg.Duration <= 0 {
		log.Fatal().Msg("SIM_WORKERS and SIM_DURATION must be positive")
	}
	if base.JWTSecret == "" {
		log.Fatal().Msg("AUTH_JWT_SECRET is required to mint patient tokens")
	}

	ctx := log.Logger.WithContext(context.Background())
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(loadCtx, base.PostgresDSN, db.PoolOptions{})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	fx, err := loadFixtures(loadCtx, pool, session.NewTokenVerifier(base.JWTSecret), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load fixtures")
	}
	log.Info().
		Int("patients", len(fx.patients)).
		Int("specialists", len(fx.specialists)).
		Int("hot_slots", len(fx.hot)).
		Str("date", cfg.Date).
		Msg("fixtures loaded")

	if cfg.Live.Email != "" && base.AuthURL != "" {
		idp := session.NewGoTrueClient(base.AuthURL, base.AuthAPIKey)
		live, stop, err := startLivePatient(ctx, idp, session.NewPgProfileStore(pool), cfg.Live)
		if err != nil {
			log.Fatal().Err(err).Msg("start live patient")
		}
		defer stop()
		fx.patients = append(fx.patients, live)
	}

	sim := &simulator{cfg: cfg, fx: fx, client: &http.Client{Timeout: 30 * time.Second}}
	sim.run(ctx)
	sim.report()
}

func loadSimConfig() SimConfig {
	date := os.Getenv("SIM_DATE")
	if date == "" {
		date = nextWeekday(time.Now()).Format(time.DateOnly)
	}
	return SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.4),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 500),
		HotSlots:     getInt("SIM_HOT_SLOTS", 3),
		Date:         date,
		Live: liveAccount{
			Email:    os.Getenv("SIM_LIVE_EMAIL"),
			Password: os.Getenv("SIM_LIVE_PASSWORD"),
			FullName: getEnv("SIM_LIVE_FULL_NAME", "Simulated Patient"),
			SignUp:   os.Getenv("SIM_LIVE_SIGN_UP") == "true",
		},
	}
}

func nextWeekday(t time.Time) time.Time {
	d := t.AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func loadFixtures(ctx context.Context, pool *pgxpool.Pool, tokens *session.TokenVerifier, cfg SimConfig) (*fixtures, error) {
	fx := &fixtures{}

	rows, err := pool.Query(ctx, `SELECT id, COALESCE(email, '') FROM profiles WHERE user_type = 'patient' LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		var email string
		if err := rows.Scan(&id, &email); err != nil {
			rows.Close()
			return nil, err
		}
		token, err := tokens.Issue(id, email, cfg.Duration+time.Hour)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("issue token: %w", err)
		}
		fx.patients = append(fx.patients, patient{ID: id, Token: token})
	}
	rows.Close()

	rows, err = pool.Query(ctx, `SELECT id FROM specialists WHERE is_available ORDER BY full_name`)
	if err != nil {
		return nil, fmt.Errorf("load specialists: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		fx.specialists = append(fx.specialists, id)
	}
	rows.Close()

	if len(fx.patients) == 0 {
		return nil, errors.New("no patients loaded, run seed first")
	}
	if len(fx.specialists) == 0 {
		return nil, errors.New("no available specialists loaded, run seed first")
	}

	catalogue := booking.DefaultCatalogue
	for i := 0; i < cfg.HotSlots; i++ {
		fx.hot = append(fx.hot, target{
			SpecialistID: fx.specialists[i%len(fx.specialists)],
			Time:         catalogue[i%len(catalogue)].String(),
		})
	}
	return fx, nil
}

func (s *simulator) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Duration)
	defer cancel()

	log.Info().Dur("duration", s.cfg.Duration).Int("workers", s.cfg.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			s.worker(ctx, rand.New(rand.NewPCG(seed, uint64(time.Now().UnixNano()))))
		}(uint64(i))
	}
	wg.Wait()

	log.Info().Msg("simulation complete")
}

func (s *simulator) worker(ctx context.Context, rng *rand.Rand) {
	for ctx.Err() == nil {
		p := s.fx.patients[rng.IntN(len(s.fx.patients))]
		switch r := rng.Float64(); {
		case r < s.cfg.BookingRatio:
			s.doBooking(ctx, rng, p)
		case r < s.cfg.BookingRatio+(1-s.cfg.BookingRatio)/2:
			s.doSlots(ctx, rng)
		default:
			s.doList(ctx, p)
		}
	}
}

func (s *simulator) doBooking(ctx context.Context, rng *rand.Rand, p patient) {
	t := s.fx.hot[rng.IntN(len(s.fx.hot))]
	body, _ := json.Marshal(map[string]string{
		"specialist_id": t.SpecialistID.String(),
		"date":          s.cfg.Date,
		"time":          t.Time,
	})
	s.call(ctx, &s.book, http.MethodPost, "/bookings", p.bearer(), body)
}

func (s *simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	id := s.fx.specialists[rng.IntN(len(s.fx.specialists))]
	s.call(ctx, &s.slots, http.MethodGet, fmt.Sprintf("/specialists/%s/slots?date=%s", id, s.cfg.Date), "", nil)
}

func (s *simulator) doList(ctx context.Context, p patient) {
	s.call(ctx, &s.list, http.MethodGet, "/consultations?bucket=upcoming", p.bearer(), nil)
}

func (s *simulator) call(ctx context.Context, stats *opStats, method, path, token string, body []byte) {
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			stats.record(time.Since(start), 0)
		}
		return
	}
	_ = resp.Body.Close()
	stats.record(time.Since(start), resp.StatusCode)
}

func (s *simulator) report() {
	fmt.Println("\n" + strings.Repeat("=", 72))
	fmt.Printf("SIMULATION REPORT  date=%s workers=%d duration=%s\n", s.cfg.Date, s.cfg.Workers, s.cfg.Duration)
	fmt.Println(strings.Repeat("=", 72))

	printStats("POST /bookings", &s.book)
	printStats("GET /specialists/{id}/slots", &s.slots)
	printStats("GET /consultations", &s.list)

	// With one live booking per slot, successes can never exceed the hot slots.
	if won := s.book.success.Load(); won > int64(len(s.fx.hot)) {
		fmt.Printf("WARNING: %d bookings succeeded for %d contended slots\n", won, len(s.fx.hot))
	}
}

func printStats(name string, o *opStats) {
	total := o.total.Load()
	if total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	fmt.Printf("%s\n", name)
	fmt.Printf("  total=%d ok=%d (%.1f%%) conflict=%d (%.1f%%) failed=%d (%.1f%%)\n",
		total, o.success.Load(), pct(o.success.Load()),
		o.conflict.Load(), pct(o.conflict.Load()),
		o.failed.Load(), pct(o.failed.Load()))
	fmt.Printf("  p50=%s p95=%s p99=%s\n\n",
		o.percentile(50).Round(time.Millisecond),
		o.percentile(95).Round(time.Millisecond),
		o.percentile(99).Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}

func getInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return def
}
