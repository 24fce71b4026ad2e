package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/herbal-consult-booking/internal/config"
	"github.com/hackgods/herbal-consult-booking/internal/db"
	"github.com/hackgods/herbal-consult-booking/internal/logging"
)

var specialties = []string{
	"Herbal Specialist",
	"Phytotherapy",
	"Traditional African Medicine",
	"Naturopathy",
	"Aromatherapy",
	"Herbal Nutrition",
}

// Fees in KES; zero leaves the column NULL so the platform default applies.
var fees = []float64{0, 1500, 2000, 2500, 3000, 3500}

func main() {
	specialists := flag.Int("specialists", 20, "number of specialists to create")
	patients := flag.Int("patients", 500, "number of patient profiles to create")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	logging.Init("seed", cfg.Env, cfg.LogLevel)
	log.Info().Int("specialists", *specialists).Int("patients", *patients).Msg("seed starting")

	ctx := log.Logger.WithContext(context.Background())
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(0)

	if err := seedSpecialists(ctx, pool, *specialists); err != nil {
		log.Fatal().Err(err).Msg("seed specialists")
	}
	if err := seedPatients(ctx, pool, *patients); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	log.Info().Msg("seed complete")
}

func seedSpecialists(ctx context.Context, pool *pgxpool.Pool, count int) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i := 0; i < count; i++ {
		var fee *float64
		if f := fees[gofakeit.Number(0, len(fees)-1)]; f > 0 {
			fee = &f
		}
		// Roughly one in ten is off the roster.
		available := gofakeit.Number(1, 10) > 1

		_, err := tx.Exec(ctx, `
			INSERT INTO specialists (id, full_name, specialty, consultation_fee, is_available, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, uuid.New(), "Dr. "+gofakeit.Name(), gofakeit.RandomString(specialties), fee, available)
		if err != nil {
			return fmt.Errorf("insert specialist: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info().Int("count", count).Msg("specialists seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	const batchSize = 250

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			dob := gofakeit.DateRange(time.Now().AddDate(-80, 0, 0), time.Now().AddDate(-18, 0, 0))
			_, err := tx.Exec(ctx, `
				INSERT INTO profiles (id, full_name, email, phone, date_of_birth, user_type, is_verified, created_at)
				VALUES ($1, $2, $3, $4, $5, 'patient', $6, now())
			`, uuid.New(), gofakeit.Name(), gofakeit.Email(), "+2547"+gofakeit.Numerify("########"), dob, gofakeit.Bool())
			if err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("insert profile: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Debug().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	log.Info().Int("count", count).Msg("patients seeded")
	return nil
}
