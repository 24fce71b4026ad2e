package main

import (
	"os"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/hackgods/herbal-consult-booking/internal/config"
	"github.com/hackgods/herbal-consult-booking/internal/db"
	"github.com/hackgods/herbal-consult-booking/internal/logging"
)

// Usage: migrate [up|down|version|force <version>]
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	logging.Init("migrate", cfg.Env, cfg.LogLevel)

	m, err := db.NewMigrator(cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("migrator setup error")
	}
	defer func() { _ = m.Close() }()

	cmd := "up"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "force":
		if len(os.Args) < 3 {
			log.Fatal().Msg("force requires a version")
		}
		version, convErr := strconv.Atoi(os.Args[2])
		if convErr != nil {
			log.Fatal().Err(convErr).Msg("invalid version")
		}
		err = m.Force(version)
	case "version":
	default:
		log.Fatal().Str("command", cmd).Msg("unknown command")
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("migration failed")
	}

	v, dirty, err := m.Version()
	if err != nil {
		log.Fatal().Err(err).Msg("read version")
	}
	log.Info().Uint("version", v).Bool("dirty", dirty).Str("command", cmd).Msg("migrations complete")
}
