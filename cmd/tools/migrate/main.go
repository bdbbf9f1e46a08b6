package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/noah-isme/toko-checkout/internal/db"
	"github.com/noah-isme/toko-checkout/internal/obs"
)

func main() {
	steps := flag.Int("steps", 1, "number of migrations to roll back with -down")
	down := flag.Bool("down", false, "roll back instead of applying")
	version := flag.Bool("version", false, "print the current schema version and exit")
	flag.Parse()

	_ = godotenv.Load()
	logger := obs.NewLogger(os.Getenv("OBS_LOG_FORMAT"), "info").With().Str("component", "migrate").Logger()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	switch {
	case *version:
		v, dirty, err := db.Version(dsn)
		if err != nil {
			logger.Fatal().Err(err).Msg("read schema version")
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)
	case *down:
		if err := db.Down(dsn, *steps); err != nil {
			logger.Fatal().Err(err).Msg("rollback")
		}
		logger.Info().Int("steps", *steps).Msg("rolled back")
	default:
		if err := db.Up(dsn); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
		logger.Info().Msg("schema up to date")
	}
}
