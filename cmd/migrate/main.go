package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"hookrelay/internal/pkg/logger"
	"hookrelay/internal/platform/config"
	"hookrelay/internal/platform/database"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if closer := logger.Init(cfg.Logging); closer != nil {
		defer closer.Close()
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("Failed to open database")
	}
	defer db.Close()

	applied, err := database.Migrate(db)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	fmt.Printf("Migration completed successfully (%d applied)\n", len(applied))
}
