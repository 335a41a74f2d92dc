package app

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"hookrelay/internal/engine/broker"
	"hookrelay/internal/engine/history"
	"hookrelay/internal/engine/relay"
	"hookrelay/internal/platform/config"
	"hookrelay/internal/platform/database"
	"hookrelay/internal/platform/repositories"
)

// App holds the components shared by the server, worker and CLI binaries.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Relays  *repositories.RelayRepository
	History *history.Store
	Tracker *history.Tracker
	Broker  *broker.Client
	Poller  *relay.Poller
	Service *relay.Service
}

// New opens and migrates the database and wires the engine on top of it.
func New(cfg *config.Config) (*App, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := database.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	if cfg.Broker.BaseURL == "" {
		log.Warn().Msg("broker.base_url is not set; relay creation and polling will fail")
	}

	relays := repositories.NewRelayRepository(db)
	store := history.NewStore(db)
	brokerClient := broker.NewClient(cfg.Broker)

	return &App{
		Config:  cfg,
		DB:      db,
		Relays:  relays,
		History: store,
		Tracker: history.NewTracker(store),
		Broker:  brokerClient,
		Poller:  relay.NewPoller(relays, brokerClient, relay.NewHTTPForwarder(cfg.Relay), store, cfg.Relay),
		Service: relay.NewService(relays, brokerClient, store),
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
