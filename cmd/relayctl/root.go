package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"hookrelay/internal/app"
	"hookrelay/internal/pkg/logger"
	"hookrelay/internal/platform/config"
)

var (
	cfgFile  string
	logLevel string
	asJSON   bool

	rootCmd = &cobra.Command{
		Use:           "relayctl",
		Short:         "Operate hookrelay relays from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/config.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of tables")

	rootCmd.AddCommand(pollCmd, relaysCmd, historyCmd, unreadCmd, tokenCmd)
}

// loadConfig reads the config file and sets up console logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.Logging.Level = logLevel
	cfg.Logging.Format = "text"
	cfg.Logging.Output = "stderr"
	logger.Init(cfg.Logging)
	return cfg, nil
}

func openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
