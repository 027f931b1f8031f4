package cmd

import (
	"fmt"

	"github.com/psds-microservice/chat-ticket-service/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chat-ticket-service",
	Short: "WhatsApp tickets: inbound routing, bot menus, lifecycle and auto-close",
	RunE:  runAPI,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
}

// loadConfig читает .env и окружение и настраивает logrus.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.SetupLogger()
	return cfg, nil
}
