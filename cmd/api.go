package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/psds-microservice/chat-ticket-service/internal/application"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run HTTP API, bridge client, queue worker and auto-close",
	RunE:  runAPI,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run bridge client, queue worker and auto-close without HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(application.ModeWorker)
	},
}

func runAPI(cmd *cobra.Command, args []string) error {
	return run(application.ModeAPI)
}

func run(mode application.Mode) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := application.New(ctx, cfg, mode)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.Run(ctx)
}
