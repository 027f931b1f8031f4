package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/psds-microservice/chat-ticket-service/internal/database"
	"github.com/psds-microservice/chat-ticket-service/internal/kafka"
	"github.com/psds-microservice/chat-ticket-service/internal/model"
	"github.com/psds-microservice/chat-ticket-service/internal/store"
	"github.com/psds-microservice/chat-ticket-service/internal/store/gormstore"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var republishCmd = &cobra.Command{
	Use:   "republish",
	Short: "Send ticket.updated to Kafka for every pending, open and group ticket (rebuilds downstream projections)",
	RunE:  runRepublish,
}

var republishCompanyID uint64

func init() {
	republishCmd.Flags().Uint64Var(&republishCompanyID, "company-id", 0, "only tickets of this company (0 = all)")
	rootCmd.AddCommand(republishCmd)
}

const republishPage = 200

func runRepublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicTicket)
	defer producer.Close()
	if !producer.Enabled() {
		logrus.Warn("republish: KAFKA_BROKERS not set, nothing to do")
		return nil
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	st := gormstore.New(db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	sent := 0
	for _, status := range []model.TicketStatus{model.TicketStatusPending, model.TicketStatusOpen, model.TicketStatusGroup} {
		filter := store.TicketFilter{CompanyID: republishCompanyID, Status: status}
		for offset := 0; ; offset += republishPage {
			tickets, total, err := st.ListTickets(ctx, filter, republishPage, offset)
			if err != nil {
				return fmt.Errorf("list %s tickets: %w", status, err)
			}
			for i := range tickets {
				producer.ProduceTicketEvent(ctx, "ticket.updated", kafka.TicketPayload(&tickets[i]))
				sent++
			}
			if len(tickets) < republishPage || int64(offset+len(tickets)) >= total {
				break
			}
		}
		logrus.WithFields(logrus.Fields{"status": status, "sent": sent}).Info("republish: status done")
	}
	logrus.WithField("sent", sent).Info("republish: done")
	return nil
}
