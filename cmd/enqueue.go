package cmd

import (
	"context"
	"fmt"
	"strings"

	"mailbridge/internal/domain"
	"mailbridge/internal/infra/sqlitequeue"
	"mailbridge/internal/metrics"
	"mailbridge/internal/ports"
	"mailbridge/internal/usecase"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func enqueueCmd() *cobra.Command {
	var (
		sender    string
		subject   string
		messageID string
	)

	var command = &cobra.Command{
		Use:   "enqueue [command...]",
		Short: "Queue a command by hand; the result is mailed to --sender",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			q, err := sqlitequeue.Open(cfg.Queue.DatabasePath)
			if err != nil {
				return err
			}
			defer q.Close()

			enq := usecase.Enqueuer{Q: q, Pub: ports.NopPublisher{}, M: metrics.New(prometheus.NewRegistry())}
			id, created, err := enq.Submit(context.Background(), domain.NewJob{
				Sender:   sender,
				Command:  strings.Join(args, " "),
				DedupKey: strings.Trim(messageID, "<>"),
				Subject:  subject,
			})
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.OutOrStdout(), "duplicate message id %q, nothing queued\n", messageID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued job %d\n", id)
			return nil
		},
	}

	command.Flags().StringVar(&sender, "sender", "", "Address that receives the result")
	command.Flags().StringVar(&subject, "subject", "", "Subject used for the result mail")
	command.Flags().StringVar(&messageID, "message-id", "", "Optional dedup key; the result is threaded under it")
	_ = command.MarkFlagRequired("sender")
	return command
}
