package cmd

import (
	"context"
	"fmt"
	"strconv"

	"mailbridge/internal/infra/sqlitequeue"

	"github.com/spf13/cobra"
)

func retryCmd() *cobra.Command {
	var command = &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Return a failed job to the queue for one more attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			q, err := sqlitequeue.Open(cfg.Queue.DatabasePath)
			if err != nil {
				return err
			}
			defer q.Close()

			if err := q.Requeue(context.Background(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %d requeued\n", id)
			return nil
		},
	}
	return command
}
