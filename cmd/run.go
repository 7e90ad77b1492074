package cmd

import (
	"mailbridge/internal/worker"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var command = &cobra.Command{
		Use:   "run",
		Short: "Start the mail bridge loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return worker.Run(ctx, cfg)
		},
	}
	return command
}
