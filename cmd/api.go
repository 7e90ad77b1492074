package cmd

import (
	"mailbridge/internal/api"
	"mailbridge/internal/infra/redisq"
	"mailbridge/internal/infra/sqlitequeue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func apiCmd() *cobra.Command {
	var addr string
	var command = &cobra.Command{
		Use:   "api",
		Short: "Serve the status API over the command queue without running the bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			q, err := sqlitequeue.Open(cfg.Queue.DatabasePath)
			if err != nil {
				return err
			}
			defer q.Close()

			var events api.EventSource
			if cfg.Redis.Addr != "" {
				rc := redisq.New(cfg.Redis)
				defer rc.Close()
				if err := rc.Connect(ctx); err != nil {
					log.Warn().Err(err).Msg("event stream unavailable, /events disabled")
				} else {
					events = rc
				}
			}

			if addr == "" {
				addr = cfg.API.Addr
			}
			if addr == "" {
				addr = ":8080"
			}
			return api.NewServer(q, events, prometheus.DefaultGatherer).Run(ctx, addr)
		},
	}

	command.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (defaults to API_ADDR or :8080)")
	return command
}
