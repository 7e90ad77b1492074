package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"mailbridge/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var cfgFile string

func Run() {
	var command = &cobra.Command{
		Use:          "mailbridge",
		Short:        "Run agent commands received by email and reply with the results",
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	command.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Optional YAML config file layered over the environment")

	command.AddCommand(runCmd())
	command.AddCommand(apiCmd())
	command.AddCommand(statusCmd())
	command.AddCommand(enqueueCmd())
	command.AddCommand(retryCmd())

	if err := command.Execute(); err != nil {
		log.Fatal().Msgf("failed to execute command, err: %v", err.Error())
	}
}

// loadConfig reads the configuration and installs the global logger it
// describes.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	setupLogger(cfg.Log)
	return cfg, nil
}

func setupLogger(c config.Log) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil || c.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if strings.EqualFold(c.Format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	}
	zerolog.DefaultContextLogger = &log.Logger
}

// signalContext carries the global logger and is cancelled on SIGINT or
// SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx := log.Logger.WithContext(context.Background())
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
