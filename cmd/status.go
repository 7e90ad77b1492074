package cmd

import (
	"context"
	"fmt"

	"mailbridge/internal/domain"
	"mailbridge/internal/infra/sqlitequeue"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	labelStyle  = lipgloss.NewStyle().Width(12)
	statusColor = map[domain.Status]lipgloss.Color{
		domain.StatusPending:    lipgloss.Color("3"),
		domain.StatusProcessing: lipgloss.Color("4"),
		domain.StatusCompleted:  lipgloss.Color("2"),
		domain.StatusFailed:     lipgloss.Color("1"),
	}
)

func statusCmd() *cobra.Command {
	var failed int
	var command = &cobra.Command{
		Use:   "status",
		Short: "Print queue counts and the most recent failures",
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

			ctx := context.Background()
			stats, err := q.Stats(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, headerStyle.Render("Command queue"))
			total := 0
			for _, st := range domain.Statuses {
				n := stats[st]
				total += n
				style := lipgloss.NewStyle().Foreground(statusColor[st])
				fmt.Fprintf(out, "%s %s\n", labelStyle.Render(string(st)), style.Render(fmt.Sprint(n)))
			}
			fmt.Fprintf(out, "%s %d\n", labelStyle.Render("total"), total)

			if failed <= 0 || stats[domain.StatusFailed] == 0 {
				return nil
			}
			jobs, err := q.List(ctx, domain.StatusFailed, failed)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, headerStyle.Render("Failed jobs"))
			errStyle := lipgloss.NewStyle().Foreground(statusColor[domain.StatusFailed])
			for _, j := range jobs {
				fmt.Fprintf(out, "#%d %s %s\n", j.ID, j.Sender, errStyle.Render(j.Error))
			}
			return nil
		},
	}

	command.Flags().IntVar(&failed, "failed", 5, "Number of failed jobs to list")
	return command
}
