package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue status",
	Long: `Display aggregate queue state: per-status counts, average score,
oldest pending age, and the configured handlers.`,
	RunE: runStatus,
}

var (
	statusHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	statusCellStyle   = lipgloss.NewStyle().PaddingRight(2)
	statusBoxStyle    = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240")).
				Padding(0, 1)
)

func runStatus(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	db, err := openStore(cfg, root)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats()
	if err != nil {
		return err
	}

	if stats.Total == 0 {
		fmt.Println("Queue is empty. Submit work with 'conductor submit'.")
		return nil
	}

	var rows []string
	rows = append(rows, statusHeaderStyle.Render("Queue"))
	rows = append(rows, fmt.Sprintf("%s%d", statusCellStyle.Render("total tasks"), stats.Total))
	rows = append(rows, fmt.Sprintf("%s%.2f", statusCellStyle.Render("average score"), stats.AvgScore))
	if stats.OldestPendingAge > 0 {
		rows = append(rows, fmt.Sprintf("%s%s", statusCellStyle.Render("oldest pending"), stats.OldestPendingAge.Round(time.Second)))
	}

	rows = append(rows, "", statusHeaderStyle.Render("By status"))
	statuses := make([]string, 0, len(stats.PerStatus))
	for s := range stats.PerStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		rows = append(rows, fmt.Sprintf("%s%d", statusCellStyle.Render(fmt.Sprintf("%-14s", s)), stats.PerStatus[models.TaskStatus(s)]))
	}

	rows = append(rows, "", statusHeaderStyle.Render("Handlers"))
	if len(cfg.Handlers) == 0 {
		rows = append(rows, "none configured")
	}
	handlers := make([]string, 0, len(cfg.Handlers))
	for name := range cfg.Handlers {
		handlers = append(handlers, name)
	}
	sort.Strings(handlers)
	for _, name := range handlers {
		rows = append(rows, fmt.Sprintf("%s%s", statusCellStyle.Render(fmt.Sprintf("%-14s", name)), cfg.Handlers[name].Command))
	}

	fmt.Println(statusBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
	return nil
}
