package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/internal/state"
	"github.com/ShayCichocki/conductor/pkg/models"
)

var (
	listStatus string
	listSource string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks in the queue",
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status")
	listCmd.Flags().StringVar(&listSource, "source", "", "Filter by source")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum tasks to show (0 for all)")
}

func runList(cmd *cobra.Command, args []string) error {
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

	f := state.Filter{Limit: listLimit}
	if listStatus != "" {
		s := models.TaskStatus(listStatus)
		if !s.Valid() {
			return fmt.Errorf("unknown status %q", listStatus)
		}
		f.Status = s
	}
	if listSource != "" {
		s := models.Source(listSource)
		if !s.Valid() {
			return fmt.Errorf("unknown source %q", listSource)
		}
		f.Source = s
	}

	tasks, err := db.ListTasks(f)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks match. Submit one with 'conductor submit'.")
		return nil
	}

	fmt.Printf("%-36s  %-14s  %-10s  %6s  %s\n", "ID", "STATUS", "HANDLER", "SCORE", "TITLE")
	for _, t := range tasks {
		fmt.Printf("%-36s  %-14s  %-10s  %6.2f  %s\n",
			t.ID, colorStatus(t.Status), t.Handler, t.Score, t.Title)
		if t.Status == models.TaskStatusFailed && t.LastError != "" {
			fmt.Printf("%38s%s %s\n", "", color.RedString("└"), t.LastError)
		}
	}
	fmt.Printf("\n%d task(s), as of %s\n", len(tasks), time.Now().Format("15:04:05"))
	return nil
}

func colorStatus(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusComplete:
		return color.GreenString("%-14s", s)
	case models.TaskStatusRunning:
		return color.CyanString("%-14s", s)
	case models.TaskStatusReady:
		return color.BlueString("%-14s", s)
	case models.TaskStatusFailed, models.TaskStatusBlockedFailed:
		return color.RedString("%-14s", s)
	case models.TaskStatusCanceled:
		return color.YellowString("%-14s", s)
	default:
		return fmt.Sprintf("%-14s", s)
	}
}
