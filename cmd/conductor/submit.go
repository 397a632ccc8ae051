package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/internal/engine"
	"github.com/ShayCichocki/conductor/pkg/models"
)

var (
	submitDescription string
	submitHandler     string
	submitSource      string
	submitPriority    int
	submitDependsOn   []string
	submitDeadline    string
	submitSyncPoint   bool
	submitMaxRetries  int
)

var submitCmd = &cobra.Command{
	Use:   "submit <title>",
	Short: "Submit a task to the queue",
	Long: `Submit a task. The engine validates the handler, priority, source,
and dependencies (including cycle checks) before anything is persisted.

The deadline accepts RFC 3339 ("2026-09-01T17:00:00Z") or a duration
from now ("4h").`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitDescription, "description", "d", "", "Detailed description passed to the handler")
	submitCmd.Flags().StringVar(&submitHandler, "handler", "", "Execution handler for the task (required)")
	submitCmd.Flags().StringVar(&submitSource, "source", string(models.SourceHuman), "Task source: human, scheduler, agent, followup")
	submitCmd.Flags().IntVarP(&submitPriority, "priority", "p", 5, "Base priority 0-10")
	submitCmd.Flags().StringArrayVar(&submitDependsOn, "depends-on", nil, "Prerequisite task ID (repeatable)")
	submitCmd.Flags().StringVar(&submitDeadline, "deadline", "", "Deadline as RFC 3339 time or duration from now")
	submitCmd.Flags().BoolVar(&submitSyncPoint, "sync-point", false, "Later waves wait for this task")
	submitCmd.Flags().IntVar(&submitMaxRetries, "retries", -1, "Retry budget (-1 uses the configured default)")
	submitCmd.MarkFlagRequired("handler")
}

func runSubmit(cmd *cobra.Command, args []string) error {
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

	deadline, err := parseDeadline(submitDeadline)
	if err != nil {
		return err
	}

	e := buildEngine(cfg, db, engine.NopLogger())
	if err := e.LoadGraph(); err != nil {
		return err
	}

	res, err := e.Submit(engine.SubmitRequest{
		Title:         args[0],
		Description:   submitDescription,
		Handler:       submitHandler,
		Source:        models.Source(submitSource),
		Prerequisites: submitDependsOn,
		BasePriority:  submitPriority,
		Deadline:      deadline,
		SyncPoint:     submitSyncPoint,
		MaxRetries:    submitMaxRetries,
	})
	if err != nil {
		return err
	}

	t := res.Task
	fmt.Printf("%s submitted %s\n", color.GreenString("✓"), t.ID)
	fmt.Printf("  title:    %s\n", t.Title)
	fmt.Printf("  handler:  %s\n", t.Handler)
	fmt.Printf("  status:   %s\n", t.Status)
	fmt.Printf("  score:    %.3f\n", t.Score)
	if len(t.Prerequisites) > 0 {
		fmt.Printf("  after:    %v\n", t.Prerequisites)
	}
	return nil
}

func parseDeadline(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		t := time.Now().Add(d)
		return &t, nil
	}
	return nil, fmt.Errorf("deadline %q is neither RFC 3339 nor a duration", s)
}
