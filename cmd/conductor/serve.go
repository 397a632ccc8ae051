package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/internal/engine"
	"github.com/ShayCichocki/conductor/internal/state"
)

var serveQuiet bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration loop",
	Long: `Run the engine against the project queue until interrupted.

Interrupted attempts from a previous run are reset to pending with a
restart note before the loop starts. Tasks submitted while the loop is
running are picked up on the next tick.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVarP(&serveQuiet, "quiet", "q", false, "Suppress per-event output")
}

func runServe(cmd *cobra.Command, args []string) error {
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

	// Reset attempts interrupted by a previous crash or kill.
	recovered, err := state.NewRecoveryManager(db).RecoverInterrupted()
	if err != nil {
		return fmt.Errorf("recover interrupted tasks: %w", err)
	}
	for _, r := range recovered {
		fmt.Printf("%s requeued interrupted task %s\n", color.YellowString("↺"), r.TaskID)
	}

	logger := engine.NewDebugLoggerForProject(root)
	defer logger.Close()

	e := buildEngine(cfg, db, logger)

	// Priority weights reload live on config file changes.
	watcher, err := config.Watch(root,
		func(next *config.Config) {
			e.UpdateWeights(next.Priority)
			fmt.Printf("%s config reloaded, priority weights applied\n", color.CyanString("⟳"))
		},
		func(err error) {
			fmt.Fprintf(os.Stderr, "%s config reload rejected: %v\n", color.RedString("✗"), err)
		},
	)
	if err != nil {
		return err
	}
	_ = watcher

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("%s conductor serving queue at %s (concurrency %d)\n",
		color.GreenString("▶"), db.Path(), cfg.Engine.Concurrency)

	events := e.Events()
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nshutting down, draining in-flight tasks...")
			e.Stop()
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !serveQuiet {
				printEvent(ev)
			}
		}
	}
}

func printEvent(ev engine.Event) {
	stamp := ev.Timestamp.Format("15:04:05")
	switch ev.Type {
	case engine.EventTaskCompleted:
		fmt.Printf("[%s] %s %s %s\n", stamp, color.GreenString("✓"), ev.TaskID, ev.TaskTitle)
	case engine.EventTaskFailed:
		fmt.Printf("[%s] %s %s %s: %s\n", stamp, color.RedString("✗"), ev.TaskID, ev.TaskTitle, ev.Reason)
	case engine.EventTaskRetry:
		fmt.Printf("[%s] %s %s %s\n", stamp, color.YellowString("↻"), ev.TaskID, ev.Message)
	case engine.EventTaskCanceled:
		fmt.Printf("[%s] %s %s %s\n", stamp, color.YellowString("⊘"), ev.TaskID, ev.Message)
	case engine.EventBreakerOpen:
		fmt.Printf("[%s] %s breaker open: %s\n", stamp, color.RedString("⚡"), ev.Handler)
	case engine.EventBreakerClosed:
		fmt.Printf("[%s] %s breaker closed: %s\n", stamp, color.GreenString("⚡"), ev.Handler)
	case engine.EventLiveness:
		fmt.Printf("[%s] %s %s: %s\n", stamp, color.YellowString("⚠"), ev.Reason, ev.Message)
	case engine.EventTaskDispatched:
		fmt.Printf("[%s] %s %s %s -> %s\n", stamp, color.CyanString("→"), ev.TaskID, ev.TaskTitle, ev.Handler)
	}
}
