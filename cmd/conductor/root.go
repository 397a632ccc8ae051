package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/internal/engine"
	"github.com/ShayCichocki/conductor/internal/exec"
	"github.com/ShayCichocki/conductor/internal/state"
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Task orchestration engine",
	Long: `Conductor schedules and executes dependent tasks against a local queue.

Tasks form a dependency graph. The engine dispatches ready work by
composite priority under bounded concurrency, retries transient failures
with backoff, and holds work behind per-handler circuit breakers.

Submit work with 'conductor submit', run the loop with 'conductor serve',
and inspect the queue with 'conductor status' and 'conductor list'.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	Execute()
}

// projectRoot is the working directory; the queue database and config
// live under its .conductor directory.
func projectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return cwd, nil
}

// openStore opens and migrates the queue database for the project.
func openStore(cfg *config.Config, root string) (*state.DB, error) {
	dbPath := cfg.ResolveDBPath(root)
	if dbPath == "" {
		dbPath = state.DefaultDBPath()
	}
	db, err := state.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// buildRegistry wires the configured handlers into a registry.
func buildRegistry(cfg *config.Config) *exec.Registry {
	reg := exec.NewRegistry()
	for name, h := range cfg.Handlers {
		c := exec.NewCommandCollaborator(h.Command, h.WorkDir)
		c.RetryableExitCodes = h.RetryableExitCodes
		reg.Register(name, c)
	}
	return reg
}

// buildEngine assembles an engine over the store with the configured
// stack. The caller decides whether to start the control loop.
func buildEngine(cfg *config.Config, db *state.DB, logger *engine.DebugLogger) *engine.Engine {
	return engine.New(db, buildRegistry(cfg),
		engine.WithConcurrency(cfg.Engine.Concurrency),
		engine.WithTickInterval(cfg.Engine.TickInterval),
		engine.WithExecTimeout(cfg.Engine.ExecTimeout),
		engine.WithStuckMultiple(cfg.Engine.StuckMultiple),
		engine.WithCancelGrace(cfg.Engine.CancelGrace),
		engine.WithDefaultMaxRetries(cfg.Engine.DefaultMaxRetries),
		engine.WithRetryPolicy(cfg.Retry),
		engine.WithBreakerConfig(cfg.Breaker),
		engine.WithWeights(cfg.Priority),
		engine.WithLogger(logger),
	)
}
