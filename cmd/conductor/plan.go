package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/internal/engine"
	"github.com/ShayCichocki/conductor/internal/graph"
)

var planFormat string

var planCmd = &cobra.Command{
	Use:   "plan [task-id...]",
	Short: "Preview the execution wave plan",
	Long: `Show how the given tasks (or the whole queue) partition into
sequential waves of parallel work. Read-only; nothing is dispatched.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planFormat, "format", "text", "Output format: text or yaml")
}

// planDoc is the yaml projection of an execution plan.
type planDoc struct {
	TotalWaves     int       `yaml:"total_waves"`
	MaxParallelism int       `yaml:"max_parallelism"`
	Waves          []waveDoc `yaml:"waves"`
}

type waveDoc struct {
	Index     int      `yaml:"index"`
	Tasks     []string `yaml:"tasks"`
	SyncPoint bool     `yaml:"sync_point,omitempty"`
}

func runPlan(cmd *cobra.Command, args []string) error {
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

	e := buildEngine(cfg, db, engine.NopLogger())
	if err := e.LoadGraph(); err != nil {
		return err
	}

	plan, err := e.ExecutionPlan(args)
	if err != nil {
		return err
	}

	switch planFormat {
	case "yaml":
		return printPlanYAML(plan)
	case "text":
		printPlanText(plan)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text or yaml)", planFormat)
	}
}

func printPlanText(plan *graph.ExecutionPlan) {
	if plan.TotalWaves == 0 {
		fmt.Println("Nothing to plan.")
		return
	}
	fmt.Printf("%d wave(s), max parallelism %d\n\n", plan.TotalWaves, plan.MaxParallelism)
	for _, w := range plan.Waves {
		marker := ""
		if w.SyncPoint {
			marker = " " + color.YellowString("[sync point]")
		}
		fmt.Printf("wave %d%s\n", w.Index, marker)
		fmt.Printf("  %s\n", strings.Join(w.TaskIDs, "\n  "))
	}
}

func printPlanYAML(plan *graph.ExecutionPlan) error {
	doc := planDoc{
		TotalWaves:     plan.TotalWaves,
		MaxParallelism: plan.MaxParallelism,
	}
	for _, w := range plan.Waves {
		doc.Waves = append(doc.Waves, waveDoc{
			Index:     w.Index,
			Tasks:     w.TaskIDs,
			SyncPoint: w.SyncPoint,
		})
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(doc)
}
