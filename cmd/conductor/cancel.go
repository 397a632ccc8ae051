package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/internal/engine"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task and everything depending on it",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
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

	res, err := e.Cancel(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s canceled %s\n", color.YellowString("⊘"), res.TaskID)
	for _, id := range res.Cascaded {
		fmt.Printf("%s canceled %s (cascade)\n", color.YellowString("⊘"), id)
	}
	if len(res.Cascaded) == 0 {
		fmt.Println("no dependents affected")
	}
	return nil
}
