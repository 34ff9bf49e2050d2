package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"marcus/internal/task"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Analyze the board and print the diagnostic report",
	Long: `Loads durable state, runs the board analyzer, and prints the report as
JSON: health score, cycles, dangling dependencies, bottlenecks, long
chains, stalls, and unservable tasks.`,
	RunE: runDiagnose,
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	_, c, err := buildCore(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Recover(); err != nil {
		return fmt.Errorf("recovering state: %w", err)
	}
	rep, err := c.Diagnose()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import tasks from a YAML or JSON file",
	Long: `Bulk-loads a task list into the board. Parents are inserted before
their subtasks, dependency inference runs over the batch, and every card
is mirrored to the configured kanban backend.

The file holds a list of task objects; see docs for the field reference.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	tasks, err := readTaskFile(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	_, c, err := buildCore(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Recover(); err != nil {
		return fmt.Errorf("recovering state: %w", err)
	}
	if err := c.ImportTasks(ctx, tasks); err != nil {
		return err
	}
	c.FlushMirror()
	fmt.Printf("imported %d tasks\n", len(tasks))
	return nil
}

// readTaskFile parses a task list. YAML documents are normalized through
// JSON so both formats share the task field names.
func readTaskFile(path string) ([]*task.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		var raw interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if data, err = json.Marshal(raw); err != nil {
			return nil, err
		}
	}

	var tasks []*task.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return tasks, nil
}
