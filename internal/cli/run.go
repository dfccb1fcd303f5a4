package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kitty-ai/orchestrator/internal/daemon"
)

func init() {
	runCmd.Flags().IntVar(&runMaxTasks, "max-tasks", 6, "Maximum number of decomposed tasks")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the full goal run as JSON instead of a text summary")
	rootCmd.AddCommand(runCmd)
}

var (
	runMaxTasks int
	runJSON     bool
)

var runCmd = &cobra.Command{
	Use: "run GOAL",
	Short: "Decompose a goal into tasks, run them in parallel, and synthesize the result",
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	goalText := strings.Join(args, " ")

	d, err := daemon.New()
	if err != nil {
		return fmt.Errorf("initialize daemon: %w", err)
	}
	defer d.Close()

	run := d.ExecuteGoal(cmd.Context(), goalText, runMaxTasks, nil)

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", " ")
		return enc.Encode(run)
	}

	fmt.Println(run.FinalOutput)
	if run.VoiceSummary != "" {
		fmt.Println()
		fmt.Println("Summary:", run.VoiceSummary)
	}
	fmt.Fprintf(os.Stderr, "\n%d/%d tasks completed across %d batches",
		run.Metrics.Completed, run.Metrics.TotalTasks, run.Metrics.ParallelBatches)
	if run.Partial {
		fmt.Fprint(os.Stderr, " (partial - cancelled before all tasks finished)")
	}
	fmt.Fprintln(os.Stderr)
	return nil
}
