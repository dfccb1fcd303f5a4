package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kitty-ai/orchestrator/internal/daemon"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use: "status",
	Short: "Show slot usage and lifecycle state for every configured endpoint",
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	fmt.Printf("capacity: %d active / %d total (%d available)\n",
		d.Slots.TotalActive(), d.Slots.TotalCapacity(), d.Slots.TotalAvailable())
	fmt.Printf("reaper: running=%v\n\n", d.Reaper.IsRunning())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tRUNNING\tACTIVE\tMAX\tAVAILABLE")
	for _, ep := range d.Endpoints.All() {
		s := ep.Status()
		fmt.Fprintf(w, "%s\t%v\t%d\t%d\t%d\n", s.Tier, s.Running, s.Active, s.Max, s.Available)
	}
	return w.Flush()
}
