package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kitty-ai/orchestrator/internal/daemon"
)

func init() {
	rootCmd.AddCommand(healthCmd)
}

var healthCmd = &cobra.Command{
	Use: "health",
	Short: "Probe every configured endpoint and report whether it responds",
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	results := d.Slots.CheckAllHealth(cmd.Context())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tHEALTHY")
	unhealthy := 0
	for _, ep := range d.Endpoints.All() {
		ok := results[ep.Tier]
		if !ok {
			unhealthy++
		}
		fmt.Fprintf(w, "%s\t%v\n", ep.Tier, ok)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if unhealthy > 0 {
		return fmt.Errorf("%d endpoint(s) failed health check", unhealthy)
	}
	return nil
}
