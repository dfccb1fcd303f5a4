package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kitty-ai/orchestrator/internal/daemon"
	"github.com/kitty-ai/orchestrator/internal/domain"
)

func init() {
	supervisorCmd.AddCommand(supervisorStartCmd, supervisorStopCmd, supervisorRestartCmd)
	rootCmd.AddCommand(supervisorCmd)
}

var supervisorCmd = &cobra.Command{
	Use: "supervisor",
	Short: "Start, stop, or restart a tier's endpoint process",
}

var supervisorStartCmd = &cobra.Command{
	Use: "start TIER",
	Short: "Launch the endpoint process for a tier",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New()
		if err != nil {
			return err
		}
		defer d.Close()

		pid, err := d.Supervisor.Start(cmd.Context(), domain.Tier(args[0]))
		if err != nil {
			return err
		}
		fmt.Printf("started %s (pid %d)\n", args[0], pid)
		return nil
	},
}

var supervisorStopCmd = &cobra.Command{
	Use: "stop TIER",
	Short: "Gracefully stop the endpoint process for a tier",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New()
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.Supervisor.Stop(cmd.Context(), domain.Tier(args[0]), 10*time.Second); err != nil {
			return err
		}
		fmt.Printf("stopped %s\n", args[0])
		return nil
	},
}

var supervisorRestartCmd = &cobra.Command{
	Use: "restart TIER",
	Short: "Stop and relaunch the endpoint process for a tier",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New()
		if err != nil {
			return err
		}
		defer d.Close()

		pid, err := d.Supervisor.Restart(cmd.Context(), domain.Tier(args[0]))
		if err != nil {
			return err
		}
		fmt.Printf("restarted %s (pid %d)\n", args[0], pid)
		return nil
	},
}
