package cli

import (
	"github.com/spf13/cobra"

	"github.com/kitty-ai/orchestrator/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host for the introspection server (overrides ORCHESTRATOR_OBS_HOST)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port for the introspection server (overrides ORCHESTRATOR_OBS_PORT)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use: "serve",
	Short: "Run the idle reaper and introspection server in the foreground",
	Long: `Start the background idle reaper and the /healthz, /status, /metrics HTTP surface.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}

	if serveHost != "" {
		d.Config.ObsHost = serveHost
	}
	if servePort > 0 {
		d.Config.ObsPort = servePort
	}

	return d.Serve(cmd.Context())
}
