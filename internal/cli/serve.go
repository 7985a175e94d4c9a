package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tutu-network/inferencegate/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "listen", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the inference gateway",
	Long:  `Start the gateway HTTP API server.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	d, err := daemon.New(rootCmd.Version)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		d.Config.Gateway.ListenAddr = serveAddr
	}
	return d.Serve(context.Background())
}
