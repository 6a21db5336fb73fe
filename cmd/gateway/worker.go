package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/docmcp-lab/gateway/internal/bridge"
)

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Serve MCP on stdin/stdout; spawned once per WebSocket connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(os.LookupEnv)
			if err != nil {
				return err
			}
			set, err := loadSettings(v)
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), set, os.Getenv(bridge.EnvGroupID))
		},
	}
}
