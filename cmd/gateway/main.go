// Command gateway serves document operations to MCP clients over stdio,
// SSE, or WebSocket.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docmcp-lab/gateway/internal/logging"
)

func main() {
	logging.Init()
	defer func() { _ = logging.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	root.SetArgs(withDefaultCommand(root, os.Args[1:]))
	if err := root.ExecuteContext(ctx); err != nil {
		logging.Errorw("gateway: exiting", "err", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "gateway",
		Short:         "MCP gateway for document operations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newWorkerCommand(), newCallCommand())
	return root
}

// withDefaultCommand routes bare invocations to serve, so that
// `gateway --sse --port 8080` keeps working.
func withDefaultCommand(root *cobra.Command, args []string) []string {
	if len(args) > 0 {
		switch args[0] {
		case "help", "completion", "-h", "--help":
			return args
		}
		for _, c := range root.Commands() {
			if c.Name() == args[0] || c.HasAlias(args[0]) {
				return args
			}
		}
	}
	return append([]string{"serve"}, args...)
}
