package main

import (
	"context"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/docmcp-lab/gateway/internal/auth"
	"github.com/docmcp-lab/gateway/internal/bridge"
	"github.com/docmcp-lab/gateway/internal/document"
	"github.com/docmcp-lab/gateway/internal/handlers"
	"github.com/docmcp-lab/gateway/internal/logging"
	"github.com/docmcp-lab/gateway/internal/metrics"
	"github.com/docmcp-lab/gateway/internal/operation"
	"github.com/docmcp-lab/gateway/internal/server"
	"github.com/docmcp-lab/gateway/internal/session"
	"github.com/docmcp-lab/gateway/internal/transport"
	"github.com/docmcp-lab/gateway/internal/worker"
)

const instructions = "Each document kind has its own tool taking an operation name plus that operation's arguments. " +
	"Call <kind>_operations to list the operations. Use session_open to keep a document in memory across calls."

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve [--stdio|--sse|--websocket] [--port N] [--host H]",
		Short: "Run the gateway (default command)",
		Long: "Run the gateway on the selected transport. Transport options are read from the raw arguments " +
			"(--transport=sse, --transport:sse, --sse, --port 8080, --host=0.0.0.0, case-insensitive) and from " +
			"ASPOSE_TRANSPORT, ASPOSE_PORT and ASPOSE_HOST.",
		// The transport options accept forms pflag cannot parse.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if wantsHelp(args) {
				return cmd.Help()
			}
			tc := transport.LoadFromArgs(args)
			v, err := newViper(os.LookupEnv)
			if err != nil {
				return err
			}
			set, err := loadSettings(v)
			if err != nil {
				return err
			}
			logging.Infow("gateway: starting", "transport", tc.Mode.String(), "addr", tc.Addr())
			if tc.Mode == transport.ModeStdio {
				// One local client: no listener, no auth.
				return runWorker(cmd.Context(), set, os.Getenv(bridge.EnvGroupID))
			}
			return runHTTP(cmd.Context(), tc, set)
		},
	}
}

// wantsHelp reports whether -h or --help appears before a "--" terminator.
func wantsHelp(args []string) bool {
	for _, a := range args {
		switch a {
		case "--":
			return false
		case "-h", "--help":
			return true
		}
	}
	return false
}

func runHTTP(ctx context.Context, tc transport.Config, set settings) error {
	m := metrics.New()
	opts := []server.Option{
		server.WithMetrics(m),
		server.WithAuth(auth.NewMiddleware(set.Auth, m)),
	}
	switch tc.Mode {
	case transport.ModeWebSocket:
		b := bridge.NewHandler(set.WorkerCommand, set.WorkerArgs,
			bridge.WithGracePeriod(set.GracePeriod),
			bridge.WithMetrics(m),
		)
		opts = append(opts, server.WithBridge(b))
		logging.Infow("gateway: bridging to worker", "command", set.WorkerCommand, "args", set.WorkerArgs)
	case transport.ModeSSE:
		d, err := handlers.NewDispatcher(m)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithServerFactory(func(group string) *mcp.Server {
			sessions := session.NewMemoryStore(session.WithMetrics(m))
			w := newWorker(d, set, sessions, group)
			go sessions.RunReaper(ctx, 0, set.IdleTimeout, w.SaveEvicted)
			return w.MCP()
		}))
	}
	srv, err := server.New(server.Config{Transport: tc, ShutdownTimeout: set.ShutdownTimeout}, opts...)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func newWorker(d *operation.Dispatcher, set settings, sessions session.Store, group string) *worker.Server {
	return worker.New(d, &document.Store{Root: set.DocumentRoot}, sessions, worker.Options{
		Group:        group,
		Instructions: instructions,
	})
}

// runWorker serves MCP on stdio until the client goes away, then saves
// any dirty sessions it still holds.
func runWorker(ctx context.Context, set settings, group string) error {
	d, err := handlers.NewDispatcher(nil)
	if err != nil {
		return err
	}
	sessions := session.NewMemoryStore()
	w := newWorker(d, set, sessions, group)

	reapCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sessions.RunReaper(reapCtx, 0, set.IdleTimeout, w.SaveEvicted)

	runErr := w.RunStdio(ctx)
	cancel()
	if n := w.Flush(context.Background()); n > 0 {
		logging.Infow("worker: flushed sessions on exit", "count", n)
	}
	return runErr
}
