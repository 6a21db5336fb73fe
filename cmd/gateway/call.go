package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/docmcp-lab/gateway/internal/auth"
	"github.com/docmcp-lab/gateway/internal/mcpclient"
	"github.com/docmcp-lab/gateway/internal/worker"
)

const keyAPIKey = "call.api_key"

func newCallCommand() *cobra.Command {
	v := viper.New()
	var (
		url        string
		headerName string
		command    string
		args       []string
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "call TOOL [JSON-ARGS]",
		Short: "Invoke one tool and print its result",
		Long: "Connect to a running gateway over WebSocket (--url) or spawn a worker (--command) and invoke one tool. " +
			"JSON-ARGS is the tool's argument object, for example '{\"operation\":\"get_info\",\"path\":\"a.pdf\"}'.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, positional []string) error {
			toolArgs, err := parseToolArgs(positional[1:])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			c := mcpclient.New("gateway-call", worker.Version, mcpclient.WithKeepalive(0))
			defer func() { _ = c.Close() }()
			if url != "" {
				header := http.Header{}
				if key := v.GetString(keyAPIKey); key != "" {
					header.Set(headerName, key)
				}
				err = c.ConnectWebSocket(ctx, url, header)
			} else {
				if command == "" {
					if command, err = os.Executable(); err != nil {
						return err
					}
				}
				err = c.ConnectCommand(ctx, "worker", command, args, nil)
			}
			if err != nil {
				return err
			}
			out, err := c.CallTool(ctx, positional[0], toolArgs)
			var te *mcpclient.ToolError
			if errors.As(err, &te) {
				_ = printJSON(cmd.OutOrStdout(), te.Body)
				return fmt.Errorf("tool %s reported an error", te.Tool)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&url, "url", "", "gateway WebSocket URL, e.g. ws://localhost:3000/ws")
	flags.String("api-key", "", "API key sent on the upgrade request (env ASPOSE_API_KEY)")
	flags.StringVar(&headerName, "header-name", auth.DefaultHeaderName, "header carrying the API key")
	flags.StringVar(&command, "command", "", "worker executable to spawn when --url is not set (default: this binary)")
	flags.StringSliceVar(&args, "arg", []string{"worker"}, "worker argument; repeat for several")
	flags.DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")
	_ = v.BindPFlag(keyAPIKey, flags.Lookup("api-key"))
	_ = v.BindEnv(keyAPIKey, "ASPOSE_API_KEY")
	return cmd
}

func parseToolArgs(raw []string) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) == 0 || raw[0] == "" {
		return args, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw[0])))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("tool arguments must be a JSON object: %w", err)
	}
	return args, nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
