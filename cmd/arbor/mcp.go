package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aretw0/arbor/internal/cli"
	"github.com/aretw0/arbor/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts arbor as an MCP Server, so agents can start and resume threads and query
the knowledge memory as tools.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		port, _ := cmd.Flags().GetInt("port")

		return withRuntime(cmd, func(rt *cli.Runtime) error {
			srv := mcp.NewServer(rt.Engine, mcp.WithLogger(rt.Logger))

			switch transport {
			case "stdio":
				rt.Logger.Info("Starting arbor MCP Server (Stdio)")
				return srv.ServeStdio()
			case "sse":
				sigCtx := cli.NewSignalContext(cmd.Context())
				defer sigCtx.Cancel()

				addr := fmt.Sprintf(":%d", port)
				err := srv.ServeSSE(sigCtx, addr, fmt.Sprintf("http://localhost:%d", port))
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				rt.Logger.Info("MCP Server stopped gracefully")
				return nil
			default:
				return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", transport)
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().Int("port", 8081, "Port to listen on (only for SSE)")
}
