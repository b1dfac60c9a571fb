package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/arbor/internal/cli"
	httpAdapter "github.com/aretw0/arbor/pkg/adapters/http"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Exposes threads, the knowledge memory and Prometheus metrics as a JSON API over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(rt *cli.Runtime) error {
			addr := rt.Config.Server.Addr
			if cmd.Flags().Changed("addr") {
				addr, _ = cmd.Flags().GetString("addr")
			}

			srv := &http.Server{
				Addr: addr,
				Handler: httpAdapter.NewHandler(rt.Engine,
					httpAdapter.WithLogger(rt.Logger),
					httpAdapter.WithMetrics(rt.Registry),
				),
				ReadHeaderTimeout: 10 * time.Second,
			}

			serverErrors := make(chan error, 1)
			go func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Starting arbor server on %s\n", srv.Addr)
				serverErrors <- srv.ListenAndServe()
			}()

			sigCtx := cli.NewSignalContext(cmd.Context())
			defer sigCtx.Cancel()

			select {
			case err := <-serverErrors:
				return fmt.Errorf("server error: %w", err)
			case <-sigCtx.Done():
				fmt.Fprintf(cmd.OutOrStdout(), "\nStart shutdown... Signal: %v\n", sigCtx.Signal())

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
					_ = srv.Close()
					return fmt.Errorf("graceful shutdown did not complete: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "arbor server stopped gracefully")
				return nil
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (default from config, :8080)")
}
