package main

import (
	"context"
	"log/slog"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/sat8bit/tavern/agent"
	"github.com/sat8bit/tavern/mcp"
	"github.com/sat8bit/tavern/server"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the JSON HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := server.New(server.Deps{
				Characters: a.characters,
				Bots:       a.bots,
				Chain:      a.chain,
				Agents:     agent.NewRegistry(),
				Reasoner:   a.reasoner,
			})

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(addr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			slog.Info("shutting down http server")
			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			return mcp.NewServer(a.characters, a.chain, version).Run(ctx, &sdk.StdioTransport{})
		},
	}
}
