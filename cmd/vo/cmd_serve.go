package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/daviddao/virtualoffice/pkg/api"
)

func serveCmd(g *globals) *cobra.Command {
	var (
		addr string
		auto bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control API (with /metrics)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g.logFormat = "json"
			return run(g, cmd, func(a *app) error {
				if addr == "" {
					addr = a.cfg.Server.Addr
				}
				if auto {
					if err := a.engine.StartAutoTicks(); err != nil {
						return err
					}
				}

				gin.SetMode(gin.ReleaseMode)
				srv := api.New(a.engine, a.store, a.log)
				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return srv.Serve(ctx, addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr from config)")
	cmd.Flags().BoolVar(&auto, "auto", false, "start auto-ticking (requires a running simulation)")
	return cmd
}
