package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pdfexport/internal/capture"
	"pdfexport/internal/export"
	"pdfexport/internal/server"
	"pdfexport/safeclone"
)

func newServeCommand(a *app) *cobra.Command {
	var (
		addr      string
		noCapture bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP export service",
		Long: `Serves POST /export, /verify and /normalize plus GET /ping and /metrics.
PNG and PDF exports need Chrome unless --no-capture is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var raster export.Rasterizer
			if !noCapture {
				c := capture.New(a.captureOptions())
				defer c.Close()
				raster = c
			}
			opts := a.cfg.SafeCloneOptions()
			if opts.FetchExternal {
				opts.Cache = safeclone.NewSheetCache(a.cfg.Render.CSSCacheTTL, nil)
			}
			srv := server.New(
				export.New(opts, raster, a.logger),
				server.Config{
					MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
					Logger:       a.logger,
				},
			)
			return srv.ListenAndServe(ctx, a.cfg.Server.Addr, a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address (default from config, :8080)")
	cmd.Flags().BoolVar(&noCapture, "no-capture", false, "disable PNG and PDF exports")
	return cmd
}
