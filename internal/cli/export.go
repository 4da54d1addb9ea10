package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pdfexport/internal/capture"
	"pdfexport/internal/export"
)

type renderFlags struct {
	selector    string
	baseURL     string
	fetchCSS    bool
	fallback    string
	colorScheme string
	media       string
}

func (f *renderFlags) register(cmd *cobra.Command, selector, usage string) {
	cmd.Flags().StringVarP(&f.selector, "selector", "s", selector, usage)
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "base URL for linked stylesheets")
	cmd.Flags().BoolVar(&f.fetchCSS, "fetch-css", false, "download linked stylesheets")
	cmd.Flags().StringVar(&f.fallback, "fallback", "", "unparseable colors: passthrough or black")
	cmd.Flags().StringVar(&f.colorScheme, "color-scheme", "", "prefers-color-scheme to emulate: light or dark")
	cmd.Flags().StringVar(&f.media, "media", "", "media type: screen or print")
}

// apply copies the flags the user set over the render config.
func (f *renderFlags) apply(cmd *cobra.Command, a *app) {
	r := &a.cfg.Render
	if cmd.Flags().Changed("base-url") {
		r.BaseURL = f.baseURL
	}
	if cmd.Flags().Changed("fetch-css") {
		r.FetchCSS = f.fetchCSS
	}
	if cmd.Flags().Changed("fallback") {
		r.Fallback = f.fallback
	}
	if cmd.Flags().Changed("color-scheme") {
		r.ColorScheme = f.colorScheme
	}
	if cmd.Flags().Changed("media") {
		r.Media = f.media
	}
}

func newExportCommand(a *app) *cobra.Command {
	var (
		rf     renderFlags
		mode   string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Write an export-safe copy of a subtree",
		Long: `Reads an HTML page from file or stdin, clones the subtree matched by
--selector with every color frozen to rgb() and writes it as an HTML
fragment, the whole page with the clone mounted offscreen, or a PNG/PDF
rendered by headless Chrome.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := export.ParseMode(mode)
			if err != nil {
				return err
			}
			rf.apply(cmd, a)

			in, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer in.Close()

			var raster export.Rasterizer
			if m == export.ModePNG || m == export.ModePDF {
				c := capture.New(a.captureOptions())
				defer c.Close()
				raster = c
			}
			exp := export.New(a.cfg.SafeCloneOptions(), raster, a.logger)
			res, err := exp.Export(cmd.Context(), in, rf.selector, m)
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(res.Body)
				return err
			}
			if err := os.WriteFile(output, res.Body, 0o644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			a.logger.Info("wrote export", "path", output, "bytes", len(res.Body))
			return nil
		},
	}
	rf.register(cmd, "", "CSS selector of the subtree, required; html, head and body are rejected")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(export.ModeFragment), "fragment, document, png or pdf")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}
