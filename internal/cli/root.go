// Package cli implements the pdfexport command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"pdfexport/internal/capture"
	"pdfexport/internal/config"
	"pdfexport/internal/logging"
)

// app carries what PersistentPreRunE prepared for the subcommands.
type app struct {
	configPath string
	logLevel   string
	cfg        config.Config
	logger     *slog.Logger
}

// NewRootCommand builds the pdfexport command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "pdfexport",
		Short: "Produce export-safe copies of styled HTML",
		Long: `pdfexport clones an HTML subtree, freezes its resolved colors as literal
rgb() values and hands the copy to a rasterizer that does not understand
oklch() or oklab().`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("PDFEXPORT_CONFIG"), "YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	root.AddCommand(
		newExportCommand(a),
		newVerifyCommand(a),
		newNormalizeCommand(a),
		newServeCommand(a),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pdfexport:", err)
		os.Exit(1)
	}
}

func (a *app) init(logOut io.Writer) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(level, logOut)
	return nil
}

func (a *app) captureOptions() capture.Options {
	return capture.Options{
		ChromePath:     a.cfg.Capture.ChromePath,
		Headless:       a.cfg.Capture.Headless,
		Timeout:        a.cfg.Capture.Timeout,
		Scale:          a.cfg.Capture.Scale,
		ViewportWidth:  a.cfg.Render.ViewportWidth,
		ViewportHeight: a.cfg.Render.ViewportHeight,
		ColorScheme:    a.cfg.Render.ColorScheme,
		Landscape:      a.cfg.Capture.Landscape,
		PaperWidth:     a.cfg.Capture.PaperWidth,
		PaperHeight:    a.cfg.Capture.PaperHeight,
		Logger:         a.logger,
	}
}

// openInput opens the named file, or stdin for "" and "-".
func openInput(cmd *cobra.Command, args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}
