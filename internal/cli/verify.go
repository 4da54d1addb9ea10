package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pdfexport/internal/export"
)

// ErrUnsafe is returned by verify when unsafe colors were found.
var ErrUnsafe = errors.New("unsafe colors found")

func newVerifyCommand(a *app) *cobra.Command {
	var (
		rf     renderFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "verify [file]",
		Short: "Report oklch() and oklab() declarations in a subtree",
		Long: `Scans the literal style state of the subtree matched by --selector:
style attributes, SVG color attributes and <style> text. Exits with
status 1 when anything unsafe is found.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rf.apply(cmd, a)
			in, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer in.Close()

			exp := export.New(a.cfg.SafeCloneOptions(), nil, a.logger)
			rep, err := exp.Verify(cmd.Context(), in, rf.selector)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(rep); err != nil {
					return err
				}
			} else {
				for _, f := range rep.Findings {
					fmt.Fprintf(out, "%s\t%s\t%s\n", f.Path, f.Property, f.Value)
				}
				if rep.Safe {
					fmt.Fprintln(out, "ok: no unsafe colors")
				}
			}
			if !rep.Safe {
				return fmt.Errorf("%w: %d declaration(s)", ErrUnsafe, len(rep.Findings))
			}
			return nil
		},
	}
	rf.register(cmd, export.DefaultSelector, "CSS selector of the subtree")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
