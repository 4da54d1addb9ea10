package cli

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"pdfexport/internal/export"
)

func newNormalizeCommand(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize [value...]",
		Short: "Rewrite oklch() and oklab() colors in CSS values to rgb()",
		Long: `Normalizes each argument, or each line of stdin when no argument is
given. Values without unsafe colors are printed unchanged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			values := args
			if len(values) == 0 {
				sc := bufio.NewScanner(cmd.InOrStdin())
				sc.Buffer(make([]byte, 64*1024), 1<<20)
				for sc.Scan() {
					values = append(values, sc.Text())
				}
				if err := sc.Err(); err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}
			out := cmd.OutOrStdout()
			for _, v := range export.NormalizeLines(values) {
				fmt.Fprintln(out, v)
			}
			return nil
		},
	}
}
