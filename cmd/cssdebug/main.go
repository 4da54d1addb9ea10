// Command cssdebug prints the resolved color properties of the elements
// matching a selector, next to the values an export-safe clone would carry.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"pdfexport/internal/logging"
	"pdfexport/safeclone"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cssdebug:", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		selector string
		scheme   string
		all      bool
		verbose  bool
	)
	cmd := &cobra.Command{
		Use:           "cssdebug <url|file>",
		Short:         "Dump resolved colors of matching elements",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := "info"
			if verbose {
				level = "debug"
			}
			lvl, _ := logging.ParseLevel(level)
			logger := logging.New(lvl, cmd.ErrOrStderr())

			src := args[0]
			body, base, err := open(cmd.Context(), src)
			if err != nil {
				return err
			}
			defer body.Close()
			logger.Info("fetch", "src", src)

			doc, err := safeclone.Parse(cmd.Context(), body, safeclone.Options{
				BaseURL:       base,
				FetchExternal: base != "",
				ColorScheme:   scheme,
				Logger:        logger,
			})
			if err != nil {
				return err
			}
			nodes, err := doc.QueryAll(selector)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, n := range nodes {
				fmt.Fprintf(out, "node=%s class=%q\n", n.Data, classOf(n.Attr))
				for _, p := range doc.ResolveColorProperties(n).Properties() {
					safe := safeclone.Normalize(p.Value)
					if !all && safe == p.Value {
						continue
					}
					fmt.Fprintf(out, "  %-24s %s", p.Name, p.Value)
					if safe != p.Value {
						fmt.Fprintf(out, " -> %s", safe)
					}
					if hex, ok := safeclone.HexColor(safe); ok {
						fmt.Fprintf(out, " [%s]", hex)
					}
					fmt.Fprintln(out)
				}
			}
			logger.Info("done", "matched", len(nodes), "rules", doc.Stylesheet().Len())
			return nil
		},
	}
	cmd.Flags().StringVarP(&selector, "selector", "s", "body *", "elements to inspect")
	cmd.Flags().StringVar(&scheme, "color-scheme", "light", "prefers-color-scheme to emulate")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "print properties that need no rewrite too")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

// open returns the page body and the base URL for its stylesheets. Local
// files have no base URL.
func open(ctx context.Context, src string) (io.ReadCloser, string, error) {
	lower := strings.ToLower(src)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		f, err := os.Open(src)
		if err != nil {
			return nil, "", err
		}
		return f, "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		cancel()
		return nil, "", err
	}
	req.Header.Set("User-Agent", "cssdebug/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		cancel()
		return nil, "", fmt.Errorf("fetch %s: %s", src, resp.Status)
	}
	return &cancelBody{ReadCloser: resp.Body, cancel: cancel}, resp.Request.URL.String(), nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}

func classOf(attrs []html.Attribute) string {
	for _, a := range attrs {
		if a.Key == "class" {
			return a.Val
		}
	}
	return ""
}
