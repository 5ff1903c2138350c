package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nhle/mailarchive/internal/export"
)

type exportOptions struct {
	from   string
	to     string
	year   int
	output string
}

func newExportCmd(root *rootOptions) *cobra.Command {
	opts := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a GoBD-compliant export bundle for tax audits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := export.ResolveRange(opts.year, opts.from, opts.to, time.Local)
			if err != nil {
				if errors.Is(err, export.ErrInvertedRange) {
					return errors.New("start date must be before end date")
				}
				return err
			}
			return withDeps(cmd, root, func(ctx context.Context, rt *deps) error {
				return runExport(ctx, rt, export.Request{From: from, To: to, OutputPath: opts.output})
			})
		},
	}
	cmd.Flags().StringVar(&opts.from, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.to, "to", "", "end date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&opts.year, "year", 0, "export a whole calendar year; overrides --from and --to")
	cmd.Flags().StringVar(&opts.output, "output", "", "path of the zip file to write")
	return cmd
}

func runExport(ctx context.Context, rt *deps, req export.Request) error {
	out := rt.out
	fmt.Fprintln(out, "Starting GoBD-compliant email export...")
	fmt.Fprintf(out, "Export period: %s to %s\n",
		formatDay(req.From, "Beginning"), formatDay(req.To, "Today"))

	res := rt.exporter.Export(ctx, req)
	if !res.Success {
		return fmt.Errorf("export failed: %s", res.Error)
	}

	fmt.Fprintln(out, "✓ Export completed successfully!")
	fmt.Fprintf(out, "Emails exported: %d\n", res.Count)
	fmt.Fprintf(out, "Archive size: %s\n", humanize.IBytes(uint64(res.Size)))
	fmt.Fprintf(out, "File location: %s\n", res.File)
	return nil
}

func formatDay(t *time.Time, fallback string) string {
	if t == nil {
		return fallback
	}
	return t.Format("02.01.2006")
}
