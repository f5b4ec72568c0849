package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/Sternrassler/gmail-label-sync/pkg/client"
	"github.com/Sternrassler/gmail-label-sync/pkg/results"
	"github.com/Sternrassler/gmail-label-sync/pkg/syncer"
	"github.com/spf13/cobra"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Count int
	Pages int
	All   bool
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load messages from the selected labels",
		Long: `Load runs one or more load-more steps against a fresh session and
prints the merged result set.

Example:
  gmail-sync load --label INBOX --label Label_12 --count 50
  gmail-sync load --label INBOX --all --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 0, "records per load step (default: page size)")
	cmd.Flags().IntVar(&opts.Pages, "pages", 1, "number of load steps")
	cmd.Flags().BoolVar(&opts.All, "all", false, "load until every label is exhausted")

	return cmd
}

type loadOutput struct {
	Reports []reportOutput    `json:"reports"`
	HasMore bool              `json:"has_more"`
	Records []*results.Record `json:"records"`
}

type reportOutput struct {
	Added      int   `json:"added"`
	Failed     int   `json:"failed"`
	Total      int   `json:"total"`
	DurationMS int64 `json:"duration_ms"`
}

func runLoad(cmd *cobra.Command, opts *LoadOptions) error {
	if opts.Pages < 1 && !opts.All {
		return errors.New("--pages must be >= 1")
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var out loadOutput
	for step := 0; opts.All || step < opts.Pages; step++ {
		if !a.controller.HasMore() {
			break
		}
		report, err := a.controller.LoadMore(ctx, opts.Count)
		if err != nil {
			return fmt.Errorf("load step %d: %w", step+1, err)
		}
		out.Reports = append(out.Reports, newReportOutput(report))
	}
	out.HasMore = a.controller.HasMore()
	out.Records = a.controller.Results()
	if out.Records == nil {
		out.Records = results.Set{}
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	return writeRecords(cmd.OutOrStdout(), out)
}

func newReportOutput(r syncer.Report) reportOutput {
	return reportOutput{
		Added:      r.Added,
		Failed:     r.Failed,
		Total:      r.Total,
		DurationMS: r.Duration.Milliseconds(),
	}
}

func writeRecords(w io.Writer, out loadOutput) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tFROM\tSUBJECT")
	for _, r := range out.Records {
		date, from, subject := "", "", ""
		if m, ok := r.Payload.(*client.Message); ok {
			date = time.UnixMilli(m.InternalDate).UTC().Format(time.RFC3339)
			from = m.From()
			subject = m.Subject()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, date, from, subject)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	more := "no"
	if out.HasMore {
		more = "yes"
	}
	_, err := fmt.Fprintf(w, "\n%d records, %d load steps, more available: %s\n", len(out.Records), len(out.Reports), more)
	return err
}
