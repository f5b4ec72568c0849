package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewLabelsCommand creates the labels command.
func NewLabelsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "labels",
		Short: "List the mailbox labels that can be synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLabels(cmd, rootOpts)
		},
	}
}

func runLabels(cmd *cobra.Command, opts *RootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	cred, err := a.creds.EnsureValid(ctx)
	if err != nil {
		return err
	}
	labels, err := a.gmail.ListLabels(ctx, cred)
	if err != nil {
		return fmt.Errorf("list labels: %w", err)
	}

	if opts.Format == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(labels)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tMESSAGES")
	for _, l := range labels {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", l.ID, l.Name, l.Type, l.MessagesTotal)
	}
	return tw.Flush()
}
