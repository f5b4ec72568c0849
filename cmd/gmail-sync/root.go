package main

import (
	"fmt"
	"slices"

	"github.com/Sternrassler/gmail-label-sync/internal/config"
	"github.com/Sternrassler/gmail-label-sync/pkg/logging"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands. Zero values leave the
// environment configuration untouched.
type RootOptions struct {
	Verbose     bool
	Format      string // "json" | "text"
	Labels      []string
	PageSize    int
	Concurrency int
	Endpoint    string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the gmail-sync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "gmail-sync",
		Short: "Incremental Gmail label sync",
		Long: `gmail-sync pages message ids from one or more Gmail labels, fetches
message metadata with bounded concurrency and merges it into one
de-duplicated result set sorted newest first.

Credentials and defaults are read from GMAIL_SYNC_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringSliceVarP(&opts.Labels, "label", "l", nil, "label ids to sync (repeatable, default from GMAIL_SYNC_LABELS)")
	cmd.PersistentFlags().IntVar(&opts.PageSize, "page-size", 0, "records per load (default from GMAIL_SYNC_PAGE_SIZE)")
	cmd.PersistentFlags().IntVar(&opts.Concurrency, "concurrency", 0, "max concurrent detail requests")
	cmd.PersistentFlags().StringVar(&opts.Endpoint, "endpoint", "", "Gmail API base URL override")

	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewLabelsCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// loadConfig reads the environment, applies flag overrides and validates
// the result. It also configures the global logger.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg := config.Load()

	if len(opts.Labels) > 0 {
		cfg.Sync.Partitions = opts.Labels
	}
	if opts.PageSize > 0 {
		cfg.Sync.PageSize = opts.PageSize
	}
	if opts.Concurrency > 0 {
		cfg.Sync.MaxConcurrency = opts.Concurrency
	}
	if opts.Endpoint != "" {
		cfg.Gmail.Endpoint = opts.Endpoint
	}
	if opts.Verbose {
		cfg.Log.Level = string(logging.LevelDebug)
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
