package main

import (
	"context"
	"fmt"
	"os"
	"slices"

	"crm-approvals/internal/api"
	"crm-approvals/internal/config"
	"crm-approvals/internal/logging"
	"crm-approvals/internal/serverapp"

	"github.com/spf13/cobra"
)

// outputFormats are the accepted --output values.
var outputFormats = []string{"yaml", "json"}

type rootOptions struct {
	configPath string
	output     string
	verbose    bool
}

// engine is what the commands need from the review engine.
type engine struct {
	reviewer api.Reviewer
	schema   api.SchemaInvalidator
	close    func()
}

type engineFactory func(ctx context.Context, opts *rootOptions) (*engine, error)

func defaultEngineFactory(ctx context.Context, opts *rootOptions) (*engine, error) {
	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if result := cfg.Validate(); result.HasErrors() {
		return nil, fmt.Errorf("invalid configuration: %s", result.Error())
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logger := logging.NewLogger(logging.Config{Level: level, Format: "text", Output: os.Stderr})

	e, err := serverapp.BuildEngine(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &engine{
		reviewer: e.Reviewer,
		schema:   e.Schema,
		close:    func() { _ = e.Close(context.Background()) },
	}, nil
}

func newRootCommand(factory engineFactory) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "approvalsctl",
		Short:         "Operate the CRM approval review engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(outputFormats, opts.output) {
				return fmt.Errorf("invalid output %q: must be one of %v", opts.output, outputFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to crm-approvals.yaml (default: search paths)")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "yaml", "output format (yaml|json)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log engine activity to stderr")

	cmd.AddCommand(newSchemaCommand(opts, factory))
	cmd.AddCommand(newListCommand(opts, factory))
	cmd.AddCommand(newSummaryCommand(opts, factory))
	cmd.AddCommand(newInvalidateCommand(opts, factory))

	return cmd
}

// withEngine opens an engine for the duration of fn.
func withEngine(cmd *cobra.Command, opts *rootOptions, factory engineFactory, fn func(context.Context, *engine) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := factory(ctx, opts)
	if err != nil {
		return err
	}
	if e.close != nil {
		defer e.close()
	}
	return fn(ctx, e)
}
