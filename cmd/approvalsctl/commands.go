package main

import (
	"context"
	"fmt"

	"crm-approvals/internal/filter"
	"crm-approvals/internal/review"

	"github.com/spf13/cobra"
)

func newSchemaCommand(opts *rootOptions, factory engineFactory) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Show the discovered schema map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, opts, factory, func(ctx context.Context, e *engine) error {
				if refresh {
					if err := e.schema.Invalidate(ctx); err != nil {
						return fmt.Errorf("invalidate schema cache: %w", err)
					}
				}
				schema, err := e.reviewer.Schema(ctx)
				if err != nil {
					return err
				}
				if !schema.Available() {
					fmt.Fprintln(cmd.ErrOrStderr(), "no approval object found on the platform")
				}
				return render(cmd.OutOrStdout(), opts.output, schema)
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "discard the cached schema map and rediscover")
	return cmd
}

type filterFlags struct {
	field string
	value string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.field, "filter-field", "", "logical filter field (status, id, contributor, contributorEmail, objective, project, account)")
	cmd.Flags().StringVar(&f.value, "filter-value", "", "filter value")
}

func (f *filterFlags) spec() filter.Spec {
	return filter.Spec{LogicalField: f.field, RawValue: f.value}
}

func newListCommand(opts *rootOptions, factory engineFactory) *cobra.Command {
	var (
		filters filterFlags
		req     review.ListRequest
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List one batch of approval records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Filter = filters.spec()
			return withEngine(cmd, opts, factory, func(ctx context.Context, e *engine) error {
				result, err := e.reviewer.List(ctx, req)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, result)
			})
		},
	}
	filters.register(cmd)
	cmd.Flags().IntVar(&req.Offset, "offset", 0, "records to skip")
	cmd.Flags().IntVar(&req.Limit, "limit", 100, "batch size (0 for the maximum)")
	cmd.Flags().StringVar(&req.SortBy, "sort-by", "", "transactionDate, hours, payment, status or id")
	cmd.Flags().StringVar(&req.SortOrder, "sort-order", "", "asc or desc")
	return cmd
}

func newSummaryCommand(opts *rootOptions, factory engineFactory) *cobra.Command {
	var filters filterFlags
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show summary totals for the filtered records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, opts, factory, func(ctx context.Context, e *engine) error {
				result, err := e.reviewer.Summary(ctx, filters.spec())
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, result)
			})
		},
	}
	filters.register(cmd)
	return cmd
}

func newInvalidateCommand(opts *rootOptions, factory engineFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate",
		Short: "Invalidate the cached schema map",
		Long:  "Invalidate the cached schema map. With the redis cache backend this affects every server sharing the cache.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, opts, factory, func(ctx context.Context, e *engine) error {
				if err := e.schema.Invalidate(ctx); err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.output, map[string]bool{"invalidated": true})
			})
		},
	}
}
