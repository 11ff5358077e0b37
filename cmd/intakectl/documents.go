package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/pipeline"
	"github.com/joseph-ayodele/receipts-intake/internal/server"
)

type documentFlags struct {
	typeHint   string
	vendorHint string
}

func (f *documentFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.typeHint, "type-hint", "", "Document type hint (e.g. receipt)")
	cmd.Flags().StringVar(&f.vendorHint, "vendor-hint", "", "Vendor hint")
}

func (f *documentFlags) request(path string) (entity.ProcessRequest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return entity.ProcessRequest{}, err
	}
	return entity.ProcessRequest{
		FilePath:         abs,
		DocumentTypeHint: f.typeHint,
		VendorHint:       f.vendorHint,
	}, nil
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var flags documentFlags
	cmd := &cobra.Command{
		Use:   "process <path>",
		Short: "Run a staged document through the pipeline and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(c *server.Client) error {
				item, err := c.ProcessDocument(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printItem(cmd, ctx, item)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var flags documentFlags
	cmd := &cobra.Command{
		Use:   "submit <path>",
		Short: "Queue a staged document for background processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(c *server.Client) error {
				ack, err := c.SubmitDocument(cmd.Context(), req)
				if err != nil {
					return err
				}
				if *ctx.jsonFlag {
					return printJSON(cmd.OutOrStdout(), ack)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ack.ItemID, ack.Status)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newItemCommand(ctx *commandContext) *cobra.Command {
	itemCmd := &cobra.Command{
		Use:   "item <id>",
		Short: "Show a queue item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(c *server.Client) error {
				item, err := c.GetItem(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printItem(cmd, ctx, item)
			})
		},
	}
	itemCmd.AddCommand(newListCommand(ctx))
	return itemCmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		review   bool
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := server.ListRequest{Limit: limit}
			for _, s := range statuses {
				req.Statuses = append(req.Statuses, constants.QueueStatus(strings.ToLower(strings.TrimSpace(s))))
			}
			if cmd.Flags().Changed("review") {
				req.RequiresReview = &review
			}
			return ctx.withClient(func(c *server.Client) error {
				items, err := c.ListItems(cmd.Context(), req)
				if err != nil {
					return err
				}
				if *ctx.jsonFlag {
					return printJSON(cmd.OutOrStdout(), items)
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No items.")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderItems(items))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (pending, processing, completed, failed)")
	cmd.Flags().BoolVar(&review, "review", false, "Only items awaiting review (or, with =false, not awaiting)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of items")
	return cmd
}

func newReviewCommand(ctx *commandContext) *cobra.Command {
	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Work with items awaiting human review",
	}

	var (
		reviewer string
		fields   []string
	)
	complete := &cobra.Command{
		Use:   "complete <id>",
		Short: "Finalize a reviewed item with optional corrected field values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := parseItemID(args[0]); err != nil {
				return err
			}
			values, err := parseFieldFlags(fields)
			if err != nil {
				return err
			}
			return ctx.withClient(func(c *server.Client) error {
				rec, err := c.CompleteReview(cmd.Context(), pipeline.ReviewRequest{
					ItemID:   args[0],
					Reviewer: reviewer,
					Fields:   values,
				})
				if err != nil {
					return err
				}
				if *ctx.jsonFlag {
					return printJSON(cmd.OutOrStdout(), rec)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Finalized %s (%d fields) by %s\n", rec.ItemID, len(rec.Fields), rec.Reviewer)
				return nil
			})
		},
	}
	complete.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer name")
	complete.Flags().StringArrayVar(&fields, "field", nil, "Corrected value as name=value (repeatable)")
	_ = complete.MarkFlagRequired("reviewer")

	reviewCmd.AddCommand(complete)
	return reviewCmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending item or one awaiting review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(c *server.Client) error {
				item, err := c.CancelItem(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", item.ID, item.Status, item.FailureReason)
				return nil
			})
		},
	}
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that intaked is serving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *server.Client) error {
				if err := c.Check(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "SERVING")
				return nil
			})
		},
	}
}

func printItem(cmd *cobra.Command, ctx *commandContext, item entity.QueueItem) error {
	out := cmd.OutOrStdout()
	if *ctx.jsonFlag {
		return printJSON(out, item)
	}
	fmt.Fprintln(out, renderSummary(item))
	if item.Classification == nil {
		return nil
	}
	if t := renderFields(item.Classification.Extraction); t != "" {
		fmt.Fprintln(out, t)
	}
	if t := renderLineItems(item.Classification.Extraction.LineItems); t != "" {
		fmt.Fprintln(out, t)
	}
	return nil
}

func parseItemID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid item id %q: %w", s, err)
	}
	return id, nil
}
