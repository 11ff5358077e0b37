package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-intake/internal/app"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/templates"
)

func newTemplatesCommand(ctx *commandContext) *cobra.Command {
	tplCmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect or load the template registry configured for intaked",
	}

	var appID, docType string
	list := &cobra.Command{
		Use:   "list",
		Short: "List active templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := app.OpenTemplates(cmd.Context(), cfg.Templates, false, ctx.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer store.Close()

			ts, err := store.Repo.FetchActive(cmd.Context(), entity.TemplateFilter{CallingAppID: appID, DocumentType: docType})
			if err != nil {
				return err
			}
			if *ctx.jsonFlag {
				return printJSON(cmd.OutOrStdout(), ts)
			}
			if len(ts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No active templates.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTemplates(ts))
			return nil
		},
	}
	list.Flags().StringVar(&appID, "for-app", "", "Only templates visible to this calling app")
	list.Flags().StringVar(&docType, "type", "", "Only this document type")

	load := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Validate a template file and upsert every template it defines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := templates.LoadFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := app.OpenTemplates(cmd.Context(), cfg.Templates, true, ctx.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer store.Close()

			for _, t := range ts {
				if err := store.Repo.Upsert(cmd.Context(), t); err != nil {
					return fmt.Errorf("upsert %s (%s): %w", t.FormatName, t.ID, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d template(s) into %s registry\n", len(ts), cfg.Templates.Source)
			return nil
		},
	}

	tplCmd.AddCommand(list, load)
	return tplCmd
}
