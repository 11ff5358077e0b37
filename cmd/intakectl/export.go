package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/server"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		from, to string
		out      string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download queue items as an XLSX workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := server.ExportRequest{From: from, To: to}
			for _, s := range statuses {
				req.Statuses = append(req.Statuses, constants.QueueStatus(strings.ToLower(strings.TrimSpace(s))))
			}
			return ctx.withClient(func(c *server.Client) error {
				b, err := c.ExportItems(cmd.Context(), req)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, b, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", out, len(b))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status")
	cmd.Flags().StringVar(&from, "from", "", "First arrival day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Last arrival day (YYYY-MM-DD), defaults to today when --from is set")
	cmd.Flags().StringVarP(&out, "out", "o", "intake-export.xlsx", "Output file")
	return cmd
}
