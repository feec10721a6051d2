package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/observability"
	"github.com/modelgate/modelgate/internal/usage"
)

var (
	usageTenant string
	usageLimit  int
	usageJSON   bool
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "List recorded usage for a tenant",
	Long: `List the most recent usage records for a tenant from the usage store.

Records are written asynchronously by the running gateway; this command reads
the same store for billing inspection and debugging.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load("")
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration", err)
		}

		store, err := usage.Open(cmd.Context(), cfg.Store)
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Failed to open usage store", err)
		}
		defer func() { _ = store.Close() }()

		records, err := store.ListByTenant(cmd.Context(), usageTenant, usageLimit)
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Failed to list usage records", err)
		}

		if usageJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		if len(records) == 0 {
			fmt.Printf("No usage records for tenant %q\n", usageTenant)
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"Created", "Endpoint", "Model", "Status", "In", "Out", "Total", "Duration", "Request ID"})
		for _, record := range records {
			t.AppendRow(table.Row{
				record.CreatedAt.Format(time.RFC3339),
				record.Endpoint,
				record.Model,
				record.Status,
				record.InputTokens,
				record.OutputTokens,
				record.TotalTokens,
				fmt.Sprintf("%dms", record.DurationMS),
				record.CorrelationID,
			})
		}
		t.Render()

		return nil
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.Flags().StringVar(&usageTenant, "tenant", "", "tenant id to list records for (required)")
	usageCmd.Flags().IntVar(&usageLimit, "limit", 50, "maximum number of records")
	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "emit records as JSON")

	_ = usageCmd.MarkFlagRequired("tenant")
}
