// cmd/batch.go
package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/observability"
)

func newBatchCmd() *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Run a workflow across many parameter rows",
	}
	batchCmd.AddCommand(newBatchRunCmd())
	return batchCmd
}

func newBatchRunCmd() *cobra.Command {
	var (
		rowsFile string
		aiMode   bool
	)

	runCmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Replay a workflow once per row of a CSV parameter file",
		Long: "Reads a CSV file whose header names workflow parameters and " +
			"replays the workflow once per data row, strictly in order. A " +
			"failed row is recorded and the batch continues.",
		Example: `  webpilot batch run invite --rows guests.csv
  webpilot batch run invite --rows guests.csv --ai`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rows, err := readRowsCSV(rowsFile)
			if err != nil {
				return err
			}

			rt, err := buildRuntime(observability.GetLogger())
			if err != nil {
				return err
			}
			shutdown, err := rt.start(ctx)
			if err != nil {
				return err
			}
			defer shutdown()

			stop := rt.streamProgress(cmd.Printf)
			defer stop()

			b, err := rt.svc.StartBatch(ctx, schemas.BatchRequest{
				Workflow: args[0],
				Rows:     rows,
				AIMode:   aiMode,
			})
			if err != nil {
				return err
			}
			cmd.Printf("Batch %s started: %d rows.\n", b.ID(), len(rows))

			if err := rt.svc.WaitBatch(ctx, b.ID()); err != nil {
				// Interrupted: the in-flight row finishes, the rest are
				// skipped.
				_ = rt.svc.CancelBatch(b.ID())
				_ = rt.svc.WaitBatch(context.Background(), b.ID())
			}

			view := b.View()
			cmd.Printf("Batch %s %s: %d completed, %d failed, %d total.\n",
				view.ID, view.Status, view.Completed, view.Failed, view.Total)
			for _, row := range view.Rows {
				if row.Status == schemas.RowFailed {
					cmd.Printf("  row %d failed: %s\n", row.Index+1, row.Error)
				}
			}
			if view.Status == schemas.BatchFailed {
				return fmt.Errorf("batch %s failed: %s", view.ID, view.Error)
			}
			return nil
		},
	}

	runCmd.Flags().StringVar(&rowsFile, "rows", "", "CSV file with one parameter row per line (required)")
	runCmd.Flags().BoolVar(&aiMode, "ai", false, "replay each row through the AI provider instead of directly")
	_ = runCmd.MarkFlagRequired("rows")
	return runCmd
}

// readRowsCSV parses a parameter file: the header row names the
// parameters, each following row is one replay.
func readRowsCSV(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rows file: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse rows file: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("rows file needs a header line and at least one data row")
	}

	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
