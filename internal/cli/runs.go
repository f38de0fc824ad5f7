package cli

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/opportunity-scout/internal/models"
)

var (
	runsAgent string
	runsLimit int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show the most recent scan runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.Store.ListScanRuns(ctx, runsAgent, runsLimit)
		if err != nil {
			return err
		}
		renderRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().StringVarP(&runsAgent, "agent", "a", "", "only runs for this agent")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 10, "number of runs")
}

func renderRuns(w io.Writer, runs []models.ScanRun) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Agent", "Status", "Selected", "Inserted", "Failed", "Duration", "Started At"})
	for _, r := range runs {
		duration := "Running..."
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{r.Agent, r.Status, r.SelectedCount, r.Inserted, r.Failed, duration, r.StartedAt.Format("2006-01-02 15:04:05")})
	}
	t.Render()
}
