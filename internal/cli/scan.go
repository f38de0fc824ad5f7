package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/opportunity-scout/internal/ingest"
)

var (
	scanAgent string
	scanJSON  bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan invocation for an agent",
	Long: `Select sources for the agent, fetch and extract each one, apply the
quality gate and dedup, and stage surviving candidates as pending drafts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Orchestrator.Run(ctx, scanAgent)
		if err != nil {
			return err
		}
		if scanJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		renderRunResult(cmd.OutOrStdout(), res)
		return nil
	},
}

func init() {
	scanCmd.Flags().StringVarP(&scanAgent, "agent", "a", "", "agent profile (default: first configured)")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "print the raw run result")
}

func renderRunResult(w io.Writer, res *ingest.RunResult) {
	fmt.Fprintf(w, "Agent %s: %d inserted (target %d) from %d sources [db %d, discovered %d, fallback %d]\n",
		res.Agent, res.Inserted, res.TargetInserts, res.SelectedSourceCount,
		res.DBSourceCount, res.DiscoveredSourceCount, res.FallbackSourceCount)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Source", "Origin", "OK", "Extracted", "Passed", "Dup", "Inserted", "Updated", "Error"})
	for _, p := range res.Processed {
		status := "yes"
		switch {
		case p.Skipped:
			status = "skipped"
		case !p.OK:
			status = "no"
		}
		t.AppendRow(table.Row{p.URL, p.Origin, status, p.Extracted, p.Passed, p.Duplicates, p.Inserted, p.Updated, truncate(p.Error, 60)})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", res.Inserted, "", ""})
	t.Render()

	for _, p := range res.Processed {
		for _, r := range p.Rejected {
			fmt.Fprintf(w, "  rejected %q: %s\n", r.Title, strings.Join(r.Reasons, ", "))
		}
	}
	if res.AdminAlert.Attempted {
		if res.AdminAlert.Sent {
			fmt.Fprintf(w, "Admin alert sent (%d items)\n", res.AdminAlert.Items)
		} else {
			fmt.Fprintf(w, "Admin alert failed: %s\n", res.AdminAlert.Error)
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
