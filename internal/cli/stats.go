package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/opportunity-scout/internal/db"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print catalog and review queue counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.Store.GetStats(ctx)
		if err != nil {
			return err
		}
		renderStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

func renderStats(w io.Writer, stats *db.Stats) {
	fmt.Fprintf(w, "Published: %d (open %d)\n", stats.Published, stats.Open)
	fmt.Fprintf(w, "Drafts pending: %d\n", stats.DraftsPending)
	fmt.Fprintf(w, "Active sources: %d\n", stats.ActiveSources)

	categories := make([]string, 0, len(stats.ByCategory))
	for c := range stats.ByCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Category", "Published"})
	for _, c := range categories {
		t.AppendRow(table.Row{c, stats.ByCategory[c]})
	}
	t.Render()
}
