package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var importAgent string

var importCmd = &cobra.Command{
	Use:   "import <url>",
	Short: "Stage every candidate on one page as a pending draft",
	Long: `Fetch the page and extract candidates. The quality gate is evaluated
but not enforced; its reasons are stored on each draft for the reviewer.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Orchestrator.ImportURL(ctx, args[0], importAgent)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if res.ExtractionError != "" {
			fmt.Fprintf(w, "Extraction failed: %s\n", res.ExtractionError)
		}
		for _, d := range res.Drafts {
			state := "updated"
			if d.Inserted {
				state = "new"
			}
			reasons := "passes gate"
			if len(d.GateReasons) > 0 {
				reasons = strings.Join(d.GateReasons, ", ")
			}
			fmt.Fprintf(w, "[%s] %s %s (%s)\n", state, d.ID, d.Title, reasons)
		}
		if len(res.Drafts) == 0 {
			fmt.Fprintln(w, "No candidates found")
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVarP(&importAgent, "agent", "a", "", "agent scope used for extraction")
}
