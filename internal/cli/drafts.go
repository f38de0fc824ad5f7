package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/opportunity-scout/internal/models"
	"github.com/david/opportunity-scout/internal/review"
)

var (
	draftsStatus string
	draftsLimit  int
	reviewerName string
)

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "List staged drafts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		drafts, err := a.Store.ListDrafts(ctx, draftsStatus, draftsLimit, 0)
		if err != nil {
			return err
		}
		renderDrafts(cmd.OutOrStdout(), drafts)
		return nil
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <id|source-url>",
	Short: "Approve a draft and publish it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], true)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <id|source-url>",
	Short: "Reject a draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], false)
	},
}

func init() {
	draftsCmd.Flags().StringVarP(&draftsStatus, "status", "s", string(models.DraftPending), "pending, approved, rejected or empty for all")
	draftsCmd.Flags().IntVarP(&draftsLimit, "limit", "n", 50, "number of drafts")
	draftsCmd.PersistentFlags().StringVar(&reviewerName, "as", defaultReviewer(), "reviewer identity recorded on the draft")
	draftsCmd.AddCommand(approveCmd, rejectCmd)
}

func defaultReviewer() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}

// refFromArg treats anything that looks like a URL as a source URL.
func refFromArg(arg string) review.DraftRef {
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return review.DraftRef{SourceURL: arg}
	}
	return review.DraftRef{ID: arg}
}

func decide(cmd *cobra.Command, arg string, approve bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ref := refFromArg(arg)
	var out *review.Outcome
	if approve {
		out, err = a.Review.Approve(ctx, ref, reviewerName)
	} else {
		out, err = a.Review.Reject(ctx, ref, reviewerName)
	}
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch {
	case out.NoOp:
		fmt.Fprintf(w, "Draft %s is already %s\n", out.Draft.ID, out.Draft.Status)
	case out.Published:
		fmt.Fprintf(w, "Draft %s approved and published as /%s\n", out.Draft.ID, out.Opportunity.Slug)
	default:
		fmt.Fprintf(w, "Draft %s %s\n", out.Draft.ID, out.Draft.Status)
	}
	return nil
}

func renderDrafts(w io.Writer, drafts []models.Draft) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "Title", "Institution", "Deadline", "Status", "Notes"})
	for _, d := range drafts {
		notes := strings.Join(d.GateReasons, ",")
		if d.ExtractionError != nil {
			notes = "extraction: " + *d.ExtractionError
		}
		t.AppendRow(table.Row{d.ID.String(), truncate(d.Title, 50), truncate(d.Institution, 30), d.Deadline, d.Status, truncate(notes, 40)})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", len(drafts)})
	t.Render()
}
