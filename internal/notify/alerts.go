package notify

import (
	"context"
	"fmt"
	"html"
	"log"
	"strings"

	"github.com/david/opportunity-scout/internal/models"
)

// AdminAlerter emails the admin list when a scan stages new drafts.
type AdminAlerter struct {
	Sender     Sender
	Recipients []string
	ReviewURL  string
}

// NotifyNewDrafts composes and sends one alert. With no recipients it only
// logs and succeeds.
func (a *AdminAlerter) NotifyNewDrafts(ctx context.Context, alert models.DraftAlert) error {
	if len(a.Recipients) == 0 {
		log.Printf("[notify] no admin recipients configured; %d new drafts not announced", alert.Total)
		return nil
	}
	msg := ComposeDraftAlert(alert, a.ReviewURL)
	msg.To = a.Recipients
	if err := a.Sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send admin alert: %w", err)
	}
	return nil
}

// ComposeDraftAlert renders alert as a message without recipients.
func ComposeDraftAlert(alert models.DraftAlert, reviewURL string) Message {
	noun := "drafts"
	if alert.Total == 1 {
		noun = "draft"
	}
	subject := fmt.Sprintf("%d new %s awaiting review (%s)", alert.Total, noun, alert.Agent)

	var text, body strings.Builder
	fmt.Fprintf(&text, "The %s scan staged %d new %s.\n\n", alert.Agent, alert.Total, noun)
	fmt.Fprintf(&body, "<p>The <b>%s</b> scan staged %d new %s.</p><ul>", html.EscapeString(alert.Agent), alert.Total, noun)

	for _, item := range alert.Items {
		line := item.Title
		if item.Institution != "" {
			line += " - " + item.Institution
		}
		if item.Deadline != "" {
			line += " (deadline " + item.Deadline + ")"
		}
		fmt.Fprintf(&text, "- %s\n  %s\n", line, item.SourceURL)
		fmt.Fprintf(&body, `<li><a href="%s">%s</a></li>`, html.EscapeString(item.SourceURL), html.EscapeString(line))
	}
	body.WriteString("</ul>")

	if alert.Overflow > 0 {
		fmt.Fprintf(&text, "\n...and %d more.\n", alert.Overflow)
		fmt.Fprintf(&body, "<p>...and %d more.</p>", alert.Overflow)
	}
	if reviewURL != "" {
		fmt.Fprintf(&text, "\nReview: %s\n", reviewURL)
		fmt.Fprintf(&body, `<p><a href="%s">Open the review queue</a></p>`, html.EscapeString(reviewURL))
	}

	return Message{
		Subject: subject,
		Text:    text.String(),
		HTML:    body.String(),
		Tags: []Tag{
			{Name: "category", Value: "admin_draft_alert"},
			{Name: "agent", Value: tagValue(alert.Agent)},
		},
	}
}

// tagValue keeps only characters the provider accepts in tag values.
func tagValue(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
