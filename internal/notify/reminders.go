package notify

import (
	"context"
	"fmt"
	"html"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/david/opportunity-scout/internal/models"
)

// ReminderStore is implemented by db.Store.
type ReminderStore interface {
	DueReminders(ctx context.Context, today time.Time, limit int) ([]models.DueReminder, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID) error
}

// ReminderResult summarizes one reminder pass.
type ReminderResult struct {
	Due    int      `json:"due"`
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

// Reminders sends each due deadline reminder once.
type Reminders struct {
	Store         ReminderStore
	Sender        Sender
	PublicBaseURL string
	Limit         int
	Now           func() time.Time
}

// SendDue mails every due reminder and marks the successful ones sent. A
// failed send leaves the subscription due for the next pass.
func (r *Reminders) SendDue(ctx context.Context) (*ReminderResult, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	due, err := r.Store.DueReminders(ctx, now().UTC(), r.Limit)
	if err != nil {
		return nil, err
	}

	res := &ReminderResult{Due: len(due)}
	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		msg := r.compose(d)
		msg.To = []string{d.Subscription.Email}
		if err := r.Sender.Send(ctx, msg); err != nil {
			log.Printf("[reminders] send %s failed: %v", d.Subscription.ID, err)
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", d.Subscription.ID, err))
			continue
		}
		if err := r.Store.MarkReminderSent(ctx, d.Subscription.ID); err != nil {
			log.Printf("[reminders] mark %s sent failed: %v", d.Subscription.ID, err)
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", d.Subscription.ID, err))
			continue
		}
		res.Sent++
	}
	return res, nil
}

func (r *Reminders) compose(d models.DueReminder) Message {
	link := d.SourceURL
	if r.PublicBaseURL != "" && d.Slug != "" {
		link = r.PublicBaseURL + "/opportunities/" + d.Slug
	}
	return Message{
		Subject: fmt.Sprintf("Deadline %s: %s", d.Deadline, d.Title),
		Text: fmt.Sprintf("%s closes on %s.\n\nDetails: %s\n",
			d.Title, d.Deadline, link),
		HTML: fmt.Sprintf(`<p><b>%s</b> closes on %s.</p><p><a href="%s">View the opportunity</a></p>`,
			html.EscapeString(d.Title), html.EscapeString(d.Deadline), html.EscapeString(link)),
		Tags: []Tag{{Name: "category", Value: "deadline_reminder"}},
	}
}
