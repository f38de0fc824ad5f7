package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/david/opportunity-scout/internal/models"
)

func TestEmailClientSend(t *testing.T) {
	var got Message
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	c := NewEmailClient(srv.URL, "re_key", "Scout <scout@example.org>")
	err := c.Send(context.Background(), Message{To: []string{"a@example.org"}, Subject: "s", Text: "t", HTML: "<p>t</p>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if auth != "Bearer re_key" {
		t.Fatalf("Authorization = %q", auth)
	}
	if got.From != "Scout <scout@example.org>" || got.To[0] != "a@example.org" || got.HTML != "<p>t</p>" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestEmailClientErrors(t *testing.T) {
	if err := NewEmailClient("http://unused", "", "x").Send(context.Background(), Message{To: []string{"a@b.c"}}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid from", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := NewEmailClient(srv.URL, "k", "x").Send(context.Background(), Message{To: []string{"a@b.c"}})
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected ProviderError 422, got %v", err)
	}

	if err := NewEmailClient(srv.URL, "k", "x").Send(context.Background(), Message{}); err == nil {
		t.Fatalf("message without recipients should fail")
	}
}

type recordingSender struct {
	sent []Message
	fail map[string]bool
}

func (r *recordingSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) > 0 && r.fail[msg.To[0]] {
		return errors.New("mailbox unavailable")
	}
	r.sent = append(r.sent, msg)
	return nil
}

func TestComposeDraftAlert(t *testing.T) {
	alert := models.DraftAlert{
		Agent: "elite",
		Total: 12,
		Items: []models.DraftSummary{
			{Title: "Climate <Grant>", Institution: "Fund", Deadline: "2026-05-01", SourceURL: "https://fund.org/a"},
		},
		Overflow: 2,
	}
	msg := ComposeDraftAlert(alert, "https://admin.example.org/drafts")
	if msg.Subject != "12 new drafts awaiting review (elite)" {
		t.Fatalf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Text, "Climate <Grant> - Fund (deadline 2026-05-01)") {
		t.Fatalf("text missing item line: %q", msg.Text)
	}
	if !strings.Contains(msg.HTML, "Climate &lt;Grant&gt;") {
		t.Fatalf("html not escaped: %q", msg.HTML)
	}
	if !strings.Contains(msg.Text, "and 2 more") || !strings.Contains(msg.Text, "https://admin.example.org/drafts") {
		t.Fatalf("overflow or review link missing: %q", msg.Text)
	}
	if len(msg.Tags) != 2 || msg.Tags[1].Value != "elite" {
		t.Fatalf("unexpected tags %+v", msg.Tags)
	}
}

func TestAdminAlerter(t *testing.T) {
	sender := &recordingSender{}
	a := &AdminAlerter{Sender: sender, Recipients: []string{"ops@example.org"}}
	if err := a.NotifyNewDrafts(context.Background(), models.DraftAlert{Agent: "institutional", Total: 1}); err != nil {
		t.Fatalf("NotifyNewDrafts: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].To[0] != "ops@example.org" || !strings.Contains(sender.sent[0].Subject, "1 new draft ") {
		t.Fatalf("unexpected messages %+v", sender.sent)
	}

	silent := &AdminAlerter{Sender: sender}
	if err := silent.NotifyNewDrafts(context.Background(), models.DraftAlert{Total: 3}); err != nil {
		t.Fatalf("no recipients should not be an error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("nothing should be sent without recipients")
	}

	failing := &AdminAlerter{Sender: &recordingSender{fail: map[string]bool{"ops@example.org": true}}, Recipients: []string{"ops@example.org"}}
	if err := failing.NotifyNewDrafts(context.Background(), models.DraftAlert{Total: 1}); err == nil {
		t.Fatalf("send failures should be reported to the caller")
	}
}

type fakeReminderStore struct {
	due    []models.DueReminder
	today  time.Time
	marked []uuid.UUID
}

func (f *fakeReminderStore) DueReminders(ctx context.Context, today time.Time, limit int) ([]models.DueReminder, error) {
	f.today = today
	return f.due, nil
}

func (f *fakeReminderStore) MarkReminderSent(ctx context.Context, id uuid.UUID) error {
	f.marked = append(f.marked, id)
	return nil
}

func dueReminder(email string) models.DueReminder {
	return models.DueReminder{
		Subscription: models.ReminderSubscription{ID: uuid.New(), Email: email, DaysBefore: 3},
		Title:        "PhD Scholarship",
		Slug:         "phd-scholarship",
		Deadline:     "2026-03-04",
		SourceURL:    "https://uni.ac.uk/phd",
	}
}

func TestRemindersSendDue(t *testing.T) {
	ok := dueReminder("ok@example.org")
	bad := dueReminder("bad@example.org")
	store := &fakeReminderStore{due: []models.DueReminder{ok, bad}}
	sender := &recordingSender{fail: map[string]bool{"bad@example.org": true}}
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	r := &Reminders{Store: store, Sender: sender, PublicBaseURL: "https://scout.example.org", Now: func() time.Time { return now }}
	res, err := r.SendDue(context.Background())
	if err != nil {
		t.Fatalf("SendDue: %v", err)
	}
	if res.Due != 2 || res.Sent != 1 || res.Failed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(store.marked) != 1 || store.marked[0] != ok.Subscription.ID {
		t.Fatalf("only the delivered reminder should be marked, got %v", store.marked)
	}
	if !store.today.Equal(now) {
		t.Fatalf("store queried with %v", store.today)
	}
	if !strings.Contains(sender.sent[0].Text, "https://scout.example.org/opportunities/phd-scholarship") {
		t.Fatalf("reminder should link to the listing: %q", sender.sent[0].Text)
	}
}
