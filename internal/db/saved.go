package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/david/opportunity-scout/internal/models"
)

// Saved opportunities

func (s *Store) SaveOpportunity(ctx context.Context, userID, oppID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO saved_opportunities (user_id, opportunity_id)
		SELECT $1::uuid, id FROM opportunities WHERE id = $2
		ON CONFLICT (user_id, opportunity_id) DO NOTHING
	`, userID, oppID)
	if err != nil {
		return fmt.Errorf("save opportunity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either already saved or the opportunity does not exist.
		var exists bool
		if err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM opportunities WHERE id = $1)", oppID).Scan(&exists); err != nil {
			return fmt.Errorf("save opportunity: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (s *Store) UnsaveOpportunity(ctx context.Context, userID, oppID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM saved_opportunities
		WHERE user_id = $1 AND opportunity_id = $2
	`, userID, oppID)
	if err != nil {
		return fmt.Errorf("unsave opportunity: %w", err)
	}
	return nil
}

func (s *Store) GetSavedOpportunities(ctx context.Context, userID uuid.UUID) ([]models.Opportunity, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM opportunities
		JOIN saved_opportunities so ON opportunities.id = so.opportunity_id
		WHERE so.user_id = $1
		ORDER BY so.created_at DESC
	`, qualifiedOpportunityCols), userID)
	if err != nil {
		return nil, fmt.Errorf("saved opportunities: %w", err)
	}
	defer rows.Close()

	opps := []models.Opportunity{}
	for rows.Next() {
		o, err := scanOpportunity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan saved opportunity: %w", err)
		}
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

// Deadline reminder subscriptions

// Subscribe registers email for a reminder daysBefore the deadline. Repeated
// subscriptions for the same triple are accepted silently.
func (s *Store) Subscribe(ctx context.Context, email string, oppID uuid.UUID, daysBefore int) (*models.ReminderSubscription, error) {
	sub := &models.ReminderSubscription{
		ID:            uuid.New(),
		Email:         strings.ToLower(strings.TrimSpace(email)),
		OpportunityID: oppID,
		DaysBefore:    daysBefore,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO deadline_subscriptions (id, email, opportunity_id, days_before)
		SELECT $1::uuid, $2::text, id, $4::int FROM opportunities WHERE id = $3
		ON CONFLICT (email, opportunity_id, days_before) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, sent_at, created_at
	`, sub.ID, sub.Email, oppID, daysBefore).Scan(&sub.ID, &sub.SentAt, &sub.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return sub, nil
}

// DueReminders lists unsent subscriptions whose reminder date has arrived
// and whose deadline has not passed, as of today.
func (s *Store) DueReminders(ctx context.Context, today time.Time, limit int) ([]models.DueReminder, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx, `
		SELECT ds.id, ds.email, ds.opportunity_id, ds.days_before, ds.created_at,
		       o.title, o.slug, to_char(o.deadline, 'YYYY-MM-DD'), o.source_url
		FROM deadline_subscriptions ds
		JOIN opportunities o ON o.id = ds.opportunity_id
		WHERE ds.sent_at IS NULL
		  AND o.deadline IS NOT NULL
		  AND o.deadline >= $1::date
		  AND o.deadline - ds.days_before <= $1::date
		ORDER BY o.deadline ASC
		LIMIT $2
	`, today.Format("2006-01-02"), limit)
	if err != nil {
		return nil, fmt.Errorf("due reminders: %w", err)
	}
	defer rows.Close()

	var due []models.DueReminder
	for rows.Next() {
		var r models.DueReminder
		if err := rows.Scan(
			&r.Subscription.ID, &r.Subscription.Email, &r.Subscription.OpportunityID, &r.Subscription.DaysBefore, &r.Subscription.CreatedAt,
			&r.Title, &r.Slug, &r.Deadline, &r.SourceURL,
		); err != nil {
			return nil, fmt.Errorf("scan due reminder: %w", err)
		}
		due = append(due, r)
	}
	return due, rows.Err()
}

func (s *Store) MarkReminderSent(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, "UPDATE deadline_subscriptions SET sent_at = NOW() WHERE id = $1", id); err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}
