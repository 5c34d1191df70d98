package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/store"
)

// RecipientStore implements store.RecipientStore against PostgreSQL.
type RecipientStore struct{ db *sql.DB }

// NewRecipientStore creates a Postgres-backed recipient store.
func NewRecipientStore(db *sql.DB) *RecipientStore { return &RecipientStore{db: db} }

const recipientColumns = `
	id, account_id, email, COALESCE(first_name,''), COALESCE(last_name,''),
	status, attributes, engagement_score, total_sends, total_opens, total_clicks,
	last_open_at, last_click_at, subscribed_at, unsubscribed_at, created_at, updated_at`

func scanRecipient(row interface{ Scan(...any) error }) (*domain.Recipient, error) {
	r := &domain.Recipient{}
	var attrJSON []byte
	err := row.Scan(
		&r.ID, &r.AccountID, &r.Email, &r.FirstName, &r.LastName,
		&r.Status, &attrJSON, &r.EngagementScore, &r.TotalSends, &r.TotalOpens, &r.TotalClicks,
		&r.LastOpenAt, &r.LastClickAt, &r.SubscribedAt, &r.UnsubscribedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(attrJSON) > 0 {
		if err := json.Unmarshal(attrJSON, &r.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
	}
	return r, nil
}

func (s *RecipientStore) Get(ctx context.Context, id string) (*domain.Recipient, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE id = $1`, id)
	r, err := scanRecipient(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	return r, nil
}

func (s *RecipientStore) FetchSubscribed(ctx context.Context, accountID string) ([]domain.Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recipientColumns+` FROM recipients
		 WHERE account_id = $1 AND status = 'subscribed'`, accountID)
	if err != nil {
		return nil, fmt.Errorf("fetch subscribed: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *RecipientStore) UpdateStatus(ctx context.Context, id string, status domain.RecipientStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recipients
		SET status = $1,
		    unsubscribed_at = CASE WHEN $1 = 'unsubscribed' THEN NOW() ELSE unsubscribed_at END,
		    updated_at = NOW()
		WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("update recipient status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *RecipientStore) IncrementSends(ctx context.Context, id string, n int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recipients SET total_sends = total_sends + $1, updated_at = NOW()
		WHERE id = $2
	`, n, id)
	if err != nil {
		return fmt.Errorf("increment sends: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *RecipientStore) IncrementEngagement(ctx context.Context, id string, opens, clicks int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recipients SET
			total_opens = total_opens + $1,
			total_clicks = total_clicks + $2,
			last_open_at = CASE WHEN $1 > 0 THEN NOW() ELSE last_open_at END,
			last_click_at = CASE WHEN $2 > 0 THEN NOW() ELSE last_click_at END,
			engagement_score = CASE WHEN total_sends = 0 THEN 0 ELSE LEAST(100,
				(total_opens + $1)::float / total_sends * 40 +
				(total_clicks + $2)::float / total_sends * 60 + 20) END,
			updated_at = NOW()
		WHERE id = $3
	`, opens, clicks, id)
	if err != nil {
		return fmt.Errorf("increment engagement: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
