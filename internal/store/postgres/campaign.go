// Package postgres implements the store interfaces against PostgreSQL using
// database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/store"
)

// CampaignStore implements store.CampaignStore against PostgreSQL.
type CampaignStore struct{ db *sql.DB }

// NewCampaignStore creates a Postgres-backed campaign store.
func NewCampaignStore(db *sql.DB) *CampaignStore { return &CampaignStore{db: db} }

const campaignColumns = `
	id, account_id, identity_id, name, subject, COALESCE(preview_text,''),
	from_name, from_email, COALESCE(reply_to,''),
	COALESCE(html_content,''), COALESCE(text_content,''),
	target_list_ids, exclude_list_ids, COALESCE(segment_rule,''),
	status, scheduled_at, track_opens, track_clicks, ab_test,
	total_recipients, sent_count, delivered_count,
	open_count, unique_open_count, click_count, unique_click_count,
	bounce_count, soft_bounce_count, hard_bounce_count,
	complaint_count, unsubscribe_count, failed_count,
	delivery_rate, open_rate, click_rate, click_to_open_rate,
	unsubscribe_rate, bounce_rate,
	started_at, completed_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var abJSON []byte
	err := row.Scan(
		&c.ID, &c.AccountID, &c.IdentityID, &c.Name, &c.Subject, &c.PreviewText,
		&c.FromName, &c.FromEmail, &c.ReplyTo,
		&c.HTMLContent, &c.TextContent,
		pq.Array(&c.TargetListIDs), pq.Array(&c.ExcludeListIDs), &c.SegmentRule,
		&c.Status, &c.ScheduledAt, &c.TrackOpens, &c.TrackClicks, &abJSON,
		&c.TotalRecipients, &c.SentCount, &c.DeliveredCount,
		&c.OpenCount, &c.UniqueOpenCount, &c.ClickCount, &c.UniqueClickCount,
		&c.BounceCount, &c.SoftBounceCount, &c.HardBounceCount,
		&c.ComplaintCount, &c.UnsubscribeCount, &c.FailedCount,
		&c.DeliveryRate, &c.OpenRate, &c.ClickRate, &c.ClickToOpenRate,
		&c.UnsubscribeRate, &c.BounceRate,
		&c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(abJSON) > 0 {
		if err := json.Unmarshal(abJSON, &c.ABTest); err != nil {
			return nil, fmt.Errorf("decode ab_test: %w", err)
		}
	}
	return c, nil
}

func (s *CampaignStore) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (s *CampaignStore) TransitionStatus(ctx context.Context, id string, to domain.CampaignStatus, from ...domain.CampaignStatus) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $1,
		    started_at = CASE WHEN $1 = 'sending' THEN COALESCE(started_at, NOW()) ELSE started_at END,
		    completed_at = CASE WHEN $1 IN ('completed','failed','cancelled') THEN COALESCE(completed_at, NOW()) ELSE completed_at END,
		    updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
	`, to, id, pq.Array(fromStrs))
	if err != nil {
		return false, fmt.Errorf("transition status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *CampaignStore) GetStatus(ctx context.Context, id string) (domain.CampaignStatus, error) {
	var status domain.CampaignStatus
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM campaigns WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get status: %w", err)
	}
	return status, nil
}

func (s *CampaignStore) IncrementCounters(ctx context.Context, id string, d store.CounterDeltas) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET
			total_recipients = total_recipients + $1,
			sent_count = sent_count + $2,
			delivered_count = delivered_count + $3,
			open_count = open_count + $4,
			unique_open_count = unique_open_count + $5,
			click_count = click_count + $6,
			unique_click_count = unique_click_count + $7,
			bounce_count = bounce_count + $8,
			soft_bounce_count = soft_bounce_count + $9,
			hard_bounce_count = hard_bounce_count + $10,
			complaint_count = complaint_count + $11,
			unsubscribe_count = unsubscribe_count + $12,
			failed_count = failed_count + $13,
			updated_at = NOW()
		WHERE id = $14
	`, d.TotalRecipients, d.Sent, d.Delivered, d.Opens, d.UniqueOpens,
		d.Clicks, d.UniqueClicks, d.Bounced, d.SoftBounced, d.HardBounced,
		d.Complained, d.Unsubscribed, d.Failed, id)
	if err != nil {
		return fmt.Errorf("increment counters: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *CampaignStore) UpdateRates(ctx context.Context, id string, r store.Rates) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET
			delivery_rate = $1, open_rate = $2, click_rate = $3,
			click_to_open_rate = $4, unsubscribe_rate = $5, bounce_rate = $6,
			updated_at = NOW()
		WHERE id = $7
	`, r.DeliveryRate, r.OpenRate, r.ClickRate, r.ClickToOpenRate,
		r.UnsubscribeRate, r.BounceRate, id)
	if err != nil {
		return fmt.Errorf("update rates: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *CampaignStore) SetWinner(ctx context.Context, id string, variantIndex int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET ab_test = jsonb_set(ab_test, '{winner_index}', to_jsonb($1::int)),
		    updated_at = NOW()
		WHERE id = $2
	`, variantIndex, id)
	if err != nil {
		return fmt.Errorf("set winner: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *CampaignStore) ListScheduledDue(ctx context.Context, now time.Time) ([]domain.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns
		 WHERE status = 'scheduled' AND scheduled_at <= $1
		 ORDER BY scheduled_at`, now)
	if err != nil {
		return nil, fmt.Errorf("list scheduled: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
