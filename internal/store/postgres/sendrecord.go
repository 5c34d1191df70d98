package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/store"
)

// SendRecordStore implements store.SendRecordStore against PostgreSQL. The
// (campaign_id, recipient_id) unique index is the dispatch idempotency
// barrier; Create relies on ON CONFLICT DO NOTHING instead of check-then-act.
type SendRecordStore struct{ db *sql.DB }

// NewSendRecordStore creates a Postgres-backed send record store.
func NewSendRecordStore(db *sql.DB) *SendRecordStore { return &SendRecordStore{db: db} }

func (s *SendRecordStore) Create(ctx context.Context, rec *domain.SendRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = domain.SendQueued
	}
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return false, fmt.Errorf("encode metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO send_records
			(id, campaign_id, recipient_id, email, status, variant_index, metadata, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (campaign_id, recipient_id) DO NOTHING
	`, rec.ID, rec.CampaignID, rec.RecipientID, rec.Email, rec.Status,
		rec.VariantIndex, metaJSON)
	if err != nil {
		return false, fmt.Errorf("create send record: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *SendRecordStore) Get(ctx context.Context, id string) (*domain.SendRecord, error) {
	r := &domain.SendRecord{}
	var metaJSON []byte
	var bounceKind sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, recipient_id, email, status, bounce_kind,
		       variant_index, open_count, click_count,
		       COALESCE(message_id,''), COALESCE(failure_reason,''), latency_ms,
		       metadata, queued_at, sent_at, delivered_at, first_open_at,
		       first_click_at, bounced_at, complained_at, unsubscribed_at, failed_at
		FROM send_records WHERE id = $1
	`, id).Scan(&r.ID, &r.CampaignID, &r.RecipientID, &r.Email, &r.Status, &bounceKind,
		&r.VariantIndex, &r.OpenCount, &r.ClickCount,
		&r.MessageID, &r.FailureReason, &r.LatencyMs,
		&metaJSON, &r.QueuedAt, &r.SentAt, &r.DeliveredAt, &r.FirstOpenAt,
		&r.FirstClickAt, &r.BouncedAt, &r.ComplainedAt, &r.UnsubscribedAt, &r.FailedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get send record: %w", err)
	}
	if bounceKind.Valid {
		r.BounceKind = domain.BounceKind(bounceKind.String)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return r, nil
}

func (s *SendRecordStore) MarkSent(ctx context.Context, id, messageID string, latencyMs int64) error {
	return s.exec(ctx, `
		UPDATE send_records
		SET status = 'sent', message_id = $1, latency_ms = $2, sent_at = NOW()
		WHERE id = $3
	`, "mark sent", messageID, latencyMs, id)
}

func (s *SendRecordStore) MarkFailed(ctx context.Context, id, reason string) error {
	return s.exec(ctx, `
		UPDATE send_records
		SET status = 'failed', failure_reason = $1, failed_at = NOW()
		WHERE id = $2
	`, "mark failed", reason, id)
}

func (s *SendRecordStore) RecordOpen(ctx context.Context, id string, at time.Time) (bool, error) {
	var openCount int
	err := s.db.QueryRowContext(ctx, `
		UPDATE send_records
		SET open_count = open_count + 1,
		    first_open_at = COALESCE(first_open_at, $1),
		    status = CASE WHEN status IN ('queued','sent','delivered') THEN 'opened' ELSE status END
		WHERE id = $2
		RETURNING open_count
	`, at, id).Scan(&openCount)
	if err == sql.ErrNoRows {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("record open: %w", err)
	}
	return openCount == 1, nil
}

func (s *SendRecordStore) RecordClick(ctx context.Context, id string, at time.Time) (bool, error) {
	var clickCount int
	err := s.db.QueryRowContext(ctx, `
		UPDATE send_records
		SET click_count = click_count + 1,
		    first_click_at = COALESCE(first_click_at, $1),
		    status = CASE WHEN status IN ('queued','sent','delivered','opened') THEN 'clicked' ELSE status END
		WHERE id = $2
		RETURNING click_count
	`, at, id).Scan(&clickCount)
	if err == sql.ErrNoRows {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("record click: %w", err)
	}
	return clickCount == 1, nil
}

func (s *SendRecordStore) MarkBounced(ctx context.Context, id string, kind domain.BounceKind, reason string) error {
	return s.exec(ctx, `
		UPDATE send_records
		SET status = 'bounced', bounce_kind = $1, failure_reason = $2, bounced_at = NOW()
		WHERE id = $3
	`, "mark bounced", kind, reason, id)
}

func (s *SendRecordStore) MarkComplained(ctx context.Context, id, reason string) error {
	return s.exec(ctx, `
		UPDATE send_records
		SET status = 'complained', failure_reason = $1, complained_at = NOW()
		WHERE id = $2
	`, "mark complained", reason, id)
}

func (s *SendRecordStore) MarkUnsubscribed(ctx context.Context, id string) error {
	return s.exec(ctx, `
		UPDATE send_records
		SET status = 'unsubscribed', unsubscribed_at = NOW()
		WHERE id = $1
	`, "mark unsubscribed", id)
}

func (s *SendRecordStore) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	var first bool
	err := s.db.QueryRowContext(ctx, `
		UPDATE send_records
		SET status = CASE WHEN status IN ('queued','sent') THEN 'delivered' ELSE status END,
		    delivered_at = COALESCE(delivered_at, $1)
		WHERE id = $2
		RETURNING delivered_at = $1
	`, at, id).Scan(&first)
	if err == sql.ErrNoRows {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("mark delivered: %w", err)
	}
	return first, nil
}

func (s *SendRecordStore) RequeueRateLimited(ctx context.Context, campaignID, recipientID string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		UPDATE send_records
		SET status = 'queued', failure_reason = '', failed_at = NULL
		WHERE campaign_id = $1 AND recipient_id = $2
		  AND status = 'failed' AND failure_reason = $3
		RETURNING id
	`, campaignID, recipientID, domain.FailureRateLimited).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("requeue rate limited: %w", err)
	}
	return id, true, nil
}

func (s *SendRecordStore) exec(ctx context.Context, query, op string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SendRecordStore) Totals(ctx context.Context, campaignID string) (store.SendTotals, error) {
	var t store.SendTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status NOT IN ('queued','failed')),
		       COUNT(*) FILTER (WHERE status IN ('delivered','opened','clicked','complained','unsubscribed')),
		       COUNT(*) FILTER (WHERE open_count > 0),
		       COUNT(*) FILTER (WHERE click_count > 0),
		       COUNT(*) FILTER (WHERE status = 'bounced'),
		       COUNT(*) FILTER (WHERE status = 'complained'),
		       COUNT(*) FILTER (WHERE status = 'unsubscribed'),
		       COUNT(*) FILTER (WHERE status = 'failed')
		FROM send_records WHERE campaign_id = $1
	`, campaignID).Scan(&t.Total, &t.Sent, &t.Delivered, &t.UniqueOpens,
		&t.UniqueClicks, &t.Bounced, &t.Complained, &t.Unsubscribed, &t.Failed)
	if err != nil {
		return store.SendTotals{}, fmt.Errorf("send totals: %w", err)
	}
	return t, nil
}

func (s *SendRecordStore) VariantStats(ctx context.Context, campaignID string) ([]store.VariantStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT variant_index,
		       COUNT(*) FILTER (WHERE status NOT IN ('queued','failed')),
		       COUNT(*) FILTER (WHERE status IN ('delivered','opened','clicked','complained','unsubscribed')),
		       COUNT(*) FILTER (WHERE open_count > 0),
		       COUNT(*) FILTER (WHERE click_count > 0)
		FROM send_records WHERE campaign_id = $1
		GROUP BY variant_index ORDER BY variant_index
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("variant stats: %w", err)
	}
	defer rows.Close()

	var out []store.VariantStat
	for rows.Next() {
		var vs store.VariantStat
		if err := rows.Scan(&vs.VariantIndex, &vs.Sent, &vs.Delivered,
			&vs.UniqueOpens, &vs.UniqueClicks); err != nil {
			return nil, fmt.Errorf("scan variant stat: %w", err)
		}
		out = append(out, vs)
	}
	return out, rows.Err()
}
