package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/store"
)

// ListStore implements store.ListStore against PostgreSQL.
type ListStore struct{ db *sql.DB }

// NewListStore creates a Postgres-backed list store.
func NewListStore(db *sql.DB) *ListStore { return &ListStore{db: db} }

func (s *ListStore) Get(ctx context.Context, id string) (*domain.List, error) {
	l := &domain.List{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, type, COALESCE(segment_rule,''),
		       recipient_count, created_at, updated_at
		FROM lists WHERE id = $1
	`, id).Scan(&l.ID, &l.AccountID, &l.Name, &l.Type, &l.SegmentRule,
		&l.RecipientCount, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}
	return l, nil
}

func (s *ListStore) MemberIDs(ctx context.Context, listID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient_id FROM list_members WHERE list_id = $1`, listID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IdentityStore implements store.IdentityStore against PostgreSQL.
type IdentityStore struct{ db *sql.DB }

// NewIdentityStore creates a Postgres-backed identity store.
func NewIdentityStore(db *sql.DB) *IdentityStore { return &IdentityStore{db: db} }

func (s *IdentityStore) Get(ctx context.Context, id string) (*domain.SendingIdentity, error) {
	i := &domain.SendingIdentity{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, from_name, from_email, provider,
		       COALESCE(smtp_host,''), COALESCE(smtp_port,0),
		       COALESCE(smtp_username,''), COALESCE(smtp_password,''),
		       smtp_use_tls, daily_limit, hourly_limit, verified,
		       created_at, updated_at
		FROM sending_identities WHERE id = $1
	`, id).Scan(&i.ID, &i.AccountID, &i.FromName, &i.FromEmail, &i.Provider,
		&i.SMTPHost, &i.SMTPPort, &i.SMTPUsername, &i.SMTPPassword,
		&i.SMTPUseTLS, &i.DailyLimit, &i.HourlyLimit, &i.Verified,
		&i.CreatedAt, &i.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return i, nil
}

func (s *IdentityStore) AccountCanSend(ctx context.Context, accountID string) (bool, error) {
	var canSend bool
	err := s.db.QueryRowContext(ctx,
		`SELECT can_send FROM accounts WHERE id = $1`, accountID).Scan(&canSend)
	if err == sql.ErrNoRows {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("account can send: %w", err)
	}
	return canSend, nil
}
