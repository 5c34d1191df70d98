// Package store defines the persistence interfaces consumed by the dispatch
// pipeline, with Postgres and in-memory implementations in subpackages.
// Counter updates are explicit operations here; nothing mutates state as a
// side effect of another write.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/dispatch-engine/internal/domain"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("duplicate")
)

// CounterDeltas carries atomic increments for campaign aggregate counters.
// Zero fields are left untouched.
type CounterDeltas struct {
	TotalRecipients int
	Sent            int
	Delivered       int
	Opens           int
	UniqueOpens     int
	Clicks          int
	UniqueClicks    int
	Bounced         int
	SoftBounced     int
	HardBounced     int
	Complained      int
	Unsubscribed    int
	Failed          int
}

// Rates carries the derived campaign percentages written by the aggregator.
type Rates struct {
	DeliveryRate    float64
	OpenRate        float64
	ClickRate       float64
	ClickToOpenRate float64
	UnsubscribeRate float64
	BounceRate      float64
}

// SendTotals summarizes SendRecord outcomes for one campaign. Unique opens
// and clicks count records, not events.
type SendTotals struct {
	Total        int
	Sent         int
	Delivered    int
	UniqueOpens  int
	UniqueClicks int
	Bounced      int
	Complained   int
	Unsubscribed int
	Failed       int
}

// VariantStat summarizes SendRecord outcomes for one A/B variant.
type VariantStat struct {
	VariantIndex int
	Sent         int
	Delivered    int
	UniqueOpens  int
	UniqueClicks int
}

// CampaignStore persists campaigns and their aggregate counters.
type CampaignStore interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	// TransitionStatus atomically moves the campaign from one of the given
	// states to the target state. Returns false without error when the
	// campaign is not currently in any of the from states.
	TransitionStatus(ctx context.Context, id string, to domain.CampaignStatus, from ...domain.CampaignStatus) (bool, error)
	GetStatus(ctx context.Context, id string) (domain.CampaignStatus, error)
	IncrementCounters(ctx context.Context, id string, d CounterDeltas) error
	UpdateRates(ctx context.Context, id string, r Rates) error
	SetWinner(ctx context.Context, id string, variantIndex int) error
	// ListScheduledDue returns scheduled campaigns whose scheduled time has
	// arrived.
	ListScheduledDue(ctx context.Context, now time.Time) ([]domain.Campaign, error)
}

// RecipientStore persists recipients.
type RecipientStore interface {
	Get(ctx context.Context, id string) (*domain.Recipient, error)
	// FetchSubscribed returns every recipient of the account whose status
	// is subscribed.
	FetchSubscribed(ctx context.Context, accountID string) ([]domain.Recipient, error)
	UpdateStatus(ctx context.Context, id string, status domain.RecipientStatus) error
	// IncrementSends bumps the lifetime send counter.
	IncrementSends(ctx context.Context, id string, n int) error
	// IncrementEngagement bumps the open/click counters and touches the
	// matching last-activity timestamp.
	IncrementEngagement(ctx context.Context, id string, opens, clicks int) error
}

// ListStore persists mailing lists and their static memberships.
type ListStore interface {
	Get(ctx context.Context, id string) (*domain.List, error)
	// MemberIDs returns the recipient ids of a manual list.
	MemberIDs(ctx context.Context, listID string) ([]string, error)
}

// IdentityStore persists sending identities and the account send gate.
type IdentityStore interface {
	Get(ctx context.Context, id string) (*domain.SendingIdentity, error)
	// AccountCanSend is the billing-side eligibility lookup.
	AccountCanSend(ctx context.Context, accountID string) (bool, error)
}

// SendRecordStore persists per-recipient delivery records. The
// (campaign, recipient) pair is unique.
type SendRecordStore interface {
	// Create inserts the record, or reports created=false when a record for
	// the same (campaign, recipient) already exists.
	Create(ctx context.Context, rec *domain.SendRecord) (created bool, err error)
	Get(ctx context.Context, id string) (*domain.SendRecord, error)
	MarkSent(ctx context.Context, id, messageID string, latencyMs int64) error
	MarkFailed(ctx context.Context, id, reason string) error
	// RecordOpen bumps the raw open counter, stamps the first open and
	// advances the status when it is still below opened. Returns whether
	// this was the first open for the record.
	RecordOpen(ctx context.Context, id string, at time.Time) (first bool, err error)
	// RecordClick mirrors RecordOpen for clicks. A click on a record that
	// never opened advances straight to clicked.
	RecordClick(ctx context.Context, id string, at time.Time) (first bool, err error)
	MarkBounced(ctx context.Context, id string, kind domain.BounceKind, reason string) error
	MarkComplained(ctx context.Context, id, reason string) error
	MarkUnsubscribed(ctx context.Context, id string) error
	// MarkDelivered stamps the provider delivery notification. The first
	// delivery timestamp wins; repeats report first=false.
	MarkDelivered(ctx context.Context, id string, at time.Time) (first bool, err error)
	// RequeueRateLimited hands the (campaign, recipient) record back for a
	// retry when its last attempt failed against the rate limiter. Returns
	// the record id and whether a requeue happened.
	RequeueRateLimited(ctx context.Context, campaignID, recipientID string) (id string, requeued bool, err error)
	Totals(ctx context.Context, campaignID string) (SendTotals, error)
	VariantStats(ctx context.Context, campaignID string) ([]VariantStat, error)
}
