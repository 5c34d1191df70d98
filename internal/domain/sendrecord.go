package domain

import "time"

// SendRecordStatus enumerates the per-recipient delivery states. The status
// is monotonic: it only moves to a strictly higher state, while the raw
// open/click counters track repeats.
type SendRecordStatus string

const (
	SendQueued       SendRecordStatus = "queued"
	SendSent         SendRecordStatus = "sent"
	SendDelivered    SendRecordStatus = "delivered"
	SendOpened       SendRecordStatus = "opened"
	SendClicked      SendRecordStatus = "clicked"
	SendBounced      SendRecordStatus = "bounced"
	SendComplained   SendRecordStatus = "complained"
	SendUnsubscribed SendRecordStatus = "unsubscribed"
	SendFailed       SendRecordStatus = "failed"
)

// statusRank orders send record states for the monotonic transition rule.
var statusRank = map[SendRecordStatus]int{
	SendQueued:       0,
	SendSent:         1,
	SendDelivered:    2,
	SendOpened:       3,
	SendClicked:      4,
	SendBounced:      5,
	SendComplained:   6,
	SendUnsubscribed: 7,
	SendFailed:       8,
}

// Rank returns the ordering position of the status. Unknown statuses rank
// lowest so a bad value never overwrites real state.
func (s SendRecordStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// FailureRateLimited marks a send deferred by the rate limiter. Records
// failed with this reason are retried by a later dispatch run.
const FailureRateLimited = "rate_limited"

// BounceKind distinguishes retryable soft bounces from permanent hard ones.
type BounceKind string

const (
	BounceSoft BounceKind = "soft"
	BounceHard BounceKind = "hard"
)

// SendRecord tracks one (campaign, recipient) delivery. The pair is unique;
// re-dispatching a campaign skips recipients that already have a record.
type SendRecord struct {
	ID           string           `json:"id" db:"id"`
	CampaignID   string           `json:"campaign_id" db:"campaign_id"`
	RecipientID  string           `json:"recipient_id" db:"recipient_id"`
	Email        string           `json:"email" db:"email"`
	Status       SendRecordStatus `json:"status" db:"status"`
	BounceKind   BounceKind       `json:"bounce_kind" db:"bounce_kind"`
	VariantIndex int              `json:"variant_index" db:"variant_index"`

	OpenCount  int `json:"open_count" db:"open_count"`
	ClickCount int `json:"click_count" db:"click_count"`

	MessageID     string         `json:"message_id" db:"message_id"`
	FailureReason string         `json:"failure_reason" db:"failure_reason"`
	LatencyMs     int64          `json:"latency_ms" db:"latency_ms"`
	Metadata      map[string]any `json:"metadata" db:"metadata"`

	QueuedAt       time.Time  `json:"queued_at" db:"queued_at"`
	SentAt         *time.Time `json:"sent_at" db:"sent_at"`
	DeliveredAt    *time.Time `json:"delivered_at" db:"delivered_at"`
	FirstOpenAt    *time.Time `json:"first_open_at" db:"first_open_at"`
	FirstClickAt   *time.Time `json:"first_click_at" db:"first_click_at"`
	BouncedAt      *time.Time `json:"bounced_at" db:"bounced_at"`
	ComplainedAt   *time.Time `json:"complained_at" db:"complained_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at" db:"unsubscribed_at"`
	FailedAt       *time.Time `json:"failed_at" db:"failed_at"`
}
