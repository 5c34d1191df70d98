package domain

import "time"

// RecipientStatus enumerates the states a recipient can be in.
type RecipientStatus string

const (
	RecipientSubscribed   RecipientStatus = "subscribed"
	RecipientUnsubscribed RecipientStatus = "unsubscribed"
	RecipientBounced      RecipientStatus = "bounced"
	RecipientComplained   RecipientStatus = "complained"
	RecipientBlacklisted  RecipientStatus = "blacklisted"
)

// Recipient represents a single email address belonging to an account.
type Recipient struct {
	ID         string          `json:"id" db:"id"`
	AccountID  string          `json:"account_id" db:"account_id"`
	Email      string          `json:"email" db:"email"`
	FirstName  string          `json:"first_name" db:"first_name"`
	LastName   string          `json:"last_name" db:"last_name"`
	Status     RecipientStatus `json:"status" db:"status"`
	Attributes map[string]any  `json:"attributes" db:"attributes"`

	EngagementScore float64    `json:"engagement_score" db:"engagement_score"`
	TotalSends      int        `json:"total_sends" db:"total_sends"`
	TotalOpens      int        `json:"total_opens" db:"total_opens"`
	TotalClicks     int        `json:"total_clicks" db:"total_clicks"`
	LastOpenAt      *time.Time `json:"last_open_at" db:"last_open_at"`
	LastClickAt     *time.Time `json:"last_click_at" db:"last_click_at"`

	SubscribedAt   time.Time  `json:"subscribed_at" db:"subscribed_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at" db:"unsubscribed_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Sendable reports whether the recipient may receive campaign mail.
func (r *Recipient) Sendable() bool {
	return r.Status == RecipientSubscribed
}

// RecalcEngagement recomputes the 0-100 engagement score from lifetime
// counters: open rate weighted 0.4, click rate 0.6, plus a recency bonus of
// 20 for activity within a week and 10 within a month.
func (r *Recipient) RecalcEngagement(now time.Time) {
	if r.TotalSends == 0 {
		r.EngagementScore = 0
		return
	}
	openRate := float64(r.TotalOpens) / float64(r.TotalSends) * 100
	clickRate := float64(r.TotalClicks) / float64(r.TotalSends) * 100
	score := openRate*0.4 + clickRate*0.6

	last := r.LastOpenAt
	if r.LastClickAt != nil && (last == nil || r.LastClickAt.After(*last)) {
		last = r.LastClickAt
	}
	if last != nil {
		switch age := now.Sub(*last); {
		case age <= 7*24*time.Hour:
			score += 20
		case age <= 30*24*time.Hour:
			score += 10
		}
	}
	if score > 100 {
		score = 100
	}
	r.EngagementScore = score
}

// ListType distinguishes manually curated lists from rule-driven ones.
type ListType string

const (
	ListManual  ListType = "manual"
	ListDynamic ListType = "dynamic"
)

// List groups recipients either by explicit membership or by a stored
// segment rule evaluated at resolution time.
type List struct {
	ID             string    `json:"id" db:"id"`
	AccountID      string    `json:"account_id" db:"account_id"`
	Name           string    `json:"name" db:"name"`
	Type           ListType  `json:"type" db:"type"`
	SegmentRule    string    `json:"segment_rule" db:"segment_rule"`
	RecipientCount int       `json:"recipient_count" db:"recipient_count"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
