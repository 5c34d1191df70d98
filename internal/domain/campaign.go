package domain

import "time"

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// WinnerCriteria selects the stat an A/B test is judged on.
type WinnerCriteria string

const (
	WinnerByOpenRate  WinnerCriteria = "open_rate"
	WinnerByClickRate WinnerCriteria = "click_rate"
)

// Variant holds the content overrides for one arm of an A/B test.
// Zero-value fields fall back to the campaign's own content.
type Variant struct {
	Name        string `json:"name" db:"name"`
	Subject     string `json:"subject" db:"subject"`
	HTMLContent string `json:"html_content" db:"html_content"`
	FromName    string `json:"from_name" db:"from_name"`
}

// ABSettings configures split testing for a campaign.
type ABSettings struct {
	Enabled        bool           `json:"enabled" db:"enabled"`
	SplitPercent   int            `json:"split_percent" db:"split_percent"`
	TestDuration   time.Duration  `json:"test_duration" db:"test_duration"`
	WinnerCriteria WinnerCriteria `json:"winner_criteria" db:"winner_criteria"`
	Variants       []Variant      `json:"variants" db:"variants"`
	WinnerIndex    *int           `json:"winner_index" db:"winner_index"`
}

// Campaign represents an email campaign with its content, targeting and
// delivery configuration.
type Campaign struct {
	ID          string  `json:"id" db:"id"`
	AccountID   string  `json:"account_id" db:"account_id"`
	IdentityID  string  `json:"identity_id" db:"identity_id"`
	Name        string  `json:"name" db:"name"`
	Subject     string  `json:"subject" db:"subject"`
	PreviewText string  `json:"preview_text" db:"preview_text"`
	FromName    string  `json:"from_name" db:"from_name"`
	FromEmail   string  `json:"from_email" db:"from_email"`
	ReplyTo     string  `json:"reply_to" db:"reply_to"`
	HTMLContent string  `json:"html_content" db:"html_content"`
	TextContent string  `json:"text_content" db:"text_content"`

	TargetListIDs  []string `json:"target_list_ids" db:"target_list_ids"`
	ExcludeListIDs []string `json:"exclude_list_ids" db:"exclude_list_ids"`
	SegmentRule    string   `json:"segment_rule" db:"segment_rule"`

	Status      CampaignStatus `json:"status" db:"status"`
	ScheduledAt *time.Time     `json:"scheduled_at" db:"scheduled_at"`
	TrackOpens  bool           `json:"track_opens" db:"track_opens"`
	TrackClicks bool           `json:"track_clicks" db:"track_clicks"`
	ABTest      ABSettings     `json:"ab_test" db:"ab_test"`

	// Stats (maintained by the event processor, recomputed by the aggregator)
	TotalRecipients  int `json:"total_recipients" db:"total_recipients"`
	SentCount        int `json:"sent_count" db:"sent_count"`
	DeliveredCount   int `json:"delivered_count" db:"delivered_count"`
	OpenCount        int `json:"open_count" db:"open_count"`
	UniqueOpenCount  int `json:"unique_open_count" db:"unique_open_count"`
	ClickCount       int `json:"click_count" db:"click_count"`
	UniqueClickCount int `json:"unique_click_count" db:"unique_click_count"`
	BounceCount      int `json:"bounce_count" db:"bounce_count"`
	SoftBounceCount  int `json:"soft_bounce_count" db:"soft_bounce_count"`
	HardBounceCount  int `json:"hard_bounce_count" db:"hard_bounce_count"`
	ComplaintCount   int `json:"complaint_count" db:"complaint_count"`
	UnsubscribeCount int `json:"unsubscribe_count" db:"unsubscribe_count"`
	FailedCount      int `json:"failed_count" db:"failed_count"`

	DeliveryRate    float64 `json:"delivery_rate" db:"delivery_rate"`
	OpenRate        float64 `json:"open_rate" db:"open_rate"`
	ClickRate       float64 `json:"click_rate" db:"click_rate"`
	ClickToOpenRate float64 `json:"click_to_open_rate" db:"click_to_open_rate"`
	UnsubscribeRate float64 `json:"unsubscribe_rate" db:"unsubscribe_rate"`
	BounceRate      float64 `json:"bounce_rate" db:"bounce_rate"`

	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignFailed || c.Status == CampaignCancelled
}

// VariantContent returns the effective subject, HTML body and from-name for
// the given variant index, falling back to campaign content where the
// variant leaves a field empty. Index -1 means no variant.
func (c *Campaign) VariantContent(idx int) (subject, html, fromName string) {
	subject, html, fromName = c.Subject, c.HTMLContent, c.FromName
	if idx < 0 || idx >= len(c.ABTest.Variants) {
		return
	}
	v := c.ABTest.Variants[idx]
	if v.Subject != "" {
		subject = v.Subject
	}
	if v.HTMLContent != "" {
		html = v.HTMLContent
	}
	if v.FromName != "" {
		fromName = v.FromName
	}
	return
}
