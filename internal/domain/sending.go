package domain

import "time"

// Provider enumerates the supported delivery channels.
type Provider string

const (
	ProviderSMTP     Provider = "smtp"
	ProviderSES      Provider = "ses"
	ProviderPlatform Provider = "platform"
)

// SendingIdentity is a verified from-address with its delivery channel and
// volume caps. Rate limiting is enforced per identity.
type SendingIdentity struct {
	ID        string   `json:"id" db:"id"`
	AccountID string   `json:"account_id" db:"account_id"`
	FromName  string   `json:"from_name" db:"from_name"`
	FromEmail string   `json:"from_email" db:"from_email"`
	Provider  Provider `json:"provider" db:"provider"`

	SMTPHost     string `json:"smtp_host" db:"smtp_host"`
	SMTPPort     int    `json:"smtp_port" db:"smtp_port"`
	SMTPUsername string `json:"smtp_username" db:"smtp_username"`
	SMTPPassword string `json:"-" db:"smtp_password"`
	SMTPUseTLS   bool   `json:"smtp_use_tls" db:"smtp_use_tls"`

	DailyLimit  int  `json:"daily_limit" db:"daily_limit"`
	HourlyLimit int  `json:"hourly_limit" db:"hourly_limit"`
	Verified    bool `json:"verified" db:"verified"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
