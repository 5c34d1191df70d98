// Package transport delivers rendered messages through the configured
// provider: per-identity SMTP, AWS SES, or the platform relay. Failures are
// classified as transient or permanent so the dispatch engine knows whether
// a retry can help.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"

	"github.com/ignite/dispatch-engine/internal/domain"
)

// Message is one fully rendered email ready for handoff to a provider.
type Message struct {
	From         string
	FromName     string
	To           string
	Subject      string
	HTMLBody     string
	TextBody     string
	ReplyTo      string
	Headers      map[string]string
	CampaignID   string
	RecipientID  string
	SendRecordID string
}

// Result reports the outcome of one delivery attempt.
type Result struct {
	Success   bool
	MessageID string
	LatencyMs int64
	Provider  domain.Provider
	Err       error
	Class     Class
}

// Class says whether a failed attempt is worth retrying.
type Class string

const (
	ClassTransient Class = "transient"
	ClassPermanent Class = "permanent"
)

// Sender delivers a single message. A non-nil error means the sender itself
// is unusable (misconfigured, no client); per-message delivery failures come
// back in the Result with Success false.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
	Provider() domain.Provider
}

// Classify maps a delivery error to a retry class. Timeouts, connection
// trouble and 4xx SMTP replies are transient; 5xx replies, auth failures and
// rejected recipients are permanent. Unknown errors classify as transient so
// the retry budget decides.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if protoErr.Code >= 500 {
			return ClassPermanent
		}
		if protoErr.Code >= 400 {
			return ClassTransient
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "temporar"),
		strings.Contains(msg, "try again"),
		strings.Contains(msg, "throttl"),
		strings.Contains(msg, "toomanyrequests"),
		strings.Contains(msg, "service unavailable"):
		return ClassTransient
	case strings.Contains(msg, "auth"),
		strings.Contains(msg, "no such user"),
		strings.Contains(msg, "invalid recipient"),
		strings.Contains(msg, "mailbox unavailable"),
		strings.Contains(msg, "messagerejected"),
		strings.Contains(msg, "accountsuspended"),
		strings.Contains(msg, "address not verified"):
		return ClassPermanent
	}
	return ClassTransient
}

// Factory hands out the right sender for a sending identity's provider.
type Factory struct {
	ses      *SESSender
	platform *SMTPSender
}

// NewFactory creates a factory with the shared SES and platform senders.
// Either may be nil when that channel is not configured.
func NewFactory(ses *SESSender, platform *SMTPSender) *Factory {
	return &Factory{ses: ses, platform: platform}
}

// For returns a sender for the identity's delivery channel.
func (f *Factory) For(identity *domain.SendingIdentity) (Sender, error) {
	switch identity.Provider {
	case domain.ProviderSMTP:
		return NewSMTPSender(SMTPSettings{
			Host:     identity.SMTPHost,
			Port:     identity.SMTPPort,
			Username: identity.SMTPUsername,
			Password: identity.SMTPPassword,
			UseTLS:   identity.SMTPUseTLS,
			Channel:  domain.ProviderSMTP,
		}), nil
	case domain.ProviderSES:
		if f.ses == nil {
			return nil, fmt.Errorf("SES sender not configured")
		}
		return f.ses, nil
	case domain.ProviderPlatform:
		if f.platform == nil {
			return nil, fmt.Errorf("platform relay not configured")
		}
		return f.platform, nil
	}
	return nil, fmt.Errorf("unknown provider %q", identity.Provider)
}
