package transport

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/dispatch-engine/internal/domain"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline reached" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ""},
		{"deadline exceeded", context.DeadlineExceeded, ClassTransient},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, ClassTransient},
		{"smtp 421", &textproto.Error{Code: 421, Msg: "service not available"}, ClassTransient},
		{"smtp 450", &textproto.Error{Code: 450, Msg: "mailbox busy"}, ClassTransient},
		{"smtp 550", &textproto.Error{Code: 550, Msg: "no such user"}, ClassPermanent},
		{"smtp 554", &textproto.Error{Code: 554, Msg: "transaction failed"}, ClassPermanent},
		{"auth failure", errors.New("SMTP auth: 535 authentication failed"), ClassPermanent},
		{"connection refused", errors.New("dial tcp: connection refused"), ClassTransient},
		{"ses throttle", errors.New("api error TooManyRequestsException"), ClassTransient},
		{"ses rejected", errors.New("api error MessageRejected: address not verified"), ClassPermanent},
		{"unknown", errors.New("something odd"), ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassifyWrappedTextprotoError(t *testing.T) {
	err := &net.OpError{Op: "read", Err: errors.New("wrapped")}
	wrapped := errors.Join(errors.New("RCPT TO"), &textproto.Error{Code: 550, Msg: "user unknown"})
	assert.Equal(t, ClassPermanent, Classify(wrapped))
	assert.Equal(t, ClassTransient, Classify(err))
}

func TestBuildMIMEMultipart(t *testing.T) {
	msg := &Message{
		From:     "news@example.com",
		FromName: "Example News",
		To:       "jane@example.com",
		Subject:  "Hello",
		HTMLBody: "<p>Hi</p>",
		TextBody: "Hi",
		ReplyTo:  "reply@example.com",
		Headers: map[string]string{
			"List-Unsubscribe":      "<https://t.example.com/t/unsubscribe/abc>",
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		},
	}

	raw := string(buildMIME(msg, "msgid-1@relay"))

	assert.Contains(t, raw, "From: Example News <news@example.com>\r\n")
	assert.Contains(t, raw, "To: jane@example.com\r\n")
	assert.Contains(t, raw, "Subject: Hello\r\n")
	assert.Contains(t, raw, "Message-ID: <msgid-1@relay>\r\n")
	assert.Contains(t, raw, "Reply-To: reply@example.com\r\n")
	assert.Contains(t, raw, "List-Unsubscribe: <https://t.example.com/t/unsubscribe/abc>\r\n")
	assert.Contains(t, raw, "List-Unsubscribe-Post: List-Unsubscribe=One-Click\r\n")
	assert.Contains(t, raw, "multipart/alternative")
	assert.Contains(t, raw, "text/plain; charset=UTF-8")
	assert.Contains(t, raw, "text/html; charset=UTF-8")

	// Headers end before the body starts
	headerEnd := strings.Index(raw, "\r\n\r\n")
	require.Greater(t, headerEnd, 0)
	assert.NotContains(t, raw[:headerEnd], "<p>Hi</p>")
}

func TestBuildMIMEHTMLOnly(t *testing.T) {
	msg := &Message{
		From:     "news@example.com",
		FromName: "Example News",
		To:       "jane@example.com",
		Subject:  "Hello",
		HTMLBody: "<p>Hi</p>",
	}

	raw := string(buildMIME(msg, "msgid-2@relay"))
	assert.NotContains(t, raw, "multipart/alternative")
	assert.Contains(t, raw, "Content-Type: text/html; charset=UTF-8\r\n\r\n<p>Hi</p>")
}

func TestFactoryFor(t *testing.T) {
	platform := NewSMTPSender(SMTPSettings{Host: "relay.internal", Port: 587, Channel: domain.ProviderPlatform})
	f := NewFactory(nil, platform)

	smtpIdentity := &domain.SendingIdentity{
		Provider: domain.ProviderSMTP,
		SMTPHost: "mail.example.com",
		SMTPPort: 587,
	}
	s, err := f.For(smtpIdentity)
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderSMTP, s.Provider())

	s, err = f.For(&domain.SendingIdentity{Provider: domain.ProviderPlatform})
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderPlatform, s.Provider())

	_, err = f.For(&domain.SendingIdentity{Provider: domain.ProviderSES})
	assert.Error(t, err)

	_, err = f.For(&domain.SendingIdentity{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestSMTPSenderRequiresHost(t *testing.T) {
	s := NewSMTPSender(SMTPSettings{})
	_, err := s.Send(context.Background(), &Message{To: "jane@example.com"})
	assert.Error(t, err)
}
