package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/dispatch-engine/internal/config"
	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/pkg/logger"
)

// SMTPSettings configures one SMTP relay connection.
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
	Channel  domain.Provider
}

// SMTPSender delivers mail over a plain SMTP relay. Used both for
// per-identity SMTP credentials and the shared platform relay.
type SMTPSender struct {
	settings SMTPSettings
	log      *logger.Logger
}

// NewSMTPSender creates a sender for the given relay settings.
func NewSMTPSender(settings SMTPSettings) *SMTPSender {
	if settings.Channel == "" {
		settings.Channel = domain.ProviderSMTP
	}
	return &SMTPSender{settings: settings, log: logger.With("smtp")}
}

// NewPlatformSender creates the shared platform relay sender.
func NewPlatformSender(cfg config.PlatformConfig) *SMTPSender {
	return NewSMTPSender(SMTPSettings{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		UseTLS:   cfg.SMTPUseTLS,
		Channel:  domain.ProviderPlatform,
	})
}

// Provider reports which delivery channel this sender serves.
func (s *SMTPSender) Provider() domain.Provider { return s.settings.Channel }

// Send delivers one message through the relay.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	if s.settings.Host == "" {
		return nil, fmt.Errorf("SMTP host not configured")
	}

	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), s.settings.Host)
	raw := buildMIME(msg, messageID)

	start := time.Now()
	addr := fmt.Sprintf("%s:%d", s.settings.Host, s.settings.Port)
	if err := s.sendSMTP(ctx, addr, msg.From, msg.To, raw); err != nil {
		s.log.Warn("send failed", "to", logger.RedactEmail(msg.To), "error", err.Error())
		return &Result{
			Success:   false,
			LatencyMs: time.Since(start).Milliseconds(),
			Provider:  s.settings.Channel,
			Err:       err,
			Class:     Classify(err),
		}, nil
	}

	s.log.Debug("sent", "to", logger.RedactEmail(msg.To), "message_id", messageID)
	return &Result{
		Success:   true,
		MessageID: messageID,
		LatencyMs: time.Since(start).Milliseconds(),
		Provider:  s.settings.Channel,
	}, nil
}

// buildMIME assembles the full RFC 5322 message: headers, then a
// multipart/alternative body when a text part is present.
func buildMIME(msg *Message, messageID string) []byte {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s <%s>\r\n", msg.FromName, msg.From))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	buf.WriteString(fmt.Sprintf("Message-ID: <%s>\r\n", messageID))
	buf.WriteString("MIME-Version: 1.0\r\n")

	if msg.ReplyTo != "" {
		buf.WriteString(fmt.Sprintf("Reply-To: %s\r\n", msg.ReplyTo))
	}

	// Deterministic header order keeps the output testable
	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteString(fmt.Sprintf("%s: %s\r\n", k, msg.Headers[k]))
	}

	if msg.TextBody == "" {
		buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		buf.WriteString(msg.HTMLBody)
		buf.WriteString("\r\n")
		return buf.Bytes()
	}

	boundary := fmt.Sprintf("=_%s", uuid.New().String()[:16])
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary))
	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	buf.WriteString(msg.TextBody)
	buf.WriteString("\r\n")
	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	buf.WriteString(msg.HTMLBody)
	buf.WriteString("\r\n")
	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return buf.Bytes()
}

// sendSMTP runs the SMTP transaction. STARTTLS is attempted when the server
// offers it; AUTH only when credentials are configured.
func (s *SMTPSender) sendSMTP(ctx context.Context, addr, from, to string, raw []byte) error {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("SMTP connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.settings.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("SMTP client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok && s.settings.UseTLS {
		tlsCfg := &tls.Config{ServerName: s.settings.Host}
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}

	if s.settings.Username != "" && s.settings.Password != "" {
		auth := &plainAuth{user: s.settings.Username, pass: s.settings.Password}
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return client.Quit()
}

// plainAuth implements smtp.Auth without stdlib's TLS requirement. Relays on
// private networks often accept PLAIN on the submission port without TLS.
type plainAuth struct {
	user, pass string
}

func (a *plainAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	return "PLAIN", []byte("\x00" + a.user + "\x00" + a.pass), nil
}

func (a *plainAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	return nil, nil
}
