package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	sescfg "github.com/ignite/dispatch-engine/internal/config"
	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/pkg/logger"
)

// SESSender delivers mail through AWS SES using the v2 SDK.
type SESSender struct {
	client  *sesv2.Client
	timeout time.Duration
	log     *logger.Logger
}

// NewSESSender creates an SES sender from static credentials. Returns an
// error when the AWS config cannot be assembled.
func NewSESSender(cfg sescfg.SESConfig) (*SESSender, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SESSender{
		client:  sesv2.NewFromConfig(awsCfg),
		timeout: cfg.Timeout(),
		log:     logger.With("ses"),
	}, nil
}

// Provider reports the delivery channel this sender serves.
func (s *SESSender) Provider() domain.Provider { return domain.ProviderSES }

// Send delivers one message through SES. Campaign and recipient ids ride
// along as message tags so delivery notifications can be correlated.
func (s *SESSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	if s.client == nil {
		return nil, fmt.Errorf("SES client not initialized")
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.From)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")},
				},
				Headers: sesHeaders(msg.Headers),
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("send_record_id"), Value: aws.String(msg.SendRecordID)},
		},
	}
	if msg.TextBody != "" {
		input.Content.Simple.Body.Text = &types.Content{
			Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	sendCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := s.client.SendEmail(sendCtx, input)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		s.log.Warn("send failed", "to", logger.RedactEmail(msg.To), "error", err.Error())
		return &Result{
			Success:   false,
			LatencyMs: latency,
			Provider:  domain.ProviderSES,
			Err:       err,
			Class:     Classify(err),
		}, nil
	}

	messageID := ""
	if out.MessageId != nil {
		messageID = *out.MessageId
	}
	s.log.Debug("sent", "to", logger.RedactEmail(msg.To), "message_id", messageID)
	return &Result{
		Success:   true,
		MessageID: messageID,
		LatencyMs: latency,
		Provider:  domain.ProviderSES,
	}, nil
}

func sesHeaders(headers map[string]string) []types.MessageHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]types.MessageHeader, 0, len(headers))
	for k, v := range headers {
		out = append(out, types.MessageHeader{Name: aws.String(k), Value: aws.String(v)})
	}
	return out
}
