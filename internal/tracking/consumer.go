package tracking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/ignite/dispatch-engine/internal/config"
	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/events"
	"github.com/ignite/dispatch-engine/internal/pkg/logger"
)

// SQSConsumer long-polls the event queue and applies each message through
// the processor. Messages are deleted only after successful processing, so
// a transient store failure redelivers rather than drops.
type SQSConsumer struct {
	client *sqs.Client
	cfg    config.SQSConfig
	proc   *events.Processor
	log    *logger.Logger
}

// NewSQSConsumer creates a consumer for the configured queue.
func NewSQSConsumer(client *sqs.Client, cfg config.SQSConfig, proc *events.Processor) *SQSConsumer {
	return &SQSConsumer{client: client, cfg: cfg, proc: proc, log: logger.With("consumer")}
}

// Run polls until the context is cancelled.
func (c *SQSConsumer) Run(ctx context.Context) {
	c.log.Info("consumer started", "queue", c.cfg.QueueURL)
	for {
		if ctx.Err() != nil {
			c.log.Info("consumer stopped")
			return
		}
		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.cfg.QueueURL),
			MaxNumberOfMessages: int32(c.cfg.MaxMessages),
			WaitTimeSeconds:     int32(c.cfg.WaitTimeSeconds),
		})
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("consumer stopped")
				return
			}
			c.log.Error("receive failed", "error", err.Error())
			time.Sleep(2 * time.Second)
			continue
		}
		for _, msg := range out.Messages {
			c.handle(ctx, msg)
		}
	}
}

func (c *SQSConsumer) handle(ctx context.Context, msg sqstypes.Message) {
	var ev domain.TrackingEvent
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &ev); err != nil {
		// A malformed message can never succeed; delete it
		c.log.Warn("malformed event dropped", "error", err.Error())
		c.delete(ctx, msg)
		return
	}
	if err := c.proc.Process(ctx, ev); err != nil {
		c.log.Error("event processing failed, leaving for redelivery",
			"type", string(ev.Type), "error", err.Error())
		return
	}
	c.delete(ctx, msg)
}

func (c *SQSConsumer) delete(ctx context.Context, msg sqstypes.Message) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.cfg.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		c.log.Warn("message delete failed", "error", err.Error())
	}
}
