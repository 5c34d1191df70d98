package tracking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/events"
	"github.com/ignite/dispatch-engine/internal/pkg/logger"
)

// Publisher hands tracking events to the delivery event processor, either
// directly or through a queue. Publishing never blocks the HTTP response
// and never surfaces errors to the caller.
type Publisher interface {
	Publish(ctx context.Context, ev domain.TrackingEvent)
}

// InProcPublisher applies events synchronously against the local processor.
// Used when no queue is configured.
type InProcPublisher struct {
	proc *events.Processor
	log  *logger.Logger
}

// NewInProcPublisher creates an in-process publisher.
func NewInProcPublisher(proc *events.Processor) *InProcPublisher {
	return &InProcPublisher{proc: proc, log: logger.With("tracking")}
}

// Publish processes the event immediately.
func (p *InProcPublisher) Publish(ctx context.Context, ev domain.TrackingEvent) {
	if err := p.proc.Process(ctx, ev); err != nil {
		p.log.Error("event processing failed", "type", string(ev.Type),
			"send_record_id", ev.SendRecordID, "error", err.Error())
	}
}

// SQSPublisher ships events to an SQS queue for the consumer to apply.
type SQSPublisher struct {
	client   *sqs.Client
	queueURL string
	log      *logger.Logger
}

// NewSQSPublisher creates a queue-backed publisher.
func NewSQSPublisher(client *sqs.Client, queueURL string) *SQSPublisher {
	return &SQSPublisher{client: client, queueURL: queueURL, log: logger.With("tracking")}
}

// Publish enqueues the event in the background so the pixel and redirect
// responses stay fast.
func (p *SQSPublisher) Publish(ctx context.Context, ev domain.TrackingEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("event marshal failed", "type", string(ev.Type), "error", err.Error())
		return
	}
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := p.client.SendMessage(sendCtx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			p.log.Error("event enqueue failed", "type", string(ev.Type),
				"send_record_id", ev.SendRecordID, "error", err.Error())
		}
	}()
}
