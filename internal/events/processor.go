// Package events applies delivery and engagement events to send records,
// campaign counters and recipient state. Processing is tolerant by design:
// bot hits, unknown record ids and repeated events all resolve without
// error so upstream queues never poison themselves retrying.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/dispatch-engine/internal/audit"
	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/pkg/logger"
	"github.com/ignite/dispatch-engine/internal/store"
)

// botMarkers flags automated user agents whose opens and clicks must not
// count as engagement.
var botMarkers = []string{
	"bot", "crawler", "spider", "scraper", "parser",
	"googlebot", "bingbot", "slurp", "duckduckbot", "baiduspider", "yandexbot",
	"facebookexternalhit", "twitterbot", "linkedinbot", "whatsapp", "telegram",
	"preview", "prefetch", "preload",
}

// IsBot reports whether the user agent looks automated.
func IsBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range botMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// DetectDevice classifies the user agent into a coarse device type.
func DetectDevice(userAgent string) domain.DeviceType {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return domain.DeviceUnknown
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return domain.DeviceTablet
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") ||
		strings.Contains(ua, "android"):
		return domain.DeviceMobile
	}
	return domain.DeviceDesktop
}

// Processor applies tracking events to the stores. First-time opens and
// clicks bump both the raw and unique campaign counters; repeats bump only
// the raw ones.
type Processor struct {
	campaigns  store.CampaignStore
	recipients store.RecipientStore
	records    store.SendRecordStore
	audit      audit.Recorder
	log        *logger.Logger
}

// NewProcessor creates an event processor. The audit recorder may be nil.
func NewProcessor(campaigns store.CampaignStore, recipients store.RecipientStore,
	records store.SendRecordStore, auditRec audit.Recorder) *Processor {
	return &Processor{
		campaigns:  campaigns,
		recipients: recipients,
		records:    records,
		audit:      auditRec,
		log:        logger.With("events"),
	}
}

// Process dispatches one event to its handler.
func (p *Processor) Process(ctx context.Context, ev domain.TrackingEvent) error {
	switch ev.Type {
	case domain.EventDelivered:
		return p.HandleDelivered(ctx, ev)
	case domain.EventOpen:
		return p.HandleOpen(ctx, ev)
	case domain.EventClick:
		return p.HandleClick(ctx, ev)
	case domain.EventBounce:
		return p.HandleBounce(ctx, ev)
	case domain.EventComplaint:
		return p.HandleComplaint(ctx, ev)
	case domain.EventUnsubscribe:
		return p.HandleUnsubscribe(ctx, ev)
	}
	p.log.Warn("unknown event type dropped", "type", string(ev.Type))
	return nil
}

// RecordDelivery applies a provider delivery notification.
func (p *Processor) RecordDelivery(ctx context.Context, sendRecordID string, at time.Time) error {
	return p.HandleDelivered(ctx, domain.TrackingEvent{
		Type: domain.EventDelivered, SendRecordID: sendRecordID,
		Context: domain.EventContext{OccurredAt: at},
	})
}

// RecordOpen counts one open against a send record.
func (p *Processor) RecordOpen(ctx context.Context, sendRecordID string, ectx domain.EventContext) error {
	return p.HandleOpen(ctx, domain.TrackingEvent{
		Type: domain.EventOpen, SendRecordID: sendRecordID, Context: ectx,
	})
}

// RecordClick counts one click on the given destination.
func (p *Processor) RecordClick(ctx context.Context, sendRecordID, destURL string, ectx domain.EventContext) error {
	return p.HandleClick(ctx, domain.TrackingEvent{
		Type: domain.EventClick, SendRecordID: sendRecordID, URL: destURL, Context: ectx,
	})
}

// RecordBounce marks a delivery bounce.
func (p *Processor) RecordBounce(ctx context.Context, sendRecordID string, kind domain.BounceKind, reason string) error {
	return p.HandleBounce(ctx, domain.TrackingEvent{
		Type: domain.EventBounce, SendRecordID: sendRecordID, BounceKind: kind, Reason: reason,
	})
}

// RecordComplaint marks a spam complaint.
func (p *Processor) RecordComplaint(ctx context.Context, sendRecordID, reason string) error {
	return p.HandleComplaint(ctx, domain.TrackingEvent{
		Type: domain.EventComplaint, SendRecordID: sendRecordID, Reason: reason,
	})
}

// RecordUnsubscribe opts the recipient out via the send record that carried
// the unsubscribe link.
func (p *Processor) RecordUnsubscribe(ctx context.Context, recipientID, sendRecordID string) error {
	return p.HandleUnsubscribe(ctx, domain.TrackingEvent{
		Type: domain.EventUnsubscribe, RecipientID: recipientID, SendRecordID: sendRecordID,
	})
}

// HandleDelivered advances the record to delivered. The delivered campaign
// counter moves only on the first notification; a late one arriving after an
// open keeps the higher status and just stamps the timestamp.
func (p *Processor) HandleDelivered(ctx context.Context, ev domain.TrackingEvent) error {
	rec, ok, err := p.loadRecord(ctx, ev.SendRecordID)
	if err != nil || !ok {
		return err
	}

	first, err := p.records.MarkDelivered(ctx, rec.ID, eventTime(ev))
	if err != nil {
		return fmt.Errorf("mark delivered %s: %w", rec.ID, err)
	}
	if first {
		if err := p.campaigns.IncrementCounters(ctx, rec.CampaignID, store.CounterDeltas{Delivered: 1}); err != nil {
			return fmt.Errorf("campaign counters %s: %w", rec.CampaignID, err)
		}
	}
	return nil
}

// HandleOpen counts one open. Bot hits and unknown record ids are dropped.
func (p *Processor) HandleOpen(ctx context.Context, ev domain.TrackingEvent) error {
	if IsBot(ev.Context.UserAgent) {
		p.log.Debug("bot open dropped", "send_record_id", ev.SendRecordID,
			"user_agent", ev.Context.UserAgent)
		return nil
	}

	rec, ok, err := p.loadRecord(ctx, ev.SendRecordID)
	if err != nil || !ok {
		return err
	}

	first, err := p.records.RecordOpen(ctx, rec.ID, eventTime(ev))
	if err != nil {
		return fmt.Errorf("record open %s: %w", rec.ID, err)
	}

	deltas := store.CounterDeltas{Opens: 1}
	if first {
		deltas.UniqueOpens = 1
	}
	if err := p.campaigns.IncrementCounters(ctx, rec.CampaignID, deltas); err != nil {
		return fmt.Errorf("campaign counters %s: %w", rec.CampaignID, err)
	}
	if err := p.recipients.IncrementEngagement(ctx, rec.RecipientID, 1, 0); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("recipient engagement %s: %w", rec.RecipientID, err)
	}

	p.record(ctx, audit.Entry{
		Action:       audit.ActionOpen,
		CampaignID:   rec.CampaignID,
		RecipientID:  rec.RecipientID,
		SendRecordID: rec.ID,
		Detail:       string(DetectDevice(ev.Context.UserAgent)),
		At:           eventTime(ev),
	})
	return nil
}

// HandleClick counts one click. A click on a never-opened record still
// advances the record straight to clicked.
func (p *Processor) HandleClick(ctx context.Context, ev domain.TrackingEvent) error {
	if IsBot(ev.Context.UserAgent) {
		p.log.Debug("bot click dropped", "send_record_id", ev.SendRecordID,
			"user_agent", ev.Context.UserAgent)
		return nil
	}

	rec, ok, err := p.loadRecord(ctx, ev.SendRecordID)
	if err != nil || !ok {
		return err
	}

	first, err := p.records.RecordClick(ctx, rec.ID, eventTime(ev))
	if err != nil {
		return fmt.Errorf("record click %s: %w", rec.ID, err)
	}

	deltas := store.CounterDeltas{Clicks: 1}
	if first {
		deltas.UniqueClicks = 1
	}
	if err := p.campaigns.IncrementCounters(ctx, rec.CampaignID, deltas); err != nil {
		return fmt.Errorf("campaign counters %s: %w", rec.CampaignID, err)
	}
	if err := p.recipients.IncrementEngagement(ctx, rec.RecipientID, 0, 1); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("recipient engagement %s: %w", rec.RecipientID, err)
	}

	p.record(ctx, audit.Entry{
		Action:       audit.ActionClick,
		CampaignID:   rec.CampaignID,
		RecipientID:  rec.RecipientID,
		SendRecordID: rec.ID,
		Detail:       ev.URL,
		At:           eventTime(ev),
	})
	return nil
}

// HandleBounce marks the record bounced. A hard bounce also flips the
// recipient to bounced so future audiences exclude them.
func (p *Processor) HandleBounce(ctx context.Context, ev domain.TrackingEvent) error {
	rec, ok, err := p.loadRecord(ctx, ev.SendRecordID)
	if err != nil || !ok {
		return err
	}

	kind := ev.BounceKind
	if kind == "" {
		kind = domain.BounceSoft
	}
	if err := p.records.MarkBounced(ctx, rec.ID, kind, ev.Reason); err != nil {
		return fmt.Errorf("mark bounced %s: %w", rec.ID, err)
	}

	deltas := store.CounterDeltas{Bounced: 1}
	if kind == domain.BounceHard {
		deltas.HardBounced = 1
	} else {
		deltas.SoftBounced = 1
	}
	if err := p.campaigns.IncrementCounters(ctx, rec.CampaignID, deltas); err != nil {
		return fmt.Errorf("campaign counters %s: %w", rec.CampaignID, err)
	}
	if kind == domain.BounceHard {
		if err := p.recipients.UpdateStatus(ctx, rec.RecipientID, domain.RecipientBounced); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("recipient status %s: %w", rec.RecipientID, err)
		}
	}

	p.record(ctx, audit.Entry{
		Action:       audit.ActionBounce,
		CampaignID:   rec.CampaignID,
		RecipientID:  rec.RecipientID,
		SendRecordID: rec.ID,
		Detail:       fmt.Sprintf("%s: %s", kind, ev.Reason),
		At:           eventTime(ev),
	})
	return nil
}

// HandleComplaint marks the record complained and suppresses the recipient.
func (p *Processor) HandleComplaint(ctx context.Context, ev domain.TrackingEvent) error {
	rec, ok, err := p.loadRecord(ctx, ev.SendRecordID)
	if err != nil || !ok {
		return err
	}

	if err := p.records.MarkComplained(ctx, rec.ID, ev.Reason); err != nil {
		return fmt.Errorf("mark complained %s: %w", rec.ID, err)
	}
	if err := p.campaigns.IncrementCounters(ctx, rec.CampaignID, store.CounterDeltas{Complained: 1}); err != nil {
		return fmt.Errorf("campaign counters %s: %w", rec.CampaignID, err)
	}
	if err := p.recipients.UpdateStatus(ctx, rec.RecipientID, domain.RecipientComplained); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("recipient status %s: %w", rec.RecipientID, err)
	}

	p.record(ctx, audit.Entry{
		Action:       audit.ActionComplaint,
		CampaignID:   rec.CampaignID,
		RecipientID:  rec.RecipientID,
		SendRecordID: rec.ID,
		Detail:       ev.Reason,
		At:           eventTime(ev),
	})
	return nil
}

// HandleUnsubscribe marks the record unsubscribed and flips the recipient.
// Repeats are no-ops for the recipient but still logged.
func (p *Processor) HandleUnsubscribe(ctx context.Context, ev domain.TrackingEvent) error {
	rec, ok, err := p.loadRecord(ctx, ev.SendRecordID)
	if err != nil || !ok {
		return err
	}

	recipientID := ev.RecipientID
	if recipientID == "" {
		recipientID = rec.RecipientID
	}

	if rec.Status != domain.SendUnsubscribed {
		if err := p.records.MarkUnsubscribed(ctx, rec.ID); err != nil {
			return fmt.Errorf("mark unsubscribed %s: %w", rec.ID, err)
		}
		if err := p.campaigns.IncrementCounters(ctx, rec.CampaignID, store.CounterDeltas{Unsubscribed: 1}); err != nil {
			return fmt.Errorf("campaign counters %s: %w", rec.CampaignID, err)
		}
	}
	if err := p.recipients.UpdateStatus(ctx, recipientID, domain.RecipientUnsubscribed); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("recipient status %s: %w", recipientID, err)
	}

	p.record(ctx, audit.Entry{
		Action:       audit.ActionUnsubscribe,
		CampaignID:   rec.CampaignID,
		RecipientID:  recipientID,
		SendRecordID: rec.ID,
		At:           eventTime(ev),
	})
	return nil
}

// loadRecord fetches the send record. An unknown id resolves (false, nil):
// the event is logged and dropped rather than failing the queue.
func (p *Processor) loadRecord(ctx context.Context, id string) (*domain.SendRecord, bool, error) {
	if id == "" {
		p.log.Warn("event with empty send record id dropped")
		return nil, false, nil
	}
	rec, err := p.records.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		p.log.Warn("event for unknown send record dropped", "send_record_id", id)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load send record %s: %w", id, err)
	}
	return rec, true, nil
}

func (p *Processor) record(ctx context.Context, e audit.Entry) {
	if p.audit != nil {
		p.audit.Record(ctx, e)
	}
}

func eventTime(ev domain.TrackingEvent) time.Time {
	if ev.Context.OccurredAt.IsZero() {
		return time.Now()
	}
	return ev.Context.OccurredAt
}
