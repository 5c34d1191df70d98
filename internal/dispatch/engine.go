// Package dispatch runs campaign sends end to end: audience resolution,
// A/B assignment, personalization, rate limiting, provider handoff and the
// final status transition. Dispatch is idempotent per (campaign, recipient);
// re-running a campaign only reaches recipients without a send record, plus
// any whose last attempt was deferred by the rate limiter.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/dispatch-engine/internal/audience"
	"github.com/ignite/dispatch-engine/internal/audit"
	"github.com/ignite/dispatch-engine/internal/config"
	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/metrics"
	"github.com/ignite/dispatch-engine/internal/personalize"
	"github.com/ignite/dispatch-engine/internal/pkg/logger"
	"github.com/ignite/dispatch-engine/internal/store"
	"github.com/ignite/dispatch-engine/internal/transport"
)

// RateLimiter reserves send slots against an identity's volume caps.
type RateLimiter interface {
	TryReserve(ctx context.Context, identity *domain.SendingIdentity) (bool, error)
}

// SenderFactory hands out a transport for an identity's provider.
type SenderFactory interface {
	For(identity *domain.SendingIdentity) (transport.Sender, error)
}

// Engine orchestrates one campaign send.
type Engine struct {
	campaigns  store.CampaignStore
	recipients store.RecipientStore
	identities store.IdentityStore
	records    store.SendRecordStore
	resolver   *audience.Resolver
	renderer   *personalize.Engine
	links      personalize.LinkBuilder
	limiter    RateLimiter
	senders    SenderFactory
	metrics    *metrics.Aggregator
	audit      audit.Recorder
	cfg        config.DispatchConfig
	log        *logger.Logger

	sleep func(time.Duration)
}

// NewEngine wires a dispatch engine. The audit recorder may be nil.
func NewEngine(
	campaigns store.CampaignStore,
	recipients store.RecipientStore,
	identities store.IdentityStore,
	records store.SendRecordStore,
	resolver *audience.Resolver,
	renderer *personalize.Engine,
	links personalize.LinkBuilder,
	limiter RateLimiter,
	senders SenderFactory,
	aggregator *metrics.Aggregator,
	auditRec audit.Recorder,
	cfg config.DispatchConfig,
) *Engine {
	return &Engine{
		campaigns:  campaigns,
		recipients: recipients,
		identities: identities,
		records:    records,
		resolver:   resolver,
		renderer:   renderer,
		links:      links,
		limiter:    limiter,
		senders:    senders,
		metrics:    aggregator,
		audit:      auditRec,
		cfg:        cfg,
		log:        logger.With("dispatch"),
		sleep:      time.Sleep,
	}
}

type dispatchStats struct {
	sent        int64
	failed      int64
	skipped     int64
	rateLimited int64
}

// Dispatch runs the campaign to completion. A campaign that is not in a
// dispatchable state is left alone, so concurrent dispatches of the same
// campaign are harmless.
func (e *Engine) Dispatch(ctx context.Context, campaignID string) error {
	c, err := e.campaigns.Get(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load campaign %s: %w", campaignID, err)
	}
	if c.Status == domain.CampaignScheduled && c.ScheduledAt != nil && c.ScheduledAt.After(time.Now()) {
		e.log.Info("campaign not due yet, skipping", "campaign_id", c.ID,
			"scheduled_at", c.ScheduledAt.Format(time.RFC3339))
		return nil
	}

	ok, err := e.campaigns.TransitionStatus(ctx, c.ID, domain.CampaignSending,
		domain.CampaignDraft, domain.CampaignScheduled, domain.CampaignPaused)
	if err != nil {
		return fmt.Errorf("transition campaign %s: %w", c.ID, err)
	}
	if !ok {
		e.log.Info("campaign not dispatchable, skipping", "campaign_id", c.ID,
			"status", string(c.Status))
		return nil
	}

	identity, err := e.identities.Get(ctx, c.IdentityID)
	if err != nil {
		e.fail(ctx, c.ID, "sending identity lookup failed")
		return fmt.Errorf("load identity %s: %w", c.IdentityID, err)
	}
	if !identity.Verified {
		e.fail(ctx, c.ID, "sending identity not verified")
		return fmt.Errorf("identity %s not verified", identity.ID)
	}
	canSend, err := e.identities.AccountCanSend(ctx, c.AccountID)
	if err != nil {
		e.fail(ctx, c.ID, "account eligibility check failed")
		return fmt.Errorf("account eligibility %s: %w", c.AccountID, err)
	}
	if !canSend {
		e.fail(ctx, c.ID, "account not eligible to send")
		return fmt.Errorf("account %s not eligible to send", c.AccountID)
	}

	sender, err := e.senders.For(identity)
	if err != nil {
		e.fail(ctx, c.ID, "no transport for identity")
		return fmt.Errorf("transport for identity %s: %w", identity.ID, err)
	}

	aud, err := e.resolver.Resolve(ctx, c)
	if err != nil {
		e.fail(ctx, c.ID, "audience resolution failed")
		return fmt.Errorf("resolve audience for %s: %w", c.ID, err)
	}
	if len(aud) == 0 {
		e.log.Info("empty audience, completing", "campaign_id", c.ID)
		_, err := e.campaigns.TransitionStatus(ctx, c.ID, domain.CampaignCompleted, domain.CampaignSending)
		return err
	}

	e.log.Info("dispatch started", "campaign_id", c.ID, "audience", len(aud),
		"provider", string(identity.Provider))

	stats := &dispatchStats{}
	stopped, err := e.run(ctx, c, identity, sender, aud, stats)
	if err != nil {
		return err
	}

	if e.metrics != nil {
		if _, err := e.metrics.Recompute(ctx, c.ID); err != nil {
			e.log.Warn("rate recompute failed", "campaign_id", c.ID, "error", err.Error())
		}
	}

	if stopped {
		e.log.Info("dispatch stopped early", "campaign_id", c.ID,
			"sent", stats.sent, "failed", stats.failed)
		return nil
	}

	if stats.rateLimited > 0 {
		// Deferred recipients remain; pause so a later run can retry them
		if _, err := e.campaigns.TransitionStatus(ctx, c.ID, domain.CampaignPaused, domain.CampaignSending); err != nil {
			return fmt.Errorf("pause campaign %s: %w", c.ID, err)
		}
		e.log.Info("rate limited recipients remain, pausing for retry", "campaign_id", c.ID,
			"sent", stats.sent, "deferred", stats.rateLimited)
		return nil
	}

	final := domain.CampaignCompleted
	if stats.sent == 0 && stats.failed > 0 {
		final = domain.CampaignFailed
	}
	if _, err := e.campaigns.TransitionStatus(ctx, c.ID, final, domain.CampaignSending); err != nil {
		return fmt.Errorf("finish campaign %s: %w", c.ID, err)
	}
	e.log.Info("dispatch finished", "campaign_id", c.ID, "status", string(final),
		"sent", stats.sent, "failed", stats.failed, "skipped", stats.skipped)
	return nil
}

// Pause requests a pause; the send loop notices between batches.
func (e *Engine) Pause(ctx context.Context, campaignID string) error {
	ok, err := e.campaigns.TransitionStatus(ctx, campaignID, domain.CampaignPaused, domain.CampaignSending)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("campaign %s is not sending", campaignID)
	}
	return nil
}

// Resume re-dispatches a paused campaign. Already-sent recipients are
// skipped by the per-pair send record.
func (e *Engine) Resume(ctx context.Context, campaignID string) error {
	return e.Dispatch(ctx, campaignID)
}

// Cancel terminally stops a campaign that has not completed.
func (e *Engine) Cancel(ctx context.Context, campaignID string) error {
	ok, err := e.campaigns.TransitionStatus(ctx, campaignID, domain.CampaignCancelled,
		domain.CampaignDraft, domain.CampaignScheduled, domain.CampaignSending, domain.CampaignPaused)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("campaign %s cannot be cancelled", campaignID)
	}
	return nil
}

// run sends to the audience, handling the A/B phases when enabled.
func (e *Engine) run(ctx context.Context, c *domain.Campaign, identity *domain.SendingIdentity,
	sender transport.Sender, aud []domain.Recipient, stats *dispatchStats) (stopped bool, err error) {

	ab := c.ABTest
	if !ab.Enabled || len(ab.Variants) == 0 || ab.WinnerIndex != nil {
		variantFor := func(recipientID string) int {
			if idx := assignVariant(c, recipientID); idx >= 0 {
				return idx
			}
			if ab.WinnerIndex != nil {
				return *ab.WinnerIndex
			}
			return -1
		}
		return e.sendAll(ctx, c, identity, sender, aud, variantFor, stats)
	}

	var testGroup, holdout []domain.Recipient
	for _, r := range aud {
		if assignVariant(c, r.ID) >= 0 {
			testGroup = append(testGroup, r)
		} else {
			holdout = append(holdout, r)
		}
	}

	stopped, err = e.sendAll(ctx, c, identity, sender, testGroup,
		func(recipientID string) int { return assignVariant(c, recipientID) }, stats)
	if stopped || err != nil {
		return stopped, err
	}
	if len(holdout) == 0 {
		return false, nil
	}

	if ab.TestDuration > 0 {
		e.log.Info("ab test window open", "campaign_id", c.ID,
			"duration", ab.TestDuration.String())
		e.sleep(ab.TestDuration)
	}

	variantStats, err := e.records.VariantStats(ctx, c.ID)
	if err != nil {
		return false, fmt.Errorf("variant stats for %s: %w", c.ID, err)
	}
	winner, significant := pickWinner(ab.WinnerCriteria, variantStats)
	if err := e.campaigns.SetWinner(ctx, c.ID, winner); err != nil {
		return false, fmt.Errorf("set winner for %s: %w", c.ID, err)
	}
	e.log.Info("ab winner selected", "campaign_id", c.ID, "variant", winner,
		"significant", significant)

	return e.sendAll(ctx, c, identity, sender, holdout,
		func(string) int { return winner }, stats)
}

// sendAll walks the group in batches with a worker pool, checking for an
// external pause or cancel between batches.
func (e *Engine) sendAll(ctx context.Context, c *domain.Campaign, identity *domain.SendingIdentity,
	sender transport.Sender, group []domain.Recipient, variantFor func(string) int,
	stats *dispatchStats) (stopped bool, err error) {

	batchSize := e.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	workers := e.cfg.WorkerCount
	if workers <= 0 {
		workers = 10
	}

	for start := 0; start < len(group); start += batchSize {
		if start > 0 {
			status, err := e.campaigns.GetStatus(ctx, c.ID)
			if err != nil {
				return false, fmt.Errorf("status check for %s: %w", c.ID, err)
			}
			if status != domain.CampaignSending {
				e.log.Info("send loop stopping", "campaign_id", c.ID, "status", string(status))
				return true, nil
			}
		}
		if ctx.Err() != nil {
			return true, nil
		}

		end := start + batchSize
		if end > len(group) {
			end = len(group)
		}
		batch := group[start:end]

		jobs := make(chan domain.Recipient)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for rec := range jobs {
					e.sendOne(ctx, c, identity, sender, &rec, variantFor(rec.ID), stats)
				}
			}()
		}
		for _, rec := range batch {
			jobs <- rec
		}
		close(jobs)
		wg.Wait()
	}
	return false, nil
}

// sendOne delivers to a single recipient: record creation, rendering,
// tracking injection, rate limiting, provider send with retries.
func (e *Engine) sendOne(ctx context.Context, c *domain.Campaign, identity *domain.SendingIdentity,
	sender transport.Sender, rec *domain.Recipient, variantIdx int, stats *dispatchStats) {

	sr := &domain.SendRecord{
		ID:           uuid.New().String(),
		CampaignID:   c.ID,
		RecipientID:  rec.ID,
		Email:        rec.Email,
		Status:       domain.SendQueued,
		VariantIndex: variantIdx,
		QueuedAt:     time.Now(),
	}
	created, err := e.records.Create(ctx, sr)
	if err != nil {
		e.log.Error("send record create failed", "campaign_id", c.ID,
			"recipient_id", rec.ID, "error", err.Error())
		atomic.AddInt64(&stats.failed, 1)
		return
	}
	if created {
		if err := e.campaigns.IncrementCounters(ctx, c.ID, store.CounterDeltas{TotalRecipients: 1}); err != nil {
			e.log.Warn("recipient counter failed", "campaign_id", c.ID, "error", err.Error())
		}
	} else {
		// The pair already has a record; only a rate-limited leftover from an
		// earlier run is eligible for another attempt
		id, requeued, err := e.records.RequeueRateLimited(ctx, c.ID, rec.ID)
		if err != nil {
			e.log.Error("requeue check failed", "campaign_id", c.ID,
				"recipient_id", rec.ID, "error", err.Error())
			atomic.AddInt64(&stats.failed, 1)
			return
		}
		if !requeued {
			atomic.AddInt64(&stats.skipped, 1)
			return
		}
		sr.ID = id
		if err := e.campaigns.IncrementCounters(ctx, c.ID, store.CounterDeltas{Failed: -1}); err != nil {
			e.log.Warn("failed counter rollback failed", "campaign_id", c.ID, "error", err.Error())
		}
	}

	subject, html, fromName := c.VariantContent(variantIdx)
	subject = e.renderer.Render(subject, rec)
	html = e.renderer.Render(html, rec)
	html = e.renderer.InjectTracking(html, sr.ID, c.TrackOpens, c.TrackClicks)
	html = e.renderer.InjectUnsubscribeFooter(html, rec, sr.ID)

	allowed, err := e.limiter.TryReserve(ctx, identity)
	if err != nil {
		e.markFailed(ctx, c, sr, rec, "rate limiter unavailable: "+err.Error(), stats)
		return
	}
	if !allowed {
		e.markFailed(ctx, c, sr, rec, domain.FailureRateLimited, stats)
		atomic.AddInt64(&stats.rateLimited, 1)
		return
	}

	unsubURL := e.links.UnsubscribeURL(rec.ID, sr.ID)
	msg := &transport.Message{
		From:         c.FromEmail,
		FromName:     fromName,
		To:           rec.Email,
		Subject:      subject,
		HTMLBody:     html,
		TextBody:     e.renderer.Render(c.TextContent, rec),
		ReplyTo:      c.ReplyTo,
		CampaignID:   c.ID,
		RecipientID:  rec.ID,
		SendRecordID: sr.ID,
		Headers: map[string]string{
			"List-Unsubscribe":      "<" + unsubURL + ">",
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		},
	}
	if msg.From == "" {
		msg.From = identity.FromEmail
	}
	if msg.FromName == "" {
		msg.FromName = identity.FromName
	}

	e.deliver(ctx, c, sr, rec, sender, msg, stats)
}

// deliver attempts the provider send, retrying transient failures with a
// linear backoff up to the configured budget.
func (e *Engine) deliver(ctx context.Context, c *domain.Campaign, sr *domain.SendRecord,
	rec *domain.Recipient, sender transport.Sender, msg *transport.Message, stats *dispatchStats) {

	attempts := e.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		sendCtx := ctx
		var cancel context.CancelFunc
		if timeout := e.cfg.SendTimeout(); timeout > 0 {
			sendCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		result, err := sender.Send(sendCtx, msg)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			e.markFailed(ctx, c, sr, rec, "transport unavailable: "+err.Error(), stats)
			return
		}

		if result.Success {
			if err := e.records.MarkSent(ctx, sr.ID, result.MessageID, result.LatencyMs); err != nil {
				e.log.Error("mark sent failed", "send_record_id", sr.ID, "error", err.Error())
			}
			if err := e.campaigns.IncrementCounters(ctx, c.ID, store.CounterDeltas{Sent: 1}); err != nil {
				e.log.Warn("sent counter failed", "campaign_id", c.ID, "error", err.Error())
			}
			if err := e.recipients.IncrementSends(ctx, rec.ID, 1); err != nil {
				e.log.Warn("recipient send counter failed", "recipient_id", rec.ID, "error", err.Error())
			}
			if e.audit != nil {
				e.audit.Record(ctx, audit.Entry{
					Action:       audit.ActionSend,
					CampaignID:   c.ID,
					RecipientID:  rec.ID,
					SendRecordID: sr.ID,
					Detail:       string(result.Provider),
				})
			}
			atomic.AddInt64(&stats.sent, 1)
			return
		}

		reason := "send failed"
		if result.Err != nil {
			reason = result.Err.Error()
		}
		if result.Class == transport.ClassTransient && attempt < attempts {
			e.log.Warn("transient send failure, retrying", "send_record_id", sr.ID,
				"attempt", attempt, "error", reason)
			e.sleep(e.cfg.RetryBackoff() * time.Duration(attempt))
			continue
		}
		e.markFailed(ctx, c, sr, rec, reason, stats)
		return
	}
}

func (e *Engine) markFailed(ctx context.Context, c *domain.Campaign, sr *domain.SendRecord,
	rec *domain.Recipient, reason string, stats *dispatchStats) {
	if err := e.records.MarkFailed(ctx, sr.ID, reason); err != nil {
		e.log.Error("mark failed failed", "send_record_id", sr.ID, "error", err.Error())
	}
	if err := e.campaigns.IncrementCounters(ctx, c.ID, store.CounterDeltas{Failed: 1}); err != nil {
		e.log.Warn("failed counter failed", "campaign_id", c.ID, "error", err.Error())
	}
	e.log.Warn("recipient send failed", "campaign_id", c.ID,
		"recipient", logger.RedactEmail(rec.Email), "reason", reason)
	atomic.AddInt64(&stats.failed, 1)
}

func (e *Engine) fail(ctx context.Context, campaignID, reason string) {
	e.log.Error("campaign failed", "campaign_id", campaignID, "reason", reason)
	if _, err := e.campaigns.TransitionStatus(ctx, campaignID, domain.CampaignFailed, domain.CampaignSending); err != nil {
		e.log.Error("fail transition failed", "campaign_id", campaignID, "error", err.Error())
	}
}
