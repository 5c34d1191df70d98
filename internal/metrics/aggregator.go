// Package metrics derives campaign performance rates from send record
// totals and writes them back onto the campaign row.
package metrics

import (
	"context"
	"fmt"

	"github.com/ignite/dispatch-engine/internal/pkg/logger"
	"github.com/ignite/dispatch-engine/internal/store"
)

// Aggregator recomputes campaign rates from scratch on demand. Recompute is
// idempotent: running it twice against unchanged records yields identical
// rates.
type Aggregator struct {
	campaigns store.CampaignStore
	records   store.SendRecordStore
	log       *logger.Logger
}

// NewAggregator creates a metrics aggregator.
func NewAggregator(campaigns store.CampaignStore, records store.SendRecordStore) *Aggregator {
	return &Aggregator{
		campaigns: campaigns,
		records:   records,
		log:       logger.With("metrics"),
	}
}

// Recompute reads the campaign's send totals and writes the derived rates.
func (a *Aggregator) Recompute(ctx context.Context, campaignID string) (store.Rates, error) {
	totals, err := a.records.Totals(ctx, campaignID)
	if err != nil {
		return store.Rates{}, fmt.Errorf("load totals for campaign %s: %w", campaignID, err)
	}

	rates := Compute(totals)
	if err := a.campaigns.UpdateRates(ctx, campaignID, rates); err != nil {
		return store.Rates{}, fmt.Errorf("update rates for campaign %s: %w", campaignID, err)
	}

	a.log.Debug("rates recomputed", "campaign_id", campaignID,
		"open_rate", rates.OpenRate, "click_rate", rates.ClickRate)
	return rates, nil
}

// Compute derives the six campaign rates from send totals. Every rate is a
// percentage; a zero denominator yields zero rather than NaN.
func Compute(t store.SendTotals) store.Rates {
	return store.Rates{
		DeliveryRate:    pct(t.Delivered, t.Sent),
		OpenRate:        pct(t.UniqueOpens, t.Delivered),
		ClickRate:       pct(t.UniqueClicks, t.Delivered),
		ClickToOpenRate: pct(t.UniqueClicks, t.UniqueOpens),
		UnsubscribeRate: pct(t.Unsubscribed, t.Delivered),
		BounceRate:      pct(t.Bounced, t.Sent),
	}
}

func pct(num, denom int) float64 {
	if denom == 0 {
		return 0
	}
	return float64(num) / float64(denom) * 100
}
