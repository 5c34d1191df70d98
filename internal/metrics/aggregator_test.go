package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/store"
	"github.com/ignite/dispatch-engine/internal/store/memory"
)

func TestComputeRates(t *testing.T) {
	totals := store.SendTotals{
		Total:        100,
		Sent:         100,
		Delivered:    80,
		UniqueOpens:  40,
		UniqueClicks: 10,
		Bounced:      5,
		Unsubscribed: 2,
	}

	rates := Compute(totals)
	assert.InDelta(t, 80.0, rates.DeliveryRate, 0.001)
	assert.InDelta(t, 50.0, rates.OpenRate, 0.001)
	assert.InDelta(t, 12.5, rates.ClickRate, 0.001)
	assert.InDelta(t, 25.0, rates.ClickToOpenRate, 0.001)
	assert.InDelta(t, 2.5, rates.UnsubscribeRate, 0.001)
	assert.InDelta(t, 5.0, rates.BounceRate, 0.001)
}

func TestComputeZeroDenominators(t *testing.T) {
	rates := Compute(store.SendTotals{})
	assert.Zero(t, rates.DeliveryRate)
	assert.Zero(t, rates.OpenRate)
	assert.Zero(t, rates.ClickRate)
	assert.Zero(t, rates.ClickToOpenRate)
	assert.Zero(t, rates.UnsubscribeRate)
	assert.Zero(t, rates.BounceRate)
}

func TestComputeNoOpensNoClicks(t *testing.T) {
	// Delivered but never opened: CTOR denominator is zero
	rates := Compute(store.SendTotals{Sent: 10, Delivered: 10})
	assert.InDelta(t, 100.0, rates.DeliveryRate, 0.001)
	assert.Zero(t, rates.OpenRate)
	assert.Zero(t, rates.ClickToOpenRate)
}

func TestRecomputeWritesRates(t *testing.T) {
	campaigns := memory.NewCampaignStore()
	records := memory.NewSendRecordStore()
	campaigns.Put(&domain.Campaign{ID: "c1", Status: domain.CampaignSending})

	now := time.Now()
	for i, id := range []string{"sr1", "sr2", "sr3", "sr4"} {
		created, err := records.Create(context.Background(), &domain.SendRecord{
			ID:          id,
			CampaignID:  "c1",
			RecipientID: "r" + id,
		})
		require.NoError(t, err)
		require.True(t, created)
		require.NoError(t, records.MarkSent(context.Background(), id, "m"+id, 5))
		first, err := records.MarkDelivered(context.Background(), id, now)
		require.NoError(t, err)
		require.True(t, first)
		if i < 2 {
			_, err = records.RecordOpen(context.Background(), id, now)
			require.NoError(t, err)
		}
	}

	agg := NewAggregator(campaigns, records)
	rates, err := agg.Recompute(context.Background(), "c1")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, rates.DeliveryRate, 0.001)
	assert.InDelta(t, 50.0, rates.OpenRate, 0.001)

	c, err := campaigns.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, c.OpenRate, 0.001)

	// Idempotent against unchanged records
	again, err := agg.Recompute(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, rates, again)
}
