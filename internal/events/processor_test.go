package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/dispatch-engine/internal/audit"
	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/store/memory"
)

type fixture struct {
	campaigns  *memory.CampaignStore
	recipients *memory.RecipientStore
	records    *memory.SendRecordStore
	audit      *audit.MemoryRecorder
	proc       *Processor
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		campaigns:  memory.NewCampaignStore(),
		recipients: memory.NewRecipientStore(),
		records:    memory.NewSendRecordStore(),
		audit:      audit.NewMemoryRecorder(),
	}
	f.proc = NewProcessor(f.campaigns, f.recipients, f.records, f.audit)

	f.campaigns.Put(&domain.Campaign{ID: "c1", Status: domain.CampaignSending})
	f.recipients.Put(&domain.Recipient{
		ID: "r1", Email: "jane@example.com", Status: domain.RecipientSubscribed,
		TotalSends: 1,
	})
	created, err := f.records.Create(context.Background(), &domain.SendRecord{
		ID: "sr1", CampaignID: "c1", RecipientID: "r1", Email: "jane@example.com",
	})
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, f.records.MarkSent(context.Background(), "sr1", "m1", 5))
	return f
}

func openEvent(ua string) domain.TrackingEvent {
	return domain.TrackingEvent{
		Type:         domain.EventOpen,
		SendRecordID: "sr1",
		Context:      domain.EventContext{UserAgent: ua, OccurredAt: time.Now()},
	}
}

func TestDeliveredNotificationCountsOnce(t *testing.T) {
	f := setup(t)

	ev := domain.TrackingEvent{
		Type:         domain.EventDelivered,
		SendRecordID: "sr1",
		Context:      domain.EventContext{OccurredAt: time.Now()},
	}
	require.NoError(t, f.proc.Process(context.Background(), ev))
	require.NoError(t, f.proc.Process(context.Background(), ev))

	c, err := f.campaigns.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.DeliveredCount)

	rec, err := f.records.Get(context.Background(), "sr1")
	require.NoError(t, err)
	assert.Equal(t, domain.SendDelivered, rec.Status)
	require.NotNil(t, rec.DeliveredAt)
}

func TestLateDeliveredKeepsOpenedStatus(t *testing.T) {
	f := setup(t)

	require.NoError(t, f.proc.Process(context.Background(), openEvent("Mozilla/5.0")))
	require.NoError(t, f.proc.RecordDelivery(context.Background(), "sr1", time.Now()))

	rec, err := f.records.Get(context.Background(), "sr1")
	require.NoError(t, err)
	assert.Equal(t, domain.SendOpened, rec.Status)
	require.NotNil(t, rec.DeliveredAt)

	c, err := f.campaigns.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.DeliveredCount)
}

func TestRepeatedOpensCountOnceUniquely(t *testing.T) {
	f := setup(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.proc.Process(context.Background(), openEvent("Mozilla/5.0")))
	}

	c, err := f.campaigns.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, c.OpenCount)
	assert.Equal(t, 1, c.UniqueOpenCount)

	rec, err := f.records.Get(context.Background(), "sr1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.OpenCount)
	assert.Equal(t, domain.SendOpened, rec.Status)
	require.NotNil(t, rec.FirstOpenAt)
}

func TestBotOpensAreDropped(t *testing.T) {
	f := setup(t)

	uas := []string{
		"Googlebot/2.1 (+http://www.google.com/bot.html)",
		"facebookexternalhit/1.1",
		"Mozilla/5.0 (compatible; YandexBot/3.0)",
		"SomeLinkPreview prefetch agent",
	}
	for _, ua := range uas {
		require.NoError(t, f.proc.Process(context.Background(), openEvent(ua)))
	}

	c, err := f.campaigns.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Zero(t, c.OpenCount)
	assert.Zero(t, c.UniqueOpenCount)
	assert.Empty(t, f.audit.Entries())
}

func TestUnknownRecordIsDroppedWithoutError(t *testing.T) {
	f := setup(t)

	ev := openEvent("Mozilla/5.0")
	ev.SendRecordID = "missing"
	require.NoError(t, f.proc.Process(context.Background(), ev))

	c, err := f.campaigns.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Zero(t, c.OpenCount)
}

func TestClickAdvancesUnopenedRecord(t *testing.T) {
	f := setup(t)

	ev := domain.TrackingEvent{
		Type:         domain.EventClick,
		SendRecordID: "sr1",
		URL:          "https://shop.example.com/item",
		Context:      domain.EventContext{UserAgent: "Mozilla/5.0"},
	}
	require.NoError(t, f.proc.Process(context.Background(), ev))
	require.NoError(t, f.proc.Process(context.Background(), ev))

	c, err := f.campaigns.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, c.ClickCount)
	assert.Equal(t, 1, c.UniqueClickCount)

	rec, err := f.records.Get(context.Background(), "sr1")
	require.NoError(t, err)
	assert.Equal(t, domain.SendClicked, rec.Status)

	entries := f.audit.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionClick, entries[0].Action)
	assert.Equal(t, "https://shop.example.com/item", entries[0].Detail)
}

func TestOpenUpdatesRecipientEngagement(t *testing.T) {
	f := setup(t)

	require.NoError(t, f.proc.Process(context.Background(), openEvent("Mozilla/5.0")))

	r, err := f.recipients.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, r.TotalOpens)
	require.NotNil(t, r.LastOpenAt)
	assert.Greater(t, r.EngagementScore, 0.0)
}

func TestHardBounceSuppressesRecipient(t *testing.T) {
	f := setup(t)

	ev := domain.TrackingEvent{
		Type:         domain.EventBounce,
		SendRecordID: "sr1",
		BounceKind:   domain.BounceHard,
		Reason:       "550 no such user",
	}
	require.NoError(t, f.proc.Process(context.Background(), ev))

	c, err := f.campaigns.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.BounceCount)
	assert.Equal(t, 1, c.HardBounceCount)
	assert.Zero(t, c.SoftBounceCount)

	r, err := f.recipients.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RecipientBounced, r.Status)
}

func TestSoftBounceLeavesRecipientSubscribed(t *testing.T) {
	f := setup(t)

	ev := domain.TrackingEvent{
		Type:         domain.EventBounce,
		SendRecordID: "sr1",
		BounceKind:   domain.BounceSoft,
		Reason:       "452 mailbox full",
	}
	require.NoError(t, f.proc.Process(context.Background(), ev))

	r, err := f.recipients.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RecipientSubscribed, r.Status)

	c, err := f.campaigns.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.SoftBounceCount)
}

func TestComplaintSuppressesRecipient(t *testing.T) {
	f := setup(t)

	ev := domain.TrackingEvent{
		Type:         domain.EventComplaint,
		SendRecordID: "sr1",
		Reason:       "abuse report",
	}
	require.NoError(t, f.proc.Process(context.Background(), ev))

	r, err := f.recipients.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RecipientComplained, r.Status)

	c, err := f.campaigns.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.ComplaintCount)
}

func TestUnsubscribeIsIdempotentOnCounters(t *testing.T) {
	f := setup(t)

	ev := domain.TrackingEvent{
		Type:         domain.EventUnsubscribe,
		SendRecordID: "sr1",
		RecipientID:  "r1",
	}
	require.NoError(t, f.proc.Process(context.Background(), ev))
	require.NoError(t, f.proc.Process(context.Background(), ev))

	c, err := f.campaigns.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UnsubscribeCount)

	r, err := f.recipients.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RecipientUnsubscribed, r.Status)
	require.NotNil(t, r.UnsubscribedAt)
}

func TestDetectDevice(t *testing.T) {
	tests := []struct {
		ua   string
		want domain.DeviceType
	}{
		{"", domain.DeviceUnknown},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148", domain.DeviceMobile},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8)", domain.DeviceMobile},
		{"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)", domain.DeviceTablet},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64)", domain.DeviceDesktop},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectDevice(tt.ua), tt.ua)
	}
}
