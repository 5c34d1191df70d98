package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/store/memory"
)

type stubDispatcher struct {
	dispatched []string
	err        error
}

func (d *stubDispatcher) Dispatch(ctx context.Context, campaignID string) error {
	d.dispatched = append(d.dispatched, campaignID)
	return d.err
}

func TestRunOnceDispatchesDueCampaigns(t *testing.T) {
	campaigns := memory.NewCampaignStore()
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	campaigns.Put(&domain.Campaign{ID: "due", Status: domain.CampaignScheduled, ScheduledAt: &past})
	campaigns.Put(&domain.Campaign{ID: "later", Status: domain.CampaignScheduled, ScheduledAt: &future})
	campaigns.Put(&domain.Campaign{ID: "draft", Status: domain.CampaignDraft, ScheduledAt: &past})

	d := &stubDispatcher{}
	s := New(campaigns, d, time.Second)
	s.now = func() time.Time { return now }

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, []string{"due"}, d.dispatched)
}

func TestRunOnceContinuesPastDispatchErrors(t *testing.T) {
	campaigns := memory.NewCampaignStore()
	past := time.Now().Add(-time.Minute)
	campaigns.Put(&domain.Campaign{ID: "c1", Status: domain.CampaignScheduled, ScheduledAt: &past})
	campaigns.Put(&domain.Campaign{ID: "c2", Status: domain.CampaignScheduled, ScheduledAt: &past})

	d := &stubDispatcher{err: errors.New("boom")}
	s := New(campaigns, d, time.Second)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Len(t, d.dispatched, 2)
}
