package audience

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/store/memory"
)

func setupStores(t *testing.T) (*memory.RecipientStore, *memory.ListStore) {
	t.Helper()
	return memory.NewRecipientStore(), memory.NewListStore()
}

func subscriber(id, account, email string, attrs map[string]any) *domain.Recipient {
	return &domain.Recipient{
		ID:         id,
		AccountID:  account,
		Email:      email,
		Status:     domain.RecipientSubscribed,
		Attributes: attrs,
	}
}

func TestResolveOnlySubscribed(t *testing.T) {
	recipients, lists := setupStores(t)
	recipients.Put(subscriber("r1", "acc", "a@example.com", nil))
	recipients.Put(subscriber("r2", "acc", "b@example.com", nil))
	recipients.Put(&domain.Recipient{
		ID: "r3", AccountID: "acc", Email: "c@example.com",
		Status: domain.RecipientUnsubscribed,
	})
	recipients.Put(&domain.Recipient{
		ID: "r4", AccountID: "acc", Email: "d@example.com",
		Status: domain.RecipientBlacklisted,
	})
	recipients.Put(subscriber("r5", "other", "e@example.com", nil))

	r := NewResolver(recipients, lists)
	out, err := r.Resolve(context.Background(), &domain.Campaign{ID: "c1", AccountID: "acc"})
	require.NoError(t, err)

	require.Len(t, out, 2)
	for _, rec := range out {
		assert.Equal(t, domain.RecipientSubscribed, rec.Status)
		assert.Equal(t, "acc", rec.AccountID)
	}
}

func TestResolveTargetAndExcludeLists(t *testing.T) {
	recipients, lists := setupStores(t)
	recipients.Put(subscriber("r1", "acc", "a@example.com", nil))
	recipients.Put(subscriber("r2", "acc", "b@example.com", nil))
	recipients.Put(subscriber("r3", "acc", "c@example.com", nil))
	lists.Put(&domain.List{ID: "l1", AccountID: "acc", Type: domain.ListManual}, "r1", "r2")
	lists.Put(&domain.List{ID: "l2", AccountID: "acc", Type: domain.ListManual}, "r2")

	r := NewResolver(recipients, lists)
	out, err := r.Resolve(context.Background(), &domain.Campaign{
		ID: "c1", AccountID: "acc",
		TargetListIDs:  []string{"l1"},
		ExcludeListIDs: []string{"l2"},
	})
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "r1", out[0].ID)
}

func TestResolveDynamicList(t *testing.T) {
	recipients, lists := setupStores(t)
	recipients.Put(subscriber("r1", "acc", "a@example.com", map[string]any{"country": "CM"}))
	recipients.Put(subscriber("r2", "acc", "b@example.com", map[string]any{"country": "NG"}))
	lists.Put(&domain.List{
		ID: "l1", AccountID: "acc", Type: domain.ListDynamic,
		SegmentRule: `{"combinator":"AND","conditions":[{"field":"country","operator":"equals","value":"CM"}]}`,
	})

	r := NewResolver(recipients, lists)
	out, err := r.Resolve(context.Background(), &domain.Campaign{
		ID: "c1", AccountID: "acc", TargetListIDs: []string{"l1"},
	})
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "r1", out[0].ID)
}

func TestResolveCampaignRuleFilter(t *testing.T) {
	recipients, lists := setupStores(t)
	recipients.Put(subscriber("r1", "acc", "a@example.com",
		map[string]any{"country": "CM", "score": float64(80)}))
	recipients.Put(subscriber("r2", "acc", "b@example.com",
		map[string]any{"country": "CM", "score": float64(10)}))

	r := NewResolver(recipients, lists)
	out, err := r.Resolve(context.Background(), &domain.Campaign{
		ID: "c1", AccountID: "acc",
		SegmentRule: `{"combinator":"AND","conditions":[
			{"field":"country","operator":"equals","value":"CM"},
			{"field":"score","operator":"greater_than","value":"50"}
		]}`,
	})
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "r1", out[0].ID)
}

func TestResolveInvalidRuleFailsClosed(t *testing.T) {
	recipients, lists := setupStores(t)
	recipients.Put(subscriber("r1", "acc", "a@example.com", nil))
	recipients.Put(subscriber("r2", "acc", "b@example.com", nil))
	lists.Put(&domain.List{
		ID: "bad", AccountID: "acc", Type: domain.ListDynamic,
		SegmentRule: `{"combinator":"XOR"}`,
	})
	lists.Put(&domain.List{ID: "good", AccountID: "acc", Type: domain.ListManual}, "r2")

	r := NewResolver(recipients, lists)

	// Bad dynamic list contributes nothing; the good list still resolves
	out, err := r.Resolve(context.Background(), &domain.Campaign{
		ID: "c1", AccountID: "acc", TargetListIDs: []string{"bad", "good"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "r2", out[0].ID)

	// Bad campaign-level rule selects the empty set, not an error
	out, err = r.Resolve(context.Background(), &domain.Campaign{
		ID: "c2", AccountID: "acc", SegmentRule: `{"not json`,
	})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestResolveDeduplicates(t *testing.T) {
	recipients, lists := setupStores(t)
	recipients.Put(subscriber("r1", "acc", "a@example.com", nil))
	lists.Put(&domain.List{ID: "l1", AccountID: "acc", Type: domain.ListManual}, "r1")
	lists.Put(&domain.List{ID: "l2", AccountID: "acc", Type: domain.ListManual}, "r1")

	r := NewResolver(recipients, lists)
	out, err := r.Resolve(context.Background(), &domain.Campaign{
		ID: "c1", AccountID: "acc", TargetListIDs: []string{"l1", "l2"},
	})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}
