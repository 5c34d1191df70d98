// Package memory provides in-memory store implementations used by tests and
// single-process deployments. All operations are guarded by one mutex per
// store so they are safe under the dispatch worker pool.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/store"
)

// CampaignStore is an in-memory store.CampaignStore.
type CampaignStore struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
}

// NewCampaignStore creates an empty campaign store.
func NewCampaignStore() *CampaignStore {
	return &CampaignStore{campaigns: make(map[string]*domain.Campaign)}
}

// Put inserts or replaces a campaign. Test setup helper.
func (s *CampaignStore) Put(c *domain.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.campaigns[c.ID] = &cp
}

func (s *CampaignStore) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *CampaignStore) TransitionStatus(ctx context.Context, id string, to domain.CampaignStatus, from ...domain.CampaignStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return false, store.ErrNotFound
	}
	allowed := false
	for _, f := range from {
		if c.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	c.Status = to
	now := time.Now()
	c.UpdatedAt = now
	if to == domain.CampaignSending && c.StartedAt == nil {
		c.StartedAt = &now
	}
	if c.IsTerminal() && c.CompletedAt == nil {
		c.CompletedAt = &now
	}
	return true, nil
}

func (s *CampaignStore) GetStatus(ctx context.Context, id string) (domain.CampaignStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return "", store.ErrNotFound
	}
	return c.Status, nil
}

func (s *CampaignStore) IncrementCounters(ctx context.Context, id string, d store.CounterDeltas) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return store.ErrNotFound
	}
	c.TotalRecipients += d.TotalRecipients
	c.SentCount += d.Sent
	c.DeliveredCount += d.Delivered
	c.OpenCount += d.Opens
	c.UniqueOpenCount += d.UniqueOpens
	c.ClickCount += d.Clicks
	c.UniqueClickCount += d.UniqueClicks
	c.BounceCount += d.Bounced
	c.SoftBounceCount += d.SoftBounced
	c.HardBounceCount += d.HardBounced
	c.ComplaintCount += d.Complained
	c.UnsubscribeCount += d.Unsubscribed
	c.FailedCount += d.Failed
	c.UpdatedAt = time.Now()
	return nil
}

func (s *CampaignStore) UpdateRates(ctx context.Context, id string, r store.Rates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return store.ErrNotFound
	}
	c.DeliveryRate = r.DeliveryRate
	c.OpenRate = r.OpenRate
	c.ClickRate = r.ClickRate
	c.ClickToOpenRate = r.ClickToOpenRate
	c.UnsubscribeRate = r.UnsubscribeRate
	c.BounceRate = r.BounceRate
	c.UpdatedAt = time.Now()
	return nil
}

func (s *CampaignStore) SetWinner(ctx context.Context, id string, variantIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return store.ErrNotFound
	}
	idx := variantIndex
	c.ABTest.WinnerIndex = &idx
	c.UpdatedAt = time.Now()
	return nil
}

func (s *CampaignStore) ListScheduledDue(ctx context.Context, now time.Time) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.Status == domain.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, *c)
		}
	}
	return out, nil
}

// RecipientStore is an in-memory store.RecipientStore.
type RecipientStore struct {
	mu         sync.Mutex
	recipients map[string]*domain.Recipient
}

// NewRecipientStore creates an empty recipient store.
func NewRecipientStore() *RecipientStore {
	return &RecipientStore{recipients: make(map[string]*domain.Recipient)}
}

// Put inserts or replaces a recipient. Test setup helper.
func (s *RecipientStore) Put(r *domain.Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.recipients[r.ID] = &cp
}

func (s *RecipientStore) Get(ctx context.Context, id string) (*domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *RecipientStore) FetchSubscribed(ctx context.Context, accountID string) ([]domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Recipient
	for _, r := range s.recipients {
		if r.AccountID == accountID && r.Status == domain.RecipientSubscribed {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *RecipientStore) UpdateStatus(ctx context.Context, id string, status domain.RecipientStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	if !ok {
		return store.ErrNotFound
	}
	r.Status = status
	now := time.Now()
	if status == domain.RecipientUnsubscribed {
		r.UnsubscribedAt = &now
	}
	r.UpdatedAt = now
	return nil
}

func (s *RecipientStore) IncrementSends(ctx context.Context, id string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	if !ok {
		return store.ErrNotFound
	}
	r.TotalSends += n
	r.UpdatedAt = time.Now()
	return nil
}

func (s *RecipientStore) IncrementEngagement(ctx context.Context, id string, opens, clicks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	r.TotalOpens += opens
	r.TotalClicks += clicks
	if opens > 0 {
		r.LastOpenAt = &now
	}
	if clicks > 0 {
		r.LastClickAt = &now
	}
	r.RecalcEngagement(now)
	r.UpdatedAt = now
	return nil
}

// ListStore is an in-memory store.ListStore.
type ListStore struct {
	mu      sync.Mutex
	lists   map[string]*domain.List
	members map[string][]string
}

// NewListStore creates an empty list store.
func NewListStore() *ListStore {
	return &ListStore{lists: make(map[string]*domain.List), members: make(map[string][]string)}
}

// Put inserts a list with its static member ids. Test setup helper.
func (s *ListStore) Put(l *domain.List, memberIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.lists[l.ID] = &cp
	s.members[l.ID] = append([]string(nil), memberIDs...)
}

func (s *ListStore) Get(ctx context.Context, id string) (*domain.List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *ListStore) MemberIDs(ctx context.Context, listID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lists[listID]; !ok {
		return nil, store.ErrNotFound
	}
	return append([]string(nil), s.members[listID]...), nil
}

// IdentityStore is an in-memory store.IdentityStore.
type IdentityStore struct {
	mu         sync.Mutex
	identities map[string]*domain.SendingIdentity
	blocked    map[string]bool
}

// NewIdentityStore creates an empty identity store.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{identities: make(map[string]*domain.SendingIdentity), blocked: make(map[string]bool)}
}

// Put inserts a sending identity. Test setup helper.
func (s *IdentityStore) Put(id *domain.SendingIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *id
	s.identities[id.ID] = &cp
}

// BlockAccount marks an account as ineligible to send. Test setup helper.
func (s *IdentityStore) BlockAccount(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[accountID] = true
}

func (s *IdentityStore) Get(ctx context.Context, id string) (*domain.SendingIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.identities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *i
	return &cp, nil
}

func (s *IdentityStore) AccountCanSend(ctx context.Context, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.blocked[accountID], nil
}

// SendRecordStore is an in-memory store.SendRecordStore.
type SendRecordStore struct {
	mu      sync.Mutex
	records map[string]*domain.SendRecord
	// byPair enforces the (campaign, recipient) unique constraint
	byPair map[string]string
}

// NewSendRecordStore creates an empty send record store.
func NewSendRecordStore() *SendRecordStore {
	return &SendRecordStore{records: make(map[string]*domain.SendRecord), byPair: make(map[string]string)}
}

func pairKey(campaignID, recipientID string) string {
	return campaignID + "/" + recipientID
}

func (s *SendRecordStore) Create(ctx context.Context, rec *domain.SendRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(rec.CampaignID, rec.RecipientID)
	if _, exists := s.byPair[key]; exists {
		return false, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = domain.SendQueued
	}
	if rec.QueuedAt.IsZero() {
		rec.QueuedAt = time.Now()
	}
	cp := *rec
	s.records[rec.ID] = &cp
	s.byPair[key] = rec.ID
	return true, nil
}

func (s *SendRecordStore) Get(ctx context.Context, id string) (*domain.SendRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *SendRecordStore) MarkSent(ctx context.Context, id, messageID string, latencyMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	r.Status = domain.SendSent
	r.MessageID = messageID
	r.LatencyMs = latencyMs
	r.SentAt = &now
	return nil
}

func (s *SendRecordStore) MarkFailed(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	r.Status = domain.SendFailed
	r.FailureReason = reason
	r.FailedAt = &now
	return nil
}

func (s *SendRecordStore) RecordOpen(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return false, store.ErrNotFound
	}
	r.OpenCount++
	first := r.OpenCount == 1
	if first {
		r.FirstOpenAt = &at
	}
	if r.Status.Rank() < domain.SendOpened.Rank() {
		r.Status = domain.SendOpened
	}
	return first, nil
}

func (s *SendRecordStore) RecordClick(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return false, store.ErrNotFound
	}
	r.ClickCount++
	first := r.ClickCount == 1
	if first {
		r.FirstClickAt = &at
	}
	if r.Status.Rank() < domain.SendClicked.Rank() {
		r.Status = domain.SendClicked
	}
	return first, nil
}

func (s *SendRecordStore) MarkBounced(ctx context.Context, id string, kind domain.BounceKind, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	r.Status = domain.SendBounced
	r.BounceKind = kind
	r.FailureReason = reason
	r.BouncedAt = &now
	return nil
}

func (s *SendRecordStore) MarkComplained(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	r.Status = domain.SendComplained
	r.FailureReason = reason
	r.ComplainedAt = &now
	return nil
}

func (s *SendRecordStore) MarkUnsubscribed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	r.Status = domain.SendUnsubscribed
	r.UnsubscribedAt = &now
	return nil
}

func (s *SendRecordStore) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if r.Status.Rank() < domain.SendDelivered.Rank() {
		r.Status = domain.SendDelivered
	}
	first := r.DeliveredAt == nil
	if first {
		r.DeliveredAt = &at
	}
	return first, nil
}

func (s *SendRecordStore) RequeueRateLimited(ctx context.Context, campaignID, recipientID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPair[pairKey(campaignID, recipientID)]
	if !ok {
		return "", false, nil
	}
	r := s.records[id]
	if r.Status != domain.SendFailed || r.FailureReason != domain.FailureRateLimited {
		return "", false, nil
	}
	r.Status = domain.SendQueued
	r.FailureReason = ""
	r.FailedAt = nil
	return id, true, nil
}

func (s *SendRecordStore) Totals(ctx context.Context, campaignID string) (store.SendTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var t store.SendTotals
	for _, r := range s.records {
		if r.CampaignID != campaignID {
			continue
		}
		t.Total++
		if r.Status != domain.SendQueued && r.Status != domain.SendFailed {
			t.Sent++
		}
		if r.Status.Rank() >= domain.SendDelivered.Rank() && r.Status != domain.SendFailed && r.Status != domain.SendBounced {
			t.Delivered++
		}
		if r.OpenCount > 0 {
			t.UniqueOpens++
		}
		if r.ClickCount > 0 {
			t.UniqueClicks++
		}
		switch r.Status {
		case domain.SendBounced:
			t.Bounced++
		case domain.SendComplained:
			t.Complained++
		case domain.SendUnsubscribed:
			t.Unsubscribed++
		case domain.SendFailed:
			t.Failed++
		}
	}
	return t, nil
}

func (s *SendRecordStore) VariantStats(ctx context.Context, campaignID string) ([]store.VariantStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byIdx := make(map[int]*store.VariantStat)
	for _, r := range s.records {
		if r.CampaignID != campaignID {
			continue
		}
		vs, ok := byIdx[r.VariantIndex]
		if !ok {
			vs = &store.VariantStat{VariantIndex: r.VariantIndex}
			byIdx[r.VariantIndex] = vs
		}
		if r.Status != domain.SendQueued && r.Status != domain.SendFailed {
			vs.Sent++
		}
		if r.Status.Rank() >= domain.SendDelivered.Rank() && r.Status != domain.SendFailed && r.Status != domain.SendBounced {
			vs.Delivered++
		}
		if r.OpenCount > 0 {
			vs.UniqueOpens++
		}
		if r.ClickCount > 0 {
			vs.UniqueClicks++
		}
	}
	out := make([]store.VariantStat, 0, len(byIdx))
	for _, vs := range byIdx {
		out = append(out, *vs)
	}
	return out, nil
}
