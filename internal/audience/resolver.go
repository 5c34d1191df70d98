// Package audience resolves a campaign's targeting into a concrete,
// deduplicated recipient snapshot.
package audience

import (
	"context"
	"fmt"
	"sort"

	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/pkg/logger"
	"github.com/ignite/dispatch-engine/internal/segment"
	"github.com/ignite/dispatch-engine/internal/store"
)

// Resolver computes campaign audiences from lists and segment rules. The
// result is a snapshot: it is computed once per dispatch run and never
// refreshed mid-run.
type Resolver struct {
	recipients store.RecipientStore
	lists      store.ListStore
	log        *logger.Logger
}

// NewResolver creates an audience resolver.
func NewResolver(recipients store.RecipientStore, lists store.ListStore) *Resolver {
	return &Resolver{
		recipients: recipients,
		lists:      lists,
		log:        logger.With("audience"),
	}
}

// Resolve returns the deduplicated set of sendable recipients for the
// campaign. Only subscribed recipients are ever considered. An invalid
// segment rule on a list or on the campaign fails closed: that rule
// contributes the empty set, the problem is logged, and resolution
// continues.
func (r *Resolver) Resolve(ctx context.Context, c *domain.Campaign) ([]domain.Recipient, error) {
	base, err := r.recipients.FetchSubscribed(ctx, c.AccountID)
	if err != nil {
		return nil, fmt.Errorf("fetch subscribed: %w", err)
	}

	byID := make(map[string]domain.Recipient, len(base))
	for _, rec := range base {
		byID[rec.ID] = rec
	}

	selected := byID
	if len(c.TargetListIDs) > 0 {
		selected = make(map[string]domain.Recipient)
		for _, listID := range c.TargetListIDs {
			for id := range r.resolveList(ctx, c.ID, listID, byID) {
				selected[id] = byID[id]
			}
		}
	}

	for _, listID := range c.ExcludeListIDs {
		for id := range r.resolveList(ctx, c.ID, listID, byID) {
			delete(selected, id)
		}
	}

	if c.SegmentRule != "" {
		rule, err := segment.ParseRule(c.SegmentRule)
		if err != nil {
			// Fail closed: a bad campaign rule selects nobody
			r.log.Warn("invalid campaign segment rule, selecting empty set",
				"campaign_id", c.ID, "error", err.Error())
			return nil, nil
		}
		filtered := make(map[string]domain.Recipient)
		for id, rec := range selected {
			if rule.Evaluate(&rec) {
				filtered[id] = rec
			}
		}
		selected = filtered
	}

	out := make([]domain.Recipient, 0, len(selected))
	for _, rec := range selected {
		out = append(out, rec)
	}
	// Deterministic order so batching is stable across runs
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// resolveList returns the member id set of one list restricted to the
// subscribed base set. Dynamic lists evaluate their stored rule against the
// base set; manual lists use explicit membership.
func (r *Resolver) resolveList(ctx context.Context, campaignID, listID string, base map[string]domain.Recipient) map[string]struct{} {
	out := make(map[string]struct{})

	list, err := r.lists.Get(ctx, listID)
	if err != nil {
		r.log.Warn("list lookup failed, skipping",
			"campaign_id", campaignID, "list_id", listID, "error", err.Error())
		return out
	}

	if list.Type == domain.ListDynamic {
		rule, err := segment.ParseRule(list.SegmentRule)
		if err != nil {
			r.log.Warn("invalid list segment rule, skipping list",
				"campaign_id", campaignID, "list_id", listID, "error", err.Error())
			return out
		}
		for id, rec := range base {
			if rule.Evaluate(&rec) {
				out[id] = struct{}{}
			}
		}
		return out
	}

	members, err := r.lists.MemberIDs(ctx, listID)
	if err != nil {
		r.log.Warn("list membership lookup failed, skipping",
			"campaign_id", campaignID, "list_id", listID, "error", err.Error())
		return out
	}
	for _, id := range members {
		if _, ok := base[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}
