package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dispatchline/internal/domain"
)

// Candidate pairs a capacity record's owner with its computed load for the
// current business day. Candidates are transient, never persisted.
type Candidate struct {
	OwnerID           string `json:"owner_id"`
	DailyCapacity     int    `json:"daily_capacity"`
	CurrentLoad       int    `json:"current_load"`
	AvailableCapacity int    `json:"available_capacity"`
	IsPrimary         bool   `json:"is_primary,omitempty"`
	Priority          int    `json:"priority,omitempty"`
}

// dayWindow returns the [start, end) bounds of the calendar day containing
// now in the given location.
func dayWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

func snapshotJSON(cands []Candidate) *string {
	b, err := json.Marshal(cands)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

func candidateIDs(cands []Candidate) []string {
	ids := make([]string, 0, len(cands))
	for _, c := range cands {
		ids = append(ids, c.OwnerID)
	}
	return ids
}

func inList(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

// selectVendorTier discovers, filters and picks a vendor for the rule. A
// nil candidate with a nil error means "no selection for this tier": the
// caller moves on to the next rule.
func (e *Engine) selectVendorTier(ctx context.Context, req domain.ServiceRequest, rule domain.RoutingRule) (*Candidate, []domain.AuditLogEntry, error) {
	caps, err := e.Store.ListVendorCandidates(ctx, req.ServiceID)
	if err != nil {
		return nil, nil, fmt.Errorf("list vendor candidates: %w", err)
	}
	if len(caps) == 0 {
		return nil, []domain.AuditLogEntry{e.entry(req, &rule, domain.AuditStepVendorSelection, domain.AuditOutcomeNoCandidates,
			"no vendors with auto-assign capacity for service "+req.ServiceID, nil, nil, nil)}, nil
	}

	// Rule allow/deny lists, then the pricing eligibility gate. The
	// internal fulfillment vendor is routable without a price agreement.
	var eligible []domain.VendorCapacity
	for _, c := range caps {
		if len(rule.AllowVendors) > 0 && !inList(rule.AllowVendors, c.VendorID) {
			continue
		}
		if inList(rule.DenyVendors, c.VendorID) {
			continue
		}
		if c.VendorID != e.Config.Dispatch.InternalVendorID {
			priced, err := e.Store.VendorHasActivePrice(ctx, c.VendorID, req.ServiceID)
			if err != nil {
				return nil, nil, fmt.Errorf("check vendor price: %w", err)
			}
			if !priced {
				continue
			}
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return nil, []domain.AuditLogEntry{e.entry(req, &rule, domain.AuditStepVendorSelection, domain.AuditOutcomeNoCandidates,
			"no eligible vendors after rule filters and pricing check", nil, nil, nil)}, nil
	}

	from, to := dayWindow(e.now(), e.Config.Location())
	var considered, surviving []Candidate
	for _, c := range eligible {
		load, err := e.Store.CountVendorAssignments(ctx, c.VendorID, req.ServiceID, from, to)
		if err != nil {
			return nil, nil, fmt.Errorf("count vendor load: %w", err)
		}
		cand := Candidate{
			OwnerID:           c.VendorID,
			DailyCapacity:     c.DailyCapacity,
			CurrentLoad:       load,
			AvailableCapacity: c.DailyCapacity - load,
		}
		considered = append(considered, cand)
		if cand.AvailableCapacity > 0 {
			surviving = append(surviving, cand)
		}
	}
	if len(surviving) == 0 {
		return nil, []domain.AuditLogEntry{e.entry(req, &rule, domain.AuditStepVendorSelection, domain.AuditOutcomeNoCapacity,
			"all eligible vendors are at daily capacity", nil, candidateIDs(considered), snapshotJSON(considered))}, nil
	}

	idx := e.pickCandidate(e.strategyFor(rule), "vendor:"+req.ServiceID, surviving)
	chosen := surviving[idx]
	entry := e.entry(req, &rule, domain.AuditStepVendorSelection, domain.AuditOutcomeSelected,
		fmt.Sprintf("selected vendor %s via %s", chosen.OwnerID, e.strategyFor(rule)),
		&chosen.OwnerID, candidateIDs(surviving), snapshotJSON(surviving))
	return &chosen, []domain.AuditLogEntry{entry}, nil
}

// selectDesignerTier picks a designer inside the chosen vendor. Candidates
// arrive pre-sorted by (is_primary desc, priority desc); the strategy only
// distributes within that order, so a primary designer is never skipped in
// favor of a non-primary one under least_loaded or priority_first ties.
func (e *Engine) selectDesignerTier(ctx context.Context, req domain.ServiceRequest, rule domain.RoutingRule, vendorID string) (*Candidate, []domain.AuditLogEntry, error) {
	caps, err := e.Store.ListDesignerCandidates(ctx, vendorID, req.ServiceID)
	if err != nil {
		return nil, nil, fmt.Errorf("list designer candidates: %w", err)
	}
	if len(caps) == 0 {
		return nil, []domain.AuditLogEntry{e.entry(req, &rule, domain.AuditStepDesignerSelection, domain.AuditOutcomeNoCandidates,
			"no designers with auto-assign capacity in vendor "+vendorID, nil, nil, nil)}, nil
	}

	from, to := dayWindow(e.now(), e.Config.Location())
	var considered, surviving []Candidate
	for _, c := range caps {
		load, err := e.Store.CountDesignerAssignments(ctx, c.DesignerID, req.ServiceID, from, to)
		if err != nil {
			return nil, nil, fmt.Errorf("count designer load: %w", err)
		}
		cand := Candidate{
			OwnerID:           c.DesignerID,
			DailyCapacity:     c.DailyCapacity,
			CurrentLoad:       load,
			AvailableCapacity: c.DailyCapacity - load,
			IsPrimary:         c.IsPrimary,
			Priority:          c.Priority,
		}
		considered = append(considered, cand)
		if cand.AvailableCapacity > 0 {
			surviving = append(surviving, cand)
		}
	}
	if len(surviving) == 0 {
		return nil, []domain.AuditLogEntry{e.entry(req, &rule, domain.AuditStepDesignerSelection, domain.AuditOutcomeNoCapacity,
			"all designers in vendor "+vendorID+" are at daily capacity", nil, candidateIDs(considered), snapshotJSON(considered))}, nil
	}

	// Primary designers outrank everyone regardless of strategy: when any
	// primary designer survived the capacity filter, the strategy only
	// distributes among the primaries.
	pool := surviving
	if surviving[0].IsPrimary {
		cut := len(surviving)
		for i, c := range surviving {
			if !c.IsPrimary {
				cut = i
				break
			}
		}
		pool = surviving[:cut]
	}

	idx := e.pickCandidate(e.strategyFor(rule), "designer:"+vendorID, pool)
	chosen := pool[idx]
	entry := e.entry(req, &rule, domain.AuditStepDesignerSelection, domain.AuditOutcomeSelected,
		fmt.Sprintf("selected designer %s via %s", chosen.OwnerID, e.strategyFor(rule)),
		&chosen.OwnerID, candidateIDs(surviving), snapshotJSON(surviving))
	return &chosen, []domain.AuditLogEntry{entry}, nil
}
