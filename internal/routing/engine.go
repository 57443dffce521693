// Package routing implements the automatic assignment pipeline: rule
// evaluation, two-tier candidate selection (vendor, then optionally a
// designer inside the chosen vendor), strategy resolution and the audit
// trail of every decision step.
package routing

import (
	"context"
	"fmt"
	"time"

	"dispatchline/internal/config"
	"dispatchline/internal/domain"
)

type Engine struct {
	Store  Store
	Config *config.Config
	Now    func() time.Time

	rr *rrState
}

func New(store Store, cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Engine{
		Store:  store,
		Config: cfg,
		Now:    time.Now,
		rr:     newRRState(),
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Result is the outcome of one routing run. It is transient: the caller
// persists it through Apply.
type Result struct {
	Success    bool                  `json:"success"`
	Status     string                `json:"status" enum:"not_attempted,assigned,partial_assigned,failed_no_vendor"`
	VendorID   *string               `json:"vendor_id,omitempty"`
	DesignerID *string               `json:"designer_id,omitempty"`
	Note       string                `json:"note,omitempty"`
	Logs       []domain.AuditLogEntry `json:"logs,omitempty"`
}

// Route runs the full pipeline for one request. It is pure computation
// over store reads, except for the round-robin counters; nothing is
// persisted until Apply. Store failures abort the run and propagate;
// "nobody eligible" is a normal outcome, not an error.
func (e *Engine) Route(ctx context.Context, req domain.ServiceRequest) (Result, error) {
	res := Result{Status: domain.AutoAssignNotAttempted}
	if req.AssignmentLocked {
		res.Note = "assignment locked"
		return res, nil
	}
	if req.Assigned() {
		res.Note = "already assigned"
		return res, nil
	}

	rules, err := e.Store.ListActiveRules(ctx, req.ServiceID)
	if err != nil {
		return res, fmt.Errorf("list active rules: %w", err)
	}
	if len(rules) == 0 {
		res.Note = "no active routing rules for service " + req.ServiceID
		res.Logs = append(res.Logs, e.entry(req, nil, domain.AuditStepRuleLookup, domain.AuditOutcomeNoRules, res.Note, nil, nil, nil))
		return res, nil
	}

	// First applicable rule with a usable outcome wins: the first rule
	// that yields at least a vendor terminates the loop.
	for i := range rules {
		rule := rules[i]
		match, reason := evaluateCriteria(req, rule)
		if match == matchUnsupported {
			res.Logs = append(res.Logs, e.entry(req, &rule, domain.AuditStepRuleMatch, domain.AuditOutcomeUnsupportedCriterion, reason, nil, nil, nil))
			continue
		}
		if match == matchNo {
			continue
		}
		res.Logs = append(res.Logs, e.entry(req, &rule, domain.AuditStepRuleMatch, domain.AuditOutcomeMatched, "rule "+rule.Name+" matched", nil, nil, nil))

		vendor, logs, err := e.selectVendorTier(ctx, req, rule)
		res.Logs = append(res.Logs, logs...)
		if err != nil {
			return res, err
		}
		if vendor == nil {
			continue
		}

		res.VendorID = &vendor.OwnerID
		if rule.Target == domain.TargetVendorDesigner {
			designer, dlogs, err := e.selectDesignerTier(ctx, req, rule, vendor.OwnerID)
			res.Logs = append(res.Logs, dlogs...)
			if err != nil {
				return res, err
			}
			if designer == nil {
				res.Status = domain.AutoAssignPartial
				res.Success = true
				res.Note = fmt.Sprintf("assigned to vendor %s; no designer available", vendor.OwnerID)
				return res, nil
			}
			res.Status = domain.AutoAssignAssigned
			res.Success = true
			res.DesignerID = &designer.OwnerID
			res.Note = fmt.Sprintf("assigned to vendor %s, designer %s", vendor.OwnerID, designer.OwnerID)
			return res, nil
		}

		res.Status = domain.AutoAssignAssigned
		res.Success = true
		res.Note = fmt.Sprintf("assigned to vendor %s", vendor.OwnerID)
		return res, nil
	}

	res.Status = domain.AutoAssignFailedNoVendor
	res.Note = "no rule produced a vendor with available capacity"
	return res, nil
}

// Apply persists one routing run: the audit batch in order, then the
// request's automation fields and, when present, the assignees. It is the
// only side-effecting entry point of this package.
func (e *Engine) Apply(ctx context.Context, requestID string, res Result) (domain.ServiceRequest, error) {
	now := e.now().UTC().Format(time.RFC3339)
	upd := domain.AssignmentUpdate{
		AutoAssignStatus: res.Status,
		Note:             res.Note,
		RunAt:            now,
		Logs:             res.Logs,
	}
	if res.VendorID != nil && res.Success {
		upd.VendorID = res.VendorID
		upd.VendorAssignedAt = &now
		if res.DesignerID != nil {
			upd.DesignerID = res.DesignerID
			upd.DesignerAt = &now
		}
	}
	return e.Store.ApplyAssignment(ctx, requestID, upd)
}

// RouteAndApply is the request-creation path helper: one Route immediately
// persisted.
func (e *Engine) RouteAndApply(ctx context.Context, req domain.ServiceRequest) (domain.ServiceRequest, Result, error) {
	res, err := e.Route(ctx, req)
	if err != nil {
		return req, res, err
	}
	updated, err := e.Apply(ctx, req.ID, res)
	if err != nil {
		return req, res, err
	}
	return updated, res, nil
}

func (e *Engine) entry(req domain.ServiceRequest, rule *domain.RoutingRule, step, outcome, reason string, chosen *string, candidates []string, snapshot *string) domain.AuditLogEntry {
	entry := domain.AuditLogEntry{
		RequestID:    req.ID,
		ItemType:     "service_request",
		Step:         step,
		Outcome:      outcome,
		Reason:       reason,
		ChosenID:     chosen,
		CandidateIDs: candidates,
		SnapshotJSON: snapshot,
		CreatedAt:    e.now().UTC().Format(time.RFC3339),
	}
	if rule != nil {
		id := rule.ID
		entry.RuleID = &id
	}
	return entry
}
