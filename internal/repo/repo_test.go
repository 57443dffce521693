package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"dispatchline/internal/db"
	"dispatchline/internal/domain"
	"dispatchline/internal/migrate"
	"dispatchline/internal/repo"
)

type testEnv struct {
	Repo repo.Repo
	Ctx  context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return testEnv{Repo: repo.Repo{DB: conn}, Ctx: context.Background()}
}

const ts = "2026-03-10T12:00:00Z"

func seedRequest(t *testing.T, env testEnv, id string) domain.ServiceRequest {
	t.Helper()
	req := domain.ServiceRequest{
		ID:               id,
		ServiceID:        "svc-logo",
		ClientID:         "client-1",
		Title:            "logo refresh",
		Status:           domain.RequestStatusNew,
		AutoAssignStatus: domain.AutoAssignNotAttempted,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
	if err := env.Repo.InsertRequest(env.Ctx, req); err != nil {
		t.Fatalf("insert request: %v", err)
	}
	return req
}

func seedVendor(t *testing.T, env testEnv, id string) {
	t.Helper()
	if err := env.Repo.InsertVendor(env.Ctx, domain.Vendor{ID: id, Name: id, Active: true, CreatedAt: ts}); err != nil {
		t.Fatalf("insert vendor: %v", err)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	seedRequest(t, env, "req-1")
	got, err := env.Repo.GetRequest(env.Ctx, "req-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ServiceID != "svc-logo" || got.VendorID != nil || got.AssignmentLocked {
		t.Fatalf("unexpected request: %+v", got)
	}
	if _, err := env.Repo.GetRequest(env.Ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListActiveRulesOrdering(t *testing.T) {
	env := newTestEnv(t)
	rules := []domain.RoutingRule{
		{ID: "rule-b", Name: "b", Scope: domain.RuleScopeGlobal, Active: true, Target: domain.TargetVendor, Priority: 5, CreatedAt: ts, UpdatedAt: ts},
		{ID: "rule-a", Name: "a", Scope: domain.RuleScopeGlobal, Active: true, Target: domain.TargetVendor, Priority: 5, CreatedAt: ts, UpdatedAt: ts},
		{ID: "rule-c", Name: "c", Scope: domain.RuleScopeGlobal, Active: true, Target: domain.TargetVendor, Priority: 10, CreatedAt: ts, UpdatedAt: ts},
		{ID: "rule-d", Name: "inactive", Scope: domain.RuleScopeGlobal, Active: false, Target: domain.TargetVendor, Priority: 99, CreatedAt: ts, UpdatedAt: ts},
		{ID: "rule-e", Name: "other service", Scope: domain.RuleScopeGlobal, Active: true, Target: domain.TargetVendor, Priority: 99, ServiceIDs: []string{"svc-web"}, CreatedAt: ts, UpdatedAt: ts},
	}
	for _, r := range rules {
		if err := env.Repo.InsertRule(env.Ctx, r); err != nil {
			t.Fatalf("insert rule %s: %v", r.ID, err)
		}
	}
	got, err := env.Repo.ListActiveRules(env.Ctx, "svc-logo")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"rule-c", "rule-a", "rule-b"}
	if len(got) != len(want) {
		t.Fatalf("got %d rules, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestRuleCriteriaRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	rule := domain.RoutingRule{
		ID: "rule-1", Name: "client rule", Scope: domain.RuleScopeGlobal, Active: true,
		Target:   domain.TargetVendorDesigner,
		Strategy: domain.StrategyRoundRobin,
		Criteria: []domain.Criterion{{Kind: domain.CriterionClientEquals, Value: "client-1"}},
		AllowVendors: []string{"vendor-a", "vendor-b"},
		DenyVendors:  []string{"vendor-c"},
		ServiceIDs:   []string{"svc-logo"},
		Priority:     7,
		CreatedAt:    ts, UpdatedAt: ts,
	}
	if err := env.Repo.InsertRule(env.Ctx, rule); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := env.Repo.GetRule(env.Ctx, "rule-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Criteria) != 1 || got.Criteria[0].Kind != domain.CriterionClientEquals || got.Criteria[0].Value != "client-1" {
		t.Fatalf("criteria lost in round trip: %+v", got.Criteria)
	}
	if len(got.AllowVendors) != 2 || len(got.DenyVendors) != 1 || len(got.ServiceIDs) != 1 {
		t.Fatalf("vendor lists lost: %+v", got)
	}
}

func TestCountAssignmentsWindow(t *testing.T) {
	env := newTestEnv(t)
	seedVendor(t, env, "vendor-a")
	vendor := "vendor-a"
	insert := func(id, assignedAt string) {
		req := domain.ServiceRequest{
			ID: id, ServiceID: "svc-logo", ClientID: "client-1", Status: domain.RequestStatusNew,
			VendorID: &vendor, VendorAssignedAt: &assignedAt,
			AutoAssignStatus: domain.AutoAssignAssigned,
			CreatedAt:        ts, UpdatedAt: ts,
		}
		if err := env.Repo.InsertRequest(env.Ctx, req); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	insert("req-in-1", "2026-03-10T08:00:00Z")
	insert("req-in-2", "2026-03-10T23:59:59Z")
	insert("req-before", "2026-03-09T23:59:59Z")
	insert("req-after", "2026-03-11T00:00:00Z")

	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	n, err := env.Repo.CountVendorAssignments(env.Ctx, "vendor-a", "svc-logo", from, to)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2 (window is [from, to))", n)
	}
}

func TestApplyAssignmentWritesEverything(t *testing.T) {
	env := newTestEnv(t)
	seedVendor(t, env, "vendor-a")
	seedRequest(t, env, "req-1")
	vendor := "vendor-a"
	now := ts
	ruleID := "rule-1"
	upd := domain.AssignmentUpdate{
		AutoAssignStatus: domain.AutoAssignAssigned,
		Note:             "assigned to vendor vendor-a",
		RunAt:            now,
		VendorID:         &vendor,
		VendorAssignedAt: &now,
		Logs: []domain.AuditLogEntry{
			{RequestID: "req-1", ItemType: "service_request", RuleID: &ruleID, Step: domain.AuditStepRuleMatch, Outcome: domain.AuditOutcomeMatched, CreatedAt: ts},
			{RequestID: "req-1", ItemType: "service_request", RuleID: &ruleID, Step: domain.AuditStepVendorSelection, Outcome: domain.AuditOutcomeSelected, ChosenID: &vendor, CandidateIDs: []string{"vendor-a"}, CreatedAt: ts},
		},
	}
	got, err := env.Repo.ApplyAssignment(env.Ctx, "req-1", upd)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.VendorID == nil || *got.VendorID != "vendor-a" {
		t.Fatalf("vendor not set: %+v", got)
	}
	if got.AutoAssignStatus != domain.AutoAssignAssigned || got.LastAutoRunAt == nil {
		t.Fatalf("automation fields not set: %+v", got)
	}

	entries, err := env.Repo.ListAuditEntries(env.Ctx, "req-1")
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if entries[0].Outcome != domain.AuditOutcomeMatched || entries[1].Outcome != domain.AuditOutcomeSelected {
		t.Fatalf("audit order lost: %+v", entries)
	}
	if entries[1].ChosenID == nil || *entries[1].ChosenID != "vendor-a" || len(entries[1].CandidateIDs) != 1 {
		t.Fatalf("selection entry fields lost: %+v", entries[1])
	}
}

func TestApplyAssignmentRaceLosesCleanly(t *testing.T) {
	env := newTestEnv(t)
	seedVendor(t, env, "vendor-a")
	seedVendor(t, env, "vendor-b")
	seedRequest(t, env, "req-1")
	now := ts

	// Someone assigned the request between Route and Apply.
	other := "vendor-b"
	if _, err := env.Repo.ManualAssign(env.Ctx, "req-1", &other, nil, now); err != nil {
		t.Fatalf("manual assign: %v", err)
	}

	vendor := "vendor-a"
	upd := domain.AssignmentUpdate{
		AutoAssignStatus: domain.AutoAssignAssigned,
		RunAt:            now,
		VendorID:         &vendor,
		VendorAssignedAt: &now,
	}
	_, err := env.Repo.ApplyAssignment(env.Ctx, "req-1", upd)
	if !errors.Is(err, repo.ErrAlreadyAssigned) {
		t.Fatalf("expected ErrAlreadyAssigned, got %v", err)
	}
	// The losing run must not have overwritten the assignee.
	got, err := env.Repo.GetRequest(env.Ctx, "req-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.VendorID == nil || *got.VendorID != "vendor-b" {
		t.Fatalf("assignee overwritten: %+v", got)
	}
}

func TestApplyAssignmentRespectsLock(t *testing.T) {
	env := newTestEnv(t)
	seedVendor(t, env, "vendor-a")
	seedRequest(t, env, "req-1")
	if err := env.Repo.SetRequestLock(env.Ctx, "req-1", true, ts); err != nil {
		t.Fatalf("lock: %v", err)
	}
	vendor := "vendor-a"
	now := ts
	_, err := env.Repo.ApplyAssignment(env.Ctx, "req-1", domain.AssignmentUpdate{
		AutoAssignStatus: domain.AutoAssignAssigned,
		RunAt:            now,
		VendorID:         &vendor,
		VendorAssignedAt: &now,
	})
	if !errors.Is(err, repo.ErrAlreadyAssigned) {
		t.Fatalf("expected ErrAlreadyAssigned on locked request, got %v", err)
	}
}

func TestApplyAssignmentFailedRunRecordsStatus(t *testing.T) {
	env := newTestEnv(t)
	seedRequest(t, env, "req-1")
	upd := domain.AssignmentUpdate{
		AutoAssignStatus: domain.AutoAssignFailedNoVendor,
		Note:             "no rule produced a vendor with available capacity",
		RunAt:            ts,
		Logs: []domain.AuditLogEntry{
			{RequestID: "req-1", ItemType: "service_request", Step: domain.AuditStepRuleLookup, Outcome: domain.AuditOutcomeNoRules, CreatedAt: ts},
		},
	}
	got, err := env.Repo.ApplyAssignment(env.Ctx, "req-1", upd)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.AutoAssignStatus != domain.AutoAssignFailedNoVendor || got.VendorID != nil {
		t.Fatalf("unexpected request after failed run: %+v", got)
	}
}

func TestManualAssignDesignerSetsInProgress(t *testing.T) {
	env := newTestEnv(t)
	seedVendor(t, env, "vendor-a")
	if err := env.Repo.InsertDesigner(env.Ctx, domain.Designer{ID: "designer-1", VendorID: "vendor-a", Name: "dee", Active: true, CreatedAt: ts}); err != nil {
		t.Fatalf("insert designer: %v", err)
	}
	seedRequest(t, env, "req-1")
	vendor := "vendor-a"
	designer := "designer-1"
	got, err := env.Repo.ManualAssign(env.Ctx, "req-1", &vendor, &designer, ts)
	if err != nil {
		t.Fatalf("manual assign: %v", err)
	}
	if got.Status != domain.RequestStatusInProgress {
		t.Fatalf("status = %s, want in_progress", got.Status)
	}
	if got.DesignerID == nil || *got.DesignerID != "designer-1" || got.DesignerAssignedAt == nil {
		t.Fatalf("designer fields not set: %+v", got)
	}
}

func TestVendorCandidatesFilterInactive(t *testing.T) {
	env := newTestEnv(t)
	seedVendor(t, env, "vendor-a")
	seedVendor(t, env, "vendor-b")
	seedVendor(t, env, "vendor-c")
	if err := env.Repo.SetVendorActive(env.Ctx, "vendor-c", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	caps := []domain.VendorCapacity{
		{VendorID: "vendor-a", ServiceID: "svc-logo", DailyCapacity: 5, AutoAssign: true, CreatedAt: ts, UpdatedAt: ts},
		{VendorID: "vendor-b", ServiceID: "svc-logo", DailyCapacity: 5, AutoAssign: false, CreatedAt: ts, UpdatedAt: ts},
		{VendorID: "vendor-c", ServiceID: "svc-logo", DailyCapacity: 5, AutoAssign: true, CreatedAt: ts, UpdatedAt: ts},
	}
	for _, c := range caps {
		if err := env.Repo.UpsertVendorCapacity(env.Ctx, c); err != nil {
			t.Fatalf("upsert %s: %v", c.VendorID, err)
		}
	}
	got, err := env.Repo.ListVendorCandidates(env.Ctx, "svc-logo")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].VendorID != "vendor-a" {
		t.Fatalf("candidates = %+v, want only vendor-a", got)
	}
}

func TestDesignerCandidatesOrdering(t *testing.T) {
	env := newTestEnv(t)
	seedVendor(t, env, "vendor-a")
	designers := []domain.Designer{
		{ID: "designer-1", VendorID: "vendor-a", Name: "one", Active: true, CreatedAt: ts},
		{ID: "designer-2", VendorID: "vendor-a", Name: "two", Active: true, CreatedAt: ts},
		{ID: "designer-3", VendorID: "vendor-a", Name: "three", Active: true, CreatedAt: ts},
	}
	for _, d := range designers {
		if err := env.Repo.InsertDesigner(env.Ctx, d); err != nil {
			t.Fatalf("insert %s: %v", d.ID, err)
		}
	}
	caps := []domain.DesignerCapacity{
		{DesignerID: "designer-1", ServiceID: "svc-logo", DailyCapacity: 3, AutoAssign: true, Priority: 9, CreatedAt: ts, UpdatedAt: ts},
		{DesignerID: "designer-2", ServiceID: "svc-logo", DailyCapacity: 3, AutoAssign: true, IsPrimary: true, Priority: 1, CreatedAt: ts, UpdatedAt: ts},
		{DesignerID: "designer-3", ServiceID: "svc-logo", DailyCapacity: 3, AutoAssign: true, Priority: 5, CreatedAt: ts, UpdatedAt: ts},
	}
	for _, c := range caps {
		if err := env.Repo.UpsertDesignerCapacity(env.Ctx, c); err != nil {
			t.Fatalf("upsert %s: %v", c.DesignerID, err)
		}
	}
	got, err := env.Repo.ListDesignerCandidates(env.Ctx, "vendor-a", "svc-logo")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"designer-2", "designer-1", "designer-3"}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].DesignerID != id {
			t.Fatalf("position %d = %s, want %s", i, got[i].DesignerID, id)
		}
	}
}

func TestVendorHasActivePrice(t *testing.T) {
	env := newTestEnv(t)
	seedVendor(t, env, "vendor-a")
	ok, err := env.Repo.VendorHasActivePrice(env.Ctx, "vendor-a", "svc-logo")
	if err != nil || ok {
		t.Fatalf("expected no price, got ok=%v err=%v", ok, err)
	}
	if err := env.Repo.UpsertServicePrice(env.Ctx, domain.ServicePrice{VendorID: "vendor-a", ServiceID: "svc-logo", PriceCents: 0, Active: true, CreatedAt: ts, UpdatedAt: ts}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ok, _ = env.Repo.VendorHasActivePrice(env.Ctx, "vendor-a", "svc-logo")
	if ok {
		t.Fatalf("zero price must not count as an agreement")
	}
	if err := env.Repo.UpsertServicePrice(env.Ctx, domain.ServicePrice{VendorID: "vendor-a", ServiceID: "svc-logo", PriceCents: 4900, Active: true, CreatedAt: ts, UpdatedAt: ts}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	ok, _ = env.Repo.VendorHasActivePrice(env.Ctx, "vendor-a", "svc-logo")
	if !ok {
		t.Fatalf("expected active price to count")
	}
}

func TestAuditEntriesAfterCursor(t *testing.T) {
	env := newTestEnv(t)
	seedRequest(t, env, "req-1")
	upd := domain.AssignmentUpdate{
		AutoAssignStatus: domain.AutoAssignFailedNoVendor,
		RunAt:            ts,
		Logs: []domain.AuditLogEntry{
			{RequestID: "req-1", ItemType: "service_request", Step: domain.AuditStepRuleLookup, Outcome: domain.AuditOutcomeNoRules, CreatedAt: ts},
			{RequestID: "req-1", ItemType: "service_request", Step: domain.AuditStepRuleMatch, Outcome: domain.AuditOutcomeUnsupportedCriterion, CreatedAt: ts},
		},
	}
	if _, err := env.Repo.ApplyAssignment(env.Ctx, "req-1", upd); err != nil {
		t.Fatalf("apply: %v", err)
	}
	all, err := env.Repo.AuditEntriesAfter(env.Ctx, 10, 0, nil)
	if err != nil {
		t.Fatalf("after 0: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("entries after 0 = %d, want 2", len(all))
	}
	rest, err := env.Repo.AuditEntriesAfter(env.Ctx, 10, all[0].ID, nil)
	if err != nil {
		t.Fatalf("after cursor: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != all[1].ID {
		t.Fatalf("cursor paging broken: %+v", rest)
	}
	filtered, err := env.Repo.AuditEntriesAfter(env.Ctx, 10, 0, []string{domain.AuditOutcomeNoRules})
	if err != nil {
		t.Fatalf("filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Outcome != domain.AuditOutcomeNoRules {
		t.Fatalf("outcome filter broken: %+v", filtered)
	}
	latest, err := env.Repo.LatestAuditID(env.Ctx)
	if err != nil || latest != all[1].ID {
		t.Fatalf("latest = %d err=%v, want %d", latest, err, all[1].ID)
	}
}

func TestAPIKeyLookup(t *testing.T) {
	env := newTestEnv(t)
	hash := repo.HashAPIKey("secret-token")
	if err := env.Repo.InsertAPIKey(env.Ctx, domain.APIKey{ID: "key-1", ActorID: "ops", Name: "ci", KeyHash: hash, CreatedAt: ts}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := env.Repo.GetAPIKeyByHash(env.Ctx, hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ActorID != "ops" {
		t.Fatalf("actor = %s", got.ActorID)
	}
	if _, err := env.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey("wrong")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
