package routing

import (
	"context"
	"sort"
	"time"

	"dispatchline/internal/domain"
)

// mockStore is an in-memory Store for engine tests.
type mockStore struct {
	rules         []domain.RoutingRule
	vendorCaps    map[string][]domain.VendorCapacity   // keyed by service id
	designerCaps  map[string][]domain.DesignerCapacity // keyed by vendor id + "|" + service id
	vendorLoads   map[string]int                       // keyed by vendor id + "|" + service id
	designerLoads map[string]int
	priced        map[string]bool
	applied       []appliedCall
	err           error
}

type appliedCall struct {
	RequestID string
	Update    domain.AssignmentUpdate
}

func newMockStore() *mockStore {
	return &mockStore{
		vendorCaps:    map[string][]domain.VendorCapacity{},
		designerCaps:  map[string][]domain.DesignerCapacity{},
		vendorLoads:   map[string]int{},
		designerLoads: map[string]int{},
		priced:        map[string]bool{},
	}
}

func key(a, b string) string { return a + "|" + b }

func (m *mockStore) ListActiveRules(_ context.Context, serviceID string) ([]domain.RoutingRule, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.RoutingRule
	for _, r := range m.rules {
		if r.Active && r.AppliesToService(serviceID) {
			out = append(out, r)
		}
	}
	// Same ordering contract as the repo: priority desc, id asc.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *mockStore) ListVendorCandidates(_ context.Context, serviceID string) ([]domain.VendorCapacity, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.vendorCaps[serviceID], nil
}

func (m *mockStore) ListDesignerCandidates(_ context.Context, vendorID, serviceID string) ([]domain.DesignerCapacity, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.designerCaps[key(vendorID, serviceID)], nil
}

func (m *mockStore) CountVendorAssignments(_ context.Context, vendorID, serviceID string, _, _ time.Time) (int, error) {
	return m.vendorLoads[key(vendorID, serviceID)], nil
}

func (m *mockStore) CountDesignerAssignments(_ context.Context, designerID, serviceID string, _, _ time.Time) (int, error) {
	return m.designerLoads[key(designerID, serviceID)], nil
}

func (m *mockStore) VendorHasActivePrice(_ context.Context, vendorID, serviceID string) (bool, error) {
	return m.priced[key(vendorID, serviceID)], nil
}

func (m *mockStore) ApplyAssignment(_ context.Context, requestID string, upd domain.AssignmentUpdate) (domain.ServiceRequest, error) {
	m.applied = append(m.applied, appliedCall{RequestID: requestID, Update: upd})
	req := domain.ServiceRequest{ID: requestID, AutoAssignStatus: upd.AutoAssignStatus}
	if upd.VendorID != nil {
		req.VendorID = upd.VendorID
		req.VendorAssignedAt = upd.VendorAssignedAt
	}
	if upd.DesignerID != nil {
		req.DesignerID = upd.DesignerID
		req.DesignerAssignedAt = upd.DesignerAt
		req.Status = domain.RequestStatusInProgress
	}
	return req, nil
}
