package server

import (
	"dispatchline/internal/domain"
	"dispatchline/internal/routing"
)

// Request payloads

type CreateServiceRequestRequest struct {
	ID        *string `json:"id,omitempty"`
	ServiceID string  `json:"service_id"`
	ClientID  string  `json:"client_id"`
	Title     string  `json:"title"`
	// AutoAssign runs the routing pipeline immediately after creation.
	// Defaults to true.
	AutoAssign *bool `json:"auto_assign,omitempty"`
}

type ManualAssignRequest struct {
	VendorID   *string `json:"vendor_id,omitempty"`
	DesignerID *string `json:"designer_id,omitempty"`
}

type SetLockRequest struct {
	Locked bool `json:"locked"`
}

type CriterionRequest struct {
	Kind  string `json:"kind" enum:"client_equals"`
	Value string `json:"value"`
}

type CreateRuleRequest struct {
	ID            *string            `json:"id,omitempty"`
	Name          string             `json:"name"`
	Scope         *string            `json:"scope,omitempty" enum:"global,vendor"`
	OwnerVendorID *string            `json:"owner_vendor_id,omitempty"`
	ServiceIDs    []string           `json:"service_ids,omitempty"`
	Criteria      []CriterionRequest `json:"criteria,omitempty"`
	Target        string             `json:"target" enum:"vendor,vendor_designer"`
	Strategy      *string            `json:"strategy,omitempty" enum:"least_loaded,round_robin,priority_first"`
	AllowVendors  []string           `json:"allow_vendors,omitempty"`
	DenyVendors   []string           `json:"deny_vendors,omitempty"`
	Priority      int                `json:"priority"`
}

type UpdateRuleRequest struct {
	Name         *string            `json:"name,omitempty"`
	ServiceIDs   []string           `json:"service_ids,omitempty"`
	Criteria     []CriterionRequest `json:"criteria,omitempty"`
	Target       *string            `json:"target,omitempty" enum:"vendor,vendor_designer"`
	Strategy     *string            `json:"strategy,omitempty" enum:"least_loaded,round_robin,priority_first"`
	AllowVendors []string           `json:"allow_vendors,omitempty"`
	DenyVendors  []string           `json:"deny_vendors,omitempty"`
	Priority     *int               `json:"priority,omitempty"`
}

type SetActiveRequest struct {
	Active bool `json:"active"`
}

type CreateVendorRequest struct {
	ID   *string `json:"id,omitempty"`
	Name string  `json:"name"`
}

type CreateDesignerRequest struct {
	ID   *string `json:"id,omitempty"`
	Name string  `json:"name"`
}

type UpsertVendorCapacityRequest struct {
	DailyCapacity int  `json:"daily_capacity" minimum:"0"`
	AutoAssign    bool `json:"auto_assign"`
}

type UpsertDesignerCapacityRequest struct {
	DailyCapacity int  `json:"daily_capacity" minimum:"0"`
	AutoAssign    bool `json:"auto_assign"`
	IsPrimary     bool `json:"is_primary"`
	Priority      int  `json:"priority"`
}

type UpsertServicePriceRequest struct {
	PriceCents int64 `json:"price_cents" minimum:"0"`
	Active     bool  `json:"active"`
}

// Response payloads

// RouteRunResponse is returned by the routing endpoints: the request after
// the run plus the run outcome itself.
type RouteRunResponse struct {
	Request domain.ServiceRequest `json:"request"`
	Result  routing.Result        `json:"result"`
}

type paginatedRequests struct {
	Items []domain.ServiceRequest `json:"items"`
}

type paginatedAuditEntries struct {
	Items      []domain.AuditLogEntry `json:"items"`
	NextCursor int64                  `json:"next_cursor,omitempty"`
}

// Conversion helpers

func criteriaFromRequest(in []CriterionRequest) []domain.Criterion {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.Criterion, 0, len(in))
	for _, c := range in {
		out = append(out, domain.Criterion{Kind: c.Kind, Value: c.Value})
	}
	return out
}

func stringOrDefault(in *string, def string) string {
	if in == nil || *in == "" {
		return def
	}
	return *in
}
