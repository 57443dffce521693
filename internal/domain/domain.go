package domain

// Service request statuses.
const (
	RequestStatusNew        = "new"
	RequestStatusInProgress = "in_progress"
	RequestStatusCompleted  = "completed"
	RequestStatusCanceled   = "canceled"
)

// Auto-assignment outcomes for a single routing run.
const (
	AutoAssignNotAttempted   = "not_attempted"
	AutoAssignAssigned       = "assigned"
	AutoAssignPartial        = "partial_assigned"
	AutoAssignFailedNoVendor = "failed_no_vendor"
)

// Routing targets.
const (
	TargetVendor         = "vendor"
	TargetVendorDesigner = "vendor_designer"
)

// Routing strategies.
const (
	StrategyLeastLoaded   = "least_loaded"
	StrategyRoundRobin    = "round_robin"
	StrategyPriorityFirst = "priority_first"
)

// Rule scopes.
const (
	RuleScopeGlobal = "global"
	RuleScopeVendor = "vendor"
)

type ServiceRequest struct {
	ID                 string  `json:"id"`
	ServiceID          string  `json:"service_id"`
	ClientID           string  `json:"client_id"`
	Title              string  `json:"title"`
	Status             string  `json:"status" enum:"new,in_progress,completed,canceled"`
	VendorID           *string `json:"vendor_id,omitempty"`
	DesignerID         *string `json:"designer_id,omitempty"`
	AssignmentLocked   bool    `json:"assignment_locked"`
	VendorAssignedAt   *string `json:"vendor_assigned_at,omitempty" format:"date-time"`
	DesignerAssignedAt *string `json:"designer_assigned_at,omitempty" format:"date-time"`
	AutoAssignStatus   string  `json:"auto_assign_status" enum:"not_attempted,assigned,partial_assigned,failed_no_vendor"`
	LastAutoRunAt      *string `json:"last_auto_run_at,omitempty" format:"date-time"`
	LastAutoNote       string  `json:"last_auto_note,omitempty"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

// Assigned reports whether either assignment tier has been decided.
func (r ServiceRequest) Assigned() bool {
	return r.VendorID != nil || r.DesignerID != nil
}

// Criterion is one match predicate evaluated against a service request.
// Kinds are closed; a rule carrying an unknown kind never matches.
type Criterion struct {
	Kind  string `json:"kind" enum:"client_equals"`
	Value string `json:"value"`
}

const CriterionClientEquals = "client_equals"

type RoutingRule struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Scope         string      `json:"scope" enum:"global,vendor"`
	OwnerVendorID *string     `json:"owner_vendor_id,omitempty"`
	Active        bool        `json:"active"`
	ServiceIDs    []string    `json:"service_ids,omitempty"`
	Criteria      []Criterion `json:"criteria,omitempty"`
	Target        string      `json:"target" enum:"vendor,vendor_designer"`
	Strategy      string      `json:"strategy,omitempty" enum:"least_loaded,round_robin,priority_first"`
	AllowVendors  []string    `json:"allow_vendors,omitempty"`
	DenyVendors   []string    `json:"deny_vendors,omitempty"`
	Priority      int         `json:"priority"`
	CreatedAt     string      `json:"created_at" format:"date-time"`
	UpdatedAt     string      `json:"updated_at" format:"date-time"`
}

// AppliesToService reports whether the rule's service allowlist admits the
// service. An empty allowlist admits every service.
func (r RoutingRule) AppliesToService(serviceID string) bool {
	if len(r.ServiceIDs) == 0 {
		return true
	}
	for _, id := range r.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}

type Vendor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Designer struct {
	ID        string `json:"id"`
	VendorID  string `json:"vendor_id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// VendorCapacity is the configured daily throughput for a vendor/service
// pair. Composite-unique on (vendor_id, service_id).
type VendorCapacity struct {
	VendorID      string `json:"vendor_id"`
	ServiceID     string `json:"service_id"`
	DailyCapacity int    `json:"daily_capacity"`
	AutoAssign    bool   `json:"auto_assign"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

/// DesignerCapacity additionally carries the designer-tier ordering hints:
// primary designers sort before everyone else, then by priority.
type DesignerCapacity struct {
	DesignerID    string `json:"designer_id"`
	ServiceID     string `json:"service_id"`
	DailyCapacity int    `json:"daily_capacity"`
	AutoAssign    bool   `json:"auto_assign"`
	IsPrimary     bool   `json:"is_primary"`
	Priority      int    `json:"priority"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

type ServicePrice struct {
	VendorID   string `json:"vendor_id"`
	ServiceID  string `json:"service_id"`
	PriceCents int64  `json:"price_cents"`
	Active     bool   `json:"active"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

// Audit pipeline steps.
const (
	AuditStepRuleLookup        = "rule_lookup"
	AuditStepRuleMatch         = "rule_match"
	AuditStepVendorSelection   = "vendor_selection"
	AuditStepDesignerSelection = "designer_selection"
)

// Audit outcomes.
const (
	AuditOutcomeNoRules              = "no_rules"
	AuditOutcomeMatched              = "rule_matched"
	AuditOutcomeSkipped              = "rule_skipped"
	AuditOutcomeUnsupportedCriterion = "unsupported_criterion"
	AuditOutcomeNoCandidates         = "no_candidates"
	AuditOutcomeNoCapacity           = "no_capacity"
	AuditOutcomeSelected             = "selected"
)

// AuditLogEntry records one routing pipeline decision. Entries are
// append-only and never mutated after insert.
type AuditLogEntry struct {
	ID           int64    `json:"id,omitempty"`
	RequestID    string   `json:"request_id"`
	ItemType     string   `json:"item_type"`
	RuleID       *string  `json:"rule_id,omitempty"`
	Step         string   `json:"step"`
	Outcome      string   `json:"outcome"`
	Reason       string   `json:"reason,omitempty"`
	ChosenID     *string  `json:"chosen_id,omitempty"`
	CandidateIDs []string `json:"candidate_ids,omitempty"`
	SnapshotJSON *string  `json:"snapshot_json,omitempty"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
}

// AssignmentUpdate carries the writes of one routing run: the audit batch
// plus the request field updates. The repo applies it in a single
// transaction, guarding the assignee columns with a conditional update.
type AssignmentUpdate struct {
	AutoAssignStatus string
	Note             string
	RunAt            string
	VendorID         *string
	VendorAssignedAt *string
	DesignerID       *string
	DesignerAt       *string
	Logs             []AuditLogEntry
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
