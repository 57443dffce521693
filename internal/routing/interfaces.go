package routing

import (
	"context"
	"time"

	"dispatchline/internal/domain"
)

// Store defines the persistence operations the engine consumes. It is
// implemented by repo.Repo; the engine itself never opens a transaction or
// touches SQL.
type Store interface {
	// ListActiveRules returns active rules applicable to the service,
	// ordered by priority descending, rule id ascending.
	ListActiveRules(ctx context.Context, serviceID string) ([]domain.RoutingRule, error)

	// ListVendorCandidates returns auto-assign enabled capacity records of
	// active vendors for the service.
	ListVendorCandidates(ctx context.Context, serviceID string) ([]domain.VendorCapacity, error)

	// ListDesignerCandidates returns auto-assign enabled capacity records of
	// the vendor's active designers for the service, ordered by
	// (is_primary desc, priority desc).
	ListDesignerCandidates(ctx context.Context, vendorID, serviceID string) ([]domain.DesignerCapacity, error)

	// CountVendorAssignments counts requests whose vendor assignment
	// timestamp falls within [from, to).
	CountVendorAssignments(ctx context.Context, vendorID, serviceID string, from, to time.Time) (int, error)

	// CountDesignerAssignments is the designer-tier load counter.
	CountDesignerAssignments(ctx context.Context, designerID, serviceID string, from, to time.Time) (int, error)

	// VendorHasActivePrice reports whether the vendor holds a positive,
	// active price agreement for the service.
	VendorHasActivePrice(ctx context.Context, vendorID, serviceID string) (bool, error)

	// ApplyAssignment persists a routing run: audit batch plus request
	// updates, with the assignee write guarded against concurrent
	// assignment.
	ApplyAssignment(ctx context.Context, requestID string, upd domain.AssignmentUpdate) (domain.ServiceRequest, error)
}
