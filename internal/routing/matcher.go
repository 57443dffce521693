package routing

import (
	"fmt"

	"dispatchline/internal/domain"
)

// matchResult is the outcome of evaluating a rule's criteria against a
// request.
type matchResult int

const (
	matchYes matchResult = iota
	matchNo
	matchUnsupported
)

// evaluateCriteria checks every declared criterion against the request. A
// rule with no criteria always matches. Criterion kinds are a closed set:
// an unknown kind fails the match with matchUnsupported so misconfigured
// rules surface in the audit trail instead of silently matching everything.
func evaluateCriteria(req domain.ServiceRequest, rule domain.RoutingRule) (matchResult, string) {
	for _, c := range rule.Criteria {
		switch c.Kind {
		case domain.CriterionClientEquals:
			if req.ClientID != c.Value {
				return matchNo, fmt.Sprintf("client %s does not equal %s", req.ClientID, c.Value)
			}
		default:
			return matchUnsupported, fmt.Sprintf("unsupported criterion kind %q", c.Kind)
		}
	}
	return matchYes, ""
}
