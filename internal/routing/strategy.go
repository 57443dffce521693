package routing

import (
	"sync"

	"dispatchline/internal/domain"
)

// rrState holds the round-robin counters, one per scope key (service id at
// the vendor tier, vendor id at the designer tier). The counter is
// positional over the current candidate list, not identity-based: the list
// is re-filtered every invocation, so an index may land on a different
// owner across calls. Fairness is approximate; capacity is still enforced
// by the per-candidate load check.
type rrState struct {
	mu   sync.Mutex
	last map[string]int
}

func newRRState() *rrState {
	return &rrState{last: make(map[string]int)}
}

// next advances the counter for the scope key over a list of n candidates
// and returns the selected position. The first call for a fresh key
// returns position 0.
func (s *rrState) next(key string, n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.last[key]
	if !ok {
		last = -1
	}
	idx := (last + 1) % n
	s.last[key] = idx
	return idx
}

// pickCandidate applies the named strategy to a non-empty candidate list
// and returns the index of the chosen candidate. An unknown or empty
// strategy name falls back to the first candidate in list order.
func (e *Engine) pickCandidate(strategy, scopeKey string, cands []Candidate) int {
	switch strategy {
	case domain.StrategyLeastLoaded:
		best := 0
		for i := 1; i < len(cands); i++ {
			if cands[i].CurrentLoad < cands[best].CurrentLoad {
				best = i
			}
		}
		return best
	case domain.StrategyRoundRobin:
		return e.rr.next(scopeKey, len(cands))
	case domain.StrategyPriorityFirst:
		best := 0
		for i := 1; i < len(cands); i++ {
			if cands[i].Priority > cands[best].Priority {
				best = i
			}
		}
		return best
	default:
		return 0
	}
}

// strategyFor resolves the effective strategy for a rule, falling back to
// the configured default.
func (e *Engine) strategyFor(rule domain.RoutingRule) string {
	if rule.Strategy != "" {
		return rule.Strategy
	}
	return e.Config.Strategy()
}
