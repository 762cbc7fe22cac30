package egta

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SymmetryGroup is one role/strategy/count group of a profile. Payoff
// fields are populated only in result payloads.
type SymmetryGroup struct {
	ID       int64    `json:"id,omitempty"`
	Role     string   `json:"role"`
	Strategy string   `json:"strategy"`
	Count    int      `json:"count"`
	Payoff   *float64 `json:"payoff,omitempty"`
	PayoffSD *float64 `json:"payoff_sd,omitempty"`
}

// AssignmentString converts symmetry groups to the canonical EGTA
// assignment form, e.g. "role: 2 strat1, 1 strat2; other: 3 strat3".
// Groups with non-positive counts are omitted; roles and strategies are
// emitted in sorted order.
func AssignmentString(groups []SymmetryGroup) string {
	type stratCount struct {
		strategy string
		count    int
	}
	roles := map[string][]stratCount{}
	for _, g := range groups {
		roles[g.Role] = append(roles[g.Role], stratCount{g.Strategy, g.Count})
	}

	names := make([]string, 0, len(roles))
	for r := range roles {
		names = append(names, r)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, role := range names {
		strats := roles[role]
		sort.Slice(strats, func(i, j int) bool { return strats[i].strategy < strats[j].strategy })
		ss := make([]string, 0, len(strats))
		for _, s := range strats {
			if s.count > 0 {
				ss = append(ss, fmt.Sprintf("%d %s", s.count, s.strategy))
			}
		}
		if len(ss) > 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", role, strings.Join(ss, ", ")))
		}
	}
	return strings.Join(parts, "; ")
}

// ParseAssignment converts an assignment string back into symmetry
// groups (without ids or payoffs).
func ParseAssignment(assignment string) ([]SymmetryGroup, error) {
	var groups []SymmetryGroup
	for _, roleStrat := range strings.Split(assignment, "; ") {
		role, strats, ok := strings.Cut(roleStrat, ": ")
		if !ok {
			return nil, fmt.Errorf("egta: malformed assignment %q", assignment)
		}
		for _, stratStr := range strings.Split(strats, ", ") {
			countStr, strat, ok := strings.Cut(stratStr, " ")
			if !ok {
				return nil, fmt.Errorf("egta: malformed strategy count %q in %q", stratStr, assignment)
			}
			count, err := strconv.Atoi(countStr)
			if err != nil {
				return nil, fmt.Errorf("egta: malformed strategy count %q in %q", stratStr, assignment)
			}
			groups = append(groups, SymmetryGroup{
				Role:     role,
				Strategy: strat,
				Count:    count,
			})
		}
	}
	return groups, nil
}
