package entitlements

import "strings"

type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
	PlanTeam Plan = "team"
)

// NormalizePlan maps a stored plan/product reference to a known plan.
func NormalizePlan(plan string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(plan))) {
	case PlanPro:
		return PlanPro
	case PlanTeam:
		return PlanTeam
	default:
		return PlanFree
	}
}

// Features describes what a plan unlocks in the studio.
type Features struct {
	MaxConnections  int  `json:"max_connections"`
	AIAssistant     bool `json:"ai_assistant"`
	SharedWorkbooks bool `json:"shared_workbooks"`
}

// FeaturesFor returns the feature gates for a plan. Inactive entitlements
// always get the free tier regardless of the stored plan.
func FeaturesFor(plan Plan, active bool) Features {
	if !active {
		plan = PlanFree
	}
	switch plan {
	case PlanTeam:
		return Features{MaxConnections: 0, AIAssistant: true, SharedWorkbooks: true} // 0 = unlimited
	case PlanPro:
		return Features{MaxConnections: 25, AIAssistant: true, SharedWorkbooks: false}
	default:
		return Features{MaxConnections: 3, AIAssistant: false, SharedWorkbooks: false}
	}
}
