package entitlements

import "testing"

func TestNormalizePlan(t *testing.T) {
	tests := []struct {
		input string
		want  Plan
	}{
		{"pro", PlanPro},
		{"team", PlanTeam},
		{"PRO", PlanPro},
		{" team ", PlanTeam},
		{"free", PlanFree},
		{"", PlanFree},
		{"enterprise", PlanFree},
	}

	for _, tt := range tests {
		if got := NormalizePlan(tt.input); got != tt.want {
			t.Errorf("NormalizePlan(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFeaturesFor(t *testing.T) {
	free := FeaturesFor(PlanFree, true)
	if free.AIAssistant || free.SharedWorkbooks || free.MaxConnections != 3 {
		t.Errorf("unexpected free features: %+v", free)
	}

	pro := FeaturesFor(PlanPro, true)
	if !pro.AIAssistant || pro.SharedWorkbooks || pro.MaxConnections != 25 {
		t.Errorf("unexpected pro features: %+v", pro)
	}

	team := FeaturesFor(PlanTeam, true)
	if !team.AIAssistant || !team.SharedWorkbooks || team.MaxConnections != 0 {
		t.Errorf("unexpected team features: %+v", team)
	}

	// Inactive entitlements collapse to the free tier no matter the plan.
	if got := FeaturesFor(PlanTeam, false); got != FeaturesFor(PlanFree, true) {
		t.Errorf("inactive team plan should yield free features, got %+v", got)
	}
}
