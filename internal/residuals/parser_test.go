package residuals

import (
	"math"
	"testing"
)

func sumPercentages(roles []ParsedRole) float64 {
	total := 0.0
	for _, r := range roles {
		total += r.Percentage
	}
	return total
}

func findRole(roles []ParsedRole, roleType string) *ParsedRole {
	for i := range roles {
		if roles[i].RoleType == roleType {
			return &roles[i]
		}
	}
	return nil
}

func TestParseColumnIKeywordShapes(t *testing.T) {
	roles := ParseColumnI("Agent: Tom Brown 25%, Company: 15%, Manager: Sarah Lee 60%")
	if len(roles) != 3 {
		t.Fatalf("expected 3 roles, got %d: %+v", len(roles), roles)
	}
	if got := sumPercentages(roles); got != 100 {
		t.Errorf("percentages sum to %v, want exactly 100", got)
	}
	rep := findRole(roles, RoleRep)
	if rep == nil || rep.UserName != "Tom Brown" || rep.Percentage != 25 {
		t.Errorf("unexpected rep tuple: %+v", rep)
	}
	company := findRole(roles, RoleCompany)
	if company == nil || company.Percentage != 15 {
		t.Errorf("unexpected company tuple: %+v", company)
	}
	mgr := findRole(roles, RoleSalesManager)
	if mgr == nil || mgr.UserName != "Sarah Lee" || mgr.Percentage != 60 {
		t.Errorf("unexpected manager tuple: %+v", mgr)
	}
}

func TestParseColumnIWrappedShape(t *testing.T) {
	roles := ParseColumnI("Tom Brown (agent 70%), Jane Smith (partner 30%)")
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d: %+v", len(roles), roles)
	}
	if rep := findRole(roles, RoleRep); rep == nil || rep.UserName != "Tom Brown" || rep.Percentage != 70 {
		t.Errorf("unexpected rep tuple: %+v", rep)
	}
	if p := findRole(roles, RolePartner); p == nil || p.UserName != "Jane Smith" || p.Percentage != 30 {
		t.Errorf("unexpected partner tuple: %+v", p)
	}
}

func TestParseColumnIRescalesUnderHundred(t *testing.T) {
	roles := ParseColumnI("Agent: Tom 50%, Partner: Jane 30%")
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d: %+v", len(roles), roles)
	}
	if got := sumPercentages(roles); got != 100 {
		t.Errorf("rescaled percentages sum to %v, want exactly 100", got)
	}
	// 50/80 and 30/80 of 100.
	if rep := findRole(roles, RoleRep); rep == nil || rep.Percentage != 62.5 {
		t.Errorf("unexpected rep after rescale: %+v", rep)
	}
	if p := findRole(roles, RolePartner); p == nil || p.Percentage != 37.5 {
		t.Errorf("unexpected partner after rescale: %+v", p)
	}
}

func TestParseColumnILooseInference(t *testing.T) {
	roles := ParseColumnILoose("Tom Brown 50%, Acme Group LLC 50%")
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d: %+v", len(roles), roles)
	}
	if rep := findRole(roles, RoleRep); rep == nil || rep.UserName != "Tom Brown" {
		t.Errorf("expected default rep for bare name, got %+v", roles)
	}
	if co := findRole(roles, RoleCompany); co == nil || co.UserName != "Acme Group LLC" {
		t.Errorf("expected company inferred from name, got %+v", roles)
	}
}

func TestParseColumnILooseManagerContext(t *testing.T) {
	roles := ParseColumnILoose("mgr split: Sarah Lee 100%")
	if len(roles) != 1 {
		t.Fatalf("expected 1 role, got %d: %+v", len(roles), roles)
	}
	if roles[0].RoleType != RoleSalesManager {
		t.Errorf("expected sales_manager from mgr context, got %q", roles[0].RoleType)
	}
}

func TestParseColumnIEqualSplitFallback(t *testing.T) {
	roles := ParseColumnI("Tom Brown / Jane Smith")
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d: %+v", len(roles), roles)
	}
	if got := sumPercentages(roles); got != 100 {
		t.Errorf("fallback percentages sum to %v, want exactly 100", got)
	}
	for _, r := range roles {
		if math.Abs(r.Percentage-50) > SplitTolerance {
			t.Errorf("expected an even split, got %+v", roles)
		}
	}
}

func TestParseColumnIEmptyInput(t *testing.T) {
	if roles := ParseColumnI("   "); roles != nil {
		t.Errorf("expected nil for blank input, got %+v", roles)
	}
	if roles := ParseColumnI("no names here, just noise 12345"); len(roles) != 0 {
		t.Errorf("expected no roles, got %+v", roles)
	}
}

func TestParseColumnIDeduplicates(t *testing.T) {
	roles := ParseColumnI("Agent: Tom Brown 50%, Agent: Tom Brown 50%")
	if len(roles) != 1 {
		t.Fatalf("expected duplicate tuple collapsed, got %+v", roles)
	}
	if roles[0].Percentage != 100 {
		t.Errorf("expected lone tuple rescaled to 100, got %v", roles[0].Percentage)
	}
}
