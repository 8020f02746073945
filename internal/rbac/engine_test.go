package rbac

import (
	"testing"

	"askdesk/internal/index"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{
		Roles: map[string]RoleDef{
			"admin":           {Permissions: []string{"*"}},
			"finance_analyst": {Permissions: []string{"read:finance"}, Inherits: []string{"employee"}},
			"finance_manager": {Permissions: []string{"read:hr"}, Inherits: []string{"finance_analyst"}},
			"marketing_lead":  {Permissions: []string{"read:marketing"}, Inherits: []string{"employee"}},
			"employee":        {Permissions: []string{"read:general"}},
			"intern":          {Permissions: []string{"read:general"}},
			"loop_a":          {Inherits: []string{"loop_b"}},
			"loop_b":          {Inherits: []string{"loop_a"}},
		},
		RoleAliases: map[string]string{
			"Finance Analyst": "finance_analyst",
			"fin-analyst":     "finance_analyst",
		},
		Departments: []string{"finance", "marketing", "hr", "engineering", "general"},
	}
	if err := cfg.init(); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	return cfg
}

func meta(dept string, allowed, deny []string) index.Metadata {
	return index.Metadata{
		ChunkID:      "X_CHUNK_0",
		Department:   dept,
		AllowedRoles: allowed,
		ExplicitDeny: deny,
	}
}

func TestResolveRoles_AliasesAndInheritance(t *testing.T) {
	e := NewEngine(testConfig(t), []string{"Finance Analyst"})

	resolved := e.ResolveRoles()
	for _, want := range []string{"finance_analyst", "employee"} {
		if _, ok := resolved[want]; !ok {
			t.Errorf("expected %s in resolved set %v", want, resolved)
		}
	}
}

func TestResolveRoles_TransitiveInheritance(t *testing.T) {
	e := NewEngine(testConfig(t), []string{"finance_manager"})

	resolved := e.ResolveRoles()
	for _, want := range []string{"finance_manager", "finance_analyst", "employee"} {
		if _, ok := resolved[want]; !ok {
			t.Errorf("expected %s in resolved set %v", want, resolved)
		}
	}
}

func TestResolveRoles_CycleSafe(t *testing.T) {
	e := NewEngine(testConfig(t), []string{"loop_a"})

	resolved := e.ResolveRoles()
	if len(resolved) != 2 {
		t.Errorf("cycle resolution produced %v", resolved)
	}
}

func TestEffectivePermissions_WildcardCollapse(t *testing.T) {
	e := NewEngine(testConfig(t), []string{"admin", "finance_analyst"})

	perms := e.EffectivePermissions()
	if len(perms) != 1 {
		t.Errorf("wildcard should collapse to {*}, got %v", perms)
	}
	if !e.HasPermission("read:anything") {
		t.Error("wildcard should imply every permission")
	}
}

func TestAccessibleDepartments(t *testing.T) {
	cases := []struct {
		roles []string
		want  []string
	}{
		{[]string{"finance_analyst"}, []string{"finance", "general"}},
		{[]string{"intern"}, []string{"general"}},
		{[]string{"admin"}, []string{"engineering", "finance", "general", "hr", "marketing"}},
		{[]string{"unknown_role"}, nil},
	}

	for _, tc := range cases {
		e := NewEngine(testConfig(t), tc.roles)
		got := e.AccessibleDepartments()
		if len(got) != len(tc.want) {
			t.Errorf("AccessibleDepartments(%v) = %v, want %v", tc.roles, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("AccessibleDepartments(%v) = %v, want %v", tc.roles, got, tc.want)
				break
			}
		}
	}
}

func TestIsAllowed_DefaultDeny(t *testing.T) {
	e := NewEngine(testConfig(t), []string{"unknown_role"})

	metas := []index.Metadata{
		{},
		meta("finance", nil, nil),
		meta("general", nil, nil),
		meta("", []string{"finance_analyst"}, nil),
	}
	for _, m := range metas {
		if e.IsAllowed(m) {
			t.Errorf("caller with no permissions allowed on %+v", m)
		}
	}
}

func TestIsAllowed_MissingMetadataDenies(t *testing.T) {
	e := NewEngine(testConfig(t), []string{"admin"})
	_ = e // admin override applies only after the missing-metadata check

	if NewEngine(testConfig(t), []string{"finance_analyst"}).IsAllowed(index.Metadata{}) {
		t.Error("empty metadata must deny")
	}
}

func TestIsAllowed_AdminOverride(t *testing.T) {
	e := NewEngine(testConfig(t), []string{"admin"})

	metas := []index.Metadata{
		meta("finance", nil, nil),
		meta("marketing", []string{"marketing_lead"}, nil),
		meta("hr", []string{"finance_analyst"}, []string{"admin"}),
	}
	for _, m := range metas {
		if !e.IsAllowed(m) {
			t.Errorf("admin denied on %+v", m)
		}
	}
}

func TestIsAllowed_ExplicitDenyPrecedence(t *testing.T) {
	e := NewEngine(testConfig(t), []string{"finance_analyst"})

	m := meta("finance", []string{"finance_analyst"}, []string{"finance_analyst"})
	if e.IsAllowed(m) {
		t.Error("explicit deny must take precedence over allowed_roles")
	}
}

func TestIsAllowed_AllowedRolesGrant(t *testing.T) {
	e := NewEngine(testConfig(t), []string{"marketing_lead"})

	// allowed_roles can grant beyond department permissions.
	m := meta("finance", []string{"marketing_lead"}, nil)
	if !e.IsAllowed(m) {
		t.Error("allowed_roles intersection should allow")
	}
}

func TestIsAllowed_DepartmentPermissionFallback(t *testing.T) {
	e := NewEngine(testConfig(t), []string{"finance_analyst"})

	// allowed_roles nonempty but disjoint: falls through to the
	// department rule, which grants read:finance.
	m := meta("finance", []string{"marketing_lead"}, nil)
	if !e.IsAllowed(m) {
		t.Error("department permission should allow after disjoint allowed_roles")
	}

	if e.IsAllowed(meta("marketing", nil, nil)) {
		t.Error("finance_analyst must not read marketing")
	}
}

func TestIsAllowed_InheritedRoleSatisfiesAllowedRoles(t *testing.T) {
	e := NewEngine(testConfig(t), []string{"finance_manager"})

	m := meta("finance", []string{"finance_analyst"}, nil)
	if !e.IsAllowed(m) {
		t.Error("inherited role should satisfy allowed_roles")
	}
}

func TestCanonicalize(t *testing.T) {
	cases := map[string]string{
		"Finance Analyst": "finance_analyst",
		"  ADMIN  ":       "admin",
		"hr_manager":      "hr_manager",
	}
	for in, want := range cases {
		if got := Canonicalize(in); got != want {
			t.Errorf("Canonicalize(%q) = %q, want %q", in, got, want)
		}
	}
}
