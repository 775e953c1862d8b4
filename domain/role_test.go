package domain

import (
	"reflect"
	"sort"
	"testing"
)

func sorted(s []Status) []string {
	out := make([]string, 0, len(s))
	for _, v := range s {
		out = append(out, string(v))
	}
	sort.Strings(out)
	return out
}

func TestAllowedTransitionsTable(t *testing.T) {
	cases := []struct {
		role    Role
		current Status
		want    []Status
	}{
		{RoleAdmin, StatusPending, []Status{StatusInProgress, StatusCompleted}},
		{RoleAdmin, StatusInProgress, []Status{StatusPending, StatusCompleted}},
		{RoleAdmin, StatusCompleted, []Status{StatusPending, StatusInProgress}},
		{RoleManager, StatusPending, []Status{StatusInProgress, StatusCompleted}},
		{RoleManager, StatusInProgress, []Status{StatusPending, StatusCompleted}},
		{RoleManager, StatusCompleted, []Status{StatusPending, StatusInProgress}},
		{RoleMember, StatusPending, []Status{StatusInProgress}},
		{RoleMember, StatusInProgress, []Status{StatusCompleted}},
		{RoleMember, StatusCompleted, nil},
	}
	for _, tc := range cases {
		got := AllowedTransitions(tc.role, tc.current)
		if !reflect.DeepEqual(sorted(got), sorted(tc.want)) {
			t.Fatalf("AllowedTransitions(%s, %s) = %v, want %v", tc.role, tc.current, got, tc.want)
		}
	}
}

func TestAllowedTransitionsUnknownInputs(t *testing.T) {
	if got := AllowedTransitions(Role("viewer"), StatusPending); len(got) != 0 {
		t.Fatalf("unknown role should permit nothing, got %v", got)
	}
	if got := AllowedTransitions(RoleAdmin, Status("archived")); len(got) != 0 {
		t.Fatalf("unknown status should permit nothing, got %v", got)
	}
}

func TestNoSelfTransitionInPolicy(t *testing.T) {
	for _, role := range []Role{RoleAdmin, RoleManager, RoleMember} {
		for _, st := range []Status{StatusPending, StatusInProgress, StatusCompleted} {
			for _, next := range AllowedTransitions(role, st) {
				if next == st {
					t.Fatalf("policy for %s allows self-transition on %s", role, st)
				}
			}
		}
	}
}

func TestParseRole(t *testing.T) {
	if _, err := ParseRole("manager"); err != nil {
		t.Fatalf("parse manager: %v", err)
	}
	if _, err := ParseRole("root"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestCanEditFields(t *testing.T) {
	if !RoleAdmin.CanEditFields() || !RoleManager.CanEditFields() {
		t.Fatal("admin and manager must be able to edit fields")
	}
	if RoleMember.CanEditFields() {
		t.Fatal("member must not edit fields")
	}
}
