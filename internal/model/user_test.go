package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveActiveRole(t *testing.T) {
	t.Parallel()

	multi := &User{Roles: []Role{RoleFreelancer, RoleClient, RoleAdmin}, ActiveRole: RoleClient}

	tests := []struct {
		name      string
		user      *User
		preferred Role
		stored    Role
		want      Role
	}{
		{name: "nil user", user: nil, want: ""},
		{name: "no roles", user: &User{}, preferred: RoleAdmin, want: ""},
		{name: "preferred wins", user: multi, preferred: RoleFreelancer, stored: RoleAdmin, want: RoleFreelancer},
		{name: "invalid preferred falls to stored", user: &User{Roles: []Role{RoleClient, RoleFreelancer}}, preferred: RoleAdmin, stored: RoleFreelancer, want: RoleFreelancer},
		{name: "server active role", user: multi, stored: "", want: RoleClient},
		{name: "stale stored ignored", user: &User{Roles: []Role{RoleFreelancer}, ActiveRole: RoleFreelancer}, stored: RoleAdmin, want: RoleFreelancer},
		{name: "priority admin first", user: &User{Roles: []Role{RoleFreelancer, RoleAdmin}}, want: RoleAdmin},
		{name: "priority client over freelancer", user: &User{Roles: []Role{RoleFreelancer, RoleClient}}, want: RoleClient},
		{name: "unknown role falls back to first", user: &User{Roles: []Role{"SUPPORT"}}, want: "SUPPORT"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ResolveActiveRole(tc.user, tc.preferred, tc.stored))
		})
	}
}

func TestParseRole(t *testing.T) {
	role, ok := ParseRole(" client ")
	require.True(t, ok)
	require.Equal(t, RoleClient, role)

	_, ok = ParseRole("owner")
	require.False(t, ok)
}
