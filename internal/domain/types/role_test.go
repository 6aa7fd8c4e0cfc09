package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoleRankOrder(t *testing.T) {
	require.Greater(t, RoleSuperAdmin.Rank(), RolePastorChefe.Rank())
	require.Equal(t, RolePastorChefe.Rank(), RoleAdmin.Rank())
	require.Greater(t, RoleAdmin.Rank(), RolePastorLider.Rank())
	require.Greater(t, RolePastorLider.Rank(), RoleLider.Rank())
	require.Greater(t, RoleLider.Rank(), RoleFinanceiro.Rank())
	require.Greater(t, RoleFinanceiro.Rank(), RoleVoluntario.Rank())
	require.Greater(t, RoleVoluntario.Rank(), RoleMembro.Rank())
	require.Equal(t, RoleMembro.Rank(), RoleVisitante.Rank())
	require.Zero(t, Role("bispo").Rank())
	require.True(t, RoleAdmin.AtLeast(RolePastorChefe))
}

func TestNormalizeRole(t *testing.T) {
	cases := []struct {
		raw     string
		want    Role
		changed bool
	}{
		{"membro", RoleMembro, false},
		{"admin", RoleAdmin, false},
		{"Admin", RoleAdmin, true},
		{"member", RoleMembro, true},
		{"leader", RoleLider, true},
		{"treasurer", RoleFinanceiro, true},
		{"senior_pastor", RolePastorChefe, true},
		{" superadmin ", RoleSuperAdmin, true},
		{"", RoleMembro, true},
		{"bispo", RoleMembro, true},
	}
	for _, tc := range cases {
		got, changed := NormalizeRole(tc.raw)
		require.Equal(t, tc.want, got, tc.raw)
		require.Equal(t, tc.changed, changed, tc.raw)
	}
}

func TestNormalizeStatus(t *testing.T) {
	s, changed := NormalizeStatus("active")
	require.Equal(t, StatusAtivo, s)
	require.True(t, changed)

	s, changed = NormalizeStatus("inativo")
	require.Equal(t, StatusInativo, s)
	require.False(t, changed)
}
