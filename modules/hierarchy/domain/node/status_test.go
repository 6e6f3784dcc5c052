package node_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
)

func TestTransitionsFor_LifecycleKinds(t *testing.T) {
	for _, kind := range []node.Kind{node.KindDepartment, node.KindEnterprise} {
		require.True(t, node.CanTransition(kind, node.StatusActive, node.StatusInactive))
		require.True(t, node.CanTransition(kind, node.StatusActive, node.StatusTerminal))
		require.True(t, node.CanTransition(kind, node.StatusInactive, node.StatusActive))
		require.True(t, node.CanTransition(kind, node.StatusInactive, node.StatusTerminal))
		require.False(t, node.CanTransition(kind, node.StatusTerminal, node.StatusActive))
		require.False(t, node.CanTransition(kind, node.StatusTerminal, node.StatusInactive))
	}
}

func TestTransitionsFor_OrganizationToggles(t *testing.T) {
	require.True(t, node.CanTransition(node.KindOrganization, node.StatusActive, node.StatusInactive))
	require.True(t, node.CanTransition(node.KindOrganization, node.StatusInactive, node.StatusActive))
	require.False(t, node.CanTransition(node.KindOrganization, node.StatusActive, node.StatusTerminal))
}

func TestCanTransition_SameStatusIsNotATransition(t *testing.T) {
	require.False(t, node.CanTransition(node.KindDepartment, node.StatusInactive, node.StatusInactive))
}

func TestParseStatus(t *testing.T) {
	s, err := node.ParseStatus(" Cancelled ")
	require.NoError(t, err)
	require.Equal(t, node.StatusTerminal, s)

	_, err = node.ParseStatus("archived")
	require.Error(t, err)
}

func TestParseKind(t *testing.T) {
	k, err := node.ParseKind("DEPARTMENT")
	require.NoError(t, err)
	require.Equal(t, node.KindDepartment, k)

	_, err = node.ParseKind("team")
	require.Error(t, err)
}
