package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
	"github.com/iota-uz/orgtree/pkg/tenantlock"
)

func TestExitCode(t *testing.T) {
	require.Equal(t, exitOK, exitCode(nil))
	require.Equal(t, 1, exitCode(errors.New("plain")))
	require.Equal(t, exitDB, exitCode(withCode(exitDB, errors.New("down"))))
	require.Equal(t, exitUsage, exitCode(fmt.Errorf("wrapped: %w", withCode(exitUsage, errors.New("bad flag")))))
	require.NoError(t, withCode(exitDB, nil))
}

func TestWithServiceCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "not found", err: &services.ServiceError{Kind: services.KindNotFound, Message: "node", Cause: node.ErrNotFound}, want: exitValidation},
		{name: "lock timeout", err: &services.ServiceError{Kind: services.KindConcurrentModification, Message: "locked", Cause: tenantlock.ErrNotAcquired}, want: exitConflict},
		{name: "cycle", err: &services.ServiceError{Kind: services.KindCycleDetected, Message: "cycle"}, want: exitValidation},
		{name: "store failure", err: errors.New("connection reset"), want: exitDBWrite},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := withServiceCode(tc.err, exitDBWrite)
			require.Equal(t, tc.want, exitCode(err))
			require.ErrorIs(t, err, tc.err)
		})
	}
	require.NoError(t, withServiceCode(nil, exitDB))
}
