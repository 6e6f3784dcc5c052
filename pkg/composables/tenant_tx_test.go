package composables

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgtree/pkg/configuration"
)

func TestSettingsFor(t *testing.T) {
	tenantID := uuid.New()
	ctx := WithTenantID(context.Background(), tenantID)

	t.Run("disabled rls only bounds lock waits", func(t *testing.T) {
		conf := &configuration.Configuration{RLSEnforce: "disabled"}
		conf.Hierarchy.LockWait = 1500 * time.Millisecond
		s, err := settingsFor(ctx, conf)
		require.NoError(t, err)
		require.Empty(t, s.tenant)
		require.Equal(t, "1500ms", s.lockTimeout)
	})

	t.Run("enforced rls binds the tenant", func(t *testing.T) {
		conf := &configuration.Configuration{RLSEnforce: "enforce"}
		s, err := settingsFor(ctx, conf)
		require.NoError(t, err)
		require.Equal(t, tenantID.String(), s.tenant)
		require.Empty(t, s.lockTimeout)
	})

	t.Run("enforced rls needs a tenant", func(t *testing.T) {
		conf := &configuration.Configuration{RLSEnforce: "enforce"}
		_, err := settingsFor(context.Background(), conf)
		require.ErrorIs(t, err, ErrNoTenantID)
	})
}

func TestRequestValues(t *testing.T) {
	_, err := UseTenantID(context.Background())
	require.ErrorIs(t, err, ErrNoTenantID)
	_, err = UseTenantID(WithTenantID(context.Background(), uuid.Nil))
	require.ErrorIs(t, err, ErrNoTenantID)

	_, ok := UseRequestID(context.Background())
	require.False(t, ok)
	id, ok := UseRequestID(WithRequestID(context.Background(), "req-1"))
	require.True(t, ok)
	require.Equal(t, "req-1", id)

	_, err = UsePool(context.Background())
	require.ErrorIs(t, err, ErrNoPool)
}
