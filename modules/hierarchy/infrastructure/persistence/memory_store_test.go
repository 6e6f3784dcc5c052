package persistence

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
)

func TestMemoryNodeStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) services.NodeStore {
		return NewMemoryNodeStore()
	})
}

func TestMemoryNodeStore_ReadersSeeOnlyCommittedData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryNodeStore()
	scope := node.Scope{TenantID: uuid.New(), Kind: node.KindOrganization}
	root := pathNode(scope, nil, "Root")

	inside := make(chan struct{})
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = store.InTx(ctx, func(txCtx context.Context) error {
			if err := store.BatchUpsert(txCtx, scope, []node.Node{root}); err != nil {
				return err
			}
			close(inside)
			<-done
			return nil
		})
	}()

	<-inside
	_, err := store.FindByID(ctx, scope, root.ID)
	require.ErrorIs(t, err, node.ErrNotFound)
	close(done)
	wg.Wait()

	_, err = store.FindByID(ctx, scope, root.ID)
	require.NoError(t, err)
}

func TestMemoryNodeStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryNodeStore()
	scope := node.Scope{TenantID: uuid.New(), Kind: node.KindOrganization}
	root := pathNode(scope, nil, "Root")
	child := pathNode(scope, &root, "Child")
	require.NoError(t, store.BatchUpsert(ctx, scope, []node.Node{root, child}))

	got, err := store.FindByID(ctx, scope, child.ID)
	require.NoError(t, err)
	*got.ParentID = uuid.New()

	again, err := store.FindByID(ctx, scope, child.ID)
	require.NoError(t, err)
	require.Equal(t, root.ID, *again.ParentID)
}
