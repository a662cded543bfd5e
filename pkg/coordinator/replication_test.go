package coordinator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastInsertPrimaryOnly(t *testing.T) {
	fake := newFakeRemote()
	c := newTestCoordinator(t, Config{ReplicationFactor: 1}, fake)
	registerOnline(t, c, "a", "b")

	require.NoError(t, c.BroadcastInsert(context.Background(), "v1", []float32{1, 2}, nil))

	_, _, _, found, err := c.store.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, fake.writeTargets(), "replication factor 1 writes nowhere else")
}

func TestBroadcastInsertSelectsDistinctTargets(t *testing.T) {
	fake := newFakeRemote()
	c := newTestCoordinator(t, Config{ReplicationFactor: 3}, fake)
	registerOnline(t, c, "a", "b", "c")

	require.NoError(t, c.BroadcastInsert(context.Background(), "v1", []float32{1}, nil))

	targets := fake.writeTargets()
	require.Len(t, targets, 2, "replication factor 3 means 2 replicas besides the primary")
	assert.NotEqual(t, targets[0], targets[1])
	for _, id := range targets {
		assert.Contains(t, []string{"a", "b", "c"}, id)
	}
}

func TestBroadcastInsertCapsTargetsAtOnlineCount(t *testing.T) {
	fake := newFakeRemote()
	c := newTestCoordinator(t, Config{ReplicationFactor: 5}, fake)
	registerOnline(t, c, "a", "b")
	c.registry.setStatus("b", StatusOffline)

	require.NoError(t, c.BroadcastInsert(context.Background(), "v1", []float32{1}, nil))
	assert.Equal(t, []string{"a"}, fake.writeTargets(), "offline instances are never targets")
}

func TestBroadcastInsertNonBlockingOnReplicaFailure(t *testing.T) {
	fake := newFakeRemote()
	fake.writeErr = fmt.Errorf("replica unreachable")
	c := newTestCoordinator(t, Config{
		ReplicationFactor: 3,
		MaxRetries:        2,
		RetryDelay:        time.Millisecond,
	}, fake)
	registerOnline(t, c, "a", "b")

	start := time.Now()
	require.NoError(t, c.BroadcastInsert(context.Background(), "v1", []float32{1}, nil),
		"caller never fails on replica failure")
	assert.Less(t, time.Since(start), time.Second)

	_, _, _, found, err := c.store.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.True(t, found, "primary write is not rolled back")
	assert.EqualValues(t, 2, c.stats.replicationFailed.Load())
}

func TestBroadcastDeleteReachesAllOnline(t *testing.T) {
	fake := newFakeRemote()
	c := newTestCoordinator(t, Config{ReplicationFactor: 2}, fake)
	registerOnline(t, c, "a", "b", "c")
	require.NoError(t, c.BroadcastInsert(context.Background(), "v1", []float32{1}, nil))

	require.NoError(t, c.BroadcastDelete(context.Background(), "v1"))

	_, _, _, found, err := c.store.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.False(t, found)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	// Deletes go to every online instance, not a replication-factor subset.
	for _, id := range []string{"a", "b", "c"} {
		assert.Contains(t, fake.deletes[id], "v1", id)
	}
}

func TestBroadcastDeleteDropsFromIndex(t *testing.T) {
	fake := newFakeRemote()
	c := newTestCoordinator(t, Config{}, fake)
	registerOnline(t, c, "a")
	require.NoError(t, c.BroadcastInsert(context.Background(), "v1", []float32{1}, nil))
	require.NoError(t, c.BroadcastDelete(context.Background(), "v1"))

	res, err := c.SyncToInstance(context.Background(), "a", SyncOptions{ForceFullSync: true})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ItemsSynced, "deleted ids no longer sync")
}

func TestExecuteOnAllCollectsPerInstanceOutcomes(t *testing.T) {
	fake := newFakeRemote()
	c := newTestCoordinator(t, Config{}, fake)
	registerOnline(t, c, "a", "b")

	res, err := c.ExecuteOnAll(context.Background(), func(ctx context.Context, inst *DatabaseInstance) error {
		if inst != nil && inst.ID == "b" {
			return fmt.Errorf("b rejected the operation")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded, "primary plus instance a")
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Errors["b"], "rejected")
}

func TestExecuteOnAllIsolatesPanics(t *testing.T) {
	fake := newFakeRemote()
	c := newTestCoordinator(t, Config{}, fake)
	registerOnline(t, c, "a")

	res, err := c.ExecuteOnAll(context.Background(), func(ctx context.Context, inst *DatabaseInstance) error {
		if inst == nil {
			panic("primary op bug")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Errors["primary"], "panicked")
}
