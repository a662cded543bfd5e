package coordinator

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyRemoteBatchAcceptsNewRecords(t *testing.T) {
	c := newTestCoordinator(t, Config{}, newFakeRemote())

	ack, err := c.ApplyRemoteBatch(context.Background(), PushRequest{Items: []VectorData{
		{ID: "v1", Vector: []float32{1}, Timestamp: 100},
		{ID: "v2", Vector: []float32{2}, Timestamp: 200},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, ack.Accepted)
	assert.Empty(t, ack.Conflicts)

	vector, _, ts, found, err := c.store.Get(context.Background(), "v1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []float32{1}, vector)
	assert.EqualValues(t, 100, ts, "timestamp is persisted with the record")

	ts, ok := c.index.get("v2")
	require.True(t, ok)
	assert.EqualValues(t, 200, ts)
}

func TestApplyRemoteBatchNewerWinsAndReportsConflict(t *testing.T) {
	c := newTestCoordinator(t, Config{}, newFakeRemote())
	require.NoError(t, c.ApplyRemoteWrite(context.Background(), VectorData{
		ID: "v1", Vector: []float32{1}, Metadata: map[string]string{"side": "local"}, Timestamp: 100,
	}))

	ack, err := c.ApplyRemoteBatch(context.Background(), PushRequest{Items: []VectorData{
		{ID: "v1", Vector: []float32{9}, Timestamp: 200},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, ack.Accepted, "newer incoming timestamp replaces the local copy")
	require.Len(t, ack.Conflicts, 1)
	assert.Equal(t, "v1", ack.Conflicts[0].ID)
	assert.EqualValues(t, 100, ack.Conflicts[0].Remote.Timestamp, "conflict carries the pre-apply local copy")
	assert.Equal(t, "local", ack.Conflicts[0].Remote.Metadata["side"])

	vector, _, _, _, err := c.store.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, []float32{9}, vector)
}

func TestApplyRemoteBatchSkipsOlderRecords(t *testing.T) {
	c := newTestCoordinator(t, Config{}, newFakeRemote())
	require.NoError(t, c.ApplyRemoteWrite(context.Background(), VectorData{
		ID: "v1", Vector: []float32{1}, Timestamp: 300,
	}))

	ack, err := c.ApplyRemoteBatch(context.Background(), PushRequest{Items: []VectorData{
		{ID: "v1", Vector: []float32{9}, Timestamp: 100},
	}})
	require.NoError(t, err)
	assert.Zero(t, ack.Accepted)
	require.Len(t, ack.Conflicts, 1, "divergence is still reported")

	vector, _, _, _, err := c.store.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vector, "older incoming copy never overwrites")
	ts, _ := c.index.get("v1")
	assert.EqualValues(t, 300, ts)
}

func TestApplyRemoteBatchDetectOnlyKeepsLocalCopy(t *testing.T) {
	c := newTestCoordinator(t, Config{}, newFakeRemote())
	require.NoError(t, c.ApplyRemoteWrite(context.Background(), VectorData{
		ID: "v1", Vector: []float32{1}, Timestamp: 100,
	}))

	ack, err := c.ApplyRemoteBatch(context.Background(), PushRequest{
		Items: []VectorData{
			{ID: "v1", Vector: []float32{9}, Timestamp: 200},
			{ID: "v2", Vector: []float32{2}, Timestamp: 200},
		},
		DetectOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ack.Accepted, "non-conflicting records still apply")
	require.Len(t, ack.Conflicts, 1)
	assert.Equal(t, "v1", ack.Conflicts[0].ID)

	vector, _, ts, _, err := c.store.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vector, "diverging copy stays untouched even though the push is newer")
	assert.EqualValues(t, 100, ts)

	_, _, _, found, err := c.store.Get(context.Background(), "v2")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestApplyRemoteBatchIdenticalTimestampIsNoop(t *testing.T) {
	c := newTestCoordinator(t, Config{}, newFakeRemote())
	require.NoError(t, c.ApplyRemoteWrite(context.Background(), VectorData{
		ID: "v1", Vector: []float32{1}, Timestamp: 100,
	}))

	ack, err := c.ApplyRemoteBatch(context.Background(), PushRequest{Items: []VectorData{
		{ID: "v1", Vector: []float32{1}, Timestamp: 100},
	}})
	require.NoError(t, err)
	assert.Zero(t, ack.Accepted)
	assert.Empty(t, ack.Conflicts, "equal timestamps mean equal copies, not conflicts")
}

func TestApplyRemoteDelete(t *testing.T) {
	c := newTestCoordinator(t, Config{}, newFakeRemote())
	require.NoError(t, c.ApplyRemoteWrite(context.Background(), VectorData{
		ID: "v1", Vector: []float32{1}, Timestamp: 100,
	}))

	require.NoError(t, c.ApplyRemoteDelete(context.Background(), "v1"))

	_, _, _, found, err := c.store.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.False(t, found)
	_, ok := c.index.get("v1")
	assert.False(t, ok)
}

func TestReadLocalBatchPaginates(t *testing.T) {
	c := newTestCoordinator(t, Config{}, newFakeRemote())
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("v%03d", i)
		require.NoError(t, c.ApplyRemoteWrite(context.Background(), VectorData{
			ID: id, Vector: []float32{float32(i)}, Timestamp: int64(100 + i),
		}))
	}

	var got []string
	cursor := ""
	pages := 0
	for {
		res, err := c.ReadLocalBatch(context.Background(), cursor, 2)
		require.NoError(t, err)
		pages++
		for _, item := range res.Items {
			got = append(got, item.ID)
		}
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}

	assert.Equal(t, []string{"v000", "v001", "v002", "v003", "v004"}, got)
	assert.Equal(t, 3, pages)
}

func TestReadLocalBatchUnknownCursorStartsAfterIt(t *testing.T) {
	c := newTestCoordinator(t, Config{}, newFakeRemote())
	for _, id := range []string{"a", "c"} {
		require.NoError(t, c.ApplyRemoteWrite(context.Background(), VectorData{
			ID: id, Vector: []float32{1}, Timestamp: 100,
		}))
	}

	res, err := c.ReadLocalBatch(context.Background(), "b", 10)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "c", res.Items[0].ID)
}
