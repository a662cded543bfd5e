package coordinator

import (
	"context"
	"sort"
)

// Replica-side operations: the handlers a node exposes to its peers apply
// incoming sync and replication traffic through these methods, which keeps
// the push/pull conflict model symmetric across nodes.

// ApplyRemoteBatch upserts pushed records with newer-timestamp-wins
// semantics and reports the records where this side holds a diverging copy.
// A DetectOnly request reports divergence but never overwrites the local
// copy: the sender's conflict policy decides, not this side. The returned
// ack leaves Bytes zero; the transport fills it in from the wire size.
func (c *Coordinator) ApplyRemoteBatch(ctx context.Context, req PushRequest) (PushAck, error) {
	if err := c.checkOpen(); err != nil {
		return PushAck{}, err
	}
	ack := PushAck{}
	for _, item := range req.Items {
		localTS, exists := c.index.get(item.ID)
		if exists && localTS != item.Timestamp {
			local, ok, err := c.localConflictSnapshot(ctx, item.ID)
			if err != nil {
				return ack, err
			}
			if ok {
				ack.Conflicts = append(ack.Conflicts, RemoteConflict{ID: item.ID, Remote: local})
			}
			if req.DetectOnly || item.Timestamp <= localTS {
				continue
			}
		}
		if err := c.store.Insert(ctx, item.ID, item.Vector, item.Metadata, item.Timestamp); err != nil {
			return ack, err
		}
		c.index.touch(item.ID, item.Timestamp)
		ack.Accepted++
	}
	return ack, nil
}

// ApplyRemoteWrite force-upserts a single record, ignoring timestamps. Used
// for replication writes and merge results.
func (c *Coordinator) ApplyRemoteWrite(ctx context.Context, item VectorData) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.store.Insert(ctx, item.ID, item.Vector, item.Metadata, item.Timestamp); err != nil {
		return err
	}
	c.index.touch(item.ID, item.Timestamp)
	return nil
}

// ApplyRemoteDelete removes a single record on behalf of a peer.
func (c *Coordinator) ApplyRemoteDelete(ctx context.Context, id string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.store.Remove(ctx, id); err != nil {
		return err
	}
	c.index.remove(id)
	return nil
}

// ReadLocalBatch serves one page of local records for a peer's pull. The
// cursor is the last id of the previous page; ids are served in sorted
// order so pagination is stable across interleaved writes.
func (c *Coordinator) ReadLocalBatch(ctx context.Context, cursor string, limit int) (PullResult, error) {
	if err := c.checkOpen(); err != nil {
		return PullResult{}, err
	}
	if limit <= 0 {
		limit = defaultBatchSize
	}
	ids := c.index.snapshot("")
	if cursor != "" {
		idx := sort.SearchStrings(ids, cursor)
		if idx < len(ids) && ids[idx] == cursor {
			idx++
		}
		ids = ids[idx:]
	}

	res := PullResult{}
	for _, id := range ids {
		if len(res.Items) == limit {
			res.NextCursor = res.Items[len(res.Items)-1].ID
			break
		}
		item, ok, err := c.localConflictSnapshot(ctx, id)
		if err != nil {
			return PullResult{}, err
		}
		if !ok {
			continue
		}
		res.Items = append(res.Items, item)
	}
	return res, nil
}

func (c *Coordinator) localConflictSnapshot(ctx context.Context, id string) (VectorData, bool, error) {
	vector, metadata, storedTS, found, err := c.store.Get(ctx, id)
	if err != nil || !found {
		return VectorData{}, false, err
	}
	ts, ok := c.index.get(id)
	if !ok {
		ts = storedTS
	}
	return VectorData{ID: id, Vector: vector, Metadata: metadata, Timestamp: ts}, true, nil
}
