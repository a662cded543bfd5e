package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"vex/storage"
)

// syncEngine performs per-instance bidirectional synchronization with
// conflict detection and resolution. It shares the registry, guard and
// timestamp index with the rest of the coordinator.
type syncEngine struct {
	registry *registry
	guard    *syncGuard
	index    *timestampIndex
	store    storage.VectorStore
	remote   RemoteClient
	stats    *statsCounters
	log      *slog.Logger
	config   func() Config
}

// SyncTo pushes local records to the instance. Precondition violations
// (unknown id, offline instance, sync already in flight) are returned as
// sentinel errors; transfer failures are reported on the result with
// Success=false.
func (e *syncEngine) SyncTo(ctx context.Context, instanceID string, opts SyncOptions) (SyncResult, error) {
	return e.run(ctx, instanceID, opts, e.pushAll)
}

// SyncFrom pulls records from the instance. Batch count is driven by the
// remote's last known vector count rather than local enumeration.
func (e *syncEngine) SyncFrom(ctx context.Context, instanceID string, opts SyncOptions) (SyncResult, error) {
	return e.run(ctx, instanceID, opts, e.pullAll)
}

type transferFunc func(ctx context.Context, inst DatabaseInstance, opts SyncOptions, res *SyncResult) error

func (e *syncEngine) run(ctx context.Context, instanceID string, opts SyncOptions, transfer transferFunc) (SyncResult, error) {
	opts = opts.withDefaults(e.config().Resolution)

	inst, err := e.registry.get(instanceID)
	if err != nil {
		return SyncResult{}, err
	}
	if inst.Status == StatusOffline {
		return SyncResult{}, fmt.Errorf("%w: %s", ErrInstanceOffline, instanceID)
	}
	if !e.guard.tryAcquire(instanceID) {
		return SyncResult{}, fmt.Errorf("%w: %s", ErrSyncInProgress, instanceID)
	}
	defer e.guard.release(instanceID)

	e.registry.setStatus(instanceID, StatusSyncing)
	defer func() {
		// Never leave an instance stuck in syncing, whatever the outcome.
		if cur, err := e.registry.get(instanceID); err == nil && cur.Status == StatusSyncing {
			e.registry.setStatus(instanceID, StatusOnline)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	res := SyncResult{OpID: uuid.NewString(), InstanceID: instanceID}
	start := time.Now()
	e.emit(opts.OnProgress, SyncProgress{Phase: PhasePreparing})

	err = e.safeTransfer(ctx, inst, opts, &res, transfer)
	res.Duration = time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrTimeout, opts.Timeout)
		}
		res.Error = err.Error()
		e.stats.recordSync(res)
		e.log.Warn("sync failed", "op", res.OpID, "instance", instanceID, "error", err)
		e.emit(opts.OnProgress, SyncProgress{Phase: PhaseError, Current: res.ItemsSynced})
		return res, nil
	}

	res.Success = true
	e.registry.updateSyncState(instanceID, time.Now().UnixMilli(), e.index.len())
	e.stats.recordSync(res)
	e.log.Info("sync completed", "op", res.OpID, "instance", instanceID,
		"items", res.ItemsSynced, "conflicts", res.ConflictsDetected, "bytes", res.BytesTransferred)
	e.emit(opts.OnProgress, SyncProgress{Phase: PhaseCompleted, Current: res.ItemsSynced, Total: res.ItemsSynced})
	return res, nil
}

// safeTransfer converts a panicking transfer into a failed result so the
// status restoration above always runs.
func (e *syncEngine) safeTransfer(ctx context.Context, inst DatabaseInstance, opts SyncOptions, res *SyncResult, transfer transferFunc) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sync panicked: %v", rec)
		}
	}()
	return transfer(ctx, inst, opts, res)
}

// pushAll enumerates local ids in fixed-size batches and pushes them to the
// remote, settling any reported conflicts per the configured policy.
func (e *syncEngine) pushAll(ctx context.Context, inst DatabaseInstance, opts SyncOptions, res *SyncResult) error {
	ids := e.index.snapshot(opts.NamespaceFilter)
	if !opts.ForceFullSync && !inst.LastSyncAt.IsZero() {
		since := inst.LastSyncAt.UnixMilli()
		filtered := ids[:0]
		for _, id := range ids {
			if ts, ok := e.index.get(id); ok && ts > since {
				filtered = append(filtered, id)
			}
		}
		ids = filtered
	}

	total := len(ids)
	e.emit(opts.OnProgress, SyncProgress{Phase: PhaseFetching, Total: total})

	for off := 0; off < total; off += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := off + opts.BatchSize
		if end > total {
			end = total
		}
		items, err := e.loadLocal(ctx, ids[off:end])
		if err != nil {
			return err
		}
		req := PushRequest{
			Items: items,
			// Under the manual policy the remote must not settle conflicts
			// on its own; it reports them and keeps its copies.
			DetectOnly: opts.Resolution == ResolveManual,
		}
		ack, err := e.remote.PushBatch(ctx, inst, req)
		if err != nil {
			return fmt.Errorf("push batch to %s: %w", inst.ID, err)
		}
		res.ItemsSynced += len(items)
		res.BytesTransferred += ack.Bytes
		for _, c := range ack.Conflicts {
			if err := e.resolveConflict(ctx, inst, opts.Resolution, c.ID, c.Remote, res); err != nil {
				return err
			}
		}
		e.emit(opts.OnProgress, SyncProgress{Phase: PhaseApplying, Current: end, Total: total})
	}
	return nil
}

// pullAll pages records from the remote and applies them locally.
func (e *syncEngine) pullAll(ctx context.Context, inst DatabaseInstance, opts SyncOptions, res *SyncResult) error {
	total := inst.VectorCount
	e.emit(opts.OnProgress, SyncProgress{Phase: PhaseFetching, Total: total})

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := e.remote.PullBatch(ctx, inst, cursor, opts.BatchSize)
		if err != nil {
			return fmt.Errorf("pull batch from %s: %w", inst.ID, err)
		}
		res.BytesTransferred += page.Bytes
		for _, item := range page.Items {
			if opts.NamespaceFilter != "" && !strings.HasPrefix(item.ID, opts.NamespaceFilter) {
				continue
			}
			localTS, exists := e.index.get(item.ID)
			switch {
			case !exists:
				if err := e.applyLocal(ctx, item); err != nil {
					return err
				}
				res.ItemsSynced++
			case localTS == item.Timestamp:
				// Identical version on both sides; nothing to move.
			default:
				if err := e.resolveConflict(ctx, inst, opts.Resolution, item.ID, item, res); err != nil {
					return err
				}
			}
		}
		e.emit(opts.OnProgress, SyncProgress{Phase: PhaseApplying, Current: res.ItemsSynced, Total: total})
		cursor = page.NextCursor
		if cursor == "" {
			return nil
		}
	}
}

// resolveConflict settles one diverging record according to policy and keeps
// the accounting invariant: detected is always incremented, resolved only
// when the policy actually settles the record.
func (e *syncEngine) resolveConflict(ctx context.Context, inst DatabaseInstance, policy ConflictResolution, id string, remote VectorData, res *SyncResult) error {
	res.ConflictsDetected++

	local, ok, err := e.localSnapshot(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		// Local record vanished between detection and resolution; adopt remote.
		if err := e.applyLocal(ctx, remote); err != nil {
			return err
		}
		res.ConflictsResolved++
		return nil
	}

	switch policy {
	case ResolveManual:
		res.UnresolvedConflicts = append(res.UnresolvedConflicts, ConflictInfo{
			VectorID:   id,
			Local:      local,
			Remote:     remote,
			Suggestion: SuggestKeepLocal,
		})
		return nil

	case ResolveMerge:
		merged := mergeVectors(local, remote)
		if err := e.applyLocal(ctx, merged); err != nil {
			return err
		}
		if err := e.remote.Write(ctx, inst, merged); err != nil {
			return fmt.Errorf("write merged record %q to %s: %w", id, inst.ID, err)
		}
		res.ConflictsResolved++
		return nil

	default: // last-write-wins
		if remote.Timestamp > local.Timestamp {
			if err := e.applyLocal(ctx, remote); err != nil {
				return err
			}
		} else if err := e.remote.Write(ctx, inst, local); err != nil {
			return fmt.Errorf("write record %q to %s: %w", id, inst.ID, err)
		}
		res.ConflictsResolved++
		return nil
	}
}

// mergeVectors combines two diverging records: the newer embedding wins
// wholesale (averaging embeddings would fabricate a vector neither side ever
// held), metadata is the union with the newer side winning key collisions,
// and the merged record carries the greater timestamp.
func mergeVectors(local, remote VectorData) VectorData {
	newer, older := local, remote
	if remote.Timestamp > local.Timestamp {
		newer, older = remote, local
	}
	meta := make(map[string]string, len(older.Metadata)+len(newer.Metadata))
	for k, v := range older.Metadata {
		meta[k] = v
	}
	for k, v := range newer.Metadata {
		meta[k] = v
	}
	return VectorData{
		ID:        local.ID,
		Vector:    append([]float32(nil), newer.Vector...),
		Metadata:  meta,
		Timestamp: newer.Timestamp,
	}
}

func (e *syncEngine) loadLocal(ctx context.Context, ids []string) ([]VectorData, error) {
	items := make([]VectorData, 0, len(ids))
	for _, id := range ids {
		item, ok, err := e.localSnapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func (e *syncEngine) localSnapshot(ctx context.Context, id string) (VectorData, bool, error) {
	vector, metadata, storedTS, found, err := e.store.Get(ctx, id)
	if err != nil {
		return VectorData{}, false, fmt.Errorf("read local record %q: %w", id, err)
	}
	if !found {
		return VectorData{}, false, nil
	}
	// The index is authoritative while the process lives; the stored
	// timestamp covers records not yet touched since a restart.
	ts, ok := e.index.get(id)
	if !ok {
		ts = storedTS
	}
	return VectorData{ID: id, Vector: vector, Metadata: metadata, Timestamp: ts}, true, nil
}

func (e *syncEngine) applyLocal(ctx context.Context, item VectorData) error {
	if err := e.store.Insert(ctx, item.ID, item.Vector, item.Metadata, item.Timestamp); err != nil {
		return fmt.Errorf("apply record %q locally: %w", item.ID, err)
	}
	e.index.touch(item.ID, item.Timestamp)
	return nil
}

// SyncAll runs SyncTo against every currently online instance and collects
// one result per instance id. Fan-out is bounded by MaxConcurrentSyncs.
func (e *syncEngine) SyncAll(ctx context.Context, opts SyncOptions) map[string]SyncResult {
	online := e.registry.listOnline()
	results := make(map[string]SyncResult, len(online))
	if len(online) == 0 {
		return results
	}

	limit := int64(e.config().MaxConcurrentSyncs)
	if limit <= 0 {
		limit = int64(len(online))
	}
	sem := semaphore.NewWeighted(limit)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, inst := range online {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				results[id] = SyncResult{InstanceID: id, Error: err.Error()}
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			res, err := e.SyncTo(ctx, id, opts)
			if err != nil {
				res = SyncResult{InstanceID: id, Error: err.Error()}
			}
			mu.Lock()
			results[id] = res
			mu.Unlock()
		}(inst.ID)
	}
	wg.Wait()
	return results
}

// emit delivers a progress event. Callback panics are isolated so a broken
// observer cannot abort a sync.
func (e *syncEngine) emit(fn ProgressFunc, p SyncProgress) {
	if fn == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("progress callback panicked", "phase", p.Phase, "panic", rec)
		}
	}()
	fn(p)
}
