package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"vex/storage"
)

// replicator fans out single-item writes and deletes to replica instances.
// The primary write always lands first and its success is never contingent
// on replica success.
type replicator struct {
	registry *registry
	store    storage.VectorStore
	index    *timestampIndex
	remote   RemoteClient
	stats    *statsCounters
	log      *slog.Logger
	config   func() Config
}

// InstanceOp is a caller-supplied operation for ExecuteOnAll. A nil instance
// means the operation runs against the local/primary store.
type InstanceOp func(ctx context.Context, inst *DatabaseInstance) error

// BroadcastResult aggregates per-instance outcomes of a fan-out operation.
type BroadcastResult struct {
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// BroadcastInsert writes the record to the primary store, stamps its
// last-modified time, and replicates it to up to ReplicationFactor-1 online
// instances chosen uniformly at random. Exhausted retries on a target are
// logged, never surfaced: partial replication is an expected outcome.
func (r *replicator) BroadcastInsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	now := time.Now().UnixMilli()
	if err := r.store.Insert(ctx, id, vector, metadata, now); err != nil {
		return err
	}
	r.index.touch(id, now)

	targets := r.pickTargets(r.config().ReplicationFactor - 1)
	if len(targets) == 0 {
		return nil
	}
	item := VectorData{ID: id, Vector: vector, Metadata: metadata, Timestamp: now}

	var wg sync.WaitGroup
	for _, inst := range targets {
		wg.Add(1)
		go func(inst DatabaseInstance) {
			defer wg.Done()
			r.withRetry(ctx, inst, func(ctx context.Context) error {
				return r.remote.Write(ctx, inst, item)
			})
		}(inst)
	}
	wg.Wait()
	return nil
}

// BroadcastDelete removes the record from the primary and then best-effort
// deletes it from every online instance. Deletes go to all known replicas,
// not a random subset, or tombstoned copies would resurface on later syncs.
func (r *replicator) BroadcastDelete(ctx context.Context, id string) error {
	if err := r.store.Remove(ctx, id); err != nil {
		return err
	}
	r.index.remove(id)

	var wg sync.WaitGroup
	for _, inst := range r.registry.listOnline() {
		wg.Add(1)
		go func(inst DatabaseInstance) {
			defer wg.Done()
			r.withRetry(ctx, inst, func(ctx context.Context) error {
				return r.remote.Delete(ctx, inst, id)
			})
		}(inst)
	}
	wg.Wait()
	return nil
}

// ExecuteOnAll runs op against the primary (nil instance) and every online
// instance concurrently. One instance failing never prevents the others from
// running.
func (r *replicator) ExecuteOnAll(ctx context.Context, op InstanceOp) BroadcastResult {
	online := r.registry.listOnline()

	type outcome struct {
		key string
		err error
	}
	results := make(chan outcome, len(online)+1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results <- outcome{key: "primary", err: runOp(ctx, op, nil)}
	}()
	for _, inst := range online {
		wg.Add(1)
		go func(inst DatabaseInstance) {
			defer wg.Done()
			results <- outcome{key: inst.ID, err: runOp(ctx, op, &inst)}
		}(inst)
	}
	wg.Wait()
	close(results)

	res := BroadcastResult{}
	for out := range results {
		if out.err != nil {
			res.Failed++
			if res.Errors == nil {
				res.Errors = make(map[string]string)
			}
			res.Errors[out.key] = out.err.Error()
		} else {
			res.Succeeded++
		}
	}
	return res
}

// runOp isolates a panicking operation so the rest of the fan-out proceeds.
func runOp(ctx context.Context, op InstanceOp, inst *DatabaseInstance) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("operation panicked: %v", rec)
		}
	}()
	return op(ctx, inst)
}

// pickTargets selects up to n distinct online instances uniformly at random.
func (r *replicator) pickTargets(n int) []DatabaseInstance {
	online := r.registry.listOnline()
	if n <= 0 || len(online) == 0 {
		return nil
	}
	if n > len(online) {
		n = len(online)
	}
	perm := rand.Perm(len(online))
	targets := make([]DatabaseInstance, 0, n)
	for _, i := range perm[:n] {
		targets = append(targets, online[i])
	}
	return targets
}

// withRetry attempts fn up to MaxRetries times with RetryDelay between
// attempts, honoring ctx between waits.
func (r *replicator) withRetry(ctx context.Context, inst DatabaseInstance, fn func(ctx context.Context) error) {
	cfg := r.config()
	var err error
	attempts := 0
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		attempts = attempt
		if err = fn(ctx); err == nil {
			r.stats.replicationWrites.Add(1)
			return
		}
		if attempt == cfg.MaxRetries || sleepInterrupted(ctx, cfg.RetryDelay) {
			break
		}
	}
	r.stats.replicationFailed.Add(1)
	repErr := &ReplicationError{InstanceID: inst.ID, Attempts: attempts, Err: err}
	r.log.Warn("replication target failed", "instance", inst.ID, "error", repErr)
}

// sleepInterrupted waits for d and reports whether ctx expired first.
func sleepInterrupted(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}
