// Package coordinator tracks a set of remote vector store instances,
// synchronizes records between them under a configurable conflict policy,
// detects liveness transitions, and fans out writes across replicas.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vex/storage"
)

// Coordinator composes the registry, sync engine, health monitor and
// replicator and is the only component exposed externally. All mutable state
// (registry map, sync guard, timestamp index, counters) hangs off this
// value, so multiple coordinators can coexist in one process.
type Coordinator struct {
	store  storage.VectorStore
	remote RemoteClient
	log    *slog.Logger

	registry *registry
	guard    *syncGuard
	index    *timestampIndex
	stats    *statsCounters
	engine   *syncEngine
	health   *healthMonitor
	repl     *replicator

	mu        sync.RWMutex
	cfg       Config
	closed    bool
	autoStop  chan struct{}
	autoWG    sync.WaitGroup
	startedAt time.Time
}

// New wires a coordinator around the local store and remote client
// collaborators. The store is not owned: callers close it themselves. A nil
// logger falls back to slog.Default. The timestamp index is rebuilt from the
// store so records written before a restart stay eligible for sync.
// Background sync starts immediately when the config enables it; health
// checking starts via StartHealthCheck.
func New(cfg Config, store storage.VectorStore, remote RemoteClient, log *slog.Logger) (*Coordinator, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "coordinator")

	c := &Coordinator{
		store:     store,
		remote:    remote,
		log:       log,
		cfg:       cfg.withDefaults(),
		guard:     newSyncGuard(),
		index:     newTimestampIndex(),
		stats:     &statsCounters{},
		startedAt: time.Now(),
	}
	if err := store.Scan(context.Background(), func(id string, ts int64) error {
		c.index.touch(id, ts)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("rebuild timestamp index: %w", err)
	}
	if n := c.index.len(); n > 0 {
		log.Info("timestamp index rebuilt", "records", n)
	}
	c.registry = newRegistry(c.guard, log)
	c.registry.subscribe(func(string, InstanceStatus, InstanceStatus) {
		c.stats.statusTransitions.Add(1)
	})

	c.engine = &syncEngine{
		registry: c.registry,
		guard:    c.guard,
		index:    c.index,
		store:    store,
		remote:   remote,
		stats:    c.stats,
		log:      log.With("component", "sync"),
		config:   c.GetConfig,
	}
	c.health = &healthMonitor{
		registry: c.registry,
		remote:   remote,
		engine:   c.engine,
		stats:    c.stats,
		log:      log.With("component", "health"),
		config:   c.GetConfig,
	}
	c.repl = &replicator{
		registry: c.registry,
		store:    store,
		index:    c.index,
		remote:   remote,
		stats:    c.stats,
		log:      log.With("component", "replication"),
		config:   c.GetConfig,
	}

	c.restartAutoSyncLocked()
	return c, nil
}

// RegisterInstance adds a remote instance to the registry. New instances
// start online; the health monitor corrects that on its next sweep if the
// instance is unreachable.
func (c *Coordinator) RegisterInstance(inst DatabaseInstance) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if inst.ID == "" || inst.URL == "" {
		return fmt.Errorf("instance id and url are required")
	}
	if err := c.registry.register(inst); err != nil {
		return err
	}
	c.log.Info("instance registered", "instance", inst.ID, "url", inst.URL)
	return nil
}

// UnregisterInstance removes an instance. It fails with ErrInstanceBusy
// while a sync targeting the instance is in flight.
func (c *Coordinator) UnregisterInstance(id string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.registry.unregister(id); err != nil {
		return err
	}
	c.log.Info("instance unregistered", "instance", id)
	return nil
}

// GetInstances returns a snapshot of all registered instances.
func (c *Coordinator) GetInstances() []DatabaseInstance {
	return c.registry.list()
}

// GetOnlineInstances returns a snapshot of instances with online status.
func (c *Coordinator) GetOnlineInstances() []DatabaseInstance {
	return c.registry.listOnline()
}

// GetInstanceStatus reports the current status of one instance.
func (c *Coordinator) GetInstanceStatus(id string) (InstanceStatus, error) {
	inst, err := c.registry.get(id)
	if err != nil {
		return "", err
	}
	return inst.Status, nil
}

// OnInstanceStatusChange subscribes to status transitions and returns the
// unsubscribe handle.
func (c *Coordinator) OnInstanceStatusChange(fn StatusObserver) func() {
	return c.registry.subscribe(fn)
}

// SyncToInstance pushes local records to the given instance.
func (c *Coordinator) SyncToInstance(ctx context.Context, id string, opts SyncOptions) (SyncResult, error) {
	if err := c.checkOpen(); err != nil {
		return SyncResult{}, err
	}
	return c.engine.SyncTo(ctx, id, opts)
}

// SyncFromInstance pulls records from the given instance.
func (c *Coordinator) SyncFromInstance(ctx context.Context, id string, opts SyncOptions) (SyncResult, error) {
	if err := c.checkOpen(); err != nil {
		return SyncResult{}, err
	}
	return c.engine.SyncFrom(ctx, id, opts)
}

// SyncAll pushes to every online instance concurrently and returns one
// result per instance id. Offline instances are skipped entirely.
func (c *Coordinator) SyncAll(ctx context.Context, opts SyncOptions) (map[string]SyncResult, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.engine.SyncAll(ctx, opts), nil
}

// StartHealthCheck launches the liveness probe loop.
func (c *Coordinator) StartHealthCheck() {
	if c.checkOpen() != nil {
		return
	}
	c.health.Start()
}

// StopHealthCheck halts the liveness probe loop.
func (c *Coordinator) StopHealthCheck() {
	c.health.Stop()
}

// BroadcastInsert writes to the primary store and replicates to a random
// subset of online instances sized by the replication factor.
func (c *Coordinator) BroadcastInsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.repl.BroadcastInsert(ctx, id, vector, metadata)
}

// BroadcastDelete deletes from the primary store and from every online
// instance.
func (c *Coordinator) BroadcastDelete(ctx context.Context, id string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.repl.BroadcastDelete(ctx, id)
}

// ExecuteOnAll runs op against the primary and every online instance.
func (c *Coordinator) ExecuteOnAll(ctx context.Context, op InstanceOp) (BroadcastResult, error) {
	if err := c.checkOpen(); err != nil {
		return BroadcastResult{}, err
	}
	return c.repl.ExecuteOnAll(ctx, op), nil
}

// GetConfig returns the current configuration.
func (c *Coordinator) GetConfig() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// UpdateConfig swaps the runtime configuration. The auto-sync timer is
// restarted when its interval changed.
func (c *Coordinator) UpdateConfig(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	cfg = cfg.withDefaults()
	intervalChanged := cfg.SyncInterval != c.cfg.SyncInterval
	c.cfg = cfg
	if intervalChanged {
		c.restartAutoSyncLocked()
	}
	c.log.Info("config updated", "sync_interval", cfg.SyncInterval, "replication_factor", cfg.ReplicationFactor)
	return nil
}

// GetStats returns a point-in-time snapshot of coordinator activity.
func (c *Coordinator) GetStats(ctx context.Context) (Stats, error) {
	if err := c.checkOpen(); err != nil {
		return Stats{}, err
	}
	stats := c.stats.snapshot()
	for _, inst := range c.registry.list() {
		stats.Instances++
		switch inst.Status {
		case StatusOnline:
			stats.OnlineInstances++
		case StatusOffline:
			stats.OfflineInstances++
		case StatusSyncing:
			stats.SyncingInstances++
		}
	}
	if c.store != nil {
		if ss, err := c.store.Stats(ctx); err == nil {
			stats.LocalVectors = ss.Count
		}
	}
	return stats, nil
}

// Close cancels background timers and clears all in-memory state. Further
// operations fail with ErrClosed. The store is left open for its owner.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopAutoSyncLocked()
	c.mu.Unlock()

	c.health.Stop()
	c.autoWG.Wait()

	c.registry.clear()
	c.guard.clear()
	c.index.clear()
	c.log.Info("coordinator closed")
	return nil
}

func (c *Coordinator) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// restartAutoSyncLocked (re)starts the background sync-all loop. Callers
// hold c.mu.
func (c *Coordinator) restartAutoSyncLocked() {
	c.stopAutoSyncLocked()
	if c.cfg.SyncInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	c.autoStop = stop
	interval := c.cfg.SyncInterval
	c.autoWG.Add(1)
	go func() {
		defer c.autoWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				results := c.engine.SyncAll(context.Background(), SyncOptions{})
				for id, res := range results {
					if !res.Success {
						c.log.Warn("background sync failed", "instance", id, "error", res.Error)
					}
				}
			}
		}
	}()
}

func (c *Coordinator) stopAutoSyncLocked() {
	if c.autoStop != nil {
		close(c.autoStop)
		c.autoStop = nil
	}
}

// TouchLocal records a local write performed outside BroadcastInsert, e.g.
// by bulk loaders, so the record participates in future syncs.
func (c *Coordinator) TouchLocal(id string, ts time.Time) {
	c.index.touch(id, ts.UnixMilli())
}
