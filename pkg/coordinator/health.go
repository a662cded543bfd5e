package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// healthMonitor probes every registered instance on a timer and transitions
// its status in the registry. Probes run independently of in-flight syncs;
// on the status field the last writer wins.
type healthMonitor struct {
	registry *registry
	remote   RemoteClient
	engine   *syncEngine
	stats    *statsCounters
	log      *slog.Logger
	config   func() Config

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// probeBurst caps how many probes may fire back-to-back before pacing kicks
// in on large registries.
const probeBurst = 16

// Start launches the probe loop. The first sweep runs immediately; further
// sweeps follow the configured interval. Starting twice is a no-op.
func (h *healthMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.running = true
	h.wg.Add(1)
	go h.loop(ctx)
}

// Stop cancels the probe loop and waits for it to drain.
func (h *healthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.cancel()
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *healthMonitor) loop(ctx context.Context) {
	defer h.wg.Done()

	interval := h.config().HealthCheckInterval
	limiter := rate.NewLimiter(rate.Every(interval/(probeBurst*4)), probeBurst)

	h.sweep(ctx, limiter)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep(ctx, limiter)
		}
	}
}

// sweep probes every registered instance once and applies the transition
// rules.
func (h *healthMonitor) sweep(ctx context.Context, limiter *rate.Limiter) {
	cfg := h.config()
	for _, inst := range h.registry.list() {
		if limiter.Wait(ctx) != nil {
			return
		}
		h.stats.healthChecks.Add(1)

		probeCtx, cancel := context.WithTimeout(ctx, cfg.HealthCheckTimeout)
		err := h.probe(probeCtx, inst)
		cancel()

		switch {
		case err == nil && inst.Status == StatusOffline:
			h.registry.setStatus(inst.ID, StatusOnline)
			if cfg.AutoFailover {
				h.resync(inst.ID)
			}
		case err != nil && inst.Status != StatusOffline:
			h.log.Warn("probe failed", "instance", inst.ID, "error", err)
			h.registry.setStatus(inst.ID, StatusOffline)
		}
	}
}

// probe isolates a panicking RemoteClient; a panic counts as a failed probe.
func (h *healthMonitor) probe(ctx context.Context, inst DatabaseInstance) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("probe panicked: %v", rec)
		}
	}()
	return h.remote.Probe(ctx, inst)
}

// resync brings a recovered instance back in line. Failures are logged, not
// surfaced; the next background sync gets another chance.
func (h *healthMonitor) resync(id string) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		res, err := h.engine.SyncTo(context.Background(), id, SyncOptions{})
		if err != nil {
			h.log.Warn("failover sync rejected", "instance", id, "error", err)
			return
		}
		if !res.Success {
			h.log.Warn("failover sync failed", "instance", id, "error", res.Error)
		}
	}()
}
