package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastHealthConfig() Config {
	return Config{
		HealthCheckInterval: 20 * time.Millisecond,
		HealthCheckTimeout:  50 * time.Millisecond,
	}
}

func TestProbeFailureMarksOffline(t *testing.T) {
	fake := newFakeRemote()
	c := newTestCoordinator(t, fastHealthConfig(), fake)
	registerOnline(t, c, "a")

	fake.mu.Lock()
	fake.probeErr["a"] = fmt.Errorf("no route to host")
	fake.mu.Unlock()

	c.StartHealthCheck()
	defer c.StopHealthCheck()

	require.Eventually(t, func() bool {
		status, _ := c.GetInstanceStatus("a")
		return status == StatusOffline
	}, time.Second, 5*time.Millisecond)
}

func TestRecoveryMarksOnlineAndTriggersFailoverSync(t *testing.T) {
	fake := newFakeRemote()
	cfg := fastHealthConfig()
	cfg.AutoFailover = true
	c := newTestCoordinator(t, cfg, fake)
	registerOnline(t, c, "a")
	seedLocal(t, c, 1)
	c.registry.setStatus("a", StatusOffline)

	c.StartHealthCheck()
	defer c.StopHealthCheck()

	require.Eventually(t, func() bool {
		status, _ := c.GetInstanceStatus("a")
		return status == StatusOnline
	}, time.Second, 5*time.Millisecond)

	// Auto-failover pushes the local records back out.
	require.Eventually(t, func() bool {
		return fake.pushCount() > 0
	}, time.Second, 5*time.Millisecond)
}

func TestHealthyProbesProduceNoSpuriousEvents(t *testing.T) {
	fake := newFakeRemote()
	c := newTestCoordinator(t, fastHealthConfig(), fake)
	registerOnline(t, c, "a")

	var events atomic.Int32
	c.OnInstanceStatusChange(func(string, InstanceStatus, InstanceStatus) {
		events.Add(1)
	})

	c.StartHealthCheck()
	defer c.StopHealthCheck()

	// Let several sweeps run against an already-online instance.
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, events.Load(), "repeated healthy probes must not emit transitions")
}

func TestPanickingProbeCountsAsFailure(t *testing.T) {
	fake := &panickingRemote{fakeRemote: newFakeRemote()}
	c := newTestCoordinator(t, fastHealthConfig(), fake)
	registerOnline(t, c, "a")

	c.StartHealthCheck()
	defer c.StopHealthCheck()

	require.Eventually(t, func() bool {
		status, _ := c.GetInstanceStatus("a")
		return status == StatusOffline
	}, time.Second, 5*time.Millisecond)
}

type panickingRemote struct {
	*fakeRemote
}

func (p *panickingRemote) Probe(ctx context.Context, inst DatabaseInstance) error {
	panic("probe blew up")
}

func TestStopHealthCheckHaltsSweeps(t *testing.T) {
	fake := newFakeRemote()
	c := newTestCoordinator(t, fastHealthConfig(), fake)
	registerOnline(t, c, "a")

	c.StartHealthCheck()
	require.Eventually(t, func() bool {
		return c.stats.healthChecks.Load() > 0
	}, time.Second, 5*time.Millisecond)
	c.StopHealthCheck()

	checks := c.stats.healthChecks.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, checks, c.stats.healthChecks.Load())
}
