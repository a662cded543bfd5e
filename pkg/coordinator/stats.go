package coordinator

import "sync/atomic"

// statsCounters accumulates coordinator activity. All fields are updated
// atomically from the sync, health and replication paths.
type statsCounters struct {
	totalSyncs        atomic.Int64
	failedSyncs       atomic.Int64
	itemsSynced       atomic.Int64
	conflictsDetected atomic.Int64
	conflictsResolved atomic.Int64
	bytesTransferred  atomic.Int64
	replicationWrites atomic.Int64
	replicationFailed atomic.Int64
	healthChecks      atomic.Int64
	statusTransitions atomic.Int64
}

func (s *statsCounters) recordSync(res SyncResult) {
	s.totalSyncs.Add(1)
	if !res.Success {
		s.failedSyncs.Add(1)
	}
	s.itemsSynced.Add(int64(res.ItemsSynced))
	s.conflictsDetected.Add(int64(res.ConflictsDetected))
	s.conflictsResolved.Add(int64(res.ConflictsResolved))
	s.bytesTransferred.Add(res.BytesTransferred)
}

func (s *statsCounters) snapshot() Stats {
	return Stats{
		TotalSyncs:        s.totalSyncs.Load(),
		FailedSyncs:       s.failedSyncs.Load(),
		ItemsSynced:       s.itemsSynced.Load(),
		ConflictsDetected: s.conflictsDetected.Load(),
		ConflictsResolved: s.conflictsResolved.Load(),
		BytesTransferred:  s.bytesTransferred.Load(),
		ReplicationWrites: s.replicationWrites.Load(),
		ReplicationFailed: s.replicationFailed.Load(),
		HealthChecks:      s.healthChecks.Load(),
		StatusTransitions: s.statusTransitions.Load(),
	}
}
