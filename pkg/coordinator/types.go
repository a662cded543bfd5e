package coordinator

import (
	"context"
	"time"
)

// InstanceStatus indicates the liveness state of a remote instance.
type InstanceStatus string

const (
	StatusOnline  InstanceStatus = "online"
	StatusOffline InstanceStatus = "offline"
	StatusSyncing InstanceStatus = "syncing"
)

// DatabaseInstance represents one remote vector store endpoint tracked by
// the coordinator. The URL is opaque to the core; only the RemoteClient
// interprets it.
type DatabaseInstance struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	Status      InstanceStatus    `json:"status"`
	LastSyncAt  time.Time         `json:"last_sync_at,omitempty"`
	VectorCount int               `json:"vector_count"`
	Version     string            `json:"version,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// VectorData is the snapshot of one record exchanged during sync and
// replication. Timestamp is the last-modified time in unix milliseconds.
type VectorData struct {
	ID        string            `json:"id"`
	Vector    []float32         `json:"vector"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// ConflictResolution selects how the sync engine settles records that
// disagree between the local and remote side.
type ConflictResolution string

const (
	// ResolveLastWriteWins keeps the side with the greater timestamp.
	ResolveLastWriteWins ConflictResolution = "last-write-wins"
	// ResolveManual leaves conflicts unresolved and reports them on the result.
	ResolveManual ConflictResolution = "manual"
	// ResolveMerge merges the two sides: the newer embedding wins wholesale,
	// metadata keys are unioned with the newer side winning collisions.
	ResolveMerge ConflictResolution = "merge"
)

// ConflictSuggestion is a non-binding hint attached to an unresolved conflict.
type ConflictSuggestion string

const (
	SuggestKeepLocal  ConflictSuggestion = "keep-local"
	SuggestKeepRemote ConflictSuggestion = "keep-remote"
	SuggestMerge      ConflictSuggestion = "merge"
)

// ConflictInfo describes one unresolved conflict under the manual policy.
type ConflictInfo struct {
	VectorID   string             `json:"vector_id"`
	Local      VectorData         `json:"local"`
	Remote     VectorData         `json:"remote"`
	Suggestion ConflictSuggestion `json:"suggestion"`
}

// SyncPhase is one step of a sync operation's progress.
type SyncPhase string

const (
	PhasePreparing SyncPhase = "preparing"
	PhaseFetching  SyncPhase = "fetching"
	PhaseApplying  SyncPhase = "applying"
	PhaseCompleted SyncPhase = "completed"
	PhaseError     SyncPhase = "error"
)

// SyncProgress is delivered synchronously to the progress callback as a sync
// moves through its phases.
type SyncProgress struct {
	Phase   SyncPhase
	Current int
	Total   int
}

// ProgressFunc receives progress events during a sync. It is called from the
// goroutine running the sync; a panicking callback is isolated and does not
// abort the operation.
type ProgressFunc func(SyncProgress)

// SyncOptions configures a single sync invocation.
type SyncOptions struct {
	// Resolution overrides the coordinator-wide conflict policy when set.
	Resolution ConflictResolution
	// BatchSize is the number of items per transfer batch. Default 100.
	BatchSize int
	// Timeout bounds the whole operation. Default 60s.
	Timeout time.Duration
	// ForceFullSync ignores LastSyncAt and transfers every record.
	ForceFullSync bool
	// NamespaceFilter restricts the sync to ids with this prefix.
	NamespaceFilter string
	// OnProgress, when set, receives phase transitions.
	OnProgress ProgressFunc
}

const (
	defaultBatchSize   = 100
	defaultSyncTimeout = 60 * time.Second
)

func (o SyncOptions) withDefaults(fallback ConflictResolution) SyncOptions {
	if o.Resolution == "" {
		o.Resolution = fallback
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultSyncTimeout
	}
	return o
}

// SyncResult is the outcome of one sync invocation. It is immutable once
// returned.
type SyncResult struct {
	OpID                string         `json:"op_id"`
	InstanceID          string         `json:"instance_id"`
	Success             bool           `json:"success"`
	ItemsSynced         int            `json:"items_synced"`
	ConflictsDetected   int            `json:"conflicts_detected"`
	ConflictsResolved   int            `json:"conflicts_resolved"`
	BytesTransferred    int64          `json:"bytes_transferred"`
	Duration            time.Duration  `json:"duration"`
	Error               string         `json:"error,omitempty"`
	UnresolvedConflicts []ConflictInfo `json:"unresolved_conflicts,omitempty"`
}

// Config holds the process-wide coordinator tunables.
type Config struct {
	// ReplicationFactor is the total desired number of copies including the
	// primary. Minimum 1 (primary only, no replication).
	ReplicationFactor int `json:"replication_factor"`
	// SyncInterval enables background sync of all online instances when > 0.
	SyncInterval time.Duration `json:"sync_interval"`
	// Resolution is the default conflict policy.
	Resolution ConflictResolution `json:"resolution"`
	// HealthCheckInterval drives the liveness probe loop.
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	// HealthCheckTimeout bounds a single probe.
	HealthCheckTimeout time.Duration `json:"health_check_timeout"`
	// AutoFailover re-syncs an instance when it transitions offline -> online.
	AutoFailover bool `json:"auto_failover"`
	// MaxRetries is the number of attempts per replication target.
	MaxRetries int `json:"max_retries"`
	// RetryDelay is the wait between replication attempts.
	RetryDelay time.Duration `json:"retry_delay"`
	// MaxConcurrentSyncs bounds SyncAll fan-out. 0 means unbounded.
	MaxConcurrentSyncs int `json:"max_concurrent_syncs"`
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		ReplicationFactor:   1,
		SyncInterval:        0,
		Resolution:          ResolveLastWriteWins,
		HealthCheckInterval: 30 * time.Second,
		HealthCheckTimeout:  5 * time.Second,
		AutoFailover:        true,
		MaxRetries:          3,
		RetryDelay:          time.Second,
		MaxConcurrentSyncs:  4,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ReplicationFactor < 1 {
		c.ReplicationFactor = def.ReplicationFactor
	}
	if c.Resolution == "" {
		c.Resolution = def.Resolution
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = def.HealthCheckInterval
	}
	if c.HealthCheckTimeout <= 0 {
		c.HealthCheckTimeout = def.HealthCheckTimeout
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.MaxConcurrentSyncs < 0 {
		c.MaxConcurrentSyncs = 0
	}
	return c
}

// Stats is a point-in-time snapshot of coordinator activity.
type Stats struct {
	Instances          int   `json:"instances"`
	OnlineInstances    int   `json:"online_instances"`
	OfflineInstances   int   `json:"offline_instances"`
	SyncingInstances   int   `json:"syncing_instances"`
	LocalVectors       int   `json:"local_vectors"`
	TotalSyncs         int64 `json:"total_syncs"`
	FailedSyncs        int64 `json:"failed_syncs"`
	ItemsSynced        int64 `json:"items_synced"`
	ConflictsDetected  int64 `json:"conflicts_detected"`
	ConflictsResolved  int64 `json:"conflicts_resolved"`
	BytesTransferred   int64 `json:"bytes_transferred"`
	ReplicationWrites  int64 `json:"replication_writes"`
	ReplicationFailed  int64 `json:"replication_failed"`
	HealthChecks       int64 `json:"health_checks"`
	StatusTransitions  int64 `json:"status_transitions"`
}

// PushRequest is the payload of one batch push. DetectOnly carries the
// sender's manual conflict policy across the wire: the receiver reports
// diverging records but leaves its own copies untouched, so resolution stays
// with the sender.
type PushRequest struct {
	Items      []VectorData `json:"items"`
	DetectOnly bool         `json:"detect_only,omitempty"`
}

// PushAck is the remote side's response to a batch push.
type PushAck struct {
	Accepted  int              `json:"accepted"`
	Conflicts []RemoteConflict `json:"conflicts,omitempty"`
	Bytes     int64            `json:"bytes"`
}

// RemoteConflict reports that the remote holds a diverging record for an id
// contained in a pushed batch.
type RemoteConflict struct {
	ID     string     `json:"id"`
	Remote VectorData `json:"remote"`
}

// PullResult is one page of records pulled from a remote instance.
type PullResult struct {
	Items      []VectorData `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
	Bytes      int64        `json:"bytes"`
}

func unixMilliTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// RemoteClient is the collaborator used to reach remote instances. All calls
// may fail or time out; implementations must honor ctx cancellation.
type RemoteClient interface {
	// Probe checks liveness. A nil error means the instance is reachable.
	Probe(ctx context.Context, inst DatabaseInstance) error
	// PushBatch upserts the request's items on the remote with
	// newer-timestamp-wins semantics and reports records where the remote
	// side diverged. With DetectOnly set, diverging records are reported but
	// never applied.
	PushBatch(ctx context.Context, inst DatabaseInstance, req PushRequest) (PushAck, error)
	// PullBatch reads one page of records starting at cursor ("" = start).
	PullBatch(ctx context.Context, inst DatabaseInstance, cursor string, limit int) (PullResult, error)
	// Write force-upserts a single record, ignoring timestamps.
	Write(ctx context.Context, inst DatabaseInstance, item VectorData) error
	// Delete removes a single record.
	Delete(ctx context.Context, inst DatabaseInstance, id string) error
}
