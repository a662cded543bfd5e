package coordinator

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vex/storage"
)

// fakeRemote is a configurable in-memory RemoteClient for tests.
type fakeRemote struct {
	mu sync.Mutex

	probeErr  map[string]error
	pushErr   error
	writeErr  error
	deleteErr error

	pushDelay   time.Duration
	panicOnPush bool

	// conflicts are reported once, on the next push.
	conflicts []RemoteConflict
	// pullPages are served in order; the cursor is the page index.
	pullPages [][]VectorData

	pushes         int
	pushedItem     []VectorData
	detectOnlySeen []bool
	writes         []VectorData
	writeTo        []string
	deletes        map[string][]string

	concurrent    atomic.Int32
	maxConcurrent atomic.Int32
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		probeErr: make(map[string]error),
		deletes:  make(map[string][]string),
	}
}

func (f *fakeRemote) Probe(ctx context.Context, inst DatabaseInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeErr[inst.ID]
}

func (f *fakeRemote) PushBatch(ctx context.Context, inst DatabaseInstance, req PushRequest) (PushAck, error) {
	cur := f.concurrent.Add(1)
	defer f.concurrent.Add(-1)
	for {
		max := f.maxConcurrent.Load()
		if cur <= max || f.maxConcurrent.CompareAndSwap(max, cur) {
			break
		}
	}

	if f.panicOnPush {
		panic("remote exploded")
	}
	if f.pushDelay > 0 {
		select {
		case <-ctx.Done():
			return PushAck{}, ctx.Err()
		case <-time.After(f.pushDelay):
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return PushAck{}, f.pushErr
	}
	f.pushes++
	f.pushedItem = append(f.pushedItem, req.Items...)
	f.detectOnlySeen = append(f.detectOnlySeen, req.DetectOnly)
	ack := PushAck{Accepted: len(req.Items), Bytes: int64(len(req.Items)) * 64, Conflicts: f.conflicts}
	f.conflicts = nil
	return ack, nil
}

func (f *fakeRemote) PullBatch(ctx context.Context, inst DatabaseInstance, cursor string, limit int) (PullResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := 0
	if cursor != "" {
		page, _ = strconv.Atoi(cursor)
	}
	if page >= len(f.pullPages) {
		return PullResult{}, nil
	}
	res := PullResult{Items: f.pullPages[page], Bytes: int64(len(f.pullPages[page])) * 64}
	if page+1 < len(f.pullPages) {
		res.NextCursor = strconv.Itoa(page + 1)
	}
	return res, nil
}

func (f *fakeRemote) Write(ctx context.Context, inst DatabaseInstance, item VectorData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, item)
	f.writeTo = append(f.writeTo, inst.ID)
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, inst DatabaseInstance, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes[inst.ID] = append(f.deletes[inst.ID], id)
	return nil
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes
}

func (f *fakeRemote) writeTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writeTo...)
}

func (f *fakeRemote) detectOnlyFlags() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.detectOnlySeen...)
}

func (f *fakeRemote) setConflicts(cs ...RemoteConflict) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicts = cs
}

// newTestCoordinator builds a coordinator over a memory store with logs
// discarded.
func newTestCoordinator(t *testing.T, cfg Config, remote RemoteClient) *Coordinator {
	t.Helper()
	return newStoreCoordinator(t, cfg, storage.NewMemoryStore(), remote)
}

func newStoreCoordinator(t *testing.T, cfg Config, store storage.VectorStore, remote RemoteClient) *Coordinator {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(cfg, store, remote, log)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func registerOnline(t *testing.T, c *Coordinator, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := c.RegisterInstance(DatabaseInstance{ID: id, URL: "http://" + id}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
}
