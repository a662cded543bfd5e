package coordinator

import (
	"sort"
	"strings"
	"sync"
)

// timestampIndex tracks the last-modified time (unix milliseconds) of every
// locally held vector id. It is the enumeration source for outbound sync and
// the divergence reference for inbound writes. Owned by the coordinator,
// never exposed for external mutation.
type timestampIndex struct {
	mu sync.RWMutex
	ts map[string]int64
}

func newTimestampIndex() *timestampIndex {
	return &timestampIndex{ts: make(map[string]int64)}
}

func (x *timestampIndex) touch(id string, ts int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ts[id] = ts
}

func (x *timestampIndex) remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.ts, id)
}

func (x *timestampIndex) get(id string) (int64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ts, ok := x.ts[id]
	return ts, ok
}

func (x *timestampIndex) len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ts)
}

// snapshot returns the ids matching prefix in stable (sorted) order, so that
// batch enumeration and pull cursors are deterministic.
func (x *timestampIndex) snapshot(prefix string) []string {
	x.mu.RLock()
	ids := make([]string, 0, len(x.ts))
	for id := range x.ts {
		if prefix != "" && !strings.HasPrefix(id, prefix) {
			continue
		}
		ids = append(ids, id)
	}
	x.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (x *timestampIndex) clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ts = make(map[string]int64)
}
