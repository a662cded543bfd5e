package coordinator

import (
	"log/slog"
	"sync"
)

// StatusObserver is invoked synchronously whenever an instance transitions
// between statuses. A panicking observer is isolated: it neither prevents
// the status update nor aborts the other observers.
type StatusObserver func(id string, oldStatus, newStatus InstanceStatus)

// syncGuard enforces at most one active sync per instance id, covering both
// directions. It is the only mutual-exclusion primitive between syncs.
type syncGuard struct {
	mu     sync.Mutex
	active map[string]bool
}

func newSyncGuard() *syncGuard {
	return &syncGuard{active: make(map[string]bool)}
}

// tryAcquire claims the guard for id. It returns false if a sync is already
// in flight.
func (g *syncGuard) tryAcquire(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[id] {
		return false
	}
	g.active[id] = true
	return true
}

func (g *syncGuard) release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, id)
}

func (g *syncGuard) isActive(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[id]
}

func (g *syncGuard) clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = make(map[string]bool)
}

// registry is the authoritative map of known instances and their status.
// Every other component reads and mutates instance state through it; none
// holds a private copy.
type registry struct {
	mu        sync.RWMutex
	instances map[string]*DatabaseInstance
	guard     *syncGuard
	log       *slog.Logger

	obsMu     sync.Mutex
	observers map[int]StatusObserver
	nextObsID int
}

func newRegistry(guard *syncGuard, log *slog.Logger) *registry {
	return &registry{
		instances: make(map[string]*DatabaseInstance),
		guard:     guard,
		log:       log,
		observers: make(map[int]StatusObserver),
	}
}

// register adds a new instance. The stored record is a copy; callers cannot
// mutate registry state through the argument afterwards. Only online and
// offline are accepted as incoming statuses: syncing is owned by the sync
// engine, so anything else normalizes to online and the health monitor
// corrects it on the next sweep.
func (r *registry) register(inst DatabaseInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.instances[inst.ID]; exists {
		return ErrDuplicateInstance
	}
	if inst.Status != StatusOffline {
		inst.Status = StatusOnline
	}
	inst.Metadata = copyStringMap(inst.Metadata)
	r.instances[inst.ID] = &inst
	return nil
}

// unregister removes an instance. It fails while a sync targeting the id is
// in flight.
func (r *registry) unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.instances[id]; !exists {
		return ErrInstanceNotFound
	}
	if r.guard.isActive(id) {
		return ErrInstanceBusy
	}
	delete(r.instances, id)
	return nil
}

func (r *registry) get(id string) (DatabaseInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	if !ok {
		return DatabaseInstance{}, ErrInstanceNotFound
	}
	return *inst, nil
}

func (r *registry) list() []DatabaseInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DatabaseInstance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, *inst)
	}
	return out
}

func (r *registry) listOnline() []DatabaseInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DatabaseInstance, 0, len(r.instances))
	for _, inst := range r.instances {
		if inst.Status == StatusOnline {
			out = append(out, *inst)
		}
	}
	return out
}

// setStatus transitions an instance and notifies observers. Unchanged status
// is a no-op and produces no observer calls.
func (r *registry) setStatus(id string, status InstanceStatus) {
	r.mu.Lock()
	inst, ok := r.instances[id]
	if !ok || inst.Status == status {
		r.mu.Unlock()
		return
	}
	old := inst.Status
	inst.Status = status
	r.mu.Unlock()

	r.log.Info("instance status changed", "instance", id, "from", old, "to", status)
	r.notify(id, old, status)
}

// updateSyncState records the outcome of a completed sync on the instance.
func (r *registry) updateSyncState(id string, lastSync int64, vectorCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[id]; ok {
		inst.LastSyncAt = unixMilliTime(lastSync)
		inst.VectorCount = vectorCount
	}
}

// subscribe registers a status observer and returns its unsubscribe handle.
func (r *registry) subscribe(fn StatusObserver) func() {
	r.obsMu.Lock()
	id := r.nextObsID
	r.nextObsID++
	r.observers[id] = fn
	r.obsMu.Unlock()
	return func() {
		r.obsMu.Lock()
		delete(r.observers, id)
		r.obsMu.Unlock()
	}
}

func (r *registry) notify(id string, old, status InstanceStatus) {
	r.obsMu.Lock()
	fns := make([]StatusObserver, 0, len(r.observers))
	for _, fn := range r.observers {
		fns = append(fns, fn)
	}
	r.obsMu.Unlock()

	for _, fn := range fns {
		r.safeNotify(fn, id, old, status)
	}
}

func (r *registry) safeNotify(fn StatusObserver, id string, old, status InstanceStatus) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("status observer panicked", "instance", id, "panic", rec)
		}
	}()
	fn(id, old, status)
}

func (r *registry) clear() {
	r.mu.Lock()
	r.instances = make(map[string]*DatabaseInstance)
	r.mu.Unlock()
	r.obsMu.Lock()
	r.observers = make(map[int]StatusObserver)
	r.obsMu.Unlock()
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
