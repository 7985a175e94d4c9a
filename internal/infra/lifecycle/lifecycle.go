// Package lifecycle implements the model lifecycle manager: an in-memory
// LRU of materialized model instances with pinning, busy-reference
// counting, idle eviction, and coalesced concurrent loads.
//
// Coalescing uses a per-model set of waiter channels woken by a
// non-blocking broadcast, rather than one-shot channels, so any number
// of concurrent callers observe a single materialization. The load and
// unload callbacks are always invoked with the manager lock released:
// the lock is retaken only to mutate the map, the loading set, or the
// waiter list, never while load/unload are running.
package lifecycle

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tutu-network/inferencegate/internal/metrics"
)

// Status is the externally observable state of one model_id.
type Status string

const (
	StatusUnloaded Status = "unloaded"
	StatusLoading  Status = "loading"
	StatusLoaded   Status = "loaded"
	StatusBusy     Status = "busy"
)

// LoadFunc materializes a model instance. It must not be called while any
// lock is held by the caller of Manager.
type LoadFunc func(ctx context.Context, modelID string) (instance any, memoryBytes uint64, err error)

// UnloadFunc releases a materialized instance.
type UnloadFunc func(modelID string, instance any)

// LoadOptions configures one Load call.
type LoadOptions struct {
	Pinned          bool
	Wait            bool
	UseFallback     bool
	FallbackModelID string
}

// Entry is a snapshot of one loaded-model entry, safe to read after the
// call that produced it (no live references into manager state).
type Entry struct {
	ModelID     string
	Instance    any
	LoadedAt    time.Time
	LastUsedAt  time.Time
	IsPinned    bool
	MemoryBytes uint64
	BusyCount   int32
}

// Status derives the busy/loaded projection of an entry.
func (e Entry) Status() Status {
	if e.BusyCount > 0 {
		return StatusBusy
	}
	return StatusLoaded
}

type entry struct {
	modelID     string
	instance    any
	loadedAt    time.Time
	lastUsedAt  time.Time
	isPinned    bool
	memoryBytes uint64
	busyCount   int32
	element     *list.Element
}

func (e *entry) snapshot() Entry {
	return Entry{
		ModelID: e.modelID, Instance: e.instance, LoadedAt: e.loadedAt,
		LastUsedAt: e.lastUsedAt, IsPinned: e.isPinned, MemoryBytes: e.memoryBytes,
		BusyCount: e.busyCount,
	}
}

type loadResult struct {
	entry *entry
	err   error
}

// Manager is the model lifecycle manager. One mutex guards the ordered
// map, the loading set, the pinned set, and the waiter lists; it is never
// held across Load/Unload callback invocations.
type Manager struct {
	mu sync.Mutex

	entries map[string]*entry
	order   *list.List // MRU at front

	loading map[string]*loadInFlight
	pinned  map[string]bool

	defaultModelID string
	maxLoaded      int
	idleTimeout    time.Duration

	load   LoadFunc
	unload UnloadFunc
}

type loadInFlight struct {
	waiters map[chan struct{}]bool
	result  *loadResult // set once, just before waiters are broadcast
}

func newLoadInFlight() *loadInFlight {
	return &loadInFlight{waiters: make(map[chan struct{}]bool)}
}

func (l *loadInFlight) addWaiter() chan struct{} {
	ch := make(chan struct{})
	l.waiters[ch] = true
	return ch
}

func (l *loadInFlight) removeWaiter(ch chan struct{}) {
	delete(l.waiters, ch)
}

// broadcast wakes every registered waiter without blocking on any of them.
func (l *loadInFlight) broadcast() {
	for ch := range l.waiters {
		close(ch)
	}
	l.waiters = make(map[chan struct{}]bool)
}

// New creates a lifecycle manager. load/unload are invoked with no lock
// held; callers may safely call back into Manager's read-only methods
// (Status, LoadedModels) from within them.
func New(maxLoaded int, idleTimeout time.Duration, load LoadFunc, unload UnloadFunc) *Manager {
	return &Manager{
		entries:     make(map[string]*entry),
		order:       list.New(),
		loading:     make(map[string]*loadInFlight),
		pinned:      make(map[string]bool),
		maxLoaded:   maxLoaded,
		idleTimeout: idleTimeout,
		load:        load,
		unload:      unload,
	}
}

// SetDefault records the modality-wide default model id; entries for it
// are always treated as pinned once loaded.
func (m *Manager) SetDefault(modelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultModelID = modelID
	if e, ok := m.entries[modelID]; ok {
		e.isPinned = true
	}
}

// Status reports the current state of a model_id. Pure, lock-only.
func (m *Manager) Status(modelID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[modelID]; ok {
		if e.busyCount > 0 {
			return StatusBusy
		}
		return StatusLoaded
	}
	if _, ok := m.loading[modelID]; ok {
		return StatusLoading
	}
	return StatusUnloaded
}

// Pin records modelID as aspirationally pinned; if it is currently
// loaded, its entry is flipped to pinned immediately.
func (m *Manager) Pin(modelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned[modelID] = true
	if e, ok := m.entries[modelID]; ok {
		e.isPinned = true
	}
}

// Load is the heart of the manager. It returns the materialized instance,
// coalescing concurrent cold loads of the same model_id into one call to
// the load callback.
func (m *Manager) Load(ctx context.Context, modelID string, opts LoadOptions) (*Entry, error) {
	m.mu.Lock()

	// 1. already loaded: touch recency, return.
	if e, ok := m.entries[modelID]; ok {
		e.lastUsedAt = time.Now()
		m.order.MoveToFront(e.element)
		snap := e.snapshot()
		m.mu.Unlock()
		return &snap, nil
	}

	// 2. a load is already in flight for this id.
	if inFlight, ok := m.loading[modelID]; ok {
		if opts.UseFallback {
			fb := opts.FallbackModelID
			if fb == "" {
				fb = m.defaultModelID
			}
			if e, ok := m.entries[fb]; ok {
				snap := e.snapshot()
				m.mu.Unlock()
				return &snap, nil
			}
			m.mu.Unlock()
			return nil, nil
		}
		if !opts.Wait {
			m.mu.Unlock()
			return nil, nil
		}
		waitCh := inFlight.addWaiter()
		m.mu.Unlock()

		select {
		case <-waitCh:
		case <-ctx.Done():
			m.mu.Lock()
			inFlight.removeWaiter(waitCh)
			m.mu.Unlock()
			return nil, ctx.Err()
		}

		m.mu.Lock()
		result := inFlight.result
		if result == nil || result.err != nil {
			m.mu.Unlock()
			if result != nil {
				return nil, result.err
			}
			return nil, nil
		}
		snap := result.entry.snapshot()
		m.mu.Unlock()
		return &snap, nil
	}

	// 3. cold path: evict to fit, register as loading, drop the lock,
	// invoke the load callback outside the lock entirely.
	m.evictToFit()
	inFlight := newLoadInFlight()
	m.loading[modelID] = inFlight
	m.mu.Unlock()

	loadStarted := time.Now()
	instance, memBytes, err := m.load(ctx, modelID)

	m.mu.Lock()
	delete(m.loading, modelID)
	if err != nil {
		inFlight.result = &loadResult{err: fmt.Errorf("load model %q: %w", modelID, err)}
		inFlight.broadcast()
		m.mu.Unlock()
		return nil, inFlight.result.err
	}

	// Another cold load may have filled the map while ours was running;
	// re-evict before inserting so the budget holds across interleavings.
	m.evictToFit()

	e := &entry{
		modelID:     modelID,
		instance:    instance,
		loadedAt:    time.Now(),
		lastUsedAt:  time.Now(),
		memoryBytes: memBytes,
		isPinned:    opts.Pinned || modelID == m.defaultModelID || m.pinned[modelID],
	}
	e.element = m.order.PushFront(e)
	m.entries[modelID] = e
	metrics.ModelLoadLatency.WithLabelValues(modelID).Observe(time.Since(loadStarted).Seconds())
	metrics.ModelsLoaded.Set(float64(len(m.entries)))

	inFlight.result = &loadResult{entry: e}
	inFlight.broadcast()
	snap := e.snapshot()
	m.mu.Unlock()
	return &snap, nil
}

// evictToFit evicts LRU non-pinned, non-busy entries while over capacity.
// Caller must hold m.mu. If every remaining entry is busy, it gives up —
// the budget is best-effort under pressure, never enforced by evicting
// busy work.
func (m *Manager) evictToFit() {
	for len(m.entries) >= m.maxLoaded {
		if !m.evictOneLocked(false) {
			return
		}
	}
}

// evictOneLocked evicts the LRU entry eligible for eviction. If force is
// true, pinned entries are eligible too (busy entries never are).
// Caller must hold m.mu. The unload callback itself runs without the
// lock held.
func (m *Manager) evictOneLocked(force bool) bool {
	for e := m.order.Back(); e != nil; e = e.Prev() {
		ent := e.Value.(*entry)
		if ent.busyCount > 0 {
			continue
		}
		if ent.isPinned && !force {
			continue
		}
		m.order.Remove(e)
		delete(m.entries, ent.modelID)
		metrics.ModelEvictions.WithLabelValues("lru").Inc()
		metrics.ModelsLoaded.Set(float64(len(m.entries)))
		m.mu.Unlock()
		m.unload(ent.modelID, ent.instance)
		m.mu.Lock()
		return true
	}
	return false
}

// Unload removes a loaded entry. Idempotent if already absent. Refuses
// unconditionally if busy; refuses on pinned unless force=true.
func (m *Manager) Unload(modelID string, force bool) bool {
	m.mu.Lock()
	e, ok := m.entries[modelID]
	if !ok {
		m.mu.Unlock()
		return true
	}
	if e.busyCount > 0 {
		m.mu.Unlock()
		return false
	}
	if e.isPinned && !force {
		m.mu.Unlock()
		return false
	}
	m.order.Remove(e.element)
	delete(m.entries, modelID)
	metrics.ModelEvictions.WithLabelValues("manual").Inc()
	metrics.ModelsLoaded.Set(float64(len(m.entries)))
	m.mu.Unlock()

	m.unload(modelID, e.instance)
	return true
}

// MarkBusy increments the busy refcount. Returns false if not loaded —
// the caller must Load first.
func (m *Manager) MarkBusy(modelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[modelID]
	if !ok {
		return false
	}
	e.busyCount++
	return true
}

// MarkIdle decrements the busy refcount, lower-bounded at 0, and touches
// last_used_at once the count reaches zero.
func (m *Manager) MarkIdle(modelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[modelID]
	if !ok {
		return
	}
	if e.busyCount > 0 {
		e.busyCount--
	}
	if e.busyCount == 0 {
		e.lastUsedAt = time.Now()
	}
}

// CheckIdleTimeout unloads every non-pinned, non-busy entry idle for at
// least the configured timeout. Intended to run every 30s from a ticker
// owned by the daemon.
func (m *Manager) CheckIdleTimeout() {
	now := time.Now()
	for {
		m.mu.Lock()
		var victim *entry
		for e := m.order.Back(); e != nil; e = e.Prev() {
			ent := e.Value.(*entry)
			if ent.busyCount > 0 || ent.isPinned {
				continue
			}
			if now.Sub(ent.lastUsedAt) >= m.idleTimeout {
				victim = ent
				break
			}
		}
		if victim == nil {
			m.mu.Unlock()
			return
		}
		m.order.Remove(victim.element)
		delete(m.entries, victim.modelID)
		metrics.ModelEvictions.WithLabelValues("idle").Inc()
		metrics.ModelsLoaded.Set(float64(len(m.entries)))
		m.mu.Unlock()

		m.unload(victim.modelID, victim.instance)
	}
}

// LoadedModels returns a snapshot of every currently loaded entry, for
// observability endpoints.
func (m *Manager) LoadedModels() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for e := m.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*entry).snapshot())
	}
	return out
}

// UnloadAll force-unloads every entry, for shutdown. Busy entries are
// still released — shutdown reclaims memory even while requests are
// in flight, per the shutdown cancellation policy.
func (m *Manager) UnloadAll() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for e := m.order.Front(); e != nil; e = e.Next() {
		entries = append(entries, e.Value.(*entry))
	}
	m.entries = make(map[string]*entry)
	m.order = list.New()
	metrics.ModelsLoaded.Set(0)
	m.mu.Unlock()

	for _, e := range entries {
		m.unload(e.modelID, e.instance)
	}
}

// RunIdleMonitor runs CheckIdleTimeout on a 30s ticker until ctx is
// cancelled.
func (m *Manager) RunIdleMonitor(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckIdleTimeout()
		}
	}
}
