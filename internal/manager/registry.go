package manager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"chatd/internal/common/fsutil"
	"chatd/internal/gguf"
	"chatd/internal/llm"
)

// Handle is a loaded model. The registry owns it; callers borrow it between
// Acquire and Release.
type Handle struct {
	Path         string
	Architecture string
	LoadedAt     time.Time
	SizeMB       int

	model llm.Model
	gate  *gate

	// guarded by Registry.mu
	refs     int
	lastUsed time.Time
	evicted  bool
}

// Model returns the engine model backing the handle.
func (h *Handle) Model() llm.Model { return h.model }

// Registry loads each model path at most once and keeps it while referenced.
// Unreferenced handles stay cached in LRU order until evicted.
type Registry struct {
	mu       sync.Mutex
	engine   llm.Engine
	log      zerolog.Logger
	pub      EventPublisher
	archs    []string
	budgetMB int
	marginMB int
	maxIdle  int
	depth    int

	live   map[string]*Handle
	idle   *simplelru.LRU[string, *Handle]
	usedMB int
	group  singleflight.Group

	onEvict []func(*Handle)

	loads     uint64
	hits      uint64
	evictions uint64
}

// NewRegistry builds a registry from the registry-related fields of cfg.
func NewRegistry(cfg ManagerConfig) *Registry {
	cfg = cfg.withDefaults()
	// Capacity leaves room for one insert before trimIdleLocked runs,
	// so Add never drops an entry without closing it.
	idle, err := simplelru.NewLRU[string, *Handle](cfg.MaxIdleModels+1, nil)
	if err != nil {
		panic(err)
	}
	return &Registry{
		engine:   cfg.Engine,
		log:      cfg.Logger.With().Str("component", "registry").Logger(),
		pub:      cfg.Publisher,
		archs:    cfg.Architectures,
		budgetMB: cfg.BudgetMB,
		marginMB: cfg.MarginMB,
		maxIdle:  cfg.MaxIdleModels,
		depth:    cfg.MaxQueueDepth,
		live:     make(map[string]*Handle),
		idle:     idle,
	}
}

// OnEvict registers fn to run after a handle is evicted, before its model is closed.
func (r *Registry) OnEvict(fn func(*Handle)) {
	r.mu.Lock()
	r.onEvict = append(r.onEvict, fn)
	r.mu.Unlock()
}

// Acquire returns a handle for path, loading the model on first use.
// Concurrent first acquisitions share one load. The load itself is not
// interruptible; ctx is only checked before it starts.
func (r *Registry) Acquire(ctx context.Context, path string) (*Handle, error) {
	key, err := fsutil.Resolve(path)
	if err != nil {
		return nil, ErrModelLoad(path, err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.mu.Lock()
		if h, ok := r.live[key]; ok {
			r.retainLocked(h)
			r.hits++
			r.mu.Unlock()
			cacheHitsTotal.Inc()
			return h, nil
		}
		r.mu.Unlock()

		v, err, _ := r.group.Do(key, func() (any, error) { return r.load(key) })
		if err != nil {
			return nil, err
		}
		h := v.(*Handle)
		r.mu.Lock()
		if !h.evicted {
			r.retainLocked(h)
			r.mu.Unlock()
			return h, nil
		}
		// Evicted between load and retain; go around again.
		r.mu.Unlock()
	}
}

// Release returns a reference taken by Acquire. Releasing more times than
// acquired is logged and ignored.
func (r *Registry) Release(h *Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	if h.refs <= 0 {
		r.mu.Unlock()
		r.log.Warn().Str("path", h.Path).Msg("release of unreferenced model handle")
		return
	}
	h.refs--
	h.lastUsed = time.Now()
	var victims []*Handle
	if h.refs == 0 && !h.evicted {
		r.idle.Add(h.Path, h)
		victims = r.trimIdleLocked(r.maxIdle)
	}
	r.mu.Unlock()
	r.finishEvict(victims, "idle_cap")
}

func (r *Registry) retainLocked(h *Handle) {
	if h.refs == 0 {
		r.idle.Remove(h.Path)
	}
	h.refs++
}

// load reads the header, makes room under the budget and asks the engine to
// load the weights. The new handle is inserted with no references and outside
// the idle list, so it cannot be evicted before the waiting callers retain it.
func (r *Registry) load(key string) (*Handle, error) {
	r.mu.Lock()
	if h, ok := r.live[key]; ok {
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	start := time.Now()
	h, err := r.open(key)
	if err != nil {
		modelLoadsTotal.WithLabelValues("error").Inc()
		r.log.Error().Err(err).Str("path", key).Msg("model load failed")
		r.pub.Publish(Event{Name: "model_load_error", ModelPath: key, Fields: map[string]any{"error": err.Error()}})
		return nil, err
	}

	r.mu.Lock()
	r.live[key] = h
	r.loads++
	r.mu.Unlock()
	modelLoadsTotal.WithLabelValues("ok").Inc()
	loadedModels.Inc()
	dur := time.Since(start)
	r.log.Info().Str("path", key).Str("arch", h.Architecture).Int("size_mb", h.SizeMB).Dur("dur", dur).Msg("model loaded")
	r.pub.Publish(Event{Name: "model_load", ModelPath: key, Fields: map[string]any{"arch": h.Architecture, "dur_ms": dur.Milliseconds()}})
	return h, nil
}

func (r *Registry) open(key string) (*Handle, error) {
	if !fsutil.PathExists(key) {
		return nil, ErrModelLoad(key, errors.New("file not found"))
	}
	hdr, err := gguf.ReadFile(key)
	if err != nil {
		return nil, ErrModelLoad(key, err)
	}
	if !slices.Contains(r.archs, hdr.Architecture) {
		return nil, ErrModelLoad(key, fmt.Errorf("unsupported architecture %q", hdr.Architecture))
	}
	size := fsutil.SizeMB(key)
	r.reserveMB(size)
	mdl, err := r.engine.Load(key)
	if err != nil {
		r.unreserveMB(size)
		return nil, ErrModelLoad(key, err)
	}
	now := time.Now()
	return &Handle{
		Path:         key,
		Architecture: hdr.Architecture,
		LoadedAt:     now,
		SizeMB:       size,
		model:        mdl,
		gate:         newGate(key, r.depth),
		lastUsed:     now,
	}, nil
}

// Close evicts every idle model. Models still referenced are left to their holders.
func (r *Registry) Close() error {
	n := r.Trim(0)
	r.mu.Lock()
	inUse := len(r.live)
	r.mu.Unlock()
	if inUse > 0 {
		r.log.Warn().Int("in_use", inUse).Int("evicted", n).Msg("registry closed with models still referenced")
	}
	return nil
}

// HandleInfo is a point-in-time view of a handle for status reporting.
type HandleInfo struct {
	Path         string
	Architecture string
	Refs         int
	LoadedAt     time.Time
	LastUsed     time.Time
	SizeMB       int
	// QueueLen counts requests waiting for the model; Inflight is 1 while one executes.
	QueueLen int
	Inflight int
}

// RegistryStats summarizes the registry.
type RegistryStats struct {
	Handles   []HandleInfo
	UsedMB    int
	BudgetMB  int
	MarginMB  int
	Loads     uint64
	Hits      uint64
	Evictions uint64
}

// Stats returns a snapshot of loaded models and counters.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := RegistryStats{
		UsedMB:    r.usedMB,
		BudgetMB:  r.budgetMB,
		MarginMB:  r.marginMB,
		Loads:     r.loads,
		Hits:      r.hits,
		Evictions: r.evictions,
	}
	for _, h := range r.live {
		st.Handles = append(st.Handles, HandleInfo{
			Path:         h.Path,
			Architecture: h.Architecture,
			Refs:         h.refs,
			LoadedAt:     h.LoadedAt,
			LastUsed:     h.lastUsed,
			SizeMB:       h.SizeMB,
			QueueLen:     h.gate.queueLen(),
			Inflight:     h.gate.inflight(),
		})
	}
	slices.SortFunc(st.Handles, func(a, b HandleInfo) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})
	return st
}
