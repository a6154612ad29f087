package manager

import (
	"fmt"
	"slices"

	"chatd/internal/common/fsutil"
)

// reserveMB accounts requiredMB for a load about to start, first evicting LRU
// idle handles until it fits budget + margin. Eviction and accounting happen
// under one lock so concurrent loads see each other's reservations.
// Referenced handles are never evicted; if idle ones are not enough the load
// proceeds over budget since sizes are estimates.
func (r *Registry) reserveMB(requiredMB int) {
	r.mu.Lock()
	var victims []*Handle
	for r.budgetMB > 0 && r.usedMB+requiredMB+r.marginMB > r.budgetMB {
		_, h, ok := r.idle.RemoveOldest()
		if !ok {
			break
		}
		r.evictLocked(h)
		victims = append(victims, h)
	}
	over := r.budgetMB > 0 && r.usedMB+requiredMB+r.marginMB > r.budgetMB
	used := r.usedMB
	r.usedMB += requiredMB
	r.mu.Unlock()
	r.finishEvict(victims, "budget")
	if over {
		r.log.Warn().Int("required_mb", requiredMB).Int("used_mb", used).Int("budget_mb", r.budgetMB).Msg("loading over memory budget; no idle models left to evict")
	}
}

// unreserveMB returns a reservation whose load failed.
func (r *Registry) unreserveMB(mb int) {
	r.mu.Lock()
	r.usedMB = max(0, r.usedMB-mb)
	r.mu.Unlock()
}

// trimIdleLocked removes the oldest idle handles until at most limit remain.
func (r *Registry) trimIdleLocked(limit int) []*Handle {
	var victims []*Handle
	for r.idle.Len() > limit {
		_, h, ok := r.idle.RemoveOldest()
		if !ok {
			break
		}
		r.evictLocked(h)
		victims = append(victims, h)
	}
	return victims
}

func (r *Registry) evictLocked(h *Handle) {
	h.evicted = true
	delete(r.live, h.Path)
	r.usedMB -= h.SizeMB
	if r.usedMB < 0 {
		r.usedMB = 0
	}
	r.evictions++
}

// finishEvict notifies listeners and closes models outside the registry lock.
func (r *Registry) finishEvict(victims []*Handle, reason string) {
	if len(victims) == 0 {
		return
	}
	r.mu.Lock()
	hooks := slices.Clone(r.onEvict)
	r.mu.Unlock()
	for _, h := range victims {
		for _, fn := range hooks {
			fn(h)
		}
		if err := h.model.Close(); err != nil {
			r.log.Error().Err(err).Str("path", h.Path).Msg("close evicted model")
		}
		evictionsTotal.WithLabelValues(reason).Inc()
		loadedModels.Dec()
		r.log.Info().Str("path", h.Path).Str("reason", reason).Msg("model evicted")
		r.pub.Publish(Event{Name: "model_evict", ModelPath: h.Path, Fields: map[string]any{"reason": reason}})
	}
}

// Trim evicts up to n least recently used idle models (n <= 0 evicts all idle)
// and returns how many were evicted. It is the memory-pressure entry point.
func (r *Registry) Trim(n int) int {
	r.mu.Lock()
	limit := 0
	if n > 0 {
		limit = max(0, r.idle.Len()-n)
	}
	victims := r.trimIdleLocked(limit)
	r.mu.Unlock()
	r.finishEvict(victims, "trim")
	return len(victims)
}

// Evict unloads the model at path if it is idle.
func (r *Registry) Evict(path string) error {
	key, err := fsutil.Resolve(path)
	if err != nil {
		return ErrValidation(err.Error())
	}
	r.mu.Lock()
	h, ok := r.live[key]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("model not loaded: %s", key)
	}
	if h.refs > 0 {
		r.mu.Unlock()
		return fmt.Errorf("model in use: %s (%d refs)", key, h.refs)
	}
	r.idle.Remove(key)
	r.evictLocked(h)
	r.mu.Unlock()
	r.finishEvict([]*Handle{h}, "manual")
	return nil
}
