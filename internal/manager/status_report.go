package manager

import (
	"time"

	"chatd/pkg/types"
)

// Status builds the detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	st := m.registry.Stats()
	now := time.Now()
	resp := types.StatusResponse{
		BudgetMB:       st.BudgetMB,
		UsedMB:         st.UsedMB,
		MarginMB:       st.MarginMB,
		UptimeSeconds:  int64(now.Sub(m.started).Seconds()),
		ServerTimeUnix: now.Unix(),
		LoadsTotal:     st.Loads,
		CacheHitsTotal: st.Hits,
		EvictionsTotal: st.Evictions,
		Sessions:       m.sessions.Len(),
		WorkersBusy:    m.pool.Busy(),
		Workers:        m.pool.Size(),
	}
	m.mu.RLock()
	resp.LastError = m.lastErr
	m.mu.RUnlock()

	resp.Instances = make([]types.InstanceStatus, 0, len(st.Handles))
	for _, h := range st.Handles {
		is := types.InstanceStatus{
			Path:          h.Path,
			Architecture:  h.Architecture,
			State:         "idle",
			Refs:          h.Refs,
			LoadedAt:      h.LoadedAt.Unix(),
			LastUsed:      h.LastUsed.Unix(),
			SizeMB:        h.SizeMB,
			QueueLen:      h.QueueLen,
			Inflight:      h.Inflight,
			MaxQueueDepth: m.cfg.MaxQueueDepth,
		}
		if h.Refs > 0 {
			is.State = "in_use"
		}
		resp.Instances = append(resp.Instances, is)
	}
	return resp
}
