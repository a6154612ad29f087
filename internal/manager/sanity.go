package manager

import "chatd/internal/llm"

// SanityReport describes whether the inference engine can run.
type SanityReport struct {
	EngineBuilt bool   `json:"engine_built"`
	Error       string `json:"error,omitempty"`
}

// SanityCheck reports engine availability. It does not mutate state and is
// safe to call at any time.
func (m *Manager) SanityCheck() SanityReport {
	r := SanityReport{EngineBuilt: llm.Built}
	if !llm.Built {
		r.Error = llm.ErrNotBuilt.Error()
	}
	return r
}
