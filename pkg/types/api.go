package types

// ChatRequest is the body accepted by POST /api/chat.
type ChatRequest struct {
	// Prompt text to generate a completion for.
	// example: Hello
	Prompt string `json:"prompt" example:"Hello"`
	// Path of the model file to run the prompt against.
	// example: /models/tiny.bin
	ModelPath string `json:"model_path" example:"/models/tiny.bin"`
	// Maximum number of new tokens to generate. Zero or omitted uses the server default (140).
	// example: 140
	MaxTokens int `json:"max_tokens,omitempty" example:"140"`
}

// ChatResponse is returned by POST /api/chat on success.
type ChatResponse struct {
	// Generated text prefixed with "Inference result: ".
	// example: Inference result: Hello there!
	Response string `json:"response" example:"Inference result: Hello there!"`
}

// ModelsResponse wraps the list of models returned by GET /models on the admin listener.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// InstanceStatus summarizes a loaded model for /status.
type InstanceStatus struct {
	// Absolute model path (registry key).
	// example: /models/tiny.bin
	Path string `json:"path" example:"/models/tiny.bin"`
	// Architecture read from the model header.
	// example: llama
	Architecture string `json:"architecture" example:"llama"`
	// Lifecycle state: in_use or idle.
	// example: idle
	State string `json:"state" example:"idle"`
	// Outstanding handle references.
	// example: 1
	Refs int `json:"refs" example:"1"`
	// Load time (unix seconds).
	// example: 1700000000
	LoadedAt int64 `json:"loaded_at_unix" example:"1700000000"`
	// Last time this model was released (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Estimated memory in MB (file size).
	// example: 638
	SizeMB int `json:"size_mb" example:"638"`
	// Requests waiting for the session of this model.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Requests currently executing against this model (0 or 1).
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Maximum queued requests allowed before backpressure triggers.
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
}

// StatusResponse is returned by GET /status on the admin listener.
type StatusResponse struct {
	// Loaded models.
	Instances []InstanceStatus `json:"instances"`
	// Memory budget in MB across all loaded models (0 = unlimited).
	// example: 8192
	BudgetMB int `json:"budget_mb" example:"8192"`
	// Estimated used memory in MB.
	// example: 2048
	UsedMB int `json:"used_est_mb" example:"2048"`
	// Reserved memory margin in MB.
	// example: 512
	MarginMB int `json:"margin_mb" example:"512"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total number of models loaded from disk.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Total number of acquisitions served from the cache.
	// example: 40
	CacheHitsTotal uint64 `json:"cache_hits_total" example:"40"`
	// Total number of evictions performed.
	// example: 5
	EvictionsTotal uint64 `json:"evictions_total" example:"5"`
	// Live inference sessions.
	// example: 2
	Sessions int `json:"sessions" example:"2"`
	// Jobs currently running in the worker pool.
	// example: 1
	WorkersBusy int `json:"workers_busy" example:"1"`
	// Worker pool size.
	// example: 8
	Workers int `json:"workers" example:"8"`
	// Last error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
}

// ErrorResponse is the JSON error body used by the admin listener.
type ErrorResponse struct {
	// Error message.
	// example: model in use
	Error string `json:"error" example:"model in use"`
	// HTTP status code.
	// example: 409
	Code int `json:"code" example:"409"`
}

// EvictResponse reports how many models an eviction request unloaded.
type EvictResponse struct {
	// Models evicted.
	// example: 1
	Evicted int `json:"evicted" example:"1"`
}
