package manager

import "time"

// RequestState is the lifecycle state of a single request.
type RequestState string

const (
	StateReceived  RequestState = "received"
	StateValidated RequestState = "validated"
	StateAcquiring RequestState = "acquiring"
	StateQueued    RequestState = "queued"
	StateExecuting RequestState = "executing"
	StateCompleted RequestState = "completed"
	StateFailed    RequestState = "failed"
)

// Request is one inference call. It references a model by path and does not own it.
type Request struct {
	// ID correlates logs and events; generated when empty.
	ID        string
	Prompt    string
	ModelPath string
	// MaxTokens caps generation; 0 uses the configured default.
	MaxTokens int
	// NonBlocking fails with SessionBusyError instead of waiting for a busy model.
	NonBlocking bool
}

// Finish reasons reported in Result.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// Result is the outcome of a completed generation.
type Result struct {
	Text         string
	TokenCount   int
	Elapsed      time.Duration
	FinishReason string
}
