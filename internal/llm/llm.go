// Package llm defines the contract between the serving core and the
// inference engine that owns tokenization, weights and the forward pass.
//
// The real engine is llama.cpp through go-llama.cpp, compiled only with
// `-tags=llama`. Default builds get a stub whose Load fails with
// ErrNotBuilt, keeping CI free of CGO.
package llm

import (
	"context"
	"errors"
	"iter"
)

// ErrNotBuilt is returned by the stub engine when the binary lacks llama support.
var ErrNotBuilt = errors.New("llama support not built (missing 'llama' build tag)")

// DefaultMaxTokens caps generation when a request does not ask for a limit.
const DefaultMaxTokens = 140

// Token is one unit of generated text.
type Token struct {
	Text string
}

// Params is the sampling policy for one generation. Zero fields mean
// "engine default" (llama.cpp: temperature 0.8, top-k 40, top-p 0.95,
// repeat penalty 1.1, random seed).
type Params struct {
	MaxTokens     int
	Temperature   float32
	TopK          int
	TopP          float32
	RepeatPenalty float32
	Seed          int
	Stop          []string
}

// DefaultParams returns engine defaults with the default token cap.
func DefaultParams() Params {
	return Params{MaxTokens: DefaultMaxTokens}
}

// Options configures engine-wide resources at construction time.
type Options struct {
	ContextSize int
	Threads     int
	GPULayers   int
}

// Engine loads models from disk.
type Engine interface {
	// Load reads weights from path. This is the expensive call the registry caches.
	Load(path string) (Model, error)
}

// Model is a loaded set of weights. Weights are immutable after load and may
// back several sessions.
type Model interface {
	// NewSession creates the mutable execution state for generating against this model.
	NewSession() (Session, error)
	// Close frees the weights. No session may be used afterwards.
	Close() error
}

// Session holds per-model execution state. It is not safe for concurrent use.
type Session interface {
	// Tokens feeds prompt and lazily yields generated tokens until params.MaxTokens,
	// end of sequence, an error, or ctx cancellation. The sequence is finite and
	// cannot be restarted; stopping iteration early aborts generation. An error is
	// yielded at most once, as the last element.
	Tokens(ctx context.Context, prompt string, params Params) iter.Seq2[Token, error]
	Close() error
}
