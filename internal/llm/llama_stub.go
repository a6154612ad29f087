//go:build !llama

package llm

// Built reports whether this binary was compiled with real llama support.
const Built = false

type stubEngine struct{}

// NewLlama returns an engine that refuses to load models. Build with
// -tags=llama for the go-llama.cpp engine.
func NewLlama(Options) Engine { return stubEngine{} }

func (stubEngine) Load(string) (Model, error) { return nil, ErrNotBuilt }
