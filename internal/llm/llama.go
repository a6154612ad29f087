//go:build llama

package llm

// cgo link directives for the in-process llama engine.
// - rpath $ORIGIN so the loader finds libllama.so next to the binary (./bin).
// - -L${SRCDIR}/../../bin so the linker finds it at build time.

/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"

import (
	"context"
	"errors"
	"iter"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

// Built reports whether this binary was compiled with real llama support.
const Built = true

type llamaEngine struct {
	opts Options
}

// NewLlama returns the go-llama.cpp engine.
func NewLlama(opts Options) Engine {
	return &llamaEngine{opts: opts}
}

// llamaModel owns one go-llama.cpp instance. The binding keeps model and
// context together, so busy serializes every Predict on it even across
// sessions (a session dropped after a timeout may still be running).
type llamaModel struct {
	model   *llama.LLama
	threads int
	busy    chan struct{}
}

type llamaSession struct {
	m *llamaModel
}

func (e *llamaEngine) Load(path string) (Model, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is empty")
	}
	mo := []llama.ModelOption{
		llama.EnableF16Memory,
		llama.SetContext(max(512, e.opts.ContextSize)),
	}
	if e.opts.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(e.opts.GPULayers))
	}
	m, err := llama.New(path, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaModel{model: m, threads: e.opts.Threads, busy: make(chan struct{}, 1)}, nil
}

func (m *llamaModel) NewSession() (Session, error) {
	if m.model == nil {
		return nil, errors.New("llama model not initialized")
	}
	return &llamaSession{m: m}, nil
}

func (m *llamaModel) Close() error {
	// Wait for any running prediction before freeing.
	m.busy <- struct{}{}
	defer func() { <-m.busy }()
	if m.model != nil {
		m.model.Free()
		m.model = nil
	}
	return nil
}

func (s *llamaSession) Tokens(ctx context.Context, prompt string, params Params) iter.Seq2[Token, error] {
	return func(yield func(Token, error) bool) {
		select {
		case s.m.busy <- struct{}{}:
		case <-ctx.Done():
			yield(Token{}, ctx.Err())
			return
		}
		if s.m.model == nil {
			<-s.m.busy
			yield(Token{}, errors.New("llama model freed"))
			return
		}

		toks := make(chan string)
		stop := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			defer func() { <-s.m.busy }()
			po := predictOptions(params, s.m.threads)
			po = append(po, llama.SetTokenCallback(func(tok string) bool {
				select {
				case toks <- tok:
					return true
				case <-stop:
					return false
				case <-ctx.Done():
					return false
				}
			}))
			_, err := s.m.model.Predict(prompt, po...)
			done <- err
		}()
		defer close(stop)

		for {
			select {
			case tok := <-toks:
				if !yield(Token{Text: tok}, nil) {
					return
				}
			case err := <-done:
				if err != nil {
					if ctx.Err() != nil {
						err = ctx.Err()
					}
					yield(Token{}, err)
				}
				return
			case <-ctx.Done():
				yield(Token{}, ctx.Err())
				return
			}
		}
	}
}

// Close is a no-op: the context belongs to the model and is freed with it.
func (s *llamaSession) Close() error { return nil }

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts Params into go-llama.cpp options.
func predictOptions(p Params, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, zn(p.MaxTokens, DefaultMaxTokens))),
		llama.SetThreads(max(1, zn(threads, llama.DefaultOptions.Threads))),
		llama.SetTopP(zf(p.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(p.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(p.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(p.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if p.Seed != 0 {
		po = append(po, llama.SetSeed(p.Seed))
	}
	if len(p.Stop) > 0 {
		po = append(po, llama.SetStopWords(p.Stop...))
	}
	return po
}
