// Package llmtest provides an in-memory llm.Engine for tests. It records
// loads, closes and concurrent generations per model path so callers can
// assert caching and serialization.
package llmtest

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"chatd/internal/gguf"
	"chatd/internal/llm"
)

// Engine is a deterministic fake engine. Zero value is not usable; call New.
type Engine struct {
	// Script returns the tokens generated for a prompt. Defaults to echoing
	// the prompt words back.
	Script func(prompt string) []string
	// LoadErr fails every Load when set.
	LoadErr error
	// GenErr is yielded after FailAfter tokens when set.
	GenErr    error
	FailAfter int
	// Started, when non-nil, receives the model path each time a generation begins.
	Started chan string
	// Hold, when non-nil, blocks each generation before its first token until
	// a value is received or the channel is closed.
	Hold chan struct{}

	mu           sync.Mutex
	loads        map[string]int
	closes       map[string]int
	sessions     map[string]int
	active       map[string]int
	maxActive    map[string]int
	activeAll    int
	maxActiveAll int
	prompts      []string
	lastParams   llm.Params
}

// New returns an engine that echoes prompts.
func New() *Engine {
	return &Engine{
		loads:     make(map[string]int),
		closes:    make(map[string]int),
		sessions:  make(map[string]int),
		active:    make(map[string]int),
		maxActive: make(map[string]int),
	}
}

func (e *Engine) Load(path string) (llm.Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.LoadErr != nil {
		return nil, e.LoadErr
	}
	e.loads[path]++
	return &model{e: e, path: path}, nil
}

// Loads reports how many times path was loaded.
func (e *Engine) Loads(path string) int { e.mu.Lock(); defer e.mu.Unlock(); return e.loads[path] }

// Closes reports how many times a model for path was closed.
func (e *Engine) Closes(path string) int { e.mu.Lock(); defer e.mu.Unlock(); return e.closes[path] }

// Sessions reports how many sessions were created for path.
func (e *Engine) Sessions(path string) int { e.mu.Lock(); defer e.mu.Unlock(); return e.sessions[path] }

// MaxActive reports the highest number of overlapping generations seen for path.
func (e *Engine) MaxActive(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxActive[path]
}

// MaxActiveAll reports the highest number of overlapping generations across all paths.
func (e *Engine) MaxActiveAll() int { e.mu.Lock(); defer e.mu.Unlock(); return e.maxActiveAll }

// Prompts returns the prompts seen so far in generation order.
func (e *Engine) Prompts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.prompts...)
}

// LastParams returns the params of the most recent generation.
func (e *Engine) LastParams() llm.Params { e.mu.Lock(); defer e.mu.Unlock(); return e.lastParams }

func (e *Engine) begin(path, prompt string, p llm.Params) {
	e.mu.Lock()
	e.active[path]++
	e.activeAll++
	e.maxActive[path] = max(e.maxActive[path], e.active[path])
	e.maxActiveAll = max(e.maxActiveAll, e.activeAll)
	e.prompts = append(e.prompts, prompt)
	e.lastParams = p
	e.mu.Unlock()
}

func (e *Engine) end(path string) {
	e.mu.Lock()
	e.active[path]--
	e.activeAll--
	e.mu.Unlock()
}

type model struct {
	e      *Engine
	path   string
	closed bool
}

func (m *model) NewSession() (llm.Session, error) {
	m.e.mu.Lock()
	m.e.sessions[m.path]++
	m.e.mu.Unlock()
	return &session{m: m}, nil
}

func (m *model) Close() error {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()
	if !m.closed {
		m.closed = true
		m.e.closes[m.path]++
	}
	return nil
}

type session struct{ m *model }

func (s *session) Close() error { return nil }

func (s *session) Tokens(ctx context.Context, prompt string, params llm.Params) iter.Seq2[llm.Token, error] {
	return func(yield func(llm.Token, error) bool) {
		e := s.m.e
		e.begin(s.m.path, prompt, params)
		defer e.end(s.m.path)
		if e.Started != nil {
			select {
			case e.Started <- s.m.path:
			case <-ctx.Done():
				yield(llm.Token{}, ctx.Err())
				return
			}
		}
		if e.Hold != nil {
			select {
			case <-e.Hold:
			case <-ctx.Done():
				yield(llm.Token{}, ctx.Err())
				return
			}
		}
		script := e.Script
		if script == nil {
			script = echo
		}
		for i, tok := range script(prompt) {
			if e.GenErr != nil && i >= e.FailAfter {
				yield(llm.Token{}, e.GenErr)
				return
			}
			if params.MaxTokens > 0 && i >= params.MaxTokens {
				return
			}
			if err := ctx.Err(); err != nil {
				yield(llm.Token{}, err)
				return
			}
			if !yield(llm.Token{Text: tok}, nil) {
				return
			}
		}
		if e.GenErr != nil {
			yield(llm.Token{}, e.GenErr)
		}
	}
}

// echo splits the prompt into word tokens, keeping leading spaces.
func echo(prompt string) []string {
	words := strings.Fields(prompt)
	out := make([]string, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		out[i] = w
	}
	return out
}

// WriteModelFile writes a weightless GGUF file declaring arch and returns its path.
func WriteModelFile(t testing.TB, dir, name, arch string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create model file: %v", err)
	}
	defer f.Close()
	if err := gguf.WriteHeader(f, arch); err != nil {
		t.Fatalf("write model header: %v", err)
	}
	return p
}
