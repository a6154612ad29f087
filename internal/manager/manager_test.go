package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatd/internal/gguf"
	"chatd/internal/llm"
	"chatd/internal/llm/llmtest"
)

func TestHandle_EchoAndCacheHit(t *testing.T) {
	eng := llmtest.New()
	m := newTestManager(t, eng, nil)
	p := llmtest.WriteModelFile(t, t.TempDir(), "tiny.gguf", "llama")

	for i := 0; i < 2; i++ {
		res, err := m.Handle(context.Background(), Request{Prompt: "hello world", ModelPath: p})
		require.NoError(t, err)
		require.Equal(t, "hello world", res.Text)
		require.Equal(t, 2, res.TokenCount)
		require.Equal(t, FinishStop, res.FinishReason)
	}
	require.Equal(t, 1, eng.Loads(p), "second request must reuse the loaded model")
	require.Equal(t, 1, eng.Sessions(p), "second request must reuse the session")
	require.Equal(t, 0, refsOf(m.Registry(), p))
	st := m.Registry().Stats()
	require.EqualValues(t, 1, st.Loads)
	require.EqualValues(t, 1, st.Hits)
}

func TestHandle_EmptyPromptRejectedBeforeLoad(t *testing.T) {
	eng := llmtest.New()
	m := newTestManager(t, eng, nil)
	p := llmtest.WriteModelFile(t, t.TempDir(), "tiny.gguf", "llama")

	for _, prompt := range []string{"", "   \n\t"} {
		_, err := m.Handle(context.Background(), Request{Prompt: prompt, ModelPath: p})
		require.True(t, IsValidation(err), "got %v", err)
	}
	_, err := m.Handle(context.Background(), Request{Prompt: "hi"})
	require.True(t, IsValidation(err), "empty model_path: got %v", err)
	require.Equal(t, 0, eng.Loads(p))
	require.Empty(t, m.Registry().Stats().Handles)
}

func TestHandle_MaxTokens(t *testing.T) {
	eng := llmtest.New()
	m := newTestManager(t, eng, func(c *ManagerConfig) { c.MaxTokensLimit = 8 })
	p := llmtest.WriteModelFile(t, t.TempDir(), "tiny.gguf", "llama")

	res, err := m.Handle(context.Background(), Request{Prompt: "a b c d e", ModelPath: p, MaxTokens: 3})
	require.NoError(t, err)
	require.Equal(t, "a b c", res.Text)
	require.Equal(t, FinishLength, res.FinishReason)
	require.Equal(t, 3, eng.LastParams().MaxTokens)

	_, err = m.Handle(context.Background(), Request{Prompt: "a", ModelPath: p, MaxTokens: 9})
	require.True(t, IsValidation(err), "got %v", err)
	_, err = m.Handle(context.Background(), Request{Prompt: "a", ModelPath: p, MaxTokens: -1})
	require.True(t, IsValidation(err), "got %v", err)

	_, err = m.Handle(context.Background(), Request{Prompt: "a", ModelPath: p})
	require.NoError(t, err)

	// The configured limit also caps the default.
	res, err = m.Handle(context.Background(), Request{Prompt: "1 2 3 4 5 6 7 8 9 10", ModelPath: p})
	require.NoError(t, err)
	require.Equal(t, 8, res.TokenCount)
	require.Equal(t, FinishLength, res.FinishReason)
	require.Equal(t, llm.DefaultMaxTokens, eng.LastParams().MaxTokens)
}

func TestHandle_InferenceErrorReleasesHandle(t *testing.T) {
	eng := llmtest.New()
	eng.GenErr = errors.New("kv cache exhausted")
	eng.FailAfter = 1
	m := newTestManager(t, eng, nil)
	p := llmtest.WriteModelFile(t, t.TempDir(), "tiny.gguf", "llama")

	_, err := m.Handle(context.Background(), Request{Prompt: "one two three", ModelPath: p})
	require.True(t, IsInference(err), "got %v", err)
	require.ErrorIs(t, err, eng.GenErr)
	require.Equal(t, 0, refsOf(m.Registry(), p), "handle must be released after an inference failure")
	require.Contains(t, m.Status().LastError, "kv cache exhausted")

	// The model stays usable.
	eng.GenErr = nil
	_, err = m.Handle(context.Background(), Request{Prompt: "again", ModelPath: p})
	require.NoError(t, err)
	require.Equal(t, 1, eng.Loads(p))
}

func TestHandle_ModelLoadErrors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]struct {
		path string
		is   error
	}{
		"missing":     {path: "/does/not/exist"},
		"malformed":   {path: writeGarbage(t, dir, "garbage.bin"), is: gguf.ErrNotGGUF},
		"unsupported": {path: llmtest.WriteModelFile(t, dir, "bert.gguf", "bert")},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			eng := llmtest.New()
			m := newTestManager(t, eng, nil)
			_, err := m.Handle(context.Background(), Request{Prompt: "hi", ModelPath: tc.path})
			require.True(t, IsModelLoad(err), "got %v", err)
			require.Equal(t, "model_load", Kind(err))
			if tc.is != nil {
				require.ErrorIs(t, err, tc.is)
			}
			require.Equal(t, 0, eng.Loads(tc.path))
			require.Empty(t, m.Registry().Stats().Handles)
		})
	}
}

func TestHandle_EngineLoadFailure(t *testing.T) {
	eng := llmtest.New()
	eng.LoadErr = errors.New("out of memory")
	m := newTestManager(t, eng, nil)
	p := llmtest.WriteModelFile(t, t.TempDir(), "tiny.gguf", "llama")

	_, err := m.Handle(context.Background(), Request{Prompt: "hi", ModelPath: p})
	require.True(t, IsModelLoad(err), "got %v", err)
	require.Empty(t, m.Registry().Stats().Handles)
}

func TestHandle_DependencyUnavailable(t *testing.T) {
	if llm.Built {
		t.Skip("built with llama support")
	}
	m := NewWithConfig(ManagerConfig{})
	t.Cleanup(func() { _ = m.Close() })
	p := llmtest.WriteModelFile(t, t.TempDir(), "tiny.gguf", "llama")

	_, err := m.Handle(context.Background(), Request{Prompt: "hi", ModelPath: p})
	require.True(t, IsDependencyUnavailable(err), "got %v", err)
	require.Equal(t, "dependency_unavailable", Kind(err))
	require.False(t, m.SanityCheck().EngineBuilt)
}

func TestHandle_SamePathSerialized(t *testing.T) {
	eng := llmtest.New()
	eng.Started = make(chan string, 4)
	eng.Hold = make(chan struct{})
	m := newTestManager(t, eng, nil)
	p := llmtest.WriteModelFile(t, t.TempDir(), "tiny.gguf", "llama")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, prompt := range []string{"first", "second"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Handle(context.Background(), Request{Prompt: prompt, ModelPath: p})
			errs <- err
		}()
	}
	<-eng.Started
	select {
	case <-eng.Started:
		t.Fatal("second generation started while the first was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(eng.Hold)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, eng.MaxActive(p))
	require.Len(t, eng.Prompts(), 2)
}

func TestHandle_BlockingWaitIsUnbounded(t *testing.T) {
	eng := llmtest.New()
	eng.Started = make(chan string, 4)
	eng.Hold = make(chan struct{})
	m := newTestManager(t, eng, nil)
	p := llmtest.WriteModelFile(t, t.TempDir(), "tiny.gguf", "llama")

	errs := make(chan error, 2)
	for _, prompt := range []string{"slow", "patient"} {
		go func() {
			_, err := m.Handle(context.Background(), Request{Prompt: prompt, ModelPath: p})
			errs <- err
		}()
	}
	<-eng.Started
	require.Eventually(t, func() bool {
		in := m.Status().Instances
		return len(in) == 1 && in[0].QueueLen == 1
	}, time.Second, 5*time.Millisecond)

	// The waiter outlasts any short wait cap and is not rejected.
	select {
	case err := <-errs:
		t.Fatalf("request finished while the model was held: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
	close(eng.Hold)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	require.Equal(t, 1, eng.MaxActive(p))
}

func TestHandle_SessionExpiryKeepsSerialization(t *testing.T) {
	eng := llmtest.New()
	eng.Started = make(chan string, 4)
	eng.Hold = make(chan struct{})
	m := newTestManager(t, eng, func(c *ManagerConfig) { c.SessionTTL = 30 * time.Millisecond })
	p := llmtest.WriteModelFile(t, t.TempDir(), "tiny.gguf", "llama")

	errs := make(chan error, 2)
	go func() {
		_, err := m.Handle(context.Background(), Request{Prompt: "first", ModelPath: p})
		errs <- err
	}()
	<-eng.Started
	// Let the running session expire from the cache.
	require.Eventually(t, func() bool { return m.sessions.Len() == 0 }, time.Second, 5*time.Millisecond)

	go func() {
		_, err := m.Handle(context.Background(), Request{Prompt: "second", ModelPath: p})
		errs <- err
	}()
	select {
	case <-eng.Started:
		t.Fatal("second generation started while the first was running")
	case <-time.After(200 * time.Millisecond):
	}
	close(eng.Hold)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	require.Equal(t, 1, eng.MaxActive(p))
	require.GreaterOrEqual(t, eng.Sessions(p), 2, "the expired session was replaced")
}

func TestHandle_DifferentPathsRunInParallel(t *testing.T) {
	eng := llmtest.New()
	eng.Started = make(chan string, 4)
	eng.Hold = make(chan struct{})
	m := newTestManager(t, eng, nil)
	dir := t.TempDir()
	a := llmtest.WriteModelFile(t, dir, "a.gguf", "llama")
	b := llmtest.WriteModelFile(t, dir, "b.gguf", "llama")

	var wg sync.WaitGroup
	for _, p := range []string{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Handle(context.Background(), Request{Prompt: "hi", ModelPath: p})
			assert.NoError(t, err)
		}()
	}
	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case p := <-eng.Started:
			seen[p] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of 2 generations started concurrently", len(seen))
		}
	}
	close(eng.Hold)
	wg.Wait()
	require.Equal(t, 2, eng.MaxActiveAll())
}

func TestHandle_WorkersCapTotalParallelism(t *testing.T) {
	eng := llmtest.New()
	eng.Started = make(chan string, 4)
	eng.Hold = make(chan struct{})
	m := newTestManager(t, eng, func(c *ManagerConfig) { c.Workers = 1 })
	dir := t.TempDir()
	a := llmtest.WriteModelFile(t, dir, "a.gguf", "llama")
	b := llmtest.WriteModelFile(t, dir, "b.gguf", "llama")

	var wg sync.WaitGroup
	for _, p := range []string{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Handle(context.Background(), Request{Prompt: "hi", ModelPath: p})
			assert.NoError(t, err)
		}()
	}
	<-eng.Started
	select {
	case <-eng.Started:
		t.Fatal("second generation started with a single worker")
	case <-time.After(50 * time.Millisecond):
	}
	close(eng.Hold)
	wg.Wait()
	require.Equal(t, 1, eng.MaxActiveAll())
}

func TestHandle_NonBlockingBusy(t *testing.T) {
	eng := llmtest.New()
	eng.Started = make(chan string, 4)
	eng.Hold = make(chan struct{})
	m := newTestManager(t, eng, nil)
	p := llmtest.WriteModelFile(t, t.TempDir(), "tiny.gguf", "llama")

	done := make(chan error, 1)
	go func() {
		_, err := m.Handle(context.Background(), Request{Prompt: "slow", ModelPath: p})
		done <- err
	}()
	<-eng.Started

	_, err := m.Handle(context.Background(), Request{Prompt: "fast", ModelPath: p, NonBlocking: true})
	require.True(t, IsSessionBusy(err), "got %v", err)

	close(eng.Hold)
	require.NoError(t, <-done)
	require.Equal(t, 0, refsOf(m.Registry(), p))
}

func TestHandle_QueueWaitExceeded(t *testing.T) {
	eng := llmtest.New()
	eng.Started = make(chan string, 4)
	eng.Hold = make(chan struct{})
	m := newTestManager(t, eng, func(c *ManagerConfig) {
		c.MaxQueueDepth = 1
		c.MaxWait = 20 * time.Millisecond
	})
	p := llmtest.WriteModelFile(t, t.TempDir(), "tiny.gguf", "llama")

	done := make(chan error, 1)
	go func() {
		_, err := m.Handle(context.Background(), Request{Prompt: "slow", ModelPath: p})
		done <- err
	}()
	<-eng.Started

	_, err := m.Handle(context.Background(), Request{Prompt: "queued", ModelPath: p})
	require.True(t, IsSessionBusy(err), "got %v", err)
	require.Equal(t, "session_busy", Kind(err))

	close(eng.Hold)
	require.NoError(t, <-done)
}

func TestHandle_TimeoutDropsSessionAndReleases(t *testing.T) {
	eng := llmtest.New()
	eng.Hold = make(chan struct{})
	m := newTestManager(t, eng, func(c *ManagerConfig) { c.MaxDuration = 50 * time.Millisecond })
	p := llmtest.WriteModelFile(t, t.TempDir(), "tiny.gguf", "llama")

	_, err := m.Handle(context.Background(), Request{Prompt: "never finishes", ModelPath: p})
	require.True(t, IsTimeout(err), "got %v", err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Eventually(t, func() bool { return refsOf(m.Registry(), p) == 0 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, m.sessions.Len(), "timed out session must be dropped")

	close(eng.Hold)
	res, err := m.Handle(context.Background(), Request{Prompt: "fresh start", ModelPath: p})
	require.NoError(t, err)
	require.Equal(t, "fresh start", res.Text)
	require.Equal(t, 2, eng.Sessions(p), "next request must get a fresh session")
	require.Equal(t, 1, eng.Loads(p))
}

func TestHandle_CallerCancel(t *testing.T) {
	eng := llmtest.New()
	eng.Started = make(chan string, 1)
	eng.Hold = make(chan struct{})
	defer close(eng.Hold)
	m := newTestManager(t, eng, nil)
	p := llmtest.WriteModelFile(t, t.TempDir(), "tiny.gguf", "llama")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-eng.Started
		cancel()
	}()
	_, err := m.Handle(ctx, Request{Prompt: "hi", ModelPath: p})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, "canceled", Kind(err))
	require.Eventually(t, func() bool { return refsOf(m.Registry(), p) == 0 }, time.Second, 5*time.Millisecond)
}

func TestHandle_EventsInOrder(t *testing.T) {
	pub := NewMemoryPublisher()
	m := newTestManager(t, llmtest.New(), func(c *ManagerConfig) { c.Publisher = pub })
	p := llmtest.WriteModelFile(t, t.TempDir(), "tiny.gguf", "llama")

	_, err := m.Handle(context.Background(), Request{ID: "r1", Prompt: "hi", ModelPath: p})
	require.NoError(t, err)
	require.Equal(t, []string{
		"request_received",
		"request_validated",
		"request_acquiring",
		"request_queued",
		"request_executing",
		"request_completed",
	}, pub.Names("r1"))

	_, err = m.Handle(context.Background(), Request{ID: "r2", Prompt: "", ModelPath: p})
	require.Error(t, err)
	require.Equal(t, []string{"request_received", "request_failed"}, pub.Names("r2"))

	var loads int
	for _, e := range pub.Events() {
		if e.Name == "model_load" {
			loads++
		}
	}
	require.Equal(t, 1, loads)
}

func TestHandle_GeneratesRequestID(t *testing.T) {
	pub := NewMemoryPublisher()
	m := newTestManager(t, llmtest.New(), func(c *ManagerConfig) { c.Publisher = pub })
	_, _ = m.Handle(context.Background(), Request{Prompt: ""})
	evts := pub.Events()
	require.NotEmpty(t, evts)
	require.NotEmpty(t, evts[0].RequestID)
}

func TestClose_Idempotent(t *testing.T) {
	eng := llmtest.New()
	m := NewWithConfig(ManagerConfig{Engine: eng})
	p := llmtest.WriteModelFile(t, t.TempDir(), "tiny.gguf", "llama")
	_, err := m.Handle(context.Background(), Request{Prompt: "hi", ModelPath: p})
	require.NoError(t, err)
	require.True(t, m.Ready())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	require.False(t, m.Ready())
	require.Equal(t, 1, eng.Closes(p), "idle models are unloaded on close")
}
