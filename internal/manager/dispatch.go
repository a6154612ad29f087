package manager

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatd/internal/llm"
)

// Handle validates req, borrows the model from the registry, waits for its
// session and runs the generation on the worker pool. The model reference is
// released on every exit path.
func (m *Manager) Handle(ctx context.Context, req Request) (Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	log := m.log.With().Str("request_id", req.ID).Str("path", req.ModelPath).Logger()
	m.publish(req, StateReceived, nil)

	params, err := m.validate(req)
	if err != nil {
		return m.fail(log, req, err)
	}
	m.publish(req, StateValidated, nil)

	if m.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.MaxDuration)
		defer cancel()
	}

	m.publish(req, StateAcquiring, nil)
	h, err := m.registry.Acquire(ctx, req.ModelPath)
	if err != nil {
		return m.fail(log, req, m.classify(ctx, req.ModelPath, err))
	}
	released := false
	defer func() {
		if !released {
			m.registry.Release(h)
		}
	}()

	m.publish(req, StateQueued, nil)
	s, exit, err := m.admit(ctx, h, req)
	if err != nil {
		return m.fail(log, req, m.classify(ctx, h.Path, err))
	}
	exited := false
	defer func() {
		if !exited {
			exit()
		}
	}()

	m.publish(req, StateExecuting, nil)
	pend, err := m.pool.Submit(ctx, s, req, params)
	if err != nil {
		return m.fail(log, req, m.classify(ctx, h.Path, err))
	}
	res, err := pend.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// The job may still be unwinding on this session. Retire it so the
			// next request gets fresh state, and hold the slot and the model
			// until the job ends.
			m.sessions.Drop(s)
			released, exited = true, true
			go func() {
				_, _ = pend.Wait(context.Background())
				exit()
				m.registry.Release(h)
			}()
		}
		return m.fail(log, req, m.classify(ctx, h.Path, err))
	}

	requestsTotal.WithLabelValues(Kind(nil)).Inc()
	log.Info().
		Int("tokens", res.TokenCount).
		Str("finish", res.FinishReason).
		Dur("dur", res.Elapsed).
		Msg("request completed")
	m.publish(req, StateCompleted, map[string]any{"tokens": res.TokenCount})
	return res, nil
}

func (m *Manager) validate(req Request) (llm.Params, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return llm.Params{}, ErrValidation("prompt is empty")
	}
	if strings.TrimSpace(req.ModelPath) == "" {
		return llm.Params{}, ErrValidation("model_path is empty")
	}
	params := m.cfg.Params
	switch {
	case req.MaxTokens < 0:
		return llm.Params{}, ErrValidation("max_tokens must be positive")
	case req.MaxTokens > m.cfg.MaxTokensLimit:
		return llm.Params{}, ErrValidation("max_tokens exceeds limit")
	case req.MaxTokens > 0:
		params.MaxTokens = req.MaxTokens
	}
	return params, nil
}

// admit enters the session bound to h. A session retired between lookup and
// entry (expiry, timeout of the previous request) is replaced and retried.
func (m *Manager) admit(ctx context.Context, h *Handle, req Request) (*Session, func(), error) {
	start := time.Now()
	defer func() { queueWaitSeconds.Observe(time.Since(start).Seconds()) }()
	for {
		s, err := m.sessions.SessionFor(h)
		if err != nil {
			return nil, nil, err
		}
		exit, err := s.acquire(ctx, req.NonBlocking, m.cfg.MaxWait)
		if err != nil {
			return nil, nil, err
		}
		if !s.isRetired() {
			return s, exit, nil
		}
		exit()
	}
}

// classify maps context errors raised by the deadline to TimeoutError.
func (m *Manager) classify(ctx context.Context, path string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !IsTimeout(err) {
		return ErrTimeout(path, m.cfg.MaxDuration)
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (m *Manager) fail(log zerolog.Logger, req Request, err error) (Result, error) {
	kind := Kind(err)
	requestsTotal.WithLabelValues(kind).Inc()
	m.setLastErr(err)
	ev := log.Error()
	if IsValidation(err) || kind == "canceled" {
		ev = log.Warn()
	}
	ev.Err(err).Str("kind", kind).Msg("request failed")
	m.publish(req, StateFailed, map[string]any{"kind": kind, "error": err.Error()})
	return Result{}, err
}

func (m *Manager) publish(req Request, st RequestState, fields map[string]any) {
	m.pub.Publish(Event{Name: "request_" + string(st), ModelPath: req.ModelPath, RequestID: req.ID, Fields: fields})
}
