package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"chatd/internal/llm"
)

// Pool runs generations under a concurrency cap. Per-model serialization is
// the session's job; the pool only bounds total parallelism.
type Pool struct {
	sem  *semaphore.Weighted
	size int
	busy atomic.Int64
	log  zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool returns a pool running at most workers jobs at once.
func NewPool(workers int, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(workers)),
		size: workers,
		log:  log.With().Str("component", "pool").Logger(),
	}
}

// Submit waits for a free worker, then runs the token loop for req against s
// in the background. The caller must hold s's execution slot.
func (p *Pool) Submit(ctx context.Context, s *Session, req Request, params llm.Params) (*Pending, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, errPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	pend := newPending()
	s.beginJob()
	p.busy.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer p.busy.Add(-1)
		defer s.endJob()
		res, err := p.run(ctx, s, req, params)
		pend.deliver(res, err)
	}()
	return pend, nil
}

// run feeds the prompt and accumulates tokens until MaxTokens or end of
// sequence. Engine errors and panics become InferenceError; ctx errors are
// returned as-is for the dispatcher to classify.
func (p *Pool) run(ctx context.Context, s *Session, req Request, params llm.Params) (res Result, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("path", s.Path).Str("request_id", req.ID).Interface("panic", r).Msg("engine panic")
			res, err = Result{}, ErrInference(s.Path, fmt.Errorf("panic: %v", r))
		}
	}()

	var b strings.Builder
	n := 0
	finish := FinishStop
	for tok, terr := range s.llm.Tokens(ctx, req.Prompt, params) {
		if terr != nil {
			if cerr := ctx.Err(); cerr != nil {
				return Result{}, cerr
			}
			return Result{}, ErrInference(s.Path, terr)
		}
		b.WriteString(tok.Text)
		n++
		if n >= params.MaxTokens {
			finish = FinishLength
			break
		}
	}
	if err := ctx.Err(); err != nil && n < params.MaxTokens && finish == FinishStop {
		// Sequence ended because ctx was canceled, not end of sequence.
		return Result{}, err
	}
	elapsed := time.Since(start)
	tokensGeneratedTotal.Add(float64(n))
	inferenceDuration.Observe(elapsed.Seconds())
	return Result{Text: b.String(), TokenCount: n, Elapsed: elapsed, FinishReason: finish}, nil
}

// Busy returns the number of running jobs.
func (p *Pool) Busy() int { return int(p.busy.Load()) }

// Size returns the concurrency cap.
func (p *Pool) Size() int { return p.size }

// Close rejects new work and waits for running jobs.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
