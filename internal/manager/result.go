package manager

import "context"

type outcome struct {
	res Result
	err error
}

// Pending delivers exactly one outcome from a worker to the dispatcher.
type Pending struct {
	ch chan outcome
}

func newPending() *Pending { return &Pending{ch: make(chan outcome, 1)} }

// deliver must be called exactly once; it never blocks.
func (p *Pending) deliver(res Result, err error) { p.ch <- outcome{res: res, err: err} }

// Wait returns the outcome, or ctx's error if it is done first. An outcome
// delivered after ctx is done is discarded with the Pending.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case o := <-p.ch:
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
