package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// gate admits one generation at a time for a loaded model. It belongs to the
// Handle, so it outlives any Session bound to it: an expired or retired
// session cannot open a second path into the same model.
type gate struct {
	path    string
	genCh   chan struct{} // size 1: single in-flight generation
	queueCh chan struct{} // queue slots including the in-flight one; nil = unbounded
	waiting atomic.Int64
}

func newGate(path string, maxQueueDepth int) *gate {
	g := &gate{path: path, genCh: make(chan struct{}, 1)}
	if maxQueueDepth > 0 {
		g.queueCh = make(chan struct{}, maxQueueDepth)
	}
	return g
}

// enter reserves a queue slot (when bounded) and then the in-flight slot.
// Blocked waiters are served in arrival order by the channel runtime. In
// blocking mode only ctx ends the wait unless maxWait > 0. The returned func
// gives both slots back and is safe to call more than once.
func (g *gate) enter(ctx context.Context, nonBlocking bool, maxWait time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if nonBlocking {
		if g.queueCh != nil {
			select {
			case g.queueCh <- struct{}{}:
			default:
				return nil, ErrSessionBusy(g.path, "queue full")
			}
		}
		select {
		case g.genCh <- struct{}{}:
			return g.exit(), nil
		default:
			g.leaveQueue()
			return nil, ErrSessionBusy(g.path, "executing")
		}
	}

	var expired <-chan time.Time
	if maxWait > 0 {
		timer := time.NewTimer(maxWait)
		defer timer.Stop()
		expired = timer.C
	}

	g.waiting.Add(1)
	defer g.waiting.Add(-1)

	if g.queueCh != nil {
		select {
		case g.queueCh <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-expired:
			return nil, ErrSessionBusy(g.path, "queue full")
		}
	}
	select {
	case g.genCh <- struct{}{}:
		return g.exit(), nil
	case <-ctx.Done():
		g.leaveQueue()
		return nil, ctx.Err()
	case <-expired:
		g.leaveQueue()
		return nil, ErrSessionBusy(g.path, fmt.Sprintf("waited %s", maxWait))
	}
}

func (g *gate) exit() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-g.genCh
			g.leaveQueue()
		})
	}
}

func (g *gate) leaveQueue() {
	if g.queueCh != nil {
		<-g.queueCh
	}
}

// queueLen returns requests waiting to enter, excluding the one executing.
func (g *gate) queueLen() int { return int(g.waiting.Load()) }

// inflight returns 1 while a generation holds the gate.
func (g *gate) inflight() int { return len(g.genCh) }
