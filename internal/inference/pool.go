package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// AcquireTimeout bounds how long a caller waits for a free session.
const AcquireTimeout = 5 * time.Second

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("session pool is closed")

// session is anything the pool can hand out and tear down.
type session interface {
	Destroy()
}

// Pool hands out a fixed set of sessions, one caller at a time per session.
type Pool[S session] struct {
	sessions chan S
	size     int

	mu     sync.Mutex
	closed bool

	inUse           atomic.Int64
	totalAcquired   atomic.Int64
	acquireFailures atomic.Int64
}

// NewPool creates size sessions with newSession. On failure every session
// created so far is destroyed.
func NewPool[S session](size int, newSession func() (S, error)) (*Pool[S], error) {
	if size <= 0 {
		size = 1
	}
	p := &Pool[S]{
		sessions: make(chan S, size),
		size:     size,
	}
	for i := range size {
		s, err := newSession()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		p.sessions <- s
	}
	return p, nil
}

// Acquire takes a session, waiting up to AcquireTimeout.
func (p *Pool[S]) Acquire(ctx context.Context) (S, error) {
	var zero S
	if p.isClosed() {
		return zero, ErrPoolClosed
	}

	timer := time.NewTimer(AcquireTimeout)
	defer timer.Stop()

	select {
	case s, ok := <-p.sessions:
		if !ok {
			return zero, ErrPoolClosed
		}
		p.inUse.Add(1)
		p.totalAcquired.Add(1)
		return s, nil
	case <-timer.C:
		p.acquireFailures.Add(1)
		return zero, fmt.Errorf("timeout waiting for available session")
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Release returns s to the pool, or destroys it if the pool is closed.
func (p *Pool[S]) Release(s S) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inUse.Add(-1)
	if p.closed {
		s.Destroy()
		return
	}
	p.sessions <- s
}

// Close destroys every idle session. Sessions still acquired are destroyed
// when released.
func (p *Pool[S]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.sessions)
	for s := range p.sessions {
		s.Destroy()
	}
}

func (p *Pool[S]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Size returns the number of sessions the pool was built with.
func (p *Pool[S]) Size() int { return p.size }

// InUse returns the number of sessions currently acquired.
func (p *Pool[S]) InUse() int64 { return p.inUse.Load() }

// AcquireFailures returns how many Acquire calls timed out.
func (p *Pool[S]) AcquireFailures() int64 { return p.acquireFailures.Load() }
