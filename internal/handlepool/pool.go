// Package handlepool manages the per-container file handle pool described
// in spec §5: each tile decode checks out a handle, seeks and reads, then
// returns it; the pool is elastic up to a configured maximum, and
// exhaustion blocks the caller rather than failing.
//
// Grounded on the teacher's one-handle-per-decode shape in
// internal/image_renderer/renderer.go (every RenderTile call opens its own
// *vips.Image and defers Close); here that pattern is generalized into a
// reusable bounded pool since tile reads are far more frequent than the
// teacher's whole-image loads.
package handlepool

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Pool hands out *os.File handles opened read-only against one path, up to
// max concurrently, growing lazily as callers ask for more and shrinking
// back to the pool (never closed early) once returned.
type Pool struct {
	path string
	max  int

	mu      sync.Mutex
	opened  int
	idle    []*os.File
	waiters []chan *os.File
}

// New creates a pool for path with the given maximum concurrent handle
// count. max <= 0 is treated as 1 (a pool must make progress).
func New(path string, max int) *Pool {
	if max <= 0 {
		max = 1
	}
	return &Pool{path: path, max: max}
}

// Get returns a handle, opening a new one if the pool hasn't reached max,
// or blocking until one is returned or ctx is done.
func (p *Pool) Get(ctx context.Context) (*os.File, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		f := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return f, nil
	}
	if p.opened < p.max {
		p.opened++
		p.mu.Unlock()
		f, err := os.Open(p.path)
		if err != nil {
			p.mu.Lock()
			p.opened--
			p.mu.Unlock()
			return nil, fmt.Errorf("handlepool: open %s: %w", p.path, err)
		}
		return f, nil
	}

	wait := make(chan *os.File, 1)
	p.waiters = append(p.waiters, wait)
	p.mu.Unlock()

	select {
	case f := <-wait:
		return f, nil
	case <-ctx.Done():
		p.mu.Lock()
		for i, w := range p.waiters {
			if w == wait {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				p.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		// Put already popped this waiter and, under the same lock, sent it a
		// handle concurrently with ctx being done; drain it back into the
		// pool instead of leaking the handle and its open count.
		p.mu.Unlock()
		select {
		case f := <-wait:
			p.Put(f)
		default:
		}
		return nil, ctx.Err()
	}
}

// Put returns a handle to the pool, handing it directly to a waiter if one
// is queued. The handoff happens while still holding the lock: wait
// channels are always created with capacity 1, so the send never blocks,
// and doing it under the lock makes pop-from-waiters and the send atomic
// with respect to Get's ctx.Done() path deregistering the same waiter.
func (p *Pool) Put(f *os.File) {
	p.mu.Lock()
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		w <- f
		p.mu.Unlock()
		return
	}
	p.idle = append(p.idle, f)
	p.mu.Unlock()
}

// Close closes every idle handle. Handles still checked out by callers are
// the caller's responsibility; Close does not block waiting for them,
// mirroring spec §5's "close waits for every outstanding pinned tile to be
// released" being the Slide's job, not the handle pool's.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, f := range p.idle {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.idle = nil
	return firstErr
}
