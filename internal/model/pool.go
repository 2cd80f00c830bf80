package model

import (
	"context"
)

// Pool bounds concurrent inference so CPU-heavy session runs cannot starve
// the rest of the process. Preprocessing and postprocessing stay on the
// caller; only the session run itself takes a slot.
type Pool struct {
	slots chan struct{}
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{slots: make(chan struct{}, workers)}
}

// Do runs fn under a pool slot, honoring context cancellation while waiting.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.slots }()

	return fn()
}
