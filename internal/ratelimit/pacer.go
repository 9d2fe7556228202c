package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Pacer spaces out requests to shops: each Wait returns no sooner than the
// base delay plus a random jitter after the previous one.
type Pacer struct {
	baseDelay time.Duration
	jitter    time.Duration
	mutex     sync.Mutex
	last      time.Time
	rand      func(n int64) int64
}

// NewPacer creates a pacer. The first Wait returns immediately.
func NewPacer(baseDelay, jitter time.Duration) *Pacer {
	return &Pacer{
		baseDelay: baseDelay,
		jitter:    jitter,
		rand:      rand.Int63n,
	}
}

// Wait blocks until the next request may go out or ctx is done
func (p *Pacer) Wait(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.last.IsZero() {
		required := p.baseDelay
		if p.jitter > 0 {
			required += time.Duration(p.rand(int64(p.jitter)))
		}
		if wait := required - time.Since(p.last); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	p.last = time.Now()
	return nil
}
