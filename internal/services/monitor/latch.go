package monitor

import (
	"context"
	"time"
)

// Latch is a persistent one-shot flag: Set before Wait is not lost, and a
// successful Wait consumes it.
type Latch struct {
	ch chan struct{}
}

func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{}, 1)}
}

// Set raises the flag. Repeated sets collapse into one.
func (l *Latch) Set() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// Clear lowers the flag if it is raised.
func (l *Latch) Clear() {
	select {
	case <-l.ch:
	default:
	}
}

// Wait reports whether the flag was raised within timeout, clearing it.
func (l *Latch) Wait(ctx context.Context, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-l.ch:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}
