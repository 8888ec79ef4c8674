package chain

import (
	"context"
	"sync"
)

// Generations issues monotonically increasing request generations for one
// orchestrator and ties each to a cancellable context.
//
// Starting generation n+1 cancels generation n's context, so superseded
// network calls are aborted rather than merely ignored; the counter
// comparison then suppresses any result that was already in flight when the
// cancellation landed. Together the two mechanisms implement "cancel stale
// work" even across transports that cannot abort.
type Generations struct {
	mu      sync.Mutex
	current uint64
	cancel  context.CancelFunc
}

// NewGenerations creates a Generations counter starting at zero.
func NewGenerations() *Generations {
	return &Generations{}
}

// Next supersedes the active generation: the previous generation's context
// is cancelled, the counter advances, and a new context derived from parent
// is returned together with its generation number.
func (g *Generations) Next(parent context.Context) (context.Context, uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancel != nil {
		g.cancel()
	}
	g.current++
	ctx, cancel := context.WithCancel(parent)
	g.cancel = cancel
	return ctx, g.current
}

// Current returns the active generation number.
func (g *Generations) Current() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// IsCurrent reports whether gen is still the active generation.
func (g *Generations) IsCurrent(gen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return gen == g.current
}

// Invalidate supersedes the active generation without starting a new one.
// Called on batch change and when a new recording begins: any in-flight
// stage is cancelled and its eventual result fails the IsCurrent check.
func (g *Generations) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.current++
}
