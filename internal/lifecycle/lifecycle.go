// Package lifecycle groups a session's background goroutines under one
// cancellation scope (§5 of the spec), grounded on the teacher's pervasive
// context.Context-cancellation propagation through its runtime scheduler.
package lifecycle

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/aaronbassett/paige/internal/buffercache"
	"github.com/aaronbassett/paige/internal/observer"
)

// Group runs a session's background goroutines — the Observer actor and
// the Buffer Cache's periodic summary ticker — under one cancellation
// scope, stopping all of them together on session end. uihub.Hub's
// per-client write-pumps are spawned by Hub.Connect itself, scoped to the
// connection rather than the session, and are intentionally not owned
// here.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group
}

// New derives a cancellable scope from parent. Add components with
// AddObserver/AddBufferCache before the session's work begins.
func New(parent context.Context) *Group {
	ctx, cancel := context.WithCancel(parent)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{ctx: ctx, cancel: cancel, eg: eg}
}

// AddObserver starts obs against bus and stops it when the group is
// stopped or its parent context is canceled.
func (g *Group) AddObserver(obs *observer.Observer, bus observer.Subscriber) {
	obs.Start(g.ctx, bus)
	g.eg.Go(func() error {
		<-g.ctx.Done()
		obs.Stop()
		return nil
	})
}

// AddBufferCache runs cache's summary ticker until the group stops.
func (g *Group) AddBufferCache(cache *buffercache.Cache) {
	g.eg.Go(func() error {
		cache.Run(g.ctx)
		return nil
	})
}

// Stop cancels every owned goroutine and waits for them to exit.
func (g *Group) Stop() error {
	g.cancel()
	return g.eg.Wait()
}
