// Package workgroup runs the agent's long lived workers side by side.
package workgroup

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Group shares one context between its workers. The context is cancelled
// when any worker fails so the rest wind down with it.
type Group struct {
	ctx   context.Context
	group *errgroup.Group
}

func WithContext(ctx context.Context) *Group {
	group, gctx := errgroup.WithContext(ctx)
	return &Group{
		ctx:   gctx,
		group: group,
	}
}

func (g *Group) Work(fn func(context.Context) error) {
	g.group.Go(func() error {
		return fn(g.ctx)
	})
}

// Wait returns the first worker error once every worker has returned.
func (g *Group) Wait() error {
	return g.group.Wait()
}
