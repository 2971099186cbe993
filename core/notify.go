package core

import (
	"context"
	"fmt"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/delaneyj/resumable/dom"
)

// RenderContext is shared by every component rendered in one pass.
type RenderContext struct {
	Container *Container
	// Rendered holds the hosts already rendered in this pass.
	Rendered mapset.Set[*NodeContext]
	Roots    []*NodeContext
	// Operations are document mutations queued by renderers, applied in
	// order once every component of the pass has rendered.
	Operations []func()
}

func (rc *RenderContext) hasRendered(node *dom.Node) bool {
	nc := rc.Container.contexts[node]
	return nc != nil && rc.Rendered.Contains(nc)
}

// Renderer re-renders one component host.
type Renderer interface {
	RenderComponent(ctx context.Context, rc *RenderContext, host *NodeContext) error
}

type RenderFn func(ctx context.Context, rc *RenderContext, host *NodeContext) error

// DefaultRenderer resolves the host's render handle to a RenderFn and runs it.
type DefaultRenderer struct{}

func (DefaultRenderer) RenderComponent(ctx context.Context, rc *RenderContext, host *NodeContext) error {
	behavior, err := host.RenderQRL.Resolve(ctx, rc.Container.resolver)
	if err != nil {
		return err
	}
	switch fn := behavior.(type) {
	case RenderFn:
		return fn(ctx, rc, host)
	case func(context.Context, *RenderContext, *NodeContext) error:
		return fn(ctx, rc, host)
	}
	return fmt.Errorf("render handle %s has unexpected type %T", host.RenderQRL, behavior)
}

func (c *Container) Passes() int {
	return c.passes
}

// Rendering reports whether a pass is active.
func (c *Container) Rendering() bool {
	return c.hostsRendering != nil
}

func (c *Container) notifyTarget(target any, key string) {
	l := c.subs.TryGetLocal(target)
	if l == nil {
		return
	}
	for _, sub := range l.affected(key) {
		c.NotifyChange(sub)
	}
}

func (c *Container) NotifyChange(sub Subscriber) {
	switch s := sub.(type) {
	case *NodeContext:
		c.NotifyRender(s)
	case *Watch:
		c.notifyWatch(s)
	}
}

// NotifyRender marks host for re-rendering. Notifications made while a pass
// is active are staged for the following pass.
func (c *Container) NotifyRender(host *NodeContext) {
	if !c.server {
		if err := c.resumeIfNeeded(c.ctx); err != nil {
			c.logger.Error("resume before render", "error", err)
		}
	}
	if host.RenderQRL == nil {
		err := NewError(CodeMissingRenderHandle, "notify render", host, nil)
		if c.dev {
			panic(err)
		}
		c.logger.Error(err.Error())
		return
	}
	if host.Dirty {
		return
	}
	host.Dirty = true
	if c.hostsRendering != nil {
		c.hostsStaging.Add(host)
		return
	}
	if c.server {
		c.logger.Warn("can not rerender in server platform", "host", host.String())
		return
	}
	c.hostsNext.Add(host)
	c.scheduleFrame()
}

func (c *Container) notifyWatch(w *Watch) {
	if w.Dirty() {
		return
	}
	w.Flags |= WatchIsDirty
	if c.hostsRendering != nil {
		c.watchStaging.Add(w)
		return
	}
	c.watchNext.Add(w)
	c.scheduleFrame()
}

func (c *Container) scheduleFrame() {
	if c.scheduled {
		return
	}
	c.scheduled = true
	c.platform.NextTick(func() {
		c.renderMarked(c.ctx)
	})
}

func (c *Container) resumeIfNeeded(ctx context.Context) error {
	if c.resumer == nil || c.server || !c.IsPaused() {
		return nil
	}
	return c.resumer(ctx, c)
}

func (c *Container) renderMarked(ctx context.Context) {
	c.passes++
	rendering := c.hostsNext.Clone()
	c.hostsRendering = rendering
	c.hostsNext.Clear()

	c.executeWatchesBefore(ctx)

	for _, host := range c.hostsStaging.ToSlice() {
		rendering.Add(host)
	}
	c.hostsStaging.Clear()

	queue := rendering.ToSlice()
	sortNodes(queue)

	rc := &RenderContext{
		Container: c,
		Rendered:  mapset.NewThreadUnsafeSet[*NodeContext](),
	}
	for _, host := range queue {
		if rc.Rendered.Contains(host) {
			continue
		}
		rc.Roots = append(rc.Roots, host)
		c.renderComponent(ctx, rc, host)
	}
	for _, op := range rc.Operations {
		op()
	}

	c.postRendering(ctx, rc)
}

func (c *Container) renderComponent(ctx context.Context, rc *RenderContext, host *NodeContext) {
	rc.Rendered.Add(host)
	host.Dirty = false
	c.subs.ClearSub(host)
	err := c.guard(func() error {
		return c.invoke(host, func() error {
			return c.renderer.RenderComponent(ctx, rc, host)
		})
	})
	if err != nil {
		c.logger.Error(CodeErrorWhileRendering.String(), "host", host.String(), "error", err)
	}
}

func (c *Container) postRendering(ctx context.Context, rc *RenderContext) {
	c.executeWatchesAfter(ctx, func(w *Watch, staging bool) bool {
		if w.Flags&WatchIsEffect == 0 {
			return false
		}
		if staging {
			return rc.hasRendered(w.Host)
		}
		return true
	})

	for _, host := range c.hostsStaging.ToSlice() {
		c.hostsNext.Add(host)
	}
	c.hostsStaging.Clear()

	c.hostsRendering = nil
	c.scheduled = false

	if c.hostsNext.Cardinality()+c.watchNext.Cardinality() > 0 {
		c.scheduleFrame()
	}
}

func (c *Container) executeWatchesBefore(ctx context.Context) {
	var watches, resources []*Watch
	for _, w := range c.watchNext.ToSlice() {
		switch {
		case w.Flags&WatchIsWatch != 0:
			watches = append(watches, w)
			c.watchNext.Remove(w)
		case w.Flags&WatchIsResource != 0:
			resources = append(resources, w)
			c.watchNext.Remove(w)
		}
	}
	for {
		for _, w := range c.watchStaging.ToSlice() {
			switch {
			case w.Flags&WatchIsWatch != 0:
				watches = append(watches, w)
			case w.Flags&WatchIsResource != 0:
				resources = append(resources, w)
			default:
				c.watchNext.Add(w)
			}
		}
		c.watchStaging.Clear()

		if len(watches) > 0 {
			c.runWatches(ctx, watches)
			watches = watches[:0]
		}
		if c.watchStaging.Cardinality() == 0 {
			break
		}
	}

	if len(resources) > 0 {
		c.runWatches(ctx, resources)
	}
}

func (c *Container) executeWatchesAfter(ctx context.Context, pred func(w *Watch, staging bool) bool) {
	var watches []*Watch
	for _, w := range c.watchNext.ToSlice() {
		if pred(w, false) {
			watches = append(watches, w)
			c.watchNext.Remove(w)
		}
	}
	for {
		for _, w := range c.watchStaging.ToSlice() {
			if pred(w, true) {
				watches = append(watches, w)
			} else {
				c.watchNext.Add(w)
			}
		}
		c.watchStaging.Clear()

		if len(watches) > 0 {
			c.runWatches(ctx, watches)
			watches = watches[:0]
		}
		if c.watchStaging.Cardinality() == 0 {
			break
		}
	}
}

// runWatches resolves every handle of the batch, orders the batch by document
// position and declaration index, then runs each watch.
func (c *Container) runWatches(ctx context.Context, watches []*Watch) {
	for _, w := range watches {
		if _, err := w.QRL.Resolve(ctx, c.resolver); err != nil {
			c.logger.Error("resolve watch", "watch", w.String(), "error", err)
		}
	}
	sortWatches(watches)
	for _, w := range watches {
		err := c.guard(func() error {
			c.runWatch(ctx, w)
			return nil
		})
		if err != nil {
			c.logger.Error("watch failed", "watch", w.String(), "error", err)
		}
	}
}

func (c *Container) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("panic: %w", e)
				return
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func sortNodes(nodes []*NodeContext) {
	slices.SortStableFunc(nodes, func(a, b *NodeContext) int {
		return dom.ComparePosition(a.Element, b.Element)
	})
}

func sortWatches(watches []*Watch) {
	slices.SortStableFunc(watches, func(a, b *Watch) int {
		if a.Host == b.Host {
			return a.Index - b.Index
		}
		return dom.ComparePosition(a.Host, b.Host)
	})
}
