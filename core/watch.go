package core

import (
	"context"
	"fmt"

	"github.com/delaneyj/resumable/dom"
	"github.com/delaneyj/resumable/qrl"
)

type WatchFlags uint8

const (
	// WatchIsEffect runs after the render phase of a pass.
	WatchIsEffect WatchFlags = 1 << iota
	// WatchIsWatch runs before the render phase of a pass.
	WatchIsWatch
	WatchIsDirty
	WatchIsCleanup
	// WatchIsResource runs before the render phase, after every WatchIsWatch.
	WatchIsResource
)

const (
	ResourcePending  = "pending"
	ResourceResolved = "resolved"
	ResourceRejected = "rejected"
)

// Watch is a reactive effect descriptor: a lazily resolved behavior bound to
// a host node, re-run whenever an object it read changes.
type Watch struct {
	Flags WatchFlags
	// Index is the declaration order within the host.
	Index    int
	Host     *dom.Node
	QRL      *qrl.QRL
	Resource *Store

	cleanups []func()
	// pending is the in-flight result of the latest resource run.
	pending *Promise
}

func (*Watch) isSubscriber() {}

func (w *Watch) Dirty() bool {
	return w.Flags&WatchIsDirty != 0
}

func (w *Watch) String() string {
	return fmt.Sprintf("watch(%d %s)", w.Index, w.QRL)
}

type WatchFn func(ctx context.Context, wc *WatchContext) error

// ResourceFn computes a resource value. Reads made through wc before it returns
// are tracked. Returning a *Promise (see Go) leaves the resource pending until
// the promise settles on a later tick.
type ResourceFn func(ctx context.Context, wc *WatchContext) (any, error)

type WatchContext struct {
	c *Container
	w *Watch
}

func (wc *WatchContext) Container() *Container { return wc.c }
func (wc *WatchContext) Watch() *Watch         { return wc.w }

// Captured returns the values the watch's handle closes over.
func (wc *WatchContext) Captured() []any {
	return wc.w.QRL.Captured
}

// Track reads key from s, subscribing the watch to it.
func (wc *WatchContext) Track(s *Store, key string) any {
	return s.Get(key)
}

// Cleanup registers fn to run before the next execution and when the watch is destroyed.
func (wc *WatchContext) Cleanup(fn func()) {
	wc.w.cleanups = append(wc.w.cleanups, fn)
	wc.w.Flags |= WatchIsCleanup
}

// UseWatch declares a watch on host that runs before rendering.
func (c *Container) UseWatch(host *NodeContext, q *qrl.QRL) *Watch {
	return c.useWatch(host, q, WatchIsWatch)
}

// UseEffect declares a watch on host that runs after rendering.
func (c *Container) UseEffect(host *NodeContext, q *qrl.QRL) *Watch {
	return c.useWatch(host, q, WatchIsEffect)
}

// UseResource declares an asynchronous resource on host. The returned store
// exposes state, resolved and error fields.
func (c *Container) UseResource(host *NodeContext, q *qrl.QRL) (*Watch, *Store) {
	res := c.NewStore(0,
		"state", ResourcePending,
		"resolved", Undefined,
		"error", Undefined,
	)
	w := &Watch{
		Flags:    WatchIsResource,
		Index:    len(host.Watches),
		Host:     host.Element,
		QRL:      q,
		Resource: res,
	}
	host.Watches = append(host.Watches, w)
	c.notifyWatch(w)
	return w, res
}

func (c *Container) useWatch(host *NodeContext, q *qrl.QRL, flags WatchFlags) *Watch {
	w := &Watch{
		Flags: flags,
		Index: len(host.Watches),
		Host:  host.Element,
		QRL:   q,
	}
	host.Watches = append(host.Watches, w)
	c.notifyWatch(w)
	return w
}

func (c *Container) cleanupWatch(w *Watch) {
	if w.Flags&WatchIsCleanup == 0 {
		return
	}
	w.Flags &^= WatchIsCleanup
	cleanups := w.cleanups
	w.cleanups = nil
	for _, fn := range cleanups {
		fn()
	}
}

// DestroyWatch runs the watch's pending cleanups.
func (c *Container) DestroyWatch(w *Watch) {
	c.cleanupWatch(w)
}

// Teardown disposes the reactive state of node and its subtree: watches are
// destroyed and unsubscribed, and the nodes leave every queue.
func (c *Container) Teardown(node *dom.Node) {
	for _, child := range node.Children() {
		c.Teardown(child)
	}
	nc := c.contexts[node]
	if nc == nil {
		return
	}
	for _, w := range nc.Watches {
		c.DestroyWatch(w)
		c.subs.ClearSub(w)
		c.watchNext.Remove(w)
		c.watchStaging.Remove(w)
	}
	nc.Watches = nil
	c.subs.ClearSub(nc)
	c.hostsNext.Remove(nc)
	c.hostsStaging.Remove(nc)
	delete(c.contexts, node)
}

func (c *Container) runWatch(ctx context.Context, w *Watch) {
	w.Flags &^= WatchIsDirty
	c.cleanupWatch(w)
	c.subs.ClearSub(w)

	behavior, err := w.QRL.Resolve(ctx, c.resolver)
	if err != nil {
		c.logger.Error("resolve watch", "watch", w.String(), "error", err)
		return
	}
	wc := &WatchContext{c: c, w: w}

	if w.Flags&WatchIsResource != 0 {
		c.runResource(ctx, wc, behavior)
		return
	}

	var fn WatchFn
	switch b := behavior.(type) {
	case WatchFn:
		fn = b
	case func(context.Context, *WatchContext) error:
		fn = b
	default:
		c.logger.Error("watch behavior has unexpected type", "watch", w.String(), "type", fmt.Sprintf("%T", behavior))
		return
	}
	if err := c.invoke(w, func() error { return fn(ctx, wc) }); err != nil {
		c.logger.Error("watch failed", "watch", w.String(), "error", err)
	}
}

func (c *Container) runResource(ctx context.Context, wc *WatchContext, behavior any) {
	w := wc.w
	var fn ResourceFn
	switch b := behavior.(type) {
	case ResourceFn:
		fn = b
	case func(context.Context, *WatchContext) (any, error):
		fn = b
	default:
		c.logger.Error("resource behavior has unexpected type", "watch", w.String(), "type", fmt.Sprintf("%T", behavior))
		return
	}

	res := w.Resource
	_ = res.Set("state", ResourcePending)
	w.pending = nil
	var v any
	err := c.invoke(w, func() error {
		var err error
		v, err = fn(ctx, wc)
		return err
	})
	p, async := v.(*Promise)
	if err != nil || !async {
		c.settleResource(w, nil, v, err)
		return
	}
	w.pending = p
	go func() {
		v, err := p.Await(ctx)
		c.platform.NextTick(func() {
			c.settleResource(w, p, v, err)
		})
	}()
}

// settleResource writes the outcome into the resource store. Results of a
// superseded run are dropped.
func (c *Container) settleResource(w *Watch, p *Promise, v any, err error) {
	if w.pending != p {
		return
	}
	w.pending = nil
	res := w.Resource
	if err != nil {
		_ = res.Set("error", err)
		_ = res.Set("state", ResourceRejected)
		return
	}
	_ = res.Set("resolved", v)
	_ = res.Set("state", ResourceResolved)
}
