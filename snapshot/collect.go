package snapshot

import (
	"context"
	"math"
	"net/url"
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/delaneyj/resumable/core"
	"github.com/delaneyj/resumable/dom"
	"github.com/delaneyj/resumable/qrl"
)

// collector walks the object graph reachable from the roots of a container.
// Values are deduplicated by identity. Leak-tracking walks additionally pull
// in every subscriber of each store they meet.
type collector struct {
	c *core.Container

	seen      mapset.Set[any]
	seenLeaks mapset.Set[any]
	seenSubs  mapset.Set[*core.LocalSubs]

	// objMap maps each visited value to the value stored in objs.
	objMap   map[any]any
	objOrder []any

	elements []*dom.Node
	watches  []*core.Watch
}

func newCollector(c *core.Container) *collector {
	return &collector{
		c:         c,
		seen:      mapset.NewThreadUnsafeSet[any](),
		seenLeaks: mapset.NewThreadUnsafeSet[any](),
		seenSubs:  mapset.NewThreadUnsafeSet[*core.LocalSubs](),
		objMap:    map[any]any{},
	}
}

func (col *collector) set(key, value any) {
	if _, ok := col.objMap[key]; !ok {
		col.objOrder = append(col.objOrder, key)
	}
	col.objMap[key] = value
}

// objs returns the distinct collected values in first-seen order.
func (col *collector) objs() []any {
	seen := map[any]struct{}{}
	out := make([]any, 0, len(col.objOrder))
	for _, k := range col.objOrder {
		v := col.objMap[k]
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (col *collector) hasElement(el *dom.Node) bool {
	return slices.Contains(col.elements, el)
}

func (col *collector) collectValue(ctx context.Context, obj any, leaks bool) error {
	if !core.Hashable(obj) {
		return core.NewError(core.CodeVerifySerializable, "collect", obj, nil)
	}
	seen := col.seen
	if leaks {
		seen = col.seenLeaks
	}
	if seen.Contains(obj) {
		return nil
	}
	seen.Add(obj)

	switch v := obj.(type) {
	case nil:
		col.set(nil, nil)
		return nil
	case *core.NoSerializeValue:
		col.set(v, core.Undefined)
		return nil
	case *qrl.QRL:
		col.set(v, v)
		for _, item := range v.Captured {
			if err := col.collectValue(ctx, item, leaks); err != nil {
				return err
			}
		}
		return nil
	case *core.Promise:
		value, err := v.Await(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			value = err
		}
		return col.collectValue(ctx, value, leaks)
	case *core.Mutable:
		return col.collectValue(ctx, v.V, leaks)
	case *dom.Node:
		switch {
		case v.IsDocument():
			col.set(v, v)
		case !v.IsElement():
			return core.NewError(core.CodeVerifySerializable, "collect", v, nil)
		}
		return nil
	case *core.Watch:
		col.set(v, v)
		if err := col.collectValue(ctx, v.QRL, leaks); err != nil {
			return err
		}
		if v.Resource != nil {
			return col.collectValue(ctx, v.Resource, leaks)
		}
		return nil
	case *core.Store:
		target := v.Target()
		if leaks {
			if err := col.collectSubscriptions(ctx, target); err != nil {
				return err
			}
		}
		if seen.Contains(target) {
			return nil
		}
		seen.Add(target)
		return col.collectTarget(ctx, target, leaks)
	case *core.Record, *core.List:
		// nested collections read through a recursive store have subscribers of their own
		if leaks {
			if err := col.collectSubscriptions(ctx, v); err != nil {
				return err
			}
		}
		return col.collectTarget(ctx, v, leaks)
	}

	if core.IsUndefined(obj) {
		col.set(obj, core.Undefined)
		return nil
	}
	if !isPrimitive(obj) || !finite(obj) {
		return core.NewError(core.CodeVerifySerializable, "collect", obj, nil)
	}
	col.set(obj, obj)
	return nil
}

func (col *collector) collectTarget(ctx context.Context, target any, leaks bool) error {
	col.set(target, target)
	switch t := target.(type) {
	case *core.Record:
		for _, k := range t.Keys() {
			v, _ := t.Get(k)
			if err := col.collectValue(ctx, v, leaks); err != nil {
				return err
			}
		}
	case *core.List:
		for _, v := range t.Items() {
			if err := col.collectValue(ctx, v, leaks); err != nil {
				return err
			}
		}
	}
	return nil
}

// collectSubscriptions pulls in every subscriber of target: component hosts
// as elements, watches as values.
func (col *collector) collectSubscriptions(ctx context.Context, target any) error {
	l := col.c.Subscriptions().TryGetLocal(target)
	if l == nil || col.seenSubs.Contains(l) {
		return nil
	}
	col.seenSubs.Add(l)
	for _, sub := range l.Subscribers() {
		switch s := sub.(type) {
		case *core.NodeContext:
			if err := col.collectElement(ctx, s.Element); err != nil {
				return err
			}
		case *core.Watch:
			if err := col.collectValue(ctx, s, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func (col *collector) collectElement(ctx context.Context, el *dom.Node) error {
	if col.hasElement(el) {
		return nil
	}
	nc := col.c.TryNodeContext(el)
	if nc == nil {
		return nil
	}
	col.elements = append(col.elements, el)

	var values []any
	if nc.Props != nil {
		values = append(values, nc.Props)
	}
	if nc.RenderQRL != nil {
		values = append(values, nc.RenderQRL)
	}
	values = append(values, nc.Seq...)
	for _, w := range nc.Watches {
		values = append(values, w)
	}
	if nc.Contexts != nil {
		for _, k := range nc.Contexts.Keys() {
			v, _ := nc.Contexts.Get(k)
			values = append(values, v)
		}
	}
	for _, v := range values {
		if err := col.collectValue(ctx, v, false); err != nil {
			return err
		}
	}
	return nil
}

// collectProps collects the host only when it read its own props.
func (col *collector) collectProps(ctx context.Context, nc *core.NodeContext) error {
	if nc.Props == nil {
		return nil
	}
	target := nc.Props
	if s, ok := target.(*core.Store); ok {
		target = s.Target()
	}
	l := col.c.Subscriptions().TryGetLocal(target)
	if l != nil && l.Has(nc) {
		return col.collectElement(ctx, nc.Element)
	}
	return nil
}

// finite rejects NaN and infinities, which JSON can not carry.
func finite(v any) bool {
	switch f := v.(type) {
	case float64:
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	case float32:
		return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
	}
	return true
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		time.Time, *url.URL:
		return true
	case error:
		return true
	}
	return false
}
