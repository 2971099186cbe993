package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/delaneyj/resumable/dom"
	"github.com/delaneyj/resumable/qrl"
)

const ListenerAttrPrefix = "on:"

type ListenerEvent struct {
	Container *Container
	Node      *dom.Node
	Type      string
	Detail    any
	Captured  []any
}

type ListenerFn func(ctx context.Context, ev *ListenerEvent) error

// AddListener binds q to event on node. Captured values are pushed into the
// node's ref map and the on:<event> attribute records the handle with its
// captures written as ref map indexes.
func (c *Container) AddListener(node *dom.Node, event string, q *qrl.QRL) {
	nc := c.NodeContext(node)
	c.ElementID(nc)
	nc.Listeners = append(nc.Listeners, Listener{Event: event, QRL: q})

	refs := make([]string, len(q.Captured))
	for i, v := range q.Captured {
		refs[i] = IntToStr(nc.AddRef(v))
	}
	name := ListenerAttrPrefix + event
	value := q.Stringify(refs)
	if existing, ok := node.Attr(name); ok && existing != "" {
		value = existing + "\n" + value
	}
	node.SetAttr(name, value)
}

// ParseListeners rebuilds nc.Listeners from the node's on: attributes,
// resolving capture indexes against nc.RefMap.
func (c *Container) ParseListeners(nc *NodeContext) error {
	nc.Listeners = nil
	for _, a := range nc.Element.Attrs() {
		if !strings.HasPrefix(a.Name, ListenerAttrPrefix) {
			continue
		}
		event := strings.TrimPrefix(a.Name, ListenerAttrPrefix)
		for _, line := range strings.Split(a.Value, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			q, err := qrl.Parse(line)
			if err != nil {
				return NewError(CodeCorruptSnapshot, "parse listener", a.Name, err)
			}
			if len(q.CaptureRefs) > 0 {
				q.Captured = make([]any, len(q.CaptureRefs))
				for i, ref := range q.CaptureRefs {
					idx, err := StrToInt(ref)
					if err != nil || idx < 0 || idx >= len(nc.RefMap) {
						return NewError(CodeCorruptSnapshot, "parse listener", line,
							fmt.Errorf("capture %q out of ref map bounds", ref))
					}
					q.Captured[i] = nc.RefMap[idx]
				}
				q.CaptureRefs = nil
			}
			nc.Listeners = append(nc.Listeners, Listener{Event: event, QRL: q})
		}
	}
	return nil
}

// Dispatch invokes every listener bound to event on node in registration
// order. A paused client container is resumed first.
func (c *Container) Dispatch(ctx context.Context, node *dom.Node, event string, detail any) error {
	if err := c.resumeIfNeeded(ctx); err != nil {
		return err
	}
	nc := c.TryNodeContext(node)
	if nc == nil {
		return nil
	}
	var errs []error
	for _, q := range nc.ListenersFor(event) {
		behavior, err := q.Resolve(ctx, c.resolver)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		var fn ListenerFn
		switch b := behavior.(type) {
		case ListenerFn:
			fn = b
		case func(context.Context, *ListenerEvent) error:
			fn = b
		default:
			errs = append(errs, fmt.Errorf("listener %s has unexpected type %T", q, behavior))
			continue
		}
		ev := &ListenerEvent{
			Container: c,
			Node:      node,
			Type:      event,
			Detail:    detail,
			Captured:  q.Captured,
		}
		if err := c.invoke(nil, func() error { return fn(ctx, ev) }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
