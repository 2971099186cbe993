package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/delaneyj/resumable/core"
	"github.com/delaneyj/resumable/dom"
	"github.com/delaneyj/resumable/qrl"
)

// watchShell holds the unresolved references of a decoded watch.
type watchShell struct {
	host, qrl, resource string
}

type reviver struct {
	c        *core.Container
	elements map[string]*dom.Node
	objs     []any
	// transformed caches transformed references so shared boxes and
	// promises stay shared.
	transformed map[string]any
	watches     map[*core.Watch]watchShell
}

// Resume revives the container from the payload script left by Pause. A root
// without a container attribute or without a payload is skipped with a warning.
// It has the signature of core.Resumer.
func Resume(ctx context.Context, c *core.Container) error {
	root := c.Root()
	if !root.HasAttr(core.AttrContainer) {
		c.Logger().Warn("skipping resume because root element is not a container")
		return nil
	}
	script := PayloadScript(root)
	if script == nil {
		c.Logger().Warn("skipping resume because the snapshot script was not found")
		return nil
	}
	script.Remove()

	st, err := Decode(script.TextContent())
	if err != nil {
		return core.NewError(core.CodeCorruptSnapshot, "resume", nil, err)
	}
	if err := Revive(ctx, c, st); err != nil {
		return err
	}

	root.SetAttr(core.AttrContainer, core.StateResumed)
	c.Logger().Debug("container resumed")
	root.Dispatch(dom.Event{Type: core.EventResume, Bubbles: true})
	return nil
}

// Revive rebuilds node contexts, stores and subscriptions of c from st.
func Revive(ctx context.Context, c *core.Container, st *State) error {
	r := &reviver{
		c:           c,
		elements:    map[string]*dom.Node{},
		objs:        make([]any, len(st.Objs)),
		transformed: map[string]any{},
		watches:     map[*core.Watch]watchShell{},
	}

	maxID := -1
	for _, el := range dom.NodesInScope(c.Root(), hasElementID, nestedContainerOf(c.Root())) {
		id, _ := el.Attr(core.AttrElementID)
		n, err := core.StrToInt(id)
		if err != nil {
			return core.NewError(core.CodeCorruptSnapshot, "resume", id, err)
		}
		nc := c.NodeContext(el)
		nc.ID = id
		nc.Mounted = true
		r.elements[core.ElementIDPrefix+id] = el
		maxID = max(maxID, n)
	}
	if maxID >= 0 {
		c.SetElementIndex(maxID + 1)
	}

	for i, raw := range st.Objs {
		v, err := r.prepare(raw)
		if err != nil {
			return core.NewError(core.CodeCorruptSnapshot, "resume", core.IntToStr(i), err)
		}
		r.objs[i] = v
	}

	if err := r.reviveSubs(st.Subs); err != nil {
		return err
	}

	for _, obj := range r.objs {
		if err := r.fill(obj); err != nil {
			return err
		}
	}

	for id, m := range st.Ctx {
		if err := r.reviveMeta(id, m); err != nil {
			return err
		}
	}

	// listeners without captures leave no ref map behind
	for _, el := range r.elements {
		nc := c.NodeContext(el)
		if nc.Listeners != nil || !hasListenerAttr(el) {
			continue
		}
		if err := c.ParseListeners(nc); err != nil {
			return err
		}
	}
	return nil
}

// prepare turns a decoded JSON value into its live shell. Collections keep
// raw reference strings until fill.
func (r *reviver) prepare(raw any) (any, error) {
	switch v := raw.(type) {
	case nil, bool:
		return v, nil
	case json.Number:
		if i, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
			return int(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	case []any:
		return core.NewList(v...), nil
	case *orderedObject:
		rec := core.NewRecord()
		for i, k := range v.keys {
			rec.Set(k, v.values[i])
		}
		return rec, nil
	case string:
		return r.prepareString(v)
	}
	return nil, fmt.Errorf("unexpected value %T", raw)
}

func (r *reviver) prepareString(s string) (any, error) {
	if s == "" {
		return s, nil
	}
	body := s[1:]
	switch rune(s[0]) {
	case prefixUndefined:
		return core.Undefined, nil
	case prefixString:
		return body, nil
	case prefixQRL:
		return qrl.Parse(body)
	case prefixWatch:
		return r.prepareWatch(body)
	case prefixDocument:
		doc := r.c.Root().OwnerDocument()
		if doc == nil {
			return nil, errors.New("container is not attached to a document")
		}
		return doc, nil
	case prefixTime:
		return time.Parse(time.RFC3339Nano, body)
	case prefixURL:
		return url.Parse(body)
	case prefixError:
		return errors.New(body), nil
	}
	return s, nil
}

func (r *reviver) prepareWatch(body string) (*core.Watch, error) {
	parts := strings.Split(body, " ")
	if len(parts) < 4 {
		return nil, fmt.Errorf("watch %q has %d fields", body, len(parts))
	}
	flags, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, err
	}
	index, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, err
	}
	w := &core.Watch{Flags: core.WatchFlags(flags), Index: index}
	shell := watchShell{host: parts[2], qrl: parts[3]}
	if len(parts) > 4 {
		shell.resource = parts[4]
	}
	r.watches[w] = shell
	return w, nil
}

func (r *reviver) reviveSubs(subs []any) error {
	for i, raw := range subs {
		if raw == nil {
			continue
		}
		if i >= len(r.objs) {
			return core.NewError(core.CodeCorruptSnapshot, "resume subs", core.IntToStr(i), nil)
		}
		rec, ok := raw.(*orderedObject)
		if !ok {
			return core.NewError(core.CodeCorruptSnapshot, "resume subs", core.IntToStr(i),
				fmt.Errorf("subscription record is %T", raw))
		}
		target := r.objs[i]
		var flags core.StoreFlags
		var records []core.SubscriptionRecord
		for j, key := range rec.keys {
			value := rec.values[j]
			if key == flagsKey {
				n, ok := value.(json.Number)
				if !ok {
					return core.NewError(core.CodeCorruptSnapshot, "resume subs", key, nil)
				}
				f, err := n.Int64()
				if err != nil {
					return core.NewError(core.CodeCorruptSnapshot, "resume subs", key, err)
				}
				flags = core.StoreFlags(f)
				continue
			}
			sub := r.subscriber(key)
			if sub == nil {
				r.c.DevWarn("can not revive subscription because of missing element", "ref", key)
				continue
			}
			record := core.SubscriptionRecord{Sub: sub}
			if value != nil {
				keys, ok := value.([]any)
				if !ok {
					return core.NewError(core.CodeCorruptSnapshot, "resume subs", key,
						fmt.Errorf("keys are %T", value))
				}
				record.Keys = make([]string, 0, len(keys))
				for _, k := range keys {
					ks, ok := k.(string)
					if !ok {
						return core.NewError(core.CodeCorruptSnapshot, "resume subs", key,
							fmt.Errorf("key is %T", k))
					}
					record.Keys = append(record.Keys, ks)
				}
			}
			records = append(records, record)
		}
		if !core.Hashable(target) {
			return core.NewError(core.CodeCorruptSnapshot, "resume subs", core.IntToStr(i), nil)
		}
		r.c.CreateProxy(target, flags, records)
	}
	return nil
}

func (r *reviver) subscriber(ref string) core.Subscriber {
	obj, err := r.object(ref)
	if err != nil {
		return nil
	}
	switch v := obj.(type) {
	case *dom.Node:
		return r.c.NodeContext(v)
	case *core.Watch:
		return v
	}
	return nil
}

// fill replaces the reference strings held by a shell with live values.
func (r *reviver) fill(obj any) error {
	switch v := obj.(type) {
	case *core.List:
		items := v.Items()
		for i, item := range items {
			live, err := r.ref(item)
			if err != nil {
				return err
			}
			items[i] = live
		}
	case *core.Record:
		for _, k := range v.Keys() {
			item, _ := v.Get(k)
			live, err := r.ref(item)
			if err != nil {
				return err
			}
			v.Set(k, live)
		}
	case *qrl.QRL:
		if len(v.CaptureRefs) == 0 {
			return nil
		}
		v.Captured = make([]any, len(v.CaptureRefs))
		for i, id := range v.CaptureRefs {
			live, err := r.object(id)
			if err != nil {
				return err
			}
			v.Captured[i] = live
		}
		v.CaptureRefs = nil
	case *core.Watch:
		shell, ok := r.watches[v]
		if !ok {
			return nil
		}
		delete(r.watches, v)
		host, err := r.object(shell.host)
		if err != nil {
			return err
		}
		el, ok := host.(*dom.Node)
		if !ok {
			return core.NewError(core.CodeCorruptSnapshot, "resume watch", shell.host, nil)
		}
		v.Host = el
		q, err := r.object(shell.qrl)
		if err != nil {
			return err
		}
		if v.QRL, ok = q.(*qrl.QRL); !ok {
			return core.NewError(core.CodeCorruptSnapshot, "resume watch", shell.qrl, nil)
		}
		if shell.resource != "" {
			res, err := r.object(shell.resource)
			if err != nil {
				return err
			}
			if v.Resource, ok = res.(*core.Store); !ok {
				return core.NewError(core.CodeCorruptSnapshot, "resume watch", shell.resource, nil)
			}
		}
	}
	return nil
}

func (r *reviver) ref(raw any) (any, error) {
	id, ok := raw.(string)
	if !ok {
		return nil, core.NewError(core.CodeCorruptSnapshot, "resume", raw, errors.New("reference is not a string"))
	}
	return r.object(id)
}

// object resolves a reference, applying its transform markers from last to first.
func (r *reviver) object(id string) (any, error) {
	if id == "" {
		return nil, core.NewError(core.CodeCorruptSnapshot, "resume", id, errors.New("empty reference"))
	}
	if v, ok := r.transformed[id]; ok {
		return v, nil
	}
	end := len(id)
	for end > 0 && transformMarker(id[end-1]) {
		end--
	}
	base := id[:end]

	var obj any
	if strings.HasPrefix(base, core.ElementIDPrefix) {
		el, ok := r.elements[base]
		if !ok {
			return nil, core.NewError(core.CodeCorruptSnapshot, "resume", id, errors.New("missing element"))
		}
		obj = el
	} else {
		index, err := core.StrToInt(base)
		if err != nil || index < 0 || index >= len(r.objs) {
			return nil, core.NewError(core.CodeCorruptSnapshot, "resume", id, errors.New("index out of bounds"))
		}
		obj = r.objs[index]
	}
	if end == len(id) {
		return obj, nil
	}

	for i := len(id) - 1; i >= end; i-- {
		switch id[i] {
		case '!':
			if !core.Hashable(obj) {
				return nil, core.NewError(core.CodeCorruptSnapshot, "resume", id, nil)
			}
			if p := r.c.Proxy(obj); p != nil {
				obj = p
			} else {
				obj = r.c.GetOrCreateProxy(obj, 0)
			}
		case '%':
			obj = core.NewMutable(obj)
		case '~':
			obj = core.Resolved(obj)
		case '_':
			err, ok := obj.(error)
			if !ok {
				err = fmt.Errorf("%v", obj)
			}
			obj = core.Rejected(err)
		}
	}
	r.transformed[id] = obj
	return obj, nil
}

func (r *reviver) objects(list string) ([]any, error) {
	parts := strings.Fields(list)
	out := make([]any, len(parts))
	for i, p := range parts {
		v, err := r.object(p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (r *reviver) reviveMeta(id string, m Meta) error {
	obj, err := r.object(id)
	if err != nil {
		return err
	}
	el, ok := obj.(*dom.Node)
	if !ok {
		return core.NewError(core.CodeCorruptSnapshot, "resume meta", id, errors.New("not an element"))
	}
	nc := r.c.NodeContext(el)

	if m.R != "" {
		refs, err := r.objects(m.R)
		if err != nil {
			return err
		}
		nc.RefMap = append(nc.RefMap, refs...)
		if err := r.c.ParseListeners(nc); err != nil {
			return err
		}
	}
	if m.S != "" {
		if nc.Seq, err = r.objects(m.S); err != nil {
			return err
		}
	}
	if m.W != "" {
		watches, err := r.objects(m.W)
		if err != nil {
			return err
		}
		nc.Watches = nc.Watches[:0]
		for _, w := range watches {
			watch, ok := w.(*core.Watch)
			if !ok {
				return core.NewError(core.CodeCorruptSnapshot, "resume meta", id, fmt.Errorf("watch is %T", w))
			}
			if watch.Dirty() {
				r.c.DevWarn("resumed a dirty watch", "watch", watch.String())
			}
			nc.Watches = append(nc.Watches, watch)
		}
	}
	if m.C != "" {
		for _, part := range strings.Fields(m.C) {
			key, ref, ok := strings.Cut(part, "=")
			if !ok {
				return core.NewError(core.CodeCorruptSnapshot, "resume meta", part, errors.New("context entry without ="))
			}
			v, err := r.object(ref)
			if err != nil {
				return err
			}
			nc.SetContext(key, v)
		}
	}
	if m.H != "" {
		parts, err := r.objects(m.H)
		if err != nil {
			return err
		}
		nc.Props = parts[0]
		if len(parts) > 1 {
			q, ok := parts[1].(*qrl.QRL)
			if !ok {
				return core.NewError(core.CodeCorruptSnapshot, "resume meta", id, fmt.Errorf("render handle is %T", parts[1]))
			}
			nc.RenderQRL = q
		}
	}
	return nil
}
