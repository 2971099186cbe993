package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/delaneyj/resumable/core"
	"github.com/delaneyj/resumable/dom"
	"github.com/delaneyj/resumable/qrl"
)

// orderedObject is a JSON object that keeps its key order.
type orderedObject struct {
	keys   []string
	values []any
}

func (o *orderedObject) add(key string, value any) {
	o.keys = append(o.keys, key)
	o.values = append(o.values, value)
}

func (o *orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type subEntry struct {
	sub   core.Subscriber
	flags core.StoreFlags
	keys  []string
}

type serializer struct {
	c   *core.Container
	col *collector

	elementIDs map[*dom.Node]string
	objToID    map[any]int
}

func (s *serializer) elementID(el *dom.Node) string {
	if id, ok := s.elementIDs[el]; ok {
		return id
	}
	id := ""
	if el.IsConnected() {
		nc := s.c.NodeContext(el)
		if v := s.c.ElementID(nc); v != "" {
			id = core.ElementIDPrefix + v
		} else {
			s.c.DevWarn("missing element id", "element", el.String())
		}
	}
	s.elementIDs[el] = id
	return id
}

// objID returns the reference of obj, or "" when obj was not collected.
func (s *serializer) objID(obj any) string {
	suffix := ""
	if m, ok := obj.(*core.Mutable); ok {
		obj = m.V
		suffix = "%"
	}
	if p, ok := obj.(*core.Promise); ok {
		value, resolved, settled := p.Settled()
		if !settled {
			return ""
		}
		obj = value
		if resolved {
			suffix += "~"
		} else {
			suffix += "_"
		}
	}
	switch v := obj.(type) {
	case *core.Store:
		suffix += "!"
		obj = v.Target()
	case *dom.Node:
		if v.IsElement() {
			if id := s.elementID(v); id != "" {
				return id + suffix
			}
			return ""
		}
	}
	if !core.Hashable(obj) {
		return ""
	}
	value, ok := s.col.objMap[obj]
	if !ok {
		return ""
	}
	id, ok := s.objToID[value]
	if !ok {
		return ""
	}
	return core.IntToStr(id) + suffix
}

func (s *serializer) mustObjID(obj any) (string, error) {
	id := s.objID(obj)
	if id == "" {
		return "", core.NewError(core.CodeMissingObjectID, "serialize", obj, nil)
	}
	return id, nil
}

func (s *serializer) mustObjIDs(objs []any) (string, error) {
	ids := make([]string, len(objs))
	for i, obj := range objs {
		id, err := s.mustObjID(obj)
		if err != nil {
			return "", err
		}
		ids[i] = id
	}
	return strings.Join(ids, " "), nil
}

func (s *serializer) subscriptions(obj any) []subEntry {
	proxy := s.c.Proxy(obj)
	if proxy == nil {
		return nil
	}
	var entries []subEntry
	if flags := proxy.Flags(); flags > 0 {
		entries = append(entries, subEntry{flags: flags})
	}
	if l := s.c.Subscriptions().TryGetLocal(obj); l != nil {
		for _, r := range l.Records() {
			if nc, ok := r.Sub.(*core.NodeContext); ok && !s.col.hasElement(nc.Element) {
				continue
			}
			entries = append(entries, subEntry{sub: r.Sub, keys: r.Keys})
		}
	}
	return entries
}

func (s *serializer) encodeSubs(entries []subEntry) *orderedObject {
	out := &orderedObject{}
	for _, e := range entries {
		if e.sub == nil {
			out.add(flagsKey, int(e.flags))
			continue
		}
		var id string
		switch sub := e.sub.(type) {
		case *core.NodeContext:
			id = s.elementID(sub.Element)
		case *core.Watch:
			id = s.objID(sub)
		}
		if id == "" {
			continue
		}
		if e.keys == nil {
			out.add(id, nil)
		} else {
			out.add(id, e.keys)
		}
	}
	return out
}

func (s *serializer) encodeValue(obj any) (any, error) {
	switch v := obj.(type) {
	case nil:
		return nil, nil
	case string:
		if v != "" && v[0] < 0x20 {
			return string(prefixString) + v, nil
		}
		return v, nil
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return v, nil
	case *qrl.QRL:
		refs := make([]string, len(v.Captured))
		for i, c := range v.Captured {
			id, err := s.mustObjID(c)
			if err != nil {
				return nil, err
			}
			refs[i] = id
		}
		return string(prefixQRL) + v.Stringify(refs), nil
	case *core.Watch:
		return s.encodeWatch(v)
	case *dom.Node:
		if v.IsDocument() {
			return string(prefixDocument), nil
		}
	case time.Time:
		return string(prefixTime) + v.Format(time.RFC3339Nano), nil
	case *url.URL:
		return string(prefixURL) + v.String(), nil
	case error:
		return string(prefixError) + v.Error(), nil
	case *core.List:
		ids := make([]string, v.Len())
		for i, item := range v.Items() {
			id, err := s.mustObjID(item)
			if err != nil {
				return nil, err
			}
			ids[i] = id
		}
		return ids, nil
	case *core.Record:
		out := &orderedObject{}
		for _, k := range v.Keys() {
			item, _ := v.Get(k)
			id, err := s.mustObjID(item)
			if err != nil {
				return nil, err
			}
			out.add(k, id)
		}
		return out, nil
	}
	if core.IsUndefined(obj) {
		return undefinedWire, nil
	}
	return nil, core.NewError(core.CodeVerifySerializable, "serialize", obj, nil)
}

func (s *serializer) encodeWatch(w *core.Watch) (any, error) {
	host := s.elementID(w.Host)
	if host == "" {
		return nil, core.NewError(core.CodeMissingObjectID, "serialize watch", w, nil)
	}
	q, err := s.mustObjID(w.QRL)
	if err != nil {
		return nil, err
	}
	parts := []string{
		strconv.Itoa(int(w.Flags &^ core.WatchIsCleanup)),
		strconv.Itoa(w.Index),
		host,
		q,
	}
	if w.Resource != nil {
		res, err := s.mustObjID(w.Resource)
		if err != nil {
			return nil, err
		}
		parts = append(parts, res)
	}
	return string(prefixWatch) + strings.Join(parts, " "), nil
}

func (s *serializer) meta(nc *core.NodeContext, canRender bool) (Meta, error) {
	var m Meta
	var err error
	if len(nc.RefMap) > 0 {
		if m.R, err = s.mustObjIDs(nc.RefMap); err != nil {
			return m, err
		}
	}
	if !canRender {
		return m, nil
	}

	captured := s.col.hasElement(nc.Element)
	if captured && nc.Props != nil {
		objs := []any{nc.Props}
		if nc.RenderQRL != nil {
			objs = append(objs, nc.RenderQRL)
		}
		if m.H, err = s.mustObjIDs(objs); err != nil {
			return m, err
		}
	}
	if len(nc.Watches) > 0 {
		var ids []string
		for _, w := range nc.Watches {
			if id := s.objID(w); id != "" {
				ids = append(ids, id)
			}
		}
		m.W = strings.Join(ids, " ")
	}
	if captured && len(nc.Seq) > 0 {
		if m.S, err = s.mustObjIDs(nc.Seq); err != nil {
			return m, err
		}
	}
	if nc.Contexts != nil && nc.Contexts.Len() > 0 {
		entries := make([]string, 0, nc.Contexts.Len())
		for _, k := range nc.Contexts.Keys() {
			v, _ := nc.Contexts.Get(k)
			id, err := s.mustObjID(v)
			if err != nil {
				return m, err
			}
			entries = append(entries, k+"="+id)
		}
		m.C = strings.Join(entries, " ")
	}
	return m, nil
}

// FromContainer collects and serializes the reactive state of c without
// touching the document. Listeners are the roots of the walk; a container
// without listeners yields an empty static snapshot.
func FromContainer(ctx context.Context, c *core.Container) (*Result, error) {
	var contexts []*core.NodeContext
	for _, el := range dom.NodesInScope(c.Root(), func(n *dom.Node) bool {
		return n.IsElement() && (n.HasAttr(core.AttrElementID) || c.TryNodeContext(n) != nil)
	}, nestedContainerOf(c.Root())) {
		if nc := c.TryNodeContext(el); nc != nil {
			contexts = append(contexts, nc)
		}
	}
	return fromContexts(ctx, c, contexts)
}

func nestedContainerOf(root *dom.Node) func(*dom.Node) bool {
	return func(n *dom.Node) bool {
		return n != root && nestedContainer(n)
	}
}

func fromContexts(ctx context.Context, c *core.Container, contexts []*core.NodeContext) (*Result, error) {
	col := newCollector(c)
	var listeners []Listener
	for _, nc := range contexts {
		if nc.Element.IsElement() {
			for _, l := range nc.Listeners {
				listeners = append(listeners, Listener{Key: l.Event, QRL: l.QRL, Element: nc.Element})
			}
		}
		col.watches = append(col.watches, nc.Watches...)
	}

	if len(listeners) == 0 {
		return &Result{
			State: State{
				Ctx:  map[string]Meta{},
				Objs: []any{},
				Subs: []any{},
			},
			Objs:      []any{},
			Listeners: []Listener{},
			Mode:      ModeStatic,
		}, nil
	}

	for _, l := range listeners {
		for _, obj := range l.QRL.Captured {
			if err := col.collectValue(ctx, obj, true); err != nil {
				return nil, err
			}
		}
		nc := c.TryNodeContext(l.Element)
		for _, obj := range nc.RefMap {
			if err := col.collectValue(ctx, obj, true); err != nil {
				return nil, err
			}
		}
	}

	canRender := len(col.elements) > 0
	if canRender {
		for _, nc := range contexts {
			if err := col.collectProps(ctx, nc); err != nil {
				return nil, err
			}
			if nc.Contexts != nil {
				for _, k := range nc.Contexts.Keys() {
					v, _ := nc.Contexts.Get(k)
					if err := col.collectValue(ctx, v, false); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	s := &serializer{
		c:          c,
		col:        col,
		elementIDs: map[*dom.Node]string{},
		objToID:    map[any]int{},
	}

	objs := col.objs()
	subsMap := map[any][]subEntry{}
	for _, obj := range objs {
		if !core.Hashable(obj) {
			continue
		}
		if entries := s.subscriptions(obj); len(entries) > 0 {
			subsMap[obj] = entries
		}
	}

	// objects carrying subscriptions first, so their ids stay short
	slices.SortStableFunc(objs, func(a, b any) int {
		return rank(subsMap, a) - rank(subsMap, b)
	})
	for i, obj := range objs {
		s.objToID[obj] = i
	}

	subs := []any{}
	for _, obj := range objs {
		entries, ok := subsMap[obj]
		if !ok {
			break
		}
		subs = append(subs, s.encodeSubs(entries))
	}

	encoded := make([]any, len(objs))
	for i, obj := range objs {
		v, err := s.encodeValue(obj)
		if err != nil {
			return nil, err
		}
		encoded[i] = v
	}

	meta := map[string]Meta{}
	for _, nc := range contexts {
		m, err := s.meta(nc, canRender)
		if err != nil {
			return nil, err
		}
		if m.empty() {
			continue
		}
		id := s.elementID(nc.Element)
		if id == "" {
			return nil, core.NewError(core.CodeMissingObjectID, "serialize meta", nc.Element, nil)
		}
		meta[id] = m
	}

	for _, w := range col.watches {
		if w.Dirty() {
			c.DevWarn("serializing dirty watch", "watch", w.String())
		}
		if !w.Host.IsConnected() {
			c.DevWarn("serializing disconnected watch", "watch", w.String())
		}
		c.DestroyWatch(w)
	}

	for el, id := range s.elementIDs {
		if id == "" {
			c.DevWarn("unconnected element", "element", el.String())
		}
	}

	mode := ModeListeners
	if canRender {
		mode = ModeRender
	}
	return &Result{
		State: State{
			Ctx:  meta,
			Objs: encoded,
			Subs: subs,
		},
		Listeners: listeners,
		Objs:      objs,
		Mode:      mode,
	}, nil
}

func rank(subsMap map[any][]subEntry, obj any) int {
	if !core.Hashable(obj) {
		return 1
	}
	if _, ok := subsMap[obj]; ok {
		return 0
	}
	return 1
}

// Encode renders the state as the payload text, pretty-printed when indent is set.
func Encode(st State, indent bool) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(st); err != nil {
		return "", fmt.Errorf("snapshot: encode: %w", err)
	}
	return EscapeText(strings.TrimSuffix(buf.String(), "\n")), nil
}
