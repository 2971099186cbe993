package core

import (
	"github.com/delaneyj/resumable/dom"
	"github.com/delaneyj/resumable/qrl"
)

type Listener struct {
	Event string
	QRL   *qrl.QRL
}

// NodeContext is the reactive state attached to a document node.
type NodeContext struct {
	Element *dom.Node
	ID      string

	// RefMap holds the values directly referenced by the node, such as
	// listener captures. Listener attributes index into it.
	RefMap []any
	// Seq holds the slot values captured at component creation, in call order.
	Seq       []any
	Watches   []*Watch
	Props     any
	RenderQRL *qrl.QRL
	// Contexts holds named context values provided by this node.
	Contexts  *Record
	Listeners []Listener

	Dirty   bool
	Mounted bool
}

func (*NodeContext) isSubscriber() {}

func (nc *NodeContext) String() string {
	if nc.ID != "" {
		return "#" + nc.ID
	}
	return nc.Element.String()
}

// AddRef appends obj to the ref map unless already present and returns its index.
func (nc *NodeContext) AddRef(obj any) int {
	for i, v := range nc.RefMap {
		if Identical(v, obj) {
			return i
		}
	}
	nc.RefMap = append(nc.RefMap, obj)
	return len(nc.RefMap) - 1
}

func (nc *NodeContext) ListenersFor(event string) []*qrl.QRL {
	var out []*qrl.QRL
	for _, l := range nc.Listeners {
		if l.Event == event {
			out = append(out, l.QRL)
		}
	}
	return out
}

// Slot returns sequence slot i, filling it with init() the first time.
// Slots must be requested in the same order on every render.
func (nc *NodeContext) Slot(i int, init func() any) any {
	if i < len(nc.Seq) {
		return nc.Seq[i]
	}
	v := init()
	nc.Seq = append(nc.Seq, v)
	return v
}

func (nc *NodeContext) SetContext(key string, v any) {
	if nc.Contexts == nil {
		nc.Contexts = NewRecord()
	}
	nc.Contexts.Set(key, v)
}
