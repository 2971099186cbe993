// Package snapshot checkpoints the reactive state of a container into its
// document and revives it later without re-running any initialization.
//
// A snapshot is a JSON document with three parts: objs, the encoded values
// reachable from the container's listeners; subs, the subscription records of
// the leading objs; and ctx, per element metadata keyed by element reference.
// Every reference is either "#" followed by an element id or the base-36 index
// of an obj, optionally followed by transform markers:
//
//	!  reactive store wrapping the obj
//	%  mutable box around the obj
//	~  promise resolved with the obj
//	_  promise rejected with the obj
package snapshot

import (
	"strings"

	"github.com/delaneyj/resumable/core"
	"github.com/delaneyj/resumable/dom"
	"github.com/delaneyj/resumable/qrl"
)

const (
	ScriptType = "qwik/json"

	flagsKey = "$"
)

// Wire prefixes of values encoded as strings.
const (
	prefixUndefined = '\u0001'
	prefixQRL       = '\u0002'
	prefixWatch     = '\u0003'
	prefixDocument  = '\u0004'
	prefixTime      = '\u0005'
	prefixURL       = '\u0006'
	prefixError     = '\u0007'
	prefixString    = '\u0010'
)

const undefinedWire = string(prefixUndefined)

type Mode string

const (
	ModeRender    Mode = "render"
	ModeListeners Mode = "listeners"
	ModeStatic    Mode = "static"
)

// Meta is the snapshot metadata of one element. Every field is a
// space-separated reference list.
type Meta struct {
	R string `json:"r,omitempty"`
	H string `json:"h,omitempty"`
	S string `json:"s,omitempty"`
	W string `json:"w,omitempty"`
	C string `json:"c,omitempty"`
}

func (m Meta) empty() bool {
	return m == Meta{}
}

// State is the persisted snapshot.
type State struct {
	Ctx  map[string]Meta `json:"ctx"`
	Objs []any           `json:"objs"`
	Subs []any           `json:"subs"`
}

type Listener struct {
	Key     string
	QRL     *qrl.QRL
	Element *dom.Node
}

type Result struct {
	State     State
	Listeners []Listener
	// Objs are the collected values in snapshot order.
	Objs []any
	Mode Mode
}

var (
	escaper   = strings.NewReplacer("<script", `\x3Cscript`, "</script", `\x3C/script`)
	unescaper = strings.NewReplacer(`\x3Cscript`, "<script", `\x3C/script`, "</script")
)

// EscapeText keeps a payload from closing the script element that holds it.
func EscapeText(s string) string {
	return escaper.Replace(s)
}

func UnescapeText(s string) string {
	return unescaper.Replace(s)
}

// jsonParent returns the element the payload script is appended to.
func jsonParent(root *dom.Node) *dom.Node {
	if p := root.Parent(); p != nil && p.IsDocument() && root.Tag == "html" {
		if body := root.Find("body"); body != nil {
			return body
		}
	}
	return root
}

// FindScript returns the last payload script directly under parent.
func FindScript(parent *dom.Node) *dom.Node {
	var found *dom.Node
	parent.ElementChildrenReverse(func(n *dom.Node) bool {
		if t, _ := n.Attr("type"); n.Tag == "script" && t == ScriptType {
			found = n
			return false
		}
		return true
	})
	return found
}

// PayloadScript returns the payload script of the container rooted at root.
func PayloadScript(root *dom.Node) *dom.Node {
	return FindScript(jsonParent(root))
}

func hasElementID(n *dom.Node) bool {
	return n.IsElement() && n.HasAttr(core.AttrElementID)
}

func hasListenerAttr(n *dom.Node) bool {
	for _, a := range n.Attrs() {
		if strings.HasPrefix(a.Name, core.ListenerAttrPrefix) {
			return true
		}
	}
	return false
}

// nestedContainer stops scope walks at inner containers.
func nestedContainer(n *dom.Node) bool {
	return n.IsElement() && n.HasAttr(core.AttrContainer)
}

func transformMarker(b byte) bool {
	switch b {
	case '!', '%', '~', '_':
		return true
	}
	return false
}
