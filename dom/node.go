package dom

import "strings"

type NodeType uint8

const (
	DocumentNode NodeType = iota + 1
	ElementNode
	TextNode
	CommentNode
)

type Attr struct {
	Name  string
	Value string
}

type Event struct {
	Type    string
	Target  *Node
	Detail  any
	Bubbles bool
}

type Listener func(e Event)

// Node is a single addressable unit of a document tree.
type Node struct {
	Type NodeType
	Tag  string
	Data string

	attrs     []Attr
	parent    *Node
	children  []*Node
	listeners map[string][]Listener
}

func NewDocument() *Node {
	return &Node{Type: DocumentNode}
}

func NewElement(tag string, attrs ...Attr) *Node {
	n := &Node{Type: ElementNode, Tag: strings.ToLower(tag)}
	for _, a := range attrs {
		n.SetAttr(a.Name, a.Value)
	}
	return n
}

func NewText(data string) *Node {
	return &Node{Type: TextNode, Data: data}
}

func NewComment(data string) *Node {
	return &Node{Type: CommentNode, Data: data}
}

func (n *Node) IsElement() bool {
	return n != nil && n.Type == ElementNode
}

func (n *Node) IsDocument() bool {
	return n != nil && n.Type == DocumentNode
}

func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

func (n *Node) HasAttr(name string) bool {
	_, ok := n.Attr(name)
	return ok
}

func (n *Node) SetAttr(name, value string) {
	for i, a := range n.attrs {
		if a.Name == name {
			n.attrs[i].Value = value
			return
		}
	}
	n.attrs = append(n.attrs, Attr{Name: name, Value: value})
}

func (n *Node) RemoveAttr(name string) {
	for i, a := range n.attrs {
		if a.Name == name {
			n.attrs = append(n.attrs[:i], n.attrs[i+1:]...)
			return
		}
	}
}

func (n *Node) Attrs() []Attr {
	out := make([]Attr, len(n.attrs))
	copy(out, n.attrs)
	return out
}

func (n *Node) Parent() *Node {
	return n.parent
}

func (n *Node) Children() []*Node {
	return n.children
}

func (n *Node) AppendChild(children ...*Node) *Node {
	for _, c := range children {
		c.Remove()
		c.parent = n
		n.children = append(n.children, c)
	}
	return n
}

// Remove detaches the node from its parent. Removing a detached node is a no-op.
func (n *Node) Remove() {
	p := n.parent
	if p == nil {
		return
	}
	for i, c := range p.children {
		if c == n {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	n.parent = nil
}

func (n *Node) Root() *Node {
	for n.parent != nil {
		n = n.parent
	}
	return n
}

// IsConnected reports whether the node is attached to a document.
func (n *Node) IsConnected() bool {
	return n.Root().Type == DocumentNode
}

func (n *Node) OwnerDocument() *Node {
	r := n.Root()
	if r.Type != DocumentNode {
		return nil
	}
	return r
}

func (n *Node) TextContent() string {
	if n.Type == TextNode || n.Type == CommentNode {
		return n.Data
	}
	var sb strings.Builder
	for _, c := range n.children {
		sb.WriteString(c.TextContent())
	}
	return sb.String()
}

func (n *Node) SetTextContent(s string) {
	for _, c := range n.children {
		c.parent = nil
	}
	n.children = n.children[:0]
	if s != "" {
		n.AppendChild(NewText(s))
	}
}

// ElementChildrenReverse walks direct element children from last to first
// until fn returns false.
func (n *Node) ElementChildrenReverse(fn func(*Node) bool) {
	for i := len(n.children) - 1; i >= 0; i-- {
		c := n.children[i]
		if c.Type != ElementNode {
			continue
		}
		if !fn(c) {
			return
		}
	}
}

// Find returns the first element in document order, starting at n, matching tag.
func (n *Node) Find(tag string) *Node {
	if n.Type == ElementNode && n.Tag == tag {
		return n
	}
	for _, c := range n.children {
		if f := c.Find(tag); f != nil {
			return f
		}
	}
	return nil
}

func (n *Node) DocumentElement() *Node {
	if n.Type != DocumentNode {
		return nil
	}
	for _, c := range n.children {
		if c.Type == ElementNode {
			return c
		}
	}
	return nil
}

func (n *Node) AddEventListener(eventType string, l Listener) {
	if n.listeners == nil {
		n.listeners = map[string][]Listener{}
	}
	n.listeners[eventType] = append(n.listeners[eventType], l)
}

// Dispatch delivers e to the node's listeners and, when e.Bubbles, to every ancestor.
func (n *Node) Dispatch(e Event) {
	e.Target = n
	for cur := n; cur != nil; cur = cur.parent {
		for _, l := range cur.listeners[e.Type] {
			l(e)
		}
		if !e.Bubbles {
			return
		}
	}
}

func (n *Node) String() string {
	switch n.Type {
	case DocumentNode:
		return "#document"
	case TextNode:
		return "#text"
	case CommentNode:
		return "#comment"
	}
	var sb strings.Builder
	sb.WriteByte('<')
	sb.WriteString(n.Tag)
	for _, a := range n.attrs {
		sb.WriteByte(' ')
		sb.WriteString(a.Name)
		sb.WriteString(`="`)
		sb.WriteString(a.Value)
		sb.WriteByte('"')
	}
	sb.WriteByte('>')
	return sb.String()
}
