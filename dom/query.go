package dom

type WalkAction uint8

const (
	Accept WalkAction = iota
	Skip
	Reject // skip the node and its whole subtree
)

// Walk visits every descendant of root in document order. root itself is not visited.
func Walk(root *Node, fn func(*Node) WalkAction) {
	for _, c := range root.children {
		switch fn(c) {
		case Reject:
			continue
		default:
			Walk(c, fn)
		}
	}
}

// NodesInScope collects root (when it matches) and every descendant matching
// predicate, stopping at boundaries: a boundary node and its subtree are excluded.
func NodesInScope(root *Node, predicate func(*Node) bool, boundary func(*Node) bool) []*Node {
	var nodes []*Node
	if predicate(root) {
		nodes = append(nodes, root)
	}
	Walk(root, func(n *Node) WalkAction {
		if boundary != nil && boundary(n) {
			return Reject
		}
		if predicate(n) {
			nodes = append(nodes, n)
			return Accept
		}
		return Skip
	})
	return nodes
}

func path(n *Node) []int {
	var p []int
	for n.parent != nil {
		idx := -1
		for i, c := range n.parent.children {
			if c == n {
				idx = i
				break
			}
		}
		p = append(p, idx)
		n = n.parent
	}
	for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
		p[i], p[j] = p[j], p[i]
	}
	return p
}

// ComparePosition orders two nodes of the same tree by document position:
// negative when a precedes b, positive when it follows, zero when a == b.
// An ancestor precedes its descendants. Nodes of different trees compare as equal.
func ComparePosition(a, b *Node) int {
	if a == b {
		return 0
	}
	if a.Root() != b.Root() {
		return 0
	}
	pa, pb := path(a), path(b)
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	return len(pa) - len(pb)
}
