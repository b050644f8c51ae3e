package index

// trieNode stores domain labels right-to-left (TLD first), so a walk from the
// query's last label detects both exact entries and suffix (subdomain)
// containment in O(label count).
type trieNode struct {
	children map[string]*trieNode
	terminal bool // A stored domain ends at this node
}

func newTrieNode() *trieNode {
	return &trieNode{}
}

// add inserts the labels of one domain, rightmost first
func (n *trieNode) add(labels []string) {
	node := n
	for i := len(labels) - 1; i >= 0; i-- {
		if node.children == nil {
			node.children = make(map[string]*trieNode)
		}
		child := node.children[labels[i]]
		if child == nil {
			child = newTrieNode()
			node.children[labels[i]] = child
		}
		node = child
	}
	node.terminal = true
}

// lookup walks the query labels rightmost-first and reports whether the query
// is exactly a stored domain, or a proper subdomain of one. Suffix matches on
// fewer than two labels are ignored so a bare TLD never matches.
func (n *trieNode) lookup(labels []string) (exact, subdomain bool) {
	node := n
	depth := 0
	for i := len(labels) - 1; i >= 0; i-- {
		child := node.children[labels[i]]
		if child == nil {
			return exact, subdomain
		}
		node = child
		depth++
		if node.terminal {
			if depth == len(labels) {
				exact = true
			} else if depth >= 2 {
				subdomain = true
			}
		}
	}
	return exact, subdomain
}
