package view

import "fmt"

// Policy decides where a newly added node enters the list.
type Policy string

const (
	// Append puts the newest message last.
	Append Policy = "append"
	// Prepend puts the newest message first.
	Prepend Policy = "prepend"
)

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case Append, "":
		return Append, nil
	case Prepend:
		return Prepend, nil
	default:
		return "", fmt.Errorf("unknown insert policy %q", s)
	}
}

// Actions are the controls bound to a node owned by the local session.
type Actions struct {
	Edit   func()
	Delete func()
}

// Node is one rendered message.
type Node struct {
	ID     string
	Sender string
	Own    bool
	Text   string
	Time   string
	Edited bool

	// Actions is nil for messages written by someone else.
	Actions *Actions
}

// List is the ordered rendered output.
type List struct {
	policy Policy
	nodes  []*Node
}

// NewList creates an empty list that inserts according to policy.
func NewList(policy Policy) *List {
	return &List{policy: policy}
}

func (l *List) Policy() Policy { return l.policy }

// Insert adds n at the policy position.
func (l *List) Insert(n *Node) {
	if l.policy == Prepend {
		l.nodes = append([]*Node{n}, l.nodes...)
		return
	}
	l.nodes = append(l.nodes, n)
}

// Remove detaches n. It reports whether n was in the list.
func (l *List) Remove(n *Node) bool {
	for i, cur := range l.nodes {
		if cur == n {
			l.nodes = append(l.nodes[:i], l.nodes[i+1:]...)
			return true
		}
	}
	return false
}

// Len is the number of nodes on display.
func (l *List) Len() int { return len(l.nodes) }

// Nodes returns the nodes in display order. The slice is a copy. It exists
// for inspection; the reconciler addresses nodes by ID.
func (l *List) Nodes() []*Node {
	out := make([]*Node, len(l.nodes))
	copy(out, l.nodes)
	return out
}
