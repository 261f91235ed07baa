package tree

import (
	"errors"

	"github.com/ndlib/grove/stream"
)

var (
	// ErrIndexRange is returned when a child index is out of range.
	ErrIndexRange = errors.New("Child index out of range")

	// ErrNotChild is returned when the node given is not a child of the
	// node operated on.
	ErrNotChild = errors.New("Node is not a child of this node")

	// ErrIsAncestor is returned when an attach would create a cycle,
	// that is when a node is added underneath itself.
	ErrIsAncestor = errors.New("Node cannot be attached inside its own subtree")
)

// A Node is a single element of a grove. It holds an ordered list of child
// nodes and a payload stream. Create nodes with New, and build trees with
// Add and Insert. The zero Node is not usable.
type Node struct {
	// Factory makes the nodes created while loading a tree, letting
	// callers hook construction. Children made during a load inherit
	// the factory of their parent. Leave nil to get plain nodes.
	Factory func() *Node

	// OnSave, if set, is called just before the node's payload is
	// measured and written out, with the payload rewound to the start.
	OnSave func(*Node) error

	// OnLoad, if set, is called after the node and all its descendants
	// have been read in.
	OnLoad func(*Node) error

	// SourcePath is the file this tree was loaded from, if any, and
	// LastPath the file it was last saved to. Both are maintained on
	// the root node only.
	SourcePath string
	LastPath   string

	stream   *stream.Stream
	children []*Node
	parent   *Node
	owner    *Node
}

// New returns an empty unattached node with an empty payload.
func New() *Node {
	return &Node{stream: stream.New()}
}

// Len returns the number of children.
func (n *Node) Len() int {
	return len(n.children)
}

// Child returns the i'th child, or nil if i is out of range.
func (n *Node) Child(i int) *Node {
	if i < 0 || i >= len(n.children) {
		return nil
	}
	return n.children[i]
}

// Index returns the position of item among n's children, or -1 if item is
// not a child of n.
func (n *Node) Index(item *Node) int {
	for i, c := range n.children {
		if c == item {
			return i
		}
	}
	return -1
}

// Parent returns the node n is attached to, or nil.
func (n *Node) Parent() *Node {
	return n.parent
}

// Owner returns the node that was the top of the tree when n was attached.
// It is a cached value and can go stale if an ancestor is itself grafted
// into another tree. Use Root for the current answer.
func (n *Node) Owner() *Node {
	return n.owner
}

// Root walks the parent links and returns the top of the tree n currently
// belongs to. An unattached node is its own root.
func (n *Node) Root() *Node {
	r := n
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// Descend follows a sequence of child indexes starting at n and returns
// the node it arrives at.
func (n *Node) Descend(indexes ...int) (*Node, error) {
	cur := n
	for _, i := range indexes {
		c := cur.Child(i)
		if c == nil {
			return nil, ErrIndexRange
		}
		cur = c
	}
	return cur, nil
}

// Add appends item to n's children and returns its index. If item is
// already a child of n nothing changes and its current index is returned.
// A node attached elsewhere is first extracted from its old tree.
func (n *Node) Add(item *Node) (int, error) {
	if i := n.Index(item); i >= 0 {
		return i, nil
	}
	if err := n.adopt(item); err != nil {
		return 0, err
	}
	n.children = append(n.children, item)
	return len(n.children) - 1, nil
}

// Insert places item at index i among n's children, shifting later
// children down. Inserting a node that is already a child moves it to i,
// where i indexes the list as it is after the node's removal. So for a
// child, i == Len()-1 is the last valid position, not Len().
func (n *Node) Insert(i int, item *Node) error {
	cur := n.Index(item)
	if cur >= 0 {
		if i < 0 || i >= len(n.children) {
			return ErrIndexRange
		}
		c := n.children
		if cur < i {
			copy(c[cur:], c[cur+1:i+1])
		} else {
			copy(c[i+1:cur+1], c[i:cur])
		}
		c[i] = item
		return nil
	}
	if i < 0 || i > len(n.children) {
		return ErrIndexRange
	}
	if err := n.adopt(item); err != nil {
		return err
	}
	n.children = append(n.children, nil)
	copy(n.children[i+1:], n.children[i:])
	n.children[i] = item
	return nil
}

// adopt prepares item to hang under n: it refuses cycles, detaches item
// from any tree it is in, and points the parent and owner links at n's
// tree.
func (n *Node) adopt(item *Node) error {
	for a := n; a != nil; a = a.parent {
		if a == item {
			return ErrIsAncestor
		}
	}
	if item.parent != nil {
		if _, err := item.parent.Extract(item); err != nil {
			return err
		}
	}
	item.parent = n
	if n.owner != nil {
		item.owner = n.owner
	} else {
		item.owner = n
	}
	return nil
}

// Extract removes item from n's children and returns it as the root of an
// independent tree. The whole subtree under item is materialized first, so
// the result no longer depends on the source the original tree was loaded
// from.
func (n *Node) Extract(item *Node) (*Node, error) {
	i := n.Index(item)
	if i < 0 {
		return nil, ErrNotChild
	}
	if err := item.Materialize(); err != nil {
		return nil, err
	}
	n.children = append(n.children[:i], n.children[i+1:]...)
	item.parent = nil
	item.owner = nil
	return item, nil
}

// Remove is Extract followed by destroying the extracted subtree.
func (n *Node) Remove(item *Node) error {
	item, err := n.Extract(item)
	if err != nil {
		return err
	}
	return item.Destroy()
}

// Delete destroys the child at index i and closes the gap.
func (n *Node) Delete(i int) error {
	if i < 0 || i >= len(n.children) {
		return ErrIndexRange
	}
	c := n.children[i]
	n.children = append(n.children[:i], n.children[i+1:]...)
	c.parent = nil
	c.owner = nil
	return c.Destroy()
}

// Move reorders the child at index from to index to.
func (n *Node) Move(from, to int) error {
	if from < 0 || from >= len(n.children) || to < 0 || to >= len(n.children) {
		return ErrIndexRange
	}
	c := n.children
	item := c[from]
	if from < to {
		copy(c[from:], c[from+1:to+1])
	} else {
		copy(c[to+1:from+1], c[to:from])
	}
	c[to] = item
	return nil
}

// Exchange swaps the children at indexes i and j.
func (n *Node) Exchange(i, j int) error {
	if i < 0 || i >= len(n.children) || j < 0 || j >= len(n.children) {
		return ErrIndexRange
	}
	n.children[i], n.children[j] = n.children[j], n.children[i]
	return nil
}

// Clear destroys every child of n. Destruction keeps going if a child
// fails to clean up, and the first error is returned.
func (n *Node) Clear() error {
	var firsterr error
	for _, c := range n.children {
		c.parent = nil
		c.owner = nil
		if err := c.Destroy(); err != nil && firsterr == nil {
			firsterr = err
		}
	}
	n.children = nil
	return firsterr
}

// Destroy tears down the subtree rooted at n, children first, and releases
// every payload, removing spill files and dropping references on a shared
// source. If n is attached it is unlinked from its parent. The node must
// not be used afterward.
func (n *Node) Destroy() error {
	if n.parent != nil {
		if i := n.parent.Index(n); i >= 0 {
			p := n.parent
			p.children = append(p.children[:i], p.children[i+1:]...)
		}
		n.parent = nil
		n.owner = nil
	}
	firsterr := n.Clear()
	if err := n.stream.Close(); err != nil && firsterr == nil {
		firsterr = err
	}
	return firsterr
}

// Materialize copies every payload in the subtree rooted at n into private
// storage, detaching the subtree from whatever shared source it was loaded
// from. Payloads already owned are left alone.
func (n *Node) Materialize() error {
	if err := n.stream.Materialize(n.stream.Size()); err != nil {
		return err
	}
	for _, c := range n.children {
		if err := c.Materialize(); err != nil {
			return err
		}
	}
	return nil
}

// Windowed reports whether n's payload is still a window onto a shared
// source rather than private storage.
func (n *Node) Windowed() bool {
	return n.stream.Windowed()
}

// Read reads the payload from the current position.
func (n *Node) Read(p []byte) (int, error) {
	return n.stream.Read(p)
}

// Write stores p in the payload at the current position. Writes that fit
// inside a loaded node's window go through to the underlying resource,
// anything larger promotes the payload to private storage first.
func (n *Node) Write(p []byte) (int, error) {
	return n.stream.Write(p)
}

// Seek moves the payload cursor. Note that end relative seeks count the
// offset backward from the end of the payload.
func (n *Node) Seek(offset int64, whence int) (int64, error) {
	return n.stream.Seek(offset, whence)
}

// Truncate changes the payload length.
func (n *Node) Truncate(size int64) error {
	return n.stream.Truncate(size)
}

// Size returns the payload length in bytes.
func (n *Node) Size() int64 {
	return n.stream.Size()
}

// Position returns the payload cursor position.
func (n *Node) Position() int64 {
	return n.stream.Position()
}
