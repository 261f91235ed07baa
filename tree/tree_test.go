package tree

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/ndlib/grove/stream"
)

func TestAddInsert(t *testing.T) {
	root := New()
	x, y, z := New(), New(), New()
	for i, c := range []*Node{x, y, z} {
		j, err := root.Add(c)
		if err != nil {
			t.Fatalf("Got %v, expected nil", err)
		}
		if j != i {
			t.Fatalf("Got index %d, expected %d", j, i)
		}
	}
	// adding an existing child returns its index and changes nothing
	j, err := root.Add(y)
	if j != 1 || err != nil {
		t.Fatalf("Got (%d, %v), expected (1, nil)", j, err)
	}
	if root.Len() != 3 {
		t.Fatalf("Got %d children, expected 3", root.Len())
	}

	// inserting an existing child moves it
	if err := root.Insert(0, z); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if root.Len() != 3 {
		t.Fatalf("Got %d children, expected 3", root.Len())
	}
	want := []*Node{z, x, y}
	for i, c := range want {
		if root.Child(i) != c {
			t.Fatalf("Child %d wrong after move", i)
		}
	}
	// for an existing child the index counts the list after removal
	if err := root.Insert(3, z); err != ErrIndexRange {
		t.Fatalf("Got %v, expected ErrIndexRange", err)
	}
	if err := root.Insert(2, z); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if root.Child(2) != z {
		t.Fatalf("Expected z at the end")
	}

	// cycles are refused
	if _, err := root.Add(root); err != ErrIsAncestor {
		t.Fatalf("Got %v, expected ErrIsAncestor", err)
	}
	if _, err := z.Add(root); err != ErrIsAncestor {
		t.Fatalf("Got %v, expected ErrIsAncestor", err)
	}

	// adding a node attached elsewhere steals it
	other := New()
	if _, err := other.Add(x); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if root.Len() != 2 || x.Parent() != other {
		t.Fatalf("Got %d children and parent %p, expected 2 and %p", root.Len(), x.Parent(), other)
	}

	root.Destroy()
	other.Destroy()
}

func TestMoveExchangeDelete(t *testing.T) {
	root := New()
	defer root.Destroy()
	var kids []*Node
	for i := 0; i < 4; i++ {
		n := New()
		n.Write([]byte{byte('a' + i)})
		root.Add(n)
		kids = append(kids, n)
	}
	// a b c d -> b c a d
	if err := root.Move(0, 2); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if root.Child(2) != kids[0] || root.Child(0) != kids[1] {
		t.Fatalf("Move shuffled wrong")
	}
	if err := root.Exchange(0, 3); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if root.Child(0) != kids[3] || root.Child(3) != kids[1] {
		t.Fatalf("Exchange shuffled wrong")
	}
	if err := root.Move(0, 4); err != ErrIndexRange {
		t.Fatalf("Got %v, expected ErrIndexRange", err)
	}
	if err := root.Delete(1); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if root.Len() != 3 {
		t.Fatalf("Got %d children, expected 3", root.Len())
	}
	if err := root.Delete(5); err != ErrIndexRange {
		t.Fatalf("Got %v, expected ErrIndexRange", err)
	}
}

func TestOwnerRoot(t *testing.T) {
	r, a, b := New(), New(), New()
	defer r.Destroy()
	r.Add(a)
	a.Add(b)
	if a.Owner() != r || b.Owner() != r {
		t.Fatalf("Owner not propagated from the tree top")
	}
	if b.Root() != r {
		t.Fatalf("Root walk wrong")
	}
	got, err := r.Descend(0, 0)
	if err != nil || got != b {
		t.Fatalf("Got (%p, %v), expected (%p, nil)", got, err, b)
	}
	if _, err := r.Descend(0, 7); err != ErrIndexRange {
		t.Fatalf("Got %v, expected ErrIndexRange", err)
	}

	a2, err := r.Extract(a)
	if err != nil || a2 != a {
		t.Fatalf("Got (%p, %v), expected (%p, nil)", a2, err, a)
	}
	if a.Parent() != nil || a.Owner() != nil {
		t.Fatalf("Extracted node still attached")
	}
	// the cached owner of a deeper node goes stale. Root stays correct.
	if b.Owner() != r {
		t.Fatalf("Expected the stale cached owner")
	}
	if b.Root() != a {
		t.Fatalf("Root walk wrong after extract")
	}
	a.Destroy()

	if _, err := r.Extract(b); err != ErrNotChild {
		t.Fatalf("Got %v, expected ErrNotChild", err)
	}
}

// buildSample returns a small tree with distinct payload sizes:
//
//	root "root data!"
//	  a "alpha"
//	    a1 "alpha one"
//	  b "beta"
func buildSample(t *testing.T) *Node {
	root := New()
	a, a1, b := New(), New(), New()
	for n, text := range map[*Node]string{
		root: "root data!", a: "alpha", a1: "alpha one", b: "beta",
	} {
		if _, err := n.Write([]byte(text)); err != nil {
			t.Fatalf("Got %v, expected nil", err)
		}
	}
	root.Add(a)
	a.Add(a1)
	root.Add(b)
	return root
}

func payload(t *testing.T, n *Node) string {
	if _, err := n.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, n); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	return buf.String()
}

func TestRoundTrip(t *testing.T) {
	root := buildSample(t)
	defer root.Destroy()
	var buf bytes.Buffer
	if err := root.Save(&buf); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	// no magic header. the blob opens with the root payload length.
	head := buf.Bytes()[:8]
	if head[0] != 10 || !bytes.Equal(head[1:], make([]byte, 7)) {
		t.Fatalf("Got leading bytes %v, expected the payload length", head)
	}

	loaded := New()
	// anything already in the node is replaced by the load
	loaded.Add(New())
	if err := loaded.Load(stream.NewMemory(buf.Bytes())); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	defer loaded.Destroy()

	if loaded.Len() != 2 || loaded.Child(0).Len() != 1 {
		t.Fatalf("Got shape %d/%d, expected 2/1", loaded.Len(), loaded.Child(0).Len())
	}
	checks := []struct {
		n    *Node
		text string
	}{
		{loaded, "root data!"},
		{loaded.Child(0), "alpha"},
		{loaded.Child(0).Child(0), "alpha one"},
		{loaded.Child(1), "beta"},
	}
	for _, c := range checks {
		if !c.n.Windowed() {
			t.Errorf("Expected node %q to load lazily", c.text)
		}
		if got := payload(t, c.n); got != c.text {
			t.Errorf("Got %q, expected %q", got, c.text)
		}
	}

	// a loaded tree saves back byte for byte, without materializing
	var buf2 bytes.Buffer
	if err := loaded.Save(&buf2); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if !bytes.Equal(buf.Bytes(), buf2.Bytes()) {
		t.Fatalf("Resaved tree differs")
	}
	if !loaded.Windowed() || !loaded.Child(1).Windowed() {
		t.Fatalf("Save materialized the tree")
	}
}

func TestSiblingIsolation(t *testing.T) {
	root := buildSample(t)
	defer root.Destroy()
	var buf bytes.Buffer
	root.Save(&buf)

	loaded := New()
	if err := loaded.Load(stream.NewMemory(buf.Bytes())); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	defer loaded.Destroy()

	a := loaded.Child(0)  // "alpha"
	b := loaded.Child(1)  // "beta"
	a.Seek(0, io.SeekStart)
	b.Seek(0, io.SeekStart)
	two := make([]byte, 2)
	var got string
	for i := 0; i < 2; i++ {
		io.ReadFull(a, two)
		got += string(two)
		io.ReadFull(b, two)
		got += string(two)
	}
	if got != "albephta" {
		t.Fatalf("Got %q, expected interleaved reads to stay independent", got)
	}
	if a.Position() != 4 || b.Position() != 4 {
		t.Fatalf("Got positions %d and %d, expected 4 and 4", a.Position(), b.Position())
	}
}

// trackedResource lets a test see when the shared source is closed.
type trackedResource struct {
	*stream.Memory
	closed bool
}

func (r *trackedResource) Close() error {
	r.closed = true
	return nil
}

func TestExtractIndependence(t *testing.T) {
	root := buildSample(t)
	var buf bytes.Buffer
	root.Save(&buf)
	root.Destroy()

	res := &trackedResource{Memory: stream.NewMemory(buf.Bytes())}
	loaded := New()
	if err := loaded.Load(res); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}

	a := loaded.Child(0)
	a, err := loaded.Extract(a)
	if err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if a.Windowed() || a.Child(0).Windowed() {
		t.Fatalf("Extracted subtree still windowed")
	}
	if err := loaded.Destroy(); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if !res.closed {
		t.Fatalf("Source not closed after the rest of the tree was destroyed")
	}
	// the extracted subtree lives on without the source
	if got := payload(t, a); got != "alpha" {
		t.Errorf("Got %q, expected alpha", got)
	}
	if got := payload(t, a.Child(0)); got != "alpha one" {
		t.Errorf("Got %q, expected alpha one", got)
	}
	a.Destroy()
}

func TestDestroyReleasesSource(t *testing.T) {
	root := buildSample(t)
	var buf bytes.Buffer
	root.Save(&buf)
	root.Destroy()

	res := &trackedResource{Memory: stream.NewMemory(buf.Bytes())}
	loaded := New()
	if err := loaded.Load(res); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if res.closed {
		t.Fatalf("Source closed while the tree is loaded")
	}
	loaded.Destroy()
	if !res.closed {
		t.Fatalf("Source not closed by destroying the tree")
	}
}

func TestHooks(t *testing.T) {
	root := New()
	root.OnSave = func(n *Node) error {
		n.Truncate(0)
		_, err := n.Write([]byte("generated"))
		return err
	}
	var buf bytes.Buffer
	if err := root.Save(&buf); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	root.Destroy()

	loaded := New()
	var sizes []int64
	loaded.OnLoad = func(n *Node) error {
		sizes = append(sizes, n.Size())
		return nil
	}
	if err := loaded.Load(stream.NewMemory(buf.Bytes())); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if len(sizes) != 1 || sizes[0] != 9 {
		t.Fatalf("Got %v, expected the hook to run once with size 9", sizes)
	}
	if got := payload(t, loaded); got != "generated" {
		t.Fatalf("Got %q, expected generated", got)
	}
	loaded.Destroy()
}

func TestFactoryInheritance(t *testing.T) {
	root := buildSample(t)
	var buf bytes.Buffer
	root.Save(&buf)
	root.Destroy()

	var sizes []int64
	hook := func(n *Node) error {
		// read through the window. the loader must still find the next
		// sibling record afterward.
		n.Seek(0, io.SeekStart)
		one := make([]byte, 1)
		n.Read(one)
		sizes = append(sizes, n.Size())
		return nil
	}
	loaded := New()
	loaded.OnLoad = hook
	loaded.Factory = func() *Node {
		n := New()
		n.OnLoad = hook
		return n
	}
	if err := loaded.Load(stream.NewMemory(buf.Bytes())); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	defer loaded.Destroy()

	// children report before their parents, in order: a1, a, b, root
	want := []int64{9, 5, 4, 10}
	if len(sizes) != len(want) {
		t.Fatalf("Got %v, expected %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("Got %v, expected %v", sizes, want)
		}
	}
	if got := payload(t, loaded.Child(1)); got != "beta" {
		t.Fatalf("Got %q, expected beta", got)
	}
}

func TestLoadCorrupt(t *testing.T) {
	neg := bytes.Repeat([]byte{0xff}, 8)
	short := []byte{5, 0, 0, 0, 0, 0, 0, 0, 'a', 'b'}
	negkids := append(make([]byte, 8), 0xff, 0xff, 0xff, 0xff)
	liar := append(make([]byte, 8), 9, 0, 0, 0) // claims nine children

	var table = [][]byte{nil, neg, short, negkids, liar}
	for i, data := range table {
		res := &trackedResource{Memory: stream.NewMemory(data)}
		n := New()
		err := n.Load(res)
		if err == nil {
			t.Errorf("case %d: got nil, expected an error", i)
		}
		if !res.closed {
			t.Errorf("case %d: resource left open after failed load", i)
		}
		// the node survives as an empty usable node
		if n.Len() != 0 {
			t.Errorf("case %d: got %d children, expected 0", i, n.Len())
		}
		if _, err := n.Write([]byte("ok")); err != nil {
			t.Errorf("case %d: got %v, expected nil", i, err)
		}
		n.Destroy()
	}
}

func TestStrings(t *testing.T) {
	n := New()
	defer n.Destroy()
	for _, s := range []string{"name", "", "päckchen"} {
		if err := n.WriteString(s); err != nil {
			t.Fatalf("Got %v, expected nil", err)
		}
	}
	n.Seek(0, io.SeekStart)
	for _, want := range []string{"name", "", "päckchen"} {
		s, err := n.ReadString()
		if err != nil {
			t.Fatalf("Got %v, expected nil", err)
		}
		if s != want {
			t.Fatalf("Got %q, expected %q", s, want)
		}
	}

	// a corrupt length prefix is caught before allocating
	bad := New()
	defer bad.Destroy()
	bad.Write([]byte{0xff, 0xff, 0xff, 0xff, 'h', 'i'})
	bad.Seek(0, io.SeekStart)
	if _, err := bad.ReadString(); err == nil {
		t.Fatalf("Got nil, expected an error")
	}
}

func TestSaveLoadFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "grove-test-")
	if err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "sample.grove")

	root := buildSample(t)
	if err := root.SaveFile(path); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if root.LastPath != path {
		t.Fatalf("Got %q, expected %q", root.LastPath, path)
	}
	root.Destroy()

	loaded := New()
	if err := loaded.LoadFile(path); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if loaded.SourcePath != path {
		t.Fatalf("Got %q, expected %q", loaded.SourcePath, path)
	}
	// an in-window write goes straight into the file
	a := loaded.Child(0)
	a.Seek(0, io.SeekStart)
	if _, err := a.Write([]byte("ALPHA")); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if !a.Windowed() {
		t.Fatalf("In-window write materialized the node")
	}
	loaded.Destroy()

	again := New()
	if err := again.LoadFileMapped(path); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if got := payload(t, again.Child(0)); got != "ALPHA" {
		t.Fatalf("Got %q, expected ALPHA", got)
	}
	// a mapped tree cannot be patched in place, only appended to
	c := again.Child(0)
	c.Seek(0, io.SeekStart)
	if _, err := c.Write([]byte("x")); err != stream.ErrReadOnly {
		t.Fatalf("Got %v, expected ErrReadOnly", err)
	}
	again.Destroy()
}
