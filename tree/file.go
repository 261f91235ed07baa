package tree

import (
	"os"

	"github.com/ndlib/grove/stream"
)

// SaveFile writes the subtree rooted at n to the named file, creating or
// truncating it. Do not save a tree over the file it is currently loaded
// from; the loaded windows still read from that file. Save somewhere else
// and rename, or call Materialize first.
func (n *Node) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = n.Save(f)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err == nil {
		n.LastPath = path
	}
	return err
}

// LoadFile loads the named container file into n. The file is opened read
// write when permissions allow, so writes that fit inside a node's window
// land directly in the file, and read only otherwise. The handle stays
// open as the tree's shared source until the last node using it goes away.
func (n *Node) LoadFile(path string) error {
	r, err := stream.OpenFile(path)
	if err != nil {
		r, err = stream.OpenFileReadOnly(path)
	}
	if err != nil {
		return err
	}
	if err := n.Load(r); err != nil {
		return err
	}
	n.SourcePath = path
	n.LastPath = path
	return nil
}

// LoadFileMapped loads the named container file through a read only memory
// mapping. Reads come out of the page cache and any mutation materializes
// the node it touches. This is the fastest way to open a tree you do not
// mean to edit in place.
func (n *Node) LoadFileMapped(path string) error {
	r, err := stream.OpenMapped(path)
	if err != nil {
		return err
	}
	if err := n.Load(r); err != nil {
		return err
	}
	n.SourcePath = path
	n.LastPath = path
	return nil
}
