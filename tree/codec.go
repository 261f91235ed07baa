package tree

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ndlib/grove/stream"
)

// The container format is one recursive record per node:
//
//	record := dataLength(int64) payload(dataLength bytes)
//	          childCount(int32) record{childCount}
//
// Integers are little endian. There is no leading header; a container
// begins directly with the root node's record.
const (
	// Signature and FormatVersion are reserved for a future container
	// header. Nothing writes or checks them today.
	Signature     = "GROVE"
	FormatVersion = 1
)

// Save writes the subtree rooted at n to w as one container record. A
// node's payload is streamed out through its own window, so saving a
// lazily loaded tree never materializes it.
func (n *Node) Save(w io.Writer) error {
	if _, err := n.stream.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if n.OnSave != nil {
		if err := n.OnSave(n); err != nil {
			return err
		}
	}
	size := n.stream.Size()
	if err := writeInt64(w, size); err != nil {
		return err
	}
	if size > 0 {
		// the hook may have moved the cursor
		if _, err := n.stream.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if _, err := io.CopyN(w, n.stream, size); err != nil {
			return err
		}
	}
	if err := writeInt32(w, int32(len(n.children))); err != nil {
		return err
	}
	for _, c := range n.children {
		if err := c.Save(w); err != nil {
			return err
		}
	}
	return nil
}

// Load replaces n's children and payload with the tree encoded in r,
// taking ownership of r. Payloads are not copied out. Every loaded node
// becomes a window onto r, and r stays open until the last window is
// released by destroying or materializing the nodes holding them.
//
// On error the partially loaded tree is torn down, r is closed, and n is
// left attached where it was but empty.
func (n *Node) Load(r stream.Resource) error {
	src := stream.NewSource(r)
	err := n.load(src)
	if err != nil {
		n.Clear()
		n.stream.Close()
		n.stream = stream.New()
	}
	// drop the loader's reference. the nodes keep their own, so the
	// resource lives until the last of them lets go.
	if err2 := src.Release(); err == nil {
		err = err2
	}
	return err
}

func (n *Node) load(src *stream.Source) error {
	if err := n.Clear(); err != nil {
		return err
	}
	size, err := readInt64(src)
	if err != nil {
		return fmt.Errorf("container: offset %d: reading payload length: %v", src.Pos(), err)
	}
	if size < 0 {
		return fmt.Errorf("container: offset %d: negative payload length %d", src.Pos(), size)
	}
	if err := n.stream.Adopt(src, src.Pos(), size); err != nil {
		return err
	}
	if err := src.Skip(size); err != nil {
		return err
	}
	count, err := readInt32(src)
	if err != nil {
		return fmt.Errorf("container: offset %d: reading child count: %v", src.Pos(), err)
	}
	if count < 0 {
		return fmt.Errorf("container: offset %d: negative child count %d", src.Pos(), count)
	}
	factory := n.Factory
	if factory == nil {
		factory = New
	}
	for i := count; i > 0; i-- {
		child := factory()
		if child.Factory == nil {
			child.Factory = n.Factory
		}
		child.parent = n
		if n.owner != nil {
			child.owner = n.owner
		} else {
			child.owner = n
		}
		n.children = append(n.children, child)
		if err := child.load(src); err != nil {
			return err
		}
	}
	end := src.Pos()
	if n.OnLoad != nil {
		if err := n.OnLoad(n); err != nil {
			return err
		}
	}
	// the hook may have read through some window and moved the shared
	// cursor. put it back at the end of this record so our caller can
	// carry on with the next sibling.
	return src.SeekTo(end)
}

func writeInt64(w io.Writer, v int64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	_, err := w.Write(b[:])
	return err
}

func readInt64(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

func writeInt32(w io.Writer, v int32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	_, err := w.Write(b[:])
	return err
}

func readInt32(r io.Reader) (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}
