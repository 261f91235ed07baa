package stream

import (
	"io"
	"io/ioutil"
	"os"
)

// TempDir is the directory scratch stores spill into. An empty string
// means the system default temp directory.
var TempDir = ""

// scratchThreshold is the size at which a scratch store moves itself from
// memory into a temp file.
const scratchThreshold = 256 * 1024

// A Scratch is the private backing store behind an owned stream. It keeps
// small contents in memory and spools itself into a temp file once it grows
// past a threshold, so building or materializing a large tree does not pin
// every payload in the heap. Closing a scratch removes its temp file.
type Scratch struct {
	r Resource // *Memory until the spill, *file after
}

// NewScratch returns an empty scratch store. Nothing touches the disk
// until the contents outgrow memory.
func NewScratch() *Scratch {
	return &Scratch{r: &Memory{}}
}

func (s *Scratch) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *Scratch) Write(p []byte) (int, error) {
	if m, ok := s.r.(*Memory); ok && m.pos+int64(len(p)) > scratchThreshold {
		if err := s.spill(m); err != nil {
			return 0, err
		}
	}
	return s.r.Write(p)
}

func (s *Scratch) Seek(offset int64, whence int) (int64, error) {
	return s.r.Seek(offset, whence)
}

func (s *Scratch) Size() int64 {
	return s.r.Size()
}

func (s *Scratch) Truncate(size int64) error {
	if m, ok := s.r.(*Memory); ok && size > scratchThreshold {
		if err := s.spill(m); err != nil {
			return err
		}
	}
	return s.r.Truncate(size)
}

// Close releases the store. If the contents had spilled to a temp file the
// file is removed. Should removing the file fail after a clean close, that
// error is returned.
func (s *Scratch) Close() error {
	f, ok := s.r.(*file)
	if !ok {
		return s.r.Close()
	}
	name := f.f.Name()
	err := f.Close()
	err2 := os.Remove(name)
	if err == nil {
		err = err2
	}
	return err
}

// spill moves the in-memory contents into a new temp file, preserving the
// cursor position.
func (s *Scratch) spill(m *Memory) error {
	f, err := ioutil.TempFile(TempDir, "grove-scratch-")
	if err != nil {
		return err
	}
	_, err = f.Write(m.data)
	if err == nil {
		_, err = f.Seek(m.pos, io.SeekStart)
	}
	if err != nil {
		name := f.Name()
		f.Close()
		os.Remove(name)
		return err
	}
	s.r = &file{f: f, pos: m.pos, size: int64(len(m.data))}
	return nil
}
