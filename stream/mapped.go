package stream

import (
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Mapped is a read-only Resource over a memory mapped file. Window reads
// come straight out of the page cache with no read syscalls, which suits
// the access pattern of a lazily loaded tree: many small reads scattered
// over a large file.
type Mapped struct {
	f    *os.File
	data mmap.MMap
	pos  int64
}

// OpenMapped maps the named file read-only.
func OpenMapped(path string) (*Mapped, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	var data mmap.MMap
	// mapping a zero length file is an error on most systems
	if fi.Size() > 0 {
		data, err = mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			f.Close()
			return nil, err
		}
	}
	return &Mapped{f: f, data: data}, nil
}

func (m *Mapped) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *Mapped) Write(p []byte) (int, error) {
	return 0, ErrReadOnly
}

func (m *Mapped) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = m.pos + offset
	case io.SeekEnd:
		target = int64(len(m.data)) + offset
	default:
		return 0, errWhence
	}
	if target < 0 {
		return 0, errPosition
	}
	m.pos = target
	return target, nil
}

func (m *Mapped) Size() int64 {
	return int64(len(m.data))
}

func (m *Mapped) Truncate(size int64) error {
	return ErrReadOnly
}

func (m *Mapped) Close() error {
	var err error
	if m.data != nil {
		err = m.data.Unmap()
		m.data = nil
	}
	err2 := m.f.Close()
	if err == nil {
		err = err2
	}
	return err
}
