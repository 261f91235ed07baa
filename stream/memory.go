package stream

import "io"

// Memory is a Resource kept entirely in memory. The zero value is an empty
// store ready to use. Writing past the end extends the data, and a write
// beyond the end zero fills the gap first, the way sparse file writes do.
type Memory struct {
	data []byte
	pos  int64
}

// NewMemory returns a memory resource holding b. The resource takes
// ownership of the slice.
func NewMemory(b []byte) *Memory {
	return &Memory{data: b}
}

// Bytes returns the current contents. The slice aliases the resource's
// internal buffer and is only valid until the next write or truncate.
func (m *Memory) Bytes() []byte {
	return m.data
}

func (m *Memory) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *Memory) Write(p []byte) (int, error) {
	if gap := m.pos - int64(len(m.data)); gap > 0 {
		m.data = append(m.data, make([]byte, gap)...)
	}
	n := copy(m.data[m.pos:], p)
	m.data = append(m.data, p[n:]...)
	m.pos += int64(len(p))
	return len(p), nil
}

func (m *Memory) Seek(offset int64, whence int) (int64, error) {
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

func (m *Memory) Size() int64 {
	return int64(len(m.data))
}

func (m *Memory) Truncate(size int64) error {
	switch {
	case size < 0:
		return errSize
	case size <= int64(len(m.data)):
		m.data = m.data[:size]
	default:
		m.data = append(m.data, make([]byte, size-int64(len(m.data)))...)
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}
