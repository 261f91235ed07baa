package stream

// A Source is a reference counted handle on a Resource shared by all the
// windowed streams of one loaded tree. It tracks the physical cursor
// position itself, so streams can find out where the handle is pointing
// without a system call.
//
// NewSource returns the handle with one reference, owned by the caller.
// Every stream window adds a reference, and the underlying resource is
// closed when the last reference is released. A Source is not safe for
// concurrent use. Callers serialize access to a tree and everything loaded
// from it.
type Source struct {
	r    Resource
	pos  int64
	refs int
}

// NewSource wraps r in a counted handle. The caller holds the initial
// reference and must release it.
func NewSource(r Resource) *Source {
	return &Source{r: r, refs: 1}
}

// Retain adds a reference.
func (s *Source) Retain() {
	s.refs++
}

// Release drops a reference, closing the underlying resource when the last
// one goes. Releasing more times than retained is a program error and
// panics.
func (s *Source) Release() error {
	s.refs--
	if s.refs < 0 {
		panic("stream: Release of already closed Source")
	}
	if s.refs == 0 {
		return s.r.Close()
	}
	return nil
}

// Pos returns the tracked cursor position of the shared handle.
func (s *Source) Pos() int64 {
	return s.pos
}

// SeekTo positions the handle at the absolute offset off.
func (s *Source) SeekTo(off int64) error {
	pos, err := s.r.Seek(off, 0)
	if err == nil {
		s.pos = pos
	}
	return err
}

// Skip advances the cursor n bytes without reading them.
func (s *Source) Skip(n int64) error {
	pos, err := s.r.Seek(n, 1)
	if err == nil {
		s.pos = pos
	}
	return err
}

func (s *Source) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.pos += int64(n)
	return n, err
}

func (s *Source) Write(p []byte) (int, error) {
	n, err := s.r.Write(p)
	s.pos += int64(n)
	return n, err
}

// Size returns the length of the underlying resource.
func (s *Source) Size() int64 {
	return s.r.Size()
}
