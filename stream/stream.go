// Package stream provides the byte storage engine behind grove nodes.
//
// Every node in a grove is a seekable byte stream. A node either owns its
// backing storage outright, or it is a window onto a bounded span of a
// resource shared with the rest of its tree. Trees loaded from disk start
// out entirely windowed, so opening a large container costs a handful of
// small reads no matter how much payload it holds. A windowed stream is
// promoted to owned storage the first time it needs room the window cannot
// provide. The promotion is one way.
//
// All the streams of a loaded tree multiplex a single shared handle. Each
// stream remembers the last position it used, and before touching the handle
// it checks whether some sibling has moved the physical cursor out of its
// window. Only then does it pay for a repositioning seek.
package stream

import (
	"errors"
	"io"
)

// A Resource is the storage a stream sits on: a readable, writable,
// seekable, closable sequence of bytes that also knows its own length.
// Implementations track the length themselves so Size never needs a system
// call. A Resource assumes it has exclusive access to whatever is
// underneath it.
//
// Read-only resources return ErrReadOnly from Write and Truncate.
type Resource interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Size returns the current length of the resource in bytes.
	Size() int64

	// Truncate changes the length of the resource. It does not move the
	// cursor, even if the cursor is left past the new end.
	Truncate(size int64) error
}

var (
	// ErrReadOnly is returned when writing to or resizing a read-only
	// resource.
	ErrReadOnly = errors.New("Resource is read only")

	errWhence   = errors.New("Seek: invalid whence")
	errPosition = errors.New("Seek: position before start of stream")
	errSize     = errors.New("Truncate: negative size")
)

// A Stream is the payload stream of a single grove node. It is in one of
// two states. An owned stream has private backing storage and behaves like
// an ordinary file. A windowed stream exposes the span
// [begin, begin+length) of a shared Source as if it were a whole stream.
//
// Reads and seeks inside the window are served through the shared handle.
// A mutation the window cannot absorb, such as writing past the window end,
// copies the window contents into private storage first. See Materialize.
type Stream struct {
	owned Resource // private backing, nil while windowed

	src    *Source // shared handle, nil once owned
	begin  int64   // window start, absolute offset in src
	length int64   // window length; the stream's size while windowed
	mark   int64   // bookmark: last absolute cursor position this stream used
}

// New returns an empty stream owning its storage. The backing store lives
// in memory until it grows large, then spools itself to a temp file.
func New() *Stream {
	return &Stream{owned: NewScratch()}
}

// Windowed reports whether the stream is still a window onto a shared
// source.
func (s *Stream) Windowed() bool {
	return s.src != nil
}

// Size returns the stream's length in bytes.
func (s *Stream) Size() int64 {
	if s.src != nil {
		return s.length
	}
	return s.owned.Size()
}

// Position returns the stream's cursor position without touching the
// underlying storage. If another stream moved the shared cursor away, the
// position is the one remembered in this stream's bookmark.
func (s *Stream) Position() int64 {
	if s.src == nil {
		pos, _ := s.owned.Seek(0, io.SeekCurrent)
		return pos
	}
	pos := s.src.Pos()
	if pos < s.begin || pos > s.begin+s.length {
		pos = s.mark
	}
	return pos - s.begin
}

// resync repositions the shared handle to this stream's bookmark if some
// other stream has moved the physical cursor outside our window. A cursor
// sitting exactly on either window edge is left alone.
func (s *Stream) resync() error {
	pos := s.src.Pos()
	if pos < s.begin || pos > s.begin+s.length {
		return s.src.SeekTo(s.mark)
	}
	return nil
}

// Read fills p from the current position. A windowed stream clamps the
// read at the window end and reports io.EOF there, no matter how much more
// the shared resource holds.
func (s *Stream) Read(p []byte) (int, error) {
	if s.src == nil {
		return s.owned.Read(p)
	}
	if err := s.resync(); err != nil {
		return 0, err
	}
	avail := s.begin + s.length - s.src.Pos()
	if avail <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > avail {
		p = p[:avail]
	}
	n, err := s.src.Read(p)
	s.mark = s.src.Pos()
	return n, err
}

// Write stores p at the current position. A write that fits inside the
// window goes straight through to the shared resource. A write that would
// run past the window end promotes the stream to owned storage first,
// keeping the bytes before the current position, and then lands in the
// private copy.
func (s *Stream) Write(p []byte) (int, error) {
	if s.src == nil {
		return s.owned.Write(p)
	}
	if err := s.resync(); err != nil {
		return 0, err
	}
	pos := s.src.Pos() - s.begin
	if pos+int64(len(p)) > s.length {
		// Everything from pos to the window end is about to be
		// overwritten, so preserving pos bytes loses nothing.
		if err := s.Materialize(pos); err != nil {
			return 0, err
		}
		return s.owned.Write(p)
	}
	n, err := s.src.Write(p)
	s.mark = s.src.Pos()
	return n, err
}

// Seek moves the cursor. An owned stream passes the call straight
// through to its resource, with the usual io.Seeker meaning for every
// whence. Windowed streams translate the offset to an absolute position
// and keep the cursor inside the window: a target past the window end
// materializes the stream and then seeks, and a target before the window
// start is an error.
//
// A windowed end-relative seek counts the offset backward from the end,
// so Seek(4, io.SeekEnd) lands four bytes before the window end.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if s.src == nil {
		switch whence {
		case io.SeekStart, io.SeekCurrent, io.SeekEnd:
			return s.owned.Seek(offset, whence)
		}
		return 0, errWhence
	}
	if err := s.resync(); err != nil {
		return 0, err
	}
	var target int64
	switch whence {
	case io.SeekStart:
		target = s.begin + offset
	case io.SeekCurrent:
		target = s.src.Pos() + offset
	case io.SeekEnd:
		target = s.begin + s.length - offset
	default:
		return 0, errWhence
	}
	switch {
	case target < s.begin:
		return 0, errPosition
	case target > s.begin+s.length:
		if err := s.Materialize(s.length); err != nil {
			return 0, err
		}
		return s.owned.Seek(target-s.begin, io.SeekStart)
	}
	if err := s.src.SeekTo(target); err != nil {
		return 0, err
	}
	s.mark = target
	return target - s.begin, nil
}

// Truncate changes the stream's length. Shrinking a windowed stream just
// narrows the window and parks the cursor at the new end. Growing past the
// window, or truncating to nothing, promotes the stream to owned storage.
// A grow does not extend the stream: the promoted copy keeps the window's
// bytes and stays at the window's size until something writes past it.
func (s *Stream) Truncate(size int64) error {
	if s.src == nil {
		return s.owned.Truncate(size)
	}
	switch {
	case size <= 0:
		return s.Materialize(0)
	case size > s.length:
		return s.Materialize(s.length)
	}
	s.length = size
	if err := s.src.SeekTo(s.begin + size); err != nil {
		return err
	}
	s.mark = s.begin + size
	return nil
}

// Materialize promotes a windowed stream to owned storage, copying the
// first keep bytes of the window into a fresh scratch store. The stream
// drops its reference on the shared source, and the cursor is left just
// past the preserved bytes. Materializing an owned stream does nothing.
func (s *Stream) Materialize(keep int64) error {
	if s.src == nil {
		return nil
	}
	scratch := NewScratch()
	if keep > 0 {
		if err := s.src.SeekTo(s.begin); err != nil {
			scratch.Close()
			return err
		}
		if _, err := io.CopyN(scratch, s.src, keep); err != nil {
			scratch.Close()
			return err
		}
	}
	err := s.src.Release()
	s.src = nil
	s.owned = scratch
	return err
}

// Adopt turns the stream into a window [begin, begin+length) onto src,
// releasing whatever backing it held before. The stream takes a reference
// on src and its cursor starts at the window beginning.
func (s *Stream) Adopt(src *Source, begin, length int64) error {
	err := s.release()
	src.Retain()
	s.src = src
	s.begin = begin
	s.length = length
	s.mark = begin
	s.owned = nil
	return err
}

// Close releases the stream's backing storage: owned storage is closed,
// removing any spill file, and a shared source has this stream's reference
// released. The stream must not be used afterward.
func (s *Stream) Close() error {
	return s.release()
}

func (s *Stream) release() error {
	if s.src != nil {
		err := s.src.Release()
		s.src = nil
		return err
	}
	if s.owned != nil {
		err := s.owned.Close()
		s.owned = nil
		return err
	}
	return nil
}
