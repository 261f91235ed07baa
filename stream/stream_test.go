package stream

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"testing"
)

func TestMemory(t *testing.T) {
	m := &Memory{}
	n, err := m.Write([]byte("hello"))
	if n != 5 || err != nil {
		t.Fatalf("Got (%d, %v), expected (5, nil)", n, err)
	}
	if m.Size() != 5 {
		t.Fatalf("Got size %d, expected 5", m.Size())
	}
	// a write past the end zero fills the gap
	if _, err := m.Seek(8, io.SeekStart); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if _, err := m.Write([]byte("x")); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if !bytes.Equal(m.Bytes(), []byte("hello\x00\x00\x00x")) {
		t.Fatalf("Got %q", m.Bytes())
	}
	if err := m.Truncate(5); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if !bytes.Equal(m.Bytes(), []byte("hello")) {
		t.Fatalf("Got %q, expected hello", m.Bytes())
	}
	m.Seek(0, io.SeekStart)
	out := make([]byte, 10)
	n, err = m.Read(out)
	if n != 5 || err != nil {
		t.Fatalf("Got (%d, %v), expected (5, nil)", n, err)
	}
	if _, err = m.Read(out); err != io.EOF {
		t.Fatalf("Got %v, expected EOF", err)
	}
}

func TestScratchSpill(t *testing.T) {
	s := NewScratch()
	defer s.Close()
	if _, ok := s.r.(*Memory); !ok {
		t.Fatalf("Got %T, expected *Memory", s.r)
	}
	chunk := make([]byte, 100000)
	for i := 0; i < 2; i++ {
		if _, err := s.Write(chunk); err != nil {
			t.Fatalf("Got %v, expected nil", err)
		}
	}
	if _, ok := s.r.(*Memory); !ok {
		t.Fatalf("Spilled too early at %d bytes", s.Size())
	}
	// the third write crosses the threshold
	if _, err := s.Write(chunk); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	f, ok := s.r.(*file)
	if !ok {
		t.Fatalf("Got %T, expected *file", s.r)
	}
	if s.Size() != 300000 {
		t.Fatalf("Got size %d, expected 300000", s.Size())
	}
	name := f.f.Name()
	if _, err := os.Stat(name); err != nil {
		t.Fatalf("Got %v, expected spill file %s", err, name)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if _, err := os.Stat(name); !os.IsNotExist(err) {
		t.Fatalf("Got %v, expected spill file to be removed", err)
	}
}

func TestScratchKeepsPositionOnSpill(t *testing.T) {
	s := NewScratch()
	defer s.Close()
	s.Write([]byte("abcdef"))
	s.Seek(3, io.SeekStart)
	if err := s.Truncate(scratchThreshold + 1); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if _, ok := s.r.(*file); !ok {
		t.Fatalf("Got %T, expected *file", s.r)
	}
	buf := make([]byte, 3)
	if _, err := io.ReadFull(s, buf); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if string(buf) != "def" {
		t.Fatalf("Got %q, expected def", buf)
	}
}

type closeTracker struct {
	*Memory
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestSourceRefCount(t *testing.T) {
	res := &closeTracker{Memory: NewMemory([]byte("0123456789"))}
	src := NewSource(res)
	a := New()
	b := New()
	a.Adopt(src, 0, 4)
	b.Adopt(src, 4, 6)
	if err := src.Release(); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if res.closed {
		t.Fatalf("Source closed while windows remain")
	}
	a.Close()
	if res.closed {
		t.Fatalf("Source closed while windows remain")
	}
	b.Close()
	if !res.closed {
		t.Fatalf("Source not closed after last window released")
	}
}

func TestWindowRead(t *testing.T) {
	src := NewSource(NewMemory([]byte("aaabbbbbcc")))
	defer src.Release()
	s := New()
	defer s.Close()
	s.Adopt(src, 3, 5)
	if s.Size() != 5 {
		t.Fatalf("Got size %d, expected 5", s.Size())
	}
	buf := make([]byte, 10)
	n, err := s.Read(buf)
	if err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if string(buf[:n]) != "bbbbb" {
		t.Fatalf("Got %q, expected bbbbb", buf[:n])
	}
	// at the window end we see EOF even though the source goes on
	if _, err = s.Read(buf); err != io.EOF {
		t.Fatalf("Got %v, expected EOF", err)
	}
}

func TestWindowSeek(t *testing.T) {
	src := NewSource(NewMemory([]byte("0123456789abcdefghij")))
	defer src.Release()
	s := New()
	defer s.Close()
	s.Adopt(src, 10, 10)

	var table = []struct {
		offset int64
		whence int
		result int64
		peek   string
	}{
		{0, io.SeekStart, 0, "a"},
		{4, io.SeekStart, 4, "e"},
		{2, io.SeekCurrent, 6, "g"},
		// end relative seeks count backward from the end
		{4, io.SeekEnd, 6, "g"},
		{0, io.SeekEnd, 10, ""},
	}
	for _, test := range table {
		pos, err := s.Seek(test.offset, test.whence)
		if err != nil {
			t.Fatalf("Seek(%d,%d): got %v, expected nil", test.offset, test.whence, err)
		}
		if pos != test.result {
			t.Errorf("Seek(%d,%d): got %d, expected %d", test.offset, test.whence, pos, test.result)
		}
		if test.peek != "" {
			one := make([]byte, 1)
			if _, err := s.Read(one); err != nil {
				t.Fatalf("Got %v, expected nil", err)
			}
			if string(one) != test.peek {
				t.Errorf("Seek(%d,%d): got %q, expected %q", test.offset, test.whence, one, test.peek)
			}
			s.Seek(pos, io.SeekStart)
		}
	}

	if _, err := s.Seek(-1, io.SeekStart); err == nil {
		t.Errorf("Got nil, expected error seeking before window start")
	}
	if !s.Windowed() {
		t.Fatalf("Stream materialized by an in-window seek")
	}
}

func TestSeekPastEndMaterializes(t *testing.T) {
	src := NewSource(NewMemory([]byte("0123456789")))
	defer src.Release()
	s := New()
	defer s.Close()
	s.Adopt(src, 2, 4)
	pos, err := s.Seek(6, io.SeekStart)
	if err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if pos != 6 {
		t.Fatalf("Got %d, expected 6", pos)
	}
	if s.Windowed() {
		t.Fatalf("Expected stream to own its storage")
	}
	// the contents were preserved and the size did not grow
	if s.Size() != 4 {
		t.Fatalf("Got size %d, expected 4", s.Size())
	}
	s.Seek(0, io.SeekStart)
	data, _ := readAll(s)
	if string(data) != "2345" {
		t.Fatalf("Got %q, expected 2345", data)
	}
}

func TestBookmarks(t *testing.T) {
	src := NewSource(NewMemory([]byte("aaaaabbbbb")))
	defer src.Release()
	a := New()
	b := New()
	defer a.Close()
	defer b.Close()
	a.Adopt(src, 0, 5)
	b.Adopt(src, 5, 5)

	one := make([]byte, 1)
	a.Read(one) // physical cursor now inside a's window
	b.Read(one) // moves the cursor into b's window
	if string(one) != "b" {
		t.Fatalf("Got %q, expected b", one)
	}
	// a's next read resumes where a left off
	a.Read(one)
	if string(one) != "a" {
		t.Fatalf("Got %q, expected a", one)
	}
	if a.Position() != 2 {
		t.Fatalf("Got position %d, expected 2", a.Position())
	}
	if b.Position() != 1 {
		t.Fatalf("Got position %d, expected 1", b.Position())
	}
}

func TestWindowWriteThrough(t *testing.T) {
	mem := NewMemory([]byte("0123456789"))
	src := NewSource(mem)
	defer src.Release()
	s := New()
	defer s.Close()
	s.Adopt(src, 2, 6)
	s.Seek(1, io.SeekStart)
	n, err := s.Write([]byte("XY"))
	if n != 2 || err != nil {
		t.Fatalf("Got (%d, %v), expected (2, nil)", n, err)
	}
	if !s.Windowed() {
		t.Fatalf("In-window write should not materialize")
	}
	// the write landed in the shared resource
	if string(mem.Bytes()) != "012XY56789" {
		t.Fatalf("Got %q, expected 012XY56789", mem.Bytes())
	}
}

func TestWriteOverflowMaterializes(t *testing.T) {
	mem := NewMemory([]byte("0123456789"))
	src := NewSource(mem)
	defer src.Release()
	s := New()
	defer s.Close()
	s.Adopt(src, 2, 6)
	s.Seek(4, io.SeekStart)
	n, err := s.Write([]byte("WXYZ"))
	if n != 4 || err != nil {
		t.Fatalf("Got (%d, %v), expected (4, nil)", n, err)
	}
	if s.Windowed() {
		t.Fatalf("Overflowing write should materialize")
	}
	if s.Size() != 8 {
		t.Fatalf("Got size %d, expected 8", s.Size())
	}
	s.Seek(0, io.SeekStart)
	data, _ := readAll(s)
	if string(data) != "2345WXYZ" {
		t.Fatalf("Got %q, expected 2345WXYZ", data)
	}
	// the shared resource is untouched
	if string(mem.Bytes()) != "0123456789" {
		t.Fatalf("Got %q, expected 0123456789", mem.Bytes())
	}
}

func TestAppendToReadOnlySource(t *testing.T) {
	src := NewSource(FromReaderAt(bytes.NewReader([]byte("0123456789")), 10, nil))
	defer src.Release()
	s := New()
	defer s.Close()
	s.Adopt(src, 2, 6)

	// a patch inside the window needs the resource to be writable
	s.Seek(0, io.SeekStart)
	if _, err := s.Write([]byte("x")); err != ErrReadOnly {
		t.Fatalf("Got %v, expected ErrReadOnly", err)
	}
	// an append materializes instead, so it works on a read-only source
	if _, err := s.Seek(0, io.SeekEnd); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if _, err := s.Write([]byte("AB")); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	s.Seek(0, io.SeekStart)
	data, _ := readAll(s)
	if string(data) != "234567AB" {
		t.Fatalf("Got %q, expected 234567AB", data)
	}
}

func TestTruncateWindow(t *testing.T) {
	// shrink narrows the window in place
	src := NewSource(NewMemory([]byte("0123456789")))
	s := New()
	s.Adopt(src, 2, 6)
	src.Release()
	if err := s.Truncate(3); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if !s.Windowed() {
		t.Fatalf("Shrink should not materialize")
	}
	if s.Size() != 3 {
		t.Fatalf("Got size %d, expected 3", s.Size())
	}
	if s.Position() != 3 {
		t.Fatalf("Got position %d, expected 3", s.Position())
	}
	s.Seek(0, io.SeekStart)
	data, _ := readAll(s)
	if string(data) != "234" {
		t.Fatalf("Got %q, expected 234", data)
	}

	// growing materializes but does not extend
	if err := s.Truncate(9); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if s.Windowed() {
		t.Fatalf("Grow should materialize")
	}
	if s.Size() != 3 {
		t.Fatalf("Got size %d, expected 3", s.Size())
	}
	s.Close()

	// truncating to zero materializes empty
	src = NewSource(NewMemory([]byte("0123456789")))
	s = New()
	s.Adopt(src, 2, 6)
	src.Release()
	if err := s.Truncate(0); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if s.Windowed() || s.Size() != 0 {
		t.Fatalf("Got windowed=%v size=%d, expected owned empty", s.Windowed(), s.Size())
	}
	s.Close()
}

func TestOwnedSeekEnd(t *testing.T) {
	s := New()
	defer s.Close()
	s.Write([]byte("0123456789"))
	// owned streams follow the io.Seeker convention, a negative offset
	// counts backward from the end
	pos, err := s.Seek(-3, io.SeekEnd)
	if err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if pos != 7 {
		t.Fatalf("Got %d, expected 7", pos)
	}
	one := make([]byte, 1)
	s.Read(one)
	if string(one) != "7" {
		t.Fatalf("Got %q, expected 7", one)
	}
	// and the same call on a materialized stream lands in the same place
	src := NewSource(NewMemory([]byte("xx0123456789xx")))
	w := New()
	w.Adopt(src, 2, 10)
	src.Release()
	if err := w.Materialize(10); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	pos, err = w.Seek(-3, io.SeekEnd)
	if err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if pos != 7 {
		t.Fatalf("Got %d, expected 7", pos)
	}
	w.Read(one)
	if string(one) != "7" {
		t.Fatalf("Got %q, expected 7", one)
	}
	w.Close()
}

func TestMappedFile(t *testing.T) {
	f, err := ioutil.TempFile("", "grove-test-")
	if err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	name := f.Name()
	defer os.Remove(name)
	if _, err := f.Write([]byte("hello mapped world")); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	f.Close()

	m, err := OpenMapped(name)
	if err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	defer m.Close()
	if m.Size() != 18 {
		t.Fatalf("Got size %d, expected 18", m.Size())
	}
	if _, err := m.Write([]byte("x")); err != ErrReadOnly {
		t.Fatalf("Got %v, expected ErrReadOnly", err)
	}
	m.Seek(6, io.SeekStart)
	buf := make([]byte, 6)
	if _, err := io.ReadFull(m, buf); err != nil {
		t.Fatalf("Got %v, expected nil", err)
	}
	if string(buf) != "mapped" {
		t.Fatalf("Got %q, expected mapped", buf)
	}
}

func readAll(r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	_, err := io.Copy(&out, r)
	return out.Bytes(), err
}
