package stream

import "os"

// file wraps an *os.File as a Resource. The size is read once at open and
// tracked from then on, relying on the resource's exclusive access to the
// file.
type file struct {
	f        *os.File
	pos      int64
	size     int64
	readonly bool
}

// CreateFile creates the named file, truncating it if it exists, and
// returns it as an empty read-write resource.
func CreateFile(path string) (Resource, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &file{f: f}, nil
}

// OpenFile opens the named file as a read-write resource. Writes land
// directly in the file.
func OpenFile(path string) (Resource, error) {
	return openfile(path, false)
}

// OpenFileReadOnly opens the named file as a read-only resource. Write and
// Truncate return ErrReadOnly.
func OpenFileReadOnly(path string) (Resource, error) {
	return openfile(path, true)
}

func openfile(path string, readonly bool) (Resource, error) {
	mode := os.O_RDWR
	if readonly {
		mode = os.O_RDONLY
	}
	f, err := os.OpenFile(path, mode, 0666)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &file{f: f, size: fi.Size(), readonly: readonly}, nil
}

func (r *file) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	r.pos += int64(n)
	return n, err
}

func (r *file) Write(p []byte) (int, error) {
	if r.readonly {
		return 0, ErrReadOnly
	}
	n, err := r.f.Write(p)
	r.pos += int64(n)
	if r.pos > r.size {
		r.size = r.pos
	}
	return n, err
}

func (r *file) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.f.Seek(offset, whence)
	if err == nil {
		r.pos = pos
	}
	return pos, err
}

func (r *file) Size() int64 {
	return r.size
}

func (r *file) Truncate(size int64) error {
	if r.readonly {
		return ErrReadOnly
	}
	if err := r.f.Truncate(size); err != nil {
		return err
	}
	r.size = size
	return nil
}

func (r *file) Close() error {
	return r.f.Close()
}
