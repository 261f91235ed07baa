package stream

import "io"

// FromReaderAt adapts an io.ReaderAt of known size into a read-only
// Resource. This is how containers opened from a store are handed to the
// tree loader: store.Open returns a ReaderAt, and the loaded windows read
// through it on demand. If closer is not nil it is closed with the
// resource.
func FromReaderAt(r io.ReaderAt, size int64, closer io.Closer) Resource {
	return &readerAt{r: r, size: size, closer: closer}
}

type readerAt struct {
	r      io.ReaderAt
	size   int64
	pos    int64
	closer io.Closer
}

func (r *readerAt) Read(p []byte) (int, error) {
	if r.pos >= r.size {
		return 0, io.EOF
	}
	if max := r.size - r.pos; int64(len(p)) > max {
		p = p[:max]
	}
	n, err := r.r.ReadAt(p, r.pos)
	r.pos += int64(n)
	if err == io.EOF && n > 0 {
		// we will return the EOF on the next call
		err = nil
	}
	return n, err
}

func (r *readerAt) Write(p []byte) (int, error) {
	return 0, ErrReadOnly
}

func (r *readerAt) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.pos + offset
	case io.SeekEnd:
		target = r.size + offset
	default:
		return 0, errWhence
	}
	if target < 0 {
		return 0, errPosition
	}
	r.pos = target
	return target, nil
}

func (r *readerAt) Size() int64 {
	return r.size
}

func (r *readerAt) Truncate(size int64) error {
	return ErrReadOnly
}

func (r *readerAt) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
