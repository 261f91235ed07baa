package blobcache

import (
	"io"
)

// bookkeeper is the cache side a writer reports to while a new item is
// copied in.
type bookkeeper interface {
	reserve(int64) error // called before each write with the room needed
	save(w *writer)      // the item arrived whole
	discard(w *writer)   // the item failed partway in
}

// writer copies one new item into a cache.
type writer struct {
	parent bookkeeper
	key    string
	w      io.WriteCloser
	size   int64
	bad    bool // drop the item at Close
}

// Write asks for room before writing, so a cache never holds more than
// its limit even while an item is arriving.
func (w *writer) Write(p []byte) (int, error) {
	err := w.parent.reserve(int64(len(p)))
	if err != nil {
		w.bad = true
		return 0, err
	}
	// size may overcount after a short write. It only sizes the
	// reservation to cancel later, so overcounting is harmless.
	w.size += int64(len(p))
	n, err := w.w.Write(p)
	if err != nil {
		w.bad = true
	}
	return n, err
}

func (w *writer) Close() error {
	err := w.w.Close()
	if err != nil || w.bad {
		w.parent.discard(w)
		return err
	}
	w.parent.save(w)
	return nil
}

// Cancel marks the item as unwanted. Close will then drop whatever was
// copied instead of saving it.
func (w *writer) Cancel() { w.bad = true }
