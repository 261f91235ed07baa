// Package storetest holds test helpers shared by Store implementations.
package storetest

import (
	"bytes"
	"crypto/md5"
	"io"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/ndlib/grove/store"
)

const (
	uploaderCount   = 5
	downloaderCount = 10
)

// blob records what an uploader stored, for later verification.
type blob struct {
	key  string
	md5  []byte
	size int64
}

// Stress hammers a store with concurrent uploads, downloads, and
// deletes until roughly totalsize bytes have been written. Download
// contents are compared against an md5 taken while uploading. A
// totalsize of 0 selects 1 GB. Worth running with the -race flag.
//
// List and ListPrefix are not exercised.
func Stress(t *testing.T, s store.Store, totalsize int64) {
	if totalsize == 0 {
		totalsize = 1000 * 1000 * 1000
	}
	sizes := make(chan int64)
	verify := make(chan blob, 1000)
	done := make(chan struct{})
	var up, down sync.WaitGroup

	for i := 0; i < uploaderCount; i++ {
		up.Add(1)
		go func() {
			defer up.Done()
			uploader(t, s, sizes, verify)
		}()
	}
	for i := 0; i < downloaderCount; i++ {
		down.Add(1)
		go func() {
			defer down.Done()
			downloader(t, s, verify, done)
		}()
	}

	sendSizes(sizes, totalsize)
	close(sizes)
	up.Wait()
	close(done)
	down.Wait()
}

// sendSizes emits random sizes until their sum reaches totalsize. The
// exponent is drawn uniformly, so sizes span single bytes to hundreds
// of megabytes, capped at whatever budget remains.
func sendSizes(out chan<- int64, totalsize int64) {
	const maxExponent = 20 // e^20 is about 485 MB
	for totalsize > 0 {
		size := int64(math.Exp(maxExponent * rand.Float64()))
		if size > totalsize {
			size = totalsize
		}
		out <- size
		totalsize -= size
	}
}

// randomKey returns 1 to 24 random lowercase letters.
func randomKey() string {
	key := make([]byte, 1+rand.Intn(24))
	for i := range key {
		key[i] = byte('a' + rand.Intn(26))
	}
	return string(key)
}

// repeatReader serves n bytes by cycling through block.
type repeatReader struct {
	block []byte
	n     int64
}

func (r *repeatReader) Read(p []byte) (int, error) {
	if r.n <= 0 {
		return 0, io.EOF
	}
	total := 0
	for len(p) > 0 && r.n > 0 {
		b := r.block
		if r.n < int64(len(b)) {
			b = b[:r.n]
		}
		n := copy(p, b)
		p = p[n:]
		r.n -= int64(n)
		total += n
	}
	return total, nil
}

func uploader(t *testing.T, s store.Store, sizes <-chan int64, out chan<- blob) {
	h := md5.New()
	block := make([]byte, 64*1024)

	for size := range sizes {
		rand.Read(block)
		key := randomKey()
		var w io.WriteCloser
		for {
			var err error
			w, err = s.Create(key)
			if err == nil {
				break
			}
			if err == store.ErrKeyExists {
				key += "x"
				continue
			}
			t.Error(err)
			break
		}
		if w == nil {
			continue
		}
		h.Reset()
		n, err := io.Copy(io.MultiWriter(h, w), &repeatReader{block: block, n: size})
		if n != size {
			t.Errorf("Received %d bytes, expected %d", n, size)
		}
		if err != nil {
			t.Error(err)
		}
		if err := w.Close(); err != nil {
			t.Error(key, size, err)
			continue
		}
		out <- blob{key: key, md5: h.Sum(nil), size: size}
	}
}

func downloader(t *testing.T, s store.Store, in chan blob, done <-chan struct{}) {
	h := md5.New()
	for {
		var b blob
		select {
		case <-done:
			return
		case b = <-in:
		}
		rac, size, err := s.Open(b.key)
		if err != nil {
			t.Error(err)
			continue
		}
		if size != b.size {
			t.Errorf("Received size %d, expected %d", size, b.size)
		}
		h.Reset()
		n, err := io.Copy(h, store.NewReader(rac))
		if err != nil {
			t.Error(err)
		}
		if n != size {
			t.Errorf("Received %d bytes, expected %d", n, size)
		}
		if err := rac.Close(); err != nil {
			t.Error(err)
		}
		if !bytes.Equal(b.md5, h.Sum(nil)) {
			t.Errorf("Received md5 %x for %s, expected %x", h.Sum(nil), b.key, b.md5)
			continue
		}
		if rand.Float32() < 0.5 {
			if err := s.Delete(b.key); err != nil {
				t.Error(err)
			}
			continue
		}
		// Read it again later. If the queue is full, clean up
		// instead of wedging every downloader on the same send.
		select {
		case in <- b:
		default:
			s.Delete(b.key)
		}
	}
}
