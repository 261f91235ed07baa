package blobcache

import (
	"fmt"
	"testing"
	"time"

	"github.com/ndlib/grove/store"
)

func TestTimeExpiry(t *testing.T) {
	cache := NewTime(store.NewMemory(), time.Second)
	defer cache.Stop()

	cachePut(t, cache, "hello", "hello world")
	if !cache.Contains("hello") {
		t.Errorf("Received false, expected true")
	}

	time.Sleep(1300 * time.Millisecond)
	r, _, _ := cache.Get("hello")
	if r != nil {
		t.Error("Key not evicted")
		r.Close()
	}
}

func TestTimeRefresh(t *testing.T) {
	cache := NewTime(store.NewMemory(), time.Second)
	defer cache.Stop()
	for i := 0; i < 20; i++ {
		cachePut(t, cache, fmt.Sprintf("hello-%d", i), "hello world")
	}

	// touch half of them partway through their lifetime
	time.Sleep(500 * time.Millisecond)
	for i := 0; i < 20; i += 2 {
		r, _, _ := cache.Get(fmt.Sprintf("hello-%d", i))
		if r == nil {
			t.Error("key", i, "evicted early")
			continue
		}
		r.Close()
	}

	// wait for the untouched half to expire
	time.Sleep(850 * time.Millisecond)
	for i := 0; i < 20; i++ {
		r, _, _ := cache.Get(fmt.Sprintf("hello-%d", i))
		if r == nil {
			if i%2 == 0 {
				t.Error("Touched key evicted", i)
			}
			continue
		}
		if i%2 != 0 {
			t.Error("Untouched key not evicted", i)
		}
		r.Close()
	}
}

func TestTimePutPending(t *testing.T) {
	cache := NewTime(store.NewMemory(), time.Hour)
	defer cache.Stop()

	w, err := cache.Put("dup")
	if err != nil {
		t.Fatalf("Received %v, expected nil", err)
	}
	if _, err := cache.Put("dup"); err != ErrPutPending {
		t.Errorf("Received %v, expected %v", err, ErrPutPending)
	}
	w.Write([]byte("first"))
	w.Close()

	// replacing a closed item is allowed
	w, err = cache.Put("dup")
	if err != nil {
		t.Fatalf("Received %v, expected nil", err)
	}
	w.Write([]byte("second content"))
	w.Close()

	r, size, err := cache.Get("dup")
	if err != nil || r == nil {
		t.Fatalf("Received %v, %v", r, err)
	}
	if size != 14 {
		t.Errorf("Received size %d, expected %d", size, 14)
	}
	r.Close()
	if cache.Size() != 14 {
		t.Errorf("Received size %d, expected %d", cache.Size(), 14)
	}
}

func TestTimeIndexRestore(t *testing.T) {
	mem := store.NewMemory()
	first := NewTime(mem, time.Hour)
	cachePut(t, first, "alpha", "12345")
	cachePut(t, first, "beta", "1234567")
	first.Scan() // persist the index
	first.Stop()

	second := NewTime(mem, time.Hour)
	defer second.Stop()
	time.Sleep(200 * time.Millisecond) // let it read the index back
	if !second.Contains("alpha") || !second.Contains("beta") {
		t.Errorf("Received misses, expected both keys present")
	}
	if second.Size() != 12 {
		t.Errorf("Received size %d, expected %d", second.Size(), 12)
	}
}
