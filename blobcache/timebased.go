package blobcache

import (
	"container/heap"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/ndlib/grove/store"
)

// ErrPutPending means another Put on the same key is still open.
var ErrPutPending = errors.New("Put is already in progress for this key")

// A TimeBased cache keeps an item for a fixed interval after its last
// access. Every access pushes the expiration out again. Items whose
// interval passes untouched are removed.
//
// The storage used varies over time and has no upper bound.
type TimeBased struct {
	// where cached content is kept
	s store.Store

	// how long an untouched item survives
	ttl time.Duration

	// closed to end the background goroutine
	done chan struct{}

	m sync.RWMutex // protects the fields down to expireM

	// bytes used by cached items
	size int64

	// live items by key
	items map[string]timeEntry

	// keys with an open Put that has not closed yet
	pending map[string]struct{}

	// expireM serializes expiry sweeps. Take it before m.
	expireM sync.Mutex

	// expire orders entries by their expiration time at insert. The
	// live expiration lives in items, so entries popped here must be
	// rechecked against it.
	expire expireHeap
}

// indexKey is the key under which the expiration index is persisted
// between runs. The index is advisory and may be missing.
//
// The index shares the cache's key space, so a user key equal to
// indexKey would collide with it. None of the callers can produce such
// a key today.
const indexKey = "ITEM-LIST"

// timeEntry is what the cache remembers about one item. The fields are
// exported so the persisted index round-trips through encoding/json.
type timeEntry struct {
	Key     string
	Size    int64
	Expires time.Time
}

// NewTime returns a cache backed by s whose items live for d after
// their last access.
func NewTime(s store.Store, d time.Duration) *TimeBased {
	tc := &TimeBased{
		s:       s,
		ttl:     d,
		done:    make(chan struct{}),
		items:   make(map[string]timeEntry),
		pending: make(map[string]struct{}),
	}
	go tc.background()
	return tc
}

// Stop ends the background goroutine spawned by NewTime.
func (tc *TimeBased) Stop() {
	close(tc.done)
}

// Contains reports whether key is cached at this moment. The key may
// expire between a Contains and a Get.
func (tc *TimeBased) Contains(key string) bool {
	tc.m.RLock()
	_, ok := tc.items[key]
	tc.m.RUnlock()
	return ok
}

// Get returns a reader on the content of key and resets the key's
// expiration clock. A miss returns a nil reader and a nil error.
func (tc *TimeBased) Get(key string) (store.ReadAtCloser, int64, error) {
	tc.m.Lock()
	defer tc.m.Unlock()
	item, ok := tc.items[key]
	if !ok {
		return nil, 0, nil
	}
	item.Expires = time.Now().Add(tc.ttl)
	tc.items[key] = item
	rac, size, err := tc.s.Open(key)
	if err != nil {
		// could not open what we think we have, drop it
		tc.delete(key)
	}
	return rac, size, err
}

// Put returns a writer that caches its content under key once closed.
// ErrPutPending is returned while another Put on the same key is open.
// A key already cached is replaced.
func (tc *TimeBased) Put(key string) (io.WriteCloser, error) {
	if !tc.markPending(key) {
		return nil, ErrPutPending
	}
	w, err := tc.s.Create(key)
	if err == store.ErrKeyExists {
		// we hold the only pending mark for this key, so the old
		// content can go
		tc.s.Delete(key)
		w, err = tc.s.Create(key)
	}
	if err != nil {
		tc.unpending(key)
		return nil, err
	}
	return &writer{parent: tc, key: key, w: w}, nil
}

// markPending records an open Put on key. It reports false when
// another Put already holds the key.
func (tc *TimeBased) markPending(key string) bool {
	tc.m.Lock()
	defer tc.m.Unlock()
	if _, busy := tc.pending[key]; busy {
		return false
	}
	tc.pending[key] = struct{}{}
	return true
}

func (tc *TimeBased) unpending(key string) {
	tc.m.Lock()
	delete(tc.pending, key)
	tc.m.Unlock()
}

func (tc *TimeBased) addEntry(entry timeEntry) {
	tc.expireM.Lock()
	defer tc.expireM.Unlock()
	tc.m.Lock()
	defer tc.m.Unlock()

	entry.Expires = time.Now().Add(tc.ttl)
	if old, ok := tc.items[entry.Key]; ok {
		// a Put replaced this key, return the old size
		tc.size -= old.Size
	}
	tc.items[entry.Key] = entry
	heap.Push(&tc.expire, entry)
	tc.size += entry.Size
}

func (tc *TimeBased) save(w *writer) {
	tc.addEntry(timeEntry{Key: w.key, Size: w.size})
	tc.unpending(w.key)
}

// discard is called by a child writer to forget a partial item.
func (tc *TimeBased) discard(w *writer) {
	tc.unpending(w.key)
}

// reserve satisfies the bookkeeper interface. Sizes are accounted all
// at once in save, and there is no limit to enforce.
func (tc *TimeBased) reserve(int64) error { return nil }

// Delete removes key from the cache.
func (tc *TimeBased) Delete(key string) error {
	tc.m.Lock()
	err := tc.delete(key)
	tc.m.Unlock()
	tc.writeIndex()
	return err
}

// delete removes key. Caller must hold tc.m.
func (tc *TimeBased) delete(key string) error {
	item, ok := tc.items[key]
	if !ok {
		return nil
	}
	tc.size -= item.Size
	delete(tc.items, key)
	return tc.s.Delete(key)
}

// Size returns the bytes of storage the cache is using.
func (tc *TimeBased) Size() int64 {
	tc.m.RLock()
	defer tc.m.RUnlock()
	return tc.size
}

// MaxSize returns 0. A TimeBased cache has no size limit.
func (tc *TimeBased) MaxSize() int64 {
	return 0
}

// background restores the index, then alternates between sweeping
// expired keys and saving the index until Stop.
func (tc *TimeBased) background() {
	tc.readIndex()
	tc.scanstore()

	// sweep at a quarter of the ttl, but at least daily
	d := tc.ttl / 4
	if d > 24*time.Hour {
		d = 24 * time.Hour
	}
	for {
		select {
		case <-tc.done:
			return
		case <-time.After(d):
		}
		tc.expireKeys()
		tc.writeIndex()
	}
}

// expireKeys removes the keys whose expiration has passed. Entries in
// the heap hold the expiration as of their insert, so each candidate
// is rechecked against the live item, and items a Get has refreshed
// are pushed back under their new time.
func (tc *TimeBased) expireKeys() {
	tc.expireM.Lock()
	defer tc.expireM.Unlock()

	now := time.Now()
	for tc.expire.Len() > 0 {
		if tc.expire[0].Expires.After(now) {
			return
		}
		oldest := heap.Pop(&tc.expire).(timeEntry)
		tc.m.Lock()
		item, ok := tc.items[oldest.Key]
		if ok {
			if item.Expires.After(now) {
				heap.Push(&tc.expire, item)
			} else {
				tc.delete(item.Key)
			}
		}
		tc.m.Unlock()
	}
}

type expireHeap []timeEntry

func (h expireHeap) Len() int           { return len(h) }
func (h expireHeap) Less(i, j int) bool { return h[i].Expires.Before(h[j].Expires) }
func (h expireHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *expireHeap) Push(x interface{}) {
	*h = append(*h, x.(timeEntry))
}

func (h *expireHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// writeIndex saves the item list, expiration times included, so a
// restart does not reset every clock.
func (tc *TimeBased) writeIndex() {
	tc.s.Delete(indexKey)
	w, err := tc.s.Create(indexKey)
	if err != nil {
		log.Println("Error creating", indexKey, ":", err)
		return
	}
	tc.m.RLock()
	err = json.NewEncoder(w).Encode(tc.items)
	tc.m.RUnlock()
	if err != nil {
		log.Println("Error writing", indexKey, ":", err)
	}
	w.Close()
}

// readIndex merges a saved item list into the cache. Keys already
// present keep their current expiration.
func (tc *TimeBased) readIndex() {
	rac, _, err := tc.s.Open(indexKey)
	if err != nil {
		log.Println("Error opening", indexKey, ":", err)
		return
	}
	var items map[string]timeEntry
	dec := json.NewDecoder(store.NewReader(rac))
	dec.Decode(&items)
	rac.Close()

	tc.expireM.Lock()
	defer tc.expireM.Unlock()
	tc.m.Lock()
	defer tc.m.Unlock()
	for _, v := range items {
		// not addEntry, that would reset the saved expiration
		if _, exists := tc.items[v.Key]; !exists {
			tc.items[v.Key] = v
			heap.Push(&tc.expire, v)
			tc.size += v.Size
		}
	}
}

// scanstore adds whatever is sitting in the backing store and not yet
// indexed, with a fresh expiration.
func (tc *TimeBased) scanstore() {
	for key := range tc.s.List() {
		if key == indexKey || tc.Contains(key) {
			continue
		}
		rac, size, err := tc.s.Open(key)
		if err != nil {
			continue
		}
		rac.Close()
		tc.addEntry(timeEntry{Key: key, Size: size})
	}
}

// Scan restores saved expiration times, indexes anything else in the
// backing store, and saves a fresh index.
func (tc *TimeBased) Scan() {
	tc.readIndex()
	tc.scanstore()
	tc.writeIndex()
}
