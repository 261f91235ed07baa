package store

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// COW is a copy-on-write store layered over a remote grove server.
// Reads check a local store first and fall back to the remote server,
// and every write lands in the local store. So the store appears to
// hold everything the remote one does, while the remote side is never
// modified.
//
// This is how a developer runs against a production host without being
// able to damage it: point the COW at production, and each container
// touched is quietly copied down the first time it is opened.
//
// Reading even one node of a remote container copies the whole
// container file down first. That suits seeding a local working set
// better than it suits random browsing.
type COW struct {
	local  Store        // receives all writes
	client *http.Client // shared for keep-alive reuse
	host   string       // "http://hostname:port"
	token  string       // access token for the remote grove server
}

// NewCOW returns a COW writing into local and falling back to the
// grove server at host, in the form "http://hostname:port". The token,
// when not empty, is sent with every remote request.
func NewCOW(local Store, host, token string) *COW {
	return &COW{
		local:  local,
		host:   host,
		token:  token,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

// List enumerates the keys on both sides, each key appearing once.
func (c *COW) List() <-chan string {
	out := make(chan string)
	go fanin(out, c.remoteList(), c.local.List())
	return out
}

// ListPrefix returns the keys with the given prefix from both sides,
// each key appearing once.
func (c *COW) ListPrefix(prefix string) ([]string, error) {
	local, err := c.local.ListPrefix(prefix)
	if err != nil {
		return local, err
	}
	remote, err := c.remoteListPrefix(prefix)
	if err != nil {
		return nil, err
	}
	return mergekeys(local, remote), nil
}

// Open returns a reader on the container for key. A key living only on
// the remote server is first copied into the local store, and the
// local copy is what gets opened.
func (c *COW) Open(key string) (ReadAtCloser, int64, error) {
	rac, n, err := c.local.Open(key)
	if err == nil {
		return rac, n, nil
	}
	if err := c.pulldown(key); err != nil {
		return nil, 0, err
	}
	return c.local.Open(key)
}

// Create makes a new entry in the local store. Reusing a key that
// exists on the remote server is fine. The local entry shadows it.
func (c *COW) Create(key string) (io.WriteCloser, error) {
	return c.local.Create(key)
}

// Delete removes key from the local store only. Deleting a key that
// lives just on the remote side is a nop, not an error. Removing a
// local entry that shadowed a remote one lets the remote one show
// through again, so a delete may not make a key disappear.
func (c *COW) Delete(key string) error {
	return c.local.Delete(key)
}

// pulldown copies the container file for key from the remote server
// into the local store.
func (c *COW) pulldown(key string) error {
	rc, err := c.remoteOpen(key)
	if err != nil {
		return err
	}
	defer rc.Close()
	w, err := c.local.Create(key)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, rc)
	if err2 := w.Close(); err == nil {
		err = err2
	}
	return err
}

// fanin forwards the keys from every in channel to out, dropping
// duplicates. out is closed after the inputs are exhausted.
func fanin(out chan<- string, ins ...<-chan string) {
	defer close(out)
	merged := make(chan string)
	var wg sync.WaitGroup
	for _, in := range ins {
		wg.Add(1)
		go func(in <-chan string) {
			defer wg.Done()
			for key := range in {
				merged <- key
			}
		}(in)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()
	seen := make(map[string]struct{})
	for key := range merged {
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			out <- key
		}
	}
}

// mergekeys combines two key lists, keeping one of each key.
func mergekeys(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	for _, key := range a {
		seen[key] = struct{}{}
	}
	result := a
	for _, key := range b {
		if _, ok := seen[key]; !ok {
			result = append(result, key)
		}
	}
	return result
}

// The remote side is read only, and its Open hands back a plain Reader
// rather than a ReadAtCloser, so it gets these private methods instead
// of a Store implementation. They hit the raw container routes of the
// grove server.

func (c *COW) remoteList() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		resp, err := c.get(c.host + "/container/list")
		if err != nil {
			log.Println(err.Error())
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != 200 {
			log.Printf("COW remoteList received %d", resp.StatusCode)
			return
		}
		// the list may be long, so stream it rather than decoding
		// into one big slice
		dec := json.NewDecoder(resp.Body)
		if _, err := dec.Token(); err != nil { // opening bracket
			return
		}
		for dec.More() {
			var key string
			if err := dec.Decode(&key); err != nil {
				return
			}
			out <- key
		}
		dec.Token() // closing bracket
	}()
	return out
}

func (c *COW) remoteListPrefix(prefix string) ([]string, error) {
	resp, err := c.get(c.host + "/container/list/" + prefix)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("COW: list %s returned %d", prefix, resp.StatusCode)
	}
	var keys []string
	err = json.NewDecoder(resp.Body).Decode(&keys)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return keys, nil
}

func (c *COW) remoteOpen(key string) (io.ReadCloser, error) {
	resp, err := c.get(c.host + "/container/open/" + key)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		resp.Body.Close()
		return nil, fmt.Errorf("COW: open %s returned %d", key, resp.StatusCode)
	}
	return resp.Body, nil
}

// get is client.Get plus the access token header.
func (c *COW) get(url string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("X-Api-Key", c.token)
	}
	return c.client.Do(req)
}
