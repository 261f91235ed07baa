package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/grove/store"
	"github.com/ndlib/grove/stream"
	"github.com/ndlib/grove/tree"
	"github.com/ndlib/grove/util"
)

// ErrStopping means a request was refused because the server is shutting
// down.
var ErrStopping = errors.New("Server is stopping")

// openTree opens the container stored under key and loads it lazily: every
// node windows the store's reader and no payload bytes are copied. The
// reader stays open as long as the returned tree; releaseTree closes it.
func (s *RESTServer) openTree(key string) (*tree.Node, error) {
	rac, size, err := s.Containers.Open(key)
	if err != nil {
		return nil, err
	}
	root := tree.New()
	err = root.Load(stream.FromReaderAt(rac, size, rac))
	if err != nil {
		// Load closed the reader already
		return nil, err
	}
	return root, nil
}

// acquireTree is openTree behind the open gate, so a herd of requests
// cannot exhaust file handles or S3 connections. Every successful call must
// be paired with a releaseTree.
func (s *RESTServer) acquireTree(key string) (*tree.Node, error) {
	if s.opengate != nil && !s.opengate.Enter() {
		return nil, ErrStopping
	}
	root, err := s.openTree(key)
	if err != nil && s.opengate != nil {
		s.opengate.Leave()
	}
	return root, err
}

func (s *RESTServer) releaseTree(root *tree.Node) {
	root.Destroy()
	if s.opengate != nil {
		s.opengate.Leave()
	}
}

// A NodeSummary describes one node in a container listing.
type NodeSummary struct {
	Path     string `json:"path"` // slash separated child indexes from the root
	Size     int64  `json:"size"` // payload size in bytes
	Children int    `json:"children"`
}

// A TreeSummary lists every node of one container in preorder.
type TreeSummary struct {
	Key   string        `json:"key"`
	Nodes []NodeSummary `json:"nodes"`
}

// summarize appends an entry for n and everything below it in preorder.
// level is the depth of n, counting the root as 1. Returns the grown slice
// and the deepest level seen. Only sizes and counts are read, so a lazy
// tree stays lazy.
func summarize(n *tree.Node, path string, level int, out []NodeSummary) ([]NodeSummary, int) {
	out = append(out, NodeSummary{Path: path, Size: n.Size(), Children: n.Len()})
	deepest := level
	for i := 0; i < n.Len(); i++ {
		childpath := path + "/" + strconv.Itoa(i)
		if path == "/" {
			childpath = "/" + strconv.Itoa(i)
		}
		var d int
		out, d = summarize(n.Child(i), childpath, level+1, out)
		if d > deepest {
			deepest = d
		}
	}
	return out, deepest
}

// parseIndexPath turns a route path like "/0/2/1" into child indexes. The
// empty path and "/" name the root.
func parseIndexPath(s string) ([]int, error) {
	var result []int
	for _, piece := range strings.Split(s, "/") {
		if piece == "" {
			continue
		}
		n, err := strconv.Atoi(piece)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad index %q", piece)
		}
		result = append(result, n)
	}
	return result, nil
}

// GroveInfoHandler handles GET /grove/:key. It serves the catalog record,
// so no container bytes are touched.
func (s *RESTServer) GroveInfoHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")
	info := s.Catalog.Lookup(key)
	if info == nil {
		w.WriteHeader(404)
		fmt.Fprintln(w, "No container", key)
		return
	}
	writeHTMLorJSON(w, r, groveInfoTemplate, info)
}

var groveInfoTemplate = template.Must(template.New("groveinfo").Parse(`<html>
<h1>Container {{ .Key }}</h1>
<dl>
<dt>Key</dt><dd>{{ .Key }}</dd>
<dt>Size</dt><dd>{{ .Size }}</dd>
<dt>Nodes</dt><dd>{{ .NodeCount }}</dd>
<dt>Depth</dt><dd>{{ .Depth }}</dd>
<dt>Payload Bytes</dt><dd>{{ .Payload }}</dd>
<dt>MD5</dt><dd>{{ .MD5 }}</dd>
<dt>SHA256</dt><dd>{{ .SHA256 }}</dd>
<dt>Uploaded</dt><dd>{{ .Uploaded }}</dd>
<dt>Creator</dt><dd>{{ .Creator }}</dd>
</dl>
<a href="/grove/{{ .Key }}/tree">Tree</a>
</html>`))

// GroveTreeHandler handles GET /grove/:key/tree. The summary is computed by
// lazily loading the container. Concurrent requests for the same key share
// one load.
func (s *RESTServer) GroveTreeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")
	if !s.storeEnabled() {
		w.WriteHeader(503)
		fmt.Fprintln(w, "the container store is disabled")
		return
	}
	v, err := s.treegroup.Do(key, func() (interface{}, error) {
		root, err := s.acquireTree(key)
		if err != nil {
			return nil, err
		}
		defer s.releaseTree(root)
		nodes, _ := summarize(root, "/", 1, nil)
		return &TreeSummary{Key: key, Nodes: nodes}, nil
	})
	if err == ErrStopping {
		w.WriteHeader(503)
		fmt.Fprintln(w, err.Error())
		return
	}
	if err != nil {
		w.WriteHeader(404)
		fmt.Fprintln(w, err.Error())
		return
	}
	writeHTMLorJSON(w, r, groveTreeTemplate, v)
}

var groveTreeTemplate = template.Must(template.New("grovetree").Parse(`<html>
<h1>Container {{ .Key }}</h1>
{{ $key := .Key }}
<table>
<tr><th>Path</th><th>Size</th><th>Children</th></tr>
{{ range .Nodes }}
<tr><td><a href="/grove/{{ $key }}/node{{ .Path }}">{{ .Path }}</a></td>
<td>{{ .Size }}</td><td>{{ .Children }}</td></tr>
{{ end }}
</table>
</html>`))

// GroveNodeHandler handles GET and HEAD requests to /grove/:key/node/*path.
// The payload is served from the cache when possible. On a miss the
// container is opened lazily and only the one node's window is read.
func (s *RESTServer) GroveNodeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")
	indexes, err := parseIndexPath(ps.ByName("path"))
	if err != nil {
		w.WriteHeader(404)
		fmt.Fprintln(w, err.Error())
		return
	}
	ckey := s.cacheKey(key, indexes)
	if s.serveFromCache(w, r, ckey) {
		return
	}
	if !s.storeEnabled() {
		w.WriteHeader(503)
		fmt.Fprintln(w, "the container store is disabled")
		return
	}
	root, err := s.acquireTree(key)
	if err == ErrStopping {
		w.WriteHeader(503)
		fmt.Fprintln(w, err.Error())
		return
	}
	if err != nil {
		w.WriteHeader(404)
		fmt.Fprintln(w, err.Error())
		return
	}
	defer s.releaseTree(root)
	node, err := root.Descend(indexes...)
	if err != nil {
		w.WriteHeader(404)
		fmt.Fprintln(w, err.Error())
		return
	}
	// pull the payload into the cache and serve it from there, so the
	// next request skips the container open
	if ckey != "" && s.fillCache(ckey, node) == nil && s.serveFromCache(w, r, ckey) {
		return
	}
	node.Seek(0, io.SeekStart)
	http.ServeContent(w, r, "", time.Time{}, node)
}

// cacheKey is the payload cache key for one node of a container. The
// container's content hash is folded in so a replaced container never
// serves payloads cached from its predecessor. Returns "" if there is no
// catalog record to tie the entry to; such payloads are not cached.
func (s *RESTServer) cacheKey(key string, indexes []int) string {
	if s.Catalog == nil || s.Cache == nil {
		return ""
	}
	info := s.Catalog.Lookup(key)
	if info == nil || len(info.SHA256) < 8 {
		return ""
	}
	pieces := make([]string, len(indexes))
	for i, n := range indexes {
		pieces[i] = strconv.Itoa(n)
	}
	return key + "+" + info.SHA256[:8] + "+" + strings.Join(pieces, ".")
}

// serveFromCache sends the cached payload and reports whether it did. A
// miss, or a cache read error, leaves the response untouched.
func (s *RESTServer) serveFromCache(w http.ResponseWriter, r *http.Request, ckey string) bool {
	if ckey == "" {
		return false
	}
	rac, size, err := s.Cache.Get(ckey)
	if err != nil || rac == nil {
		return false
	}
	defer rac.Close()
	http.ServeContent(w, r, "", time.Time{}, io.NewSectionReader(rac, 0, size))
	return true
}

// fillCache copies the node's payload into the payload cache. A partial
// copy is cancelled rather than saved.
func (s *RESTServer) fillCache(ckey string, node *tree.Node) error {
	cw, err := s.Cache.Put(ckey)
	if err != nil {
		return err
	}
	_, err = node.Seek(0, io.SeekStart)
	if err == nil {
		_, err = io.CopyN(cw, node, node.Size())
	}
	if err != nil {
		if c, ok := cw.(interface{ Cancel() }); ok {
			c.Cancel()
		}
	}
	cerr := cw.Close()
	if err == nil {
		err = cerr
	}
	return err
}

// GroveUploadHandler handles POST /grove/:key. The body is the container
// blob. It is spooled into the store, checksummed on the way, and then
// loaded lazily once to prove it parses and to measure the tree. Keys are
// write-once: replacing one means deleting it first.
func (s *RESTServer) GroveUploadHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")
	if !s.storeEnabled() {
		w.WriteHeader(503)
		fmt.Fprintln(w, "the container store is disabled")
		return
	}
	if r.Body == nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, "no body")
		return
	}
	var goalmd5, goalsha []byte
	var err error
	if hash64 := r.Header.Get("X-Upload-Md5"); hash64 != "" {
		goalmd5, err = hex.DecodeString(hash64)
		if err != nil {
			w.WriteHeader(400)
			fmt.Fprintln(w, "bad MD5 string")
			return
		}
	}
	if hash64 := r.Header.Get("X-Upload-Sha256"); hash64 != "" {
		goalsha, err = hex.DecodeString(hash64)
		if err != nil {
			w.WriteHeader(400)
			fmt.Fprintln(w, "bad SHA256 string")
			return
		}
	}
	wc, err := s.Containers.Create(key)
	switch err {
	case nil:
	case store.ErrKeyExists:
		w.WriteHeader(409)
		fmt.Fprintln(w, err.Error())
		return
	case store.ErrKeyContainsSlash,
		store.ErrKeyContainsNonUnicode,
		store.ErrKeyContainsWhiteSpace,
		store.ErrKeyContainsControlChar:
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	default:
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	hw := util.NewHashWriter(wc)
	size, err := io.Copy(hw, r.Body)
	err2 := wc.Close()
	if err == nil {
		err = err2
	}
	if err != nil {
		s.Containers.Delete(key)
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	md5bytes, ok := hw.CheckMD5(goalmd5)
	if !ok {
		s.Containers.Delete(key)
		w.WriteHeader(412)
		fmt.Fprintln(w, "MD5 mismatch")
		return
	}
	shabytes, ok := hw.CheckSHA256(goalsha)
	if !ok {
		s.Containers.Delete(key)
		w.WriteHeader(412)
		fmt.Fprintln(w, "SHA256 mismatch")
		return
	}
	// make sure the blob really is a container, and measure it while we
	// are there
	root, err := s.acquireTree(key)
	if err == ErrStopping {
		s.Containers.Delete(key)
		w.WriteHeader(503)
		fmt.Fprintln(w, err.Error())
		return
	}
	if err != nil {
		s.Containers.Delete(key)
		w.WriteHeader(400)
		fmt.Fprintf(w, "not a container: %s\n", err.Error())
		return
	}
	nodes, depth := summarize(root, "/", 1, nil)
	s.releaseTree(root)
	var payload int64
	for i := range nodes {
		payload += nodes[i].Size
	}
	info := &ContainerInfo{
		Key:       key,
		Size:      size,
		NodeCount: len(nodes),
		Depth:     depth,
		Payload:   payload,
		MD5:       hex.EncodeToString(md5bytes),
		SHA256:    hex.EncodeToString(shabytes),
		Uploaded:  time.Now(),
		Creator:   ps.ByName("username"),
	}
	s.Catalog.Set(key, info)
	// verify the stored copy soon
	s.FixityDatabase.UpdateFixity(Fixity{Key: key, ScheduledTime: time.Now()})
	w.Header().Set("Location", "/grove/"+key)
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(info)
}

// GroveDeleteHandler handles DELETE /grove/:key. The stored blob, the
// catalog record, and any fixity checks still scheduled for the key are
// removed; finished fixity records stay as history. Cached payloads are
// keyed by content hash, so they cannot leak into a future container with
// the same key; the cache will age them out.
func (s *RESTServer) GroveDeleteHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")
	if !s.storeEnabled() {
		w.WriteHeader(503)
		fmt.Fprintln(w, "the container store is disabled")
		return
	}
	err := s.Containers.Delete(key)
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	s.Catalog.Delete(key)
	// otherwise the fixity loop would check a blob that is gone and log a
	// spurious error
	for _, fx := range s.FixityDatabase.SearchFixity(time.Time{}, time.Time{}, key, "scheduled") {
		s.FixityDatabase.DeleteFixity(fx.ID)
	}
}
