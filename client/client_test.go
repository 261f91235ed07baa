package client

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
)

var (
	testServer *httptest.Server
	testConn   *Connection
)

func init() {
	mux := http.NewServeMux()
	mux.HandleFunc("/container/list", listHandler)
	mux.HandleFunc("/container/list/", listHandler)
	mux.HandleFunc("/container/open/", openHandler)
	mux.HandleFunc("/grove/", groveHandler)
	mux.HandleFunc("/fixity/", fixityHandler)
	testServer = httptest.NewServer(mux)
	testConn = &Connection{HostURL: testServer.URL, Token: "sekrit"}
}

func listHandler(w http.ResponseWriter, r *http.Request) {
	prefix := strings.TrimPrefix(r.URL.Path, "/container/list")
	prefix = strings.TrimPrefix(prefix, "/")
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, "[")
	n := 0
	for _, key := range []string{"abc", "abd", "xyz"} {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if n > 0 {
			fmt.Fprint(w, ",")
		}
		fmt.Fprintf(w, "%q", key)
		n++
	}
	fmt.Fprint(w, "]")
}

func openHandler(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/container/open/")
	if key != "goodkey" {
		w.WriteHeader(404)
		return
	}
	fmt.Fprint(w, "raw container bytes")
}

func groveHandler(w http.ResponseWriter, r *http.Request) {
	pieces := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/grove/"), "/", 2)
	key := pieces[0]
	var rest string
	if len(pieces) == 2 {
		rest = pieces[1]
	}
	switch r.Method {
	case "GET":
		if key != "goodkey" {
			w.WriteHeader(404)
			return
		}
		switch {
		case rest == "":
			fmt.Fprint(w, `{"key":"goodkey","size":42,"creator":"nobody"}`)
		case rest == "tree":
			fmt.Fprint(w, `{"key":"goodkey","nodes":[{"path":"/","size":5,"children":1},{"path":"/0","size":3,"children":0}]}`)
		case strings.HasPrefix(rest, "node"):
			subpath := strings.TrimPrefix(strings.TrimPrefix(rest, "node"), "/")
			switch subpath {
			case "":
				fmt.Fprint(w, "root payload")
			case "0/1":
				fmt.Fprint(w, "node zero one")
			default:
				w.WriteHeader(404)
			}
		default:
			w.WriteHeader(404)
		}
	case "POST":
		if r.Header.Get("X-Api-Key") != "sekrit" {
			w.WriteHeader(401)
			return
		}
		switch key {
		case "exists":
			w.WriteHeader(409)
		case "badsum":
			w.WriteHeader(412)
		default:
			w.WriteHeader(201)
		}
	case "DELETE":
		if r.Header.Get("X-Api-Key") != "sekrit" {
			w.WriteHeader(401)
		}
	}
}

func fixityHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		w.WriteHeader(405)
		return
	}
	if strings.TrimPrefix(r.URL.Path, "/fixity/") != "goodkey" {
		w.WriteHeader(404)
		return
	}
	w.Header().Set("Location", "/fixity/77")
	w.WriteHeader(201)
}

func TestList(t *testing.T) {
	keys, err := testConn.List()
	if err != nil {
		t.Fatalf("Received %v, expected no error", err)
	}
	expected := []string{"abc", "abd", "xyz"}
	if !reflect.DeepEqual(keys, expected) {
		t.Errorf("Received %v, expected %v", keys, expected)
	}
	keys, err = testConn.ListPrefix("ab")
	if err != nil {
		t.Fatalf("Received %v, expected no error", err)
	}
	expected = []string{"abc", "abd"}
	if !reflect.DeepEqual(keys, expected) {
		t.Errorf("Received %v, expected %v", keys, expected)
	}
}

func TestInfo(t *testing.T) {
	info, err := testConn.Info("goodkey")
	if err != nil {
		t.Fatalf("Received %v, expected no error", err)
	}
	key, _ := info.GetString("key")
	if key != "goodkey" {
		t.Errorf("Received %v, expected goodkey", key)
	}
	size, _ := info.GetInt64("size")
	if size != 42 {
		t.Errorf("Received %v, expected 42", size)
	}
	_, err = testConn.Info("missing")
	if err != ErrNotFound {
		t.Errorf("Received %v, expected %v", err, ErrNotFound)
	}
}

func TestTree(t *testing.T) {
	tree, err := testConn.Tree("goodkey")
	if err != nil {
		t.Fatalf("Received %v, expected no error", err)
	}
	nodes, err := tree.GetObjectArray("nodes")
	if err != nil {
		t.Fatalf("Received %v, expected no error", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("Received %d nodes, expected 2", len(nodes))
	}
	path, _ := nodes[0].GetString("path")
	if path != "/" {
		t.Errorf("Received %v, expected /", path)
	}
}

func TestReadNode(t *testing.T) {
	var buf bytes.Buffer
	err := testConn.ReadNode(&buf, "goodkey", []int{0, 1})
	if err != nil {
		t.Fatalf("Received %v, expected no error", err)
	}
	if buf.String() != "node zero one" {
		t.Errorf("Received %v, expected %v", buf.String(), "node zero one")
	}
	buf.Reset()
	err = testConn.ReadNode(&buf, "goodkey", nil)
	if err != nil {
		t.Fatalf("Received %v, expected no error", err)
	}
	if buf.String() != "root payload" {
		t.Errorf("Received %v, expected %v", buf.String(), "root payload")
	}
	err = testConn.ReadNode(&buf, "missing", nil)
	if err != ErrNotFound {
		t.Errorf("Received %v, expected %v", err, ErrNotFound)
	}
}

func TestContainer(t *testing.T) {
	var buf bytes.Buffer
	err := testConn.Container(&buf, "goodkey")
	if err != nil {
		t.Fatalf("Received %v, expected no error", err)
	}
	if buf.String() != "raw container bytes" {
		t.Errorf("Received %v, expected %v", buf.String(), "raw container bytes")
	}
}

func TestUpload(t *testing.T) {
	err := testConn.Upload("newkey", strings.NewReader("hello"), nil)
	if err != nil {
		t.Errorf("Received %v, expected no error", err)
	}
	err = testConn.Upload("exists", strings.NewReader("hello"), nil)
	if err != ErrKeyExists {
		t.Errorf("Received %v, expected %v", err, ErrKeyExists)
	}
	err = testConn.Upload("badsum", strings.NewReader("hello"), []byte{1, 2, 3, 4})
	if err != ErrChecksumMismatch {
		t.Errorf("Received %v, expected %v", err, ErrChecksumMismatch)
	}
	noauth := &Connection{HostURL: testServer.URL}
	err = noauth.Upload("newkey", strings.NewReader("hello"), nil)
	if err != ErrNotAuthorized {
		t.Errorf("Received %v, expected %v", err, ErrNotAuthorized)
	}
}

func TestDelete(t *testing.T) {
	err := testConn.Delete("goodkey")
	if err != nil {
		t.Errorf("Received %v, expected no error", err)
	}
	noauth := &Connection{HostURL: testServer.URL}
	err = noauth.Delete("goodkey")
	if err != ErrNotAuthorized {
		t.Errorf("Received %v, expected %v", err, ErrNotAuthorized)
	}
}

// a fresh Connection can take its first requests from several goroutines
// at once. run with -race to check the lazy http.Client setup.
func TestSharedConnection(t *testing.T) {
	shared := &Connection{HostURL: testServer.URL, Token: "sekrit"}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys, err := shared.List()
			if err != nil {
				t.Errorf("Received %v, expected no error", err)
				return
			}
			if len(keys) != 3 {
				t.Errorf("Received %d keys, expected 3", len(keys))
			}
		}()
	}
	wg.Wait()
}

func TestScheduleFixity(t *testing.T) {
	loc, err := testConn.ScheduleFixity("goodkey")
	if err != nil {
		t.Fatalf("Received %v, expected no error", err)
	}
	if loc != "/fixity/77" {
		t.Errorf("Received %v, expected /fixity/77", loc)
	}
	_, err = testConn.ScheduleFixity("missing")
	if err != ErrNotFound {
		t.Errorf("Received %v, expected %v", err, ErrNotFound)
	}
}
