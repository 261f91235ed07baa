package server

import (
	"testing"

	"github.com/ndlib/grove/blobcache"
	"github.com/ndlib/grove/tree"
)

func TestParseIndexPath(t *testing.T) {
	var table = []struct {
		input   string
		indexes []int
		ok      bool
	}{
		{"", nil, true},
		{"/", nil, true},
		{"/0", []int{0}, true},
		{"/0/12/3", []int{0, 12, 3}, true},
		{"0/1", []int{0, 1}, true},
		{"//2", []int{2}, true},
		{"/a", nil, false},
		{"/0/-1", nil, false},
		{"/1.5", nil, false},
	}

	for _, tab := range table {
		result, err := parseIndexPath(tab.input)
		if tab.ok && err != nil {
			t.Errorf("%s: Received %v, expected nil", tab.input, err)
			continue
		}
		if !tab.ok {
			if err == nil {
				t.Errorf("%s: Received nil, expected an error", tab.input)
			}
			continue
		}
		if len(result) != len(tab.indexes) {
			t.Errorf("%s: Received %v, expected %v", tab.input, result, tab.indexes)
			continue
		}
		for i := range result {
			if result[i] != tab.indexes[i] {
				t.Errorf("%s: Received %v, expected %v", tab.input, result, tab.indexes)
				break
			}
		}
	}
}

func TestSummarize(t *testing.T) {
	root := tree.New()
	defer root.Destroy()
	root.Write([]byte("rootdata"))
	a := tree.New()
	a.Write([]byte("aa"))
	root.Add(a)
	b := tree.New()
	root.Add(b)
	c := tree.New()
	c.Write([]byte("cccc"))
	b.Add(c)

	nodes, depth := summarize(root, "/", 1, nil)
	if depth != 3 {
		t.Errorf("Got %d, expected %d", depth, 3)
	}
	var expected = []NodeSummary{
		{Path: "/", Size: 8, Children: 2},
		{Path: "/0", Size: 2, Children: 0},
		{Path: "/1", Size: 0, Children: 1},
		{Path: "/1/0", Size: 4, Children: 0},
	}
	if len(nodes) != len(expected) {
		t.Fatalf("Got %d nodes, expected %d", len(nodes), len(expected))
	}
	for i := range expected {
		if nodes[i] != expected[i] {
			t.Errorf("Got %v, expected %v", nodes[i], expected[i])
		}
	}
}

func TestCacheKey(t *testing.T) {
	db, err := NewQlCatalog("memory")
	if err != nil {
		t.Fatalf("Received %s", err.Error())
	}
	s := &RESTServer{Catalog: db, Cache: blobcache.EmptyCache{}}

	// no catalog record means no cache key
	if ck := s.cacheKey("nothere", nil); ck != "" {
		t.Errorf("Got %#v, expected %#v", ck, "")
	}

	db.Set("here", &ContainerInfo{Key: "here", SHA256: "0123456789abcdef"})
	if ck := s.cacheKey("here", []int{0, 2, 1}); ck != "here+01234567+0.2.1" {
		t.Errorf("Got %#v, expected %#v", ck, "here+01234567+0.2.1")
	}
	if ck := s.cacheKey("here", nil); ck != "here+01234567+" {
		t.Errorf("Got %#v, expected %#v", ck, "here+01234567+")
	}
}
